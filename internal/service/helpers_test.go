package service

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/rongwang/fundchain-server/internal/gateway"
	"github.com/rongwang/fundchain-server/internal/models"
	"github.com/rongwang/fundchain-server/internal/repository"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// MockGateway is a mock implementation of gateway.Gateway
type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) GenerateOrgWalletTx(ctx context.Context, orgID int64) (gateway.UnsignedTx, error) {
	args := m.Called(ctx, orgID)
	return args.Get(0).(gateway.UnsignedTx), args.Error(1)
}

func (m *MockGateway) GenerateProjectWalletTx(ctx context.Context, projectID int64) (gateway.UnsignedTx, error) {
	args := m.Called(ctx, projectID)
	return args.Get(0).(gateway.UnsignedTx), args.Error(1)
}

func (m *MockGateway) GenerateMintTx(ctx context.Context, toWalletHash string, amount decimal.Decimal) (gateway.UnsignedTx, error) {
	args := m.Called(ctx, toWalletHash, amount)
	return args.Get(0).(gateway.UnsignedTx), args.Error(1)
}

func (m *MockGateway) GenerateBurnApprovalTx(ctx context.Context, fromWalletHash string, amount decimal.Decimal) (gateway.UnsignedTx, error) {
	args := m.Called(ctx, fromWalletHash, amount)
	return args.Get(0).(gateway.UnsignedTx), args.Error(1)
}

func (m *MockGateway) GenerateBurnTx(ctx context.Context, approvalTxHash string, amount decimal.Decimal) (gateway.UnsignedTx, error) {
	args := m.Called(ctx, approvalTxHash, amount)
	return args.Get(0).(gateway.UnsignedTx), args.Error(1)
}

func (m *MockGateway) GenerateInvestAllowanceTx(ctx context.Context, projectHash string, amount decimal.Decimal) (gateway.UnsignedTx, error) {
	args := m.Called(ctx, projectHash, amount)
	return args.Get(0).(gateway.UnsignedTx), args.Error(1)
}

func (m *MockGateway) GenerateInvestConfirmTx(ctx context.Context, projectHash, investorHash string, amount decimal.Decimal) (gateway.UnsignedTx, error) {
	args := m.Called(ctx, projectHash, investorHash, amount)
	return args.Get(0).(gateway.UnsignedTx), args.Error(1)
}

func (m *MockGateway) PostTransaction(ctx context.Context, signedTx string, txType models.TransactionType) (string, error) {
	args := m.Called(ctx, signedTx, txType)
	return args.String(0), args.Error(1)
}

func (m *MockGateway) GetBalance(ctx context.Context, walletHash string) (decimal.Decimal, error) {
	args := m.Called(ctx, walletHash)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

// MockNotifier is a mock implementation of notify.Notifier
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) DepositMinted(ctx context.Context, deposit *models.Deposit) error {
	args := m.Called(ctx, deposit)
	return args.Error(0)
}

func (m *MockNotifier) WithdrawBurned(ctx context.Context, withdraw *models.Withdraw) error {
	args := m.Called(ctx, withdraw)
	return args.Error(0)
}

type testEngine struct {
	repo        *repository.MemoryRepository
	gw          *gateway.Stub
	notifier    *MockNotifier
	deposits    *DepositLifecycle
	withdraws   *WithdrawLifecycle
	wallets     *WalletCreation
	investments *Investments
	dispatcher  *TransactionDispatcher
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newTestEngine(t *testing.T, revalidate bool) *testEngine {
	t.Helper()

	repo := repository.NewMemoryRepository()
	gw := gateway.NewStub()
	notifier := new(MockNotifier)
	notifier.On("DepositMinted", mock.Anything, mock.Anything).Return(nil).Maybe()
	notifier.On("WithdrawBurned", mock.Anything, mock.Anything).Return(nil).Maybe()

	log := quietLogger()
	now := func() time.Time { return testNow }

	deposits := NewDepositLifecycle(repo, gw, log, now)
	withdraws := NewWithdrawLifecycle(repo, gw, log, now)
	wallets := NewWalletCreation(repo, gw, log, now, "EUR")
	investments := NewInvestments(repo, gw, NewInvestmentValidator(gw, now), log, now, revalidate)

	return &testEngine{
		repo:        repo,
		gw:          gw,
		notifier:    notifier,
		deposits:    deposits,
		withdraws:   withdraws,
		wallets:     wallets,
		investments: investments,
		dispatcher:  NewTransactionDispatcher(repo, deposits, withdraws, wallets, investments, notifier, log),
	}
}

func (e *testEngine) seed(t *testing.T, fn func(ctx context.Context, ledger repository.Ledger) error) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, e.repo.WithinTx(ctx, func(ledger repository.Ledger) error {
		return fn(ctx, ledger)
	}))
}

func (e *testEngine) addWallet(t *testing.T, owner string, walletType models.WalletType, hash string) {
	t.Helper()
	e.seed(t, func(ctx context.Context, ledger repository.Ledger) error {
		wallet := &models.Wallet{OwnerRef: owner, Currency: "EUR", Type: walletType}
		if hash != "" {
			wallet.Hash = &hash
		}
		return ledger.CreateWallet(ctx, wallet)
	})
}

func (e *testEngine) addUserWallet(t *testing.T, userID string) string {
	t.Helper()
	hash := "0xuser-" + userID
	e.addWallet(t, userID, models.WalletUser, hash)
	return hash
}

func (e *testEngine) addOrganization(t *testing.T) *models.Organization {
	t.Helper()
	org := &models.Organization{Name: "Green Energy Coop", Active: true}
	e.seed(t, func(ctx context.Context, ledger repository.Ledger) error {
		return ledger.CreateOrganization(ctx, org)
	})
	return org
}

func testProject(orgID int64) *models.Project {
	return &models.Project{
		OrganizationID:  orgID,
		Name:            "Solar Roofs",
		Active:          true,
		StartDate:       testNow.AddDate(0, -1, 0),
		EndDate:         testNow.AddDate(0, 1, 0),
		Currency:        "EUR",
		MinPerUser:      decimal.NewFromInt(100),
		MaxPerUser:      decimal.NewFromInt(10000),
		ExpectedFunding: decimal.NewFromInt(1000000),
	}
}

func (e *testEngine) addProject(t *testing.T, project *models.Project) *models.Project {
	t.Helper()
	e.seed(t, func(ctx context.Context, ledger repository.Ledger) error {
		return ledger.CreateProject(ctx, project)
	})
	return project
}

func (e *testEngine) findInfo(t *testing.T, id int64) (*models.TransactionInfo, error) {
	t.Helper()
	var info *models.TransactionInfo
	err := e.repo.WithinTx(context.Background(), func(ledger repository.Ledger) error {
		var err error
		info, err = ledger.FindTransactionInfo(context.Background(), id)
		return err
	})
	return info, err
}

// approvedDeposit creates and approves a deposit of amount for a user with a wallet
func (e *testEngine) approvedDeposit(t *testing.T, userID string, amount int64) *models.Deposit {
	t.Helper()
	ctx := context.Background()
	deposit, err := e.deposits.Create(ctx, userID, decimal.Zero)
	require.NoError(t, err)
	deposit, err = e.deposits.Approve(ctx, deposit.ID, "staff-1", decimal.NewFromInt(amount), "bank-statement.pdf")
	require.NoError(t, err)
	return deposit
}

// outstanding returns the descriptor of txType still waiting for companionID
func (e *testEngine) outstanding(t *testing.T, txType models.TransactionType, companionID int64) (*models.TransactionInfo, error) {
	t.Helper()
	var info *models.TransactionInfo
	err := e.repo.WithinTx(context.Background(), func(ledger repository.Ledger) error {
		var err error
		info, err = ledger.FindTransactionInfoByCompanion(context.Background(), txType, companionID)
		return err
	})
	return info, err
}
