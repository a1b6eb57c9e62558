package service

import (
	"context"
	"time"

	"github.com/rongwang/fundchain-server/internal/gateway"
	"github.com/rongwang/fundchain-server/internal/models"
	"github.com/rongwang/fundchain-server/internal/notify"
	"github.com/rongwang/fundchain-server/internal/repository"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Service defines all the business logic operations
type Service interface {
	// Deposits
	CreateDeposit(ctx context.Context, userID string, req models.CreateDepositRequest) (*models.DepositResponse, error)
	GetDeposit(ctx context.Context, actor Actor, depositID int64) (*models.DepositResponse, error)
	ListDeposits(ctx context.Context, userID string) ([]models.DepositResponse, error)
	GetPendingDeposit(ctx context.Context, userID string) (*models.DepositResponse, error)
	DeleteDeposit(ctx context.Context, actor Actor, depositID int64) error
	ApproveDeposit(ctx context.Context, approverID string, depositID int64, req models.ApproveDepositRequest) (*models.DepositResponse, error)
	GenerateMintTransaction(ctx context.Context, requesterID string, depositID int64) (*models.UnsignedTransactionResponse, error)

	// Withdraws
	CreateWithdraw(ctx context.Context, userID string, req models.CreateWithdrawRequest) (*models.WithdrawResponse, error)
	GetWithdraw(ctx context.Context, actor Actor, withdrawID int64) (*models.WithdrawResponse, error)
	ListWithdraws(ctx context.Context, userID string) ([]models.WithdrawResponse, error)
	DeleteWithdraw(ctx context.Context, actor Actor, withdrawID int64) error
	GenerateWithdrawApproval(ctx context.Context, requesterID string, withdrawID int64) (*models.UnsignedTransactionResponse, error)
	GenerateWithdrawBurn(ctx context.Context, approverID string, withdrawID int64) (*models.UnsignedTransactionResponse, error)

	// Wallet creation
	GenerateOrgWalletTransaction(ctx context.Context, requesterID string, orgID int64) (*models.UnsignedTransactionResponse, error)
	GenerateProjectWalletTransaction(ctx context.Context, requesterID string, projectID int64) (*models.UnsignedTransactionResponse, error)

	// Investments
	GenerateInvestAllowance(ctx context.Context, investorID string, projectID int64, req models.InvestRequest) (*models.UnsignedTransactionResponse, error)
	GenerateInvestConfirm(ctx context.Context, investorID string, projectID int64, req models.InvestRequest) (*models.UnsignedTransactionResponse, error)

	// Broadcasting
	Broadcast(ctx context.Context, actor Actor, txID int64, signedTx string) (*models.BroadcastResponse, error)

	// Issuer shortcuts
	IssuerMintTransaction(ctx context.Context, from, toHash string, amount decimal.Decimal) (*models.IssuerTransactionResponse, error)
	IssuerBurnTransaction(ctx context.Context, from, burnFromTxHash string, amount decimal.Decimal) (*models.IssuerTransactionResponse, error)
	IssuerSubmit(ctx context.Context, kind, signedTx string) (*models.BroadcastResponse, error)
}

// Actor is the authenticated caller of an operation
type Actor struct {
	UserID string
	Staff  bool
}

func (a Actor) canAccess(ownerID string) bool {
	return a.Staff || a.UserID == ownerID
}

// Options tune the engine
type Options struct {
	// RevalidateOnConfirm reruns the investment rules when an INVEST transaction is broadcast
	RevalidateOnConfirm bool
	// OrgWalletCurrency is the currency recorded on organization wallets
	OrgWalletCurrency string
	Now               func() time.Time
}

// DefaultService implements the Service interface
type DefaultService struct {
	deposits    *DepositLifecycle
	withdraws   *WithdrawLifecycle
	wallets     *WalletCreation
	investments *Investments
	dispatcher  *TransactionDispatcher
	issuer      *Issuer
}

// NewDefaultService creates a new DefaultService
func NewDefaultService(repo repository.Repository, gw gateway.Gateway, notifier notify.Notifier, log logrus.FieldLogger, opts Options) Service {
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	deposits := NewDepositLifecycle(repo, gw, log.WithField("component", "deposit"), now)
	withdraws := NewWithdrawLifecycle(repo, gw, log.WithField("component", "withdraw"), now)
	wallets := NewWalletCreation(repo, gw, log.WithField("component", "wallet"), now, opts.OrgWalletCurrency)
	validator := NewInvestmentValidator(gw, now)
	investments := NewInvestments(repo, gw, validator, log.WithField("component", "investment"), now, opts.RevalidateOnConfirm)

	return &DefaultService{
		deposits:    deposits,
		withdraws:   withdraws,
		wallets:     wallets,
		investments: investments,
		dispatcher: NewTransactionDispatcher(repo, deposits, withdraws, wallets, investments, notifier,
			log.WithField("component", "dispatcher")),
		issuer: NewIssuer(gw, log.WithField("component", "issuer")),
	}
}

// Deposit operations
func (s *DefaultService) CreateDeposit(ctx context.Context, userID string, req models.CreateDepositRequest) (*models.DepositResponse, error) {
	deposit, err := s.deposits.Create(ctx, userID, req.Amount)
	if err != nil {
		return nil, err
	}
	resp := models.NewDepositResponse(deposit)
	return &resp, nil
}

func (s *DefaultService) GetDeposit(ctx context.Context, actor Actor, depositID int64) (*models.DepositResponse, error) {
	deposit, err := s.deposits.Get(ctx, depositID, actor)
	if err != nil {
		return nil, err
	}
	resp := models.NewDepositResponse(deposit)
	return &resp, nil
}

func (s *DefaultService) ListDeposits(ctx context.Context, userID string) ([]models.DepositResponse, error) {
	deposits, err := s.deposits.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	resp := make([]models.DepositResponse, 0, len(deposits))
	for i := range deposits {
		resp = append(resp, models.NewDepositResponse(&deposits[i]))
	}
	return resp, nil
}

func (s *DefaultService) GetPendingDeposit(ctx context.Context, userID string) (*models.DepositResponse, error) {
	deposit, err := s.deposits.Pending(ctx, userID)
	if err != nil {
		return nil, err
	}
	resp := models.NewDepositResponse(deposit)
	return &resp, nil
}

func (s *DefaultService) DeleteDeposit(ctx context.Context, actor Actor, depositID int64) error {
	return s.deposits.Delete(ctx, depositID, actor)
}

func (s *DefaultService) ApproveDeposit(ctx context.Context, approverID string, depositID int64, req models.ApproveDepositRequest) (*models.DepositResponse, error) {
	deposit, err := s.deposits.Approve(ctx, depositID, approverID, req.Amount, req.Document)
	if err != nil {
		return nil, err
	}
	resp := models.NewDepositResponse(deposit)
	return &resp, nil
}

func (s *DefaultService) GenerateMintTransaction(ctx context.Context, requesterID string, depositID int64) (*models.UnsignedTransactionResponse, error) {
	return unsignedResponse(s.deposits.GenerateMintTransaction(ctx, depositID, requesterID))
}

// Withdraw operations
func (s *DefaultService) CreateWithdraw(ctx context.Context, userID string, req models.CreateWithdrawRequest) (*models.WithdrawResponse, error) {
	withdraw, err := s.withdraws.Create(ctx, userID, req.Amount)
	if err != nil {
		return nil, err
	}
	resp := models.NewWithdrawResponse(withdraw)
	return &resp, nil
}

func (s *DefaultService) GetWithdraw(ctx context.Context, actor Actor, withdrawID int64) (*models.WithdrawResponse, error) {
	withdraw, err := s.withdraws.Get(ctx, withdrawID, actor)
	if err != nil {
		return nil, err
	}
	resp := models.NewWithdrawResponse(withdraw)
	return &resp, nil
}

func (s *DefaultService) ListWithdraws(ctx context.Context, userID string) ([]models.WithdrawResponse, error) {
	withdraws, err := s.withdraws.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	resp := make([]models.WithdrawResponse, 0, len(withdraws))
	for i := range withdraws {
		resp = append(resp, models.NewWithdrawResponse(&withdraws[i]))
	}
	return resp, nil
}

func (s *DefaultService) DeleteWithdraw(ctx context.Context, actor Actor, withdrawID int64) error {
	return s.withdraws.Delete(ctx, withdrawID, actor)
}

func (s *DefaultService) GenerateWithdrawApproval(ctx context.Context, requesterID string, withdrawID int64) (*models.UnsignedTransactionResponse, error) {
	return unsignedResponse(s.withdraws.GenerateApprovalTransaction(ctx, withdrawID, requesterID))
}

func (s *DefaultService) GenerateWithdrawBurn(ctx context.Context, approverID string, withdrawID int64) (*models.UnsignedTransactionResponse, error) {
	return unsignedResponse(s.withdraws.GenerateBurnTransaction(ctx, withdrawID, approverID))
}

// Wallet operations
func (s *DefaultService) GenerateOrgWalletTransaction(ctx context.Context, requesterID string, orgID int64) (*models.UnsignedTransactionResponse, error) {
	return unsignedResponse(s.wallets.GenerateOrgWalletTx(ctx, requesterID, orgID))
}

func (s *DefaultService) GenerateProjectWalletTransaction(ctx context.Context, requesterID string, projectID int64) (*models.UnsignedTransactionResponse, error) {
	return unsignedResponse(s.wallets.GenerateProjectWalletTx(ctx, requesterID, projectID))
}

// Investment operations
func (s *DefaultService) GenerateInvestAllowance(ctx context.Context, investorID string, projectID int64, req models.InvestRequest) (*models.UnsignedTransactionResponse, error) {
	return unsignedResponse(s.investments.GenerateAllowanceTx(ctx, investorID, projectID, req.Amount, req.Currency))
}

func (s *DefaultService) GenerateInvestConfirm(ctx context.Context, investorID string, projectID int64, req models.InvestRequest) (*models.UnsignedTransactionResponse, error) {
	return unsignedResponse(s.investments.GenerateInvestTx(ctx, investorID, projectID, req.Amount, req.Currency))
}

// Broadcast operations
func (s *DefaultService) Broadcast(ctx context.Context, actor Actor, txID int64, signedTx string) (*models.BroadcastResponse, error) {
	hash, err := s.dispatcher.Broadcast(ctx, actor, txID, signedTx)
	if err != nil {
		return nil, err
	}
	return &models.BroadcastResponse{Status: "success", TxHash: hash}, nil
}

// Issuer operations
func (s *DefaultService) IssuerMintTransaction(ctx context.Context, from, toHash string, amount decimal.Decimal) (*models.IssuerTransactionResponse, error) {
	tx, err := s.issuer.MintTx(ctx, from, toHash, amount)
	if err != nil {
		return nil, err
	}
	return &models.IssuerTransactionResponse{
		Status:   "success",
		Tx:       tx.Data,
		Callback: "/issuer/transaction?type=mint",
	}, nil
}

func (s *DefaultService) IssuerBurnTransaction(ctx context.Context, from, burnFromTxHash string, amount decimal.Decimal) (*models.IssuerTransactionResponse, error) {
	tx, err := s.issuer.BurnTx(ctx, from, burnFromTxHash, amount)
	if err != nil {
		return nil, err
	}
	return &models.IssuerTransactionResponse{
		Status:   "success",
		Tx:       tx.Data,
		Callback: "/issuer/transaction?type=burn",
	}, nil
}

func (s *DefaultService) IssuerSubmit(ctx context.Context, kind, signedTx string) (*models.BroadcastResponse, error) {
	hash, err := s.issuer.Submit(ctx, kind, signedTx)
	if err != nil {
		return nil, err
	}
	return &models.BroadcastResponse{Status: "success", TxHash: hash}, nil
}

func unsignedResponse(pending *PendingTransaction, err error) (*models.UnsignedTransactionResponse, error) {
	if err != nil {
		return nil, err
	}
	return &models.UnsignedTransactionResponse{
		Status: "success",
		TxID:   pending.Info.ID,
		Type:   pending.Info.Type,
		Title:  pending.Info.Title,
		Tx:     pending.Tx.Data,
	}, nil
}
