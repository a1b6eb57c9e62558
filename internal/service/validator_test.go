package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rongwang/fundchain-server/internal/models"
	"github.com/rongwang/fundchain-server/internal/repository"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func validate(t *testing.T, gw *MockGateway, repo repository.Repository, req InvestmentRequest) (Verdict, error) {
	t.Helper()
	validator := NewInvestmentValidator(gw, func() time.Time { return testNow })

	var (
		verdict Verdict
		err     error
	)
	require.NoError(t, repo.WithinTx(context.Background(), func(ledger repository.Ledger) error {
		verdict, err = validator.Validate(context.Background(), ledger, req)
		return nil
	}))
	return verdict, err
}

func seedInvestment(t *testing.T, repo repository.Repository, projectID int64, investorID string, amount int64) {
	t.Helper()
	require.NoError(t, repo.WithinTx(context.Background(), func(ledger repository.Ledger) error {
		return ledger.CreateInvestment(context.Background(), &models.Investment{
			ProjectID:  projectID,
			InvestorID: investorID,
			Amount:     decimal.NewFromInt(amount),
			TxHash:     "0xseed",
		})
	}))
}

func TestValidateBelowMinPerUser(t *testing.T) {
	gw := new(MockGateway)
	repo := repository.NewMemoryRepository()
	project := testProject(1)
	project.ID = 1

	verdict, err := validate(t, gw, repo, InvestmentRequest{
		Project:    project,
		InvestorID: "investor-1",
		Amount:     decimal.NewFromInt(50),
		Currency:   "EUR",
	})

	require.NoError(t, err)
	assert.False(t, verdict.Accepted())
	assert.Equal(t, CodeBelowMinPerUser, verdict.Code)
	gw.AssertNotCalled(t, "GetBalance", mock.Anything, mock.Anything)
}

func TestValidateCheckOrder(t *testing.T) {
	gw := new(MockGateway)
	repo := repository.NewMemoryRepository()

	project := testProject(1)
	project.ID = 1
	project.Active = false
	project.EndDate = testNow.Add(-time.Hour)

	verdict, err := validate(t, gw, repo, InvestmentRequest{
		Project:    project,
		InvestorID: "investor-1",
		Amount:     decimal.NewFromInt(50000),
		Currency:   "USD",
	})

	require.NoError(t, err)
	assert.Equal(t, CodeProjectNotActive, verdict.Code)

	project.Active = true
	verdict, err = validate(t, gw, repo, InvestmentRequest{
		Project:  project,
		Amount:   decimal.NewFromInt(50000),
		Currency: "USD",
	})
	require.NoError(t, err)
	assert.Equal(t, CodeProjectExpired, verdict.Code)
}

func TestValidateRules(t *testing.T) {
	tests := []struct {
		name     string
		amount   int64
		currency string
		prior    map[string]int64
		balance  int64
		expected Code
	}{
		{name: "accepted", amount: 500, currency: "EUR", balance: 1000},
		{name: "zero amount", amount: 0, currency: "EUR", expected: CodeInvalidAmount},
		{name: "above max per user", amount: 10001, currency: "EUR", expected: CodeAboveMaxPerUser},
		{name: "below min per user", amount: 99, currency: "EUR", expected: CodeBelowMinPerUser},
		{name: "currency mismatch", amount: 500, currency: "USD", expected: CodeCurrencyMismatch},
		{
			name:     "funding cap reached",
			amount:   600,
			currency: "EUR",
			prior:    map[string]int64{"other-1": 9800, "other-2": 9800},
			expected: CodeFundingCapReached,
		},
		{
			name:     "per user cap is cumulative",
			amount:   2000,
			currency: "EUR",
			prior:    map[string]int64{"investor-1": 9000},
			expected: CodePerUserCapReached,
		},
		{name: "insufficient funds", amount: 500, currency: "EUR", balance: 499, expected: CodeInsufficientFunds},
		{name: "lower case currency", amount: 500, currency: "eur", balance: 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := new(MockGateway)
			repo := repository.NewMemoryRepository()

			project := testProject(1)
			project.ExpectedFunding = decimal.NewFromInt(20000)
			require.NoError(t, repo.WithinTx(context.Background(), func(ledger repository.Ledger) error {
				return ledger.CreateProject(context.Background(), project)
			}))
			for investor, amount := range tt.prior {
				seedInvestment(t, repo, project.ID, investor, amount)
			}
			gw.On("GetBalance", mock.Anything, "0xinvestor").Return(decimal.NewFromInt(tt.balance), nil).Maybe()

			verdict, err := validate(t, gw, repo, InvestmentRequest{
				Project:            project,
				InvestorID:         "investor-1",
				InvestorWalletHash: "0xinvestor",
				Amount:             decimal.NewFromInt(tt.amount),
				Currency:           tt.currency,
			})

			require.NoError(t, err)
			assert.Equal(t, tt.expected, verdict.Code)
			assert.Equal(t, tt.expected == "", verdict.Accepted())
		})
	}
}

func TestValidateExactlyAtEndDate(t *testing.T) {
	gw := new(MockGateway)
	repo := repository.NewMemoryRepository()
	project := testProject(1)
	project.ID = 1
	project.EndDate = testNow

	gw.On("GetBalance", mock.Anything, "0xinvestor").Return(decimal.NewFromInt(1000), nil)

	verdict, err := validate(t, gw, repo, InvestmentRequest{
		Project:            project,
		InvestorID:         "investor-1",
		InvestorWalletHash: "0xinvestor",
		Amount:             decimal.NewFromInt(100),
		Currency:           "EUR",
	})
	require.NoError(t, err)
	assert.True(t, verdict.Accepted())
	gw.AssertExpectations(t)
}

func TestValidateGatewayFailureIsFatal(t *testing.T) {
	gw := new(MockGateway)
	repo := repository.NewMemoryRepository()
	project := testProject(1)
	project.ID = 1

	gw.On("GetBalance", mock.Anything, "0xinvestor").Return(decimal.Zero, errors.New("connection refused"))

	verdict, err := validate(t, gw, repo, InvestmentRequest{
		Project:            project,
		InvestorID:         "investor-1",
		InvestorWalletHash: "0xinvestor",
		Amount:             decimal.NewFromInt(100),
		Currency:           "EUR",
	})
	require.Error(t, err)
	assert.Equal(t, KindGatewayFailure, KindOf(err))
	assert.True(t, verdict.Accepted())
}

func TestVerdictErr(t *testing.T) {
	assert.NoError(t, Verdict{}.Err())

	err := Verdict{Code: CodeFundingCapReached, Detail: "full"}.Err()
	assert.Equal(t, KindValidationRejected, KindOf(err))
	assert.Equal(t, CodeFundingCapReached, CodeOf(err))
}
