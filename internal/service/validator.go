package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rongwang/fundchain-server/internal/gateway"
	"github.com/rongwang/fundchain-server/internal/models"
	"github.com/rongwang/fundchain-server/internal/repository"
	"github.com/shopspring/decimal"
)

// InvestmentRequest is what an investor asks to put into a project
type InvestmentRequest struct {
	Project            *models.Project
	InvestorID         string
	InvestorWalletHash string
	Amount             decimal.Decimal
	Currency           string
}

// Verdict is the outcome of a validation. The zero value accepts the request.
type Verdict struct {
	Code   Code
	Detail string
}

// Accepted reports whether no rule rejected the request
func (v Verdict) Accepted() bool {
	return v.Code == ""
}

// Err converts a rejection into an *Error, nil when accepted
func (v Verdict) Err() error {
	if v.Accepted() {
		return nil
	}
	return rejected(v.Code, v.Detail)
}

func reject(code Code, format string, args ...interface{}) Verdict {
	return Verdict{Code: code, Detail: fmt.Sprintf(format, args...)}
}

// InvestmentValidator checks an investment against the project's window and caps
// and the investor's on-chain balance. Rules run in a fixed order and the first
// failing one decides the verdict. It never writes.
type InvestmentValidator struct {
	gateway gateway.Gateway
	now     func() time.Time
}

// NewInvestmentValidator creates a validator; now defaults to time.Now
func NewInvestmentValidator(gw gateway.Gateway, now func() time.Time) *InvestmentValidator {
	if now == nil {
		now = time.Now
	}
	return &InvestmentValidator{gateway: gw, now: now}
}

// Validate returns the verdict for req. A non-nil error means the verdict could
// not be reached (store or gateway failure).
func (v *InvestmentValidator) Validate(ctx context.Context, ledger repository.Ledger, req InvestmentRequest) (Verdict, error) {
	p := req.Project
	if p == nil {
		return Verdict{}, fmt.Errorf("validate investment: project is required")
	}

	if !p.Active {
		return reject(CodeProjectNotActive, "project %d is not active", p.ID), nil
	}
	if v.now().After(p.EndDate) {
		return reject(CodeProjectExpired, "project %d ended at %s", p.ID, p.EndDate.Format(time.RFC3339)), nil
	}
	if !req.Amount.IsPositive() {
		return reject(CodeInvalidAmount, "amount must be positive"), nil
	}
	if req.Amount.GreaterThan(p.MaxPerUser) {
		return reject(CodeAboveMaxPerUser, "amount %s is above the maximum of %s", req.Amount, p.MaxPerUser), nil
	}
	if req.Amount.LessThan(p.MinPerUser) {
		return reject(CodeBelowMinPerUser, "amount %s is below the minimum of %s", req.Amount, p.MinPerUser), nil
	}
	if !strings.EqualFold(req.Currency, p.Currency) {
		return reject(CodeCurrencyMismatch, "project accepts %s, got %s", p.Currency, req.Currency), nil
	}

	funded, err := ledger.SumProjectInvestments(ctx, p.ID)
	if err != nil {
		return Verdict{}, fmt.Errorf("error summing project investments: %w", err)
	}
	if funded.Add(req.Amount).GreaterThan(p.ExpectedFunding) {
		return reject(CodeFundingCapReached, "project has %s of %s funded", funded, p.ExpectedFunding), nil
	}

	invested, err := ledger.SumInvestorInvestments(ctx, p.ID, req.InvestorID)
	if err != nil {
		return Verdict{}, fmt.Errorf("error summing investor investments: %w", err)
	}
	if invested.Add(req.Amount).GreaterThan(p.MaxPerUser) {
		return reject(CodePerUserCapReached, "investor already put %s of %s", invested, p.MaxPerUser), nil
	}

	balance, err := v.gateway.GetBalance(ctx, req.InvestorWalletHash)
	if err != nil {
		return Verdict{}, gatewayFailure("get balance", err)
	}
	if balance.LessThan(req.Amount) {
		return reject(CodeInsufficientFunds, "balance %s is below %s", balance, req.Amount), nil
	}

	return Verdict{}, nil
}
