package gateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/rongwang/fundchain-server/internal/models"
	"github.com/shopspring/decimal"
)

// Stub is an in-process gateway for local runs and tests. Unsigned payloads
// describe the requested operation, hashes derive from the signed payload and
// balances come from a settable table.
type Stub struct {
	mu       sync.Mutex
	balances map[string]decimal.Decimal
	posted   []string
	postErr  error
}

// NewStub creates a stub gateway with no balances
func NewStub() *Stub {
	return &Stub{balances: map[string]decimal.Decimal{}}
}

// SetBalance sets the balance reported for a wallet hash
func (s *Stub) SetBalance(walletHash string, amount decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[walletHash] = amount
}

// FailPosts makes every PostTransaction call fail with err until reset with nil
func (s *Stub) FailPosts(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.postErr = err
}

// Posted returns the signed payloads accepted so far
func (s *Stub) Posted() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.posted...)
}

func (s *Stub) GenerateOrgWalletTx(ctx context.Context, orgID int64) (UnsignedTx, error) {
	return stubTx(ctx, "org-wallet:%d", orgID)
}

func (s *Stub) GenerateProjectWalletTx(ctx context.Context, projectID int64) (UnsignedTx, error) {
	return stubTx(ctx, "project-wallet:%d", projectID)
}

func (s *Stub) GenerateMintTx(ctx context.Context, toWalletHash string, amount decimal.Decimal) (UnsignedTx, error) {
	return stubTx(ctx, "mint:%s:%s", toWalletHash, amount)
}

func (s *Stub) GenerateBurnApprovalTx(ctx context.Context, fromWalletHash string, amount decimal.Decimal) (UnsignedTx, error) {
	return stubTx(ctx, "burn-approval:%s:%s", fromWalletHash, amount)
}

func (s *Stub) GenerateBurnTx(ctx context.Context, approvalTxHash string, amount decimal.Decimal) (UnsignedTx, error) {
	return stubTx(ctx, "burn:%s:%s", approvalTxHash, amount)
}

func (s *Stub) GenerateInvestAllowanceTx(ctx context.Context, projectHash string, amount decimal.Decimal) (UnsignedTx, error) {
	return stubTx(ctx, "invest-allowance:%s:%s", projectHash, amount)
}

func (s *Stub) GenerateInvestConfirmTx(ctx context.Context, projectHash, investorHash string, amount decimal.Decimal) (UnsignedTx, error) {
	return stubTx(ctx, "invest:%s:%s:%s", projectHash, investorHash, amount)
}

func (s *Stub) PostTransaction(ctx context.Context, signedTx string, txType models.TransactionType) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &Error{Op: "post_transaction", Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.postErr != nil {
		return "", &Error{Op: "post_transaction", Err: s.postErr}
	}
	s.posted = append(s.posted, signedTx)
	return "0x" + IdempotencyKey(string(txType)+":"+signedTx), nil
}

func (s *Stub) GetBalance(ctx context.Context, walletHash string) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, &Error{Op: "get_balance", Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[walletHash], nil
}

func stubTx(ctx context.Context, format string, args ...interface{}) (UnsignedTx, error) {
	if err := ctx.Err(); err != nil {
		return UnsignedTx{}, &Error{Op: "generate", Err: err}
	}
	return UnsignedTx{Data: "unsigned:" + fmt.Sprintf(format, args...)}, nil
}
