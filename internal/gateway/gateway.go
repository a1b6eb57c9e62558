package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/rongwang/fundchain-server/internal/models"
	"github.com/shopspring/decimal"
)

// ErrTimeout is wrapped by an *Error when a call outlives its deadline
var ErrTimeout = errors.New("gateway call timed out")

// UnsignedTx is a transaction payload the client has to sign before it is broadcast
type UnsignedTx struct {
	Data string `json:"data"`
}

// Gateway builds unsigned transactions, relays signed ones and reads balances.
// Every call blocks until the gateway answers or ctx expires.
type Gateway interface {
	GenerateOrgWalletTx(ctx context.Context, orgID int64) (UnsignedTx, error)
	GenerateProjectWalletTx(ctx context.Context, projectID int64) (UnsignedTx, error)
	GenerateMintTx(ctx context.Context, toWalletHash string, amount decimal.Decimal) (UnsignedTx, error)
	GenerateBurnApprovalTx(ctx context.Context, fromWalletHash string, amount decimal.Decimal) (UnsignedTx, error)
	GenerateBurnTx(ctx context.Context, approvalTxHash string, amount decimal.Decimal) (UnsignedTx, error)
	GenerateInvestAllowanceTx(ctx context.Context, projectHash string, amount decimal.Decimal) (UnsignedTx, error)
	GenerateInvestConfirmTx(ctx context.Context, projectHash, investorHash string, amount decimal.Decimal) (UnsignedTx, error)
	PostTransaction(ctx context.Context, signedTx string, txType models.TransactionType) (string, error)
	GetBalance(ctx context.Context, walletHash string) (decimal.Decimal, error)
}

// Error is returned for every failed gateway call: transport errors, timeouts,
// non-2xx answers and malformed bodies.
type Error struct {
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("gateway %s: status %d: %s", e.Op, e.StatusCode, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("gateway %s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("gateway %s: %s", e.Op, e.Message)
	}
}

func (e *Error) Unwrap() error { return e.Err }
