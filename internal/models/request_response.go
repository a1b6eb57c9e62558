package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Request models
type CreateDepositRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type ApproveDepositRequest struct {
	Amount   decimal.Decimal `json:"amount"`
	Document string          `json:"document" binding:"required"`
}

type CreateWithdrawRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type InvestRequest struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency" binding:"required"`
}

type SignedTransactionRequest struct {
	Data string `json:"data" binding:"required"`
}

// Response models
type DepositResponse struct {
	Status     string           `json:"status"`
	ID         int64            `json:"id"`
	UserID     string           `json:"userId"`
	Reference  string           `json:"reference"`
	Approved   bool             `json:"approved"`
	Amount     *decimal.Decimal `json:"amount"`
	ApprovedAt *time.Time       `json:"approvedAt"`
	TxHash     *string          `json:"txHash"`
	CreatedAt  time.Time        `json:"createdAt"`
}

// NewDepositResponse maps a deposit record onto its API shape
func NewDepositResponse(d *Deposit) DepositResponse {
	resp := DepositResponse{
		Status:     "success",
		ID:         d.ID,
		UserID:     d.UserID,
		Reference:  d.Reference,
		Approved:   d.Approved,
		ApprovedAt: d.ApprovedAt,
		TxHash:     d.TxHash,
		CreatedAt:  d.CreatedAt,
	}
	if d.Amount.Valid {
		amount := d.Amount.Decimal
		resp.Amount = &amount
	}
	return resp
}

type WithdrawResponse struct {
	Status         string          `json:"status"`
	ID             int64           `json:"id"`
	UserID         string          `json:"userId"`
	Amount         decimal.Decimal `json:"amount"`
	ApprovedTxHash *string         `json:"approvedTxHash"`
	ApprovedAt     *time.Time      `json:"approvedAt"`
	BurnedTxHash   *string         `json:"burnedTxHash"`
	BurnedAt       *time.Time      `json:"burnedAt"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// NewWithdrawResponse maps a withdraw record onto its API shape
func NewWithdrawResponse(w *Withdraw) WithdrawResponse {
	return WithdrawResponse{
		Status:         "success",
		ID:             w.ID,
		UserID:         w.UserID,
		Amount:         w.Amount,
		ApprovedTxHash: w.ApprovedTxHash,
		ApprovedAt:     w.ApprovedAt,
		BurnedTxHash:   w.BurnedTxHash,
		BurnedAt:       w.BurnedAt,
		CreatedAt:      w.CreatedAt,
	}
}

// UnsignedTransactionResponse carries an unsigned payload and the descriptor id
// the signed payload has to be broadcast against.
type UnsignedTransactionResponse struct {
	Status string          `json:"status"`
	TxID   int64           `json:"tx_id"`
	Type   TransactionType `json:"type"`
	Title  string          `json:"title"`
	Tx     string          `json:"tx"`
}

type BroadcastResponse struct {
	Status string `json:"status"`
	TxHash string `json:"tx_hash"`
}

type IssuerTransactionResponse struct {
	Status   string `json:"status"`
	Tx       string `json:"tx"`
	Callback string `json:"callback"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

type ErrorResponse struct {
	Status  string `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
