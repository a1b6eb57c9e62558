package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType identifies what a pending descriptor will do once its signed payload is broadcast
type TransactionType string

const (
	TxCreateOrg       TransactionType = "CREATE_ORG"
	TxCreateProject   TransactionType = "CREATE_PROJECT"
	TxMint            TransactionType = "MINT"
	TxBurnApproval    TransactionType = "BURN_APPROVAL"
	TxBurn            TransactionType = "BURN"
	TxInvestAllowance TransactionType = "INVEST_ALLOWANCE"
	TxInvest          TransactionType = "INVEST"
)

// NeedsCompanion reports whether descriptors of this type must reference a companion entity
func (t TransactionType) NeedsCompanion() bool {
	switch t {
	case TxCreateOrg, TxCreateProject, TxMint, TxBurnApproval, TxBurn:
		return true
	}
	return false
}

// WalletType is the kind of owner a wallet belongs to
type WalletType string

const (
	WalletUser    WalletType = "USER"
	WalletOrg     WalletType = "ORG"
	WalletProject WalletType = "PROJECT"
)

// TransactionInfo is a descriptor for an unsigned transaction handed out to a client
// and awaiting its signed counterpart. Rows are ephemeral: one per in-flight signature.
type TransactionInfo struct {
	ID          int64               `db:"id" json:"id"`
	Type        TransactionType     `db:"type" json:"type"`
	Title       string              `db:"title" json:"title"`
	Description string              `db:"description" json:"description"`
	UserID      string              `db:"user_id" json:"userId"`
	CompanionID *int64              `db:"companion_id" json:"companionId,omitempty"`
	ProjectID   *int64              `db:"project_id" json:"projectId,omitempty"`
	Amount      decimal.NullDecimal `db:"amount" json:"amount"`
	CreatedAt   time.Time           `db:"created_at" json:"createdAt"`
}

// Deposit is a fiat deposit that becomes minted tokens once approved by staff
type Deposit struct {
	ID          int64               `db:"id" json:"id"`
	UserID      string              `db:"user_id" json:"userId"`
	Reference   string              `db:"reference" json:"reference"`
	Approved    bool                `db:"approved" json:"approved"`
	Amount      decimal.NullDecimal `db:"amount" json:"amount"`
	ApprovedBy  *string             `db:"approved_by" json:"approvedBy,omitempty"`
	ApprovedAt  *time.Time          `db:"approved_at" json:"approvedAt,omitempty"`
	DocumentRef *string             `db:"document_ref" json:"documentRef,omitempty"`
	TxHash      *string             `db:"tx_hash" json:"txHash,omitempty"`
	CreatedAt   time.Time           `db:"created_at" json:"createdAt"`
}

// Minted reports whether the mint transaction has been broadcast
func (d *Deposit) Minted() bool {
	return d.TxHash != nil
}

// Withdraw is a fiat payout backed by an on-chain approval followed by a burn
type Withdraw struct {
	ID             int64           `db:"id" json:"id"`
	UserID         string          `db:"user_id" json:"userId"`
	Amount         decimal.Decimal `db:"amount" json:"amount"`
	ApprovedTxHash *string         `db:"approved_tx_hash" json:"approvedTxHash,omitempty"`
	ApprovedAt     *time.Time      `db:"approved_at" json:"approvedAt,omitempty"`
	BurnedTxHash   *string         `db:"burned_tx_hash" json:"burnedTxHash,omitempty"`
	BurnedBy       *string         `db:"burned_by" json:"burnedBy,omitempty"`
	BurnedAt       *time.Time      `db:"burned_at" json:"burnedAt,omitempty"`
	CreatedAt      time.Time       `db:"created_at" json:"createdAt"`
}

// ApprovalSigned reports whether the reserve transaction has been broadcast
func (w *Withdraw) ApprovalSigned() bool {
	return w.ApprovedTxHash != nil
}

// Burned reports whether the burn transaction has been broadcast
func (w *Withdraw) Burned() bool {
	return w.BurnedTxHash != nil
}

// Wallet is an on-chain wallet owned by a user, organization or project.
// Hash stays empty until the creation transaction is confirmed.
type Wallet struct {
	ID        int64      `db:"id" json:"id"`
	OwnerRef  string     `db:"owner_ref" json:"ownerRef"`
	Currency  string     `db:"currency" json:"currency"`
	Hash      *string    `db:"hash" json:"hash,omitempty"`
	Type      WalletType `db:"type" json:"type"`
	CreatedAt time.Time  `db:"created_at" json:"createdAt"`
}

// Project is owned by the project CRUD subsystem; the engine only reads it
type Project struct {
	ID              int64           `db:"id" json:"id"`
	OrganizationID  int64           `db:"organization_id" json:"organizationId"`
	Name            string          `db:"name" json:"name"`
	Active          bool            `db:"active" json:"active"`
	StartDate       time.Time       `db:"start_date" json:"startDate"`
	EndDate         time.Time       `db:"end_date" json:"endDate"`
	Currency        string          `db:"currency" json:"currency"`
	MinPerUser      decimal.Decimal `db:"min_per_user" json:"minPerUser"`
	MaxPerUser      decimal.Decimal `db:"max_per_user" json:"maxPerUser"`
	ExpectedFunding decimal.Decimal `db:"expected_funding" json:"expectedFunding"`
}

// Organization is owned by the organization CRUD subsystem; the engine only reads it
type Organization struct {
	ID     int64  `db:"id" json:"id"`
	Name   string `db:"name" json:"name"`
	Active bool   `db:"active" json:"active"`
}

// Investment records one confirmed investment broadcast
type Investment struct {
	ID         int64           `db:"id" json:"id"`
	ProjectID  int64           `db:"project_id" json:"projectId"`
	InvestorID string          `db:"investor_id" json:"investorId"`
	Amount     decimal.Decimal `db:"amount" json:"amount"`
	TxHash     string          `db:"tx_hash" json:"txHash"`
	CreatedAt  time.Time       `db:"created_at" json:"createdAt"`
}
