package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/rongwang/fundchain-server/internal/models"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when a record id is absent
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when a write violates a uniqueness rule
	ErrDuplicate = errors.New("duplicate record")
)

// Names of the uniqueness rules a write can trip over. The Postgres schema uses the
// same names for its indexes so both stores report violations identically.
const (
	ConstraintDepositPending   = "deposits_one_pending_per_user"
	ConstraintDepositReference = "deposits_reference_key"
	ConstraintWithdrawPending  = "withdraws_one_pending_per_user"
	ConstraintWalletOwner      = "wallets_owner_type_key"
	ConstraintDescriptorOnce   = "transaction_infos_one_per_companion"
)

// ConstraintError reports which uniqueness rule rejected a write
type ConstraintError struct {
	Constraint string
	Err        error
}

func (e *ConstraintError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("unique constraint %s violated: %v", e.Constraint, e.Err)
	}
	return fmt.Sprintf("unique constraint %s violated", e.Constraint)
}

func (e *ConstraintError) Unwrap() error { return e.Err }

func (e *ConstraintError) Is(target error) bool { return target == ErrDuplicate }

// IsConstraint reports whether err was caused by the named uniqueness rule
func IsConstraint(err error, constraint string) bool {
	var cErr *ConstraintError
	return errors.As(err, &cErr) && cErr.Constraint == constraint
}

// Ledger is the set of record operations available inside a unit of work.
// Records reference each other by id only.
type Ledger interface {
	// Deposit operations
	CreateDeposit(ctx context.Context, deposit *models.Deposit) error
	FindDeposit(ctx context.Context, id int64) (*models.Deposit, error)
	FindPendingDeposit(ctx context.Context, userID string) (*models.Deposit, error)
	ListDepositsByUser(ctx context.Context, userID string) ([]models.Deposit, error)
	UpdateDeposit(ctx context.Context, deposit *models.Deposit) error
	DeleteDeposit(ctx context.Context, id int64) error

	// Withdraw operations
	CreateWithdraw(ctx context.Context, withdraw *models.Withdraw) error
	FindWithdraw(ctx context.Context, id int64) (*models.Withdraw, error)
	FindPendingWithdraw(ctx context.Context, userID string) (*models.Withdraw, error)
	ListWithdrawsByUser(ctx context.Context, userID string) ([]models.Withdraw, error)
	UpdateWithdraw(ctx context.Context, withdraw *models.Withdraw) error
	DeleteWithdraw(ctx context.Context, id int64) error

	// Wallet operations
	CreateWallet(ctx context.Context, wallet *models.Wallet) error
	FindWallet(ctx context.Context, id int64) (*models.Wallet, error)
	FindWalletByOwner(ctx context.Context, ownerRef string, walletType models.WalletType) (*models.Wallet, error)
	UpdateWallet(ctx context.Context, wallet *models.Wallet) error
	DeleteWallet(ctx context.Context, id int64) error

	// Descriptor operations. Descriptors are never updated in place, and at most one
	// exists per (type, companion id).
	CreateTransactionInfo(ctx context.Context, info *models.TransactionInfo) error
	FindTransactionInfo(ctx context.Context, id int64) (*models.TransactionInfo, error)
	FindTransactionInfoByCompanion(ctx context.Context, txType models.TransactionType, companionID int64) (*models.TransactionInfo, error)
	DeleteTransactionInfo(ctx context.Context, id int64) error

	// Organizations and projects belong to the CRUD subsystem; create and delete
	// exist for seeding and tests.
	CreateOrganization(ctx context.Context, org *models.Organization) error
	FindOrganization(ctx context.Context, id int64) (*models.Organization, error)
	DeleteOrganization(ctx context.Context, id int64) error
	CreateProject(ctx context.Context, project *models.Project) error
	FindProject(ctx context.Context, id int64) (*models.Project, error)
	DeleteProject(ctx context.Context, id int64) error

	// Investment operations
	CreateInvestment(ctx context.Context, investment *models.Investment) error
	SumProjectInvestments(ctx context.Context, projectID int64) (decimal.Decimal, error)
	SumInvestorInvestments(ctx context.Context, projectID int64, investorID string) (decimal.Decimal, error)
}

// Repository runs units of work against the ledger. If fn returns an error every
// change made through the Ledger it was given is discarded.
type Repository interface {
	WithinTx(ctx context.Context, fn func(Ledger) error) error
}
