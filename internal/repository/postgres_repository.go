package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rongwang/fundchain-server/internal/models"
	"github.com/shopspring/decimal"
)

const uniqueViolation = "23505"

// PostgresRepository implements the Repository interface using PostgreSQL
type PostgresRepository struct {
	db *sqlx.DB
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{
		db: db,
	}
}

// GetDB returns the underlying database connection
func (r *PostgresRepository) GetDB() *sqlx.DB {
	return r.db
}

// WithinTx runs fn inside a database transaction. Single-row lookups made through
// the ledger take row locks, so a check followed by a write cannot interleave with
// another unit of work touching the same record.
func (r *PostgresRepository) WithinTx(ctx context.Context, fn func(Ledger) error) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if err = fn(&pgLedger{q: tx}); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return mapError(err)
	}
	return nil
}

// mapError translates driver errors into the repository sentinels
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return &ConstraintError{Constraint: pqErr.Constraint, Err: err}
	}
	return err
}

type pgLedger struct {
	q sqlx.ExtContext
}

func (l *pgLedger) get(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return mapError(sqlx.GetContext(ctx, l.q, dest, query, args...))
}

func (l *pgLedger) selectAll(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return mapError(sqlx.SelectContext(ctx, l.q, dest, query, args...))
}

func (l *pgLedger) insert(ctx context.Context, id *int64, query string, args ...interface{}) error {
	return mapError(l.q.QueryRowxContext(ctx, query, args...).Scan(id))
}

// exec runs a statement that must touch exactly one existing row
func (l *pgLedger) exec(ctx context.Context, query string, args ...interface{}) error {
	res, err := l.q.ExecContext(ctx, query, args...)
	if err != nil {
		return mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func stamp(t *time.Time) {
	if t.IsZero() {
		*t = time.Now().UTC()
	}
}

// Deposit repository methods
func (l *pgLedger) CreateDeposit(ctx context.Context, d *models.Deposit) error {
	stamp(&d.CreatedAt)
	query := `
		INSERT INTO deposits (user_id, reference, approved, amount, approved_by, approved_at, document_ref, tx_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`
	return l.insert(ctx, &d.ID, query,
		d.UserID, d.Reference, d.Approved, d.Amount, d.ApprovedBy,
		d.ApprovedAt, d.DocumentRef, d.TxHash, d.CreatedAt)
}

func (l *pgLedger) FindDeposit(ctx context.Context, id int64) (*models.Deposit, error) {
	var d models.Deposit
	if err := l.get(ctx, &d, `SELECT * FROM deposits WHERE id = $1 FOR UPDATE`, id); err != nil {
		return nil, err
	}
	return &d, nil
}

func (l *pgLedger) FindPendingDeposit(ctx context.Context, userID string) (*models.Deposit, error) {
	var d models.Deposit
	query := `SELECT * FROM deposits WHERE user_id = $1 AND tx_hash IS NULL FOR UPDATE`
	if err := l.get(ctx, &d, query, userID); err != nil {
		return nil, err
	}
	return &d, nil
}

func (l *pgLedger) ListDepositsByUser(ctx context.Context, userID string) ([]models.Deposit, error) {
	deposits := []models.Deposit{}
	query := `SELECT * FROM deposits WHERE user_id = $1 ORDER BY id ASC`
	if err := l.selectAll(ctx, &deposits, query, userID); err != nil {
		return nil, err
	}
	return deposits, nil
}

func (l *pgLedger) UpdateDeposit(ctx context.Context, d *models.Deposit) error {
	query := `
		UPDATE deposits
		SET approved = $2, amount = $3, approved_by = $4, approved_at = $5, document_ref = $6, tx_hash = $7
		WHERE id = $1
	`
	return l.exec(ctx, query,
		d.ID, d.Approved, d.Amount, d.ApprovedBy, d.ApprovedAt, d.DocumentRef, d.TxHash)
}

func (l *pgLedger) DeleteDeposit(ctx context.Context, id int64) error {
	return l.exec(ctx, `DELETE FROM deposits WHERE id = $1`, id)
}

// Withdraw repository methods
func (l *pgLedger) CreateWithdraw(ctx context.Context, w *models.Withdraw) error {
	stamp(&w.CreatedAt)
	query := `
		INSERT INTO withdraws (user_id, amount, approved_tx_hash, approved_at, burned_tx_hash, burned_by, burned_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`
	return l.insert(ctx, &w.ID, query,
		w.UserID, w.Amount, w.ApprovedTxHash, w.ApprovedAt,
		w.BurnedTxHash, w.BurnedBy, w.BurnedAt, w.CreatedAt)
}

func (l *pgLedger) FindWithdraw(ctx context.Context, id int64) (*models.Withdraw, error) {
	var w models.Withdraw
	if err := l.get(ctx, &w, `SELECT * FROM withdraws WHERE id = $1 FOR UPDATE`, id); err != nil {
		return nil, err
	}
	return &w, nil
}

func (l *pgLedger) FindPendingWithdraw(ctx context.Context, userID string) (*models.Withdraw, error) {
	var w models.Withdraw
	query := `SELECT * FROM withdraws WHERE user_id = $1 AND burned_tx_hash IS NULL FOR UPDATE`
	if err := l.get(ctx, &w, query, userID); err != nil {
		return nil, err
	}
	return &w, nil
}

func (l *pgLedger) ListWithdrawsByUser(ctx context.Context, userID string) ([]models.Withdraw, error) {
	withdraws := []models.Withdraw{}
	query := `SELECT * FROM withdraws WHERE user_id = $1 ORDER BY id ASC`
	if err := l.selectAll(ctx, &withdraws, query, userID); err != nil {
		return nil, err
	}
	return withdraws, nil
}

func (l *pgLedger) UpdateWithdraw(ctx context.Context, w *models.Withdraw) error {
	query := `
		UPDATE withdraws
		SET approved_tx_hash = $2, approved_at = $3, burned_tx_hash = $4, burned_by = $5, burned_at = $6
		WHERE id = $1
	`
	return l.exec(ctx, query,
		w.ID, w.ApprovedTxHash, w.ApprovedAt, w.BurnedTxHash, w.BurnedBy, w.BurnedAt)
}

func (l *pgLedger) DeleteWithdraw(ctx context.Context, id int64) error {
	return l.exec(ctx, `DELETE FROM withdraws WHERE id = $1`, id)
}

// Wallet repository methods
func (l *pgLedger) CreateWallet(ctx context.Context, w *models.Wallet) error {
	stamp(&w.CreatedAt)
	query := `
		INSERT INTO wallets (owner_ref, currency, hash, type, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	return l.insert(ctx, &w.ID, query, w.OwnerRef, w.Currency, w.Hash, w.Type, w.CreatedAt)
}

func (l *pgLedger) FindWallet(ctx context.Context, id int64) (*models.Wallet, error) {
	var w models.Wallet
	if err := l.get(ctx, &w, `SELECT * FROM wallets WHERE id = $1 FOR UPDATE`, id); err != nil {
		return nil, err
	}
	return &w, nil
}

func (l *pgLedger) FindWalletByOwner(ctx context.Context, ownerRef string, walletType models.WalletType) (*models.Wallet, error) {
	var w models.Wallet
	query := `SELECT * FROM wallets WHERE owner_ref = $1 AND type = $2 FOR UPDATE`
	if err := l.get(ctx, &w, query, ownerRef, walletType); err != nil {
		return nil, err
	}
	return &w, nil
}

func (l *pgLedger) UpdateWallet(ctx context.Context, w *models.Wallet) error {
	return l.exec(ctx, `UPDATE wallets SET currency = $2, hash = $3 WHERE id = $1`, w.ID, w.Currency, w.Hash)
}

func (l *pgLedger) DeleteWallet(ctx context.Context, id int64) error {
	return l.exec(ctx, `DELETE FROM wallets WHERE id = $1`, id)
}

// Descriptor repository methods
func (l *pgLedger) CreateTransactionInfo(ctx context.Context, info *models.TransactionInfo) error {
	stamp(&info.CreatedAt)
	query := `
		INSERT INTO transaction_infos (type, title, description, user_id, companion_id, project_id, amount, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`
	return l.insert(ctx, &info.ID, query,
		info.Type, info.Title, info.Description, info.UserID,
		info.CompanionID, info.ProjectID, info.Amount, info.CreatedAt)
}

func (l *pgLedger) FindTransactionInfo(ctx context.Context, id int64) (*models.TransactionInfo, error) {
	var info models.TransactionInfo
	if err := l.get(ctx, &info, `SELECT * FROM transaction_infos WHERE id = $1 FOR UPDATE`, id); err != nil {
		return nil, err
	}
	return &info, nil
}

func (l *pgLedger) FindTransactionInfoByCompanion(ctx context.Context, txType models.TransactionType, companionID int64) (*models.TransactionInfo, error) {
	var info models.TransactionInfo
	query := `SELECT * FROM transaction_infos WHERE type = $1 AND companion_id = $2 FOR UPDATE`
	if err := l.get(ctx, &info, query, txType, companionID); err != nil {
		return nil, err
	}
	return &info, nil
}

func (l *pgLedger) DeleteTransactionInfo(ctx context.Context, id int64) error {
	return l.exec(ctx, `DELETE FROM transaction_infos WHERE id = $1`, id)
}

// Organization and project repository methods
func (l *pgLedger) CreateOrganization(ctx context.Context, org *models.Organization) error {
	query := `INSERT INTO organizations (name, active) VALUES ($1, $2) RETURNING id`
	return l.insert(ctx, &org.ID, query, org.Name, org.Active)
}

func (l *pgLedger) FindOrganization(ctx context.Context, id int64) (*models.Organization, error) {
	var org models.Organization
	if err := l.get(ctx, &org, `SELECT * FROM organizations WHERE id = $1`, id); err != nil {
		return nil, err
	}
	return &org, nil
}

func (l *pgLedger) DeleteOrganization(ctx context.Context, id int64) error {
	return l.exec(ctx, `DELETE FROM organizations WHERE id = $1`, id)
}

func (l *pgLedger) CreateProject(ctx context.Context, p *models.Project) error {
	query := `
		INSERT INTO projects (organization_id, name, active, start_date, end_date, currency, min_per_user, max_per_user, expected_funding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`
	return l.insert(ctx, &p.ID, query,
		p.OrganizationID, p.Name, p.Active, p.StartDate, p.EndDate,
		p.Currency, p.MinPerUser, p.MaxPerUser, p.ExpectedFunding)
}

// FindProject locks the project row. Investment validation reads the project's
// running totals after this call, so the lock keeps two confirms for the same
// project from both passing the caps.
func (l *pgLedger) FindProject(ctx context.Context, id int64) (*models.Project, error) {
	var p models.Project
	if err := l.get(ctx, &p, `SELECT * FROM projects WHERE id = $1 FOR UPDATE`, id); err != nil {
		return nil, err
	}
	return &p, nil
}

func (l *pgLedger) DeleteProject(ctx context.Context, id int64) error {
	return l.exec(ctx, `DELETE FROM projects WHERE id = $1`, id)
}

// Investment repository methods
func (l *pgLedger) CreateInvestment(ctx context.Context, inv *models.Investment) error {
	stamp(&inv.CreatedAt)
	query := `
		INSERT INTO investments (project_id, investor_id, amount, tx_hash, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	return l.insert(ctx, &inv.ID, query, inv.ProjectID, inv.InvestorID, inv.Amount, inv.TxHash, inv.CreatedAt)
}

func (l *pgLedger) SumProjectInvestments(ctx context.Context, projectID int64) (decimal.Decimal, error) {
	var sum decimal.Decimal
	query := `SELECT COALESCE(SUM(amount), 0) FROM investments WHERE project_id = $1`
	if err := l.get(ctx, &sum, query, projectID); err != nil {
		return decimal.Zero, err
	}
	return sum, nil
}

func (l *pgLedger) SumInvestorInvestments(ctx context.Context, projectID int64, investorID string) (decimal.Decimal, error) {
	var sum decimal.Decimal
	query := `SELECT COALESCE(SUM(amount), 0) FROM investments WHERE project_id = $1 AND investor_id = $2`
	if err := l.get(ctx, &sum, query, projectID, investorID); err != nil {
		return decimal.Zero, err
	}
	return sum, nil
}
