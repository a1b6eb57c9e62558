package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rongwang/fundchain-server/internal/models"
	"github.com/shopspring/decimal"
)

// MemoryRepository keeps every table in maps keyed by id. A unit of work holds the
// store lock for its whole duration and operates on a copy of the tables that only
// replaces the live ones when fn succeeds.
type MemoryRepository struct {
	mu     sync.Mutex
	tables *memTables
}

// NewMemoryRepository creates an empty in-memory repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{tables: newMemTables()}
}

// WithinTx runs fn serialized against every other unit of work
func (r *MemoryRepository) WithinTx(ctx context.Context, fn func(Ledger) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	work := r.tables.clone()
	if err := fn(work); err != nil {
		return err
	}
	r.tables = work
	return nil
}

type memTables struct {
	seq         map[string]int64
	deposits    map[int64]models.Deposit
	withdraws   map[int64]models.Withdraw
	wallets     map[int64]models.Wallet
	infos       map[int64]models.TransactionInfo
	orgs        map[int64]models.Organization
	projects    map[int64]models.Project
	investments map[int64]models.Investment
}

func newMemTables() *memTables {
	return &memTables{
		seq:         map[string]int64{},
		deposits:    map[int64]models.Deposit{},
		withdraws:   map[int64]models.Withdraw{},
		wallets:     map[int64]models.Wallet{},
		infos:       map[int64]models.TransactionInfo{},
		orgs:        map[int64]models.Organization{},
		projects:    map[int64]models.Project{},
		investments: map[int64]models.Investment{},
	}
}

func copyMap[K comparable, V any](src map[K]V) map[K]V {
	dst := make(map[K]V, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// clone copies the tables. Records are stored by value and replaced wholesale on
// update, so sharing the pointer fields inside them is safe.
func (t *memTables) clone() *memTables {
	return &memTables{
		seq:         copyMap(t.seq),
		deposits:    copyMap(t.deposits),
		withdraws:   copyMap(t.withdraws),
		wallets:     copyMap(t.wallets),
		infos:       copyMap(t.infos),
		orgs:        copyMap(t.orgs),
		projects:    copyMap(t.projects),
		investments: copyMap(t.investments),
	}
}

func (t *memTables) next(table string) int64 {
	t.seq[table]++
	return t.seq[table]
}

func sortedIDs[V any](m map[int64]V) []int64 {
	ids := make([]int64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func memStamp(t *time.Time) {
	if t.IsZero() {
		*t = time.Now().UTC()
	}
}

// Deposit operations
func (t *memTables) CreateDeposit(_ context.Context, d *models.Deposit) error {
	for _, existing := range t.deposits {
		if existing.Reference == d.Reference {
			return &ConstraintError{Constraint: ConstraintDepositReference}
		}
		if existing.UserID == d.UserID && existing.TxHash == nil && d.TxHash == nil {
			return &ConstraintError{Constraint: ConstraintDepositPending}
		}
	}
	memStamp(&d.CreatedAt)
	d.ID = t.next("deposits")
	t.deposits[d.ID] = *d
	return nil
}

func (t *memTables) FindDeposit(_ context.Context, id int64) (*models.Deposit, error) {
	d, ok := t.deposits[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &d, nil
}

func (t *memTables) FindPendingDeposit(_ context.Context, userID string) (*models.Deposit, error) {
	for _, id := range sortedIDs(t.deposits) {
		d := t.deposits[id]
		if d.UserID == userID && d.TxHash == nil {
			return &d, nil
		}
	}
	return nil, ErrNotFound
}

func (t *memTables) ListDepositsByUser(_ context.Context, userID string) ([]models.Deposit, error) {
	deposits := []models.Deposit{}
	for _, id := range sortedIDs(t.deposits) {
		if d := t.deposits[id]; d.UserID == userID {
			deposits = append(deposits, d)
		}
	}
	return deposits, nil
}

func (t *memTables) UpdateDeposit(_ context.Context, d *models.Deposit) error {
	if _, ok := t.deposits[d.ID]; !ok {
		return ErrNotFound
	}
	t.deposits[d.ID] = *d
	return nil
}

func (t *memTables) DeleteDeposit(_ context.Context, id int64) error {
	if _, ok := t.deposits[id]; !ok {
		return ErrNotFound
	}
	delete(t.deposits, id)
	return nil
}

// Withdraw operations
func (t *memTables) CreateWithdraw(_ context.Context, w *models.Withdraw) error {
	for _, existing := range t.withdraws {
		if existing.UserID == w.UserID && existing.BurnedTxHash == nil && w.BurnedTxHash == nil {
			return &ConstraintError{Constraint: ConstraintWithdrawPending}
		}
	}
	memStamp(&w.CreatedAt)
	w.ID = t.next("withdraws")
	t.withdraws[w.ID] = *w
	return nil
}

func (t *memTables) FindWithdraw(_ context.Context, id int64) (*models.Withdraw, error) {
	w, ok := t.withdraws[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &w, nil
}

func (t *memTables) FindPendingWithdraw(_ context.Context, userID string) (*models.Withdraw, error) {
	for _, id := range sortedIDs(t.withdraws) {
		w := t.withdraws[id]
		if w.UserID == userID && w.BurnedTxHash == nil {
			return &w, nil
		}
	}
	return nil, ErrNotFound
}

func (t *memTables) ListWithdrawsByUser(_ context.Context, userID string) ([]models.Withdraw, error) {
	withdraws := []models.Withdraw{}
	for _, id := range sortedIDs(t.withdraws) {
		if w := t.withdraws[id]; w.UserID == userID {
			withdraws = append(withdraws, w)
		}
	}
	return withdraws, nil
}

func (t *memTables) UpdateWithdraw(_ context.Context, w *models.Withdraw) error {
	if _, ok := t.withdraws[w.ID]; !ok {
		return ErrNotFound
	}
	t.withdraws[w.ID] = *w
	return nil
}

func (t *memTables) DeleteWithdraw(_ context.Context, id int64) error {
	if _, ok := t.withdraws[id]; !ok {
		return ErrNotFound
	}
	delete(t.withdraws, id)
	return nil
}

// Wallet operations
func (t *memTables) CreateWallet(_ context.Context, w *models.Wallet) error {
	for _, existing := range t.wallets {
		if existing.OwnerRef == w.OwnerRef && existing.Type == w.Type {
			return &ConstraintError{Constraint: ConstraintWalletOwner}
		}
	}
	memStamp(&w.CreatedAt)
	w.ID = t.next("wallets")
	t.wallets[w.ID] = *w
	return nil
}

func (t *memTables) FindWallet(_ context.Context, id int64) (*models.Wallet, error) {
	w, ok := t.wallets[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &w, nil
}

func (t *memTables) FindWalletByOwner(_ context.Context, ownerRef string, walletType models.WalletType) (*models.Wallet, error) {
	for _, w := range t.wallets {
		if w.OwnerRef == ownerRef && w.Type == walletType {
			return &w, nil
		}
	}
	return nil, ErrNotFound
}

func (t *memTables) UpdateWallet(_ context.Context, w *models.Wallet) error {
	if _, ok := t.wallets[w.ID]; !ok {
		return ErrNotFound
	}
	t.wallets[w.ID] = *w
	return nil
}

func (t *memTables) DeleteWallet(_ context.Context, id int64) error {
	if _, ok := t.wallets[id]; !ok {
		return ErrNotFound
	}
	delete(t.wallets, id)
	return nil
}

// Descriptor operations
func (t *memTables) CreateTransactionInfo(_ context.Context, info *models.TransactionInfo) error {
	if info.CompanionID != nil {
		for _, existing := range t.infos {
			if existing.Type == info.Type && existing.CompanionID != nil && *existing.CompanionID == *info.CompanionID {
				return &ConstraintError{Constraint: ConstraintDescriptorOnce}
			}
		}
	}
	memStamp(&info.CreatedAt)
	info.ID = t.next("transaction_infos")
	t.infos[info.ID] = *info
	return nil
}

func (t *memTables) FindTransactionInfo(_ context.Context, id int64) (*models.TransactionInfo, error) {
	info, ok := t.infos[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &info, nil
}

func (t *memTables) FindTransactionInfoByCompanion(_ context.Context, txType models.TransactionType, companionID int64) (*models.TransactionInfo, error) {
	for _, info := range t.infos {
		if info.Type == txType && info.CompanionID != nil && *info.CompanionID == companionID {
			return &info, nil
		}
	}
	return nil, ErrNotFound
}

func (t *memTables) DeleteTransactionInfo(_ context.Context, id int64) error {
	if _, ok := t.infos[id]; !ok {
		return ErrNotFound
	}
	delete(t.infos, id)
	return nil
}

// Organization and project operations
func (t *memTables) CreateOrganization(_ context.Context, org *models.Organization) error {
	org.ID = t.next("organizations")
	t.orgs[org.ID] = *org
	return nil
}

func (t *memTables) FindOrganization(_ context.Context, id int64) (*models.Organization, error) {
	org, ok := t.orgs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &org, nil
}

func (t *memTables) DeleteOrganization(_ context.Context, id int64) error {
	if _, ok := t.orgs[id]; !ok {
		return ErrNotFound
	}
	delete(t.orgs, id)
	return nil
}

func (t *memTables) CreateProject(_ context.Context, p *models.Project) error {
	p.ID = t.next("projects")
	t.projects[p.ID] = *p
	return nil
}

func (t *memTables) FindProject(_ context.Context, id int64) (*models.Project, error) {
	p, ok := t.projects[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (t *memTables) DeleteProject(_ context.Context, id int64) error {
	if _, ok := t.projects[id]; !ok {
		return ErrNotFound
	}
	delete(t.projects, id)
	return nil
}

// Investment operations
func (t *memTables) CreateInvestment(_ context.Context, inv *models.Investment) error {
	memStamp(&inv.CreatedAt)
	inv.ID = t.next("investments")
	t.investments[inv.ID] = *inv
	return nil
}

func (t *memTables) SumProjectInvestments(_ context.Context, projectID int64) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, inv := range t.investments {
		if inv.ProjectID == projectID {
			sum = sum.Add(inv.Amount)
		}
	}
	return sum, nil
}

func (t *memTables) SumInvestorInvestments(_ context.Context, projectID int64, investorID string) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, inv := range t.investments {
		if inv.ProjectID == projectID && inv.InvestorID == investorID {
			sum = sum.Add(inv.Amount)
		}
	}
	return sum, nil
}
