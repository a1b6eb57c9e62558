package notify

import (
	"context"
	"time"

	"github.com/rongwang/fundchain-server/internal/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Notifier tells users that their fiat operation has settled on chain
type Notifier interface {
	DepositMinted(ctx context.Context, deposit *models.Deposit) error
	WithdrawBurned(ctx context.Context, withdraw *models.Withdraw) error
}

// Event is the payload published for a settled operation
type Event struct {
	Kind      string          `json:"kind"`
	RecordID  int64           `json:"recordId"`
	UserID    string          `json:"userId"`
	Amount    decimal.Decimal `json:"amount"`
	TxHash    string          `json:"txHash"`
	SettledAt time.Time       `json:"settledAt"`
}

const (
	KindDepositMinted  = "deposit.minted"
	KindWithdrawBurned = "withdraw.burned"
)

// DepositEvent builds the event for a minted deposit
func DepositEvent(d *models.Deposit) Event {
	e := Event{
		Kind:      KindDepositMinted,
		RecordID:  d.ID,
		UserID:    d.UserID,
		Amount:    d.Amount.Decimal,
		SettledAt: time.Now().UTC(),
	}
	if d.TxHash != nil {
		e.TxHash = *d.TxHash
	}
	return e
}

// WithdrawEvent builds the event for a burned withdraw
func WithdrawEvent(w *models.Withdraw) Event {
	e := Event{
		Kind:      KindWithdrawBurned,
		RecordID:  w.ID,
		UserID:    w.UserID,
		Amount:    w.Amount,
		SettledAt: time.Now().UTC(),
	}
	if w.BurnedTxHash != nil {
		e.TxHash = *w.BurnedTxHash
	}
	if w.BurnedAt != nil {
		e.SettledAt = *w.BurnedAt
	}
	return e
}

// LogNotifier only writes settlements to the log. Used when no broker is configured.
type LogNotifier struct {
	log logrus.FieldLogger
}

func NewLogNotifier(log logrus.FieldLogger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) DepositMinted(_ context.Context, d *models.Deposit) error {
	n.logEvent(DepositEvent(d))
	return nil
}

func (n *LogNotifier) WithdrawBurned(_ context.Context, w *models.Withdraw) error {
	n.logEvent(WithdrawEvent(w))
	return nil
}

func (n *LogNotifier) logEvent(e Event) {
	n.log.WithFields(logrus.Fields{
		"kind":    e.Kind,
		"id":      e.RecordID,
		"user_id": e.UserID,
		"amount":  e.Amount.String(),
		"tx_hash": e.TxHash,
	}).Info("settlement notification")
}
