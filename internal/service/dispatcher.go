package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rongwang/fundchain-server/internal/gateway"
	"github.com/rongwang/fundchain-server/internal/metrics"
	"github.com/rongwang/fundchain-server/internal/models"
	"github.com/rongwang/fundchain-server/internal/notify"
	"github.com/rongwang/fundchain-server/internal/repository"
	"github.com/sirupsen/logrus"
)

// PendingTransaction is an unsigned transaction together with the descriptor its
// signed form has to be broadcast against. Reissued is set when the descriptor
// already existed and only the unsigned transaction is new.
type PendingTransaction struct {
	Info     models.TransactionInfo
	Tx       gateway.UnsignedTx
	Reissued bool
}

// createDescriptor records info so that a record never has two descriptors of one
// type: the requester's own outstanding descriptor is handed back, anyone else's
// is replaced.
func createDescriptor(ctx context.Context, ledger repository.Ledger, info *models.TransactionInfo, tx gateway.UnsignedTx) (*PendingTransaction, error) {
	if !info.Type.NeedsCompanion() {
		if err := ledger.CreateTransactionInfo(ctx, info); err != nil {
			return nil, fmt.Errorf("error creating transaction descriptor: %w", err)
		}
		return &PendingTransaction{Info: *info, Tx: tx}, nil
	}
	if info.CompanionID == nil {
		return nil, withDetail(ErrCompanionIDMissing, "%s descriptor", info.Type)
	}

	existing, err := ledger.FindTransactionInfoByCompanion(ctx, info.Type, *info.CompanionID)
	switch {
	case err == nil && existing.UserID == info.UserID:
		return &PendingTransaction{Info: *existing, Tx: tx, Reissued: true}, nil
	case err == nil:
		// another requester's descriptor is superseded by this one
		if err := ledger.DeleteTransactionInfo(ctx, existing.ID); err != nil {
			return nil, fmt.Errorf("error deleting transaction descriptor: %w", err)
		}
	case !errors.Is(err, repository.ErrNotFound):
		return nil, fmt.Errorf("error finding transaction descriptor: %w", err)
	}

	if err := ledger.CreateTransactionInfo(ctx, info); err != nil {
		if repository.IsConstraint(err, repository.ConstraintDescriptorOnce) {
			return nil, withDetail(ErrTransactionPending, "%s for %d", info.Type, *info.CompanionID)
		}
		return nil, fmt.Errorf("error creating transaction descriptor: %w", err)
	}
	return &PendingTransaction{Info: *info, Tx: tx}, nil
}

// dropDescriptor deletes the outstanding descriptor of txType for companionID, if any
func dropDescriptor(ctx context.Context, ledger repository.Ledger, txType models.TransactionType, companionID int64) error {
	info, err := ledger.FindTransactionInfoByCompanion(ctx, txType, companionID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("error finding transaction descriptor: %w", err)
	}
	if err := ledger.DeleteTransactionInfo(ctx, info.ID); err != nil {
		return fmt.Errorf("error deleting transaction descriptor: %w", err)
	}
	return nil
}

func (p *PendingTransaction) logCreated(log logrus.FieldLogger) {
	fields := logrus.Fields{
		"tx_id":   p.Info.ID,
		"type":    p.Info.Type,
		"user_id": p.Info.UserID,
	}
	if p.Info.CompanionID != nil {
		fields["companion_id"] = *p.Info.CompanionID
	}
	if p.Reissued {
		log.WithFields(fields).Info("outstanding transaction descriptor reissued")
		return
	}
	metrics.DescriptorCreated(string(p.Info.Type))
	log.WithFields(fields).Info("transaction descriptor created")
}

// settlement is what a successful broadcast reports once its unit of work commits
type settlement struct {
	hash     string
	deposit  *models.Deposit
	withdraw *models.Withdraw
}

// TransactionDispatcher consumes descriptors: it routes a signed payload to the
// handler of the descriptor's type and deletes the descriptor in the same unit of
// work, so a descriptor is either consumed once or left untouched.
type TransactionDispatcher struct {
	repo        repository.Repository
	deposits    *DepositLifecycle
	withdraws   *WithdrawLifecycle
	wallets     *WalletCreation
	investments *Investments
	notifier    notify.Notifier
	log         logrus.FieldLogger
}

func NewTransactionDispatcher(
	repo repository.Repository,
	deposits *DepositLifecycle,
	withdraws *WithdrawLifecycle,
	wallets *WalletCreation,
	investments *Investments,
	notifier notify.Notifier,
	log logrus.FieldLogger,
) *TransactionDispatcher {
	return &TransactionDispatcher{
		repo:        repo,
		deposits:    deposits,
		withdraws:   withdraws,
		wallets:     wallets,
		investments: investments,
		notifier:    notifier,
		log:         log,
	}
}

// Broadcast relays signedTx for descriptor descriptorID and returns the on-chain
// hash. On any failure the descriptor stays in place and can be broadcast again.
func (d *TransactionDispatcher) Broadcast(ctx context.Context, actor Actor, descriptorID int64, signedTx string) (string, error) {
	if strings.TrimSpace(signedTx) == "" {
		return "", withDetail(ErrInvalidRequest, "signed transaction is empty")
	}

	var (
		txType  models.TransactionType
		settled settlement
	)
	err := d.repo.WithinTx(ctx, func(ledger repository.Ledger) error {
		info, err := ledger.FindTransactionInfo(ctx, descriptorID)
		if errors.Is(err, repository.ErrNotFound) {
			return withDetail(ErrTransactionNotFound, "transaction %d", descriptorID)
		}
		if err != nil {
			return fmt.Errorf("error finding transaction descriptor: %w", err)
		}
		txType = info.Type

		if !actor.canAccess(info.UserID) {
			return withDetail(ErrNotOwner, "transaction %d", descriptorID)
		}

		settled, err = d.route(ctx, ledger, info, signedTx)
		if err != nil {
			return err
		}

		if err := ledger.DeleteTransactionInfo(ctx, info.ID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return withDetail(ErrTransactionNotFound, "transaction %d", descriptorID)
			}
			return fmt.Errorf("error deleting transaction descriptor: %w", err)
		}
		return nil
	})

	if err != nil {
		if settled.hash != "" {
			// the gateway accepted the transaction but the descriptor survived
			d.log.WithError(err).WithFields(logrus.Fields{
				"tx_id":   descriptorID,
				"type":    txType,
				"tx_hash": settled.hash,
			}).Error("transaction posted but settlement not committed, do not broadcast again")
		}
		d.recordFailure(descriptorID, txType, err)
		return "", err
	}

	metrics.Broadcast(string(txType), "ok")
	d.log.WithFields(logrus.Fields{
		"tx_id":   descriptorID,
		"type":    txType,
		"tx_hash": settled.hash,
	}).Info("transaction broadcast")

	d.notify(ctx, settled)
	return settled.hash, nil
}

func (d *TransactionDispatcher) route(ctx context.Context, ledger repository.Ledger, info *models.TransactionInfo, signedTx string) (settlement, error) {
	if info.Type.NeedsCompanion() && info.CompanionID == nil {
		return settlement{}, withDetail(ErrCompanionIDMissing, "transaction %d", info.ID)
	}

	switch info.Type {
	case models.TxCreateOrg, models.TxCreateProject:
		wallet, err := d.wallets.ConfirmWallet(ctx, ledger, info, signedTx)
		if err != nil {
			return settlement{}, err
		}
		return settlement{hash: *wallet.Hash}, nil

	case models.TxMint:
		deposit, err := d.deposits.ConfirmMint(ctx, ledger, info, signedTx)
		if err != nil {
			return settlement{}, err
		}
		return settlement{hash: *deposit.TxHash, deposit: deposit}, nil

	case models.TxBurnApproval:
		withdraw, err := d.withdraws.ConfirmApproval(ctx, ledger, info, signedTx)
		if err != nil {
			return settlement{}, err
		}
		return settlement{hash: *withdraw.ApprovedTxHash}, nil

	case models.TxBurn:
		withdraw, err := d.withdraws.Burn(ctx, ledger, info, signedTx)
		if err != nil {
			return settlement{}, err
		}
		return settlement{hash: *withdraw.BurnedTxHash, withdraw: withdraw}, nil

	case models.TxInvestAllowance:
		hash, err := d.investments.ConfirmAllowance(ctx, signedTx)
		if err != nil {
			return settlement{}, err
		}
		return settlement{hash: hash}, nil

	case models.TxInvest:
		investment, err := d.investments.ConfirmInvest(ctx, ledger, info, signedTx)
		if err != nil {
			return settlement{}, err
		}
		return settlement{hash: investment.TxHash}, nil
	}

	return settlement{}, withDetail(ErrUnknownTransactionType, "%q", info.Type)
}

// notify tells the user about a settled deposit or withdraw. The settlement is
// already committed, so a failed notification is only logged.
func (d *TransactionDispatcher) notify(ctx context.Context, settled settlement) {
	var err error
	switch {
	case settled.deposit != nil:
		err = d.notifier.DepositMinted(ctx, settled.deposit)
	case settled.withdraw != nil:
		err = d.notifier.WithdrawBurned(ctx, settled.withdraw)
	}
	if err != nil {
		d.log.WithError(err).WithField("tx_hash", settled.hash).Error("failed to send settlement notification")
	}
}

func (d *TransactionDispatcher) recordFailure(descriptorID int64, txType models.TransactionType, err error) {
	label := string(txType)
	if label == "" {
		label = "unknown"
	}
	metrics.Broadcast(label, string(CodeOf(err)))

	entry := d.log.WithError(err).WithFields(logrus.Fields{"tx_id": descriptorID, "type": label})
	if KindOf(err) == KindGatewayFailure || KindOf(err) == KindInternal {
		entry.Error("transaction broadcast failed")
		return
	}
	entry.Warn("transaction broadcast rejected")
}
