package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rongwang/fundchain-server/internal/gateway"
	"github.com/rongwang/fundchain-server/internal/models"
	"github.com/rongwang/fundchain-server/internal/repository"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// WithdrawLifecycle moves a withdraw from Requested through ApprovalSigned to Burned
type WithdrawLifecycle struct {
	repo    repository.Repository
	gateway gateway.Gateway
	log     logrus.FieldLogger
	now     func() time.Time
}

func NewWithdrawLifecycle(repo repository.Repository, gw gateway.Gateway, log logrus.FieldLogger, now func() time.Time) *WithdrawLifecycle {
	return &WithdrawLifecycle{repo: repo, gateway: gw, log: log, now: now}
}

// Create opens a withdraw of amount for userID
func (w *WithdrawLifecycle) Create(ctx context.Context, userID string, amount decimal.Decimal) (*models.Withdraw, error) {
	if !amount.IsPositive() {
		return nil, withDetail(ErrInvalidAmount, "amount must be positive")
	}

	var withdraw *models.Withdraw
	err := w.repo.WithinTx(ctx, func(ledger repository.Ledger) error {
		if _, err := findUserWallet(ctx, ledger, userID); err != nil {
			return err
		}

		_, err := ledger.FindPendingWithdraw(ctx, userID)
		switch {
		case err == nil:
			return withDetail(ErrDuplicatePendingWithdraw, "user %s has a withdraw that is not burned yet", userID)
		case !errors.Is(err, repository.ErrNotFound):
			return fmt.Errorf("error checking pending withdraws: %w", err)
		}

		withdraw = &models.Withdraw{
			UserID:    userID,
			Amount:    amount,
			CreatedAt: w.now().UTC(),
		}
		if err := ledger.CreateWithdraw(ctx, withdraw); err != nil {
			if repository.IsConstraint(err, repository.ConstraintWithdrawPending) {
				return withDetail(ErrDuplicatePendingWithdraw, "user %s has a withdraw that is not burned yet", userID)
			}
			return fmt.Errorf("error creating withdraw: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	w.log.WithFields(logrus.Fields{
		"withdraw_id": withdraw.ID,
		"user_id":     userID,
		"amount":      amount.String(),
	}).Info("withdraw created")
	return withdraw, nil
}

// GenerateApprovalTransaction builds the unsigned transaction that reserves the
// owner's tokens for burning. Only the owner may ask for it.
func (w *WithdrawLifecycle) GenerateApprovalTransaction(ctx context.Context, id int64, requesterID string) (*PendingTransaction, error) {
	var pending *PendingTransaction
	err := w.repo.WithinTx(ctx, func(ledger repository.Ledger) error {
		withdraw, err := findWithdraw(ctx, ledger, id)
		if err != nil {
			return err
		}
		if withdraw.UserID != requesterID {
			return withDetail(ErrNotOwner, "withdraw %d", id)
		}
		if withdraw.ApprovalSigned() {
			return withDetail(ErrAlreadyApproved, "withdraw %d", id)
		}

		wallet, err := findUserWallet(ctx, ledger, withdraw.UserID)
		if err != nil {
			return err
		}

		tx, err := w.gateway.GenerateBurnApprovalTx(ctx, *wallet.Hash, withdraw.Amount)
		if err != nil {
			return gatewayFailure("generate burn approval", err)
		}

		companionID := withdraw.ID
		info := &models.TransactionInfo{
			Type:        models.TxBurnApproval,
			Title:       fmt.Sprintf("Approve withdraw %d", withdraw.ID),
			Description: fmt.Sprintf("Reserve %s for withdraw %d", withdraw.Amount, withdraw.ID),
			UserID:      requesterID,
			CompanionID: &companionID,
			Amount:      decimal.NewNullDecimal(withdraw.Amount),
			CreatedAt:   w.now().UTC(),
		}
		pending, err = createDescriptor(ctx, ledger, info, tx)
		return err
	})
	if err != nil {
		return nil, err
	}

	pending.logCreated(w.log)
	return pending, nil
}

// ConfirmApproval posts the signed approval and records its hash. It runs inside
// the caller's unit of work.
func (w *WithdrawLifecycle) ConfirmApproval(ctx context.Context, ledger repository.Ledger, info *models.TransactionInfo, signedTx string) (*models.Withdraw, error) {
	withdraw, err := findWithdraw(ctx, ledger, *info.CompanionID)
	if err != nil {
		return nil, err
	}
	if withdraw.ApprovalSigned() {
		return nil, withDetail(ErrAlreadyApproved, "withdraw %d", withdraw.ID)
	}

	hash, err := w.gateway.PostTransaction(ctx, signedTx, models.TxBurnApproval)
	if err != nil {
		return nil, gatewayFailure("post burn approval", err)
	}

	approvedAt := w.now().UTC()
	withdraw.ApprovedTxHash = &hash
	withdraw.ApprovedAt = &approvedAt
	if err := ledger.UpdateWithdraw(ctx, withdraw); err != nil {
		return nil, fmt.Errorf("error recording withdraw approval: %w", err)
	}
	return withdraw, nil
}

// GenerateBurnTransaction builds the unsigned burn of the reserved tokens
func (w *WithdrawLifecycle) GenerateBurnTransaction(ctx context.Context, id int64, approverID string) (*PendingTransaction, error) {
	var pending *PendingTransaction
	err := w.repo.WithinTx(ctx, func(ledger repository.Ledger) error {
		withdraw, err := findWithdraw(ctx, ledger, id)
		if err != nil {
			return err
		}
		if !withdraw.ApprovalSigned() {
			return withDetail(ErrNotApprovedYet, "withdraw %d", id)
		}
		if withdraw.Burned() {
			return withDetail(ErrAlreadyBurned, "withdraw %d", id)
		}

		tx, err := w.gateway.GenerateBurnTx(ctx, *withdraw.ApprovedTxHash, withdraw.Amount)
		if err != nil {
			return gatewayFailure("generate burn", err)
		}

		companionID := withdraw.ID
		info := &models.TransactionInfo{
			Type:        models.TxBurn,
			Title:       fmt.Sprintf("Burn withdraw %d", withdraw.ID),
			Description: fmt.Sprintf("Burn %s reserved by %s", withdraw.Amount, *withdraw.ApprovedTxHash),
			UserID:      approverID,
			CompanionID: &companionID,
			Amount:      decimal.NewNullDecimal(withdraw.Amount),
			CreatedAt:   w.now().UTC(),
		}
		pending, err = createDescriptor(ctx, ledger, info, tx)
		return err
	})
	if err != nil {
		return nil, err
	}

	pending.logCreated(w.log)
	return pending, nil
}

// Burn posts the signed burn and closes the withdraw. It runs inside the caller's
// unit of work; the descriptor's signer is recorded as the burner.
func (w *WithdrawLifecycle) Burn(ctx context.Context, ledger repository.Ledger, info *models.TransactionInfo, signedTx string) (*models.Withdraw, error) {
	withdraw, err := findWithdraw(ctx, ledger, *info.CompanionID)
	if err != nil {
		return nil, err
	}
	if !withdraw.ApprovalSigned() {
		return nil, withDetail(ErrNotApprovedYet, "withdraw %d", withdraw.ID)
	}
	if withdraw.Burned() {
		return nil, withDetail(ErrAlreadyBurned, "withdraw %d", withdraw.ID)
	}

	hash, err := w.gateway.PostTransaction(ctx, signedTx, models.TxBurn)
	if err != nil {
		return nil, gatewayFailure("post burn", err)
	}

	burnedAt := w.now().UTC()
	burnedBy := info.UserID
	withdraw.BurnedTxHash = &hash
	withdraw.BurnedBy = &burnedBy
	withdraw.BurnedAt = &burnedAt
	if err := ledger.UpdateWithdraw(ctx, withdraw); err != nil {
		return nil, fmt.Errorf("error recording withdraw burn: %w", err)
	}
	return withdraw, nil
}

// Delete cancels a withdraw whose approval has not been signed
func (w *WithdrawLifecycle) Delete(ctx context.Context, id int64, actor Actor) error {
	err := w.repo.WithinTx(ctx, func(ledger repository.Ledger) error {
		withdraw, err := findWithdraw(ctx, ledger, id)
		if err != nil {
			return err
		}
		if !actor.canAccess(withdraw.UserID) {
			return withDetail(ErrNotOwner, "withdraw %d", id)
		}
		if withdraw.ApprovalSigned() {
			return withDetail(ErrCannotDeleteApproved, "withdraw %d", id)
		}
		if err := dropDescriptor(ctx, ledger, models.TxBurnApproval, id); err != nil {
			return err
		}
		if err := ledger.DeleteWithdraw(ctx, id); err != nil {
			return fmt.Errorf("error deleting withdraw: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	w.log.WithFields(logrus.Fields{"withdraw_id": id, "deleted_by": actor.UserID}).Info("withdraw deleted")
	return nil
}

// Get returns a withdraw visible to actor
func (w *WithdrawLifecycle) Get(ctx context.Context, id int64, actor Actor) (*models.Withdraw, error) {
	var withdraw *models.Withdraw
	err := w.repo.WithinTx(ctx, func(ledger repository.Ledger) error {
		var err error
		withdraw, err = findWithdraw(ctx, ledger, id)
		if err != nil {
			return err
		}
		if !actor.canAccess(withdraw.UserID) {
			return withDetail(ErrNotOwner, "withdraw %d", id)
		}
		return nil
	})
	return withdraw, err
}

// ListByUser returns every withdraw of userID, oldest first
func (w *WithdrawLifecycle) ListByUser(ctx context.Context, userID string) ([]models.Withdraw, error) {
	var withdraws []models.Withdraw
	err := w.repo.WithinTx(ctx, func(ledger repository.Ledger) error {
		var err error
		withdraws, err = ledger.ListWithdrawsByUser(ctx, userID)
		if err != nil {
			return fmt.Errorf("error listing withdraws: %w", err)
		}
		return nil
	})
	return withdraws, err
}

func findWithdraw(ctx context.Context, ledger repository.Ledger, id int64) (*models.Withdraw, error) {
	withdraw, err := ledger.FindWithdraw(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, withDetail(ErrNotFound, "withdraw %d", id)
	}
	if err != nil {
		return nil, fmt.Errorf("error finding withdraw: %w", err)
	}
	return withdraw, nil
}
