package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/mr-tron/base58"
	"github.com/rongwang/fundchain-server/internal/gateway"
	"github.com/rongwang/fundchain-server/internal/models"
	"github.com/rongwang/fundchain-server/internal/repository"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	referenceLength = 8
	// a reference collision regenerates the code and reruns the whole unit of work
	maxReferenceAttempts = 3
)

// NewDepositReference returns a random 8 character base58 code staff use to match
// an incoming fiat transfer with its deposit
func NewDepositReference() (string, error) {
	buf := make([]byte, referenceLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("error reading random bytes: %w", err)
	}
	return base58.Encode(buf)[:referenceLength], nil
}

// DepositLifecycle moves a deposit from Requested through Approved to Minted
type DepositLifecycle struct {
	repo      repository.Repository
	gateway   gateway.Gateway
	log       logrus.FieldLogger
	now       func() time.Time
	reference func() (string, error)
}

func NewDepositLifecycle(repo repository.Repository, gw gateway.Gateway, log logrus.FieldLogger, now func() time.Time) *DepositLifecycle {
	return &DepositLifecycle{
		repo:      repo,
		gateway:   gw,
		log:       log,
		now:       now,
		reference: NewDepositReference,
	}
}

// Create opens a deposit for userID. The amount the user announces is only checked
// here; the deposit amount is fixed by staff on approval.
func (d *DepositLifecycle) Create(ctx context.Context, userID string, amount decimal.Decimal) (*models.Deposit, error) {
	if amount.IsNegative() {
		return nil, withDetail(ErrInvalidAmount, "amount must not be negative")
	}

	var deposit *models.Deposit
	for attempt := 1; ; attempt++ {
		reference, err := d.reference()
		if err != nil {
			return nil, err
		}

		err = d.repo.WithinTx(ctx, func(ledger repository.Ledger) error {
			if _, err := findUserWallet(ctx, ledger, userID); err != nil {
				return err
			}

			_, err := ledger.FindPendingDeposit(ctx, userID)
			switch {
			case err == nil:
				return withDetail(ErrDuplicatePendingDeposit, "user %s has a deposit that is not minted yet", userID)
			case !errors.Is(err, repository.ErrNotFound):
				return fmt.Errorf("error checking pending deposits: %w", err)
			}

			deposit = &models.Deposit{
				UserID:    userID,
				Reference: reference,
				CreatedAt: d.now().UTC(),
			}
			if err := ledger.CreateDeposit(ctx, deposit); err != nil {
				if repository.IsConstraint(err, repository.ConstraintDepositPending) {
					return withDetail(ErrDuplicatePendingDeposit, "user %s has a deposit that is not minted yet", userID)
				}
				return fmt.Errorf("error creating deposit: %w", err)
			}
			return nil
		})

		if repository.IsConstraint(err, repository.ConstraintDepositReference) && attempt < maxReferenceAttempts {
			d.log.WithField("attempt", attempt).Warn("deposit reference collision, regenerating")
			continue
		}
		if err != nil {
			return nil, err
		}
		break
	}

	d.log.WithFields(logrus.Fields{
		"deposit_id":       deposit.ID,
		"user_id":          userID,
		"reference":        deposit.Reference,
		"requested_amount": amount.String(),
	}).Info("deposit created")
	return deposit, nil
}

// Approve records the amount staff received for the deposit. All approval fields
// are written together and only once.
func (d *DepositLifecycle) Approve(ctx context.Context, id int64, approverID string, amount decimal.Decimal, document string) (*models.Deposit, error) {
	if !amount.IsPositive() {
		return nil, withDetail(ErrInvalidAmount, "approved amount must be positive")
	}
	if document == "" {
		return nil, withDetail(ErrInvalidRequest, "approval document is required")
	}

	var deposit *models.Deposit
	err := d.repo.WithinTx(ctx, func(ledger repository.Ledger) error {
		var err error
		deposit, err = findDeposit(ctx, ledger, id)
		if err != nil {
			return err
		}
		if deposit.Minted() {
			return withDetail(ErrAlreadyMinted, "deposit %d", id)
		}
		if deposit.Approved {
			return withDetail(ErrAlreadyApproved, "deposit %d", id)
		}

		approvedAt := d.now().UTC()
		deposit.Approved = true
		deposit.Amount = decimal.NewNullDecimal(amount)
		deposit.ApprovedBy = &approverID
		deposit.ApprovedAt = &approvedAt
		deposit.DocumentRef = &document

		if err := ledger.UpdateDeposit(ctx, deposit); err != nil {
			return fmt.Errorf("error approving deposit: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	d.log.WithFields(logrus.Fields{
		"deposit_id":  id,
		"approved_by": approverID,
		"amount":      amount.String(),
	}).Info("deposit approved")
	return deposit, nil
}

// GenerateMintTransaction builds the unsigned mint for an approved deposit and
// records the descriptor its signed form must be broadcast against
func (d *DepositLifecycle) GenerateMintTransaction(ctx context.Context, id int64, requesterID string) (*PendingTransaction, error) {
	var pending *PendingTransaction
	err := d.repo.WithinTx(ctx, func(ledger repository.Ledger) error {
		deposit, err := findDeposit(ctx, ledger, id)
		if err != nil {
			return err
		}
		if deposit.Minted() {
			return withDetail(ErrAlreadyMinted, "deposit %d", id)
		}
		if !deposit.Approved {
			return withDetail(ErrNotApproved, "deposit %d", id)
		}

		wallet, err := findUserWallet(ctx, ledger, deposit.UserID)
		if err != nil {
			return err
		}

		tx, err := d.gateway.GenerateMintTx(ctx, *wallet.Hash, deposit.Amount.Decimal)
		if err != nil {
			return gatewayFailure("generate mint", err)
		}

		companionID := deposit.ID
		info := &models.TransactionInfo{
			Type:        models.TxMint,
			Title:       "Mint deposit " + deposit.Reference,
			Description: fmt.Sprintf("Mint %s for deposit %d of user %s", deposit.Amount.Decimal, deposit.ID, deposit.UserID),
			UserID:      requesterID,
			CompanionID: &companionID,
			Amount:      deposit.Amount,
			CreatedAt:   d.now().UTC(),
		}
		pending, err = createDescriptor(ctx, ledger, info, tx)
		return err
	})
	if err != nil {
		return nil, err
	}

	pending.logCreated(d.log)
	return pending, nil
}

// ConfirmMint posts the signed mint and marks the deposit minted. It runs inside
// the caller's unit of work.
func (d *DepositLifecycle) ConfirmMint(ctx context.Context, ledger repository.Ledger, info *models.TransactionInfo, signedTx string) (*models.Deposit, error) {
	deposit, err := findDeposit(ctx, ledger, *info.CompanionID)
	if err != nil {
		return nil, err
	}
	if deposit.Minted() {
		return nil, withDetail(ErrAlreadyMinted, "deposit %d", deposit.ID)
	}
	if !deposit.Approved {
		return nil, withDetail(ErrNotApproved, "deposit %d", deposit.ID)
	}

	hash, err := d.gateway.PostTransaction(ctx, signedTx, models.TxMint)
	if err != nil {
		return nil, gatewayFailure("post mint", err)
	}

	deposit.TxHash = &hash
	if err := ledger.UpdateDeposit(ctx, deposit); err != nil {
		return nil, fmt.Errorf("error marking deposit minted: %w", err)
	}
	return deposit, nil
}

// Delete cancels a deposit that has not been minted
func (d *DepositLifecycle) Delete(ctx context.Context, id int64, actor Actor) error {
	err := d.repo.WithinTx(ctx, func(ledger repository.Ledger) error {
		deposit, err := findDeposit(ctx, ledger, id)
		if err != nil {
			return err
		}
		if !actor.canAccess(deposit.UserID) {
			return withDetail(ErrNotOwner, "deposit %d", id)
		}
		if deposit.Minted() {
			return withDetail(ErrCannotDeleteMinted, "deposit %d", id)
		}
		if err := dropDescriptor(ctx, ledger, models.TxMint, id); err != nil {
			return err
		}
		if err := ledger.DeleteDeposit(ctx, id); err != nil {
			return fmt.Errorf("error deleting deposit: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	d.log.WithFields(logrus.Fields{"deposit_id": id, "deleted_by": actor.UserID}).Info("deposit deleted")
	return nil
}

// Get returns a deposit visible to actor
func (d *DepositLifecycle) Get(ctx context.Context, id int64, actor Actor) (*models.Deposit, error) {
	var deposit *models.Deposit
	err := d.repo.WithinTx(ctx, func(ledger repository.Ledger) error {
		var err error
		deposit, err = findDeposit(ctx, ledger, id)
		if err != nil {
			return err
		}
		if !actor.canAccess(deposit.UserID) {
			return withDetail(ErrNotOwner, "deposit %d", id)
		}
		return nil
	})
	return deposit, err
}

// ListByUser returns every deposit of userID, oldest first
func (d *DepositLifecycle) ListByUser(ctx context.Context, userID string) ([]models.Deposit, error) {
	var deposits []models.Deposit
	err := d.repo.WithinTx(ctx, func(ledger repository.Ledger) error {
		var err error
		deposits, err = ledger.ListDepositsByUser(ctx, userID)
		if err != nil {
			return fmt.Errorf("error listing deposits: %w", err)
		}
		return nil
	})
	return deposits, err
}

// Pending returns the deposit of userID that is not minted yet
func (d *DepositLifecycle) Pending(ctx context.Context, userID string) (*models.Deposit, error) {
	var deposit *models.Deposit
	err := d.repo.WithinTx(ctx, func(ledger repository.Ledger) error {
		var err error
		deposit, err = ledger.FindPendingDeposit(ctx, userID)
		if errors.Is(err, repository.ErrNotFound) {
			return withDetail(ErrNotFound, "user %s has no pending deposit", userID)
		}
		if err != nil {
			return fmt.Errorf("error finding pending deposit: %w", err)
		}
		return nil
	})
	return deposit, err
}

func findDeposit(ctx context.Context, ledger repository.Ledger, id int64) (*models.Deposit, error) {
	deposit, err := ledger.FindDeposit(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, withDetail(ErrNotFound, "deposit %d", id)
	}
	if err != nil {
		return nil, fmt.Errorf("error finding deposit: %w", err)
	}
	return deposit, nil
}
