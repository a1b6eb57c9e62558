package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rongwang/fundchain-server/internal/gateway"
	"github.com/rongwang/fundchain-server/internal/models"
	"github.com/rongwang/fundchain-server/internal/repository"
	"github.com/sirupsen/logrus"
)

// WalletCreation issues and confirms the transactions that create organization
// and project wallets on chain
type WalletCreation struct {
	repo     repository.Repository
	gateway  gateway.Gateway
	log      logrus.FieldLogger
	now      func() time.Time
	currency string
}

func NewWalletCreation(repo repository.Repository, gw gateway.Gateway, log logrus.FieldLogger, now func() time.Time, orgCurrency string) *WalletCreation {
	return &WalletCreation{repo: repo, gateway: gw, log: log, now: now, currency: orgCurrency}
}

// GenerateOrgWalletTx builds the unsigned wallet creation for an organization
func (c *WalletCreation) GenerateOrgWalletTx(ctx context.Context, requesterID string, orgID int64) (*PendingTransaction, error) {
	var pending *PendingTransaction
	err := c.repo.WithinTx(ctx, func(ledger repository.Ledger) error {
		org, err := findOrganization(ctx, ledger, orgID)
		if err != nil {
			return err
		}
		if err := ensureNoWallet(ctx, ledger, ownerRef(org.ID), models.WalletOrg); err != nil {
			return err
		}

		tx, err := c.gateway.GenerateOrgWalletTx(ctx, org.ID)
		if err != nil {
			return gatewayFailure("generate organization wallet", err)
		}

		companionID := org.ID
		info := &models.TransactionInfo{
			Type:        models.TxCreateOrg,
			Title:       "Create wallet for " + org.Name,
			Description: fmt.Sprintf("Wallet creation for organization %d", org.ID),
			UserID:      requesterID,
			CompanionID: &companionID,
			CreatedAt:   c.now().UTC(),
		}
		pending, err = createDescriptor(ctx, ledger, info, tx)
		return err
	})
	if err != nil {
		return nil, err
	}

	pending.logCreated(c.log)
	return pending, nil
}

// GenerateProjectWalletTx builds the unsigned wallet creation for a project
func (c *WalletCreation) GenerateProjectWalletTx(ctx context.Context, requesterID string, projectID int64) (*PendingTransaction, error) {
	var pending *PendingTransaction
	err := c.repo.WithinTx(ctx, func(ledger repository.Ledger) error {
		project, err := findProject(ctx, ledger, projectID)
		if err != nil {
			return err
		}
		if err := ensureNoWallet(ctx, ledger, ownerRef(project.ID), models.WalletProject); err != nil {
			return err
		}

		tx, err := c.gateway.GenerateProjectWalletTx(ctx, project.ID)
		if err != nil {
			return gatewayFailure("generate project wallet", err)
		}

		companionID := project.ID
		info := &models.TransactionInfo{
			Type:        models.TxCreateProject,
			Title:       "Create wallet for " + project.Name,
			Description: fmt.Sprintf("Wallet creation for project %d", project.ID),
			UserID:      requesterID,
			CompanionID: &companionID,
			CreatedAt:   c.now().UTC(),
		}
		pending, err = createDescriptor(ctx, ledger, info, tx)
		return err
	})
	if err != nil {
		return nil, err
	}

	pending.logCreated(c.log)
	return pending, nil
}

// ConfirmWallet posts a signed wallet creation and stores the resulting wallet.
// A wallet row left without a hash is completed instead of duplicated. It runs
// inside the caller's unit of work.
func (c *WalletCreation) ConfirmWallet(ctx context.Context, ledger repository.Ledger, info *models.TransactionInfo, signedTx string) (*models.Wallet, error) {
	var (
		walletType models.WalletType
		currency   string
	)
	switch info.Type {
	case models.TxCreateOrg:
		if _, err := findOrganization(ctx, ledger, *info.CompanionID); err != nil {
			return nil, err
		}
		walletType, currency = models.WalletOrg, c.currency
	case models.TxCreateProject:
		project, err := findProject(ctx, ledger, *info.CompanionID)
		if err != nil {
			return nil, err
		}
		walletType, currency = models.WalletProject, project.Currency
	default:
		return nil, withDetail(ErrUnknownTransactionType, "%s is not a wallet creation", info.Type)
	}

	owner := ownerRef(*info.CompanionID)
	wallet, err := ledger.FindWalletByOwner(ctx, owner, walletType)
	switch {
	case err == nil && wallet.Hash != nil:
		return nil, withDetail(ErrWalletExists, "%s wallet of %s", walletType, owner)
	case err != nil && !errors.Is(err, repository.ErrNotFound):
		return nil, fmt.Errorf("error finding wallet: %w", err)
	}

	hash, err := c.gateway.PostTransaction(ctx, signedTx, info.Type)
	if err != nil {
		return nil, gatewayFailure("post wallet creation", err)
	}

	if wallet != nil {
		wallet.Hash = &hash
		if err := ledger.UpdateWallet(ctx, wallet); err != nil {
			return nil, fmt.Errorf("error updating wallet: %w", err)
		}
		return wallet, nil
	}

	wallet = &models.Wallet{
		OwnerRef:  owner,
		Currency:  currency,
		Hash:      &hash,
		Type:      walletType,
		CreatedAt: c.now().UTC(),
	}
	if err := ledger.CreateWallet(ctx, wallet); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, withDetail(ErrWalletExists, "%s wallet of %s", walletType, owner)
		}
		return nil, fmt.Errorf("error creating wallet: %w", err)
	}
	return wallet, nil
}

func ownerRef(id int64) string {
	return strconv.FormatInt(id, 10)
}

func ensureNoWallet(ctx context.Context, ledger repository.Ledger, owner string, walletType models.WalletType) error {
	wallet, err := ledger.FindWalletByOwner(ctx, owner, walletType)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return nil
	case err != nil:
		return fmt.Errorf("error finding wallet: %w", err)
	case wallet.Hash != nil:
		return withDetail(ErrWalletExists, "%s wallet of %s", walletType, owner)
	}
	return nil
}

// findUserWallet returns the confirmed wallet of a user
func findUserWallet(ctx context.Context, ledger repository.Ledger, userID string) (*models.Wallet, error) {
	return findConfirmedWallet(ctx, ledger, userID, models.WalletUser)
}

func findConfirmedWallet(ctx context.Context, ledger repository.Ledger, owner string, walletType models.WalletType) (*models.Wallet, error) {
	wallet, err := ledger.FindWalletByOwner(ctx, owner, walletType)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, withDetail(ErrWalletMissing, "%s %s has no wallet", walletType, owner)
	}
	if err != nil {
		return nil, fmt.Errorf("error finding wallet: %w", err)
	}
	if wallet.Hash == nil {
		return nil, withDetail(ErrWalletMissing, "wallet of %s %s is not confirmed", walletType, owner)
	}
	return wallet, nil
}

func findOrganization(ctx context.Context, ledger repository.Ledger, id int64) (*models.Organization, error) {
	org, err := ledger.FindOrganization(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, withDetail(ErrOrganizationMissing, "organization %d", id)
	}
	if err != nil {
		return nil, fmt.Errorf("error finding organization: %w", err)
	}
	return org, nil
}

func findProject(ctx context.Context, ledger repository.Ledger, id int64) (*models.Project, error) {
	project, err := ledger.FindProject(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, withDetail(ErrProjectMissing, "project %d", id)
	}
	if err != nil {
		return nil, fmt.Errorf("error finding project: %w", err)
	}
	return project, nil
}
