package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rongwang/fundchain-server/internal/gateway"
	"github.com/rongwang/fundchain-server/internal/models"
	"github.com/rongwang/fundchain-server/internal/repository"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Investments issues the two step allowance / invest transactions for a project
// and records confirmed investments
type Investments struct {
	repo      repository.Repository
	gateway   gateway.Gateway
	validator *InvestmentValidator
	log       logrus.FieldLogger
	now       func() time.Time
	// revalidate reruns the validator when the INVEST transaction is broadcast
	revalidate bool
}

func NewInvestments(repo repository.Repository, gw gateway.Gateway, validator *InvestmentValidator, log logrus.FieldLogger, now func() time.Time, revalidate bool) *Investments {
	return &Investments{
		repo:       repo,
		gateway:    gw,
		validator:  validator,
		log:        log,
		now:        now,
		revalidate: revalidate,
	}
}

// investmentParties holds what both investment steps need to build a transaction
type investmentParties struct {
	project        *models.Project
	projectWallet  *models.Wallet
	investorWallet *models.Wallet
}

func (i *Investments) prepare(ctx context.Context, ledger repository.Ledger, investorID string, projectID int64, amount decimal.Decimal, currency string) (*investmentParties, error) {
	project, err := findProject(ctx, ledger, projectID)
	if err != nil {
		return nil, err
	}
	investorWallet, err := findUserWallet(ctx, ledger, investorID)
	if err != nil {
		return nil, err
	}
	projectWallet, err := findConfirmedWallet(ctx, ledger, ownerRef(project.ID), models.WalletProject)
	if err != nil {
		return nil, err
	}

	verdict, err := i.validator.Validate(ctx, ledger, InvestmentRequest{
		Project:            project,
		InvestorID:         investorID,
		InvestorWalletHash: *investorWallet.Hash,
		Amount:             amount,
		Currency:           currency,
	})
	if err != nil {
		return nil, err
	}
	if err := verdict.Err(); err != nil {
		return nil, err
	}

	return &investmentParties{
		project:        project,
		projectWallet:  projectWallet,
		investorWallet: investorWallet,
	}, nil
}

// GenerateAllowanceTx validates the investment and builds the unsigned allowance
// letting the project spend amount from the investor's wallet
func (i *Investments) GenerateAllowanceTx(ctx context.Context, investorID string, projectID int64, amount decimal.Decimal, currency string) (*PendingTransaction, error) {
	return i.generate(ctx, models.TxInvestAllowance, investorID, projectID, amount, currency)
}

// GenerateInvestTx validates the investment and builds the unsigned transfer
// executing a previously granted allowance
func (i *Investments) GenerateInvestTx(ctx context.Context, investorID string, projectID int64, amount decimal.Decimal, currency string) (*PendingTransaction, error) {
	return i.generate(ctx, models.TxInvest, investorID, projectID, amount, currency)
}

func (i *Investments) generate(ctx context.Context, txType models.TransactionType, investorID string, projectID int64, amount decimal.Decimal, currency string) (*PendingTransaction, error) {
	var pending *PendingTransaction
	err := i.repo.WithinTx(ctx, func(ledger repository.Ledger) error {
		parties, err := i.prepare(ctx, ledger, investorID, projectID, amount, currency)
		if err != nil {
			return err
		}

		var (
			tx    gateway.UnsignedTx
			title string
		)
		if txType == models.TxInvestAllowance {
			tx, err = i.gateway.GenerateInvestAllowanceTx(ctx, *parties.projectWallet.Hash, amount)
			title = "Allow investment in " + parties.project.Name
		} else {
			tx, err = i.gateway.GenerateInvestConfirmTx(ctx, *parties.projectWallet.Hash, *parties.investorWallet.Hash, amount)
			title = "Invest in " + parties.project.Name
		}
		if err != nil {
			return gatewayFailure("generate "+string(txType), err)
		}

		pid := parties.project.ID
		info := &models.TransactionInfo{
			Type:        txType,
			Title:       title,
			Description: fmt.Sprintf("%s %s into project %d", amount, parties.project.Currency, pid),
			UserID:      investorID,
			ProjectID:   &pid,
			Amount:      decimal.NewNullDecimal(amount),
			CreatedAt:   i.now().UTC(),
		}
		pending, err = createDescriptor(ctx, ledger, info, tx)
		return err
	})
	if err != nil {
		return nil, err
	}

	pending.logCreated(i.log)
	return pending, nil
}

// ConfirmAllowance posts a signed allowance. Nothing is recorded locally.
func (i *Investments) ConfirmAllowance(ctx context.Context, signedTx string) (string, error) {
	hash, err := i.gateway.PostTransaction(ctx, signedTx, models.TxInvestAllowance)
	if err != nil {
		return "", gatewayFailure("post investment allowance", err)
	}
	return hash, nil
}

// ConfirmInvest posts a signed investment and records it so later validations
// count it against the caps. It runs inside the caller's unit of work.
func (i *Investments) ConfirmInvest(ctx context.Context, ledger repository.Ledger, info *models.TransactionInfo, signedTx string) (*models.Investment, error) {
	if info.ProjectID == nil || !info.Amount.Valid {
		return nil, withDetail(ErrInvalidRequest, "descriptor %d carries no investment", info.ID)
	}

	if i.revalidate {
		project, err := findProject(ctx, ledger, *info.ProjectID)
		if err != nil {
			return nil, err
		}
		if _, err := i.prepare(ctx, ledger, info.UserID, project.ID, info.Amount.Decimal, project.Currency); err != nil {
			return nil, err
		}
	}

	hash, err := i.gateway.PostTransaction(ctx, signedTx, models.TxInvest)
	if err != nil {
		return nil, gatewayFailure("post investment", err)
	}

	investment := &models.Investment{
		ProjectID:  *info.ProjectID,
		InvestorID: info.UserID,
		Amount:     info.Amount.Decimal,
		TxHash:     hash,
		CreatedAt:  i.now().UTC(),
	}
	if err := ledger.CreateInvestment(ctx, investment); err != nil {
		return nil, fmt.Errorf("error recording investment: %w", err)
	}
	return investment, nil
}
