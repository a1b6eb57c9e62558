package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/rongwang/fundchain-server/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryWithinTxDiscardsFailedWork(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	failure := errors.New("abort")

	err := repo.WithinTx(ctx, func(ledger Ledger) error {
		if err := ledger.CreateDeposit(ctx, &models.Deposit{UserID: "user-1", Reference: "ref1"}); err != nil {
			return err
		}
		return failure
	})
	assert.ErrorIs(t, err, failure)

	require.NoError(t, repo.WithinTx(ctx, func(ledger Ledger) error {
		deposits, err := ledger.ListDepositsByUser(ctx, "user-1")
		require.NoError(t, err)
		assert.Empty(t, deposits)
		return nil
	}))
}

func TestMemoryUniqueRules(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	require.NoError(t, repo.WithinTx(ctx, func(ledger Ledger) error {
		return ledger.CreateDeposit(ctx, &models.Deposit{UserID: "user-1", Reference: "ref1"})
	}))

	err := repo.WithinTx(ctx, func(ledger Ledger) error {
		return ledger.CreateDeposit(ctx, &models.Deposit{UserID: "user-2", Reference: "ref1"})
	})
	assert.True(t, IsConstraint(err, ConstraintDepositReference))

	err = repo.WithinTx(ctx, func(ledger Ledger) error {
		return ledger.CreateDeposit(ctx, &models.Deposit{UserID: "user-1", Reference: "ref2"})
	})
	assert.True(t, IsConstraint(err, ConstraintDepositPending))
	assert.ErrorIs(t, err, ErrDuplicate)

	require.NoError(t, repo.WithinTx(ctx, func(ledger Ledger) error {
		return ledger.CreateWithdraw(ctx, &models.Withdraw{UserID: "user-1", Amount: decimal.NewFromInt(1)})
	}))
	err = repo.WithinTx(ctx, func(ledger Ledger) error {
		return ledger.CreateWithdraw(ctx, &models.Withdraw{UserID: "user-1", Amount: decimal.NewFromInt(2)})
	})
	assert.True(t, IsConstraint(err, ConstraintWithdrawPending))

	require.NoError(t, repo.WithinTx(ctx, func(ledger Ledger) error {
		return ledger.CreateWallet(ctx, &models.Wallet{OwnerRef: "1", Type: models.WalletOrg})
	}))
	err = repo.WithinTx(ctx, func(ledger Ledger) error {
		return ledger.CreateWallet(ctx, &models.Wallet{OwnerRef: "1", Type: models.WalletOrg})
	})
	assert.True(t, IsConstraint(err, ConstraintWalletOwner))

	assert.NoError(t, repo.WithinTx(ctx, func(ledger Ledger) error {
		return ledger.CreateWallet(ctx, &models.Wallet{OwnerRef: "1", Type: models.WalletProject})
	}))
}

func TestMemoryMintedDepositFreesPendingSlot(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	require.NoError(t, repo.WithinTx(ctx, func(ledger Ledger) error {
		deposit := &models.Deposit{UserID: "user-1", Reference: "ref1"}
		if err := ledger.CreateDeposit(ctx, deposit); err != nil {
			return err
		}
		hash := "0xmint"
		deposit.TxHash = &hash
		return ledger.UpdateDeposit(ctx, deposit)
	}))

	require.NoError(t, repo.WithinTx(ctx, func(ledger Ledger) error {
		_, err := ledger.FindPendingDeposit(ctx, "user-1")
		assert.ErrorIs(t, err, ErrNotFound)
		return ledger.CreateDeposit(ctx, &models.Deposit{UserID: "user-1", Reference: "ref2"})
	}))
}

func TestMemoryDeleteIsExactlyOnce(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	info := &models.TransactionInfo{Type: models.TxMint, UserID: "staff-1"}
	require.NoError(t, repo.WithinTx(ctx, func(ledger Ledger) error {
		return ledger.CreateTransactionInfo(ctx, info)
	}))
	assert.NotZero(t, info.ID)
	assert.False(t, info.CreatedAt.IsZero())

	require.NoError(t, repo.WithinTx(ctx, func(ledger Ledger) error {
		return ledger.DeleteTransactionInfo(ctx, info.ID)
	}))
	err := repo.WithinTx(ctx, func(ledger Ledger) error {
		return ledger.DeleteTransactionInfo(ctx, info.ID)
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryInvestmentSums(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	require.NoError(t, repo.WithinTx(ctx, func(ledger Ledger) error {
		for _, inv := range []models.Investment{
			{ProjectID: 1, InvestorID: "a", Amount: decimal.NewFromInt(100)},
			{ProjectID: 1, InvestorID: "b", Amount: decimal.NewFromInt(250)},
			{ProjectID: 1, InvestorID: "a", Amount: decimal.NewFromInt(50)},
			{ProjectID: 2, InvestorID: "a", Amount: decimal.NewFromInt(999)},
		} {
			inv := inv
			if err := ledger.CreateInvestment(ctx, &inv); err != nil {
				return err
			}
		}
		return nil
	}))

	require.NoError(t, repo.WithinTx(ctx, func(ledger Ledger) error {
		total, err := ledger.SumProjectInvestments(ctx, 1)
		require.NoError(t, err)
		assert.True(t, total.Equal(decimal.NewFromInt(400)))

		mine, err := ledger.SumInvestorInvestments(ctx, 1, "a")
		require.NoError(t, err)
		assert.True(t, mine.Equal(decimal.NewFromInt(150)))

		none, err := ledger.SumProjectInvestments(ctx, 3)
		require.NoError(t, err)
		assert.True(t, none.IsZero())
		return nil
	}))
}

func TestMemoryWithinTxHonoursCancelledContext(t *testing.T) {
	repo := NewMemoryRepository()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := repo.WithinTx(ctx, func(ledger Ledger) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryOneDescriptorPerCompanion(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	companionID := int64(5)

	mint := &models.TransactionInfo{Type: models.TxMint, UserID: "staff-1", CompanionID: &companionID}
	require.NoError(t, repo.WithinTx(ctx, func(ledger Ledger) error {
		return ledger.CreateTransactionInfo(ctx, mint)
	}))

	err := repo.WithinTx(ctx, func(ledger Ledger) error {
		return ledger.CreateTransactionInfo(ctx, &models.TransactionInfo{Type: models.TxMint, UserID: "staff-2", CompanionID: &companionID})
	})
	assert.True(t, IsConstraint(err, ConstraintDescriptorOnce))

	require.NoError(t, repo.WithinTx(ctx, func(ledger Ledger) error {
		found, err := ledger.FindTransactionInfoByCompanion(ctx, models.TxMint, companionID)
		require.NoError(t, err)
		assert.Equal(t, mint.ID, found.ID)

		_, err = ledger.FindTransactionInfoByCompanion(ctx, models.TxBurn, companionID)
		assert.ErrorIs(t, err, ErrNotFound)

		// other types and descriptors without a companion are unaffected
		if err := ledger.CreateTransactionInfo(ctx, &models.TransactionInfo{Type: models.TxBurn, UserID: "staff-1", CompanionID: &companionID}); err != nil {
			return err
		}
		for i := 0; i < 2; i++ {
			if err := ledger.CreateTransactionInfo(ctx, &models.TransactionInfo{Type: models.TxInvest, UserID: "user-1"}); err != nil {
				return err
			}
		}
		return nil
	}))

	require.NoError(t, repo.WithinTx(ctx, func(ledger Ledger) error {
		return ledger.DeleteTransactionInfo(ctx, mint.ID)
	}))
	assert.NoError(t, repo.WithinTx(ctx, func(ledger Ledger) error {
		return ledger.CreateTransactionInfo(ctx, &models.TransactionInfo{Type: models.TxMint, UserID: "staff-2", CompanionID: &companionID})
	}))
}
