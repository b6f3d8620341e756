package ledger

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Aidin1998/tickex/common/dbutil"
	"github.com/Aidin1998/tickex/pkg/errors"
	"github.com/Aidin1998/tickex/pkg/models"
	"github.com/Aidin1998/tickex/testutil"
)

func setupTestService(t *testing.T) (*Service, *gorm.DB) {
	db := testutil.NewDB(t)
	return NewService(zap.NewNop(), db), db
}

func TestCreateWallets(t *testing.T) {
	s, db := setupTestService(t)
	ctx := context.Background()
	user := testutil.User(t, db, "alice")
	inst := testutil.Instrument(t, db, "ACME")

	cash, err := s.CreateCashWallet(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WalletCash, cash.Kind)
	assert.Zero(t, cash.Reserve)

	_, err = s.CreateCashWallet(ctx, user.ID)
	assert.ErrorIs(t, err, errors.WalletExists)

	sec, err := s.CreateSecurityWallet(ctx, user.ID, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, inst.ID, sec.InstrumentID)

	_, err = s.CreateSecurityWallet(ctx, user.ID, inst.ID)
	assert.ErrorIs(t, err, errors.WalletExists)

	_, err = s.CreateCashWallet(ctx, 9999)
	assert.ErrorIs(t, err, errors.UserNotFound)
	_, err = s.CreateSecurityWallet(ctx, user.ID, 9999)
	assert.ErrorIs(t, err, errors.InstrumentMissing)
}

func TestDepositWithdrawAndHistory(t *testing.T) {
	s, db := setupTestService(t)
	ctx := context.Background()
	user := testutil.User(t, db, "bob")
	testutil.CashWallet(t, db, user.ID, 0)

	bal, err := s.Deposit(ctx, user.ID, Cash(), 1000, "wire")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), bal.Reserve)

	bal, err = s.Withdraw(ctx, user.ID, Cash(), 300, "atm")
	require.NoError(t, err)
	assert.Equal(t, int64(700), bal.Available)

	_, err = s.Withdraw(ctx, user.ID, Cash(), 701, "")
	assert.ErrorIs(t, err, errors.InsufficientFunds)
	_, err = s.Deposit(ctx, user.ID, Cash(), 0, "")
	assert.ErrorIs(t, err, errors.InvalidAmount)
	_, err = s.Deposit(ctx, user.ID, Security(42), 1, "")
	assert.ErrorIs(t, err, errors.SecurityNotFound)

	rows, total, err := s.History(ctx, user.ID, Cash(), dbutil.Page{Page: 1, PageSize: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, rows, 1)
	assert.Equal(t, models.HistoryWithdrawal, rows[0].Type)
	assert.Equal(t, int64(700), rows[0].Reserve)

	rows, _, err = s.History(ctx, user.ID, Cash(), dbutil.Page{Page: 2, PageSize: 1})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, models.HistoryDeposit, rows[0].Type)
}

func TestReserveReleaseRespectsAvailable(t *testing.T) {
	s, db := setupTestService(t)
	ctx := context.Background()
	user := testutil.User(t, db, "carol")
	testutil.CashWallet(t, db, user.ID, 1000)

	require.NoError(t, s.InTx(ctx, func(tx *gorm.DB) error {
		return s.Reserve(tx, user.ID, Cash(), 600, "order 1")
	}))
	err := s.InTx(ctx, func(tx *gorm.DB) error {
		return s.Reserve(tx, user.ID, Cash(), 401, "order 2")
	})
	assert.ErrorIs(t, err, errors.InsufficientFunds)

	bal, err := s.Balance(ctx, user.ID, Cash())
	require.NoError(t, err)
	assert.Equal(t, int64(600), bal.Hold)
	assert.Equal(t, int64(400), bal.Available)

	require.NoError(t, s.InTx(ctx, func(tx *gorm.DB) error {
		return s.Release(tx, user.ID, Cash(), 600, "order 1 cancelled")
	}))
	bal, err = s.Balance(ctx, user.ID, Cash())
	require.NoError(t, err)
	assert.Equal(t, int64(1000), bal.Available)
	assert.Zero(t, bal.Hold)

	// releasing more than is held breaks the ledger invariant
	err = s.InTx(ctx, func(tx *gorm.DB) error {
		return s.Release(tx, user.ID, Cash(), 1, "")
	})
	assert.ErrorIs(t, err, errors.Invariant)
}

func TestBlockedWalletRejectsReservation(t *testing.T) {
	s, db := setupTestService(t)
	ctx := context.Background()
	user := testutil.User(t, db, "dave")
	inst := testutil.Instrument(t, db, "ACME")
	testutil.SecurityWallet(t, db, user.ID, inst.ID, 10)

	bal, err := s.Block(ctx, user.ID, Security(inst.ID))
	require.NoError(t, err)
	assert.True(t, bal.Blocked)

	err = s.InTx(ctx, func(tx *gorm.DB) error {
		return s.Reserve(tx, user.ID, Security(inst.ID), 1, "")
	})
	assert.ErrorIs(t, err, errors.SecurityBlocked)
	_, err = s.Withdraw(ctx, user.ID, Security(inst.ID), 1, "")
	assert.ErrorIs(t, err, errors.SecurityBlocked)

	bal, err = s.Unblock(ctx, user.ID, Security(inst.ID))
	require.NoError(t, err)
	assert.False(t, bal.Blocked)

	rows, _, err := s.History(ctx, user.ID, Security(inst.ID), dbutil.Page{})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, models.HistoryAccountUnblocked, rows[0].Type)
	assert.Equal(t, models.HistoryAccountBlocked, rows[1].Type)
}

func TestPayAndReceiveSettleBothLegs(t *testing.T) {
	s, db := setupTestService(t)
	ctx := context.Background()
	buyer := testutil.User(t, db, "buyer")
	seller := testutil.User(t, db, "seller")
	inst := testutil.Instrument(t, db, "ACME")
	testutil.CashWallet(t, db, buyer.ID, 1_000_000)
	testutil.CashWallet(t, db, seller.ID, 0)
	testutil.SecurityWallet(t, db, seller.ID, inst.ID, 50)

	require.NoError(t, s.InTx(ctx, func(tx *gorm.DB) error {
		if err := s.Reserve(tx, buyer.ID, Cash(), 300_000, "buy"); err != nil {
			return err
		}
		return s.Reserve(tx, seller.ID, Security(inst.ID), 30, "sell")
	}))

	require.NoError(t, s.InTx(ctx, func(tx *gorm.DB) error {
		if err := s.Pay(tx, buyer.ID, Cash(), 300_000, "fill"); err != nil {
			return err
		}
		if err := s.Receive(tx, seller.ID, Cash(), 300_000, "fill"); err != nil {
			return err
		}
		if err := s.Pay(tx, seller.ID, Security(inst.ID), 30, "fill"); err != nil {
			return err
		}
		// buyer has no security wallet yet
		return s.Receive(tx, buyer.ID, Security(inst.ID), 30, "fill")
	}))

	b, err := s.Balance(ctx, buyer.ID, Cash())
	require.NoError(t, err)
	assert.Equal(t, Balance{WalletID: b.WalletID, Kind: models.WalletCash, UserID: buyer.ID, Reserve: 700_000, Available: 700_000}, *b)

	b, err = s.Balance(ctx, seller.ID, Cash())
	require.NoError(t, err)
	assert.Equal(t, int64(300_000), b.Available)

	b, err = s.Balance(ctx, seller.ID, Security(inst.ID))
	require.NoError(t, err)
	assert.Equal(t, int64(20), b.Reserve)
	assert.Zero(t, b.Hold)

	b, err = s.Balance(ctx, buyer.ID, Security(inst.ID))
	require.NoError(t, err)
	assert.Equal(t, int64(30), b.Reserve)

	rows, _, err := s.History(ctx, buyer.ID, Security(inst.ID), dbutil.Page{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, models.HistoryBuyOrderExecuted, rows[0].Type)
}

func TestFailedTransactionRollsBack(t *testing.T) {
	s, db := setupTestService(t)
	ctx := context.Background()
	user := testutil.User(t, db, "erin")
	testutil.CashWallet(t, db, user.ID, 100)

	err := s.InTx(ctx, func(tx *gorm.DB) error {
		if err := s.Reserve(tx, user.ID, Cash(), 50, ""); err != nil {
			return err
		}
		return s.Reserve(tx, user.ID, Cash(), 51, "")
	})
	assert.ErrorIs(t, err, errors.InsufficientFunds)

	bal, err := s.Balance(ctx, user.ID, Cash())
	require.NoError(t, err)
	assert.Zero(t, bal.Hold)

	var n int64
	require.NoError(t, db.Model(&models.WalletHistory{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestAbortedTransactionIsRetried(t *testing.T) {
	s, db := setupTestService(t)
	ctx := context.Background()
	user := testutil.User(t, db, "frank")
	testutil.CashWallet(t, db, user.ID, 100)

	calls := 0
	err := s.InTx(ctx, func(tx *gorm.DB) error {
		calls++
		if err := s.Reserve(tx, user.ID, Cash(), 30, ""); err != nil {
			return err
		}
		if calls == 1 {
			return fmt.Errorf("failed to reserve: %w", &pgconn.PgError{Code: dbutil.SerializationFailureErrorCode})
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	// the aborted attempt left nothing behind
	bal, err := s.Balance(ctx, user.ID, Cash())
	require.NoError(t, err)
	assert.Equal(t, int64(30), bal.Hold)

	calls = 0
	err = s.InTx(ctx, func(tx *gorm.DB) error {
		calls++
		return &pgconn.PgError{Code: dbutil.DeadlockDetectedErrorCode}
	})
	assert.True(t, dbutil.IsRetryable(err))
	assert.Equal(t, maxTxAttempts, calls)

	calls = 0
	err = s.InTx(ctx, func(tx *gorm.DB) error {
		calls++
		return errors.InsufficientFunds
	})
	assert.ErrorIs(t, err, errors.InsufficientFunds)
	assert.Equal(t, 1, calls)
}
