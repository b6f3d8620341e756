// Concurrency tests for the ledger: parallel reservations against one wallet
// must never hold more than the wallet owns.

package ledger

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/Aidin1998/tickex/pkg/errors"
	"github.com/Aidin1998/tickex/testutil"
)

func TestConcurrentReserveNeverOverdraws(t *testing.T) {
	s, db := setupTestService(t)
	ctx := context.Background()
	user := testutil.User(t, db, "racer")
	testutil.CashWallet(t, db, user.ID, 1000)

	var ok, rejected int64
	wg := sync.WaitGroup{}
	n := 50
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.InTx(ctx, func(tx *gorm.DB) error {
				return s.Reserve(tx, user.ID, Cash(), 30, "race")
			})
			switch {
			case err == nil:
				atomic.AddInt64(&ok, 1)
			case errors.Is(err, errors.InsufficientFunds):
				atomic.AddInt64(&rejected, 1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(33), ok)
	assert.Equal(t, int64(n)-33, rejected)
	bal, err := s.Balance(ctx, user.ID, Cash())
	require.NoError(t, err)
	assert.Equal(t, int64(990), bal.Hold)
	assert.Equal(t, int64(10), bal.Available)
}

func TestConcurrentReserveReleaseBalances(t *testing.T) {
	s, db := setupTestService(t)
	ctx := context.Background()
	user := testutil.User(t, db, "cycler")
	testutil.CashWallet(t, db, user.ID, 100)

	wg := sync.WaitGroup{}
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.InTx(ctx, func(tx *gorm.DB) error {
				if err := s.Reserve(tx, user.ID, Cash(), 10, ""); err != nil {
					return err
				}
				return s.Release(tx, user.ID, Cash(), 10, "")
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	bal, err := s.Balance(ctx, user.ID, Cash())
	require.NoError(t, err)
	assert.Zero(t, bal.Hold)
	assert.Equal(t, int64(100), bal.Available)
}
