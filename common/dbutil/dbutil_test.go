package dbutil

import (
	"database/sql"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/Aidin1998/tickex/pkg/errors"
)

func TestWrapError(t *testing.T) {
	assert.NoError(t, WrapError(nil, errors.OrderNotFound, nil))
	assert.ErrorIs(t, WrapError(gorm.ErrRecordNotFound, errors.OrderNotFound, nil), errors.OrderNotFound)
	assert.ErrorIs(t, WrapError(gorm.ErrDuplicatedKey, nil, errors.WalletExists), errors.WalletExists)
	pgErr := &pgconn.PgError{Code: DuplicateKeyErrorCode}
	assert.ErrorIs(t, WrapError(fmt.Errorf("insert: %w", pgErr), nil, errors.WalletExists), errors.WalletExists)
	assert.ErrorIs(t, WrapError(errors.CashBlocked, errors.OrderNotFound, nil), errors.CashBlocked)

	plain := fmt.Errorf("boom")
	assert.Equal(t, plain, WrapError(plain, errors.OrderNotFound, nil))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(fmt.Errorf("commit: %w", &pgconn.PgError{Code: SerializationFailureErrorCode})))
	assert.True(t, IsRetryable(errors.Invariant.Wrap(&pgconn.PgError{Code: DeadlockDetectedErrorCode})))
	assert.False(t, IsRetryable(&pgconn.PgError{Code: DuplicateKeyErrorCode}))
	assert.False(t, IsRetryable(fmt.Errorf("boom")))
}

func TestTxOptions(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	assert.Nil(t, TxOptions(db))

	pg := &gorm.DB{Config: &gorm.Config{Dialector: postgres.New(postgres.Config{DSN: "host=localhost"})}}
	assert.Equal(t, sql.LevelSerializable, TxOptions(pg).Isolation)
}

func TestPageNormalize(t *testing.T) {
	assert.Equal(t, Page{Page: 1, PageSize: 20}, Page{}.Normalize())
	assert.Equal(t, Page{Page: 3, PageSize: 100}, Page{Page: 3, PageSize: 500}.Normalize())
}
