// Package testutil builds throwaway databases and fixtures for package tests.
package testutil

import (
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/Aidin1998/tickex/internal/database"
	"github.com/Aidin1998/tickex/pkg/models"
)

// NewDB returns a migrated, private in-memory SQLite database.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()
	db, err := database.NewSQLiteDB(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()), "silent")
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// User inserts a user.
func User(t testing.TB, db *gorm.DB, name string) *models.User {
	t.Helper()
	u := &models.User{Name: name}
	require.NoError(t, db.Create(u).Error)
	return u
}

// Instrument inserts an instrument.
func Instrument(t testing.TB, db *gorm.DB, code string) *models.Instrument {
	t.Helper()
	i := &models.Instrument{Code: code, Name: code}
	require.NoError(t, db.Create(i).Error)
	return i
}

// CashWallet inserts a cash wallet with the given reserve.
func CashWallet(t testing.TB, db *gorm.DB, userID, reserve int64) *models.CashWallet {
	t.Helper()
	w := &models.CashWallet{UserID: userID, Reserve: reserve}
	require.NoError(t, db.Create(w).Error)
	return w
}

// SecurityWallet inserts a security wallet with the given reserve.
func SecurityWallet(t testing.TB, db *gorm.DB, userID, instrumentID, reserve int64) *models.SecurityWallet {
	t.Helper()
	w := &models.SecurityWallet{UserID: userID, InstrumentID: instrumentID, Reserve: reserve}
	require.NoError(t, db.Create(w).Error)
	return w
}

// MarketStatus inserts today's band for an instrument.
func MarketStatus(t testing.TB, db *gorm.DB, instrumentID, reference, lower, upper int64) *models.MarketStatus {
	t.Helper()
	m := &models.MarketStatus{
		InstrumentID:   instrumentID,
		TradingDate:    models.TradingDay(time.Now()),
		ReferencePrice: reference,
		LowerLimit:     lower,
		UpperLimit:     upper,
	}
	require.NoError(t, db.Create(m).Error)
	return m
}

// Percentile returns the p-th percentile value from a slice of durations.
func Percentile(latencies []time.Duration, p float64) time.Duration {
	if len(latencies) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(latencies))
	copy(sorted, latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(float64(len(sorted))*p + 0.5)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
