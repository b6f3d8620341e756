// Package market owns the per-day MarketStatus rows: today's band lookup,
// per-fill statistics and the daily band job.
package market

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Aidin1998/tickex/common/dbutil"
	"github.com/Aidin1998/tickex/pkg/errors"
	"github.com/Aidin1998/tickex/pkg/models"
)

// Service reads and updates market status rows.
type Service struct {
	db     *gorm.DB
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates a market status service using the wall clock.
func NewService(db *gorm.DB, logger *zap.Logger) *Service {
	return &Service{db: db, logger: logger, now: time.Now}
}

// WithClock replaces the clock, for tests and replays.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Today is the trading date orders are validated against.
func (s *Service) Today() string {
	return models.TradingDay(s.now())
}

// Status returns the instrument's status for today.
func (s *Service) Status(ctx context.Context, instrumentID int64) (*models.MarketStatus, error) {
	return s.StatusTx(s.db.WithContext(ctx), instrumentID, false)
}

// StatusTx loads today's status inside tx, optionally locking the row.
func (s *Service) StatusTx(tx *gorm.DB, instrumentID int64, lock bool) (*models.MarketStatus, error) {
	q := tx.Where("instrument_id = ? AND trading_date = ?", instrumentID, s.Today())
	if lock {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	status, err := dbutil.FindOne[models.MarketStatus](q, errors.MarketStatusGone)
	if err != nil {
		return nil, err
	}
	return status, nil
}

// ApplyFills folds executions at one price into today's statistics.
func (s *Service) ApplyFills(tx *gorm.DB, instrumentID, price int64, quantities ...int64) error {
	status, err := s.StatusTx(tx, instrumentID, true)
	if err != nil {
		return err
	}
	for _, q := range quantities {
		status.ApplyFill(price, q)
	}
	err = tx.Model(status).Select("open_price", "high_price", "low_price", "close_price", "volume", "turnover").
		Updates(status).Error
	if err != nil {
		return fmt.Errorf("failed to update market status: %w", err)
	}
	return nil
}
