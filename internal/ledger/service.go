package ledger

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Aidin1998/tickex/common/dbutil"
	"github.com/Aidin1998/tickex/pkg/errors"
	"github.com/Aidin1998/tickex/pkg/models"
)

// Service implements wallet bookkeeping.
type Service struct {
	logger *zap.Logger
	db     *gorm.DB
}

// NewService creates a new ledger service
func NewService(logger *zap.Logger, db *gorm.DB) *Service {
	return &Service{logger: logger, db: db}
}

const maxTxAttempts = 3

// InTx runs fn in a transaction at the strongest isolation the database
// offers, rolling back on error or panic. A Postgres serialization failure or
// deadlock reruns fn from the start, so fn must not keep state across attempts.
func (s *Service) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	opts := dbutil.TxOptions(s.db)
	for attempt := 1; ; attempt++ {
		err := s.inTx(ctx, opts, fn)
		if err == nil || attempt == maxTxAttempts || !dbutil.IsRetryable(err) {
			return err
		}
		s.logger.Debug("Retrying aborted transaction", zap.Int("attempt", attempt), zap.Error(err))
	}
}

func (s *Service) inTx(ctx context.Context, opts *sql.TxOptions, fn func(tx *gorm.DB) error) (err error) {
	var tx *gorm.DB
	if opts != nil {
		tx = s.db.WithContext(ctx).Begin(opts)
	} else {
		tx = s.db.WithContext(ctx).Begin()
	}
	if tx.Error != nil {
		return fmt.Errorf("failed to begin transaction: %w", tx.Error)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit().Error; err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Service) userExists(tx *gorm.DB, userID int64) error {
	_, err := dbutil.FindOne[models.User](tx.Where("id = ?", userID), errors.UserNotFound)
	return err
}

// CreateCashWallet opens the user's single cash wallet.
func (s *Service) CreateCashWallet(ctx context.Context, userID int64) (*Balance, error) {
	var out *Balance
	err := s.InTx(ctx, func(tx *gorm.DB) error {
		if err := s.userExists(tx, userID); err != nil {
			return err
		}
		w := models.CashWallet{UserID: userID}
		if err := tx.Create(&w).Error; err != nil {
			return dbutil.WrapError(err, nil, errors.WalletExists)
		}
		out = (&wallet{ID: w.ID, UserID: userID}).balance(Cash())
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("Cash wallet created", zap.Int64("user_id", userID), zap.Int64("wallet_id", out.WalletID))
	return out, nil
}

// CreateSecurityWallet opens the user's wallet for one instrument.
func (s *Service) CreateSecurityWallet(ctx context.Context, userID, instrumentID int64) (*Balance, error) {
	var out *Balance
	err := s.InTx(ctx, func(tx *gorm.DB) error {
		if err := s.userExists(tx, userID); err != nil {
			return err
		}
		if _, err := dbutil.FindOne[models.Instrument](tx.Where("id = ?", instrumentID), errors.InstrumentMissing); err != nil {
			return err
		}
		w, err := s.createSecurity(tx, userID, instrumentID)
		if err != nil {
			return err
		}
		out = w.balance(Security(instrumentID))
		return nil
	})
	return out, err
}

// Deposit adds funds or units to a wallet.
func (s *Service) Deposit(ctx context.Context, userID int64, asset Asset, amount int64, note string) (*Balance, error) {
	if err := positive(amount); err != nil {
		return nil, err
	}
	var out *Balance
	err := s.InTx(ctx, func(tx *gorm.DB) error {
		w, err := s.load(tx, userID, asset, true)
		if err != nil {
			return err
		}
		if err := s.apply(tx, asset, w, "1 = 1", nil,
			map[string]interface{}{"reserve": gorm.Expr("reserve + ?", amount)}); err != nil {
			return err
		}
		if err := s.record(tx, asset, w.ID, models.HistoryDeposit, amount, note); err != nil {
			return err
		}
		out, err = s.balanceTx(tx, userID, asset)
		return err
	})
	return out, err
}

// Withdraw removes funds or units, limited to what is available.
func (s *Service) Withdraw(ctx context.Context, userID int64, asset Asset, amount int64, note string) (*Balance, error) {
	if err := positive(amount); err != nil {
		return nil, err
	}
	var out *Balance
	err := s.InTx(ctx, func(tx *gorm.DB) error {
		w, err := s.load(tx, userID, asset, true)
		if err != nil {
			return err
		}
		if w.Blocked {
			return asset.blocked()
		}
		if w.available() < amount {
			return errors.InsufficientFunds.Explain("%s available %d is below %d", asset, w.available(), amount)
		}
		res := tx.Model(asset.model()).
			Where("id = ? AND reserve - hold >= ?", w.ID, amount).
			UpdateColumn("reserve", gorm.Expr("reserve - ?", amount))
		if res.Error != nil {
			return fmt.Errorf("failed to withdraw: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return errors.InsufficientFunds
		}
		if err := s.record(tx, asset, w.ID, models.HistoryWithdrawal, amount, note); err != nil {
			return err
		}
		out, err = s.balanceTx(tx, userID, asset)
		return err
	})
	return out, err
}

// Block stops new reservations and withdrawals on a wallet.
func (s *Service) Block(ctx context.Context, userID int64, asset Asset) (*Balance, error) {
	return s.setBlocked(ctx, userID, asset, true)
}

// Unblock lifts a block.
func (s *Service) Unblock(ctx context.Context, userID int64, asset Asset) (*Balance, error) {
	return s.setBlocked(ctx, userID, asset, false)
}

func (s *Service) setBlocked(ctx context.Context, userID int64, asset Asset, blocked bool) (*Balance, error) {
	typ := models.HistoryAccountUnblocked
	if blocked {
		typ = models.HistoryAccountBlocked
	}
	var out *Balance
	err := s.InTx(ctx, func(tx *gorm.DB) error {
		w, err := s.load(tx, userID, asset, true)
		if err != nil {
			return err
		}
		if w.Blocked != blocked {
			if err := tx.Model(asset.model()).Where("id = ?", w.ID).UpdateColumn("blocked", blocked).Error; err != nil {
				return fmt.Errorf("failed to update block flag: %w", err)
			}
			if err := s.record(tx, asset, w.ID, typ, 0, ""); err != nil {
				return err
			}
		}
		out, err = s.balanceTx(tx, userID, asset)
		return err
	})
	if err == nil {
		s.logger.Info("Wallet block changed", zap.Int64("user_id", userID), zap.String("asset", asset.String()), zap.Bool("blocked", blocked))
	}
	return out, err
}

// Balance returns reserve, hold and available of one wallet.
func (s *Service) Balance(ctx context.Context, userID int64, asset Asset) (*Balance, error) {
	return s.balanceTx(s.db.WithContext(ctx), userID, asset)
}

func (s *Service) balanceTx(tx *gorm.DB, userID int64, asset Asset) (*Balance, error) {
	w, err := s.load(tx, userID, asset, false)
	if err != nil {
		return nil, err
	}
	return w.balance(asset), nil
}

// History lists a wallet's entries newest first.
func (s *Service) History(ctx context.Context, userID int64, asset Asset, page dbutil.Page) ([]models.WalletHistory, int64, error) {
	db := s.db.WithContext(ctx)
	w, err := s.load(db, userID, asset, false)
	if err != nil {
		return nil, 0, err
	}
	q := db.Model(&models.WalletHistory{}).
		Where("wallet_kind = ? AND wallet_id = ?", asset.Kind(), w.ID).
		Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count history: %w", err)
	}
	var rows []models.WalletHistory
	if err := q.Order("id DESC").Scopes(page.Scope()).Find(&rows).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list history: %w", err)
	}
	return rows, total, nil
}
