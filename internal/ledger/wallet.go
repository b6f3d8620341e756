package ledger

import (
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Aidin1998/tickex/common/dbutil"
	"github.com/Aidin1998/tickex/pkg/errors"
	"github.com/Aidin1998/tickex/pkg/models"
)

// The methods below run inside a caller-owned transaction so settlement can
// combine several wallet movements with its own order and match writes.

func (s *Service) load(tx *gorm.DB, userID int64, asset Asset, lock bool) (*wallet, error) {
	q := tx.Model(asset.model()).Where("user_id = ?", userID)
	if !asset.IsCash() {
		q = q.Where("instrument_id = ?", asset.InstrumentID)
	}
	if lock {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var w wallet
	res := q.Select("id", "user_id", "reserve", "hold", "blocked").Limit(1).Find(&w)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to load %s wallet: %w", asset, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, asset.notFound().Explain("no %s wallet for user %d", asset, userID)
	}
	return &w, nil
}

// apply runs an UPDATE on one wallet row guarded by cond. Zero affected rows
// means the guard failed on a row that was locked and checked beforehand, so
// the ledger disagrees with itself.
func (s *Service) apply(tx *gorm.DB, asset Asset, w *wallet, cond string, condArgs []interface{}, set map[string]interface{}) error {
	res := tx.Model(asset.model()).
		Where("id = ?", w.ID).
		Where(cond, condArgs...).
		UpdateColumns(set)
	if res.Error != nil {
		return fmt.Errorf("failed to update %s wallet %d: %w", asset, w.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		s.logger.Error("Wallet guard failed",
			zap.Int64("wallet_id", w.ID),
			zap.Int64("user_id", w.UserID),
			zap.String("asset", asset.String()),
			zap.String("guard", cond))
		return errors.Invariant.Explain("%s wallet %d guard failed: %s", asset, w.ID, cond)
	}
	return nil
}

func (s *Service) record(tx *gorm.DB, asset Asset, walletID int64, typ models.HistoryType, amount int64, note string) error {
	// re-read so the row carries the committed reserve even when several
	// movements hit the same wallet in one transaction
	var reserve int64
	if err := tx.Model(asset.model()).Where("id = ?", walletID).Select("reserve").Scan(&reserve).Error; err != nil {
		return fmt.Errorf("failed to read reserve: %w", err)
	}
	h := models.WalletHistory{
		WalletKind: asset.Kind(),
		WalletID:   walletID,
		Type:       typ,
		Amount:     amount,
		Note:       note,
		Reserve:    reserve,
	}
	if err := tx.Create(&h).Error; err != nil {
		return fmt.Errorf("failed to append history: %w", err)
	}
	return nil
}

func positive(amount int64) error {
	if amount <= 0 {
		return errors.InvalidAmount.Explain("amount must be positive, got %d", amount)
	}
	return nil
}

// Reserve earmarks amount for an open order: hold += amount when the wallet
// is not blocked and has that much available.
func (s *Service) Reserve(tx *gorm.DB, userID int64, asset Asset, amount int64, note string) error {
	if err := positive(amount); err != nil {
		return err
	}
	w, err := s.load(tx, userID, asset, true)
	if err != nil {
		return err
	}
	if w.Blocked {
		return asset.blocked()
	}
	if w.available() < amount {
		return errors.InsufficientFunds.Explain("%s available %d is below required %d", asset, w.available(), amount)
	}
	// the guard repeats the check for databases without row locks
	res := tx.Model(asset.model()).
		Where("id = ? AND reserve - hold >= ?", w.ID, amount).
		UpdateColumn("hold", gorm.Expr("hold + ?", amount))
	if res.Error != nil {
		return fmt.Errorf("failed to reserve: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return errors.InsufficientFunds.Explain("%s available changed while reserving %d", asset, amount)
	}
	return s.record(tx, asset, w.ID, asset.pick(holdType), amount, note)
}

// Release returns held funds to available: hold -= amount.
func (s *Service) Release(tx *gorm.DB, userID int64, asset Asset, amount int64, note string) error {
	if err := positive(amount); err != nil {
		return err
	}
	w, err := s.load(tx, userID, asset, true)
	if err != nil {
		return err
	}
	if err := s.apply(tx, asset, w, "hold >= ?", []interface{}{amount},
		map[string]interface{}{"hold": gorm.Expr("hold - ?", amount)}); err != nil {
		return err
	}
	return s.record(tx, asset, w.ID, asset.pick(releaseType), amount, note)
}

// Pay settles held funds out of the wallet: hold -= amount, reserve -= amount.
func (s *Service) Pay(tx *gorm.DB, userID int64, asset Asset, amount int64, note string) error {
	if err := positive(amount); err != nil {
		return err
	}
	w, err := s.load(tx, userID, asset, true)
	if err != nil {
		return err
	}
	if err := s.apply(tx, asset, w, "hold >= ? AND reserve >= ?", []interface{}{amount, amount},
		map[string]interface{}{
			"hold":    gorm.Expr("hold - ?", amount),
			"reserve": gorm.Expr("reserve - ?", amount),
		}); err != nil {
		return err
	}
	return s.record(tx, asset, w.ID, asset.pick(payType), amount, note)
}

// Receive credits the wallet: reserve += amount. A missing security wallet is
// created, since a first buy fill is how users come to hold an instrument.
func (s *Service) Receive(tx *gorm.DB, userID int64, asset Asset, amount int64, note string) error {
	if err := positive(amount); err != nil {
		return err
	}
	w, err := s.load(tx, userID, asset, true)
	if errors.Is(err, errors.SecurityNotFound) {
		w, err = s.createSecurity(tx, userID, asset.InstrumentID)
	}
	if err != nil {
		return err
	}
	if err := s.apply(tx, asset, w, "1 = 1", nil,
		map[string]interface{}{"reserve": gorm.Expr("reserve + ?", amount)}); err != nil {
		return err
	}
	return s.record(tx, asset, w.ID, asset.pick(receiveType), amount, note)
}

func (s *Service) createSecurity(tx *gorm.DB, userID, instrumentID int64) (*wallet, error) {
	sw := models.SecurityWallet{UserID: userID, InstrumentID: instrumentID}
	if err := tx.Create(&sw).Error; err != nil {
		return nil, dbutil.WrapError(err, nil, errors.WalletExists)
	}
	s.logger.Info("Security wallet created", zap.Int64("user_id", userID), zap.Int64("instrument_id", instrumentID))
	return &wallet{ID: sw.ID, UserID: userID}, nil
}

// Lock takes the row lock on a wallet without changing it. Settlement locks
// every participant up front in a fixed order so concurrent fills cannot
// deadlock. A missing security wallet is not an error.
func (s *Service) Lock(tx *gorm.DB, userID int64, asset Asset) error {
	_, err := s.load(tx, userID, asset, true)
	if errors.Is(err, errors.SecurityNotFound) {
		return nil
	}
	return err
}
