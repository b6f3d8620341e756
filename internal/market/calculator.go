package market

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Aidin1998/tickex/internal/pricing"
	"github.com/Aidin1998/tickex/pkg/models"
)

// Calculator is the daily job that opens a session's band for every instrument.
type Calculator struct {
	db     *gorm.DB
	bands  *pricing.BandCalculator
	logger *zap.Logger
}

// NewCalculator creates the band job.
func NewCalculator(db *gorm.DB, bands *pricing.BandCalculator, logger *zap.Logger) *Calculator {
	return &Calculator{db: db, bands: bands, logger: logger}
}

// CreateMarketStatus writes a status for tradingDate for every instrument
// that has none, deriving the band from the instrument's latest earlier
// session. It returns the number of rows created and is safe to rerun.
func (c *Calculator) CreateMarketStatus(ctx context.Context, tradingDate time.Time) (int, error) {
	day := models.TradingDay(tradingDate)
	db := c.db.WithContext(ctx)

	var instruments []models.Instrument
	if err := db.Order("id").Find(&instruments).Error; err != nil {
		return 0, fmt.Errorf("failed to list instruments: %w", err)
	}

	created := 0
	for _, inst := range instruments {
		var existing int64
		if err := db.Model(&models.MarketStatus{}).
			Where("instrument_id = ? AND trading_date = ?", inst.ID, day).
			Count(&existing).Error; err != nil {
			return created, fmt.Errorf("failed to check status of instrument %d: %w", inst.ID, err)
		}
		if existing > 0 {
			continue
		}

		var prev []models.MarketStatus
		if err := db.Where("instrument_id = ? AND trading_date < ?", inst.ID, day).
			Order("trading_date DESC").Limit(1).Find(&prev).Error; err != nil {
			return created, fmt.Errorf("failed to load previous status of instrument %d: %w", inst.ID, err)
		}
		var session *pricing.Session
		if len(prev) == 1 {
			session = &pricing.Session{Reference: prev[0].ReferencePrice, Volume: prev[0].Volume, Turnover: prev[0].Turnover}
		}
		band := c.bands.Next(session)

		status := models.MarketStatus{
			InstrumentID:   inst.ID,
			TradingDate:    day,
			ReferencePrice: band.Reference,
			UpperLimit:     band.Upper,
			LowerLimit:     band.Lower,
		}
		if err := db.Create(&status).Error; err != nil {
			return created, fmt.Errorf("failed to create status of instrument %d: %w", inst.ID, err)
		}
		created++
		c.logger.Info("Market status created",
			zap.Int64("instrument_id", inst.ID),
			zap.String("trading_date", day),
			zap.Int64("reference_price", band.Reference),
			zap.Int64("lower_limit", band.Lower),
			zap.Int64("upper_limit", band.Upper))
	}
	return created, nil
}
