// Package pricing holds the tick-size table and the daily price band rules.
package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/Aidin1998/tickex/pkg/errors"
	"github.com/Aidin1998/tickex/pkg/models"
)

// tickBands maps an exclusive upper price bound to the minimum increment below it.
var tickBands = []struct {
	below int64
	tick  int64
}{
	{2000, 1},
	{5000, 5},
	{20000, 10},
	{50000, 50},
	{200000, 100},
	{500000, 500},
}

const topTick int64 = 1000

// TickSize returns the minimum legal increment for price.
func TickSize(price int64) int64 {
	for _, b := range tickBands {
		if price < b.below {
			return b.tick
		}
	}
	return topTick
}

// ValidTick reports whether price is a positive exact multiple of its tick.
func ValidTick(price int64) bool {
	return price > 0 && price%TickSize(price) == 0
}

// AdjustToTick rounds price half-up to a multiple of its band's tick. Only the
// daily reference-price job uses it; order submission rejects instead.
func AdjustToTick(price decimal.Decimal) int64 {
	tick := decimal.NewFromInt(TickSize(price.IntPart()))
	return price.Div(tick).Round(0).Mul(tick).IntPart()
}

// CheckTick rejects prices that do not sit on a tick.
func CheckTick(price int64) error {
	if !ValidTick(price) {
		return errors.InvalidTickSize.Explain("price %d is not a multiple of tick %d", price, TickSize(price))
	}
	return nil
}

// CheckBand rejects prices outside the day's [lower, upper] limits.
func CheckBand(price int64, status *models.MarketStatus) error {
	if !status.InBand(price) {
		return errors.PriceOutOfLimits.Explain("price %d is outside [%d, %d]", price, status.LowerLimit, status.UpperLimit)
	}
	return nil
}

// Validate applies the tick rule then the band rule.
func Validate(price int64, status *models.MarketStatus) error {
	if err := CheckTick(price); err != nil {
		return err
	}
	return CheckBand(price, status)
}
