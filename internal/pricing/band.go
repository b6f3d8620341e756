package pricing

import (
	"github.com/shopspring/decimal"
)

// DefaultReferencePrice is used when an instrument has no prior session.
const DefaultReferencePrice int64 = 30000

// DefaultLimitRate is the half-width of the daily band.
var DefaultLimitRate = decimal.RequireFromString("0.05")

// Band is one session's reference price and limits.
type Band struct {
	Reference int64 `json:"reference_price"`
	Upper     int64 `json:"upper_limit"`
	Lower     int64 `json:"lower_limit"`
}

// Session is the part of a finished session the next band depends on.
type Session struct {
	Reference int64
	Volume    int64
	Turnover  int64
}

// BandCalculator derives the next session's band.
type BandCalculator struct {
	DefaultReference int64
	LimitRate        decimal.Decimal
}

// NewBandCalculator returns a calculator using the given defaults; zero values
// fall back to DefaultReferencePrice and DefaultLimitRate.
func NewBandCalculator(defaultReference int64, limitRate decimal.Decimal) *BandCalculator {
	if defaultReference <= 0 {
		defaultReference = DefaultReferencePrice
	}
	if !limitRate.IsPositive() {
		limitRate = DefaultLimitRate
	}
	return &BandCalculator{DefaultReference: defaultReference, LimitRate: limitRate}
}

// Next computes the band following prev. A nil prev uses the default
// reference; a prev with no volume carries its reference forward.
func (c *BandCalculator) Next(prev *Session) Band {
	var ref decimal.Decimal
	switch {
	case prev == nil:
		ref = decimal.NewFromInt(c.DefaultReference)
	case prev.Volume <= 0:
		ref = decimal.NewFromInt(prev.Reference)
	default:
		ref = VWAP(prev.Turnover, prev.Volume)
	}
	return c.FromReference(AdjustToTick(ref))
}

// FromReference derives the limits around a tick-aligned reference.
func (c *BandCalculator) FromReference(reference int64) Band {
	ref := decimal.NewFromInt(reference)
	one := decimal.NewFromInt(1)
	upper := ref.Mul(one.Add(c.LimitRate)).Ceil()
	lower := ref.Mul(one.Sub(c.LimitRate)).Floor()
	return Band{
		Reference: reference,
		Upper:     AdjustToTick(upper),
		Lower:     AdjustToTick(lower),
	}
}

// VWAP is turnover / volume rounded up to a whole unit.
func VWAP(turnover, volume int64) decimal.Decimal {
	return decimal.NewFromInt(turnover).Div(decimal.NewFromInt(volume)).Ceil()
}
