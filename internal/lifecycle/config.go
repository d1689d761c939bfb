package lifecycle

import (
	"time"

	"github.com/shopspring/decimal"
)

// FeePolicy estimates exchange fees for a given trade value. Pluggable so
// the manager generalizes to maker/taker or tiered fee schedules.
type FeePolicy func(tradeValue decimal.Decimal) decimal.Decimal

// FlatFee returns a policy charging a fixed rate on trade value.
// 0.002 models a 0.1% + 0.1% round trip.
func FlatFee(rate float64) FeePolicy {
	r := decimal.NewFromFloat(rate)
	return func(tradeValue decimal.Decimal) decimal.Decimal {
		return tradeValue.Abs().Mul(r)
	}
}

// Config holds all lifecycle thresholds. The owning service validates these
// before construction; they are not re-checked per tick.
type Config struct {
	Fees FeePolicy

	StopLossMultiplier   decimal.Decimal // ATR multiple / minimum percent floor
	TakeProfitMultiplier decimal.Decimal // minimum target percent
	TrailingMultiplier   decimal.Decimal // ATR multiple for the trailing distance

	PartialLadder       []decimal.Decimal // profit levels in percent, ascending
	PartialExitFraction decimal.Decimal   // share of size to exit per ladder step

	MaxHold time.Duration // cap on any prediction's time horizon
}

// DefaultConfig returns production defaults
func DefaultConfig() Config {
	return Config{
		Fees:                 FlatFee(0.002),
		StopLossMultiplier:   decimal.NewFromInt(1),
		TakeProfitMultiplier: decimal.NewFromInt(2),
		TrailingMultiplier:   decimal.NewFromFloat(1.5),
		PartialLadder: []decimal.Decimal{
			decimal.NewFromInt(1),
			decimal.NewFromInt(2),
			decimal.NewFromInt(3),
		},
		PartialExitFraction: decimal.NewFromFloat(0.33),
		MaxHold:             10 * time.Minute,
	}
}
