package session

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestBreakerTripsOnLossStreak(t *testing.T) {
	b := NewBreaker(3, 30*time.Minute)

	b.RecordLoss(decimal.NewFromInt(-10))
	b.RecordLoss(decimal.NewFromInt(-10))
	assert.False(t, b.Halted())

	b.RecordLoss(decimal.NewFromInt(-10))
	assert.True(t, b.Halted())
	assert.Equal(t, "Max consecutive losses", b.Reason())
}

func TestBreakerWinBreaksStreak(t *testing.T) {
	b := NewBreaker(3, 30*time.Minute)

	b.RecordLoss(decimal.NewFromInt(-10))
	b.RecordLoss(decimal.NewFromInt(-10))
	b.RecordWin(decimal.NewFromInt(5))
	b.RecordLoss(decimal.NewFromInt(-10))
	b.RecordLoss(decimal.NewFromInt(-10))

	assert.False(t, b.Halted())
	assert.Equal(t, 2, b.ConsecutiveLosses())
}

func TestBreakerRearmsAfterCooldown(t *testing.T) {
	b := NewBreaker(2, 30*time.Minute)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }

	b.RecordLoss(decimal.NewFromInt(-10))
	b.RecordLoss(decimal.NewFromInt(-10))
	assert.True(t, b.Halted())

	now = now.Add(29 * time.Minute)
	assert.True(t, b.Halted(), "still inside cooldown")

	now = now.Add(2 * time.Minute)
	assert.False(t, b.Halted())
	assert.Equal(t, 0, b.ConsecutiveLosses())
}

func TestBreakerIntegrityTripIsSticky(t *testing.T) {
	b := NewBreaker(3, time.Minute)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }

	b.Trip("Reconciliation: CRITICAL risk")
	assert.True(t, b.Halted())

	// cooldown does not clear an integrity halt
	now = now.Add(time.Hour)
	assert.True(t, b.Halted())
	assert.Equal(t, "Reconciliation: CRITICAL risk", b.Reason())

	b.Reset()
	assert.False(t, b.Halted())
	assert.Empty(t, b.Reason())
}
