package session

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// HALT BREAKER - Trading halt with cooldown re-arm
// ═══════════════════════════════════════════════════════════════════════════════
//
// Two ways to trip: consecutive losses, or an explicit Trip() from the
// reconciliation path when a critical discrepancy demands a halt. A tripped
// breaker re-arms itself after the cooldown unless it was tripped for
// integrity reasons, which require a manual reset.
//
// ═══════════════════════════════════════════════════════════════════════════════

type Breaker struct {
	mu sync.RWMutex

	maxConsecutiveLosses int
	cooldown             time.Duration

	consecutiveLosses int
	dailyLoss         decimal.Decimal
	tripped           bool
	trippedAt         time.Time
	reason            string
	sticky            bool // integrity trips don't auto-reset

	now func() time.Time
}

// NewBreaker creates a halt breaker
func NewBreaker(maxLosses int, cooldown time.Duration) *Breaker {
	return &Breaker{
		maxConsecutiveLosses: maxLosses,
		cooldown:             cooldown,
		now:                  time.Now,
	}
}

// Halted reports whether trading is currently halted, re-arming after the
// cooldown for loss-streak trips
func (b *Breaker) Halted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.tripped {
		return false
	}
	if !b.sticky && b.now().Sub(b.trippedAt) > b.cooldown {
		b.tripped = false
		b.consecutiveLosses = 0
		log.Info().Msg("✅ Halt breaker re-armed after cooldown")
		return false
	}
	return true
}

// Trip halts trading for an integrity reason. Requires Reset to resume.
func (b *Breaker) Trip(reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sticky = true
	b.trip(reason)
}

// RecordLoss records a losing trade, tripping on a streak
func (b *Breaker) RecordLoss(amount decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveLosses++
	b.dailyLoss = b.dailyLoss.Add(amount)

	if b.consecutiveLosses >= b.maxConsecutiveLosses && !b.tripped {
		b.sticky = false
		b.trip("Max consecutive losses")
	}
}

// RecordWin records a winning trade, breaking the loss streak
func (b *Breaker) RecordWin(amount decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveLosses = 0
	b.dailyLoss = b.dailyLoss.Add(amount)
}

// Reason returns why the breaker tripped, empty when armed
func (b *Breaker) Reason() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.tripped {
		return ""
	}
	return b.reason
}

// ConsecutiveLosses returns the current loss streak
func (b *Breaker) ConsecutiveLosses() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.consecutiveLosses
}

// Reset manually clears the breaker, including sticky integrity trips
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tripped = false
	b.sticky = false
	b.consecutiveLosses = 0
	b.dailyLoss = decimal.Zero
	log.Info().Msg("Halt breaker manually reset")
}

func (b *Breaker) trip(reason string) {
	b.tripped = true
	b.trippedAt = b.now()
	b.reason = reason
	log.Warn().
		Str("reason", reason).
		Int("consecutive_losses", b.consecutiveLosses).
		Dur("cooldown", b.cooldown).
		Msg("🚨 TRADING HALTED")
}
