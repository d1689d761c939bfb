package lifecycle

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/quantbyte/coinwatch/internal/portfolio"
)

// ═══════════════════════════════════════════════════════════════════════════════
// POSITION LIFECYCLE MANAGER - Per-position exit state machine
// ═══════════════════════════════════════════════════════════════════════════════
//
// One ManagedPosition per open trade: stop loss, fee-aware trailing stop,
// take profit, partial-profit ladder and time horizon, evaluated in strict
// priority order on every price tick. Protective exits are checked before
// profit-taking so a tick that satisfies both resolves toward capital
// protection.
//
// The tracked map is the only shared mutable state in the core; every entry
// point takes the manager lock.
//
// ═══════════════════════════════════════════════════════════════════════════════

// ManagedPosition wraps a position with its exit thresholds and excursion
// high-water marks
type ManagedPosition struct {
	Position   portfolio.Position
	Prediction portfolio.Prediction
	EntryTime  time.Time

	StopLossPrice     decimal.Decimal
	TakeProfitPrice   decimal.Decimal
	TrailingStopPrice decimal.Decimal
	trailingSet       bool

	MaxFavorableExcursion decimal.Decimal // fractional, >= 0, non-decreasing
	MaxAdverseExcursion   decimal.Decimal // fractional, <= 0, non-increasing

	PartialProfitsTaken int
	ProfitLockTriggered bool

	ExchangeFees decimal.Decimal // fixed at entry
	feeReserve   decimal.Decimal // fees per unit of size
	feeAdjust    decimal.Decimal // fees as fraction of entry notional
}

// FeePerUnit returns the entry fees amortized per unit of the original
// size, so exits of any quantity can be charged their fair share
func (mp *ManagedPosition) FeePerUnit() decimal.Decimal {
	return mp.feeReserve
}

// ExitDecision is the manager's verdict for one tick
type ExitDecision struct {
	ShouldExit    bool
	Reason        string
	IsPartialExit bool
	ExitQuantity  decimal.Decimal
}

// Manager tracks open positions by id
type Manager struct {
	mu      sync.Mutex
	cfg     Config
	tracked map[string]*ManagedPosition
	now     func() time.Time
}

// NewManager creates a lifecycle manager
func NewManager(cfg Config) *Manager {
	if cfg.Fees == nil {
		cfg.Fees = FlatFee(0.002)
	}
	return &Manager{
		cfg:     cfg,
		tracked: make(map[string]*ManagedPosition),
		now:     time.Now,
	}
}

// Open computes the initial stop-loss, take-profit and fee reserve for a
// position and registers it. atr may be zero when no volatility reading is
// available yet.
func (m *Manager) Open(pos portfolio.Position, pred portfolio.Prediction, atr float64) (*ManagedPosition, error) {
	if pos.Size.LessThanOrEqual(decimal.Zero) || pos.EntryPrice.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("position %s has invalid terms: size=%s entry=%s", pos.ID, pos.Size, pos.EntryPrice)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.tracked[pos.ID]; exists {
		return nil, fmt.Errorf("position %s is already tracked", pos.ID)
	}

	notional := pos.Size.Mul(pos.EntryPrice)
	fees := m.cfg.Fees(notional)

	mp := &ManagedPosition{
		Position:     pos,
		Prediction:   pred,
		EntryTime:    m.now(),
		ExchangeFees: fees,
		feeReserve:   fees.Div(pos.Size),
		feeAdjust:    fees.Div(notional),
	}

	atrD := decimal.NewFromFloat(atr)
	hundred := decimal.NewFromInt(100)

	// Stop distance: the widest of volatility, a minimum percent floor and
	// the fee reserve, so the stop is never tighter than any single margin
	stopDist := decimal.Max(
		atrD.Mul(m.cfg.StopLossMultiplier),
		pos.EntryPrice.Mul(m.cfg.StopLossMultiplier).Div(hundred),
		mp.feeReserve.Mul(decimal.NewFromFloat(1.5)),
	)

	// Target distance must clear fees by at least 2x to count as profitable
	targetDist := decimal.Max(
		decimal.NewFromFloat(pred.ExpectedReturn).Abs().Div(hundred).Mul(pos.EntryPrice),
		pos.EntryPrice.Mul(m.cfg.TakeProfitMultiplier).Div(hundred),
		mp.feeReserve.Mul(decimal.NewFromInt(2)),
	)

	if pos.Side == portfolio.SideBuy {
		mp.StopLossPrice = pos.EntryPrice.Sub(stopDist)
		mp.TakeProfitPrice = pos.EntryPrice.Add(targetDist)
	} else {
		mp.StopLossPrice = pos.EntryPrice.Add(stopDist)
		mp.TakeProfitPrice = pos.EntryPrice.Sub(targetDist)
	}

	m.tracked[pos.ID] = mp

	log.Info().
		Str("id", pos.ID).
		Str("symbol", pos.Symbol).
		Str("side", string(pos.Side)).
		Str("entry", pos.EntryPrice.StringFixed(2)).
		Str("stop_loss", mp.StopLossPrice.StringFixed(2)).
		Str("take_profit", mp.TakeProfitPrice.StringFixed(2)).
		Str("fees", fees.StringFixed(4)).
		Msg("📍 Position under management")

	return mp, nil
}

// Tick feeds a price update to a tracked position and returns the first
// exit condition satisfied, in priority order. Looking up an untracked id
// is a programmer error and fails fast.
func (m *Manager) Tick(id string, price decimal.Decimal, atr float64) (ExitDecision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mp, ok := m.tracked[id]
	if !ok {
		return ExitDecision{}, fmt.Errorf("tick for untracked position %s", id)
	}

	entry := mp.Position.EntryPrice
	size := mp.Position.Size

	// Signed fractional move in the position's favor
	priceChange := price.Sub(entry).Div(entry)
	if mp.Position.Side == portfolio.SideSell {
		priceChange = priceChange.Neg()
	}

	// Excursion ratchets: never reset while tracked
	if favorable := decimal.Max(decimal.Zero, priceChange); favorable.GreaterThan(mp.MaxFavorableExcursion) {
		mp.MaxFavorableExcursion = favorable
	}
	if adverse := decimal.Min(decimal.Zero, priceChange); adverse.LessThan(mp.MaxAdverseExcursion) {
		mp.MaxAdverseExcursion = adverse
	}

	grossPnL := priceChange.Mul(entry).Mul(size)
	netPnL := grossPnL.Sub(mp.ExchangeFees)

	mp.Position.CurrentPrice = price
	mp.Position.UnrealizedPnL = grossPnL

	// One-way flag: a trailing stop must not arm before the position is
	// profitable net of cost
	if !mp.ProfitLockTriggered && netPnL.GreaterThan(decimal.Zero) {
		mp.ProfitLockTriggered = true
		log.Debug().Str("id", id).Str("net_pnl", netPnL.StringFixed(4)).Msg("🔒 Profit lock armed")
	}

	m.updateTrailingStop(mp, price, atr)

	return m.evaluateExits(mp, price, priceChange), nil
}

// updateTrailingStop ratchets the trailing stop toward locking in more
// profit; it never loosens
func (m *Manager) updateTrailingStop(mp *ManagedPosition, price decimal.Decimal, atr float64) {
	if !mp.ProfitLockTriggered || atr <= 0 {
		return
	}

	dist := decimal.Max(
		decimal.NewFromFloat(atr).Mul(m.cfg.TrailingMultiplier),
		mp.feeReserve.Mul(decimal.NewFromFloat(1.5)),
	)

	if mp.Position.Side == portfolio.SideBuy {
		candidate := price.Sub(dist)
		if !mp.trailingSet || candidate.GreaterThan(mp.TrailingStopPrice) {
			mp.TrailingStopPrice = candidate
			mp.trailingSet = true
		}
	} else {
		candidate := price.Add(dist)
		if !mp.trailingSet || candidate.LessThan(mp.TrailingStopPrice) {
			mp.TrailingStopPrice = candidate
			mp.trailingSet = true
		}
	}
}

// evaluateExits checks exit conditions in fixed priority order
func (m *Manager) evaluateExits(mp *ManagedPosition, price, priceChange decimal.Decimal) ExitDecision {
	isBuy := mp.Position.Side == portfolio.SideBuy

	// 1. Stop loss
	if (isBuy && price.LessThanOrEqual(mp.StopLossPrice)) ||
		(!isBuy && price.GreaterThanOrEqual(mp.StopLossPrice)) {
		return ExitDecision{ShouldExit: true, Reason: "Stop loss triggered", ExitQuantity: mp.Position.Size}
	}

	// 2. Trailing stop, if armed
	if mp.trailingSet {
		if (isBuy && price.LessThanOrEqual(mp.TrailingStopPrice)) ||
			(!isBuy && price.GreaterThanOrEqual(mp.TrailingStopPrice)) {
			return ExitDecision{ShouldExit: true, Reason: "Trailing stop triggered", ExitQuantity: mp.Position.Size}
		}
	}

	// 3. Take profit
	if (isBuy && price.GreaterThanOrEqual(mp.TakeProfitPrice)) ||
		(!isBuy && price.LessThanOrEqual(mp.TakeProfitPrice)) {
		return ExitDecision{ShouldExit: true, Reason: "Take profit triggered", ExitQuantity: mp.Position.Size}
	}

	// 4. Partial-profit ladder: fee-adjusted threshold, remaining size
	// stays under management
	if mp.PartialProfitsTaken < len(m.cfg.PartialLadder) {
		level := m.cfg.PartialLadder[mp.PartialProfitsTaken]
		threshold := level.Div(decimal.NewFromInt(100)).Add(mp.feeAdjust)
		if priceChange.GreaterThanOrEqual(threshold) {
			mp.PartialProfitsTaken++
			qty := mp.Position.Size.Mul(m.cfg.PartialExitFraction)
			mp.Position.Size = mp.Position.Size.Sub(qty)
			return ExitDecision{
				ShouldExit:    true,
				Reason:        fmt.Sprintf("Partial profit level %d reached (%s%%)", mp.PartialProfitsTaken, level),
				IsPartialExit: true,
				ExitQuantity:  qty,
			}
		}
	}

	// 5. Time horizon, capped
	horizon := mp.Prediction.TimeHorizon
	if horizon <= 0 || horizon > m.cfg.MaxHold {
		horizon = m.cfg.MaxHold
	}
	if m.now().Sub(mp.EntryTime) >= horizon {
		return ExitDecision{ShouldExit: true, Reason: "Time horizon reached", ExitQuantity: mp.Position.Size}
	}

	return ExitDecision{}
}

// Remove detaches tracking state once the position is actually closed.
// Returns nil when the id was not tracked.
func (m *Manager) Remove(id string) *ManagedPosition {
	m.mu.Lock()
	defer m.mu.Unlock()

	mp, ok := m.tracked[id]
	if !ok {
		return nil
	}
	delete(m.tracked, id)

	log.Debug().
		Str("id", id).
		Str("mfe", mp.MaxFavorableExcursion.StringFixed(4)).
		Str("mae", mp.MaxAdverseExcursion.StringFixed(4)).
		Int("partials", mp.PartialProfitsTaken).
		Msg("📤 Position released from management")

	return mp
}

// Get returns the managed state for a position id
func (m *Manager) Get(id string) (*ManagedPosition, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mp, ok := m.tracked[id]
	return mp, ok
}

// Tracked returns the number of positions under management
func (m *Manager) Tracked() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tracked)
}
