package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/quantbyte/coinwatch/internal/alert"
	"github.com/quantbyte/coinwatch/internal/lifecycle"
	"github.com/quantbyte/coinwatch/internal/portfolio"
	"github.com/quantbyte/coinwatch/internal/reconcile"
	"github.com/quantbyte/coinwatch/internal/storage"
)

// ═══════════════════════════════════════════════════════════════════════════════
// TRADING SESSION - The owner of portfolio state
// ═══════════════════════════════════════════════════════════════════════════════
//
// Everything that mutates the portfolio goes through here, under one lock:
// entries gated by the halt breaker, exits driven by the lifecycle manager,
// and the periodic reconciliation pass that audits the books the session
// itself keeps. The reconciliation engine sees snapshots, never the live
// struct.
//
// Accounting identities maintained on every mutation:
//   totalPnL  = Σ realized(closed) + Σ unrealized(open)
//   equity    = baseCapital + totalPnL + lockedProfits
//   available = equity - lockedProfits - Σ notional(open)
//
// Profit locking moves a configured fraction of each positive realized P&L
// into LockedProfits; the locked slice is excluded from the closing
// position's RealizedPnL so the identities above stay exact.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Config holds the session's trading parameters
type Config struct {
	BaseCapital        decimal.Decimal
	PositionSizePct    decimal.Decimal
	MaxPositions       int
	MinConfidence      float64
	ProfitLockFraction decimal.Decimal
	ReconcileInterval  time.Duration
	DryRun             bool
}

// Session owns the portfolio and coordinates the risk-integrity core
type Session struct {
	mu  sync.Mutex
	cfg Config

	pf        *portfolio.Portfolio
	lifecycle *lifecycle.Manager
	engine    *reconcile.Engine
	breaker   *Breaker
	db        *storage.Database
	notifier  *alert.Notifier

	dayStartPnL decimal.Decimal
	currentDay  string

	now func() time.Time
}

// New creates a session with a fresh portfolio at base capital
func New(cfg Config, engine *reconcile.Engine, lcm *lifecycle.Manager, breaker *Breaker, db *storage.Database, notifier *alert.Notifier) *Session {
	return &Session{
		cfg: cfg,
		pf: &portfolio.Portfolio{
			BaseCapital:      cfg.BaseCapital,
			AvailableBalance: cfg.BaseCapital,
			Equity:           cfg.BaseCapital,
		},
		lifecycle: lcm,
		engine:    engine,
		breaker:   breaker,
		db:        db,
		notifier:  notifier,
		now:       time.Now,
	}
}

// Snapshot returns a deep copy of the current portfolio
func (s *Session) Snapshot() *portfolio.Portfolio {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pf.Clone()
}

// HandleSignal opens a position from a prediction signal, subject to the
// session's entry gates. Rejections are logged, not errors.
func (s *Session) HandleSignal(symbol string, price decimal.Decimal, pred portfolio.Prediction, atr float64) {
	if s.breaker.Halted() {
		log.Debug().Str("symbol", symbol).Str("reason", s.breaker.Reason()).Msg("Signal dropped: trading halted")
		return
	}
	if pred.Confidence < s.cfg.MinConfidence {
		log.Debug().Str("symbol", symbol).Float64("confidence", pred.Confidence).Msg("Signal dropped: below confidence floor")
		return
	}
	if price.LessThanOrEqual(decimal.Zero) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pf.OpenPositions()) >= s.cfg.MaxPositions {
		log.Debug().Str("symbol", symbol).Int("max", s.cfg.MaxPositions).Msg("Signal dropped: position limit reached")
		return
	}
	for _, p := range s.pf.OpenPositions() {
		if p.Symbol == symbol {
			log.Debug().Str("symbol", symbol).Msg("Signal dropped: market already open")
			return
		}
	}

	margin := s.pf.AvailableBalance.Mul(s.cfg.PositionSizePct)
	if margin.LessThanOrEqual(decimal.Zero) {
		log.Warn().Str("symbol", symbol).Msg("Signal dropped: no available balance")
		return
	}
	size := margin.Div(price)

	side := portfolio.SideBuy
	if pred.Direction == portfolio.DirectionDown {
		side = portfolio.SideSell
	}

	pos := portfolio.Position{
		ID:           uuid.NewString(),
		Symbol:       symbol,
		Side:         side,
		Size:         size,
		EntryPrice:   price,
		CurrentPrice: price,
		Status:       portfolio.StatusOpen,
		Timestamp:    s.now(),
	}

	mp, err := s.lifecycle.Open(pos, pred, atr)
	if err != nil {
		log.Error().Err(err).Str("symbol", symbol).Msg("Failed to register position")
		return
	}

	s.pf.Positions = append(s.pf.Positions, pos)
	s.recomputeLocked()

	log.Info().
		Str("id", pos.ID).
		Str("symbol", symbol).
		Str("side", string(side)).
		Str("size", size.StringFixed(6)).
		Str("entry", price.StringFixed(2)).
		Float64("confidence", pred.Confidence).
		Msg("✅ Position opened")

	s.persistPosition(&pos, pred, "")
	s.logTrade(&pos, "OPEN", price, size, decimal.Zero, "Signal entry")
	s.notifier.NotifyOpen(&pos, mp.StopLossPrice, mp.TakeProfitPrice)
}

// OnPrice feeds a price update to every open position on the symbol and
// executes whatever exits the lifecycle manager decides
func (s *Session) OnPrice(symbol string, price decimal.Decimal, atr float64) {
	if price.LessThanOrEqual(decimal.Zero) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.pf.Positions {
		pos := &s.pf.Positions[i]
		if pos.Status != portfolio.StatusOpen || pos.Symbol != symbol {
			continue
		}

		decision, err := s.lifecycle.Tick(pos.ID, price, atr)
		if err != nil {
			log.Error().Err(err).Str("id", pos.ID).Msg("Lifecycle tick failed")
			continue
		}

		pos.CurrentPrice = price
		pos.UnrealizedPnL = positionPnL(pos, price)

		if !decision.ShouldExit {
			continue
		}
		if decision.IsPartialExit {
			s.partialExit(pos, price, decision)
		} else {
			s.closePosition(pos, price, decision.Reason)
		}
	}

	s.recomputeLocked()
}

// partialExit books a ladder exit as its own closed position record, so
// realized P&L stays the sum over closed records
func (s *Session) partialExit(pos *portfolio.Position, price decimal.Decimal, decision lifecycle.ExitDecision) {
	mp, ok := s.lifecycle.Get(pos.ID)
	if !ok {
		return
	}

	qty := decision.ExitQuantity
	gross := positionPnLForSize(pos, price, qty)
	fees := mp.FeePerUnit().Mul(qty)
	realized := gross.Sub(fees)

	locked := s.lockProfit(realized)

	// Mutate the parent before appending: append can reallocate the slice
	// and the caller's pointer must keep writing to the live array
	pos.Size = pos.Size.Sub(qty)
	pos.UnrealizedPnL = positionPnL(pos, price)

	child := portfolio.Position{
		ID:           uuid.NewString(),
		Symbol:       pos.Symbol,
		Side:         pos.Side,
		Size:         qty,
		EntryPrice:   pos.EntryPrice,
		CurrentPrice: price,
		RealizedPnL:  realized.Sub(locked),
		Status:       portfolio.StatusClosed,
		Timestamp:    pos.Timestamp,
	}
	s.pf.Positions = append(s.pf.Positions, child)

	log.Info().
		Str("id", pos.ID).
		Str("symbol", pos.Symbol).
		Str("qty", qty.StringFixed(6)).
		Str("realized", realized.StringFixed(2)).
		Str("reason", decision.Reason).
		Msg("💰 Partial profit taken")

	s.persistPosition(&child, mp.Prediction, decision.Reason)
	s.persistPosition(pos, mp.Prediction, "")
	s.logTrade(pos, "PARTIAL_CLOSE", price, qty, realized, decision.Reason)
	s.notifier.NotifyExit(&child, decision.Reason, realized, true)
}

// closePosition realizes the remaining size and releases lifecycle tracking
func (s *Session) closePosition(pos *portfolio.Position, price decimal.Decimal, reason string) {
	mp := s.lifecycle.Remove(pos.ID)
	if mp == nil {
		return
	}

	gross := positionPnLForSize(pos, price, pos.Size)
	fees := mp.FeePerUnit().Mul(pos.Size)
	realized := gross.Sub(fees)

	locked := s.lockProfit(realized)

	pos.Status = portfolio.StatusClosed
	pos.CurrentPrice = price
	pos.UnrealizedPnL = decimal.Zero
	pos.RealizedPnL = realized.Sub(locked)

	if realized.IsNegative() {
		s.breaker.RecordLoss(realized)
	} else {
		s.breaker.RecordWin(realized)
	}

	log.Info().
		Str("id", pos.ID).
		Str("symbol", pos.Symbol).
		Str("realized", realized.StringFixed(2)).
		Str("locked", locked.StringFixed(2)).
		Str("reason", reason).
		Msg("📊 Position closed")

	s.persistPosition(pos, mp.Prediction, reason)
	s.logTrade(pos, "CLOSE", price, pos.Size, realized, reason)
	s.notifier.NotifyExit(pos, reason, realized, false)

	if s.breaker.Halted() {
		s.notifier.NotifyHalt(s.breaker.Reason())
	}
}

// lockProfit moves the configured fraction of a positive realized P&L into
// LockedProfits and returns the amount locked
func (s *Session) lockProfit(realized decimal.Decimal) decimal.Decimal {
	if realized.LessThanOrEqual(decimal.Zero) || s.cfg.ProfitLockFraction.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	locked := realized.Mul(s.cfg.ProfitLockFraction)
	s.pf.LockedProfits = s.pf.LockedProfits.Add(locked)
	return locked
}

// recomputeLocked re-derives the stated aggregates from the positions.
// Caller holds the lock.
func (s *Session) recomputeLocked() {
	unrealized := decimal.Zero
	margin := decimal.Zero
	realized := decimal.Zero
	for i := range s.pf.Positions {
		p := &s.pf.Positions[i]
		switch p.Status {
		case portfolio.StatusOpen:
			unrealized = unrealized.Add(p.UnrealizedPnL)
			margin = margin.Add(p.Notional())
		case portfolio.StatusClosed:
			realized = realized.Add(p.RealizedPnL)
		}
	}

	s.pf.TotalPnL = realized.Add(unrealized)
	s.pf.Equity = s.pf.BaseCapital.Add(s.pf.TotalPnL).Add(s.pf.LockedProfits)
	s.pf.AvailableBalance = s.pf.Equity.Sub(s.pf.LockedProfits).Sub(margin)

	today := s.now().Format("2006-01-02")
	if s.currentDay != today {
		s.currentDay = today
		s.dayStartPnL = s.pf.TotalPnL
	}
	s.pf.DayPnL = s.pf.TotalPnL.Sub(s.dayStartPnL)
}

// Reconcile runs one audit pass over a snapshot, persists the outcome and
// acts on the assessment: halt on critical drift, self-correct on safe drift.
// The lock is held across the pass so an applied correction cannot clobber
// a trade that landed mid-audit; the engine itself is pure and fast.
func (s *Session) Reconcile() *reconcile.Report {
	s.mu.Lock()
	snapshot := s.pf.Clone()
	report := s.engine.Reconcile(snapshot)
	assessment := s.engine.AssessRisk(report)

	corrected := false
	if !assessment.ShouldHaltTrading && !report.IsConsistent {
		fixed := s.engine.Correct(snapshot, report)
		if fixed != snapshot {
			s.pf = fixed
			s.recomputeLocked()
			corrected = true
		}
	}
	s.mu.Unlock()

	if s.db != nil {
		rec := &storage.ReconciliationRun{
			ID:            report.Metadata.RunID,
			IsConsistent:  report.IsConsistent,
			Critical:      report.HasCriticalDiscrepancies,
			Discrepancies: len(report.Discrepancies),
			RiskLevel:     string(assessment.RiskLevel),
			TotalImpact:   report.TotalImpact(),
			Halted:        assessment.ShouldHaltTrading,
			CreatedAt:     report.Metadata.Timestamp,
		}
		if err := s.db.SaveReconciliationRun(rec); err != nil {
			log.Error().Err(err).Msg("Failed to persist reconciliation run")
		}
	}

	if assessment.ShouldHaltTrading {
		s.breaker.Trip("Reconciliation: " + string(assessment.RiskLevel) + " risk")
		s.notifier.NotifyReconciliation(report, assessment)
		return report
	}

	if corrected {
		log.Info().Str("run_id", report.Metadata.RunID).Msg("🔧 Applied automatic correction")
	}
	if !report.IsConsistent {
		s.notifier.NotifyReconciliation(report, assessment)
	}

	return report
}

// Run drives the periodic reconciliation loop until the context is cancelled
func (s *Session) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.ReconcileInterval)
	defer ticker.Stop()

	log.Info().Dur("interval", s.cfg.ReconcileInterval).Msg("🔍 Reconciliation loop started")

	for {
		select {
		case <-ctx.Done():
			s.saveState()
			return
		case <-ticker.C:
			s.Reconcile()
			s.saveState()
		}
	}
}

// RecoverPositions rebuilds open positions from storage after a restart
func (s *Session) RecoverPositions() error {
	if s.db == nil {
		return nil
	}

	records, err := s.db.GetOpenPositions()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range records {
		pos := portfolio.Position{
			ID:            rec.ID,
			Symbol:        rec.Symbol,
			Side:          portfolio.Side(rec.Side),
			Size:          rec.Size,
			EntryPrice:    rec.EntryPrice,
			CurrentPrice:  rec.CurrentPrice,
			UnrealizedPnL: rec.UnrealizedPnL,
			Status:        portfolio.StatusOpen,
			Timestamp:     rec.OpenedAt,
		}
		pred := portfolio.Prediction{
			Direction:      directionForSide(pos.Side),
			Confidence:     rec.Confidence,
			ExpectedReturn: rec.ExpectedReturn,
			RiskScore:      rec.RiskScore,
			TimeHorizon:    time.Duration(rec.TimeHorizonSec) * time.Second,
		}

		if _, err := s.lifecycle.Open(pos, pred, 0); err != nil {
			log.Error().Err(err).Str("id", pos.ID).Msg("Failed to recover position, skipping")
			continue
		}
		s.pf.Positions = append(s.pf.Positions, pos)
		log.Info().Str("id", pos.ID).Str("symbol", pos.Symbol).Msg("♻️ Position recovered")
	}

	s.recomputeLocked()
	return nil
}

func (s *Session) saveState() {
	if s.db == nil {
		return
	}

	s.mu.Lock()
	state := &storage.SessionState{
		Date:              s.now().Format("2006-01-02"),
		Equity:            s.pf.Equity,
		AvailableBalance:  s.pf.AvailableBalance,
		LockedProfits:     s.pf.LockedProfits,
		TotalPnL:          s.pf.TotalPnL,
		DayPnL:            s.pf.DayPnL,
		ConsecutiveLosses: s.breaker.ConsecutiveLosses(),
		Halted:            s.breaker.Halted(),
	}
	s.mu.Unlock()

	if err := s.db.SaveSessionState(state); err != nil {
		log.Error().Err(err).Msg("Failed to persist session state")
	}
}

func (s *Session) persistPosition(pos *portfolio.Position, pred portfolio.Prediction, exitReason string) {
	if s.db == nil {
		return
	}

	rec := &storage.PositionRecord{
		ID:             pos.ID,
		Symbol:         pos.Symbol,
		Side:           string(pos.Side),
		Size:           pos.Size,
		EntryPrice:     pos.EntryPrice,
		CurrentPrice:   pos.CurrentPrice,
		UnrealizedPnL:  pos.UnrealizedPnL,
		RealizedPnL:    pos.RealizedPnL,
		Status:         string(pos.Status),
		Confidence:     pred.Confidence,
		ExpectedReturn: pred.ExpectedReturn,
		RiskScore:      pred.RiskScore,
		TimeHorizonSec: int64(pred.TimeHorizon.Seconds()),
		OpenedAt:       pos.Timestamp,
		ExitReason:     exitReason,
	}
	if pos.Status == portfolio.StatusClosed {
		closedAt := s.now()
		rec.ClosedAt = &closedAt
	}

	if err := s.db.SavePosition(rec); err != nil {
		log.Error().Err(err).Str("id", pos.ID).Msg("Failed to persist position")
	}
}

func (s *Session) logTrade(pos *portfolio.Position, action string, price, qty, pnl decimal.Decimal, reason string) {
	if s.db == nil {
		return
	}
	s.db.LogTrade(&storage.TradeRecord{
		PositionID: pos.ID,
		Symbol:     pos.Symbol,
		Side:       string(pos.Side),
		Action:     action,
		Price:      price,
		Quantity:   qty,
		PnL:        pnl,
		Reason:     reason,
		CreatedAt:  s.now(),
	})
}

// positionPnL computes the signed unrealized P&L at a price
func positionPnL(pos *portfolio.Position, price decimal.Decimal) decimal.Decimal {
	return positionPnLForSize(pos, price, pos.Size)
}

// positionPnLForSize computes the signed P&L for part of a position
func positionPnLForSize(pos *portfolio.Position, price, size decimal.Decimal) decimal.Decimal {
	move := price.Sub(pos.EntryPrice)
	if pos.Side == portfolio.SideSell {
		move = move.Neg()
	}
	return move.Mul(size)
}

func directionForSide(side portfolio.Side) portfolio.Direction {
	if side == portfolio.SideSell {
		return portfolio.DirectionDown
	}
	return portfolio.DirectionUp
}
