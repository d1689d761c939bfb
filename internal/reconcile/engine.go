package reconcile

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/quantbyte/coinwatch/internal/portfolio"
)

// ═══════════════════════════════════════════════════════════════════════════════
// RECONCILIATION ENGINE - Independent audit of portfolio accounting
// ═══════════════════════════════════════════════════════════════════════════════
//
// The engine recomputes every aggregate (equity, total P&L, available balance)
// from the raw positions and diffs them against the values the rest of the
// system is carrying. Divergence beyond tolerance becomes a discrepancy,
// tiered by dollar impact. Corrupt position data (non-positive price/size)
// and leverage breaches are always critical, regardless of tolerance.
//
// The engine holds no mutable state, never mutates its input, and never
// throws for malformed portfolios - bad data is the product it reports.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Config holds all engine thresholds. Amounts are in currency units.
type Config struct {
	Tolerance         decimal.Decimal // ignore drift at or below this (float noise)
	HighThreshold     decimal.Decimal // above this -> high severity
	CriticalThreshold decimal.Decimal // above this -> critical severity

	LeverageLimit          decimal.Decimal // max exposure as multiple of equity
	NegativeBalanceGuard   decimal.Decimal // small negative allowance for rounding
	CapitalCeilingMultiple decimal.Decimal // equity sanity ceiling vs base capital
	StaleAfter             time.Duration   // open positions older than this are stale

	// Risk assessment thresholds
	MediumImpactThreshold decimal.Decimal
	HighImpactThreshold   decimal.Decimal
	MaxHighSeverity       int
	MaxDiscrepancies      int
}

// DefaultConfig returns the production threshold set
func DefaultConfig() Config {
	return Config{
		Tolerance:         decimal.NewFromFloat(0.10),
		HighThreshold:     decimal.NewFromInt(10),
		CriticalThreshold: decimal.NewFromInt(50),

		LeverageLimit:          decimal.NewFromInt(5),
		NegativeBalanceGuard:   decimal.NewFromInt(-10),
		CapitalCeilingMultiple: decimal.NewFromInt(2),
		StaleAfter:             time.Hour,

		MediumImpactThreshold: decimal.NewFromInt(25),
		HighImpactThreshold:   decimal.NewFromInt(100),
		MaxHighSeverity:       2,
		MaxDiscrepancies:      5,
	}
}

// Engine runs reconciliation passes over portfolio snapshots
type Engine struct {
	cfg Config
	now func() time.Time
}

// NewEngine creates a reconciliation engine. The tolerance ladder must be
// strictly increasing.
func NewEngine(cfg Config) (*Engine, error) {
	if !cfg.Tolerance.LessThan(cfg.HighThreshold) || !cfg.HighThreshold.LessThan(cfg.CriticalThreshold) {
		return nil, fmt.Errorf("invalid threshold ladder: tolerance %s < high %s < critical %s required",
			cfg.Tolerance, cfg.HighThreshold, cfg.CriticalThreshold)
	}
	if cfg.LeverageLimit.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("leverage limit must be positive, got %s", cfg.LeverageLimit)
	}
	return &Engine{cfg: cfg, now: time.Now}, nil
}

// Reconcile audits a portfolio snapshot and returns a structured report.
// The input is treated as read-only.
func (e *Engine) Reconcile(pf *portfolio.Portfolio) *Report {
	report := &Report{
		Metadata: Metadata{
			RunID:     uuid.NewString(),
			Timestamp: e.now(),
		},
	}

	open := pf.OpenPositions()
	closed := pf.ClosedPositions()
	report.Metadata.OpenPositions = len(open)
	report.Metadata.ClosedPositions = len(closed)

	// Recompute aggregates from first principles
	calc := e.recompute(pf, open, closed)
	report.Calculated = calc

	// Stated aggregates vs expected
	e.compareAggregate(report, "equity", calc.ExpectedEquity, pf.Equity)
	e.compareAggregate(report, "totalPnL", calc.ExpectedTotalPnL, pf.TotalPnL)
	e.compareAggregate(report, "availableBalance", calc.ExpectedAvailableBalance, pf.AvailableBalance)

	// Per-position integrity and P&L checks
	for i := range open {
		e.checkPosition(report, &open[i])
	}

	// Leverage breach is always critical
	exposure := pf.Exposure()
	report.Metadata.TotalExposure = exposure
	maxExposure := pf.Equity.Mul(e.cfg.LeverageLimit)
	if exposure.GreaterThan(maxExposure) {
		report.Discrepancies = append(report.Discrepancies, Discrepancy{
			Field:           "leverage",
			Expected:        maxExposure,
			Actual:          exposure,
			Difference:      exposure.Sub(maxExposure),
			Severity:        SeverityCritical,
			PotentialImpact: exposure.Sub(maxExposure),
			Description: fmt.Sprintf("total exposure %s exceeds %sx leverage limit on equity %s",
				exposure.StringFixed(2), e.cfg.LeverageLimit, pf.Equity.StringFixed(2)),
		})
	}

	report.RiskFlags = e.deriveFlags(pf, calc, report, open)

	report.IsConsistent = len(report.Discrepancies) == 0
	for _, d := range report.Discrepancies {
		if d.Severity == SeverityCritical {
			report.HasCriticalDiscrepancies = true
			break
		}
	}

	if report.IsConsistent {
		log.Debug().
			Str("run_id", report.Metadata.RunID).
			Int("open", len(open)).
			Int("closed", len(closed)).
			Msg("✅ Portfolio reconciled clean")
	} else {
		log.Warn().
			Str("run_id", report.Metadata.RunID).
			Int("discrepancies", len(report.Discrepancies)).
			Bool("critical", report.HasCriticalDiscrepancies).
			Str("total_impact", report.TotalImpact().StringFixed(2)).
			Msg("⚠️ Portfolio reconciliation found drift")
	}

	return report
}

// recompute derives every aggregate from the raw positions
func (e *Engine) recompute(pf *portfolio.Portfolio, open, closed []portfolio.Position) CalculatedValues {
	unrealized := decimal.Zero
	marginUsed := decimal.Zero
	for i := range open {
		unrealized = unrealized.Add(open[i].UnrealizedPnL)
		marginUsed = marginUsed.Add(open[i].Notional())
	}

	realized := decimal.Zero
	for i := range closed {
		realized = realized.Add(closed[i].RealizedPnL)
	}

	totalPnL := realized.Add(unrealized)
	equity := pf.BaseCapital.Add(totalPnL).Add(pf.LockedProfits)

	return CalculatedValues{
		ExpectedEquity:           equity,
		ExpectedTotalPnL:         totalPnL,
		ExpectedUnrealizedPnL:    unrealized,
		ExpectedRealizedPnL:      realized,
		ExpectedAvailableBalance: equity.Sub(pf.LockedProfits).Sub(marginUsed),
	}
}

// compareAggregate emits a tiered discrepancy when a stated aggregate drifts
// beyond tolerance from its recomputed value
func (e *Engine) compareAggregate(report *Report, field string, expected, actual decimal.Decimal) {
	diff := actual.Sub(expected).Abs()
	if diff.LessThanOrEqual(e.cfg.Tolerance) {
		return
	}

	report.Discrepancies = append(report.Discrepancies, Discrepancy{
		Field:           field,
		Expected:        expected,
		Actual:          actual,
		Difference:      diff,
		Severity:        e.severityFor(diff),
		PotentialImpact: diff,
		Description: fmt.Sprintf("stated %s %s diverges from recomputed %s by %s",
			field, actual.StringFixed(2), expected.StringFixed(2), diff.StringFixed(2)),
	})
}

// checkPosition validates a single open position: data integrity first
// (unconditionally critical), then its own P&L formula
func (e *Engine) checkPosition(report *Report, p *portfolio.Position) {
	// Non-positive price/size is data corruption, not rounding
	if p.CurrentPrice.LessThanOrEqual(decimal.Zero) {
		report.Discrepancies = append(report.Discrepancies, Discrepancy{
			Field:           "position." + p.ID + ".currentPrice",
			Expected:        p.EntryPrice,
			Actual:          p.CurrentPrice,
			Difference:      p.EntryPrice.Sub(p.CurrentPrice).Abs(),
			Severity:        SeverityCritical,
			PotentialImpact: p.Size.Mul(p.EntryPrice).Abs(),
			Description:     fmt.Sprintf("position %s has non-positive current price %s", p.ID, p.CurrentPrice),
		})
		return
	}
	if p.Size.LessThanOrEqual(decimal.Zero) {
		report.Discrepancies = append(report.Discrepancies, Discrepancy{
			Field:           "position." + p.ID + ".size",
			Expected:        decimal.Zero,
			Actual:          p.Size,
			Difference:      p.Size.Abs(),
			Severity:        SeverityCritical,
			PotentialImpact: p.Size.Mul(p.EntryPrice).Abs(),
			Description:     fmt.Sprintf("position %s has non-positive size %s", p.ID, p.Size),
		})
		return
	}

	expected := expectedPositionPnL(p)
	diff := p.UnrealizedPnL.Sub(expected).Abs()
	if diff.LessThanOrEqual(e.cfg.Tolerance) {
		return
	}

	report.Discrepancies = append(report.Discrepancies, Discrepancy{
		Field:           "position." + p.ID + ".unrealizedPnL",
		Expected:        expected,
		Actual:          p.UnrealizedPnL,
		Difference:      diff,
		Severity:        e.severityFor(diff),
		PotentialImpact: diff,
		Description: fmt.Sprintf("position %s stored P&L %s diverges from recomputed %s",
			p.ID, p.UnrealizedPnL.StringFixed(2), expected.StringFixed(2)),
	})
}

// deriveFlags computes the report's boolean risk flags from the same pass
func (e *Engine) deriveFlags(pf *portfolio.Portfolio, calc CalculatedValues, report *Report, open []portfolio.Position) RiskFlags {
	flags := RiskFlags{}

	if pf.AvailableBalance.LessThan(e.cfg.NegativeBalanceGuard) ||
		calc.ExpectedAvailableBalance.LessThan(e.cfg.NegativeBalanceGuard) {
		flags.NegativeBalance = true
	}

	ceiling := pf.BaseCapital.Mul(e.cfg.CapitalCeilingMultiple)
	if pf.Equity.GreaterThan(ceiling) {
		flags.ExceededCapital = true
	}

	for _, d := range report.Discrepancies {
		if d.Severity == SeverityHigh || d.Severity == SeverityCritical {
			flags.LargeDiscrepancy = true
			break
		}
	}

	staleCutoff := e.now().Add(-e.cfg.StaleAfter)
	for i := range open {
		if open[i].Timestamp.Before(staleCutoff) {
			flags.StalePositions = true
			break
		}
	}

	return flags
}

// severityFor tiers a discrepancy magnitude that already exceeded tolerance
func (e *Engine) severityFor(diff decimal.Decimal) Severity {
	switch {
	case diff.GreaterThan(e.cfg.CriticalThreshold):
		return SeverityCritical
	case diff.GreaterThan(e.cfg.HighThreshold):
		return SeverityHigh
	default:
		return SeverityMedium
	}
}

// expectedPositionPnL recomputes a position's unrealized P&L from its terms
func expectedPositionPnL(p *portfolio.Position) decimal.Decimal {
	move := p.CurrentPrice.Sub(p.EntryPrice)
	if p.Side == portfolio.SideSell {
		move = move.Neg()
	}
	return move.Mul(p.Size)
}
