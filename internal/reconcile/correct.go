package reconcile

import (
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/quantbyte/coinwatch/internal/portfolio"
)

// Correct rewrites small and medium accounting drift with the recomputed
// values. It is a strict no-op when the report carries any critical
// discrepancy: correction is only safe for rounding-scale drift, never for
// corrupt data.
func (e *Engine) Correct(pf *portfolio.Portfolio, report *Report) *portfolio.Portfolio {
	if report.HasCriticalDiscrepancies {
		log.Warn().
			Str("run_id", report.Metadata.RunID).
			Msg("🛑 Skipping correction - critical discrepancies need manual investigation")
		return pf
	}

	corrected := pf.Clone()
	corrected.Equity = report.Calculated.ExpectedEquity
	corrected.TotalPnL = report.Calculated.ExpectedTotalPnL
	corrected.AvailableBalance = report.Calculated.ExpectedAvailableBalance

	rewritten := 0
	for i := range corrected.Positions {
		p := &corrected.Positions[i]
		if p.Status != portfolio.StatusOpen {
			continue
		}
		if p.CurrentPrice.LessThanOrEqual(decimal.Zero) || p.Size.LessThanOrEqual(decimal.Zero) {
			continue
		}

		expected := expectedPositionPnL(p)
		diff := p.UnrealizedPnL.Sub(expected).Abs()

		// Only rewrite drift in [tolerance, high); anything larger needs a
		// human, not a silent overwrite
		if diff.GreaterThanOrEqual(e.cfg.Tolerance) && diff.LessThan(e.cfg.HighThreshold) {
			p.UnrealizedPnL = expected
			rewritten++
		}
	}

	log.Info().
		Str("run_id", report.Metadata.RunID).
		Int("positions_rewritten", rewritten).
		Str("equity", corrected.Equity.StringFixed(2)).
		Msg("🔧 Portfolio aggregates corrected")

	return corrected
}
