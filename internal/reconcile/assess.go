package reconcile

import (
	"fmt"

	"github.com/rs/zerolog/log"
)

// RiskLevel summarizes a report for the trading session
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// Assessment is the engine's recommendation. The engine never halts anything
// itself; the caller acts on ShouldHaltTrading.
type Assessment struct {
	RiskLevel          RiskLevel
	ShouldHaltTrading  bool
	RecommendedActions []string
}

// AssessRisk turns a reconciliation report into an operational recommendation
func (e *Engine) AssessRisk(report *Report) Assessment {
	totalImpact := report.TotalImpact()
	highCount := report.HighSeverityCount()

	var a Assessment
	switch {
	case report.HasCriticalDiscrepancies:
		a = Assessment{
			RiskLevel:         RiskCritical,
			ShouldHaltTrading: true,
			RecommendedActions: []string{
				"Halt automated trading immediately",
				"Audit open positions for corrupt data",
				"Reconcile accounts manually before resuming",
			},
		}

	case totalImpact.GreaterThan(e.cfg.HighImpactThreshold) ||
		highCount > e.cfg.MaxHighSeverity ||
		report.RiskFlags.NegativeBalance:
		a = Assessment{
			RiskLevel:         RiskHigh,
			ShouldHaltTrading: true,
			RecommendedActions: []string{
				"Halt automated trading",
				fmt.Sprintf("Investigate %s of aggregate drift", totalImpact.StringFixed(2)),
				"Verify balance updates from recent closes",
			},
		}

	case totalImpact.GreaterThan(e.cfg.MediumImpactThreshold) ||
		len(report.Discrepancies) > e.cfg.MaxDiscrepancies:
		a = Assessment{
			RiskLevel:         RiskMedium,
			ShouldHaltTrading: false,
			RecommendedActions: []string{
				"Monitor reconciliation drift on next runs",
				"Consider applying automatic correction",
			},
		}

	default:
		a = Assessment{
			RiskLevel:          RiskLow,
			ShouldHaltTrading:  false,
			RecommendedActions: []string{},
		}
	}

	if a.ShouldHaltTrading {
		log.Warn().
			Str("run_id", report.Metadata.RunID).
			Str("risk_level", string(a.RiskLevel)).
			Str("total_impact", totalImpact.StringFixed(2)).
			Msg("🚨 Reconciliation recommends trading halt")
	}

	return a
}
