package reconcile

import (
	"time"

	"github.com/shopspring/decimal"
)

// Severity of a single discrepancy, tiered by dollar impact
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Discrepancy is one divergence between a stated value and the value
// recomputed from first principles
type Discrepancy struct {
	Field           string
	Expected        decimal.Decimal
	Actual          decimal.Decimal
	Difference      decimal.Decimal // absolute
	Severity        Severity
	PotentialImpact decimal.Decimal // USD
	Description     string
}

// CalculatedValues holds the independently recomputed aggregates
type CalculatedValues struct {
	ExpectedEquity           decimal.Decimal
	ExpectedTotalPnL         decimal.Decimal
	ExpectedUnrealizedPnL    decimal.Decimal
	ExpectedRealizedPnL      decimal.Decimal
	ExpectedAvailableBalance decimal.Decimal
}

// RiskFlags are derived booleans from the reconciliation pass
type RiskFlags struct {
	NegativeBalance  bool
	ExceededCapital  bool
	LargeDiscrepancy bool
	StalePositions   bool
}

// Metadata identifies a single reconciliation run
type Metadata struct {
	RunID           string
	Timestamp       time.Time
	OpenPositions   int
	ClosedPositions int
	TotalExposure   decimal.Decimal
}

// Report is the output of one reconciliation pass
type Report struct {
	IsConsistent             bool
	HasCriticalDiscrepancies bool
	Discrepancies            []Discrepancy
	Calculated               CalculatedValues
	RiskFlags                RiskFlags
	Metadata                 Metadata
}

// HighSeverityCount returns the number of high-severity discrepancies
func (r *Report) HighSeverityCount() int {
	n := 0
	for _, d := range r.Discrepancies {
		if d.Severity == SeverityHigh {
			n++
		}
	}
	return n
}

// TotalImpact sums the potential dollar impact across all discrepancies
func (r *Report) TotalImpact() decimal.Decimal {
	total := decimal.Zero
	for _, d := range r.Discrepancies {
		total = total.Add(d.PotentialImpact)
	}
	return total
}
