package reconcile

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantbyte/coinwatch/internal/portfolio"
)

func dec(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

// settle derives the stated aggregates from the positions so the portfolio
// starts out internally consistent; tests then introduce drift on top
func settle(pf *portfolio.Portfolio) {
	unrealized := decimal.Zero
	realized := decimal.Zero
	margin := decimal.Zero
	for i := range pf.Positions {
		p := &pf.Positions[i]
		switch p.Status {
		case portfolio.StatusOpen:
			unrealized = unrealized.Add(p.UnrealizedPnL)
			margin = margin.Add(p.Notional())
		case portfolio.StatusClosed:
			realized = realized.Add(p.RealizedPnL)
		}
	}
	pf.TotalPnL = realized.Add(unrealized)
	pf.Equity = pf.BaseCapital.Add(pf.TotalPnL).Add(pf.LockedProfits)
	pf.AvailableBalance = pf.Equity.Sub(pf.LockedProfits).Sub(margin)
}

func testPortfolio() *portfolio.Portfolio {
	pf := &portfolio.Portfolio{
		BaseCapital: dec(10000),
		Positions: []portfolio.Position{
			{
				ID:            "pos-1",
				Symbol:        "BTCUSDT",
				Side:          portfolio.SideBuy,
				Size:          dec(0.1),
				EntryPrice:    dec(50000),
				CurrentPrice:  dec(50500),
				UnrealizedPnL: dec(50),
				Status:        portfolio.StatusOpen,
				Timestamp:     time.Now().Add(-5 * time.Minute),
			},
			{
				ID:          "pos-2",
				Symbol:      "ETHUSDT",
				Side:        portfolio.SideSell,
				Size:        dec(1),
				EntryPrice:  dec(3000),
				RealizedPnL: dec(25),
				Status:      portfolio.StatusClosed,
				Timestamp:   time.Now().Add(-30 * time.Minute),
			},
		},
	}
	settle(pf)
	return pf
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(DefaultConfig())
	require.NoError(t, err)
	return e
}

func TestNewEngineRejectsBadLadder(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HighThreshold = dec(100)
	cfg.CriticalThreshold = dec(50)
	_, err := NewEngine(cfg)
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.Tolerance = dec(20)
	_, err = NewEngine(cfg)
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.LeverageLimit = decimal.Zero
	_, err = NewEngine(cfg)
	assert.Error(t, err)
}

func TestReconcileConsistentPortfolio(t *testing.T) {
	e := newTestEngine(t)
	pf := testPortfolio()

	report := e.Reconcile(pf)

	assert.True(t, report.IsConsistent)
	assert.False(t, report.HasCriticalDiscrepancies)
	assert.Empty(t, report.Discrepancies)
	assert.Equal(t, 1, report.Metadata.OpenPositions)
	assert.Equal(t, 1, report.Metadata.ClosedPositions)
	assert.NotEmpty(t, report.Metadata.RunID)

	assert.True(t, report.Calculated.ExpectedTotalPnL.Equal(dec(75)))
	assert.True(t, report.Calculated.ExpectedEquity.Equal(dec(10075)))
	assert.True(t, report.Calculated.ExpectedUnrealizedPnL.Equal(dec(50)))
	assert.True(t, report.Calculated.ExpectedRealizedPnL.Equal(dec(25)))
}

func TestReconcileDoesNotMutateInput(t *testing.T) {
	e := newTestEngine(t)
	pf := testPortfolio()
	pf.Equity = pf.Equity.Add(dec(500))
	before := pf.Clone()

	e.Reconcile(pf)

	assert.True(t, pf.Equity.Equal(before.Equity))
	assert.True(t, pf.TotalPnL.Equal(before.TotalPnL))
	assert.Equal(t, len(before.Positions), len(pf.Positions))
	for i := range pf.Positions {
		assert.True(t, pf.Positions[i].UnrealizedPnL.Equal(before.Positions[i].UnrealizedPnL))
	}
}

func TestReconcileIsIdempotent(t *testing.T) {
	e := newTestEngine(t)
	pf := testPortfolio()
	pf.TotalPnL = pf.TotalPnL.Add(dec(30))

	first := e.Reconcile(pf)
	second := e.Reconcile(pf)

	assert.Equal(t, len(first.Discrepancies), len(second.Discrepancies))
	assert.Equal(t, first.IsConsistent, second.IsConsistent)
	assert.True(t, first.TotalImpact().Equal(second.TotalImpact()))
}

func TestReconcileSeverityTiers(t *testing.T) {
	tests := []struct {
		name     string
		drift    decimal.Decimal
		expected Severity
	}{
		{"within tolerance", dec(0.05), ""},
		{"medium drift", dec(5), SeverityMedium},
		{"high drift", dec(30), SeverityHigh},
		{"critical drift", dec(500), SeverityCritical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(t)
			pf := testPortfolio()
			pf.Equity = pf.Equity.Add(tt.drift)

			report := e.Reconcile(pf)

			if tt.expected == "" {
				assert.True(t, report.IsConsistent)
				return
			}

			require.Len(t, report.Discrepancies, 1)
			d := report.Discrepancies[0]
			assert.Equal(t, "equity", d.Field)
			assert.Equal(t, tt.expected, d.Severity)
			assert.True(t, d.Difference.Equal(tt.drift))
		})
	}
}

func TestReconcileFlagsPositionPnLDrift(t *testing.T) {
	e := newTestEngine(t)
	pf := testPortfolio()
	pf.Positions[0].UnrealizedPnL = dec(55) // true value is 50

	report := e.Reconcile(pf)

	// Position drift cascades into every aggregate built from it
	assert.False(t, report.IsConsistent)
	fields := make(map[string]Severity)
	for _, d := range report.Discrepancies {
		fields[d.Field] = d.Severity
	}
	assert.Equal(t, SeverityMedium, fields["position.pos-1.unrealizedPnL"])
	assert.Contains(t, fields, "equity")
	assert.Contains(t, fields, "totalPnL")
}

func TestReconcileCorruptPriceIsAlwaysCritical(t *testing.T) {
	e := newTestEngine(t)
	pf := testPortfolio()
	pf.Positions[0].CurrentPrice = decimal.Zero
	settle(pf)

	report := e.Reconcile(pf)

	assert.True(t, report.HasCriticalDiscrepancies)
	found := false
	for _, d := range report.Discrepancies {
		if d.Field == "position.pos-1.currentPrice" {
			found = true
			assert.Equal(t, SeverityCritical, d.Severity)
		}
	}
	assert.True(t, found)
}

func TestReconcileCorruptSizeIsAlwaysCritical(t *testing.T) {
	e := newTestEngine(t)
	pf := testPortfolio()
	pf.Positions[0].Size = dec(-0.1)
	settle(pf)

	report := e.Reconcile(pf)

	assert.True(t, report.HasCriticalDiscrepancies)
	found := false
	for _, d := range report.Discrepancies {
		if d.Field == "position.pos-1.size" {
			found = true
			assert.Equal(t, SeverityCritical, d.Severity)
		}
	}
	assert.True(t, found)
}

func TestReconcileLeverageBreach(t *testing.T) {
	e := newTestEngine(t)
	pf := &portfolio.Portfolio{
		BaseCapital: dec(100),
		Positions: []portfolio.Position{
			{
				ID:           "lev-1",
				Symbol:       "BTCUSDT",
				Side:         portfolio.SideBuy,
				Size:         dec(1),
				EntryPrice:   dec(1000),
				CurrentPrice: dec(1000),
				Status:       portfolio.StatusOpen,
				Timestamp:    time.Now(),
			},
		},
	}
	settle(pf)

	report := e.Reconcile(pf)

	assert.True(t, report.HasCriticalDiscrepancies)
	found := false
	for _, d := range report.Discrepancies {
		if d.Field == "leverage" {
			found = true
			assert.Equal(t, SeverityCritical, d.Severity)
		}
	}
	assert.True(t, found)
	assert.True(t, report.RiskFlags.NegativeBalance)
}

func TestReconcileRiskFlags(t *testing.T) {
	t.Run("negative balance", func(t *testing.T) {
		e := newTestEngine(t)
		pf := testPortfolio()
		pf.AvailableBalance = dec(-20)
		report := e.Reconcile(pf)
		assert.True(t, report.RiskFlags.NegativeBalance)
	})

	t.Run("exceeded capital ceiling", func(t *testing.T) {
		e := newTestEngine(t)
		pf := testPortfolio()
		pf.Equity = pf.BaseCapital.Mul(dec(3))
		report := e.Reconcile(pf)
		assert.True(t, report.RiskFlags.ExceededCapital)
	})

	t.Run("large discrepancy", func(t *testing.T) {
		e := newTestEngine(t)
		pf := testPortfolio()
		pf.Equity = pf.Equity.Add(dec(30))
		report := e.Reconcile(pf)
		assert.True(t, report.RiskFlags.LargeDiscrepancy)
	})

	t.Run("stale positions", func(t *testing.T) {
		e := newTestEngine(t)
		pf := testPortfolio()
		pf.Positions[0].Timestamp = time.Now().Add(-2 * time.Hour)
		report := e.Reconcile(pf)
		assert.True(t, report.RiskFlags.StalePositions)
	})

	t.Run("clean portfolio has no flags", func(t *testing.T) {
		e := newTestEngine(t)
		report := e.Reconcile(testPortfolio())
		assert.Equal(t, RiskFlags{}, report.RiskFlags)
	})
}

func TestReconcileSellSidePnL(t *testing.T) {
	e := newTestEngine(t)
	pf := &portfolio.Portfolio{
		BaseCapital: dec(10000),
		Positions: []portfolio.Position{
			{
				ID:            "short-1",
				Symbol:        "ETHUSDT",
				Side:          portfolio.SideSell,
				Size:          dec(1),
				EntryPrice:    dec(3000),
				CurrentPrice:  dec(2900),
				UnrealizedPnL: dec(100), // price fell, short profits
				Status:        portfolio.StatusOpen,
				Timestamp:     time.Now(),
			},
		},
	}
	settle(pf)

	report := e.Reconcile(pf)
	assert.True(t, report.IsConsistent)
}

func TestReconcileStaleClockInjection(t *testing.T) {
	e := newTestEngine(t)
	fixed := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return fixed }

	pf := testPortfolio()
	pf.Positions[0].Timestamp = fixed.Add(-59 * time.Minute)
	assert.False(t, e.Reconcile(pf).RiskFlags.StalePositions)

	pf.Positions[0].Timestamp = fixed.Add(-61 * time.Minute)
	assert.True(t, e.Reconcile(pf).RiskFlags.StalePositions)
}
