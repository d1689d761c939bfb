package reconcile

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCorrectRewritesAggregates(t *testing.T) {
	e := newTestEngine(t)
	pf := testPortfolio()
	pf.Equity = pf.Equity.Add(dec(5))
	pf.TotalPnL = pf.TotalPnL.Sub(dec(3))

	report := e.Reconcile(pf)
	require.False(t, report.IsConsistent)
	require.False(t, report.HasCriticalDiscrepancies)

	corrected := e.Correct(pf, report)

	assert.NotSame(t, pf, corrected)
	assert.True(t, corrected.Equity.Equal(report.Calculated.ExpectedEquity))
	assert.True(t, corrected.TotalPnL.Equal(report.Calculated.ExpectedTotalPnL))
	assert.True(t, corrected.AvailableBalance.Equal(report.Calculated.ExpectedAvailableBalance))

	// The corrected portfolio must reconcile clean
	assert.True(t, e.Reconcile(corrected).IsConsistent)
}

func TestCorrectIsNoOpOnCritical(t *testing.T) {
	e := newTestEngine(t)
	pf := testPortfolio()
	pf.Equity = pf.Equity.Add(dec(500))

	report := e.Reconcile(pf)
	require.True(t, report.HasCriticalDiscrepancies)

	corrected := e.Correct(pf, report)

	assert.Same(t, pf, corrected)
	assert.True(t, corrected.Equity.Equal(report.Calculated.ExpectedEquity.Add(dec(500))))
}

func TestCorrectRewritesSmallPositionDrift(t *testing.T) {
	e := newTestEngine(t)
	pf := testPortfolio()
	pf.Positions[0].UnrealizedPnL = dec(52) // drift 2, inside [tolerance, high)

	report := e.Reconcile(pf)
	corrected := e.Correct(pf, report)

	assert.True(t, corrected.Positions[0].UnrealizedPnL.Equal(dec(50)))
	// input untouched
	assert.True(t, pf.Positions[0].UnrealizedPnL.Equal(dec(52)))
}

func TestCorrectLeavesLargePositionDriftAlone(t *testing.T) {
	e := newTestEngine(t)
	pf := testPortfolio()
	pf.Positions[0].UnrealizedPnL = dec(80) // drift 30, high tier

	report := e.Reconcile(pf)
	require.False(t, report.HasCriticalDiscrepancies)

	corrected := e.Correct(pf, report)

	// Aggregates fixed, but a high-tier position rewrite needs a human
	assert.True(t, corrected.Positions[0].UnrealizedPnL.Equal(dec(80)))
	assert.True(t, corrected.Equity.Equal(report.Calculated.ExpectedEquity))
}

func TestCorrectSkipsCorruptPositions(t *testing.T) {
	e := newTestEngine(t)
	pf := testPortfolio()
	pf.Positions[0].CurrentPrice = decimal.Zero
	settle(pf)

	report := e.Reconcile(pf)
	require.True(t, report.HasCriticalDiscrepancies)

	// Critical report: no-op, nothing touched
	corrected := e.Correct(pf, report)
	assert.Same(t, pf, corrected)
}
