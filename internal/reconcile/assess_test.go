package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAssessRiskLow(t *testing.T) {
	e := newTestEngine(t)
	report := e.Reconcile(testPortfolio())

	a := e.AssessRisk(report)

	assert.Equal(t, RiskLow, a.RiskLevel)
	assert.False(t, a.ShouldHaltTrading)
	assert.Empty(t, a.RecommendedActions)
}

func TestAssessRiskMediumOnModerateImpact(t *testing.T) {
	e := newTestEngine(t)
	pf := testPortfolio()
	pf.Equity = pf.Equity.Add(dec(30)) // high severity, impact 30 > 25

	a := e.AssessRisk(e.Reconcile(pf))

	assert.Equal(t, RiskMedium, a.RiskLevel)
	assert.False(t, a.ShouldHaltTrading)
	assert.NotEmpty(t, a.RecommendedActions)
}

func TestAssessRiskHighHalts(t *testing.T) {
	t.Run("on total impact", func(t *testing.T) {
		e := newTestEngine(t)
		pf := testPortfolio()
		// Three high-tier drifts, none individually critical
		pf.Equity = pf.Equity.Add(dec(45))
		pf.TotalPnL = pf.TotalPnL.Add(dec(45))
		pf.AvailableBalance = pf.AvailableBalance.Add(dec(45))

		a := e.AssessRisk(e.Reconcile(pf))

		assert.Equal(t, RiskHigh, a.RiskLevel)
		assert.True(t, a.ShouldHaltTrading)
	})

	t.Run("on negative balance flag", func(t *testing.T) {
		e := newTestEngine(t)
		pf := testPortfolio()
		pf.AvailableBalance = dec(-20)

		a := e.AssessRisk(e.Reconcile(pf))

		assert.True(t, a.ShouldHaltTrading)
		assert.NotEqual(t, RiskLow, a.RiskLevel)
	})
}

func TestAssessRiskCriticalAlwaysHalts(t *testing.T) {
	e := newTestEngine(t)
	pf := testPortfolio()
	pf.Equity = pf.Equity.Add(dec(500))

	a := e.AssessRisk(e.Reconcile(pf))

	assert.Equal(t, RiskCritical, a.RiskLevel)
	assert.True(t, a.ShouldHaltTrading)
	assert.NotEmpty(t, a.RecommendedActions)
}

func TestAssessRiskCriticalDominatesImpact(t *testing.T) {
	// A single corrupt position outranks any impact arithmetic
	e := newTestEngine(t)
	pf := testPortfolio()
	pf.Positions[0].CurrentPrice = dec(-1)
	settle(pf)

	a := e.AssessRisk(e.Reconcile(pf))

	assert.Equal(t, RiskCritical, a.RiskLevel)
	assert.True(t, a.ShouldHaltTrading)
}
