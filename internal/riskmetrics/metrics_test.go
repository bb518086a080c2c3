package riskmetrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/atlas-desktop/risk-engine/pkg/types"
)

func newTestCalculator() *Calculator {
	return NewCalculator(zap.NewNop(), types.DefaultMetricsConfig())
}

// linearly spaced returns from -5% to +4.9%
func rampReturns() []float64 {
	returns := make([]float64, 100)
	for i := range returns {
		returns[i] = -0.05 + 0.001*float64(i)
	}
	return returns
}

func TestHistoricalVaRMonotonicity(t *testing.T) {
	c := newTestCalculator()
	returns := rampReturns()

	var95, err := c.HistoricalVaR(returns, 0.95)
	require.NoError(t, err)
	var99, err := c.HistoricalVaR(returns, 0.99)
	require.NoError(t, err)

	assert.Greater(t, var95, 0.0)
	assert.GreaterOrEqual(t, var99, var95,
		"VaR magnitude must not decrease with confidence")
}

func TestExpectedShortfallDominatesVaR(t *testing.T) {
	c := newTestCalculator()
	returns := rampReturns()

	for _, conf := range []float64{0.9, 0.95, 0.99} {
		v, err := c.HistoricalVaR(returns, conf)
		require.NoError(t, err)
		es, err := c.ExpectedShortfall(returns, conf)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, es, v, "ES must dominate VaR at confidence %v", conf)
	}
}

func TestParametricVaR(t *testing.T) {
	c := newTestCalculator()

	normal, err := c.ParametricVaR(0, 0.02, 0.95, 1, DistributionNormal)
	require.NoError(t, err)
	assert.InDelta(t, 0.0329, normal, 1e-3)

	studentT, err := c.ParametricVaR(0, 0.02, 0.95, 1, DistributionStudentT)
	require.NoError(t, err)
	assert.Greater(t, studentT, normal,
		"fat-tailed VaR should exceed normal VaR at the same confidence")

	_, err = c.ParametricVaR(0, 0.02, 0.95, 1, ReturnDistribution("cauchy"))
	var verr *types.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestVaRRejectsBadConfidence(t *testing.T) {
	c := newTestCalculator()
	for _, conf := range []float64{0, 1, -0.5, 1.5} {
		_, err := c.HistoricalVaR(rampReturns(), conf)
		var verr *types.ValidationError
		require.ErrorAs(t, err, &verr, "confidence %v should be rejected", conf)
	}
}

func TestComputeInsufficientData(t *testing.T) {
	c := newTestCalculator()
	_, err := c.Compute([]float64{0.01}, Options{})

	var insufficientErr *types.InsufficientDataError
	require.ErrorAs(t, err, &insufficientErr)
	assert.Equal(t, 2, insufficientErr.Required)
}

func TestComputeMaxDrawdown(t *testing.T) {
	c := newTestCalculator()
	m, err := c.Compute([]float64{0.1, -0.5, 0.2}, Options{})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, m.MaxDrawdown, 1e-12)
}

func TestComputeDefaultsRatiosWithWarnings(t *testing.T) {
	c := newTestCalculator()

	// Constant positive returns: zero volatility, zero drawdown, no
	// downside observations. Every ratio must default to 0 and say so.
	m, err := c.Compute([]float64{0.01, 0.01, 0.01, 0.01}, Options{})
	require.NoError(t, err)

	assert.Equal(t, 0.0, m.SharpeRatio)
	assert.Equal(t, 0.0, m.SortinoRatio)
	assert.Equal(t, 0.0, m.CalmarRatio)
	assert.NotEmpty(t, m.Warnings)

	found := false
	for _, w := range m.Warnings {
		if w == "sharpe_ratio defaulted to 0: zero denominator" {
			found = true
		}
	}
	assert.True(t, found, "sharpe default must be surfaced as a warning, got %v", m.Warnings)
}

func TestComputeFullSeries(t *testing.T) {
	c := newTestCalculator()
	m, err := c.Compute(rampReturns(), Options{})
	require.NoError(t, err)

	assert.Equal(t, 100, m.Observations)
	assert.InDelta(t, 0.5, m.ProbabilityOfLoss, 1e-12)
	assert.InDelta(t, 0.5, m.WinRate, 1e-12)
	assert.Greater(t, m.Volatility, 0.0)
	assert.NotZero(t, m.SharpeRatio)
	assert.GreaterOrEqual(t, m.ES95, m.VaR95)
	assert.GreaterOrEqual(t, m.ES99, m.VaR99)
	assert.Greater(t, m.TailRisk, 0.0)
}

func TestComputeBenchmarkRelative(t *testing.T) {
	c := newTestCalculator()
	returns := []float64{0.01, -0.02, 0.03, 0.005}

	m, err := c.Compute(returns, Options{BenchmarkReturns: returns})
	require.NoError(t, err)

	// Identical series: unit beta and capture, zero tracking error.
	assert.InDelta(t, 1.0, m.Beta, 1e-12)
	assert.InDelta(t, 1.0, m.UpsideCapture, 1e-12)
	assert.InDelta(t, 1.0, m.DownsideCapture, 1e-12)
	assert.InDelta(t, 0.0, m.TrackingError, 1e-12)

	_, err = c.Compute(returns, Options{BenchmarkReturns: []float64{0.01}})
	var verr *types.ValidationError
	require.ErrorAs(t, err, &verr)
}
