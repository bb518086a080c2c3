package portfolio

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/atlas-desktop/risk-engine/pkg/types"
)

func identityCorr(ids ...string) *CorrelationMatrix {
	n := len(ids)
	matrix := make([][]float64, n)
	eigenvalues := make([]float64, n)
	for i := range matrix {
		matrix[i] = make([]float64, n)
		matrix[i][i] = 1
		eigenvalues[i] = 1
	}
	return &CorrelationMatrix{
		AssetIDs:        ids,
		Matrix:          matrix,
		Method:          CorrelationHistorical,
		Eigenvalues:     eigenvalues,
		ConditionNumber: 1,
		PositiveSemiDef: true,
	}
}

func TestEstimateHistorical(t *testing.T) {
	e := NewEstimator(zap.NewNop())
	x := []float64{0.01, -0.02, 0.03, 0.005, -0.01, 0.02}
	inverse := make([]float64, len(x))
	for i, v := range x {
		inverse[i] = -v
	}

	cm, err := e.Estimate([]string{"a", "b"}, map[string][]float64{"a": x, "b": inverse},
		CorrelationHistorical, EstimateOptions{})
	require.NoError(t, err)

	assert.InDelta(t, -1, cm.Matrix[0][1], 1e-9)
	assert.InDelta(t, 1, cm.Matrix[0][0], 1e-12)
	assert.NoError(t, cm.Validate())
}

func TestEstimateValidation(t *testing.T) {
	e := NewEstimator(zap.NewNop())
	returns := map[string][]float64{"a": {0.01, 0.02}, "b": {0.01}}

	_, err := e.Estimate([]string{"a", "b"}, returns, CorrelationHistorical, EstimateOptions{})
	var verr *types.ValidationError
	require.ErrorAs(t, err, &verr)

	_, err = e.Estimate([]string{"a"}, returns, CorrelationHistorical, EstimateOptions{})
	require.ErrorAs(t, err, &verr)

	short := map[string][]float64{"a": {0.01}, "b": {0.02}}
	_, err = e.Estimate([]string{"a", "b"}, short, CorrelationHistorical, EstimateOptions{})
	var insufficientErr *types.InsufficientDataError
	require.ErrorAs(t, err, &insufficientErr)
}

func TestEWMAWeights(t *testing.T) {
	weights := ewmaWeights(10, 0.94)
	sum := 0.0
	for i, w := range weights {
		sum += w
		if i > 0 {
			assert.Greater(t, w, weights[i-1], "recent observations must weigh more")
		}
	}
	assert.InDelta(t, 1, sum, 1e-12)
}

func TestShrinkagePullsTowardTarget(t *testing.T) {
	e := NewEstimator(zap.NewNop())
	x := make([]float64, 10)
	y := make([]float64, 10)
	for i := range x {
		x[i] = 0.01 * float64(i%5)
		y[i] = x[i] + 0.0001*float64(i)
	}
	returns := map[string][]float64{"a": x, "b": y}

	sample, err := e.Estimate([]string{"a", "b"}, returns, CorrelationHistorical, EstimateOptions{})
	require.NoError(t, err)
	shrunk, err := e.Estimate([]string{"a", "b"}, returns, CorrelationShrinkage, EstimateOptions{})
	require.NoError(t, err)

	// Identity target: off-diagonal shrinks by the intensity (2+1)/10.
	assert.InDelta(t, sample.Matrix[0][1]*0.7, shrunk.Matrix[0][1], 1e-9)
	assert.True(t, shrunk.PositiveSemiDef)
}

func TestRegularizeIndefiniteMatrix(t *testing.T) {
	e := NewEstimator(zap.NewNop())
	cm := &CorrelationMatrix{
		AssetIDs: []string{"a", "b", "c"},
		Matrix: [][]float64{
			{1, 0.9, -0.9},
			{0.9, 1, 0.9},
			{-0.9, 0.9, 1},
		},
		Method: CorrelationHistorical,
	}

	require.NoError(t, e.finalize(cm))
	assert.True(t, cm.Regularized)
	assert.True(t, cm.PositiveSemiDef)
	assert.NotEmpty(t, cm.Warnings)
	for i := range cm.Matrix {
		assert.InDelta(t, 1, cm.Matrix[i][i], 1e-9)
	}
	assert.NoError(t, cm.Validate())
}

func newTestOptimizer() *Optimizer {
	return NewOptimizer(zap.NewNop(), 0.02, nil)
}

func TestMinVarianceEqualVolUncorrelated(t *testing.T) {
	o := newTestOptimizer()
	assets := []Asset{
		{ID: "a", ExpectedReturn: 0.05, Volatility: 0.2},
		{ID: "b", ExpectedReturn: 0.08, Volatility: 0.2},
	}

	alloc, err := o.Optimize(assets, identityCorr("a", "b"), ObjectiveMinVariance, Constraints{})
	require.NoError(t, err)
	require.True(t, alloc.Converged)

	assert.InDelta(t, 0.5, alloc.Weights["a"], 1e-3)
	assert.InDelta(t, 0.5, alloc.Weights["b"], 1e-3)
	assert.InDelta(t, 1, alloc.Weights["a"]+alloc.Weights["b"], 1e-9)
}

func TestMinVarianceWithTargetReturn(t *testing.T) {
	o := newTestOptimizer()
	assets := []Asset{
		{ID: "a", ExpectedReturn: 0.05, Volatility: 0.2},
		{ID: "b", ExpectedReturn: 0.10, Volatility: 0.2},
	}
	target := 0.075

	alloc, err := o.Optimize(assets, identityCorr("a", "b"), ObjectiveMinVariance,
		Constraints{TargetReturn: &target})
	require.NoError(t, err)
	require.True(t, alloc.Converged)

	assert.InDelta(t, target, alloc.ExpectedReturn, 1e-3)
	assert.InDelta(t, 0.5, alloc.Weights["a"], 0.02)
}

func TestMaxSharpeFavorsHigherExcessReturn(t *testing.T) {
	o := newTestOptimizer()
	assets := []Asset{
		{ID: "a", ExpectedReturn: 0.10, Volatility: 0.2},
		{ID: "b", ExpectedReturn: 0.02, Volatility: 0.2},
	}

	alloc, err := o.Optimize(assets, identityCorr("a", "b"), ObjectiveMaxSharpe, Constraints{})
	require.NoError(t, err)
	require.True(t, alloc.Converged)
	assert.Greater(t, alloc.Weights["a"], 0.6)
	assert.InDelta(t, 1, alloc.Weights["a"]+alloc.Weights["b"], 1e-9)
}

func TestMaxReturnSaturatesBounds(t *testing.T) {
	o := newTestOptimizer()
	assets := []Asset{
		{ID: "a", ExpectedReturn: 0.10, Volatility: 0.2, MaxWeight: 0.6},
		{ID: "b", ExpectedReturn: 0.05, Volatility: 0.2, MaxWeight: 0.6},
	}

	alloc, err := o.Optimize(assets, identityCorr("a", "b"), ObjectiveMaxReturn, Constraints{})
	require.NoError(t, err)
	require.True(t, alloc.Converged)
	assert.InDelta(t, 0.6, alloc.Weights["a"], 1e-9)
	assert.InDelta(t, 0.4, alloc.Weights["b"], 1e-9)
}

func TestRiskParityInverseVolatility(t *testing.T) {
	o := newTestOptimizer()
	assets := []Asset{
		{ID: "a", ExpectedReturn: 0.05, Volatility: 0.1},
		{ID: "b", ExpectedReturn: 0.08, Volatility: 0.2},
	}

	alloc, err := o.Optimize(assets, identityCorr("a", "b"), ObjectiveRiskParity, Constraints{})
	require.NoError(t, err)
	require.True(t, alloc.Converged)

	// Uncorrelated assets equalize risk at weights proportional to 1/vol.
	assert.InDelta(t, 2.0/3.0, alloc.Weights["a"], 1e-3)
	assert.InDelta(t, 1.0/3.0, alloc.Weights["b"], 1e-3)
}

// assertWithinBounds checks the bound and unit-sum invariants on an
// allocation.
func assertWithinBounds(t *testing.T, alloc *Allocation, assets []Asset) {
	t.Helper()
	sum := 0.0
	for _, a := range assets {
		w := alloc.Weights[a.ID]
		sum += w
		assert.GreaterOrEqual(t, w, a.MinWeight-1e-9, "weight for %s below its floor", a.ID)
		if a.MaxWeight > 0 {
			assert.LessOrEqual(t, w, a.MaxWeight+1e-9, "weight for %s above its cap", a.ID)
		}
	}
	assert.InDelta(t, 1, sum, 1e-6)
}

func TestOptimizeRespectsBindingBounds(t *testing.T) {
	o := newTestOptimizer()

	// Inverse-vol risk parity wants ~0.91 in the low-vol asset; the cap
	// must hold after the final rescale.
	parity := []Asset{
		{ID: "a", ExpectedReturn: 0.05, Volatility: 0.05, MaxWeight: 0.55},
		{ID: "b", ExpectedReturn: 0.08, Volatility: 0.50, MaxWeight: 1},
	}
	alloc, err := o.Optimize(parity, identityCorr("a", "b"), ObjectiveRiskParity, Constraints{})
	require.NoError(t, err)
	assertWithinBounds(t, alloc, parity)
	assert.InDelta(t, 0.55, alloc.Weights["a"], 1e-6)

	// Max Sharpe wants everything in the high-return asset.
	sharpe := []Asset{
		{ID: "a", ExpectedReturn: 0.12, Volatility: 0.2, MaxWeight: 0.5},
		{ID: "b", ExpectedReturn: 0.05, Volatility: 0.2, MaxWeight: 1},
	}
	alloc, err = o.Optimize(sharpe, identityCorr("a", "b"), ObjectiveMaxSharpe, Constraints{})
	require.NoError(t, err)
	assertWithinBounds(t, alloc, sharpe)

	// The analytic min-variance solution [0.5, 0.5] violates the floor,
	// forcing the penalty path.
	minVar := []Asset{
		{ID: "a", ExpectedReturn: 0.08, Volatility: 0.1, MinWeight: 0.6, MaxWeight: 1},
		{ID: "b", ExpectedReturn: 0.04, Volatility: 0.1, MaxWeight: 1},
	}
	alloc, err = o.Optimize(minVar, identityCorr("a", "b"), ObjectiveMinVariance, Constraints{})
	require.NoError(t, err)
	assertWithinBounds(t, alloc, minVar)
	assert.GreaterOrEqual(t, alloc.Weights["a"], 0.6-1e-9)
}

func TestRescaleWithinBounds(t *testing.T) {
	lower := []float64{0, 0}
	upper := []float64{0.55, 1}

	out := rescaleWithinBounds([]float64{0.91, 0.09}, lower, upper)
	assert.InDelta(t, 0.55, out[0], 1e-12)
	assert.InDelta(t, 0.45, out[1], 1e-12)

	// Excess above 1 is drained without dropping below a floor.
	out = rescaleWithinBounds([]float64{0.8, 0.8}, []float64{0.5, 0}, []float64{1, 1})
	assert.InDelta(t, 1, out[0]+out[1], 1e-9)
	assert.GreaterOrEqual(t, out[0], 0.5-1e-12)
}

func TestOptimizeInfeasibleBounds(t *testing.T) {
	o := newTestOptimizer()
	assets := []Asset{
		{ID: "a", ExpectedReturn: 0.05, Volatility: 0.2, MinWeight: 0.8},
		{ID: "b", ExpectedReturn: 0.08, Volatility: 0.2, MinWeight: 0.8},
	}

	_, err := o.Optimize(assets, identityCorr("a", "b"), ObjectiveMinVariance, Constraints{})
	var oerr *types.OptimizationError
	require.ErrorAs(t, err, &oerr)
	assert.Equal(t, "infeasible", oerr.Status)
}

func TestEfficientFrontier(t *testing.T) {
	o := newTestOptimizer()
	assets := []Asset{
		{ID: "a", ExpectedReturn: 0.04, Volatility: 0.1},
		{ID: "b", ExpectedReturn: 0.10, Volatility: 0.25},
	}

	frontier, err := o.EfficientFrontier(assets, identityCorr("a", "b"), 5)
	require.NoError(t, err)
	require.NotEmpty(t, frontier)

	for _, p := range frontier {
		sum := 0.0
		for _, w := range p.Weights {
			sum += w
		}
		assert.InDelta(t, 1, sum, 1e-6)
		assert.GreaterOrEqual(t, p.Volatility, 0.0)
	}
}

func TestEfficientFrontierRejectsInvalidInput(t *testing.T) {
	o := newTestOptimizer()
	var verr *types.ValidationError

	_, err := o.EfficientFrontier(nil, identityCorr(), 5)
	require.ErrorAs(t, err, &verr)

	assets := []Asset{
		{ID: "a", ExpectedReturn: 0.04, Volatility: 0.1},
		{ID: "b", ExpectedReturn: 0.10, Volatility: 0.25},
	}
	_, err = o.EfficientFrontier(assets, identityCorr("a", "b"), 1)
	require.ErrorAs(t, err, &verr)
}

func TestDiversificationEqualWeights(t *testing.T) {
	assets := []Asset{
		{ID: "a", ExpectedReturn: 0.05, Volatility: 0.2},
		{ID: "b", ExpectedReturn: 0.08, Volatility: 0.2},
	}
	weights := map[string]float64{"a": 0.5, "b": 0.5}

	m, err := Diversification(assets, identityCorr("a", "b"), weights)
	require.NoError(t, err)

	assert.InDelta(t, 2, m.EffectiveAssets, 1e-9)
	assert.InDelta(t, 0.5, m.HerfindahlIndex, 1e-9)
	assert.InDelta(t, math.Sqrt2, m.DiversificationRatio, 1e-9)

	totalPct := 0.0
	for _, rc := range m.RiskContributions {
		totalPct += rc.RiskPercentage
	}
	assert.InDelta(t, 100, totalPct, 1e-6)
}
