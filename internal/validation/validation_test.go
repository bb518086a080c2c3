package validation

import (
	"context"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/atlas-desktop/risk-engine/pkg/types"
)

// spreadViolations builds a return series with the given number of
// violations spaced evenly, against a constant forecast of 0.01.
func spreadViolations(n, violations int) (returns, forecasts []float64) {
	returns = make([]float64, n)
	forecasts = make([]float64, n)
	step := n / violations
	for i := range returns {
		returns[i] = 0.001
		forecasts[i] = 0.01
		if violations > 0 && i%step == 0 && i/step < violations {
			returns[i] = -0.02
		}
	}
	return returns, forecasts
}

// normalGrid returns n points from the standard normal quantile grid,
// a deterministic sample with normal shape.
func normalGrid(n int) []float64 {
	dist := distuv.Normal{Mu: 0, Sigma: 1}
	out := make([]float64, n)
	for i := range out {
		out[i] = dist.Quantile((float64(i) + 0.5) / float64(n))
	}
	return out
}

func TestBacktestAcceptsAccurateModel(t *testing.T) {
	returns, forecasts := spreadViolations(250, 13)

	result, err := Backtest(returns, forecasts, 0.95)
	require.NoError(t, err)

	assert.Equal(t, 13, result.Violations)
	assert.InDelta(t, 12.5, result.ExpectedViolations, 1e-9)
	assert.Equal(t, types.VerdictPass, result.Kupiec.Verdict)
	assert.Greater(t, result.Kupiec.PValue, 0.05)
	assert.Equal(t, types.BaselZoneGreen, result.BaselZone)
	assert.Equal(t, types.VerdictPass, result.Verdict)
}

func TestBacktestFlagsUndersizedVaR(t *testing.T) {
	// 40 violations in 250 observations against 5% coverage.
	returns, forecasts := spreadViolations(250, 40)

	result, err := Backtest(returns, forecasts, 0.95)
	require.NoError(t, err)

	assert.Equal(t, types.VerdictFail, result.Kupiec.Verdict)
	assert.Equal(t, types.BaselZoneRed, result.BaselZone)
	assert.Equal(t, types.VerdictFail, result.Verdict)
}

func TestBacktestInputValidation(t *testing.T) {
	returns, forecasts := spreadViolations(250, 13)

	var verr *types.ValidationError
	_, err := Backtest(returns, forecasts, 1.2)
	require.ErrorAs(t, err, &verr)

	_, err = Backtest(returns, forecasts[:100], 0.95)
	require.ErrorAs(t, err, &verr)

	var derr *types.InsufficientDataError
	_, err = Backtest(returns[:10], forecasts[:10], 0.95)
	require.ErrorAs(t, err, &derr)
}

func TestKupiecEdgeCases(t *testing.T) {
	zero := kupiecPOF(250, 0, 0.05)
	assert.InDelta(t, 2*250*math.Log(1/0.95), zero.Statistic, 1e-9)
	assert.Equal(t, types.VerdictFail, zero.Verdict, "zero violations against 5% coverage is itself suspicious")

	all := kupiecPOF(250, 250, 0.05)
	assert.InDelta(t, 2*250*math.Log(1/0.05), all.Statistic, 1e-9)
	assert.Equal(t, types.VerdictFail, all.Verdict)
}

func TestChristoffersenDetectsClustering(t *testing.T) {
	// All violations in one consecutive run.
	violations := make([]bool, 250)
	for i := 100; i < 113; i++ {
		violations[i] = true
	}

	result := christoffersenIndependence(violations)
	assert.Equal(t, types.VerdictFail, result.Verdict)
	assert.Less(t, result.PValue, 0.05)
}

func TestStandaloneTests(t *testing.T) {
	result, err := Kupiec(13, 250, 0.95)
	require.NoError(t, err)
	assert.Equal(t, types.VerdictPass, result.Verdict)

	_, err = Kupiec(300, 250, 0.95)
	var verr *types.ValidationError
	require.ErrorAs(t, err, &verr)

	assert.Equal(t, types.BaselZoneGreen, BaselTrafficLight(13, 250, 0.95))
	assert.Equal(t, types.BaselZoneRed, BaselTrafficLight(30, 250, 0.95))

	violations := make([]bool, 100)
	violations[10], violations[40], violations[70] = true, true, true
	indep, err := Christoffersen(violations)
	require.NoError(t, err)
	assert.NotEqual(t, types.VerdictFail, indep.Verdict)
}

func TestBaselTrafficLightBoundaries(t *testing.T) {
	assert.Equal(t, types.BaselZoneGreen, baselTrafficLight(16, 12.5))
	assert.Equal(t, types.BaselZoneYellow, baselTrafficLight(17, 12.5))
	assert.Equal(t, types.BaselZoneYellow, baselTrafficLight(21, 12.5))
	assert.Equal(t, types.BaselZoneRed, baselTrafficLight(22, 12.5))
}

func TestJarqueBera(t *testing.T) {
	normal, err := JarqueBera(normalGrid(300))
	require.NoError(t, err)
	assert.Equal(t, types.VerdictPass, normal.Verdict)

	// Squared normal draws are heavily right-skewed.
	skewed := normalGrid(300)
	for i, v := range skewed {
		skewed[i] = v * v
	}
	heavy, err := JarqueBera(skewed)
	require.NoError(t, err)
	assert.Equal(t, types.VerdictFail, heavy.Verdict)

	var derr *types.InsufficientDataError
	_, err = JarqueBera(normalGrid(5))
	require.ErrorAs(t, err, &derr)
}

func TestKolmogorovSmirnov(t *testing.T) {
	normal, err := KolmogorovSmirnov(normalGrid(300))
	require.NoError(t, err)
	assert.Equal(t, types.VerdictPass, normal.Verdict)
	assert.Less(t, normal.Statistic, normal.CriticalValue)

	skewed := normalGrid(300)
	for i, v := range skewed {
		skewed[i] = v * v
	}
	heavy, err := KolmogorovSmirnov(skewed)
	require.NoError(t, err)
	assert.Equal(t, types.VerdictFail, heavy.Verdict)
}

func TestLjungBoxDetectsSerialCorrelation(t *testing.T) {
	// Alternating series is perfectly negatively autocorrelated.
	series := make([]float64, 200)
	for i := range series {
		if i%2 == 0 {
			series[i] = 0.01
		} else {
			series[i] = -0.01
		}
	}

	result, err := LjungBox(series, 10)
	require.NoError(t, err)
	assert.Equal(t, types.VerdictFail, result.Verdict)
	assert.Less(t, result.PValue, 0.05)

	var verr *types.ValidationError
	_, err = LjungBox(series, 0)
	require.ErrorAs(t, err, &verr)
}

func TestARCHLMDetectsVolatilityClustering(t *testing.T) {
	// Alternate runs of high and low volatility.
	series := make([]float64, 200)
	sign := 1.0
	for i := range series {
		scale := 0.001
		if (i/10)%2 == 0 {
			scale = 0.05
		}
		series[i] = sign * scale
		sign = -sign
	}

	result, err := ARCHLM(series)
	require.NoError(t, err)
	assert.Equal(t, types.VerdictFail, result.Verdict)
}

func TestValidateModel(t *testing.T) {
	validator := NewValidator(zap.NewNop(), nil)

	src := rand.NewPCG(17, 0)
	dist := distuv.Normal{Mu: 0, Sigma: 0.01, Src: src}
	returns := make([]float64, 300)
	for i := range returns {
		returns[i] = dist.Rand()
	}
	forecast95 := make([]float64, len(returns))
	forecast99 := make([]float64, len(returns))
	for i := range returns {
		forecast95[i] = 1.645 * 0.01
		forecast99[i] = 2.326 * 0.01
	}

	report, err := validator.ValidateModel(context.Background(), ModelInput{
		ModelName: "parametric-normal",
		Returns:   returns,
		VaRForecasts: map[float64][]float64{
			0.99: forecast99,
			0.95: forecast95,
		},
	})
	require.NoError(t, err)

	assert.NotEmpty(t, report.ReportID)
	require.Len(t, report.Backtests, 2)
	assert.Equal(t, 0.95, report.Backtests[0].Confidence, "backtests sorted by confidence")
	assert.Equal(t, 0.99, report.Backtests[1].Confidence)
	require.Len(t, report.Diagnostics, 4)
	assert.LessOrEqual(t, report.ModelRiskScore, 100.0)
	assert.Equal(t, rateModelRisk(report.ModelRiskScore), report.RiskRating)
}

func TestValidateModelInputValidation(t *testing.T) {
	validator := NewValidator(zap.NewNop(), nil)
	var verr *types.ValidationError

	_, err := validator.ValidateModel(context.Background(), ModelInput{Returns: []float64{0.1}})
	require.ErrorAs(t, err, &verr)

	_, err = validator.ValidateModel(context.Background(), ModelInput{ModelName: "m", Returns: []float64{0.1}})
	require.ErrorAs(t, err, &verr)
}

func TestValidateModelCanceledContext(t *testing.T) {
	validator := NewValidator(zap.NewNop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := validator.ValidateModel(ctx, ModelInput{
		ModelName:    "parametric-normal",
		Returns:      []float64{0.01, -0.02},
		VaRForecasts: map[float64][]float64{0.95: {0.03, 0.03}},
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestRateModelRiskBuckets(t *testing.T) {
	assert.Equal(t, types.RiskRatingLow, rateModelRisk(10))
	assert.Equal(t, types.RiskRatingMedium, rateModelRisk(30))
	assert.Equal(t, types.RiskRatingHigh, rateModelRisk(60))
	assert.Equal(t, types.RiskRatingCritical, rateModelRisk(90))
}
