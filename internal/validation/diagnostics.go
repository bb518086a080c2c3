package validation

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/atlas-desktop/risk-engine/pkg/types"
)

const minDiagnosticObservations = 20

// ksCriticalFactor gives the 5% Kolmogorov-Smirnov critical value as
// ksCriticalFactor / sqrt(n) for large samples.
const ksCriticalFactor = 1.36

// JarqueBera tests returns for normality through skewness and excess
// kurtosis, chi-squared with two degrees of freedom.
func JarqueBera(returns []float64) (TestResult, error) {
	if len(returns) < minDiagnosticObservations {
		return TestResult{}, types.NewInsufficientDataError("Jarque-Bera test", minDiagnosticObservations, len(returns))
	}

	n := float64(len(returns))
	skew := stat.Skew(returns, nil)
	exKurt := stat.ExKurtosis(returns, nil)
	jb := n / 6 * (skew*skew + exKurt*exKurt/4)

	pValue := chiSquaredSurvival(jb, 2)
	return TestResult{
		Name:      "jarque_bera",
		Statistic: jb,
		PValue:    pValue,
		Verdict:   verdictFromPValue(pValue),
		Details:   fmt.Sprintf("skewness %.4f, excess kurtosis %.4f", skew, exKurt),
	}, nil
}

// KolmogorovSmirnov compares the empirical distribution of returns
// against a normal fitted to their sample moments.
func KolmogorovSmirnov(returns []float64) (TestResult, error) {
	if len(returns) < minDiagnosticObservations {
		return TestResult{}, types.NewInsufficientDataError("Kolmogorov-Smirnov test", minDiagnosticObservations, len(returns))
	}

	mean := stat.Mean(returns, nil)
	sigma := stat.StdDev(returns, nil)
	if sigma == 0 {
		return TestResult{
			Name:    "kolmogorov_smirnov",
			Verdict: types.VerdictInconclusive,
			Details: "degenerate sample, zero standard deviation",
		}, nil
	}

	sorted := make([]float64, len(returns))
	copy(sorted, returns)
	sort.Float64s(sorted)

	fitted := distuv.Normal{Mu: mean, Sigma: sigma}
	n := float64(len(sorted))
	maxDist := 0.0
	for i, x := range sorted {
		cdf := fitted.CDF(x)
		upper := math.Abs(float64(i+1)/n - cdf)
		lower := math.Abs(cdf - float64(i)/n)
		maxDist = math.Max(maxDist, math.Max(upper, lower))
	}

	critical := ksCriticalFactor / math.Sqrt(n)
	verdict := types.VerdictPass
	if maxDist > critical {
		verdict = types.VerdictFail
	}
	return TestResult{
		Name:          "kolmogorov_smirnov",
		Statistic:     maxDist,
		CriticalValue: critical,
		Verdict:       verdict,
		Details:       fmt.Sprintf("fitted normal mu=%.6f sigma=%.6f", mean, sigma),
	}, nil
}

// LjungBox tests returns for serial correlation up to the given number
// of lags, chi-squared with that many degrees of freedom.
func LjungBox(returns []float64, lags int) (TestResult, error) {
	if lags < 1 {
		return TestResult{}, types.NewValidationError("lags", "must be positive, got %d", lags)
	}
	if len(returns) <= lags+1 || len(returns) < minDiagnosticObservations {
		return TestResult{}, types.NewInsufficientDataError("Ljung-Box test", minDiagnosticObservations, len(returns))
	}

	n := float64(len(returns))
	q := 0.0
	for lag := 1; lag <= lags; lag++ {
		rho := autocorrelation(returns, lag)
		q += rho * rho / (n - float64(lag))
	}
	q *= n * (n + 2)

	pValue := chiSquaredSurvival(q, float64(lags))
	return TestResult{
		Name:      "ljung_box",
		Statistic: q,
		PValue:    pValue,
		Verdict:   verdictFromPValue(pValue),
		Details:   fmt.Sprintf("%d lags", lags),
	}, nil
}

// ARCHLM tests squared returns for first-order autocorrelation, the
// Lagrange multiplier screen for volatility clustering.
func ARCHLM(returns []float64) (TestResult, error) {
	if len(returns) < minDiagnosticObservations {
		return TestResult{}, types.NewInsufficientDataError("ARCH-LM test", minDiagnosticObservations, len(returns))
	}

	squared := make([]float64, len(returns))
	for i, r := range returns {
		squared[i] = r * r
	}

	rho := autocorrelation(squared, 1)
	lm := float64(len(returns)) * rho * rho
	pValue := chiSquaredSurvival(lm, 1)
	return TestResult{
		Name:      "arch_lm",
		Statistic: lm,
		PValue:    pValue,
		Verdict:   verdictFromPValue(pValue),
		Details:   fmt.Sprintf("lag-1 squared-return autocorrelation %.4f", rho),
	}, nil
}

func autocorrelation(series []float64, lag int) float64 {
	mean := stat.Mean(series, nil)
	var num, den float64
	for i := range series {
		d := series[i] - mean
		den += d * d
		if i >= lag {
			num += d * (series[i-lag] - mean)
		}
	}
	if den == 0 {
		return 0
	}
	return num / den
}
