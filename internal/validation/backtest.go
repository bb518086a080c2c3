// Package validation implements statistical model validation: VaR
// backtesting, return distribution diagnostics and model risk reporting.
package validation

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/atlas-desktop/risk-engine/pkg/types"
)

const (
	minBacktestObservations = 20
	testSignificance        = 0.05
)

// TestResult is the outcome of one statistical test.
type TestResult struct {
	Name          string        `json:"name"`
	Statistic     float64       `json:"statistic"`
	PValue        float64       `json:"p_value"`
	CriticalValue float64       `json:"critical_value,omitempty"`
	Verdict       types.Verdict `json:"verdict"`
	Details       string        `json:"details,omitempty"`
}

// BacktestResult summarizes a VaR backtest at one confidence level.
type BacktestResult struct {
	Confidence         float64 `json:"confidence"`
	Observations       int     `json:"observations"`
	Violations         int     `json:"violations"`
	ExpectedViolations float64 `json:"expected_violations"`
	ViolationRate      float64 `json:"violation_rate"`

	Kupiec              TestResult `json:"kupiec"`
	Independence        TestResult `json:"independence"`
	ConditionalCoverage TestResult `json:"conditional_coverage"`

	BaselZone types.BaselZone `json:"basel_zone"`
	Verdict   types.Verdict   `json:"verdict"`
}

// Backtest compares realized returns against VaR forecasts. A violation
// is a return below the negated forecast for that period.
func Backtest(returns, varForecasts []float64, confidence float64) (*BacktestResult, error) {
	if confidence <= 0 || confidence >= 1 {
		return nil, types.NewValidationError("confidence", "must be in (0, 1), got %v", confidence)
	}
	if len(returns) != len(varForecasts) {
		return nil, types.NewValidationError("var_forecasts",
			"length %d does not match %d returns", len(varForecasts), len(returns))
	}
	if len(returns) < minBacktestObservations {
		return nil, types.NewInsufficientDataError("VaR backtest", minBacktestObservations, len(returns))
	}

	violations := make([]bool, len(returns))
	count := 0
	for i, r := range returns {
		if r < -varForecasts[i] {
			violations[i] = true
			count++
		}
	}

	n := len(returns)
	p := 1 - confidence
	result := &BacktestResult{
		Confidence:         confidence,
		Observations:       n,
		Violations:         count,
		ExpectedViolations: float64(n) * p,
		ViolationRate:      float64(count) / float64(n),
	}

	result.Kupiec = kupiecPOF(n, count, p)
	result.Independence = christoffersenIndependence(violations)
	result.ConditionalCoverage = conditionalCoverage(result.Kupiec, result.Independence)
	result.BaselZone = baselTrafficLight(count, result.ExpectedViolations)
	result.Verdict = backtestVerdict(result)
	return result, nil
}

// Kupiec runs the proportion-of-failures test for a standalone violation
// count.
func Kupiec(violations, observations int, confidence float64) (TestResult, error) {
	if confidence <= 0 || confidence >= 1 {
		return TestResult{}, types.NewValidationError("confidence", "must be in (0, 1), got %v", confidence)
	}
	if violations < 0 || violations > observations {
		return TestResult{}, types.NewValidationError("violations",
			"must be in [0, %d], got %d", observations, violations)
	}
	if observations < minBacktestObservations {
		return TestResult{}, types.NewInsufficientDataError("Kupiec POF test", minBacktestObservations, observations)
	}
	return kupiecPOF(observations, violations, 1-confidence), nil
}

// Christoffersen runs the independence test for a standalone violation
// series.
func Christoffersen(violations []bool) (TestResult, error) {
	if len(violations) < minBacktestObservations {
		return TestResult{}, types.NewInsufficientDataError("Christoffersen test", minBacktestObservations, len(violations))
	}
	return christoffersenIndependence(violations), nil
}

// BaselTrafficLight classifies a violation count against its expectation
// under the given confidence level.
func BaselTrafficLight(violations, observations int, confidence float64) types.BaselZone {
	return baselTrafficLight(violations, float64(observations)*(1-confidence))
}

// kupiecPOF is the proportion-of-failures likelihood ratio test of
// unconditional coverage, asymptotically chi-squared with one degree of
// freedom.
func kupiecPOF(n, x int, p float64) TestResult {
	var lr float64
	switch {
	case x == 0:
		lr = 2 * float64(n) * math.Log(1/(1-p))
	case x == n:
		lr = 2 * float64(n) * math.Log(1/p)
	default:
		observed := float64(x) / float64(n)
		lr = -2 * (float64(n-x)*math.Log(1-p) + float64(x)*math.Log(p))
		lr += 2 * (float64(n-x)*math.Log(1-observed) + float64(x)*math.Log(observed))
	}

	pValue := chiSquaredSurvival(lr, 1)
	return TestResult{
		Name:      "kupiec_pof",
		Statistic: lr,
		PValue:    pValue,
		Verdict:   verdictFromPValue(pValue),
		Details:   fmt.Sprintf("%d violations in %d observations against coverage %.4f", x, n, p),
	}
}

// christoffersenIndependence tests whether violations cluster, using the
// first-order Markov transition likelihood ratio.
func christoffersenIndependence(violations []bool) TestResult {
	var n00, n01, n10, n11 float64
	for i := 1; i < len(violations); i++ {
		switch {
		case !violations[i-1] && !violations[i]:
			n00++
		case !violations[i-1] && violations[i]:
			n01++
		case violations[i-1] && !violations[i]:
			n10++
		default:
			n11++
		}
	}

	result := TestResult{Name: "christoffersen_independence"}
	total := n00 + n01 + n10 + n11
	hits := n01 + n11
	if total == 0 || hits == 0 || hits == total {
		// No transitions of both kinds: independence is untestable.
		result.PValue = 1
		result.Verdict = types.VerdictInconclusive
		result.Details = "too few violation transitions to test clustering"
		return result
	}

	pi := hits / total
	logL0 := (total-hits)*math.Log(1-pi) + hits*math.Log(pi)

	logL1 := 0.0
	if n00+n01 > 0 {
		pi01 := n01 / (n00 + n01)
		logL1 += xlog(n00, 1-pi01) + xlog(n01, pi01)
	}
	if n10+n11 > 0 {
		pi11 := n11 / (n10 + n11)
		logL1 += xlog(n10, 1-pi11) + xlog(n11, pi11)
	}

	lr := math.Max(0, -2*(logL0-logL1))
	pValue := chiSquaredSurvival(lr, 1)
	result.Statistic = lr
	result.PValue = pValue
	result.Verdict = verdictFromPValue(pValue)
	result.Details = fmt.Sprintf("transitions n00=%.0f n01=%.0f n10=%.0f n11=%.0f", n00, n01, n10, n11)
	return result
}

// conditionalCoverage combines coverage and independence, chi-squared
// with two degrees of freedom.
func conditionalCoverage(kupiec, independence TestResult) TestResult {
	if independence.Verdict == types.VerdictInconclusive {
		return TestResult{
			Name:      "conditional_coverage",
			Statistic: kupiec.Statistic,
			PValue:    kupiec.PValue,
			Verdict:   kupiec.Verdict,
			Details:   "independence untestable, coverage component only",
		}
	}

	lr := kupiec.Statistic + independence.Statistic
	pValue := chiSquaredSurvival(lr, 2)
	return TestResult{
		Name:      "conditional_coverage",
		Statistic: lr,
		PValue:    pValue,
		Verdict:   verdictFromPValue(pValue),
	}
}

// baselTrafficLight classifies the violation count relative to its
// expectation.
func baselTrafficLight(violations int, expected float64) types.BaselZone {
	switch {
	case float64(violations) <= expected+4:
		return types.BaselZoneGreen
	case float64(violations) <= expected+9:
		return types.BaselZoneYellow
	default:
		return types.BaselZoneRed
	}
}

func backtestVerdict(r *BacktestResult) types.Verdict {
	if r.BaselZone == types.BaselZoneRed || r.Kupiec.Verdict == types.VerdictFail {
		return types.VerdictFail
	}
	if r.BaselZone == types.BaselZoneYellow || r.Independence.Verdict == types.VerdictFail {
		return types.VerdictWarning
	}
	return types.VerdictPass
}

func verdictFromPValue(p float64) types.Verdict {
	if p > testSignificance {
		return types.VerdictPass
	}
	return types.VerdictFail
}

func chiSquaredSurvival(statistic float64, df float64) float64 {
	if statistic <= 0 {
		return 1
	}
	return distuv.ChiSquared{K: df}.Survival(statistic)
}

// xlog is n*log(p) with the 0*log(0) convention.
func xlog(n, p float64) float64 {
	if n == 0 {
		return 0
	}
	return n * math.Log(p)
}
