// Package riskmetrics computes value-at-risk, expected shortfall and
// risk-adjusted performance metrics on return series.
package riskmetrics

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/atlas-desktop/risk-engine/pkg/types"
)

// ReturnDistribution selects the parametric VaR distribution.
type ReturnDistribution string

const (
	DistributionNormal   ReturnDistribution = "normal"
	DistributionStudentT ReturnDistribution = "student_t"
)

// HistoricalVaR estimates VaR as the empirical (1-confidence) quantile of
// the return series, reported as a positive loss magnitude.
func (c *Calculator) HistoricalVaR(returns []float64, confidence float64) (float64, error) {
	if err := checkConfidence(confidence); err != nil {
		return 0, err
	}
	if len(returns) == 0 {
		return 0, types.NewInsufficientDataError("historical VaR", 1, 0)
	}
	return math.Abs(percentile(returns, (1-confidence)*100)), nil
}

// ParametricVaR estimates VaR from distribution parameters, scaled to the
// given horizon. Student-t uses the configured degrees of freedom.
func (c *Calculator) ParametricVaR(meanReturn, volatility, confidence, horizon float64, dist ReturnDistribution) (float64, error) {
	if err := checkConfidence(confidence); err != nil {
		return 0, err
	}
	if volatility < 0 {
		return 0, types.NewValidationError("volatility", "must be non-negative, got %v", volatility)
	}
	if horizon <= 0 {
		return 0, types.NewValidationError("horizon", "must be positive, got %v", horizon)
	}

	horizonMean := meanReturn * horizon
	horizonVol := volatility * math.Sqrt(horizon)

	var score float64
	switch dist {
	case DistributionNormal:
		score = distuv.Normal{Mu: 0, Sigma: 1}.Quantile(1 - confidence)
	case DistributionStudentT:
		df := c.config.DegreesOfFreedom
		if df <= 2 {
			return 0, types.NewValidationError("degrees_of_freedom", "must exceed 2, got %v", df)
		}
		score = distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}.Quantile(1 - confidence)
	default:
		return 0, types.NewValidationError("distribution", "unsupported distribution %q", dist)
	}

	return math.Abs(horizonMean + score*horizonVol), nil
}

// MonteCarloVaR estimates VaR as the empirical quantile of simulated
// returns.
func (c *Calculator) MonteCarloVaR(simulatedReturns []float64, confidence float64) (float64, error) {
	if err := checkConfidence(confidence); err != nil {
		return 0, err
	}
	if len(simulatedReturns) == 0 {
		return 0, types.NewInsufficientDataError("monte carlo VaR", 1, 0)
	}
	return math.Abs(percentile(simulatedReturns, (1-confidence)*100)), nil
}

// ExpectedShortfall is the mean loss conditional on exceeding VaR. With no
// observations beyond the VaR threshold it equals VaR, which keeps the
// ES >= VaR invariant.
func (c *Calculator) ExpectedShortfall(returns []float64, confidence float64) (float64, error) {
	v, err := c.HistoricalVaR(returns, confidence)
	if err != nil {
		return 0, err
	}

	sum, count := 0.0, 0
	for _, r := range returns {
		if r <= -v {
			sum += r
			count++
		}
	}
	if count == 0 {
		return v, nil
	}
	return math.Abs(sum / float64(count)), nil
}

func checkConfidence(confidence float64) error {
	if confidence <= 0 || confidence >= 1 {
		return types.NewValidationError("confidence", "must be in (0, 1), got %v", confidence)
	}
	return nil
}

// percentile computes the p-th percentile with linear interpolation
// between order statistics.
func percentile(values []float64, p float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}
