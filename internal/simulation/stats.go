package simulation

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/atlas-desktop/risk-engine/pkg/types"
)

// PathStatistics summarizes per-path outcomes of a simulation.
type PathStatistics struct {
	TerminalValues       []float64 `json:"-"`
	Returns              []float64 `json:"-"`
	LogReturns           []float64 `json:"-"`
	MaxDrawdowns         []float64 `json:"-"`
	RealizedVolatilities []float64 `json:"-"`

	MeanReturn      float64 `json:"mean_return"`
	MeanMaxDrawdown float64 `json:"mean_max_drawdown"`
	MeanRealizedVol float64 `json:"mean_realized_vol"`
}

// Moments are the distribution moments of a sample.
type Moments struct {
	Mean        float64             `json:"mean"`
	Median      float64             `json:"median"`
	Variance    float64             `json:"variance"`
	StdDev      float64             `json:"std_dev"`
	Min         float64             `json:"min"`
	Max         float64             `json:"max"`
	Skewness    float64             `json:"skewness"`
	Kurtosis    float64             `json:"kurtosis"`
	Percentiles map[float64]float64 `json:"percentiles"`
}

var momentPercentiles = []float64{1, 5, 10, 25, 50, 75, 90, 95, 99}

// ComputePathStatistics derives terminal values, returns, drawdowns and
// realized volatility from a path matrix.
func ComputePathStatistics(paths [][]float64, initialValue float64) (*PathStatistics, error) {
	n := len(paths)
	if n == 0 {
		return nil, types.NewInsufficientDataError("path statistics", 1, 0)
	}

	stats := &PathStatistics{
		TerminalValues:       make([]float64, n),
		Returns:              make([]float64, n),
		LogReturns:           make([]float64, n),
		MaxDrawdowns:         make([]float64, n),
		RealizedVolatilities: make([]float64, n),
	}

	for i, path := range paths {
		terminal := path[len(path)-1]
		if !isFinite(terminal) || terminal <= 0 {
			return nil, types.NewNumericalError("path statistics",
				"non-finite terminal value %v on path %d", terminal, i)
		}
		stats.TerminalValues[i] = terminal
		stats.Returns[i] = terminal/initialValue - 1
		stats.LogReturns[i] = math.Log(terminal / initialValue)
		stats.MaxDrawdowns[i] = maxDrawdownOfPath(path)
		stats.RealizedVolatilities[i] = realizedVol(path)
	}

	stats.MeanReturn = stat.Mean(stats.Returns, nil)
	stats.MeanMaxDrawdown = stat.Mean(stats.MaxDrawdowns, nil)
	stats.MeanRealizedVol = stat.Mean(stats.RealizedVolatilities, nil)
	return stats, nil
}

// ComputeMoments calculates distribution moments of a sample.
func ComputeMoments(values []float64) (*Moments, error) {
	if len(values) == 0 {
		return nil, types.NewInsufficientDataError("moments", 1, 0)
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	mean := stat.Mean(sorted, nil)
	variance := stat.Variance(sorted, nil)
	if !isFinite(mean) || !isFinite(variance) {
		return nil, types.NewNumericalError("moments", "non-finite sample moments")
	}

	m := &Moments{
		Mean:        mean,
		Median:      stat.Quantile(0.5, stat.Empirical, sorted, nil),
		Variance:    variance,
		StdDev:      math.Sqrt(variance),
		Min:         sorted[0],
		Max:         sorted[len(sorted)-1],
		Percentiles: make(map[float64]float64, len(momentPercentiles)),
	}
	if m.StdDev > 0 && len(sorted) > 2 {
		m.Skewness = stat.Skew(sorted, nil)
		m.Kurtosis = stat.ExKurtosis(sorted, nil)
	}
	for _, p := range momentPercentiles {
		m.Percentiles[p] = stat.Quantile(p/100, stat.Empirical, sorted, nil)
	}
	return m, nil
}

// maxDrawdownOfPath returns the most negative peak-to-trough decline,
// measured against the running maximum.
func maxDrawdownOfPath(path []float64) float64 {
	peak := path[0]
	maxDD := 0.0
	for _, v := range path {
		if v > peak {
			peak = v
		}
		dd := (v - peak) / peak
		if dd < maxDD {
			maxDD = dd
		}
	}
	return maxDD
}

// realizedVol annualizes the standard deviation of per-step log returns
// on a daily-step convention.
func realizedVol(path []float64) float64 {
	if len(path) < 3 {
		return 0
	}
	logReturns := make([]float64, len(path)-1)
	for i := 1; i < len(path); i++ {
		logReturns[i-1] = math.Log(path[i] / path[i-1])
	}
	return stat.StdDev(logReturns, nil) * math.Sqrt(252)
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
