package riskmetrics

import (
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/atlas-desktop/risk-engine/pkg/types"
)

// Calculator computes risk metrics for return series.
type Calculator struct {
	logger *zap.Logger
	config types.MetricsConfig
}

// NewCalculator creates a Calculator.
func NewCalculator(logger *zap.Logger, config types.MetricsConfig) *Calculator {
	if config.PeriodsPerYear < 1 {
		config.PeriodsPerYear = 252
	}
	if config.DegreesOfFreedom == 0 {
		config.DegreesOfFreedom = 6
	}
	return &Calculator{logger: logger, config: config}
}

// Options adjust a Compute call.
type Options struct {
	// BenchmarkReturns enables relative metrics when it matches the
	// return series in length.
	BenchmarkReturns []float64
}

// MetricSet is the full risk metric report for one return series.
type MetricSet struct {
	Observations int `json:"observations"`

	MeanReturn           float64 `json:"mean_return"`
	AnnualizedReturn     float64 `json:"annualized_return"`
	Volatility           float64 `json:"volatility"`
	AnnualizedVolatility float64 `json:"annualized_volatility"`
	Skewness             float64 `json:"skewness"`
	Kurtosis             float64 `json:"kurtosis"`

	VaR95 float64 `json:"var_95"`
	VaR99 float64 `json:"var_99"`
	ES95  float64 `json:"expected_shortfall_95"`
	ES99  float64 `json:"expected_shortfall_99"`

	MaxDrawdown       float64 `json:"max_drawdown"`
	DownsideDeviation float64 `json:"downside_deviation"`
	TailRisk          float64 `json:"tail_risk"`
	ProbabilityOfLoss float64 `json:"probability_of_loss"`
	WinRate           float64 `json:"win_rate"`

	SharpeRatio        float64 `json:"sharpe_ratio"`
	SortinoRatio       float64 `json:"sortino_ratio"`
	CalmarRatio        float64 `json:"calmar_ratio"`
	RiskAdjustedReturn float64 `json:"risk_adjusted_return"`

	// Benchmark-relative, populated only when a benchmark is supplied.
	TrackingError    float64 `json:"tracking_error,omitempty"`
	InformationRatio float64 `json:"information_ratio,omitempty"`
	Beta             float64 `json:"beta,omitempty"`
	UpsideCapture    float64 `json:"upside_capture,omitempty"`
	DownsideCapture  float64 `json:"downside_capture,omitempty"`

	// Warnings records every metric that was defaulted instead of
	// computed, so a zero is never silent.
	Warnings []string `json:"warnings,omitempty"`
}

const minObservations = 2

// Compute calculates the comprehensive metric set for a return series.
func (c *Calculator) Compute(returns []float64, opts Options) (*MetricSet, error) {
	if len(returns) < minObservations {
		return nil, types.NewInsufficientDataError("risk metrics", minObservations, len(returns))
	}
	for i, r := range returns {
		if math.IsNaN(r) || math.IsInf(r, 0) {
			return nil, types.NewNumericalError("risk metrics", "non-finite return at index %d", i)
		}
	}

	periods := float64(c.config.PeriodsPerYear)
	rfPeriod := c.config.RiskFreeRate / periods

	m := &MetricSet{Observations: len(returns)}
	m.MeanReturn = stat.Mean(returns, nil)
	m.Volatility = stat.StdDev(returns, nil)
	m.AnnualizedReturn = m.MeanReturn * periods
	m.AnnualizedVolatility = m.Volatility * math.Sqrt(periods)
	if len(returns) > 2 && m.Volatility > 0 {
		m.Skewness = stat.Skew(returns, nil)
		m.Kurtosis = stat.ExKurtosis(returns, nil)
	}

	var err error
	if m.VaR95, err = c.HistoricalVaR(returns, 0.95); err != nil {
		return nil, err
	}
	if m.VaR99, err = c.HistoricalVaR(returns, 0.99); err != nil {
		return nil, err
	}
	if m.ES95, err = c.ExpectedShortfall(returns, 0.95); err != nil {
		return nil, err
	}
	if m.ES99, err = c.ExpectedShortfall(returns, 0.99); err != nil {
		return nil, err
	}

	m.MaxDrawdown = maxDrawdown(returns)
	m.DownsideDeviation = downsideDeviation(returns)
	m.TailRisk = tailRisk(returns)

	losses := 0
	for _, r := range returns {
		if r < 0 {
			losses++
		}
	}
	m.ProbabilityOfLoss = float64(losses) / float64(len(returns))
	m.WinRate = 1 - m.ProbabilityOfLoss

	excess := m.MeanReturn - rfPeriod
	m.SharpeRatio = c.ratio(m, "sharpe_ratio", excess, m.Volatility, math.Sqrt(periods))
	m.SortinoRatio = c.ratio(m, "sortino_ratio", excess, m.DownsideDeviation, math.Sqrt(periods))
	m.CalmarRatio = c.ratio(m, "calmar_ratio", m.AnnualizedReturn, m.MaxDrawdown, 1)
	m.RiskAdjustedReturn = c.ratio(m, "risk_adjusted_return", m.MeanReturn, m.Volatility, 1)

	if len(opts.BenchmarkReturns) > 0 {
		if len(opts.BenchmarkReturns) != len(returns) {
			return nil, types.NewValidationError("benchmark_returns",
				"length %d does not match return series length %d", len(opts.BenchmarkReturns), len(returns))
		}
		c.computeRelative(m, returns, opts.BenchmarkReturns, periods)
	}

	for _, w := range m.Warnings {
		c.logger.Warn("risk metric defaulted", zap.String("detail", w))
	}
	return m, nil
}

// ratio divides numerator by denominator scaled by annualize, defaulting
// to 0 with a recorded warning when the denominator vanishes.
func (c *Calculator) ratio(m *MetricSet, name string, numerator, denominator, annualize float64) float64 {
	if denominator <= 0 {
		m.Warnings = append(m.Warnings,
			fmt.Sprintf("%s defaulted to 0: zero denominator", name))
		return 0
	}
	return numerator / denominator * annualize
}

func (c *Calculator) computeRelative(m *MetricSet, returns, benchmark []float64, periods float64) {
	active := make([]float64, len(returns))
	for i := range returns {
		active[i] = returns[i] - benchmark[i]
	}
	tePeriod := stat.StdDev(active, nil)
	m.TrackingError = tePeriod * math.Sqrt(periods)
	m.InformationRatio = c.ratio(m, "information_ratio", stat.Mean(active, nil), tePeriod, math.Sqrt(periods))

	benchVar := stat.Variance(benchmark, nil)
	if benchVar > 0 {
		m.Beta = stat.Covariance(returns, benchmark, nil) / benchVar
	} else {
		m.Warnings = append(m.Warnings, "beta defaulted to 0: benchmark variance is zero")
	}

	var upR, upB, downR, downB float64
	var ups, downs int
	for i, b := range benchmark {
		switch {
		case b > 0:
			upR += returns[i]
			upB += b
			ups++
		case b < 0:
			downR += returns[i]
			downB += b
			downs++
		}
	}
	if ups > 0 && upB != 0 {
		m.UpsideCapture = (upR / float64(ups)) / (upB / float64(ups))
	} else {
		m.Warnings = append(m.Warnings, "upside_capture defaulted to 0: no positive benchmark periods")
	}
	if downs > 0 && downB != 0 {
		m.DownsideCapture = (downR / float64(downs)) / (downB / float64(downs))
	} else {
		m.Warnings = append(m.Warnings, "downside_capture defaulted to 0: no negative benchmark periods")
	}
}

// maxDrawdown is the deepest decline of the compounded return series from
// its running maximum, as a positive fraction.
func maxDrawdown(returns []float64) float64 {
	equity := 1.0
	peak := 1.0
	maxDD := 0.0
	for _, r := range returns {
		equity *= 1 + r
		if equity > peak {
			peak = equity
		}
		dd := (peak - equity) / peak
		if dd > maxDD {
			maxDD = dd
		}
	}
	return maxDD
}

// downsideDeviation is the standard deviation of negative returns only.
func downsideDeviation(returns []float64) float64 {
	var negative []float64
	for _, r := range returns {
		if r < 0 {
			negative = append(negative, r)
		}
	}
	if len(negative) < 2 {
		return 0
	}
	return stat.StdDev(negative, nil)
}

// tailRisk is the absolute mean of the worst 5% of returns.
func tailRisk(returns []float64) float64 {
	sorted := make([]float64, len(returns))
	copy(sorted, returns)
	sort.Float64s(sorted)

	n := len(sorted) / 20
	if n < 1 {
		n = 1
	}
	sum := 0.0
	for _, r := range sorted[:n] {
		sum += r
	}
	return math.Abs(sum / float64(n))
}
