package stress

import (
	"context"
	"math"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/risk-engine/internal/riskmetrics"
	"github.com/atlas-desktop/risk-engine/internal/simulation"
	"github.com/atlas-desktop/risk-engine/internal/telemetry"
	"github.com/atlas-desktop/risk-engine/pkg/types"
)

// Portfolio describes the book a scenario is applied to.
type Portfolio struct {
	Value             decimal.Decimal `json:"value"`
	RegulatoryCapital decimal.Decimal `json:"regulatory_capital"`
	// RiskLimits are monetary ceilings keyed by metric name, such as
	// "var_95" or "expected_shortfall".
	RiskLimits map[string]float64 `json:"risk_limits,omitempty"`
}

// MetricImpact is the baseline-to-stressed movement of one metric.
type MetricImpact struct {
	Baseline       float64 `json:"baseline"`
	Stressed       float64 `json:"stressed"`
	AbsoluteChange float64 `json:"absolute_change"`
	PercentChange  float64 `json:"percent_change"`
}

// CapitalImpact quantifies the hit to regulatory capital, in money.
type CapitalImpact struct {
	Loss                      decimal.Decimal `json:"loss"`
	CapitalDepletionPct       float64         `json:"capital_depletion_pct"`
	PostStressCapitalRatio    float64         `json:"post_stress_capital_ratio"`
	AdditionalCapitalRequired decimal.Decimal `json:"additional_capital_required"`
}

// ImpactAnalysis is the outcome of one stress scenario.
type ImpactAnalysis struct {
	Scenario        Scenario                `json:"scenario"`
	BaseMetrics     map[string]float64      `json:"base_metrics"`
	StressedMetrics map[string]float64      `json:"stressed_metrics"`
	Impacts         map[string]MetricImpact `json:"impacts"`
	PortfolioLoss   float64                 `json:"portfolio_loss"`
	Breaches        map[string]bool         `json:"breaches"`
	Capital         CapitalImpact           `json:"capital_impact"`
	Elapsed         time.Duration           `json:"elapsed_ns"`
}

// Breached reports whether any risk limit was crossed.
func (ia *ImpactAnalysis) Breached() bool {
	for _, b := range ia.Breaches {
		if b {
			return true
		}
	}
	return false
}

// Tester runs stress scenarios against a simulated portfolio.
type Tester struct {
	logger     *zap.Logger
	simulator  *simulation.Simulator
	calculator *riskmetrics.Calculator
	config     types.StressConfig
	recorder   *telemetry.Recorder
}

// NewTester creates a Tester. The recorder may be nil.
func NewTester(logger *zap.Logger, simulator *simulation.Simulator, calculator *riskmetrics.Calculator, config types.StressConfig, recorder *telemetry.Recorder) *Tester {
	if config.ScenarioPaths < 1 {
		config.ScenarioPaths = 10_000
	}
	if config.ReverseMaxIter < 1 {
		config.ReverseMaxIter = 60
	}
	return &Tester{
		logger:     logger,
		simulator:  simulator,
		calculator: calculator,
		config:     config,
		recorder:   recorder,
	}
}

// impactMetrics are the metrics compared between base and stressed runs.
var impactMetrics = []string{"var_95", "var_99", "expected_shortfall", "volatility", "max_drawdown"}

// RunScenario applies a scenario to the base parameters and compares the
// stressed risk profile with the baseline.
func (t *Tester) RunScenario(ctx context.Context, scenario Scenario, base simulation.Parameters, portfolio Portfolio) (*ImpactAnalysis, error) {
	if err := scenario.Validate(); err != nil {
		return nil, err
	}
	baseMetrics, err := t.portfolioMetrics(ctx, base, portfolio)
	if err != nil {
		return nil, err
	}
	return t.runAgainstBaseline(ctx, scenario, base, portfolio, baseMetrics)
}

// runAgainstBaseline lets callers reuse an already computed baseline.
func (t *Tester) runAgainstBaseline(ctx context.Context, scenario Scenario, base simulation.Parameters, portfolio Portfolio, baseMetrics map[string]float64) (*ImpactAnalysis, error) {
	start := time.Now()

	stressedMetrics, err := t.portfolioMetrics(ctx, scenario.Apply(base), portfolio)
	if err != nil {
		return nil, err
	}

	analysis := &ImpactAnalysis{
		Scenario:        scenario,
		BaseMetrics:     baseMetrics,
		StressedMetrics: stressedMetrics,
		Impacts:         make(map[string]MetricImpact, len(impactMetrics)),
		Breaches:        make(map[string]bool),
	}

	for _, name := range impactMetrics {
		baseline := baseMetrics[name]
		stressed := stressedMetrics[name]
		impact := MetricImpact{
			Baseline:       baseline,
			Stressed:       stressed,
			AbsoluteChange: stressed - baseline,
		}
		if baseline != 0 {
			impact.PercentChange = (stressed - baseline) / math.Abs(baseline) * 100
		}
		analysis.Impacts[name] = impact
	}

	// Portfolio loss is the monetary widening of 95% VaR under stress.
	analysis.PortfolioLoss = analysis.Impacts["var_95"].AbsoluteChange

	for limit, ceiling := range portfolio.RiskLimits {
		analysis.Breaches[limit] = stressedMetrics[limit] > ceiling
	}

	analysis.Capital = t.capitalImpact(analysis.PortfolioLoss, portfolio)
	analysis.Elapsed = time.Since(start)

	t.recorder.ObserveScenario(analysis.Elapsed)
	t.logger.Info("stress scenario complete",
		zap.String("scenario", scenario.Name),
		zap.Float64("portfolio_loss", analysis.PortfolioLoss),
		zap.Bool("breached", analysis.Breached()),
	)
	return analysis, nil
}

// portfolioMetrics simulates the parameters and scales tail metrics to
// the portfolio value.
func (t *Tester) portfolioMetrics(ctx context.Context, params simulation.Parameters, portfolio Portfolio) (map[string]float64, error) {
	params.Paths = t.config.ScenarioPaths

	result, err := t.simulator.Run(ctx, params)
	if err != nil {
		return nil, err
	}
	metricSet, err := t.calculator.Compute(result.Stats.Returns, riskmetrics.Options{})
	if err != nil {
		return nil, err
	}

	value, _ := portfolio.Value.Float64()
	return map[string]float64{
		"portfolio_value":    value,
		"var_95":             metricSet.VaR95 * value,
		"var_99":             metricSet.VaR99 * value,
		"expected_shortfall": metricSet.ES95 * value,
		"volatility":         metricSet.Volatility,
		"sharpe_ratio":       metricSet.SharpeRatio,
		"max_drawdown":       metricSet.MaxDrawdown,
	}, nil
}

// capitalImpact measures the loss against regulatory capital with a 50%
// buffer before additional capital is required.
func (t *Tester) capitalImpact(loss float64, portfolio Portfolio) CapitalImpact {
	lossDec := decimal.NewFromFloat(math.Max(loss, 0))
	impact := CapitalImpact{Loss: lossDec}

	if portfolio.RegulatoryCapital.IsPositive() {
		ratio, _ := lossDec.Div(portfolio.RegulatoryCapital).Float64()
		impact.CapitalDepletionPct = ratio * 100
		impact.PostStressCapitalRatio = math.Max(0, 1-ratio)

		buffer := portfolio.RegulatoryCapital.Mul(decimal.NewFromFloat(0.5))
		if additional := lossDec.Sub(buffer); additional.IsPositive() {
			impact.AdditionalCapitalRequired = additional
		} else {
			impact.AdditionalCapitalRequired = decimal.Zero
		}
	} else {
		impact.AdditionalCapitalRequired = lossDec
	}
	return impact
}
