package stress

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/atlas-desktop/risk-engine/internal/riskmetrics"
	"github.com/atlas-desktop/risk-engine/internal/simulation"
	"github.com/atlas-desktop/risk-engine/pkg/types"
)

func newTestTester() *Tester {
	simCfg := types.DefaultSimulationConfig()
	simCfg.ParallelWorkers = 2
	simulator := simulation.NewSimulator(zap.NewNop(), simCfg, nil)
	calculator := riskmetrics.NewCalculator(zap.NewNop(), types.DefaultMetricsConfig())

	stressCfg := types.DefaultStressConfig()
	stressCfg.ScenarioPaths = 2_000
	stressCfg.SuiteWorkers = 2
	return NewTester(zap.NewNop(), simulator, calculator, stressCfg, nil)
}

func testBaseParams() simulation.Parameters {
	return simulation.Parameters{
		InitialValue: 100,
		Drift:        0.05,
		Volatility:   0.2,
		HorizonYears: 1,
		Steps:        50,
		Paths:        2_000,
		Seed:         42,
		Antithetic:   true,
	}
}

func testPortfolio() Portfolio {
	return Portfolio{
		Value:             decimal.NewFromInt(1_000_000),
		RegulatoryCapital: decimal.NewFromInt(100_000),
	}
}

func TestScenarioApplyShockMapping(t *testing.T) {
	scenario := Scenario{
		Name:         "combined shock",
		Severity:     types.SeveritySevere,
		HorizonYears: 1,
		Shocks: ShockParameters{
			EquityReturnShock:    -0.40,
			RateShiftBps:         400,
			VolatilityMultiplier: 2.5,
		},
	}

	stressed := scenario.Apply(testBaseParams())
	assert.InDelta(t, 0.05-0.40-0.04, stressed.Drift, 1e-12)
	assert.InDelta(t, 0.5, stressed.Volatility, 1e-12)
	assert.Equal(t, 1.0, stressed.HorizonYears)
}

func TestScenarioApplyCorrelated(t *testing.T) {
	base := simulation.CorrelatedParameters{
		Assets: []simulation.AssetParameters{
			{ID: "equities", InitialValue: 100, Drift: 0.07, Volatility: 0.18},
			{ID: "bonds", InitialValue: 100, Drift: 0.03, Volatility: 0.06},
		},
		Correlations: [][]float64{
			{1, 0.2},
			{0.2, 1},
		},
		HorizonYears: 1,
		Steps:        12,
		Paths:        1_000,
		Seed:         7,
	}

	scenario := CovidCrash2020()
	stressed := scenario.ApplyCorrelated(base)

	// Off-diagonal pairs move toward 1 by the shift fraction.
	assert.InDelta(t, 0.2+0.4*(1-0.2), stressed.Correlations[0][1], 1e-12)
	assert.Equal(t, stressed.Correlations[0][1], stressed.Correlations[1][0])
	assert.Equal(t, 1.0, stressed.Correlations[0][0])
	assert.Equal(t, 1.0, stressed.Correlations[1][1])

	for i, a := range stressed.Assets {
		assert.Less(t, a.Drift, base.Assets[i].Drift, "crash shock must cut drift")
		assert.Greater(t, a.Volatility, base.Assets[i].Volatility)
	}

	// The source matrix is untouched.
	assert.Equal(t, 0.2, base.Correlations[0][1])

	calm := Scenario{Name: "calm", HorizonYears: 1}
	unchanged := calm.ApplyCorrelations(base.Correlations)
	assert.Equal(t, base.Correlations, unchanged)
}

func TestScenarioValidate(t *testing.T) {
	s := FinancialCrisis2008()
	assert.NoError(t, s.Validate())

	s.HorizonYears = 0
	var verr *types.ValidationError
	require.ErrorAs(t, s.Validate(), &verr)

	s = CovidCrash2020()
	s.Probability = 2
	require.ErrorAs(t, s.Validate(), &verr)
}

func TestRunScenarioWidensRisk(t *testing.T) {
	tester := newTestTester()
	portfolio := testPortfolio()
	portfolio.RiskLimits = map[string]float64{"var_95": 150_000}

	analysis, err := tester.RunScenario(context.Background(), FinancialCrisis2008(), testBaseParams(), portfolio)
	require.NoError(t, err)

	assert.Greater(t, analysis.Impacts["var_95"].Stressed, analysis.Impacts["var_95"].Baseline,
		"a crisis scenario must widen VaR")
	assert.Greater(t, analysis.PortfolioLoss, 0.0)
	assert.True(t, analysis.Breaches["var_95"], "stressed VaR should breach a 150k limit on a 1M book")
	assert.True(t, analysis.Breached())

	// Loss beyond half of regulatory capital requires new capital.
	if analysis.Capital.Loss.GreaterThan(decimal.NewFromInt(50_000)) {
		assert.True(t, analysis.Capital.AdditionalCapitalRequired.IsPositive())
	}
	assert.Greater(t, analysis.Capital.CapitalDepletionPct, 0.0)
}

func TestRunSuiteAggregation(t *testing.T) {
	tester := newTestTester()
	scenarios := HistoricalScenarios()

	suite, err := tester.RunSuite(context.Background(), "historical", scenarios, testBaseParams(), testPortfolio())
	require.NoError(t, err)

	assert.NotEmpty(t, suite.SuiteID)
	require.Len(t, suite.Results, len(scenarios))
	assert.GreaterOrEqual(t, suite.MaxLoss, suite.AverageLoss)
	assert.GreaterOrEqual(t, suite.AverageLoss, suite.MinLoss)
	assert.Equal(t, "COVID-19 Crash 2020", suite.MostLikelyScenario,
		"highest annual probability scenario")

	names := map[string]bool{}
	for _, s := range scenarios {
		names[s.Name] = true
	}
	assert.True(t, names[suite.WorstCaseScenario])
}

func TestRunSuiteRejectsEmpty(t *testing.T) {
	tester := newTestTester()
	_, err := tester.RunSuite(context.Background(), "empty", nil, testBaseParams(), testPortfolio())
	var verr *types.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestFindBreakingPoint(t *testing.T) {
	tester := newTestTester()
	target := 200_000.0

	point, err := tester.FindBreakingPoint(context.Background(), target, testBaseParams(), testPortfolio())
	require.NoError(t, err)

	assert.InEpsilon(t, target, point.AchievedLoss, 0.02)
	assert.Greater(t, point.ShockMagnitude, minShockMagnitude)
	assert.Less(t, point.ShockMagnitude, maxShockMagnitude)
	assert.Negative(t, point.RequiredEquityShockPct)
	assert.Contains(t, []float64{0.05, 0.02, 0.005, 0.001}, point.EstimatedAnnualProbability)
}

func TestFindBreakingPointUnreachable(t *testing.T) {
	tester := newTestTester()

	_, err := tester.FindBreakingPoint(context.Background(), 1e12, testBaseParams(), testPortfolio())
	var nerr *types.NumericalError
	require.ErrorAs(t, err, &nerr)

	_, err = tester.FindBreakingPoint(context.Background(), -5, testBaseParams(), testPortfolio())
	var verr *types.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestEstimateShockProbabilitySteps(t *testing.T) {
	assert.Equal(t, 0.05, estimateShockProbability(0.05))
	assert.Equal(t, 0.02, estimateShockProbability(0.15))
	assert.Equal(t, 0.005, estimateShockProbability(0.3))
	assert.Equal(t, 0.001, estimateShockProbability(0.8))
}
