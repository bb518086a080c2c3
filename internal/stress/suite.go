package stress

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/atlas-desktop/risk-engine/internal/simulation"
	"github.com/atlas-desktop/risk-engine/pkg/types"
)

// SuiteResult aggregates a batch of stress scenarios.
type SuiteResult struct {
	SuiteID   string            `json:"suite_id"`
	Name      string            `json:"name"`
	Results   []*ImpactAnalysis `json:"results"`
	Elapsed   time.Duration     `json:"elapsed_ns"`

	AverageLoss float64 `json:"average_loss"`
	MaxLoss     float64 `json:"max_loss"`
	MinLoss     float64 `json:"min_loss"`
	LossStdDev  float64 `json:"loss_std_dev"`

	ScenariosWithBreaches int     `json:"scenarios_with_breaches"`
	BreachRate            float64 `json:"breach_rate"`

	WorstCaseScenario  string `json:"worst_case_scenario"`
	MostLikelyScenario string `json:"most_likely_scenario"`
}

// RunSuite executes the scenarios against a shared baseline with bounded
// parallelism and aggregates the outcomes.
func (t *Tester) RunSuite(ctx context.Context, name string, scenarios []Scenario, base simulation.Parameters, portfolio Portfolio) (*SuiteResult, error) {
	if len(scenarios) == 0 {
		return nil, types.NewValidationError("scenarios", "must not be empty")
	}
	for _, s := range scenarios {
		if err := s.Validate(); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	t.logger.Info("starting stress test suite",
		zap.String("name", name),
		zap.Int("scenarios", len(scenarios)),
	)

	baseMetrics, err := t.portfolioMetrics(ctx, base, portfolio)
	if err != nil {
		return nil, err
	}

	workers := t.config.SuiteWorkers
	if workers < 1 {
		workers = 1
	}

	results := make([]*ImpactAnalysis, len(scenarios))
	errs := make([]error, len(scenarios))
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup

	for i, scenario := range scenarios {
		wg.Add(1)
		go func(idx int, s Scenario) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			if err := ctx.Err(); err != nil {
				errs[idx] = err
				return
			}
			results[idx], errs[idx] = t.runAgainstBaseline(ctx, s, base, portfolio, baseMetrics)
		}(i, scenario)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	suite := &SuiteResult{
		SuiteID: uuid.NewString(),
		Name:    name,
		Results: results,
		Elapsed: time.Since(start),
	}
	aggregate(suite)

	t.logger.Info("stress test suite complete",
		zap.String("suite_id", suite.SuiteID),
		zap.Float64("max_loss", suite.MaxLoss),
		zap.Float64("breach_rate", suite.BreachRate),
		zap.String("worst_case", suite.WorstCaseScenario),
	)
	return suite, nil
}

func aggregate(suite *SuiteResult) {
	losses := make([]float64, len(suite.Results))
	suite.MinLoss = suite.Results[0].PortfolioLoss
	suite.MaxLoss = suite.Results[0].PortfolioLoss

	var worst, mostLikely *ImpactAnalysis
	for i, r := range suite.Results {
		losses[i] = r.PortfolioLoss
		if r.PortfolioLoss > suite.MaxLoss {
			suite.MaxLoss = r.PortfolioLoss
		}
		if r.PortfolioLoss < suite.MinLoss {
			suite.MinLoss = r.PortfolioLoss
		}
		if r.Breached() {
			suite.ScenariosWithBreaches++
		}
		if worst == nil || r.PortfolioLoss > worst.PortfolioLoss {
			worst = r
		}
		if mostLikely == nil || r.Scenario.Probability > mostLikely.Scenario.Probability {
			mostLikely = r
		}
	}

	suite.AverageLoss = stat.Mean(losses, nil)
	if len(losses) > 1 {
		suite.LossStdDev = stat.StdDev(losses, nil)
	}
	suite.BreachRate = float64(suite.ScenariosWithBreaches) / float64(len(suite.Results)) * 100
	suite.WorstCaseScenario = worst.Scenario.Name
	suite.MostLikelyScenario = mostLikely.Scenario.Name
}
