package stress

import (
	"context"
	"math"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/atlas-desktop/risk-engine/internal/simulation"
	"github.com/atlas-desktop/risk-engine/pkg/types"
)

// Shock magnitude search bracket for reverse stress testing.
const (
	minShockMagnitude = 0.01
	maxShockMagnitude = 1.0
)

// BreakingPoint is the scenario found to cause a target loss.
type BreakingPoint struct {
	TargetLoss                 float64  `json:"target_loss"`
	AchievedLoss               float64  `json:"achieved_loss"`
	ShockMagnitude             float64  `json:"shock_magnitude"`
	RequiredEquityShockPct     float64  `json:"required_equity_shock_pct"`
	RequiredVolIncreasePct     float64  `json:"required_volatility_increase_pct"`
	EstimatedAnnualProbability float64  `json:"estimated_annual_probability"`
	Scenario                   Scenario `json:"scenario"`
	Iterations                 int      `json:"iterations"`
}

// FindBreakingPoint searches for the smallest combined equity and
// volatility shock that produces the target portfolio loss. The loss is
// monotone in the shock magnitude, so a bisection over the bracket
// suffices; targets outside the attainable range are a numerical failure,
// never clamped.
func (t *Tester) FindBreakingPoint(ctx context.Context, targetLoss float64, base simulation.Parameters, portfolio Portfolio) (*BreakingPoint, error) {
	if targetLoss <= 0 {
		return nil, types.NewValidationError("target_loss", "must be positive, got %v", targetLoss)
	}

	baseMetrics, err := t.portfolioMetrics(ctx, base, portfolio)
	if err != nil {
		return nil, err
	}

	lossAt := func(magnitude float64) (float64, error) {
		result, err := t.runAgainstBaseline(ctx, reverseScenario(magnitude, targetLoss), base, portfolio, baseMetrics)
		if err != nil {
			return 0, err
		}
		return result.PortfolioLoss, nil
	}

	lo, hi := minShockMagnitude, maxShockMagnitude
	lossLo, err := lossAt(lo)
	if err != nil {
		return nil, err
	}
	lossHi, err := lossAt(hi)
	if err != nil {
		return nil, err
	}
	if targetLoss > lossHi {
		return nil, types.NewNumericalError("reverse stress search",
			"target loss %v exceeds maximum attainable loss %v at full shock", targetLoss, lossHi)
	}
	if targetLoss < lossLo {
		return nil, types.NewNumericalError("reverse stress search",
			"target loss %v is below minimum attainable loss %v at minimum shock", targetLoss, lossLo)
	}

	tolerance := math.Max(targetLoss*1e-3, 1e-6)
	var mid, lossMid float64
	iterations := 0
	for iterations = 1; iterations <= t.config.ReverseMaxIter; iterations++ {
		mid = (lo + hi) / 2
		if lossMid, err = lossAt(mid); err != nil {
			return nil, err
		}
		if math.Abs(lossMid-targetLoss) <= tolerance || hi-lo < 1e-4 {
			break
		}
		if lossMid < targetLoss {
			lo = mid
		} else {
			hi = mid
		}
	}

	point := &BreakingPoint{
		TargetLoss:                 targetLoss,
		AchievedLoss:               lossMid,
		ShockMagnitude:             mid,
		RequiredEquityShockPct:     -mid * 100,
		RequiredVolIncreasePct:     mid * 100,
		EstimatedAnnualProbability: estimateShockProbability(mid),
		Scenario:                   reverseScenario(mid, targetLoss),
		Iterations:                 iterations,
	}

	t.logger.Info("reverse stress search complete",
		zap.Float64("target_loss", targetLoss),
		zap.Float64("achieved_loss", point.AchievedLoss),
		zap.Float64("shock_magnitude", point.ShockMagnitude),
		zap.Int("iterations", point.Iterations),
	)
	return point, nil
}

func reverseScenario(magnitude, targetLoss float64) Scenario {
	return Scenario{
		ID:           uuid.NewString(),
		Name:         "Portfolio Breaking Point",
		Description:  "Reverse stress scenario for a target loss",
		Severity:     types.SeverityExtreme,
		HorizonYears: 1,
		Probability:  estimateShockProbability(magnitude),
		Shocks: ShockParameters{
			EquityReturnShock:    -math.Abs(magnitude),
			VolatilityMultiplier: 1 + math.Abs(magnitude),
		},
	}
}

// estimateShockProbability maps a shock magnitude onto an annual
// probability estimate.
func estimateShockProbability(magnitude float64) float64 {
	switch {
	case magnitude < 0.1:
		return 0.05
	case magnitude < 0.2:
		return 0.02
	case magnitude < 0.4:
		return 0.005
	default:
		return 0.001
	}
}
