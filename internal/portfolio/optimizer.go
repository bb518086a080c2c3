package portfolio

import (
	"math"
	"sort"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"github.com/atlas-desktop/risk-engine/internal/telemetry"
	"github.com/atlas-desktop/risk-engine/pkg/types"
)

// Objective selects the optimization target.
type Objective string

const (
	ObjectiveMaxSharpe   Objective = "max_sharpe"
	ObjectiveMinVariance Objective = "min_variance"
	ObjectiveMaxReturn   Objective = "max_return"
	ObjectiveRiskParity  Objective = "risk_parity"
)

// Asset is one optimizable holding.
type Asset struct {
	ID             string  `json:"id"`
	ExpectedReturn float64 `json:"expected_return"`
	Volatility     float64 `json:"volatility"`
	CurrentWeight  float64 `json:"current_weight"`
	MinWeight      float64 `json:"min_weight"`
	MaxWeight      float64 `json:"max_weight"`
	Sector         string  `json:"sector,omitempty"`
}

// Constraints are the optional optimization constraints; weights always
// sum to 1 and respect per-asset bounds.
type Constraints struct {
	TargetReturn  *float64 `json:"target_return,omitempty"`
	MaxVariance   *float64 `json:"max_variance,omitempty"`
	TurnoverLimit *float64 `json:"turnover_limit,omitempty"`
}

// Allocation is an optimization outcome. Converged reports solver status
// explicitly; a non-converged allocation always travels with an
// OptimizationError from Optimize.
type Allocation struct {
	Objective      Objective          `json:"objective"`
	Weights        map[string]float64 `json:"weights"`
	ExpectedReturn float64            `json:"expected_return"`
	Volatility     float64            `json:"volatility"`
	SharpeRatio    float64            `json:"sharpe_ratio"`
	Turnover       float64            `json:"turnover"`
	Converged      bool               `json:"converged"`
	Status         string             `json:"status"`
	Warnings       []string           `json:"warnings,omitempty"`
}

// FrontierPoint is one efficient frontier solution.
type FrontierPoint struct {
	TargetReturn float64            `json:"target_return"`
	Volatility   float64            `json:"volatility"`
	SharpeRatio  float64            `json:"sharpe_ratio"`
	Weights      map[string]float64 `json:"weights"`
}

// Optimizer solves constrained portfolio allocation problems.
type Optimizer struct {
	logger       *zap.Logger
	riskFreeRate float64
	recorder     *telemetry.Recorder
}

// NewOptimizer creates an Optimizer. The recorder may be nil.
func NewOptimizer(logger *zap.Logger, riskFreeRate float64, recorder *telemetry.Recorder) *Optimizer {
	return &Optimizer{logger: logger, riskFreeRate: riskFreeRate, recorder: recorder}
}

const penaltyWeight = 1000.0

// Optimize solves the allocation problem for the given objective. When the
// solver fails to converge the best-effort allocation is returned together
// with a non-nil OptimizationError, never silently.
func (o *Optimizer) Optimize(assets []Asset, corr *CorrelationMatrix, objective Objective, constraints Constraints) (*Allocation, error) {
	if len(assets) < 2 {
		return nil, types.NewValidationError("assets", "need at least 2 assets, got %d", len(assets))
	}
	if err := corr.Validate(); err != nil {
		return nil, err
	}
	if len(corr.AssetIDs) != len(assets) {
		return nil, types.NewValidationError("assets",
			"asset count %d does not match correlation matrix size %d", len(assets), len(corr.AssetIDs))
	}
	for i, a := range assets {
		if a.Volatility < 0 {
			return nil, types.NewValidationError("assets", "asset %s has negative volatility", a.ID)
		}
		if corr.AssetIDs[i] != a.ID {
			return nil, types.NewValidationError("assets",
				"asset order mismatch at %d: %s vs %s", i, a.ID, corr.AssetIDs[i])
		}
	}

	lower, upper := bounds(assets)
	if err := checkFeasible(lower, upper); err != nil {
		o.recorder.ObserveOptimization("infeasible")
		return nil, err
	}

	cov := covarianceMatrix(assets, corr)

	var weights []float64
	var status string
	var converged bool
	switch objective {
	case ObjectiveMinVariance:
		weights, status, converged = o.solveMinVariance(assets, cov, lower, upper, constraints)
	case ObjectiveMaxSharpe:
		weights, status, converged = o.solvePenalty(assets, cov, lower, upper, constraints, func(w []float64) float64 {
			ret := portfolioReturn(assets, w)
			vol := math.Sqrt(math.Max(portfolioVariance(cov, w), 1e-12))
			return -(ret - o.riskFreeRate) / vol
		})
	case ObjectiveMaxReturn:
		weights, status, converged = solveMaxReturn(assets, lower, upper)
	case ObjectiveRiskParity:
		weights, status, converged = solveRiskParity(cov, lower, upper)
	default:
		return nil, types.NewValidationError("objective", "unsupported objective %q", objective)
	}

	alloc := o.buildAllocation(assets, cov, weights, objective, status, converged)

	if verr := verifyConstraints(assets, cov, weights, lower, upper, constraints); verr != "" {
		alloc.Converged = false
		alloc.Status = "constraint_violation"
		alloc.Warnings = append(alloc.Warnings, verr)
	}

	if !alloc.Converged {
		o.recorder.ObserveOptimization(alloc.Status)
		o.logger.Warn("optimization did not converge",
			zap.String("objective", string(objective)),
			zap.String("status", alloc.Status),
		)
		return alloc, types.NewOptimizationError(string(objective), alloc.Status,
			"solver did not reach a feasible optimum")
	}

	o.recorder.ObserveOptimization("converged")
	o.logger.Info("optimization converged",
		zap.String("objective", string(objective)),
		zap.Float64("expected_return", alloc.ExpectedReturn),
		zap.Float64("volatility", alloc.Volatility),
	)
	return alloc, nil
}

// EfficientFrontier computes min-variance allocations across the
// attainable expected return range.
func (o *Optimizer) EfficientFrontier(assets []Asset, corr *CorrelationMatrix, points int) ([]FrontierPoint, error) {
	if len(assets) < 2 {
		return nil, types.NewValidationError("assets", "need at least 2 assets, got %d", len(assets))
	}
	if points < 2 {
		return nil, types.NewValidationError("points", "need at least 2 frontier points, got %d", points)
	}

	minRet, maxRet := assets[0].ExpectedReturn, assets[0].ExpectedReturn
	for _, a := range assets {
		minRet = math.Min(minRet, a.ExpectedReturn)
		maxRet = math.Max(maxRet, a.ExpectedReturn)
	}

	frontier := make([]FrontierPoint, 0, points)
	for i := 0; i < points; i++ {
		target := minRet + (maxRet-minRet)*float64(i)/float64(points-1)
		alloc, err := o.Optimize(assets, corr, ObjectiveMinVariance, Constraints{TargetReturn: &target})
		if err != nil {
			// Targets near the range edges can be infeasible under
			// bounds; skip them rather than abort the frontier.
			continue
		}
		frontier = append(frontier, FrontierPoint{
			TargetReturn: target,
			Volatility:   alloc.Volatility,
			SharpeRatio:  alloc.SharpeRatio,
			Weights:      alloc.Weights,
		})
	}
	if len(frontier) == 0 {
		return nil, types.NewOptimizationError("efficient_frontier", "infeasible",
			"no frontier point converged")
	}
	return frontier, nil
}

// solveMinVariance prefers the closed-form unconstrained solution and
// falls back to the penalty solver when bounds or a target return bind.
func (o *Optimizer) solveMinVariance(assets []Asset, cov *mat.SymDense, lower, upper []float64, constraints Constraints) ([]float64, string, bool) {
	if constraints.TargetReturn == nil {
		if w, ok := analyticMinVariance(cov); ok && withinBounds(w, lower, upper) {
			return w, "analytic", true
		}
	}
	return o.solvePenalty(assets, cov, lower, upper, constraints, func(w []float64) float64 {
		return portfolioVariance(cov, w)
	})
}

// analyticMinVariance solves w = Sigma^-1 1 / (1' Sigma^-1 1).
func analyticMinVariance(cov *mat.SymDense) ([]float64, bool) {
	n := cov.SymmetricDim()

	var chol mat.Cholesky
	if ok := chol.Factorize(cov); !ok {
		return nil, false
	}

	ones := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		ones.SetVec(i, 1)
	}
	var solved mat.VecDense
	if err := chol.SolveVecTo(&solved, ones); err != nil {
		return nil, false
	}

	sum := 0.0
	for i := 0; i < n; i++ {
		sum += solved.AtVec(i)
	}
	if sum == 0 {
		return nil, false
	}
	weights := make([]float64, n)
	for i := range weights {
		weights[i] = solved.AtVec(i) / sum
	}
	return weights, true
}

// solvePenalty minimizes the objective plus quadratic penalties for the
// equality and inequality constraints, Nelder-Mead with equal-weight
// start.
func (o *Optimizer) solvePenalty(assets []Asset, cov *mat.SymDense, lower, upper []float64, constraints Constraints, objective func([]float64) float64) ([]float64, string, bool) {
	n := len(assets)

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			w := projectToBounds(x, lower, upper)

			obj := objective(w)

			sum := 0.0
			for _, v := range w {
				sum += v
			}
			obj += penaltyWeight * (sum - 1) * (sum - 1)

			if constraints.TargetReturn != nil {
				diff := portfolioReturn(assets, w) - *constraints.TargetReturn
				obj += penaltyWeight * diff * diff
			}
			if constraints.MaxVariance != nil {
				if excess := portfolioVariance(cov, w) - *constraints.MaxVariance; excess > 0 {
					obj += penaltyWeight * excess * excess
				}
			}
			if constraints.TurnoverLimit != nil {
				if excess := turnover(assets, w) - *constraints.TurnoverLimit; excess > 0 {
					obj += penaltyWeight * excess * excess
				}
			}
			return obj
		},
	}

	initial := make([]float64, n)
	for i := range initial {
		initial[i] = 1.0 / float64(n)
	}

	settings := &optimize.Settings{
		Converger: &optimize.FunctionConverge{Absolute: 1e-12, Iterations: 200},
	}
	result, err := optimize.Minimize(problem, initial, settings, &optimize.NelderMead{})
	if err != nil {
		return rescaleWithinBounds(initial, lower, upper), "solver_error", false
	}

	weights := rescaleWithinBounds(result.X, lower, upper)
	switch result.Status {
	case optimize.Success, optimize.FunctionConvergence, optimize.GradientThreshold:
		return weights, "converged", true
	default:
		return weights, result.Status.String(), false
	}
}

// solveMaxReturn saturates bounds in descending order of expected return.
func solveMaxReturn(assets []Asset, lower, upper []float64) ([]float64, string, bool) {
	n := len(assets)
	weights := make([]float64, n)
	remaining := 1.0
	for i := range weights {
		weights[i] = lower[i]
		remaining -= lower[i]
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		return assets[order[a]].ExpectedReturn > assets[order[b]].ExpectedReturn
	})

	for _, i := range order {
		if remaining <= 0 {
			break
		}
		add := math.Min(upper[i]-weights[i], remaining)
		weights[i] += add
		remaining -= add
	}
	if remaining > 1e-9 {
		return weights, "infeasible", false
	}
	return weights, "analytic", true
}

// solveRiskParity equalizes component risk contributions by multiplicative
// iteration.
func solveRiskParity(cov *mat.SymDense, lower, upper []float64) ([]float64, string, bool) {
	n := cov.SymmetricDim()
	weights := make([]float64, n)
	for i := range weights {
		vol := math.Sqrt(cov.At(i, i))
		if vol <= 0 {
			vol = 1
		}
		weights[i] = 1 / vol
	}
	weights = normalize(weights)

	const maxIter = 1000
	const tolerance = 1e-8
	target := 1.0 / float64(n)

	for iter := 0; iter < maxIter; iter++ {
		variance := portfolioVariance(cov, weights)
		if variance <= 0 {
			return weights, "degenerate_covariance", false
		}

		maxDeviation := 0.0
		next := make([]float64, n)
		for i := 0; i < n; i++ {
			marginal := 0.0
			for j := 0; j < n; j++ {
				marginal += cov.At(i, j) * weights[j]
			}
			contribution := weights[i] * marginal / variance
			maxDeviation = math.Max(maxDeviation, math.Abs(contribution-target))
			if contribution <= 0 {
				contribution = tolerance
			}
			next[i] = weights[i] * math.Sqrt(target/contribution)
		}
		if maxDeviation < tolerance {
			return rescaleWithinBounds(weights, lower, upper), "converged", true
		}
		weights = normalize(next)
	}
	return rescaleWithinBounds(weights, lower, upper), "max_iterations", false
}

func (o *Optimizer) buildAllocation(assets []Asset, cov *mat.SymDense, weights []float64, objective Objective, status string, converged bool) *Allocation {
	alloc := &Allocation{
		Objective: objective,
		Weights:   make(map[string]float64, len(assets)),
		Status:    status,
		Converged: converged,
	}
	for i, a := range assets {
		alloc.Weights[a.ID] = weights[i]
	}
	alloc.ExpectedReturn = portfolioReturn(assets, weights)
	alloc.Volatility = math.Sqrt(math.Max(portfolioVariance(cov, weights), 0))
	alloc.Turnover = turnover(assets, weights)
	if alloc.Volatility > 0 {
		alloc.SharpeRatio = (alloc.ExpectedReturn - o.riskFreeRate) / alloc.Volatility
	} else {
		alloc.Warnings = append(alloc.Warnings, "sharpe_ratio defaulted to 0: zero portfolio volatility")
	}
	return alloc
}

// verifyConstraints returns a non-empty description when the solution
// violates a hard constraint.
func verifyConstraints(assets []Asset, cov *mat.SymDense, weights, lower, upper []float64, constraints Constraints) string {
	sum := 0.0
	for i, w := range weights {
		sum += w
		if w < lower[i]-1e-6 || w > upper[i]+1e-6 {
			return "weight bounds violated at asset " + assets[i].ID
		}
	}
	if math.Abs(sum-1) > 1e-6 {
		return "weights do not sum to 1"
	}
	if constraints.TargetReturn != nil {
		if math.Abs(portfolioReturn(assets, weights)-*constraints.TargetReturn) > 1e-3 {
			return "target return constraint not met"
		}
	}
	if constraints.MaxVariance != nil {
		if portfolioVariance(cov, weights) > *constraints.MaxVariance+1e-9 {
			return "variance cap exceeded"
		}
	}
	if constraints.TurnoverLimit != nil {
		if turnover(assets, weights) > *constraints.TurnoverLimit+1e-6 {
			return "turnover limit exceeded"
		}
	}
	return ""
}

func covarianceMatrix(assets []Asset, corr *CorrelationMatrix) *mat.SymDense {
	n := len(assets)
	cov := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			cov.SetSym(i, j, corr.Matrix[i][j]*assets[i].Volatility*assets[j].Volatility)
		}
	}
	return cov
}

func bounds(assets []Asset) (lower, upper []float64) {
	lower = make([]float64, len(assets))
	upper = make([]float64, len(assets))
	for i, a := range assets {
		lower[i] = math.Max(a.MinWeight, 0)
		upper[i] = a.MaxWeight
		if upper[i] <= 0 {
			upper[i] = 1
		}
	}
	return lower, upper
}

func checkFeasible(lower, upper []float64) error {
	sumLower, sumUpper := 0.0, 0.0
	for i := range lower {
		if lower[i] > upper[i] {
			return types.NewOptimizationError("bounds", "infeasible",
				"lower bound %v exceeds upper bound %v at asset %d", lower[i], upper[i], i)
		}
		sumLower += lower[i]
		sumUpper += upper[i]
	}
	if sumLower > 1+1e-9 || sumUpper < 1-1e-9 {
		return types.NewOptimizationError("bounds", "infeasible",
			"weight bounds cannot sum to 1 (lower sum %v, upper sum %v)", sumLower, sumUpper)
	}
	return nil
}

func projectToBounds(x, lower, upper []float64) []float64 {
	projected := make([]float64, len(x))
	for i, v := range x {
		projected[i] = math.Min(math.Max(v, lower[i]), upper[i])
	}
	return projected
}

// rescaleWithinBounds projects the weights to their bounds and then
// restores the unit sum by spreading the deficit or excess across assets
// in proportion to their remaining slack. Unlike a plain normalization
// this cannot push a clamped weight back outside its bound.
func rescaleWithinBounds(x, lower, upper []float64) []float64 {
	out := projectToBounds(x, lower, upper)

	for iter := 0; iter <= len(out); iter++ {
		sum := 0.0
		for _, v := range out {
			sum += v
		}
		diff := 1 - sum
		if math.Abs(diff) <= 1e-12 {
			break
		}

		slack := 0.0
		for i, v := range out {
			if diff > 0 {
				slack += upper[i] - v
			} else {
				slack += v - lower[i]
			}
		}
		if slack <= 0 {
			break
		}
		if math.Abs(diff) > slack {
			diff = math.Copysign(slack, diff)
		}
		for i := range out {
			room := out[i] - lower[i]
			if diff > 0 {
				room = upper[i] - out[i]
			}
			out[i] += diff * room / slack
		}
	}
	return out
}

func withinBounds(w, lower, upper []float64) bool {
	for i, v := range w {
		if v < lower[i]-1e-9 || v > upper[i]+1e-9 {
			return false
		}
	}
	return true
}

func normalize(w []float64) []float64 {
	sum := 0.0
	for _, v := range w {
		sum += v
	}
	if sum == 0 {
		return w
	}
	out := make([]float64, len(w))
	for i, v := range w {
		out[i] = v / sum
	}
	return out
}

func portfolioReturn(assets []Asset, w []float64) float64 {
	ret := 0.0
	for i, a := range assets {
		ret += a.ExpectedReturn * w[i]
	}
	return ret
}

func portfolioVariance(cov *mat.SymDense, w []float64) float64 {
	n := len(w)
	variance := 0.0
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			variance += w[i] * w[j] * cov.At(i, j)
		}
	}
	return variance
}

func turnover(assets []Asset, w []float64) float64 {
	total := 0.0
	for i, a := range assets {
		total += math.Abs(w[i] - a.CurrentWeight)
	}
	return total
}
