// Package portfolio provides correlation estimation, portfolio
// optimization and diversification analytics.
package portfolio

import (
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/atlas-desktop/risk-engine/pkg/types"
)

// CorrelationMethod selects the estimator.
type CorrelationMethod string

const (
	CorrelationHistorical CorrelationMethod = "historical"
	CorrelationEWMA       CorrelationMethod = "exponential_weighted"
	CorrelationShrinkage  CorrelationMethod = "shrinkage"
)

// ShrinkageTarget selects the Ledoit-Wolf shrinkage target.
type ShrinkageTarget string

const (
	ShrinkageTargetIdentity ShrinkageTarget = "identity"
	ShrinkageTargetConstant ShrinkageTarget = "constant"
)

// psdTolerance is the eigenvalue floor below which a matrix is treated as
// indefinite.
const psdTolerance = -1e-8

// EstimateOptions tune the correlation estimators.
type EstimateOptions struct {
	// DecayFactor is the EWMA decay, defaulting to 0.94.
	DecayFactor float64
	// Target is the shrinkage target, defaulting to identity.
	Target ShrinkageTarget
}

// CorrelationMatrix is an estimated correlation structure with its
// spectral diagnostics.
type CorrelationMatrix struct {
	AssetIDs        []string          `json:"asset_ids"`
	Matrix          [][]float64       `json:"matrix"`
	Method          CorrelationMethod `json:"method"`
	Observations    int               `json:"observations"`
	Eigenvalues     []float64         `json:"eigenvalues"`
	ConditionNumber float64           `json:"condition_number"`
	PositiveSemiDef bool              `json:"positive_semi_definite"`
	Regularized     bool              `json:"regularized"`
	Warnings        []string          `json:"warnings,omitempty"`
}

// Estimator builds correlation matrices from return series.
type Estimator struct {
	logger *zap.Logger
}

// NewEstimator creates an Estimator.
func NewEstimator(logger *zap.Logger) *Estimator {
	return &Estimator{logger: logger}
}

// Estimate builds a correlation matrix over the given assets. Every asset
// must have a return series of identical length with at least two
// observations. Indefinite estimates are regularized by eigenvalue
// clipping, never returned silently.
func (e *Estimator) Estimate(assetIDs []string, returns map[string][]float64, method CorrelationMethod, opts EstimateOptions) (*CorrelationMatrix, error) {
	n := len(assetIDs)
	if n < 2 {
		return nil, types.NewValidationError("asset_ids", "need at least 2 assets, got %d", n)
	}

	series := make([][]float64, n)
	periods := -1
	for i, id := range assetIDs {
		r, ok := returns[id]
		if !ok {
			return nil, types.NewValidationError("returns", "missing return series for asset %s", id)
		}
		if periods == -1 {
			periods = len(r)
		} else if len(r) != periods {
			return nil, types.NewValidationError("returns",
				"asset %s has %d observations, want %d", id, len(r), periods)
		}
		series[i] = r
	}
	if periods < 2 {
		return nil, types.NewInsufficientDataError("correlation estimation", 2, periods)
	}

	var matrix [][]float64
	switch method {
	case CorrelationHistorical:
		matrix = sampleCorrelation(series, nil)
	case CorrelationEWMA:
		decay := opts.DecayFactor
		if decay == 0 {
			decay = 0.94
		}
		if decay <= 0 || decay >= 1 {
			return nil, types.NewValidationError("decay_factor", "must be in (0, 1), got %v", decay)
		}
		matrix = sampleCorrelation(series, ewmaWeights(periods, decay))
	case CorrelationShrinkage:
		matrix = shrinkCorrelation(sampleCorrelation(series, nil), n, periods, opts.Target)
	default:
		return nil, types.NewValidationError("method", "unsupported correlation method %q", method)
	}

	result := &CorrelationMatrix{
		AssetIDs:     assetIDs,
		Matrix:       matrix,
		Method:       method,
		Observations: periods,
	}
	if err := e.finalize(result); err != nil {
		return nil, err
	}
	return result, nil
}

// finalize computes the spectrum and regularizes indefinite estimates.
func (e *Estimator) finalize(cm *CorrelationMatrix) error {
	eigenvalues, vectors, err := eigenDecompose(cm.Matrix)
	if err != nil {
		return err
	}

	if floats.Min(eigenvalues) < psdTolerance {
		e.logger.Warn("correlation estimate is not positive semi-definite, clipping eigenvalues",
			zap.Float64("min_eigenvalue", floats.Min(eigenvalues)),
			zap.String("method", string(cm.Method)),
		)
		cm.Matrix = clipEigenvalues(eigenvalues, vectors)
		cm.Regularized = true
		cm.Warnings = append(cm.Warnings,
			"indefinite correlation estimate regularized by eigenvalue clipping")
		if eigenvalues, _, err = eigenDecompose(cm.Matrix); err != nil {
			return err
		}
	}

	minEig := floats.Min(eigenvalues)
	cm.Eigenvalues = eigenvalues
	cm.PositiveSemiDef = minEig >= psdTolerance
	cm.ConditionNumber = floats.Max(eigenvalues) / math.Max(minEig, 1e-10)
	return nil
}

// Validate checks the structural correlation matrix invariants.
func (cm *CorrelationMatrix) Validate() error {
	n := len(cm.AssetIDs)
	if len(cm.Matrix) != n {
		return types.NewValidationError("matrix", "size %d does not match %d assets", len(cm.Matrix), n)
	}
	for i, row := range cm.Matrix {
		if len(row) != n {
			return types.NewValidationError("matrix", "row %d has %d entries, want %d", i, len(row), n)
		}
		if math.Abs(row[i]-1) > 1e-8 {
			return types.NewValidationError("matrix", "diagonal entry %d is %v, want 1", i, row[i])
		}
		for j, v := range row {
			if math.Abs(v) > 1+1e-8 {
				return types.NewValidationError("matrix", "entry (%d,%d) is %v, outside [-1, 1]", i, j, v)
			}
			if math.Abs(v-cm.Matrix[j][i]) > 1e-8 {
				return types.NewValidationError("matrix", "not symmetric at (%d,%d)", i, j)
			}
		}
	}
	if !cm.PositiveSemiDef {
		return types.NewValidationError("matrix", "not positive semi-definite")
	}
	return nil
}

// sampleCorrelation computes the (optionally weighted) Pearson correlation
// of every asset pair.
func sampleCorrelation(series [][]float64, weights []float64) [][]float64 {
	n := len(series)
	matrix := make([][]float64, n)
	for i := range matrix {
		matrix[i] = make([]float64, n)
		matrix[i][i] = 1
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			c := stat.Correlation(series[i], series[j], weights)
			if math.IsNaN(c) {
				c = 0
			}
			matrix[i][j] = c
			matrix[j][i] = c
		}
	}
	return matrix
}

// ewmaWeights builds exponentially decaying observation weights, most
// recent observation heaviest, normalized to sum to 1.
func ewmaWeights(n int, decay float64) []float64 {
	weights := make([]float64, n)
	sum := 0.0
	for t := 0; t < n; t++ {
		w := (1 - decay) * math.Pow(decay, float64(n-1-t))
		weights[t] = w
		sum += w
	}
	for t := range weights {
		weights[t] /= sum
	}
	return weights
}

// shrinkCorrelation applies Ledoit-Wolf style shrinkage toward the chosen
// target with intensity min(1, (nAssets+1)/nPeriods).
func shrinkCorrelation(sample [][]float64, nAssets, nPeriods int, target ShrinkageTarget) [][]float64 {
	intensity := math.Min(1, float64(nAssets+1)/float64(nPeriods))

	var targetAt func(i, j int) float64
	switch target {
	case ShrinkageTargetConstant:
		sum, count := 0.0, 0
		for i := range sample {
			for j := range sample[i] {
				if i != j {
					sum += sample[i][j]
					count++
				}
			}
		}
		avg := 0.0
		if count > 0 {
			avg = sum / float64(count)
		}
		targetAt = func(i, j int) float64 {
			if i == j {
				return 1
			}
			return avg
		}
	default:
		targetAt = func(i, j int) float64 {
			if i == j {
				return 1
			}
			return 0
		}
	}

	shrunk := make([][]float64, len(sample))
	for i := range sample {
		shrunk[i] = make([]float64, len(sample[i]))
		for j := range sample[i] {
			shrunk[i][j] = (1-intensity)*sample[i][j] + intensity*targetAt(i, j)
		}
	}
	return shrunk
}

// eigenDecompose returns the eigenvalues and eigenvectors of a symmetric
// matrix.
func eigenDecompose(matrix [][]float64) ([]float64, *mat.Dense, error) {
	n := len(matrix)
	data := make([]float64, 0, n*n)
	for _, row := range matrix {
		data = append(data, row...)
	}

	var eig mat.EigenSym
	if ok := eig.Factorize(mat.NewSymDense(n, data), true); !ok {
		return nil, nil, types.NewNumericalError("eigendecomposition", "factorization failed")
	}
	var vectors mat.Dense
	eig.VectorsTo(&vectors)
	return eig.Values(nil), &vectors, nil
}

// clipEigenvalues reconstructs the matrix with negative eigenvalues
// floored at a small positive value and the diagonal rescaled to 1.
func clipEigenvalues(eigenvalues []float64, vectors *mat.Dense) [][]float64 {
	n := len(eigenvalues)
	clipped := make([]float64, n)
	for i, v := range eigenvalues {
		clipped[i] = math.Max(v, 1e-10)
	}

	var lambda mat.Dense
	lambda.Mul(vectors, mat.NewDiagDense(n, clipped))
	var rebuilt mat.Dense
	rebuilt.Mul(&lambda, vectors.T())

	matrix := make([][]float64, n)
	for i := range matrix {
		matrix[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			denom := math.Sqrt(rebuilt.At(i, i) * rebuilt.At(j, j))
			if denom <= 0 {
				denom = 1
			}
			matrix[i][j] = rebuilt.At(i, j) / denom
		}
	}
	for i := 0; i < n; i++ {
		matrix[i][i] = 1
	}
	return matrix
}
