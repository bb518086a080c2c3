// Package simulation implements geometric Brownian motion Monte Carlo
// price path generation with variance reduction and deterministic seeding.
package simulation

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/atlas-desktop/risk-engine/internal/telemetry"
	"github.com/atlas-desktop/risk-engine/pkg/types"
)

// TimeUnit labels the spacing of the output time grid.
type TimeUnit string

const (
	TimeUnitDays   TimeUnit = "days"
	TimeUnitWeeks  TimeUnit = "weeks"
	TimeUnitMonths TimeUnit = "months"
	TimeUnitYears  TimeUnit = "years"
)

// gridScale converts a year-denominated step into the grid unit.
func (u TimeUnit) gridScale() float64 {
	switch u {
	case TimeUnitDays:
		return 365
	case TimeUnitWeeks:
		return 52
	case TimeUnitMonths:
		return 12
	default:
		return 1
	}
}

// Parameters define a single GBM simulation.
type Parameters struct {
	InitialValue float64  `json:"initial_value"`
	Drift        float64  `json:"drift"`
	Volatility   float64  `json:"volatility"`
	HorizonYears float64  `json:"horizon_years"`
	Steps        int      `json:"steps"`
	Paths        int      `json:"paths"`
	Seed         uint64   `json:"seed"`
	Antithetic   bool     `json:"antithetic"`
	TimeUnit     TimeUnit `json:"time_unit,omitempty"`
}

// Validate checks the parameters for structural validity.
func (p Parameters) Validate() error {
	if p.InitialValue <= 0 || math.IsNaN(p.InitialValue) || math.IsInf(p.InitialValue, 0) {
		return types.NewValidationError("initial_value", "must be a positive finite number, got %v", p.InitialValue)
	}
	if math.IsNaN(p.Drift) || math.IsInf(p.Drift, 0) {
		return types.NewValidationError("drift", "must be finite, got %v", p.Drift)
	}
	if p.Volatility < 0 || math.IsNaN(p.Volatility) || math.IsInf(p.Volatility, 0) {
		return types.NewValidationError("volatility", "must be non-negative and finite, got %v", p.Volatility)
	}
	if p.HorizonYears <= 0 || math.IsNaN(p.HorizonYears) || math.IsInf(p.HorizonYears, 0) {
		return types.NewValidationError("horizon_years", "must be positive, got %v", p.HorizonYears)
	}
	if p.Steps < 1 {
		return types.NewValidationError("steps", "must be at least 1, got %d", p.Steps)
	}
	if p.Paths < 1 {
		return types.NewValidationError("paths", "must be at least 1, got %d", p.Paths)
	}
	return nil
}

// Result holds a completed simulation run.
type Result struct {
	RunID           string           `json:"run_id"`
	Parameters      Parameters       `json:"parameters"`
	TimeGrid        []float64        `json:"time_grid"`
	Paths           [][]float64      `json:"-"`
	Stats           *PathStatistics  `json:"path_statistics"`
	TerminalMoments *Moments         `json:"terminal_moments"`
	TheoreticalMean float64          `json:"theoretical_mean"`
	TheoreticalVol  float64          `json:"theoretical_volatility"`
	Elapsed         time.Duration    `json:"elapsed_ns"`
}

// Simulator generates GBM price paths.
type Simulator struct {
	logger   *zap.Logger
	config   types.SimulationConfig
	recorder *telemetry.Recorder
}

// NewSimulator creates a Simulator. The recorder may be nil.
func NewSimulator(logger *zap.Logger, config types.SimulationConfig, recorder *telemetry.Recorder) *Simulator {
	if config.ParallelWorkers < 1 {
		config.ParallelWorkers = 1
	}
	if config.BatchSize < 1 {
		config.BatchSize = 1000
	}
	return &Simulator{logger: logger, config: config, recorder: recorder}
}

// batch is a contiguous range of path indices generated from one RNG stream.
type batch struct {
	index int
	start int
	count int
}

// Run generates all paths for the given parameters.
//
// Reproducibility: each batch of paths draws from its own PCG stream keyed
// by (seed, batch index), so identical parameters and seed produce
// bit-identical paths regardless of worker count. Cancellation is checked
// between batches.
func (s *Simulator) Run(ctx context.Context, params Parameters) (*Result, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if s.config.MaxHorizonYears > 0 && params.HorizonYears > s.config.MaxHorizonYears {
		return nil, types.NewValidationError("horizon_years",
			"exceeds configured maximum %v years", s.config.MaxHorizonYears)
	}

	start := time.Now()
	s.logger.Info("starting GBM simulation",
		zap.Int("paths", params.Paths),
		zap.Int("steps", params.Steps),
		zap.Uint64("seed", params.Seed),
		zap.Bool("antithetic", params.Antithetic),
	)

	paths := make([][]float64, params.Paths)

	// Antithetic generation works on pairs: path 2k uses draws Z, path
	// 2k+1 reuses -Z. Batches therefore span pairs, not single paths.
	unit := 1
	if params.Antithetic {
		unit = 2
	}
	groups := (params.Paths + unit - 1) / unit
	perBatch := s.config.BatchSize
	numBatches := (groups + perBatch - 1) / perBatch

	jobs := make(chan batch, numBatches)
	errCh := make(chan error, s.config.ParallelWorkers)
	var wg sync.WaitGroup

	for w := 0; w < s.config.ParallelWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for b := range jobs {
				if err := ctx.Err(); err != nil {
					errCh <- err
					return
				}
				s.generateBatch(params, b, unit, paths)
			}
		}()
	}

	for b := 0; b < numBatches; b++ {
		startGroup := b * perBatch
		count := perBatch
		if startGroup+count > groups {
			count = groups - startGroup
		}
		jobs <- batch{index: b, start: startGroup, count: count}
	}
	close(jobs)
	wg.Wait()

	select {
	case err := <-errCh:
		s.logger.Warn("simulation cancelled", zap.Error(err))
		return nil, err
	default:
	}

	stats, err := ComputePathStatistics(paths, params.InitialValue)
	if err != nil {
		return nil, err
	}
	moments, err := ComputeMoments(stats.TerminalValues)
	if err != nil {
		return nil, err
	}

	elapsed := time.Since(start)
	s.recorder.ObserveSimulation(params.Paths, elapsed)
	s.logger.Info("GBM simulation complete",
		zap.Duration("elapsed", elapsed),
		zap.Float64("mean_terminal", moments.Mean),
	)

	return &Result{
		RunID:           uuid.NewString(),
		Parameters:      params,
		TimeGrid:        timeGrid(params),
		Paths:           paths,
		Stats:           stats,
		TerminalMoments: moments,
		TheoreticalMean: params.InitialValue * math.Exp(params.Drift*params.HorizonYears),
		TheoreticalVol:  params.Volatility * math.Sqrt(params.HorizonYears),
		Elapsed:         elapsed,
	}, nil
}

// generateBatch fills the paths covered by one batch.
func (s *Simulator) generateBatch(params Parameters, b batch, unit int, paths [][]float64) {
	normal := distuv.Normal{
		Mu:    0,
		Sigma: 1,
		Src:   rand.NewPCG(params.Seed, uint64(b.index)),
	}

	dt := params.HorizonYears / float64(params.Steps)
	driftTerm := (params.Drift - 0.5*params.Volatility*params.Volatility) * dt
	volSqrtDt := params.Volatility * math.Sqrt(dt)

	draws := make([]float64, params.Steps)
	for g := b.start; g < b.start+b.count; g++ {
		for i := range draws {
			draws[i] = normal.Rand()
		}

		base := g * unit
		paths[base] = buildPath(params, driftTerm, volSqrtDt, draws, 1)
		if unit == 2 && base+1 < params.Paths {
			paths[base+1] = buildPath(params, driftTerm, volSqrtDt, draws, -1)
		}
	}
}

// buildPath discretizes S(t+dt) = S(t) * exp((mu - sigma^2/2)dt + sigma*sqrt(dt)*Z).
func buildPath(params Parameters, driftTerm, volSqrtDt float64, draws []float64, sign float64) []float64 {
	path := make([]float64, params.Steps+1)
	path[0] = params.InitialValue
	for i, z := range draws {
		path[i+1] = path[i] * math.Exp(driftTerm+volSqrtDt*sign*z)
	}
	return path
}

func timeGrid(params Parameters) []float64 {
	dt := params.HorizonYears / float64(params.Steps) * params.TimeUnit.gridScale()
	grid := make([]float64, params.Steps+1)
	for i := range grid {
		grid[i] = float64(i) * dt
	}
	return grid
}
