// Package main provides the risk engine command line entry point. It
// loads the engine configuration, runs the full analysis pipeline
// against the configured portfolio and writes a JSON report:
// - GBM Monte Carlo simulation with antithetic variance reduction
// - VaR, expected shortfall and risk-adjusted performance metrics
// - Correlation estimation and portfolio optimization
// - Historical stress scenarios and reverse stress search
// - FAIR operational risk quantification
// - Statistical model validation and backtesting
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"os"
	"os/signal"
	"syscall"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/atlas-desktop/risk-engine/internal/config"
	"github.com/atlas-desktop/risk-engine/internal/fair"
	"github.com/atlas-desktop/risk-engine/internal/portfolio"
	"github.com/atlas-desktop/risk-engine/internal/riskmetrics"
	"github.com/atlas-desktop/risk-engine/internal/simulation"
	"github.com/atlas-desktop/risk-engine/internal/stress"
	"github.com/atlas-desktop/risk-engine/internal/telemetry"
	"github.com/atlas-desktop/risk-engine/internal/validation"
	"github.com/atlas-desktop/risk-engine/pkg/types"
)

// report is the combined output of one pipeline run.
type report struct {
	Simulation    *simulation.Result           `json:"simulation"`
	Metrics       *riskmetrics.MetricSet       `json:"metrics"`
	Correlation   *portfolio.CorrelationMatrix `json:"correlation"`
	Allocation    *portfolio.Allocation        `json:"allocation"`
	StressSuite   *stress.SuiteResult          `json:"stress_suite"`
	BreakingPoint *stress.BreakingPoint        `json:"breaking_point"`
	FAIR          *fair.Result                 `json:"fair"`
	Validation    *validation.Report           `json:"validation"`
}

func main() {
	configPath := flag.String("config", "", "Path to the YAML configuration file")
	logLevel := flag.String("log-level", "", "Override the configured log level (debug, info, warn, error)")
	outputPath := flag.String("output", "", "Write the JSON report to this file instead of stdout")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	logger := setupLogger(cfg.LogLevel)
	defer logger.Sync()

	var recorder *telemetry.Recorder
	if cfg.Telemetry.Enabled {
		recorder = telemetry.NewRecorder(cfg.Telemetry.Namespace)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting risk engine",
		zap.Int("paths", cfg.Simulation.DefaultPaths),
		zap.Int("steps", cfg.Simulation.DefaultSteps),
		zap.Bool("telemetry", cfg.Telemetry.Enabled),
	)

	out, err := run(ctx, logger, cfg, recorder)
	if err != nil {
		logger.Fatal("pipeline failed", zap.Error(err))
	}

	encoded, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		logger.Fatal("encoding report", zap.Error(err))
	}
	if *outputPath != "" {
		if err := os.WriteFile(*outputPath, encoded, 0o644); err != nil {
			logger.Fatal("writing report", zap.Error(err))
		}
		logger.Info("report written", zap.String("path", *outputPath))
		return
	}
	fmt.Println(string(encoded))
}

func run(ctx context.Context, logger *zap.Logger, cfg types.EngineConfig, recorder *telemetry.Recorder) (*report, error) {
	simulator := simulation.NewSimulator(logger, cfg.Simulation, recorder)
	calculator := riskmetrics.NewCalculator(logger, cfg.Metrics)
	estimator := portfolio.NewEstimator(logger)
	optimizer := portfolio.NewOptimizer(logger, cfg.Metrics.RiskFreeRate, recorder)
	tester := stress.NewTester(logger, simulator, calculator, cfg.Stress, recorder)
	fairEngine := fair.NewEngine(logger, simulator, cfg.FAIR)
	validator := validation.NewValidator(logger, recorder)

	out := &report{}

	baseParams := simulation.Parameters{
		InitialValue: 100,
		Drift:        0.07,
		Volatility:   0.18,
		HorizonYears: 1,
		Steps:        cfg.Simulation.DefaultSteps,
		Paths:        cfg.Simulation.DefaultPaths,
		Seed:         cfg.Simulation.Seed,
		Antithetic:   cfg.Simulation.Antithetic,
		TimeUnit:     simulation.TimeUnitDays,
	}
	simResult, err := simulator.Run(ctx, baseParams)
	if err != nil {
		return nil, fmt.Errorf("simulation: %w", err)
	}
	out.Simulation = simResult

	// Risk metrics over the per-period returns of a representative path.
	series := periodReturns(simResult.Paths[0])
	metrics, err := calculator.Compute(series, riskmetrics.Options{})
	if err != nil {
		return nil, fmt.Errorf("risk metrics: %w", err)
	}
	out.Metrics = metrics

	corr, alloc, err := optimizePortfolio(ctx, simulator, estimator, optimizer, cfg)
	if err != nil {
		return nil, fmt.Errorf("portfolio: %w", err)
	}
	out.Correlation = corr
	out.Allocation = alloc

	book := stress.Portfolio{
		Value:             decimal.NewFromInt(1_000_000),
		RegulatoryCapital: decimal.NewFromInt(150_000),
		RiskLimits:        map[string]float64{"var_95": 100_000},
	}
	suite, err := tester.RunSuite(ctx, "historical", stress.HistoricalScenarios(), baseParams, book)
	if err != nil {
		return nil, fmt.Errorf("stress suite: %w", err)
	}
	out.StressSuite = suite

	breaking, err := tester.FindBreakingPoint(ctx, 250_000, baseParams, book)
	if err != nil {
		return nil, fmt.Errorf("reverse stress: %w", err)
	}
	out.BreakingPoint = breaking

	fairResult, err := fairEngine.Analyze(ctx, fair.StandardScenarios()["cyber_attack"])
	if err != nil {
		return nil, fmt.Errorf("fair analysis: %w", err)
	}
	out.FAIR = fairResult

	validationReport, err := validateModel(ctx, validator, calculator, series, cfg)
	if err != nil {
		return nil, fmt.Errorf("model validation: %w", err)
	}
	out.Validation = validationReport

	return out, nil
}

// optimizePortfolio runs a three asset correlated simulation, estimates
// the correlation structure from the simulated returns and solves for the
// maximum Sharpe allocation.
func optimizePortfolio(ctx context.Context, simulator *simulation.Simulator, estimator *portfolio.Estimator, optimizer *portfolio.Optimizer, cfg types.EngineConfig) (*portfolio.CorrelationMatrix, *portfolio.Allocation, error) {
	assets := []portfolio.Asset{
		{ID: "equities", ExpectedReturn: 0.08, Volatility: 0.18},
		{ID: "bonds", ExpectedReturn: 0.04, Volatility: 0.06},
		{ID: "commodities", ExpectedReturn: 0.06, Volatility: 0.22},
	}

	correlated, err := simulator.RunCorrelated(ctx, simulation.CorrelatedParameters{
		Assets: []simulation.AssetParameters{
			{ID: "equities", InitialValue: 100, Drift: 0.08, Volatility: 0.18},
			{ID: "bonds", InitialValue: 100, Drift: 0.04, Volatility: 0.06},
			{ID: "commodities", InitialValue: 100, Drift: 0.06, Volatility: 0.22},
		},
		Correlations: [][]float64{
			{1, -0.2, 0.4},
			{-0.2, 1, -0.1},
			{0.4, -0.1, 1},
		},
		HorizonYears: 1,
		Steps:        52,
		Paths:        cfg.Simulation.DefaultPaths,
		Seed:         cfg.Simulation.Seed,
	})
	if err != nil {
		return nil, nil, err
	}

	ids := []string{"equities", "bonds", "commodities"}
	returns := make(map[string][]float64, len(ids))
	for _, id := range ids {
		paths := correlated.AssetPaths[id]
		terminal := make([]float64, len(paths))
		for i, path := range paths {
			terminal[i] = math.Log(path[len(path)-1] / path[0])
		}
		returns[id] = terminal
	}

	corr, err := estimator.Estimate(ids, returns, portfolio.CorrelationHistorical, portfolio.EstimateOptions{})
	if err != nil {
		return nil, nil, err
	}

	alloc, err := optimizer.Optimize(assets, corr, portfolio.ObjectiveMaxSharpe, portfolio.Constraints{})
	if err != nil {
		return corr, alloc, err
	}
	return corr, alloc, nil
}

// validateModel backtests a parametric normal VaR model against the
// simulated return series.
func validateModel(ctx context.Context, validator *validation.Validator, calculator *riskmetrics.Calculator, series []float64, cfg types.EngineConfig) (*validation.Report, error) {
	mu, sigma := sampleMoments(series)

	forecasts := make(map[float64][]float64, len(cfg.Metrics.ConfidenceLevels))
	for _, confidence := range cfg.Metrics.ConfidenceLevels {
		level, err := calculator.ParametricVaR(mu, sigma, confidence, 1, riskmetrics.DistributionNormal)
		if err != nil {
			return nil, err
		}
		constant := make([]float64, len(series))
		for i := range constant {
			constant[i] = level
		}
		forecasts[confidence] = constant
	}

	return validator.ValidateModel(ctx, validation.ModelInput{
		ModelName:    "parametric-normal",
		Returns:      series,
		VaRForecasts: forecasts,
	})
}

func periodReturns(path []float64) []float64 {
	returns := make([]float64, len(path)-1)
	for i := 1; i < len(path); i++ {
		returns[i-1] = path[i]/path[i-1] - 1
	}
	return returns
}

func sampleMoments(series []float64) (mu, sigma float64) {
	for _, r := range series {
		mu += r
	}
	mu /= float64(len(series))
	for _, r := range series {
		d := r - mu
		sigma += d * d
	}
	sigma = math.Sqrt(sigma / float64(len(series)-1))
	return mu, sigma
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	zapConfig := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zapConfig.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
