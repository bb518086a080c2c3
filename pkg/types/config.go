package types

// EngineConfig is the top-level configuration for the risk engine.
type EngineConfig struct {
	Simulation SimulationConfig `json:"simulation" mapstructure:"simulation"`
	Metrics    MetricsConfig    `json:"metrics" mapstructure:"metrics"`
	Stress     StressConfig     `json:"stress" mapstructure:"stress"`
	FAIR       FAIRConfig       `json:"fair" mapstructure:"fair"`
	Telemetry  TelemetryConfig  `json:"telemetry" mapstructure:"telemetry"`
	LogLevel   string           `json:"logLevel" mapstructure:"log_level"`
}

// SimulationConfig controls the Monte Carlo engine defaults.
type SimulationConfig struct {
	DefaultPaths    int     `json:"defaultPaths" mapstructure:"default_paths"`
	DefaultSteps    int     `json:"defaultSteps" mapstructure:"default_steps"`
	ParallelWorkers int     `json:"parallelWorkers" mapstructure:"parallel_workers"`
	BatchSize       int     `json:"batchSize" mapstructure:"batch_size"`
	Antithetic      bool    `json:"antithetic" mapstructure:"antithetic"`
	Seed            uint64  `json:"seed" mapstructure:"seed"`
	MaxHorizonYears float64 `json:"maxHorizonYears" mapstructure:"max_horizon_years"`
}

// MetricsConfig controls risk metric computation.
type MetricsConfig struct {
	RiskFreeRate     float64   `json:"riskFreeRate" mapstructure:"risk_free_rate"`
	PeriodsPerYear   int       `json:"periodsPerYear" mapstructure:"periods_per_year"`
	ConfidenceLevels []float64 `json:"confidenceLevels" mapstructure:"confidence_levels"`
	DegreesOfFreedom float64   `json:"degreesOfFreedom" mapstructure:"degrees_of_freedom"`
}

// StressConfig controls stress testing.
type StressConfig struct {
	SuiteWorkers   int `json:"suiteWorkers" mapstructure:"suite_workers"`
	ScenarioPaths  int `json:"scenarioPaths" mapstructure:"scenario_paths"`
	ReverseMaxIter int `json:"reverseMaxIter" mapstructure:"reverse_max_iter"`
}

// FAIRConfig controls FAIR risk quantification.
type FAIRConfig struct {
	Iterations int            `json:"iterations" mapstructure:"iterations"`
	Thresholds RiskThresholds `json:"thresholds" mapstructure:"thresholds"`
}

// TelemetryConfig controls prometheus instrumentation.
type TelemetryConfig struct {
	Enabled   bool   `json:"enabled" mapstructure:"enabled"`
	Namespace string `json:"namespace" mapstructure:"namespace"`
}

// DefaultEngineConfig returns production defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Simulation: DefaultSimulationConfig(),
		Metrics:    DefaultMetricsConfig(),
		Stress:     DefaultStressConfig(),
		FAIR:       DefaultFAIRConfig(),
		Telemetry:  TelemetryConfig{Enabled: true, Namespace: "risk_engine"},
		LogLevel:   "info",
	}
}

// DefaultSimulationConfig returns Monte Carlo defaults.
func DefaultSimulationConfig() SimulationConfig {
	return SimulationConfig{
		DefaultPaths:    10_000,
		DefaultSteps:    252,
		ParallelWorkers: 4,
		BatchSize:       1_000,
		Antithetic:      true,
		Seed:            42,
		MaxHorizonYears: 30,
	}
}

// DefaultMetricsConfig returns risk metric defaults.
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		RiskFreeRate:     0.02,
		PeriodsPerYear:   252,
		ConfidenceLevels: []float64{0.95, 0.99},
		DegreesOfFreedom: 6,
	}
}

// DefaultStressConfig returns stress testing defaults.
func DefaultStressConfig() StressConfig {
	return StressConfig{
		SuiteWorkers:   4,
		ScenarioPaths:  10_000,
		ReverseMaxIter: 60,
	}
}

// DefaultFAIRConfig returns FAIR analysis defaults.
func DefaultFAIRConfig() FAIRConfig {
	return FAIRConfig{
		Iterations: 10_000,
		Thresholds: DefaultRiskThresholds(),
	}
}
