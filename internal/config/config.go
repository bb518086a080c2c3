// Package config loads engine configuration from YAML files and the
// environment on top of the built-in defaults.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/atlas-desktop/risk-engine/pkg/types"
)

// Load reads the engine configuration. An empty path falls back to a
// riskengine.yaml found in the working directory or ~/.config/riskengine,
// and to the defaults when no file exists. RISK_ENGINE_* environment
// variables override file values.
func Load(path string) (types.EngineConfig, error) {
	cfg := types.DefaultEngineConfig()

	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("riskengine")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/riskengine")
	}
	v.SetEnvPrefix("RISK_ENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path == "" && errors.As(err, &notFound) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}

	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validate(cfg types.EngineConfig) error {
	if cfg.Simulation.DefaultPaths < 1 {
		return types.NewValidationError("simulation.default_paths", "must be positive, got %d", cfg.Simulation.DefaultPaths)
	}
	if cfg.Simulation.DefaultSteps < 1 {
		return types.NewValidationError("simulation.default_steps", "must be positive, got %d", cfg.Simulation.DefaultSteps)
	}
	if cfg.Metrics.PeriodsPerYear < 1 {
		return types.NewValidationError("metrics.periods_per_year", "must be positive, got %d", cfg.Metrics.PeriodsPerYear)
	}
	for _, c := range cfg.Metrics.ConfidenceLevels {
		if c <= 0 || c >= 1 {
			return types.NewValidationError("metrics.confidence_levels", "must be in (0, 1), got %v", c)
		}
	}
	if cfg.FAIR.Iterations < 1 {
		return types.NewValidationError("fair.iterations", "must be positive, got %d", cfg.FAIR.Iterations)
	}
	return nil
}
