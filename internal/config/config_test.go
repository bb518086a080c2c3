package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlas-desktop/risk-engine/pkg/types"
)

func TestLoadDefaultsWhenNoFile(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, types.DefaultEngineConfig(), cfg)
}

func TestLoadOverridesFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "riskengine.yaml")
	yaml := []byte(`
simulation:
  default_paths: 50000
  parallel_workers: 8
metrics:
  risk_free_rate: 0.03
log_level: debug
`)
	require.NoError(t, os.WriteFile(path, yaml, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 50_000, cfg.Simulation.DefaultPaths)
	assert.Equal(t, 8, cfg.Simulation.ParallelWorkers)
	assert.InDelta(t, 0.03, cfg.Metrics.RiskFreeRate, 1e-12)
	assert.Equal(t, "debug", cfg.LogLevel)

	// Untouched keys keep their defaults.
	assert.Equal(t, 252, cfg.Simulation.DefaultSteps)
	assert.Equal(t, 252, cfg.Metrics.PeriodsPerYear)
}

func TestLoadRejectsMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "riskengine.yaml")
	require.NoError(t, os.WriteFile(path, []byte("simulation:\n  default_paths: 0\n"), 0o644))

	_, err := Load(path)
	var verr *types.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "simulation.default_paths", verr.Field)
}
