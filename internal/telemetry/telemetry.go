// Package telemetry exposes prometheus instrumentation for the risk engine.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder collects engine-level counters and timings. A nil Recorder is
// valid and records nothing, so components can take it as an optional
// dependency.
type Recorder struct {
	registry *prometheus.Registry

	simulationsTotal   prometheus.Counter
	pathsTotal         prometheus.Counter
	scenarioRunsTotal  prometheus.Counter
	optimizationsTotal *prometheus.CounterVec
	validationsTotal   *prometheus.CounterVec
	simulationDuration prometheus.Histogram
	scenarioDuration   prometheus.Histogram
}

// NewRecorder creates a Recorder with its own registry.
func NewRecorder(namespace string) *Recorder {
	if namespace == "" {
		namespace = "risk_engine"
	}

	r := &Recorder{registry: prometheus.NewRegistry()}

	r.simulationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "simulations_total",
		Help:      "Completed Monte Carlo simulation runs.",
	})
	r.pathsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "simulated_paths_total",
		Help:      "Total price paths generated.",
	})
	r.scenarioRunsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stress_scenario_runs_total",
		Help:      "Stress scenarios executed.",
	})
	r.optimizationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "optimizations_total",
		Help:      "Portfolio optimizations by convergence status.",
	}, []string{"status"})
	r.validationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "model_validations_total",
		Help:      "Model validation runs by verdict.",
	}, []string{"verdict"})
	r.simulationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "simulation_duration_seconds",
		Help:      "Wall time of simulation runs.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
	})
	r.scenarioDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "stress_scenario_duration_seconds",
		Help:      "Wall time of single stress scenarios.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
	})

	r.registry.MustRegister(
		r.simulationsTotal,
		r.pathsTotal,
		r.scenarioRunsTotal,
		r.optimizationsTotal,
		r.validationsTotal,
		r.simulationDuration,
		r.scenarioDuration,
	)

	return r
}

// Registry returns the underlying registry for exposition.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// ObserveSimulation records a completed simulation run.
func (r *Recorder) ObserveSimulation(paths int, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.simulationsTotal.Inc()
	r.pathsTotal.Add(float64(paths))
	r.simulationDuration.Observe(elapsed.Seconds())
}

// ObserveScenario records a completed stress scenario.
func (r *Recorder) ObserveScenario(elapsed time.Duration) {
	if r == nil {
		return
	}
	r.scenarioRunsTotal.Inc()
	r.scenarioDuration.Observe(elapsed.Seconds())
}

// ObserveOptimization records an optimization attempt by status.
func (r *Recorder) ObserveOptimization(status string) {
	if r == nil {
		return
	}
	r.optimizationsTotal.WithLabelValues(status).Inc()
}

// ObserveValidation records a model validation by verdict.
func (r *Recorder) ObserveValidation(verdict string) {
	if r == nil {
		return
	}
	r.validationsTotal.WithLabelValues(verdict).Inc()
}
