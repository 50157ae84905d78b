// Package observe wires run metrics into Prometheus and scenario spans into
// OpenTelemetry.
package observe

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector bundles the Prometheus metrics of a simulation run. It satisfies
// the scheduler's Recorder interface. All methods are safe on a nil receiver.
type Collector struct {
	gatherer prometheus.Gatherer

	Solves            *prometheus.CounterVec
	SolverIterations  *prometheus.HistogramVec
	SolveDurations    *prometheus.HistogramVec
	ScenarioOutcomes  *prometheus.CounterVec
	ActiveScenarios   prometheus.Gauge
	TimestepsComplete prometheus.Counter
}

// NewCollector registers the run metrics against reg, defaulting to the
// global Prometheus registry when nil.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	solves, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hydrosim_solves_total",
		Help: "Timestep solves, labeled by backend and solve status.",
	}, []string{"backend", "status"}), "hydrosim_solves_total")
	if err != nil {
		return nil, err
	}
	iterations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hydrosim_solver_iterations",
		Help:    "Solver iterations per timestep solve.",
		Buckets: []float64{1, 5, 10, 15, 20, 30, 50, 100, 200},
	}, []string{"backend"}), "hydrosim_solver_iterations")
	if err != nil {
		return nil, err
	}
	durations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hydrosim_solve_duration_seconds",
		Help:    "Wall time of one solve call in seconds; a batched call is observed once.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"backend"}), "hydrosim_solve_duration_seconds")
	if err != nil {
		return nil, err
	}
	outcomes, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hydrosim_scenarios_total",
		Help: "Scenarios that reached a terminal state, labeled by state.",
	}, []string{"state"}), "hydrosim_scenarios_total")
	if err != nil {
		return nil, err
	}
	active, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hydrosim_active_scenarios",
		Help: "Scenarios currently running.",
	}), "hydrosim_active_scenarios")
	if err != nil {
		return nil, err
	}
	timesteps, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hydrosim_timesteps_applied_total",
		Help: "Scenario timesteps whose solution was applied.",
	}), "hydrosim_timesteps_applied_total")
	if err != nil {
		return nil, err
	}

	return &Collector{
		gatherer:          gatherer,
		Solves:            solves,
		SolverIterations:  iterations,
		SolveDurations:    durations,
		ScenarioOutcomes:  outcomes,
		ActiveScenarios:   active,
		TimestepsComplete: timesteps,
	}, nil
}

// ObserveSolve records one solve outcome. Zero iterations means the backend
// does not count them (or presolve settled the step) and is left out of the
// iteration histogram.
func (c *Collector) ObserveSolve(backend, status string, iterations int) {
	if c == nil {
		return
	}
	c.Solves.WithLabelValues(backend, status).Inc()
	if iterations > 0 {
		c.SolverIterations.WithLabelValues(backend).Observe(float64(iterations))
	}
}

// ObserveSolveCall records the wall time of one Solve or SolveBatch call.
func (c *Collector) ObserveSolveCall(backend string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.SolveDurations.WithLabelValues(backend).Observe(elapsed.Seconds())
}

// ScenarioStarted marks a scenario as running.
func (c *Collector) ScenarioStarted() {
	if c == nil {
		return
	}
	c.ActiveScenarios.Inc()
}

// ScenarioEnded records a scenario's terminal state.
func (c *Collector) ScenarioEnded(state string) {
	if c == nil {
		return
	}
	c.ActiveScenarios.Dec()
	c.ScenarioOutcomes.WithLabelValues(state).Inc()
}

// TimestepApplied counts one applied scenario timestep.
func (c *Collector) TimestepApplied() {
	if c == nil {
		return
	}
	c.TimestepsComplete.Inc()
}

// Handler exposes a ready-to-use /metrics handler.
func (c *Collector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("observe: collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("observe: collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("observe: collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("observe: collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}
