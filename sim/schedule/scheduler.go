// Package schedule drives a model over its timesteps for every scenario.
//
// Scenarios are independent and run concurrently on a bounded worker pool;
// within a scenario timesteps run strictly in order, each going through
// Resolving, Compiling, Solving and Applying before the next begins. When
// the backend solves batches, all active scenarios instead advance in
// lockstep and each timestep is a single batched solve.
//
// The scheduler is the only writer of storage volumes. Cancellation, from
// the caller or from AbortOnFailure, is observed at timestep boundaries;
// in-flight solves complete.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/hydro-sim/hydro-sim/sim"
	"github.com/hydro-sim/hydro-sim/sim/network"
	"github.com/hydro-sim/hydro-sim/sim/param"
	"github.com/hydro-sim/hydro-sim/sim/solver"
	"github.com/hydro-sim/hydro-sim/sim/timeseries"
	"github.com/hydro-sim/hydro-sim/sim/trace"
)

const tracerName = "github.com/hydro-sim/hydro-sim/sim/schedule"

// Recorder receives run metrics. observe.Collector implements it.
type Recorder interface {
	ObserveSolve(backend, status string, iterations int)
	ObserveSolveCall(backend string, elapsed time.Duration)
	ScenarioStarted()
	ScenarioEnded(state string)
	TimestepApplied()
}

// Config configures a run.
type Config struct {
	Timesteps      []sim.Timestep
	Scenarios      []sim.Scenario
	Workers        int // concurrent scenarios; 0 means GOMAXPROCS
	AbortOnFailure bool
	IterationLimit IterationLimitPolicy
	Recorder       Recorder        // optional
	Trace          *trace.RunTrace // optional
}

// Scheduler runs one model over a horizon and a set of scenarios. The model,
// graph and provider are shared read-only by every scenario.
type Scheduler struct {
	model    *network.Model
	graph    *param.Graph
	provider timeseries.Provider
	solver   solver.Solver
	cfg      Config
	stores   map[string]int // storage node name -> volume slot
}

// New validates the run inputs and returns a Scheduler. The provider may be
// nil when the graph reads no time series.
func New(m *network.Model, g *param.Graph, p timeseries.Provider, s solver.Solver, cfg Config) (*Scheduler, error) {
	switch {
	case m == nil:
		return nil, errors.New("schedule: model is nil")
	case g == nil:
		return nil, errors.New("schedule: parameter graph is nil")
	case s == nil:
		return nil, errors.New("schedule: solver is nil")
	case len(cfg.Timesteps) == 0:
		return nil, errors.New("schedule: no timesteps")
	case len(cfg.Scenarios) == 0:
		return nil, errors.New("schedule: no scenarios")
	case cfg.Workers < 0:
		return nil, fmt.Errorf("schedule: workers must be non-negative, got %d", cfg.Workers)
	case cfg.IterationLimit != AcceptIterationLimit && cfg.IterationLimit != FailIterationLimit:
		return nil, fmt.Errorf("schedule: invalid iteration limit policy %s", cfg.IterationLimit)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("schedule: %w", err)
	}
	if err := m.CheckReferences(g); err != nil {
		return nil, fmt.Errorf("schedule: %w", err)
	}
	for i, ts := range cfg.Timesteps {
		if ts.Index != i {
			return nil, fmt.Errorf("schedule: timestep %d has index %d", i, ts.Index)
		}
	}
	seen := make(map[int]bool, len(cfg.Scenarios))
	for _, sc := range cfg.Scenarios {
		if seen[sc.Index] {
			return nil, fmt.Errorf("schedule: duplicate scenario index %d", sc.Index)
		}
		seen[sc.Index] = true
	}
	if cfg.Workers == 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}

	stores := make(map[string]int)
	for k, i := range m.StorageNodes() {
		stores[m.Nodes()[i].Name] = k
	}
	return &Scheduler{model: m, graph: g, provider: p, solver: s, cfg: cfg, stores: stores}, nil
}

// Run simulates every scenario. Scenario failures are reported in Results;
// the returned error is non-nil only when the run was aborted, either by
// AbortOnFailure (wrapping the first failure) or by ctx (wrapping
// sim.ErrCancelled). Results are returned in both cases.
func (s *Scheduler) Run(ctx context.Context) (*Results, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "schedule.Run")
	defer span.End()
	span.SetAttributes(
		attribute.String("solver.backend", s.solver.Name()),
		attribute.Int("run.scenarios", len(s.cfg.Scenarios)),
		attribute.Int("run.timesteps", len(s.cfg.Timesteps)),
	)

	batch, batched := s.solver.(solver.BatchSolver)
	logrus.Infof("Starting run: %d scenario(s) x %d timestep(s), backend %s, workers %d, batched %t",
		len(s.cfg.Scenarios), len(s.cfg.Timesteps), s.solver.Name(), s.cfg.Workers, batched)
	start := time.Now()

	runs := make([]*scenarioRun, len(s.cfg.Scenarios))
	for i, sc := range s.cfg.Scenarios {
		runs[i] = s.newScenarioRun(sc)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if batched {
		s.runLockstep(runCtx, cancel, batch, runs)
	} else {
		s.runConcurrent(runCtx, runs)
	}

	res := &Results{Backend: s.solver.Name(), Scenarios: make([]*ScenarioResult, len(runs)), model: s.model}
	for i, r := range runs {
		res.Scenarios[i] = r.result()
	}
	res.FirstFailure = res.firstFailure()

	logrus.Infof("Run finished in %s: %d/%d scenario(s) finished",
		time.Since(start).Round(time.Millisecond), res.Finished(), len(runs))

	switch {
	case s.cfg.AbortOnFailure && res.FirstFailure != nil:
		span.SetAttributes(attribute.String("run.aborted_by", string(res.FirstFailure.Kind)))
		return res, fmt.Errorf("schedule: run aborted: %w", res.FirstFailure)
	case ctx.Err() != nil:
		return res, fmt.Errorf("schedule: %w: %w", sim.ErrCancelled, ctx.Err())
	}
	return res, nil
}

// runConcurrent runs each scenario to completion on a bounded errgroup. A
// scenario returns an error only when it fails under AbortOnFailure, which
// cancels the group context for the others.
func (s *Scheduler) runConcurrent(ctx context.Context, runs []*scenarioRun) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	for _, r := range runs {
		g.Go(func() error {
			return r.runAll(gctx)
		})
	}
	// Failures are recorded on each run; the group error only carries the
	// cancellation.
	_ = g.Wait()
}

// solveOne solves inst and reports the call to the recorder.
func (s *Scheduler) solveOne(ctx context.Context, r *scenarioRun) (*solver.Result, error) {
	start := time.Now()
	res, err := s.solver.Solve(ctx, r.inst)
	if s.cfg.Recorder != nil {
		s.cfg.Recorder.ObserveSolveCall(s.solver.Name(), time.Since(start))
	}
	return res, err
}
