package schedule

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/hydro-sim/hydro-sim/sim"
	"github.com/hydro-sim/hydro-sim/sim/lp"
	"github.com/hydro-sim/hydro-sim/sim/network"
	"github.com/hydro-sim/hydro-sim/sim/param"
	"github.com/hydro-sim/hydro-sim/sim/solver"
	"github.com/hydro-sim/hydro-sim/sim/timeseries"
	"github.com/hydro-sim/hydro-sim/sim/trace"
)

// scenarioRun is the mutable state of one scenario. It is owned by a single
// goroutine at a time.
type scenarioRun struct {
	s        *Scheduler
	scenario sim.Scenario
	resolver *param.Resolver

	state   State
	volumes []float64 // current volume per storage node; written only by apply
	maxVols []float64 // max volume in force at the start of the step
	steps   []Step
	failure *Failure
	started bool
	span    oteltrace.Span

	// Per-timestep scratch, valid from compile until apply.
	vals   *network.Values
	inst   *lp.Instance
	layout *lp.Layout
}

func (s *Scheduler) newScenarioRun(sc sim.Scenario) *scenarioRun {
	p := s.provider
	if p != nil {
		p = timeseries.ForScenario(p, sc)
	}
	return &scenarioRun{
		s:        s,
		scenario: sc,
		resolver: s.graph.NewResolver(p, sc),
		state:    Ready,
		steps:    make([]Step, 0, len(s.cfg.Timesteps)),
	}
}

// Volume implements param.StateReader over the start-of-step volumes.
func (r *scenarioRun) Volume(node string) (float64, bool) {
	k, ok := r.s.stores[node]
	if !ok || r.volumes == nil {
		return 0, false
	}
	return r.volumes[k], true
}

// MaxVolume implements param.StateReader.
func (r *scenarioRun) MaxVolume(node string) (float64, bool) {
	k, ok := r.s.stores[node]
	if !ok || r.maxVols == nil {
		return 0, false
	}
	return r.maxVols[k], true
}

func (r *scenarioRun) advance(to State) {
	if !r.state.CanTransition(to) {
		panic(fmt.Sprintf("schedule: illegal transition %s -> %s", r.state, to))
	}
	r.state = to
}

// begin starts the scenario: span, metrics and initial volumes.
func (r *scenarioRun) begin(ctx context.Context) context.Context {
	r.started = true
	ctx, r.span = otel.Tracer(tracerName).Start(ctx, "scenario",
		oteltrace.WithAttributes(
			attribute.Int("scenario.index", r.scenario.Index),
			attribute.String("scenario.name", r.scenario.String()),
		))
	if rec := r.s.cfg.Recorder; rec != nil {
		rec.ScenarioStarted()
	}

	first := r.s.cfg.Timesteps[0]
	r.resolver.Begin(first, nil)
	vols, err := r.s.model.InitialVolumes(r.resolver)
	if err != nil {
		r.fail(first, fmt.Errorf("initial volumes: %w", err))
		return ctx
	}
	maxVols, err := r.s.model.MaxVolumes(r.resolver)
	if err != nil {
		r.fail(first, fmt.Errorf("initial max volumes: %w", err))
		return ctx
	}
	r.volumes = vols
	r.maxVols = maxVols
	return ctx
}

// end closes the span and records the terminal state.
func (r *scenarioRun) end() {
	if !r.started {
		return
	}
	if r.state == Ready {
		r.advance(Finished)
	}
	if rec := r.s.cfg.Recorder; rec != nil {
		rec.ScenarioEnded(r.state.String())
	}
	r.span.SetAttributes(
		attribute.String("scenario.state", r.state.String()),
		attribute.Int("scenario.steps", len(r.steps)),
	)
	if r.failure != nil {
		r.span.SetStatus(codes.Error, r.failure.Err.Error())
	}
	r.span.End()
}

// runAll runs the scenario through every timestep. It returns the failure
// only when the run aborts on failure.
func (r *scenarioRun) runAll(ctx context.Context) error {
	ctx = r.begin(ctx)
	defer r.end()
	for _, ts := range r.s.cfg.Timesteps {
		if r.state != Ready {
			break
		}
		if r.checkCancel(ctx, ts) {
			break
		}
		if !r.prepare(ts) {
			break
		}
		res, err := r.s.solveOne(ctx, r)
		r.apply(ts, res, err, false)
	}
	if r.failure != nil && r.state == Failed && r.s.cfg.AbortOnFailure {
		return r.failure
	}
	return nil
}

// checkCancel moves a Ready scenario to Cancelled when ctx is done.
func (r *scenarioRun) checkCancel(ctx context.Context, ts sim.Timestep) bool {
	if ctx.Err() == nil {
		return false
	}
	r.advance(Cancelled)
	r.failure = &Failure{
		Scenario: r.scenario,
		Timestep: ts,
		Kind:     sim.KindCancelled,
		Err:      fmt.Errorf("%w: %w", sim.ErrCancelled, ctx.Err()),
	}
	r.recordFailure()
	return true
}

// prepare resolves parameters and compiles the timestep's LP. It reports
// whether the scenario reached Solving.
func (r *scenarioRun) prepare(ts sim.Timestep) bool {
	r.advance(Resolving)
	r.resolver.Begin(ts, r)
	vals, err := r.s.model.Resolve(r.resolver)
	if err != nil {
		r.fail(ts, err)
		return false
	}
	r.vals = vals

	r.advance(Compiling)
	r.inst, r.layout = lp.Compile(r.s.model, vals, r.volumes)
	r.advance(Solving)
	return true
}

// apply consumes a solve outcome. Volumes change only when the step is
// accepted.
func (r *scenarioRun) apply(ts sim.Timestep, res *solver.Result, err error, batched bool) {
	backend := r.s.solver.Name()
	defer func() { r.vals, r.inst, r.layout = nil, nil, nil }()
	if err != nil {
		r.fail(ts, fmt.Errorf("solve: %w", err))
		return
	}
	if rec := r.s.cfg.Recorder; rec != nil {
		rec.ObserveSolve(backend, res.Status.String(), res.Iterations)
	}
	r.s.cfg.Trace.RecordSolve(trace.SolveRecord{
		Scenario:   r.scenario.Index,
		Timestep:   ts.Index,
		Backend:    backend,
		Status:     res.Status.String(),
		Objective:  res.Objective,
		Iterations: res.Iterations,
		Rows:       r.inst.NumRows(),
		Cols:       r.inst.NumCols(),
		Batched:    batched,
	})

	switch res.Status {
	case solver.Optimal:
	case solver.IterationLimit:
		if r.s.cfg.IterationLimit == FailIterationLimit {
			r.fail(ts, fmt.Errorf("solve after %d iterations: %w", res.Iterations, sim.ErrIterationLimit))
			return
		}
		logrus.WithFields(logrus.Fields{
			"scenario":   r.scenario.String(),
			"timestep":   ts.Index,
			"iterations": res.Iterations,
		}).Warnf("Solve stopped at the iteration limit; applying the last iterate")
	default:
		r.fail(ts, fmt.Errorf("solve: %w", res.Status.Err()))
		return
	}

	if len(res.Flows) != r.inst.NumCols() {
		if res.Status == solver.IterationLimit {
			r.fail(ts, fmt.Errorf("solve stopped after %d iterations without a point: %w", res.Iterations, sim.ErrIterationLimit))
		} else {
			r.fail(ts, fmt.Errorf("solve: %s result has %d flows for %d columns", res.Status, len(res.Flows), r.inst.NumCols()))
		}
		return
	}

	r.advance(Applying)
	flows, vols := r.layout.Extract(res.Flows)
	if err := r.layout.CheckVolumes(vols, r.vals); err != nil {
		r.fail(ts, err)
		return
	}
	r.volumes = vols
	for k, i := range r.s.model.StorageNodes() {
		r.maxVols[k] = r.vals.Nodes[i].MaxVolume
	}
	r.steps = append(r.steps, Step{
		Timestep:   ts,
		Status:     res.Status,
		Objective:  res.Objective,
		Iterations: res.Iterations,
		Flows:      flows,
		Volumes:    append([]float64(nil), vols...),
	})
	if rec := r.s.cfg.Recorder; rec != nil {
		rec.TimestepApplied()
	}
	r.advance(Ready)
}

func (r *scenarioRun) fail(ts sim.Timestep, err error) {
	r.advance(Failed)
	r.failure = &Failure{Scenario: r.scenario, Timestep: ts, Kind: sim.KindOf(err), Err: err}
	logrus.WithFields(logrus.Fields{
		"scenario": r.scenario.String(),
		"timestep": ts.Index,
		"kind":     r.failure.Kind,
	}).Warnf("Scenario failed: %v", err)
	r.recordFailure()
}

func (r *scenarioRun) recordFailure() {
	r.s.cfg.Trace.RecordFailure(trace.FailureRecord{
		Scenario: r.scenario.Index,
		Timestep: r.failure.Timestep.Index,
		Kind:     string(r.failure.Kind),
		Message:  r.failure.Err.Error(),
	})
}

func (r *scenarioRun) result() *ScenarioResult {
	return &ScenarioResult{
		Scenario: r.scenario,
		State:    r.state,
		Steps:    r.steps,
		Failure:  r.failure,
	}
}
