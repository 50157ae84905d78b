package schedule

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/hydro-sim/hydro-sim/sim"
	"github.com/hydro-sim/hydro-sim/sim/network"
	"github.com/hydro-sim/hydro-sim/sim/solver"
)

// Step is the applied outcome of one timestep of one scenario.
type Step struct {
	Timestep   sim.Timestep
	Status     solver.Status // Optimal, or IterationLimit when accepted
	Objective  float64
	Iterations int
	Flows      []float64 // per edge, in model edge order
	Volumes    []float64 // end-of-step volume per storage node, in model.StorageNodes order
}

// Failure describes why a scenario stopped early.
type Failure struct {
	Scenario sim.Scenario
	Timestep sim.Timestep
	Kind     sim.ErrorKind
	Err      error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("scenario %s at timestep %s: %v", f.Scenario, f.Timestep, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// ScenarioResult is the outcome of one scenario. Steps holds the applied
// timesteps in order, so Steps[t] is timestep t.
type ScenarioResult struct {
	Scenario sim.Scenario
	State    State
	Steps    []Step
	Failure  *Failure // nil when Finished
}

// Results is the outcome of a run.
type Results struct {
	Backend   string
	Scenarios []*ScenarioResult // in Config.Scenarios order
	// FirstFailure is the earliest failure by timestep, then scenario
	// index. Cancellations caused by an abort never displace the failure
	// that triggered it.
	FirstFailure *Failure

	model *network.Model
}

// Model returns the network the results refer to.
func (r *Results) Model() *network.Model { return r.model }

// Failures returns every failure ordered by timestep, then scenario index.
func (r *Results) Failures() []*Failure {
	var out []*Failure
	for _, sr := range r.Scenarios {
		if sr.Failure != nil {
			out = append(out, sr.Failure)
		}
	}
	slices.SortStableFunc(out, compareFailures)
	return out
}

// Finished returns the number of scenarios that completed every timestep.
func (r *Results) Finished() int {
	n := 0
	for _, sr := range r.Scenarios {
		if sr.State == Finished {
			n++
		}
	}
	return n
}

// Flow returns the flow on edge from->to in scenario s at timestep t.
func (r *Results) Flow(s, t int, from, to string) (float64, bool) {
	step, ok := r.step(s, t)
	if !ok {
		return 0, false
	}
	e, ok := r.model.Edge(from, to)
	if !ok {
		return 0, false
	}
	return step.Flows[e], true
}

// Volume returns the end-of-step volume of a storage node in scenario s at
// timestep t.
func (r *Results) Volume(s, t int, node string) (float64, bool) {
	step, ok := r.step(s, t)
	if !ok {
		return 0, false
	}
	i, ok := r.model.Node(node)
	if !ok {
		return 0, false
	}
	k := slices.Index(r.model.StorageNodes(), i)
	if k < 0 {
		return 0, false
	}
	return step.Volumes[k], true
}

func (r *Results) step(s, t int) (*Step, bool) {
	if s < 0 || s >= len(r.Scenarios) {
		return nil, false
	}
	steps := r.Scenarios[s].Steps
	if t < 0 || t >= len(steps) {
		return nil, false
	}
	return &steps[t], true
}

func (r *Results) firstFailure() *Failure {
	var first, firstCancel *Failure
	for _, f := range r.Failures() {
		if f.Kind == sim.KindCancelled {
			if firstCancel == nil {
				firstCancel = f
			}
			continue
		}
		if first == nil {
			first = f
		}
	}
	if first == nil {
		return firstCancel
	}
	return first
}

func compareFailures(a, b *Failure) int {
	return cmp.Or(cmp.Compare(a.Timestep.Index, b.Timestep.Index), cmp.Compare(a.Scenario.Index, b.Scenario.Index))
}
