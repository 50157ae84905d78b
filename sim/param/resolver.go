package param

import (
	"fmt"
	"math"

	"github.com/hydro-sim/hydro-sim/sim"
	"github.com/hydro-sim/hydro-sim/sim/timeseries"
)

// StateReader exposes the read-only scenario state some sources depend on.
type StateReader interface {
	// Volume returns the current volume of a storage node.
	Volume(node string) (float64, bool)
	// MaxVolume returns the max volume of a storage node in force at the
	// start of the timestep.
	MaxVolume(node string) (float64, bool)
}

// Resolver evaluates parameters for one scenario. It memoises named
// parameters for the current (timestep, scenario); Begin invalidates the memo.
//
// A Resolver belongs to a single scenario worker and is not safe for
// concurrent use. The Graph it reads is shared and immutable.
type Resolver struct {
	graph    *Graph
	provider timeseries.Provider
	scenario sim.Scenario

	ts    sim.Timestep
	state StateReader
	memo  map[string]float64
}

// NewResolver returns a resolver for scenario s reading time series from p.
// p may be nil when the graph holds no TimeSeries sources.
func (g *Graph) NewResolver(p timeseries.Provider, s sim.Scenario) *Resolver {
	return &Resolver{
		graph:    g,
		provider: p,
		scenario: s,
		memo:     make(map[string]float64, len(g.defs)),
	}
}

// Scenario returns the scenario this resolver evaluates for.
func (r *Resolver) Scenario() sim.Scenario { return r.scenario }

// Timestep returns the timestep set by the last Begin.
func (r *Resolver) Timestep() sim.Timestep { return r.ts }

// Begin starts a new timestep: the memo is cleared and state becomes the view
// used by the volume and control curve sources.
func (r *Resolver) Begin(ts sim.Timestep, state StateReader) {
	r.ts = ts
	r.state = state
	clear(r.memo)
}

// Resolve returns the value of the named parameter at the current timestep.
func (r *Resolver) Resolve(id string) (float64, error) {
	if v, ok := r.memo[id]; ok {
		return v, nil
	}
	src, ok := r.graph.defs[id]
	if !ok {
		return 0, fmt.Errorf("param: %w: %q", sim.ErrUnknownParameter, id)
	}
	v, err := r.Eval(src)
	if err != nil {
		return 0, fmt.Errorf("param %q: %w", id, err)
	}
	r.memo[id] = v
	return v, nil
}

// ResolveAll evaluates every parameter in dependency order and returns a copy
// of the resolved values.
func (r *Resolver) ResolveAll() (map[string]float64, error) {
	for _, id := range r.graph.order {
		if _, err := r.Resolve(id); err != nil {
			return nil, err
		}
	}
	out := make(map[string]float64, len(r.memo))
	for k, v := range r.memo {
		out[k] = v
	}
	return out, nil
}

// Eval evaluates an inline source (for example a node attribute binding).
func (r *Resolver) Eval(src Source) (float64, error) {
	switch s := src.(type) {
	case Constant:
		return float64(s), nil
	case Ref:
		return r.Resolve(string(s))
	case Aggregated:
		values := make([]float64, len(s.Sources))
		for i, inner := range s.Sources {
			v, err := r.Eval(inner)
			if err != nil {
				return 0, err
			}
			values[i] = v
		}
		return s.Func.Apply(values)
	case TimeSeries:
		if r.provider == nil {
			return 0, fmt.Errorf("%w: no provider for series %q", sim.ErrProvider, s.Series)
		}
		v, err := r.provider.Lookup(s.Series, s.column(r.scenario.Index), r.ts.Index)
		if err != nil {
			return 0, fmt.Errorf("%w: %w", sim.ErrProvider, err)
		}
		return v, nil
	case Negative:
		v, err := r.Eval(s.Source)
		if err != nil {
			return 0, err
		}
		return -v, nil
	case Max:
		v, err := r.Eval(s.Source)
		if err != nil {
			return 0, err
		}
		return math.Max(v, s.Threshold), nil
	case MonthlyProfile:
		return s.Values[int(r.ts.Date.Month())-1], nil
	case Array:
		if r.ts.Index < 0 || r.ts.Index >= len(s.Values) {
			return 0, fmt.Errorf("%w: array has %d values, no value for timestep %d",
				sim.ErrProvider, len(s.Values), r.ts.Index)
		}
		return s.Values[r.ts.Index], nil
	case StorageVolume:
		if r.state == nil {
			return 0, fmt.Errorf("param: no scenario state for volume of %q", s.Node)
		}
		v, ok := r.state.Volume(s.Node)
		if !ok {
			return 0, fmt.Errorf("param: %q is not a storage node", s.Node)
		}
		return v, nil
	case ProportionalVolume:
		return r.proportionalVolume(s.Node)
	case ControlCurveIndex:
		return r.evalCurveIndex(s)
	case ControlCurveInterpolated:
		return r.evalCurveInterpolated(s)
	case ControlCurvePiecewiseInterpolated:
		return r.evalCurvePiecewise(s)
	case nil:
		return 0, fmt.Errorf("param: missing source")
	default:
		return 0, fmt.Errorf("param: unsupported source %T", src)
	}
}
