package network

import (
	"fmt"
	"math"

	"github.com/hydro-sim/hydro-sim/sim/param"
)

// Defaults for unset attributes.
const (
	DefaultMinFlow   = 0.0
	DefaultCost      = 0.0
	DefaultMinVolume = 0.0
)

// DefaultMaxFlow and DefaultMaxVolume are unbounded.
var (
	DefaultMaxFlow   = math.Inf(1)
	DefaultMaxVolume = math.Inf(1)
)

// NodeValues are the resolved attributes of one node for one timestep.
type NodeValues struct {
	Cost      float64
	MinFlow   float64
	MaxFlow   float64
	MinVolume float64
	MaxVolume float64
}

// EdgeValues are the resolved attributes of one edge for one timestep.
type EdgeValues struct {
	Cost    float64
	MinFlow float64
	MaxFlow float64
}

// Values holds resolved attributes indexed like Model.Nodes and Model.Edges.
type Values struct {
	Nodes []NodeValues
	Edges []EdgeValues
}

// Evaluator evaluates a parameter source; *param.Resolver implements it.
type Evaluator interface {
	Eval(src param.Source) (float64, error)
}

func evalOr(ev Evaluator, src param.Source, def float64) (float64, error) {
	if src == nil {
		return def, nil
	}
	v, err := ev.Eval(src)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) {
		return 0, fmt.Errorf("value of %s is NaN", param.Describe(src))
	}
	return v, nil
}

// Resolve evaluates every attribute binding for the evaluator's current
// timestep. Bounds are passed through as resolved; inconsistent bounds are
// left for the solver to report.
func (m *Model) Resolve(ev Evaluator) (*Values, error) {
	vals := &Values{
		Nodes: make([]NodeValues, len(m.nodes)),
		Edges: make([]EdgeValues, len(m.edges)),
	}
	var err error
	for i, n := range m.nodes {
		nv := &vals.Nodes[i]
		if nv.Cost, err = evalOr(ev, n.Cost, DefaultCost); err != nil {
			return nil, fmt.Errorf("node %q cost: %w", n.Name, err)
		}
		if nv.MinFlow, err = evalOr(ev, n.MinFlow, DefaultMinFlow); err != nil {
			return nil, fmt.Errorf("node %q min_flow: %w", n.Name, err)
		}
		if nv.MaxFlow, err = evalOr(ev, n.MaxFlow, DefaultMaxFlow); err != nil {
			return nil, fmt.Errorf("node %q max_flow: %w", n.Name, err)
		}
		if n.Kind != Storage {
			continue
		}
		if nv.MinVolume, err = evalOr(ev, n.MinVolume, DefaultMinVolume); err != nil {
			return nil, fmt.Errorf("node %q min_volume: %w", n.Name, err)
		}
		if nv.MaxVolume, err = evalOr(ev, n.MaxVolume, DefaultMaxVolume); err != nil {
			return nil, fmt.Errorf("node %q max_volume: %w", n.Name, err)
		}
	}
	for i, e := range m.edges {
		ea := &vals.Edges[i]
		if ea.Cost, err = evalOr(ev, e.Cost, DefaultCost); err != nil {
			return nil, fmt.Errorf("edge %s cost: %w", e, err)
		}
		if ea.MinFlow, err = evalOr(ev, e.MinFlow, DefaultMinFlow); err != nil {
			return nil, fmt.Errorf("edge %s min_flow: %w", e, err)
		}
		if ea.MaxFlow, err = evalOr(ev, e.MaxFlow, DefaultMaxFlow); err != nil {
			return nil, fmt.Errorf("edge %s max_flow: %w", e, err)
		}
	}
	return vals, nil
}

// InitialVolumes evaluates the initial volume of every storage node, indexed
// like StorageNodes. An unset initial volume starts at the minimum volume.
func (m *Model) InitialVolumes(ev Evaluator) ([]float64, error) {
	out := make([]float64, len(m.stores))
	for k, i := range m.stores {
		n := m.nodes[i]
		src := n.InitialVolume
		if src == nil {
			src = n.MinVolume
		}
		v, err := evalOr(ev, src, DefaultMinVolume)
		if err != nil {
			return nil, fmt.Errorf("node %q initial_volume: %w", n.Name, err)
		}
		out[k] = v
	}
	return out, nil
}

// MaxVolumes evaluates the max volume of every storage node, indexed like
// StorageNodes.
func (m *Model) MaxVolumes(ev Evaluator) ([]float64, error) {
	out := make([]float64, len(m.stores))
	for k, i := range m.stores {
		n := m.nodes[i]
		v, err := evalOr(ev, n.MaxVolume, DefaultMaxVolume)
		if err != nil {
			return nil, fmt.Errorf("node %q max_volume: %w", n.Name, err)
		}
		out[k] = v
	}
	return out, nil
}
