package lp

import (
	"fmt"
	"math"

	"github.com/hydro-sim/hydro-sim/sim"
	"github.com/hydro-sim/hydro-sim/sim/network"
)

// Epsilon is the absolute tolerance under which a bound violation is treated
// as solver round-off.
const Epsilon = 1e-6

// RowKind says what a compiled row represents.
type RowKind int

const (
	ConservationRow RowKind = iota // link node: inflow - outflow = 0
	FlowRow                        // node flow bounds spanning several edges
	StorageRow                     // storage balance
)

// Layout maps model entities onto the columns and rows of one compiled
// Instance. Column j is edge j.
type Layout struct {
	model    *network.Model
	inst     *Instance
	current  []float64
	RowNode  []int     // node index of each row
	RowKinds []RowKind // kind of each row
}

// Compile builds the linear program for one (scenario, timestep) from the
// resolved attribute values and the current storage volumes (indexed like
// model.StorageNodes). Inconsistent bounds are passed through; the solver
// reports them as infeasibility.
//
// Node flow bounds apply to outflow for input, link and storage nodes and to
// inflow for output nodes. A node whose bounded flow runs through a single
// edge has the bounds folded into that column; otherwise they become a row.
func Compile(m *network.Model, vals *network.Values, volumes []float64) (*Instance, *Layout) {
	nodes, edges := m.Nodes(), m.Edges()
	if len(vals.Nodes) != len(nodes) || len(vals.Edges) != len(edges) {
		panic("lp: attribute values do not match model")
	}
	stores := m.StorageNodes()
	if len(volumes) != len(stores) {
		panic("lp: volume count does not match storage nodes")
	}

	var b Builder
	for _, ev := range vals.Edges {
		b.AddCol(ev.Cost, math.Max(0, ev.MinFlow), ev.MaxFlow)
	}

	for i, n := range nodes {
		c := vals.Nodes[i].Cost
		if c == 0 {
			continue
		}
		switch n.Kind {
		case network.Input, network.Link:
			for _, e := range m.Outgoing(i) {
				b.AddCost(e, c)
			}
		case network.Output:
			for _, e := range m.Incoming(i) {
				b.AddCost(e, c)
			}
		case network.Storage:
			for _, e := range m.Incoming(i) {
				b.AddCost(e, c)
			}
			for _, e := range m.Outgoing(i) {
				b.AddCost(e, -c)
			}
		}
	}

	layout := &Layout{model: m, current: append([]float64(nil), volumes...)}
	addRow := func(node int, kind RowKind, lo float64, cols []int, coef []float64, hi float64) {
		b.AddRow(lo, cols, coef, hi)
		layout.RowNode = append(layout.RowNode, node)
		layout.RowKinds = append(layout.RowKinds, kind)
	}

	for i, n := range nodes {
		nv := vals.Nodes[i]
		flowEdges := m.Outgoing(i)
		if n.Kind == network.Output {
			flowEdges = m.Incoming(i)
		}
		bounded := nv.MinFlow > 0 || !math.IsInf(nv.MaxFlow, 1)
		switch {
		case !bounded || len(flowEdges) == 0:
		case len(flowEdges) == 1:
			b.Tighten(flowEdges[0], nv.MinFlow, nv.MaxFlow)
		default:
			addRow(i, FlowRow, nv.MinFlow, flowEdges, ones(len(flowEdges)), nv.MaxFlow)
		}
	}

	for i, n := range nodes {
		if n.Kind != network.Link {
			continue
		}
		cols, coef := netFlow(m, i)
		if len(cols) > 0 {
			addRow(i, ConservationRow, 0, cols, coef, 0)
		}
	}

	for k, i := range stores {
		nv := vals.Nodes[i]
		cols, coef := netFlow(m, i)
		if len(cols) == 0 {
			continue
		}
		addRow(i, StorageRow, nv.MinVolume-volumes[k], cols, coef, nv.MaxVolume-volumes[k])
	}

	inst := b.Build()
	layout.inst = inst
	return inst, layout
}

// netFlow returns the coefficients of inflow - outflow at node i.
func netFlow(m *network.Model, i int) ([]int, []float64) {
	in, out := m.Incoming(i), m.Outgoing(i)
	cols := make([]int, 0, len(in)+len(out))
	coef := make([]float64, 0, len(in)+len(out))
	for _, e := range in {
		cols = append(cols, e)
		coef = append(coef, 1)
	}
	for _, e := range out {
		cols = append(cols, e)
		coef = append(coef, -1)
	}
	return cols, coef
}

func ones(n int) []float64 {
	v := make([]float64, n)
	for i := range v {
		v[i] = 1
	}
	return v
}

// RowName describes row i for diagnostics.
func (l *Layout) RowName(i int) string {
	n := l.model.Nodes()[l.RowNode[i]].Name
	switch l.RowKinds[i] {
	case ConservationRow:
		return n + "/conservation"
	case FlowRow:
		return n + "/flow"
	default:
		return n + "/balance"
	}
}

// Extract returns the edge flows of solution x and the storage volumes they
// imply (indexed like StorageNodes). Flows within Epsilon of a column bound
// are snapped onto it.
func (l *Layout) Extract(x []float64) (flows, volumes []float64) {
	p := l.inst
	flows = make([]float64, p.NumCols())
	for j := range flows {
		v := x[j]
		if v < p.ColLower[j] && p.ColLower[j]-v <= Epsilon {
			v = p.ColLower[j]
		}
		if v > p.ColUpper[j] && v-p.ColUpper[j] <= Epsilon {
			v = p.ColUpper[j]
		}
		flows[j] = v
	}
	stores := l.model.StorageNodes()
	volumes = make([]float64, len(stores))
	for k, i := range stores {
		v := l.current[k]
		for _, e := range l.model.Incoming(i) {
			v += flows[e]
		}
		for _, e := range l.model.Outgoing(i) {
			v -= flows[e]
		}
		volumes[k] = v
	}
	return flows, volumes
}

// CheckVolumes enforces the storage bounds on the extracted volumes. A
// violation within Epsilon is snapped onto the bound in place; a larger one
// is reported as sim.ErrInfeasible.
func (l *Layout) CheckVolumes(volumes []float64, vals *network.Values) error {
	nodes := l.model.Nodes()
	for k, i := range l.model.StorageNodes() {
		lo, hi := vals.Nodes[i].MinVolume, vals.Nodes[i].MaxVolume
		v := volumes[k]
		switch {
		case v < lo-Epsilon || v > hi+Epsilon:
			return fmt.Errorf("lp: %w: storage %q volume %g outside [%g, %g]",
				sim.ErrInfeasible, nodes[i].Name, v, lo, hi)
		case v < lo:
			volumes[k] = lo
		case v > hi:
			volumes[k] = hi
		}
	}
	return nil
}
