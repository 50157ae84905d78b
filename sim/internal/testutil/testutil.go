// Package testutil provides shared test infrastructure: fixture networks
// used across the engine test packages and float assertion helpers.
package testutil

import (
	"math"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/hydro-sim/hydro-sim/sim/network"
	"github.com/hydro-sim/hydro-sim/sim/param"
	"github.com/hydro-sim/hydro-sim/sim/timeseries"
)

// AssertFloat64Equal compares two float64 values with relative tolerance.
func AssertFloat64Equal(t *testing.T, name string, want, got, relTol float64) {
	t.Helper()
	if want == 0 && got == 0 {
		return
	}
	diff := math.Abs(want - got)
	maxVal := math.Max(math.Abs(want), math.Abs(got))
	if diff/maxVal > relTol {
		t.Errorf("%s: got %v, want %v (diff=%v, relDiff=%v)", name, got, want, diff, diff/maxVal)
	}
}

// TestdataPath resolves a path under the repository's testdata directory.
// The path is resolved relative to this source file: sim/internal/testutil/ → testdata/.
func TestdataPath(t *testing.T, elem ...string) string {
	t.Helper()
	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("Failed to get current file path")
	}
	return filepath.Join(append([]string{filepath.Dir(thisFile), "..", "..", "..", "testdata"}, elem...)...)
}

// MustModel builds and validates a model from nodes and edges.
func MustModel(t *testing.T, nodes []network.Node, edges []network.Edge) *network.Model {
	t.Helper()
	m := network.NewModel()
	for _, n := range nodes {
		if err := m.AddNode(n); err != nil {
			t.Fatalf("AddNode(%s): %v", n.Name, err)
		}
	}
	for _, e := range edges {
		if err := m.Connect(e); err != nil {
			t.Fatalf("Connect(%s): %v", e, err)
		}
	}
	if err := m.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	return m
}

// MustGraph builds a parameter graph.
func MustGraph(t *testing.T, defs map[string]param.Source) *param.Graph {
	t.Helper()
	g, err := param.NewGraph(defs)
	if err != nil {
		t.Fatalf("NewGraph: %v", err)
	}
	return g
}

// StorageRouting is one input of capacity 15 feeding three reservoirs that
// drain into one output. The reservoirs hold 10 (a literal), "ten" = 10 and
// "fifteen" = sum(5, 10). The output takes at most 4 per step and values
// water at 10; reservoirs value stored water at 3, 2 and 1, so each step
// stores 11 units, filling storage1 first and storage3 last.
func StorageRouting(t *testing.T) (*network.Model, *param.Graph) {
	t.Helper()
	c := func(v float64) param.Source { return param.Constant(v) }
	m := MustModel(t, []network.Node{
		{Name: "supply", Kind: network.Input, MaxFlow: c(15)},
		{Name: "storage1", Kind: network.Storage, Cost: c(-3), MaxVolume: c(10), InitialVolume: c(0)},
		{Name: "storage2", Kind: network.Storage, Cost: c(-2), MaxVolume: param.Ref("ten"), InitialVolume: c(0)},
		{Name: "storage3", Kind: network.Storage, Cost: c(-1), MaxVolume: param.Ref("fifteen"), InitialVolume: c(0)},
		{Name: "demand", Kind: network.Output, Cost: c(-10), MaxFlow: c(4)},
	}, []network.Edge{
		{From: "supply", To: "storage1"},
		{From: "supply", To: "storage2"},
		{From: "supply", To: "storage3"},
		{From: "storage1", To: "demand"},
		{From: "storage2", To: "demand"},
		{From: "storage3", To: "demand"},
	})
	g := MustGraph(t, map[string]param.Source{
		"ten":     param.Constant(10),
		"fifteen": param.Sum(param.Constant(5), param.Constant(10)),
	})
	return m, g
}

// Inflow1 is the "flows"/"inflow1" series used by TimeSeriesProduct.
var Inflow1 = []float64{23, 17, 4.5, 12}

// TimeSeriesProduct has one input bounded by the time series flows.inflow1
// and a second bounded by product(inflow1, 0.5). Both feed a link into an
// output with demand 100, so both inputs run at their bound.
func TimeSeriesProduct(t *testing.T) (*network.Model, *param.Graph, timeseries.Provider) {
	t.Helper()
	inflow := param.TimeSeries{Series: "flows", Column: "inflow1"}
	m := MustModel(t, []network.Node{
		{Name: "river", Kind: network.Input, Cost: param.Constant(1), MaxFlow: inflow},
		{Name: "tributary", Kind: network.Input, Cost: param.Constant(1), MaxFlow: param.Ref("half_inflow")},
		{Name: "works", Kind: network.Link},
		{Name: "city", Kind: network.Output, Cost: param.Constant(-10), MaxFlow: param.Ref("demand")},
	}, []network.Edge{
		{From: "river", To: "works"},
		{From: "tributary", To: "works"},
		{From: "works", To: "city"},
	})
	g := MustGraph(t, map[string]param.Source{
		"half_inflow": param.Product(inflow, param.Constant(0.5)),
		"demand":      param.Constant(100),
	})
	table, err := timeseries.NewTable("flows", map[string][]float64{"inflow1": Inflow1})
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	p, err := timeseries.NewMemory(table)
	if err != nil {
		t.Fatalf("NewMemory: %v", err)
	}
	return m, g, p
}

// InfeasibleOutput forces at least 10 units out of the input into an output
// that accepts at most 5, with no other sink.
func InfeasibleOutput(t *testing.T) (*network.Model, *param.Graph) {
	t.Helper()
	m := MustModel(t, []network.Node{
		{Name: "spring", Kind: network.Input, MinFlow: param.Constant(10), MaxFlow: param.Constant(20)},
		{Name: "pipe", Kind: network.Link},
		{Name: "sink", Kind: network.Output, MaxFlow: param.Constant(5)},
	}, []network.Edge{
		{From: "spring", To: "pipe"},
		{From: "pipe", To: "sink"},
	})
	return m, MustGraph(t, nil)
}
