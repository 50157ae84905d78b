// Package network holds the static water network: nodes, edges and their
// attribute bindings. A Model is built once at load time and is read-only
// afterwards; it is shared by every scenario worker.
package network

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hydro-sim/hydro-sim/sim"
	"github.com/hydro-sim/hydro-sim/sim/param"
)

// Kind is the role of a node in the network.
type Kind int

const (
	Input Kind = iota
	Output
	Link
	Storage
)

var kindNames = map[Kind]string{
	Input:   "input",
	Output:  "output",
	Link:    "link",
	Storage: "storage",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind returns the Kind for a name, case-insensitively. "reservoir" is
// accepted as an alias of storage and "catchment" of input.
func ParseKind(name string) (Kind, error) {
	switch strings.ToLower(name) {
	case "input", "catchment":
		return Input, nil
	case "output":
		return Output, nil
	case "link":
		return Link, nil
	case "storage", "reservoir":
		return Storage, nil
	default:
		return 0, fmt.Errorf("network: unknown node kind %q", name)
	}
}

// Node is a point in the network. Every attribute is a parameter source;
// nil means unset and takes the default (see Defaults).
type Node struct {
	Name string
	Kind Kind

	Cost    param.Source
	MinFlow param.Source
	MaxFlow param.Source

	// Storage only.
	MinVolume     param.Source
	MaxVolume     param.Source
	InitialVolume param.Source
}

// Edge is a directed connection carrying one flow variable. Its identity is
// the (From, To) pair.
type Edge struct {
	From string
	To   string

	Cost    param.Source
	MinFlow param.Source
	MaxFlow param.Source
}

func (e Edge) String() string { return e.From + "->" + e.To }

// Model is the network topology with attribute bindings. Nodes and edges keep
// insertion order, which fixes the LP column and row order.
type Model struct {
	nodes  []Node
	edges  []Edge
	index  map[string]int
	pairs  map[[2]string]int
	in     [][]int
	out    [][]int
	stores []int
}

// NewModel returns an empty model.
func NewModel() *Model {
	return &Model{
		index: make(map[string]int),
		pairs: make(map[[2]string]int),
	}
}

// AddNode appends a node. Names must be unique and non-empty.
func (m *Model) AddNode(n Node) error {
	if n.Name == "" {
		return fmt.Errorf("network: node without name")
	}
	if _, dup := m.index[n.Name]; dup {
		return fmt.Errorf("network: duplicate node %q", n.Name)
	}
	if _, ok := kindNames[n.Kind]; !ok {
		return fmt.Errorf("network: node %q: invalid kind %d", n.Name, int(n.Kind))
	}
	if n.Kind != Storage && (n.MinVolume != nil || n.MaxVolume != nil || n.InitialVolume != nil) {
		return fmt.Errorf("network: node %q: volume attributes on %s node", n.Name, n.Kind)
	}
	for _, src := range []param.Source{n.Cost, n.MinFlow, n.MaxFlow, n.MinVolume, n.MaxVolume, n.InitialVolume} {
		if src == nil {
			continue
		}
		if err := param.Validate(src); err != nil {
			return fmt.Errorf("network: node %q: %w", n.Name, err)
		}
	}
	idx := len(m.nodes)
	m.index[n.Name] = idx
	m.nodes = append(m.nodes, n)
	m.in = append(m.in, nil)
	m.out = append(m.out, nil)
	if n.Kind == Storage {
		m.stores = append(m.stores, idx)
	}
	return nil
}

// Connect appends an edge between two existing nodes. Self loops and
// duplicate pairs are rejected, as are edges into an Input or out of an Output.
func (m *Model) Connect(e Edge) error {
	from, ok := m.index[e.From]
	if !ok {
		return fmt.Errorf("network: edge %s: unknown node %q", e, e.From)
	}
	to, ok := m.index[e.To]
	if !ok {
		return fmt.Errorf("network: edge %s: unknown node %q", e, e.To)
	}
	if from == to {
		return fmt.Errorf("network: edge %s: self loop", e)
	}
	key := [2]string{e.From, e.To}
	if _, dup := m.pairs[key]; dup {
		return fmt.Errorf("network: duplicate edge %s", e)
	}
	if m.nodes[from].Kind == Output {
		return fmt.Errorf("network: edge %s: output node %q cannot have outflow", e, e.From)
	}
	if m.nodes[to].Kind == Input {
		return fmt.Errorf("network: edge %s: input node %q cannot have inflow", e, e.To)
	}
	for _, src := range []param.Source{e.Cost, e.MinFlow, e.MaxFlow} {
		if src == nil {
			continue
		}
		if err := param.Validate(src); err != nil {
			return fmt.Errorf("network: edge %s: %w", e, err)
		}
	}
	idx := len(m.edges)
	m.pairs[key] = idx
	m.edges = append(m.edges, e)
	m.out[from] = append(m.out[from], idx)
	m.in[to] = append(m.in[to], idx)
	return nil
}

// Validate checks that every node is connected in a way its kind allows.
func (m *Model) Validate() error {
	if len(m.edges) == 0 {
		return fmt.Errorf("network: model has no edges")
	}
	for i, n := range m.nodes {
		switch {
		case n.Kind == Input && len(m.out[i]) == 0:
			return fmt.Errorf("network: input %q has no outgoing edge", n.Name)
		case n.Kind == Output && len(m.in[i]) == 0:
			return fmt.Errorf("network: output %q has no incoming edge", n.Name)
		case (n.Kind == Link || n.Kind == Storage) && len(m.in[i])+len(m.out[i]) == 0:
			return fmt.Errorf("network: %s %q is not connected", n.Kind, n.Name)
		}
	}
	return nil
}

// Nodes returns the nodes in insertion order. The slice must not be modified.
func (m *Model) Nodes() []Node { return m.nodes }

// Edges returns the edges in insertion order. The slice must not be modified.
func (m *Model) Edges() []Edge { return m.edges }

// Node returns the index of the named node.
func (m *Model) Node(name string) (int, bool) {
	i, ok := m.index[name]
	return i, ok
}

// Edge returns the index of the edge from -> to.
func (m *Model) Edge(from, to string) (int, bool) {
	i, ok := m.pairs[[2]string{from, to}]
	return i, ok
}

// Incoming returns the indices of edges ending at node i.
func (m *Model) Incoming(i int) []int { return m.in[i] }

// Outgoing returns the indices of edges starting at node i.
func (m *Model) Outgoing(i int) []int { return m.out[i] }

// StorageNodes returns the indices of storage nodes in insertion order.
func (m *Model) StorageNodes() []int { return m.stores }

// References returns every parameter id referenced by an attribute binding,
// sorted and without duplicates.
func (m *Model) References() []string {
	seen := make(map[string]bool)
	add := func(src param.Source) {
		if src == nil {
			return
		}
		for _, id := range param.References(src) {
			seen[id] = true
		}
	}
	for _, n := range m.nodes {
		for _, src := range []param.Source{n.Cost, n.MinFlow, n.MaxFlow, n.MinVolume, n.MaxVolume, n.InitialVolume} {
			add(src)
		}
	}
	for _, e := range m.edges {
		for _, src := range []param.Source{e.Cost, e.MinFlow, e.MaxFlow} {
			add(src)
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// CheckReferences reports attribute bindings that refer to ids missing from g.
func (m *Model) CheckReferences(g *param.Graph) error {
	var missing []string
	for _, id := range m.References() {
		if _, ok := g.Get(id); !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("network: %w: bindings reference undefined parameters: %s",
			sim.ErrUnknownParameter, strings.Join(missing, ", "))
	}
	return nil
}
