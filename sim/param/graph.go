package param

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hydro-sim/hydro-sim/sim"
)

// Visitation markers for the depth-first traversal.
const (
	white = iota // not visited
	gray         // on the current traversal path
	black        // fully explored
)

// CycleError reports a reference cycle as the chain of ids that closes it,
// e.g. [a b a]. It matches sim.ErrCycleDetected with errors.Is.
type CycleError struct {
	Chain []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("param: %v: %s", sim.ErrCycleDetected, strings.Join(e.Chain, " -> "))
}

// Is makes errors.Is(err, sim.ErrCycleDetected) hold.
func (e *CycleError) Is(target error) bool {
	return target == sim.ErrCycleDetected
}

// Graph is an immutable, validated set of named parameter definitions with a
// precomputed dependency-first evaluation order. It is safe to share between
// goroutines.
type Graph struct {
	defs  map[string]Source
	adj   map[string][]string
	order []string
}

// NewGraph validates every definition, builds the reference adjacency and
// rejects reference cycles before any resolution can happen.
func NewGraph(defs map[string]Source) (*Graph, error) {
	own := make(map[string]Source, len(defs))
	for _, id := range sortedKeys(defs) {
		if id == "" {
			return nil, fmt.Errorf("param: empty parameter id")
		}
		if err := Validate(defs[id]); err != nil {
			return nil, fmt.Errorf("param %q: %w", id, err)
		}
		own[id] = defs[id]
	}
	adj := Dependencies(own)
	order, err := TopoOrder(adj)
	if err != nil {
		return nil, err
	}
	defined := order[:0]
	for _, id := range order {
		if _, ok := own[id]; ok {
			defined = append(defined, id)
		}
	}
	return &Graph{defs: own, adj: adj, order: defined}, nil
}

// With returns a copy of g with id defined as src. The structural change is
// re-validated, including cycle detection.
func (g *Graph) With(id string, src Source) (*Graph, error) {
	defs := make(map[string]Source, len(g.defs)+1)
	for k, v := range g.defs {
		defs[k] = v
	}
	defs[id] = src
	return NewGraph(defs)
}

// Len returns the number of defined parameters.
func (g *Graph) Len() int { return len(g.defs) }

// Get returns the definition of id.
func (g *Graph) Get(id string) (Source, bool) {
	src, ok := g.defs[id]
	return src, ok
}

// Order returns the parameter ids in dependency-first order.
func (g *Graph) Order() []string {
	return append([]string(nil), g.order...)
}

// DependsOn returns the ids directly referenced by id.
func (g *Graph) DependsOn(id string) []string {
	return append([]string(nil), g.adj[id]...)
}

// Dangling returns referenced ids that have no definition, sorted.
func (g *Graph) Dangling() []string {
	var out []string
	seen := make(map[string]bool)
	for _, deps := range g.adj {
		for _, dep := range deps {
			if _, ok := g.defs[dep]; !ok && !seen[dep] {
				seen[dep] = true
				out = append(out, dep)
			}
		}
	}
	sort.Strings(out)
	return out
}

// Dependencies returns the adjacency map id -> referenced ids.
func Dependencies(defs map[string]Source) map[string][]string {
	adj := make(map[string][]string, len(defs))
	for id, src := range defs {
		adj[id] = References(src)
	}
	return adj
}

// TopoOrder returns the ids reachable from roots (every key of adj when no
// roots are given, in sorted order) so that each id comes after everything it
// references. The traversal is iterative with explicit white/gray/black
// markers; reaching a gray id closes a cycle, reported as a *CycleError.
// Referenced ids missing from adj are treated as leaves.
func TopoOrder(adj map[string][]string, roots ...string) ([]string, error) {
	if len(roots) == 0 {
		roots = sortedKeys(adj)
	}
	type frame struct {
		id   string
		next int
	}
	color := make(map[string]int, len(adj))
	order := make([]string, 0, len(adj))
	for _, root := range roots {
		if color[root] != white {
			continue
		}
		color[root] = gray
		stack := []frame{{id: root}}
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			deps := adj[top.id]
			if top.next < len(deps) {
				dep := deps[top.next]
				top.next++
				switch color[dep] {
				case white:
					color[dep] = gray
					stack = append(stack, frame{id: dep})
				case gray:
					chain := make([]string, 0, len(stack)+1)
					for i := range stack {
						if stack[i].id == dep || len(chain) > 0 {
							chain = append(chain, stack[i].id)
						}
					}
					return nil, &CycleError{Chain: append(chain, dep)}
				}
				continue
			}
			color[top.id] = black
			order = append(order, top.id)
			stack = stack[:len(stack)-1]
		}
	}
	return order, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
