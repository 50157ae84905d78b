package sim

import (
	"fmt"
	"hash/fnv"
	"math/rand"
)

// Scenario is one independent replicate of the simulation. Scenarios share the
// network and parameter graph but never mutable state.
type Scenario struct {
	Index int
	Name  string
}

func (s Scenario) String() string {
	if s.Name != "" {
		return s.Name
	}
	return fmt.Sprintf("scenario_%d", s.Index)
}

// NewScenarios returns n scenarios. Names are used in order when provided;
// missing names default to "scenario_<i>".
func NewScenarios(n int, names ...string) []Scenario {
	out := make([]Scenario, n)
	for i := range out {
		out[i] = Scenario{Index: i}
		if i < len(names) {
			out[i].Name = names[i]
		}
	}
	return out
}

// === ScenarioRNG ===

// ScenarioRNG provides deterministic, isolated RNG streams per scenario and
// stream name.
//
// Derivation formula: masterSeed XOR fnv1a64("<scenario>/<stream>").
// The same (scenario, stream) pair always yields the same sequence regardless
// of the order in which streams are requested.
//
// Thread-safety: NOT thread-safe. Each scenario worker owns its own instance.
type ScenarioRNG struct {
	seed     int64
	scenario Scenario
	streams  map[string]*rand.Rand
}

// NewScenarioRNG creates the RNG partition for one scenario.
func NewScenarioRNG(seed int64, scenario Scenario) *ScenarioRNG {
	return &ScenarioRNG{
		seed:     seed,
		scenario: scenario,
		streams:  make(map[string]*rand.Rand),
	}
}

// ForStream returns the cached RNG for the named stream. Never returns nil.
func (p *ScenarioRNG) ForStream(name string) *rand.Rand {
	if rng, ok := p.streams[name]; ok {
		return rng
	}
	derived := p.seed ^ fnv1a64(fmt.Sprintf("%d/%s", p.scenario.Index, name))
	rng := rand.New(rand.NewSource(derived))
	p.streams[name] = rng
	return rng
}

// Seed returns the master seed.
func (p *ScenarioRNG) Seed() int64 { return p.seed }

// fnv1a64 computes a 64-bit FNV-1a hash of the input string.
func fnv1a64(s string) int64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return int64(h.Sum64())
}
