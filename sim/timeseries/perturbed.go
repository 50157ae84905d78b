package timeseries

import (
	"fmt"
	"sync"

	"github.com/hydro-sim/hydro-sim/sim"
)

// Perturbed derives synthetic scenario realisations from a base provider by
// scaling every value with a deterministic multiplicative factor drawn
// uniformly from [1-Spread, 1+Spread]. Factors depend only on (seed,
// scenario, series, column, index), never on lookup order.
type Perturbed struct {
	Base     Provider
	Seed     int64
	Spread   float64
	Baseline bool // scenario 0 sees the unperturbed base values
}

// NewPerturbed validates the spread and returns a Perturbed provider.
func NewPerturbed(base Provider, seed int64, spread float64) (*Perturbed, error) {
	if base == nil {
		return nil, fmt.Errorf("timeseries: perturbed provider needs a base provider")
	}
	if spread < 0 || spread >= 1 {
		return nil, fmt.Errorf("timeseries: perturbation spread must be in [0, 1), got %g", spread)
	}
	return &Perturbed{Base: base, Seed: seed, Spread: spread}, nil
}

// Lookup returns the unperturbed base value.
func (p *Perturbed) Lookup(series, column string, index int) (float64, error) {
	return p.Base.Lookup(series, column, index)
}

// ForScenario implements ScenarioProvider.
func (p *Perturbed) ForScenario(s sim.Scenario) Provider {
	if p.Spread == 0 || (p.Baseline && s.Index == 0) {
		return p.Base
	}
	return &perturbedView{
		parent:  p,
		rng:     sim.NewScenarioRNG(p.Seed, s),
		factors: make(map[string][]float64),
	}
}

type perturbedView struct {
	parent *Perturbed

	mu      sync.Mutex
	rng     *sim.ScenarioRNG
	factors map[string][]float64
}

func (v *perturbedView) Lookup(series, column string, index int) (float64, error) {
	base, err := v.parent.Base.Lookup(series, column, index)
	if err != nil {
		return 0, err
	}
	return base * v.factor(series+"/"+column, index), nil
}

// factor extends the stream's factor sequence in index order up to index.
func (v *perturbedView) factor(stream string, index int) float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	seq := v.factors[stream]
	if index < len(seq) {
		return seq[index]
	}
	rng := v.rng.ForStream(stream)
	for len(seq) <= index {
		seq = append(seq, 1+v.parent.Spread*(2*rng.Float64()-1))
	}
	v.factors[stream] = seq
	return seq[index]
}
