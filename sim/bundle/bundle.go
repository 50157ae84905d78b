// Package bundle loads a network model, its parameters, time series and run
// settings from a single YAML file.
//
// Attribute and parameter values are sources written in one of three forms:
//
//	cost: -10                  # constant
//	max_flow: demand           # reference to a named parameter
//	max_flow:                  # inline definition
//	  type: product
//	  sources: [half, {type: timeseries, series: flows, column: inflow1}]
package bundle

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hydro-sim/hydro-sim/sim"
	"github.com/hydro-sim/hydro-sim/sim/network"
	"github.com/hydro-sim/hydro-sim/sim/param"
	"github.com/hydro-sim/hydro-sim/sim/solver"
	"github.com/hydro-sim/hydro-sim/sim/timeseries"
)

// ModelBundle is the YAML model file.
type ModelBundle struct {
	Horizon    HorizonSpec            `yaml:"horizon"`
	Scenarios  ScenarioSpec           `yaml:"scenarios"`
	TimeSeries []SeriesSpec           `yaml:"timeseries"`
	Parameters map[string]*SourceSpec `yaml:"parameters"`
	Nodes      []NodeSpec             `yaml:"nodes"`
	Edges      []EdgeSpec             `yaml:"edges"`
	Solver     SolverSpec             `yaml:"solver"`
	Run        RunSpec                `yaml:"run"`
}

// HorizonSpec gives either a dated horizon (start, end, step_days) or a bare
// timestep count.
type HorizonSpec struct {
	Start     string `yaml:"start"`
	End       string `yaml:"end"`
	StepDays  int    `yaml:"step_days"`
	Timesteps int    `yaml:"timesteps"`
}

type ScenarioSpec struct {
	Count        int      `yaml:"count"`
	Names        []string `yaml:"names"`
	Seed         int64    `yaml:"seed"`
	Perturbation float64  `yaml:"perturbation"`
	Baseline     bool     `yaml:"baseline"`
}

// SeriesSpec names a CSV file. Relative paths are resolved against the
// bundle's directory.
type SeriesSpec struct {
	Name string `yaml:"name"`
	Path string `yaml:"path"`
}

type NodeSpec struct {
	Name          string      `yaml:"name"`
	Kind          string      `yaml:"kind"`
	Cost          *SourceSpec `yaml:"cost"`
	MinFlow       *SourceSpec `yaml:"min_flow"`
	MaxFlow       *SourceSpec `yaml:"max_flow"`
	MinVolume     *SourceSpec `yaml:"min_volume"`
	MaxVolume     *SourceSpec `yaml:"max_volume"`
	InitialVolume *SourceSpec `yaml:"initial_volume"`
}

type EdgeSpec struct {
	From    string      `yaml:"from"`
	To      string      `yaml:"to"`
	Cost    *SourceSpec `yaml:"cost"`
	MinFlow *SourceSpec `yaml:"min_flow"`
	MaxFlow *SourceSpec `yaml:"max_flow"`
}

// SolverSpec overrides solver.DefaultSettings; zero fields keep the default.
type SolverSpec struct {
	Backend       string  `yaml:"backend"`
	Tolerance     float64 `yaml:"tolerance"`
	MaxIterations int     `yaml:"max_iterations"`
	Threads       int     `yaml:"threads"`
	Lanes         int     `yaml:"lanes"`
	BatchSize     int     `yaml:"batch_size"`
}

// RunSpec carries scheduler options. Command-line flags take precedence.
type RunSpec struct {
	Workers        int    `yaml:"workers"`
	AbortOnFailure bool   `yaml:"abort_on_failure"`
	IterationLimit string `yaml:"iteration_limit"`
}

// LoadModelBundle reads and parses a YAML model bundle.
// Uses strict parsing: unrecognized keys (typos) are rejected.
func LoadModelBundle(path string) (*ModelBundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading model bundle: %w", err)
	}
	return Parse(data)
}

// Parse decodes a bundle from YAML bytes.
func Parse(data []byte) (*ModelBundle, error) {
	var b ModelBundle
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&b); err != nil {
		return nil, fmt.Errorf("parsing model bundle: %w", err)
	}
	return &b, nil
}

// Settings returns the solver settings with the bundle's overrides applied.
func (s SolverSpec) Settings() solver.Settings {
	out := solver.DefaultSettings()
	if s.Tolerance != 0 {
		out.Tolerance = s.Tolerance
	}
	if s.MaxIterations != 0 {
		out.MaxIterations = s.MaxIterations
	}
	if s.Threads != 0 {
		out.Threads = s.Threads
	}
	if s.Lanes != 0 {
		out.Lanes = s.Lanes
	}
	if s.BatchSize != 0 {
		out.BatchSize = s.BatchSize
	}
	return out
}

// Steps expands the horizon section.
func (h HorizonSpec) Steps() ([]sim.Timestep, error) {
	if h.Timesteps > 0 {
		if h.Start != "" || h.End != "" {
			return nil, fmt.Errorf("horizon: give either timesteps or start/end, not both")
		}
		return sim.IndexedTimesteps(h.Timesteps), nil
	}
	if h.Start == "" || h.End == "" {
		return nil, fmt.Errorf("horizon: start and end dates are required")
	}
	start, err := time.Parse(time.DateOnly, h.Start)
	if err != nil {
		return nil, fmt.Errorf("horizon: start: %w", err)
	}
	end, err := time.Parse(time.DateOnly, h.End)
	if err != nil {
		return nil, fmt.Errorf("horizon: end: %w", err)
	}
	step := h.StepDays
	if step == 0 {
		step = 1
	}
	hz, err := sim.NewHorizon(start, end, step)
	if err != nil {
		return nil, err
	}
	return hz.Timesteps(), nil
}

// Built is a bundle turned into the engine's inputs.
type Built struct {
	Model     *network.Model
	Graph     *param.Graph
	Provider  timeseries.Provider
	Timesteps []sim.Timestep
	Scenarios []sim.Scenario
	Settings  solver.Settings
}

// Build loads the time series relative to dir and constructs the model,
// parameter graph and provider. Unknown parameter references are reported
// here rather than at the first timestep.
func (b *ModelBundle) Build(dir string) (*Built, error) {
	steps, err := b.Horizon.Steps()
	if err != nil {
		return nil, err
	}

	count := b.Scenarios.Count
	if count == 0 {
		count = max(1, len(b.Scenarios.Names))
	}
	if count < len(b.Scenarios.Names) {
		return nil, fmt.Errorf("scenarios: %d names given for %d scenarios", len(b.Scenarios.Names), count)
	}
	scenarios := sim.NewScenarios(count, b.Scenarios.Names...)

	provider, err := b.provider(dir)
	if err != nil {
		return nil, err
	}

	defs := make(map[string]param.Source, len(b.Parameters))
	for id, spec := range b.Parameters {
		if spec == nil {
			return nil, fmt.Errorf("parameter %q: empty definition", id)
		}
		defs[id] = spec.Source
	}
	graph, err := param.NewGraph(defs)
	if err != nil {
		return nil, err
	}

	model, err := b.model()
	if err != nil {
		return nil, err
	}
	if err := model.Validate(); err != nil {
		return nil, err
	}
	if err := model.CheckReferences(graph); err != nil {
		return nil, err
	}
	if dangling := graph.Dangling(); len(dangling) > 0 {
		return nil, fmt.Errorf("parameters reference undefined ids %v: %w", dangling, sim.ErrUnknownParameter)
	}

	settings := b.Solver.Settings()
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return &Built{
		Model:     model,
		Graph:     graph,
		Provider:  provider,
		Timesteps: steps,
		Scenarios: scenarios,
		Settings:  settings,
	}, nil
}

func (b *ModelBundle) provider(dir string) (timeseries.Provider, error) {
	tables := make([]*timeseries.Table, 0, len(b.TimeSeries))
	for i, s := range b.TimeSeries {
		if s.Name == "" || s.Path == "" {
			return nil, fmt.Errorf("timeseries[%d]: name and path are required", i)
		}
		path := s.Path
		if !filepath.IsAbs(path) {
			path = filepath.Join(dir, path)
		}
		t, err := timeseries.LoadCSV(s.Name, path)
		if err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}
	mem, err := timeseries.NewMemory(tables...)
	if err != nil {
		return nil, err
	}
	if b.Scenarios.Perturbation == 0 {
		return mem, nil
	}
	p, err := timeseries.NewPerturbed(mem, b.Scenarios.Seed, b.Scenarios.Perturbation)
	if err != nil {
		return nil, err
	}
	p.Baseline = b.Scenarios.Baseline
	return p, nil
}

func (b *ModelBundle) model() (*network.Model, error) {
	m := network.NewModel()
	for i, n := range b.Nodes {
		kind, err := network.ParseKind(n.Kind)
		if err != nil {
			return nil, fmt.Errorf("nodes[%d]: %w", i, err)
		}
		err = m.AddNode(network.Node{
			Name:          n.Name,
			Kind:          kind,
			Cost:          n.Cost.source(),
			MinFlow:       n.MinFlow.source(),
			MaxFlow:       n.MaxFlow.source(),
			MinVolume:     n.MinVolume.source(),
			MaxVolume:     n.MaxVolume.source(),
			InitialVolume: n.InitialVolume.source(),
		})
		if err != nil {
			return nil, err
		}
	}
	for _, e := range b.Edges {
		err := m.Connect(network.Edge{
			From:    e.From,
			To:      e.To,
			Cost:    e.Cost.source(),
			MinFlow: e.MinFlow.source(),
			MaxFlow: e.MaxFlow.source(),
		})
		if err != nil {
			return nil, err
		}
	}
	return m, nil
}
