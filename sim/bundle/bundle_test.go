package bundle

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hydro-sim/hydro-sim/sim"
	"github.com/hydro-sim/hydro-sim/sim/internal/testutil"
	"github.com/hydro-sim/hydro-sim/sim/param"
	"github.com/hydro-sim/hydro-sim/sim/schedule"
	"github.com/hydro-sim/hydro-sim/sim/solver"
	_ "github.com/hydro-sim/hydro-sim/sim/solver/ipm"
	"github.com/hydro-sim/hydro-sim/sim/timeseries"
)

func writeTempYAML(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "model.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

// minimalNetwork is appended to bundles that only exercise other sections.
const minimalNetwork = `
nodes:
  - {name: a, kind: input, max_flow: 1}
  - {name: b, kind: output}
edges:
  - {from: a, to: b}
`

func parseSource(t *testing.T, text string) (param.Source, error) {
	t.Helper()
	b, err := Parse([]byte("parameters:\n  p: " + text + "\n"))
	if err != nil {
		return nil, err
	}
	return b.Parameters["p"].Source, nil
}

func TestLoadModelBundle_StorageRouting_BuildsAndRuns(t *testing.T) {
	// GIVEN the storage routing bundle from testdata
	path := testutil.TestdataPath(t, "storage_routing.yaml")
	b, err := LoadModelBundle(path)
	require.NoError(t, err)

	// WHEN it is built and run on its configured backend
	built, err := b.Build(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, built.Timesteps, 4)
	assert.Len(t, built.Scenarios, 1)
	assert.Equal(t, 1e-9, built.Settings.Tolerance)

	slv, err := solver.New(b.Solver.Backend, built.Settings)
	require.NoError(t, err)
	s, err := schedule.New(built.Model, built.Graph, built.Provider, slv, schedule.Config{
		Timesteps: built.Timesteps,
		Scenarios: built.Scenarios,
	})
	require.NoError(t, err)
	res, err := s.Run(context.Background())
	require.NoError(t, err)

	// THEN the reservoirs end full: 10, ten and fifteen = sum(5, 10)
	for node, want := range map[string]float64{"storage1": 10, "storage2": 10, "storage3": 15} {
		got, ok := res.Volume(0, 3, node)
		require.True(t, ok, node)
		assert.InDelta(t, want, got, 1e-5, node)
	}
}

func TestLoadModelBundle_TimeSeriesProduct_ScenarioColumns(t *testing.T) {
	// GIVEN a bundle whose inflow reads a different CSV column per scenario
	path := testutil.TestdataPath(t, "timeseries_product.yaml")
	b, err := LoadModelBundle(path)
	require.NoError(t, err)
	built, err := b.Build(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, built.Scenarios, 2)
	assert.Equal(t, "wet", built.Scenarios[1].Name)
	assert.Equal(t, 2, b.Run.Workers)
	assert.Equal(t, "fail", b.Run.IterationLimit)

	// WHEN half_inflow is resolved at timestep 2 for each scenario
	for _, tc := range []struct {
		scenario int
		want     float64
	}{{0, 2.25}, {1, 4}} {
		r := built.Graph.NewResolver(built.Provider, built.Scenarios[tc.scenario])
		r.Begin(built.Timesteps[2], nil)
		got, err := r.Resolve("half_inflow")

		// THEN it is half the scenario's own column
		require.NoError(t, err)
		assert.InDelta(t, tc.want, got, 1e-12)
	}
}

func TestParse_UnknownTopLevelKey_Rejected(t *testing.T) {
	// GIVEN a bundle with a typo in a section name
	_, err := Parse([]byte("horizon:\n  timesteps: 2\nnode:\n  - {name: a, kind: input}\n"))

	// THEN strict decoding rejects it
	assert.Error(t, err)
}

func TestParse_UnknownNodeField_Rejected(t *testing.T) {
	_, err := Parse([]byte("nodes:\n  - {name: a, kind: input, maxflow: 3}\n"))
	assert.Error(t, err)
}

func TestSourceSpec_Forms(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want param.Source
	}{
		{"integer", "5", param.Constant(5)},
		{"float", "-2.5", param.Constant(-2.5)},
		{"infinity", ".inf", param.Constant(math.Inf(1))},
		{"reference", "demand", param.Ref("demand")},
		{"quoted number is a reference", `"12"`, param.Ref("12")},
		{"constant mapping", "{type: constant, value: 3}", param.Constant(3)},
		{"parameter mapping", "{type: parameter, name: x}", param.Ref("x")},
		{"sum", "{type: sum, sources: [5, 10]}", param.Sum(param.Constant(5), param.Constant(10))},
		{"nested product", "{type: product, sources: [x, {type: negative, source: 2}]}",
			param.Product(param.Ref("x"), param.Negative{Source: param.Constant(2)})},
		{"mean", "{type: mean, sources: [1, 2]}", param.Mean(param.Constant(1), param.Constant(2))},
		{"timeseries", "{type: timeseries, series: flows, column: inflow1}",
			param.TimeSeries{Series: "flows", Column: "inflow1"}},
		{"threshold", "{type: threshold, source: x, threshold: 0}", param.Max{Source: param.Ref("x")}},
		{"array", "{type: array, values: [1, 2, 3]}", param.Array{Values: []float64{1, 2, 3}}},
		{"storage volume", "{type: storage_volume, node: res}", param.StorageVolume{Node: "res"}},
		{"proportional volume", "{type: proportional_volume, node: res}", param.ProportionalVolume{Node: "res"}},
		{"control curve index", "{type: control_curve_index, node: res, control_curves: [0.8, lower]}",
			param.ControlCurveIndex{Node: "res", ControlCurves: []param.Source{param.Constant(0.8), param.Ref("lower")}}},
		{"control curve index with values",
			"{type: control_curve_index, node: res, control_curves: [0.5], values: [10, release]}",
			param.ControlCurveIndex{
				Node:          "res",
				ControlCurves: []param.Source{param.Constant(0.5)},
				Values:        []param.Source{param.Constant(10), param.Ref("release")},
			}},
		{"control curve interpolated",
			"{type: control_curve_interpolated, node: res, control_curves: [0.5], values: [10, 4, 0]}",
			param.ControlCurveInterpolated{
				Node:          "res",
				ControlCurves: []param.Source{param.Constant(0.5)},
				Values:        []param.Source{param.Constant(10), param.Constant(4), param.Constant(0)},
			}},
		{"control curve piecewise",
			"{type: control_curve_piecewise_interpolated, node: res, control_curves: [0.6], values: [[100, 50], [-10, -20]]}",
			param.ControlCurvePiecewiseInterpolated{
				Node:          "res",
				ControlCurves: []param.Source{param.Constant(0.6)},
				Values:        [][2]float64{{100, 50}, {-10, -20}},
				Maximum:       1,
			}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseSource(t, tc.yaml)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestSourceSpec_MonthlyProfile(t *testing.T) {
	// GIVEN a twelve-value profile
	got, err := parseSource(t, "{type: monthly_profile, values: [1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12]}")
	require.NoError(t, err)

	// THEN values are stored by month
	p, ok := got.(param.MonthlyProfile)
	require.True(t, ok)
	assert.Equal(t, 12.0, p.Values[11])

	// AND a short profile is rejected
	_, err = parseSource(t, "{type: monthly_profile, values: [1, 2]}")
	assert.Error(t, err)
}

func TestSourceSpec_InvalidMappings_Rejected(t *testing.T) {
	for name, text := range map[string]string{
		"unknown type":              "{type: interpolated, values: [1]}",
		"missing type":              "{value: 3}",
		"field of another type":     "{type: sum, sources: [1], series: flows}",
		"empty aggregate":           "{type: max, sources: []}",
		"timeseries without column": "{type: timeseries, series: flows}",
		"sequence":                  "[1, 2]",
		"boolean":                   "true",
		"interpolated values short": "{type: control_curve_interpolated, node: res, control_curves: [0.5], values: [1, 0]}",
		"piecewise pair of three":   "{type: control_curve_piecewise_interpolated, node: res, control_curves: [0.5], values: [[1, 2, 3], [0, 0]]}",
		"piecewise inverted range":  "{type: control_curve_piecewise_interpolated, node: res, control_curves: [0.5], values: [[1, 0], [0, 0]], maximum: 0}",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := parseSource(t, text)
			assert.Error(t, err)
		})
	}
}

func TestHorizonSpec_Steps(t *testing.T) {
	// GIVEN a weekly horizon over January
	steps, err := HorizonSpec{Start: "2021-01-01", End: "2021-01-31", StepDays: 7}.Steps()
	require.NoError(t, err)

	// THEN steps start on the 1st, 8th, 15th, 22nd and 29th
	require.Len(t, steps, 5)
	assert.Equal(t, 29, steps[4].Date.Day())
	assert.Equal(t, 7, steps[4].Days)

	_, err = HorizonSpec{Timesteps: 3, Start: "2021-01-01"}.Steps()
	assert.Error(t, err, "count and dates together")
	_, err = HorizonSpec{}.Steps()
	assert.Error(t, err, "empty horizon")
	_, err = HorizonSpec{Start: "2021-02-01", End: "2021-01-01"}.Steps()
	assert.Error(t, err, "end before start")
}

func TestBuild_UndefinedReference_ReturnsUnknownParameter(t *testing.T) {
	// GIVEN a node bound to a parameter that is never defined
	b, err := Parse([]byte(`
horizon: {timesteps: 1}
nodes:
  - {name: a, kind: input, max_flow: missing}
  - {name: b, kind: output}
edges:
  - {from: a, to: b}
`))
	require.NoError(t, err)

	// WHEN it is built
	_, err = b.Build(t.TempDir())

	// THEN the error classifies as an unknown parameter
	assert.ErrorIs(t, err, sim.ErrUnknownParameter)
}

func TestBuild_DanglingParameterReference_ReturnsUnknownParameter(t *testing.T) {
	b, err := Parse([]byte(`
horizon: {timesteps: 1}
parameters:
  x: {type: sum, sources: [1, y]}
nodes:
  - {name: a, kind: input, max_flow: x}
  - {name: b, kind: output}
edges:
  - {from: a, to: b}
`))
	require.NoError(t, err)
	_, err = b.Build(t.TempDir())
	assert.ErrorIs(t, err, sim.ErrUnknownParameter)
}

func TestBuild_ReferenceCycle_ReturnsCycleDetected(t *testing.T) {
	// GIVEN a -> b -> a
	b, err := Parse([]byte(`
horizon: {timesteps: 1}
parameters:
  a: {type: negative, source: b}
  b: {type: sum, sources: [a, 1]}
`))
	require.NoError(t, err)

	// THEN Build rejects it before anything is resolved
	_, err = b.Build(t.TempDir())
	assert.ErrorIs(t, err, sim.ErrCycleDetected)
}

func TestBuild_SolverOverrides(t *testing.T) {
	b, err := Parse([]byte("horizon: {timesteps: 1}\nsolver: {max_iterations: 50, lanes: 4, batch_size: 8}\n" + minimalNetwork))
	require.NoError(t, err)
	built, err := b.Build(t.TempDir())
	require.NoError(t, err)

	def := solver.DefaultSettings()
	assert.Equal(t, 50, built.Settings.MaxIterations)
	assert.Equal(t, 4, built.Settings.Lanes)
	assert.Equal(t, 8, built.Settings.BatchSize)
	assert.Equal(t, def.Tolerance, built.Settings.Tolerance)

	// AND invalid settings are rejected at build time
	b.Solver.Lanes = 3
	_, err = b.Build(t.TempDir())
	assert.Error(t, err)
}

func TestBuild_Perturbation_WrapsProvider(t *testing.T) {
	// GIVEN three perturbed scenarios over the flows series
	path := writeTempYAML(t, `
horizon: {timesteps: 4}
scenarios: {count: 3, seed: 7, perturbation: 0.1, baseline: true}
timeseries:
  - {name: flows, path: `+testutil.TestdataPath(t, "flows.csv")+`}
`+minimalNetwork)
	b, err := LoadModelBundle(path)
	require.NoError(t, err)
	built, err := b.Build(filepath.Dir(path))
	require.NoError(t, err)

	// THEN the provider is a seeded Perturbed whose scenario 0 is the baseline
	p, ok := built.Provider.(*timeseries.Perturbed)
	require.True(t, ok)
	assert.Equal(t, int64(7), p.Seed)
	v0, err := timeseries.ForScenario(p, built.Scenarios[0]).Lookup("flows", "inflow1", 0)
	require.NoError(t, err)
	assert.Equal(t, 23.0, v0)
	v1, err := timeseries.ForScenario(p, built.Scenarios[1]).Lookup("flows", "inflow1", 0)
	require.NoError(t, err)
	assert.InDelta(t, 23.0, v1, 2.3+1e-9)
}

func TestBuild_MissingSeriesFile_ReturnsError(t *testing.T) {
	b, err := Parse([]byte("horizon: {timesteps: 1}\ntimeseries:\n  - {name: flows, path: nope.csv}\n"))
	require.NoError(t, err)
	_, err = b.Build(t.TempDir())
	assert.Error(t, err)
}

func TestBuild_TooManyScenarioNames_ReturnsError(t *testing.T) {
	b, err := Parse([]byte("horizon: {timesteps: 1}\nscenarios: {count: 1, names: [a, b]}\n"))
	require.NoError(t, err)
	_, err = b.Build(t.TempDir())
	assert.Error(t, err)
}
