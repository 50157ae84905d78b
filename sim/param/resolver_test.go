package param

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hydro-sim/hydro-sim/sim"
	"github.com/hydro-sim/hydro-sim/sim/timeseries"
)

type volumes map[string]float64

func (v volumes) Volume(node string) (float64, bool) {
	x, ok := v[node]
	return x, ok
}

func (v volumes) MaxVolume(node string) (float64, bool) {
	_, ok := v[node]
	return math.Inf(1), ok
}

// reservoir is a single storage node "res" with a finite capacity.
type reservoir struct {
	volume, capacity float64
}

func (r reservoir) Volume(node string) (float64, bool) {
	return r.volume, node == "res"
}

func (r reservoir) MaxVolume(node string) (float64, bool) {
	return r.capacity, node == "res"
}

// countingProvider records how many lookups reach it.
type countingProvider struct {
	base  timeseries.Provider
	calls int
}

func (c *countingProvider) Lookup(series, column string, index int) (float64, error) {
	c.calls++
	return c.base.Lookup(series, column, index)
}

func flowsProvider(t *testing.T) *timeseries.Memory {
	t.Helper()
	tbl, err := timeseries.NewTable("flows", map[string][]float64{
		"inflow1": {23.0, 17.0, 4.5},
		"inflow2": {1.0, 2.0, 3.0},
	})
	require.NoError(t, err)
	mem, err := timeseries.NewMemory(tbl)
	require.NoError(t, err)
	return mem
}

func TestResolver_SumOfConstants(t *testing.T) {
	// GIVEN sum over [5, 10]
	g, err := NewGraph(map[string]Source{"total": Sum(Constant(5), Constant(10))})
	require.NoError(t, err)
	r := g.NewResolver(nil, sim.Scenario{})
	r.Begin(sim.IndexedTimesteps(1)[0], nil)

	// WHEN resolved
	v, err := r.Resolve("total")

	// THEN the value is 15
	require.NoError(t, err)
	assert.Equal(t, 15.0, v)
}

func TestResolver_ProductWithTimeSeries_FollowsTimestep(t *testing.T) {
	// GIVEN product over [0.5, inflow]
	g, err := NewGraph(map[string]Source{
		"inflow": TimeSeries{Series: "flows", Column: "inflow1"},
		"scaled": Product(Constant(0.5), Ref("inflow")),
	})
	require.NoError(t, err)
	r := g.NewResolver(flowsProvider(t), sim.Scenario{})

	// WHEN resolved at each timestep
	want := []float64{11.5, 8.5, 2.25}
	for i, ts := range sim.IndexedTimesteps(3) {
		r.Begin(ts, nil)
		v, err := r.Resolve("scaled")

		// THEN the value is half the series value at that index
		require.NoError(t, err)
		assert.InDelta(t, want[i], v, 1e-12, "timestep %d", i)
	}
}

func TestResolver_MemoisesWithinTimestep_InvalidatesOnBegin(t *testing.T) {
	// GIVEN two parameters sharing one time series reference
	cp := &countingProvider{base: flowsProvider(t)}
	g, err := NewGraph(map[string]Source{
		"inflow": TimeSeries{Series: "flows", Column: "inflow1"},
		"a":      Sum(Ref("inflow"), Constant(1)),
		"b":      Product(Ref("inflow"), Constant(2)),
	})
	require.NoError(t, err)
	r := g.NewResolver(cp, sim.Scenario{})
	steps := sim.IndexedTimesteps(2)

	// WHEN both are resolved in one timestep
	r.Begin(steps[0], nil)
	_, err = r.ResolveAll()
	require.NoError(t, err)

	// THEN the provider was read once
	assert.Equal(t, 1, cp.calls)

	// WHEN the next timestep begins
	r.Begin(steps[1], nil)
	b, err := r.Resolve("b")

	// THEN the stale value is not reused
	require.NoError(t, err)
	assert.Equal(t, 34.0, b)
	assert.Equal(t, 2, cp.calls)
}

func TestResolver_UnknownParameter(t *testing.T) {
	g, err := NewGraph(map[string]Source{"a": Sum(Ref("ghost"), Constant(1))})
	require.NoError(t, err)
	r := g.NewResolver(nil, sim.Scenario{})
	r.Begin(sim.IndexedTimesteps(1)[0], nil)

	_, err = r.Resolve("a")
	assert.ErrorIs(t, err, sim.ErrUnknownParameter)
	assert.Equal(t, sim.KindUnknownParameter, sim.KindOf(err))

	_, err = r.Resolve("nope")
	assert.ErrorIs(t, err, sim.ErrUnknownParameter)
}

func TestResolver_ProviderErrors(t *testing.T) {
	cases := []struct {
		name string
		src  Source
		idx  int
	}{
		{"unknown series", TimeSeries{Series: "rain", Column: "x"}, 0},
		{"unknown column", TimeSeries{Series: "flows", Column: "x"}, 0},
		{"index past end", TimeSeries{Series: "flows", Column: "inflow1"}, 3},
		{"array past end", Array{Values: []float64{1, 2}}, 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g, err := NewGraph(map[string]Source{"p": tc.src})
			require.NoError(t, err)
			r := g.NewResolver(flowsProvider(t), sim.Scenario{})
			r.Begin(sim.IndexedTimesteps(tc.idx + 1)[tc.idx], nil)

			_, err = r.Resolve("p")
			assert.ErrorIs(t, err, sim.ErrProvider)
			assert.Equal(t, sim.KindProvider, sim.KindOf(err))
		})
	}
}

func TestResolver_NilProvider_ProviderError(t *testing.T) {
	g, err := NewGraph(map[string]Source{"p": TimeSeries{Series: "flows", Column: "inflow1"}})
	require.NoError(t, err)
	r := g.NewResolver(nil, sim.Scenario{})
	r.Begin(sim.IndexedTimesteps(1)[0], nil)

	_, err = r.Resolve("p")
	assert.ErrorIs(t, err, sim.ErrProvider)
}

func TestResolver_SupplementaryVariants(t *testing.T) {
	// GIVEN one of each derived variant
	var profile [12]float64
	for i := range profile {
		profile[i] = float64(i + 1)
	}
	g, err := NewGraph(map[string]Source{
		"neg":     Negative{Source: Constant(3)},
		"floor":   Max{Source: Constant(-2), Threshold: 0},
		"monthly": MonthlyProfile{Values: profile},
		"array":   Array{Values: []float64{7, 8, 9}},
		"volume":  StorageVolume{Node: "res"},
		"mean":    Mean(Constant(1), Constant(2), Constant(6)),
		"lowest":  MinOf(Constant(4), Ref("neg")),
		"highest": MaxOf(Constant(4), Ref("array")),
	})
	require.NoError(t, err)
	r := g.NewResolver(nil, sim.Scenario{})

	// WHEN resolved on the 40th day (February 9th)
	ts := sim.IndexedTimesteps(40)[39]
	ts.Index = 1
	r.Begin(ts, volumes{"res": 55})
	got, err := r.ResolveAll()

	// THEN each variant evaluates as defined
	require.NoError(t, err)
	assert.Equal(t, -3.0, got["neg"])
	assert.Equal(t, 0.0, got["floor"])
	assert.Equal(t, 2.0, got["monthly"])
	assert.Equal(t, 8.0, got["array"])
	assert.Equal(t, 55.0, got["volume"])
	assert.Equal(t, 3.0, got["mean"])
	assert.Equal(t, -3.0, got["lowest"])
	assert.Equal(t, 8.0, got["highest"])
}

func TestResolver_StorageVolume_NoState_Error(t *testing.T) {
	g, err := NewGraph(map[string]Source{"v": StorageVolume{Node: "res"}})
	require.NoError(t, err)
	r := g.NewResolver(nil, sim.Scenario{})

	r.Begin(sim.IndexedTimesteps(1)[0], nil)
	_, err = r.Resolve("v")
	assert.Error(t, err)

	r.Begin(sim.IndexedTimesteps(1)[0], volumes{"other": 1})
	_, err = r.Resolve("v")
	assert.Error(t, err)
}

func TestResolver_ScenarioColumns_SelectByScenarioIndex(t *testing.T) {
	g, err := NewGraph(map[string]Source{
		"inflow": TimeSeries{Series: "flows", ScenarioColumns: []string{"inflow1", "inflow2"}},
	})
	require.NoError(t, err)
	ts := sim.IndexedTimesteps(1)[0]

	want := []float64{23, 1, 23}
	for i, s := range sim.NewScenarios(3) {
		r := g.NewResolver(flowsProvider(t), s)
		r.Begin(ts, nil)
		v, err := r.Resolve("inflow")
		require.NoError(t, err)
		assert.Equal(t, want[i], v, "scenario %d", i)
	}
}

func TestResolver_Deterministic(t *testing.T) {
	// GIVEN the same graph, provider, scenario and timestep
	defs := map[string]Source{
		"inflow": TimeSeries{Series: "flows", Column: "inflow1"},
		"d1":     Product(Ref("inflow"), Constant(1.0/3.0)),
		"d2":     Sum(Ref("d1"), Ref("inflow"), Constant(math.Pi)),
		"d3":     Mean(Ref("d1"), Ref("d2")),
	}
	run := func() map[string]float64 {
		g, err := NewGraph(defs)
		require.NoError(t, err)
		r := g.NewResolver(flowsProvider(t), sim.Scenario{})
		r.Begin(sim.IndexedTimesteps(2)[1], nil)
		out, err := r.ResolveAll()
		require.NoError(t, err)
		return out
	}

	// THEN repeated resolution is bit-identical
	first := run()
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, run())
	}
}

func TestResolver_ProportionalVolume(t *testing.T) {
	g, err := NewGraph(map[string]Source{"pv": ProportionalVolume{Node: "res"}})
	require.NoError(t, err)
	r := g.NewResolver(nil, sim.Scenario{})
	ts := sim.IndexedTimesteps(1)[0]

	tests := []struct {
		name     string
		state    StateReader
		want     float64
		wantFail bool
	}{
		{"quarter full", reservoir{volume: 25, capacity: 100}, 0.25, false},
		{"above capacity clamps", reservoir{volume: 120, capacity: 100}, 1, false},
		{"unbounded capacity", volumes{"res": 10}, 0, true},
		{"zero capacity", reservoir{volume: 0, capacity: 0}, 0, true},
		{"no state", nil, 0, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r.Begin(ts, tc.state)
			v, err := r.Resolve("pv")
			if tc.wantFail {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tc.want, v, 1e-12)
		})
	}
}

func TestResolver_ControlCurveIndex_BandsFromTheTop(t *testing.T) {
	// GIVEN curves at 0.8 and a parameter-driven 0.5
	g, err := NewGraph(map[string]Source{
		"lower": Constant(0.5),
		"band": ControlCurveIndex{
			Node:          "res",
			ControlCurves: []Source{Constant(0.8), Ref("lower")},
		},
		"release": ControlCurveIndex{
			Node:          "res",
			ControlCurves: []Source{Constant(0.8), Ref("lower")},
			Values:        []Source{Constant(10), Constant(5), Negative{Source: Constant(1)}},
		},
	})
	require.NoError(t, err)
	r := g.NewResolver(nil, sim.Scenario{})
	ts := sim.IndexedTimesteps(1)[0]

	tests := []struct {
		volume      float64
		wantBand    float64
		wantRelease float64
	}{
		{90, 0, 10},
		{80, 0, 10},
		{60, 1, 5},
		{50, 1, 5},
		{10, 2, -1},
	}
	for _, tc := range tests {
		// WHEN the reservoir holds tc.volume of 100
		r.Begin(ts, reservoir{volume: tc.volume, capacity: 100})

		// THEN the band index and the band's value follow
		band, err := r.Resolve("band")
		require.NoError(t, err)
		assert.Equal(t, tc.wantBand, band, "volume %g", tc.volume)
		release, err := r.Resolve("release")
		require.NoError(t, err)
		assert.Equal(t, tc.wantRelease, release, "volume %g", tc.volume)
	}
}

func TestResolver_ControlCurveInterpolated(t *testing.T) {
	// GIVEN one curve at 0.5 with values 10 at full, 4 on the curve, 0 at empty
	g, err := NewGraph(map[string]Source{
		"cost": ControlCurveInterpolated{
			Node:          "res",
			ControlCurves: []Source{Constant(0.5)},
			Values:        []Source{Constant(10), Constant(4), Constant(0)},
		},
	})
	require.NoError(t, err)
	r := g.NewResolver(nil, sim.Scenario{})
	ts := sim.IndexedTimesteps(1)[0]

	tests := []struct {
		volume float64
		want   float64
	}{
		{100, 10},
		{75, 7},
		{50, 4},
		{25, 2},
		{0, 0},
	}
	for _, tc := range tests {
		r.Begin(ts, reservoir{volume: tc.volume, capacity: 100})
		v, err := r.Resolve("cost")
		require.NoError(t, err)
		assert.InDelta(t, tc.want, v, 1e-12, "volume %g", tc.volume)
	}
}

func TestResolver_ControlCurvePiecewiseInterpolated(t *testing.T) {
	// GIVEN one curve at 0.6 with bands (100 -> 50) above and (-10 -> -20) below
	g, err := NewGraph(map[string]Source{
		"pw": ControlCurvePiecewiseInterpolated{
			Node:          "res",
			ControlCurves: []Source{Constant(0.6)},
			Values:        [][2]float64{{100, 50}, {-10, -20}},
			Maximum:       1,
		},
	})
	require.NoError(t, err)
	r := g.NewResolver(nil, sim.Scenario{})
	ts := sim.IndexedTimesteps(1)[0]

	tests := []struct {
		volume float64
		want   float64
	}{
		{100, 100},
		{80, 75},
		{60, 50},
		{30, -15},
		{0, -20},
	}
	for _, tc := range tests {
		r.Begin(ts, reservoir{volume: tc.volume, capacity: 100})
		v, err := r.Resolve("pw")
		require.NoError(t, err)
		assert.InDelta(t, tc.want, v, 1e-12, "volume %g", tc.volume)
	}
}

func TestValidate_ControlCurves_RejectMalformed(t *testing.T) {
	tests := []struct {
		name string
		src  Source
	}{
		{"no node", ControlCurveIndex{ControlCurves: []Source{Constant(0.5)}}},
		{"no curves", ControlCurveInterpolated{Node: "res", Values: []Source{Constant(1), Constant(0)}}},
		{"index values off by one", ControlCurveIndex{
			Node: "res", ControlCurves: []Source{Constant(0.5)}, Values: []Source{Constant(1)},
		}},
		{"interpolated values short", ControlCurveInterpolated{
			Node: "res", ControlCurves: []Source{Constant(0.5)}, Values: []Source{Constant(1), Constant(0)},
		}},
		{"piecewise pairs short", ControlCurvePiecewiseInterpolated{
			Node: "res", ControlCurves: []Source{Constant(0.5)}, Values: [][2]float64{{1, 0}}, Maximum: 1,
		}},
		{"piecewise maximum not above minimum", ControlCurvePiecewiseInterpolated{
			Node: "res", ControlCurves: []Source{Constant(0.5)}, Values: [][2]float64{{1, 0}, {0, 0}},
		}},
		{"proportional volume without node", ProportionalVolume{}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Error(t, Validate(tc.src))
		})
	}
}

func TestReferences_ControlCurves_IncludeCurvesAndValues(t *testing.T) {
	src := ControlCurveInterpolated{
		Node:          "res",
		ControlCurves: []Source{Ref("upper"), Constant(0.2)},
		Values:        []Source{Constant(1), Ref("mid"), Ref("upper"), Constant(0)},
	}
	assert.Equal(t, []string{"upper", "mid"}, References(src))
}
