package timeseries

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hydro-sim/hydro-sim/sim"
)

func TestMemory_Lookup_ExactRow(t *testing.T) {
	// GIVEN a table with one column
	tbl, err := NewTable("flows", map[string][]float64{"inflow1": {1, 2, 3}})
	require.NoError(t, err)
	p, err := NewMemory(tbl)
	require.NoError(t, err)

	// WHEN each row is looked up
	// THEN the exact stored value is returned
	for i, want := range []float64{1, 2, 3} {
		got, err := p.Lookup("flows", "inflow1", i)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestMemory_Lookup_MissingIsNotFound(t *testing.T) {
	tbl, err := NewTable("flows", map[string][]float64{"inflow1": {1, math.NaN()}})
	require.NoError(t, err)
	p, err := NewMemory(tbl)
	require.NoError(t, err)

	cases := []struct {
		name           string
		series, column string
		index          int
	}{
		{"unknown series", "nope", "inflow1", 0},
		{"unknown column", "flows", "nope", 0},
		{"row past end", "flows", "inflow1", 2},
		{"negative row", "flows", "inflow1", -1},
		{"empty cell", "flows", "inflow1", 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := p.Lookup(tc.series, tc.column, tc.index)
			if !errors.Is(err, ErrNotFound) {
				t.Errorf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestNewTable_RaggedColumns_Error(t *testing.T) {
	_, err := NewTable("bad", map[string][]float64{"a": {1, 2}, "b": {1}})
	assert.Error(t, err)
}

func TestNewMemory_DuplicateTable_Error(t *testing.T) {
	a, _ := NewTable("x", map[string][]float64{"c": {1}})
	b, _ := NewTable("x", map[string][]float64{"c": {2}})
	_, err := NewMemory(a, b)
	assert.Error(t, err)
}

func TestReadCSV_SkipsDateColumnAndParsesValues(t *testing.T) {
	// GIVEN a CSV with a leading date column and an empty cell
	data := "date,inflow1,inflow2\n2020-01-01,10,1.5\n2020-01-02,12,\n"

	// WHEN read
	tbl, err := ReadCSV("flows", strings.NewReader(data))
	require.NoError(t, err)

	// THEN both data columns are present with 2 rows
	assert.Equal(t, []string{"inflow1", "inflow2"}, tbl.ColumnNames())
	assert.Equal(t, 2, tbl.Rows())
	v, err := tbl.Value("inflow1", 1)
	require.NoError(t, err)
	assert.Equal(t, 12.0, v)

	// AND the empty cell is a missing value
	_, err = tbl.Value("inflow2", 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReadCSV_NonNumericCell_Error(t *testing.T) {
	_, err := ReadCSV("flows", strings.NewReader("a\nx\n"))
	assert.Error(t, err)
}

func TestPerturbed_SameScenario_Deterministic(t *testing.T) {
	// GIVEN a perturbed provider over a constant series
	tbl, _ := NewTable("flows", map[string][]float64{"q": {10, 10, 10, 10}})
	base, _ := NewMemory(tbl)
	p, err := NewPerturbed(base, 42, 0.2)
	require.NoError(t, err)

	s := sim.Scenario{Index: 3}
	first := ForScenario(p, s)
	second := ForScenario(p, s)

	// WHEN values are looked up in different orders
	var a, b [4]float64
	for i := 0; i < 4; i++ {
		a[i], _ = first.Lookup("flows", "q", i)
	}
	for i := 3; i >= 0; i-- {
		b[i], _ = second.Lookup("flows", "q", i)
	}

	// THEN both views agree and stay within the spread
	assert.Equal(t, a, b)
	for _, v := range a {
		assert.GreaterOrEqual(t, v, 8.0)
		assert.LessOrEqual(t, v, 12.0)
	}
}

func TestPerturbed_DifferentScenarios_Differ(t *testing.T) {
	tbl, _ := NewTable("flows", map[string][]float64{"q": {10}})
	base, _ := NewMemory(tbl)
	p, _ := NewPerturbed(base, 7, 0.5)

	v0, _ := ForScenario(p, sim.Scenario{Index: 0}).Lookup("flows", "q", 0)
	v1, _ := ForScenario(p, sim.Scenario{Index: 1}).Lookup("flows", "q", 0)
	assert.NotEqual(t, v0, v1)
}

func TestPerturbed_Baseline_ScenarioZeroUnchanged(t *testing.T) {
	tbl, _ := NewTable("flows", map[string][]float64{"q": {10}})
	base, _ := NewMemory(tbl)
	p, _ := NewPerturbed(base, 7, 0.5)
	p.Baseline = true

	v, err := ForScenario(p, sim.Scenario{Index: 0}).Lookup("flows", "q", 0)
	require.NoError(t, err)
	assert.Equal(t, 10.0, v)
}

func TestNewPerturbed_InvalidSpread_Error(t *testing.T) {
	base, _ := NewMemory()
	_, err := NewPerturbed(base, 1, 1.5)
	assert.Error(t, err)
}
