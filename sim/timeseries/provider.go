// Package timeseries defines the value provider boundary through which the
// engine reads time-varying driver data, plus in-memory and CSV-backed
// implementations.
package timeseries

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/hydro-sim/hydro-sim/sim"
)

// ErrNotFound is returned when a series, column or row does not exist.
var ErrNotFound = errors.New("timeseries: value not found")

// Provider is an opaque source of scalar series keyed by series id, column
// and time index. Implementations must be safe for concurrent readers.
type Provider interface {
	Lookup(series, column string, index int) (float64, error)
}

// ScenarioProvider is implemented by providers whose values differ between
// scenarios. The scheduler asks for one handle per scenario worker.
type ScenarioProvider interface {
	Provider
	ForScenario(s sim.Scenario) Provider
}

// ForScenario returns the scenario-specific view of p, or p itself when p does
// not vary by scenario.
func ForScenario(p Provider, s sim.Scenario) Provider {
	if p == nil {
		return nil
	}
	if sp, ok := p.(ScenarioProvider); ok {
		return sp.ForScenario(s)
	}
	return p
}

// Table is a named set of equally indexed float columns. Row i holds the
// value for timestep index i. NaN marks a missing value.
type Table struct {
	Name    string
	Columns map[string][]float64
}

// NewTable builds a table, checking that all columns have the same length.
func NewTable(name string, columns map[string][]float64) (*Table, error) {
	rows := -1
	for col, values := range columns {
		if rows >= 0 && len(values) != rows {
			return nil, fmt.Errorf("timeseries: table %q column %q has %d rows, expected %d",
				name, col, len(values), rows)
		}
		rows = len(values)
	}
	return &Table{Name: name, Columns: columns}, nil
}

// Rows returns the number of rows in the table.
func (t *Table) Rows() int {
	for _, values := range t.Columns {
		return len(values)
	}
	return 0
}

// ColumnNames returns the column names in sorted order.
func (t *Table) ColumnNames() []string {
	names := make([]string, 0, len(t.Columns))
	for name := range t.Columns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Value returns the value at (column, index). Missing rows and NaN cells are
// ErrNotFound; there is no interpolation.
func (t *Table) Value(column string, index int) (float64, error) {
	values, ok := t.Columns[column]
	if !ok {
		return 0, fmt.Errorf("%w: column %q in %q", ErrNotFound, column, t.Name)
	}
	if index < 0 || index >= len(values) {
		return 0, fmt.Errorf("%w: row %d of %q/%q (%d rows)", ErrNotFound, index, t.Name, column, len(values))
	}
	v := values[index]
	if math.IsNaN(v) {
		return 0, fmt.Errorf("%w: row %d of %q/%q is empty", ErrNotFound, index, t.Name, column)
	}
	return v, nil
}

// Memory is a Provider over in-memory tables. It is immutable after
// construction and safe for concurrent use.
type Memory struct {
	tables map[string]*Table
}

// NewMemory returns a provider over the given tables. Table names must be unique.
func NewMemory(tables ...*Table) (*Memory, error) {
	m := &Memory{tables: make(map[string]*Table, len(tables))}
	for _, t := range tables {
		if t == nil {
			continue
		}
		if _, dup := m.tables[t.Name]; dup {
			return nil, fmt.Errorf("timeseries: duplicate table %q", t.Name)
		}
		m.tables[t.Name] = t
	}
	return m, nil
}

// Lookup implements Provider.
func (m *Memory) Lookup(series, column string, index int) (float64, error) {
	t, ok := m.tables[series]
	if !ok {
		return 0, fmt.Errorf("%w: series %q", ErrNotFound, series)
	}
	return t.Value(column, index)
}

// Table returns the named table, or nil.
func (m *Memory) Table(name string) *Table {
	return m.tables[name]
}
