// Package param implements the parameter dependency graph: named, possibly
// time-varying scalar values that feed node and edge attributes.
//
// A parameter definition is a Source, a closed set of variants (Constant,
// Ref, Aggregated, TimeSeries, Negative, Max, MonthlyProfile, Array,
// StorageVolume, ProportionalVolume and the control curve family) sealed by
// an unexported method. Evaluation dispatches on the
// variant with a single type switch in Resolver.Eval.
package param

import (
	"fmt"
	"strings"
)

// Source is any parameter-like value: a named parameter definition, an inline
// node attribute binding, or a metric source inside an aggregate.
type Source interface {
	isSource()
}

// Constant is a literal value.
type Constant float64

// Ref refers to another named parameter.
type Ref string

// Aggregated combines its sources with Func. Sources are evaluated in order.
type Aggregated struct {
	Func    AggFunc
	Sources []Source
}

// TimeSeries reads the value at the current timestep index from a provider
// series. Column names the column for every scenario; when ScenarioColumns is
// set it takes precedence and is indexed by scenario index (modulo its length).
type TimeSeries struct {
	Series          string
	Column          string
	ScenarioColumns []string
}

// Negative is the negated value of Source.
type Negative struct {
	Source Source
}

// Max is max(Source, Threshold).
type Max struct {
	Source    Source
	Threshold float64
}

// MonthlyProfile yields Values[month-1] for the month of the timestep date.
type MonthlyProfile struct {
	Values [12]float64
}

// Array yields Values[timestep index].
type Array struct {
	Values []float64
}

// StorageVolume is the current (start of timestep) volume of a storage node.
type StorageVolume struct {
	Node string
}

func (Constant) isSource()       {}
func (Ref) isSource()            {}
func (Aggregated) isSource()     {}
func (TimeSeries) isSource()     {}
func (Negative) isSource()       {}
func (Max) isSource()            {}
func (MonthlyProfile) isSource() {}
func (Array) isSource()          {}
func (StorageVolume) isSource()  {}

// Sum, Product, MinOf, MaxOf and Mean build aggregates.
func Sum(sources ...Source) Aggregated     { return Aggregated{Func: AggSum, Sources: sources} }
func Product(sources ...Source) Aggregated { return Aggregated{Func: AggProduct, Sources: sources} }
func MinOf(sources ...Source) Aggregated   { return Aggregated{Func: AggMin, Sources: sources} }
func MaxOf(sources ...Source) Aggregated   { return Aggregated{Func: AggMax, Sources: sources} }
func Mean(sources ...Source) Aggregated    { return Aggregated{Func: AggMean, Sources: sources} }

// column returns the column to read for the scenario with the given index.
func (t TimeSeries) column(scenario int) string {
	if n := len(t.ScenarioColumns); n > 0 {
		return t.ScenarioColumns[scenario%n]
	}
	return t.Column
}

// Validate checks a source tree for structural errors. References are not
// resolved here; unknown ids surface at resolution time.
func Validate(src Source) error {
	switch s := src.(type) {
	case nil:
		return fmt.Errorf("param: missing source")
	case Constant, MonthlyProfile:
		return nil
	case Ref:
		if s == "" {
			return fmt.Errorf("param: empty reference")
		}
		return nil
	case StorageVolume:
		if s.Node == "" {
			return fmt.Errorf("param: storage volume without node")
		}
		return nil
	case Aggregated:
		if _, err := ParseAggFunc(string(s.Func)); err != nil {
			return err
		}
		if len(s.Sources) == 0 {
			return fmt.Errorf("param: %s aggregate has no sources", s.Func)
		}
		for i, inner := range s.Sources {
			if err := Validate(inner); err != nil {
				return fmt.Errorf("%s source %d: %w", s.Func, i, err)
			}
		}
		return nil
	case TimeSeries:
		if s.Series == "" {
			return fmt.Errorf("param: time series without series name")
		}
		if s.Column == "" && len(s.ScenarioColumns) == 0 {
			return fmt.Errorf("param: time series %q without column", s.Series)
		}
		return nil
	case Negative:
		return Validate(s.Source)
	case Max:
		return Validate(s.Source)
	case Array:
		if len(s.Values) == 0 {
			return fmt.Errorf("param: empty array")
		}
		return nil
	case ProportionalVolume:
		if s.Node == "" {
			return fmt.Errorf("param: proportional volume without node")
		}
		return nil
	case ControlCurveIndex:
		if err := validateCurves(s.Node, s.ControlCurves); err != nil {
			return err
		}
		if len(s.Values) > 0 && len(s.Values) != len(s.ControlCurves)+1 {
			return fmt.Errorf("param: control curve index for %q needs %d values, got %d",
				s.Node, len(s.ControlCurves)+1, len(s.Values))
		}
		return validateValues(s.Values)
	case ControlCurveInterpolated:
		if err := validateCurves(s.Node, s.ControlCurves); err != nil {
			return err
		}
		if len(s.Values) != len(s.ControlCurves)+2 {
			return fmt.Errorf("param: interpolated control curve for %q needs %d values, got %d",
				s.Node, len(s.ControlCurves)+2, len(s.Values))
		}
		return validateValues(s.Values)
	case ControlCurvePiecewiseInterpolated:
		if err := validateCurves(s.Node, s.ControlCurves); err != nil {
			return err
		}
		if len(s.Values) != len(s.ControlCurves)+1 {
			return fmt.Errorf("param: piecewise control curve for %q needs %d value pairs, got %d",
				s.Node, len(s.ControlCurves)+1, len(s.Values))
		}
		if s.Maximum <= s.Minimum {
			return fmt.Errorf("param: piecewise control curve for %q has maximum %g not above minimum %g",
				s.Node, s.Maximum, s.Minimum)
		}
		return nil
	default:
		return fmt.Errorf("param: unsupported source %T", src)
	}
}

// References returns the parameter ids referenced anywhere inside src, in
// first-seen order without duplicates.
func References(src Source) []string {
	var out []string
	seen := make(map[string]bool)
	var walk func(Source)
	walk = func(src Source) {
		switch s := src.(type) {
		case Ref:
			if !seen[string(s)] {
				seen[string(s)] = true
				out = append(out, string(s))
			}
		case Aggregated:
			for _, inner := range s.Sources {
				walk(inner)
			}
		case Negative:
			walk(s.Source)
		case Max:
			walk(s.Source)
		case ControlCurveIndex:
			for _, inner := range s.ControlCurves {
				walk(inner)
			}
			for _, inner := range s.Values {
				walk(inner)
			}
		case ControlCurveInterpolated:
			for _, inner := range s.ControlCurves {
				walk(inner)
			}
			for _, inner := range s.Values {
				walk(inner)
			}
		case ControlCurvePiecewiseInterpolated:
			for _, inner := range s.ControlCurves {
				walk(inner)
			}
		}
	}
	walk(src)
	return out
}

// Describe renders a source compactly for logs and error messages.
func Describe(src Source) string {
	switch s := src.(type) {
	case nil:
		return "<nil>"
	case Constant:
		return fmt.Sprintf("%g", float64(s))
	case Ref:
		return "$" + string(s)
	case Aggregated:
		parts := make([]string, len(s.Sources))
		for i, inner := range s.Sources {
			parts[i] = Describe(inner)
		}
		return fmt.Sprintf("%s(%s)", s.Func, strings.Join(parts, ", "))
	case TimeSeries:
		if len(s.ScenarioColumns) > 0 {
			return fmt.Sprintf("ts(%s[%s])", s.Series, strings.Join(s.ScenarioColumns, "|"))
		}
		return fmt.Sprintf("ts(%s.%s)", s.Series, s.Column)
	case Negative:
		return "-" + Describe(s.Source)
	case Max:
		return fmt.Sprintf("max(%s, %g)", Describe(s.Source), s.Threshold)
	case MonthlyProfile:
		return "monthly_profile"
	case Array:
		return fmt.Sprintf("array[%d]", len(s.Values))
	case StorageVolume:
		return fmt.Sprintf("volume(%s)", s.Node)
	case ProportionalVolume:
		return fmt.Sprintf("proportional_volume(%s)", s.Node)
	case ControlCurveIndex:
		return fmt.Sprintf("control_curve_index(%s, %d curves)", s.Node, len(s.ControlCurves))
	case ControlCurveInterpolated:
		return fmt.Sprintf("control_curve_interpolated(%s, %d curves)", s.Node, len(s.ControlCurves))
	case ControlCurvePiecewiseInterpolated:
		return fmt.Sprintf("control_curve_piecewise(%s, %d curves)", s.Node, len(s.ControlCurves))
	default:
		return fmt.Sprintf("%T", src)
	}
}
