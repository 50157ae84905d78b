package bundle

import (
	"fmt"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hydro-sim/hydro-sim/sim/param"
)

// SourceSpec is a YAML-decoded parameter source.
type SourceSpec struct {
	Source param.Source
}

func (s *SourceSpec) source() param.Source {
	if s == nil {
		return nil
	}
	return s.Source
}

// sourceFields is the mapping form. Which fields apply depends on Type.
type sourceFields struct {
	Type            string        `yaml:"type"`
	Value           float64       `yaml:"value"`
	Name            string        `yaml:"name"`
	Sources         []*SourceSpec `yaml:"sources"`
	Source          *SourceSpec   `yaml:"source"`
	Threshold       float64       `yaml:"threshold"`
	Series          string        `yaml:"series"`
	Column          string        `yaml:"column"`
	ScenarioColumns []string      `yaml:"scenario_columns"`
	Values          yaml.Node     `yaml:"values"` // decoded per type
	Node            string        `yaml:"node"`
	ControlCurves   []*SourceSpec `yaml:"control_curves"`
	Minimum         *float64      `yaml:"minimum"`
	Maximum         *float64      `yaml:"maximum"`
}

// allowedKeys lists the mapping keys accepted per type; node.Decode does not
// honour the decoder's KnownFields setting, so they are checked here.
var allowedKeys = map[string][]string{
	"constant":        {"value"},
	"parameter":       {"name"},
	"sum":             {"sources"},
	"product":         {"sources"},
	"min":             {"sources"},
	"max":             {"sources"},
	"mean":            {"sources"},
	"timeseries":      {"series", "column", "scenario_columns"},
	"negative":        {"source"},
	"threshold":       {"source", "threshold"},
	"monthly_profile": {"values"},
	"array":           {"values"},
	"storage_volume":  {"node"},

	"proportional_volume":                  {"node"},
	"control_curve_index":                  {"node", "control_curves", "values"},
	"control_curve_interpolated":           {"node", "control_curves", "values"},
	"control_curve_piecewise_interpolated": {"node", "control_curves", "values", "minimum", "maximum"},
}

// UnmarshalYAML decodes a number as a constant, a string as a reference and
// a mapping by its type key.
func (s *SourceSpec) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		return s.scalar(node)
	case yaml.MappingNode:
		return s.mapping(node)
	default:
		return fmt.Errorf("line %d: parameter source must be a number, a name or a mapping", node.Line)
	}
}

func (s *SourceSpec) scalar(node *yaml.Node) error {
	switch node.Tag {
	case "!!int", "!!float":
		var v float64
		if err := node.Decode(&v); err != nil {
			return err
		}
		s.Source = param.Constant(v)
		return nil
	case "!!str":
		if node.Value == "" {
			return fmt.Errorf("line %d: empty parameter reference", node.Line)
		}
		s.Source = param.Ref(node.Value)
		return nil
	default:
		return fmt.Errorf("line %d: unexpected %s value %q for parameter source", node.Line, node.Tag, node.Value)
	}
}

func (s *SourceSpec) mapping(node *yaml.Node) error {
	var f sourceFields
	if err := node.Decode(&f); err != nil {
		return err
	}
	keys, ok := allowedKeys[f.Type]
	if !ok {
		return fmt.Errorf("line %d: unknown parameter type %q", node.Line, f.Type)
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		if key != "type" && !slices.Contains(keys, key) {
			return fmt.Errorf("line %d: field %s not valid for %s parameter; valid: %s",
				node.Content[i].Line, key, f.Type, strings.Join(keys, ", "))
		}
	}

	switch f.Type {
	case "constant":
		s.Source = param.Constant(f.Value)
	case "parameter":
		s.Source = param.Ref(f.Name)
	case "sum", "product", "min", "max", "mean":
		s.Source = param.Aggregated{Func: param.AggFunc(f.Type), Sources: sources(f.Sources)}
	case "timeseries":
		s.Source = param.TimeSeries{Series: f.Series, Column: f.Column, ScenarioColumns: f.ScenarioColumns}
	case "negative":
		s.Source = param.Negative{Source: f.Source.source()}
	case "threshold":
		s.Source = param.Max{Source: f.Source.source(), Threshold: f.Threshold}
	case "monthly_profile":
		var values []float64
		if err := decodeValues(&f.Values, &values); err != nil {
			return err
		}
		if len(values) != 12 {
			return fmt.Errorf("line %d: monthly profile needs 12 values, got %d", node.Line, len(values))
		}
		var p param.MonthlyProfile
		copy(p.Values[:], values)
		s.Source = p
	case "array":
		var values []float64
		if err := decodeValues(&f.Values, &values); err != nil {
			return err
		}
		s.Source = param.Array{Values: values}
	case "storage_volume":
		s.Source = param.StorageVolume{Node: f.Node}
	case "proportional_volume":
		s.Source = param.ProportionalVolume{Node: f.Node}
	case "control_curve_index", "control_curve_interpolated":
		var values []*SourceSpec
		if err := decodeValues(&f.Values, &values); err != nil {
			return err
		}
		curves, vals := sources(f.ControlCurves), sources(values)
		if f.Type == "control_curve_index" {
			s.Source = param.ControlCurveIndex{Node: f.Node, ControlCurves: curves, Values: vals}
		} else {
			s.Source = param.ControlCurveInterpolated{Node: f.Node, ControlCurves: curves, Values: vals}
		}
	case "control_curve_piecewise_interpolated":
		var values [][2]float64
		if err := decodeValues(&f.Values, &values); err != nil {
			return err
		}
		p := param.ControlCurvePiecewiseInterpolated{
			Node:          f.Node,
			ControlCurves: sources(f.ControlCurves),
			Values:        values,
			Maximum:       1,
		}
		if f.Minimum != nil {
			p.Minimum = *f.Minimum
		}
		if f.Maximum != nil {
			p.Maximum = *f.Maximum
		}
		s.Source = p
	}
	return param.Validate(s.Source)
}

// decodeValues decodes the values field into out; an absent field leaves out
// empty.
func decodeValues(n *yaml.Node, out any) error {
	if n.Kind == 0 {
		return nil
	}
	if err := n.Decode(out); err != nil {
		return fmt.Errorf("line %d: values: %w", n.Line, err)
	}
	return nil
}

func sources(specs []*SourceSpec) []param.Source {
	if len(specs) == 0 {
		return nil
	}
	out := make([]param.Source, len(specs))
	for i, spec := range specs {
		out[i] = spec.source()
	}
	return out
}
