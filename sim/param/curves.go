package param

import (
	"fmt"
	"math"
)

// ProportionalVolume is the start-of-timestep volume of a storage node as a
// fraction of its max volume, clamped to [0, 1]. The max volume is the one in
// force at the start of the timestep (the previous step's resolved value).
type ProportionalVolume struct {
	Node string
}

// ControlCurveIndex compares the proportional volume of Node against control
// curves given from the top down. The band index is the first curve the
// volume is at or above, or len(ControlCurves) below all of them. Without
// Values the index itself is the value; otherwise Values[index], which needs
// one more entry than there are curves.
type ControlCurveIndex struct {
	Node          string
	ControlCurves []Source
	Values        []Source
}

// ControlCurveInterpolated interpolates linearly in the proportional volume of
// Node. Values holds len(ControlCurves)+2 entries: the value at full, at each
// curve in order, and at empty.
type ControlCurveInterpolated struct {
	Node          string
	ControlCurves []Source
	Values        []Source
}

// ControlCurvePiecewiseInterpolated interpolates within each band between
// Maximum, the control curves and Minimum. Values[i] is the (upper, lower)
// value pair of band i, so there is one pair more than there are curves.
type ControlCurvePiecewiseInterpolated struct {
	Node          string
	ControlCurves []Source
	Values        [][2]float64
	Minimum       float64
	Maximum       float64
}

func (ProportionalVolume) isSource()                {}
func (ControlCurveIndex) isSource()                 {}
func (ControlCurveInterpolated) isSource()          {}
func (ControlCurvePiecewiseInterpolated) isSource() {}

func validateCurves(node string, curves []Source) error {
	if node == "" {
		return fmt.Errorf("param: control curve without storage node")
	}
	if len(curves) == 0 {
		return fmt.Errorf("param: control curve parameter for %q has no curves", node)
	}
	for i, c := range curves {
		if err := Validate(c); err != nil {
			return fmt.Errorf("control curve %d: %w", i, err)
		}
	}
	return nil
}

func validateValues(values []Source) error {
	for i, v := range values {
		if err := Validate(v); err != nil {
			return fmt.Errorf("value %d: %w", i, err)
		}
	}
	return nil
}

// proportionalVolume reads the current fraction full of node.
func (r *Resolver) proportionalVolume(node string) (float64, error) {
	if r.state == nil {
		return 0, fmt.Errorf("param: no scenario state for volume of %q", node)
	}
	v, ok := r.state.Volume(node)
	if !ok {
		return 0, fmt.Errorf("param: %q is not a storage node", node)
	}
	maxVol, _ := r.state.MaxVolume(node)
	if math.IsInf(maxVol, 0) || maxVol <= 0 {
		return 0, fmt.Errorf("param: proportional volume of %q needs a finite positive max volume, got %g", node, maxVol)
	}
	return math.Min(1, math.Max(0, v/maxVol)), nil
}

func (r *Resolver) evalAll(srcs []Source) ([]float64, error) {
	out := make([]float64, len(srcs))
	for i, src := range srcs {
		v, err := r.Eval(src)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// band returns the index of the first curve x is at or above.
func band(x float64, curves []float64) int {
	for i, c := range curves {
		if x >= c {
			return i
		}
	}
	return len(curves)
}

// interpolate maps x in [lower, upper] linearly onto [lowerValue, upperValue].
func interpolate(x, lower, upper, lowerValue, upperValue float64) float64 {
	if upper <= lower {
		return upperValue
	}
	x = math.Min(upper, math.Max(lower, x))
	return lowerValue + (upperValue-lowerValue)*(x-lower)/(upper-lower)
}

// bounds returns the band limits of index i for curves between top and
// bottom.
func bounds(i int, curves []float64, top, bottom float64) (lower, upper float64) {
	upper, lower = top, bottom
	if i > 0 {
		upper = curves[i-1]
	}
	if i < len(curves) {
		lower = curves[i]
	}
	return lower, upper
}

func (r *Resolver) evalCurveIndex(s ControlCurveIndex) (float64, error) {
	x, err := r.proportionalVolume(s.Node)
	if err != nil {
		return 0, err
	}
	curves, err := r.evalAll(s.ControlCurves)
	if err != nil {
		return 0, err
	}
	i := band(x, curves)
	if len(s.Values) == 0 {
		return float64(i), nil
	}
	return r.Eval(s.Values[i])
}

func (r *Resolver) evalCurveInterpolated(s ControlCurveInterpolated) (float64, error) {
	x, err := r.proportionalVolume(s.Node)
	if err != nil {
		return 0, err
	}
	curves, err := r.evalAll(s.ControlCurves)
	if err != nil {
		return 0, err
	}
	values, err := r.evalAll(s.Values)
	if err != nil {
		return 0, err
	}
	i := band(x, curves)
	lower, upper := bounds(i, curves, 1, 0)
	return interpolate(x, lower, upper, values[i+1], values[i]), nil
}

func (r *Resolver) evalCurvePiecewise(s ControlCurvePiecewiseInterpolated) (float64, error) {
	x, err := r.proportionalVolume(s.Node)
	if err != nil {
		return 0, err
	}
	curves, err := r.evalAll(s.ControlCurves)
	if err != nil {
		return 0, err
	}
	i := band(x, curves)
	lower, upper := bounds(i, curves, s.Maximum, s.Minimum)
	return interpolate(x, lower, upper, s.Values[i][1], s.Values[i][0]), nil
}
