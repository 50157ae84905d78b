package param

import (
	"fmt"
	"math"
)

// AggFunc names the function an Aggregated parameter applies to its sources.
type AggFunc string

const (
	AggSum     AggFunc = "sum"
	AggProduct AggFunc = "product"
	AggMin     AggFunc = "min"
	AggMax     AggFunc = "max"
	AggMean    AggFunc = "mean"
)

// ParseAggFunc returns the AggFunc for a name.
func ParseAggFunc(name string) (AggFunc, error) {
	switch f := AggFunc(name); f {
	case AggSum, AggProduct, AggMin, AggMax, AggMean:
		return f, nil
	default:
		return "", fmt.Errorf("param: unknown aggregation function %q", name)
	}
}

// Apply evaluates the function over values, which must be non-empty.
func (f AggFunc) Apply(values []float64) (float64, error) {
	if len(values) == 0 {
		return 0, fmt.Errorf("param: %s over no values", f)
	}
	switch f {
	case AggSum:
		total := 0.0
		for _, v := range values {
			total += v
		}
		return total, nil
	case AggProduct:
		total := 1.0
		for _, v := range values {
			total *= v
		}
		return total, nil
	case AggMin:
		m := math.Inf(1)
		for _, v := range values {
			m = math.Min(m, v)
		}
		return m, nil
	case AggMax:
		m := math.Inf(-1)
		for _, v := range values {
			m = math.Max(m, v)
		}
		return m, nil
	case AggMean:
		total := 0.0
		for _, v := range values {
			total += v
		}
		return total / float64(len(values)), nil
	default:
		return 0, fmt.Errorf("param: unknown aggregation function %q", string(f))
	}
}
