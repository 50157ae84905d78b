package lp

import (
	"fmt"
	"math"
)

// Instance is one linear program in bounded row/column form.
type Instance struct {
	ColCost  []float64
	ColLower []float64
	ColUpper []float64
	RowLower []float64
	RowUpper []float64
	A        *Matrix
	Offset   float64
}

// NumCols returns the number of variables.
func (p *Instance) NumCols() int { return len(p.ColCost) }

// NumRows returns the number of constraint rows.
func (p *Instance) NumRows() int { return len(p.RowLower) }

// Check verifies that the vectors agree with the matrix dimensions and hold
// no NaN.
func (p *Instance) Check() error {
	n, m := len(p.ColCost), len(p.RowLower)
	if len(p.ColLower) != n || len(p.ColUpper) != n {
		return fmt.Errorf("lp: %d costs but %d/%d column bounds", n, len(p.ColLower), len(p.ColUpper))
	}
	if len(p.RowUpper) != m {
		return fmt.Errorf("lp: %d row lower bounds but %d upper", m, len(p.RowUpper))
	}
	if p.A == nil {
		return fmt.Errorf("lp: missing constraint matrix")
	}
	if r, c := p.A.Dims(); r != m || c != n {
		return fmt.Errorf("lp: matrix is %dx%d, want %dx%d", r, c, m, n)
	}
	for _, vec := range [][]float64{p.ColCost, p.ColLower, p.ColUpper, p.RowLower, p.RowUpper, p.A.Val} {
		for _, v := range vec {
			if math.IsNaN(v) {
				return fmt.Errorf("lp: NaN in problem data")
			}
		}
	}
	return nil
}

// Objective returns ColCost·x + Offset.
func (p *Instance) Objective(x []float64) float64 {
	obj := p.Offset
	for j, c := range p.ColCost {
		obj += c * x[j]
	}
	return obj
}

// Violation returns the largest absolute bound or row violation of x.
func (p *Instance) Violation(x []float64) float64 {
	worst := 0.0
	for j, v := range x {
		worst = math.Max(worst, p.ColLower[j]-v)
		worst = math.Max(worst, v-p.ColUpper[j])
	}
	ax := make([]float64, p.NumRows())
	p.A.MulVec(ax, x)
	for i, v := range ax {
		worst = math.Max(worst, p.RowLower[i]-v)
		worst = math.Max(worst, v-p.RowUpper[i])
	}
	return worst
}

// Builder assembles an Instance column by column and row by row.
type Builder struct {
	p       Instance
	entries []Nonzero
}

// AddCol appends a variable and returns its index.
func (b *Builder) AddCol(cost, lower, upper float64) int {
	b.p.ColCost = append(b.p.ColCost, cost)
	b.p.ColLower = append(b.p.ColLower, lower)
	b.p.ColUpper = append(b.p.ColUpper, upper)
	return len(b.p.ColCost) - 1
}

// AddRow appends the constraint lower <= sum(vals[k]*x[cols[k]]) <= upper and
// returns its index. Repeated columns are summed. Columns must already exist.
func (b *Builder) AddRow(lower float64, cols []int, vals []float64, upper float64) int {
	if len(cols) != len(vals) {
		panic("lp: AddRow with mismatched cols and vals")
	}
	row := len(b.p.RowLower)
	b.p.RowLower = append(b.p.RowLower, lower)
	b.p.RowUpper = append(b.p.RowUpper, upper)
	for k, col := range cols {
		if col < 0 || col >= len(b.p.ColCost) {
			panic(fmt.Sprintf("lp: AddRow references column %d of %d", col, len(b.p.ColCost)))
		}
		b.entries = append(b.entries, Nonzero{Row: row, Col: col, Val: vals[k]})
	}
	return row
}

// Tighten intersects the bounds of column j with [lower, upper].
func (b *Builder) Tighten(j int, lower, upper float64) {
	b.p.ColLower[j] = math.Max(b.p.ColLower[j], lower)
	b.p.ColUpper[j] = math.Min(b.p.ColUpper[j], upper)
}

// AddCost adds c to the cost of column j.
func (b *Builder) AddCost(j int, c float64) {
	b.p.ColCost[j] += c
}

// Build returns the assembled instance.
func (b *Builder) Build() *Instance {
	a, err := NewMatrix(len(b.p.RowLower), len(b.p.ColCost), b.entries)
	if err != nil {
		// AddRow only accepts existing columns.
		panic(err)
	}
	p := b.p
	p.A = a
	return &p
}
