package lp

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/hydro-sim/hydro-sim/sim"
)

// presolveTol is the relative tolerance used when comparing bounds during
// presolve.
const presolveTol = 1e-9

// Standard is an Instance in the standard form
//
//	minimize c'y + Offset  subject to  Ay = b, y >= 0
//
// with A of full row rank, no empty rows or columns and b >= 0. The first
// Kept() columns are the surviving original variables shifted by their lower
// bounds; the rest are slacks.
type Standard struct {
	A      *Matrix
	B      []float64
	C      []float64
	Offset float64

	// Presolve statistics.
	FixedCols     int
	RedundantRows int
	DependentRows int

	fixed []float64 // value of each original column removed by presolve, NaN if kept
	keep  []int     // original column of kept column k
	shift []float64 // lower bound subtracted from kept column k
}

// Rows returns the number of equality rows.
func (s *Standard) Rows() int { return len(s.B) }

// Cols returns the number of standard-form variables.
func (s *Standard) Cols() int { return len(s.C) }

// Kept returns the number of original variables that survived presolve.
func (s *Standard) Kept() int { return len(s.keep) }

// Shape fingerprints the dimensions and sparsity pattern. Problems with equal
// shapes can share one batched solve.
func (s *Standard) Shape() string { return s.A.Pattern() }

// Objective returns c'y + Offset.
func (s *Standard) Objective(y []float64) float64 {
	if len(y) == 0 {
		return s.Offset
	}
	return floats.Dot(s.C, y) + s.Offset
}

// Recover maps a standard-form point back onto the original columns.
func (s *Standard) Recover(y []float64) []float64 {
	x := make([]float64, len(s.fixed))
	copy(x, s.fixed)
	for k, j := range s.keep {
		x[j] = y[k] + s.shift[k]
	}
	return x
}

type stdRow struct {
	cols []int
	vals []float64
	b    float64
	// private rows own a column no other row touches and can never be
	// linearly dependent on the others.
	private bool
}

// Standardize presolves p and converts it to standard form. It reports
// sim.ErrInfeasible when bounds or row activities are contradictory and
// sim.ErrUnbounded when a variable can decrease the objective without limit.
// Every column must have a finite lower bound.
func Standardize(p *Instance) (*Standard, error) {
	if err := p.Check(); err != nil {
		return nil, err
	}
	n, m := p.NumCols(), p.NumRows()
	lo := append([]float64(nil), p.ColLower...)
	hi := append([]float64(nil), p.ColUpper...)
	s := &Standard{fixed: make([]float64, n)}

	for j := 0; j < n; j++ {
		s.fixed[j] = math.NaN()
		switch {
		case math.IsInf(lo[j], -1):
			return nil, fmt.Errorf("lp: column %d has no finite lower bound", j)
		case lo[j] > hi[j]+tolerance(lo[j], hi[j]):
			return nil, fmt.Errorf("lp: %w: column %d bounds [%g, %g] cross", sim.ErrInfeasible, j, lo[j], hi[j])
		case math.IsInf(lo[j], 1):
			return nil, fmt.Errorf("lp: %w: column %d lower bound is +Inf", sim.ErrInfeasible, j)
		case hi[j]-lo[j] <= tolerance(lo[j], hi[j]):
			s.fixed[j] = lo[j]
			s.FixedCols++
		}
	}

	// Move fixed columns into the row bounds, then classify each row by the
	// activity range its free columns allow.
	rlo := append([]float64(nil), p.RowLower...)
	rhi := append([]float64(nil), p.RowUpper...)
	keepRow := make([]bool, m)
	for i := 0; i < m; i++ {
		cols, vals := p.A.Row(i)
		minAct, maxAct := 0.0, 0.0
		for k, j := range cols {
			a := vals[k]
			if v := s.fixed[j]; !math.IsNaN(v) {
				rlo[i] -= a * v
				rhi[i] -= a * v
				continue
			}
			if a > 0 {
				minAct += a * lo[j]
				maxAct += a * hi[j]
			} else {
				minAct += a * hi[j]
				maxAct += a * lo[j]
			}
		}
		tol := tolerance(rlo[i], rhi[i])
		switch {
		case rlo[i] > rhi[i]+tol:
			return nil, fmt.Errorf("lp: %w: row %d bounds [%g, %g] cross", sim.ErrInfeasible, i, rlo[i], rhi[i])
		case minAct > rhi[i]+tol || maxAct < rlo[i]-tol:
			return nil, fmt.Errorf("lp: %w: row %d activity [%g, %g] cannot meet [%g, %g]",
				sim.ErrInfeasible, i, minAct, maxAct, rlo[i], rhi[i])
		case minAct >= rlo[i]-tol && maxAct <= rhi[i]+tol:
			s.RedundantRows++
		default:
			keepRow[i] = true
		}
	}

	// Columns left without a row only move the objective.
	count := make([]int, n)
	for i := 0; i < m; i++ {
		if !keepRow[i] {
			continue
		}
		cols, _ := p.A.Row(i)
		for _, j := range cols {
			count[j]++
		}
	}
	for j := 0; j < n; j++ {
		if !math.IsNaN(s.fixed[j]) || count[j] > 0 {
			continue
		}
		switch c := p.ColCost[j]; {
		case c >= 0:
			s.fixed[j] = lo[j]
		case !math.IsInf(hi[j], 1):
			s.fixed[j] = hi[j]
		default:
			return nil, fmt.Errorf("lp: %w: column %d has cost %g and no upper bound", sim.ErrUnbounded, j, c)
		}
		s.FixedCols++
	}

	s.Offset = p.Offset
	colMap := make([]int, n)
	for j := 0; j < n; j++ {
		if v := s.fixed[j]; !math.IsNaN(v) {
			s.Offset += p.ColCost[j] * v
			colMap[j] = -1
			continue
		}
		colMap[j] = len(s.keep)
		s.keep = append(s.keep, j)
		s.shift = append(s.shift, lo[j])
		s.Offset += p.ColCost[j] * lo[j]
	}
	nvar := len(s.keep)
	newVar := func() int {
		nvar++
		return nvar - 1
	}

	var rows []stdRow
	for i := 0; i < m; i++ {
		if !keepRow[i] {
			continue
		}
		cols, vals := p.A.Row(i)
		r := stdRow{}
		for k, j := range cols {
			if colMap[j] < 0 {
				continue
			}
			r.cols = append(r.cols, colMap[j])
			r.vals = append(r.vals, vals[k])
			rlo[i] -= vals[k] * lo[j]
			rhi[i] -= vals[k] * lo[j]
		}
		loInf, hiInf := math.IsInf(rlo[i], -1), math.IsInf(rhi[i], 1)
		switch {
		case !loInf && !hiInf && rhi[i]-rlo[i] <= tolerance(rlo[i], rhi[i]):
			r.b = rlo[i]
			rows = append(rows, r)
		case !loInf && hiInf:
			r.cols, r.vals = append(r.cols, newVar()), append(r.vals, -1)
			r.b, r.private = rlo[i], true
			rows = append(rows, r)
		case loInf && !hiInf:
			r.cols, r.vals = append(r.cols, newVar()), append(r.vals, 1)
			r.b, r.private = rhi[i], true
			rows = append(rows, r)
		default:
			t := newVar()
			r.cols, r.vals = append(r.cols, t), append(r.vals, -1)
			r.b, r.private = rlo[i], true
			rows = append(rows, r,
				stdRow{cols: []int{t, newVar()}, vals: []float64{1, 1}, b: rhi[i] - rlo[i], private: true})
		}
	}
	for k, j := range s.keep {
		if math.IsInf(hi[j], 1) {
			continue
		}
		rows = append(rows, stdRow{cols: []int{k, newVar()}, vals: []float64{1, 1}, b: hi[j] - lo[j], private: true})
	}

	rows, dropped, err := dropDependent(rows, nvar)
	if err != nil {
		return nil, err
	}
	s.DependentRows = dropped

	s.C = make([]float64, nvar)
	for k, j := range s.keep {
		s.C[k] = p.ColCost[j]
	}
	s.B = make([]float64, len(rows))
	var entries []Nonzero
	for i, r := range rows {
		sign := 1.0
		if r.b < 0 {
			sign = -1
		}
		s.B[i] = sign * r.b
		for k, c := range r.cols {
			entries = append(entries, Nonzero{Row: i, Col: c, Val: sign * r.vals[k]})
		}
	}
	a, err := NewMatrix(len(rows), nvar, entries)
	if err != nil {
		return nil, err
	}
	s.A = a
	return s, nil
}

// dropDependent removes rows that are linear combinations of earlier rows
// using modified Gram-Schmidt over the non-private rows. A dependent row
// whose right-hand side disagrees with the combination makes the system
// inconsistent.
func dropDependent(rows []stdRow, ncols int) ([]stdRow, int, error) {
	var basis [][]float64
	var basisB []float64
	out := rows[:0]
	dropped := 0
	v := make([]float64, ncols)
	for i, r := range rows {
		if r.private {
			out = append(out, r)
			continue
		}
		clear(v)
		for k, c := range r.cols {
			v[c] += r.vals[k]
		}
		norm0 := floats.Norm(v, 2)
		b := r.b
		for q, qv := range basis {
			d := floats.Dot(qv, v)
			floats.AddScaled(v, -d, qv)
			b -= d * basisB[q]
		}
		norm := floats.Norm(v, 2)
		if norm <= 1e-10*norm0 {
			if math.Abs(b) > presolveTol*1e3*(1+math.Abs(r.b)) {
				return nil, 0, fmt.Errorf("lp: %w: equality row %d contradicts earlier rows", sim.ErrInfeasible, i)
			}
			dropped++
			continue
		}
		q := make([]float64, ncols)
		floats.ScaleTo(q, 1/norm, v)
		basis = append(basis, q)
		basisB = append(basisB, b/norm)
		out = append(out, r)
	}
	return out, dropped, nil
}

// tolerance scales presolveTol by the finite magnitudes of a bound pair.
func tolerance(lo, hi float64) float64 {
	scale := 0.0
	if !math.IsInf(lo, 0) {
		scale = math.Abs(lo)
	}
	if !math.IsInf(hi, 0) {
		scale = math.Max(scale, math.Abs(hi))
	}
	return presolveTol * (1 + scale)
}
