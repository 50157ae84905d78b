// Package lp compiles a network timestep into a linear program and converts
// it into the standard form consumed by the solver backends.
//
// An Instance uses the bounded row/column layout
//
//	minimize    ColCost·x + Offset
//	subject to  RowLower <= A·x <= RowUpper
//	            ColLower <= x   <= ColUpper
//
// with A stored in compressed sparse row form. Standardize turns it into
// min c'y, Ay = b, y >= 0.
package lp

import (
	"fmt"
	"hash/fnv"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// Nonzero is one (row, column, value) matrix entry.
type Nonzero struct {
	Row int
	Col int
	Val float64
}

// Matrix is a sparse matrix in compressed sparse row form. Column indices are
// strictly increasing within a row and no stored value is zero.
type Matrix struct {
	rows, cols int
	RowPtr     []int
	ColIdx     []int
	Val        []float64
}

// NewMatrix builds a rows x cols matrix from triplets. Duplicate entries are
// summed and entries that sum to zero are dropped.
func NewMatrix(rows, cols int, entries []Nonzero) (*Matrix, error) {
	sorted := make([]Nonzero, len(entries))
	copy(sorted, entries)
	for _, e := range sorted {
		if e.Row < 0 || e.Row >= rows || e.Col < 0 || e.Col >= cols {
			return nil, fmt.Errorf("lp: entry (%d,%d) outside %dx%d matrix", e.Row, e.Col, rows, cols)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Row != sorted[j].Row {
			return sorted[i].Row < sorted[j].Row
		}
		return sorted[i].Col < sorted[j].Col
	})
	m := &Matrix{rows: rows, cols: cols, RowPtr: make([]int, rows+1)}
	for k := 0; k < len(sorted); {
		e := sorted[k]
		v := e.Val
		k++
		for k < len(sorted) && sorted[k].Row == e.Row && sorted[k].Col == e.Col {
			v += sorted[k].Val
			k++
		}
		if v == 0 {
			continue
		}
		m.ColIdx = append(m.ColIdx, e.Col)
		m.Val = append(m.Val, v)
		m.RowPtr[e.Row+1]++
	}
	for i := 0; i < rows; i++ {
		m.RowPtr[i+1] += m.RowPtr[i]
	}
	return m, nil
}

// Dims returns the number of rows and columns.
func (m *Matrix) Dims() (int, int) { return m.rows, m.cols }

// NNZ returns the number of stored entries.
func (m *Matrix) NNZ() int { return len(m.Val) }

// Row returns the column indices and values of row i. The slices alias the
// matrix storage.
func (m *Matrix) Row(i int) ([]int, []float64) {
	lo, hi := m.RowPtr[i], m.RowPtr[i+1]
	return m.ColIdx[lo:hi], m.Val[lo:hi]
}

// At returns the entry at (i, j).
func (m *Matrix) At(i, j int) float64 {
	cols, vals := m.Row(i)
	k := sort.SearchInts(cols, j)
	if k < len(cols) && cols[k] == j {
		return vals[k]
	}
	return 0
}

// MulVec sets dst = A·x.
func (m *Matrix) MulVec(dst, x []float64) {
	if len(dst) != m.rows || len(x) != m.cols {
		panic("lp: MulVec dimension mismatch")
	}
	for i := 0; i < m.rows; i++ {
		s := 0.0
		for k := m.RowPtr[i]; k < m.RowPtr[i+1]; k++ {
			s += m.Val[k] * x[m.ColIdx[k]]
		}
		dst[i] = s
	}
}

// MulTransVec sets dst = A'·y.
func (m *Matrix) MulTransVec(dst, y []float64) {
	if len(dst) != m.cols || len(y) != m.rows {
		panic("lp: MulTransVec dimension mismatch")
	}
	clear(dst)
	for i := 0; i < m.rows; i++ {
		yi := y[i]
		if yi == 0 {
			continue
		}
		for k := m.RowPtr[i]; k < m.RowPtr[i+1]; k++ {
			dst[m.ColIdx[k]] += m.Val[k] * yi
		}
	}
}

// Transpose returns A' in the same compressed form, i.e. A by columns.
func (m *Matrix) Transpose() *Matrix {
	t := &Matrix{
		rows:   m.cols,
		cols:   m.rows,
		RowPtr: make([]int, m.cols+1),
		ColIdx: make([]int, len(m.ColIdx)),
		Val:    make([]float64, len(m.Val)),
	}
	for _, j := range m.ColIdx {
		t.RowPtr[j+1]++
	}
	for j := 0; j < m.cols; j++ {
		t.RowPtr[j+1] += t.RowPtr[j]
	}
	next := append([]int(nil), t.RowPtr[:m.cols]...)
	for i := 0; i < m.rows; i++ {
		for k := m.RowPtr[i]; k < m.RowPtr[i+1]; k++ {
			j := m.ColIdx[k]
			t.ColIdx[next[j]] = i
			t.Val[next[j]] = m.Val[k]
			next[j]++
		}
	}
	return t
}

// Dense returns A as a gonum dense matrix, or nil when A has no rows or no
// columns.
func (m *Matrix) Dense() *mat.Dense {
	if m.rows == 0 || m.cols == 0 {
		return nil
	}
	d := mat.NewDense(m.rows, m.cols, nil)
	for i := 0; i < m.rows; i++ {
		for k := m.RowPtr[i]; k < m.RowPtr[i+1]; k++ {
			d.Set(i, m.ColIdx[k], m.Val[k])
		}
	}
	return d
}

// Pattern returns a fingerprint of the dimensions and sparsity pattern.
// Matrices with equal patterns differ only in their values.
func (m *Matrix) Pattern() string {
	h := fnv.New64a()
	var buf [8]byte
	put := func(v int) {
		u := uint64(v)
		for i := range buf {
			buf[i] = byte(u >> (8 * i))
		}
		h.Write(buf[:])
	}
	put(m.rows)
	put(m.cols)
	for _, p := range m.RowPtr {
		put(p)
	}
	for _, c := range m.ColIdx {
		put(c)
	}
	return fmt.Sprintf("%dx%d/%d/%016x", m.rows, m.cols, len(m.Val), h.Sum64())
}

// WithValues returns a matrix with the pattern of m and the given values,
// which must be ordered like m.Val. The pattern slices are shared.
func (m *Matrix) WithValues(val []float64) *Matrix {
	if len(val) != len(m.Val) {
		panic(fmt.Sprintf("lp: WithValues got %d values for %d entries", len(val), len(m.Val)))
	}
	return &Matrix{rows: m.rows, cols: m.cols, RowPtr: m.RowPtr, ColIdx: m.ColIdx, Val: val}
}
