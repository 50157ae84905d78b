package ipm

import (
	"errors"
	"fmt"
	"math"

	"github.com/hydro-sim/hydro-sim/sim/lp"
)

// ErrNotPositiveDefinite is returned when the normal equations cannot be
// factorised even after regularisation.
var ErrNotPositiveDefinite = errors.New("ipm: normal equations not positive definite")

// Kernel performs the numeric work of one interior-point iteration. All
// kernels compute the same quantities; they differ in how the work is spread
// over lanes and goroutines.
type Kernel interface {
	Name() string
	// MulVec sets dst = A·x.
	MulVec(dst []float64, a *lp.Matrix, x []float64)
	// MulTransVec sets dst = A'·y, given at = A'.
	MulTransVec(dst []float64, at *lp.Matrix, y []float64)
	Dot(x, y []float64) float64
	// Factorize factorises A·diag(d)·A' + reg·I, given at = A'.
	Factorize(at *lp.Matrix, d []float64, reg float64) (Factor, error)
}

// Factor solves with a factorised normal matrix.
type Factor interface {
	Solve(dst, rhs []float64)
}

const (
	regGrowth  = 100
	regRetries = 8
)

// factorize factorises the normal equations starting from reg and
// escalating the regularisation on failure. It returns the factor and the
// regularisation that succeeded.
func factorize(k Kernel, at *lp.Matrix, d []float64, reg float64) (Factor, float64, error) {
	var lastErr error
	for try := 0; try <= regRetries; try++ {
		f, err := k.Factorize(at, d, reg)
		if err == nil {
			return f, reg, nil
		}
		lastErr = err
		reg *= regGrowth
	}
	return nil, reg, fmt.Errorf("%w (last regularisation %g): %v", ErrNotPositiveDefinite, reg/regGrowth, lastErr)
}

// normalInto accumulates A·diag(d)·A' + reg·I into the row-major m x m
// buffer dst (lower triangle only) from the columns of A, i.e. the rows of at.
func normalInto(dst []float64, m int, at *lp.Matrix, d []float64, reg float64) {
	clear(dst)
	n, _ := at.Dims()
	for k := 0; k < n; k++ {
		rows, vals := at.Row(k)
		dk := d[k]
		for p, i := range rows {
			vi := dk * vals[p]
			row := dst[i*m:]
			for q := 0; q <= p; q++ {
				// rows is increasing, so rows[q] <= i.
				row[rows[q]] += vi * vals[q]
			}
		}
	}
	for i := 0; i < m; i++ {
		dst[i*m+i] += reg
	}
}

// dotFunc is a dot product over equal-length slices.
type dotFunc func(x, y []float64) float64

// forFunc runs body(i) for every i in [lo, hi).
type forFunc func(lo, hi int, body func(i int))

func serialFor(lo, hi int, body func(i int)) {
	for i := lo; i < hi; i++ {
		body(i)
	}
}

// choleskyInPlace overwrites the lower triangle of the row-major m x m
// matrix a with its Cholesky factor L (a = L·L'). Rows below the pivot are
// updated through pfor; dot supplies the inner products of row prefixes.
func choleskyInPlace(a []float64, m int, dot dotFunc, pfor forFunc) error {
	for j := 0; j < m; j++ {
		rj := a[j*m : j*m+j]
		piv := a[j*m+j] - dot(rj, rj)
		if !(piv > 0) || math.IsInf(piv, 0) {
			return fmt.Errorf("pivot %d is %g", j, piv)
		}
		ljj := math.Sqrt(piv)
		a[j*m+j] = ljj
		pfor(j+1, m, func(i int) {
			ri := a[i*m : i*m+j]
			a[i*m+j] = (a[i*m+j] - dot(ri, rj)) / ljj
		})
	}
	return nil
}

// denseFactor is a Cholesky factor held in a row-major lower triangle.
type denseFactor struct {
	l   []float64
	m   int
	dot dotFunc
}

// Solve solves L·L'·x = rhs by forward and backward substitution.
func (f *denseFactor) Solve(dst, rhs []float64) {
	m, l := f.m, f.l
	copy(dst, rhs)
	for i := 0; i < m; i++ {
		dst[i] = (dst[i] - f.dot(l[i*m:i*m+i], dst[:i])) / l[i*m+i]
	}
	for i := m - 1; i >= 0; i-- {
		s := dst[i]
		for k := i + 1; k < m; k++ {
			s -= l[k*m+i] * dst[k]
		}
		dst[i] = s / l[i*m+i]
	}
}

func plainDot(x, y []float64) float64 {
	s := 0.0
	for i, v := range x {
		s += v * y[i]
	}
	return s
}
