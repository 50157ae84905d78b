package ipm

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/hydro-sim/hydro-sim/sim/lp"
)

// Scalar is the single-lane kernel: straight loops over the sparse rows and
// gonum's dense Cholesky for the normal equations.
type Scalar struct{}

func (Scalar) Name() string { return "scalar" }

func (Scalar) MulVec(dst []float64, a *lp.Matrix, x []float64) { a.MulVec(dst, x) }

func (Scalar) MulTransVec(dst []float64, at *lp.Matrix, y []float64) { at.MulVec(dst, y) }

func (Scalar) Dot(x, y []float64) float64 { return plainDot(x, y) }

func (Scalar) Factorize(at *lp.Matrix, d []float64, reg float64) (Factor, error) {
	_, m := at.Dims()
	if m == 0 {
		return &denseFactor{dot: plainDot}, nil
	}
	buf := make([]float64, m*m)
	normalInto(buf, m, at, d, reg)
	sym := mat.NewSymDense(m, nil)
	for i := 0; i < m; i++ {
		for j := 0; j <= i; j++ {
			sym.SetSym(i, j, buf[i*m+j])
		}
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(sym); !ok {
		return nil, fmt.Errorf("cholesky of %dx%d normal matrix failed", m, m)
	}
	return &cholFactor{chol: &chol, m: m}, nil
}

type cholFactor struct {
	chol *mat.Cholesky
	m    int
}

func (f *cholFactor) Solve(dst, rhs []float64) {
	var x mat.VecDense
	if err := f.chol.SolveVecTo(&x, mat.NewVecDense(f.m, rhs)); err != nil {
		// A condition-number warning; the solution is still usable and the
		// outer iteration corrects the residual.
		if _, ok := err.(mat.Condition); !ok {
			panic(err)
		}
	}
	for i := range dst {
		dst[i] = x.AtVec(i)
	}
}
