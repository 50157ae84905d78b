package ipm

import (
	"sync"

	"github.com/hydro-sim/hydro-sim/sim/lp"
)

// laneWidth is the default number of independent accumulators per
// reduction; maxLanes bounds Lanes.Width.
const (
	laneWidth = 8
	maxLanes  = 16
)

// parallelMin is the smallest row count worth splitting across goroutines.
const parallelMin = 64

// Lanes is the vector-lane kernel. Reductions run over Width independent
// accumulators so the compiler can keep them in registers, and row-wise work
// is split into contiguous chunks across Threads goroutines. Chunking is by
// row, so results do not depend on Threads.
type Lanes struct {
	Threads int
	Width   int // power of two up to 16; 0 means 8
}

func (Lanes) Name() string { return "lanes" }

func (k Lanes) MulVec(dst []float64, a *lp.Matrix, x []float64) {
	rows, cols := a.Dims()
	if len(dst) != rows || len(x) != cols {
		panic("ipm: MulVec dimension mismatch")
	}
	k.parallelFor(0, rows, func(i int) {
		lo, hi := a.RowPtr[i], a.RowPtr[i+1]
		if k.Width == 0 || k.Width == laneWidth {
			dst[i] = gatherDot(a.Val[lo:hi], a.ColIdx[lo:hi], x)
			return
		}
		dst[i] = gatherDotWidth(a.Val[lo:hi], a.ColIdx[lo:hi], x, k.Width)
	})
}

func (k Lanes) MulTransVec(dst []float64, at *lp.Matrix, y []float64) {
	k.MulVec(dst, at, y)
}

func (k Lanes) Dot(x, y []float64) float64 { return k.dot()(x, y) }

func (k Lanes) dot() dotFunc {
	if k.Width == 0 || k.Width == laneWidth {
		return laneDot
	}
	w := k.Width
	return func(x, y []float64) float64 { return laneDotWidth(x, y, w) }
}

func (k Lanes) Factorize(at *lp.Matrix, d []float64, reg float64) (Factor, error) {
	_, m := at.Dims()
	l := make([]float64, m*m)
	normalInto(l, m, at, d, reg)
	dot := k.dot()
	if err := choleskyInPlace(l, m, dot, k.parallelFor); err != nil {
		return nil, err
	}
	return &denseFactor{l: l, m: m, dot: dot}, nil
}

// parallelFor runs body over [lo, hi) in contiguous chunks, one per thread.
func (k Lanes) parallelFor(lo, hi int, body func(i int)) {
	n := hi - lo
	threads := k.Threads
	if threads <= 1 || n < parallelMin {
		serialFor(lo, hi, body)
		return
	}
	if threads > n/(parallelMin/4) {
		threads = n / (parallelMin / 4)
	}
	chunk := (n + threads - 1) / threads
	var wg sync.WaitGroup
	for start := lo; start < hi; start += chunk {
		end := min(start+chunk, hi)
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			serialFor(start, end, body)
		}(start, end)
	}
	wg.Wait()
}

// laneDot is a dot product with laneWidth accumulators combined pairwise.
func laneDot(x, y []float64) float64 {
	var a0, a1, a2, a3, a4, a5, a6, a7 float64
	n := len(x)
	i := 0
	for ; i+laneWidth <= n; i += laneWidth {
		a0 += x[i] * y[i]
		a1 += x[i+1] * y[i+1]
		a2 += x[i+2] * y[i+2]
		a3 += x[i+3] * y[i+3]
		a4 += x[i+4] * y[i+4]
		a5 += x[i+5] * y[i+5]
		a6 += x[i+6] * y[i+6]
		a7 += x[i+7] * y[i+7]
	}
	for ; i < n; i++ {
		a0 += x[i] * y[i]
	}
	return ((a0 + a1) + (a2 + a3)) + ((a4 + a5) + (a6 + a7))
}

// gatherDot is laneDot over vals and x[idx].
func gatherDot(vals []float64, idx []int, x []float64) float64 {
	var a0, a1, a2, a3, a4, a5, a6, a7 float64
	n := len(vals)
	i := 0
	for ; i+laneWidth <= n; i += laneWidth {
		a0 += vals[i] * x[idx[i]]
		a1 += vals[i+1] * x[idx[i+1]]
		a2 += vals[i+2] * x[idx[i+2]]
		a3 += vals[i+3] * x[idx[i+3]]
		a4 += vals[i+4] * x[idx[i+4]]
		a5 += vals[i+5] * x[idx[i+5]]
		a6 += vals[i+6] * x[idx[i+6]]
		a7 += vals[i+7] * x[idx[i+7]]
	}
	for ; i < n; i++ {
		a0 += vals[i] * x[idx[i]]
	}
	return ((a0 + a1) + (a2 + a3)) + ((a4 + a5) + (a6 + a7))
}

// laneDotWidth is laneDot for an arbitrary power-of-two width.
func laneDotWidth(x, y []float64, w int) float64 {
	var acc [maxLanes]float64
	n := len(x)
	i := 0
	for ; i+w <= n; i += w {
		for l := 0; l < w; l++ {
			acc[l] += x[i+l] * y[i+l]
		}
	}
	for ; i < n; i++ {
		acc[0] += x[i] * y[i]
	}
	return reduceLanes(acc[:w])
}

func gatherDotWidth(vals []float64, idx []int, x []float64, w int) float64 {
	var acc [maxLanes]float64
	n := len(vals)
	i := 0
	for ; i+w <= n; i += w {
		for l := 0; l < w; l++ {
			acc[l] += vals[i+l] * x[idx[i+l]]
		}
	}
	for ; i < n; i++ {
		acc[0] += vals[i] * x[idx[i]]
	}
	return reduceLanes(acc[:w])
}

// reduceLanes sums the accumulators pairwise.
func reduceLanes(acc []float64) float64 {
	for w := len(acc); w > 1; w /= 2 {
		for l := 0; l < w/2; l++ {
			acc[l] = acc[2*l] + acc[2*l+1]
		}
	}
	return acc[0]
}
