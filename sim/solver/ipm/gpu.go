package ipm

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/hydro-sim/hydro-sim/sim/lp"
	"github.com/hydro-sim/hydro-sim/sim/solver"
)

// GPU solves batches of instances on a Device. Instances whose standard
// forms share a sparsity pattern are dispatched together, up to
// Settings.BatchSize per dispatch; each block advances its own problem by one
// iteration per launch. A block that fails or diverges is masked out of
// later launches and reported on its own.
type GPU struct {
	device   Device
	settings solver.Settings
}

var _ solver.BatchSolver = (*GPU)(nil)

// NewGPU returns a batch solver on dev.
func NewGPU(s solver.Settings, dev Device) (*GPU, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &GPU{device: dev, settings: s}, nil
}

func (g *GPU) Name() string { return GPUName }

// Device returns the device the solver dispatches to.
func (g *GPU) Device() Device { return g.device }

// Solve solves a single instance as a batch of one.
func (g *GPU) Solve(ctx context.Context, inst *lp.Instance) (*solver.Result, error) {
	res, errs := g.SolveBatch(ctx, []*lp.Instance{inst})
	return res[0], errs[0]
}

type batchItem struct {
	idx int
	std *lp.Standard
}

func (g *GPU) SolveBatch(_ context.Context, insts []*lp.Instance) ([]*solver.Result, []error) {
	results := make([]*solver.Result, len(insts))
	errs := make([]error, len(insts))

	groups := make(map[string][]batchItem)
	var order []string
	for i, inst := range insts {
		std, res, err := solver.Prepare(inst, GPUName)
		if err != nil || res != nil {
			results[i], errs[i] = res, err
			continue
		}
		key := std.Shape()
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], batchItem{idx: i, std: std})
	}

	for _, key := range order {
		items := groups[key]
		for lo := 0; lo < len(items); lo += g.settings.BatchSize {
			hi := min(lo+g.settings.BatchSize, len(items))
			g.dispatch(insts, items[lo:hi], results, errs)
		}
	}
	return results, errs
}

// slotWidth is the per-problem device memory: A and A' values, b, c, the
// iterate workspace and the dense normal matrix.
func slotWidth(m, n, nnz int) int {
	return 2*nnz + m + n + workspaceSize(m, n) + m*m
}

// dispatch uploads one same-shape chunk into an arena and iterates every
// slot in lockstep until all are done.
func (g *GPU) dispatch(insts []*lp.Instance, items []batchItem, results []*solver.Result, errs []error) {
	first := items[0].std
	m, n := first.A.Dims()
	nnz := first.A.NNZ()

	arena, err := g.device.Alloc(len(items), slotWidth(m, n, nnz))
	if err != nil {
		for _, it := range items {
			errs[it.idx] = err
		}
		return
	}
	defer g.device.Free(arena)

	pattern, patternT := first.A, first.A.Transpose()
	states := make([]*state, len(items))
	kernels := make([]*blockKernel, len(items))
	for b, it := range items {
		c := carver{buf: arena.Slot(b)}
		aval := c.take(nnz)
		copy(aval, it.std.A.Val)
		atval := c.take(nnz)
		copy(atval, it.std.A.Transpose().Val)
		bv := c.take(m)
		copy(bv, it.std.B)
		cv := c.take(n)
		copy(cv, it.std.C)
		p := withScale(&problem{a: pattern.WithValues(aval), at: patternT.WithValues(atval), b: bv, c: cv, m: m, n: n})
		states[b] = newState(p, c.take(workspaceSize(m, n)), g.settings.Tolerance, g.settings.MaxIterations)
		kernels[b] = &blockKernel{normal: c.take(m * m)}
	}

	launches := 0
	for active := len(states); active > 0; {
		blockErrs := g.device.Launch(len(states), func(b int) error {
			if st := states[b]; !st.done() {
				st.step(kernels[b])
			}
			return nil
		})
		launches++
		active = 0
		for b, st := range states {
			if blockErrs[b] != nil && !st.done() {
				st.fail(blockErrs[b])
			}
			if !st.done() {
				active++
			}
		}
	}
	logrus.Debugf("ipm: %s dispatched %d problems (%dx%d) in %d launches", g.device.Name(), len(items), m, n, launches)

	for b, it := range items {
		results[it.idx], errs[it.idx] = states[b].result(insts[it.idx], it.std, GPUName)
	}
}

// blockKernel is the per-block kernel: serial loops with the normal matrix
// held in the block's own slot.
type blockKernel struct {
	normal []float64
}

func (*blockKernel) Name() string { return "block" }

func (*blockKernel) MulVec(dst []float64, a *lp.Matrix, x []float64) { a.MulVec(dst, x) }

func (*blockKernel) MulTransVec(dst []float64, at *lp.Matrix, y []float64) { at.MulVec(dst, y) }

func (*blockKernel) Dot(x, y []float64) float64 { return plainDot(x, y) }

// Factorize overwrites the slot's normal matrix; the returned factor is valid
// until the next call.
func (k *blockKernel) Factorize(at *lp.Matrix, d []float64, reg float64) (Factor, error) {
	_, m := at.Dims()
	normalInto(k.normal, m, at, d, reg)
	if err := choleskyInPlace(k.normal, m, plainDot, serialFor); err != nil {
		return nil, err
	}
	return &denseFactor{l: k.normal, m: m, dot: plainDot}, nil
}
