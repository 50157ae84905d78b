package ipm

import (
	"errors"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/hydro-sim/hydro-sim/sim/lp"
	"github.com/hydro-sim/hydro-sim/sim/solver"
)

const (
	// stepScale keeps iterates strictly interior.
	stepScale = 0.99
	// dClip bounds the scaling x/s entering the normal equations.
	dClip = 1e14
	// baseReg is the relative diagonal regularisation of the normal equations.
	baseReg = 1e-12
	// divergeLimit is the iterate norm, relative to the data, treated as
	// divergence to infinity.
	divergeLimit = 1e12
	// stallWindow is the number of iterations without residual progress
	// after which the run is declared stalled.
	stallWindow = 20
	// tinyStep and tinyStepLimit detect vanishing step lengths.
	tinyStep      = 1e-8
	tinyStepLimit = 5
	// stallSlack scales the tolerance when judging a stalled residual.
	stallSlack = 1e3
)

var errDiverged = errors.New("ipm: iterate is not finite")

// problem is a standard-form program min c'x, Ax = b, x >= 0 with its
// transpose. The matrices may share a pattern with other problems.
type problem struct {
	a, at *lp.Matrix
	b, c  []float64
	m, n  int
	amax2 float64 // largest squared coefficient of A
}

func newProblem(std *lp.Standard) *problem {
	m, n := std.A.Dims()
	return withScale(&problem{a: std.A, at: std.A.Transpose(), b: std.B, c: std.C, m: m, n: n})
}

func withScale(p *problem) *problem {
	for _, v := range p.a.Val {
		p.amax2 = math.Max(p.amax2, v*v)
	}
	return p
}

type phase int

const (
	phaseStart phase = iota
	phaseIterate
	phaseDone
)

// carver hands out consecutive non-overlapping pieces of one buffer.
type carver struct {
	buf []float64
}

func (c *carver) take(n int) []float64 {
	s := c.buf[:n:n]
	c.buf = c.buf[n:]
	return s
}

// workspaceSize is the number of float64 values newState carves.
func workspaceSize(m, n int) int { return 10*n + 6*m }

// state is the primal-dual iterate of one problem and its scratch vectors.
// Each state is stepped by a single goroutine at a time.
type state struct {
	p       *problem
	tol     float64
	maxIter int

	x, s, d, rd, dx, ds, dxa, dsa, rxs, tmpn []float64
	y, rp, rhs, dy, dya, tmpm                []float64

	phase  phase
	status solver.Status
	err    error
	iter   int

	normB, normC       float64
	bestPres, bestDres float64
	stallP, stallD     int
	tinySteps          int
	lastReg            float64
}

// newState lays the iterate out in mem, which must hold workspaceSize
// values; a nil mem is allocated.
func newState(p *problem, mem []float64, tol float64, maxIter int) *state {
	if mem == nil {
		mem = make([]float64, workspaceSize(p.m, p.n))
	}
	c := carver{buf: mem}
	st := &state{p: p, tol: tol, maxIter: maxIter}
	for _, v := range []*[]float64{&st.x, &st.s, &st.d, &st.rd, &st.dx, &st.ds, &st.dxa, &st.dsa, &st.rxs, &st.tmpn} {
		*v = c.take(p.n)
	}
	for _, v := range []*[]float64{&st.y, &st.rp, &st.rhs, &st.dy, &st.dya, &st.tmpm} {
		*v = c.take(p.m)
	}
	st.normB = normInf(p.b)
	st.normC = normInf(p.c)
	st.bestPres, st.bestDres = math.Inf(1), math.Inf(1)
	return st
}

func (st *state) done() bool { return st.phase == phaseDone }

func (st *state) finish(status solver.Status) {
	st.status = status
	st.phase = phaseDone
}

func (st *state) fail(err error) {
	st.err = err
	st.phase = phaseDone
}

// step advances the state by one unit of work: the starting point, or one
// predictor-corrector iteration.
func (st *state) step(k Kernel) {
	switch st.phase {
	case phaseStart:
		if err := st.start(k); err != nil {
			st.fail(err)
			return
		}
		st.phase = phaseIterate
	case phaseIterate:
		st.iterate(k)
	}
}

func (st *state) regFor(d []float64) float64 {
	dmax := 0.0
	for _, v := range d {
		dmax = math.Max(dmax, v)
	}
	return baseReg * math.Max(1, dmax*st.p.amax2)
}

// start computes Mehrotra's starting point from the least-squares solutions
// of Ax = b and A'y + s = c, shifted to be strictly positive.
func (st *state) start(k Kernel) error {
	p := st.p
	for i := range st.d {
		st.d[i] = 1
	}
	f, reg, err := factorize(k, p.at, st.d, st.regFor(st.d))
	if err != nil {
		return err
	}
	st.lastReg = reg

	// x = A'(AA')^-1 b
	f.Solve(st.tmpm, p.b)
	k.MulTransVec(st.x, p.at, st.tmpm)
	// y = (AA')^-1 Ac, s = c - A'y
	k.MulVec(st.rhs, p.a, p.c)
	f.Solve(st.y, st.rhs)
	k.MulTransVec(st.tmpn, p.at, st.y)
	for i := range st.s {
		st.s[i] = p.c[i] - st.tmpn[i]
	}

	dx := math.Max(-1.5*minOf(st.x), 0)
	ds := math.Max(-1.5*minOf(st.s), 0)
	xs, sumX, sumS := 0.0, 0.0, 0.0
	for i := range st.x {
		xh, sh := st.x[i]+dx, st.s[i]+ds
		xs += xh * sh
		sumX += xh
		sumS += sh
	}
	if xs > 0 && sumX > 0 && sumS > 0 {
		dx += 0.5 * xs / sumS
		ds += 0.5 * xs / sumX
	} else {
		dx = math.Max(dx, 1)
		ds = math.Max(ds, 1)
	}
	for i := range st.x {
		st.x[i] = math.Max(st.x[i]+dx, 1e-8)
		st.s[i] = math.Max(st.s[i]+ds, 1e-8)
	}
	return nil
}

// iterate checks termination at the current point and otherwise takes one
// Mehrotra predictor-corrector step.
func (st *state) iterate(k Kernel) {
	p := st.p

	k.MulVec(st.rp, p.a, st.x)
	for i := range st.rp {
		st.rp[i] = p.b[i] - st.rp[i]
	}
	k.MulTransVec(st.rd, p.at, st.y)
	for i := range st.rd {
		st.rd[i] = p.c[i] - st.rd[i] - st.s[i]
	}
	pobj := k.Dot(p.c, st.x)
	dobj := k.Dot(p.b, st.y)
	mu := k.Dot(st.x, st.s) / float64(p.n)

	pres := normInf(st.rp) / (1 + st.normB)
	dres := normInf(st.rd) / (1 + st.normC)
	gap := math.Abs(pobj-dobj) / (1 + math.Abs(pobj))
	if math.IsNaN(pres + dres + gap + mu) {
		st.fail(errDiverged)
		return
	}
	logrus.Debugf("ipm: iter %d pres=%.2e dres=%.2e gap=%.2e mu=%.2e", st.iter, pres, dres, gap, mu)

	if pres <= st.tol && dres <= st.tol && gap <= st.tol {
		st.finish(solver.Optimal)
		return
	}
	scale := 1 + st.normB + st.normC
	if normInf(st.x) > divergeLimit*scale && pobj < -math.Sqrt(divergeLimit)*scale {
		st.finish(solver.Unbounded)
		return
	}
	if normInf(st.y) > divergeLimit*scale && dobj > math.Sqrt(divergeLimit)*scale {
		st.finish(solver.Infeasible)
		return
	}
	if st.iter >= st.maxIter {
		st.finish(solver.IterationLimit)
		return
	}
	if st.stalled(pres, dres) {
		return
	}

	for i := range st.d {
		st.d[i] = math.Min(math.Max(st.x[i]/st.s[i], 1/dClip), dClip)
	}
	f, reg, err := factorize(k, p.at, st.d, st.regFor(st.d))
	if err != nil {
		st.fail(err)
		return
	}
	st.lastReg = reg

	// Predictor: the affine-scaling direction.
	for i := range st.rxs {
		st.rxs[i] = -st.x[i] * st.s[i]
	}
	st.newton(k, f, st.dxa, st.dya, st.dsa)
	ap := math.Min(1, maxStep(st.x, st.dxa))
	ad := math.Min(1, maxStep(st.s, st.dsa))
	muAff := 0.0
	for i := range st.x {
		muAff += (st.x[i] + ap*st.dxa[i]) * (st.s[i] + ad*st.dsa[i])
	}
	muAff /= float64(p.n)
	sigma := math.Pow(math.Max(muAff, 0)/mu, 3)
	sigma = math.Min(sigma, 1)

	// Corrector: centring plus the second-order term.
	for i := range st.rxs {
		st.rxs[i] = -st.x[i]*st.s[i] - st.dxa[i]*st.dsa[i] + sigma*mu
	}
	st.newton(k, f, st.dx, st.dy, st.ds)
	ap = math.Min(1, stepScale*maxStep(st.x, st.dx))
	ad = math.Min(1, stepScale*maxStep(st.s, st.ds))

	for i := range st.x {
		st.x[i] += ap * st.dx[i]
		st.s[i] += ad * st.ds[i]
	}
	for i := range st.y {
		st.y[i] += ad * st.dy[i]
	}
	st.iter++

	if math.Max(ap, ad) < tinyStep {
		st.tinySteps++
	} else {
		st.tinySteps = 0
	}
}

// stalled tracks residual progress and finishes the state when the run has
// stopped making any. A stalled primal residual means no feasible point; a
// stalled dual residual with a feasible primal means the objective has no
// lower bound.
func (st *state) stalled(pres, dres float64) bool {
	if pres < st.bestPres*(1-1e-3) {
		st.bestPres, st.stallP = pres, 0
	} else {
		st.stallP++
	}
	if dres < st.bestDres*(1-1e-3) {
		st.bestDres, st.stallD = dres, 0
	} else {
		st.stallD++
	}
	slack := stallSlack * st.tol
	switch {
	case pres > slack && (st.stallP >= stallWindow || st.tinySteps >= tinyStepLimit):
		st.finish(solver.Infeasible)
	case pres <= slack && dres > slack && (st.stallD >= stallWindow || st.tinySteps >= tinyStepLimit):
		st.finish(solver.Unbounded)
	case st.tinySteps >= tinyStepLimit:
		st.finish(solver.IterationLimit)
	default:
		return false
	}
	return true
}

// newton solves the Newton system
//
//	A dx = rp,  A' dy + ds = rd,  S dx + X ds = rxs
//
// through the normal equations A D A' dy = rp + A(D rd - rxs/s).
func (st *state) newton(k Kernel, f Factor, dx, dy, ds []float64) {
	p := st.p
	for i := range st.tmpn {
		st.tmpn[i] = st.d[i]*st.rd[i] - st.rxs[i]/st.s[i]
	}
	k.MulVec(st.rhs, p.a, st.tmpn)
	for i := range st.rhs {
		st.rhs[i] += st.rp[i]
	}
	f.Solve(dy, st.rhs)
	k.MulTransVec(st.tmpn, p.at, dy)
	for i := range ds {
		ds[i] = st.rd[i] - st.tmpn[i]
		dx[i] = (st.rxs[i] - st.x[i]*ds[i]) / st.s[i]
	}
}

// result converts a finished state into a solver result for inst.
func (st *state) result(inst *lp.Instance, std *lp.Standard, backend string) (*solver.Result, error) {
	if st.err != nil {
		return nil, fmt.Errorf("ipm: iteration %d: %w", st.iter, st.err)
	}
	switch st.status {
	case solver.Optimal, solver.IterationLimit:
		return solver.Finish(inst, std, st.x, st.status, st.iter, backend), nil
	default:
		return &solver.Result{Status: st.status, Iterations: st.iter, Backend: backend}, nil
	}
}

// maxStep returns the largest alpha with v + alpha*dv >= 0.
func maxStep(v, dv []float64) float64 {
	alpha := math.Inf(1)
	for i, d := range dv {
		if d < 0 {
			alpha = math.Min(alpha, -v[i]/d)
		}
	}
	return alpha
}

func normInf(v []float64) float64 {
	n := 0.0
	for _, x := range v {
		n = math.Max(n, math.Abs(x))
	}
	return n
}

func minOf(v []float64) float64 {
	m := math.Inf(1)
	for _, x := range v {
		m = math.Min(m, x)
	}
	return m
}
