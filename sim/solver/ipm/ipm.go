// Package ipm implements a Mehrotra predictor-corrector interior-point
// method for the standard-form programs produced by lp.Standardize.
//
// The iteration logic is shared; the numeric work runs on a Kernel:
//
//   - Scalar: straight loops and gonum's dense Cholesky.
//   - Lanes: multi-accumulator reductions split across goroutines.
//   - GPU: many problems of one shape in lockstep on a Device, each problem
//     owning one slot of device memory.
package ipm

import (
	"context"

	"github.com/hydro-sim/hydro-sim/sim/lp"
	"github.com/hydro-sim/hydro-sim/sim/solver"
)

// Backend names.
const (
	ScalarName = "ipm-scalar"
	LanesName  = "ipm-lanes"
	GPUName    = "ipm-gpu"
)

// Solver runs the interior-point method on one instance at a time.
type Solver struct {
	name     string
	kernel   Kernel
	settings solver.Settings
}

// NewScalar returns a solver on the scalar kernel.
func NewScalar(s solver.Settings) (*Solver, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &Solver{name: ScalarName, kernel: Scalar{}, settings: s}, nil
}

// NewLanes returns a solver on the vector-lane kernel with s.Lanes
// accumulators and s.Threads goroutines.
func NewLanes(s solver.Settings) (*Solver, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &Solver{name: LanesName, kernel: Lanes{Threads: s.Threads, Width: s.Lanes}, settings: s}, nil
}

func (s *Solver) Name() string { return s.name }

// Kernel returns the kernel the solver runs on.
func (s *Solver) Kernel() Kernel { return s.kernel }

func (s *Solver) Solve(_ context.Context, inst *lp.Instance) (*solver.Result, error) {
	std, res, err := solver.Prepare(inst, s.name)
	if err != nil || res != nil {
		return res, err
	}
	st := newState(newProblem(std), nil, s.settings.Tolerance, s.settings.MaxIterations)
	for !st.done() {
		st.step(s.kernel)
	}
	return st.result(inst, std, s.name)
}
