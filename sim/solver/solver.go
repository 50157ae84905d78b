// Package solver defines the backend-agnostic solve contract and the backend
// registry. Backends live in sub-packages and register themselves from init,
// so a binary selects the backends it links by importing them.
package solver

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"github.com/hydro-sim/hydro-sim/sim"
	"github.com/hydro-sim/hydro-sim/sim/lp"
)

// Status is the outcome of one solve.
type Status int

const (
	Optimal Status = iota
	Infeasible
	Unbounded
	IterationLimit
)

func (s Status) String() string {
	switch s {
	case Optimal:
		return "optimal"
	case Infeasible:
		return "infeasible"
	case Unbounded:
		return "unbounded"
	case IterationLimit:
		return "iteration_limit"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Err returns the sentinel error for a non-optimal status, or nil.
func (s Status) Err() error {
	switch s {
	case Infeasible:
		return sim.ErrInfeasible
	case Unbounded:
		return sim.ErrUnbounded
	case IterationLimit:
		return sim.ErrIterationLimit
	default:
		return nil
	}
}

// Result is a solve outcome. Flows is indexed like the instance columns and
// is set for Optimal and IterationLimit; an IterationLimit result carries the
// best iterate found, which is not a converged solution. Iterations is zero
// when the backend does not count iterations (simplex) or presolve settled
// the instance.
type Result struct {
	Status     Status
	Flows      []float64
	Objective  float64
	Iterations int
	Backend    string
}

// Solver solves one instance. Implementations must be safe for concurrent
// use by several scenario workers.
type Solver interface {
	Name() string
	Solve(ctx context.Context, inst *lp.Instance) (*Result, error)
}

// BatchSolver is implemented by backends that solve several instances in one
// dispatch. Results and errors are index-aligned with the input; an instance
// failing does not affect the others.
type BatchSolver interface {
	Solver
	SolveBatch(ctx context.Context, insts []*lp.Instance) ([]*Result, []error)
}

// MaxLanes is the widest supported vector-lane kernel.
const MaxLanes = 16

// Settings configures a backend. Fields a backend does not use are ignored.
type Settings struct {
	Tolerance     float64 // convergence tolerance on scaled residuals and gap
	MaxIterations int     // iteration cap before IterationLimit
	Threads       int     // worker goroutines for parallel kernels
	Lanes         int     // accumulator width of the vector-lane kernel
	BatchSize     int     // maximum instances per batched dispatch
}

// DefaultSettings returns the settings used when none are configured.
func DefaultSettings() Settings {
	return Settings{
		Tolerance:     1e-8,
		MaxIterations: 200,
		Threads:       runtime.GOMAXPROCS(0),
		Lanes:         8,
		BatchSize:     64,
	}
}

// Validate checks settings ranges.
func (s Settings) Validate() error {
	if !(s.Tolerance > 0 && s.Tolerance < 1) {
		return fmt.Errorf("solver: tolerance must be in (0, 1), got %g", s.Tolerance)
	}
	if s.MaxIterations <= 0 {
		return fmt.Errorf("solver: max iterations must be positive, got %d", s.MaxIterations)
	}
	if s.Threads <= 0 {
		return fmt.Errorf("solver: threads must be positive, got %d", s.Threads)
	}
	if s.Lanes <= 0 || s.Lanes > MaxLanes || s.Lanes&(s.Lanes-1) != 0 {
		return fmt.Errorf("solver: lanes must be a power of two up to %d, got %d", MaxLanes, s.Lanes)
	}
	if s.BatchSize <= 0 {
		return fmt.Errorf("solver: batch size must be positive, got %d", s.BatchSize)
	}
	return nil
}

// Prepare runs the shared presolve. When presolve settles the instance
// (infeasible, unbounded, or nothing left to optimise) it returns the final
// result and a nil Standard.
func Prepare(inst *lp.Instance, backend string) (*lp.Standard, *Result, error) {
	std, err := lp.Standardize(inst)
	switch {
	case errors.Is(err, sim.ErrInfeasible):
		return nil, &Result{Status: Infeasible, Backend: backend}, nil
	case errors.Is(err, sim.ErrUnbounded):
		return nil, &Result{Status: Unbounded, Backend: backend}, nil
	case err != nil:
		return nil, nil, err
	}
	if std.Cols() == 0 {
		return nil, Finish(inst, std, nil, Optimal, 0, backend), nil
	}
	return std, nil, nil
}

// Finish maps a standard-form point back onto inst and builds the result.
func Finish(inst *lp.Instance, std *lp.Standard, y []float64, status Status, iterations int, backend string) *Result {
	x := std.Recover(y)
	return &Result{
		Status:     status,
		Flows:      x,
		Objective:  inst.Objective(x),
		Iterations: iterations,
		Backend:    backend,
	}
}
