// Package simplex is the external-solver backend: it hands the presolved
// standard form to gonum's simplex implementation and maps its failure modes
// onto solver statuses.
package simplex

import (
	"context"
	"errors"
	"fmt"

	golp "gonum.org/v1/gonum/optimize/convex/lp"

	"github.com/hydro-sim/hydro-sim/sim/lp"
	"github.com/hydro-sim/hydro-sim/sim/solver"
)

// Name is the registry name of this backend.
const Name = "simplex"

// Solver wraps gonum's simplex method.
type Solver struct {
	tol float64
}

// New returns a simplex backend. Only Settings.Tolerance is used; it bounds
// the largest reduced cost accepted as optimal.
func New(s solver.Settings) (*Solver, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &Solver{tol: s.Tolerance}, nil
}

func (s *Solver) Name() string { return Name }

// Solve implements solver.Solver.
func (s *Solver) Solve(_ context.Context, inst *lp.Instance) (*solver.Result, error) {
	std, res, err := solver.Prepare(inst, Name)
	if err != nil || res != nil {
		return res, err
	}
	_, y, err := golp.Simplex(std.C, std.A.Dense(), std.B, s.tol, nil)
	switch {
	case err == nil:
		return solver.Finish(inst, std, y, solver.Optimal, 0, Name), nil
	case errors.Is(err, golp.ErrInfeasible):
		return &solver.Result{Status: solver.Infeasible, Backend: Name}, nil
	case errors.Is(err, golp.ErrUnbounded):
		return &solver.Result{Status: solver.Unbounded, Backend: Name}, nil
	default:
		return nil, fmt.Errorf("simplex: %w", err)
	}
}
