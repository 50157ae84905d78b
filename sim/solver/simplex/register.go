// register.go adds the simplex backend to the solver registry when the
// package is imported.
package simplex

import "github.com/hydro-sim/hydro-sim/sim/solver"

func init() {
	solver.Register(Name, func(s solver.Settings) (solver.Solver, error) {
		return New(s)
	})
}
