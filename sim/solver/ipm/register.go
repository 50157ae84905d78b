// register.go adds the interior-point backends to the solver registry when
// the package is imported.
package ipm

import "github.com/hydro-sim/hydro-sim/sim/solver"

func init() {
	solver.Register(ScalarName, func(s solver.Settings) (solver.Solver, error) {
		return NewScalar(s)
	})
	solver.Register(LanesName, func(s solver.Settings) (solver.Solver, error) {
		return NewLanes(s)
	})
	solver.Register(GPUName, func(s solver.Settings) (solver.Solver, error) {
		return NewGPU(s, NewHost(s.Threads))
	})
}
