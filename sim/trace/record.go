// Package trace records per-solve outcomes of a simulation run for later
// analysis. It stores pure data and does not depend on the engine packages.
package trace

// SolveRecord captures one (scenario, timestep) solve.
type SolveRecord struct {
	Scenario   int
	Timestep   int
	Backend    string
	Status     string // optimal, infeasible, unbounded, iteration_limit
	Objective  float64
	Iterations int
	Rows       int // rows of the compiled instance
	Cols       int // columns of the compiled instance
	Batched    bool
}

// FailureRecord captures a scenario failure.
type FailureRecord struct {
	Scenario int
	Timestep int
	Kind     string // sim.ErrorKind label
	Message  string
}
