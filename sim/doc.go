// Package sim provides the shared vocabulary of the water resource network
// simulator: timesteps and horizons, scenarios and their RNG streams, and the
// error taxonomy every layer reports through.
//
// # Reading Guide
//
// A run flows through these packages in order:
//   - sim/param/: the parameter dependency graph and its per-scenario resolver
//   - sim/network/: nodes, edges and their attribute bindings
//   - sim/lp/: compiles one (scenario, timestep) into a linear program
//   - sim/solver/: the Solver interface, settings and backend registry
//   - sim/schedule/: drives every scenario over the horizon
//
// Supporting packages:
//   - sim/timeseries/: value providers (in-memory tables, CSV, perturbed scenarios)
//   - sim/solver/simplex/: gonum simplex backend
//   - sim/solver/ipm/: interior-point backend with scalar, lane and GPU kernels
//   - sim/bundle/: YAML model files
//   - sim/trace/: per-solve trace records
//   - sim/observe/: Prometheus metrics and OpenTelemetry tracing
//
// Solver backends register themselves via init() functions; import them for
// side effects and select one by name with solver.New.
//
// # Errors
//
// Failures are classified by the sentinels in errors.go. Wrap with %w and
// test with errors.Is; KindOf maps an error to its label for reports.
package sim
