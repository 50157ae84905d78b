package sim

import "errors"

// Error taxonomy shared by every package of the engine. Wrap with
// fmt.Errorf("ctx: %w", ErrX) and match with errors.Is.
var (
	// ErrCycleDetected: the parameter reference graph contains a cycle. Fatal for the run.
	ErrCycleDetected = errors.New("parameter reference cycle detected")

	// ErrUnknownParameter: a referenced parameter id does not exist.
	ErrUnknownParameter = errors.New("unknown parameter")

	// ErrProvider: the value provider could not supply a requested value.
	ErrProvider = errors.New("value provider error")

	// ErrInfeasible: no flow allocation satisfies the timestep's constraints.
	ErrInfeasible = errors.New("problem is infeasible")

	// ErrUnbounded: the objective can be decreased without limit.
	ErrUnbounded = errors.New("problem is unbounded")

	// ErrIterationLimit: the solver stopped before converging.
	ErrIterationLimit = errors.New("iteration limit reached")

	// ErrCancelled: the run was aborted before the scenario finished.
	ErrCancelled = errors.New("run cancelled")
)

// ErrorKind is a stable label for a failure, used in failure records and metrics.
type ErrorKind string

const (
	KindNone             ErrorKind = ""
	KindCycleDetected    ErrorKind = "cycle_detected"
	KindUnknownParameter ErrorKind = "unknown_parameter"
	KindProvider         ErrorKind = "provider_error"
	KindInfeasible       ErrorKind = "infeasible"
	KindUnbounded        ErrorKind = "unbounded"
	KindIterationLimit   ErrorKind = "iteration_limit"
	KindCancelled        ErrorKind = "cancelled"
	KindInternal         ErrorKind = "internal"
)

// KindOf classifies err against the taxonomy. Unrecognised errors are KindInternal.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrCycleDetected):
		return KindCycleDetected
	case errors.Is(err, ErrUnknownParameter):
		return KindUnknownParameter
	case errors.Is(err, ErrProvider):
		return KindProvider
	case errors.Is(err, ErrInfeasible):
		return KindInfeasible
	case errors.Is(err, ErrUnbounded):
		return KindUnbounded
	case errors.Is(err, ErrIterationLimit):
		return KindIterationLimit
	case errors.Is(err, ErrCancelled):
		return KindCancelled
	default:
		return KindInternal
	}
}
