package schedule

import "fmt"

// State is the lifecycle state of one scenario.
type State int

const (
	Ready State = iota
	Resolving
	Compiling
	Solving
	Applying
	Finished
	Failed
	Cancelled
)

var stateNames = [...]string{"ready", "resolving", "compiling", "solving", "applying", "finished", "failed", "cancelled"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool { return s == Finished || s == Failed || s == Cancelled }

// transitions lists the legal successors of each non-terminal state. Every
// in-flight state may fail; only Ready, at a timestep boundary, may be
// cancelled.
var transitions = map[State][]State{
	Ready:     {Resolving, Finished, Failed, Cancelled},
	Resolving: {Compiling, Failed},
	Compiling: {Solving, Failed},
	Solving:   {Applying, Failed},
	Applying:  {Ready, Failed},
}

// CanTransition reports whether s -> to is a legal transition.
func (s State) CanTransition(to State) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// IterationLimitPolicy decides what happens to a timestep whose solve
// stopped at the iteration cap.
type IterationLimitPolicy int

const (
	// AcceptIterationLimit applies the returned iterate and continues; the
	// step keeps its IterationLimit status.
	AcceptIterationLimit IterationLimitPolicy = iota
	// FailIterationLimit fails the scenario with sim.ErrIterationLimit.
	FailIterationLimit
)

func (p IterationLimitPolicy) String() string {
	switch p {
	case AcceptIterationLimit:
		return "accept"
	case FailIterationLimit:
		return "fail"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// ParseIterationLimitPolicy parses "accept" or "fail".
func ParseIterationLimitPolicy(s string) (IterationLimitPolicy, error) {
	switch s {
	case "accept", "":
		return AcceptIterationLimit, nil
	case "fail":
		return FailIterationLimit, nil
	default:
		return 0, fmt.Errorf("schedule: unknown iteration limit policy %q (want accept or fail)", s)
	}
}
