package trace

import (
	"cmp"
	"slices"
	"sync"
)

// TraceLevel controls the verbosity of solve tracing.
type TraceLevel string

const (
	// TraceLevelNone disables tracing (zero overhead).
	TraceLevelNone TraceLevel = "none"
	// TraceLevelFailures captures scenario failures only.
	TraceLevelFailures TraceLevel = "failures"
	// TraceLevelSolves captures every solve and every failure.
	TraceLevelSolves TraceLevel = "solves"
)

var validTraceLevels = map[TraceLevel]bool{
	TraceLevelNone:     true,
	TraceLevelFailures: true,
	TraceLevelSolves:   true,
	"":                 true, // empty defaults to none
}

// IsValidTraceLevel returns true if the given level string is a recognized trace level.
func IsValidTraceLevel(level string) bool {
	return validTraceLevels[TraceLevel(level)]
}

// TraceConfig controls trace collection behavior.
type TraceConfig struct {
	Level TraceLevel
}

// RunTrace collects records during a run. Scenario workers record
// concurrently; Solves and Failures are in arrival order, use Sorted for a
// deterministic view.
type RunTrace struct {
	Config   TraceConfig
	Solves   []SolveRecord
	Failures []FailureRecord

	mu sync.Mutex
}

// NewRunTrace creates a RunTrace ready for recording.
func NewRunTrace(config TraceConfig) *RunTrace {
	return &RunTrace{
		Config:   config,
		Solves:   make([]SolveRecord, 0),
		Failures: make([]FailureRecord, 0),
	}
}

// RecordSolve appends a solve record when the level captures solves.
// Safe on a nil trace.
func (rt *RunTrace) RecordSolve(record SolveRecord) {
	if rt == nil || rt.Config.Level != TraceLevelSolves {
		return
	}
	rt.mu.Lock()
	rt.Solves = append(rt.Solves, record)
	rt.mu.Unlock()
}

// RecordFailure appends a failure record unless tracing is disabled.
// Safe on a nil trace.
func (rt *RunTrace) RecordFailure(record FailureRecord) {
	if rt == nil || rt.Config.Level == TraceLevelNone || rt.Config.Level == "" {
		return
	}
	rt.mu.Lock()
	rt.Failures = append(rt.Failures, record)
	rt.mu.Unlock()
}

// Sorted returns copies of the records ordered by scenario, then timestep.
func (rt *RunTrace) Sorted() ([]SolveRecord, []FailureRecord) {
	if rt == nil {
		return nil, nil
	}
	rt.mu.Lock()
	solves := slices.Clone(rt.Solves)
	failures := slices.Clone(rt.Failures)
	rt.mu.Unlock()
	slices.SortStableFunc(solves, func(a, b SolveRecord) int {
		return cmp.Or(cmp.Compare(a.Scenario, b.Scenario), cmp.Compare(a.Timestep, b.Timestep))
	})
	slices.SortStableFunc(failures, func(a, b FailureRecord) int {
		return cmp.Or(cmp.Compare(a.Scenario, b.Scenario), cmp.Compare(a.Timestep, b.Timestep))
	})
	return solves, failures
}
