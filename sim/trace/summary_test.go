package trace

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSummarize_NilTrace_ZeroValues(t *testing.T) {
	summary := Summarize(nil)
	assert.Zero(t, summary.TotalSolves)
	assert.Zero(t, summary.MeanIterations)
	assert.NotNil(t, summary.StatusCounts)
}

func TestSummarize_CountsStatusesAndIterations(t *testing.T) {
	// GIVEN solves on two backends and two failures in one scenario
	rt := NewRunTrace(TraceConfig{Level: TraceLevelSolves})
	rt.RecordSolve(SolveRecord{Scenario: 0, Timestep: 0, Backend: "ipm-gpu", Status: "optimal", Iterations: 10, Batched: true})
	rt.RecordSolve(SolveRecord{Scenario: 1, Timestep: 0, Backend: "ipm-gpu", Status: "optimal", Iterations: 14, Batched: true})
	rt.RecordSolve(SolveRecord{Scenario: 1, Timestep: 1, Backend: "simplex", Status: "infeasible"})
	rt.RecordFailure(FailureRecord{Scenario: 1, Timestep: 1, Kind: "infeasible"})
	rt.RecordFailure(FailureRecord{Scenario: 1, Timestep: 1, Kind: "cancelled"})

	// WHEN summarized
	summary := Summarize(rt)

	// THEN every aggregate reflects the records
	assert.Equal(t, 3, summary.TotalSolves)
	assert.Equal(t, 2, summary.BatchedSolves)
	assert.Equal(t, map[string]int{"optimal": 2, "infeasible": 1}, summary.StatusCounts)
	assert.Equal(t, map[string]int{"ipm-gpu": 2, "simplex": 1}, summary.BackendCounts)
	assert.InDelta(t, 8.0, summary.MeanIterations, 1e-12)
	assert.Equal(t, 14, summary.MaxIterations)
	assert.Equal(t, 2, summary.TotalFailures)
	assert.Equal(t, 1, summary.FailedScenarios)
	assert.Equal(t, 1, summary.FailureKinds["cancelled"])
}
