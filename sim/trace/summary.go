package trace

// TraceSummary aggregates statistics from a RunTrace.
type TraceSummary struct {
	TotalSolves     int
	BatchedSolves   int
	MeanIterations  float64
	MaxIterations   int
	TotalFailures   int
	StatusCounts    map[string]int // status -> solves
	FailureKinds    map[string]int // error kind -> failures
	BackendCounts   map[string]int // backend -> solves
	FailedScenarios int
}

// Summarize computes aggregate statistics from a RunTrace.
// Safe for nil or empty traces (returns zero-value fields).
func Summarize(rt *RunTrace) *TraceSummary {
	summary := &TraceSummary{
		StatusCounts:  make(map[string]int),
		FailureKinds:  make(map[string]int),
		BackendCounts: make(map[string]int),
	}
	if rt == nil {
		return summary
	}
	solves, failures := rt.Sorted()

	summary.TotalSolves = len(solves)
	totalIterations := 0
	for _, s := range solves {
		summary.StatusCounts[s.Status]++
		summary.BackendCounts[s.Backend]++
		if s.Batched {
			summary.BatchedSolves++
		}
		totalIterations += s.Iterations
		if s.Iterations > summary.MaxIterations {
			summary.MaxIterations = s.Iterations
		}
	}
	if len(solves) > 0 {
		summary.MeanIterations = float64(totalIterations) / float64(len(solves))
	}

	summary.TotalFailures = len(failures)
	scenarios := make(map[int]bool)
	for _, f := range failures {
		summary.FailureKinds[f.Kind]++
		scenarios[f.Scenario] = true
	}
	summary.FailedScenarios = len(scenarios)

	return summary
}
