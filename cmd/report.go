package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/hydro-sim/hydro-sim/sim/schedule"
	"github.com/hydro-sim/hydro-sim/sim/trace"
)

// ScenarioReport is the printed outcome of one scenario.
type ScenarioReport struct {
	Name           string             `json:"name"`
	State          string             `json:"state"`
	Timesteps      int                `json:"timesteps_applied"`
	TotalObjective float64            `json:"total_objective"`
	FinalVolumes   map[string]float64 `json:"final_volumes,omitempty"`
	Failure        string             `json:"failure,omitempty"`
}

// RunReport is the JSON document printed after a run.
type RunReport struct {
	Backend      string              `json:"backend"`
	Scenarios    []ScenarioReport    `json:"scenarios"`
	Finished     int                 `json:"finished"`
	FirstFailure string              `json:"first_failure,omitempty"`
	Trace        *trace.TraceSummary `json:"trace,omitempty"`
	ElapsedMs    int64               `json:"elapsed_ms"`
}

func buildReport(res *schedule.Results, summary *trace.TraceSummary, elapsed time.Duration) *RunReport {
	m := res.Model()
	report := &RunReport{
		Backend:   res.Backend,
		Finished:  res.Finished(),
		Trace:     summary,
		ElapsedMs: elapsed.Milliseconds(),
	}
	if res.FirstFailure != nil {
		report.FirstFailure = res.FirstFailure.Error()
	}
	for _, sr := range res.Scenarios {
		sc := ScenarioReport{
			Name:      sr.Scenario.String(),
			State:     sr.State.String(),
			Timesteps: len(sr.Steps),
		}
		for _, step := range sr.Steps {
			sc.TotalObjective += step.Objective
		}
		if n := len(sr.Steps); n > 0 && len(m.StorageNodes()) > 0 {
			sc.FinalVolumes = make(map[string]float64, len(m.StorageNodes()))
			for k, i := range m.StorageNodes() {
				sc.FinalVolumes[m.Nodes()[i].Name] = sr.Steps[n-1].Volumes[k]
			}
		}
		if sr.Failure != nil {
			sc.Failure = sr.Failure.Error()
		}
		report.Scenarios = append(report.Scenarios, sc)
	}
	return report
}

// printResults writes the run report as indented JSON under a header.
func printResults(w io.Writer, res *schedule.Results, summary *trace.TraceSummary, elapsed time.Duration) {
	data, err := json.MarshalIndent(buildReport(res, summary, elapsed), "", "  ")
	if err != nil {
		fmt.Fprintf(w, "error marshalling results: %v\n", err)
		return
	}
	fmt.Fprintln(w, "=== Simulation Results ===")
	fmt.Fprintln(w, string(data))
}
