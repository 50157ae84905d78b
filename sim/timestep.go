package sim

import (
	"fmt"
	"time"
)

// Timestep is one discrete step of the simulation horizon.
type Timestep struct {
	Index int       // 0-based position in the horizon
	Date  time.Time // first day covered by the step
	Days  int       // length of the step in days
}

// IsFirst reports whether this is the first timestep of the horizon.
func (t Timestep) IsFirst() bool { return t.Index == 0 }

func (t Timestep) String() string {
	return fmt.Sprintf("%d(%s)", t.Index, t.Date.Format(time.DateOnly))
}

// Horizon describes the fixed simulation period. Start and End are inclusive;
// the last step starts on or before End.
type Horizon struct {
	Start    time.Time
	End      time.Time
	StepDays int
}

// NewHorizon validates and returns a Horizon.
func NewHorizon(start, end time.Time, stepDays int) (Horizon, error) {
	if stepDays <= 0 {
		return Horizon{}, fmt.Errorf("horizon: step must be positive, got %d days", stepDays)
	}
	if end.Before(start) {
		return Horizon{}, fmt.Errorf("horizon: end %s is before start %s",
			end.Format(time.DateOnly), start.Format(time.DateOnly))
	}
	return Horizon{Start: start, End: end, StepDays: stepDays}, nil
}

// Timesteps expands the horizon into its ordered timesteps.
func (h Horizon) Timesteps() []Timestep {
	if h.StepDays <= 0 || h.End.Before(h.Start) {
		return nil
	}
	var steps []Timestep
	for d, i := h.Start, 0; !d.After(h.End); d, i = d.AddDate(0, 0, h.StepDays), i+1 {
		steps = append(steps, Timestep{Index: i, Date: d, Days: h.StepDays})
	}
	return steps
}

// Len returns the number of timesteps in the horizon.
func (h Horizon) Len() int { return len(h.Timesteps()) }

// IndexedTimesteps returns n daily timesteps starting at 2000-01-01. Useful when
// dates do not matter, e.g. in tests or purely index-driven runs.
func IndexedTimesteps(n int) []Timestep {
	start := time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)
	steps := make([]Timestep, n)
	for i := range steps {
		steps[i] = Timestep{Index: i, Date: start.AddDate(0, 0, i), Days: 1}
	}
	return steps
}
