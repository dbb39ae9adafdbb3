package domain

import "time"

// DayReport records the result of processing a single day.
type DayReport struct {
	Date       string        `json:"date"`
	Outcome    Outcome       `json:"outcome"`
	Meters     int           `json:"meters"`
	Bytes      int           `json:"bytes"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"-"`
	DurationMS int64         `json:"durationMs"`
}

// RunReport summarizes one forwarder run across all requested days.
type RunReport struct {
	RunID      string      `json:"runId"`
	Trigger    string      `json:"trigger"`
	StartedAt  time.Time   `json:"startedAt"`
	FinishedAt time.Time   `json:"finishedAt"`
	Days       []DayReport `json:"days"`
}

// Count returns how many days ended with the given outcome.
func (r RunReport) Count(outcome Outcome) int {
	n := 0
	for _, d := range r.Days {
		if d.Outcome == outcome {
			n++
		}
	}
	return n
}

// Failed reports whether any day failed.
func (r RunReport) Failed() bool {
	return r.Count(OutcomeFailed) > 0
}
