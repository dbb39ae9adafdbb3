package domain

import (
	"encoding/json"
	"time"
)

// Outcome describes what a run did for a single day.
type Outcome string

const (
	OutcomeForwarded Outcome = "forwarded"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
)

// MeterData is the raw interval payload of one meter for one day.
// The payload is forwarded untouched.
type MeterData struct {
	MeterID string          `json:"id"`
	Data    json.RawMessage `json:"data"`
}

// DailyUsage groups the payloads of every meter for one day, in meter order.
type DailyUsage struct {
	Date   time.Time   `json:"-"`
	Meters []MeterData `json:"meters"`
}

// Payload returns the list body sent to Blockbax: one element per meter.
func (u DailyUsage) Payload() []json.RawMessage {
	out := make([]json.RawMessage, 0, len(u.Meters))
	for _, m := range u.Meters {
		out = append(out, m.Data)
	}
	return out
}

// MeterIDs lists the meters contained in the day, in order.
func (u DailyUsage) MeterIDs() []string {
	ids := make([]string, 0, len(u.Meters))
	for _, m := range u.Meters {
		ids = append(ids, m.MeterID)
	}
	return ids
}

// Size is the number of raw payload bytes across all meters.
func (u DailyUsage) Size() int {
	total := 0
	for _, m := range u.Meters {
		total += len(m.Data)
	}
	return total
}
