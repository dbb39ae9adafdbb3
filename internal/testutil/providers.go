package testutil

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/preston-bernstein/power-usage-forwarder/internal/domain"
)

// StubProvider is a test double for providers.UsageProvider.
// Errors keyed by date (YYYY-MM-DD) take precedence over Err.
type StubProvider struct {
	Meters  []string
	Err     error
	ErrOn   map[string]error
	Notify  chan struct{}
	Block   chan struct{}
	mu      sync.Mutex
	fetched []string
}

// FetchUsage returns one sample payload per configured meter for the requested day.
func (s *StubProvider) FetchUsage(ctx context.Context, day time.Time) (domain.DailyUsage, error) {
	date := day.Format("2006-01-02")
	s.mu.Lock()
	s.fetched = append(s.fetched, date)
	if s.Notify != nil {
		select {
		case <-s.Notify:
		default:
			close(s.Notify)
		}
	}
	s.mu.Unlock()

	if s.Block != nil {
		select {
		case <-s.Block:
		case <-ctx.Done():
			return domain.DailyUsage{}, ctx.Err()
		}
	}
	if err, ok := s.ErrOn[date]; ok {
		return domain.DailyUsage{}, err
	}
	if s.Err != nil {
		return domain.DailyUsage{}, s.Err
	}
	return SampleUsage(day, s.Meters...), nil
}

// Fetched returns the dates requested so far, in call order.
func (s *StubProvider) Fetched() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.fetched...)
}

// SampleUsage builds a DailyUsage with a small raw payload per meter.
func SampleUsage(day time.Time, meterIDs ...string) domain.DailyUsage {
	usage := domain.DailyUsage{Date: day}
	for _, id := range meterIDs {
		usage.Meters = append(usage.Meters, domain.MeterData{
			MeterID: id,
			Data:    SamplePayload(id, day),
		})
	}
	return usage
}

// SamplePayload returns the raw JSON a meter reports for a day.
func SamplePayload(meterID string, day time.Time) json.RawMessage {
	raw, _ := json.Marshal(map[string]any{
		"meterId": meterID,
		"date":    day.Format("20060102"),
		"values":  []float64{0.25, 0.5},
	})
	return raw
}
