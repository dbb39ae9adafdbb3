package store

import (
	"sync"

	"github.com/preston-bernstein/power-usage-forwarder/internal/domain"
)

const defaultRunCapacity = 50

// RunStore keeps the most recent run reports in memory, newest first.
type RunStore struct {
	mu       sync.RWMutex
	capacity int
	runs     []domain.RunReport
}

// NewRunStore constructs an empty RunStore. A non-positive capacity uses the default.
func NewRunStore(capacity int) *RunStore {
	if capacity <= 0 {
		capacity = defaultRunCapacity
	}
	return &RunStore{capacity: capacity}
}

// Add records a report, evicting the oldest once capacity is reached.
// Reports without a run id are ignored.
func (s *RunStore) Add(report domain.RunReport) {
	if report.RunID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs = append([]domain.RunReport{report}, s.runs...)
	if len(s.runs) > s.capacity {
		s.runs = s.runs[:s.capacity]
	}
}

// ListRuns returns a copy of the stored reports, newest first.
func (s *RunStore) ListRuns() []domain.RunReport {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.RunReport, len(s.runs))
	copy(result, s.runs)
	return result
}

// GetRun retrieves a report by run id.
func (s *RunStore) GetRun(id string) (domain.RunReport, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.runs {
		if r.RunID == id {
			return r, true
		}
	}
	return domain.RunReport{}, false
}
