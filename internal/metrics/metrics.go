package metrics

import (
	"sync"
	"time"
)

type providerStats struct {
	calls           int
	errors          int
	rateLimitHits   int
	lastRetryAfter  time.Duration
	lastCallLatency time.Duration
}

type runStats struct {
	runs           int
	failures       int
	lastDuration   time.Duration
	days           map[string]int
	bytesForwarded int64
}

// Recorder keeps in-memory counters for provider calls and forwarding runs and
// mirrors them to OpenTelemetry instruments when telemetry is enabled.
// A nil Recorder is valid and records nothing.
type Recorder struct {
	mu    sync.Mutex
	stats map[string]*providerStats
	runs  runStats
	otel  *otelInstruments
}

func NewRecorder() *Recorder {
	return newRecorder(nil)
}

func newRecorder(otel *otelInstruments) *Recorder {
	return &Recorder{
		stats: make(map[string]*providerStats),
		runs:  runStats{days: make(map[string]int)},
		otel:  otel,
	}
}

// RecordProviderAttempt increments counters for an upstream call and stores the last observed latency.
func (r *Recorder) RecordProviderAttempt(provider string, duration time.Duration, err error) {
	if r == nil {
		return
	}

	r.mu.Lock()
	stats := r.ensureStats(provider)
	stats.calls++
	stats.lastCallLatency = duration
	if err != nil {
		stats.errors++
	}
	r.mu.Unlock()

	if r.otel != nil {
		r.otel.recordProviderAttempt(provider, duration, err)
	}
}

// RecordRateLimit tracks that an upstream response hit a rate limit and stores the last Retry-After.
func (r *Recorder) RecordRateLimit(provider string, retryAfter time.Duration) {
	if r == nil {
		return
	}

	r.mu.Lock()
	stats := r.ensureStats(provider)
	stats.rateLimitHits++
	if retryAfter > 0 {
		stats.lastRetryAfter = retryAfter
	}
	r.mu.Unlock()

	if r.otel != nil {
		r.otel.recordRateLimit(provider, retryAfter)
	}
}

// RecordRun tracks a completed forwarding run.
func (r *Recorder) RecordRun(trigger string, duration time.Duration, err error) {
	if r == nil {
		return
	}

	r.mu.Lock()
	r.runs.runs++
	r.runs.lastDuration = duration
	if err != nil {
		r.runs.failures++
	}
	r.mu.Unlock()

	if r.otel != nil {
		r.otel.recordRun(trigger, duration, err)
	}
}

// RecordDay tracks the outcome of a single forwarded day and the payload size sent.
func (r *Recorder) RecordDay(outcome string, bytes int) {
	if r == nil {
		return
	}

	r.mu.Lock()
	r.runs.days[outcome]++
	if bytes > 0 {
		r.runs.bytesForwarded += int64(bytes)
	}
	r.mu.Unlock()

	if r.otel != nil {
		r.otel.recordDay(outcome, bytes)
	}
}

// RecordHTTPRequest tracks basic HTTP metrics.
func (r *Recorder) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	if r == nil || r.otel == nil {
		return
	}
	r.otel.recordHTTPRequest(method, path, status, duration)
}

// ProviderCalls returns the total attempts recorded for a provider.
func (r *Recorder) ProviderCalls(provider string) int {
	return r.Snapshot(provider).Calls
}

// ProviderErrors returns the total failed attempts recorded for a provider.
func (r *Recorder) ProviderErrors(provider string) int {
	return r.Snapshot(provider).Errors
}

// RateLimitHits returns the number of rate limit events seen for a provider.
func (r *Recorder) RateLimitHits(provider string) int {
	return r.Snapshot(provider).RateLimitHits
}

// LastRetryAfter returns the most recent Retry-After recorded for a provider.
func (r *Recorder) LastRetryAfter(provider string) time.Duration {
	return r.Snapshot(provider).LastRetryAfter
}

// Snapshot is a copy of the stats recorded for one provider.
type Snapshot struct {
	Calls           int
	Errors          int
	RateLimitHits   int
	LastRetryAfter  time.Duration
	LastCallLatency time.Duration
}

func (r *Recorder) Snapshot(provider string) Snapshot {
	if r == nil {
		return Snapshot{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	stats, ok := r.stats[provider]
	if !ok || stats == nil {
		return Snapshot{}
	}
	return Snapshot{
		Calls:           stats.calls,
		Errors:          stats.errors,
		RateLimitHits:   stats.rateLimitHits,
		LastRetryAfter:  stats.lastRetryAfter,
		LastCallLatency: stats.lastCallLatency,
	}
}

// RunSnapshot is a copy of the run counters.
type RunSnapshot struct {
	Runs           int
	Failures       int
	LastDuration   time.Duration
	Days           map[string]int
	BytesForwarded int64
}

func (r *Recorder) Runs() RunSnapshot {
	if r == nil {
		return RunSnapshot{Days: map[string]int{}}
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	days := make(map[string]int, len(r.runs.days))
	for k, v := range r.runs.days {
		days[k] = v
	}
	return RunSnapshot{
		Runs:           r.runs.runs,
		Failures:       r.runs.failures,
		LastDuration:   r.runs.lastDuration,
		Days:           days,
		BytesForwarded: r.runs.bytesForwarded,
	}
}

// ensureStats must be called with r.mu held.
func (r *Recorder) ensureStats(provider string) *providerStats {
	stats, ok := r.stats[provider]
	if !ok {
		stats = &providerStats{}
		r.stats[provider] = stats
	}
	return stats
}
