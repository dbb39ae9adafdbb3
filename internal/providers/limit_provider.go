package providers

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/preston-bernstein/power-usage-forwarder/internal/domain"
	"github.com/preston-bernstein/power-usage-forwarder/internal/logging"
	"github.com/preston-bernstein/power-usage-forwarder/internal/timeutil"
)

// rateLimitedProvider wraps a UsageProvider and enforces a minimum interval between calls.
type rateLimitedProvider struct {
	next     UsageProvider
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu   sync.Mutex
	last time.Time
}

// NewRateLimitedProvider returns a UsageProvider that spaces calls by at least interval.
// The first call goes through immediately; later calls block until the interval elapses.
// A non-positive interval returns next unchanged.
func NewRateLimitedProvider(next UsageProvider, interval time.Duration, logger *slog.Logger) UsageProvider {
	if interval <= 0 {
		return next
	}
	return &rateLimitedProvider{
		next:     next,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
}

func (p *rateLimitedProvider) FetchUsage(ctx context.Context, day time.Time) (domain.DailyUsage, error) {
	if p == nil || p.next == nil {
		if p != nil {
			logging.Warn(p.logger, "provider unavailable", slog.String(logging.FieldProvider, "rate-limited"))
		}
		return domain.DailyUsage{}, ErrProviderUnavailable
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.last.IsZero() {
		if wait := p.interval - p.now().Sub(p.last); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				logging.Warn(p.logger, "rate-limited fetch canceled", slog.String(logging.FieldProvider, "rate-limited"))
				return domain.DailyUsage{}, ctx.Err()
			case <-timer.C:
			}
		}
	} else if err := ctx.Err(); err != nil {
		return domain.DailyUsage{}, err
	}

	p.last = p.now()
	logging.Debug(p.logger, "rate-limited provider fetch",
		slog.String(logging.FieldProvider, "rate-limited"),
		slog.String(logging.FieldDate, timeutil.FormatDate(day)),
	)
	return p.next.FetchUsage(ctx, day)
}
