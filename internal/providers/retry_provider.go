package providers

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/preston-bernstein/power-usage-forwarder/internal/domain"
	"github.com/preston-bernstein/power-usage-forwarder/internal/logging"
	"github.com/preston-bernstein/power-usage-forwarder/internal/metrics"
	"github.com/preston-bernstein/power-usage-forwarder/internal/timeutil"
)

const (
	defaultRetryAttempts = 3
	defaultBackoff       = 200 * time.Millisecond
	maxBackoff           = 30 * time.Second
)

// retryingProvider wraps a UsageProvider with retry/backoff behavior.
type retryingProvider struct {
	inner       UsageProvider
	logger      *slog.Logger
	metrics     *metrics.Recorder
	name        string
	maxAttempts int
	newBackOff  func() backoff.BackOff
}

// NewRetryingProvider wraps the given provider with retries. If maxAttempts/backoff are <= 0, defaults are used.
// Only errors classified by Retryable are retried.
func NewRetryingProvider(inner UsageProvider, logger *slog.Logger, recorder *metrics.Recorder, name string, maxAttempts int, initial time.Duration) UsageProvider {
	if maxAttempts <= 0 {
		maxAttempts = defaultRetryAttempts
	}
	if initial <= 0 {
		initial = defaultBackoff
	}
	return &retryingProvider{
		inner:       inner,
		logger:      logger,
		metrics:     recorder,
		name:        name,
		maxAttempts: maxAttempts,
		newBackOff: func() backoff.BackOff {
			return NewExponentialBackOff(initial)
		},
	}
}

// NewExponentialBackOff builds the shared backoff curve used for upstream calls.
// Attempt limits are applied by callers.
func NewExponentialBackOff(initial time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.MaxInterval = maxBackoff
	b.MaxElapsedTime = 0
	return b
}

func (r *retryingProvider) FetchUsage(ctx context.Context, day time.Time) (domain.DailyUsage, error) {
	if r.inner == nil {
		return domain.DailyUsage{}, ErrProviderUnavailable
	}
	date := timeutil.FormatDate(day)
	var (
		usage   domain.DailyUsage
		attempt int
	)
	op := func() error {
		attempt++
		start := time.Now()
		got, err := r.inner.FetchUsage(ctx, day)
		r.metrics.RecordProviderAttempt(r.name, time.Since(start), err)
		if err != nil {
			if rl, ok := AsRateLimitError(err); ok {
				r.metrics.RecordRateLimit(r.name, rl.RetryAfter)
			}
			if !Retryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		usage = got
		return nil
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(r.newBackOff(), uint64(r.maxAttempts-1)), ctx)
	notify := func(err error, wait time.Duration) {
		logWithProvider(ctx, logging.FromContext(ctx, r.logger), slog.LevelWarn, r.name, "provider fetch retry",
			slog.String(logging.FieldDate, date),
			slog.Int(logging.FieldAttempt, attempt),
			slog.Int("max_attempts", r.maxAttempts),
			slog.Int64("wait_ms", wait.Milliseconds()),
			slog.Any("error", err),
		)
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		logWithProvider(ctx, logging.FromContext(ctx, r.logger), slog.LevelWarn, r.name, "provider fetch failed",
			slog.String(logging.FieldDate, date),
			slog.Int("attempts", attempt),
			slog.Any("error", err),
		)
		return domain.DailyUsage{}, err
	}
	return usage, nil
}
