package providers

import (
	"context"
	"time"

	"github.com/preston-bernstein/power-usage-forwarder/internal/domain"
)

// UsageProvider fetches the raw usage of every meter for one calendar day.
// The day is interpreted in the location carried by the time value.
type UsageProvider interface {
	FetchUsage(ctx context.Context, day time.Time) (domain.DailyUsage, error)
}

// UsageProviderFunc adapts a function to UsageProvider.
type UsageProviderFunc func(ctx context.Context, day time.Time) (domain.DailyUsage, error)

// FetchUsage calls f.
func (f UsageProviderFunc) FetchUsage(ctx context.Context, day time.Time) (domain.DailyUsage, error) {
	return f(ctx, day)
}
