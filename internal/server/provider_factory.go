package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/preston-bernstein/power-usage-forwarder/internal/config"
	"github.com/preston-bernstein/power-usage-forwarder/internal/metrics"
	"github.com/preston-bernstein/power-usage-forwarder/internal/providers"
	"github.com/preston-bernstein/power-usage-forwarder/internal/providers/hetmeetbedrijf"
)

// daySpacing keeps backfills from hammering the metering API with back-to-back days.
const daySpacing = time.Second

// providerFactory assembles the metering client with shared wrappers (rate limit + retry).
type providerFactory struct {
	logger  *slog.Logger
	metrics *metrics.Recorder
	// spacing overrides daySpacing; tests set it to zero.
	spacing time.Duration
}

func newProviderFactory(logger *slog.Logger, metrics *metrics.Recorder) providerFactory {
	return providerFactory{logger: logger, metrics: metrics, spacing: daySpacing}
}

func (f providerFactory) build(cfg config.Config) providers.UsageProvider {
	base := hetmeetbedrijf.NewClient(hetmeetbedrijf.Config{
		BaseURL:      cfg.HetMeetbedrijf.BaseURL,
		TokenURL:     cfg.HetMeetbedrijf.TokenURL,
		ClientID:     cfg.HetMeetbedrijf.ClientID,
		ClientSecret: cfg.HetMeetbedrijf.ClientSecret,
		HTTPClient:   &http.Client{Timeout: cfg.HTTPTimeout},
		Logger:       f.logger,
	})
	limited := providers.NewRateLimitedProvider(base, f.spacing, f.logger)
	return providers.NewRetryingProvider(limited, f.logger, f.metrics, hetmeetbedrijf.Name, cfg.Retry.Attempts, cfg.Retry.Backoff)
}
