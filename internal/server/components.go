package server

import (
	"log/slog"
	"net/http"

	"github.com/preston-bernstein/power-usage-forwarder/internal/archive"
	"github.com/preston-bernstein/power-usage-forwarder/internal/blockbax"
	"github.com/preston-bernstein/power-usage-forwarder/internal/config"
	"github.com/preston-bernstein/power-usage-forwarder/internal/forwarder"
	"github.com/preston-bernstein/power-usage-forwarder/internal/metrics"
)

// BuildForwarder wires the metering client, the Blockbax sink and the archive
// into a Forwarder. Both the one-shot command and serve mode use it.
func BuildForwarder(cfg config.Config, logger *slog.Logger, recorder *metrics.Recorder) *forwarder.Forwarder {
	return buildForwarder(cfg, logger, recorder, newProviderFactory(logger, recorder))
}

func buildForwarder(cfg config.Config, logger *slog.Logger, recorder *metrics.Recorder, factory providerFactory) *forwarder.Forwarder {
	return forwarder.New(forwarder.Options{
		Provider: factory.build(cfg),
		Sink:     buildSink(cfg, logger, recorder),
		Archive:  buildArchive(cfg, logger),
		Location: cfg.Location(),
		Logger:   logger,
		Metrics:  recorder,
	})
}

func buildSink(cfg config.Config, logger *slog.Logger, recorder *metrics.Recorder) *blockbax.Client {
	return blockbax.NewClient(blockbax.Config{
		IngestURL:     cfg.Blockbax.IngestURL,
		APIURL:        cfg.Blockbax.APIURL,
		APIKey:        cfg.Blockbax.APIKey,
		ProjectID:     cfg.Blockbax.ProjectID,
		MetricID:      cfg.Blockbax.MetricID,
		HTTPClient:    &http.Client{Timeout: cfg.HTTPTimeout},
		RetryAttempts: cfg.Retry.Attempts,
		RetryBackoff:  cfg.Retry.Backoff,
		Logger:        logger,
		Metrics:       recorder,
	})
}

// buildArchive returns nil when archiving is disabled so the forwarder skips it.
func buildArchive(cfg config.Config, logger *slog.Logger) forwarder.Archiver {
	if !cfg.Archive.Enabled || cfg.Archive.Dir == "" {
		if logger != nil {
			logger.Info("payload archive disabled")
		}
		return nil
	}
	return archive.NewWriter(cfg.Archive.Dir, cfg.Archive.RetentionDays)
}
