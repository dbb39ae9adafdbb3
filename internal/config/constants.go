package config

import "time"

const (
	envPort         = "PORT"
	envSchedule     = "SCHEDULE"
	envTimezone     = "TIMEZONE"
	envRunOnStart   = "RUN_ON_START"
	envHTTPTimeout  = "HTTP_TIMEOUT"
	envRetryCount   = "RETRY_ATTEMPTS"
	envRetryBackoff = "RETRY_BACKOFF"
	envMetricsPort  = "METRICS_PORT"
	envMetricsOn    = "METRICS_ENABLED"
	envOtelEndpoint = "OTEL_EXPORTER_OTLP_ENDPOINT"
	envOtelService  = "OTEL_SERVICE_NAME"
	envOtelInsecure = "OTEL_EXPORTER_OTLP_INSECURE"
	envAdminToken   = "ADMIN_TOKEN"
	envArchiveOn    = "ARCHIVE_ENABLED"
	envArchiveDir   = "ARCHIVE_DIR"
	envArchiveDays  = "ARCHIVE_RETENTION_DAYS"

	envHmbClientID     = "HETMEETBEDRIJF_CLIENT_ID"
	envHmbClientSecret = "HETMEETBEDRIJF_CLIENT_SECRET"
	envHmbTokenURL     = "HETMEETBEDRIJF_TOKEN_URL"
	envHmbBaseURL      = "HETMEETBEDRIJF_BASE_URL"

	envProjectID        = "PROJECT_ID"
	envProjectIDLegacy  = "BLOCKBAX_PROJECT_ID"
	envBlockbaxAPIKey   = "BLOCKBAX_API_KEY"
	envBlockbaxURL      = "BLOCKBAX_URL"
	envBlockbaxAPIURL   = "BLOCKBAX_API_URL"
	envLeveringMetricID = "LEVERING_METRIC_ID"

	// defaultSchedule fires hourly, on the hour.
	defaultSchedule     = "0 * * * *"
	defaultPort         = "4000"
	defaultTimezone     = "UTC"
	defaultRunOnStart   = true
	defaultHTTPTimeout  = 30 * Duration(time.Second)
	defaultRetryCount   = 3
	defaultRetryBackoff = 2 * Duration(time.Second)
	defaultMetricsPort  = "9090"
	defaultServiceName  = "power-usage-forwarder"
	defaultArchiveOn    = true
	defaultArchiveDir   = "data/archive"
	defaultArchiveDays  = 30

	defaultHmbBaseURL     = "https://api.hetmeetbedrijf.nl/uwmeetdata/api"
	defaultBlockbaxAPIURL = "https://api.blockbax.com/v1"
)
