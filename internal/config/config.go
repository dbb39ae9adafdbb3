package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds runtime configuration for the forwarder.
type Config struct {
	Port           string
	Schedule       ScheduleConfig
	HTTPTimeout    Duration
	Retry          RetryConfig
	AdminToken     string
	HetMeetbedrijf HetMeetbedrijfConfig
	Blockbax       BlockbaxConfig
	Archive        ArchiveConfig
	Metrics        MetricsConfig
}

// RetryConfig controls how failed upstream calls are retried.
type RetryConfig struct {
	Attempts int
	Backoff  Duration
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	return Config{
		Port:        envOrDefault(envPort, defaultPort),
		Schedule:    loadSchedule(),
		HTTPTimeout: durationEnvOrDefault(envHTTPTimeout, defaultHTTPTimeout),
		Retry: RetryConfig{
			Attempts: intEnvOrDefault(envRetryCount, defaultRetryCount),
			Backoff:  durationEnvOrDefault(envRetryBackoff, defaultRetryBackoff),
		},
		AdminToken:     envOrDefault(envAdminToken, ""),
		HetMeetbedrijf: loadHetMeetbedrijf(),
		Blockbax:       loadBlockbax(),
		Archive:        loadArchive(),
		Metrics:        loadMetrics(),
	}
}

// Validate reports every missing or malformed required setting at once.
func (c Config) Validate() error {
	var errs []error
	required := []struct {
		key string
		val string
	}{
		{envHmbClientID, c.HetMeetbedrijf.ClientID},
		{envHmbClientSecret, c.HetMeetbedrijf.ClientSecret},
		{envHmbTokenURL, c.HetMeetbedrijf.TokenURL},
		{envProjectID, c.Blockbax.ProjectID},
		{envBlockbaxAPIKey, c.Blockbax.APIKey},
		{envBlockbaxURL, c.Blockbax.IngestURL},
	}
	for _, r := range required {
		if r.val == "" {
			errs = append(errs, fmt.Errorf("%s is required", r.key))
		}
	}
	if _, err := time.LoadLocation(c.Schedule.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", envTimezone, err))
	}
	return errors.Join(errs...)
}

// Location resolves the configured timezone, falling back to UTC.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Schedule.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// String renders the configuration without secrets.
func (c Config) String() string {
	return fmt.Sprintf(
		"port=%s schedule=%q tz=%s project=%s metric=%s archive=%t metrics=%t admin=%t",
		c.Port,
		c.Schedule.Spec,
		c.Schedule.Timezone,
		c.Blockbax.ProjectID,
		c.Blockbax.MetricID,
		c.Archive.Enabled,
		c.Metrics.Enabled,
		c.AdminToken != "",
	)
}
