package config

// BlockbaxConfig controls where usage is forwarded and how we query Blockbax.
type BlockbaxConfig struct {
	// IngestURL receives the raw payload list (inbound connector).
	IngestURL string
	// APIURL is the REST base used for the already-forwarded check.
	APIURL    string
	APIKey    string
	ProjectID string
	// MetricID narrows the measurement search; optional.
	MetricID string
}

func loadBlockbax() BlockbaxConfig {
	return BlockbaxConfig{
		IngestURL: envOrDefault(envBlockbaxURL, ""),
		APIURL:    envOrDefault(envBlockbaxAPIURL, defaultBlockbaxAPIURL),
		APIKey:    envOrDefault(envBlockbaxAPIKey, ""),
		ProjectID: firstEnv(envProjectID, envProjectIDLegacy),
		MetricID:  envOrDefault(envLeveringMetricID, ""),
	}
}
