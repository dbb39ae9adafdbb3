package config

// ArchiveConfig controls the on-disk copy of every forwarded payload.
type ArchiveConfig struct {
	Enabled       bool
	Dir           string
	RetentionDays int
}

func loadArchive() ArchiveConfig {
	return ArchiveConfig{
		Enabled:       boolEnvOrDefault(envArchiveOn, defaultArchiveOn),
		Dir:           envOrDefault(envArchiveDir, defaultArchiveDir),
		RetentionDays: intEnvOrDefault(envArchiveDays, defaultArchiveDays),
	}
}
