package archive

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// Manifest summarizes the archive contents.
type Manifest struct {
	Version     int       `json:"version"`
	GeneratedAt time.Time `json:"generatedAt"`
	Retention   Retention `json:"retention"`
	Usage       UsageMeta `json:"usage"`
}

type Retention struct {
	UsageDays int `json:"usageDays"`
}

type UsageMeta struct {
	Dates         []string  `json:"dates"`
	LastForwarded time.Time `json:"lastForwarded"`
	LastDate      string    `json:"lastDate"`
	LastRunID     string    `json:"lastRunId"`
}

func defaultManifest(retentionDays int) Manifest {
	return Manifest{
		Version:   1,
		Retention: Retention{UsageDays: retentionDays},
		Usage:     UsageMeta{Dates: []string{}},
	}
}

func readManifest(path string, retentionDays int) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return defaultManifest(retentionDays), err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return defaultManifest(retentionDays), err
	}
	return m, nil
}

// ReadManifest loads the manifest stored under basePath.
func ReadManifest(basePath string) (Manifest, error) {
	return readManifest(filepath.Join(basePath, manifestFile), defaultRetentionDays)
}
