package archive

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/preston-bernstein/power-usage-forwarder/internal/domain"
	"github.com/preston-bernstein/power-usage-forwarder/internal/timeutil"
)

const (
	usageDir             = "usage"
	manifestFile         = "manifest.json"
	defaultRetentionDays = 30
)

var (
	// ErrNotFound is returned by Load when no archive exists for the date.
	ErrNotFound = errors.New("archive not found")
	// ErrOutsideRetention is returned by Save for days prune would remove straight away.
	ErrOutsideRetention = errors.New("date outside archive retention")
)

// Entry is the on-disk record of one forwarded day.
type Entry struct {
	Date        string             `json:"date"`
	ForwardedAt time.Time          `json:"forwardedAt"`
	RunID       string             `json:"runId"`
	Meters      []domain.MeterData `json:"meters"`
}

// Writer persists forwarded payloads per day and keeps a manifest with a rolling retention window.
type Writer struct {
	basePath      string
	retentionDays int
	now           func() time.Time

	mu sync.Mutex
}

// NewWriter constructs a writer rooted at basePath.
func NewWriter(basePath string, retentionDays int) *Writer {
	if retentionDays <= 0 {
		retentionDays = defaultRetentionDays
	}
	return &Writer{
		basePath:      basePath,
		retentionDays: retentionDays,
		now:           time.Now,
	}
}

// BasePath exposes the writer root path.
func (w *Writer) BasePath() string {
	if w == nil {
		return ""
	}
	return w.basePath
}

// Path returns the archive file for a YYYY-MM-DD date.
func (w *Writer) Path(date string) string {
	return filepath.Join(w.basePath, usageDir, date+".json")
}

// Save archives the payload forwarded for usage.Date and prunes expired days.
// Writes go through a temp file and rename so readers never see partial files.
func (w *Writer) Save(runID string, usage domain.DailyUsage) error {
	if w == nil {
		return errors.New("archive writer not configured")
	}
	if usage.Date.IsZero() {
		return errors.New("archive date required")
	}
	date := timeutil.FormatDate(usage.Date)
	if w.expired(date) {
		return fmt.Errorf("%s: %w", date, ErrOutsideRetention)
	}
	entry := Entry{
		Date:        date,
		ForwardedAt: w.now().UTC(),
		RunID:       runID,
		Meters:      usage.Meters,
	}
	if entry.Meters == nil {
		entry.Meters = []domain.MeterData{}
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	target := w.Path(date)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create archive dir: %w", err)
	}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return err
	}
	if err := writeAtomic(target, data); err != nil {
		return fmt.Errorf("write archive %s: %w", date, err)
	}
	return w.updateManifest(date, runID)
}

// Has reports whether an archive exists for the date.
func (w *Writer) Has(date string) bool {
	if w == nil || date == "" {
		return false
	}
	info, err := os.Stat(w.Path(date))
	return err == nil && !info.IsDir()
}

// Load reads the archived entry for a YYYY-MM-DD date.
func (w *Writer) Load(date string) (Entry, error) {
	if w == nil {
		return Entry{}, errors.New("archive writer not configured")
	}
	if _, err := timeutil.ParseDate(date); err != nil {
		return Entry{}, fmt.Errorf("invalid archive date %q: %w", date, err)
	}
	data, err := os.ReadFile(w.Path(date))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Entry{}, fmt.Errorf("%s: %w", date, ErrNotFound)
		}
		return Entry{}, err
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return Entry{}, fmt.Errorf("decode archive %s: %w", date, err)
	}
	return entry, nil
}

// Dates lists archived dates in ascending order.
func (w *Writer) Dates() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(w.basePath, usageDir))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []string{}, nil
		}
		return nil, err
	}
	dates := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || filepath.Ext(name) != ".json" {
			continue
		}
		dates = append(dates, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(dates)
	return dates, nil
}

func (w *Writer) updateManifest(date, runID string) error {
	manifestPath := filepath.Join(w.basePath, manifestFile)
	m, _ := readManifest(manifestPath, w.retentionDays)

	dates, err := w.Dates()
	if err != nil {
		return err
	}
	m.Usage.Dates = w.prune(dates)
	m.Usage.LastForwarded = w.now().UTC()
	m.Usage.LastDate = date
	m.Usage.LastRunID = runID
	m.Retention.UsageDays = w.retentionDays
	m.GeneratedAt = w.now().UTC()

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(manifestPath, data)
}

// prune removes archives older than the retention window and returns the dates kept.
// Files whose names are not dates are left alone.
func (w *Writer) prune(dates []string) []string {
	keep := make([]string, 0, len(dates))
	for _, d := range dates {
		if w.expired(d) {
			_ = os.Remove(w.Path(d))
			continue
		}
		keep = append(keep, d)
	}
	return keep
}

// expired reports whether a YYYY-MM-DD date falls before the retention window.
func (w *Writer) expired(date string) bool {
	parsed, err := timeutil.ParseDate(date)
	if err != nil {
		return false
	}
	cutoff := timeutil.StartOfDay(w.now().UTC()).AddDate(0, 0, -w.retentionDays)
	return parsed.Before(cutoff)
}

func writeAtomic(path string, data []byte) error {
	if existing, err := os.ReadFile(path); err == nil && bytes.Equal(existing, data) {
		return nil
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
