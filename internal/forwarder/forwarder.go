package forwarder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/preston-bernstein/power-usage-forwarder/internal/archive"
	"github.com/preston-bernstein/power-usage-forwarder/internal/domain"
	"github.com/preston-bernstein/power-usage-forwarder/internal/logging"
	"github.com/preston-bernstein/power-usage-forwarder/internal/metrics"
	"github.com/preston-bernstein/power-usage-forwarder/internal/providers"
	"github.com/preston-bernstein/power-usage-forwarder/internal/timeutil"
)

// Triggers label where a run came from.
const (
	TriggerCLI      = "cli"
	TriggerSchedule = "schedule"
	TriggerManual   = "manual"
	TriggerStartup  = "startup"
)

// ErrAlreadyForwarded marks a day that Blockbax already holds; the day is skipped, not failed.
var ErrAlreadyForwarded = errors.New("measurements already present")

// Sink receives forwarded usage and answers the idempotency check.
type Sink interface {
	Forward(ctx context.Context, usage domain.DailyUsage) error
	HasMeasurements(ctx context.Context, window timeutil.Window) (bool, error)
}

// Archiver keeps a local copy of forwarded payloads.
type Archiver interface {
	Save(runID string, usage domain.DailyUsage) error
}

// Request selects the days to process.
type Request struct {
	// Dates to process in order. Empty means yesterday.
	Dates []time.Time
	// Force skips the idempotency check.
	Force   bool
	Trigger string
}

// Options configures a Forwarder.
type Options struct {
	Provider providers.UsageProvider
	Sink     Sink
	// Archive is optional.
	Archive  Archiver
	Location *time.Location
	Logger   *slog.Logger
	Metrics  *metrics.Recorder
}

// Forwarder moves a day's meter data from the metering API to Blockbax.
type Forwarder struct {
	provider providers.UsageProvider
	sink     Sink
	archive  Archiver
	loc      *time.Location
	logger   *slog.Logger
	metrics  *metrics.Recorder
	now      func() time.Time
	newRunID func() string
}

func New(opts Options) *Forwarder {
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Forwarder{
		provider: opts.Provider,
		sink:     opts.Sink,
		archive:  opts.Archive,
		loc:      loc,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		now:      time.Now,
		newRunID: uuid.NewString,
	}
}

// Dates resolves the target days: yesterday when backfillDays is zero,
// otherwise backfillDays..1 days ago, oldest first.
func (f *Forwarder) Dates(backfillDays int) []time.Time {
	if backfillDays <= 0 {
		return []time.Time{timeutil.Yesterday(f.now(), f.loc)}
	}
	return timeutil.PastDays(f.now(), f.loc, backfillDays)
}

// Location is the zone that defines calendar days.
func (f *Forwarder) Location() *time.Location {
	return f.loc
}

// Run processes the requested days in order. The first failing day stops the
// run; days forwarded before it stay forwarded and appear in the report.
func (f *Forwarder) Run(ctx context.Context, req Request) (domain.RunReport, error) {
	if f.provider == nil || f.sink == nil {
		return domain.RunReport{}, errors.New("forwarder not configured")
	}
	dates := req.Dates
	if len(dates) == 0 {
		dates = f.Dates(0)
	}
	trigger := req.Trigger
	if trigger == "" {
		trigger = TriggerCLI
	}

	report := domain.RunReport{
		RunID:     f.newRunID(),
		Trigger:   trigger,
		StartedAt: f.now().UTC(),
		Days:      make([]domain.DayReport, 0, len(dates)),
	}
	logger := logging.FromContext(ctx, f.logger)
	if logger != nil {
		logger = logger.With(
			slog.String(logging.FieldRunID, report.RunID),
			slog.String(logging.FieldTrigger, trigger),
		)
	}
	ctx = logging.WithLogger(ctx, logger)

	logging.Info(logger, "run started",
		slog.Int(logging.FieldCount, len(dates)),
		slog.Bool("force", req.Force),
	)

	start := time.Now()
	var runErr error
	for _, day := range dates {
		day = timeutil.StartOfDay(day.In(f.loc))
		dayReport, err := f.processDay(ctx, report.RunID, day, req.Force)
		report.Days = append(report.Days, dayReport)
		f.metrics.RecordDay(string(dayReport.Outcome), dayReport.Bytes)
		if err != nil {
			runErr = fmt.Errorf("%s: %w", dayReport.Date, err)
			break
		}
	}
	report.FinishedAt = f.now().UTC()
	duration := time.Since(start)
	f.metrics.RecordRun(trigger, duration, runErr)

	attrs := []any{
		slog.Int(string(domain.OutcomeForwarded), report.Count(domain.OutcomeForwarded)),
		slog.Int(string(domain.OutcomeSkipped), report.Count(domain.OutcomeSkipped)),
		slog.Int64(logging.FieldDurationMS, duration.Milliseconds()),
	}
	if runErr != nil {
		logging.Error(logger, "run failed", runErr, attrs...)
		return report, runErr
	}
	logging.Info(logger, "run finished", attrs...)
	return report, nil
}

func (f *Forwarder) processDay(ctx context.Context, runID string, day time.Time, force bool) (domain.DayReport, error) {
	date := timeutil.FormatDate(day)
	logger := logging.FromContext(ctx, f.logger)
	if logger != nil {
		logger = logger.With(slog.String(logging.FieldDate, date))
	}
	start := time.Now()
	report := domain.DayReport{Date: date}
	finish := func(outcome domain.Outcome, err error) (domain.DayReport, error) {
		report.Outcome = outcome
		report.Duration = time.Since(start)
		report.DurationMS = report.Duration.Milliseconds()
		if err != nil {
			report.Error = err.Error()
		}
		return report, err
	}

	if err := f.checkForwarded(ctx, day, force); err != nil {
		if errors.Is(err, ErrAlreadyForwarded) {
			logging.Info(logger, "day already forwarded, skipping")
			return finish(domain.OutcomeSkipped, nil)
		}
		return finish(domain.OutcomeFailed, err)
	}

	usage, err := f.provider.FetchUsage(ctx, day)
	if err != nil {
		return finish(domain.OutcomeFailed, fmt.Errorf("fetch usage: %w", err))
	}
	usage.Date = day
	report.Meters = len(usage.Meters)
	report.Bytes = usage.Size()

	if err := f.sink.Forward(ctx, usage); err != nil {
		return finish(domain.OutcomeFailed, err)
	}
	logging.Info(logger, "day forwarded",
		slog.Int(logging.FieldCount, report.Meters),
		slog.Int(logging.FieldBytes, report.Bytes),
	)

	if f.archive != nil {
		err := f.archive.Save(runID, usage)
		switch {
		case errors.Is(err, archive.ErrOutsideRetention):
			logging.Warn(logger, "day older than archive retention, not archived")
		case err != nil:
			logging.Warn(logger, "archive write failed", slog.Any("error", err))
		}
	}
	return finish(domain.OutcomeForwarded, nil)
}

func (f *Forwarder) checkForwarded(ctx context.Context, day time.Time, force bool) error {
	if force {
		return nil
	}
	found, err := f.sink.HasMeasurements(ctx, timeutil.DayWindow(day))
	if err != nil {
		return fmt.Errorf("check existing measurements: %w", err)
	}
	if found {
		return ErrAlreadyForwarded
	}
	return nil
}
