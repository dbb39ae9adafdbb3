package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/preston-bernstein/power-usage-forwarder/internal/domain"
	"github.com/preston-bernstein/power-usage-forwarder/internal/forwarder"
	"github.com/preston-bernstein/power-usage-forwarder/internal/logging"
)

const (
	defaultSpec     = "0 * * * *"
	maxFailuresDown = 3
)

// ErrRunInProgress is returned by TryTrigger while another run holds the slot.
var ErrRunInProgress = errors.New("run already in progress")

// Runner executes one forwarding run.
type Runner interface {
	Run(ctx context.Context, req forwarder.Request) (domain.RunReport, error)
}

// Options configures a Scheduler.
type Options struct {
	// Spec is a standard five-field cron expression.
	Spec       string
	Location   *time.Location
	RunOnStart bool
	Logger     *slog.Logger
}

// Status describes the recent health of scheduled runs.
type Status struct {
	Running             bool              `json:"running"`
	ConsecutiveFailures int               `json:"consecutiveFailures"`
	LastError           string            `json:"lastError,omitempty"`
	LastAttempt         time.Time         `json:"lastAttempt"`
	LastSuccess         time.Time         `json:"lastSuccess"`
	NextRun             time.Time         `json:"nextRun"`
	LastReport          *domain.RunReport `json:"lastReport,omitempty"`
}

// IsReady reports whether a run has succeeded recently and runs are not failing repeatedly.
func (s Status) IsReady() bool {
	if s.LastSuccess.IsZero() {
		return false
	}
	return s.ConsecutiveFailures < maxFailuresDown
}

// Scheduler fires runs on a cron schedule and on demand. At most one run
// executes at a time; later triggers wait for it instead of cancelling it.
type Scheduler struct {
	runner     Runner
	cron       *cron.Cron
	entryID    cron.EntryID
	spec       string
	runOnStart bool
	logger     *slog.Logger

	slot chan struct{}

	startMu sync.Mutex
	started bool
	baseCtx context.Context
	wg      sync.WaitGroup

	statusMu sync.RWMutex
	status   Status
}

// New validates the schedule and constructs a stopped Scheduler.
func New(runner Runner, opts Options) (*Scheduler, error) {
	if runner == nil {
		return nil, errors.New("scheduler requires a runner")
	}
	spec := opts.Spec
	if spec == "" {
		spec = defaultSpec
	}
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}

	cl := cronLogger{logger: opts.Logger}
	s := &Scheduler{
		runner:     runner,
		spec:       spec,
		runOnStart: opts.RunOnStart,
		logger:     opts.Logger,
		slot:       make(chan struct{}, 1),
		baseCtx:    context.Background(),
	}
	s.cron = cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.DelayIfStillRunning(cl)),
	)
	id, err := s.cron.AddFunc(spec, s.scheduledRun)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	s.entryID = id
	return s, nil
}

// Start begins firing scheduled runs until Stop is called. Runs inherit ctx values and cancellation.
func (s *Scheduler) Start(ctx context.Context) {
	s.startMu.Lock()
	if s.started {
		s.startMu.Unlock()
		return
	}
	s.started = true
	s.baseCtx = ctx
	s.startMu.Unlock()

	s.cron.Start()
	logging.Info(s.logger, "scheduler started",
		slog.String("schedule", s.spec),
		slog.Time("next_run", s.NextRun()),
	)

	if s.runOnStart {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			_, _ = s.Trigger(ctx, forwarder.Request{Trigger: forwarder.TriggerStartup})
		}()
	}
}

// Stop halts the schedule and waits for an in-flight run or ctx, whichever ends first.
func (s *Scheduler) Stop(ctx context.Context) error {
	cronDone := s.cron.Stop()
	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		logging.Info(s.logger, "scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Trigger runs now, waiting for any in-flight run to finish first.
// The run itself is detached from ctx cancellation once started.
func (s *Scheduler) Trigger(ctx context.Context, req forwarder.Request) (domain.RunReport, error) {
	select {
	case s.slot <- struct{}{}:
	case <-ctx.Done():
		return domain.RunReport{}, ctx.Err()
	}
	return s.execute(context.WithoutCancel(ctx), req)
}

// TryTrigger runs now unless another run is in flight, in which case it returns ErrRunInProgress.
func (s *Scheduler) TryTrigger(ctx context.Context, req forwarder.Request) (domain.RunReport, error) {
	select {
	case s.slot <- struct{}{}:
	default:
		return domain.RunReport{}, ErrRunInProgress
	}
	return s.execute(context.WithoutCancel(ctx), req)
}

func (s *Scheduler) scheduledRun() {
	s.startMu.Lock()
	ctx := s.baseCtx
	s.startMu.Unlock()
	_, _ = s.Trigger(ctx, forwarder.Request{Trigger: forwarder.TriggerSchedule})
}

// execute must be called holding the slot.
func (s *Scheduler) execute(ctx context.Context, req forwarder.Request) (domain.RunReport, error) {
	defer func() { <-s.slot }()

	start := time.Now()
	s.recordAttempt(start)
	report, err := s.runner.Run(ctx, req)
	s.recordResult(report, err, start)
	if err != nil {
		logging.Warn(s.logger, "triggered run failed",
			slog.String(logging.FieldTrigger, req.Trigger),
			slog.Any("error", err),
		)
	}
	return report, err
}

// NextRun returns when the schedule fires next, or the zero time when stopped.
func (s *Scheduler) NextRun() time.Time {
	return s.cron.Entry(s.entryID).Next
}

// Status returns a snapshot of the scheduler's recent health.
func (s *Scheduler) Status() Status {
	s.statusMu.RLock()
	st := s.status
	s.statusMu.RUnlock()
	st.NextRun = s.NextRun()
	return st
}

func (s *Scheduler) recordAttempt(at time.Time) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	s.status.Running = true
	s.status.LastAttempt = at
}

func (s *Scheduler) recordResult(report domain.RunReport, err error, at time.Time) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	s.status.Running = false
	if report.RunID != "" {
		r := report
		s.status.LastReport = &r
	}
	if err != nil {
		s.status.ConsecutiveFailures++
		s.status.LastError = err.Error()
		return
	}
	s.status.ConsecutiveFailures = 0
	s.status.LastError = ""
	s.status.LastSuccess = at
}
