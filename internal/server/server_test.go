package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/preston-bernstein/power-usage-forwarder/internal/config"
	"github.com/preston-bernstein/power-usage-forwarder/internal/domain"
	"github.com/preston-bernstein/power-usage-forwarder/internal/forwarder"
	"github.com/preston-bernstein/power-usage-forwarder/internal/scheduler"
	"github.com/preston-bernstein/power-usage-forwarder/internal/testutil"
)

// upstream fakes both the metering API and Blockbax on one listener.
type upstream struct {
	t *testing.T

	mu        sync.Mutex
	forwarded []string
	existing  bool
}

func (u *upstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/hmb/token":
		_, _ = io.WriteString(w, `{"token":"tok"}`)
	case "/hmb/api/Meter/MyMeters":
		_, _ = io.WriteString(w, `{"meters":[{"id":"m1"},{"id":"m2"}]}`)
	case "/hmb/api/Data/GetDataRaw":
		_, _ = io.WriteString(w, `{"meter":"`+r.URL.Query().Get("meterID")+`"}`)
	case "/bbx/v1/projects/proj/subjects":
		_, _ = io.WriteString(w, `{"result":[{"id":"s1"}]}`)
	case "/bbx/v1/projects/proj/measurements":
		u.mu.Lock()
		existing := u.existing
		u.mu.Unlock()
		if existing {
			_, _ = io.WriteString(w, `{"result":[{"value":1}]}`)
			return
		}
		_, _ = io.WriteString(w, `{"result":[]}`)
	case "/bbx/ingest":
		assert.Equal(u.t, "ApiKey key", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		u.mu.Lock()
		u.forwarded = append(u.forwarded, string(body))
		u.mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	default:
		http.NotFound(w, r)
	}
}

func (u *upstream) bodies() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.forwarded...)
}

func newUpstream(t *testing.T) (*upstream, *httptest.Server) {
	t.Helper()
	u := &upstream{t: t}
	ts := httptest.NewServer(u)
	t.Cleanup(ts.Close)
	return u, ts
}

func testConfig(t *testing.T, baseURL string) config.Config {
	t.Helper()
	return config.Config{
		Port:        "0",
		Schedule:    config.ScheduleConfig{Spec: "0 * * * *", Timezone: "UTC"},
		HTTPTimeout: 2 * time.Second,
		Retry:       config.RetryConfig{Attempts: 1, Backoff: time.Millisecond},
		AdminToken:  "secret",
		HetMeetbedrijf: config.HetMeetbedrijfConfig{
			BaseURL:      baseURL + "/hmb/api",
			TokenURL:     baseURL + "/hmb/token",
			ClientID:     "client",
			ClientSecret: "shh",
		},
		Blockbax: config.BlockbaxConfig{
			IngestURL: baseURL + "/bbx/ingest",
			APIURL:    baseURL + "/bbx/v1",
			APIKey:    "key",
			ProjectID: "proj",
		},
		Archive: config.ArchiveConfig{Enabled: true, Dir: t.TempDir(), RetentionDays: 5},
		Metrics: config.MetricsConfig{Enabled: false},
	}
}

func newTestServer(t *testing.T, cfg config.Config) *Server {
	t.Helper()
	rec, _ := testutil.NewRecorderWithShutdown()
	factory := providerFactory{metrics: rec}
	srv, err := newServerWithFactory(cfg, nil, "test", rec, &factory)
	require.NoError(t, err)
	return srv
}

type stubScheduler struct {
	mu         sync.Mutex
	startCalls int
	stopCalls  int
	err        error
	status     scheduler.Status
}

func (s *stubScheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startCalls++
}

func (s *stubScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopCalls++
	return s.err
}

func (s *stubScheduler) Status() scheduler.Status {
	return s.status
}

func (s *stubScheduler) TryTrigger(ctx context.Context, req forwarder.Request) (domain.RunReport, error) {
	return domain.RunReport{}, nil
}

func (s *stubScheduler) calls() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startCalls, s.stopCalls
}

type stubHTTPServer struct {
	mu            sync.Mutex
	handler       http.Handler
	listenErr     error
	shutdownCalls int
	shutdownErr   error
}

func (s *stubHTTPServer) ListenAndServe() error {
	if s.listenErr != nil {
		return s.listenErr
	}
	return http.ErrServerClosed
}

func (s *stubHTTPServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shutdownCalls++
	return s.shutdownErr
}

func (s *stubHTTPServer) Addr() string          { return ":0" }
func (s *stubHTTPServer) Handler() http.Handler { return s.handler }

func (s *stubHTTPServer) shutdowns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutdownCalls
}

type blockingHTTPServer struct {
	stubHTTPServer
	unblock chan struct{}
}

func (s *blockingHTTPServer) Shutdown(ctx context.Context) error {
	_ = s.stubHTTPServer.Shutdown(ctx)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.unblock:
		return nil
	}
}

func TestServerAdminRunForwardsDay(t *testing.T) {
	up, ts := newUpstream(t)
	cfg := testConfig(t, ts.URL)
	srv := newTestServer(t, cfg)

	rr := testutil.ServeWithBearer(srv.Handler(), http.MethodPost, "/admin/run?date=2024-05-01", "secret")
	testutil.AssertStatus(t, rr, http.StatusOK)

	var report domain.RunReport
	testutil.DecodeJSON(t, rr, &report)
	assert.Equal(t, forwarder.TriggerManual, report.Trigger)
	require.Len(t, report.Days, 1)
	assert.Equal(t, "2024-05-01", report.Days[0].Date)
	assert.Equal(t, domain.OutcomeForwarded, report.Days[0].Outcome)
	assert.Equal(t, 2, report.Days[0].Meters)

	bodies := up.bodies()
	require.Len(t, bodies, 1)
	assert.JSONEq(t, `[{"meter":"m1"},{"meter":"m2"}]`, bodies[0])

	st := srv.Status()
	assert.True(t, st.IsReady())
	assert.Equal(t, 0, st.ConsecutiveFailures)

	testutil.AssertStatus(t, testutil.Serve(srv.Handler(), http.MethodGet, "/ready", nil), http.StatusOK)

	rr = testutil.Serve(srv.Handler(), http.MethodGet, "/runs/"+report.RunID, nil)
	testutil.AssertStatus(t, rr, http.StatusOK)
	assert.Contains(t, rr.Body.String(), report.RunID)
}

func TestServerAdminRunSkipsForwardedDayUnlessForced(t *testing.T) {
	up, ts := newUpstream(t)
	up.existing = true
	srv := newTestServer(t, testConfig(t, ts.URL))

	rr := testutil.ServeWithBearer(srv.Handler(), http.MethodPost, "/admin/run?date=2024-05-01", "secret")
	testutil.AssertStatus(t, rr, http.StatusOK)
	var report domain.RunReport
	testutil.DecodeJSON(t, rr, &report)
	require.Len(t, report.Days, 1)
	assert.Equal(t, domain.OutcomeSkipped, report.Days[0].Outcome)
	assert.Empty(t, up.bodies())

	rr = testutil.ServeWithBearer(srv.Handler(), http.MethodPost, "/admin/run?date=2024-05-01&force=true", "secret")
	testutil.AssertStatus(t, rr, http.StatusOK)
	assert.Len(t, up.bodies(), 1)
}

func TestServerAdminRunReportsUpstreamFailure(t *testing.T) {
	_, ts := newUpstream(t)
	cfg := testConfig(t, ts.URL)
	cfg.Blockbax.IngestURL = ts.URL + "/missing"
	srv := newTestServer(t, cfg)

	rr := testutil.ServeWithBearer(srv.Handler(), http.MethodPost, "/admin/run?date=2024-05-01", "secret")
	testutil.AssertStatus(t, rr, http.StatusBadGateway)
	assert.Contains(t, rr.Body.String(), "2024-05-01")

	st := srv.Status()
	assert.False(t, st.IsReady())
	assert.Equal(t, 1, st.ConsecutiveFailures)
	testutil.AssertStatus(t, testutil.Serve(srv.Handler(), http.MethodGet, "/ready", nil), http.StatusServiceUnavailable)
}

func TestServerAdminRouteRequiresToken(t *testing.T) {
	_, ts := newUpstream(t)
	cfg := testConfig(t, ts.URL)

	srv := newTestServer(t, cfg)
	rr := testutil.ServeWithBearer(srv.Handler(), http.MethodPost, "/admin/run", "wrong")
	testutil.AssertStatus(t, rr, http.StatusUnauthorized)

	cfg.AdminToken = ""
	srv = newTestServer(t, cfg)
	rr = testutil.ServeWithBearer(srv.Handler(), http.MethodPost, "/admin/run", "")
	testutil.AssertStatus(t, rr, http.StatusNotFound)
}

func TestServerServesProbes(t *testing.T) {
	_, ts := newUpstream(t)
	srv := newTestServer(t, testConfig(t, ts.URL))

	testutil.AssertStatus(t, testutil.Serve(srv.Handler(), http.MethodGet, "/health", nil), http.StatusOK)
	// No run has happened yet.
	testutil.AssertStatus(t, testutil.Serve(srv.Handler(), http.MethodGet, "/ready", nil), http.StatusServiceUnavailable)

	rr := testutil.Serve(srv.Handler(), http.MethodGet, "/status", nil)
	testutil.AssertStatus(t, rr, http.StatusOK)
	assert.Contains(t, rr.Body.String(), `"version":"test"`)
	assert.Contains(t, rr.Body.String(), `"nextRun"`)
}

func TestNewRejectsInvalidSchedule(t *testing.T) {
	cfg := config.Config{
		Schedule: config.ScheduleConfig{Spec: "every now and then"},
		Metrics:  config.MetricsConfig{Enabled: false},
	}
	srv, err := New(cfg, nil, "test")
	require.Error(t, err)
	assert.Nil(t, srv)
	assert.Contains(t, err.Error(), "build scheduler")
}

func TestNewConstructsServer(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")
	srv, err := New(cfg, nil, "dev")
	require.NoError(t, err)
	require.NotNil(t, srv.Handler())
	assert.NotNil(t, srv.metrics)
}

func TestGracefulShutdownCallsStopAndShutdown(t *testing.T) {
	sched := &stubScheduler{}
	httpSrv := &stubHTTPServer{}

	srv := newServerWithDeps(config.Config{}, nil, httpSrv, sched)
	srv.gracefulShutdown()

	_, stops := sched.calls()
	assert.Equal(t, 1, stops)
	assert.Equal(t, 1, httpSrv.shutdowns())
}

func TestGracefulShutdownContinuesWhenSchedulerStopErrors(t *testing.T) {
	sched := &stubScheduler{err: errors.New("stop failure")}
	httpSrv := &stubHTTPServer{shutdownErr: errors.New("shutdown failure")}
	metricsSrv := &stubHTTPServer{}
	metricsStopped := false

	srv := newServerWithDeps(config.Config{}, nil, httpSrv, sched)
	srv.metricsServer = metricsSrv
	srv.metricsStop = func(context.Context) error {
		metricsStopped = true
		return errors.New("flush failure")
	}
	srv.gracefulShutdown()

	_, stops := sched.calls()
	assert.Equal(t, 1, stops)
	assert.Equal(t, 1, httpSrv.shutdowns())
	assert.Equal(t, 1, metricsSrv.shutdowns())
	assert.True(t, metricsStopped)
}

func TestGracefulShutdownTimesOutLongRunningShutdown(t *testing.T) {
	sched := &stubScheduler{}
	blocking := &blockingHTTPServer{unblock: make(chan struct{})}

	original := shutdownTimeout
	shutdownTimeout = 5 * time.Millisecond
	defer func() { shutdownTimeout = original }()

	srv := newServerWithDeps(config.Config{}, nil, blocking, sched)

	start := time.Now()
	srv.gracefulShutdown()

	assert.Equal(t, 1, blocking.shutdowns())
	_, stops := sched.calls()
	assert.Equal(t, 1, stops)
	assert.Less(t, time.Since(start), 200*time.Millisecond)
}

func TestServerStartHandlesListenErrorAndStops(t *testing.T) {
	srv := newServerWithDeps(config.Config{}, nil, &stubHTTPServer{listenErr: errors.New("listen failure")}, &stubScheduler{})

	stopCalled := make(chan struct{})
	var once sync.Once
	srv.startServer(func() { once.Do(func() { close(stopCalled) }) })

	select {
	case <-stopCalled:
	case <-time.After(time.Second):
		t.Fatal("expected stop to be called on listen failure")
	}
}

func TestRunStartsAndStopsComponents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched := &stubScheduler{}
	httpSrv := &stubHTTPServer{}
	srv := newServerWithDeps(config.Config{}, nil, httpSrv, sched)

	done := make(chan struct{})
	go func() {
		srv.Run(ctx, cancel)
		close(done)
	}()

	require.Eventually(t, func() bool {
		starts, _ := sched.calls()
		return starts == 1
	}, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	_, stops := sched.calls()
	assert.Equal(t, 1, stops)
	assert.Equal(t, 1, httpSrv.shutdowns())
}

func TestNetHTTPServerServesListener(t *testing.T) {
	ts := httptest.NewUnstartedServer(nil)
	listener := ts.Listener
	defer listener.Close()

	s := newNetHTTPServer("ignored", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "pong")
	}))
	s.listener = listener

	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe() }()

	resp, err := http.Get("http://" + listener.Addr().String())
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, "pong", strings.TrimSpace(string(body)))

	require.NoError(t, s.Shutdown(context.Background()))
	select {
	case err := <-done:
		assert.ErrorIs(t, err, http.ErrServerClosed)
	case <-time.After(time.Second):
		t.Fatal("serve did not return after shutdown")
	}
	assert.Equal(t, "ignored", s.Addr())
	assert.NotNil(t, s.Handler())
}
