package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/preston-bernstein/power-usage-forwarder/internal/config"
	httpserver "github.com/preston-bernstein/power-usage-forwarder/internal/http"
	"github.com/preston-bernstein/power-usage-forwarder/internal/http/handlers"
	"github.com/preston-bernstein/power-usage-forwarder/internal/logging"
	"github.com/preston-bernstein/power-usage-forwarder/internal/metrics"
	"github.com/preston-bernstein/power-usage-forwarder/internal/scheduler"
	"github.com/preston-bernstein/power-usage-forwarder/internal/store"
)

var metricsSetup = metrics.Setup

// Server runs the forwarder on a schedule and exposes probes, status and manual dispatch over HTTP.
type Server struct {
	cfg           config.Config
	logger        *slog.Logger
	metrics       *metrics.Recorder
	httpServer    httpServer
	metricsServer httpServer
	scheduler     Scheduler
	metricsStop   func(context.Context) error
}

// New constructs a server with the default forwarder and scheduler wiring.
func New(cfg config.Config, logger *slog.Logger, version string) (*Server, error) {
	return newServerWithMetrics(cfg, logger, version, nil)
}

func newServerWithMetrics(cfg config.Config, logger *slog.Logger, version string, recorder *metrics.Recorder) (*Server, error) {
	return newServerWithFactory(cfg, logger, version, recorder, nil)
}

func newServerWithFactory(cfg config.Config, logger *slog.Logger, version string, recorder *metrics.Recorder, factory *providerFactory) (*Server, error) {
	recorder, metricsSrv, metricsShutdown := buildMetrics(cfg, logger, recorder)

	f := newProviderFactory(logger, recorder)
	if factory != nil {
		f = *factory
	}
	fwd := buildForwarder(cfg, logger, recorder, f)

	runs := store.NewRunStore(0)
	sched, err := scheduler.New(recordingRunner{next: fwd, runs: runs}, scheduler.Options{
		Spec:       cfg.Schedule.Spec,
		Location:   fwd.Location(),
		RunOnStart: cfg.Schedule.RunOnStart,
		Logger:     logger,
	})
	if err != nil {
		if metricsShutdown != nil {
			_ = metricsShutdown(context.Background())
		}
		return nil, fmt.Errorf("build scheduler: %w", err)
	}

	httpSrv := buildHTTPServer(cfg, logger, version, recorder, sched, runs)

	return &Server{
		cfg:           cfg,
		logger:        logger,
		metrics:       recorder,
		httpServer:    httpSrv,
		metricsServer: metricsSrv,
		scheduler:     sched,
		metricsStop:   metricsShutdown,
	}, nil
}

// newServerWithDeps is used for testing to inject custom components.
func newServerWithDeps(cfg config.Config, logger *slog.Logger, httpSrv httpServer, sched Scheduler) *Server {
	return &Server{
		cfg:        cfg,
		logger:     logger,
		httpServer: httpSrv,
		scheduler:  sched,
	}
}

func buildHTTPServer(cfg config.Config, logger *slog.Logger, version string, recorder *metrics.Recorder, sched Scheduler, runs handlers.RunLister) httpServer {
	if logger == nil {
		logger = logging.NewLogger(logging.Config{})
	}

	var statusFn handlers.StatusFunc
	if sched != nil {
		statusFn = sched.Status
	}
	routerCfg := httpserver.RouterConfig{
		Handler: handlers.NewHandler(logger, statusFn, version),
		Logger:  logger,
		Metrics: recorder,
	}
	if runs != nil {
		routerCfg.Runs = handlers.NewRunsHandler(runs, logger)
	}
	// The manual dispatch endpoint only exists when a token is configured.
	if cfg.AdminToken != "" && sched != nil {
		routerCfg.Admin = handlers.NewAdminHandler(sched, cfg.AdminToken, cfg.Location(), logger)
	}

	return newNetHTTPServer(":"+cfg.Port, httpserver.NewRouter(routerCfg))
}

// Run starts the scheduler and HTTP server, then waits for context cancellation to shut down gracefully.
func (s *Server) Run(ctx context.Context, stop context.CancelFunc) {
	logging.Info(s.logger, "forwarder starting", slog.String("config", s.cfg.String()))
	s.startMetrics()
	s.startServer(stop)
	s.scheduler.Start(ctx)

	<-ctx.Done()
	logging.Info(s.logger, "shutdown signal received")

	s.gracefulShutdown()
}

func (s *Server) startServer(stop context.CancelFunc) {
	launchServer("http", s.httpServer, s.logger, func(err error) {
		if stop != nil {
			stop()
		}
	})
}

func (s *Server) startMetrics() {
	if s.metricsServer == nil {
		return
	}
	launchServer("metrics", s.metricsServer, s.logger, nil)
}

func (s *Server) gracefulShutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Stop accepting manual runs before waiting on the scheduler.
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		logging.Error(s.logger, "graceful shutdown failed", err)
	}

	if err := s.scheduler.Stop(shutdownCtx); err != nil {
		logging.Error(s.logger, "failed to stop scheduler", err)
	}

	if s.metricsStop != nil {
		if err := s.metricsStop(shutdownCtx); err != nil {
			logging.Warn(s.logger, "metrics shutdown failed", "error", err)
		}
	}

	if s.metricsServer != nil {
		if err := s.metricsServer.Shutdown(shutdownCtx); err != nil {
			logging.Warn(s.logger, "metrics server shutdown failed", "error", err)
		}
	}

	logging.Info(s.logger, "shutdown complete")
}

func buildMetrics(cfg config.Config, logger *slog.Logger, recorder *metrics.Recorder) (*metrics.Recorder, httpServer, func(context.Context) error) {
	if recorder != nil {
		return recorder, nil, nil
	}

	recCfg := TelemetryConfig(cfg)
	rec, handler, shutdown, err := metricsSetup(context.Background(), recCfg)
	if err != nil {
		logging.Warn(logger, "metrics setup failed, continuing without telemetry", "error", err)
		return metrics.NewRecorder(), nil, nil
	}

	var metricsSrv httpServer
	if handler != nil && recCfg.Enabled {
		metricsSrv = netHTTPServer{
			srv: &http.Server{
				Addr:              ":" + recCfg.Port,
				Handler:           handler,
				ReadHeaderTimeout: readHeaderTimeout,
			},
		}
	}

	return rec, metricsSrv, shutdown
}

// TelemetryConfig maps the metrics settings onto metrics.Setup's config.
func TelemetryConfig(cfg config.Config) metrics.TelemetryConfig {
	return metrics.TelemetryConfig{
		Enabled:      cfg.Metrics.Enabled,
		Port:         cfg.Metrics.Port,
		ServiceName:  cfg.Metrics.ServiceName,
		OtlpEndpoint: cfg.Metrics.OtlpEndpoint,
		OtlpInsecure: cfg.Metrics.OtlpInsecure,
	}
}

func launchServer(name string, srv httpServer, logger *slog.Logger, onError func(error)) {
	go func() {
		logging.Info(logger, "starting "+name+" server", slog.String("addr", srv.Addr()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Warn(logger, name+" server failed", "error", err)
			if onError != nil {
				onError(err)
			}
		}
	}()
}

// Handler exposes the HTTP handler (useful for tests).
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler()
}

// Status exposes the scheduler status.
func (s *Server) Status() scheduler.Status {
	return s.scheduler.Status()
}
