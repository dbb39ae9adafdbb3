package http

import (
	"log/slog"
	nethttp "net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/preston-bernstein/power-usage-forwarder/internal/http/handlers"
	"github.com/preston-bernstein/power-usage-forwarder/internal/http/middleware"
	"github.com/preston-bernstein/power-usage-forwarder/internal/metrics"
)

// RouterConfig carries the handlers and shared dependencies for NewRouter.
type RouterConfig struct {
	Handler *handlers.Handler
	// Admin is mounted only when non-nil.
	Admin *handlers.AdminHandler
	// Runs is mounted only when non-nil.
	Runs    *handlers.RunsHandler
	Logger  *slog.Logger
	Metrics *metrics.Recorder
}

// NewRouter registers the HTTP routes.
func NewRouter(cfg RouterConfig) nethttp.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logging(cfg.Logger, cfg.Metrics))
	r.Use(chimw.Recoverer)

	r.Get("/health", cfg.Handler.Health)
	r.Get("/ready", cfg.Handler.Ready)
	r.Get("/status", cfg.Handler.Status)
	if cfg.Runs != nil {
		r.Get("/runs", cfg.Runs.List)
		r.Get("/runs/{id}", cfg.Runs.ByID)
	}
	if cfg.Admin != nil {
		r.Post("/admin/run", cfg.Admin.Run)
	}
	return r
}
