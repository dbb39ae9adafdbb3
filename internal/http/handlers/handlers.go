package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/preston-bernstein/power-usage-forwarder/internal/scheduler"
)

// StatusFunc reports the scheduler's recent health.
type StatusFunc func() scheduler.Status

// Handler serves the probe and status endpoints.
type Handler struct {
	logger   *slog.Logger
	statusFn StatusFunc
	version  string
	started  time.Time
	now      func() time.Time
}

// NewHandler constructs a Handler. A nil statusFn reports always ready.
func NewHandler(logger *slog.Logger, statusFn StatusFunc, version string) *Handler {
	return &Handler{
		logger:   logger,
		statusFn: statusFn,
		version:  version,
		started:  time.Now(),
		now:      time.Now,
	}
}

// Health reports process liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := r.Context().Err(); err != nil {
		writeError(w, r, http.StatusServiceUnavailable, "shutting down", h.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, h.logger)
}

// Ready reports whether recent runs succeeded.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.statusFn == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"}, h.logger)
		return
	}
	st := h.statusFn()
	if st.IsReady() {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"}, h.logger)
		return
	}
	msg := st.LastError
	if msg == "" {
		msg = "not ready"
	}
	writeError(w, r, http.StatusServiceUnavailable, msg, h.logger)
}

type statusResponse struct {
	Version       string            `json:"version,omitempty"`
	UptimeSeconds int64             `json:"uptimeSeconds"`
	Ready         bool              `json:"ready"`
	Scheduler     *scheduler.Status `json:"scheduler,omitempty"`
}

// Status returns scheduler state and the last run report.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Version:       h.version,
		UptimeSeconds: int64(h.now().Sub(h.started).Seconds()),
		Ready:         true,
	}
	if h.statusFn != nil {
		st := h.statusFn()
		resp.Scheduler = &st
		resp.Ready = st.IsReady()
	}
	writeJSON(w, http.StatusOK, resp, h.logger)
}
