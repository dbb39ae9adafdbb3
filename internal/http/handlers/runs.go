package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/preston-bernstein/power-usage-forwarder/internal/domain"
)

// RunLister exposes recent run reports.
type RunLister interface {
	ListRuns() []domain.RunReport
	GetRun(id string) (domain.RunReport, bool)
}

// RunsHandler serves the recent run history kept in memory.
type RunsHandler struct {
	runs   RunLister
	logger *slog.Logger
}

func NewRunsHandler(runs RunLister, logger *slog.Logger) *RunsHandler {
	return &RunsHandler{runs: runs, logger: logger}
}

type runsResponse struct {
	Runs []domain.RunReport `json:"runs"`
}

// List returns recent runs, newest first.
func (h *RunsHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, runsResponse{Runs: h.runs.ListRuns()}, h.logger)
}

// ByID returns one run. Expects the route to carry {id}.
func (h *RunsHandler) ByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		writeError(w, r, http.StatusBadRequest, "invalid run id", h.logger)
		return
	}
	report, ok := h.runs.GetRun(id)
	if !ok {
		writeError(w, r, http.StatusNotFound, "run not found", h.logger)
		return
	}
	writeJSON(w, http.StatusOK, report, h.logger)
}
