package handlers

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/preston-bernstein/power-usage-forwarder/internal/domain"
	"github.com/preston-bernstein/power-usage-forwarder/internal/forwarder"
	"github.com/preston-bernstein/power-usage-forwarder/internal/http/middleware"
	"github.com/preston-bernstein/power-usage-forwarder/internal/logging"
	"github.com/preston-bernstein/power-usage-forwarder/internal/scheduler"
	"github.com/preston-bernstein/power-usage-forwarder/internal/timeutil"
)

// Dispatcher starts a run unless one is already in flight.
type Dispatcher interface {
	TryTrigger(ctx context.Context, req forwarder.Request) (domain.RunReport, error)
}

// AdminHandler exposes the manual dispatch endpoint.
type AdminHandler struct {
	dispatcher Dispatcher
	token      string
	loc        *time.Location
	logger     *slog.Logger
}

// NewAdminHandler constructs an AdminHandler. Dates are parsed in loc.
func NewAdminHandler(dispatcher Dispatcher, token string, loc *time.Location, logger *slog.Logger) *AdminHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &AdminHandler{
		dispatcher: dispatcher,
		token:      token,
		loc:        loc,
		logger:     logger,
	}
}

// Run dispatches a forwarding run for ?date=YYYY-MM-DD (default yesterday).
// ?force=true skips the idempotency check. Requires Authorization: Bearer <ADMIN_TOKEN>.
func (h *AdminHandler) Run(w http.ResponseWriter, r *http.Request) {
	logger := loggerFromContext(r, h.logger)
	if !h.authorize(r) {
		logging.Warn(logger, "admin unauthorized",
			slog.String(logging.FieldPath, r.URL.Path),
			slog.String("client_ip", middleware.ClientIP(r)),
		)
		writeError(w, r, http.StatusUnauthorized, "unauthorized", logger)
		return
	}
	if h.dispatcher == nil {
		writeError(w, r, http.StatusServiceUnavailable, "dispatcher not configured", logger)
		return
	}

	req := forwarder.Request{Trigger: forwarder.TriggerManual}
	if raw := strings.TrimSpace(r.URL.Query().Get("date")); raw != "" {
		day, err := timeutil.ParseDateIn(raw, h.loc)
		if err != nil {
			logging.Warn(logger, "admin run invalid date", slog.String(logging.FieldDate, raw))
			writeError(w, r, http.StatusBadRequest, "invalid date format (expected YYYY-MM-DD)", logger)
			return
		}
		req.Dates = []time.Time{day}
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("force")); raw != "" {
		force, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid force flag", logger)
			return
		}
		req.Force = force
	}

	report, err := h.dispatcher.TryTrigger(r.Context(), req)
	switch {
	case errors.Is(err, scheduler.ErrRunInProgress):
		writeError(w, r, http.StatusConflict, "run already in progress", logger)
	case err != nil:
		logging.Warn(logger, "admin run failed", slog.Any("error", err))
		var payload any
		if report.RunID != "" {
			payload = report
		}
		writeErrorWith(w, r, http.StatusBadGateway, err.Error(), payload, logger)
	default:
		logging.Info(logger, "admin run complete",
			slog.String(logging.FieldRunID, report.RunID),
			slog.Int(string(domain.OutcomeForwarded), report.Count(domain.OutcomeForwarded)),
			slog.Int(string(domain.OutcomeSkipped), report.Count(domain.OutcomeSkipped)),
		)
		writeJSON(w, http.StatusOK, report, logger)
	}
}

func (h *AdminHandler) authorize(r *http.Request) bool {
	if h.token == "" {
		return false
	}
	got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(h.token)) == 1
}
