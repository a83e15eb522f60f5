package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"sourceMonitor/internal/core/domain"
)

// Controller is the scheduler surface the API drives.
type Controller interface {
	Status() domain.SchedulerStatus
	RunNow(ctx context.Context, deep bool) (*domain.RunReport, error)
	Start(interval time.Duration) error
	Stop()
}

// Handlers holds dependencies for the API handlers.
type Handlers struct {
	ctl   Controller
	store domain.Store
	now   func() time.Time
	log   *slog.Logger
}

// NewHandlers creates a new Handlers struct.
func NewHandlers(ctl Controller, store domain.Store, log *slog.Logger) *Handlers {
	if log == nil {
		log = slog.Default()
	}
	return &Handlers{ctl: ctl, store: store, now: func() time.Time { return time.Now().UTC() }, log: log}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (h *Handlers) internal(w http.ResponseWriter, op string, err error) {
	h.log.Error("api request failed", "op", op, "err", err)
	writeError(w, http.StatusInternalServerError, "internal server error")
}

func queryInt(r *http.Request, key string, def, max int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= max {
			return n
		}
	}
	return def
}

type statusResponse struct {
	domain.SchedulerStatus
	IntervalHours float64 `json:"interval_hours"`
}

// Status reports the scheduler state. It never waits for a running cycle.
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	st := h.ctl.Status()
	writeJSON(w, http.StatusOK, statusResponse{SchedulerStatus: st, IntervalHours: st.Interval.Hours()})
}

// RunNow runs a cycle synchronously and returns its report. A client that
// disconnects does not abort the cycle.
func (h *Handlers) RunNow(w http.ResponseWriter, r *http.Request) {
	deep, _ := strconv.ParseBool(r.URL.Query().Get("deep"))
	report, err := h.ctl.RunNow(context.WithoutCancel(r.Context()), deep)
	switch {
	case errors.Is(err, domain.ErrBusy):
		writeError(w, http.StatusConflict, "a monitoring cycle is already running")
	case err != nil:
		h.internal(w, "run", err)
	default:
		writeJSON(w, http.StatusOK, report)
	}
}

// StartScheduler takes a whole number of hours, the same unit as
// schedule.interval_hours.
func (h *Handlers) StartScheduler(w http.ResponseWriter, r *http.Request) {
	hours, err := strconv.Atoi(r.URL.Query().Get("interval_hours"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "interval_hours must be a whole number of hours")
		return
	}
	if err := h.ctl.Start(time.Duration(hours) * time.Hour); err != nil {
		if errors.Is(err, domain.ErrInvalidInterval) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.internal(w, "start", err)
		return
	}
	h.Status(w, r)
}

func (h *Handlers) StopScheduler(w http.ResponseWriter, r *http.Request) {
	h.ctl.Stop()
	h.Status(w, r)
}

// ListAlerts returns active alerts, or the most recent ones with ?all=true.
func (h *Handlers) ListAlerts(w http.ResponseWriter, r *http.Request) {
	var (
		alerts []domain.Alert
		err    error
	)
	if all, _ := strconv.ParseBool(r.URL.Query().Get("all")); all {
		alerts, err = h.store.GetRecentAlerts(r.Context(), queryInt(r, "limit", 50, 1000))
	} else {
		alerts, err = h.store.GetActiveAlerts(r.Context())
	}
	if err != nil {
		h.internal(w, "list alerts", err)
		return
	}
	if alerts == nil {
		alerts = []domain.Alert{}
	}
	writeJSON(w, http.StatusOK, struct {
		Items []domain.Alert `json:"items"`
	}{alerts})
}

func (h *Handlers) ResolveAlert(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid alert id")
		return
	}
	if err := h.store.ResolveAlert(r.Context(), id, h.now()); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "alert not found")
			return
		}
		h.internal(w, "resolve alert", err)
		return
	}
	h.log.Info("alert resolved", "alert_id", id)
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "resolved": true})
}

func (h *Handlers) ListHistory(w http.ResponseWriter, r *http.Request) {
	items, err := h.store.GetHistory(r.Context(), domain.HistoryQuery{
		SourceID: r.URL.Query().Get("source"),
		Limit:    queryInt(r, "limit", 100, 1000),
	})
	if err != nil {
		h.internal(w, "history", err)
		return
	}
	if items == nil {
		items = []domain.CheckOutcome{}
	}
	writeJSON(w, http.StatusOK, struct {
		Items []domain.CheckOutcome `json:"items"`
	}{items})
}

func (h *Handlers) Summary(w http.ResponseWriter, r *http.Request) {
	sum, err := h.store.GetAlertSummary(r.Context(), h.now())
	if err != nil {
		h.internal(w, "summary", err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// Healthz is a simple health check endpoint.
func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
