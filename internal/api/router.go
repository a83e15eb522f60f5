package api

import (
	"net/http"
)

// NewRouter creates a new http.ServeMux and registers the API handlers.
func NewRouter(h *Handlers) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /v1/status", h.Status)
	mux.HandleFunc("POST /v1/run", h.RunNow)
	mux.HandleFunc("POST /v1/scheduler/start", h.StartScheduler)
	mux.HandleFunc("POST /v1/scheduler/stop", h.StopScheduler)
	mux.HandleFunc("GET /v1/alerts", h.ListAlerts)
	mux.HandleFunc("POST /v1/alerts/{id}/resolve", h.ResolveAlert)
	mux.HandleFunc("GET /v1/history", h.ListHistory)
	mux.HandleFunc("GET /v1/summary", h.Summary)

	return mux
}
