package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/Codewithaiyan/ObserveAI/internal/engine"
)

// Handler exposes the control API over HTTP.
type Handler struct {
	monitor *engine.Monitor
	logger  *slog.Logger
}

// NewHandler constructs the control API handler.
func NewHandler(monitor *engine.Monitor, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{monitor: monitor, logger: logger}
}

// Router builds the route table.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	r.HandleFunc("/api/status", h.GetStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/incidents", h.ListIncidents).Methods(http.MethodGet)
	r.HandleFunc("/api/incidents/{id}", h.GetIncident).Methods(http.MethodGet)
	r.HandleFunc("/api/incidents/{id}/resolve", h.ResolveIncident).Methods(http.MethodPost)
	r.HandleFunc("/api/alerts", h.ListAlerts).Methods(http.MethodGet)
	r.HandleFunc("/api/analyze", h.TriggerAnalysis).Methods(http.MethodPost)
	r.HandleFunc("/api/baselines/reset", h.ResetBaselines).Methods(http.MethodPost)
	r.HandleFunc("/api/alerts/test", h.TestAlert).Methods(http.MethodPost)
	return r
}

// Health handles GET /health. Returns 503 while signal collection is failing
// so orchestrators can restart or route around the agent.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if !h.monitor.Healthy() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "degraded",
			"reason": "signal_collection_failing",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetStatus handles GET /api/status.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.monitor.Status())
}

// ListIncidents handles GET /api/incidents?limit=N.
func (h *Handler) ListIncidents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	incidents := h.monitor.ListIncidents(limit)
	writeJSON(w, http.StatusOK, map[string]any{
		"incidents": incidents,
		"count":     len(incidents),
	})
}

// GetIncident handles GET /api/incidents/{id}.
func (h *Handler) GetIncident(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	incident, ok := h.monitor.GetIncident(id)
	if !ok {
		writeError(w, http.StatusNotFound, "incident not found")
		return
	}
	writeJSON(w, http.StatusOK, incident)
}

// ResolveIncident handles POST /api/incidents/{id}/resolve.
func (h *Handler) ResolveIncident(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !h.monitor.ResolveIncident(id) {
		writeError(w, http.StatusNotFound, "incident not found or already resolved")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"incident_id": id, "status": "resolved"})
}

// ListAlerts handles GET /api/alerts?limit=N.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	alerts := h.monitor.AlertHistory(limit)
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

// TriggerAnalysis handles POST /api/analyze?source=ID. Forces an immediate
// collection and scoring pass for the source (all sources when the parameter
// is absent), without waiting for the next tick.
func (h *Handler) TriggerAnalysis(w http.ResponseWriter, r *http.Request) {
	source := r.URL.Query().Get("source")
	signals, anomalies := h.monitor.TriggerAnalysis(r.Context(), source)
	writeJSON(w, http.StatusOK, map[string]any{
		"source":    source,
		"signals":   signals,
		"anomalies": anomalies,
	})
}

// ResetBaselines handles POST /api/baselines/reset?source=ID. Clears learned
// state for one source, or everything when the parameter is absent.
func (h *Handler) ResetBaselines(w http.ResponseWriter, r *http.Request) {
	source := r.URL.Query().Get("source")
	removed := h.monitor.ResetBaselines(source)
	writeJSON(w, http.StatusOK, map[string]any{
		"source":  source,
		"removed": removed,
	})
}

// TestAlert handles POST /api/alerts/test.
func (h *Handler) TestAlert(w http.ResponseWriter, r *http.Request) {
	alerts := h.monitor.TestAlert(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
