package handlers

import (
	"net/http"
)

// PrometheusSource renders the metrics exposition text
type PrometheusSource interface {
	GetPrometheusMetrics() string
}

// DashboardHandler serves metrics, the worker pool and operator actions
type DashboardHandler struct {
	service  BatchService
	exporter PrometheusSource
}

// NewDashboardHandler creates a new dashboard handler
func NewDashboardHandler(service BatchService, exporter PrometheusSource) *DashboardHandler {
	return &DashboardHandler{
		service:  service,
		exporter: exporter,
	}
}

// GetMetrics handles GET /v1/metrics
func (h *DashboardHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.GetMetrics())
}

// GetPrometheusMetrics handles GET /metrics
func (h *DashboardHandler) GetPrometheusMetrics(w http.ResponseWriter, r *http.Request) {
	// Refresh the published snapshot before rendering
	h.service.GetMetrics()
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(h.exporter.GetPrometheusMetrics()))
}

// GetWorkers handles GET /v1/workers
func (h *DashboardHandler) GetWorkers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": h.service.Workers()})
}

// ForceOptimization handles POST /v1/optimize
func (h *DashboardHandler) ForceOptimization(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.ForceOptimizationCycle())
}

// Health handles GET /health
func (h *DashboardHandler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
