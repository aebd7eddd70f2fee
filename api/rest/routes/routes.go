package routes

import (
	"batch-orchestrator/api/rest/handlers"
	"batch-orchestrator/core/batch"
	"batch-orchestrator/core/monitoring"
	"batch-orchestrator/core/repository"

	"github.com/gorilla/mux"
)

// SetupRoutes configures all API routes. db may be nil, which disables the
// archive-backed endpoints.
func SetupRoutes(r *mux.Router, svc *batch.Service, db *repository.DB) {
	var (
		archive handlers.JobArchive
		events  handlers.EventStore
	)
	if db != nil {
		archive = repository.NewJobRepository(db)
		events = repository.NewEventRepository(db)
	}

	jobHandler := handlers.NewJobHandler(svc, archive, events)
	dashboardHandler := handlers.NewDashboardHandler(svc, monitoring.NewMetricsExporter(svc, svc.Monitor()))

	r.HandleFunc("/health", dashboardHandler.Health).Methods("GET")
	r.HandleFunc("/metrics", dashboardHandler.GetPrometheusMetrics).Methods("GET")

	api := r.PathPrefix("/v1").Subrouter()

	// Job endpoints
	api.HandleFunc("/jobs", jobHandler.SubmitJob).Methods("POST")
	api.HandleFunc("/jobs", jobHandler.ListJobs).Methods("GET")
	api.HandleFunc("/jobs/{id}", jobHandler.GetJob).Methods("GET")
	api.HandleFunc("/jobs/{id}/cancel", jobHandler.CancelJob).Methods("POST")
	api.HandleFunc("/jobs/{id}/events", jobHandler.GetJobEvents).Methods("GET")

	// Engine endpoints
	api.HandleFunc("/metrics", dashboardHandler.GetMetrics).Methods("GET")
	api.HandleFunc("/workers", dashboardHandler.GetWorkers).Methods("GET")
	api.HandleFunc("/optimize", dashboardHandler.ForceOptimization).Methods("POST")
}
