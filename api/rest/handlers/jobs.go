package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"batch-orchestrator/core/models"
	"batch-orchestrator/core/repository"
	"batch-orchestrator/core/scheduler"
	"batch-orchestrator/core/spec"

	"github.com/gorilla/mux"
)

// BatchService is the engine surface the handlers drive
type BatchService interface {
	SubmitBatch(ctx context.Context, items []models.Item, jc models.JobContext) (string, error)
	GetJobStatus(id string) (models.JobView, error)
	ListJobs() []models.JobSummary
	CancelJob(ctx context.Context, id string) bool
	GetMetrics() models.BatchMetrics
	ForceOptimizationCycle() scheduler.Decision
	Workers() []models.Worker
}

// JobArchive reads jobs that outlived the process
type JobArchive interface {
	GetJob(ctx context.Context, id string) (repository.JobRecord, error)
	ListJobs(ctx context.Context, status *models.JobStatus, limit int) ([]repository.JobRecord, error)
}

// EventStore reads the transition history of a job
type EventStore interface {
	GetJobEvents(ctx context.Context, jobID string, limit int) ([]models.JobEvent, error)
}

const (
	defaultListLimit  = 50
	defaultEventLimit = 100
)

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	service BatchService
	archive JobArchive
	events  EventStore
}

// NewJobHandler creates a new job handler. archive and events may be nil when
// no database is configured.
func NewJobHandler(service BatchService, archive JobArchive, events EventStore) *JobHandler {
	return &JobHandler{
		service: service,
		archive: archive,
		events:  events,
	}
}

// SubmitJobRequest carries either inline items or a YAML manifest
type SubmitJobRequest struct {
	Items    []models.Item     `json:"items,omitempty"`
	Context  models.JobContext `json:"context"`
	SpecYAML string            `json:"spec_yaml,omitempty"`
}

// SubmitJobResponse represents the response after submitting a job
type SubmitJobResponse struct {
	ID        string           `json:"id"`
	Status    models.JobStatus `json:"status"`
	Priority  int              `json:"priority"`
	ItemCount int              `json:"item_count"`
	CreatedAt time.Time        `json:"created_at"`
}

// CancelJobResponse reports the outcome of a cancel request
type CancelJobResponse struct {
	ID        string           `json:"id"`
	Cancelled bool             `json:"cancelled"`
	Status    models.JobStatus `json:"status"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func queryLimit(r *http.Request, def int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, errors.New("limit must be a non-negative integer")
	}
	return limit, nil
}

// SubmitJob handles POST /v1/jobs
func (h *JobHandler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	var req SubmitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	items, jc := req.Items, req.Context
	if req.SpecYAML != "" {
		var err error
		items, jc, err = spec.ParseBatchSpec(req.SpecYAML)
		if err != nil {
			http.Error(w, "Invalid batch manifest: "+err.Error(), http.StatusBadRequest)
			return
		}
	}

	id, err := h.service.SubmitBatch(r.Context(), items, jc)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	view, err := h.service.GetJobStatus(id)
	if err != nil {
		http.Error(w, "Failed to read submitted job: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, SubmitJobResponse{
		ID:        view.ID,
		Status:    view.Status,
		Priority:  view.Priority,
		ItemCount: view.ItemCount,
		CreatedAt: view.CreatedAt,
	})
}

// GetJob handles GET /v1/jobs/{id}. Jobs from an earlier process are served
// from the archive when one is configured.
func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]

	view, err := h.service.GetJobStatus(jobID)
	if err == nil {
		writeJSON(w, http.StatusOK, view)
		return
	}
	if !errors.Is(err, models.ErrJobNotFound) {
		http.Error(w, "Failed to get job: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if h.archive == nil {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}

	rec, err := h.archive.GetJob(r.Context(), jobID)
	if errors.Is(err, models.ErrJobNotFound) {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "Failed to get job: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"archived": true,
		"job":      rec,
	})
}

// ListJobs handles GET /v1/jobs. With archived=true the archive is listed
// instead of the live jobs.
func (h *JobHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r, defaultListLimit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var status *models.JobStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		s := models.JobStatus(raw)
		status = &s
	}

	if archived, _ := strconv.ParseBool(r.URL.Query().Get("archived")); archived {
		if h.archive == nil {
			http.Error(w, "No job archive configured", http.StatusNotImplemented)
			return
		}
		records, err := h.archive.ListJobs(r.Context(), status, limit)
		if err != nil {
			http.Error(w, "Failed to list jobs: "+err.Error(), http.StatusInternalServerError)
			return
		}
		if records == nil {
			records = []repository.JobRecord{}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"items": records})
		return
	}

	items := make([]models.JobSummary, 0)
	for _, job := range h.service.ListJobs() {
		if status != nil && job.Status != *status {
			continue
		}
		if limit > 0 && len(items) == limit {
			break
		}
		items = append(items, job)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

// CancelJob handles POST /v1/jobs/{id}/cancel
func (h *JobHandler) CancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]

	if _, err := h.service.GetJobStatus(jobID); err != nil {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}

	cancelled := h.service.CancelJob(r.Context(), jobID)
	view, _ := h.service.GetJobStatus(jobID)

	status := http.StatusOK
	if !cancelled {
		status = http.StatusConflict
	}
	writeJSON(w, status, CancelJobResponse{
		ID:        jobID,
		Cancelled: cancelled,
		Status:    view.Status,
	})
}

// GetJobEvents handles GET /v1/jobs/{id}/events
func (h *JobHandler) GetJobEvents(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]

	if h.events == nil {
		http.Error(w, "No job archive configured", http.StatusNotImplemented)
		return
	}
	limit, err := queryLimit(r, defaultEventLimit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	events, err := h.events.GetJobEvents(r.Context(), jobID, limit)
	if err != nil {
		http.Error(w, "Failed to fetch events: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if len(events) == 0 {
		if _, err := h.service.GetJobStatus(jobID); err != nil {
			http.Error(w, "Job not found", http.StatusNotFound)
			return
		}
		events = []models.JobEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": events})
}
