package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"batch-orchestrator/core/models"
)

// JobRecord is the archived form of a job. Items and results are not kept.
type JobRecord struct {
	ID             string                 `json:"id"`
	Status         models.JobStatus       `json:"status"`
	Priority       int                    `json:"priority"`
	ItemCount      int                    `json:"item_count"`
	Progress       int                    `json:"progress"`
	Context        models.JobContext      `json:"context"`
	Plan           *models.SchedulingPlan `json:"plan,omitempty"`
	Optimizations  []string               `json:"optimizations,omitempty"`
	Error          string                 `json:"error,omitempty"`
	ProcessingTime time.Duration          `json:"processing_time,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
	StartTime      *time.Time             `json:"start_time,omitempty"`
	EndTime        *time.Time             `json:"end_time,omitempty"`
	UpdatedAt      time.Time              `json:"updated_at"`
}

// RecordOf converts a job to its archived form
func RecordOf(job models.Job) JobRecord {
	rec := JobRecord{
		ID:            job.ID,
		Status:        job.Status,
		Priority:      job.Priority,
		ItemCount:     len(job.Items),
		Progress:      job.Progress,
		Context:       job.Context,
		Plan:          job.Plan,
		Optimizations: job.Optimizations,
		Error:         job.Error,
		CreatedAt:     job.CreatedAt,
		StartTime:     job.StartTime,
		EndTime:       job.EndTime,
	}
	if job.PerformanceMetrics != nil {
		rec.ProcessingTime = job.PerformanceMetrics.ProcessingTime
	}
	return rec
}

// JobRepository handles database operations for jobs
type JobRepository struct {
	db  *DB
	now func() time.Time
}

// NewJobRepository creates a new job repository
func NewJobRepository(db *DB) *JobRepository {
	return &JobRepository{db: db, now: time.Now}
}

const upsertJobQuery = `
	INSERT INTO jobs (
		id, status, priority, item_count, progress, context_json, plan_json,
		optimizations_json, error, processing_ms, created_at, started_at,
		finished_at, updated_at
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
	)
	ON CONFLICT (id) DO UPDATE SET
		status = excluded.status,
		progress = excluded.progress,
		plan_json = excluded.plan_json,
		optimizations_json = excluded.optimizations_json,
		error = excluded.error,
		processing_ms = excluded.processing_ms,
		started_at = excluded.started_at,
		finished_at = excluded.finished_at,
		updated_at = excluded.updated_at
`

// SaveJob inserts the job or updates its mutable columns
func (r *JobRepository) SaveJob(ctx context.Context, job models.Job) error {
	return r.saveJob(ctx, r.db.conn, job)
}

func (r *JobRepository) saveJob(ctx context.Context, e execer, job models.Job) error {
	rec := RecordOf(job)

	contextJSON, err := json.Marshal(rec.Context)
	if err != nil {
		return fmt.Errorf("marshal job context: %w", err)
	}
	var planJSON, optsJSON sql.NullString
	if rec.Plan != nil {
		b, err := json.Marshal(rec.Plan)
		if err != nil {
			return fmt.Errorf("marshal plan: %w", err)
		}
		planJSON = sql.NullString{String: string(b), Valid: true}
	}
	if len(rec.Optimizations) > 0 {
		b, err := json.Marshal(rec.Optimizations)
		if err != nil {
			return fmt.Errorf("marshal optimizations: %w", err)
		}
		optsJSON = sql.NullString{String: string(b), Valid: true}
	}
	var processingMs sql.NullInt64
	if rec.ProcessingTime > 0 {
		processingMs = sql.NullInt64{Int64: rec.ProcessingTime.Milliseconds(), Valid: true}
	}

	err = r.db.exec(ctx, e, upsertJobQuery,
		rec.ID,
		string(rec.Status),
		rec.Priority,
		rec.ItemCount,
		rec.Progress,
		string(contextJSON),
		planJSON,
		optsJSON,
		sql.NullString{String: rec.Error, Valid: rec.Error != ""},
		processingMs,
		toMillis(rec.CreatedAt),
		nullMillis(rec.StartTime),
		nullMillis(rec.EndTime),
		toMillis(r.now()),
	)
	if err != nil {
		return fmt.Errorf("save job %s: %w", rec.ID, err)
	}
	return nil
}

const selectJobColumns = `
	SELECT id, status, priority, item_count, progress, context_json, plan_json,
		optimizations_json, error, processing_ms, created_at, started_at,
		finished_at, updated_at
	FROM jobs
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (JobRecord, error) {
	var (
		rec          JobRecord
		status       string
		contextJSON  string
		planJSON     sql.NullString
		optsJSON     sql.NullString
		errText      sql.NullString
		processingMs sql.NullInt64
		createdAt    int64
		startedAt    sql.NullInt64
		finishedAt   sql.NullInt64
		updatedAt    int64
	)
	err := row.Scan(
		&rec.ID,
		&status,
		&rec.Priority,
		&rec.ItemCount,
		&rec.Progress,
		&contextJSON,
		&planJSON,
		&optsJSON,
		&errText,
		&processingMs,
		&createdAt,
		&startedAt,
		&finishedAt,
		&updatedAt,
	)
	if err != nil {
		return JobRecord{}, err
	}

	rec.Status = models.JobStatus(status)
	rec.Error = errText.String
	rec.CreatedAt = time.UnixMilli(createdAt).UTC()
	rec.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	rec.StartTime = fromMillis(startedAt)
	rec.EndTime = fromMillis(finishedAt)
	if processingMs.Valid {
		rec.ProcessingTime = time.Duration(processingMs.Int64) * time.Millisecond
	}

	if err := json.Unmarshal([]byte(contextJSON), &rec.Context); err != nil {
		return JobRecord{}, fmt.Errorf("decode context of job %s: %w", rec.ID, err)
	}
	if planJSON.Valid {
		var plan models.SchedulingPlan
		if err := json.Unmarshal([]byte(planJSON.String), &plan); err != nil {
			return JobRecord{}, fmt.Errorf("decode plan of job %s: %w", rec.ID, err)
		}
		rec.Plan = &plan
	}
	if optsJSON.Valid {
		if err := json.Unmarshal([]byte(optsJSON.String), &rec.Optimizations); err != nil {
			return JobRecord{}, fmt.Errorf("decode optimizations of job %s: %w", rec.ID, err)
		}
	}
	return rec, nil
}

// GetJob retrieves an archived job by ID
func (r *JobRepository) GetJob(ctx context.Context, id string) (JobRecord, error) {
	rec, err := scanJob(r.db.queryRow(ctx, selectJobColumns+" WHERE id = $1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return JobRecord{}, models.ErrJobNotFound
	}
	if err != nil {
		return JobRecord{}, fmt.Errorf("get job %s: %w", id, err)
	}
	return rec, nil
}

// ListJobs returns archived jobs newest first, optionally filtered by status.
// A limit of zero or less returns every match.
func (r *JobRepository) ListJobs(ctx context.Context, status *models.JobStatus, limit int) ([]JobRecord, error) {
	query := selectJobColumns
	var args []any
	if status != nil {
		args = append(args, string(*status))
		query += " WHERE status = " + placeholder(len(args))
	}
	query += " ORDER BY created_at DESC, id"
	if limit > 0 {
		args = append(args, limit)
		query += " LIMIT " + placeholder(len(args))
	}

	rows, err := r.db.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var records []JobRecord
	for rows.Next() {
		rec, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// RecordTransition archives the job's current state together with the event
// that led to it. An empty from marks the job's first event.
func (r *JobRepository) RecordTransition(ctx context.Context, job models.Job, from models.JobStatus, reason string) error {
	event := models.JobEvent{
		JobID:    job.ID,
		At:       r.now(),
		ToStatus: job.Status,
		Reason:   reason,
		Meta:     transitionMeta(job),
	}
	if from != "" {
		event.FromStatus = &from
	}

	return r.db.withTx(ctx, func(tx *sql.Tx) error {
		if err := r.saveJob(ctx, tx, job); err != nil {
			return err
		}
		return createJobEventTx(ctx, r.db, tx, event)
	})
}

func transitionMeta(job models.Job) map[string]interface{} {
	meta := map[string]interface{}{
		"progress": job.Progress,
	}
	if job.Plan != nil {
		meta["worker_count"] = job.Plan.WorkerCount
		meta["strategy"] = string(job.Plan.Strategy)
	}
	if job.Error != "" {
		meta["error"] = job.Error
	}
	if len(job.Partial) > 0 {
		meta["partial_results"] = len(job.Partial)
	}
	if job.PerformanceMetrics != nil {
		meta["processing_ms"] = job.PerformanceMetrics.ProcessingTime.Milliseconds()
	}
	return meta
}
