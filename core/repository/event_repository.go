package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"batch-orchestrator/core/models"
)

// EventRepository handles database operations for job events
type EventRepository struct {
	db *DB
}

// NewEventRepository creates a new event repository
func NewEventRepository(db *DB) *EventRepository {
	return &EventRepository{db: db}
}

const insertEventQuery = `
	INSERT INTO job_events (job_id, at, from_status, to_status, reason, meta_json)
	VALUES ($1, $2, $3, $4, $5, $6)
`

// CreateJobEvent appends an event to a job's history
func (r *EventRepository) CreateJobEvent(ctx context.Context, event models.JobEvent) error {
	return createJobEventTx(ctx, r.db, r.db.conn, event)
}

func createJobEventTx(ctx context.Context, db *DB, e execer, event models.JobEvent) error {
	var fromStatus sql.NullString
	if event.FromStatus != nil {
		fromStatus = sql.NullString{String: string(*event.FromStatus), Valid: true}
	}
	var metaJSON sql.NullString
	if len(event.Meta) > 0 {
		b, err := json.Marshal(event.Meta)
		if err != nil {
			return fmt.Errorf("marshal event meta: %w", err)
		}
		metaJSON = sql.NullString{String: string(b), Valid: true}
	}
	at := event.At
	if at.IsZero() {
		at = time.Now()
	}

	err := db.exec(ctx, e, insertEventQuery,
		event.JobID,
		toMillis(at),
		fromStatus,
		string(event.ToStatus),
		event.Reason,
		metaJSON,
	)
	if err != nil {
		return fmt.Errorf("create event for job %s: %w", event.JobID, err)
	}
	return nil
}

// GetJobEvents retrieves a job's events oldest first. A limit of zero or less
// returns the full history.
func (r *EventRepository) GetJobEvents(ctx context.Context, jobID string, limit int) ([]models.JobEvent, error) {
	query := `
		SELECT id, job_id, at, from_status, to_status, reason, meta_json
		FROM job_events
		WHERE job_id = $1
		ORDER BY at ASC, id ASC
	`
	args := []any{jobID}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := r.db.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get events for job %s: %w", jobID, err)
	}
	defer rows.Close()

	var events []models.JobEvent
	for rows.Next() {
		var (
			event      models.JobEvent
			at         int64
			fromStatus sql.NullString
			toStatus   string
			metaJSON   sql.NullString
		)
		err := rows.Scan(
			&event.ID,
			&event.JobID,
			&at,
			&fromStatus,
			&toStatus,
			&event.Reason,
			&metaJSON,
		)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}

		event.At = time.UnixMilli(at).UTC()
		event.ToStatus = models.JobStatus(toStatus)
		if fromStatus.Valid {
			status := models.JobStatus(fromStatus.String)
			event.FromStatus = &status
		}
		if metaJSON.Valid {
			if err := json.Unmarshal([]byte(metaJSON.String), &event.Meta); err != nil {
				return nil, fmt.Errorf("decode meta of event %d: %w", event.ID, err)
			}
		}
		events = append(events, event)
	}
	return events, rows.Err()
}
