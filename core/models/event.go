package models

import "time"

// JobEvent represents a state transition event for a job
type JobEvent struct {
	ID         int64                  `json:"id"`
	JobID      string                 `json:"job_id"`
	At         time.Time              `json:"at"`
	FromStatus *JobStatus             `json:"from_status,omitempty"`
	ToStatus   JobStatus              `json:"to_status"`
	Reason     string                 `json:"reason"`
	Meta       map[string]interface{} `json:"meta,omitempty"`
}

// Transition reasons recorded alongside job events
const (
	ReasonSubmitted = "job_submitted"
	ReasonDequeued  = "processing_started"
	ReasonCompleted = "all_chunks_completed"
	ReasonFailed    = "chunk_failed"
	ReasonCancelled = "user_cancelled"
	ReasonShutdown  = "processor_stopped"
)
