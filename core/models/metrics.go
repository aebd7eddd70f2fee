package models

import "time"

// BatchMetrics is the process-wide health snapshot maintained by the controller
type BatchMetrics struct {
	Throughput            float64       `json:"throughput"` // Completed jobs in the trailing window
	AverageProcessingTime time.Duration `json:"average_processing_time"`
	SuccessRate           float64       `json:"success_rate"`
	ErrorRate             float64       `json:"error_rate"`
	ResourceUtilization   float64       `json:"resource_utilization"`
	AIEfficiency          float64       `json:"ai_efficiency"` // Mean worker efficiency, kept for dashboard compatibility

	QueueLength        int       `json:"queue_length"`
	ActiveJobs         int       `json:"active_jobs"`
	TotalWorkers       int       `json:"total_workers"`
	BusyWorkers        int       `json:"busy_workers"`
	ConcurrencyCeiling int       `json:"concurrency_ceiling"`
	DegradedMode       bool      `json:"degraded_mode"`
	CompletedJobs      int       `json:"completed_jobs"`
	FailedJobs         int       `json:"failed_jobs"`
	UpdatedAt          time.Time `json:"updated_at"`
}
