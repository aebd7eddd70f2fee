package models

import "time"

// Worker is one execution slot in the pool
type Worker struct {
	ID           int                `json:"id"`
	Status       WorkerStatus       `json:"status"`
	Profile      PerformanceProfile `json:"profile"`
	Capabilities Capabilities       `json:"capabilities"`
	CreatedAt    time.Time          `json:"created_at"`
	LastUsedAt   time.Time          `json:"last_used_at"` // Zero until the worker runs its first chunk
}

// WorkerStatus represents whether a worker is bound to a chunk
type WorkerStatus string

const (
	WorkerIdle WorkerStatus = "idle"
	WorkerBusy WorkerStatus = "busy"
)

// PerformanceProfile accumulates how a worker has performed so far
type PerformanceProfile struct {
	CompletedJobs int           `json:"completed_jobs"`
	AverageTime   time.Duration `json:"average_time"`
	ErrorCount    int           `json:"error_count"`
	Efficiency    float64       `json:"efficiency"` // 1.0 at creation, never negative
}

// Capabilities are static per-worker traits used by fitness scoring
type Capabilities struct {
	OptimizationLevel float64 `json:"optimization_level"`
	AdaptabilityScore float64 `json:"adaptability_score"`
	LearningRate      float64 `json:"learning_rate"`
}
