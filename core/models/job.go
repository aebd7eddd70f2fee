package models

import (
	"fmt"
	"time"
)

// Job represents one batch of effects submitted for generation
type Job struct {
	ID                 string
	Items              []Item
	Priority           int
	Context            JobContext
	Status             JobStatus
	Progress           int // 0-100, 100 only when completed
	CreatedAt          time.Time
	StartTime          *time.Time
	EndTime            *time.Time
	Plan               *SchedulingPlan
	Optimizations      []string // Set once before chunks are dispatched
	Results            []Result
	Partial            []Result // Results of the chunks that succeeded in a failed job
	Error              string
	PerformanceMetrics *JobPerformance
	Seq                uint64 // Submission order, breaks priority ties
}

// JobStatus represents the lifecycle state of a job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// IsTerminal reports whether no further transition is allowed from s
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// PerformanceTarget steers how aggressively a job is parallelised
type PerformanceTarget string

const (
	TargetSpeed    PerformanceTarget = "speed"
	TargetQuality  PerformanceTarget = "quality"
	TargetBalanced PerformanceTarget = "balanced"
)

// JobContext is the configuration bag submitted alongside the items
type JobContext struct {
	PerformanceTarget PerformanceTarget `json:"performance_target,omitempty" yaml:"performance_target"`
	Urgent            bool              `json:"urgent,omitempty" yaml:"urgent"`
	ComplexityBudget  int               `json:"complexity_budget,omitempty" yaml:"complexity_budget"` // 0 means unbounded
	Metadata          map[string]string `json:"metadata,omitempty" yaml:"metadata"`
}

// Normalize fills defaults and validates the context
func (c JobContext) Normalize() (JobContext, error) {
	switch c.PerformanceTarget {
	case "":
		c.PerformanceTarget = TargetBalanced
	case TargetSpeed, TargetQuality, TargetBalanced:
	default:
		return c, fmt.Errorf("%w: unknown performance target %q", ErrInvalidContext, c.PerformanceTarget)
	}
	if c.ComplexityBudget < 0 {
		return c, fmt.Errorf("%w: complexity budget must not be negative, got %d", ErrInvalidContext, c.ComplexityBudget)
	}
	return c, nil
}

// Item is one effect request. The scheduler only counts items; their content
// is interpreted by the chunk processor.
type Item struct {
	ID     string                 `json:"id,omitempty" yaml:"id"`
	Type   string                 `json:"type" yaml:"type"`
	Prompt string                 `json:"prompt,omitempty" yaml:"prompt"`
	Params map[string]interface{} `json:"params,omitempty" yaml:"params"`
}

// Result is the output produced for one item
type Result struct {
	ItemID string                 `json:"item_id"`
	Type   string                 `json:"type,omitempty"`
	Output string                 `json:"output"`
	Meta   map[string]interface{} `json:"meta,omitempty"`
}

// Strategy describes how chunks of a job are dispatched
type Strategy string

const (
	StrategyChunked   Strategy = "chunked"
	StrategyStreaming Strategy = "streaming"
)

// SchedulingPlan is the scheduler's decision for one job
type SchedulingPlan struct {
	WorkerCount       int      `json:"worker_count"`
	Strategy          Strategy `json:"strategy"`
	OptimizationLevel float64  `json:"optimization_level"`
	Conservative      bool     `json:"conservative"`
}

// Chunk is a contiguous slice of a job's items assigned to one worker
type Chunk struct {
	Index  int
	Offset int // Index of the first item in the job
	Items  []Item
}

// JobPerformance is populated once a job completes
type JobPerformance struct {
	ProcessingTime    time.Duration `json:"processing_time"`
	ItemsPerSecond    float64       `json:"items_per_second"`
	OptimizationCount int           `json:"optimization_count"`
}

// JobView is the externally visible status of a job
type JobView struct {
	ID                 string          `json:"id"`
	Status             JobStatus       `json:"status"`
	Priority           int             `json:"priority"`
	Progress           int             `json:"progress"`
	ItemCount          int             `json:"item_count"`
	Context            JobContext      `json:"context"`
	CreatedAt          time.Time       `json:"created_at"`
	StartTime          *time.Time      `json:"start_time,omitempty"`
	EndTime            *time.Time      `json:"end_time,omitempty"`
	Plan               *SchedulingPlan `json:"plan,omitempty"`
	Optimizations      []string        `json:"optimizations,omitempty"`
	Results            []Result        `json:"results,omitempty"`
	Partial            []Result        `json:"partial,omitempty"`
	Error              string          `json:"error,omitempty"`
	PerformanceMetrics *JobPerformance `json:"performance_metrics,omitempty"`
}

// JobSummary is the compact listing form of a job
type JobSummary struct {
	ID        string     `json:"id"`
	Status    JobStatus  `json:"status"`
	Priority  int        `json:"priority"`
	Progress  int        `json:"progress"`
	ItemCount int        `json:"item_count"`
	StartTime *time.Time `json:"start_time,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`
}

// View returns the status view of the job
func (j Job) View() JobView {
	return JobView{
		ID:                 j.ID,
		Status:             j.Status,
		Priority:           j.Priority,
		Progress:           j.Progress,
		ItemCount:          len(j.Items),
		Context:            j.Context,
		CreatedAt:          j.CreatedAt,
		StartTime:          j.StartTime,
		EndTime:            j.EndTime,
		Plan:               j.Plan,
		Optimizations:      j.Optimizations,
		Results:            j.Results,
		Partial:            j.Partial,
		Error:              j.Error,
		PerformanceMetrics: j.PerformanceMetrics,
	}
}

// Summary returns the listing form of the job
func (j Job) Summary() JobSummary {
	return JobSummary{
		ID:        j.ID,
		Status:    j.Status,
		Priority:  j.Priority,
		Progress:  j.Progress,
		ItemCount: len(j.Items),
		StartTime: j.StartTime,
		EndTime:   j.EndTime,
	}
}
