package monitoring

import (
	"sync"
	"time"

	"batch-orchestrator/core/models"
)

// DefaultWindow is the trailing window used for throughput and error rate
const DefaultWindow = time.Hour

// outcome is one finished job as seen by the monitor
type outcome struct {
	at       time.Time
	status   models.JobStatus
	duration time.Duration
}

// WindowStats summarises the outcomes inside the trailing window
type WindowStats struct {
	Completed             int
	Failed                int
	Cancelled             int
	Throughput            float64 // Completed jobs in the window
	ErrorRate             float64 // failed / (completed + failed)
	SuccessRate           float64
	AverageProcessingTime time.Duration // Over completed jobs
}

// JobMonitor keeps the recent job outcomes and the last published
// BatchMetrics snapshot
type JobMonitor struct {
	mu       sync.Mutex
	window   time.Duration
	outcomes []outcome // Ordered by time
	totals   map[models.JobStatus]int
	metrics  models.BatchMetrics
}

// NewJobMonitor creates a monitor with the given trailing window
func NewJobMonitor(window time.Duration) *JobMonitor {
	if window <= 0 {
		window = DefaultWindow
	}
	return &JobMonitor{
		window: window,
		totals: make(map[models.JobStatus]int),
	}
}

// Window returns the trailing window length
func (jm *JobMonitor) Window() time.Duration {
	return jm.window
}

// RecordOutcome records a job that reached a terminal status at the given time
func (jm *JobMonitor) RecordOutcome(status models.JobStatus, duration time.Duration, at time.Time) {
	if !status.IsTerminal() {
		return
	}

	jm.mu.Lock()
	defer jm.mu.Unlock()

	o := outcome{at: at, status: status, duration: duration}
	// Outcomes normally arrive in order; keep the slice sorted when they don't
	i := len(jm.outcomes)
	for i > 0 && jm.outcomes[i-1].at.After(at) {
		i--
	}
	jm.outcomes = append(jm.outcomes, outcome{})
	copy(jm.outcomes[i+1:], jm.outcomes[i:])
	jm.outcomes[i] = o
	jm.totals[status]++
}

// WindowStats computes the statistics of the window ending at now and drops
// outcomes that have aged out of it
func (jm *JobMonitor) WindowStats(now time.Time) WindowStats {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	cutoff := now.Add(-jm.window)
	drop := 0
	for drop < len(jm.outcomes) && jm.outcomes[drop].at.Before(cutoff) {
		drop++
	}
	if drop > 0 {
		jm.outcomes = append(jm.outcomes[:0], jm.outcomes[drop:]...)
	}

	var stats WindowStats
	var total time.Duration
	for _, o := range jm.outcomes {
		if o.at.After(now) {
			break
		}
		switch o.status {
		case models.JobStatusCompleted:
			stats.Completed++
			total += o.duration
		case models.JobStatusFailed:
			stats.Failed++
		case models.JobStatusCancelled:
			stats.Cancelled++
		}
	}

	stats.Throughput = float64(stats.Completed)
	if finished := stats.Completed + stats.Failed; finished > 0 {
		stats.ErrorRate = float64(stats.Failed) / float64(finished)
		stats.SuccessRate = float64(stats.Completed) / float64(finished)
	}
	if stats.Completed > 0 {
		stats.AverageProcessingTime = total / time.Duration(stats.Completed)
	}
	return stats
}

// Totals returns the lifetime count of outcomes per terminal status
func (jm *JobMonitor) Totals() map[models.JobStatus]int {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	out := make(map[models.JobStatus]int, len(jm.totals))
	for k, v := range jm.totals {
		out[k] = v
	}
	return out
}

// Publish stores the latest metrics snapshot
func (jm *JobMonitor) Publish(m models.BatchMetrics) {
	jm.mu.Lock()
	jm.metrics = m
	jm.mu.Unlock()
}

// Snapshot returns the last published metrics
func (jm *JobMonitor) Snapshot() models.BatchMetrics {
	jm.mu.Lock()
	defer jm.mu.Unlock()
	return jm.metrics
}
