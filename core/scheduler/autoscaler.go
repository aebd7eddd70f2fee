package scheduler

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"batch-orchestrator/core/models"
	"batch-orchestrator/core/monitoring"
	"batch-orchestrator/core/resource_manager"
)

// Ceiling rules reported in a Decision
const (
	RuleNone            = "none"
	RuleUtilizationDown = "utilization_high"
	RuleThroughputUp    = "throughput_low"
)

// ControllerConfig tunes the autonomous control loops
type ControllerConfig struct {
	HealthInterval     time.Duration
	OptimizeInterval   time.Duration
	PredictiveInterval time.Duration

	// HistoricalThroughput seeds the throughput baseline before the first sweep
	HistoricalThroughput float64
	ThroughputDropRatio  float64
	UtilizationHigh      float64
	UtilizationLow       float64
	ErrorRateThreshold   float64
	ScaleUpBacklog       int
}

// DefaultControllerConfig returns the reference cadence and thresholds
func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{
		HealthInterval:      10 * time.Second,
		OptimizeInterval:    30 * time.Second,
		PredictiveInterval:  120 * time.Second,
		ThroughputDropRatio: 0.8,
		UtilizationHigh:     0.9,
		UtilizationLow:      0.25,
		ErrorRateThreshold:  0.1,
		ScaleUpBacklog:      5,
	}
}

func (c ControllerConfig) withDefaults() ControllerConfig {
	d := DefaultControllerConfig()
	if c.HealthInterval <= 0 {
		c.HealthInterval = d.HealthInterval
	}
	if c.OptimizeInterval <= 0 {
		c.OptimizeInterval = d.OptimizeInterval
	}
	if c.PredictiveInterval <= 0 {
		c.PredictiveInterval = d.PredictiveInterval
	}
	if c.ThroughputDropRatio <= 0 {
		c.ThroughputDropRatio = d.ThroughputDropRatio
	}
	if c.UtilizationHigh <= 0 {
		c.UtilizationHigh = d.UtilizationHigh
	}
	if c.UtilizationLow <= 0 {
		c.UtilizationLow = d.UtilizationLow
	}
	if c.ErrorRateThreshold <= 0 {
		c.ErrorRateThreshold = d.ErrorRateThreshold
	}
	if c.ScaleUpBacklog <= 0 {
		c.ScaleUpBacklog = d.ScaleUpBacklog
	}
	return c
}

// Observation is one sample of the system taken by the controller
type Observation struct {
	QueueLength          int           `json:"queue_length"`
	ActiveJobs           int           `json:"active_jobs"`
	BusyWorkers          int           `json:"busy_workers"`
	TotalWorkers         int           `json:"total_workers"`
	Utilization          float64       `json:"utilization"`
	ErrorRate            float64       `json:"error_rate"`
	Throughput           float64       `json:"throughput"`
	HistoricalThroughput float64       `json:"historical_throughput"`
	SuccessRate          float64       `json:"success_rate"`
	AverageTime          time.Duration `json:"average_time"`
	MeanEfficiency       float64       `json:"mean_efficiency"`
	CompletedJobs        int           `json:"completed_jobs"`
	FailedJobs           int           `json:"failed_jobs"`
}

// Decision is the outcome of one optimization tick
type Decision struct {
	Observation     Observation `json:"observation"`
	PreviousCeiling int         `json:"previous_ceiling"`
	Ceiling         int         `json:"ceiling"`
	Rule            string      `json:"rule"`
	Degraded        bool        `json:"degraded"`
	At              time.Time   `json:"at"`
}

// Controller adapts the scheduler's concurrency ceiling and degraded bit on a
// fixed cadence, and resizes the pool on the slower predictive sweep
type Controller struct {
	scheduler *Scheduler
	queue     *JobQueue
	pool      *resource_manager.WorkerPool
	monitor   *monitoring.JobMonitor
	cfg       ControllerConfig
	logger    *slog.Logger
	now       func() time.Time

	mu         sync.Mutex // Serialises ticks and guards historical
	historical float64
}

// NewController creates a controller over the shared components
func NewController(
	scheduler *Scheduler,
	queue *JobQueue,
	pool *resource_manager.WorkerPool,
	monitor *monitoring.JobMonitor,
	cfg ControllerConfig,
	logger *slog.Logger,
) *Controller {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	cfg = cfg.withDefaults()
	return &Controller{
		scheduler:  scheduler,
		queue:      queue,
		pool:       pool,
		monitor:    monitor,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
		historical: cfg.HistoricalThroughput,
	}
}

// Run drives the health, optimization and predictive loops until ctx ends
func (c *Controller) Run(ctx context.Context) {
	health := time.NewTicker(c.cfg.HealthInterval)
	defer health.Stop()
	optimize := time.NewTicker(c.cfg.OptimizeInterval)
	defer optimize.Stop()
	predictive := time.NewTicker(c.cfg.PredictiveInterval)
	defer predictive.Stop()

	c.SampleHealth()

	for {
		select {
		case <-ctx.Done():
			return
		case <-health.C:
			c.SampleHealth()
		case <-optimize.C:
			c.Tick()
		case <-predictive.C:
			c.Sweep()
		}
	}
}

// SeedHistoricalThroughput replaces the throughput baseline
func (c *Controller) SeedHistoricalThroughput(v float64) {
	c.mu.Lock()
	c.historical = v
	c.mu.Unlock()
}

// HistoricalThroughput returns the current throughput baseline
func (c *Controller) HistoricalThroughput() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.historical
}

// Sample observes the queue, the pool and the trailing window
func (c *Controller) Sample() Observation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sampleLocked()
}

func (c *Controller) sampleLocked() Observation {
	stats := c.pool.Stats()
	window := c.monitor.WindowStats(c.now())
	return Observation{
		QueueLength:          c.queue.Len(),
		ActiveJobs:           c.queue.ActiveCount(),
		BusyWorkers:          stats.Busy,
		TotalWorkers:         stats.Total,
		Utilization:          stats.Utilization,
		ErrorRate:            window.ErrorRate,
		Throughput:           window.Throughput,
		HistoricalThroughput: c.historical,
		SuccessRate:          window.SuccessRate,
		AverageTime:          window.AverageProcessingTime,
		MeanEfficiency:       stats.MeanEfficiency,
		CompletedJobs:        window.Completed,
		FailedJobs:           window.Failed,
	}
}

// SampleHealth samples the system, updates the degraded bit and publishes
// the metrics snapshot
func (c *Controller) SampleHealth() Observation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sampleHealthLocked()
}

func (c *Controller) sampleHealthLocked() Observation {
	obs := c.sampleLocked()

	degraded := obs.ErrorRate > c.cfg.ErrorRateThreshold
	if c.scheduler.SetDegraded(degraded) {
		if degraded {
			c.logger.Warn("entering degraded mode", "error_rate", obs.ErrorRate, "threshold", c.cfg.ErrorRateThreshold)
		} else {
			c.logger.Info("leaving degraded mode", "error_rate", obs.ErrorRate)
		}
	}

	c.monitor.Publish(models.BatchMetrics{
		Throughput:            obs.Throughput,
		AverageProcessingTime: obs.AverageTime,
		SuccessRate:           obs.SuccessRate,
		ErrorRate:             obs.ErrorRate,
		ResourceUtilization:   obs.Utilization,
		AIEfficiency:          obs.MeanEfficiency,
		QueueLength:           obs.QueueLength,
		ActiveJobs:            obs.ActiveJobs,
		TotalWorkers:          obs.TotalWorkers,
		BusyWorkers:           obs.BusyWorkers,
		ConcurrencyCeiling:    c.scheduler.Ceiling(),
		DegradedMode:          degraded,
		CompletedJobs:         obs.CompletedJobs,
		FailedJobs:            obs.FailedJobs,
		UpdatedAt:             c.now(),
	})
	return obs
}

// Tick runs one optimization cycle. High utilization lowers the ceiling and
// takes precedence over low throughput, which raises it.
func (c *Controller) Tick() Decision {
	c.mu.Lock()
	defer c.mu.Unlock()

	obs := c.sampleHealthLocked()
	d := Decision{
		Observation:     obs,
		PreviousCeiling: c.scheduler.Ceiling(),
		Rule:            RuleNone,
		Degraded:        c.scheduler.Degraded(),
		At:              c.now(),
	}

	switch {
	case obs.Utilization > c.cfg.UtilizationHigh:
		d.Rule = RuleUtilizationDown
		d.Ceiling = c.scheduler.AdjustCeiling(-1)
	case obs.Throughput < c.cfg.ThroughputDropRatio*c.historical:
		d.Rule = RuleThroughputUp
		d.Ceiling = c.scheduler.AdjustCeiling(1)
	default:
		d.Ceiling = c.scheduler.Ceiling()
	}

	if d.Ceiling != d.PreviousCeiling {
		c.logger.Info("concurrency ceiling adjusted",
			"rule", d.Rule,
			"from", d.PreviousCeiling,
			"to", d.Ceiling,
			"utilization", obs.Utilization,
			"throughput", obs.Throughput,
			"historical_throughput", c.historical,
		)
	}
	return d
}

// Sweep folds the observed throughput into the baseline and resizes the pool
// when the backlog or idleness calls for it
func (c *Controller) Sweep() Observation {
	c.mu.Lock()
	defer c.mu.Unlock()

	obs := c.sampleLocked()
	c.historical = 0.8*c.historical + 0.2*obs.Throughput

	switch {
	case obs.QueueLength >= c.cfg.ScaleUpBacklog && obs.Utilization > c.cfg.UtilizationHigh:
		if added := c.pool.Resize(1); added > 0 {
			c.logger.Info("predictive scale up", "queue_length", obs.QueueLength, "pool_size", obs.TotalWorkers+added)
		}
	case obs.QueueLength == 0 && obs.Utilization < c.cfg.UtilizationLow:
		if removed := c.pool.Resize(-1); removed < 0 {
			c.logger.Info("predictive scale down", "utilization", obs.Utilization, "pool_size", obs.TotalWorkers+removed)
		}
	}

	if c.scheduler.Degraded() {
		c.reportSuspectWorkers()
	}
	return obs
}

// reportSuspectWorkers logs the workers with the most recorded failures
func (c *Controller) reportSuspectWorkers() {
	workers := c.pool.Workers()
	sort.SliceStable(workers, func(i, j int) bool {
		return workers[i].Profile.ErrorCount > workers[j].Profile.ErrorCount
	})
	for i, w := range workers {
		if i == 3 || w.Profile.ErrorCount == 0 {
			break
		}
		c.logger.Warn("worker with elevated failures",
			"worker_id", w.ID,
			"error_count", w.Profile.ErrorCount,
			"efficiency", w.Profile.Efficiency,
		)
	}
}
