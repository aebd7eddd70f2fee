package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"batch-orchestrator/config"
	"batch-orchestrator/core/executor"
	"batch-orchestrator/core/models"
	"batch-orchestrator/core/monitoring"
	"batch-orchestrator/core/resource_manager"
	"batch-orchestrator/core/scheduler"
)

// ErrAlreadyStarted is returned by Start on a running service
var ErrAlreadyStarted = errors.New("service already started")

// Options wires a Service. Zero values fall back to the package defaults.
type Options struct {
	Pool         resource_manager.Config
	Capabilities resource_manager.CapabilityGenerator // nil draws from a clock-seeded RNG
	Scheduler    scheduler.Config
	Controller   scheduler.ControllerConfig
	Processor    executor.Config
	Window       time.Duration // Trailing window of the job monitor
	Recorder     executor.Recorder
	Logger       *slog.Logger
}

// Service is the batch engine: the pool, queue, scheduler, controller and
// processor for one process, with an explicit lifecycle
type Service struct {
	pool       *resource_manager.WorkerPool
	queue      *scheduler.JobQueue
	scheduler  *scheduler.Scheduler
	monitor    *monitoring.JobMonitor
	controller *scheduler.Controller
	processor  *executor.Processor
	recorder   executor.Recorder
	logger     *slog.Logger
	now        func() time.Time

	mu      sync.Mutex
	cancel  context.CancelFunc
	running sync.WaitGroup
}

// New builds a service that generates results with chunks
func New(opts Options, chunks executor.ChunkProcessor) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	window := opts.Window
	if window <= 0 {
		window = monitoring.DefaultWindow
	}

	pool := resource_manager.NewWorkerPool(opts.Pool, opts.Capabilities, logger.With("component", "worker_pool"))
	queue := scheduler.NewJobQueue()
	sched := scheduler.NewScheduler(pool, opts.Scheduler, logger.With("component", "scheduler"))
	monitor := monitoring.NewJobMonitor(window)

	return &Service{
		pool:       pool,
		queue:      queue,
		scheduler:  sched,
		monitor:    monitor,
		controller: scheduler.NewController(sched, queue, pool, monitor, opts.Controller, logger.With("component", "controller")),
		processor:  executor.NewProcessor(queue, sched, pool, monitor, chunks, opts.Recorder, opts.Processor, logger.With("component", "processor")),
		recorder:   opts.Recorder,
		logger:     logger,
		now:        time.Now,
	}
}

// NewFromConfig builds a service from application configuration. recorder may be nil.
func NewFromConfig(cfg *config.Config, chunks executor.ChunkProcessor, recorder executor.Recorder, logger *slog.Logger) *Service {
	var capabilities resource_manager.CapabilityGenerator
	if cfg.Pool.CapabilitySeed != 0 {
		capabilities = resource_manager.RandomCapabilities(cfg.Pool.CapabilitySeed)
	}

	return New(Options{
		Pool: resource_manager.Config{
			Size:    cfg.Pool.Size,
			MinSize: cfg.Pool.MinSize,
			MaxSize: cfg.Pool.MaxSize,
		},
		Capabilities: capabilities,
		Scheduler: scheduler.Config{
			MinCeiling:      cfg.Scheduler.MinCeiling,
			MaxCeiling:      cfg.Scheduler.MaxCeiling,
			InitialCeiling:  cfg.Scheduler.InitialCeiling,
			StreamThreshold: cfg.Scheduler.StreamThreshold,
		},
		Controller: scheduler.ControllerConfig{
			HealthInterval:       cfg.Controller.HealthInterval.Std(),
			OptimizeInterval:     cfg.Controller.OptimizeInterval.Std(),
			PredictiveInterval:   cfg.Controller.PredictiveInterval.Std(),
			HistoricalThroughput: cfg.Controller.HistoricalThroughput,
			ThroughputDropRatio:  cfg.Controller.ThroughputDropRatio,
			UtilizationHigh:      cfg.Controller.UtilizationHigh,
			UtilizationLow:       cfg.Controller.UtilizationLow,
			ErrorRateThreshold:   cfg.Controller.ErrorRateThreshold,
			ScaleUpBacklog:       cfg.Controller.ScaleUpBacklog,
		},
		Processor: executor.Config{
			ChunkTimeout: cfg.Processor.ChunkTimeout.Std(),
		},
		Window:   cfg.Controller.Window.Std(),
		Recorder: recorder,
		Logger:   logger,
	}, chunks)
}

// Start launches the dispatcher and the controller loops. They run until Stop
// is called or ctx ends.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return ErrAlreadyStarted
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.running.Add(2)
	go func() {
		defer s.running.Done()
		s.processor.Run(runCtx)
	}()
	go func() {
		defer s.running.Done()
		s.controller.Run(runCtx)
	}()

	stats := s.pool.Stats()
	s.logger.Info("batch service started",
		"workers", stats.Total,
		"min_workers", stats.MinSize,
		"max_workers", stats.MaxSize,
		"ceiling", s.scheduler.Ceiling(),
	)
	return nil
}

// Stop cancels the loops and every in-flight job, then waits for them to
// settle. It is safe to call more than once.
func (s *Service) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	s.running.Wait()
	s.processor.Wait()
	s.logger.Info("batch service stopped")
}

// SubmitBatch enqueues items for processing and returns the job id without
// waiting for the job to run. The submission is archived before the job can
// be dequeued.
func (s *Service) SubmitBatch(ctx context.Context, items []models.Item, jc models.JobContext) (string, error) {
	id, err := s.queue.SubmitWith(items, jc, func(job models.Job) {
		s.record(ctx, job, "", models.ReasonSubmitted)
		s.logger.Info("batch submitted",
			"job_id", job.ID,
			"items", len(job.Items),
			"priority", job.Priority,
			"target", job.Context.PerformanceTarget,
		)
	})
	if err != nil {
		return "", fmt.Errorf("submit batch: %w", err)
	}
	return id, nil
}

// GetJobStatus returns the status view of a job, or models.ErrJobNotFound
func (s *Service) GetJobStatus(id string) (models.JobView, error) {
	job, ok := s.queue.Get(id)
	if !ok {
		return models.JobView{}, models.ErrJobNotFound
	}
	return job.View(), nil
}

// ListJobs returns every job in submission order
func (s *Service) ListJobs() []models.JobSummary {
	jobs := s.queue.List()
	summaries := make([]models.JobSummary, 0, len(jobs))
	for _, job := range jobs {
		summaries = append(summaries, job.Summary())
	}
	return summaries
}

// CancelJob stops a pending or processing job. It returns false when the job
// is unknown or already terminal.
func (s *Service) CancelJob(ctx context.Context, id string) bool {
	job, from, ok := s.queue.Cancel(id)
	if !ok {
		return false
	}

	var elapsed time.Duration
	if job.StartTime != nil && job.EndTime != nil {
		elapsed = job.EndTime.Sub(*job.StartTime)
	}
	s.monitor.RecordOutcome(job.Status, elapsed, s.now())
	s.record(ctx, job, from, models.ReasonCancelled)
	s.logger.Info("job cancelled", "job_id", id, "from", from)
	return true
}

// GetMetrics samples the system and returns the refreshed metrics snapshot
func (s *Service) GetMetrics() models.BatchMetrics {
	s.controller.SampleHealth()
	return s.monitor.Snapshot()
}

// ForceOptimizationCycle runs one controller tick synchronously
func (s *Service) ForceOptimizationCycle() scheduler.Decision {
	return s.controller.Tick()
}

// Workers returns a snapshot of the pool ordered by id
func (s *Service) Workers() []models.Worker {
	return s.pool.Workers()
}

// Monitor exposes the outcome tracker for exporters
func (s *Service) Monitor() *monitoring.JobMonitor {
	return s.monitor
}

func (s *Service) record(ctx context.Context, job models.Job, from models.JobStatus, reason string) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.RecordTransition(context.WithoutCancel(ctx), job, from, reason); err != nil {
		s.logger.Warn("failed to archive job transition", "job_id", job.ID, "reason", reason, "error", err)
	}
}
