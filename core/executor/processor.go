package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"batch-orchestrator/core/models"
	"batch-orchestrator/core/monitoring"
	"batch-orchestrator/core/resource_manager"
	"batch-orchestrator/core/scheduler"
)

// DefaultChunkTimeout bounds a single ProcessChunk call
const DefaultChunkTimeout = 2 * time.Minute

// ChunkProcessor turns a chunk of items into results. Implementations should
// return promptly once ctx is done.
type ChunkProcessor interface {
	ProcessChunk(ctx context.Context, items []models.Item, jc models.JobContext) ([]models.Result, error)
}

// ChunkProcessorFunc adapts a function to ChunkProcessor
type ChunkProcessorFunc func(ctx context.Context, items []models.Item, jc models.JobContext) ([]models.Result, error)

// ProcessChunk calls f
func (f ChunkProcessorFunc) ProcessChunk(ctx context.Context, items []models.Item, jc models.JobContext) ([]models.Result, error) {
	return f(ctx, items, jc)
}

// Recorder receives every status transition the processor applies
type Recorder interface {
	RecordTransition(ctx context.Context, job models.Job, from models.JobStatus, reason string) error
}

// Config tunes the processor
type Config struct {
	ChunkTimeout time.Duration
}

// Processor drives dequeued jobs to a terminal state
type Processor struct {
	queue     *scheduler.JobQueue
	scheduler *scheduler.Scheduler
	pool      *resource_manager.WorkerPool
	monitor   *monitoring.JobMonitor
	chunks    ChunkProcessor
	recorder  Recorder
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
	wg        sync.WaitGroup
}

// NewProcessor creates a processor. recorder may be nil.
func NewProcessor(
	queue *scheduler.JobQueue,
	sched *scheduler.Scheduler,
	pool *resource_manager.WorkerPool,
	monitor *monitoring.JobMonitor,
	chunks ChunkProcessor,
	recorder Recorder,
	cfg Config,
	logger *slog.Logger,
) *Processor {
	if cfg.ChunkTimeout <= 0 {
		cfg.ChunkTimeout = DefaultChunkTimeout
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Processor{
		queue:     queue,
		scheduler: sched,
		pool:      pool,
		monitor:   monitor,
		chunks:    chunks,
		recorder:  recorder,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// Run dispatches pending jobs until ctx ends. A job is dequeued only while a
// worker is idle, and the next one waits until the previous job has bound its
// first worker. Call Wait afterwards to join jobs still in flight.
func (p *Processor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.queue.Ready():
		}

		for {
			if err := p.pool.WaitIdle(ctx); err != nil {
				return
			}
			job, ok := p.queue.DequeueNext()
			if !ok {
				break
			}

			bound := make(chan struct{})
			p.wg.Add(1)
			go func() {
				defer p.wg.Done()
				p.process(ctx, job, bound)
			}()

			select {
			case <-bound:
			case <-ctx.Done():
				return
			}
		}
	}
}

// Wait blocks until every job started by Run or Process has finished
func (p *Processor) Wait() {
	p.wg.Wait()
}

// Process drives one dequeued job to a terminal state and returns it
func (p *Processor) Process(ctx context.Context, job models.Job) models.Job {
	p.wg.Add(1)
	defer p.wg.Done()
	p.process(ctx, job, make(chan struct{}))
	final, _ := p.queue.Get(job.ID)
	return final
}

// chunkOutcome is the resolution of one chunk after at most one retry
type chunkOutcome struct {
	results   []models.Result
	err       error
	cancelled bool
}

// jobRun carries the per-job state shared by its chunk goroutines
type jobRun struct {
	job       models.Job
	plan      models.SchedulingPlan
	done      atomic.Int64 // Items in chunks that succeeded
	boundOnce sync.Once
	bound     chan struct{}
	logger    *slog.Logger
}

func (r *jobRun) markBound() {
	r.boundOnce.Do(func() { close(r.bound) })
}

func (p *Processor) process(ctx context.Context, job models.Job, bound chan struct{}) {
	run := &jobRun{bound: bound, logger: p.logger.With("job_id", job.ID)}
	defer run.markBound()

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	job, err := p.queue.MarkProcessing(job.ID, cancel)
	if err != nil {
		run.logger.Debug("skipping job", "error", err)
		return
	}
	p.record(ctx, job, models.JobStatusPending, models.ReasonDequeued)

	plan, optimizations := p.scheduler.PlanFor(job)
	p.queue.SetPlan(job.ID, plan, optimizations)
	run.job = job
	run.plan = plan

	chunks := Partition(job.Items, plan.WorkerCount, plan.Conservative)
	run.logger.Info("processing job",
		"items", len(job.Items),
		"chunks", len(chunks),
		"worker_count", plan.WorkerCount,
		"strategy", plan.Strategy,
		"optimizations", optimizations,
	)

	start := *job.StartTime
	outcomes := make([]chunkOutcome, len(chunks))
	var wg sync.WaitGroup

	switch plan.Strategy {
	case models.StrategyStreaming:
		// Workers are bound in chunk order; execution overlaps
		for i, chunk := range chunks {
			w, err := p.scheduler.SelectWorkerFor(jobCtx, chunk, plan, scheduler.NoAvoid)
			if err != nil {
				for j := i; j < len(chunks); j++ {
					outcomes[j] = chunkOutcome{err: err, cancelled: true}
				}
				break
			}
			run.markBound()
			wg.Add(1)
			go func() {
				defer wg.Done()
				outcomes[i] = p.execute(jobCtx, run, chunk, w)
			}()
		}
	default:
		for i, chunk := range chunks {
			wg.Add(1)
			go func() {
				defer wg.Done()
				w, err := p.scheduler.SelectWorkerFor(jobCtx, chunk, plan, scheduler.NoAvoid)
				if err != nil {
					outcomes[i] = chunkOutcome{err: err, cancelled: true}
					return
				}
				run.markBound()
				outcomes[i] = p.execute(jobCtx, run, chunk, w)
			}()
		}
	}
	wg.Wait()

	p.finish(ctx, jobCtx, run, outcomes, optimizations, start)
}

// finish consolidates chunk outcomes in chunk order and applies the terminal status
func (p *Processor) finish(ctx, jobCtx context.Context, run *jobRun, outcomes []chunkOutcome, optimizations []string, start time.Time) {
	job := run.job
	elapsed := p.now().Sub(start)

	if jobCtx.Err() != nil {
		if ctx.Err() == nil {
			// Cancelled by the caller; the queue already holds the terminal state
			run.logger.Info("job cancelled", "elapsed", elapsed)
			return
		}
		if final, from, ok := p.queue.Cancel(job.ID); ok {
			p.monitor.RecordOutcome(final.Status, elapsed, p.now())
			p.record(ctx, final, from, models.ReasonShutdown)
			run.logger.Warn("job stopped by shutdown", "elapsed", elapsed)
		}
		return
	}

	var (
		results []models.Result
		partial []models.Result
		failure error
	)
	for i, o := range outcomes {
		if o.err != nil {
			if failure == nil {
				failure = fmt.Errorf("chunk %d: %w", i, o.err)
			}
			continue
		}
		results = append(results, o.results...)
	}

	if failure != nil {
		partial = results
		final, ok := p.queue.Fail(job.ID, failure.Error(), partial)
		if !ok {
			return
		}
		p.monitor.RecordOutcome(final.Status, elapsed, p.now())
		p.record(ctx, final, models.JobStatusProcessing, models.ReasonFailed)
		run.logger.Error("job failed", "error", failure, "partial_results", len(partial), "elapsed", elapsed)
		return
	}

	perf := models.JobPerformance{
		ProcessingTime:    elapsed,
		OptimizationCount: len(optimizations),
	}
	if secs := elapsed.Seconds(); secs > 0 {
		perf.ItemsPerSecond = float64(len(job.Items)) / secs
	}
	final, ok := p.queue.Complete(job.ID, results, perf)
	if !ok {
		return
	}
	p.monitor.RecordOutcome(final.Status, elapsed, p.now())
	p.record(ctx, final, models.JobStatusProcessing, models.ReasonCompleted)
	run.logger.Info("job completed", "results", len(results), "elapsed", elapsed)
}

// execute runs a chunk on its bound worker and, if that fails, once more on a
// different worker
func (p *Processor) execute(ctx context.Context, run *jobRun, chunk models.Chunk, w models.Worker) chunkOutcome {
	results, err := p.attempt(ctx, run, chunk, w)
	if err == nil {
		return chunkOutcome{results: results}
	}
	if ctx.Err() != nil {
		return chunkOutcome{err: ctx.Err(), cancelled: true}
	}

	run.logger.Warn("chunk failed, reassigning",
		"chunk", chunk.Index,
		"worker_id", w.ID,
		"error", err,
	)
	retry, selErr := p.scheduler.SelectWorkerFor(ctx, chunk, run.plan, w.ID)
	if selErr != nil {
		return chunkOutcome{err: selErr, cancelled: ctx.Err() != nil}
	}
	results, err = p.attempt(ctx, run, chunk, retry)
	if err == nil {
		return chunkOutcome{results: results}
	}
	if ctx.Err() != nil {
		return chunkOutcome{err: ctx.Err(), cancelled: true}
	}
	return chunkOutcome{err: err}
}

type callResult struct {
	results []models.Result
	err     error
}

// attempt runs one ProcessChunk call under the chunk timeout and releases the
// worker. A call that outlives its context is abandoned and its result dropped.
func (p *Processor) attempt(ctx context.Context, run *jobRun, chunk models.Chunk, w models.Worker) ([]models.Result, error) {
	chunkCtx, cancel := context.WithTimeout(ctx, p.cfg.ChunkTimeout)
	defer cancel()

	started := p.now()
	ch := make(chan callResult, 1)
	go func() {
		results, err := p.call(chunkCtx, chunk.Items, run.job.Context)
		ch <- callResult{results: results, err: err}
	}()

	var res callResult
	select {
	case res = <-ch:
	case <-chunkCtx.Done():
		res.err = chunkCtx.Err()
	}

	if ctx.Err() != nil {
		// The job was cancelled; the run says nothing about the worker
		p.pool.Release(w.ID, resource_manager.Outcome{Counted: false})
		return nil, ctx.Err()
	}
	if errors.Is(res.err, context.DeadlineExceeded) && chunkCtx.Err() != nil {
		res.err = fmt.Errorf("timed out after %s", p.cfg.ChunkTimeout)
	}

	p.pool.Release(w.ID, resource_manager.Outcome{
		Duration: p.now().Sub(started),
		Failed:   res.err != nil,
		Counted:  true,
	})
	if res.err != nil {
		return nil, res.err
	}

	done := run.done.Add(int64(len(chunk.Items)))
	p.queue.UpdateProgress(run.job.ID, int(done))
	return res.results, nil
}

// call invokes the chunk processor, turning a panic into an error
func (p *Processor) call(ctx context.Context, items []models.Item, jc models.JobContext) (results []models.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("chunk processor panicked: %v", r)
		}
	}()
	return p.chunks.ProcessChunk(ctx, items, jc)
}

func (p *Processor) record(ctx context.Context, job models.Job, from models.JobStatus, reason string) {
	if p.recorder == nil {
		return
	}
	if err := p.recorder.RecordTransition(context.WithoutCancel(ctx), job, from, reason); err != nil {
		p.logger.Warn("failed to archive job transition",
			"job_id", job.ID,
			"to", job.Status,
			"reason", reason,
			"error", err,
		)
	}
}
