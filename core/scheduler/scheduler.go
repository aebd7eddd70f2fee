package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"batch-orchestrator/core/models"
	"batch-orchestrator/core/resource_manager"
)

const (
	// DefaultMinCeiling and DefaultMaxCeiling bound the concurrency ceiling
	DefaultMinCeiling = 4
	DefaultMaxCeiling = 16

	// DefaultStreamThreshold is the item count above which jobs are chunked
	DefaultStreamThreshold = 20

	capabilityBonus  = 0.2
	errorPenalty     = 0.1
	adaptabilityGain = 0.1

	// itemsPerComplexity converts a chunk's size into the scale of a worker's optimization level
	itemsPerComplexity = 10.0
)

// Optimization tags recorded on a job alongside its plan
const (
	OptParallelChunking       = "parallel_chunking"
	OptStreamDispatch         = "stream_dispatch"
	OptFastPath               = "fast_path"
	OptQualityPass            = "quality_pass"
	OptPriorityBoost          = "priority_boost"
	OptConservativeAssignment = "conservative_assignment"
	OptBudgetCapped           = "budget_capped"
)

// Config tunes the scheduler
type Config struct {
	MinCeiling      int
	MaxCeiling      int
	InitialCeiling  int
	StreamThreshold int
}

// Scheduler plans jobs and assigns their chunks to workers. The concurrency
// ceiling and the degraded bit are written only by the Controller.
type Scheduler struct {
	pool            *resource_manager.WorkerPool
	minCeiling      int
	maxCeiling      int
	streamThreshold int
	ceiling         atomic.Int32
	degraded        atomic.Bool
	logger          *slog.Logger
}

// NewScheduler creates a scheduler over the given pool
func NewScheduler(pool *resource_manager.WorkerPool, cfg Config, logger *slog.Logger) *Scheduler {
	if cfg.MinCeiling <= 0 {
		cfg.MinCeiling = DefaultMinCeiling
	}
	if cfg.MaxCeiling < cfg.MinCeiling {
		cfg.MaxCeiling = max(DefaultMaxCeiling, cfg.MinCeiling)
	}
	if cfg.InitialCeiling <= 0 {
		cfg.InitialCeiling = cfg.MinCeiling
	}
	if cfg.StreamThreshold <= 0 {
		cfg.StreamThreshold = DefaultStreamThreshold
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	s := &Scheduler{
		pool:            pool,
		minCeiling:      cfg.MinCeiling,
		maxCeiling:      cfg.MaxCeiling,
		streamThreshold: cfg.StreamThreshold,
		logger:          logger,
	}
	s.SetCeiling(cfg.InitialCeiling)
	return s
}

// Ceiling returns the current concurrency ceiling
func (s *Scheduler) Ceiling() int {
	return int(s.ceiling.Load())
}

// SetCeiling sets the ceiling, clamped to its bounds, and returns the value stored
func (s *Scheduler) SetCeiling(n int) int {
	n = s.clamp(n)
	s.ceiling.Store(int32(n))
	return n
}

// AdjustCeiling moves the ceiling by delta within its bounds and returns the new value
func (s *Scheduler) AdjustCeiling(delta int) int {
	for {
		old := s.ceiling.Load()
		next := int32(s.clamp(int(old) + delta))
		if s.ceiling.CompareAndSwap(old, next) {
			return int(next)
		}
	}
}

func (s *Scheduler) clamp(n int) int {
	return max(s.minCeiling, min(s.maxCeiling, n))
}

// Bounds returns the ceiling's lower and upper limits
func (s *Scheduler) Bounds() (int, int) {
	return s.minCeiling, s.maxCeiling
}

// Degraded reports whether conservative assignment is in force
func (s *Scheduler) Degraded() bool {
	return s.degraded.Load()
}

// SetDegraded switches conservative assignment on or off and reports whether it changed
func (s *Scheduler) SetDegraded(on bool) bool {
	return s.degraded.Swap(on) != on
}

// Complexity estimates the work units of a job from its size and context
func Complexity(itemCount int, jc models.JobContext) int {
	perUnit := 2
	switch jc.PerformanceTarget {
	case models.TargetSpeed:
		perUnit = 1
	case models.TargetQuality:
		perUnit = 3
	}
	units := (itemCount + perUnit - 1) / perUnit
	if jc.Urgent {
		units++
	}
	if jc.ComplexityBudget > 0 && units > jc.ComplexityBudget {
		units = jc.ComplexityBudget
	}
	return units
}

func optimizationLevel(target models.PerformanceTarget) float64 {
	switch target {
	case models.TargetSpeed:
		return 0.8
	case models.TargetQuality:
		return 1.0
	default:
		return 0.9
	}
}

// PlanFor decides how many workers a job gets and how its chunks are
// dispatched, along with the optimization tags that describe the decision.
// The worker count never exceeds the ceiling or the current pool size. The
// result depends only on those two limits, the degraded bit and the job shape.
func (s *Scheduler) PlanFor(job models.Job) (models.SchedulingPlan, []string) {
	ceiling := s.Ceiling()
	poolSize := s.pool.Size()
	degraded := s.Degraded()
	n := len(job.Items)

	units := Complexity(n, job.Context)
	plan := models.SchedulingPlan{
		WorkerCount:       max(1, min(ceiling, poolSize, units)),
		Strategy:          models.StrategyStreaming,
		OptimizationLevel: optimizationLevel(job.Context.PerformanceTarget),
		Conservative:      degraded,
	}

	var opts []string
	if n > s.streamThreshold {
		plan.Strategy = models.StrategyChunked
		opts = append(opts, OptParallelChunking)
	} else {
		opts = append(opts, OptStreamDispatch)
	}
	switch job.Context.PerformanceTarget {
	case models.TargetSpeed:
		opts = append(opts, OptFastPath)
	case models.TargetQuality:
		opts = append(opts, OptQualityPass)
	}
	if job.Context.Urgent {
		opts = append(opts, OptPriorityBoost)
	}
	if degraded {
		opts = append(opts, OptConservativeAssignment)
	}
	if jc := job.Context; jc.ComplexityBudget > 0 {
		jc.ComplexityBudget = 0
		if uncapped := max(1, min(ceiling, poolSize, Complexity(n, jc))); uncapped > plan.WorkerCount {
			opts = append(opts, OptBudgetCapped)
		}
	}

	s.logger.Debug("planned job",
		"job_id", job.ID,
		"items", n,
		"worker_count", plan.WorkerCount,
		"strategy", plan.Strategy,
		"ceiling", ceiling,
		"pool_size", poolSize,
	)
	return plan, opts
}

// ChunkComplexity expresses a chunk's size on the optimization level scale
func ChunkComplexity(chunk models.Chunk) float64 {
	return float64(len(chunk.Items)) / itemsPerComplexity
}

// FitnessScore ranks a worker for a chunk. Conservative scoring doubles the
// weight of past errors.
func FitnessScore(w models.Worker, chunkComplexity float64, conservative bool) float64 {
	penalty := errorPenalty
	if conservative {
		penalty *= 2
	}
	score := w.Profile.Efficiency
	if w.Capabilities.OptimizationLevel >= chunkComplexity {
		score += capabilityBonus
	}
	score -= float64(w.Profile.ErrorCount) * penalty
	score += w.Capabilities.AdaptabilityScore * adaptabilityGain
	return max(0, min(1, score))
}

// NoAvoid disables worker avoidance in SelectWorkerFor
const NoAvoid = -1

// SelectWorkerFor binds the best idle worker to the chunk, waiting until one
// is idle. A worker with id avoid is skipped unless it is the only one in the pool.
func (s *Scheduler) SelectWorkerFor(ctx context.Context, chunk models.Chunk, plan models.SchedulingPlan, avoid int) (models.Worker, error) {
	complexity := ChunkComplexity(chunk)
	conservative := plan.Conservative || s.Degraded()

	pick := func(idle []models.Worker, poolSize int) (int, bool) {
		best, bestScore := -1, -1.0
		for _, w := range idle {
			if w.ID == avoid && poolSize > 1 {
				continue
			}
			// idle is ordered by id, so strict comparison keeps the lowest id on ties
			if score := FitnessScore(w, complexity, conservative); score > bestScore {
				best, bestScore = w.ID, score
			}
		}
		return best, best >= 0
	}

	w, err := s.pool.Acquire(ctx, pick)
	if err != nil {
		return models.Worker{}, fmt.Errorf("select worker for chunk %d: %w", chunk.Index, err)
	}
	return w, nil
}
