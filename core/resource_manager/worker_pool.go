package resource_manager

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"batch-orchestrator/core/models"
)

const (
	// DefaultMinSize is the floor the pool never shrinks below
	DefaultMinSize = 4
	// DefaultMaxSize is the ceiling the pool never grows above
	DefaultMaxSize = 16

	failurePenalty = 0.1 // Fraction of efficiency lost per failed chunk
)

// Config sizes the worker pool
type Config struct {
	Size    int
	MinSize int
	MaxSize int
}

// Outcome reports how a worker's chunk ended
type Outcome struct {
	Duration time.Duration
	Failed   bool
	// Counted is false for chunks abandoned by cancellation; they leave the profile untouched.
	Counted bool
}

// Picker chooses one worker among the idle candidates, given the current pool
// size. Returning false means none of them is acceptable and the caller keeps waiting.
type Picker func(idle []models.Worker, poolSize int) (id int, ok bool)

// PoolStats is a point-in-time view of the pool
type PoolStats struct {
	Total          int     `json:"total"`
	Busy           int     `json:"busy"`
	Idle           int     `json:"idle"`
	MinSize        int     `json:"min_size"`
	MaxSize        int     `json:"max_size"`
	PendingShrink  int     `json:"pending_shrink"`
	Utilization    float64 `json:"utilization"`
	MeanEfficiency float64 `json:"mean_efficiency"`
}

// WorkerPool owns the execution slots and their status.
// Every idle/busy transition happens under mu.
type WorkerPool struct {
	mu            sync.Mutex
	workers       map[int]*models.Worker
	nextID        int
	minSize       int
	maxSize       int
	pendingShrink int
	freed         chan struct{} // Closed and replaced whenever a worker may have become available
	capabilities  CapabilityGenerator
	now           func() time.Time
	logger        *slog.Logger
}

// NewWorkerPool creates a pool of cfg.Size idle workers
func NewWorkerPool(cfg Config, capabilities CapabilityGenerator, logger *slog.Logger) *WorkerPool {
	if cfg.MinSize <= 0 {
		cfg.MinSize = DefaultMinSize
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultMaxSize
	}
	if cfg.MaxSize < cfg.MinSize {
		cfg.MaxSize = cfg.MinSize
	}
	if cfg.Size <= 0 {
		cfg.Size = cfg.MinSize
	}
	if capabilities == nil {
		capabilities = RandomCapabilities(time.Now().UnixNano())
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	wp := &WorkerPool{
		workers:      make(map[int]*models.Worker, cfg.Size),
		minSize:      cfg.MinSize,
		maxSize:      cfg.MaxSize,
		freed:        make(chan struct{}),
		capabilities: capabilities,
		now:          time.Now,
		logger:       logger,
	}
	for i := 0; i < cfg.Size; i++ {
		wp.addLocked()
	}
	return wp
}

func (wp *WorkerPool) addLocked() {
	id := wp.nextID
	wp.nextID++
	wp.workers[id] = &models.Worker{
		ID:     id,
		Status: models.WorkerIdle,
		Profile: models.PerformanceProfile{
			Efficiency: 1.0,
		},
		Capabilities: wp.capabilities(),
		CreatedAt:    wp.now(),
	}
}

// notifyLocked wakes every goroutine waiting for a worker
func (wp *WorkerPool) notifyLocked() {
	close(wp.freed)
	wp.freed = make(chan struct{})
}

func (wp *WorkerPool) idleLocked() []models.Worker {
	idle := make([]models.Worker, 0, len(wp.workers))
	for _, w := range wp.workers {
		if w.Status == models.WorkerIdle {
			idle = append(idle, *w)
		}
	}
	sort.Slice(idle, func(i, j int) bool { return idle[i].ID < idle[j].ID })
	return idle
}

// ListIdle returns the idle workers ordered by id. The list is stale as soon
// as another goroutine acquires a worker.
func (wp *WorkerPool) ListIdle() []models.Worker {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	return wp.idleLocked()
}

// Workers returns a snapshot of every worker ordered by id
func (wp *WorkerPool) Workers() []models.Worker {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	all := make([]models.Worker, 0, len(wp.workers))
	for _, w := range wp.workers {
		all = append(all, *w)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return all
}

// Size returns the current number of workers
func (wp *WorkerPool) Size() int {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	return len(wp.workers)
}

// Acquire binds one idle worker chosen by pick and marks it busy. When no
// acceptable worker is idle it waits for a release or for ctx to end.
func (wp *WorkerPool) Acquire(ctx context.Context, pick Picker) (models.Worker, error) {
	for {
		if err := ctx.Err(); err != nil {
			return models.Worker{}, err
		}

		wp.mu.Lock()
		if idle := wp.idleLocked(); len(idle) > 0 {
			if id, ok := pick(idle, len(wp.workers)); ok {
				if w, exists := wp.workers[id]; exists && w.Status == models.WorkerIdle {
					w.Status = models.WorkerBusy
					w.LastUsedAt = wp.now()
					snapshot := *w
					wp.mu.Unlock()
					return snapshot, nil
				}
			}
		}
		wake := wp.freed
		wp.mu.Unlock()

		select {
		case <-ctx.Done():
			return models.Worker{}, ctx.Err()
		case <-wake:
		}
	}
}

// WaitIdle blocks until at least one worker is idle
func (wp *WorkerPool) WaitIdle(ctx context.Context) error {
	for {
		wp.mu.Lock()
		for _, w := range wp.workers {
			if w.Status == models.WorkerIdle {
				wp.mu.Unlock()
				return nil
			}
		}
		wake := wp.freed
		wp.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wake:
		}
	}
}

// Release returns a busy worker to idle and folds the outcome into its profile
func (wp *WorkerPool) Release(id int, outcome Outcome) {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	w, ok := wp.workers[id]
	if !ok || w.Status != models.WorkerBusy {
		return
	}
	w.Status = models.WorkerIdle
	w.LastUsedAt = wp.now()

	if outcome.Counted {
		updateProfile(w, outcome)
	}

	if wp.pendingShrink > 0 && len(wp.workers) > wp.minSize {
		delete(wp.workers, id)
		wp.pendingShrink--
		wp.logger.Info("removed worker after deferred shrink", "worker_id", id, "pool_size", len(wp.workers))
	}

	wp.notifyLocked()
}

func updateProfile(w *models.Worker, outcome Outcome) {
	p := &w.Profile
	runs := p.CompletedJobs + p.ErrorCount + 1
	p.AverageTime += (outcome.Duration - p.AverageTime) / time.Duration(runs)

	if outcome.Failed {
		p.ErrorCount++
		p.Efficiency *= 1 - failurePenalty
	} else {
		p.CompletedJobs++
		p.Efficiency += w.Capabilities.LearningRate * (1 - p.Efficiency)
	}
	if p.Efficiency < 0 {
		p.Efficiency = 0
	}
	if p.Efficiency > 1 {
		p.Efficiency = 1
	}
}

// Resize grows the pool by delta workers or shrinks it by -delta. Shrinking
// removes idle workers, least recently used first; the share blocked by busy
// workers is deferred until they are released. It returns the change applied now.
func (wp *WorkerPool) Resize(delta int) int {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	switch {
	case delta > 0:
		// A grow request first cancels any shrink still waiting on busy workers
		if wp.pendingShrink > 0 {
			cancelled := min(delta, wp.pendingShrink)
			wp.pendingShrink -= cancelled
			delta -= cancelled
		}
		added := 0
		for i := 0; i < delta && len(wp.workers) < wp.maxSize; i++ {
			wp.addLocked()
			added++
		}
		if added > 0 {
			wp.logger.Info("pool grown", "added", added, "pool_size", len(wp.workers))
			wp.notifyLocked()
		}
		return added

	case delta < 0:
		// Don't plan below the floor, counting shrinks already deferred
		allowed := min(-delta, len(wp.workers)-wp.pendingShrink-wp.minSize)
		if allowed <= 0 {
			return 0
		}

		idle := wp.idleLocked()
		sort.SliceStable(idle, func(i, j int) bool {
			return idle[i].LastUsedAt.Before(idle[j].LastUsedAt)
		})

		removed := 0
		for _, w := range idle {
			if removed == allowed {
				break
			}
			delete(wp.workers, w.ID)
			removed++
		}
		wp.pendingShrink += allowed - removed
		wp.logger.Info("pool shrunk",
			"removed", removed,
			"deferred", allowed-removed,
			"pool_size", len(wp.workers),
		)
		return -removed
	}
	return 0
}

// Stats returns a snapshot of pool occupancy
func (wp *WorkerPool) Stats() PoolStats {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	stats := PoolStats{
		Total:         len(wp.workers),
		MinSize:       wp.minSize,
		MaxSize:       wp.maxSize,
		PendingShrink: wp.pendingShrink,
	}
	efficiency := 0.0
	for _, w := range wp.workers {
		if w.Status == models.WorkerBusy {
			stats.Busy++
		} else {
			stats.Idle++
		}
		efficiency += w.Profile.Efficiency
	}
	if stats.Total > 0 {
		stats.Utilization = float64(stats.Busy) / float64(stats.Total)
		stats.MeanEfficiency = efficiency / float64(stats.Total)
	}
	return stats
}
