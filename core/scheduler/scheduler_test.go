package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"batch-orchestrator/core/models"
	"batch-orchestrator/core/resource_manager"
)

func testPool(size int) *resource_manager.WorkerPool {
	return resource_manager.NewWorkerPool(resource_manager.Config{Size: size, MinSize: 1, MaxSize: 16},
		resource_manager.FixedCapabilities(models.Capabilities{
			OptimizationLevel: 0.9,
			AdaptabilityScore: 0.8,
			LearningRate:      0.1,
		}), nil)
}

func jobWith(n int, jc models.JobContext) models.Job {
	return models.Job{ID: "job", Items: items(n), Context: jc}
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

func TestPlanFor(t *testing.T) {
	tests := []struct {
		name         string
		pool         int
		ceiling      int
		items        int
		ctx          models.JobContext
		wantWorkers  int
		wantStrategy models.Strategy
		wantLevel    float64
	}{
		{name: "speed ten items", pool: 4, ceiling: 8, items: 10, ctx: models.JobContext{PerformanceTarget: models.TargetSpeed}, wantWorkers: 4, wantStrategy: models.StrategyStreaming, wantLevel: 0.8},
		{name: "balanced small", pool: 16, ceiling: 8, items: 3, ctx: models.JobContext{PerformanceTarget: models.TargetBalanced}, wantWorkers: 2, wantStrategy: models.StrategyStreaming, wantLevel: 0.9},
		{name: "quality small", pool: 16, ceiling: 8, items: 3, ctx: models.JobContext{PerformanceTarget: models.TargetQuality}, wantWorkers: 1, wantStrategy: models.StrategyStreaming, wantLevel: 1.0},
		{name: "urgent adds a unit", pool: 16, ceiling: 8, items: 3, ctx: models.JobContext{PerformanceTarget: models.TargetQuality, Urgent: true}, wantWorkers: 2, wantStrategy: models.StrategyStreaming, wantLevel: 1.0},
		{name: "large batch is chunked", pool: 16, ceiling: 16, items: 30, ctx: models.JobContext{PerformanceTarget: models.TargetBalanced}, wantWorkers: 15, wantStrategy: models.StrategyChunked, wantLevel: 0.9},
		{name: "ceiling caps workers", pool: 16, ceiling: 6, items: 100, ctx: models.JobContext{PerformanceTarget: models.TargetSpeed}, wantWorkers: 6, wantStrategy: models.StrategyChunked, wantLevel: 0.8},
		{name: "budget caps workers", pool: 16, ceiling: 16, items: 40, ctx: models.JobContext{PerformanceTarget: models.TargetSpeed, ComplexityBudget: 3}, wantWorkers: 3, wantStrategy: models.StrategyChunked, wantLevel: 0.8},
		{name: "pool caps workers", pool: 4, ceiling: 16, items: 40, ctx: models.JobContext{PerformanceTarget: models.TargetSpeed}, wantWorkers: 4, wantStrategy: models.StrategyChunked, wantLevel: 0.8},
		{name: "single item", pool: 4, ceiling: 4, items: 1, ctx: models.JobContext{PerformanceTarget: models.TargetQuality}, wantWorkers: 1, wantStrategy: models.StrategyStreaming, wantLevel: 1.0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			pool := testPool(tc.pool)
			s := NewScheduler(pool, Config{InitialCeiling: tc.ceiling}, nil)
			plan, _ := s.PlanFor(jobWith(tc.items, tc.ctx))

			if plan.WorkerCount != tc.wantWorkers {
				t.Errorf("expected %d workers, got %d", tc.wantWorkers, plan.WorkerCount)
			}
			if plan.WorkerCount > s.Ceiling() {
				t.Errorf("worker count %d exceeds ceiling %d", plan.WorkerCount, s.Ceiling())
			}
			if plan.WorkerCount > pool.Size() {
				t.Errorf("worker count %d exceeds pool of %d", plan.WorkerCount, pool.Size())
			}
			if plan.Strategy != tc.wantStrategy {
				t.Errorf("expected strategy %s, got %s", tc.wantStrategy, plan.Strategy)
			}
			if plan.OptimizationLevel != tc.wantLevel {
				t.Errorf("expected optimization level %.1f, got %.1f", tc.wantLevel, plan.OptimizationLevel)
			}
		})
	}
}

func TestPlanFor_Deterministic(t *testing.T) {
	s := NewScheduler(testPool(4), Config{InitialCeiling: 7}, nil)
	job := jobWith(25, models.JobContext{PerformanceTarget: models.TargetSpeed, Urgent: true})

	first, firstTags := s.PlanFor(job)
	for i := 0; i < 10; i++ {
		plan, tags := s.PlanFor(job)
		if plan != first || len(tags) != len(firstTags) {
			t.Fatalf("plan changed between calls: %+v vs %+v", first, plan)
		}
	}
}

func TestPlanFor_OptimizationTags(t *testing.T) {
	s := NewScheduler(testPool(4), Config{InitialCeiling: 16}, nil)

	_, tags := s.PlanFor(jobWith(40, models.JobContext{PerformanceTarget: models.TargetSpeed, Urgent: true, ComplexityBudget: 2}))
	for _, want := range []string{OptParallelChunking, OptFastPath, OptPriorityBoost, OptBudgetCapped} {
		if !hasTag(tags, want) {
			t.Errorf("expected tag %q in %v", want, tags)
		}
	}
	if hasTag(tags, OptConservativeAssignment) {
		t.Errorf("unexpected conservative tag outside degraded mode: %v", tags)
	}

	s.SetDegraded(true)
	plan, tags := s.PlanFor(jobWith(5, models.JobContext{PerformanceTarget: models.TargetQuality}))
	if !plan.Conservative || !hasTag(tags, OptConservativeAssignment) || !hasTag(tags, OptStreamDispatch) || !hasTag(tags, OptQualityPass) {
		t.Errorf("unexpected degraded plan %+v tags %v", plan, tags)
	}
	if hasTag(tags, OptBudgetCapped) {
		t.Errorf("budget tag without a budget: %v", tags)
	}
}

func TestCeilingBounds(t *testing.T) {
	s := NewScheduler(testPool(4), Config{}, nil)

	if s.Ceiling() != DefaultMinCeiling {
		t.Fatalf("expected initial ceiling %d, got %d", DefaultMinCeiling, s.Ceiling())
	}
	if got := s.AdjustCeiling(-3); got != DefaultMinCeiling {
		t.Fatalf("expected ceiling held at floor, got %d", got)
	}
	for i := 0; i < 30; i++ {
		s.AdjustCeiling(1)
	}
	if s.Ceiling() != DefaultMaxCeiling {
		t.Fatalf("expected ceiling held at %d, got %d", DefaultMaxCeiling, s.Ceiling())
	}
	if got := s.SetCeiling(100); got != DefaultMaxCeiling {
		t.Fatalf("expected SetCeiling to clamp, got %d", got)
	}
}

func TestSetDegraded_ReportsChange(t *testing.T) {
	s := NewScheduler(testPool(1), Config{}, nil)
	if !s.SetDegraded(true) {
		t.Error("expected change when entering degraded mode")
	}
	if s.SetDegraded(true) {
		t.Error("expected no change when already degraded")
	}
	if !s.Degraded() {
		t.Error("expected degraded")
	}
}

func TestFitnessScore(t *testing.T) {
	base := models.Worker{
		Profile:      models.PerformanceProfile{Efficiency: 0.5},
		Capabilities: models.Capabilities{OptimizationLevel: 0.9, AdaptabilityScore: 0.8},
	}

	tests := []struct {
		name         string
		errors       int
		efficiency   float64
		complexity   float64
		conservative bool
		want         float64
	}{
		{name: "capable worker", efficiency: 0.5, complexity: 0.5, want: 0.78},
		{name: "chunk beyond capability", efficiency: 0.5, complexity: 1.5, want: 0.58},
		{name: "errors reduce score", errors: 2, efficiency: 0.5, complexity: 0.5, want: 0.58},
		{name: "conservative doubles penalty", errors: 2, efficiency: 0.5, complexity: 0.5, conservative: true, want: 0.38},
		{name: "clamped high", efficiency: 1.0, complexity: 0.1, want: 1.0},
		{name: "clamped low", errors: 20, efficiency: 0.1, complexity: 2, want: 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := base
			w.Profile.ErrorCount = tc.errors
			w.Profile.Efficiency = tc.efficiency
			got := FitnessScore(w, tc.complexity, tc.conservative)
			if diff := got - tc.want; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("expected %.2f, got %.4f", tc.want, got)
			}
		})
	}
}

func TestSelectWorkerFor_PicksBestThenLowestID(t *testing.T) {
	pool := testPool(3)
	s := NewScheduler(pool, Config{}, nil)
	ctx := context.Background()
	chunk := models.Chunk{Items: items(2)}

	// Failures push worker 0 below the clamp so workers 1 and 2 tie for best
	for i := 0; i < 3; i++ {
		w, _ := pool.Acquire(ctx, func([]models.Worker, int) (int, bool) { return 0, true })
		pool.Release(w.ID, resource_manager.Outcome{Failed: true, Counted: true})
	}

	got, err := s.SelectWorkerFor(ctx, chunk, models.SchedulingPlan{}, NoAvoid)
	if err != nil {
		t.Fatalf("SelectWorkerFor failed: %v", err)
	}
	if got.ID != 1 {
		t.Fatalf("expected worker 1 on a tie with worker 2, got %d", got.ID)
	}
}

func TestSelectWorkerFor_AvoidsFailedWorker(t *testing.T) {
	pool := testPool(2)
	s := NewScheduler(pool, Config{}, nil)

	got, err := s.SelectWorkerFor(context.Background(), models.Chunk{Items: items(1)}, models.SchedulingPlan{}, 0)
	if err != nil {
		t.Fatalf("SelectWorkerFor failed: %v", err)
	}
	if got.ID != 1 {
		t.Fatalf("expected worker 1 when avoiding 0, got %d", got.ID)
	}
}

func TestSelectWorkerFor_SingleWorkerIgnoresAvoid(t *testing.T) {
	pool := testPool(1)
	s := NewScheduler(pool, Config{}, nil)

	got, err := s.SelectWorkerFor(context.Background(), models.Chunk{Items: items(1)}, models.SchedulingPlan{}, 0)
	if err != nil {
		t.Fatalf("SelectWorkerFor failed: %v", err)
	}
	if got.ID != 0 {
		t.Fatalf("expected the only worker, got %d", got.ID)
	}
}

func TestSelectWorkerFor_WaitsAndHonoursCancellation(t *testing.T) {
	pool := testPool(1)
	s := NewScheduler(pool, Config{}, nil)
	if _, err := s.SelectWorkerFor(context.Background(), models.Chunk{}, models.SchedulingPlan{}, NoAvoid); err != nil {
		t.Fatalf("SelectWorkerFor failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := s.SelectWorkerFor(ctx, models.Chunk{}, models.SchedulingPlan{}, NoAvoid)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded while the pool is busy, got %v", err)
	}
}
