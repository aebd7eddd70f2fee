package scheduler

import (
	"errors"
	"testing"

	"batch-orchestrator/core/models"
)

func items(n int) []models.Item {
	out := make([]models.Item, n)
	for i := range out {
		out[i] = models.Item{ID: string(rune('a'+i%26)) + "-" + itoa(i), Type: "particles"}
	}
	return out
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var b []byte
	for i > 0 {
		b = append([]byte{byte('0' + i%10)}, b...)
		i /= 10
	}
	return string(b)
}

func TestCalculatePriority(t *testing.T) {
	tests := []struct {
		name  string
		count int
		ctx   models.JobContext
		want  int
	}{
		{name: "base", count: 1, ctx: models.JobContext{}, want: 1},
		{name: "urgent", count: 1, ctx: models.JobContext{Urgent: true}, want: 3},
		{name: "large", count: 21, ctx: models.JobContext{}, want: 2},
		{name: "exactly twenty is not large", count: 20, ctx: models.JobContext{}, want: 1},
		{name: "speed", count: 1, ctx: models.JobContext{PerformanceTarget: models.TargetSpeed}, want: 2},
		{name: "everything", count: 50, ctx: models.JobContext{Urgent: true, PerformanceTarget: models.TargetSpeed}, want: 5},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := CalculatePriority(tc.count, tc.ctx); got != tc.want {
				t.Errorf("expected priority %d, got %d", tc.want, got)
			}
		})
	}
}

func TestSubmit_RejectsInvalidBatches(t *testing.T) {
	jq := NewJobQueue()

	if _, err := jq.Submit(nil, models.JobContext{}); !errors.Is(err, models.ErrEmptyBatch) {
		t.Errorf("expected ErrEmptyBatch, got %v", err)
	}
	if _, err := jq.Submit(items(1), models.JobContext{PerformanceTarget: "turbo"}); !errors.Is(err, models.ErrInvalidContext) {
		t.Errorf("expected ErrInvalidContext for unknown target, got %v", err)
	}
	if _, err := jq.Submit(items(1), models.JobContext{ComplexityBudget: -1}); !errors.Is(err, models.ErrInvalidContext) {
		t.Errorf("expected ErrInvalidContext for negative budget, got %v", err)
	}
	if jq.Len() != 0 {
		t.Fatalf("rejected batches must not be enqueued, got %d pending", jq.Len())
	}
}

func TestSubmit_CreatesPendingJob(t *testing.T) {
	jq := NewJobQueue()

	id, err := jq.Submit(items(3), models.JobContext{})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	job, ok := jq.Get(id)
	if !ok {
		t.Fatal("expected to find submitted job")
	}
	if job.Status != models.JobStatusPending || job.Progress != 0 {
		t.Fatalf("unexpected new job state: %s %d", job.Status, job.Progress)
	}
	if job.Context.PerformanceTarget != models.TargetBalanced {
		t.Fatalf("expected default target balanced, got %q", job.Context.PerformanceTarget)
	}
	select {
	case <-jq.Ready():
	default:
		t.Fatal("expected a ready signal after submit")
	}
}

func TestDequeueNext_PriorityOrder(t *testing.T) {
	jq := NewJobQueue()

	// Priorities 3, 1, 2 in submission order
	high, _ := jq.Submit(items(1), models.JobContext{Urgent: true})
	low, _ := jq.Submit(items(1), models.JobContext{})
	mid, _ := jq.Submit(items(1), models.JobContext{PerformanceTarget: models.TargetSpeed})

	var got []string
	for {
		job, ok := jq.DequeueNext()
		if !ok {
			break
		}
		got = append(got, job.ID)
	}

	want := []string{high, mid, low}
	if len(got) != len(want) {
		t.Fatalf("expected %d jobs, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("position %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestDequeueNext_EqualPriorityIsFIFO(t *testing.T) {
	jq := NewJobQueue()

	var ids []string
	for i := 0; i < 10; i++ {
		id, _ := jq.Submit(items(1), models.JobContext{})
		ids = append(ids, id)
	}
	for i, want := range ids {
		job, ok := jq.DequeueNext()
		if !ok || job.ID != want {
			t.Fatalf("position %d: expected %s, got %s (ok=%v)", i, want, job.ID, ok)
		}
	}
	if _, ok := jq.DequeueNext(); ok {
		t.Fatal("expected empty queue")
	}
}

func TestDequeueNext_ClaimsJob(t *testing.T) {
	jq := NewJobQueue()
	id, _ := jq.Submit(items(1), models.JobContext{})

	if _, ok := jq.DequeueNext(); !ok {
		t.Fatal("expected a job")
	}
	if jq.Len() != 0 || jq.ActiveCount() != 1 {
		t.Fatalf("expected 0 pending and 1 active, got %d and %d", jq.Len(), jq.ActiveCount())
	}
	if _, err := jq.MarkProcessing(id, func() {}); err != nil {
		t.Fatalf("MarkProcessing failed: %v", err)
	}
	job, _ := jq.Get(id)
	if job.Status != models.JobStatusProcessing || job.StartTime == nil {
		t.Fatalf("expected processing with start time, got %s", job.Status)
	}
}

func TestMarkProcessing_RequiresDequeue(t *testing.T) {
	jq := NewJobQueue()
	id, _ := jq.Submit(items(1), models.JobContext{})

	if _, err := jq.MarkProcessing(id, func() {}); err == nil {
		t.Fatal("expected error marking a job that was never dequeued")
	}
	if _, err := jq.MarkProcessing("missing", func() {}); !errors.Is(err, models.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestCancel_Idempotent(t *testing.T) {
	jq := NewJobQueue()
	id, _ := jq.Submit(items(1), models.JobContext{})

	_, from, ok := jq.Cancel(id)
	if !ok || from != models.JobStatusPending {
		t.Fatalf("expected first cancel to succeed from pending, got ok=%v from=%s", ok, from)
	}
	if _, _, ok := jq.Cancel(id); ok {
		t.Fatal("expected second cancel to report false")
	}
	if jq.Len() != 0 {
		t.Fatalf("cancelled job must leave the pending heap, %d pending", jq.Len())
	}
	if _, ok := jq.DequeueNext(); ok {
		t.Fatal("cancelled job must not be dequeued")
	}
}

func TestCancel_ProcessingJobCancelsContext(t *testing.T) {
	jq := NewJobQueue()
	id, _ := jq.Submit(items(1), models.JobContext{})
	jq.DequeueNext()

	called := false
	if _, err := jq.MarkProcessing(id, func() { called = true }); err != nil {
		t.Fatalf("MarkProcessing failed: %v", err)
	}
	if _, from, ok := jq.Cancel(id); !ok || from != models.JobStatusProcessing {
		t.Fatalf("expected cancel from processing, got ok=%v from=%s", ok, from)
	}
	if !called {
		t.Fatal("expected the job's cancel func to be invoked")
	}
	if jq.ActiveCount() != 0 {
		t.Fatalf("cancelled job must leave the active set")
	}
}

func TestCancel_RemovesFromMiddleOfHeap(t *testing.T) {
	jq := NewJobQueue()
	a, _ := jq.Submit(items(1), models.JobContext{})
	b, _ := jq.Submit(items(1), models.JobContext{})
	c, _ := jq.Submit(items(1), models.JobContext{})

	jq.Cancel(b)

	first, _ := jq.DequeueNext()
	second, _ := jq.DequeueNext()
	if first.ID != a || second.ID != c {
		t.Fatalf("expected %s then %s, got %s then %s", a, c, first.ID, second.ID)
	}
}

func TestTerminalStatesAreFinal(t *testing.T) {
	jq := NewJobQueue()
	id, _ := jq.Submit(items(4), models.JobContext{})
	jq.DequeueNext()
	jq.MarkProcessing(id, func() {})

	done, ok := jq.Complete(id, []models.Result{{ItemID: "x"}}, models.JobPerformance{})
	if !ok || done.Progress != 100 || done.EndTime == nil {
		t.Fatalf("expected completed job with progress 100, got %+v", done)
	}
	end := *done.EndTime

	if _, ok := jq.Fail(id, "late failure", nil); ok {
		t.Error("Fail must not apply to a completed job")
	}
	if _, _, ok := jq.Cancel(id); ok {
		t.Error("Cancel must not apply to a completed job")
	}
	if _, ok := jq.Complete(id, nil, models.JobPerformance{}); ok {
		t.Error("Complete must not apply twice")
	}
	jq.UpdateProgress(id, 1)
	jq.SetPlan(id, models.SchedulingPlan{WorkerCount: 9}, []string{"late"})

	job, _ := jq.Get(id)
	if job.Status != models.JobStatusCompleted || job.Progress != 100 || !job.EndTime.Equal(end) {
		t.Fatalf("terminal job changed: %+v", job)
	}
	if job.Plan != nil || job.Optimizations != nil {
		t.Fatalf("plan must not be set after the job finished: %+v", job.Plan)
	}
}

func TestUpdateProgress_CappedBelowHundred(t *testing.T) {
	jq := NewJobQueue()
	id, _ := jq.Submit(items(4), models.JobContext{})
	jq.DequeueNext()
	jq.MarkProcessing(id, func() {})

	jq.UpdateProgress(id, 2)
	if job, _ := jq.Get(id); job.Progress != 50 {
		t.Fatalf("expected 50%%, got %d", job.Progress)
	}
	jq.UpdateProgress(id, 4)
	if job, _ := jq.Get(id); job.Progress != 99 {
		t.Fatalf("expected progress capped at 99 before completion, got %d", job.Progress)
	}
}

func TestSetPlan_FirstCallWins(t *testing.T) {
	jq := NewJobQueue()
	id, _ := jq.Submit(items(4), models.JobContext{})
	jq.DequeueNext()
	jq.MarkProcessing(id, func() {})

	jq.SetPlan(id, models.SchedulingPlan{WorkerCount: 2}, []string{"parallel_chunking"})
	jq.SetPlan(id, models.SchedulingPlan{WorkerCount: 5}, []string{"other"})

	job, _ := jq.Get(id)
	if job.Plan.WorkerCount != 2 || len(job.Optimizations) != 1 || job.Optimizations[0] != "parallel_chunking" {
		t.Fatalf("expected first plan to stick, got %+v %v", job.Plan, job.Optimizations)
	}
}

func TestSubmitWith_HookRunsBeforeJobIsVisible(t *testing.T) {
	jq := NewJobQueue()

	var seen models.Job
	id, err := jq.SubmitWith(items(2), models.JobContext{Urgent: true}, func(job models.Job) {
		seen = job
		if _, ok := jq.Get(job.ID); ok {
			t.Error("job must not be visible while the hook runs")
		}
		if _, ok := jq.DequeueNext(); ok {
			t.Error("job must not be dequeued while the hook runs")
		}
	})
	if err != nil {
		t.Fatalf("SubmitWith failed: %v", err)
	}
	if seen.ID != id || seen.Status != models.JobStatusPending || seen.Priority != 3 {
		t.Fatalf("unexpected job passed to the hook %+v", seen)
	}
	if job, ok := jq.DequeueNext(); !ok || job.ID != id {
		t.Fatalf("expected the job to be pending after the hook, got %+v", job)
	}
}

func TestSubmitWith_SlowHookKeepsSequenceOrder(t *testing.T) {
	jq := NewJobQueue()

	inHook := make(chan struct{})
	release := make(chan struct{})
	slowDone := make(chan string, 1)
	go func() {
		id, _ := jq.SubmitWith(items(1), models.JobContext{}, func(models.Job) {
			close(inHook)
			<-release
		})
		slowDone <- id
	}()
	<-inHook

	fastID, err := jq.Submit(items(1), models.JobContext{})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	close(release)
	slowID := <-slowDone

	first, ok := jq.DequeueNext()
	if !ok || first.ID != fastID {
		t.Fatalf("expected the job that became visible first, got %+v", first)
	}
	second, ok := jq.DequeueNext()
	if !ok || second.ID != slowID {
		t.Fatalf("expected the slow submission second, got %+v", second)
	}
	if first.Seq >= second.Seq {
		t.Fatalf("dequeue order inverted sequence numbers: %d then %d", first.Seq, second.Seq)
	}
}

func TestSubmitWith_RejectedBatchSkipsHook(t *testing.T) {
	jq := NewJobQueue()
	called := false
	if _, err := jq.SubmitWith(nil, models.JobContext{}, func(models.Job) { called = true }); err == nil {
		t.Fatal("expected an error")
	}
	if called {
		t.Fatal("hook must not run for rejected batches")
	}
}
