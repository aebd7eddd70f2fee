package scheduler

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"batch-orchestrator/core/models"

	"github.com/google/uuid"
)

// largeBatchThreshold is the item count above which a batch earns a priority bump
const largeBatchThreshold = 20

// JobQueue holds every submitted job: a priority heap of pending jobs plus the
// set of jobs claimed by the processor. It is the only writer of job state.
type JobQueue struct {
	mu      sync.Mutex
	pending jobHeap
	queued  map[string]*QueuedJob // Pending jobs by id, for removal on cancel
	jobs    map[string]*models.Job
	active  map[string]context.CancelFunc
	order   []string // Submission order, for listing
	seq     uint64
	ready   chan struct{}
	now     func() time.Time
}

// QueuedJob wraps a pending job with its heap bookkeeping
type QueuedJob struct {
	Job      *models.Job
	Priority int
	Seq      uint64
	Index    int // For heap.Interface
}

// NewJobQueue creates an empty job queue
func NewJobQueue() *JobQueue {
	jq := &JobQueue{
		queued: make(map[string]*QueuedJob),
		jobs:   make(map[string]*models.Job),
		active: make(map[string]context.CancelFunc),
		ready:  make(chan struct{}, 1),
		now:    time.Now,
	}
	heap.Init(&jq.pending)
	return jq
}

// CalculatePriority derives a job's priority from its size and context
func CalculatePriority(itemCount int, jc models.JobContext) int {
	priority := 1
	if jc.Urgent {
		priority += 2
	}
	if itemCount > largeBatchThreshold {
		priority++
	}
	if jc.PerformanceTarget == models.TargetSpeed {
		priority++
	}
	return priority
}

// Submit validates and enqueues a new pending job, returning its id
func (jq *JobQueue) Submit(items []models.Item, jc models.JobContext) (string, error) {
	return jq.SubmitWith(items, jc, nil)
}

// SubmitWith is Submit with a hook that sees the accepted job before it
// becomes visible to Get, List or DequeueNext. The job has no Seq yet when
// the hook runs.
func (jq *JobQueue) SubmitWith(items []models.Item, jc models.JobContext, onAccept func(models.Job)) (string, error) {
	if len(items) == 0 {
		return "", models.ErrEmptyBatch
	}
	jc, err := jc.Normalize()
	if err != nil {
		return "", err
	}

	job := &models.Job{
		ID:        uuid.NewString(),
		Items:     append([]models.Item(nil), items...),
		Priority:  CalculatePriority(len(items), jc),
		Context:   jc,
		Status:    models.JobStatusPending,
		CreatedAt: jq.now(),
	}
	if onAccept != nil {
		onAccept(copyJob(job))
	}

	// Seq and the push share one critical section
	jq.mu.Lock()
	jq.seq++
	job.Seq = jq.seq
	jq.jobs[job.ID] = job
	jq.order = append(jq.order, job.ID)
	item := &QueuedJob{Job: job, Priority: job.Priority, Seq: job.Seq}
	jq.queued[job.ID] = item
	heap.Push(&jq.pending, item)
	jq.mu.Unlock()

	select {
	case jq.ready <- struct{}{}:
	default:
	}

	return job.ID, nil
}

// Ready pulses after a submission so the dispatcher can wake up
func (jq *JobQueue) Ready() <-chan struct{} {
	return jq.ready
}

// DequeueNext claims the highest priority pending job. Equal priorities are
// served in submission order. It returns false when nothing is pending.
func (jq *JobQueue) DequeueNext() (models.Job, bool) {
	jq.mu.Lock()
	defer jq.mu.Unlock()

	if jq.pending.Len() == 0 {
		return models.Job{}, false
	}
	job := heap.Pop(&jq.pending).(*QueuedJob).Job
	delete(jq.queued, job.ID)
	jq.active[job.ID] = nil
	return copyJob(job), true
}

// Get returns the job with the given id in any status
func (jq *JobQueue) Get(id string) (models.Job, bool) {
	jq.mu.Lock()
	defer jq.mu.Unlock()

	job, ok := jq.jobs[id]
	if !ok {
		return models.Job{}, false
	}
	return copyJob(job), true
}

// List returns every job in submission order
func (jq *JobQueue) List() []models.Job {
	jq.mu.Lock()
	defer jq.mu.Unlock()

	jobs := make([]models.Job, 0, len(jq.order))
	for _, id := range jq.order {
		jobs = append(jobs, copyJob(jq.jobs[id]))
	}
	return jobs
}

// Len returns the number of pending jobs
func (jq *JobQueue) Len() int {
	jq.mu.Lock()
	defer jq.mu.Unlock()
	return jq.pending.Len()
}

// ActiveCount returns the number of jobs claimed by the processor and not yet terminal
func (jq *JobQueue) ActiveCount() int {
	jq.mu.Lock()
	defer jq.mu.Unlock()
	return len(jq.active)
}

// MarkProcessing moves a claimed job to processing and registers the function
// that cancels its chunks. It fails if the job was cancelled after dequeue.
func (jq *JobQueue) MarkProcessing(id string, cancel context.CancelFunc) (models.Job, error) {
	jq.mu.Lock()
	defer jq.mu.Unlock()

	job, ok := jq.jobs[id]
	if !ok {
		return models.Job{}, fmt.Errorf("mark processing %s: %w", id, models.ErrJobNotFound)
	}
	if job.Status != models.JobStatusPending {
		return models.Job{}, fmt.Errorf("mark processing %s: job is %s", id, job.Status)
	}
	if _, claimed := jq.active[id]; !claimed {
		return models.Job{}, fmt.Errorf("mark processing %s: job was not dequeued", id)
	}
	now := jq.now()
	job.Status = models.JobStatusProcessing
	job.StartTime = &now
	jq.active[id] = cancel
	return copyJob(job), nil
}

// SetPlan records the scheduling plan and optimization tags. Only the first
// call for a job has an effect.
func (jq *JobQueue) SetPlan(id string, plan models.SchedulingPlan, optimizations []string) {
	jq.mu.Lock()
	defer jq.mu.Unlock()

	job, ok := jq.jobs[id]
	if !ok || job.Plan != nil || job.Status != models.JobStatusProcessing {
		return
	}
	job.Plan = &plan
	job.Optimizations = append([]string(nil), optimizations...)
}

// UpdateProgress records how many items have finished. Progress stays below
// 100 until the job completes.
func (jq *JobQueue) UpdateProgress(id string, done int) {
	jq.mu.Lock()
	defer jq.mu.Unlock()

	job, ok := jq.jobs[id]
	if !ok || job.Status != models.JobStatusProcessing || len(job.Items) == 0 {
		return
	}
	progress := done * 100 / len(job.Items)
	if progress > 99 {
		progress = 99
	}
	if progress > job.Progress {
		job.Progress = progress
	}
}

// Complete finalizes a processing job with its consolidated results
func (jq *JobQueue) Complete(id string, results []models.Result, perf models.JobPerformance) (models.Job, bool) {
	jq.mu.Lock()
	defer jq.mu.Unlock()

	job, ok := jq.jobs[id]
	if !ok || job.Status != models.JobStatusProcessing {
		return models.Job{}, false
	}
	now := jq.now()
	job.Status = models.JobStatusCompleted
	job.Progress = 100
	job.EndTime = &now
	job.Results = results
	job.PerformanceMetrics = &perf
	delete(jq.active, id)
	return copyJob(job), true
}

// Fail finalizes a processing job with the reason of its first failure
func (jq *JobQueue) Fail(id, reason string, partial []models.Result) (models.Job, bool) {
	jq.mu.Lock()
	defer jq.mu.Unlock()

	job, ok := jq.jobs[id]
	if !ok || job.Status != models.JobStatusProcessing {
		return models.Job{}, false
	}
	now := jq.now()
	job.Status = models.JobStatusFailed
	job.EndTime = &now
	job.Error = reason
	job.Partial = partial
	delete(jq.active, id)
	return copyJob(job), true
}

// Cancel stops a job that has not reached a terminal state. Pending jobs leave
// the heap; processing jobs have their chunk context cancelled. It reports the
// status the job had before, and false if the job was unknown or already terminal.
func (jq *JobQueue) Cancel(id string) (models.Job, models.JobStatus, bool) {
	jq.mu.Lock()
	defer jq.mu.Unlock()

	job, ok := jq.jobs[id]
	if !ok || job.Status.IsTerminal() {
		return models.Job{}, "", false
	}
	from := job.Status

	if item, queued := jq.queued[id]; queued {
		heap.Remove(&jq.pending, item.Index)
		delete(jq.queued, id)
	}
	if cancel := jq.active[id]; cancel != nil {
		cancel()
	}
	delete(jq.active, id)

	now := jq.now()
	job.Status = models.JobStatusCancelled
	job.EndTime = &now
	job.Error = "cancelled"
	return copyJob(job), from, true
}

func copyJob(job *models.Job) models.Job {
	c := *job
	c.Optimizations = append([]string(nil), job.Optimizations...)
	return c
}

// jobHeap orders pending jobs by priority, highest first, then by submission order
type jobHeap []*QueuedJob

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].Seq < h[j].Seq
}

func (h jobHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].Index = i
	h[j].Index = j
}

// Push implements heap.Interface
func (h *jobHeap) Push(x interface{}) {
	item := x.(*QueuedJob)
	item.Index = len(*h)
	*h = append(*h, item)
}

// Pop implements heap.Interface
func (h *jobHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.Index = -1
	*h = old[:n-1]
	return item
}
