package queue

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-relay/core"
	"github.com/google/uuid"
)

// MemoryQueue is a process-local JobQueue. The mutex stands in for the
// conditional update a SQL backend performs, so claim semantics match.
type MemoryQueue struct {
	mu          sync.Mutex
	jobs        map[string]*core.Job
	RetryPolicy core.RetryPolicy
	Now         func() time.Time
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		jobs:        map[string]*core.Job{},
		RetryPolicy: core.DefaultRetryPolicy(),
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (q *MemoryQueue) Enqueue(_ context.Context, req core.EnqueueRequest) (string, error) {
	if q == nil {
		return "", fmt.Errorf("queue: memory queue is nil")
	}
	if err := req.Validate(); err != nil {
		return "", err
	}
	now := q.now()
	job := &core.Job{
		ID:          uuid.NewString(),
		Type:        strings.TrimSpace(req.Type),
		Payload:     core.CloneMap(req.Payload),
		Status:      core.JobStatusPending,
		MaxAttempts: req.EffectiveMaxAttempts(),
		AvailableAt: now.Add(req.Delay),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if job.Payload == nil {
		job.Payload = map[string]any{}
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.ensureLocked()
	q.jobs[job.ID] = job
	return job.ID, nil
}

func (q *MemoryQueue) ClaimNext(_ context.Context, workerID string) (*core.Job, error) {
	if q == nil {
		return nil, fmt.Errorf("queue: memory queue is nil")
	}
	workerID = strings.TrimSpace(workerID)
	if workerID == "" {
		return nil, fmt.Errorf("queue: worker id is required")
	}
	now := q.now()

	q.mu.Lock()
	defer q.mu.Unlock()
	var next *core.Job
	for _, job := range q.jobs {
		if job.Status != core.JobStatusPending || job.AvailableAt.After(now) {
			continue
		}
		if next == nil || older(job, next) {
			next = job
		}
	}
	if next == nil {
		return nil, nil
	}
	lockedAt := now
	next.Status = core.JobStatusRunning
	next.LockedBy = workerID
	next.LockedAt = &lockedAt
	next.UpdatedAt = now
	claimed := cloneJob(*next)
	return &claimed, nil
}

func (q *MemoryQueue) MarkCompleted(_ context.Context, jobID string, workerID string, result map[string]any) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, err := q.heldLocked(jobID, workerID)
	if err != nil {
		return err
	}
	job.Status = core.JobStatusCompleted
	job.Result = core.CloneMap(result)
	job.ErrorText = ""
	job.LockedBy = ""
	job.LockedAt = nil
	job.UpdatedAt = q.now()
	return nil
}

func (q *MemoryQueue) MarkFailed(_ context.Context, jobID string, workerID string, cause error, retry bool) (core.FailureOutcome, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, err := q.heldLocked(jobID, workerID)
	if err != nil {
		return core.FailureOutcome{}, err
	}
	return core.ApplyFailure(job, cause, retry, q.now(), q.RetryPolicy), nil
}

func (q *MemoryQueue) Get(_ context.Context, jobID string) (core.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[strings.TrimSpace(jobID)]
	if !ok {
		return core.Job{}, fmt.Errorf("%w: %s", core.ErrJobNotFound, jobID)
	}
	return cloneJob(*job), nil
}

func (q *MemoryQueue) List(_ context.Context, filter core.JobFilter) ([]core.Job, error) {
	q.mu.Lock()
	items := make([]core.Job, 0, len(q.jobs))
	for _, job := range q.jobs {
		if filter.Type != "" && job.Type != filter.Type {
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		items = append(items, cloneJob(*job))
	}
	q.mu.Unlock()

	slices.SortFunc(items, func(a, b core.Job) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if filter.Offset > 0 {
		if filter.Offset >= len(items) {
			return []core.Job{}, nil
		}
		items = items[filter.Offset:]
	}
	if filter.Limit > 0 && len(items) > filter.Limit {
		items = items[:filter.Limit]
	}
	return items, nil
}

func (q *MemoryQueue) Cancel(_ context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[strings.TrimSpace(jobID)]
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrJobNotFound, jobID)
	}
	if job.Status.Terminal() {
		return fmt.Errorf("%w: job %s is %s", core.ErrInvalidJobTransition, jobID, job.Status)
	}
	job.Status = core.JobStatusFailed
	job.ErrorText = "cancelled"
	job.LockedBy = ""
	job.LockedAt = nil
	job.UpdatedAt = q.now()
	return nil
}

func (q *MemoryQueue) Retry(_ context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[strings.TrimSpace(jobID)]
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrJobNotFound, jobID)
	}
	if job.Status == core.JobStatusRunning {
		return fmt.Errorf("%w: job %s is running", core.ErrInvalidJobTransition, jobID)
	}
	now := q.now()
	job.Status = core.JobStatusPending
	job.ErrorText = ""
	job.LockedBy = ""
	job.LockedAt = nil
	job.AvailableAt = now
	job.UpdatedAt = now
	return nil
}

func (q *MemoryQueue) Stats(context.Context) (core.JobStats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var stats core.JobStats
	for _, job := range q.jobs {
		stats.Add(job.Status, 1)
	}
	return stats, nil
}

func (q *MemoryQueue) Cleanup(_ context.Context, olderThan time.Time) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	removed := 0
	for id, job := range q.jobs {
		if job.Status.Terminal() && job.UpdatedAt.Before(olderThan) {
			delete(q.jobs, id)
			removed++
		}
	}
	return removed, nil
}

func (q *MemoryQueue) ReclaimStale(_ context.Context, lockedBefore time.Time) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	reclaimed := 0
	for _, job := range q.jobs {
		if job.Status != core.JobStatusRunning || job.LockedAt == nil || !job.LockedAt.Before(lockedBefore) {
			continue
		}
		job.Status = core.JobStatusPending
		job.LockedBy = ""
		job.LockedAt = nil
		job.AvailableAt = now
		job.UpdatedAt = now
		reclaimed++
	}
	return reclaimed, nil
}

func (q *MemoryQueue) heldLocked(jobID string, workerID string) (*core.Job, error) {
	job, ok := q.jobs[strings.TrimSpace(jobID)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrJobNotFound, jobID)
	}
	if job.Status != core.JobStatusRunning {
		return nil, fmt.Errorf("%w: job %s is %s", core.ErrJobNotClaimable, jobID, job.Status)
	}
	if job.LockedBy != strings.TrimSpace(workerID) {
		return nil, fmt.Errorf("%w: job %s is locked by %q", core.ErrJobNotClaimable, jobID, job.LockedBy)
	}
	return job, nil
}

func (q *MemoryQueue) ensureLocked() {
	if q.jobs == nil {
		q.jobs = map[string]*core.Job{}
	}
}

func (q *MemoryQueue) now() time.Time {
	if q != nil && q.Now != nil {
		return q.Now().UTC()
	}
	return time.Now().UTC()
}

func older(a *core.Job, b *core.Job) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func cloneJob(job core.Job) core.Job {
	job.Payload = core.CloneMap(job.Payload)
	job.Result = core.CloneMap(job.Result)
	if job.LockedAt != nil {
		lockedAt := *job.LockedAt
		job.LockedAt = &lockedAt
	}
	return job
}

var (
	_ core.JobQueue     = (*MemoryQueue)(nil)
	_ core.JobReclaimer = (*MemoryQueue)(nil)
)
