package worker

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-relay/core"
	"github.com/google/uuid"
)

const (
	DefaultPollInterval = time.Second
	DefaultConcurrency  = 10

	// SettleTimeout bounds the MarkCompleted/MarkFailed call after a job ran.
	SettleTimeout = 5 * time.Second
)

// Worker polls the queue with Concurrency independent claim loops.
type Worker struct {
	ID           string
	Queue        core.JobQueue
	Registry     *Registry
	Telemetry    core.Telemetry
	PollInterval time.Duration
	Concurrency  int
	Now          func() time.Time

	hooks     hooks
	startDone chan struct{}
	doneOnce  sync.Once
}

type Option func(*Worker)

func WithID(id string) Option {
	return func(w *Worker) {
		if strings.TrimSpace(id) != "" {
			w.ID = strings.TrimSpace(id)
		}
	}
}

func WithTelemetry(telemetry core.Telemetry) Option {
	return func(w *Worker) {
		w.Telemetry = telemetry
	}
}

func WithPollInterval(interval time.Duration) Option {
	return func(w *Worker) {
		if interval > 0 {
			w.PollInterval = interval
		}
	}
}

func WithConcurrency(concurrency int) Option {
	return func(w *Worker) {
		if concurrency > 0 {
			w.Concurrency = concurrency
		}
	}
}

func WithHook(hook Hook) Option {
	return func(w *Worker) {
		if hook != nil {
			w.hooks = append(w.hooks, hook)
		}
	}
}

func New(queue core.JobQueue, registry *Registry, opts ...Option) *Worker {
	if registry == nil {
		registry = NewRegistry()
	}
	w := &Worker{
		ID:           "worker-" + uuid.NewString()[:8],
		Queue:        queue,
		Registry:     registry,
		Telemetry:    core.NewTelemetry(nil, nil, "relay"),
		PollInterval: DefaultPollInterval,
		Concurrency:  DefaultConcurrency,
		Now: func() time.Time {
			return time.Now().UTC()
		},
		startDone: make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w
}

// Start runs the claim loops until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	defer w.doneOnce.Do(func() { close(w.startDone) })
	w.Telemetry.Info(ctx, "worker starting", map[string]any{
		"worker_id":   w.ID,
		"concurrency": w.concurrency(),
		"handlers":    w.Registry.Names(),
	})

	var wg sync.WaitGroup
	for slot := 0; slot < w.concurrency(); slot++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			w.loop(ctx, fmt.Sprintf("%s/%d", w.ID, slot))
		}(slot)
	}
	wg.Wait()
	w.Telemetry.Info(context.Background(), "worker stopped", map[string]any{"worker_id": w.ID})
}

// DrainAndWait blocks until Start returns or ctx is done.
func (w *Worker) DrainAndWait(ctx context.Context) error {
	select {
	case <-w.startDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) loop(ctx context.Context, claimerID string) {
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		ran, err := w.RunOnce(ctx, claimerID)
		if err != nil && ctx.Err() == nil {
			w.Telemetry.Error(ctx, "claim error", map[string]any{"worker_id": claimerID, "error": err.Error()})
		}
		if ran {
			timer.Reset(0)
			continue
		}
		timer.Reset(w.pollInterval())
	}
}

// RunOnce claims and runs at most one job. It reports whether a job ran.
func (w *Worker) RunOnce(ctx context.Context, claimerID string) (bool, error) {
	if w == nil || w.Queue == nil {
		return false, fmt.Errorf("worker: queue is required")
	}
	if strings.TrimSpace(claimerID) == "" {
		claimerID = w.ID
	}
	job, err := w.Queue.ClaimNext(ctx, claimerID)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}
	w.run(ctx, *job)
	return true, nil
}

func (w *Worker) run(ctx context.Context, job core.Job) {
	startedAt := w.now()
	event := Event{Job: job, Attempt: job.Attempts + 1, StartedAt: startedAt}
	fields := map[string]any{
		"job_id":   job.ID,
		"job_type": job.Type,
		"attempt":  event.Attempt,
	}
	w.hooks.start(ctx, event)

	handler, err := w.Registry.Lookup(job.Type)
	if err != nil {
		w.fail(ctx, job, event, core.Permanent(err), fields)
		return
	}

	result, err := w.invoke(ctx, handler, job)
	event.Duration = w.now().Sub(startedAt)
	if err != nil {
		w.fail(ctx, job, event, err, fields)
		return
	}
	settleCtx, cancel := settleContext(ctx)
	defer cancel()
	if markErr := w.Queue.MarkCompleted(settleCtx, job.ID, job.LockedBy, result); markErr != nil {
		fields["error"] = markErr.Error()
		w.Telemetry.Error(ctx, "failed to mark job completed", fields)
		return
	}
	event.Result = result
	w.hooks.success(ctx, event)
	w.Telemetry.ObserveOperation(ctx, startedAt, "job", nil, fields)
}

func (w *Worker) invoke(ctx context.Context, handler JobHandler, job core.Job) (result map[string]any, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("worker: handler panic: %v", recovered)
		}
	}()
	return handler.Handle(ctx, job)
}

func (w *Worker) fail(ctx context.Context, job core.Job, event Event, cause error, fields map[string]any) {
	retry := !core.IsPermanent(cause)
	settleCtx, cancel := settleContext(ctx)
	defer cancel()
	outcome, err := w.Queue.MarkFailed(settleCtx, job.ID, job.LockedBy, cause, retry)
	if err != nil {
		fields["error"] = err.Error()
		w.Telemetry.Error(ctx, "failed to mark job failed", fields)
		return
	}
	event.Err = cause
	fields["terminal"] = outcome.Terminal
	if !outcome.Terminal {
		event.Delay = outcome.NextAttemptAt.Sub(w.now())
		fields["next_attempt_at"] = outcome.NextAttemptAt
		w.hooks.retry(ctx, event)
		w.Telemetry.Warn(ctx, "job failed, retry scheduled", mergeFields(fields, cause))
		return
	}
	w.hooks.failure(ctx, event)
	w.Telemetry.ObserveOperation(ctx, event.StartedAt, "job", cause, fields)
}

// settleContext outlives a shutdown so an interrupted attempt is still
// recorded instead of waiting for the reaper.
func settleContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), SettleTimeout)
}

func (w *Worker) concurrency() int {
	if w.Concurrency <= 0 {
		return DefaultConcurrency
	}
	return w.Concurrency
}

func (w *Worker) pollInterval() time.Duration {
	if w.PollInterval <= 0 {
		return DefaultPollInterval
	}
	return w.PollInterval
}

func (w *Worker) now() time.Time {
	if w.Now == nil {
		return time.Now().UTC()
	}
	return w.Now()
}

func mergeFields(fields map[string]any, err error) map[string]any {
	out := make(map[string]any, len(fields)+1)
	for key, value := range fields {
		out[key] = value
	}
	out["error"] = err.Error()
	return out
}
