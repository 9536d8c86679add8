// Package gojob exposes the relay job queue through go-job's queue and
// worker contracts.
package gojob

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-relay/core"
	relayworker "github.com/goliatone/go-relay/worker"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
)

// ErrNoJob is returned by Dequeue when nothing is claimable.
var ErrNoJob = errors.New("gojob: no job available")

const (
	ParamRelayJobID  = "_relay_job_id"
	ParamIdempotency = "_idempotency_key"
)

// ToExecutionMessage maps a claimed relay job to a go-job message. The job
// type becomes both JobID and ScriptPath.
func ToExecutionMessage(j core.Job) *job.ExecutionMessage {
	params := core.CloneMap(j.Payload)
	if params == nil {
		params = map[string]any{}
	}
	params[ParamRelayJobID] = j.ID
	idempotency, _ := params[ParamIdempotency].(string)
	return &job.ExecutionMessage{
		JobID:          j.Type,
		ScriptPath:     j.Type,
		Parameters:     params,
		IdempotencyKey: strings.TrimSpace(idempotency),
	}
}

// ToEnqueueRequest maps a go-job message to a relay enqueue request.
func ToEnqueueRequest(msg *job.ExecutionMessage, maxAttempts int) (core.EnqueueRequest, error) {
	if msg == nil {
		return core.EnqueueRequest{}, fmt.Errorf("gojob: execution message is required")
	}
	jobType := strings.TrimSpace(msg.JobID)
	if jobType == "" {
		jobType = strings.TrimSpace(msg.ScriptPath)
	}
	payload := core.CloneMap(msg.Parameters)
	if payload == nil {
		payload = map[string]any{}
	}
	delete(payload, ParamRelayJobID)
	if key := strings.TrimSpace(msg.IdempotencyKey); key != "" {
		payload[ParamIdempotency] = key
	}
	req := core.EnqueueRequest{Type: jobType, Payload: payload, MaxAttempts: maxAttempts}
	return req, req.Validate()
}

// Enqueuer implements queue.Enqueuer on top of a relay queue.
type Enqueuer struct {
	queue       core.JobQueue
	maxAttempts int
}

func NewEnqueuer(q core.JobQueue, maxAttempts int) *Enqueuer {
	return &Enqueuer{queue: q, maxAttempts: maxAttempts}
}

// Enqueue returns the relay job id as the dispatch id.
func (e *Enqueuer) Enqueue(ctx context.Context, msg *job.ExecutionMessage) (queue.EnqueueReceipt, error) {
	if e == nil || e.queue == nil {
		return queue.EnqueueReceipt{}, fmt.Errorf("gojob: queue is not configured")
	}
	req, err := ToEnqueueRequest(msg, e.maxAttempts)
	if err != nil {
		return queue.EnqueueReceipt{}, err
	}
	jobID, err := e.queue.Enqueue(ctx, req)
	if err != nil {
		return queue.EnqueueReceipt{}, err
	}
	receipt := queue.EnqueueReceipt{DispatchID: jobID, EnqueuedAt: time.Now().UTC()}
	if stored, getErr := e.queue.Get(ctx, jobID); getErr == nil {
		receipt.EnqueuedAt = stored.CreatedAt
	}
	return receipt, nil
}

// NackAction is the relay queue operation a go-job nack disposition maps to.
type NackAction int

const (
	NackRetry NackAction = iota
	NackFail
	NackCancel
)

// ToNackAction validates opts and maps its disposition. Retry keeps the job
// on the relay backoff schedule, dead_letter and failed end it as failed,
// canceled cancels it.
func ToNackAction(opts queue.NackOptions) (NackAction, error) {
	if err := queue.ValidateNackOptions(opts); err != nil {
		return NackFail, fmt.Errorf("gojob: %w", err)
	}
	switch opts.Disposition {
	case queue.NackDispositionRetry:
		return NackRetry, nil
	case queue.NackDispositionCanceled:
		return NackCancel, nil
	default:
		return NackFail, nil
	}
}

// FromFailureOutcome reports the go-job disposition matching a relay failure.
func FromFailureOutcome(outcome core.FailureOutcome, reason string) queue.NackOptions {
	opts := queue.NackOptions{Disposition: queue.NackDispositionRetry, Reason: reason}
	if outcome.Terminal {
		opts.Disposition = queue.NackDispositionFailed
		return opts
	}
	if !outcome.NextAttemptAt.IsZero() {
		if delay := time.Until(outcome.NextAttemptAt); delay > 0 {
			opts.Delay = delay
		}
	}
	return opts
}

// Dequeuer implements queue.Dequeuer by claiming relay jobs.
type Dequeuer struct {
	queue    core.JobQueue
	workerID string
}

func NewDequeuer(q core.JobQueue, workerID string) *Dequeuer {
	return &Dequeuer{queue: q, workerID: strings.TrimSpace(workerID)}
}

func (d *Dequeuer) Dequeue(ctx context.Context) (queue.Delivery, error) {
	if d == nil || d.queue == nil {
		return nil, fmt.Errorf("gojob: queue is not configured")
	}
	claimed, err := d.queue.ClaimNext(ctx, d.workerID)
	if err != nil {
		return nil, err
	}
	if claimed == nil {
		return nil, ErrNoJob
	}
	return &Delivery{queue: d.queue, job: *claimed}, nil
}

// Delivery acks and nacks a claimed relay job. Nack delays are ignored; the
// relay retry policy decides when the job becomes available again.
type Delivery struct {
	queue core.JobQueue
	job   core.Job
}

func (d *Delivery) Message() *job.ExecutionMessage {
	if d == nil {
		return nil
	}
	return ToExecutionMessage(d.job)
}

func (d *Delivery) Job() core.Job {
	return d.job
}

func (d *Delivery) Ack(ctx context.Context) error {
	if d == nil || d.queue == nil {
		return fmt.Errorf("gojob: delivery is not configured")
	}
	return d.queue.MarkCompleted(ctx, d.job.ID, d.job.LockedBy, nil)
}

// Attempts reports the attempt number of this delivery.
func (d *Delivery) Attempts() int {
	if d == nil {
		return 0
	}
	return d.job.Attempts + 1
}

func (d *Delivery) Nack(ctx context.Context, opts queue.NackOptions) error {
	if d == nil || d.queue == nil {
		return fmt.Errorf("gojob: delivery is not configured")
	}
	action, err := ToNackAction(opts)
	if err != nil {
		return err
	}
	if action == NackCancel {
		return d.queue.Cancel(ctx, d.job.ID)
	}
	reason := strings.TrimSpace(opts.Reason)
	if reason == "" {
		reason = string(opts.Disposition)
	}
	_, err = d.queue.MarkFailed(ctx, d.job.ID, d.job.LockedBy, errors.New(reason), action == NackRetry)
	return err
}

// HookBridge forwards relay worker events to a go-job worker hook.
type HookBridge struct {
	hook worker.Hook
}

func NewHookBridge(hook worker.Hook) *HookBridge {
	return &HookBridge{hook: hook}
}

func (b *HookBridge) OnStart(ctx context.Context, event relayworker.Event) {
	if b == nil || b.hook == nil {
		return
	}
	b.hook.OnStart(ctx, toWorkerEvent(event))
}

func (b *HookBridge) OnSuccess(ctx context.Context, event relayworker.Event) {
	if b == nil || b.hook == nil {
		return
	}
	b.hook.OnSuccess(ctx, toWorkerEvent(event))
}

func (b *HookBridge) OnFailure(ctx context.Context, event relayworker.Event) {
	if b == nil || b.hook == nil {
		return
	}
	b.hook.OnFailure(ctx, toWorkerEvent(event))
}

func (b *HookBridge) OnRetry(ctx context.Context, event relayworker.Event) {
	if b == nil || b.hook == nil {
		return
	}
	b.hook.OnRetry(ctx, toWorkerEvent(event))
}

func toWorkerEvent(event relayworker.Event) worker.Event {
	return worker.Event{
		Message:   ToExecutionMessage(event.Job),
		Attempt:   event.Attempt,
		Delay:     event.Delay,
		Err:       event.Err,
		StartedAt: event.StartedAt,
		Duration:  event.Duration,
	}
}

var (
	_ queue.Enqueuer   = (*Enqueuer)(nil)
	_ queue.Dequeuer   = (*Dequeuer)(nil)
	_ queue.Delivery   = (*Delivery)(nil)
	_ relayworker.Hook = (*HookBridge)(nil)
)
