package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-relay/core"
)

const (
	DefaultMaxAttempts = 6

	// TestEventType is the event name used by SendTest.
	TestEventType = "test"
)

type DispatchResult struct {
	SubscribersFound int               `json:"subscribers_found"`
	JobsCreated      int               `json:"jobs_created"`
	JobIDs           []string          `json:"job_ids"`
	LogIDs           []string          `json:"log_ids"`
	Failures         []DispatchFailure `json:"failures,omitempty"`
}

// DispatchFailure is a subscriber that could not be scheduled. It never
// aborts the rest of the fan-out.
type DispatchFailure struct {
	SubscriberID string `json:"subscriber_id"`
	Error        string `json:"error"`
}

type DispatchRequest struct {
	EventType string         `json:"event_type"`
	Payload   map[string]any `json:"payload"`
	SenderID  string         `json:"sender_id"`
}

type BatchDispatchItem struct {
	EventType string         `json:"event_type"`
	Result    DispatchResult `json:"result"`
	Err       error          `json:"-"`
}

// Dispatcher fans an event out to every interested subscriber as one
// webhook_delivery job each.
type Dispatcher struct {
	Queue       core.JobQueue
	Subscribers core.SubscriberDirectory
	Logs        core.DeliveryLogStore
	Transforms  *TransformRegistry
	Telemetry   core.Telemetry
	MaxAttempts int
	Now         func() time.Time
}

type DispatcherOption func(*Dispatcher)

func WithTransforms(registry *TransformRegistry) DispatcherOption {
	return func(d *Dispatcher) {
		if registry != nil {
			d.Transforms = registry
		}
	}
}

func WithTelemetry(telemetry core.Telemetry) DispatcherOption {
	return func(d *Dispatcher) {
		d.Telemetry = telemetry
	}
}

func WithMaxAttempts(maxAttempts int) DispatcherOption {
	return func(d *Dispatcher) {
		if maxAttempts > 0 {
			d.MaxAttempts = maxAttempts
		}
	}
}

func WithClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) {
		if now != nil {
			d.Now = now
		}
	}
}

func NewDispatcher(
	queue core.JobQueue,
	subscribers core.SubscriberDirectory,
	logs core.DeliveryLogStore,
	opts ...DispatcherOption,
) *Dispatcher {
	dispatcher := &Dispatcher{
		Queue:       queue,
		Subscribers: subscribers,
		Logs:        logs,
		Transforms:  NewTransformRegistry(),
		Telemetry:   core.NewTelemetry(nil, nil, "relay"),
		MaxAttempts: DefaultMaxAttempts,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(dispatcher)
		}
	}
	return dispatcher
}

// RegisterTransform is a shortcut for Transforms.Register.
func (d *Dispatcher) RegisterTransform(eventType string, transform Transform) error {
	if d == nil {
		return fmt.Errorf("webhooks: dispatcher is nil")
	}
	if d.Transforms == nil {
		d.Transforms = NewTransformRegistry()
	}
	return d.Transforms.Register(eventType, transform)
}

func (d *Dispatcher) Dispatch(
	ctx context.Context,
	eventType string,
	payload map[string]any,
	senderID string,
) (result DispatchResult, err error) {
	startedAt := time.Now()
	eventType = strings.TrimSpace(eventType)
	defer func() {
		if d == nil {
			return
		}
		d.Telemetry.ObserveOperation(ctx, startedAt, "dispatch", err, map[string]any{
			"event_type":        eventType,
			"sender_id":         senderID,
			"subscribers_found": result.SubscribersFound,
			"jobs_created":      result.JobsCreated,
		})
	}()

	if d == nil || d.Queue == nil || d.Subscribers == nil || d.Logs == nil {
		return DispatchResult{}, core.NewRelayError(
			"webhooks: dispatcher requires queue, subscriber directory and delivery log store",
			goerrors.CategoryInternal,
			core.RelayErrorInternal,
		)
	}
	if eventType == "" {
		return DispatchResult{}, core.NewRelayError("webhooks: event type is required", goerrors.CategoryBadInput, core.RelayErrorBadInput)
	}
	if payload == nil {
		return DispatchResult{}, core.NewRelayError("webhooks: payload is required", goerrors.CategoryBadInput, core.RelayErrorBadInput).
			WithMetadata(map[string]any{"event_type": eventType})
	}

	result = DispatchResult{JobIDs: []string{}, LogIDs: []string{}}
	subscribers, err := d.Subscribers.ListActiveSubscribers(ctx, eventType)
	if err != nil {
		return result, core.WrapRelayError(err, goerrors.CategoryInternal, core.RelayErrorInternal, "webhooks: resolve subscribers").
			WithMetadata(map[string]any{"event_type": eventType})
	}
	result.SubscribersFound = len(subscribers)
	if len(subscribers) == 0 {
		return result, nil
	}

	envelope := core.Envelope{
		Event:     eventType,
		Timestamp: d.now().Unix(),
		SenderID:  strings.TrimSpace(senderID),
		Data:      core.CloneMap(payload),
	}
	envelope, failures := d.Transforms.Apply(ctx, envelope)
	for _, failure := range failures {
		d.Telemetry.Warn(ctx, "webhook transform skipped", map[string]any{
			"event_type":      eventType,
			"transform_index": failure.Index,
			"error":           failure.Err.Error(),
		})
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return result, core.WrapRelayError(err, goerrors.CategoryBadInput, core.RelayErrorBadInput, "webhooks: encode envelope").
			WithMetadata(map[string]any{"event_type": eventType})
	}

	for _, subscriber := range subscribers {
		jobID, logID, scheduleErr := d.schedule(ctx, subscriber, envelope, body)
		if scheduleErr != nil {
			result.Failures = append(result.Failures, DispatchFailure{
				SubscriberID: subscriber.ID,
				Error:        scheduleErr.Error(),
			})
			d.Telemetry.Error(ctx, "webhook delivery scheduling failed", map[string]any{
				"event_type":    eventType,
				"subscriber_id": subscriber.ID,
				"error":         scheduleErr.Error(),
			})
			continue
		}
		result.JobIDs = append(result.JobIDs, jobID)
		result.LogIDs = append(result.LogIDs, logID)
		result.JobsCreated++
	}
	return result, nil
}

// DispatchBatch runs every request independently; one failing entry does not
// affect the others.
func (d *Dispatcher) DispatchBatch(ctx context.Context, requests []DispatchRequest) []BatchDispatchItem {
	items := make([]BatchDispatchItem, 0, len(requests))
	for _, request := range requests {
		result, err := d.Dispatch(ctx, request.EventType, request.Payload, request.SenderID)
		items = append(items, BatchDispatchItem{
			EventType: strings.TrimSpace(request.EventType),
			Result:    result,
			Err:       err,
		})
	}
	return items
}

// SendTest schedules one delivery of a "test" event to the given subscriber,
// ignoring its event filter and skipping transforms.
func (d *Dispatcher) SendTest(ctx context.Context, subscriber core.Subscriber, senderID string) (result DispatchResult, err error) {
	startedAt := time.Now()
	defer func() {
		if d == nil {
			return
		}
		d.Telemetry.ObserveOperation(ctx, startedAt, "send_test", err, map[string]any{
			"subscriber_id": subscriber.ID,
		})
	}()

	if d == nil || d.Queue == nil || d.Logs == nil {
		return DispatchResult{}, core.NewRelayError(
			"webhooks: dispatcher requires queue and delivery log store",
			goerrors.CategoryInternal,
			core.RelayErrorInternal,
		)
	}
	if strings.TrimSpace(subscriber.URL) == "" || strings.TrimSpace(subscriber.Secret) == "" {
		return DispatchResult{}, core.NewRelayError("webhooks: subscriber url and secret are required", goerrors.CategoryBadInput, core.RelayErrorBadInput).
			WithMetadata(map[string]any{"subscriber_id": subscriber.ID})
	}

	envelope := core.Envelope{
		Event:     TestEventType,
		Timestamp: d.now().Unix(),
		SenderID:  strings.TrimSpace(senderID),
		Data: map[string]any{
			"message":       "webhook test delivery",
			"subscriber_id": subscriber.ID,
		},
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return DispatchResult{}, core.WrapRelayError(err, goerrors.CategoryBadInput, core.RelayErrorBadInput, "webhooks: encode envelope")
	}
	jobID, logID, err := d.schedule(ctx, subscriber, envelope, body)
	if err != nil {
		return DispatchResult{SubscribersFound: 1}, core.WrapRelayError(err, goerrors.CategoryInternal, core.RelayErrorInternal, "webhooks: schedule test delivery").
			WithMetadata(map[string]any{"subscriber_id": subscriber.ID})
	}
	return DispatchResult{
		SubscribersFound: 1,
		JobsCreated:      1,
		JobIDs:           []string{jobID},
		LogIDs:           []string{logID},
	}, nil
}

func (d *Dispatcher) schedule(
	ctx context.Context,
	subscriber core.Subscriber,
	envelope core.Envelope,
	body []byte,
) (string, string, error) {
	entry, err := d.Logs.CreateDeliveryLog(ctx, core.DeliveryLogEntry{
		SubscriberID: subscriber.ID,
		Event:        envelope.Event,
		RequestBody:  body,
	})
	if err != nil {
		return "", "", fmt.Errorf("webhooks: create delivery log: %w", err)
	}
	payload := DeliveryPayload{
		LogID:        entry.ID,
		SubscriberID: subscriber.ID,
		URL:          subscriber.URL,
		Secret:       subscriber.Secret,
		Envelope:     envelope,
		Body:         string(body),
	}
	jobID, err := d.Queue.Enqueue(ctx, core.EnqueueRequest{
		Type:        core.JobTypeWebhookDelivery,
		Payload:     payload.ToMap(),
		MaxAttempts: d.maxAttempts(),
	})
	if err != nil {
		return "", entry.ID, fmt.Errorf("webhooks: enqueue delivery: %w", err)
	}
	return jobID, entry.ID, nil
}

func (d *Dispatcher) maxAttempts() int {
	if d.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return d.MaxAttempts
}

func (d *Dispatcher) now() time.Time {
	if d.Now == nil {
		return time.Now().UTC()
	}
	return d.Now()
}
