package inbound

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-relay/core"
)

const (
	StatusProcessed        = "processed"
	StatusAlreadyProcessed = "already_processed"
	StatusIgnored          = "ignored"
	StatusAcknowledged     = "acknowledged"

	ReasonUnknownEventType = "unknown_event_type"
)

type Handler interface {
	Handle(ctx context.Context, event NormalizedEvent) (map[string]any, error)
}

type HandlerFunc func(ctx context.Context, event NormalizedEvent) (map[string]any, error)

func (f HandlerFunc) Handle(ctx context.Context, event NormalizedEvent) (map[string]any, error) {
	return f(ctx, event)
}

type ProcessResult struct {
	Status    string         `json:"status"`
	EventType string         `json:"event_type"`
	EventID   string         `json:"event_id"`
	Reason    string         `json:"reason,omitempty"`
	Result    map[string]any `json:"result,omitempty"`
}

func (r ProcessResult) ToMap() map[string]any {
	out := map[string]any{
		"status":     r.Status,
		"event_type": r.EventType,
		"event_id":   r.EventID,
	}
	if r.Reason != "" {
		out["reason"] = r.Reason
	}
	if r.Result != nil {
		out["result"] = core.CloneMap(r.Result)
	}
	return out
}

// Router maps event types to handlers by exact match. Every routed event is
// recorded in the ledger before its handler runs.
type Router struct {
	Ledger    core.InboundEventLedger
	Telemetry core.Telemetry

	mu       sync.RWMutex
	handlers map[string]Handler
	acks     map[string]struct{}
}

func NewRouter(ledger core.InboundEventLedger, telemetry core.Telemetry) *Router {
	return &Router{
		Ledger:    ledger,
		Telemetry: telemetry,
		handlers:  map[string]Handler{},
		acks: map[string]struct{}{
			"ping": {},
			"test": {},
		},
	}
}

func (r *Router) Register(eventType string, handler Handler) error {
	if r == nil {
		return inboundInternal("inbound: router is nil", nil)
	}
	eventType = strings.TrimSpace(eventType)
	if eventType == "" {
		return inboundBadInput("inbound: handler event type is required", nil)
	}
	if handler == nil {
		return inboundBadInput("inbound: handler is nil", map[string]any{"event_type": eventType})
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handlers == nil {
		r.handlers = map[string]Handler{}
	}
	if _, exists := r.handlers[eventType]; exists {
		return inboundError(
			fmt.Sprintf("inbound: handler already registered for %q", eventType),
			goerrors.CategoryConflict,
			core.RelayErrorBadInput,
			map[string]any{"event_type": eventType},
		)
	}
	r.handlers[eventType] = handler
	return nil
}

// EventTypes lists the registered handler keys.
func (r *Router) EventTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for eventType := range r.handlers {
		out = append(out, eventType)
	}
	return out
}

func (r *Router) ProcessEvent(ctx context.Context, event NormalizedEvent) (result ProcessResult, err error) {
	if r == nil || r.Ledger == nil {
		return ProcessResult{}, inboundInternal("inbound: router requires an event ledger", nil)
	}
	event.EventType = strings.TrimSpace(event.EventType)
	event.EventID = strings.TrimSpace(event.EventID)
	result = ProcessResult{EventType: event.EventType, EventID: event.EventID}
	if event.EventType == "" || event.EventID == "" {
		return result, core.Permanent(inboundBadInput("inbound: event id and event type are required", nil))
	}

	startedAt := time.Now()
	defer func() {
		r.Telemetry.ObserveOperation(ctx, startedAt, "process_event", err, map[string]any{
			"event_type": event.EventType,
			"event_id":   event.EventID,
			"status":     result.Status,
		})
	}()

	if r.acknowledges(event.EventType) {
		result.Status = StatusAcknowledged
		result.Result = map[string]any{"pong": true}
		return result, nil
	}

	if _, err := r.Ledger.Record(ctx, core.InboundEvent{
		EventID:   event.EventID,
		EventType: event.EventType,
		Payload:   core.CloneMap(event.Data),
	}); err != nil {
		if errors.Is(err, core.ErrDuplicateEvent) {
			result.Status = StatusAlreadyProcessed
			return result, nil
		}
		return result, inboundWrapError(err, goerrors.CategoryInternal, core.RelayErrorInternal, "inbound: record event", map[string]any{
			"event_type": event.EventType,
			"event_id":   event.EventID,
		})
	}

	handler := r.handlerFor(event.EventType)
	if handler == nil {
		r.markProcessed(ctx, event)
		result.Status = StatusIgnored
		result.Reason = ReasonUnknownEventType
		return result, nil
	}

	output, handlerErr := handler.Handle(ctx, event)
	if handlerErr != nil {
		r.Telemetry.Error(ctx, "inbound handler failed", map[string]any{
			"event_type": event.EventType,
			"event_id":   event.EventID,
			"error":      handlerErr.Error(),
		})
		if releaseErr := r.Ledger.Release(ctx, event.EventID); releaseErr != nil {
			r.Telemetry.Warn(ctx, "inbound ledger release failed", map[string]any{
				"event_id": event.EventID,
				"error":    releaseErr.Error(),
			})
		}
		wrapped := inboundWrapError(handlerErr, goerrors.CategoryOperation, core.RelayErrorProcessingFailed, "inbound: handler failed", map[string]any{
			"event_type": event.EventType,
			"event_id":   event.EventID,
		})
		if core.IsPermanent(handlerErr) {
			wrapped = core.Permanent(wrapped)
		}
		return result, wrapped
	}

	r.markProcessed(ctx, event)
	result.Status = StatusProcessed
	result.Result = output
	return result, nil
}

// HandleJob runs an inbound_event job through ProcessEvent.
func (r *Router) HandleJob(ctx context.Context, job core.Job) (map[string]any, error) {
	event, err := NormalizedEventFromMap(job.Payload)
	if err != nil {
		return nil, core.Permanent(inboundWrapError(err, goerrors.CategoryBadInput, core.RelayErrorBadInput, "inbound: invalid event job payload", map[string]any{
			"job_id": job.ID,
		}))
	}
	result, err := r.ProcessEvent(ctx, event)
	if err != nil {
		return nil, err
	}
	return result.ToMap(), nil
}

func (r *Router) handlerFor(eventType string) Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handlers[eventType]
}

func (r *Router) acknowledges(eventType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.acks[eventType]
	return ok
}

func (r *Router) markProcessed(ctx context.Context, event NormalizedEvent) {
	if err := r.Ledger.MarkProcessed(ctx, event.EventID); err != nil {
		r.Telemetry.Warn(ctx, "inbound ledger mark processed failed", map[string]any{
			"event_type": event.EventType,
			"event_id":   event.EventID,
			"error":      err.Error(),
		})
	}
}
