package webhooks

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/goliatone/go-relay/core"
)

// Transform rewrites an envelope before it is signed. Each transform receives
// its own copy; event and timestamp are restored after it returns.
type Transform func(ctx context.Context, envelope core.Envelope) (core.Envelope, error)

type TransformRegistry struct {
	mu    sync.RWMutex
	hooks map[string][]Transform
}

func NewTransformRegistry() *TransformRegistry {
	return &TransformRegistry{hooks: map[string][]Transform{}}
}

// Register appends a transform for eventType; "*" applies to every event.
func (r *TransformRegistry) Register(eventType string, transform Transform) error {
	if r == nil {
		return fmt.Errorf("webhooks: transform registry is nil")
	}
	eventType = strings.TrimSpace(eventType)
	if eventType == "" {
		return fmt.Errorf("webhooks: transform event type is required")
	}
	if transform == nil {
		return fmt.Errorf("webhooks: transform is nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.hooks == nil {
		r.hooks = map[string][]Transform{}
	}
	r.hooks[eventType] = append(r.hooks[eventType], transform)
	return nil
}

// TransformFailure records a hook that errored or panicked. The envelope
// it was given is carried forward unchanged.
type TransformFailure struct {
	Index int
	Event string
	Err   error
}

// Apply runs wildcard transforms then event-specific ones, in registration
// order. A failing hook is skipped; the rest of the chain still runs.
func (r *TransformRegistry) Apply(ctx context.Context, envelope core.Envelope) (core.Envelope, []TransformFailure) {
	if r == nil {
		return envelope, nil
	}
	r.mu.RLock()
	chain := make([]Transform, 0, len(r.hooks[core.WildcardEventType])+len(r.hooks[envelope.Event]))
	chain = append(chain, r.hooks[core.WildcardEventType]...)
	if envelope.Event != core.WildcardEventType {
		chain = append(chain, r.hooks[envelope.Event]...)
	}
	r.mu.RUnlock()

	var failures []TransformFailure
	current := envelope.Clone()
	for index, transform := range chain {
		next, err := runTransform(ctx, transform, current.Clone())
		if err != nil {
			failures = append(failures, TransformFailure{Index: index, Event: envelope.Event, Err: err})
			continue
		}
		next.Event = envelope.Event
		next.Timestamp = envelope.Timestamp
		if next.Data == nil {
			next.Data = map[string]any{}
		}
		current = next
	}
	return current, failures
}

func runTransform(ctx context.Context, transform Transform, envelope core.Envelope) (out core.Envelope, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("webhooks: transform panicked: %v", recovered)
		}
	}()
	return transform(ctx, envelope)
}
