package relay

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-relay/inbound"
	"github.com/goliatone/go-relay/webhooks"
	"github.com/goliatone/go-relay/worker"
)

// HandlerPack contributes inbound event handlers keyed by event type.
type HandlerPack struct {
	Name     string
	Handlers map[string]inbound.Handler
}

// TransformPack contributes outbound transforms for one event type, applied
// in slice order.
type TransformPack struct {
	Name       string
	EventType  string
	Transforms []webhooks.Transform
}

type JobPack struct {
	Name     string
	Handlers map[string]worker.JobHandler
}

// ExtensionHooks collects packs from downstream modules and applies them to
// a Relay in pack name order.
type ExtensionHooks struct {
	mu sync.RWMutex

	handlerPacks   map[string]HandlerPack
	transformPacks map[string]TransformPack
	jobPacks       map[string]JobPack
}

func NewExtensionHooks() *ExtensionHooks {
	return &ExtensionHooks{
		handlerPacks:   map[string]HandlerPack{},
		transformPacks: map[string]TransformPack{},
		jobPacks:       map[string]JobPack{},
	}
}

func (h *ExtensionHooks) RegisterHandlerPack(pack HandlerPack) error {
	if h == nil {
		return fmt.Errorf("relay: extension hooks are nil")
	}
	name := strings.TrimSpace(pack.Name)
	if name == "" {
		return fmt.Errorf("relay: handler pack name is required")
	}
	if len(pack.Handlers) == 0 {
		return fmt.Errorf("relay: handler pack %q has no handlers", name)
	}
	handlers := make(map[string]inbound.Handler, len(pack.Handlers))
	for eventType, handler := range pack.Handlers {
		if handler == nil {
			return fmt.Errorf("relay: handler pack %q has a nil handler for %q", name, eventType)
		}
		handlers[eventType] = handler
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.handlerPacks[name]; exists {
		return fmt.Errorf("relay: handler pack %q already registered", name)
	}
	h.handlerPacks[name] = HandlerPack{Name: name, Handlers: handlers}
	return nil
}

func (h *ExtensionHooks) RegisterTransformPack(pack TransformPack) error {
	if h == nil {
		return fmt.Errorf("relay: extension hooks are nil")
	}
	name := strings.TrimSpace(pack.Name)
	eventType := strings.TrimSpace(pack.EventType)
	if name == "" {
		return fmt.Errorf("relay: transform pack name is required")
	}
	if eventType == "" {
		return fmt.Errorf("relay: transform pack %q event type is required", name)
	}
	if len(pack.Transforms) == 0 {
		return fmt.Errorf("relay: transform pack %q has no transforms", name)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.transformPacks[name]; exists {
		return fmt.Errorf("relay: transform pack %q already registered", name)
	}
	h.transformPacks[name] = TransformPack{
		Name:       name,
		EventType:  eventType,
		Transforms: append([]webhooks.Transform(nil), pack.Transforms...),
	}
	return nil
}

func (h *ExtensionHooks) RegisterJobPack(pack JobPack) error {
	if h == nil {
		return fmt.Errorf("relay: extension hooks are nil")
	}
	name := strings.TrimSpace(pack.Name)
	if name == "" {
		return fmt.Errorf("relay: job pack name is required")
	}
	if len(pack.Handlers) == 0 {
		return fmt.Errorf("relay: job pack %q has no handlers", name)
	}
	handlers := make(map[string]worker.JobHandler, len(pack.Handlers))
	for jobType, handler := range pack.Handlers {
		handlers[jobType] = handler
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.jobPacks[name]; exists {
		return fmt.Errorf("relay: job pack %q already registered", name)
	}
	h.jobPacks[name] = JobPack{Name: name, Handlers: handlers}
	return nil
}

// Apply registers every pack on r. A nil receiver is a no-op.
func (h *ExtensionHooks) Apply(r *Relay) error {
	if h == nil {
		return nil
	}
	if r == nil {
		return fmt.Errorf("relay: relay is required")
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, name := range sortedKeys(h.handlerPacks) {
		pack := h.handlerPacks[name]
		for _, eventType := range sortedKeys(pack.Handlers) {
			if err := r.RegisterHandler(eventType, pack.Handlers[eventType]); err != nil {
				return fmt.Errorf("relay: handler pack %q: %w", name, err)
			}
		}
	}
	for _, name := range sortedKeys(h.transformPacks) {
		pack := h.transformPacks[name]
		for _, transform := range pack.Transforms {
			if err := r.RegisterTransform(pack.EventType, transform); err != nil {
				return fmt.Errorf("relay: transform pack %q: %w", name, err)
			}
		}
	}
	for _, name := range sortedKeys(h.jobPacks) {
		pack := h.jobPacks[name]
		for _, jobType := range sortedKeys(pack.Handlers) {
			if err := r.RegisterJobHandler(jobType, pack.Handlers[jobType]); err != nil {
				return fmt.Errorf("relay: job pack %q: %w", name, err)
			}
		}
	}
	return nil
}

func (h *ExtensionHooks) PackNames() []string {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.handlerPacks)+len(h.transformPacks)+len(h.jobPacks))
	names = append(names, sortedKeys(h.handlerPacks)...)
	names = append(names, sortedKeys(h.transformPacks)...)
	names = append(names, sortedKeys(h.jobPacks)...)
	sort.Strings(names)
	return names
}

func sortedKeys[V any](values map[string]V) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
