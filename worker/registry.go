package worker

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-relay/core"
)

// JobHandler runs one claimed job. Returning core.Permanent(err) fails the
// job without further retries.
type JobHandler interface {
	Handle(ctx context.Context, job core.Job) (map[string]any, error)
}

type JobHandlerFunc func(ctx context.Context, job core.Job) (map[string]any, error)

func (f JobHandlerFunc) Handle(ctx context.Context, job core.Job) (map[string]any, error) {
	return f(ctx, job)
}

// Registry maps job types to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]JobHandler
}

func NewRegistry() *Registry {
	return &Registry{handlers: map[string]JobHandler{}}
}

func (r *Registry) Register(jobType string, handler JobHandler) error {
	jobType = strings.TrimSpace(jobType)
	if jobType == "" {
		return fmt.Errorf("worker: job type is required")
	}
	if handler == nil {
		return fmt.Errorf("worker: handler for %q is nil", jobType)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handlers == nil {
		r.handlers = map[string]JobHandler{}
	}
	r.handlers[jobType] = handler
	return nil
}

func (r *Registry) Lookup(jobType string) (JobHandler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handler, ok := r.handlers[jobType]
	if !ok {
		return nil, fmt.Errorf("worker: no handler registered for %q", jobType)
	}
	return handler, nil
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
