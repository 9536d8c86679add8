package worker

import (
	"context"
	"time"

	"github.com/goliatone/go-relay/core"
)

// Event describes one job execution for hooks.
type Event struct {
	Job       core.Job
	Attempt   int
	Delay     time.Duration
	Err       error
	Result    map[string]any
	StartedAt time.Time
	Duration  time.Duration
}

type Hook interface {
	OnStart(ctx context.Context, event Event)
	OnSuccess(ctx context.Context, event Event)
	OnFailure(ctx context.Context, event Event)
	OnRetry(ctx context.Context, event Event)
}

type hooks []Hook

func (h hooks) start(ctx context.Context, event Event) {
	for _, hook := range h {
		hook.OnStart(ctx, event)
	}
}

func (h hooks) success(ctx context.Context, event Event) {
	for _, hook := range h {
		hook.OnSuccess(ctx, event)
	}
}

func (h hooks) failure(ctx context.Context, event Event) {
	for _, hook := range h {
		hook.OnFailure(ctx, event)
	}
}

func (h hooks) retry(ctx context.Context, event Event) {
	for _, hook := range h {
		hook.OnRetry(ctx, event)
	}
}
