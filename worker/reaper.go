package worker

import (
	"context"
	"time"

	"github.com/goliatone/go-relay/core"
)

const DefaultReapInterval = 30 * time.Second

// Reaper returns jobs whose lock outlived LockTimeout to pending. A zero
// LockTimeout disables it.
type Reaper struct {
	Reclaimer   core.JobReclaimer
	LockTimeout time.Duration
	Interval    time.Duration
	Telemetry   core.Telemetry
	Now         func() time.Time
}

func NewReaper(reclaimer core.JobReclaimer, lockTimeout time.Duration, telemetry core.Telemetry) *Reaper {
	return &Reaper{
		Reclaimer:   reclaimer,
		LockTimeout: lockTimeout,
		Interval:    DefaultReapInterval,
		Telemetry:   telemetry,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (r *Reaper) Enabled() bool {
	return r != nil && r.Reclaimer != nil && r.LockTimeout > 0
}

func (r *Reaper) Run(ctx context.Context) {
	if !r.Enabled() {
		return
	}
	interval := r.Interval
	if interval <= 0 {
		interval = DefaultReapInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.ReapOnce(ctx); err != nil && ctx.Err() == nil {
				r.Telemetry.Error(ctx, "reaper: reclaim failed", map[string]any{"error": err.Error()})
			}
		}
	}
}

func (r *Reaper) ReapOnce(ctx context.Context) (int, error) {
	if !r.Enabled() {
		return 0, nil
	}
	now := time.Now().UTC()
	if r.Now != nil {
		now = r.Now()
	}
	reclaimed, err := r.Reclaimer.ReclaimStale(ctx, now.Add(-r.LockTimeout))
	if err != nil {
		return 0, err
	}
	if reclaimed > 0 {
		r.Telemetry.Warn(ctx, "reaper: reclaimed stale jobs", map[string]any{
			"reclaimed":    reclaimed,
			"lock_timeout": r.LockTimeout.String(),
		})
	}
	return reclaimed, nil
}
