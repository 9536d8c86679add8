package worker

import (
	"context"
	"errors"
	"time"

	"github.com/goliatone/go-relay/core"
)

const DefaultSweepInterval = 30 * time.Second

type MetricsPurger interface {
	Purge(ctx context.Context, olderThan time.Time) (int, error)
}

// Janitor publishes the queue depth gauge and enforces job and metric
// retention on every sweep.
type Janitor struct {
	Queue            core.JobQueue
	Metrics          MetricsPurger
	JobRetention     time.Duration
	MetricsRetention time.Duration
	Interval         time.Duration
	Telemetry        core.Telemetry
	Now              func() time.Time
}

type SweepResult struct {
	QueueDepth    int `json:"queue_depth"`
	JobsRemoved   int `json:"jobs_removed"`
	SamplesPurged int `json:"samples_purged"`
}

func (j *Janitor) Run(ctx context.Context) {
	if j == nil || j.Queue == nil {
		return
	}
	interval := j.Interval
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := j.Sweep(ctx); err != nil && ctx.Err() == nil {
				j.Telemetry.Error(ctx, "janitor: sweep failed", map[string]any{"error": err.Error()})
			}
		}
	}
}

func (j *Janitor) Sweep(ctx context.Context) (SweepResult, error) {
	var result SweepResult
	if j == nil || j.Queue == nil {
		return result, errors.New("worker: janitor requires a queue")
	}
	now := time.Now().UTC()
	if j.Now != nil {
		now = j.Now()
	}

	var errs []error
	stats, err := j.Queue.Stats(ctx)
	if err != nil {
		errs = append(errs, err)
	} else {
		result.QueueDepth = stats.Pending
		j.Telemetry.Gauge(ctx, core.MetricQueueDepth, float64(stats.Pending), nil)
	}
	if j.JobRetention > 0 {
		removed, err := j.Queue.Cleanup(ctx, now.Add(-j.JobRetention))
		if err != nil {
			errs = append(errs, err)
		}
		result.JobsRemoved = removed
	}
	if j.Metrics != nil && j.MetricsRetention > 0 {
		purged, err := j.Metrics.Purge(ctx, now.Add(-j.MetricsRetention))
		if err != nil {
			errs = append(errs, err)
		}
		result.SamplesPurged = purged
	}
	if result.JobsRemoved > 0 || result.SamplesPurged > 0 {
		j.Telemetry.Info(ctx, "janitor: retention applied", map[string]any{
			"jobs_removed":   result.JobsRemoved,
			"samples_purged": result.SamplesPurged,
		})
	}
	return result, errors.Join(errs...)
}
