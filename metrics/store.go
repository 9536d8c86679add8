// Package metrics aggregates counters, gauges and histogram observations over
// a core.MetricSampleStore and renders them as Prometheus text.
package metrics

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-relay/core"
)

type Store struct {
	samples core.MetricSampleStore
	logger  core.Logger
	now     func() time.Time
}

type Option func(*Store)

func WithLogger(logger core.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func NewStore(samples core.MetricSampleStore, opts ...Option) (*Store, error) {
	if samples == nil {
		return nil, fmt.Errorf("metrics: sample store is required")
	}
	store := &Store{
		samples: samples,
		logger:  glog.Nop(),
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store, nil
}

// Increment adds one to the counter.
func (s *Store) Increment(ctx context.Context, name string, labels map[string]string) error {
	return s.IncrementCounter(ctx, name, labels, 1)
}

// IncrementCounter adds delta as given. A zero delta still registers the
// series; a negative or non-finite delta is rejected.
func (s *Store) IncrementCounter(ctx context.Context, name string, labels map[string]string, delta float64) error {
	if delta < 0 || math.IsNaN(delta) || math.IsInf(delta, 0) {
		return fmt.Errorf("metrics: counter %s delta must be a finite non-negative number", name)
	}
	sample, err := s.sample(name, core.MetricTypeCounter, labels, delta)
	if err != nil {
		return err
	}
	return s.samples.AddCounter(ctx, sample)
}

func (s *Store) ObserveHistogram(ctx context.Context, name string, value float64, labels map[string]string) error {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return fmt.Errorf("metrics: histogram %s observation must be finite", name)
	}
	sample, err := s.sample(name, core.MetricTypeHistogram, labels, value)
	if err != nil {
		return err
	}
	return s.samples.AppendObservation(ctx, sample)
}

func (s *Store) SetGauge(ctx context.Context, name string, value float64, labels map[string]string) error {
	sample, err := s.sample(name, core.MetricTypeGauge, labels, value)
	if err != nil {
		return err
	}
	return s.samples.SetGauge(ctx, sample)
}

// Purge removes samples recorded before olderThan.
func (s *Store) Purge(ctx context.Context, olderThan time.Time) (int, error) {
	return s.samples.PurgeSamples(ctx, olderThan.UTC())
}

// Recorder adapts the store to core.MetricsRecorder. Write errors are logged
// and dropped so instrumentation never fails the caller.
func (s *Store) Recorder() core.MetricsRecorder {
	return recorder{store: s}
}

func (s *Store) sample(name string, metricType core.MetricType, labels map[string]string, value float64) (core.MetricSample, error) {
	if s == nil || s.samples == nil {
		return core.MetricSample{}, fmt.Errorf("metrics: store is not configured")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return core.MetricSample{}, fmt.Errorf("metrics: metric name is required")
	}
	normalized := normalizeLabels(labels)
	return core.MetricSample{
		Name:      name,
		Type:      metricType,
		Labels:    normalized,
		LabelKey:  LabelKey(normalized),
		Value:     value,
		Timestamp: s.now().UTC(),
	}, nil
}

// LabelKey is the canonical identity of a label set: keys sorted, joined as
// k=v pairs separated by commas.
func LabelKey(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for key := range labels {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, key+"="+labels[key])
	}
	return strings.Join(parts, ",")
}

func normalizeLabels(labels map[string]string) map[string]string {
	out := make(map[string]string, len(labels))
	for key, value := range labels {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		out[key] = strings.TrimSpace(value)
	}
	return out
}

type recorder struct {
	store *Store
}

func (r recorder) IncCounter(ctx context.Context, name string, value int64, tags map[string]string) {
	r.report(ctx, name, r.store.IncrementCounter(ctx, name, tags, float64(value)))
}

func (r recorder) ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string) {
	r.report(ctx, name, r.store.ObserveHistogram(ctx, name, value, tags))
}

func (r recorder) SetGauge(ctx context.Context, name string, value float64, tags map[string]string) {
	r.report(ctx, name, r.store.SetGauge(ctx, name, value, tags))
}

func (r recorder) report(ctx context.Context, name string, err error) {
	if err == nil || r.store == nil || r.store.logger == nil {
		return
	}
	r.store.logger.WithContext(ctx).Warn("metric write failed", "metric", name, "error", err)
}

var _ core.MetricsRecorder = recorder{}
