// Package relaytest provides capture loggers, metrics recorders and clocks
// for package tests.
package relaytest

import (
	"context"
	"sync"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type CapturedLog struct {
	Level   string
	Message string
	Fields  map[string]any
}

type CaptureLogger struct {
	mu       *sync.Mutex
	records  *[]CapturedLog
	defaults map[string]any
}

func NewCaptureLogger() *CaptureLogger {
	records := []CapturedLog{}
	return &CaptureLogger{mu: &sync.Mutex{}, records: &records, defaults: map[string]any{}}
}

func (l *CaptureLogger) WithFields(fields map[string]any) glog.Logger {
	merged := cloneFieldMap(l.defaults)
	for key, value := range fields {
		merged[key] = value
	}
	return &CaptureLogger{mu: l.mu, records: l.records, defaults: merged}
}

func (l *CaptureLogger) Trace(msg string, args ...any) { l.record("trace", msg, args...) }
func (l *CaptureLogger) Debug(msg string, args ...any) { l.record("debug", msg, args...) }
func (l *CaptureLogger) Info(msg string, args ...any)  { l.record("info", msg, args...) }
func (l *CaptureLogger) Warn(msg string, args ...any)  { l.record("warn", msg, args...) }
func (l *CaptureLogger) Error(msg string, args ...any) { l.record("error", msg, args...) }
func (l *CaptureLogger) Fatal(msg string, args ...any) { l.record("fatal", msg, args...) }

func (l *CaptureLogger) WithContext(context.Context) glog.Logger {
	return &CaptureLogger{mu: l.mu, records: l.records, defaults: cloneFieldMap(l.defaults)}
}

func (l *CaptureLogger) record(level string, msg string, args ...any) {
	fields := cloneFieldMap(l.defaults)
	for index := 0; index+1 < len(args); index += 2 {
		key, ok := args[index].(string)
		if !ok {
			continue
		}
		fields[key] = args[index+1]
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	*l.records = append(*l.records, CapturedLog{Level: level, Message: msg, Fields: fields})
}

func (l *CaptureLogger) Snapshot() []CapturedLog {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]CapturedLog, len(*l.records))
	copy(out, *l.records)
	return out
}

// HasLog reports whether a record with level and message was captured.
func (l *CaptureLogger) HasLog(level string, message string) bool {
	for _, item := range l.Snapshot() {
		if item.Level == level && item.Message == message {
			return true
		}
	}
	return false
}

type LoggerProvider struct {
	Logger glog.Logger
}

func (p LoggerProvider) GetLogger(string) glog.Logger {
	return p.Logger
}

type CapturedMetric struct {
	Kind  string
	Name  string
	Value float64
	Tags  map[string]string
}

type CaptureMetrics struct {
	mu      sync.Mutex
	samples []CapturedMetric
}

func (m *CaptureMetrics) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	m.add("counter", name, float64(value), tags)
}

func (m *CaptureMetrics) ObserveHistogram(_ context.Context, name string, value float64, tags map[string]string) {
	m.add("histogram", name, value, tags)
}

func (m *CaptureMetrics) SetGauge(_ context.Context, name string, value float64, tags map[string]string) {
	m.add("gauge", name, value, tags)
}

func (m *CaptureMetrics) add(kind string, name string, value float64, tags map[string]string) {
	copied := make(map[string]string, len(tags))
	for key, v := range tags {
		copied[key] = v
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = append(m.samples, CapturedMetric{Kind: kind, Name: name, Value: value, Tags: copied})
}

func (m *CaptureMetrics) Snapshot() []CapturedMetric {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]CapturedMetric, len(m.samples))
	copy(out, m.samples)
	return out
}

// Find returns captured samples of kind and name whose tags include match.
func (m *CaptureMetrics) Find(kind string, name string, match map[string]string) []CapturedMetric {
	var out []CapturedMetric
	for _, sample := range m.Snapshot() {
		if sample.Kind != kind || sample.Name != name {
			continue
		}
		matched := true
		for key, value := range match {
			if sample.Tags[key] != value {
				matched = false
				break
			}
		}
		if matched {
			out = append(out, sample)
		}
	}
	return out
}

// Clock is a settable clock safe for concurrent use.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(now time.Time) *Clock {
	return &Clock{now: now.UTC()}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *Clock) Set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now.UTC()
}

func cloneFieldMap(input map[string]any) map[string]any {
	if len(input) == 0 {
		return map[string]any{}
	}
	output := make(map[string]any, len(input))
	for key, value := range input {
		output[key] = value
	}
	return output
}

var (
	_ glog.Logger         = (*CaptureLogger)(nil)
	_ glog.FieldsLogger   = (*CaptureLogger)(nil)
	_ glog.LoggerProvider = LoggerProvider{}
)
