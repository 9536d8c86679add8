package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
)

// Telemetry bundles the logger and metrics recorder each component reports
// through. The zero value is safe and discards everything.
type Telemetry struct {
	Logger  Logger
	Metrics MetricsRecorder
	Prefix  string
}

func NewTelemetry(logger Logger, metrics MetricsRecorder, prefix string) Telemetry {
	if metrics == nil {
		metrics = NopMetricsRecorder{}
	}
	return Telemetry{
		Logger:  glog.Ensure(logger),
		Metrics: metrics,
		Prefix:  strings.TrimSpace(prefix),
	}
}

// ObserveOperation records <prefix>.<operation>.total and .duration_ms and
// logs the outcome.
func (t Telemetry) ObserveOperation(
	ctx context.Context,
	startedAt time.Time,
	operation string,
	err error,
	fields map[string]any,
) {
	operation = normalizeOperation(operation)
	if operation == "" {
		operation = "unknown"
	}
	status := "success"
	if err != nil {
		status = "failure"
	}

	elapsed := time.Since(startedAt)
	contextFields := cloneFields(fields)
	contextFields["operation"] = operation
	contextFields["status"] = status
	contextFields["duration_ms"] = elapsed.Milliseconds()
	if err != nil {
		contextFields["error"] = err.Error()
		enrichErrorFields(contextFields, err)
	}

	tags := map[string]string{
		"operation": operation,
		"status":    status,
	}
	for _, key := range []string{"event_type", "job_type"} {
		if value := strings.TrimSpace(fmt.Sprint(contextFields[key])); value != "" && value != "<nil>" {
			tags[key] = value
		}
	}

	name := operation
	if t.Prefix != "" {
		name = t.Prefix + "." + operation
	}
	t.Counter(ctx, name+".total", 1, tags)
	t.Histogram(ctx, name+".duration_ms", float64(elapsed.Milliseconds()), tags)

	if err != nil {
		t.Error(ctx, operation+" failed", contextFields)
		return
	}
	t.Debug(ctx, operation+" succeeded", contextFields)
}

func (t Telemetry) Debug(ctx context.Context, message string, fields map[string]any) {
	t.log(ctx, "debug", message, fields)
}

func (t Telemetry) Info(ctx context.Context, message string, fields map[string]any) {
	t.log(ctx, "info", message, fields)
}

func (t Telemetry) Warn(ctx context.Context, message string, fields map[string]any) {
	t.log(ctx, "warn", message, fields)
}

func (t Telemetry) Error(ctx context.Context, message string, fields map[string]any) {
	t.log(ctx, "error", message, fields)
}

func (t Telemetry) Counter(ctx context.Context, name string, value int64, tags map[string]string) {
	if t.Metrics == nil {
		return
	}
	t.Metrics.IncCounter(ctx, strings.TrimSpace(name), value, CloneTags(tags))
}

func (t Telemetry) Histogram(ctx context.Context, name string, value float64, tags map[string]string) {
	if t.Metrics == nil {
		return
	}
	t.Metrics.ObserveHistogram(ctx, strings.TrimSpace(name), value, CloneTags(tags))
}

func (t Telemetry) Gauge(ctx context.Context, name string, value float64, tags map[string]string) {
	if t.Metrics == nil {
		return
	}
	t.Metrics.SetGauge(ctx, strings.TrimSpace(name), value, CloneTags(tags))
}

func (t Telemetry) log(ctx context.Context, level string, message string, fields map[string]any) {
	if t.Logger == nil {
		return
	}
	logger := t.Logger
	if ctx != nil {
		logger = logger.WithContext(ctx)
	}
	if fieldsLogger, ok := logger.(FieldsLogger); ok {
		logger = fieldsLogger.WithFields(cloneFields(fields))
	}
	args := flattenFields(fields)
	switch level {
	case "error":
		logger.Error(message, args...)
	case "warn":
		logger.Warn(message, args...)
	case "debug":
		logger.Debug(message, args...)
	default:
		logger.Info(message, args...)
	}
}

func enrichErrorFields(fields map[string]any, err error) {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return
	}
	fields["error_category"] = fmt.Sprint(richErr.Category)
	if richErr.TextCode != "" {
		fields["error_text_code"] = richErr.TextCode
	}
	if richErr.Code != 0 {
		fields["error_code"] = richErr.Code
	}
	for _, key := range []string{"event_id", "job_id", "subscriber_id"} {
		if value, ok := richErr.Metadata[key]; ok {
			fields[key] = value
		}
	}
}

func cloneFields(fields map[string]any) map[string]any {
	if len(fields) == 0 {
		return map[string]any{}
	}
	copied := make(map[string]any, len(fields))
	for key, value := range fields {
		copied[key] = value
	}
	return copied
}

func flattenFields(fields map[string]any) []any {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	args := make([]any, 0, len(keys)*2)
	for _, key := range keys {
		args = append(args, key, fields[key])
	}
	return args
}

func normalizeOperation(operation string) string {
	operation = strings.TrimSpace(strings.ToLower(operation))
	operation = strings.ReplaceAll(operation, " ", "_")
	operation = strings.ReplaceAll(operation, "-", "_")
	return operation
}
