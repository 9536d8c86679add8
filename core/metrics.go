package core

import "context"

type NopMetricsRecorder struct{}

func (NopMetricsRecorder) IncCounter(context.Context, string, int64, map[string]string) {}

func (NopMetricsRecorder) ObserveHistogram(context.Context, string, float64, map[string]string) {}

func (NopMetricsRecorder) SetGauge(context.Context, string, float64, map[string]string) {}

// Metric names shared by the delivery, inbound and worker paths.
const (
	MetricDeliveriesTotal  = "webhook_deliveries_total"
	MetricDeliveryDuration = "webhook_delivery_duration_seconds"
	MetricRetryCount       = "webhook_retry_count"
	MetricQueueDepth       = "webhook_queue_depth"
	MetricInboundTotal     = "webhook_inbound_total"
)

var _ MetricsRecorder = NopMetricsRecorder{}
