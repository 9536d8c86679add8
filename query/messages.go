package query

import (
	"strings"
	"time"

	"github.com/goliatone/go-relay/core"
)

const (
	TypeGetJob            = "relay.query.job.get"
	TypeListJobs          = "relay.query.job.list"
	TypeQueueStats        = "relay.query.queue.stats"
	TypeGetDeliveryLog    = "relay.query.delivery_log.get"
	TypeListDeliveryLogs  = "relay.query.delivery_log.list"
	TypeGetSubscriber     = "relay.query.subscriber.get"
	TypeListSubscribers   = "relay.query.subscriber.list"
	TypeMetricsStatistics = "relay.query.metrics.statistics"
	TypeExportMetrics     = "relay.query.metrics.export"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

type GetJobMessage struct {
	JobID string
}

func (GetJobMessage) Type() string { return TypeGetJob }

func (m GetJobMessage) Validate() error {
	if strings.TrimSpace(m.JobID) == "" {
		return queryValidationError("job_id", "job id is required")
	}
	return nil
}

type ListJobsMessage struct {
	Filter core.JobFilter
}

func (ListJobsMessage) Type() string { return TypeListJobs }

func (m ListJobsMessage) Validate() error {
	if m.Filter.Status != "" && !m.Filter.Status.Valid() {
		return queryValidationError("status", "unknown job status")
	}
	if m.Filter.Offset < 0 {
		return queryValidationError("offset", "offset must not be negative")
	}
	return nil
}

type QueueStatsMessage struct{}

func (QueueStatsMessage) Type() string { return TypeQueueStats }

func (QueueStatsMessage) Validate() error { return nil }

type GetDeliveryLogMessage struct {
	LogID string
}

func (GetDeliveryLogMessage) Type() string { return TypeGetDeliveryLog }

func (m GetDeliveryLogMessage) Validate() error {
	if strings.TrimSpace(m.LogID) == "" {
		return queryValidationError("log_id", "delivery log id is required")
	}
	return nil
}

type ListDeliveryLogsMessage struct {
	Filter core.DeliveryLogFilter
}

func (ListDeliveryLogsMessage) Type() string { return TypeListDeliveryLogs }

func (m ListDeliveryLogsMessage) Validate() error {
	if m.Filter.Offset < 0 {
		return queryValidationError("offset", "offset must not be negative")
	}
	return nil
}

type GetSubscriberMessage struct {
	SubscriberID string
}

func (GetSubscriberMessage) Type() string { return TypeGetSubscriber }

func (m GetSubscriberMessage) Validate() error {
	if strings.TrimSpace(m.SubscriberID) == "" {
		return queryValidationError("subscriber_id", "subscriber id is required")
	}
	return nil
}

// ListSubscribersMessage lists active subscribers accepting EventType.
type ListSubscribersMessage struct {
	EventType string
}

func (ListSubscribersMessage) Type() string { return TypeListSubscribers }

func (m ListSubscribersMessage) Validate() error {
	if strings.TrimSpace(m.EventType) == "" {
		return queryValidationError("event_type", "event type is required")
	}
	return nil
}

type MetricsStatisticsMessage struct {
	Since time.Time
}

func (MetricsStatisticsMessage) Type() string { return TypeMetricsStatistics }

func (MetricsStatisticsMessage) Validate() error { return nil }

type ExportMetricsMessage struct {
	Since time.Time
}

func (ExportMetricsMessage) Type() string { return TypeExportMetrics }

func (ExportMetricsMessage) Validate() error { return nil }
