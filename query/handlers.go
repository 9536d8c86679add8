package query

import (
	"context"
	"time"

	"github.com/goliatone/go-relay/core"
	"github.com/goliatone/go-relay/metrics"
)

// JobReader is the read side of core.JobQueue.
type JobReader interface {
	Get(ctx context.Context, jobID string) (core.Job, error)
	List(ctx context.Context, filter core.JobFilter) ([]core.Job, error)
	Stats(ctx context.Context) (core.JobStats, error)
}

type DeliveryLogReader interface {
	GetDeliveryLog(ctx context.Context, logID string) (core.DeliveryLogEntry, error)
	ListDeliveryLogs(ctx context.Context, filter core.DeliveryLogFilter) ([]core.DeliveryLogEntry, error)
}

type SubscriberReader interface {
	GetSubscriber(ctx context.Context, id string) (core.Subscriber, error)
	ListActiveSubscribers(ctx context.Context, eventType string) ([]core.Subscriber, error)
}

type MetricsReader interface {
	Statistics(ctx context.Context, since time.Time) (metrics.Statistics, error)
	ExportPrometheus(ctx context.Context, since time.Time) (string, error)
}

type GetJobQuery struct {
	reader JobReader
}

func NewGetJobQuery(reader JobReader) *GetJobQuery {
	return &GetJobQuery{reader: reader}
}

func (q *GetJobQuery) Query(ctx context.Context, msg GetJobMessage) (core.Job, error) {
	if q == nil || q.reader == nil {
		return core.Job{}, queryDependencyError("query: job reader is required")
	}
	return q.reader.Get(ctx, msg.JobID)
}

type ListJobsQuery struct {
	reader JobReader
}

func NewListJobsQuery(reader JobReader) *ListJobsQuery {
	return &ListJobsQuery{reader: reader}
}

func (q *ListJobsQuery) Query(ctx context.Context, msg ListJobsMessage) ([]core.Job, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: job reader is required")
	}
	filter := msg.Filter
	filter.Limit = core.ClampLimit(filter.Limit, DefaultPageSize, MaxPageSize)
	return q.reader.List(ctx, filter)
}

type QueueStatsQuery struct {
	reader JobReader
}

func NewQueueStatsQuery(reader JobReader) *QueueStatsQuery {
	return &QueueStatsQuery{reader: reader}
}

func (q *QueueStatsQuery) Query(ctx context.Context, _ QueueStatsMessage) (core.JobStats, error) {
	if q == nil || q.reader == nil {
		return core.JobStats{}, queryDependencyError("query: job reader is required")
	}
	return q.reader.Stats(ctx)
}

type GetDeliveryLogQuery struct {
	reader DeliveryLogReader
}

func NewGetDeliveryLogQuery(reader DeliveryLogReader) *GetDeliveryLogQuery {
	return &GetDeliveryLogQuery{reader: reader}
}

func (q *GetDeliveryLogQuery) Query(ctx context.Context, msg GetDeliveryLogMessage) (core.DeliveryLogEntry, error) {
	if q == nil || q.reader == nil {
		return core.DeliveryLogEntry{}, queryDependencyError("query: delivery log reader is required")
	}
	return q.reader.GetDeliveryLog(ctx, msg.LogID)
}

type ListDeliveryLogsQuery struct {
	reader DeliveryLogReader
}

func NewListDeliveryLogsQuery(reader DeliveryLogReader) *ListDeliveryLogsQuery {
	return &ListDeliveryLogsQuery{reader: reader}
}

func (q *ListDeliveryLogsQuery) Query(ctx context.Context, msg ListDeliveryLogsMessage) ([]core.DeliveryLogEntry, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: delivery log reader is required")
	}
	filter := msg.Filter
	filter.Limit = core.ClampLimit(filter.Limit, DefaultPageSize, MaxPageSize)
	return q.reader.ListDeliveryLogs(ctx, filter)
}

type GetSubscriberQuery struct {
	reader SubscriberReader
}

func NewGetSubscriberQuery(reader SubscriberReader) *GetSubscriberQuery {
	return &GetSubscriberQuery{reader: reader}
}

func (q *GetSubscriberQuery) Query(ctx context.Context, msg GetSubscriberMessage) (core.Subscriber, error) {
	if q == nil || q.reader == nil {
		return core.Subscriber{}, queryDependencyError("query: subscriber reader is required")
	}
	return q.reader.GetSubscriber(ctx, msg.SubscriberID)
}

type ListSubscribersQuery struct {
	reader SubscriberReader
}

func NewListSubscribersQuery(reader SubscriberReader) *ListSubscribersQuery {
	return &ListSubscribersQuery{reader: reader}
}

func (q *ListSubscribersQuery) Query(ctx context.Context, msg ListSubscribersMessage) ([]core.Subscriber, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: subscriber reader is required")
	}
	return q.reader.ListActiveSubscribers(ctx, msg.EventType)
}

type MetricsStatisticsQuery struct {
	reader MetricsReader
}

func NewMetricsStatisticsQuery(reader MetricsReader) *MetricsStatisticsQuery {
	return &MetricsStatisticsQuery{reader: reader}
}

func (q *MetricsStatisticsQuery) Query(ctx context.Context, msg MetricsStatisticsMessage) (metrics.Statistics, error) {
	if q == nil || q.reader == nil {
		return metrics.Statistics{}, queryDependencyError("query: metrics reader is required")
	}
	return q.reader.Statistics(ctx, msg.Since)
}

type ExportMetricsQuery struct {
	reader MetricsReader
}

func NewExportMetricsQuery(reader MetricsReader) *ExportMetricsQuery {
	return &ExportMetricsQuery{reader: reader}
}

func (q *ExportMetricsQuery) Query(ctx context.Context, msg ExportMetricsMessage) (string, error) {
	if q == nil || q.reader == nil {
		return "", queryDependencyError("query: metrics reader is required")
	}
	return q.reader.ExportPrometheus(ctx, msg.Since)
}
