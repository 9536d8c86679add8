package query

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-relay/core"
	"github.com/goliatone/go-relay/metrics"
)

var (
	_ gocmd.Querier[GetJobMessage, core.Job]                          = (*GetJobQuery)(nil)
	_ gocmd.Querier[ListJobsMessage, []core.Job]                      = (*ListJobsQuery)(nil)
	_ gocmd.Querier[QueueStatsMessage, core.JobStats]                 = (*QueueStatsQuery)(nil)
	_ gocmd.Querier[GetDeliveryLogMessage, core.DeliveryLogEntry]     = (*GetDeliveryLogQuery)(nil)
	_ gocmd.Querier[ListDeliveryLogsMessage, []core.DeliveryLogEntry] = (*ListDeliveryLogsQuery)(nil)
	_ gocmd.Querier[GetSubscriberMessage, core.Subscriber]            = (*GetSubscriberQuery)(nil)
	_ gocmd.Querier[ListSubscribersMessage, []core.Subscriber]        = (*ListSubscribersQuery)(nil)
	_ gocmd.Querier[MetricsStatisticsMessage, metrics.Statistics]     = (*MetricsStatisticsQuery)(nil)
	_ gocmd.Querier[ExportMetricsMessage, string]                     = (*ExportMetricsQuery)(nil)
	_ JobReader                                                       = core.JobQueue(nil)
	_ DeliveryLogReader                                               = core.DeliveryLogStore(nil)
	_ MetricsReader                                                   = (*metrics.Store)(nil)
)
