package relay

import (
	"fmt"

	relaycommand "github.com/goliatone/go-relay/command"
	relayquery "github.com/goliatone/go-relay/query"
)

// CommandQueryService is what the facade needs from a relay: the write side
// plus the readers behind each query.
type CommandQueryService interface {
	relaycommand.MutatingService
	JobReader() relayquery.JobReader
	DeliveryLogReader() relayquery.DeliveryLogReader
	SubscriberReader() relayquery.SubscriberReader
	MetricsReader() relayquery.MetricsReader
}

type Commands struct {
	DispatchEvent        *relaycommand.DispatchEventCommand
	DispatchBatch        *relaycommand.DispatchBatchCommand
	SendTestWebhook      *relaycommand.SendTestWebhookCommand
	ReceiveInbound       *relaycommand.ReceiveInboundCommand
	ProcessInboundEvent  *relaycommand.ProcessInboundEventCommand
	RetryJob             *relaycommand.RetryJobCommand
	CancelJob            *relaycommand.CancelJobCommand
	CleanupJobs          *relaycommand.CleanupJobsCommand
	PurgeMetrics         *relaycommand.PurgeMetricsCommand
	SaveSubscriber       *relaycommand.SaveSubscriberCommand
	DeactivateSubscriber *relaycommand.DeactivateSubscriberCommand
}

type Queries struct {
	GetJob            *relayquery.GetJobQuery
	ListJobs          *relayquery.ListJobsQuery
	QueueStats        *relayquery.QueueStatsQuery
	GetDeliveryLog    *relayquery.GetDeliveryLogQuery
	ListDeliveryLogs  *relayquery.ListDeliveryLogsQuery
	GetSubscriber     *relayquery.GetSubscriberQuery
	ListSubscribers   *relayquery.ListSubscribersQuery
	MetricsStatistics *relayquery.MetricsStatisticsQuery
	ExportMetrics     *relayquery.ExportMetricsQuery
}

type Facade struct {
	service  CommandQueryService
	commands Commands
	queries  Queries
}

type FacadeOption func(*facadeOptions)

type facadeOptions struct {
	metricsReader relayquery.MetricsReader
}

// WithMetricsReader overrides the service metrics reader, for example with
// a read replica.
func WithMetricsReader(reader relayquery.MetricsReader) FacadeOption {
	return func(options *facadeOptions) {
		options.metricsReader = reader
	}
}

func NewFacade(service CommandQueryService, opts ...FacadeOption) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("relay: command/query service is required")
	}
	cfg := facadeOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}
	metricsReader := cfg.metricsReader
	if metricsReader == nil {
		metricsReader = service.MetricsReader()
	}
	jobs := service.JobReader()
	logs := service.DeliveryLogReader()
	subscribers := service.SubscriberReader()

	facade := &Facade{service: service}
	facade.commands = Commands{
		DispatchEvent:        relaycommand.NewDispatchEventCommand(service),
		DispatchBatch:        relaycommand.NewDispatchBatchCommand(service),
		SendTestWebhook:      relaycommand.NewSendTestWebhookCommand(service),
		ReceiveInbound:       relaycommand.NewReceiveInboundCommand(service),
		ProcessInboundEvent:  relaycommand.NewProcessInboundEventCommand(service),
		RetryJob:             relaycommand.NewRetryJobCommand(service),
		CancelJob:            relaycommand.NewCancelJobCommand(service),
		CleanupJobs:          relaycommand.NewCleanupJobsCommand(service),
		PurgeMetrics:         relaycommand.NewPurgeMetricsCommand(service),
		SaveSubscriber:       relaycommand.NewSaveSubscriberCommand(service),
		DeactivateSubscriber: relaycommand.NewDeactivateSubscriberCommand(service),
	}
	facade.queries = Queries{
		GetJob:            relayquery.NewGetJobQuery(jobs),
		ListJobs:          relayquery.NewListJobsQuery(jobs),
		QueueStats:        relayquery.NewQueueStatsQuery(jobs),
		GetDeliveryLog:    relayquery.NewGetDeliveryLogQuery(logs),
		ListDeliveryLogs:  relayquery.NewListDeliveryLogsQuery(logs),
		GetSubscriber:     relayquery.NewGetSubscriberQuery(subscribers),
		ListSubscribers:   relayquery.NewListSubscribersQuery(subscribers),
		MetricsStatistics: relayquery.NewMetricsStatisticsQuery(metricsReader),
		ExportMetrics:     relayquery.NewExportMetricsQuery(metricsReader),
	}
	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() CommandQueryService {
	if f == nil {
		return nil
	}
	return f.service
}

func (r *Relay) JobReader() relayquery.JobReader {
	return r.service.JobQueue()
}

func (r *Relay) DeliveryLogReader() relayquery.DeliveryLogReader {
	if logs := r.service.DeliveryLogStore(); logs != nil {
		return logs
	}
	return nil
}

func (r *Relay) SubscriberReader() relayquery.SubscriberReader {
	if registry := r.subscriberRegistry(); registry != nil {
		return registry
	}
	return nil
}

func (r *Relay) MetricsReader() relayquery.MetricsReader {
	if r.metrics == nil {
		return nil
	}
	return r.metrics
}

// Facade builds the command/query facade over r.
func (r *Relay) Facade(opts ...FacadeOption) (*Facade, error) {
	return NewFacade(r, opts...)
}

var _ CommandQueryService = (*Relay)(nil)
