package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[DispatchEventMessage]        = (*DispatchEventCommand)(nil)
	_ gocmd.Commander[DispatchBatchMessage]        = (*DispatchBatchCommand)(nil)
	_ gocmd.Commander[SendTestWebhookMessage]      = (*SendTestWebhookCommand)(nil)
	_ gocmd.Commander[ReceiveInboundMessage]       = (*ReceiveInboundCommand)(nil)
	_ gocmd.Commander[ProcessInboundEventMessage]  = (*ProcessInboundEventCommand)(nil)
	_ gocmd.Commander[RetryJobMessage]             = (*RetryJobCommand)(nil)
	_ gocmd.Commander[CancelJobMessage]            = (*CancelJobCommand)(nil)
	_ gocmd.Commander[CleanupJobsMessage]          = (*CleanupJobsCommand)(nil)
	_ gocmd.Commander[PurgeMetricsMessage]         = (*PurgeMetricsCommand)(nil)
	_ gocmd.Commander[SaveSubscriberMessage]       = (*SaveSubscriberCommand)(nil)
	_ gocmd.Commander[DeactivateSubscriberMessage] = (*DeactivateSubscriberCommand)(nil)
)
