package command

import (
	"strings"
	"time"

	"github.com/goliatone/go-relay/core"
	"github.com/goliatone/go-relay/inbound"
	"github.com/goliatone/go-relay/webhooks"
)

const (
	TypeDispatchEvent        = "relay.command.event.dispatch"
	TypeDispatchBatch        = "relay.command.event.dispatch_batch"
	TypeSendTestWebhook      = "relay.command.webhook.send_test"
	TypeReceiveInbound       = "relay.command.inbound.receive"
	TypeProcessInboundEvent  = "relay.command.inbound.process"
	TypeRetryJob             = "relay.command.job.retry"
	TypeCancelJob            = "relay.command.job.cancel"
	TypeCleanupJobs          = "relay.command.job.cleanup"
	TypePurgeMetrics         = "relay.command.metrics.purge"
	TypeSaveSubscriber       = "relay.command.subscriber.save"
	TypeDeactivateSubscriber = "relay.command.subscriber.deactivate"
)

type DispatchEventMessage struct {
	EventType string
	Payload   map[string]any
	SenderID  string
}

func (DispatchEventMessage) Type() string { return TypeDispatchEvent }

func (m DispatchEventMessage) Validate() error {
	if strings.TrimSpace(m.EventType) == "" {
		return commandValidationError("event_type", "event type is required")
	}
	if m.Payload == nil {
		return commandValidationError("payload", "payload is required")
	}
	return nil
}

type DispatchBatchMessage struct {
	Requests []webhooks.DispatchRequest
}

func (DispatchBatchMessage) Type() string { return TypeDispatchBatch }

// Validate only rejects an empty batch; per entry problems are reported in
// the batch result.
func (m DispatchBatchMessage) Validate() error {
	if len(m.Requests) == 0 {
		return commandValidationError("requests", "at least one request is required")
	}
	return nil
}

type SendTestWebhookMessage struct {
	SubscriberID string
	SenderID     string
}

func (SendTestWebhookMessage) Type() string { return TypeSendTestWebhook }

func (m SendTestWebhookMessage) Validate() error {
	if strings.TrimSpace(m.SubscriberID) == "" {
		return commandValidationError("subscriber_id", "subscriber id is required")
	}
	return nil
}

type ReceiveInboundMessage struct {
	Request inbound.InboundRequest
}

func (ReceiveInboundMessage) Type() string { return TypeReceiveInbound }

func (m ReceiveInboundMessage) Validate() error {
	if len(m.Request.Body) == 0 {
		return commandValidationError("body", "request body is required")
	}
	return nil
}

type ProcessInboundEventMessage struct {
	Event inbound.NormalizedEvent
}

func (ProcessInboundEventMessage) Type() string { return TypeProcessInboundEvent }

func (m ProcessInboundEventMessage) Validate() error {
	if strings.TrimSpace(m.Event.EventID) == "" {
		return commandValidationError("event_id", "event id is required")
	}
	if strings.TrimSpace(m.Event.EventType) == "" {
		return commandValidationError("event_type", "event type is required")
	}
	return nil
}

type RetryJobMessage struct {
	JobID string
}

func (RetryJobMessage) Type() string { return TypeRetryJob }

func (m RetryJobMessage) Validate() error {
	return validateJobID(m.JobID)
}

type CancelJobMessage struct {
	JobID string
}

func (CancelJobMessage) Type() string { return TypeCancelJob }

func (m CancelJobMessage) Validate() error {
	return validateJobID(m.JobID)
}

type CleanupJobsMessage struct {
	OlderThan time.Time
}

func (CleanupJobsMessage) Type() string { return TypeCleanupJobs }

func (m CleanupJobsMessage) Validate() error {
	if m.OlderThan.IsZero() {
		return commandValidationError("older_than", "cutoff is required")
	}
	return nil
}

type PurgeMetricsMessage struct {
	OlderThan time.Time
}

func (PurgeMetricsMessage) Type() string { return TypePurgeMetrics }

func (m PurgeMetricsMessage) Validate() error {
	if m.OlderThan.IsZero() {
		return commandValidationError("older_than", "cutoff is required")
	}
	return nil
}

type SaveSubscriberMessage struct {
	Subscriber core.Subscriber
}

func (SaveSubscriberMessage) Type() string { return TypeSaveSubscriber }

func (m SaveSubscriberMessage) Validate() error {
	return commandWrapValidation(m.Subscriber.Validate(), "command: invalid subscriber")
}

type DeactivateSubscriberMessage struct {
	SubscriberID string
}

func (DeactivateSubscriberMessage) Type() string { return TypeDeactivateSubscriber }

func (m DeactivateSubscriberMessage) Validate() error {
	if strings.TrimSpace(m.SubscriberID) == "" {
		return commandValidationError("subscriber_id", "subscriber id is required")
	}
	return nil
}

func validateJobID(jobID string) error {
	if strings.TrimSpace(jobID) == "" {
		return commandValidationError("job_id", "job id is required")
	}
	return nil
}
