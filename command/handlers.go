package command

import (
	"context"
	"time"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-relay/core"
	"github.com/goliatone/go-relay/inbound"
	"github.com/goliatone/go-relay/webhooks"
)

// MutatingService is the write side of the relay: fan-out, inbound intake,
// queue maintenance and subscriber management.
type MutatingService interface {
	Dispatch(ctx context.Context, eventType string, payload map[string]any, senderID string) (webhooks.DispatchResult, error)
	DispatchBatch(ctx context.Context, requests []webhooks.DispatchRequest) ([]webhooks.BatchDispatchItem, error)
	SendTestWebhook(ctx context.Context, subscriberID string, senderID string) (webhooks.DispatchResult, error)
	HandleInbound(ctx context.Context, req inbound.InboundRequest) (inbound.InboundAck, error)
	ProcessEvent(ctx context.Context, event inbound.NormalizedEvent) (inbound.ProcessResult, error)
	RetryJob(ctx context.Context, jobID string) error
	CancelJob(ctx context.Context, jobID string) error
	CleanupJobs(ctx context.Context, olderThan time.Time) (int, error)
	PurgeMetrics(ctx context.Context, olderThan time.Time) (int, error)
	SaveSubscriber(ctx context.Context, subscriber core.Subscriber) (core.Subscriber, error)
	DeactivateSubscriber(ctx context.Context, subscriberID string) error
}

type DispatchEventCommand struct {
	service MutatingService
}

func NewDispatchEventCommand(service MutatingService) *DispatchEventCommand {
	return &DispatchEventCommand{service: service}
}

func (c *DispatchEventCommand) Execute(ctx context.Context, msg DispatchEventMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: dispatch service is required")
	}
	out, err := c.service.Dispatch(ctx, msg.EventType, msg.Payload, msg.SenderID)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type DispatchBatchCommand struct {
	service MutatingService
}

func NewDispatchBatchCommand(service MutatingService) *DispatchBatchCommand {
	return &DispatchBatchCommand{service: service}
}

func (c *DispatchBatchCommand) Execute(ctx context.Context, msg DispatchBatchMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: dispatch batch service is required")
	}
	out, err := c.service.DispatchBatch(ctx, msg.Requests)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type SendTestWebhookCommand struct {
	service MutatingService
}

func NewSendTestWebhookCommand(service MutatingService) *SendTestWebhookCommand {
	return &SendTestWebhookCommand{service: service}
}

func (c *SendTestWebhookCommand) Execute(ctx context.Context, msg SendTestWebhookMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: test webhook service is required")
	}
	out, err := c.service.SendTestWebhook(ctx, msg.SubscriberID, msg.SenderID)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type ReceiveInboundCommand struct {
	service MutatingService
}

func NewReceiveInboundCommand(service MutatingService) *ReceiveInboundCommand {
	return &ReceiveInboundCommand{service: service}
}

func (c *ReceiveInboundCommand) Execute(ctx context.Context, msg ReceiveInboundMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: inbound service is required")
	}
	out, err := c.service.HandleInbound(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type ProcessInboundEventCommand struct {
	service MutatingService
}

func NewProcessInboundEventCommand(service MutatingService) *ProcessInboundEventCommand {
	return &ProcessInboundEventCommand{service: service}
}

func (c *ProcessInboundEventCommand) Execute(ctx context.Context, msg ProcessInboundEventMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: event processing service is required")
	}
	out, err := c.service.ProcessEvent(ctx, msg.Event)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type RetryJobCommand struct {
	service MutatingService
}

func NewRetryJobCommand(service MutatingService) *RetryJobCommand {
	return &RetryJobCommand{service: service}
}

func (c *RetryJobCommand) Execute(ctx context.Context, msg RetryJobMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: job retry service is required")
	}
	return c.service.RetryJob(ctx, msg.JobID)
}

type CancelJobCommand struct {
	service MutatingService
}

func NewCancelJobCommand(service MutatingService) *CancelJobCommand {
	return &CancelJobCommand{service: service}
}

func (c *CancelJobCommand) Execute(ctx context.Context, msg CancelJobMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: job cancel service is required")
	}
	return c.service.CancelJob(ctx, msg.JobID)
}

type CleanupJobsCommand struct {
	service MutatingService
}

func NewCleanupJobsCommand(service MutatingService) *CleanupJobsCommand {
	return &CleanupJobsCommand{service: service}
}

func (c *CleanupJobsCommand) Execute(ctx context.Context, msg CleanupJobsMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: job cleanup service is required")
	}
	out, err := c.service.CleanupJobs(ctx, msg.OlderThan)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type PurgeMetricsCommand struct {
	service MutatingService
}

func NewPurgeMetricsCommand(service MutatingService) *PurgeMetricsCommand {
	return &PurgeMetricsCommand{service: service}
}

func (c *PurgeMetricsCommand) Execute(ctx context.Context, msg PurgeMetricsMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: metrics purge service is required")
	}
	out, err := c.service.PurgeMetrics(ctx, msg.OlderThan)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type SaveSubscriberCommand struct {
	service MutatingService
}

func NewSaveSubscriberCommand(service MutatingService) *SaveSubscriberCommand {
	return &SaveSubscriberCommand{service: service}
}

func (c *SaveSubscriberCommand) Execute(ctx context.Context, msg SaveSubscriberMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: subscriber service is required")
	}
	out, err := c.service.SaveSubscriber(ctx, msg.Subscriber)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type DeactivateSubscriberCommand struct {
	service MutatingService
}

func NewDeactivateSubscriberCommand(service MutatingService) *DeactivateSubscriberCommand {
	return &DeactivateSubscriberCommand{service: service}
}

func (c *DeactivateSubscriberCommand) Execute(ctx context.Context, msg DeactivateSubscriberMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: subscriber service is required")
	}
	return c.service.DeactivateSubscriber(ctx, msg.SubscriberID)
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
