// Package gocommand exposes relay commands and queries through the
// go-command registry and dispatcher.
package gocommand

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-command"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"
	relay "github.com/goliatone/go-relay"
	relaycommand "github.com/goliatone/go-relay/command"
	"github.com/goliatone/go-relay/core"
	"github.com/goliatone/go-relay/metrics"
	relayquery "github.com/goliatone/go-relay/query"
)

// ValidateMessageContract checks that msg has a non-blank Type() and, when it
// implements Validate(), that validation passes.
func ValidateMessageContract(msg any) error {
	if err := command.ValidateMessage(msg); err != nil {
		return err
	}
	m, ok := msg.(command.Message)
	if !ok {
		return fmt.Errorf("gocommand: message must implement Type() string")
	}
	if strings.TrimSpace(m.Type()) == "" {
		return fmt.Errorf("gocommand: message type is required")
	}
	return nil
}

type RegistryAdapter struct {
	registry *command.Registry
}

func NewRegistryAdapter(registry *command.Registry) *RegistryAdapter {
	if registry == nil {
		registry = command.NewRegistry()
	}
	return &RegistryAdapter{registry: registry}
}

func (a *RegistryAdapter) Registry() *command.Registry {
	if a == nil {
		return nil
	}
	return a.registry
}

func (a *RegistryAdapter) ready() error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return nil
}

func (a *RegistryAdapter) RegisterCommand(cmd any) error {
	if err := a.ready(); err != nil {
		return err
	}
	return a.registry.RegisterCommand(cmd)
}

// RegisterQuery stores a querier; go-command keeps both kinds in one registry.
func (a *RegistryAdapter) RegisterQuery(qry any) error {
	if err := a.ready(); err != nil {
		return err
	}
	return a.registry.RegisterCommand(qry)
}

func (a *RegistryAdapter) AddResolver(key string, resolver command.Resolver) error {
	if err := a.ready(); err != nil {
		return err
	}
	return a.registry.AddResolver(strings.TrimSpace(key), resolver)
}

// AddQueueResolver mirrors registered commands into a go-job queue registry
// so they can be scheduled as background jobs.
func (a *RegistryAdapter) AddQueueResolver(key string, queueRegistry *jobqueuecommand.Registry) error {
	if queueRegistry == nil {
		return fmt.Errorf("gocommand: queue registry is required")
	}
	return a.AddResolver(key, jobqueuecommand.QueueResolver(queueRegistry))
}

func (a *RegistryAdapter) HasResolver(key string) bool {
	if a == nil || a.registry == nil {
		return false
	}
	return a.registry.HasResolver(strings.TrimSpace(key))
}

func (a *RegistryAdapter) Initialize() error {
	if err := a.ready(); err != nil {
		return err
	}
	return a.registry.Initialize()
}

func SubscribeCommand[T any](cmd command.Commander[T], runnerOpts ...runner.Option) commanddispatcher.Subscription {
	return commanddispatcher.SubscribeCommand(cmd, runnerOpts...)
}

func SubscribeQuery[T any, R any](qry command.Querier[T, R], runnerOpts ...runner.Option) commanddispatcher.Subscription {
	return commanddispatcher.SubscribeQuery(qry, runnerOpts...)
}

func Dispatch[T any](ctx context.Context, msg T) error {
	return commanddispatcher.Dispatch(ctx, msg)
}

func Query[T any, R any](ctx context.Context, msg T) (R, error) {
	return commanddispatcher.Query[T, R](ctx, msg)
}

// RegisterAndSubscribe subscribes cmd on the global dispatcher and records it
// in the registry. The subscription is rolled back if registration fails.
func RegisterAndSubscribe[T any](
	adapter *RegistryAdapter,
	cmd command.Commander[T],
	runnerOpts ...runner.Option,
) (commanddispatcher.Subscription, error) {
	if err := adapter.ready(); err != nil {
		return nil, err
	}
	if cmd == nil {
		return nil, fmt.Errorf("gocommand: command is required")
	}
	subscription := SubscribeCommand(cmd, runnerOpts...)
	if err := adapter.RegisterCommand(cmd); err != nil {
		if subscription != nil {
			subscription.Unsubscribe()
		}
		return nil, err
	}
	return subscription, nil
}

func RegisterAndSubscribeQuery[T any, R any](
	adapter *RegistryAdapter,
	qry command.Querier[T, R],
	runnerOpts ...runner.Option,
) (commanddispatcher.Subscription, error) {
	if err := adapter.ready(); err != nil {
		return nil, err
	}
	if qry == nil {
		return nil, fmt.Errorf("gocommand: query is required")
	}
	subscription := SubscribeQuery(qry, runnerOpts...)
	if err := adapter.RegisterQuery(qry); err != nil {
		if subscription != nil {
			subscription.Unsubscribe()
		}
		return nil, err
	}
	return subscription, nil
}

// Subscriptions groups the handles returned by RegisterFacade.
type Subscriptions []commanddispatcher.Subscription

func (s Subscriptions) Unsubscribe() {
	for _, subscription := range s {
		if subscription != nil {
			subscription.Unsubscribe()
		}
	}
}

// RegisterFacade registers and subscribes every relay command and query held
// by facade. On failure the subscriptions made so far are released.
func RegisterFacade(
	adapter *RegistryAdapter,
	facade *relay.Facade,
	runnerOpts ...runner.Option,
) (Subscriptions, error) {
	if err := adapter.ready(); err != nil {
		return nil, err
	}
	if facade == nil {
		return nil, fmt.Errorf("gocommand: relay facade is required")
	}

	var subs Subscriptions
	track := func(subscription commanddispatcher.Subscription, err error) error {
		if err != nil {
			subs.Unsubscribe()
			return err
		}
		subs = append(subs, subscription)
		return nil
	}

	commands := facade.Commands()
	steps := []func() error{
		func() error {
			return track(RegisterAndSubscribe[relaycommand.DispatchEventMessage](adapter, commands.DispatchEvent, runnerOpts...))
		},
		func() error {
			return track(RegisterAndSubscribe[relaycommand.DispatchBatchMessage](adapter, commands.DispatchBatch, runnerOpts...))
		},
		func() error {
			return track(RegisterAndSubscribe[relaycommand.SendTestWebhookMessage](adapter, commands.SendTestWebhook, runnerOpts...))
		},
		func() error {
			return track(RegisterAndSubscribe[relaycommand.ReceiveInboundMessage](adapter, commands.ReceiveInbound, runnerOpts...))
		},
		func() error {
			return track(RegisterAndSubscribe[relaycommand.ProcessInboundEventMessage](adapter, commands.ProcessInboundEvent, runnerOpts...))
		},
		func() error {
			return track(RegisterAndSubscribe[relaycommand.RetryJobMessage](adapter, commands.RetryJob, runnerOpts...))
		},
		func() error {
			return track(RegisterAndSubscribe[relaycommand.CancelJobMessage](adapter, commands.CancelJob, runnerOpts...))
		},
		func() error {
			return track(RegisterAndSubscribe[relaycommand.CleanupJobsMessage](adapter, commands.CleanupJobs, runnerOpts...))
		},
		func() error {
			return track(RegisterAndSubscribe[relaycommand.PurgeMetricsMessage](adapter, commands.PurgeMetrics, runnerOpts...))
		},
		func() error {
			return track(RegisterAndSubscribe[relaycommand.SaveSubscriberMessage](adapter, commands.SaveSubscriber, runnerOpts...))
		},
		func() error {
			return track(RegisterAndSubscribe[relaycommand.DeactivateSubscriberMessage](adapter, commands.DeactivateSubscriber, runnerOpts...))
		},
	}

	queries := facade.Queries()
	steps = append(steps,
		func() error {
			return track(RegisterAndSubscribeQuery[relayquery.GetJobMessage, core.Job](adapter, queries.GetJob, runnerOpts...))
		},
		func() error {
			return track(RegisterAndSubscribeQuery[relayquery.ListJobsMessage, []core.Job](adapter, queries.ListJobs, runnerOpts...))
		},
		func() error {
			return track(RegisterAndSubscribeQuery[relayquery.QueueStatsMessage, core.JobStats](adapter, queries.QueueStats, runnerOpts...))
		},
		func() error {
			return track(RegisterAndSubscribeQuery[relayquery.GetDeliveryLogMessage, core.DeliveryLogEntry](adapter, queries.GetDeliveryLog, runnerOpts...))
		},
		func() error {
			return track(RegisterAndSubscribeQuery[relayquery.ListDeliveryLogsMessage, []core.DeliveryLogEntry](adapter, queries.ListDeliveryLogs, runnerOpts...))
		},
		func() error {
			return track(RegisterAndSubscribeQuery[relayquery.GetSubscriberMessage, core.Subscriber](adapter, queries.GetSubscriber, runnerOpts...))
		},
		func() error {
			return track(RegisterAndSubscribeQuery[relayquery.ListSubscribersMessage, []core.Subscriber](adapter, queries.ListSubscribers, runnerOpts...))
		},
		func() error {
			return track(RegisterAndSubscribeQuery[relayquery.MetricsStatisticsMessage, metrics.Statistics](adapter, queries.MetricsStatistics, runnerOpts...))
		},
		func() error {
			return track(RegisterAndSubscribeQuery[relayquery.ExportMetricsMessage, string](adapter, queries.ExportMetrics, runnerOpts...))
		},
	)

	for _, step := range steps {
		if err := step(); err != nil {
			return nil, err
		}
	}
	return subs, nil
}
