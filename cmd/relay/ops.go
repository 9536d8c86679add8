package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	relaycommand "github.com/goliatone/go-relay/command"
	"github.com/goliatone/go-relay/core"
	relayquery "github.com/goliatone/go-relay/query"
	"github.com/spf13/cobra"
)

func writeJSON(out io.Writer, value any) error {
	encoded, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(encoded))
	return err
}

func newMigrateCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the relay schema migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := openRuntime(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer rt.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "migrations applied (%s)\n", rt.cfg.Database.Driver)
			return nil
		},
	}
}

func newStatsCommand(flags *rootFlags) *cobra.Command {
	var since time.Duration
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print queue counts and delivery statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			rt, err := openRuntime(ctx, flags)
			if err != nil {
				return err
			}
			defer rt.Close()
			facade, err := rt.relay.Facade()
			if err != nil {
				return err
			}
			queue, err := facade.Queries().QueueStats.Query(ctx, relayquery.QueueStatsMessage{})
			if err != nil {
				return err
			}
			deliveries, err := facade.Queries().MetricsStatistics.Query(ctx, relayquery.MetricsStatisticsMessage{
				Since: time.Now().Add(-since),
			})
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]any{"queue": queue, "deliveries": deliveries})
		},
	}
	cmd.Flags().DurationVar(&since, "since", 24*time.Hour, "Statistics window")
	return cmd
}

func newJobsCommand(flags *rootFlags) *cobra.Command {
	jobs := &cobra.Command{Use: "jobs", Short: "Inspect and maintain queued jobs"}

	var status, jobType string
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			rt, err := openRuntime(ctx, flags)
			if err != nil {
				return err
			}
			defer rt.Close()
			facade, err := rt.relay.Facade()
			if err != nil {
				return err
			}
			found, err := facade.Queries().ListJobs.Query(ctx, relayquery.ListJobsMessage{Filter: core.JobFilter{
				Status: core.JobStatus(strings.TrimSpace(status)),
				Type:   strings.TrimSpace(jobType),
				Limit:  limit,
			}})
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), found)
		},
	}
	list.Flags().StringVar(&status, "status", "", "Filter by status (pending|running|completed|failed)")
	list.Flags().StringVar(&jobType, "type", "", "Filter by job type")
	list.Flags().IntVar(&limit, "limit", relayquery.DefaultPageSize, "Max rows")

	retry := &cobra.Command{
		Use:   "retry <job-id>",
		Short: "Reset a failed job to pending",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer rt.Close()
			return relaycommand.NewRetryJobCommand(rt.relay).Execute(cmd.Context(), relaycommand.RetryJobMessage{JobID: args[0]})
		},
	}

	cancel := &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Fail a pending job without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer rt.Close()
			return relaycommand.NewCancelJobCommand(rt.relay).Execute(cmd.Context(), relaycommand.CancelJobMessage{JobID: args[0]})
		},
	}

	var olderThan time.Duration
	cleanup := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete finished jobs and old metric samples",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			rt, err := openRuntime(ctx, flags)
			if err != nil {
				return err
			}
			defer rt.Close()
			cutoff := time.Now().Add(-olderThan)
			removed, err := rt.relay.CleanupJobs(ctx, cutoff)
			if err != nil {
				return err
			}
			purged, err := rt.relay.PurgeMetrics(ctx, cutoff)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]int{"jobs_removed": removed, "samples_purged": purged})
		},
	}
	cleanup.Flags().DurationVar(&olderThan, "older-than", 7*24*time.Hour, "Age cutoff")

	jobs.AddCommand(list, retry, cancel, cleanup)
	return jobs
}

func newSubscriberCommand(flags *rootFlags) *cobra.Command {
	subscribers := &cobra.Command{Use: "subscribers", Short: "Manage outbound webhook subscribers"}

	var id, url, secret string
	var events []string
	add := &cobra.Command{
		Use:   "add",
		Short: "Create or update an active subscriber",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			rt, err := openRuntime(ctx, flags)
			if err != nil {
				return err
			}
			defer rt.Close()
			saved, err := rt.relay.SaveSubscriber(ctx, core.Subscriber{
				ID:         strings.TrimSpace(id),
				URL:        strings.TrimSpace(url),
				Secret:     secret,
				EventTypes: events,
				Active:     true,
			})
			if err != nil {
				return err
			}
			saved.Secret = ""
			return writeJSON(cmd.OutOrStdout(), saved)
		},
	}
	add.Flags().StringVar(&id, "id", "", "Subscriber id, generated when empty")
	add.Flags().StringVar(&url, "url", "", "Delivery URL")
	add.Flags().StringVar(&secret, "secret", "", "Signing secret")
	add.Flags().StringSliceVar(&events, "events", []string{core.WildcardEventType}, "Event types, * for all")

	var eventType string
	list := &cobra.Command{
		Use:   "list",
		Short: "List active subscribers for an event type",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			rt, err := openRuntime(ctx, flags)
			if err != nil {
				return err
			}
			defer rt.Close()
			facade, err := rt.relay.Facade()
			if err != nil {
				return err
			}
			found, err := facade.Queries().ListSubscribers.Query(ctx, relayquery.ListSubscribersMessage{EventType: eventType})
			if err != nil {
				return err
			}
			for index := range found {
				found[index].Secret = ""
			}
			return writeJSON(cmd.OutOrStdout(), found)
		},
	}
	list.Flags().StringVar(&eventType, "event", core.WildcardEventType, "Event type")

	deactivate := &cobra.Command{
		Use:   "deactivate <subscriber-id>",
		Short: "Stop deliveries to a subscriber",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer rt.Close()
			return rt.relay.DeactivateSubscriber(cmd.Context(), args[0])
		},
	}

	test := &cobra.Command{
		Use:   "test <subscriber-id>",
		Short: "Queue a test delivery to one subscriber",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer rt.Close()
			result, err := rt.relay.SendTestWebhook(cmd.Context(), args[0], rt.cfg.ServiceName)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), result)
		},
	}

	subscribers.AddCommand(add, list, deactivate, test)
	return subscribers
}

func newDispatchCommand(flags *rootFlags) *cobra.Command {
	var data string
	cmd := &cobra.Command{
		Use:   "dispatch <event-type>",
		Short: "Queue an event for every matching subscriber",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := map[string]any{}
			if strings.TrimSpace(data) != "" {
				if err := json.Unmarshal([]byte(data), &payload); err != nil {
					return fmt.Errorf("relay: --data must be a JSON object: %w", err)
				}
			}
			rt, err := openRuntime(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer rt.Close()
			result, err := rt.relay.Dispatch(cmd.Context(), args[0], payload, rt.cfg.ServiceName)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), result)
		},
	}
	cmd.Flags().StringVar(&data, "data", "{}", "Event payload as a JSON object")
	return cmd
}
