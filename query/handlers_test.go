package query

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/goliatone/go-relay/core"
	"github.com/goliatone/go-relay/metrics"
	memstore "github.com/goliatone/go-relay/store/memory"
)

func TestJobQueries_ReadFromQueue(t *testing.T) {
	ctx := context.Background()
	stores := memstore.NewStores()
	first, err := stores.Queue.Enqueue(ctx, core.EnqueueRequest{Type: core.JobTypeWebhookDelivery, Payload: map[string]any{"n": 1}})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := stores.Queue.Enqueue(ctx, core.EnqueueRequest{Type: core.JobTypeInboundEvent}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	job, err := NewGetJobQuery(stores.Queue).Query(ctx, GetJobMessage{JobID: first})
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Type != core.JobTypeWebhookDelivery || job.Status != core.JobStatusPending {
		t.Fatalf("unexpected job %#v", job)
	}

	jobs, err := NewListJobsQuery(stores.Queue).Query(ctx, ListJobsMessage{Filter: core.JobFilter{Type: core.JobTypeInboundEvent}})
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	if len(jobs) != 1 || jobs[0].Type != core.JobTypeInboundEvent {
		t.Fatalf("expected one inbound job, got %#v", jobs)
	}

	stats, err := NewQueueStatsQuery(stores.Queue).Query(ctx, QueueStatsMessage{})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Pending != 2 {
		t.Fatalf("expected two pending jobs, got %#v", stats)
	}

	if _, err := NewGetJobQuery(stores.Queue).Query(ctx, GetJobMessage{JobID: "missing"}); !errors.Is(err, core.ErrJobNotFound) {
		t.Fatalf("expected job not found, got %v", err)
	}
}

func TestListJobsQuery_ClampsLimit(t *testing.T) {
	reader := &recordingJobReader{}
	if _, err := NewListJobsQuery(reader).Query(context.Background(), ListJobsMessage{}); err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	if reader.filter.Limit != DefaultPageSize {
		t.Fatalf("expected default page size, got %d", reader.filter.Limit)
	}
	if _, err := NewListJobsQuery(reader).Query(context.Background(), ListJobsMessage{Filter: core.JobFilter{Limit: 10_000}}); err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	if reader.filter.Limit != MaxPageSize {
		t.Fatalf("expected max page size, got %d", reader.filter.Limit)
	}
}

func TestDeliveryLogQueries_FilterBySubscriber(t *testing.T) {
	ctx := context.Background()
	logs := memstore.NewDeliveryLogStore()
	entry, err := logs.CreateDeliveryLog(ctx, core.DeliveryLogEntry{SubscriberID: "sub-a", Event: "conversation.created", RequestBody: []byte(`{}`)})
	if err != nil {
		t.Fatalf("create log: %v", err)
	}
	if _, err := logs.CreateDeliveryLog(ctx, core.DeliveryLogEntry{SubscriberID: "sub-b", Event: "conversation.created", RequestBody: []byte(`{}`)}); err != nil {
		t.Fatalf("create log: %v", err)
	}

	got, err := NewGetDeliveryLogQuery(logs).Query(ctx, GetDeliveryLogMessage{LogID: entry.ID})
	if err != nil || got.SubscriberID != "sub-a" {
		t.Fatalf("unexpected delivery log %#v %v", got, err)
	}
	listed, err := NewListDeliveryLogsQuery(logs).Query(ctx, ListDeliveryLogsMessage{Filter: core.DeliveryLogFilter{SubscriberID: "sub-b"}})
	if err != nil {
		t.Fatalf("list logs: %v", err)
	}
	if len(listed) != 1 || listed[0].SubscriberID != "sub-b" {
		t.Fatalf("expected only sub-b logs, got %#v", listed)
	}
}

func TestSubscriberQueries(t *testing.T) {
	ctx := context.Background()
	subscribers := memstore.NewSubscriberStore(core.Subscriber{
		ID:         "sub-a",
		URL:        "https://hooks.example.com/a",
		Secret:     "s",
		EventTypes: []string{"conversation.created"},
		Active:     true,
	})

	got, err := NewGetSubscriberQuery(subscribers).Query(ctx, GetSubscriberMessage{SubscriberID: "sub-a"})
	if err != nil || got.URL != "https://hooks.example.com/a" {
		t.Fatalf("unexpected subscriber %#v %v", got, err)
	}
	listed, err := NewListSubscribersQuery(subscribers).Query(ctx, ListSubscribersMessage{EventType: "message.created"})
	if err != nil {
		t.Fatalf("list subscribers: %v", err)
	}
	if len(listed) != 0 {
		t.Fatalf("expected no subscribers for other event, got %#v", listed)
	}
}

func TestMetricsQueries_ReadFromStore(t *testing.T) {
	ctx := context.Background()
	store, err := metrics.NewStore(memstore.NewMetricSampleStore())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	labels := map[string]string{"event": "conversation.created", "status": "success"}
	if err := store.IncrementCounter(ctx, core.MetricDeliveriesTotal, labels, 3); err != nil {
		t.Fatalf("increment: %v", err)
	}

	stats, err := NewMetricsStatisticsQuery(store).Query(ctx, MetricsStatisticsMessage{Since: time.Time{}})
	if err != nil {
		t.Fatalf("statistics: %v", err)
	}
	if stats.Deliveries.Total != 3 || stats.Deliveries.SuccessRate != 1 {
		t.Fatalf("unexpected statistics %#v", stats.Deliveries)
	}

	text, err := NewExportMetricsQuery(store).Query(ctx, ExportMetricsMessage{})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if !strings.Contains(text, core.MetricDeliveriesTotal) {
		t.Fatalf("expected exported counter, got %q", text)
	}
}

func TestQueries_NilReaderReturnsDependencyError(t *testing.T) {
	var qry *GetJobQuery
	_, err := qry.Query(context.Background(), GetJobMessage{JobID: "j"})
	if !core.HasTextCode(err, core.RelayErrorInternal) {
		t.Fatalf("expected internal dependency error, got %v", err)
	}
	if _, err := NewExportMetricsQuery(nil).Query(context.Background(), ExportMetricsMessage{}); err == nil {
		t.Fatalf("expected error for missing metrics reader")
	}
}

func TestMessages_Validate(t *testing.T) {
	if err := (GetJobMessage{}).Validate(); !core.HasTextCode(err, core.RelayErrorBadInput) {
		t.Fatalf("expected bad input for missing job id, got %v", err)
	}
	if err := (ListJobsMessage{Filter: core.JobFilter{Status: "sleeping"}}).Validate(); err == nil {
		t.Fatalf("expected invalid status error")
	}
	if err := (ListJobsMessage{Filter: core.JobFilter{Status: core.JobStatusFailed}}).Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := (ListDeliveryLogsMessage{Filter: core.DeliveryLogFilter{Offset: -1}}).Validate(); err == nil {
		t.Fatalf("expected negative offset error")
	}
	if err := (ListSubscribersMessage{}).Validate(); err == nil {
		t.Fatalf("expected missing event type error")
	}
}

type recordingJobReader struct {
	filter core.JobFilter
}

func (r *recordingJobReader) Get(context.Context, string) (core.Job, error) {
	return core.Job{}, nil
}

func (r *recordingJobReader) List(_ context.Context, filter core.JobFilter) ([]core.Job, error) {
	r.filter = filter
	return nil, nil
}

func (r *recordingJobReader) Stats(context.Context) (core.JobStats, error) {
	return core.JobStats{}, nil
}
