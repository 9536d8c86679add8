package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/goliatone/go-relay/core"
	"github.com/goliatone/go-relay/internal/relaytest"
	memstore "github.com/goliatone/go-relay/store/memory"
)

func newTestDispatcher(t *testing.T, subscribers ...core.Subscriber) (*Dispatcher, *memstore.Stores, *relaytest.Clock) {
	t.Helper()
	clock := relaytest.NewClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	stores := memstore.NewStores()
	stores.Queue.Now = clock.Now
	for _, subscriber := range subscribers {
		if _, err := stores.Subscribers.SaveSubscriber(context.Background(), subscriber); err != nil {
			t.Fatalf("save subscriber: %v", err)
		}
	}
	dispatcher := NewDispatcher(stores.Queue, stores.Subscribers, stores.Logs, WithClock(clock.Now))
	return dispatcher, stores, clock
}

func subscriber(id string, events ...string) core.Subscriber {
	return core.Subscriber{
		ID:         id,
		URL:        "https://hooks.example.com/" + id,
		Secret:     "secret-" + id,
		EventTypes: events,
		Active:     true,
	}
}

func TestDispatcher_CreatesOneJobAndLogPerSubscriber(t *testing.T) {
	ctx := context.Background()
	inactive := subscriber("sub-c", "conversation.created")
	inactive.Active = false
	dispatcher, stores, clock := newTestDispatcher(t,
		subscriber("sub-a", "conversation.created"),
		subscriber("sub-b", core.WildcardEventType),
		inactive,
		subscriber("sub-d", "message.created"),
	)

	result, err := dispatcher.Dispatch(ctx, "conversation.created", map[string]any{"id": "c1"}, "agent-1")
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if result.SubscribersFound != 2 || result.JobsCreated != 2 || len(result.JobIDs) != 2 || len(result.LogIDs) != 2 {
		t.Fatalf("unexpected dispatch result %+v", result)
	}

	for i, jobID := range result.JobIDs {
		job, err := stores.Queue.Get(ctx, jobID)
		if err != nil {
			t.Fatalf("get job: %v", err)
		}
		if job.Type != core.JobTypeWebhookDelivery || job.MaxAttempts != DefaultMaxAttempts || job.Status != core.JobStatusPending {
			t.Fatalf("unexpected job %+v", job)
		}
		payload, err := ParseDeliveryPayload(job.Payload)
		if err != nil {
			t.Fatalf("parse payload: %v", err)
		}
		if payload.LogID != result.LogIDs[i] {
			t.Fatalf("expected job to reference log %s, got %s", result.LogIDs[i], payload.LogID)
		}
		if payload.Envelope.Event != "conversation.created" || payload.Envelope.SenderID != "agent-1" || payload.Envelope.Timestamp != clock.Now().Unix() {
			t.Fatalf("unexpected envelope %+v", payload.Envelope)
		}

		entry, err := stores.Logs.GetDeliveryLog(ctx, payload.LogID)
		if err != nil {
			t.Fatalf("get log: %v", err)
		}
		if entry.Attempts != 0 || entry.ResponseCode != nil || string(entry.RequestBody) != payload.Body {
			t.Fatalf("unexpected delivery log %+v", entry)
		}
	}
}

func TestDispatcher_NoSubscribersIsNotAnError(t *testing.T) {
	dispatcher, stores, _ := newTestDispatcher(t, subscriber("sub-a", "other.event"))
	result, err := dispatcher.Dispatch(context.Background(), "conversation.created", map[string]any{}, "agent-1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result.SubscribersFound != 0 || result.JobsCreated != 0 {
		t.Fatalf("expected empty result, got %+v", result)
	}
	if stats, _ := stores.Queue.Stats(context.Background()); stats.Total() != 0 {
		t.Fatalf("expected no jobs, got %+v", stats)
	}
}

func TestDispatcher_RejectsBadInput(t *testing.T) {
	dispatcher, _, _ := newTestDispatcher(t)
	if _, err := dispatcher.Dispatch(context.Background(), " ", map[string]any{}, ""); !core.HasTextCode(err, core.RelayErrorBadInput) {
		t.Fatalf("expected bad input for empty event, got %v", err)
	}
	if _, err := dispatcher.Dispatch(context.Background(), "x", nil, ""); !core.HasTextCode(err, core.RelayErrorBadInput) {
		t.Fatalf("expected bad input for nil payload, got %v", err)
	}
}

func TestDispatcher_TransformsRunWildcardFirstAndKeepEventAndTimestamp(t *testing.T) {
	ctx := context.Background()
	dispatcher, stores, clock := newTestDispatcher(t, subscriber("sub-a", "order.paid"))

	var order []string
	_ = dispatcher.RegisterTransform("order.paid", func(_ context.Context, envelope core.Envelope) (core.Envelope, error) {
		order = append(order, "specific")
		envelope.Data["amount"] = envelope.Data["cents"].(int) / 100
		envelope.Event = "tampered"
		envelope.Timestamp = 1
		return envelope, nil
	})
	_ = dispatcher.RegisterTransform(core.WildcardEventType, func(_ context.Context, envelope core.Envelope) (core.Envelope, error) {
		order = append(order, "wildcard")
		envelope.Data["cents"] = 1500
		return envelope, nil
	})

	original := map[string]any{"cents": 0}
	result, err := dispatcher.Dispatch(ctx, "order.paid", original, "tenant-1")
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(order) != 2 || order[0] != "wildcard" || order[1] != "specific" {
		t.Fatalf("unexpected transform order %v", order)
	}
	if original["cents"] != 0 {
		t.Fatalf("expected caller payload untouched, got %v", original)
	}

	job, _ := stores.Queue.Get(ctx, result.JobIDs[0])
	payload, _ := ParseDeliveryPayload(job.Payload)
	var sent map[string]any
	if err := json.Unmarshal([]byte(payload.Body), &sent); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	data := sent["data"].(map[string]any)
	if sent["event"] != "order.paid" || int64(sent["timestamp"].(float64)) != clock.Now().Unix() || data["amount"] != float64(15) {
		t.Fatalf("unexpected transformed body %s", payload.Body)
	}
}

func TestDispatcher_FailingTransformIsSkippedAndFanOutCompletes(t *testing.T) {
	logger := relaytest.NewCaptureLogger()
	dispatcher, stores, _ := newTestDispatcher(t, subscriber("sub-a", "order.paid"), subscriber("sub-b", "order.paid"))
	dispatcher.Telemetry = core.NewTelemetry(logger, nil, "relay")
	_ = dispatcher.RegisterTransform(core.WildcardEventType, func(_ context.Context, e core.Envelope) (core.Envelope, error) {
		e.Data["stage"] = "wildcard"
		return e, nil
	})
	_ = dispatcher.RegisterTransform("order.paid", func(_ context.Context, e core.Envelope) (core.Envelope, error) {
		e.Data["stage"] = "broken"
		return e, errors.New("enrichment unavailable")
	})
	_ = dispatcher.RegisterTransform("order.paid", func(_ context.Context, e core.Envelope) (core.Envelope, error) {
		panic("bad hook")
	})

	result, err := dispatcher.Dispatch(context.Background(), "order.paid", map[string]any{}, "")
	if err != nil {
		t.Fatalf("expected fan-out to succeed despite hook failures, got %v", err)
	}
	if result.SubscribersFound != 2 || result.JobsCreated != 2 || len(result.LogIDs) != 2 {
		t.Fatalf("expected two jobs and logs, got %+v", result)
	}
	stats, _ := stores.Queue.Stats(context.Background())
	if stats.Pending != 2 {
		t.Fatalf("expected two pending jobs, got %+v", stats)
	}

	job, _ := stores.Queue.Get(context.Background(), result.JobIDs[0])
	payload, err := ParseDeliveryPayload(job.Payload)
	if err != nil {
		t.Fatalf("parse payload: %v", err)
	}
	var body core.Envelope
	if err := json.Unmarshal([]byte(payload.Body), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Data["stage"] != "wildcard" {
		t.Fatalf("expected envelope from before the failing hook, got %v", body.Data)
	}
	warnings := 0
	for _, record := range logger.Snapshot() {
		if record.Level == "warn" && record.Message == "webhook transform skipped" {
			warnings++
		}
	}
	if warnings != 2 {
		t.Fatalf("expected one warning per skipped hook, got %d", warnings)
	}
}

type failingLogs struct {
	core.DeliveryLogStore
	failFor string
}

func (f failingLogs) CreateDeliveryLog(ctx context.Context, entry core.DeliveryLogEntry) (core.DeliveryLogEntry, error) {
	if entry.SubscriberID == f.failFor {
		return core.DeliveryLogEntry{}, errors.New("insert failed")
	}
	return f.DeliveryLogStore.CreateDeliveryLog(ctx, entry)
}

func TestDispatcher_SubscriberFailureDoesNotAbortFanOut(t *testing.T) {
	logger := relaytest.NewCaptureLogger()
	dispatcher, stores, _ := newTestDispatcher(t, subscriber("sub-a", "e"), subscriber("sub-b", "e"))
	dispatcher.Logs = failingLogs{DeliveryLogStore: stores.Logs, failFor: "sub-a"}
	dispatcher.Telemetry = core.NewTelemetry(logger, nil, "relay")

	result, err := dispatcher.Dispatch(context.Background(), "e", map[string]any{}, "")
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if result.SubscribersFound != 2 || result.JobsCreated != 1 || len(result.Failures) != 1 || result.Failures[0].SubscriberID != "sub-a" {
		t.Fatalf("unexpected result %+v", result)
	}
	if !logger.HasLog("error", "webhook delivery scheduling failed") {
		t.Fatalf("expected failure to be logged")
	}
}

func TestDispatcher_DispatchBatchIsIndependentPerEntry(t *testing.T) {
	dispatcher, _, _ := newTestDispatcher(t, subscriber("sub-a", "a"))
	items := dispatcher.DispatchBatch(context.Background(), []DispatchRequest{
		{EventType: "a", Payload: map[string]any{"n": 1}},
		{EventType: "", Payload: map[string]any{}},
		{EventType: "a", Payload: map[string]any{"n": 2}},
	})
	if len(items) != 3 {
		t.Fatalf("expected three items, got %d", len(items))
	}
	if items[0].Err != nil || items[0].Result.JobsCreated != 1 {
		t.Fatalf("unexpected first item %+v", items[0])
	}
	if items[1].Err == nil {
		t.Fatalf("expected second item to fail")
	}
	if items[2].Err != nil || items[2].Result.JobsCreated != 1 {
		t.Fatalf("unexpected third item %+v", items[2])
	}
}

func TestDispatcher_SendTestIgnoresEventFilter(t *testing.T) {
	ctx := context.Background()
	target := subscriber("sub-a", "conversation.created")
	dispatcher, stores, _ := newTestDispatcher(t, target)

	result, err := dispatcher.SendTest(ctx, target, "console")
	if err != nil {
		t.Fatalf("send test: %v", err)
	}
	if result.JobsCreated != 1 || len(result.JobIDs) != 1 {
		t.Fatalf("expected one scheduled job, got %+v", result)
	}
	job, err := stores.Queue.Get(ctx, result.JobIDs[0])
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	payload, err := ParseDeliveryPayload(job.Payload)
	if err != nil {
		t.Fatalf("parse payload: %v", err)
	}
	if payload.Envelope.Event != TestEventType || payload.URL != target.URL {
		t.Fatalf("unexpected test payload %+v", payload)
	}

	if _, err := dispatcher.SendTest(ctx, core.Subscriber{ID: "empty"}, ""); !core.HasTextCode(err, core.RelayErrorBadInput) {
		t.Fatalf("expected bad input for subscriber without url, got %v", err)
	}
}
