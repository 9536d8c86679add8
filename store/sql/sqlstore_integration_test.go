package sqlstore_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"testing"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/goliatone/go-relay/core"
	"github.com/goliatone/go-relay/internal/relaytest"
	"github.com/goliatone/go-relay/security"
	relaymigrations "github.com/goliatone/go-relay/migrations"
	sqlstore "github.com/goliatone/go-relay/store/sql"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

type testPersistenceConfig struct {
	driver string
	server string
}

func (c testPersistenceConfig) GetDebug() bool {
	return false
}

func (c testPersistenceConfig) GetDriver() string {
	return c.driver
}

func (c testPersistenceConfig) GetServer() string {
	return c.server
}

func (c testPersistenceConfig) GetPingTimeout() time.Duration {
	return time.Second
}

func (c testPersistenceConfig) GetOtelIdentifier() string {
	return "go-relay-tests"
}

func TestMigrationSmokeApplySQLite(t *testing.T) {
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	for _, table := range []string{"relay_jobs", "relay_subscribers", "relay_delivery_logs", "relay_inbound_events", "relay_metric_samples"} {
		var tableName string
		if err := client.DB().NewRaw(
			"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?",
			table,
		).Scan(context.Background(), &tableName); err != nil {
			t.Fatalf("query sqlite master for %s: %v", table, err)
		}
		if tableName != table {
			t.Fatalf("expected %s table, got %q", table, tableName)
		}
	}
}

func TestOpen_SQLiteAppliesMigrations(t *testing.T) {
	ctx := context.Background()
	client, err := sqlstore.Open(ctx, core.DatabaseConfig{
		Driver: "sqlite",
		DSN:    fmt.Sprintf("file:relay-open-%d?mode=memory&cache=shared&_foreign_keys=on", time.Now().UnixNano()),
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = client.Close() }()

	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	if _, err := factory.JobQueue().Enqueue(ctx, core.EnqueueRequest{Type: "ping"}); err != nil {
		t.Fatalf("enqueue after open: %v", err)
	}
}

func TestOpen_RejectsUnknownDriver(t *testing.T) {
	if _, err := sqlstore.Open(context.Background(), core.DatabaseConfig{Driver: "oracle"}); err == nil {
		t.Fatalf("expected unsupported driver error")
	}
	if _, err := sqlstore.Open(context.Background(), core.DatabaseConfig{Driver: "postgres"}); err == nil {
		t.Fatalf("expected postgres without dsn to fail")
	}
}

func TestJobStore_PingJobFailsTerminallyAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	clock := relaytest.NewClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	store, err := sqlstore.NewJobStore(client.DB(), sqlstore.WithJobClock(clock.Now))
	if err != nil {
		t.Fatalf("new job store: %v", err)
	}

	jobID, err := store.Enqueue(ctx, core.EnqueueRequest{Type: "ping", Payload: map[string]any{"n": 1}, MaxAttempts: 3})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	for attempt := 1; attempt <= 3; attempt++ {
		job, err := store.ClaimNext(ctx, "worker-1")
		if err != nil {
			t.Fatalf("claim attempt %d: %v", attempt, err)
		}
		if job == nil || job.ID != jobID || job.Status != core.JobStatusRunning || job.LockedBy != "worker-1" {
			t.Fatalf("expected claimed running job on attempt %d, got %+v", attempt, job)
		}
		if job.Payload["n"] == nil {
			t.Fatalf("expected payload round-trip, got %+v", job.Payload)
		}
		outcome, err := store.MarkFailed(ctx, jobID, "worker-1", errors.New("connection refused"), true)
		if err != nil {
			t.Fatalf("mark failed attempt %d: %v", attempt, err)
		}
		stored, err := store.Get(ctx, jobID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if stored.Attempts != attempt || stored.ErrorText != "connection refused" {
			t.Fatalf("unexpected job after attempt %d: %+v", attempt, stored)
		}
		if attempt < 3 {
			if outcome.Terminal || stored.Status != core.JobStatusPending || stored.LockedAt != nil {
				t.Fatalf("expected pending unlocked job after attempt %d, got %+v", attempt, stored)
			}
			if next, _ := store.ClaimNext(ctx, "worker-1"); next != nil {
				t.Fatalf("expected job hidden during backoff")
			}
			clock.Advance(2 * time.Hour)
			continue
		}
		if !outcome.Terminal || stored.Status != core.JobStatusFailed {
			t.Fatalf("expected terminal failure, got %+v", stored)
		}
	}

	clock.Advance(24 * time.Hour)
	if job, err := store.ClaimNext(ctx, "worker-1"); err != nil || job != nil {
		t.Fatalf("expected failed job never to be claimed again, got %+v %v", job, err)
	}
}

func TestJobStore_ConcurrentClaimHasSingleWinner(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	store, err := sqlstore.NewJobStore(client.DB())
	if err != nil {
		t.Fatalf("new job store: %v", err)
	}
	if _, err := store.Enqueue(ctx, core.EnqueueRequest{Type: "ping"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			job, err := store.ClaimNext(ctx, fmt.Sprintf("worker-%d", worker))
			if err != nil {
				t.Errorf("claim: %v", err)
				return
			}
			if job != nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}
}

func TestJobStore_LifecycleOperations(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	clock := relaytest.NewClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	store, err := sqlstore.NewJobStore(client.DB(), sqlstore.WithJobClock(clock.Now))
	if err != nil {
		t.Fatalf("new job store: %v", err)
	}

	cancelled, _ := store.Enqueue(ctx, core.EnqueueRequest{Type: core.JobTypeWebhookDelivery})
	clock.Advance(time.Second)
	done, _ := store.Enqueue(ctx, core.EnqueueRequest{Type: core.JobTypeInboundEvent})

	if err := store.Cancel(ctx, cancelled); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := store.Cancel(ctx, cancelled); !errors.Is(err, core.ErrInvalidJobTransition) {
		t.Fatalf("expected invalid transition cancelling terminal job, got %v", err)
	}
	job, err := store.ClaimNext(ctx, "w")
	if err != nil || job == nil || job.ID != done {
		t.Fatalf("expected cancelled job to be skipped, got %+v %v", job, err)
	}
	if err := store.Retry(ctx, done); !errors.Is(err, core.ErrInvalidJobTransition) {
		t.Fatalf("expected running job retry to be rejected, got %v", err)
	}
	if err := store.MarkCompleted(ctx, done, "w", map[string]any{"delivered": true}); err != nil {
		t.Fatalf("mark completed: %v", err)
	}
	if err := store.MarkCompleted(ctx, done, "w", nil); !errors.Is(err, core.ErrJobNotClaimable) {
		t.Fatalf("expected not claimable on double completion, got %v", err)
	}
	if _, err := store.MarkFailed(ctx, done, "w", errors.New("late"), true); !errors.Is(err, core.ErrJobNotClaimable) {
		t.Fatalf("expected not claimable on late failure, got %v", err)
	}

	completed, _ := store.Get(ctx, done)
	if completed.Status != core.JobStatusCompleted || completed.Result["delivered"] != true {
		t.Fatalf("unexpected completed job %+v", completed)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Failed != 1 || stats.Completed != 1 || stats.Total() != 2 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	listed, err := store.List(ctx, core.JobFilter{Type: core.JobTypeWebhookDelivery})
	if err != nil || len(listed) != 1 || listed[0].ID != cancelled {
		t.Fatalf("expected filtered list with cancelled job, got %+v %v", listed, err)
	}
	if listed[0].ErrorText != "cancelled" {
		t.Fatalf("expected cancelled error text, got %q", listed[0].ErrorText)
	}

	if err := store.Retry(ctx, cancelled); err != nil {
		t.Fatalf("retry: %v", err)
	}
	retried, _ := store.Get(ctx, cancelled)
	if retried.Status != core.JobStatusPending || retried.ErrorText != "" || retried.Attempts != 0 {
		t.Fatalf("expected retried job reset, got %+v", retried)
	}

	clock.Advance(48 * time.Hour)
	removed, err := store.Cleanup(ctx, clock.Now().Add(-time.Hour))
	if err != nil || removed != 1 {
		t.Fatalf("expected one terminal job removed, got %d %v", removed, err)
	}
	if _, err := store.Get(ctx, done); !errors.Is(err, core.ErrJobNotFound) {
		t.Fatalf("expected cleaned job gone, got %v", err)
	}
	if err := store.Cancel(ctx, "missing"); !errors.Is(err, core.ErrJobNotFound) {
		t.Fatalf("expected not found cancelling missing job, got %v", err)
	}
}

func TestJobStore_ReclaimStale(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	clock := relaytest.NewClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	store, err := sqlstore.NewJobStore(client.DB(), sqlstore.WithJobClock(clock.Now))
	if err != nil {
		t.Fatalf("new job store: %v", err)
	}
	jobID, _ := store.Enqueue(ctx, core.EnqueueRequest{Type: "slow"})
	if job, _ := store.ClaimNext(ctx, "crashed"); job == nil {
		t.Fatalf("expected claim")
	}
	clock.Advance(20 * time.Minute)
	reclaimed, err := store.ReclaimStale(ctx, clock.Now().Add(-15*time.Minute))
	if err != nil || reclaimed != 1 {
		t.Fatalf("expected one reclaimed job, got %d %v", reclaimed, err)
	}
	job, _ := store.ClaimNext(ctx, "healthy")
	if job == nil || job.ID != jobID || job.LockedBy != "healthy" {
		t.Fatalf("expected reclaimed job claimable, got %+v", job)
	}

	if err := store.MarkCompleted(ctx, jobID, "crashed", nil); !errors.Is(err, core.ErrJobNotClaimable) {
		t.Fatalf("expected stale worker completion to be rejected, got %v", err)
	}
	if _, err := store.MarkFailed(ctx, jobID, "crashed", errors.New("late"), true); !errors.Is(err, core.ErrJobNotClaimable) {
		t.Fatalf("expected stale worker failure to be rejected, got %v", err)
	}
	if held, _ := store.Get(ctx, jobID); held.Status != core.JobStatusRunning || held.LockedBy != "healthy" || held.Attempts != 0 {
		t.Fatalf("expected job still held by the new worker, got %+v", held)
	}
	if err := store.MarkCompleted(ctx, jobID, "healthy", nil); err != nil {
		t.Fatalf("expected lock holder to complete, got %v", err)
	}
}

func TestJobStore_RetryKeepsAttempts(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	store, err := sqlstore.NewJobStore(client.DB())
	if err != nil {
		t.Fatalf("new job store: %v", err)
	}
	jobID, _ := store.Enqueue(ctx, core.EnqueueRequest{Type: "ping", MaxAttempts: 5})
	_, _ = store.ClaimNext(ctx, "w")
	if _, err := store.MarkFailed(ctx, jobID, "w", errors.New("boom"), false); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := store.Retry(ctx, jobID); err != nil {
		t.Fatalf("retry: %v", err)
	}
	job, _ := store.Get(ctx, jobID)
	if job.Status != core.JobStatusPending || job.ErrorText != "" || job.Attempts != 1 {
		t.Fatalf("expected pending job keeping attempts=1, got %+v", job)
	}
}

func TestSubscriberStore_ListsActiveSubscribersForEvent(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	registry := factory.SubscriberRegistry()

	orders, err := registry.SaveSubscriber(ctx, core.Subscriber{URL: "https://a.example/hook", Secret: "s1", EventTypes: []string{"order.created", " order.created "}, Active: true})
	if err != nil {
		t.Fatalf("save subscriber: %v", err)
	}
	if len(orders.EventTypes) != 1 {
		t.Fatalf("expected normalized event types, got %v", orders.EventTypes)
	}
	wildcard, _ := registry.SaveSubscriber(ctx, core.Subscriber{URL: "https://b.example/hook", Secret: "s2", EventTypes: []string{"*"}, Active: true})
	_, _ = registry.SaveSubscriber(ctx, core.Subscriber{URL: "https://c.example/hook", Secret: "s3", EventTypes: []string{"order.created"}, Active: false})

	subscribers, err := registry.ListActiveSubscribers(ctx, "order.created")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(subscribers) != 2 {
		t.Fatalf("expected two active subscribers, got %+v", subscribers)
	}
	subscribers, _ = registry.ListActiveSubscribers(ctx, "user.deleted")
	if len(subscribers) != 1 || subscribers[0].ID != wildcard.ID {
		t.Fatalf("expected only wildcard subscriber, got %+v", subscribers)
	}

	orders.URL = "https://a.example/v2"
	updated, err := registry.SaveSubscriber(ctx, orders)
	if err != nil || updated.ID != orders.ID {
		t.Fatalf("update subscriber: %+v %v", updated, err)
	}
	fetched, _ := registry.GetSubscriber(ctx, orders.ID)
	if fetched.URL != "https://a.example/v2" {
		t.Fatalf("expected updated url, got %q", fetched.URL)
	}

	if err := registry.DeactivateSubscriber(ctx, wildcard.ID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	subscribers, _ = registry.ListActiveSubscribers(ctx, "user.deleted")
	if len(subscribers) != 0 {
		t.Fatalf("expected no subscribers after deactivation, got %+v", subscribers)
	}
	if err := registry.DeactivateSubscriber(ctx, "missing"); !errors.Is(err, core.ErrSubscriberNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSubscriberStore_SaveWithCallerIDUpsertsSingleRow(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	registry := factory.SubscriberRegistry()

	first, err := registry.SaveSubscriber(ctx, core.Subscriber{ID: "sub-a", URL: "https://a.example/v1", Secret: "s1", EventTypes: []string{"*"}, Active: true})
	if err != nil {
		t.Fatalf("first save: %v", err)
	}
	if first.ID != "sub-a" {
		t.Fatalf("expected caller id to be kept, got %q", first.ID)
	}
	second, err := registry.SaveSubscriber(ctx, core.Subscriber{ID: "sub-a", URL: "https://a.example/v2", Secret: "s2", EventTypes: []string{"*"}, Active: true})
	if err != nil {
		t.Fatalf("second save: %v", err)
	}
	if second.ID != "sub-a" || !second.CreatedAt.Equal(first.CreatedAt) {
		t.Fatalf("expected update in place keeping created_at, got %+v", second)
	}

	count, err := factory.DB().NewSelect().Table("relay_subscribers").Where("id = ?", "sub-a").Count(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one row for sub-a, got %d", count)
	}
	loaded, err := registry.GetSubscriber(ctx, "sub-a")
	if err != nil || loaded.URL != "https://a.example/v2" || loaded.Secret != "s2" {
		t.Fatalf("expected updated subscriber, got %+v %v", loaded, err)
	}
	active, _ := registry.ListActiveSubscribers(ctx, "order.created")
	if len(active) != 1 {
		t.Fatalf("expected a single delivery target, got %+v", active)
	}
}

func TestSubscriberStore_SealsSecretsAtRest(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	cipher, err := security.NewAppKeyCipherFromString("relay-at-rest-key")
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}
	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client, sqlstore.WithSubscriberSecretCipher(cipher))
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	registry := factory.SubscriberRegistry()

	saved, err := registry.SaveSubscriber(ctx, core.Subscriber{ID: "sub-sealed", URL: "https://a.example/hook", Secret: "whsec_plain", EventTypes: []string{"*"}, Active: true})
	if err != nil {
		t.Fatalf("save subscriber: %v", err)
	}
	if saved.Secret != "whsec_plain" {
		t.Fatalf("expected caller to get the plaintext secret back, got %q", saved.Secret)
	}

	var stored string
	if err := factory.DB().NewSelect().Table("relay_subscribers").Column("secret").Where("id = ?", "sub-sealed").Scan(ctx, &stored); err != nil {
		t.Fatalf("read raw secret: %v", err)
	}
	if !security.IsSealed([]byte(stored)) {
		t.Fatalf("expected sealed secret column, got %q", stored)
	}

	loaded, err := registry.GetSubscriber(ctx, "sub-sealed")
	if err != nil || loaded.Secret != "whsec_plain" {
		t.Fatalf("expected opened secret on read, got %+v %v", loaded, err)
	}
	active, err := registry.ListActiveSubscribers(ctx, "order.created")
	if err != nil || len(active) != 1 || active[0].Secret != "whsec_plain" {
		t.Fatalf("expected opened secret on list, got %+v %v", active, err)
	}
}

func TestCachedSubscriberDirectory_InvalidatesOnWrite(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	config := repositorycache.DefaultConfig()
	config.TTL = time.Minute
	cacheService, err := repositorycache.NewCacheService(config)
	if err != nil {
		t.Fatalf("new cache service: %v", err)
	}
	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client, sqlstore.WithSubscriberCache(cacheService))
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	directory := factory.SubscriberRegistry()
	if _, ok := directory.(*sqlstore.CachedSubscriberDirectory); !ok {
		t.Fatalf("expected cached directory, got %T", directory)
	}

	if subscribers, _ := directory.ListActiveSubscribers(ctx, "order.created"); len(subscribers) != 0 {
		t.Fatalf("expected empty directory, got %+v", subscribers)
	}
	if _, err := directory.SaveSubscriber(ctx, core.Subscriber{URL: "https://a.example", Secret: "s", EventTypes: []string{"order.created"}, Active: true}); err != nil {
		t.Fatalf("save: %v", err)
	}
	subscribers, err := directory.ListActiveSubscribers(ctx, "order.created")
	if err != nil || len(subscribers) != 1 {
		t.Fatalf("expected write to invalidate cached miss, got %+v %v", subscribers, err)
	}
	if _, err := sqlstore.SubscriberCacheKey(" "); err == nil {
		t.Fatalf("expected empty event type cache key error")
	}
}

func TestDeliveryLogStore_RecordsAttempts(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	store, err := sqlstore.NewDeliveryLogStore(client.DB())
	if err != nil {
		t.Fatalf("new delivery log store: %v", err)
	}
	entry, err := store.CreateDeliveryLog(ctx, core.DeliveryLogEntry{SubscriberID: "sub_1", Event: "order.created", RequestBody: []byte(`{"event":"order.created"}`)})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if entry.Attempts != 0 || entry.ResponseCode != nil {
		t.Fatalf("unexpected new entry %+v", entry)
	}

	code := 503
	body := "unavailable"
	if err := store.RecordDeliveryAttempt(ctx, entry.ID, core.DeliveryAttempt{ResponseCode: &code, ResponseBody: &body, Attempts: 2}); err != nil {
		t.Fatalf("record attempt: %v", err)
	}
	if err := store.RecordDeliveryAttempt(ctx, entry.ID, core.DeliveryAttempt{ResponseCode: &code, ResponseBody: &body, Attempts: 1}); err != nil {
		t.Fatalf("record stale attempt: %v", err)
	}
	stored, err := store.GetDeliveryLog(ctx, entry.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Attempts != 2 || stored.ResponseCode == nil || *stored.ResponseCode != 503 || string(stored.RequestBody) != `{"event":"order.created"}` {
		t.Fatalf("unexpected stored entry %+v", stored)
	}

	_, _ = store.CreateDeliveryLog(ctx, core.DeliveryLogEntry{SubscriberID: "sub_2", Event: "order.created"})
	logs, err := store.ListDeliveryLogs(ctx, core.DeliveryLogFilter{SubscriberID: "sub_1"})
	if err != nil || len(logs) != 1 || logs[0].ID != entry.ID {
		t.Fatalf("expected subscriber filtered logs, got %+v %v", logs, err)
	}
	if err := store.RecordDeliveryAttempt(ctx, "missing", core.DeliveryAttempt{Attempts: 1}); !errors.Is(err, core.ErrDeliveryLogNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestInboundEventStore_DeduplicatesAndReleases(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	store, err := sqlstore.NewInboundEventStore(client.DB())
	if err != nil {
		t.Fatalf("new inbound event store: %v", err)
	}
	event := core.InboundEvent{EventID: "evt_1", EventType: "chat.message", Payload: map[string]any{"text": "hi"}}
	if _, err := store.Record(ctx, event); err != nil {
		t.Fatalf("record: %v", err)
	}
	if _, err := store.Record(ctx, event); !errors.Is(err, core.ErrDuplicateEvent) {
		t.Fatalf("expected duplicate event error, got %v", err)
	}

	if err := store.Release(ctx, "evt_1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := store.Record(ctx, event); err != nil {
		t.Fatalf("expected record after release: %v", err)
	}
	if err := store.MarkProcessed(ctx, "evt_1"); err != nil {
		t.Fatalf("mark processed: %v", err)
	}
	if err := store.Release(ctx, "evt_1"); err != nil {
		t.Fatalf("release processed: %v", err)
	}
	if _, err := store.Record(ctx, event); !errors.Is(err, core.ErrDuplicateEvent) {
		t.Fatalf("expected processed event to stay recorded, got %v", err)
	}
	if err := store.MarkProcessed(ctx, "missing"); !errors.Is(err, core.ErrInboundEventNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestInboundEventStore_TakesOverStaleUnprocessedRow(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	clock := relaytest.NewClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	store, err := sqlstore.NewInboundEventStore(client.DB(),
		sqlstore.WithLedgerClock(clock.Now),
		sqlstore.WithLedgerClaimTimeout(10*time.Minute),
	)
	if err != nil {
		t.Fatalf("new inbound event store: %v", err)
	}
	event := core.InboundEvent{EventID: "evt_crash", EventType: "chat.message"}
	first, err := store.Record(ctx, event)
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	clock.Advance(5 * time.Minute)
	if _, err := store.Record(ctx, event); !errors.Is(err, core.ErrDuplicateEvent) {
		t.Fatalf("expected fresh claim to block redelivery, got %v", err)
	}

	clock.Advance(10 * time.Minute)
	taken, err := store.Record(ctx, event)
	if err != nil {
		t.Fatalf("expected stale row taken over, got %v", err)
	}
	if taken.ID != first.ID || taken.Processed {
		t.Fatalf("expected the same unprocessed row, got %+v", taken)
	}
	if _, err := store.Record(ctx, event); !errors.Is(err, core.ErrDuplicateEvent) {
		t.Fatalf("expected refreshed claim to block again, got %v", err)
	}

	if err := store.MarkProcessed(ctx, "evt_crash"); err != nil {
		t.Fatalf("mark processed: %v", err)
	}
	clock.Advance(time.Hour)
	if _, err := store.Record(ctx, event); !errors.Is(err, core.ErrDuplicateEvent) {
		t.Fatalf("expected processed row never taken over, got %v", err)
	}
}

func TestMetricSampleStore_UpsertsSeriesAndAppendsObservations(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	store, err := sqlstore.NewMetricSampleStore(client.DB())
	if err != nil {
		t.Fatalf("new metric store: %v", err)
	}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	labels := map[string]string{"event": "ping", "status": "success"}
	for i := 0; i < 3; i++ {
		if err := store.AddCounter(ctx, core.MetricSample{Name: core.MetricDeliveriesTotal, Labels: labels, LabelKey: "event=ping,status=success", Value: 1, Timestamp: now}); err != nil {
			t.Fatalf("add counter: %v", err)
		}
	}
	_ = store.SetGauge(ctx, core.MetricSample{Name: core.MetricQueueDepth, Value: 7, Timestamp: now})
	_ = store.SetGauge(ctx, core.MetricSample{Name: core.MetricQueueDepth, Value: 4, Timestamp: now})
	_ = store.AppendObservation(ctx, core.MetricSample{Name: core.MetricDeliveryDuration, Value: 0.2, Timestamp: now})
	_ = store.AppendObservation(ctx, core.MetricSample{Name: core.MetricDeliveryDuration, Value: 0.4, Timestamp: now.Add(time.Hour)})

	counters, err := store.ListSamples(ctx, core.MetricFilter{Type: core.MetricTypeCounter})
	if err != nil || len(counters) != 1 || counters[0].Value != 3 || counters[0].Labels["event"] != "ping" {
		t.Fatalf("expected single accumulated counter, got %+v %v", counters, err)
	}
	gauges, _ := store.ListSamples(ctx, core.MetricFilter{Name: core.MetricQueueDepth})
	if len(gauges) != 1 || gauges[0].Value != 4 {
		t.Fatalf("expected last gauge value, got %+v", gauges)
	}
	histogram, _ := store.ListSamples(ctx, core.MetricFilter{Type: core.MetricTypeHistogram, Since: now.Add(30 * time.Minute)})
	if len(histogram) != 1 || histogram[0].Value != 0.4 {
		t.Fatalf("expected since filter to keep latest observation, got %+v", histogram)
	}

	removed, err := store.PurgeSamples(ctx, now.Add(30*time.Minute))
	if err != nil || removed != 3 {
		t.Fatalf("expected three purged rows, got %d %v", removed, err)
	}
	if err := store.AddCounter(ctx, core.MetricSample{Value: 1}); err == nil {
		t.Fatalf("expected missing name error")
	}
}

func newSQLiteClient(t *testing.T) (*persistence.Client, func()) {
	t.Helper()

	dsn := fmt.Sprintf(
		"file:relay-test-%d?mode=memory&cache=shared&_foreign_keys=on",
		time.Now().UnixNano(),
	)
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	cfg := testPersistenceConfig{
		driver: "sqlite3",
		server: dsn,
	}
	client, err := persistence.New(cfg, sqlDB, sqlitedialect.New())
	if err != nil {
		_ = sqlDB.Close()
		t.Fatalf("new persistence client: %v", err)
	}

	ctx := context.Background()
	_, err = relaymigrations.Register(ctx, func(_ context.Context, dialect string, _ string, fsys fs.FS) error {
		if dialect != relaymigrations.DialectSQLite {
			return nil
		}
		client.RegisterSQLMigrations(fsys)
		return nil
	}, relaymigrations.WithValidationTargets(relaymigrations.DialectSQLite))
	if err != nil {
		_ = client.Close()
		t.Fatalf("register migrations: %v", err)
	}
	if err := client.Migrate(ctx); err != nil {
		_ = client.Close()
		t.Fatalf("migrate: %v", err)
	}

	return client, func() {
		_ = client.Close()
	}
}
