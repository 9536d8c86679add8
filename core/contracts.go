package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

// JobQueue is the durable queue contract. ClaimNext returns (nil, nil) when no
// job is claimable; losing a claim race is not an error. MarkCompleted and
// MarkFailed only apply while workerID still holds the lock.
type JobQueue interface {
	Enqueue(ctx context.Context, req EnqueueRequest) (string, error)
	ClaimNext(ctx context.Context, workerID string) (*Job, error)
	MarkCompleted(ctx context.Context, jobID string, workerID string, result map[string]any) error
	MarkFailed(ctx context.Context, jobID string, workerID string, cause error, retry bool) (FailureOutcome, error)
	Get(ctx context.Context, jobID string) (Job, error)
	List(ctx context.Context, filter JobFilter) ([]Job, error)
	Cancel(ctx context.Context, jobID string) error
	Retry(ctx context.Context, jobID string) error
	Stats(ctx context.Context) (JobStats, error)
	Cleanup(ctx context.Context, olderThan time.Time) (int, error)
}

// JobReclaimer returns running jobs whose lock is older than lockedBefore to
// pending so a crashed worker does not strand them.
type JobReclaimer interface {
	ReclaimStale(ctx context.Context, lockedBefore time.Time) (int, error)
}

type SubscriberDirectory interface {
	ListActiveSubscribers(ctx context.Context, eventType string) ([]Subscriber, error)
}

type SubscriberRegistry interface {
	SubscriberDirectory
	SaveSubscriber(ctx context.Context, subscriber Subscriber) (Subscriber, error)
	GetSubscriber(ctx context.Context, id string) (Subscriber, error)
	DeactivateSubscriber(ctx context.Context, id string) error
}

type DeliveryLogStore interface {
	CreateDeliveryLog(ctx context.Context, entry DeliveryLogEntry) (DeliveryLogEntry, error)
	RecordDeliveryAttempt(ctx context.Context, logID string, attempt DeliveryAttempt) error
	GetDeliveryLog(ctx context.Context, logID string) (DeliveryLogEntry, error)
	ListDeliveryLogs(ctx context.Context, filter DeliveryLogFilter) ([]DeliveryLogEntry, error)
}

// DefaultLedgerClaimTimeout is how long an unprocessed ledger row blocks a
// redelivery before Record lets the redelivery take it over.
const DefaultLedgerClaimTimeout = 15 * time.Minute

// InboundEventLedger records external event ids. Record returns
// ErrDuplicateEvent when the id was already processed or is claimed by a
// recent Record; an unprocessed row older than the claim timeout is taken over.
type InboundEventLedger interface {
	Record(ctx context.Context, event InboundEvent) (InboundEvent, error)
	MarkProcessed(ctx context.Context, eventID string) error
	Release(ctx context.Context, eventID string) error
}

type MetricSampleStore interface {
	AddCounter(ctx context.Context, sample MetricSample) error
	SetGauge(ctx context.Context, sample MetricSample) error
	AppendObservation(ctx context.Context, sample MetricSample) error
	ListSamples(ctx context.Context, filter MetricFilter) ([]MetricSample, error)
	PurgeSamples(ctx context.Context, before time.Time) (int, error)
}

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
	SetGauge(ctx context.Context, name string, value float64, tags map[string]string)
}

type Clock func() time.Time

// SecretCipher seals subscriber secrets before they reach storage.
type SecretCipher interface {
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger
