package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-relay/core"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// InboundEventStore is the idempotency ledger. The unique index on event_id
// is what makes Record race-safe across processes.
type InboundEventStore struct {
	db           *bun.DB
	repo         repository.Repository[*inboundEventRecord]
	now          func() time.Time
	claimTimeout time.Duration
}

type InboundEventOption func(*InboundEventStore)

func WithLedgerClock(now func() time.Time) InboundEventOption {
	return func(s *InboundEventStore) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLedgerClaimTimeout sets how old an unprocessed row must be before a
// redelivery takes it over. Zero or less keeps unprocessed rows forever.
func WithLedgerClaimTimeout(timeout time.Duration) InboundEventOption {
	return func(s *InboundEventStore) {
		s.claimTimeout = timeout
	}
}

func NewInboundEventStore(db *bun.DB, opts ...InboundEventOption) (*InboundEventStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*inboundEventRecord](db, inboundEventHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid inbound event repository wiring: %w", err)
		}
	}
	store := &InboundEventStore{
		db:   db,
		repo: repo,
		now: func() time.Time {
			return time.Now().UTC()
		},
		claimTimeout: core.DefaultLedgerClaimTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store, nil
}

func (s *InboundEventStore) Record(ctx context.Context, event core.InboundEvent) (core.InboundEvent, error) {
	if s == nil || s.repo == nil {
		return core.InboundEvent{}, fmt.Errorf("sqlstore: inbound event store is not configured")
	}
	eventID := strings.TrimSpace(event.EventID)
	if eventID == "" {
		return core.InboundEvent{}, fmt.Errorf("sqlstore: inbound event id is required")
	}
	payload := core.CloneMap(event.Payload)
	if payload == nil {
		payload = map[string]any{}
	}
	record := &inboundEventRecord{
		ID:        strings.TrimSpace(event.ID),
		EventID:   eventID,
		EventType: strings.TrimSpace(event.EventType),
		Payload:   payload,
		CreatedAt: s.now().UTC(),
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if _, err := s.repo.Create(ctx, record); err != nil {
		if !isUniqueViolation(err) {
			return core.InboundEvent{}, err
		}
		taken, takeErr := s.takeOverStale(ctx, eventID, record.CreatedAt)
		if takeErr != nil {
			return core.InboundEvent{}, takeErr
		}
		if taken == nil {
			return core.InboundEvent{}, fmt.Errorf("%w: %s", core.ErrDuplicateEvent, eventID)
		}
		return taken.toDomain(), nil
	}
	return record.toDomain(), nil
}

// takeOverStale refreshes an unprocessed row whose claim expired, which
// happens when a process died between Record and MarkProcessed or Release.
// The conditional update lets only one redelivery win.
func (s *InboundEventStore) takeOverStale(ctx context.Context, eventID string, now time.Time) (*inboundEventRecord, error) {
	if s.claimTimeout <= 0 {
		return nil, nil
	}
	res, err := s.db.NewUpdate().
		Model((*inboundEventRecord)(nil)).
		Set("created_at = ?", now).
		Where("event_id = ?", eventID).
		Where("processed = ?", false).
		Where("created_at < ?", now.Add(-s.claimTimeout)).
		Exec(ctx)
	if err != nil {
		return nil, err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return nil, nil
	}
	record := &inboundEventRecord{}
	if err := s.db.NewSelect().Model(record).Where("event_id = ?", eventID).Limit(1).Scan(ctx); err != nil {
		return nil, err
	}
	return record, nil
}

func (s *InboundEventStore) MarkProcessed(ctx context.Context, eventID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: inbound event store is not configured")
	}
	eventID = strings.TrimSpace(eventID)
	res, err := s.db.NewUpdate().
		Model((*inboundEventRecord)(nil)).
		Set("processed = ?", true).
		Set("processed_at = ?", s.now().UTC()).
		Where("event_id = ?", eventID).
		Exec(ctx)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("%w: %s", core.ErrInboundEventNotFound, eventID)
	}
	return nil
}

// Release forgets an event that was recorded but not processed so a retried
// job can claim it again. Processed rows are kept.
func (s *InboundEventStore) Release(ctx context.Context, eventID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: inbound event store is not configured")
	}
	_, err := s.db.NewDelete().
		Model((*inboundEventRecord)(nil)).
		Where("event_id = ?", strings.TrimSpace(eventID)).
		Where("processed = ?", false).
		Exec(ctx)
	return err
}

func (r *inboundEventRecord) toDomain() core.InboundEvent {
	if r == nil {
		return core.InboundEvent{}
	}
	event := core.InboundEvent{
		ID:        r.ID,
		EventID:   r.EventID,
		EventType: r.EventType,
		Payload:   core.CloneMap(r.Payload),
		Processed: r.Processed,
		CreatedAt: r.CreatedAt.UTC(),
	}
	if r.ProcessedAt != nil {
		processedAt := r.ProcessedAt.UTC()
		event.ProcessedAt = &processedAt
	}
	return event
}
