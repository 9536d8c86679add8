package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-relay/core"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type DeliveryLogStore struct {
	db   *bun.DB
	repo repository.Repository[*deliveryLogRecord]
}

func NewDeliveryLogStore(db *bun.DB) (*DeliveryLogStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*deliveryLogRecord](db, deliveryLogHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid delivery log repository wiring: %w", err)
		}
	}
	return &DeliveryLogStore{db: db, repo: repo}, nil
}

func (s *DeliveryLogStore) CreateDeliveryLog(ctx context.Context, entry core.DeliveryLogEntry) (core.DeliveryLogEntry, error) {
	if s == nil || s.repo == nil {
		return core.DeliveryLogEntry{}, fmt.Errorf("sqlstore: delivery log store is not configured")
	}
	subscriberID := strings.TrimSpace(entry.SubscriberID)
	event := strings.TrimSpace(entry.Event)
	if subscriberID == "" || event == "" {
		return core.DeliveryLogEntry{}, fmt.Errorf("sqlstore: delivery log subscriber id and event are required")
	}
	now := time.Now().UTC()
	record := &deliveryLogRecord{
		ID:           strings.TrimSpace(entry.ID),
		SubscriberID: subscriberID,
		Event:        event,
		RequestBody:  string(entry.RequestBody),
		Attempts:     max(entry.Attempts, 0),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if _, err := s.repo.Create(ctx, record); err != nil {
		return core.DeliveryLogEntry{}, err
	}
	return record.toDomain(), nil
}

// RecordDeliveryAttempt overwrites the response fields and only ever raises the
// attempt counter, so a late write from a slower attempt cannot rewind it.
func (s *DeliveryLogStore) RecordDeliveryAttempt(ctx context.Context, logID string, attempt core.DeliveryAttempt) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: delivery log store is not configured")
	}
	logID = strings.TrimSpace(logID)
	res, err := s.db.NewUpdate().
		Model((*deliveryLogRecord)(nil)).
		Set("response_code = ?", attempt.ResponseCode).
		Set("response_body = ?", attempt.ResponseBody).
		Set("attempts = CASE WHEN attempts < ? THEN ? ELSE attempts END", attempt.Attempts, attempt.Attempts).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", logID).
		Exec(ctx)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("%w: %s", core.ErrDeliveryLogNotFound, logID)
	}
	return nil
}

func (s *DeliveryLogStore) GetDeliveryLog(ctx context.Context, logID string) (core.DeliveryLogEntry, error) {
	if s == nil || s.db == nil {
		return core.DeliveryLogEntry{}, fmt.Errorf("sqlstore: delivery log store is not configured")
	}
	record := &deliveryLogRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", strings.TrimSpace(logID)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.DeliveryLogEntry{}, fmt.Errorf("%w: %s", core.ErrDeliveryLogNotFound, logID)
		}
		return core.DeliveryLogEntry{}, err
	}
	return record.toDomain(), nil
}

func (s *DeliveryLogStore) ListDeliveryLogs(ctx context.Context, filter core.DeliveryLogFilter) ([]core.DeliveryLogEntry, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: delivery log store is not configured")
	}
	selectors := []repository.SelectCriteria{
		repository.OrderBy("created_at DESC"),
		repository.SelectPaginate(core.ClampLimit(filter.Limit, 50, 500), max(filter.Offset, 0)),
	}
	if subscriberID := strings.TrimSpace(filter.SubscriberID); subscriberID != "" {
		selectors = append(selectors, repository.SelectBy("subscriber_id", "=", subscriberID))
	}
	if event := strings.TrimSpace(filter.Event); event != "" {
		selectors = append(selectors, repository.SelectBy("event", "=", event))
	}
	records, _, err := s.repo.List(ctx, selectors...)
	if err != nil {
		return nil, err
	}
	out := make([]core.DeliveryLogEntry, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func (r *deliveryLogRecord) toDomain() core.DeliveryLogEntry {
	if r == nil {
		return core.DeliveryLogEntry{}
	}
	entry := core.DeliveryLogEntry{
		ID:           r.ID,
		SubscriberID: r.SubscriberID,
		Event:        r.Event,
		RequestBody:  []byte(r.RequestBody),
		Attempts:     r.Attempts,
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
	}
	if r.ResponseCode != nil {
		code := *r.ResponseCode
		entry.ResponseCode = &code
	}
	if r.ResponseBody != nil {
		body := *r.ResponseBody
		entry.ResponseBody = &body
	}
	return entry
}
