package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-relay/core"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type SubscriberStore struct {
	db     *bun.DB
	repo   repository.Repository[*subscriberRecord]
	cipher core.SecretCipher
}

type SubscriberStoreOption func(*SubscriberStore)

// WithSecretCipher seals subscriber secrets on write and opens them on read.
func WithSecretCipher(cipher core.SecretCipher) SubscriberStoreOption {
	return func(s *SubscriberStore) {
		s.cipher = cipher
	}
}

func NewSubscriberStore(db *bun.DB, opts ...SubscriberStoreOption) (*SubscriberStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*subscriberRecord](db, subscriberHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid subscriber repository wiring: %w", err)
		}
	}
	store := &SubscriberStore{db: db, repo: repo}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store, nil
}

// ListActiveSubscribers loads active rows and filters event types in process,
// since the json column has no portable containment operator across dialects.
func (s *SubscriberStore) ListActiveSubscribers(ctx context.Context, eventType string) ([]core.Subscriber, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: subscriber store is not configured")
	}
	records := make([]*subscriberRecord, 0)
	err := s.db.NewSelect().
		Model(&records).
		Where("?TableAlias.active = ?", true).
		OrderExpr("?TableAlias.id ASC").
		Scan(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	out := make([]core.Subscriber, 0, len(records))
	for _, record := range records {
		subscriber := record.toDomain()
		if !subscriber.Accepts(eventType) {
			continue
		}
		if subscriber.Secret, err = s.openSecret(ctx, subscriber.Secret); err != nil {
			return nil, err
		}
		out = append(out, subscriber)
	}
	return out, nil
}

func (s *SubscriberStore) SaveSubscriber(ctx context.Context, subscriber core.Subscriber) (core.Subscriber, error) {
	if s == nil || s.repo == nil {
		return core.Subscriber{}, fmt.Errorf("sqlstore: subscriber store is not configured")
	}
	if err := subscriber.Validate(); err != nil {
		return core.Subscriber{}, err
	}
	secret, err := s.sealSecret(ctx, subscriber.Secret)
	if err != nil {
		return core.Subscriber{}, err
	}
	now := time.Now().UTC()
	record := &subscriberRecord{
		ID:         strings.TrimSpace(subscriber.ID),
		URL:        strings.TrimSpace(subscriber.URL),
		Secret:     secret,
		EventTypes: normalizeEventTypes(subscriber.EventTypes),
		Active:     subscriber.Active,
		UpdatedAt:  now,
	}

	if record.ID == "" {
		record.ID = uuid.NewString()
		record.CreatedAt = now
		if _, err := s.repo.Create(ctx, record); err != nil {
			return core.Subscriber{}, err
		}
		return withSecret(record.toDomain(), subscriber.Secret), nil
	}

	// Caller ids are opaque strings, so upsert on the key instead of going
	// through the uuid keyed repository.
	record.CreatedAt = now
	_, err = s.db.NewInsert().
		Model(record).
		On("CONFLICT (id) DO UPDATE").
		Set("url = EXCLUDED.url").
		Set("secret = EXCLUDED.secret").
		Set("event_types = EXCLUDED.event_types").
		Set("active = EXCLUDED.active").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return core.Subscriber{}, err
	}
	stored, err := s.load(ctx, record.ID)
	if err != nil {
		return core.Subscriber{}, err
	}
	return withSecret(stored.toDomain(), subscriber.Secret), nil
}

func (s *SubscriberStore) GetSubscriber(ctx context.Context, id string) (core.Subscriber, error) {
	if s == nil || s.db == nil {
		return core.Subscriber{}, fmt.Errorf("sqlstore: subscriber store is not configured")
	}
	record, err := s.load(ctx, id)
	if err != nil {
		return core.Subscriber{}, err
	}
	subscriber := record.toDomain()
	if subscriber.Secret, err = s.openSecret(ctx, subscriber.Secret); err != nil {
		return core.Subscriber{}, err
	}
	return subscriber, nil
}

func (s *SubscriberStore) sealSecret(ctx context.Context, secret string) (string, error) {
	if s.cipher == nil {
		return secret, nil
	}
	sealed, err := s.cipher.Encrypt(ctx, []byte(secret))
	if err != nil {
		return "", fmt.Errorf("sqlstore: seal subscriber secret: %w", err)
	}
	return string(sealed), nil
}

func (s *SubscriberStore) openSecret(ctx context.Context, stored string) (string, error) {
	if s.cipher == nil {
		return stored, nil
	}
	plaintext, err := s.cipher.Decrypt(ctx, []byte(stored))
	if err != nil {
		return "", fmt.Errorf("sqlstore: open subscriber secret: %w", err)
	}
	return string(plaintext), nil
}

func withSecret(subscriber core.Subscriber, secret string) core.Subscriber {
	subscriber.Secret = secret
	return subscriber
}

func (s *SubscriberStore) DeactivateSubscriber(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: subscriber store is not configured")
	}
	res, err := s.db.NewUpdate().
		Model((*subscriberRecord)(nil)).
		Set("active = ?", false).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", strings.TrimSpace(id)).
		Exec(ctx)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("%w: %s", core.ErrSubscriberNotFound, id)
	}
	return nil
}

func (s *SubscriberStore) load(ctx context.Context, id string) (*subscriberRecord, error) {
	record := &subscriberRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", strings.TrimSpace(id)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", core.ErrSubscriberNotFound, id)
		}
		return nil, err
	}
	return record, nil
}

func (r *subscriberRecord) toDomain() core.Subscriber {
	if r == nil {
		return core.Subscriber{}
	}
	return core.Subscriber{
		ID:         r.ID,
		URL:        r.URL,
		Secret:     r.Secret,
		EventTypes: append([]string(nil), r.EventTypes...),
		Active:     r.Active,
		CreatedAt:  r.CreatedAt.UTC(),
		UpdatedAt:  r.UpdatedAt.UTC(),
	}
}

func normalizeEventTypes(eventTypes []string) []string {
	out := make([]string, 0, len(eventTypes))
	for _, eventType := range eventTypes {
		eventType = strings.TrimSpace(eventType)
		if eventType == "" || slices.Contains(out, eventType) {
			continue
		}
		out = append(out, eventType)
	}
	slices.Sort(out)
	return out
}
