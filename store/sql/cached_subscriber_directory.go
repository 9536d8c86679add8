package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/goliatone/go-relay/core"
)

const subscriberCacheKeyPrefix = "go-relay::subscribers::v1"

// CachedSubscriberDirectory fronts a SubscriberRegistry with a read-through
// cache keyed by event type. Writes through the directory drop every cached
// event type, since a wildcard subscriber changes all of them.
type CachedSubscriberDirectory struct {
	base  core.SubscriberRegistry
	cache repositorycache.CacheService

	mu   sync.Mutex
	keys map[string]struct{}
}

func NewCachedSubscriberDirectory(
	base core.SubscriberRegistry,
	cacheService repositorycache.CacheService,
) (*CachedSubscriberDirectory, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base subscriber registry is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: subscriber cache service is required")
	}
	return &CachedSubscriberDirectory{
		base:  base,
		cache: cacheService,
		keys:  map[string]struct{}{},
	}, nil
}

// SubscriberCacheKey is go-relay::subscribers::v1::<event_type> with the
// event type URL-path escaped.
func SubscriberCacheKey(eventType string) (string, error) {
	eventType = strings.TrimSpace(eventType)
	if eventType == "" {
		return "", fmt.Errorf("sqlstore: event type is required for subscriber cache key")
	}
	return subscriberCacheKeyPrefix + "::" + url.PathEscape(eventType), nil
}

func (d *CachedSubscriberDirectory) ListActiveSubscribers(ctx context.Context, eventType string) ([]core.Subscriber, error) {
	if d == nil || d.base == nil || d.cache == nil {
		return nil, fmt.Errorf("sqlstore: cached subscriber directory is not configured")
	}
	cacheKey, err := SubscriberCacheKey(eventType)
	if err != nil {
		return nil, err
	}
	d.remember(cacheKey)

	subscribers, err := repositorycache.GetOrFetch(ctx, d.cache, cacheKey, func(ctx context.Context) ([]core.Subscriber, error) {
		return d.base.ListActiveSubscribers(ctx, eventType)
	})
	if err != nil {
		return nil, err
	}
	return cloneSubscribers(subscribers), nil
}

func (d *CachedSubscriberDirectory) SaveSubscriber(ctx context.Context, subscriber core.Subscriber) (core.Subscriber, error) {
	if d == nil || d.base == nil {
		return core.Subscriber{}, fmt.Errorf("sqlstore: cached subscriber directory is not configured")
	}
	saved, err := d.base.SaveSubscriber(ctx, subscriber)
	if err != nil {
		return core.Subscriber{}, err
	}
	return saved, d.Invalidate(ctx)
}

func (d *CachedSubscriberDirectory) GetSubscriber(ctx context.Context, id string) (core.Subscriber, error) {
	if d == nil || d.base == nil {
		return core.Subscriber{}, fmt.Errorf("sqlstore: cached subscriber directory is not configured")
	}
	return d.base.GetSubscriber(ctx, id)
}

func (d *CachedSubscriberDirectory) DeactivateSubscriber(ctx context.Context, id string) error {
	if d == nil || d.base == nil {
		return fmt.Errorf("sqlstore: cached subscriber directory is not configured")
	}
	if err := d.base.DeactivateSubscriber(ctx, id); err != nil {
		return err
	}
	return d.Invalidate(ctx)
}

// Invalidate drops every event type cached so far.
func (d *CachedSubscriberDirectory) Invalidate(ctx context.Context) error {
	d.mu.Lock()
	keys := make([]string, 0, len(d.keys))
	for key := range d.keys {
		keys = append(keys, key)
	}
	d.keys = map[string]struct{}{}
	d.mu.Unlock()

	for _, key := range keys {
		if err := d.cache.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

func (d *CachedSubscriberDirectory) remember(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.keys == nil {
		d.keys = map[string]struct{}{}
	}
	d.keys[key] = struct{}{}
}

func cloneSubscribers(subscribers []core.Subscriber) []core.Subscriber {
	out := make([]core.Subscriber, 0, len(subscribers))
	for _, subscriber := range subscribers {
		subscriber.EventTypes = append([]string(nil), subscriber.EventTypes...)
		out = append(out, subscriber)
	}
	return out
}
