package sqlstore

import (
	"fmt"

	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/goliatone/go-relay/core"
	"github.com/uptrace/bun"
)

type RepositoryFactory struct {
	db           *bun.DB
	cacheService repositorycache.CacheService
	secretCipher core.SecretCipher
	jobOptions   []JobStoreOption

	jobStore          *JobStore
	subscriberStore   *SubscriberStore
	cachedDirectory   *CachedSubscriberDirectory
	deliveryLogStore  *DeliveryLogStore
	inboundEventStore *InboundEventStore
	metricSampleStore *MetricSampleStore
}

type FactoryOption func(*RepositoryFactory)

// WithSubscriberCache fronts the subscriber directory with the given cache.
func WithSubscriberCache(cacheService repositorycache.CacheService) FactoryOption {
	return func(f *RepositoryFactory) {
		f.cacheService = cacheService
	}
}

// WithSubscriberSecretCipher seals subscriber secrets at rest.
func WithSubscriberSecretCipher(cipher core.SecretCipher) FactoryOption {
	return func(f *RepositoryFactory) {
		f.secretCipher = cipher
	}
}

func WithJobStoreOptions(opts ...JobStoreOption) FactoryOption {
	return func(f *RepositoryFactory) {
		f.jobOptions = append(f.jobOptions, opts...)
	}
}

func NewRepositoryFactory(opts ...FactoryOption) *RepositoryFactory {
	factory := &RepositoryFactory{}
	for _, opt := range opts {
		if opt != nil {
			opt(factory)
		}
	}
	return factory
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client, opts ...FactoryOption) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory(opts...)
	if _, err := factory.BuildStores(client); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromDB(db *bun.DB, opts ...FactoryOption) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory(opts...)
	if _, err := factory.BuildStores(db); err != nil {
		return nil, err
	}
	return factory, nil
}

// BuildStores accepts a *bun.DB or anything exposing DB() *bun.DB, such as a
// go-persistence-bun client.
func (f *RepositoryFactory) BuildStores(persistenceClient any) (core.StoreProvider, error) {
	if f == nil {
		return nil, fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.db == nil {
		db, err := resolveBunDB(persistenceClient)
		if err != nil {
			return nil, err
		}
		f.db = db
	}
	if f.jobStore != nil && f.subscriberStore != nil {
		return f, nil
	}
	if err := f.initStores(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func (f *RepositoryFactory) JobQueue() core.JobQueue {
	if f == nil || f.jobStore == nil {
		return nil
	}
	return f.jobStore
}

func (f *RepositoryFactory) JobStore() *JobStore {
	if f == nil {
		return nil
	}
	return f.jobStore
}

func (f *RepositoryFactory) SubscriberDirectory() core.SubscriberDirectory {
	return f.SubscriberRegistry()
}

// SubscriberRegistry returns the cached directory when a cache is configured.
func (f *RepositoryFactory) SubscriberRegistry() core.SubscriberRegistry {
	if f == nil {
		return nil
	}
	if f.cachedDirectory != nil {
		return f.cachedDirectory
	}
	if f.subscriberStore == nil {
		return nil
	}
	return f.subscriberStore
}

func (f *RepositoryFactory) DeliveryLogStore() core.DeliveryLogStore {
	if f == nil || f.deliveryLogStore == nil {
		return nil
	}
	return f.deliveryLogStore
}

func (f *RepositoryFactory) InboundEventLedger() core.InboundEventLedger {
	if f == nil || f.inboundEventStore == nil {
		return nil
	}
	return f.inboundEventStore
}

func (f *RepositoryFactory) MetricSampleStore() core.MetricSampleStore {
	if f == nil || f.metricSampleStore == nil {
		return nil
	}
	return f.metricSampleStore
}

func (f *RepositoryFactory) initStores() error {
	jobStore, err := NewJobStore(f.db, f.jobOptions...)
	if err != nil {
		return err
	}
	f.jobStore = jobStore

	subscriberStore, err := NewSubscriberStore(f.db, WithSecretCipher(f.secretCipher))
	if err != nil {
		return err
	}
	f.subscriberStore = subscriberStore
	if f.cacheService != nil {
		cached, err := NewCachedSubscriberDirectory(subscriberStore, f.cacheService)
		if err != nil {
			return err
		}
		f.cachedDirectory = cached
	}

	deliveryLogStore, err := NewDeliveryLogStore(f.db)
	if err != nil {
		return err
	}
	f.deliveryLogStore = deliveryLogStore

	inboundEventStore, err := NewInboundEventStore(f.db)
	if err != nil {
		return err
	}
	f.inboundEventStore = inboundEventStore

	metricSampleStore, err := NewMetricSampleStore(f.db)
	if err != nil {
		return err
	}
	f.metricSampleStore = metricSampleStore
	return nil
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}
