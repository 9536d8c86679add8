package core

import (
	"context"
	"fmt"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

// Service holds the resolved configuration and backends shared by the
// dispatcher, gateway, router and workers.
type Service struct {
	config         Config
	logger         Logger
	loggerProvider LoggerProvider
	metrics        MetricsRecorder
	errorMapper    ErrorMapper
	queue          JobQueue
	subscribers    SubscriberDirectory
	deliveryLogs   DeliveryLogStore
	ledger         InboundEventLedger
	metricSamples  MetricSampleStore
	retryPolicy    RetryPolicy
	clock          Clock
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	builder := defaultServiceBuilder(cfg)
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("relay", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("relay"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = MapError
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}
	if builder.retryPolicy == nil {
		builder.retryPolicy = DefaultRetryPolicy()
	}
	if builder.clock == nil {
		builder.clock = func() time.Time { return time.Now().UTC() }
	}

	defaults := DefaultConfig()
	finalConfig, err := resolveConfig(builder, defaults)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	if stores := builder.storeProvider; stores != nil {
		if builder.jobQueue == nil {
			builder.jobQueue = stores.JobQueue()
		}
		if builder.subscribers == nil {
			builder.subscribers = stores.SubscriberDirectory()
		}
		if builder.deliveryLogs == nil {
			builder.deliveryLogs = stores.DeliveryLogStore()
		}
		if builder.ledger == nil {
			builder.ledger = stores.InboundEventLedger()
		}
		if builder.metricSamples == nil {
			builder.metricSamples = stores.MetricSampleStore()
		}
	}
	if builder.jobQueue == nil {
		return nil, mapBuildError(builder.errorMapper, fmt.Errorf("core: job queue is required"))
	}

	return &Service{
		config:         finalConfig,
		logger:         logger,
		loggerProvider: provider,
		metrics:        builder.metricsRecorder,
		errorMapper:    builder.errorMapper,
		queue:          builder.jobQueue,
		subscribers:    builder.subscribers,
		deliveryLogs:   builder.deliveryLogs,
		ledger:         builder.ledger,
		metricSamples:  builder.metricSamples,
		retryPolicy:    builder.retryPolicy,
		clock:          builder.clock,
	}, nil
}

func (s *Service) Config() Config {
	if s == nil {
		return DefaultConfig()
	}
	return s.config
}

// Logger returns a named child logger when a provider is configured.
func (s *Service) Logger(name string) Logger {
	if s == nil {
		return glog.Nop()
	}
	if s.loggerProvider != nil && name != "" {
		if named := s.loggerProvider.GetLogger(name); named != nil {
			return glog.Ensure(named)
		}
	}
	return s.logger
}

func (s *Service) Telemetry(component string) Telemetry {
	if s == nil {
		return NewTelemetry(nil, nil, component)
	}
	return NewTelemetry(s.Logger(component), s.metrics, component)
}

func (s *Service) MetricsRecorder() MetricsRecorder {
	if s == nil {
		return NopMetricsRecorder{}
	}
	return s.metrics
}

func (s *Service) JobQueue() JobQueue {
	if s == nil {
		return nil
	}
	return s.queue
}

func (s *Service) SubscriberDirectory() SubscriberDirectory {
	if s == nil {
		return nil
	}
	return s.subscribers
}

func (s *Service) DeliveryLogStore() DeliveryLogStore {
	if s == nil {
		return nil
	}
	return s.deliveryLogs
}

func (s *Service) InboundEventLedger() InboundEventLedger {
	if s == nil {
		return nil
	}
	return s.ledger
}

func (s *Service) MetricSampleStore() MetricSampleStore {
	if s == nil {
		return nil
	}
	return s.metricSamples
}

func (s *Service) RetryPolicy() RetryPolicy {
	if s == nil || s.retryPolicy == nil {
		return DefaultRetryPolicy()
	}
	return s.retryPolicy
}

func (s *Service) Clock() Clock {
	if s == nil || s.clock == nil {
		return func() time.Time { return time.Now().UTC() }
	}
	return s.clock
}

func (s *Service) MapError(err error) error {
	if err == nil {
		return nil
	}
	if s == nil || s.errorMapper == nil {
		return MapError(err)
	}
	return mapBuildError(s.errorMapper, err)
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		return err
	}
	mapped := mapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func resolveConfig(builder serviceBuilder, defaults Config) (Config, error) {
	ctx := context.Background()
	layered, ok := builder.configProvider.(LayeredConfigProvider)
	layerResolver, canLayer := builder.optionsResolver.(LayerResolver)
	if ok && canLayer {
		_, raw, err := layered.LoadLayer(ctx, defaults)
		if err != nil {
			return Config{}, err
		}
		return layerResolver.ResolveLayer(defaults, raw, builder.runtimeConfig)
	}
	loaded, err := builder.configProvider.Load(ctx, defaults)
	if err != nil {
		return Config{}, err
	}
	return builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
}
