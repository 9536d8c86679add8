package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-config/cfgx"
	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	opts "github.com/goliatone/go-options"
)

type ErrorMapper func(err error) *goerrors.Error

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

// LayeredConfigProvider also returns the raw loaded map so keys set to their
// zero value still override the defaults.
type LayeredConfigProvider interface {
	ConfigProvider
	LoadLayer(ctx context.Context, defaults Config) (Config, map[string]any, error)
}

// LayerResolver resolves with the loaded layer given as a raw map.
type LayerResolver interface {
	ResolveLayer(defaults Config, loaded map[string]any, runtime Config) (Config, error)
}

// StoreProvider exposes the persistence backends a Service runs on.
type StoreProvider interface {
	JobQueue() JobQueue
	SubscriberDirectory() SubscriberDirectory
	DeliveryLogStore() DeliveryLogStore
	InboundEventLedger() InboundEventLedger
	MetricSampleStore() MetricSampleStore
}

type serviceBuilder struct {
	runtimeConfig   Config
	logger          Logger
	loggerProvider  LoggerProvider
	metricsRecorder MetricsRecorder
	errorMapper     ErrorMapper
	configProvider  ConfigProvider
	optionsResolver OptionsResolver
	storeProvider   StoreProvider
	jobQueue        JobQueue
	subscribers     SubscriberDirectory
	deliveryLogs    DeliveryLogStore
	ledger          InboundEventLedger
	metricSamples   MetricSampleStore
	retryPolicy     RetryPolicy
	clock           Clock
}

type Option func(*serviceBuilder)

func WithLogger(logger Logger) Option {
	return func(b *serviceBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider LoggerProvider) Option {
	return func(b *serviceBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(b *serviceBuilder) {
		b.metricsRecorder = recorder
	}
}

func WithErrorMapper(mapper ErrorMapper) Option {
	return func(b *serviceBuilder) {
		b.errorMapper = mapper
	}
}

func WithConfigProvider(provider ConfigProvider) Option {
	return func(b *serviceBuilder) {
		b.configProvider = provider
	}
}

func WithOptionsResolver(resolver OptionsResolver) Option {
	return func(b *serviceBuilder) {
		b.optionsResolver = resolver
	}
}

func WithStoreProvider(provider StoreProvider) Option {
	return func(b *serviceBuilder) {
		b.storeProvider = provider
	}
}

func WithJobQueue(queue JobQueue) Option {
	return func(b *serviceBuilder) {
		b.jobQueue = queue
	}
}

func WithSubscriberDirectory(directory SubscriberDirectory) Option {
	return func(b *serviceBuilder) {
		b.subscribers = directory
	}
}

func WithDeliveryLogStore(store DeliveryLogStore) Option {
	return func(b *serviceBuilder) {
		b.deliveryLogs = store
	}
}

func WithInboundEventLedger(ledger InboundEventLedger) Option {
	return func(b *serviceBuilder) {
		b.ledger = ledger
	}
}

func WithMetricSampleStore(store MetricSampleStore) Option {
	return func(b *serviceBuilder) {
		b.metricSamples = store
	}
}

func WithRetryPolicy(policy RetryPolicy) Option {
	return func(b *serviceBuilder) {
		b.retryPolicy = policy
	}
}

func WithClock(clock Clock) Option {
	return func(b *serviceBuilder) {
		b.clock = clock
	}
}

func defaultServiceBuilder(runtime Config) serviceBuilder {
	loggerProvider, logger := glog.Resolve("relay", nil, nil)
	return serviceBuilder{
		runtimeConfig:   runtime,
		loggerProvider:  loggerProvider,
		logger:          logger,
		metricsRecorder: NopMetricsRecorder{},
		errorMapper:     MapError,
		configProvider:  NewCfgxConfigProvider(nil),
		optionsResolver: GoOptionsResolver{},
	}
}

type staticRawConfigLoader struct {
	Values map[string]any
}

func (l staticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

// StaticConfigLoader serves a fixed raw map, mostly for tests and embedding.
func StaticConfigLoader(values map[string]any) RawConfigLoader {
	return staticRawConfigLoader{Values: values}
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	cfg, _, err := p.LoadLayer(ctx, defaults)
	return cfg, err
}

func (p *CfgxConfigProvider) LoadLayer(ctx context.Context, defaults Config) (Config, map[string]any, error) {
	if p == nil {
		return defaults, map[string]any{}, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = staticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, nil, err
	}
	if raw == nil {
		raw = map[string]any{}
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, nil, err
	}
	return cfg, raw, nil
}

type GoOptionsResolver struct{}

func (r GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	return r.ResolveLayer(defaults, configToLayerMap(loaded, false), runtime)
}

// ResolveLayer merges defaults, the loaded layer verbatim and the non-zero
// runtime fields, in that order of precedence.
func (GoOptionsResolver) ResolveLayer(defaults Config, loaded map[string]any, runtime Config) (Config, error) {
	if loaded == nil {
		loaded = map[string]any{}
	}
	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			configToLayerMap(defaults, true),
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			loaded,
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			configToLayerMap(runtime, false),
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

// configToLayerMap emits only non-zero values unless includeZero is set, so a
// runtime Config never blanks a lower layer with its zero value. Loaded config
// goes through ResolveLayer as a raw map instead.
func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.ServiceName) != "" {
		layer["service_name"] = cfg.ServiceName
	}

	inbound := map[string]any{}
	putBool(inbound, "enabled", cfg.Inbound.Enabled, includeZero)
	putBool(inbound, "validate_signature", cfg.Inbound.ValidateSignature, includeZero)
	putString(inbound, "secret", cfg.Inbound.Secret, includeZero)
	putInt(inbound, "tolerance_seconds", cfg.Inbound.ToleranceSeconds, includeZero)
	putInt(inbound, "max_body_bytes", int(cfg.Inbound.MaxBodyBytes), includeZero)
	if includeZero || len(cfg.Inbound.IPAllowlist) > 0 {
		inbound["ip_allowlist"] = append([]string(nil), cfg.Inbound.IPAllowlist...)
	}
	putSection(layer, "inbound", inbound)

	outbound := map[string]any{}
	putBool(outbound, "enabled", cfg.Outbound.Enabled, includeZero)
	putInt(outbound, "max_attempts", cfg.Outbound.MaxAttempts, includeZero)
	putInt(outbound, "timeout_seconds", cfg.Outbound.TimeoutSeconds, includeZero)
	putInt(outbound, "concurrency", cfg.Outbound.Concurrency, includeZero)
	putInt(outbound, "response_body_limit", cfg.Outbound.ResponseBodyLimit, includeZero)
	putSection(layer, "outbound", outbound)

	queue := map[string]any{}
	putString(queue, "worker_id", cfg.Queue.WorkerID, includeZero)
	putInt(queue, "poll_interval_ms", cfg.Queue.PollIntervalMillis, includeZero)
	putInt(queue, "lock_timeout_seconds", cfg.Queue.LockTimeoutSeconds, includeZero)
	putInt(queue, "retention_hours", cfg.Queue.RetentionHours, includeZero)
	putInt(queue, "inbound_max_attempts", cfg.Queue.InboundMaxAttempts, includeZero)
	putSection(layer, "queue", queue)

	metrics := map[string]any{}
	putInt(metrics, "retention_hours", cfg.Metrics.RetentionHours, includeZero)
	putSection(layer, "metrics", metrics)

	database := map[string]any{}
	putString(database, "driver", cfg.Database.Driver, includeZero)
	putString(database, "dsn", cfg.Database.DSN, includeZero)
	putBool(database, "debug", cfg.Database.Debug, includeZero)
	putString(database, "secret_key", cfg.Database.SecretKey, includeZero)
	putSection(layer, "database", database)
	return layer
}

func putSection(layer map[string]any, key string, section map[string]any) {
	if len(section) > 0 {
		layer[key] = section
	}
}

func putBool(section map[string]any, key string, value bool, includeZero bool) {
	if includeZero || value {
		section[key] = value
	}
}

func putInt(section map[string]any, key string, value int, includeZero bool) {
	if includeZero || value != 0 {
		section[key] = value
	}
}

func putString(section map[string]any, key string, value string, includeZero bool) {
	if includeZero || strings.TrimSpace(value) != "" {
		section[key] = value
	}
}
