// Package relay wires the webhook relay: outbound fan-out with signed
// delivery, inbound intake with idempotent routing, and the workers that
// drain the durable queue.
package relay

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-relay/core"
	"github.com/goliatone/go-relay/inbound"
	"github.com/goliatone/go-relay/metrics"
	"github.com/goliatone/go-relay/ratelimit"
	memstore "github.com/goliatone/go-relay/store/memory"
	"github.com/goliatone/go-relay/webhooks"
	"github.com/goliatone/go-relay/worker"
)

type Config = core.Config

type Service = core.Service

func DefaultConfig() Config {
	return core.DefaultConfig()
}

// Relay owns one service instance and the components built on top of it.
type Relay struct {
	service    *core.Service
	stores     core.StoreProvider
	metrics    *metrics.Store
	dispatcher *webhooks.Dispatcher
	delivery   *webhooks.DeliveryHandler
	gateway    *inbound.Gateway
	router     *inbound.Router
	jobs       *worker.Registry
	worker     *worker.Worker
	reaper     *worker.Reaper
	janitor    *worker.Janitor
}

type Option func(*options)

type options struct {
	stores      core.StoreProvider
	serviceOpts []core.Option
	logger      core.Logger
	clock       core.Clock
	sender      webhooks.Sender
	throttle    webhooks.Throttle
	sink        inbound.EventSink
	builtins    *inbound.Builtins
	hooks       []worker.Hook
	extensions  *ExtensionHooks
}

// WithStores selects the persistence backends. The default is the
// in-memory store set.
func WithStores(stores core.StoreProvider) Option {
	return func(o *options) {
		o.stores = stores
	}
}

// WithServiceOptions forwards options to core.NewService. They are applied
// after the relay defaults.
func WithServiceOptions(opts ...core.Option) Option {
	return func(o *options) {
		o.serviceOpts = append(o.serviceOpts, opts...)
	}
}

func WithLogger(logger core.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func WithClock(clock core.Clock) Option {
	return func(o *options) {
		o.clock = clock
	}
}

func WithSender(sender webhooks.Sender) Option {
	return func(o *options) {
		o.sender = sender
	}
}

// WithThrottle replaces the per-host delivery throttle. The default is an
// adaptive policy over in-process state.
func WithThrottle(throttle webhooks.Throttle) Option {
	return func(o *options) {
		o.throttle = throttle
	}
}

// WithEventSink replaces the queue sink behind the inbound gateway.
func WithEventSink(sink inbound.EventSink) Option {
	return func(o *options) {
		o.sink = sink
	}
}

func WithBuiltins(builtins inbound.Builtins) Option {
	return func(o *options) {
		o.builtins = &builtins
	}
}

func WithWorkerHook(hook worker.Hook) Option {
	return func(o *options) {
		if hook != nil {
			o.hooks = append(o.hooks, hook)
		}
	}
}

func WithExtensions(extensions *ExtensionHooks) Option {
	return func(o *options) {
		o.extensions = extensions
	}
}

func New(cfg Config, opts ...Option) (*Relay, error) {
	o := options{}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.stores == nil {
		o.stores = memstore.NewStores()
	}

	serviceOpts := []core.Option{core.WithStoreProvider(o.stores)}
	var metricsStore *metrics.Store
	if samples := o.stores.MetricSampleStore(); samples != nil {
		metricOpts := []metrics.Option{}
		if o.logger != nil {
			metricOpts = append(metricOpts, metrics.WithLogger(o.logger))
		}
		if o.clock != nil {
			metricOpts = append(metricOpts, metrics.WithClock(o.clock))
		}
		store, err := metrics.NewStore(samples, metricOpts...)
		if err != nil {
			return nil, err
		}
		metricsStore = store
		serviceOpts = append(serviceOpts, core.WithMetricsRecorder(store.Recorder()))
	}
	if o.logger != nil {
		serviceOpts = append(serviceOpts, core.WithLogger(o.logger))
	}
	if o.clock != nil {
		serviceOpts = append(serviceOpts, core.WithClock(o.clock))
	}
	serviceOpts = append(serviceOpts, o.serviceOpts...)

	service, err := core.NewService(cfg, serviceOpts...)
	if err != nil {
		return nil, err
	}
	return assemble(service, metricsStore, o)
}

func assemble(service *core.Service, metricsStore *metrics.Store, o options) (*Relay, error) {
	resolved := service.Config()
	now := service.Clock()
	queue := service.JobQueue()

	r := &Relay{service: service, stores: o.stores, metrics: metricsStore}
	r.dispatcher = webhooks.NewDispatcher(
		queue,
		service.SubscriberDirectory(),
		service.DeliveryLogStore(),
		webhooks.WithTelemetry(service.Telemetry("dispatcher")),
		webhooks.WithMaxAttempts(resolved.Outbound.MaxAttempts),
		webhooks.WithClock(now),
	)

	r.delivery = webhooks.NewDeliveryHandler(o.sender, service.DeliveryLogStore(), service.Telemetry("delivery"))
	r.delivery.Now = now
	r.delivery.Throttle = o.throttle
	if r.delivery.Throttle == nil {
		policy := ratelimit.NewAdaptivePolicy(ratelimit.NewMemoryStateStore())
		policy.Now = now
		r.delivery.Throttle = policy
	}
	if timeout := resolved.Outbound.Timeout(); timeout > 0 {
		r.delivery.Timeout = timeout
	}
	if limit := resolved.Outbound.ResponseBodyLimit; limit > 0 {
		r.delivery.ResponseBodyLimit = limit
	}

	sink := o.sink
	if sink == nil {
		sink = inbound.QueueSink{Queue: queue, MaxAttempts: resolved.Queue.InboundMaxAttempts}
	}
	gateway, err := inbound.NewGateway(
		resolved.Inbound,
		sink,
		inbound.WithGatewayTelemetry(service.Telemetry("inbound")),
		inbound.WithGatewayClock(now),
	)
	if err != nil {
		return nil, err
	}
	r.gateway = gateway

	r.router = inbound.NewRouter(service.InboundEventLedger(), service.Telemetry("router"))
	if o.builtins != nil {
		if err := o.builtins.Register(r.router); err != nil {
			return nil, err
		}
	}

	r.jobs = worker.NewRegistry()
	if err := r.jobs.Register(core.JobTypeWebhookDelivery, worker.JobHandlerFunc(r.delivery.Handle)); err != nil {
		return nil, err
	}
	if err := r.jobs.Register(core.JobTypeInboundEvent, worker.JobHandlerFunc(r.router.HandleJob)); err != nil {
		return nil, err
	}
	if err := o.extensions.Apply(r); err != nil {
		return nil, err
	}

	workerOpts := []worker.Option{
		worker.WithID(resolved.Queue.WorkerID),
		worker.WithTelemetry(service.Telemetry("worker")),
		worker.WithPollInterval(resolved.Queue.PollInterval()),
		worker.WithConcurrency(resolved.Outbound.Concurrency),
	}
	for _, hook := range o.hooks {
		workerOpts = append(workerOpts, worker.WithHook(hook))
	}
	r.worker = worker.New(queue, r.jobs, workerOpts...)
	r.worker.Now = now

	if reclaimer, ok := queue.(core.JobReclaimer); ok {
		r.reaper = worker.NewReaper(reclaimer, resolved.Queue.LockTimeout(), service.Telemetry("reaper"))
		r.reaper.Now = now
	}
	r.janitor = &worker.Janitor{
		Queue:            queue,
		JobRetention:     resolved.Queue.Retention(),
		MetricsRetention: resolved.Metrics.Retention(),
		Interval:         worker.DefaultSweepInterval,
		Telemetry:        service.Telemetry("janitor"),
		Now:              now,
	}
	if metricsStore != nil {
		r.janitor.Metrics = metricsStore
	}
	return r, nil
}

// Run drives the worker, reaper and janitor until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) {
	var wg sync.WaitGroup
	if r.reaper.Enabled() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.reaper.Run(ctx)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.janitor.Run(ctx)
	}()
	r.worker.Start(ctx)
	wg.Wait()
}

func (r *Relay) Service() *core.Service                     { return r.service }
func (r *Relay) Stores() core.StoreProvider                 { return r.stores }
func (r *Relay) Metrics() *metrics.Store                    { return r.metrics }
func (r *Relay) Dispatcher() *webhooks.Dispatcher           { return r.dispatcher }
func (r *Relay) DeliveryHandler() *webhooks.DeliveryHandler { return r.delivery }
func (r *Relay) Gateway() *inbound.Gateway                  { return r.gateway }
func (r *Relay) Router() *inbound.Router                    { return r.router }
func (r *Relay) Jobs() *worker.Registry                     { return r.jobs }
func (r *Relay) Worker() *worker.Worker                     { return r.worker }
func (r *Relay) Reaper() *worker.Reaper                     { return r.reaper }
func (r *Relay) Janitor() *worker.Janitor                   { return r.janitor }

// InboundHandler is the POST endpoint for external events.
func (r *Relay) InboundHandler() http.Handler {
	return inbound.HTTPHandler(r.gateway, r.service.Config().Inbound.MaxBodyBytes)
}

// MetricsHandler serves Prometheus text, or 404 when no sample store is
// configured.
func (r *Relay) MetricsHandler() http.Handler {
	if r.metrics == nil {
		return http.NotFoundHandler()
	}
	return metrics.Handler(r.metrics)
}

func (r *Relay) RegisterHandler(eventType string, handler inbound.Handler) error {
	return r.router.Register(eventType, handler)
}

func (r *Relay) RegisterTransform(eventType string, transform webhooks.Transform) error {
	return r.dispatcher.RegisterTransform(eventType, transform)
}

func (r *Relay) RegisterJobHandler(jobType string, handler worker.JobHandler) error {
	return r.jobs.Register(jobType, handler)
}

func (r *Relay) Dispatch(
	ctx context.Context,
	eventType string,
	payload map[string]any,
	senderID string,
) (webhooks.DispatchResult, error) {
	return r.dispatcher.Dispatch(ctx, eventType, payload, senderID)
}

func (r *Relay) DispatchBatch(ctx context.Context, requests []webhooks.DispatchRequest) ([]webhooks.BatchDispatchItem, error) {
	return r.dispatcher.DispatchBatch(ctx, requests), nil
}

func (r *Relay) SendTestWebhook(ctx context.Context, subscriberID string, senderID string) (webhooks.DispatchResult, error) {
	registry := r.subscriberRegistry()
	if registry == nil {
		return webhooks.DispatchResult{}, core.NewRelayError("relay: subscriber registry is not configured", goerrors.CategoryInternal, core.RelayErrorInternal)
	}
	subscriber, err := registry.GetSubscriber(ctx, strings.TrimSpace(subscriberID))
	if err != nil {
		return webhooks.DispatchResult{}, r.service.MapError(err)
	}
	return r.dispatcher.SendTest(ctx, subscriber, senderID)
}

func (r *Relay) HandleInbound(ctx context.Context, req inbound.InboundRequest) (inbound.InboundAck, error) {
	return r.gateway.HandleInbound(ctx, req)
}

func (r *Relay) ProcessEvent(ctx context.Context, event inbound.NormalizedEvent) (inbound.ProcessResult, error) {
	return r.router.ProcessEvent(ctx, event)
}

func (r *Relay) RetryJob(ctx context.Context, jobID string) error {
	return r.service.MapError(r.service.JobQueue().Retry(ctx, jobID))
}

func (r *Relay) CancelJob(ctx context.Context, jobID string) error {
	return r.service.MapError(r.service.JobQueue().Cancel(ctx, jobID))
}

func (r *Relay) CleanupJobs(ctx context.Context, olderThan time.Time) (int, error) {
	removed, err := r.service.JobQueue().Cleanup(ctx, olderThan)
	return removed, r.service.MapError(err)
}

func (r *Relay) PurgeMetrics(ctx context.Context, olderThan time.Time) (int, error) {
	if r.metrics == nil {
		return 0, core.NewRelayError("relay: metrics store is not configured", goerrors.CategoryInternal, core.RelayErrorInternal)
	}
	purged, err := r.metrics.Purge(ctx, olderThan)
	return purged, r.service.MapError(err)
}

func (r *Relay) SaveSubscriber(ctx context.Context, subscriber core.Subscriber) (core.Subscriber, error) {
	registry := r.subscriberRegistry()
	if registry == nil {
		return core.Subscriber{}, core.NewRelayError("relay: subscriber registry is not configured", goerrors.CategoryInternal, core.RelayErrorInternal)
	}
	if err := subscriber.Validate(); err != nil {
		return core.Subscriber{}, core.WrapRelayError(err, goerrors.CategoryBadInput, core.RelayErrorBadInput, "relay: invalid subscriber")
	}
	saved, err := registry.SaveSubscriber(ctx, subscriber)
	return saved, r.service.MapError(err)
}

func (r *Relay) DeactivateSubscriber(ctx context.Context, subscriberID string) error {
	registry := r.subscriberRegistry()
	if registry == nil {
		return core.NewRelayError("relay: subscriber registry is not configured", goerrors.CategoryInternal, core.RelayErrorInternal)
	}
	return r.service.MapError(registry.DeactivateSubscriber(ctx, strings.TrimSpace(subscriberID)))
}

func (r *Relay) subscriberRegistry() core.SubscriberRegistry {
	registry, _ := r.service.SubscriberDirectory().(core.SubscriberRegistry)
	return registry
}
