package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/alpex29/infinitic"
	"github.com/alpex29/infinitic/client"
	"github.com/alpex29/infinitic/codec"
	"github.com/alpex29/infinitic/cron"
	"github.com/alpex29/infinitic/dlq"
	"github.com/alpex29/infinitic/entity"
	"github.com/alpex29/infinitic/ext"
	"github.com/alpex29/infinitic/id"
	"github.com/alpex29/infinitic/lifecycle"
	mw "github.com/alpex29/infinitic/middleware"
	"github.com/alpex29/infinitic/observability"
	"github.com/alpex29/infinitic/queue"
	"github.com/alpex29/infinitic/store"
	"github.com/alpex29/infinitic/stream"
	"github.com/alpex29/infinitic/transport"
	"github.com/alpex29/infinitic/worker"
)

const instrumentationName = "github.com/alpex29/infinitic"

// Engine hosts the lifecycle engines of the configured kinds, their
// consumers, and the local worker pool.
// Use Build() to create one from a Node.
type Engine struct {
	node       *infinitic.Node
	store      store.Store
	transport  transport.Transport
	codec      codec.Codec
	client     *client.Client
	engines    map[entity.Kind]*lifecycle.Engine
	extensions *ext.Registry
	registry   *worker.Registry
	executor   *worker.Executor
	pool       *worker.Pool
	dlqService *dlq.Service
	stream     *stream.Broker
	scheduler  *cron.Scheduler
	mws        []mw.Middleware
	logger     *slog.Logger
	config     infinitic.Config

	// Queue subsystem.
	queueConfigs []queue.Config
	queueManager *queue.Manager

	schedules []cron.Entry

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	mu          sync.Mutex
	running     bool
	poolRunning bool
	cronRunning bool
	cancel      context.CancelFunc
	group       *errgroup.Group
}

// Option configures an Engine.
type Option func(*Engine)

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) {
		eng.extensions.Register(e)
	}
}

// WithMiddleware adds middleware to the attempt execution chain.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithQueueConfig registers per-task rate limiting and concurrency
// configurations, in addition to those of the node configuration. Task
// names not listed have no limits.
func WithQueueConfig(configs ...queue.Config) Option {
	return func(eng *Engine) {
		eng.queueConfigs = append(eng.queueConfigs, configs...)
	}
}

// WithSchedule adds cron entries, in addition to those of the node
// configuration.
func WithSchedule(entries ...cron.Entry) Option {
	return func(eng *Engine) {
		eng.schedules = append(eng.schedules, entries...)
	}
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// When set, the tracing middleware uses this provider instead of the global one.
// If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) {
		eng.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom OTel MeterProvider for the engine.
// When set, both the metrics middleware and the observability extension
// use this provider instead of the global one.
// If not set, the global otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// Build creates an Engine from an existing Node.
// The Node's store must implement store.Store and its transport
// transport.Transport.
func Build(n *infinitic.Node, opts ...Option) (*Engine, error) {
	logger := n.Logger()
	cfg := n.Config()

	if n.Store() == nil {
		return nil, infinitic.ErrNoStore
	}
	st, ok := n.Store().(store.Store)
	if !ok {
		return nil, fmt.Errorf("infinitic: store %T does not implement store.Store", n.Store())
	}

	if n.Transport() == nil {
		return nil, infinitic.ErrNoTransport
	}
	tr, ok := n.Transport().(transport.Transport)
	if !ok {
		return nil, fmt.Errorf("infinitic: transport %T does not implement transport.Transport", n.Transport())
	}

	if cfg.ProcessRetryBase <= 0 {
		cfg.ProcessRetryBase = infinitic.DefaultConfig().ProcessRetryBase
	}
	if cfg.EngineConsumers < 1 {
		cfg.EngineConsumers = 1
	}

	eng := &Engine{
		node:       n,
		store:      st,
		transport:  tr,
		codec:      codec.Get(cfg.Codec),
		engines:    make(map[entity.Kind]*lifecycle.Engine, len(cfg.Kinds)),
		extensions: ext.NewRegistry(logger),
		registry:   worker.NewRegistry(),
		logger:     logger,
		config:     cfg,
	}

	for _, opt := range opts {
		opt(eng)
	}

	// Register the observability metrics extension.
	var obsExt *observability.MetricsExtension
	if eng.meterProvider != nil {
		obsExt = observability.NewMetricsExtensionWithMeter(eng.meterProvider.Meter(instrumentationName + "/observability"))
	} else {
		obsExt = observability.NewMetricsExtension()
	}
	eng.extensions.Register(obsExt)

	// The stream broker drains the monitoring feed.
	eng.stream = stream.NewBroker(logger, stream.WithCodec(eng.codec))
	eng.extensions.Register(eng.stream)

	eng.client = client.New(tr, client.WithCodec(eng.codec), client.WithLogger(logger))
	eng.dlqService = dlq.NewService(st, tr)

	eng.scheduler = cron.NewScheduler(eng.client, logger)
	entries, err := scheduleEntries(cfg.Schedules)
	if err != nil {
		return nil, err
	}
	for _, e := range append(entries, eng.schedules...) {
		if err := eng.scheduler.Add(e); err != nil {
			return nil, err
		}
	}

	// One lifecycle engine per hosted kind.
	for _, name := range cfg.Kinds {
		kind, err := entity.ParseKind(name)
		if err != nil {
			return nil, err
		}
		eng.engines[kind] = lifecycle.New(kind, st, tr,
			lifecycle.WithLogger(logger),
			lifecycle.WithCodec(eng.codec),
			lifecycle.WithExtensions(eng.extensions),
		)
	}

	// Build tracing middleware (custom provider or global).
	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.tracerProvider.Tracer(instrumentationName))
	} else {
		tracingMw = mw.Tracing()
	}

	// Build metrics middleware (custom provider or global).
	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(eng.meterProvider.Meter(instrumentationName))
	} else {
		metricsMw = mw.Metrics()
	}

	// Default middleware stack: recover → tracing → metrics → logging → attempt → timeout.
	defaultMws := []mw.Middleware{
		mw.Recover(logger),
		tracingMw,
		metricsMw,
		mw.Logging(logger),
		mw.Attempt(),
		mw.Timeout(logger),
	}
	allMws := make([]mw.Middleware, 0, len(defaultMws)+len(eng.mws))
	allMws = append(allMws, defaultMws...)
	allMws = append(allMws, eng.mws...)

	eng.executor = worker.NewExecutor(eng.registry, eng.client, eng.extensions, logger, allMws...)

	poolOpts := []worker.PoolOption{
		worker.WithPoolConcurrency(cfg.Concurrency),
		worker.WithPoolCodec(eng.codec),
		worker.WithDLQ(eng.dlqService),
	}

	// Create queue manager if queue configs were provided.
	configs := eng.queueConfigs
	for _, q := range cfg.Queues {
		configs = append(configs, queue.Config{
			Name:           q.Name,
			MaxConcurrency: q.MaxConcurrency,
			RateLimit:      q.RateLimit,
			RateBurst:      q.RateBurst,
		})
	}
	if len(configs) > 0 {
		eng.queueManager = queue.NewManager(configs...)
		poolOpts = append(poolOpts, worker.WithQueueManager(eng.queueManager))
	}

	eng.pool = worker.NewPool(tr, eng.registry, eng.executor, eng.extensions, logger, poolOpts...)

	// Wire back into the Node.
	n.SetRunner(eng)
	n.SetExtensions(eng.extensions)

	return eng, nil
}

// Start launches EngineConsumers consumers per hosted kind and, when at
// least one task is registered, the worker pool. It returns immediately.
func (eng *Engine) Start(ctx context.Context) error {
	eng.mu.Lock()
	defer eng.mu.Unlock()

	if eng.running {
		return nil
	}

	consumeCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	g, gctx := errgroup.WithContext(consumeCtx)

	for kind, le := range eng.engines {
		topic := le.Topic()
		handler := eng.handler(le)
		for i := 0; i < eng.config.EngineConsumers; i++ {
			g.Go(func() error {
				if err := eng.transport.Consume(gctx, topic, handler); err != nil && !errors.Is(err, context.Canceled) {
					return fmt.Errorf("consume %s: %w", topic, err)
				}
				return nil
			})
		}
		eng.logger.Info("lifecycle engine started",
			slog.String("kind", string(kind)),
			slog.String("topic", topic),
			slog.Int("consumers", eng.config.EngineConsumers),
		)
	}

	g.Go(func() error {
		if err := eng.transport.Consume(gctx, transport.MonitoringTopic, eng.stream.Handle); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("consume %s: %w", transport.MonitoringTopic, err)
		}
		return nil
	})

	if len(eng.registry.Names()) > 0 {
		if err := eng.pool.Start(ctx); err != nil {
			cancel()
			_ = g.Wait()
			return fmt.Errorf("start worker pool: %w", err)
		}
		eng.poolRunning = true
	}

	if len(eng.scheduler.Entries()) > 0 {
		if err := eng.scheduler.Start(ctx); err != nil {
			cancel()
			_ = g.Wait()
			if eng.poolRunning {
				_ = eng.pool.Stop(ctx)
				eng.poolRunning = false
			}
			return fmt.Errorf("start scheduler: %w", err)
		}
		eng.cronRunning = true
	}

	eng.cancel = cancel
	eng.group = g
	eng.running = true
	return nil
}

// Stop stops the consumers, then drains the worker pool within the
// deadline of ctx.
func (eng *Engine) Stop(ctx context.Context) error {
	eng.mu.Lock()
	if !eng.running {
		eng.mu.Unlock()
		return nil
	}
	eng.running = false
	cancel, g, poolRunning, cronRunning := eng.cancel, eng.group, eng.poolRunning, eng.cronRunning
	eng.poolRunning, eng.cronRunning = false, false
	eng.mu.Unlock()

	if cronRunning {
		_ = eng.scheduler.Stop(ctx)
	}
	cancel()
	err := g.Wait()
	if err != nil {
		eng.logger.Error("engine consumer failed", slog.String("error", err.Error()))
	}

	if poolRunning {
		if poolErr := eng.pool.Stop(ctx); poolErr != nil {
			err = errors.Join(err, poolErr)
		}
	}
	return err
}

// ── Client API ──────────────────────────────────────

// Register registers a task executed by the local worker pool. It must be
// called before Start.
func (eng *Engine) Register(name string, task worker.Task) error {
	return eng.registry.Register(name, task)
}

// RegisterService registers the methods of a service, reachable as
// "service::method".
func (eng *Engine) RegisterService(service string, methods map[string]worker.Task) error {
	return eng.registry.RegisterService(service, methods)
}

// Dispatch starts a new entity of the given kind and returns its id.
func (eng *Engine) Dispatch(ctx context.Context, kind entity.Kind, name string, input entity.Data, opts ...client.DispatchOption) (id.ID, error) {
	return eng.client.Dispatch(ctx, kind, name, input, opts...)
}

// Retry asks the engine of the entity to start a new attempt.
func (eng *Engine) Retry(ctx context.Context, entityID id.ID, o client.RetryOverrides) error {
	return eng.client.Retry(ctx, entityID, o)
}

// Cancel asks the engine of the entity to cancel it with output.
func (eng *Engine) Cancel(ctx context.Context, entityID id.ID, output entity.Data) error {
	return eng.client.Cancel(ctx, entityID, output)
}

// Get returns the current state of a live entity. Terminated entities have
// no state and return infinitic.ErrStateNotFound.
func (eng *Engine) Get(ctx context.Context, entityID id.ID) (*entity.State, error) {
	return eng.store.GetState(ctx, entityID)
}

// List returns live entities with the given status, oldest first.
func (eng *Engine) List(ctx context.Context, status entity.Status, opts entity.ListOpts) ([]*entity.State, error) {
	return eng.store.ListStates(ctx, status, opts)
}

// ── Accessors ───────────────────────────────────────

// Node returns the underlying Node.
func (eng *Engine) Node() *infinitic.Node { return eng.node }

// Store returns the engine's store.
func (eng *Engine) Store() store.Store { return eng.store }

// Client returns the client used to send engine-bound messages.
func (eng *Engine) Client() *client.Client { return eng.client }

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Registry returns the task registry.
func (eng *Engine) Registry() *worker.Registry { return eng.registry }

// Pool returns the worker pool.
func (eng *Engine) Pool() *worker.Pool { return eng.pool }

// DLQService returns the engine's DLQ service for replay and inspection.
func (eng *Engine) DLQService() *dlq.Service { return eng.dlqService }

// QueueManager returns the queue manager, or nil if no queue configs
// were provided.
func (eng *Engine) QueueManager() *queue.Manager { return eng.queueManager }

// Stream returns the broker publishing status changes and dead letters.
func (eng *Engine) Stream() *stream.Broker { return eng.stream }

// Scheduler returns the cron scheduler.
func (eng *Engine) Scheduler() *cron.Scheduler { return eng.scheduler }

// Kinds returns the entity kinds hosted by this engine.
func (eng *Engine) Kinds() []entity.Kind {
	kinds := make([]entity.Kind, 0, len(eng.engines))
	for _, k := range entity.Kinds() {
		if _, ok := eng.engines[k]; ok {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// Lifecycle returns the lifecycle engine of a kind, or nil when the kind
// is not hosted.
func (eng *Engine) Lifecycle(kind entity.Kind) *lifecycle.Engine { return eng.engines[kind] }

// scheduleEntries converts configured schedules. An empty kind means task.
func scheduleEntries(configs []infinitic.ScheduleConfig) ([]cron.Entry, error) {
	entries := make([]cron.Entry, 0, len(configs))
	for _, sc := range configs {
		kind := entity.KindTask
		if sc.Kind != "" {
			k, err := entity.ParseKind(sc.Kind)
			if err != nil {
				return nil, fmt.Errorf("schedule %q: %w", sc.Name, err)
			}
			kind = k
		}
		var input entity.Data
		if sc.Input != nil {
			d, err := entity.JSON(sc.Input)
			if err != nil {
				return nil, fmt.Errorf("schedule %q: encode input: %w", sc.Name, err)
			}
			input = d
		}
		entries = append(entries, cron.Entry{
			Name:     sc.Name,
			Schedule: sc.Cron,
			Kind:     kind,
			TaskName: sc.Task,
			Input:    input,
			Options:  entity.Options{Timeout: sc.Timeout},
		})
	}
	return entries, nil
}
