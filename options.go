package infinitic

import (
	"context"
	"log/slog"
)

// Option configures a Node.
type Option func(*Node) error

// Storer is the minimal store interface held by the Node.
// It covers lifecycle operations only. The full composite interface
// (store.Store) is used in the layers above that don't create import
// cycles.
type Storer interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// Transporter is the minimal transport interface held by the Node. The
// send and consume contracts live in the transport package.
type Transporter interface {
	Close() error
}

// runner is an internal interface for the consumers and worker pool
// started by the engine package.
type runner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// extensionEmitter is an internal interface for extension lifecycle events.
type extensionEmitter interface {
	EmitShutdown(ctx context.Context)
}

// Node is the central holder of configuration, logger, store and transport
// for one process of the orchestration system.
//
// Create one with New() and functional options, then pass it to
// engine.Build which wires lifecycle engines, consumers and workers and
// registers itself back through SetRunner.
type Node struct {
	config     Config
	logger     *slog.Logger
	store      Storer
	transport  Transporter
	extensions extensionEmitter
	runner     runner

	started bool
}

// New creates a new Node with the given options.
func New(opts ...Option) (*Node, error) {
	n := &Node{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(n); err != nil {
			return nil, err
		}
	}
	return n, nil
}

// Logger returns the node's logger.
func (n *Node) Logger() *slog.Logger { return n.logger }

// Store returns the node's store.
func (n *Node) Store() Storer { return n.store }

// Transport returns the node's transport.
func (n *Node) Transport() Transporter { return n.transport }

// Config returns a copy of the node's configuration.
func (n *Node) Config() Config { return n.config }

// SetRunner sets the component started by Start (called by engine.Build).
func (n *Node) SetRunner(r runner) { n.runner = r }

// SetExtensions sets the extension emitter (called by engine.Build).
func (n *Node) SetExtensions(e extensionEmitter) { n.extensions = e }

// Start begins consuming messages.
func (n *Node) Start(ctx context.Context) error {
	if n.store == nil {
		return ErrNoStore
	}
	if n.transport == nil {
		return ErrNoTransport
	}
	if n.runner == nil {
		return ErrNotBuilt
	}
	if err := n.runner.Start(ctx); err != nil {
		return err
	}
	n.started = true
	return nil
}

// Stop gracefully shuts down the node and closes its transport and store.
func (n *Node) Stop(ctx context.Context) error {
	if n.runner != nil && n.started {
		if err := n.runner.Stop(ctx); err != nil {
			n.logger.Error("runner stop error", slog.String("error", err.Error()))
		}
		n.started = false
	}
	if n.extensions != nil {
		n.extensions.EmitShutdown(ctx)
	}
	if n.transport != nil {
		if err := n.transport.Close(); err != nil {
			n.logger.Error("transport close error", slog.String("error", err.Error()))
		}
	}
	if n.store != nil {
		return n.store.Close()
	}
	return nil
}

// WithConfig replaces the whole configuration, typically one returned by
// LoadConfig.
func WithConfig(cfg Config) Option {
	return func(n *Node) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		n.config = cfg
		return nil
	}
}

// WithConcurrency sets the maximum number of attempts executed concurrently.
func WithConcurrency(c int) Option {
	return func(n *Node) error {
		n.config.Concurrency = c
		return nil
	}
}

// WithEngineConsumers sets the number of consumers per engine topic.
func WithEngineConsumers(c int) Option {
	return func(n *Node) error {
		n.config.EngineConsumers = c
		return nil
	}
}

// WithKinds restricts the lifecycle engines hosted by this node.
func WithKinds(kinds ...string) Option {
	return func(n *Node) error {
		n.config.Kinds = kinds
		return nil
	}
}

// WithCodec selects the envelope encoding ("json" or "msgpack").
func WithCodec(name string) Option {
	return func(n *Node) error {
		n.config.Codec = name
		return nil
	}
}

// WithLogger sets the structured logger for the node.
func WithLogger(l *slog.Logger) Option {
	return func(n *Node) error {
		n.logger = l
		return nil
	}
}

// WithStore sets the persistence backend for the node.
// The store must implement Storer at minimum; typically it will be a
// store.Store which embeds entity.Store and dlq.Store.
func WithStore(s Storer) Option {
	return func(n *Node) error {
		n.store = s
		return nil
	}
}

// WithTransport sets the message transport for the node. It must also
// implement transport.Sender and transport.Consumer.
func WithTransport(t Transporter) Option {
	return func(n *Node) error {
		n.transport = t
		return nil
	}
}
