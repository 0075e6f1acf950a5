package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/alpex29/infinitic/codec"
	"github.com/alpex29/infinitic/dlq"
	"github.com/alpex29/infinitic/ext"
	"github.com/alpex29/infinitic/message"
	"github.com/alpex29/infinitic/transport"
)

// errThrottled leaves a delivery for redelivery when its queue is at
// capacity.
var errThrottled = errors.New("worker: task queue throttled")

// QueueManager controls per-task rate limiting and concurrency. The pool
// calls Acquire before executing an attempt and Release after execution
// completes.
type QueueManager interface {
	// Acquire checks rate limits and concurrency for the task name.
	// Returns true if the attempt is allowed to proceed.
	Acquire(name string) bool
	// Release decrements the active count for the task name.
	Release(name string)
}

// Pool consumes the executor topic of every registered task and runs
// attempts through the Executor with bounded concurrency.
type Pool struct {
	consumer    transport.Consumer
	codec       codec.Codec
	executor    *Executor
	registry    *Registry
	extensions  *ext.Registry
	concurrency int
	logger      *slog.Logger

	// Queue manager (optional).
	queueManager QueueManager
	// Dead letters for undecodable deliveries (optional).
	dlq *dlq.Service

	sem        *semaphore.Weighted
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	mu         sync.Mutex
	running    bool
	activeRuns map[string]context.CancelFunc
	activeMu   sync.Mutex
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolConcurrency sets the maximum number of attempts running at once.
func WithPoolConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithPoolCodec sets the codec deliveries are decoded with.
func WithPoolCodec(c codec.Codec) PoolOption {
	return func(p *Pool) { p.codec = c }
}

// WithQueueManager sets the queue manager for rate limiting and
// concurrency control.
func WithQueueManager(m QueueManager) PoolOption {
	return func(p *Pool) { p.queueManager = m }
}

// WithDLQ dead-letters deliveries that cannot be decoded.
func WithDLQ(svc *dlq.Service) PoolOption {
	return func(p *Pool) { p.dlq = svc }
}

// NewPool creates a worker pool.
func NewPool(
	consumer transport.Consumer,
	registry *Registry,
	executor *Executor,
	extensions *ext.Registry,
	logger *slog.Logger,
	opts ...PoolOption,
) *Pool {
	p := &Pool{
		consumer:    consumer,
		codec:       &codec.JSON{},
		executor:    executor,
		registry:    registry,
		extensions:  extensions,
		concurrency: 10,
		logger:      logger,
		activeRuns:  make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.concurrency < 1 {
		p.concurrency = 1
	}
	p.sem = semaphore.NewWeighted(int64(p.concurrency))
	return p
}

// Start launches one consumer per registered task. It returns immediately.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	names := p.registry.Names()
	if len(names) == 0 {
		return fmt.Errorf("worker pool: no task registered")
	}
	p.running = true

	consumeCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.cancel = cancel

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.executor.WorkerID().String()),
		slog.Int("concurrency", p.concurrency),
		slog.Any("tasks", names),
	)

	for _, name := range names {
		topic := transport.ExecutorTopic(name)
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			if err := p.consumer.Consume(consumeCtx, topic, p.handle); err != nil && !errors.Is(err, context.Canceled) {
				p.logger.Error("executor consumer stopped",
					slog.String("topic", topic),
					slog.String("error", err.Error()),
				)
			}
		}()
	}

	return nil
}

// Stop stops consuming and waits for running attempts to finish.
// If the context has a deadline, active attempts are cancelled when time
// runs out.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	cancel := p.cancel
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.executor.WorkerID().String()))

	cancel()

	// Wait for completion or context deadline.
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active attempts")
		p.cancelActiveRuns()
		<-done
	}

	return nil
}

// handle runs one executor topic delivery.
func (p *Pool) handle(ctx context.Context, d *transport.Delivery) error {
	env, err := p.codec.Decode(d.Body)
	if err != nil {
		return p.deadLetter(ctx, d, nil, fmt.Errorf("decode: %w", err))
	}
	run, ok := env.Message.(*message.RunAttempt)
	if !ok {
		return p.deadLetter(ctx, d, env, fmt.Errorf("unexpected %s on %s", env.Kind, d.Topic))
	}

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)

	// Check task rate limit and concurrency.
	if p.queueManager != nil {
		if !p.queueManager.Acquire(run.Name) {
			return errThrottled
		}
		defer p.queueManager.Release(run.Name)
	}

	// Attempts survive the consume context so Stop can let them finish.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	key := run.Attempt.ID.String()
	p.trackRun(key, cancel)
	defer p.untrackRun(key)

	if err := p.executor.Execute(runCtx, run); err != nil {
		p.logger.Warn("attempt report failed, awaiting redelivery",
			slog.String("entity_id", run.EntityID.String()),
			slog.String("task_name", run.Name),
			slog.String("error", err.Error()),
		)
		return err
	}
	return nil
}

func (p *Pool) deadLetter(ctx context.Context, d *transport.Delivery, env *message.Envelope, cause error) error {
	p.logger.Error("undeliverable executor message",
		slog.String("topic", d.Topic),
		slog.String("key", d.Key),
		slog.String("error", cause.Error()),
	)
	if p.dlq == nil {
		return nil
	}
	entry, err := p.dlq.Push(ctx, d, env, cause)
	if err != nil {
		return fmt.Errorf("dead-letter %s: %w", d.Topic, err)
	}
	p.extensions.EmitDeadLettered(ctx, entry)
	return nil
}

func (p *Pool) trackRun(attemptID string, cancel context.CancelFunc) {
	p.activeMu.Lock()
	p.activeRuns[attemptID] = cancel
	p.activeMu.Unlock()
}

func (p *Pool) untrackRun(attemptID string) {
	p.activeMu.Lock()
	delete(p.activeRuns, attemptID)
	p.activeMu.Unlock()
}

// ActiveCount returns the number of attempts currently running.
func (p *Pool) ActiveCount() int {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	return len(p.activeRuns)
}

func (p *Pool) cancelActiveRuns() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for attemptID, cancel := range p.activeRuns {
		p.logger.Warn("cancelling active attempt", slog.String("attempt_id", attemptID))
		cancel()
	}
}
