package event

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/faithflows/backend/internal/domain/shared"
	"go.uber.org/zap"
)

const (
	defaultWorkers    = 4
	defaultBufferSize = 256
)

// ErrBusStopped is returned by Start on a bus that was already stopped
var ErrBusStopped = errors.New("event bus stopped")

type envelope struct {
	ctx   context.Context
	event shared.DomainEvent
}

// InMemoryEventBus delivers domain events to registered handlers.
// Before Start, Publish dispatches synchronously on the caller's goroutine.
// Once started, events are queued and handled by a fixed worker pool so
// publishers never wait on a handler.
type InMemoryEventBus struct {
	registry *HandlerRegistry
	logger   *zap.Logger

	workers    int
	bufferSize int

	mu      sync.RWMutex
	queue   chan envelope
	running atomic.Bool
	stopped bool
	wg      sync.WaitGroup

	dropped atomic.Int64
}

// BusOption configures an InMemoryEventBus
type BusOption func(*InMemoryEventBus)

// WithWorkers sets how many goroutines handle queued events
func WithWorkers(n int) BusOption {
	return func(b *InMemoryEventBus) {
		if n > 0 {
			b.workers = n
		}
	}
}

// WithBufferSize sets how many events may wait for a worker
func WithBufferSize(n int) BusOption {
	return func(b *InMemoryEventBus) {
		if n > 0 {
			b.bufferSize = n
		}
	}
}

// NewInMemoryEventBus creates a new in-memory event bus
func NewInMemoryEventBus(logger *zap.Logger, opts ...BusOption) *InMemoryEventBus {
	b := &InMemoryEventBus{
		registry:   NewHandlerRegistry(),
		logger:     logger,
		workers:    defaultWorkers,
		bufferSize: defaultBufferSize,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish hands events to their handlers. Handler failures are logged and
// never returned to the publisher. A full queue drops the event.
func (b *InMemoryEventBus) Publish(ctx context.Context, events ...shared.DomainEvent) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.running.Load() {
		for _, event := range events {
			b.dispatch(ctx, event)
		}
		return nil
	}

	// handlers outlive the request that published the event
	detached := context.WithoutCancel(ctx)
	for _, event := range events {
		select {
		case b.queue <- envelope{ctx: detached, event: event}:
		default:
			b.dropped.Add(1)
			b.logger.Error("event queue full, dropping event",
				zap.String("event_type", event.EventType()),
				zap.String("event_id", event.EventID().String()),
				zap.Int64("tenant_id", event.TenantID().Int64()),
			)
		}
	}
	return nil
}

// Subscribe registers a handler for specific event types
func (b *InMemoryEventBus) Subscribe(handler shared.EventHandler, eventTypes ...string) {
	if len(eventTypes) == 0 {
		eventTypes = handler.EventTypes()
	}
	b.registry.Register(handler, eventTypes...)
	b.logger.Debug("handler subscribed",
		zap.Strings("event_types", eventTypes),
	)
}

// Unsubscribe removes a handler
func (b *InMemoryEventBus) Unsubscribe(handler shared.EventHandler) {
	b.registry.Unregister(handler)
	b.logger.Debug("handler unsubscribed")
}

// Start launches the worker pool
func (b *InMemoryEventBus) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stopped {
		return ErrBusStopped
	}
	if b.running.Load() {
		return nil
	}

	b.queue = make(chan envelope, b.bufferSize)
	for i := 0; i < b.workers; i++ {
		b.wg.Add(1)
		go b.work(b.queue)
	}
	b.running.Store(true)
	b.logger.Info("event bus started",
		zap.Int("workers", b.workers),
		zap.Int("buffer_size", b.bufferSize),
	)
	return nil
}

// Stop closes the queue and waits for queued events to drain or ctx to end
func (b *InMemoryEventBus) Stop(ctx context.Context) error {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return nil
	}
	b.stopped = true
	wasRunning := b.running.Swap(false)
	if wasRunning {
		close(b.queue)
	}
	b.mu.Unlock()

	if !wasRunning {
		return nil
	}

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		b.logger.Info("event bus stopped", zap.Int64("dropped", b.dropped.Load()))
		return nil
	case <-ctx.Done():
		b.logger.Warn("event bus stop timed out with events pending", zap.Int("pending", len(b.queue)))
		return ctx.Err()
	}
}

// Dropped returns how many events were discarded because the queue was full
func (b *InMemoryEventBus) Dropped() int64 {
	return b.dropped.Load()
}

func (b *InMemoryEventBus) work(queue <-chan envelope) {
	defer b.wg.Done()
	for env := range queue {
		b.dispatch(env.ctx, env.event)
	}
}

func (b *InMemoryEventBus) dispatch(ctx context.Context, event shared.DomainEvent) {
	for _, handler := range b.registry.GetHandlers(event.EventType()) {
		if err := b.dispatchToHandler(ctx, handler, event); err != nil {
			b.logger.Error("handler failed to process event",
				zap.String("event_type", event.EventType()),
				zap.String("event_id", event.EventID().String()),
				zap.Error(err),
			)
		}
	}
}

// dispatchToHandler safely dispatches an event to a handler
func (b *InMemoryEventBus) dispatchToHandler(ctx context.Context, handler shared.EventHandler, event shared.DomainEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("handler panicked",
				zap.String("event_type", event.EventType()),
				zap.Any("panic", r),
			)
		}
	}()

	return handler.Handle(ctx, event)
}

var _ shared.EventBus = (*InMemoryEventBus)(nil)
