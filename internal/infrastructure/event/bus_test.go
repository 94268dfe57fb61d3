package event

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/faithflows/backend/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// testEvent implements DomainEvent for testing
type testEvent struct {
	shared.BaseDomainEvent
	Data string `json:"data"`
}

func newTestEvent(eventType string, tenantID snowflake.ID) *testEvent {
	return &testEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(eventType, "TestAggregate", tenantID, tenantID, time.Now()),
		Data:            "test data",
	}
}

// testHandler records what it handled
type testHandler struct {
	eventTypes []string
	handled    []shared.DomainEvent
	err        error
	block      chan struct{}
	mu         sync.Mutex
}

func newTestHandler(eventTypes ...string) *testHandler {
	return &testHandler{eventTypes: eventTypes}
}

func (h *testHandler) Handle(ctx context.Context, event shared.DomainEvent) error {
	if h.block != nil {
		<-h.block
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handled = append(h.handled, event)
	return h.err
}

func (h *testHandler) EventTypes() []string {
	return h.eventTypes
}

func (h *testHandler) setError(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.err = err
}

func (h *testHandler) getHandled() []shared.DomainEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]shared.DomainEvent(nil), h.handled...)
}

type panicHandler struct{}

func (panicHandler) Handle(context.Context, shared.DomainEvent) error { panic("boom") }
func (panicHandler) EventTypes() []string                             { return nil }

func TestInMemoryEventBus_SynchronousBeforeStart(t *testing.T) {
	bus := NewInMemoryEventBus(zap.NewNop())

	handler := newTestHandler("TestEvent")
	bus.Subscribe(handler)

	event := newTestEvent("TestEvent", 1)
	require.NoError(t, bus.Publish(context.Background(), event, newTestEvent("OtherEvent", 1)))

	require.Len(t, handler.getHandled(), 1)
	assert.Equal(t, event, handler.getHandled()[0])
}

func TestInMemoryEventBus_WildcardAndMultipleHandlers(t *testing.T) {
	bus := NewInMemoryEventBus(zap.NewNop())

	typed1 := newTestHandler("TestEvent")
	typed2 := newTestHandler("TestEvent")
	wildcard := newTestHandler()
	bus.Subscribe(typed1)
	bus.Subscribe(typed2)
	bus.Subscribe(wildcard)

	require.NoError(t, bus.Publish(context.Background(), newTestEvent("TestEvent", 1), newTestEvent("AnyEvent", 1)))

	assert.Len(t, typed1.getHandled(), 1)
	assert.Len(t, typed2.getHandled(), 1)
	assert.Len(t, wildcard.getHandled(), 2)
}

func TestInMemoryEventBus_HandlerFailuresAreIsolated(t *testing.T) {
	bus := NewInMemoryEventBus(zap.NewNop())

	failing := newTestHandler("TestEvent")
	failing.setError(errors.New("handler error"))
	after := newTestHandler("TestEvent")
	bus.Subscribe(failing)
	bus.Subscribe(panicHandler{}, "TestEvent")
	bus.Subscribe(after)

	require.NoError(t, bus.Publish(context.Background(), newTestEvent("TestEvent", 1)))
	assert.Len(t, failing.getHandled(), 1)
	assert.Len(t, after.getHandled(), 1)
}

func TestInMemoryEventBus_Unsubscribe(t *testing.T) {
	bus := NewInMemoryEventBus(zap.NewNop())

	handler := newTestHandler("TestEvent")
	bus.Subscribe(handler)
	_ = bus.Publish(context.Background(), newTestEvent("TestEvent", 1))
	bus.Unsubscribe(handler)
	_ = bus.Publish(context.Background(), newTestEvent("TestEvent", 1))

	assert.Len(t, handler.getHandled(), 1)
}

func TestInMemoryEventBus_AsyncDelivery(t *testing.T) {
	bus := NewInMemoryEventBus(zap.NewNop(), WithWorkers(2), WithBufferSize(16))
	handler := newTestHandler("TestEvent")
	handler.block = make(chan struct{})
	bus.Subscribe(handler)

	require.NoError(t, bus.Start(context.Background()))

	// the publisher returns while the handler is still blocked
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, bus.Publish(ctx, newTestEvent("TestEvent", 1), newTestEvent("TestEvent", 2)))
	cancel()
	assert.Empty(t, handler.getHandled())

	close(handler.block)
	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	require.NoError(t, bus.Stop(stopCtx))

	assert.Len(t, handler.getHandled(), 2)
}

func TestInMemoryEventBus_DropsWhenQueueFull(t *testing.T) {
	bus := NewInMemoryEventBus(zap.NewNop(), WithWorkers(1), WithBufferSize(1))
	handler := newTestHandler("TestEvent")
	handler.block = make(chan struct{})
	bus.Subscribe(handler)
	require.NoError(t, bus.Start(context.Background()))

	for i := 0; i < 10; i++ {
		require.NoError(t, bus.Publish(context.Background(), newTestEvent("TestEvent", 1)))
	}
	assert.GreaterOrEqual(t, bus.Dropped(), int64(8))

	close(handler.block)
	require.NoError(t, bus.Stop(context.Background()))
}

func TestInMemoryEventBus_StopIsFinal(t *testing.T) {
	bus := NewInMemoryEventBus(zap.NewNop())
	require.NoError(t, bus.Start(context.Background()))
	require.NoError(t, bus.Start(context.Background()))
	require.NoError(t, bus.Stop(context.Background()))
	require.NoError(t, bus.Stop(context.Background()))

	assert.ErrorIs(t, bus.Start(context.Background()), ErrBusStopped)

	// after stop, publishing falls back to synchronous delivery
	handler := newTestHandler("TestEvent")
	bus.Subscribe(handler)
	require.NoError(t, bus.Publish(context.Background(), newTestEvent("TestEvent", 1)))
	assert.Len(t, handler.getHandled(), 1)
}

func TestInMemoryEventBus_StopTimeout(t *testing.T) {
	bus := NewInMemoryEventBus(zap.NewNop(), WithWorkers(1))
	handler := newTestHandler("TestEvent")
	handler.block = make(chan struct{})
	defer close(handler.block)
	bus.Subscribe(handler)
	require.NoError(t, bus.Start(context.Background()))
	require.NoError(t, bus.Publish(context.Background(), newTestEvent("TestEvent", 1)))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, bus.Stop(ctx), context.DeadlineExceeded)
}
