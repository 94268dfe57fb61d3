package event

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/faithflows/backend/internal/domain/tenancy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type recordingNotifier struct {
	sent []Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n Notification) error {
	r.sent = append(r.sent, n)
	return nil
}

func TestNotificationHandler_Lifecycle(t *testing.T) {
	serializer := NewEventSerializer()
	RegisterLifecycleEvents(serializer)
	notifier := &recordingNotifier{}
	handler := NewNotificationHandler(notifier, serializer)

	tenant := newLifecycleTenant(t)
	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, handler.Handle(context.Background(), tenancy.NewTenantSuspendedEvent(tenant, "chargeback", at)))
	require.NoError(t, handler.Handle(context.Background(), newTestEvent("Unrelated", 42)))

	require.Len(t, notifier.sent, 1)
	sent := notifier.sent[0]
	assert.Equal(t, int64(42), sent.TenantID)
	assert.Equal(t, tenancy.EventTypeTenantSuspended, sent.EventType)
	assert.Equal(t, "Your account has been suspended", sent.Subject)
	assert.True(t, sent.OccurredAt.Equal(at))

	var payload map[string]any
	require.NoError(t, json.Unmarshal(sent.Payload, &payload))
	assert.Equal(t, "chargeback", payload["reason"])
	assert.ElementsMatch(t, LifecycleEventTypes, handler.EventTypes())
}

func TestNotificationHandler_ThroughBus(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	serializer := NewEventSerializer()
	RegisterLifecycleEvents(serializer)

	bus := NewInMemoryEventBus(zap.NewNop())
	bus.Subscribe(NewNotificationHandler(NewLogNotifier(zap.New(core)), serializer))

	tenant := newLifecycleTenant(t)
	require.NoError(t, bus.Publish(context.Background(), tenant.GetDomainEvents()...))

	entries := logs.FilterLoggerName("notifications").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "Welcome aboard", entries[0].Message)
	assert.Equal(t, int64(42), entries[0].ContextMap()["tenant_id"])
}
