package event

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/faithflows/backend/internal/domain/shared"
	"github.com/faithflows/backend/internal/domain/tenancy"
	"go.uber.org/zap"
)

// Notification is what a tenant's contacts are told about a lifecycle change
type Notification struct {
	TenantID   int64           `json:"tenant_id"`
	EventType  string          `json:"event_type"`
	Subject    string          `json:"subject"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// Notifier delivers notifications, e.g. by mail or a chat webhook
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier writes notifications to a logger. It is the default when no
// delivery channel is configured.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a LogNotifier
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.Named("notifications")}
}

// Notify implements Notifier
func (n *LogNotifier) Notify(_ context.Context, note Notification) error {
	n.logger.Info(note.Subject,
		zap.Int64("tenant_id", note.TenantID),
		zap.String("event_type", note.EventType),
		zap.Time("occurred_at", note.OccurredAt),
		zap.ByteString("payload", note.Payload),
	)
	return nil
}

var subjects = map[string]string{
	tenancy.EventTypeTenantCreated:        "Welcome aboard",
	tenancy.EventTypeTrialStarted:         "Your free trial has started",
	tenancy.EventTypeSubscriptionUpgraded: "Your subscription is active",
	tenancy.EventTypeBypassChanged:        "Subscription enforcement changed",
	tenancy.EventTypeTenantSuspended:      "Your account has been suspended",
	tenancy.EventTypeTenantCancelled:      "Your subscription was cancelled",
	tenancy.EventTypeTenantReactivated:    "Your account is active again",
	tenancy.EventTypeTenantDeactivated:    "Your account was deactivated",
	tenancy.EventTypeTenantDeleted:        "Your account was removed",
	tenancy.EventTypeTrialExpired:         "Your trial has ended",
	tenancy.EventTypeSubscriptionExpired:  "Your subscription has expired",
}

// NotificationHandler turns lifecycle events into notifications
type NotificationHandler struct {
	notifier   Notifier
	serializer *EventSerializer
}

// NewNotificationHandler creates a handler delivering through notifier
func NewNotificationHandler(notifier Notifier, serializer *EventSerializer) *NotificationHandler {
	return &NotificationHandler{notifier: notifier, serializer: serializer}
}

// EventTypes implements shared.EventHandler
func (h *NotificationHandler) EventTypes() []string {
	return LifecycleEventTypes
}

// Handle implements shared.EventHandler
func (h *NotificationHandler) Handle(ctx context.Context, event shared.DomainEvent) error {
	subject, ok := subjects[event.EventType()]
	if !ok {
		return nil
	}
	payload, err := h.serializer.Serialize(event)
	if err != nil {
		return fmt.Errorf("serialize %s: %w", event.EventType(), err)
	}
	return h.notifier.Notify(ctx, Notification{
		TenantID:   event.TenantID().Int64(),
		EventType:  event.EventType(),
		Subject:    subject,
		OccurredAt: event.OccurredAt(),
		Payload:    payload,
	})
}

var _ shared.EventHandler = (*NotificationHandler)(nil)
