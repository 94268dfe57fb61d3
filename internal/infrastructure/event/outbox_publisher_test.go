package event

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/faithflows/backend/internal/domain/tenancy"
	"github.com/faithflows/backend/internal/infrastructure/persistence/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func lifecycleSerializer() *EventSerializer {
	s := NewEventSerializer()
	RegisterLifecycleEvents(s)
	return s
}

func TestOutboxPublisher_SaveEvents(t *testing.T) {
	db := setupOutboxDB(t)
	publisher := NewOutboxPublisher(lifecycleSerializer())
	tenant := newLifecycleTenant(t)
	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	err := db.Transaction(func(tx *gorm.DB) error {
		return publisher.SaveEvents(context.Background(), tx,
			tenancy.NewTenantSuspendedEvent(tenant, "unpaid", at),
			tenancy.NewTenantReactivatedEvent(tenant, at),
		)
	})
	require.NoError(t, err)

	var rows []models.OutboxEntryModel
	require.NoError(t, db.Order("event_type").Find(&rows).Error)
	require.Len(t, rows, 2)
	assert.Equal(t, tenancy.EventTypeTenantReactivated, rows[0].EventType)
	assert.Equal(t, int64(tenant.ID), rows[0].TenantID)
	assert.Contains(t, string(rows[1].Payload), "unpaid")
}

func TestOutboxPublisher_RollsBackWithTransaction(t *testing.T) {
	db := setupOutboxDB(t)
	publisher := NewOutboxPublisher(lifecycleSerializer())
	tenant := newLifecycleTenant(t)

	boom := errors.New("directory write failed")
	err := db.Transaction(func(tx *gorm.DB) error {
		require.NoError(t, publisher.PublishWithTx(context.Background(), tx, tenancy.NewTenantCancelledEvent(tenant, time.Now())))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	var count int64
	require.NoError(t, db.Model(&models.OutboxEntryModel{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestOutboxPublisher_Errors(t *testing.T) {
	publisher := NewOutboxPublisher(lifecycleSerializer())
	ctx := context.Background()

	assert.NoError(t, publisher.SaveEvents(ctx, nil))
	assert.ErrorContains(t, publisher.SaveEvents(ctx, "not a tx", newTestEvent("TestEvent", 1)), "*gorm.DB")

	db := setupOutboxDB(t)
	err := publisher.PublishWithTx(ctx, db, newTestEvent("Unregistered", 1))
	assert.ErrorContains(t, err, "not registered")
}

func TestOutboxPublisher_Bind(t *testing.T) {
	db := setupOutboxDB(t)
	publisher := NewOutboxPublisher(lifecycleSerializer()).Bind(db)
	tenant := newLifecycleTenant(t)
	end := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)

	require.NoError(t, publisher.Publish(context.Background(),
		tenancy.NewExpiryEvent(tenancy.EventTypeTrialExpired, tenant, end, true, end.Add(time.Hour))))

	pending, err := NewGormOutboxRepository(db).FindPending(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, tenancy.EventTypeTrialExpired, pending[0].EventType)
}
