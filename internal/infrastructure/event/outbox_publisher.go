package event

import (
	"context"
	"fmt"

	"github.com/faithflows/backend/internal/domain/shared"
	"gorm.io/gorm"
)

// OutboxPublisher writes domain events to the outbox within a transaction
type OutboxPublisher struct {
	serializer *EventSerializer
}

// NewOutboxPublisher creates a new outbox publisher
func NewOutboxPublisher(serializer *EventSerializer) *OutboxPublisher {
	return &OutboxPublisher{
		serializer: serializer,
	}
}

// PublishWithTx stores events in the outbox as part of tx, so they commit
// or roll back with the directory change
func (p *OutboxPublisher) PublishWithTx(ctx context.Context, tx *gorm.DB, events ...shared.DomainEvent) error {
	if len(events) == 0 {
		return nil
	}

	entries := make([]*shared.OutboxEntry, 0, len(events))
	for _, event := range events {
		if !p.serializer.IsRegistered(event.EventType()) {
			return fmt.Errorf("outbox: event type %s is not registered", event.EventType())
		}
		payload, err := p.serializer.Serialize(event)
		if err != nil {
			return err
		}
		entries = append(entries, shared.NewOutboxEntry(event, payload))
	}

	return NewGormOutboxRepository(tx).Save(ctx, entries...)
}

// SaveEvents implements shared.OutboxEventSaver; txProvider must be a *gorm.DB
func (p *OutboxPublisher) SaveEvents(ctx context.Context, txProvider any, events ...shared.DomainEvent) error {
	if len(events) == 0 {
		return nil
	}

	tx, ok := txProvider.(*gorm.DB)
	if !ok {
		return fmt.Errorf("txProvider must be a *gorm.DB, got %T", txProvider)
	}

	return p.PublishWithTx(ctx, tx, events...)
}

// Bind returns an EventPublisher that writes each Publish call to the
// outbox in its own transaction on db
func (p *OutboxPublisher) Bind(db *gorm.DB) shared.EventPublisher {
	return boundPublisher{db: db, publisher: p}
}

type boundPublisher struct {
	db        *gorm.DB
	publisher *OutboxPublisher
}

func (b boundPublisher) Publish(ctx context.Context, events ...shared.DomainEvent) error {
	return b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return b.publisher.PublishWithTx(ctx, tx, events...)
	})
}

var _ shared.OutboxEventSaver = (*OutboxPublisher)(nil)
