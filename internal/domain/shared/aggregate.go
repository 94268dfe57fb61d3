package shared

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// IDGenerator hands out directory-wide unique numeric identifiers
type IDGenerator interface {
	Generate() snowflake.ID
}

// BaseEntity provides common fields for directory entities
type BaseEntity struct {
	ID        snowflake.ID
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewBaseEntity creates a base entity stamped at now
func NewBaseEntity(id snowflake.ID, now time.Time) BaseEntity {
	return BaseEntity{
		ID:        id,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// BaseAggregateRoot adds optimistic versioning and pending events
type BaseAggregateRoot struct {
	BaseEntity
	Version      int
	persisted    int
	domainEvents []DomainEvent
}

// NewBaseAggregateRoot creates a new base aggregate root at version 1
func NewBaseAggregateRoot(id snowflake.ID, now time.Time) BaseAggregateRoot {
	return BaseAggregateRoot{
		BaseEntity:   NewBaseEntity(id, now),
		Version:      1,
		domainEvents: make([]DomainEvent, 0),
	}
}

// GetVersion returns the aggregate version for optimistic locking
func (a *BaseAggregateRoot) GetVersion() int {
	return a.Version
}

// IncrementVersion increments the version number
func (a *BaseAggregateRoot) IncrementVersion() {
	a.Version++
}

// PersistedVersion returns the version last read from or written to storage.
// Zero means the aggregate was never stored.
func (a *BaseAggregateRoot) PersistedVersion() int {
	return a.persisted
}

// MarkPersisted records the current version as the stored one
func (a *BaseAggregateRoot) MarkPersisted() {
	a.persisted = a.Version
}

// AddDomainEvent adds a domain event to be published
func (a *BaseAggregateRoot) AddDomainEvent(event DomainEvent) {
	a.domainEvents = append(a.domainEvents, event)
}

// GetDomainEvents returns all pending domain events
func (a *BaseAggregateRoot) GetDomainEvents() []DomainEvent {
	return a.domainEvents
}

// ClearDomainEvents clears the pending domain events
func (a *BaseAggregateRoot) ClearDomainEvents() {
	a.domainEvents = nil
}
