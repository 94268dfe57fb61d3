package tenancy

import (
	"time"

	"github.com/faithflows/backend/internal/domain/shared"
)

// Event type constants
const (
	EventTypeTenantCreated        = "TenantCreated"
	EventTypeTrialStarted         = "TrialStarted"
	EventTypeSubscriptionUpgraded = "SubscriptionUpgraded"
	EventTypeBypassChanged        = "BypassChanged"
	EventTypeTenantSuspended      = "TenantSuspended"
	EventTypeTenantCancelled      = "TenantCancelled"
	EventTypeTenantReactivated    = "TenantReactivated"
	EventTypeTenantDeactivated    = "TenantDeactivated"
	EventTypeTenantDeleted        = "TenantDeleted"
	EventTypeTrialExpired         = "TrialExpired"
	EventTypeSubscriptionExpired  = "SubscriptionExpired"
)

// TenantCreatedEvent is published when a tenant is onboarded
type TenantCreatedEvent struct {
	shared.BaseDomainEvent
	Subdomain    string `json:"subdomain"`
	Name         string `json:"name"`
	PartitionKey string `json:"partition_key"`
}

// NewTenantCreatedEvent creates a new TenantCreatedEvent
func NewTenantCreatedEvent(t *Tenant, at time.Time) *TenantCreatedEvent {
	return &TenantCreatedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeTenantCreated, AggregateType, t.ID, t.ID, at),
		Subdomain:       t.Subdomain,
		Name:            t.Name,
		PartitionKey:    t.PartitionKey,
	}
}

// TrialStartedEvent is published when the trial clock starts
type TrialStartedEvent struct {
	shared.BaseDomainEvent
	TrialEndDate time.Time `json:"trial_end_date"`
}

// NewTrialStartedEvent creates a new TrialStartedEvent
func NewTrialStartedEvent(t *Tenant, at time.Time) *TrialStartedEvent {
	e := &TrialStartedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeTrialStarted, AggregateType, t.ID, t.ID, at),
	}
	if t.TrialEndDate != nil {
		e.TrialEndDate = *t.TrialEndDate
	}
	return e
}

// SubscriptionUpgradedEvent is published when a paid period starts
type SubscriptionUpgradedEvent struct {
	shared.BaseDomainEvent
	Plan    Plan         `json:"plan"`
	Cycle   BillingCycle `json:"cycle"`
	EndDate time.Time    `json:"end_date"`
}

// NewSubscriptionUpgradedEvent creates a new SubscriptionUpgradedEvent
func NewSubscriptionUpgradedEvent(t *Tenant, cycle BillingCycle, at time.Time) *SubscriptionUpgradedEvent {
	e := &SubscriptionUpgradedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeSubscriptionUpgraded, AggregateType, t.ID, t.ID, at),
		Plan:            t.Plan,
		Cycle:           cycle,
	}
	if t.SubscriptionEndDate != nil {
		e.EndDate = *t.SubscriptionEndDate
	}
	return e
}

// BypassChangedEvent is published when the enforcement override flips
type BypassChangedEvent struct {
	shared.BaseDomainEvent
	Enabled bool `json:"enabled"`
}

// NewBypassChangedEvent creates a new BypassChangedEvent
func NewBypassChangedEvent(t *Tenant, at time.Time) *BypassChangedEvent {
	return &BypassChangedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeBypassChanged, AggregateType, t.ID, t.ID, at),
		Enabled:         t.BypassSubscriptionCheck,
	}
}

// TenantSuspendedEvent is published when an operator suspends a tenant
type TenantSuspendedEvent struct {
	shared.BaseDomainEvent
	Reason string `json:"reason,omitempty"`
}

// NewTenantSuspendedEvent creates a new TenantSuspendedEvent
func NewTenantSuspendedEvent(t *Tenant, reason string, at time.Time) *TenantSuspendedEvent {
	return &TenantSuspendedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeTenantSuspended, AggregateType, t.ID, t.ID, at),
		Reason:          reason,
	}
}

// StatusEvent carries only the tenant identity; used for transitions
// without a payload of their own.
type StatusEvent struct {
	shared.BaseDomainEvent
	Subdomain string `json:"subdomain"`
}

func newStatusEvent(eventType string, t *Tenant, at time.Time) *StatusEvent {
	return &StatusEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(eventType, AggregateType, t.ID, t.ID, at),
		Subdomain:       t.Subdomain,
	}
}

// NewTenantCancelledEvent creates a TenantCancelled event
func NewTenantCancelledEvent(t *Tenant, at time.Time) *StatusEvent {
	return newStatusEvent(EventTypeTenantCancelled, t, at)
}

// NewTenantReactivatedEvent creates a TenantReactivated event
func NewTenantReactivatedEvent(t *Tenant, at time.Time) *StatusEvent {
	return newStatusEvent(EventTypeTenantReactivated, t, at)
}

// NewTenantDeactivatedEvent creates a TenantDeactivated event
func NewTenantDeactivatedEvent(t *Tenant, at time.Time) *StatusEvent {
	return newStatusEvent(EventTypeTenantDeactivated, t, at)
}

// NewTenantDeletedEvent creates a TenantDeleted event
func NewTenantDeletedEvent(t *Tenant, at time.Time) *StatusEvent {
	return newStatusEvent(EventTypeTenantDeleted, t, at)
}

// ExpiryEvent is published the first time a tenant is observed past its
// trial or subscription end date.
type ExpiryEvent struct {
	shared.BaseDomainEvent
	Subdomain     string    `json:"subdomain"`
	EndDate       time.Time `json:"end_date"`
	GraceEndsAt   time.Time `json:"grace_ends_at"`
	AccessBlocked bool      `json:"access_blocked"`
}

// NewExpiryEvent creates a TrialExpired or SubscriptionExpired event
func NewExpiryEvent(eventType string, t *Tenant, end time.Time, blocked bool, at time.Time) *ExpiryEvent {
	return &ExpiryEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(eventType, AggregateType, t.ID, t.ID, at),
		Subdomain:       t.Subdomain,
		EndDate:         end,
		GraceEndsAt:     end.Add(time.Duration(t.GracePeriodDays) * 24 * time.Hour),
		AccessBlocked:   blocked,
	}
}
