package event

import (
	"github.com/faithflows/backend/internal/domain/tenancy"
)

// LifecycleEventTypes lists every tenant lifecycle event
var LifecycleEventTypes = []string{
	tenancy.EventTypeTenantCreated,
	tenancy.EventTypeTrialStarted,
	tenancy.EventTypeSubscriptionUpgraded,
	tenancy.EventTypeBypassChanged,
	tenancy.EventTypeTenantSuspended,
	tenancy.EventTypeTenantCancelled,
	tenancy.EventTypeTenantReactivated,
	tenancy.EventTypeTenantDeactivated,
	tenancy.EventTypeTenantDeleted,
	tenancy.EventTypeTrialExpired,
	tenancy.EventTypeSubscriptionExpired,
}

// RegisterLifecycleEvents registers the tenant lifecycle event types
func RegisterLifecycleEvents(serializer *EventSerializer) {
	serializer.Register(tenancy.EventTypeTenantCreated, &tenancy.TenantCreatedEvent{})
	serializer.Register(tenancy.EventTypeTrialStarted, &tenancy.TrialStartedEvent{})
	serializer.Register(tenancy.EventTypeSubscriptionUpgraded, &tenancy.SubscriptionUpgradedEvent{})
	serializer.Register(tenancy.EventTypeBypassChanged, &tenancy.BypassChangedEvent{})
	serializer.Register(tenancy.EventTypeTenantSuspended, &tenancy.TenantSuspendedEvent{})

	// status transitions share one payload shape
	serializer.Register(tenancy.EventTypeTenantCancelled, &tenancy.StatusEvent{})
	serializer.Register(tenancy.EventTypeTenantReactivated, &tenancy.StatusEvent{})
	serializer.Register(tenancy.EventTypeTenantDeactivated, &tenancy.StatusEvent{})
	serializer.Register(tenancy.EventTypeTenantDeleted, &tenancy.StatusEvent{})

	serializer.Register(tenancy.EventTypeTrialExpired, &tenancy.ExpiryEvent{})
	serializer.Register(tenancy.EventTypeSubscriptionExpired, &tenancy.ExpiryEvent{})
}
