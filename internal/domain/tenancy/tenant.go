package tenancy

import (
	"regexp"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/faithflows/backend/internal/domain/shared"
	"github.com/gosimple/slug"
	"golang.org/x/text/unicode/norm"
)

// Plan represents the subscription plan of a tenant
type Plan string

const (
	PlanTrial      Plan = "trial"
	PlanBasic      Plan = "basic"
	PlanStandard   Plan = "standard"
	PlanPremium    Plan = "premium"
	PlanEnterprise Plan = "enterprise"
)

// IsValid reports whether p is a known plan
func (p Plan) IsValid() bool {
	switch p {
	case PlanTrial, PlanBasic, PlanStandard, PlanPremium, PlanEnterprise:
		return true
	}
	return false
}

// SubscriptionStatus is the billing standing of a tenant
type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionSuspended SubscriptionStatus = "suspended"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
)

// BillingCycle is the length of a paid subscription period
type BillingCycle string

const (
	CycleMonthly BillingCycle = "monthly"
	CycleYearly  BillingCycle = "yearly"
)

// Duration returns how long one period of the cycle lasts
func (c BillingCycle) Duration() time.Duration {
	switch c {
	case CycleYearly:
		return 365 * 24 * time.Hour
	default:
		return 30 * 24 * time.Hour
	}
}

// IsValid reports whether c is a known billing cycle
func (c BillingCycle) IsValid() bool {
	return c == CycleMonthly || c == CycleYearly
}

const (
	DefaultGracePeriodDays = 7
	DefaultTrialDays       = 30
	MaxGracePeriodDays     = 90

	// PublicPartition is the shared partition holding the directory itself
	PublicPartition = "public"

	AggregateType = "Tenant"
)

var partitionKeyPattern = regexp.MustCompile(`^tenant_[0-9]+$`)

// reserved subdomains never issued to a tenant
var reservedSubdomains = map[string]struct{}{
	"www": {}, "api": {}, "admin": {}, "public": {}, "app": {}, "static": {},
}

// PartitionKeyFor derives the partition name from a tenant id.
// Client-supplied strings never reach a partition name.
func PartitionKeyFor(id snowflake.ID) string {
	return "tenant_" + id.String()
}

// ValidPartitionKey reports whether key is safe to use as an SQL identifier
func ValidPartitionKey(key string) bool {
	return key == PublicPartition || partitionKeyPattern.MatchString(key)
}

// NormalizeKey canonicalizes a raw tenant key for lookup. Compatibility
// forms (fullwidth letters and the like) fold to their plain equivalents.
func NormalizeKey(raw string) string {
	return strings.ToLower(norm.NFKC.String(strings.TrimSpace(raw)))
}

// SuggestSubdomain turns a display name into a candidate subdomain
func SuggestSubdomain(name string) string {
	s := slug.Make(name)
	if len(s) > 63 {
		s = strings.TrimRight(s[:63], "-")
	}
	return s
}

// ValidateSubdomain checks that s can be issued as a tenant subdomain
func ValidateSubdomain(s string) error {
	if s == "" {
		return shared.NewDomainError("INVALID_SUBDOMAIN", "Subdomain cannot be empty")
	}
	if len(s) < 3 || len(s) > 63 {
		return shared.NewDomainError("INVALID_SUBDOMAIN", "Subdomain must be between 3 and 63 characters")
	}
	if !slug.IsSlug(s) || strings.Contains(s, "_") {
		return shared.NewDomainError("INVALID_SUBDOMAIN", "Subdomain can only contain lowercase letters, digits and inner hyphens")
	}
	if _, ok := reservedSubdomains[s]; ok {
		return shared.NewDomainError("INVALID_SUBDOMAIN", "Subdomain is reserved")
	}
	return nil
}

// Tenant is an organization owning one isolated data partition.
// It is the aggregate root of the directory.
type Tenant struct {
	shared.BaseAggregateRoot
	Subdomain               string
	Name                    string
	ContactEmail            string
	PartitionKey            string
	Plan                    Plan
	SubscriptionStatus      SubscriptionStatus
	TrialStartedAt          *time.Time
	TrialEndDate            *time.Time
	SubscriptionStartDate   *time.Time
	SubscriptionEndDate     *time.Time
	GracePeriodDays         int
	BypassSubscriptionCheck bool
	IsActive                bool
}

// NewTenant creates an active tenant on the trial plan. The trial clock is
// not started; call StartTrial for that.
func NewTenant(id snowflake.ID, subdomain, name, contactEmail string, now time.Time) (*Tenant, error) {
	subdomain = NormalizeKey(subdomain)
	if err := ValidateSubdomain(subdomain); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, shared.NewDomainError("INVALID_NAME", "Tenant name cannot be empty")
	}
	if len(name) > 200 {
		return nil, shared.NewDomainError("INVALID_NAME", "Tenant name cannot exceed 200 characters")
	}
	if len(contactEmail) > 254 {
		return nil, shared.NewDomainError("INVALID_EMAIL", "Email cannot exceed 254 characters")
	}

	t := &Tenant{
		BaseAggregateRoot:  shared.NewBaseAggregateRoot(id, now),
		Subdomain:          subdomain,
		Name:               name,
		ContactEmail:       contactEmail,
		PartitionKey:       PartitionKeyFor(id),
		Plan:               PlanTrial,
		SubscriptionStatus: SubscriptionActive,
		GracePeriodDays:    DefaultGracePeriodDays,
		IsActive:           true,
	}
	t.AddDomainEvent(NewTenantCreatedEvent(t, now))
	return t, nil
}

// StartTrial begins a trial of the given length
func (t *Tenant) StartTrial(now time.Time, days int) error {
	if !t.IsActive {
		return shared.NewDomainError("TENANT_INACTIVE", "Cannot start a trial for a deactivated tenant")
	}
	if days <= 0 {
		return shared.NewDomainError("INVALID_TRIAL_DAYS", "Trial days must be positive")
	}
	end := now.Add(time.Duration(days) * 24 * time.Hour)
	t.TrialStartedAt = &now
	t.TrialEndDate = &end
	t.Plan = PlanTrial
	t.touch(now)
	t.AddDomainEvent(NewTrialStartedEvent(t, now))
	return nil
}

// Upgrade moves the tenant onto a paid plan for one billing cycle starting now.
// It ends any running trial.
func (t *Tenant) Upgrade(plan Plan, cycle BillingCycle, now time.Time) error {
	if !plan.IsValid() || plan == PlanTrial {
		return shared.NewDomainError("INVALID_PLAN", "Plan must be one of basic, standard, premium or enterprise")
	}
	if !cycle.IsValid() {
		return shared.NewDomainError("INVALID_CYCLE", "Billing cycle must be monthly or yearly")
	}
	if !t.IsActive {
		return shared.NewDomainError("TENANT_INACTIVE", "Cannot upgrade a deactivated tenant")
	}
	end := now.Add(cycle.Duration())
	t.Plan = plan
	t.SubscriptionStatus = SubscriptionActive
	t.SubscriptionStartDate = &now
	t.SubscriptionEndDate = &end
	t.TrialEndDate = nil
	t.touch(now)
	t.AddDomainEvent(NewSubscriptionUpgradedEvent(t, cycle, now))
	return nil
}

// SetBypass toggles the subscription enforcement override.
// Returns false when the flag already had that value.
func (t *Tenant) SetBypass(enabled bool, now time.Time) bool {
	if t.BypassSubscriptionCheck == enabled {
		return false
	}
	t.BypassSubscriptionCheck = enabled
	t.touch(now)
	t.AddDomainEvent(NewBypassChangedEvent(t, now))
	return true
}

// SetGracePeriod changes how many days past expiry access is still allowed
func (t *Tenant) SetGracePeriod(days int, now time.Time) error {
	if days < 0 || days > MaxGracePeriodDays {
		return shared.NewDomainError("INVALID_GRACE_PERIOD", "Grace period must be between 0 and 90 days")
	}
	t.GracePeriodDays = days
	t.touch(now)
	return nil
}

// Suspend blocks the tenant until it is reactivated
func (t *Tenant) Suspend(reason string, now time.Time) error {
	if t.SubscriptionStatus != SubscriptionActive {
		return shared.NewDomainError("INVALID_STATE", "Only an active subscription can be suspended")
	}
	t.SubscriptionStatus = SubscriptionSuspended
	t.touch(now)
	t.AddDomainEvent(NewTenantSuspendedEvent(t, reason, now))
	return nil
}

// Cancel ends the subscription
func (t *Tenant) Cancel(now time.Time) error {
	if t.SubscriptionStatus == SubscriptionCancelled {
		return shared.NewDomainError("INVALID_STATE", "Subscription is already cancelled")
	}
	t.SubscriptionStatus = SubscriptionCancelled
	t.touch(now)
	t.AddDomainEvent(NewTenantCancelledEvent(t, now))
	return nil
}

// Reactivate returns a suspended or cancelled tenant to active standing
func (t *Tenant) Reactivate(now time.Time) error {
	if t.SubscriptionStatus == SubscriptionActive && t.IsActive {
		return shared.NewDomainError("INVALID_STATE", "Tenant is already active")
	}
	t.SubscriptionStatus = SubscriptionActive
	t.IsActive = true
	t.touch(now)
	t.AddDomainEvent(NewTenantReactivatedEvent(t, now))
	return nil
}

// Deactivate soft-deletes the tenant; it stops resolving immediately
func (t *Tenant) Deactivate(now time.Time) error {
	if !t.IsActive {
		return shared.NewDomainError("INVALID_STATE", "Tenant is already deactivated")
	}
	t.IsActive = false
	t.touch(now)
	t.AddDomainEvent(NewTenantDeactivatedEvent(t, now))
	return nil
}

func (t *Tenant) touch(now time.Time) {
	t.UpdatedAt = now
	t.IncrementVersion()
}
