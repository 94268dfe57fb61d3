package tenancy

import (
	"time"

	"github.com/faithflows/backend/internal/domain/shared"
	"github.com/faithflows/backend/internal/domain/subscription"
	"github.com/faithflows/backend/internal/domain/tenancy"
)

// CreateTenantInput contains input for creating a tenant
type CreateTenantInput struct {
	Subdomain    string
	Name         string
	ContactEmail string
	// Domains are extra keys mapped to the tenant besides its subdomain
	Domains    []string
	StartTrial bool
}

// TenantDTO represents tenant data transfer object
type TenantDTO struct {
	ID                      string     `json:"id"`
	Subdomain               string     `json:"subdomain"`
	Name                    string     `json:"name"`
	ContactEmail            string     `json:"contact_email,omitempty"`
	PartitionKey            string     `json:"schema_name"`
	Plan                    string     `json:"subscription_plan"`
	SubscriptionStatus      string     `json:"subscription_status"`
	TrialStartedAt          *time.Time `json:"trial_started_at,omitempty"`
	TrialEndDate            *time.Time `json:"trial_end_date,omitempty"`
	SubscriptionStartDate   *time.Time `json:"subscription_start_date,omitempty"`
	SubscriptionEndDate     *time.Time `json:"subscription_end_date,omitempty"`
	GracePeriodDays         int        `json:"grace_period_days"`
	BypassSubscriptionCheck bool       `json:"bypass_subscription_check"`
	IsActive                bool       `json:"is_active"`
	Version                 int        `json:"version"`
	CreatedAt               time.Time  `json:"created_at"`
	UpdatedAt               time.Time  `json:"updated_at"`
}

// DomainDTO represents one key mapped to a tenant
type DomainDTO struct {
	ID        string    `json:"id"`
	Domain    string    `json:"domain"`
	IsPrimary bool      `json:"is_primary"`
	CreatedAt time.Time `json:"created_at"`
}

// SubscriptionStatusDTO is the caller-facing view of a tenant's billing state
type SubscriptionStatusDTO struct {
	Status                  string     `json:"status"`
	CanAccess               bool       `json:"can_access"`
	DaysRemaining           *int       `json:"days_remaining"`
	Warning                 string     `json:"warning,omitempty"`
	Message                 string     `json:"message,omitempty"`
	Plan                    string     `json:"subscription_plan"`
	TrialEndDate            *time.Time `json:"trial_end_date,omitempty"`
	SubscriptionEndDate     *time.Time `json:"subscription_end_date,omitempty"`
	BypassSubscriptionCheck bool       `json:"bypass_subscription_check"`
}

// TenantFilter represents filter for querying tenants
type TenantFilter struct {
	Page        int
	PageSize    int
	SortBy      string
	SortDir     string
	Keyword     string
	Status      string
	Plan        string
	BypassOnly  bool
	IncludeGone bool
}

// ToListFilter converts TenantFilter to the repository filter
func (f TenantFilter) ToListFilter() tenancy.ListFilter {
	page := f.Page
	if page < 1 {
		page = 1
	}
	pageSize := f.PageSize
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return tenancy.ListFilter{
		Filter: shared.Filter{
			Page:     page,
			PageSize: pageSize,
			OrderBy:  f.SortBy,
			OrderDir: f.SortDir,
			Search:   f.Keyword,
		},
		Plan:        tenancy.Plan(f.Plan),
		Status:      tenancy.SubscriptionStatus(f.Status),
		BypassOnly:  f.BypassOnly,
		IncludeGone: f.IncludeGone,
	}
}

// TenantListResult represents paginated tenant list result
type TenantListResult = shared.Paginated[TenantDTO]

// ToTenantDTO converts a tenant to its DTO
func ToTenantDTO(t *tenancy.Tenant) *TenantDTO {
	return &TenantDTO{
		ID:                      t.ID.String(),
		Subdomain:               t.Subdomain,
		Name:                    t.Name,
		ContactEmail:            t.ContactEmail,
		PartitionKey:            t.PartitionKey,
		Plan:                    string(t.Plan),
		SubscriptionStatus:      string(t.SubscriptionStatus),
		TrialStartedAt:          t.TrialStartedAt,
		TrialEndDate:            t.TrialEndDate,
		SubscriptionStartDate:   t.SubscriptionStartDate,
		SubscriptionEndDate:     t.SubscriptionEndDate,
		GracePeriodDays:         t.GracePeriodDays,
		BypassSubscriptionCheck: t.BypassSubscriptionCheck,
		IsActive:                t.IsActive,
		Version:                 t.Version,
		CreatedAt:               t.CreatedAt,
		UpdatedAt:               t.UpdatedAt,
	}
}

// ToDomainDTO converts a mapping to its DTO
func ToDomainDTO(d *tenancy.DomainMapping) DomainDTO {
	return DomainDTO{
		ID:        d.ID.String(),
		Domain:    d.Domain,
		IsPrimary: d.IsPrimary,
		CreatedAt: d.CreatedAt,
	}
}

// ToSubscriptionStatusDTO combines a tenant with the verdict computed for it
func ToSubscriptionStatusDTO(t *tenancy.Tenant, v subscription.Verdict) *SubscriptionStatusDTO {
	return &SubscriptionStatusDTO{
		Status:                  string(v.State),
		CanAccess:               v.Allowed,
		DaysRemaining:           v.DaysRemaining,
		Warning:                 v.Warning,
		Message:                 v.Message,
		Plan:                    string(t.Plan),
		TrialEndDate:            t.TrialEndDate,
		SubscriptionEndDate:     t.SubscriptionEndDate,
		BypassSubscriptionCheck: t.BypassSubscriptionCheck,
	}
}
