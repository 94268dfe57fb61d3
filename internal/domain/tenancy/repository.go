package tenancy

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/faithflows/backend/internal/domain/shared"
)

var (
	ErrTenantNotFound      = shared.NewDomainError("TENANT_NOT_FOUND", "Tenant not found")
	ErrSubdomainTaken      = shared.NewDomainError("SUBDOMAIN_TAKEN", "Subdomain is already in use")
	ErrDomainTaken         = shared.NewDomainError("DOMAIN_TAKEN", "Domain is already mapped to a tenant")
	ErrDomainNotFound      = shared.NewDomainError("DOMAIN_NOT_FOUND", "Domain mapping not found")
	ErrTenantHasMembers    = shared.NewDomainError("TENANT_HAS_MEMBERS", "Tenant still has members; pass force to remove it")
	ErrNoDomainMapping     = shared.NewDomainError("NO_DOMAIN_MAPPING", "A tenant needs at least one domain mapping")
	ErrMultiplePrimaryKeys = shared.NewDomainError("MULTIPLE_PRIMARY", "Exactly one domain mapping must be primary")
)

// Directory resolves tenant keys to tenant records. It is read on every request.
type Directory interface {
	// FindByKey returns the tenant owning the domain mapping key
	FindByKey(ctx context.Context, key string) (*Tenant, error)

	FindByID(ctx context.Context, id snowflake.ID) (*Tenant, error)
}

// ListFilter narrows a tenant listing
type ListFilter struct {
	shared.Filter
	Plan        Plan
	Status      SubscriptionStatus
	BypassOnly  bool
	IncludeGone bool // include deactivated tenants
}

// Repository is the durable tenant directory
type Repository interface {
	Directory

	List(ctx context.Context, filter ListFilter) ([]*Tenant, int64, error)

	// ListEndingBefore returns active tenants whose trial or subscription
	// end date is before t
	ListEndingBefore(ctx context.Context, t time.Time) ([]*Tenant, error)

	// Create stores the tenant, its domain mappings and provisions its
	// partition in one transaction
	Create(ctx context.Context, t *Tenant, domains []*DomainMapping) error

	// Save persists lifecycle changes with an optimistic version check
	Save(ctx context.Context, t *Tenant) error

	// Delete removes the tenant, its members, its mappings and its partition
	// in one transaction. Without force a tenant with members is kept and
	// ErrTenantHasMembers is returned.
	Delete(ctx context.Context, t *Tenant, force bool) error

	Domains(ctx context.Context, tenantID snowflake.ID) ([]*DomainMapping, error)
	AddDomain(ctx context.Context, d *DomainMapping) error
	SetPrimaryDomain(ctx context.Context, tenantID snowflake.ID, domain string) error

	AddMember(ctx context.Context, m *Member) error
}
