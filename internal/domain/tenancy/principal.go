package tenancy

import (
	"github.com/bwmarrin/snowflake"
	"github.com/faithflows/backend/internal/domain/shared"
)

// Role is the closed set of principal roles
type Role string

const (
	RoleSuperAdmin Role = "superadmin"
	RoleAdmin      Role = "admin"
	RoleMember     Role = "member"
)

// IsValid reports whether r is a known role
func (r Role) IsValid() bool {
	return r == RoleSuperAdmin || r == RoleAdmin || r == RoleMember
}

// Capability is a coarse permission derived from a role
type Capability string

const (
	// CapCrossTenant exempts a principal from home-tenant binding
	CapCrossTenant   Capability = "cross_tenant"
	CapManageTenants Capability = "manage_tenants"
	CapManageBilling Capability = "manage_billing"
	CapReadTenant    Capability = "read_tenant"
)

var roleCapabilities = map[Role][]Capability{
	RoleSuperAdmin: {CapCrossTenant, CapManageTenants, CapManageBilling, CapReadTenant},
	RoleAdmin:      {CapManageBilling, CapReadTenant},
	RoleMember:     {CapReadTenant},
}

// Principal is an authenticated caller
type Principal struct {
	UserID       string
	Email        string
	Role         Role
	HomeTenantID *snowflake.ID
}

// NewPrincipal builds a principal, enforcing that only a superadmin may
// exist without a home tenant.
func NewPrincipal(userID, email string, role Role, home *snowflake.ID) (*Principal, error) {
	if userID == "" {
		return nil, shared.NewDomainError("INVALID_PRINCIPAL", "Principal user id cannot be empty")
	}
	if !role.IsValid() {
		return nil, shared.NewDomainError("INVALID_ROLE", "Unknown role")
	}
	if home == nil && role != RoleSuperAdmin {
		return nil, shared.NewDomainError("INVALID_PRINCIPAL", "Only a superadmin may have no home tenant")
	}
	return &Principal{UserID: userID, Email: email, Role: role, HomeTenantID: home}, nil
}

// Has reports whether the principal's role grants c
func (p *Principal) Has(c Capability) bool {
	if p == nil {
		return false
	}
	for _, granted := range roleCapabilities[p.Role] {
		if granted == c {
			return true
		}
	}
	return false
}

// BelongsTo reports whether the principal's home tenant is id
func (p *Principal) BelongsTo(id snowflake.ID) bool {
	return p != nil && p.HomeTenantID != nil && *p.HomeTenantID == id
}

// Member is the directory's record of a principal, kept so a tenant
// with members is not removed by accident.
type Member struct {
	ID       snowflake.ID
	TenantID *snowflake.ID
	Email    string
	Role     Role
}
