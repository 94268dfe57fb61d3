// Package isolation decides whether a principal may act against the
// tenant a request resolved to.
package isolation

import (
	"github.com/faithflows/backend/internal/domain/tenancy"
)

// Reason explains a Deny
type Reason string

const ReasonCrossTenantAccess Reason = "cross_tenant_access"

// Decision is the outcome of Check
type Decision struct {
	Allowed bool
	Reason  Reason
	// Audit is set when the decision must be recorded as a security event
	Audit *AuditRecord
}

// AuditRecord identifies the parties of a cross-tenant attempt
type AuditRecord struct {
	PrincipalID       string
	AttemptedTenantID string
	HomeTenantID      string
}

// Input is everything the guard looks at
type Input struct {
	// Principal is nil for unauthenticated requests
	Principal   *tenancy.Principal
	Tenant      *tenancy.Tenant
	PublicRoute bool
}

var allow = Decision{Allowed: true}

// Check allows the request unless an authenticated, non-exempt principal
// targets a tenant other than its home tenant.
func Check(in Input) Decision {
	if in.PublicRoute || in.Principal == nil {
		return allow
	}
	if in.Principal.Has(tenancy.CapCrossTenant) {
		return allow
	}
	if in.Tenant == nil {
		return allow
	}
	if in.Principal.BelongsTo(in.Tenant.ID) {
		return allow
	}

	home := ""
	if in.Principal.HomeTenantID != nil {
		home = in.Principal.HomeTenantID.String()
	}
	return Decision{
		Reason: ReasonCrossTenantAccess,
		Audit: &AuditRecord{
			PrincipalID:       in.Principal.UserID,
			AttemptedTenantID: in.Tenant.ID.String(),
			HomeTenantID:      home,
		},
	}
}
