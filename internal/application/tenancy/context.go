package tenancy

import (
	"context"

	"github.com/faithflows/backend/internal/domain/tenancy"
)

type tenantKey struct{}

// WithTenant returns a context carrying the request's resolved tenant
func WithTenant(ctx context.Context, t *tenancy.Tenant) context.Context {
	return context.WithValue(ctx, tenantKey{}, t)
}

// TenantFromContext returns the tenant the request resolved to, if any
func TenantFromContext(ctx context.Context) (*tenancy.Tenant, bool) {
	t, ok := ctx.Value(tenantKey{}).(*tenancy.Tenant)
	return t, ok && t != nil
}
