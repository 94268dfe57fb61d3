package isolation

import (
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/faithflows/backend/internal/domain/tenancy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tenantWithID(t *testing.T, id int64, sub string) *tenancy.Tenant {
	t.Helper()
	tn, err := tenancy.NewTenant(snowflake.ID(id), sub, sub, "", time.Now())
	require.NoError(t, err)
	return tn
}

func principal(t *testing.T, role tenancy.Role, home *snowflake.ID) *tenancy.Principal {
	t.Helper()
	p, err := tenancy.NewPrincipal("user-1", "u@x.test", role, home)
	require.NoError(t, err)
	return p
}

func TestCheck(t *testing.T) {
	t1 := tenantWithID(t, 1, "first")
	t2 := tenantWithID(t, 2, "second")
	home1 := t1.ID

	tests := []struct {
		name    string
		in      Input
		allowed bool
	}{
		{"public route with foreign principal", Input{Principal: principal(t, tenancy.RoleMember, &home1), Tenant: t2, PublicRoute: true}, true},
		{"unauthenticated", Input{Tenant: t2}, true},
		{"superadmin on any tenant", Input{Principal: principal(t, tenancy.RoleSuperAdmin, nil), Tenant: t2}, true},
		{"no tenant bound", Input{Principal: principal(t, tenancy.RoleAdmin, &home1)}, true},
		{"home tenant", Input{Principal: principal(t, tenancy.RoleAdmin, &home1), Tenant: t1}, true},
		{"foreign tenant", Input{Principal: principal(t, tenancy.RoleAdmin, &home1), Tenant: t2}, false},
		{"foreign tenant as member", Input{Principal: principal(t, tenancy.RoleMember, &home1), Tenant: t2}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Check(tt.in)
			assert.Equal(t, tt.allowed, d.Allowed)
			if tt.allowed {
				assert.Empty(t, d.Reason)
				assert.Nil(t, d.Audit)
			} else {
				assert.Equal(t, ReasonCrossTenantAccess, d.Reason)
			}
		})
	}
}

func TestCheck_AuditRecord(t *testing.T) {
	t1 := tenantWithID(t, 10, "home-church")
	t2 := tenantWithID(t, 20, "other-church")
	home := t1.ID

	d := Check(Input{Principal: principal(t, tenancy.RoleAdmin, &home), Tenant: t2})

	require.NotNil(t, d.Audit)
	assert.Equal(t, "user-1", d.Audit.PrincipalID)
	assert.Equal(t, "20", d.Audit.AttemptedTenantID)
	assert.Equal(t, "10", d.Audit.HomeTenantID)
}
