package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/faithflows/backend/internal/domain/tenancy"
	"github.com/faithflows/backend/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withPrincipal(p *tenancy.Principal) gin.HandlerFunc {
	return func(c *gin.Context) {
		if p != nil {
			c.Set(PrincipalKey, p)
		}
		c.Next()
	}
}

func serve(t *testing.T, handlers ...gin.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()
	r := gin.New()
	handlers = append(handlers, func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/x", handlers...)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp dto.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	return resp.Error.Code
}

func TestRequireAuth(t *testing.T) {
	w := serve(t, RequireAuth())
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, dto.ErrCodeUnauthorized, errorCode(t, w))

	member := &tenancy.Principal{UserID: "u1", Role: tenancy.RoleMember}
	assert.Equal(t, http.StatusNoContent, serve(t, withPrincipal(member), RequireAuth()).Code)
}

func TestRequireCapability(t *testing.T) {
	tests := []struct {
		name      string
		principal *tenancy.Principal
		want      int
	}{
		{"anonymous", nil, http.StatusUnauthorized},
		{"member", &tenancy.Principal{UserID: "u1", Role: tenancy.RoleMember}, http.StatusForbidden},
		{"admin", &tenancy.Principal{UserID: "u2", Role: tenancy.RoleAdmin}, http.StatusForbidden},
		{"superadmin", &tenancy.Principal{UserID: "u3", Role: tenancy.RoleSuperAdmin}, http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(t, withPrincipal(tt.principal), RequireCapability(tenancy.CapManageTenants))
			assert.Equal(t, tt.want, w.Code)
			if tt.want == http.StatusForbidden {
				assert.Equal(t, dto.ErrCodeForbidden, errorCode(t, w))
			}
		})
	}

	admin := &tenancy.Principal{UserID: "u2", Role: tenancy.RoleAdmin}
	assert.Equal(t, http.StatusNoContent, serve(t, withPrincipal(admin), RequireCapability(tenancy.CapManageBilling)).Code)
}

func TestRequireTenant(t *testing.T) {
	w := serve(t, RequireTenant())
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, dto.ErrCodeTenantRequired, errorCode(t, w))

	resolved := func(c *gin.Context) {
		c.Set(RequestContextKey, &RequestContext{Tenant: newTenant(t, 9, "grace"), Outcome: OutcomeResolved})
		c.Next()
	}
	assert.Equal(t, http.StatusNoContent, serve(t, resolved, RequireTenant()).Code)
}
