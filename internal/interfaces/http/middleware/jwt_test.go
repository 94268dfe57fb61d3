package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/faithflows/backend/internal/domain/tenancy"
	"github.com/faithflows/backend/internal/infrastructure/auth"
	"github.com/faithflows/backend/internal/infrastructure/config"
	"github.com/faithflows/backend/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type brokenBlacklist struct {
	*auth.InMemoryTokenBlacklist
}

func (brokenBlacklist) IsBlacklisted(context.Context, string) (bool, error) {
	return false, errors.New("redis: connection refused")
}

type authResult struct {
	w         *httptest.ResponseRecorder
	principal *tenancy.Principal
	reached   bool
}

func authenticate(t *testing.T, cfg JWTMiddlewareConfig, path string, mutate func(*http.Request)) authResult {
	t.Helper()
	var res authResult
	r := gin.New()
	r.Use(Authenticate(cfg))
	r.GET(path, func(c *gin.Context) {
		res.reached = true
		res.principal = CurrentPrincipal(c)
		c.Status(http.StatusOK)
	})
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if mutate != nil {
		mutate(req)
	}
	res.w = httptest.NewRecorder()
	r.ServeHTTP(res.w, req)
	return res
}

func bearer(token string) func(*http.Request) {
	return func(r *http.Request) { r.Header.Set(AuthHeaderKey, BearerPrefix+token) }
}

func TestAuthenticate(t *testing.T) {
	svc := newJWTService()
	home := newTenant(t, 11, "grace")
	token := issueToken(t, svc, tenancy.RoleAdmin, home)
	cfg := JWTMiddlewareConfig{JWTService: svc, Public: NewPublicRoutes([]string{"/api/v1/auth/login"})}

	t.Run("no credentials continue anonymously", func(t *testing.T) {
		res := authenticate(t, cfg, "/api/v1/notes", nil)
		assert.True(t, res.reached)
		assert.Nil(t, res.principal)
	})

	t.Run("bearer token", func(t *testing.T) {
		res := authenticate(t, cfg, "/api/v1/notes", bearer(token))
		require.True(t, res.reached)
		require.NotNil(t, res.principal)
		assert.Equal(t, tenancy.RoleAdmin, res.principal.Role)
		require.NotNil(t, res.principal.HomeTenantID)
		assert.Equal(t, home.ID, *res.principal.HomeTenantID)
	})

	t.Run("cookie fallback", func(t *testing.T) {
		res := authenticate(t, cfg, "/api/v1/notes", func(r *http.Request) {
			r.AddCookie(&http.Cookie{Name: DefaultCookie, Value: token})
		})
		require.NotNil(t, res.principal)
		assert.Equal(t, "user-admin", res.principal.UserID)
	})

	t.Run("header wins over cookie", func(t *testing.T) {
		res := authenticate(t, cfg, "/api/v1/notes", func(r *http.Request) {
			r.Header.Set(AuthHeaderKey, BearerPrefix+"garbage")
			r.AddCookie(&http.Cookie{Name: DefaultCookie, Value: token})
		})
		assert.Equal(t, http.StatusUnauthorized, res.w.Code)
		assert.False(t, res.reached)
	})

	t.Run("invalid token is rejected", func(t *testing.T) {
		res := authenticate(t, cfg, "/api/v1/notes", bearer("not.a.jwt"))
		assert.Equal(t, http.StatusUnauthorized, res.w.Code)
		assert.Equal(t, dto.ErrCodeTokenInvalid, errorCode(t, res.w))
	})

	t.Run("invalid token ignored on public route", func(t *testing.T) {
		res := authenticate(t, cfg, "/api/v1/auth/login", bearer("not.a.jwt"))
		assert.True(t, res.reached)
		assert.Nil(t, res.principal)
	})

	t.Run("expired token", func(t *testing.T) {
		expired := auth.NewJWTService(config.JWTConfig{
			Secret:                "middleware-test-secret-0123456789abcdef",
			AccessTokenExpiration: -time.Minute,
			Issuer:                "tenantd-test",
		})
		res := authenticate(t, cfg, "/api/v1/notes", bearer(issueToken(t, expired, tenancy.RoleMember, home)))
		assert.Equal(t, http.StatusUnauthorized, res.w.Code)
		assert.Equal(t, dto.ErrCodeTokenExpired, errorCode(t, res.w))
	})

	t.Run("wrong issuer", func(t *testing.T) {
		other := auth.NewJWTService(config.JWTConfig{
			Secret:                "middleware-test-secret-0123456789abcdef",
			AccessTokenExpiration: time.Hour,
			Issuer:                "someone-else",
		})
		res := authenticate(t, cfg, "/api/v1/notes", bearer(issueToken(t, other, tenancy.RoleMember, home)))
		assert.Equal(t, http.StatusUnauthorized, res.w.Code)
	})
}

func TestAuthenticate_Revocation(t *testing.T) {
	svc := newJWTService()
	home := newTenant(t, 12, "bethel")

	t.Run("tenant revocation rejects older tokens", func(t *testing.T) {
		bl := auth.NewInMemoryTokenBlacklist()
		token := issueToken(t, svc, tenancy.RoleMember, home)
		require.NoError(t, bl.RevokeTenantTokens(context.Background(), home.ID, time.Hour))

		res := authenticate(t, JWTMiddlewareConfig{JWTService: svc, TokenBlacklist: bl}, "/api/v1/notes", bearer(token))
		assert.Equal(t, http.StatusUnauthorized, res.w.Code)
		assert.Equal(t, dto.ErrCodeTokenRevoked, errorCode(t, res.w))
	})

	t.Run("other tenants are unaffected", func(t *testing.T) {
		bl := auth.NewInMemoryTokenBlacklist()
		require.NoError(t, bl.RevokeTenantTokens(context.Background(), snowflake.ID(999), time.Hour))

		res := authenticate(t, JWTMiddlewareConfig{JWTService: svc, TokenBlacklist: bl}, "/api/v1/notes", bearer(issueToken(t, svc, tenancy.RoleMember, home)))
		assert.Equal(t, http.StatusOK, res.w.Code)
		assert.NotNil(t, res.principal)
	})

	t.Run("store outage fails open and is logged", func(t *testing.T) {
		core, logs := observer.New(zap.ErrorLevel)
		cfg := JWTMiddlewareConfig{
			JWTService:     svc,
			TokenBlacklist: brokenBlacklist{auth.NewInMemoryTokenBlacklist()},
			Logger:         zap.New(core),
		}
		res := authenticate(t, cfg, "/api/v1/notes", bearer(issueToken(t, svc, tenancy.RoleMember, home)))
		assert.Equal(t, http.StatusOK, res.w.Code)
		assert.NotNil(t, res.principal)
		assert.Equal(t, 1, logs.FilterMessage("Failed to check token revocation").Len())
	})
}

func TestGetJWTClaims(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Nil(t, GetJWTClaims(c))
	assert.Nil(t, CurrentPrincipal(c))

	claims := &auth.Claims{UserID: "u1"}
	c.Set(JWTClaimsKey, claims)
	assert.Same(t, claims, GetJWTClaims(c))
}
