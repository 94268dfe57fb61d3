package middleware

import (
	"net/http"

	"github.com/faithflows/backend/internal/domain/tenancy"
	"github.com/faithflows/backend/internal/infrastructure/logger"
	"github.com/faithflows/backend/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RequireAuth rejects unauthenticated requests
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if CurrentPrincipal(c) == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				dto.NewErrorResponseWithRequestID(dto.ErrCodeUnauthorized, "Authentication required", c.GetString(RequestIDKey)))
			return
		}
		c.Next()
	}
}

// RequireCapability rejects callers whose role does not grant capability
func RequireCapability(capability tenancy.Capability) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal := CurrentPrincipal(c)
		if principal == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				dto.NewErrorResponseWithRequestID(dto.ErrCodeUnauthorized, "Authentication required", c.GetString(RequestIDKey)))
			return
		}
		if !principal.Has(capability) {
			logger.GetGinLogger(c).Warn("Permission denied",
				zap.String("user_id", principal.UserID),
				zap.String("role", string(principal.Role)),
				zap.String("capability", string(capability)))
			c.AbortWithStatusJSON(http.StatusForbidden,
				dto.NewErrorResponseWithRequestID(dto.ErrCodeForbidden, "You do not have permission to perform this action", c.GetString(RequestIDKey)))
			return
		}
		c.Next()
	}
}

// RequireTenant rejects requests that did not resolve to a tenant. Absent
// and unknown keys get byte-identical answers, so the body carries no
// request id.
func RequireTenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		if CurrentTenant(c) == nil {
			c.AbortWithStatusJSON(http.StatusBadRequest,
				dto.NewErrorResponse(dto.ErrCodeTenantRequired, "Organization not specified"))
			return
		}
		c.Next()
	}
}
