package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/faithflows/backend/internal/domain/tenancy"
	"github.com/faithflows/backend/internal/infrastructure/auth"
	"github.com/faithflows/backend/internal/infrastructure/logger"
	"github.com/faithflows/backend/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// JWT context keys
const (
	JWTClaimsKey   = "jwt_claims"
	PrincipalKey   = "principal"
	AuthHeaderKey  = "Authorization"
	BearerPrefix   = "Bearer "
	DefaultCookie  = "access_token"
	userIDLogField = "user_id"
)

// JWTMiddlewareConfig holds configuration for JWT middleware
type JWTMiddlewareConfig struct {
	// JWTService is required for token validation
	JWTService *auth.JWTService
	// TokenBlacklist is optional for checking revoked tokens
	TokenBlacklist auth.TokenBlacklist
	// CookieName is read when no Authorization header is sent
	CookieName string
	// Public routes ignore bad credentials instead of rejecting them
	Public *PublicRoutes
	Logger *zap.Logger
}

// Authenticate identifies the caller from a bearer token or the access
// token cookie. Requests without credentials continue unauthenticated;
// the isolation guard allows those and handlers that need a caller use
// RequireAuth. Bad credentials are rejected with 401 except on public
// routes.
func Authenticate(cfg JWTMiddlewareConfig) gin.HandlerFunc {
	if cfg.CookieName == "" {
		cfg.CookieName = DefaultCookie
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(c *gin.Context) {
		token := tokenFromRequest(c, cfg.CookieName)
		if token == "" {
			c.Next()
			return
		}
		public := cfg.Public.Match(c.Request.URL.Path)

		claims, err := cfg.JWTService.ValidateAccessToken(token)
		if err != nil {
			if public {
				c.Next()
				return
			}
			handleAuthError(c, cfg, err)
			return
		}

		if err := auth.CheckRevoked(c.Request.Context(), cfg.TokenBlacklist, claims); err != nil {
			switch {
			case errors.Is(err, auth.ErrTokenRevoked), errors.Is(err, auth.ErrInvalidClaims):
				if public {
					c.Next()
					return
				}
				handleAuthError(c, cfg, err)
				return
			default:
				// revocation store down: the token itself verified
				cfg.Logger.Error("Failed to check token revocation",
					zap.String(userIDLogField, claims.UserID),
					zap.Error(err))
			}
		}

		principal, err := claims.Principal()
		if err != nil {
			if public {
				c.Next()
				return
			}
			handleAuthError(c, cfg, err)
			return
		}

		c.Set(JWTClaimsKey, claims)
		c.Set(PrincipalKey, principal)

		ctx, reqLogger := logger.WithUserID(c.Request.Context(), logger.GetGinLogger(c), principal.UserID)
		c.Request = c.Request.WithContext(ctx)
		logger.SetGinLogger(c, reqLogger)

		cfg.Logger.Debug("JWT authentication successful",
			zap.String(userIDLogField, principal.UserID),
			zap.String("role", string(principal.Role)))

		c.Next()
	}
}

// tokenFromRequest prefers the Authorization header over the cookie
func tokenFromRequest(c *gin.Context, cookieName string) string {
	if header := c.GetHeader(AuthHeaderKey); header != "" {
		token, ok := strings.CutPrefix(header, BearerPrefix)
		if !ok {
			return ""
		}
		return strings.TrimSpace(token)
	}
	if cookie, err := c.Cookie(cookieName); err == nil {
		return strings.TrimSpace(cookie)
	}
	return ""
}

// handleAuthError handles authentication errors
func handleAuthError(c *gin.Context, cfg JWTMiddlewareConfig, err error) {
	cfg.Logger.Warn("JWT authentication failed",
		zap.Error(err),
		zap.String("path", c.Request.URL.Path))

	code, message := dto.ErrCodeTokenInvalid, "Invalid token"
	switch {
	case errors.Is(err, auth.ErrExpiredToken):
		code, message = dto.ErrCodeTokenExpired, "Token has expired"
	case errors.Is(err, auth.ErrTokenNotYetValid):
		message = "Token is not yet valid"
	case errors.Is(err, auth.ErrTokenRevoked):
		code, message = dto.ErrCodeTokenRevoked, "Token has been revoked"
	}
	c.AbortWithStatusJSON(http.StatusUnauthorized,
		dto.NewErrorResponseWithRequestID(code, message, c.GetString(RequestIDKey)))
}

// GetJWTClaims retrieves JWT claims from gin.Context
func GetJWTClaims(c *gin.Context) *auth.Claims {
	if claims, exists := c.Get(JWTClaimsKey); exists {
		if jwtClaims, ok := claims.(*auth.Claims); ok {
			return jwtClaims
		}
	}
	return nil
}

// CurrentPrincipal returns the authenticated caller, or nil
func CurrentPrincipal(c *gin.Context) *tenancy.Principal {
	if p, exists := c.Get(PrincipalKey); exists {
		if principal, ok := p.(*tenancy.Principal); ok {
			return principal
		}
	}
	return nil
}
