package middleware

import (
	"context"
	"net/http"

	"github.com/faithflows/backend/internal/domain/subscription"
	"github.com/faithflows/backend/internal/domain/tenancy"
	"github.com/faithflows/backend/internal/infrastructure/partition"
	"github.com/gin-gonic/gin"
)

// State is the position of a request in the tenancy pipeline
type State string

const (
	StateStart      State = "start"
	StateResolved   State = "resolved"
	StateGuarded    State = "guarded"
	StateGated      State = "gated"
	StateDispatched State = "dispatched"
	StateDenied     State = "denied"
)

// Outcome is how a request's tenant resolved, as handlers see it. A key
// that named no active tenant is indistinguishable from no key at all.
type Outcome string

const (
	OutcomeResolved   Outcome = "resolved"
	OutcomeUnresolved Outcome = "unresolved"
	OutcomePublic     Outcome = "public"
)

// RequestContextKey is where the pipeline keeps its state on the gin context
const RequestContextKey = "tenancy_request"

type requestContextKey struct{}

// RequestContext is the per-request tenancy state. It lives for one request
// and is never shared.
type RequestContext struct {
	Tenant      *tenancy.Tenant
	Outcome     Outcome
	Scope       *partition.Scope
	Verdict     *subscription.Verdict
	PublicRoute bool
	State       State
	// DenyReason is set when State is StateDenied
	DenyReason string
}

func (rc *RequestContext) deny(reason string) {
	rc.State = StateDenied
	rc.DenyReason = reason
}

// GetRequestContext returns the pipeline state of the request, or nil when
// the pipeline did not run
func GetRequestContext(c *gin.Context) *RequestContext {
	if v, ok := c.Get(RequestContextKey); ok {
		if rc, ok := v.(*RequestContext); ok {
			return rc
		}
	}
	return nil
}

// RequestContextFrom returns the pipeline state carried by ctx
func RequestContextFrom(ctx context.Context) *RequestContext {
	rc, _ := ctx.Value(requestContextKey{}).(*RequestContext)
	return rc
}

// CurrentTenant returns the tenant the request resolved to, or nil
func CurrentTenant(c *gin.Context) *tenancy.Tenant {
	if rc := GetRequestContext(c); rc != nil {
		return rc.Tenant
	}
	return nil
}

// CurrentSubscription returns the verdict the gate computed for the request
func CurrentSubscription(c *gin.Context) (subscription.Verdict, bool) {
	if rc := GetRequestContext(c); rc != nil && rc.Verdict != nil {
		return *rc.Verdict, true
	}
	return subscription.Verdict{}, false
}

// Deny stops the request on behalf of a downstream handler. The request is
// recorded as denied with reason and answered with 403.
func Deny(c *gin.Context, reason string) {
	if rc := GetRequestContext(c); rc != nil {
		rc.deny(reason)
	}
	c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
		"error":  reason,
		"detail": "You do not have access to this resource.",
	})
}
