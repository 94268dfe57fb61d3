package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	tenancyapp "github.com/faithflows/backend/internal/application/tenancy"
	"github.com/faithflows/backend/internal/domain/isolation"
	"github.com/faithflows/backend/internal/domain/subscription"
	"github.com/faithflows/backend/internal/domain/tenancy"
	"github.com/faithflows/backend/internal/infrastructure/logger"
	"github.com/faithflows/backend/internal/infrastructure/partition"
	"github.com/faithflows/backend/internal/infrastructure/telemetry"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	// HeaderTenantSchema names the partition a resolved request ran against
	HeaderTenantSchema = "X-Tenant-Schema"
	// HeaderSubscriptionWarning carries the grace period warning
	HeaderSubscriptionWarning = "X-Subscription-Warning"

	// StatusClientClosedRequest is written when the client went away
	// before dispatch
	StatusClientClosedRequest = 499
)

// Resolver resolves a request key and binds its partition
type Resolver interface {
	Resolve(ctx context.Context, key string) (tenancyapp.Resolution, error)
}

// ExpiryObserver is told about every verdict the gate computes
type ExpiryObserver interface {
	Observe(ctx context.Context, t *tenancy.Tenant, v subscription.Verdict, now time.Time) bool
}

// PipelineConfig wires the tenancy pipeline
type PipelineConfig struct {
	Resolver  Resolver
	Extractor KeyExtractor
	Public    *PublicRoutes
	// Expiry is optional
	Expiry  ExpiryObserver
	Metrics *telemetry.TenancyMetrics
	Logger  *zap.Logger
	// Now defaults to time.Now
	Now       func() time.Time
	Profiling bool
}

// Pipeline runs Resolver, Isolation Guard and Subscription Gate in that
// order for every request, as a single gin handler so that one deferred
// release covers every exit path of the chain below it.
type Pipeline struct {
	cfg   PipelineConfig
	audit *zap.Logger
}

// NewPipeline creates the tenancy pipeline
func NewPipeline(cfg PipelineConfig) *Pipeline {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Pipeline{cfg: cfg, audit: logger.Audit(cfg.Logger)}
}

// Handler returns the gin middleware. It must run after Authenticate so
// the guard sees the principal.
func (p *Pipeline) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		rc := &RequestContext{
			State:       StateStart,
			PublicRoute: p.cfg.Public.Match(c.Request.URL.Path),
		}
		ctx := context.WithValue(c.Request.Context(), requestContextKey{}, rc)
		ctx = partition.WithRequest(ctx)
		c.Request = c.Request.WithContext(ctx)
		c.Set(RequestContextKey, rc)

		// Released on every exit: allow, deny, abort and panic.
		defer func() {
			if rc.Scope != nil {
				rc.Scope.Release()
			}
		}()

		if !p.resolve(c, rc) {
			return
		}
		if !p.guard(c, rc) {
			return
		}
		if rc.Scope != nil {
			c.Header(HeaderTenantSchema, rc.Scope.Key())
		}
		if !p.gate(c, rc) {
			return
		}

		if err := c.Request.Context().Err(); err != nil {
			rc.deny("client_closed")
			c.AbortWithStatus(StatusClientClosedRequest)
			return
		}

		rc.State = StateDispatched
		annotateSpan(c, rc)
		p.dispatch(c, rc)
	}
}

func (p *Pipeline) resolve(c *gin.Context, rc *RequestContext) bool {
	ctx := c.Request.Context()
	key := ""
	if p.cfg.Extractor != nil {
		key = p.cfg.Extractor.Extract(c.Request)
	}

	start := time.Now()
	res, err := p.cfg.Resolver.Resolve(ctx, key)
	if err != nil {
		p.cfg.Metrics.RecordResolution(ctx, telemetry.OutcomeBindError, time.Since(start))
		rc.deny("partition_unavailable")
		annotateSpan(c, rc)

		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			c.AbortWithStatus(StatusClientClosedRequest)
			return false
		}
		logger.GetGinLogger(c).Error("Tenant partition binding failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
			"error":  "partition_unavailable",
			"detail": "The organization's data is temporarily unavailable. Please retry shortly.",
		})
		return false
	}
	elapsed := time.Since(start)

	rc.Tenant = res.Tenant
	rc.Scope = res.Scope
	switch {
	case res.Outcome == tenancyapp.OutcomeResolved:
		rc.Outcome = OutcomeResolved
	case rc.PublicRoute:
		rc.Outcome = OutcomePublic
	default:
		rc.Outcome = OutcomeUnresolved
	}
	rc.State = StateResolved

	metricOutcome := string(res.Outcome)
	if rc.Outcome == OutcomePublic {
		metricOutcome = telemetry.OutcomePublic
	}
	p.cfg.Metrics.RecordResolution(ctx, metricOutcome, elapsed)

	if rc.Tenant != nil {
		ctx, l := logger.WithTenant(ctx, logger.GetGinLogger(c), rc.Tenant.ID.String(), rc.Scope.Key())
		ctx = tenancyapp.WithTenant(ctx, rc.Tenant)
		c.Request = c.Request.WithContext(ctx)
		logger.SetGinLogger(c, l)
	} else if rc.Outcome == OutcomeUnresolved && key != "" {
		logger.GetGinLogger(c).Debug("Tenant key did not resolve")
	}
	return true
}

func (p *Pipeline) guard(c *gin.Context, rc *RequestContext) bool {
	decision := isolation.Check(isolation.Input{
		Principal:   CurrentPrincipal(c),
		Tenant:      rc.Tenant,
		PublicRoute: rc.PublicRoute,
	})
	if decision.Allowed {
		rc.State = StateGuarded
		return true
	}

	reason := string(decision.Reason)
	rc.deny(reason)
	p.cfg.Metrics.RecordDenial(c.Request.Context(), reason)
	if a := decision.Audit; a != nil {
		p.audit.Warn("Cross-tenant access denied",
			zap.String("request_id", c.GetString(RequestIDKey)),
			zap.String("principal_id", a.PrincipalID),
			zap.String("attempted_tenant_id", a.AttemptedTenantID),
			zap.String("home_tenant_id", a.HomeTenantID),
			zap.String("path", c.Request.URL.Path),
			zap.String("method", c.Request.Method),
		)
	}
	annotateSpan(c, rc)
	c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
		"error":  reason,
		"detail": "You do not have access to this organization.",
	})
	return false
}

func (p *Pipeline) gate(c *gin.Context, rc *RequestContext) bool {
	if rc.PublicRoute || rc.Tenant == nil {
		rc.State = StateGated
		return true
	}

	ctx := c.Request.Context()
	now := p.cfg.Now()
	verdict := subscription.Evaluate(rc.Tenant, now)
	rc.Verdict = &verdict
	p.cfg.Metrics.RecordVerdict(ctx, string(verdict.State))
	if p.cfg.Expiry != nil {
		p.cfg.Expiry.Observe(ctx, rc.Tenant, verdict, now)
	}

	if !verdict.Allowed {
		rc.deny(string(verdict.State))
		p.cfg.Metrics.RecordDenial(ctx, string(verdict.State))
		logger.GetGinLogger(c).Info("Subscription gate denied request",
			zap.String("subscription_state", string(verdict.State)))
		annotateSpan(c, rc)
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"error":            verdict.Message,
			"status":           verdict.State,
			"expired":          true,
			"upgrade_required": true,
		})
		return false
	}

	if verdict.Warning != "" {
		c.Header(HeaderSubscriptionWarning, verdict.Warning)
	}
	rc.State = StateGated
	return true
}

func (p *Pipeline) dispatch(c *gin.Context, rc *RequestContext) {
	if !p.cfg.Profiling {
		c.Next()
		return
	}
	partitionKey := tenancy.PublicPartition
	if rc.Scope != nil {
		partitionKey = rc.Scope.Key()
	}
	labels := telemetry.RequestLabels(routePattern(c), c.Request.Method, partitionKey)
	telemetry.WithProfilingLabels(c.Request.Context(), labels, func(ctx context.Context) {
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	})
}
