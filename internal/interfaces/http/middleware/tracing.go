// Package middleware provides the HTTP middleware of the tenancy backend.
package middleware

import (
	"net/http"

	"github.com/faithflows/backend/internal/infrastructure/telemetry"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracingConfig holds configuration for the tracing middleware.
type TracingConfig struct {
	ServiceName string
	Enabled     bool
}

// TracingWithConfig returns otelgin tracing middleware. Span names follow
// "HTTP METHOD route_pattern"; tenancy attributes are added by the pipeline
// once the request has resolved.
func TracingWithConfig(cfg TracingConfig) gin.HandlerFunc {
	if !cfg.Enabled {
		return passThrough
	}

	return otelgin.Middleware(cfg.ServiceName, otelgin.WithFilter(func(r *http.Request) bool {
		return r.URL.Path != "/health"
	}))
}

// annotateSpan records the pipeline outcome on the request span
func annotateSpan(c *gin.Context, rc *RequestContext) {
	span := trace.SpanFromContext(c.Request.Context())
	if !span.IsRecording() {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("request_id", c.GetString(RequestIDKey)),
		telemetry.AttrOutcome.String(string(rc.Outcome)),
	}
	if rc.Tenant != nil {
		attrs = append(attrs, telemetry.AttrTenantID.String(rc.Tenant.ID.String()))
	}
	if rc.Scope != nil {
		attrs = append(attrs, telemetry.AttrPartition.String(rc.Scope.Key()))
	}
	if rc.Verdict != nil {
		attrs = append(attrs, telemetry.AttrSubscriptionState.String(string(rc.Verdict.State)))
	}
	if rc.DenyReason != "" {
		attrs = append(attrs, telemetry.AttrReason.String(rc.DenyReason))
	}
	span.SetAttributes(attrs...)
}

// SpanErrorMarker marks spans of 4xx/5xx responses with an error status.
// Place it after TracingWithConfig.
func SpanErrorMarker() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		span := trace.SpanFromContext(c.Request.Context())
		if !span.IsRecording() {
			return
		}

		statusCode := c.Writer.Status()
		if statusCode < http.StatusBadRequest {
			return
		}

		var message string
		switch {
		case statusCode >= http.StatusInternalServerError:
			message = "Internal Server Error"
		case statusCode == http.StatusUnauthorized:
			message = "Unauthorized"
		case statusCode == http.StatusForbidden:
			message = "Forbidden"
		case statusCode == http.StatusNotFound:
			message = "Not Found"
		default:
			message = "Client Error"
		}
		span.SetStatus(codes.Error, message)
		span.SetAttributes(attribute.Int("http.status_code", statusCode))
	}
}
