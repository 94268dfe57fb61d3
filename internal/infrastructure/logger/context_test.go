package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestFromContext_NotFound(t *testing.T) {
	l := FromContext(context.Background())
	require.NotNil(t, l)
	assert.False(t, l.Core().Enabled(zapcore.ErrorLevel))
}

func TestWithTenant(t *testing.T) {
	core, recorded := observer.New(zapcore.InfoLevel)

	ctx, l := WithRequestID(context.Background(), zap.New(core), "req-1")
	ctx, l = WithTenant(ctx, l, "7", "tenant_7")
	ctx, _ = WithUserID(ctx, l, "u-1")

	assert.Equal(t, "req-1", GetRequestID(ctx))
	assert.Equal(t, "7", GetTenantID(ctx))
	assert.Equal(t, "tenant_7", GetPartition(ctx))
	assert.Equal(t, "u-1", GetUserID(ctx))

	FromContext(ctx).Info("bound")
	fields := recorded.All()[0].ContextMap()
	assert.Equal(t, "req-1", fields["request_id"])
	assert.Equal(t, "7", fields["tenant_id"])
	assert.Equal(t, "tenant_7", fields["partition"])
	assert.Equal(t, "u-1", fields["user_id"])
}

func TestContextGetters_Empty(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetRequestID(ctx))
	assert.Empty(t, GetTenantID(ctx))
	assert.Empty(t, GetPartition(ctx))
	assert.Empty(t, GetUserID(ctx))
}

func TestContextLogger_AddsTraceIDs(t *testing.T) {
	core, recorded := observer.New(zapcore.DebugLevel)
	ctx := WithContext(context.Background(), zap.New(core))

	traceID, _ := trace.TraceIDFromHex("0123456789abcdef0123456789abcdef")
	spanID, _ := trace.SpanIDFromHex("0123456789abcdef")
	ctx = trace.ContextWithSpanContext(ctx, trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	L(ctx).With(zap.String("k", "v")).Info("traced")

	fields := recorded.All()[0].ContextMap()
	assert.Equal(t, traceID.String(), fields["trace_id"])
	assert.Equal(t, spanID.String(), fields["span_id"])
	assert.Equal(t, "v", fields["k"])
}

func TestContextLogger_NoSpan(t *testing.T) {
	core, recorded := observer.New(zapcore.DebugLevel)
	ctx := WithContext(context.Background(), zap.New(core))

	L(ctx).Debug("plain")
	L(ctx).Warn("plain")
	L(ctx).Error("plain")

	require.Len(t, recorded.All(), 3)
	_, ok := recorded.All()[0].ContextMap()["trace_id"]
	assert.False(t, ok)
	assert.NotNil(t, L(ctx).Zap())
}
