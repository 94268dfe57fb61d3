package telemetry

import (
	"context"
	"runtime/pprof"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithProfilingLabels(t *testing.T) {
	var route, partitionKey string
	var hasRequestID bool

	labels := RequestLabels("/api/v1/tenant/current", "GET", "tenant_42")
	labels["request_id"] = "r-1"

	WithProfilingLabels(context.Background(), labels, func(ctx context.Context) {
		route, _ = pprof.Label(ctx, ProfilingLabelRoute)
		partitionKey, _ = pprof.Label(ctx, ProfilingLabelPartition)
		_, hasRequestID = pprof.Label(ctx, "request_id")
	})

	assert.Equal(t, "/api/v1/tenant/current", route)
	assert.Equal(t, "tenant_42", partitionKey)
	assert.False(t, hasRequestID)
}

func TestWithProfilingLabels_Empty(t *testing.T) {
	called := false
	WithProfilingLabels(context.Background(), nil, func(context.Context) { called = true })
	assert.True(t, called)
}

func TestSanitizeLabels(t *testing.T) {
	pairs := sanitizeLabels(map[string]string{
		"Route Name": "/x",
		"tenant_id":  "42",
		"empty":      "",
		"!!!":        "dropped",
		"operation":  strings.Repeat("a", MaxLabelValueLength+10),
	})

	assert.Equal(t, []string{
		"route_name", "/x",
		"operation", strings.Repeat("a", MaxLabelValueLength),
	}, pairs)
}

func TestSanitizeLabelKey(t *testing.T) {
	assert.Equal(t, "http_method", sanitizeLabelKey("HTTP-Method"))
	assert.Equal(t, "a_b", sanitizeLabelKey("a b"))
	assert.Equal(t, "", sanitizeLabelKey("@#"))
}
