package telemetry

import (
	"context"
	"maps"
	"slices"
	"strings"

	"github.com/grafana/pyroscope-go"
)

// Profiling label keys.
const (
	ProfilingLabelRoute     = "route"
	ProfilingLabelMethod    = "method"
	ProfilingLabelPartition = "partition"
	ProfilingLabelOperation = "operation"
)

// MaxLabelValueLength caps label values.
const MaxLabelValueLength = 128

// highCardinalityLabels are dropped; they would explode the profile index.
var highCardinalityLabels = map[string]bool{
	"user_id":    true,
	"request_id": true,
	"trace_id":   true,
	"span_id":    true,
	"tenant_id":  true,
}

// WithProfilingLabels runs fn with labels attached to every sample it
// produces. Partition keys are low cardinality enough to label; per-request
// identifiers are dropped.
func WithProfilingLabels(ctx context.Context, labels map[string]string, fn func(context.Context)) {
	pairs := sanitizeLabels(labels)
	if len(pairs) == 0 {
		fn(ctx)
		return
	}
	pyroscope.TagWrapper(ctx, pyroscope.Labels(pairs...), fn)
}

// RequestLabels builds the labels for one dispatched request.
func RequestLabels(route, method, partitionKey string) map[string]string {
	return map[string]string{
		ProfilingLabelRoute:     route,
		ProfilingLabelMethod:    method,
		ProfilingLabelPartition: partitionKey,
	}
}

// sanitizeLabels returns sorted key/value pairs with empty, high-cardinality
// and malformed keys removed and long values truncated.
func sanitizeLabels(labels map[string]string) []string {
	keys := slices.Sorted(maps.Keys(labels))
	pairs := make([]string, 0, len(labels)*2)
	for _, key := range keys {
		value := labels[key]
		if value == "" || highCardinalityLabels[key] {
			continue
		}
		clean := sanitizeLabelKey(key)
		if clean == "" {
			continue
		}
		if len(value) > MaxLabelValueLength {
			value = value[:MaxLabelValueLength]
		}
		pairs = append(pairs, clean, value)
	}
	return pairs
}

// sanitizeLabelKey lowercases key and keeps only [a-z0-9_].
func sanitizeLabelKey(key string) string {
	key = strings.ToLower(key)
	return strings.Map(func(r rune) rune {
		switch {
		case r == ' ' || r == '-':
			return '_'
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_':
			return r
		default:
			return -1
		}
	}, key)
}
