package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// Resolution outcomes recorded by TenancyMetrics.
const (
	OutcomeResolved  = "resolved"
	OutcomeAbsent    = "absent"
	OutcomeUnknown   = "unknown"
	OutcomeBindError = "bind_error"
	OutcomePublic    = "public"
)

// TenancyMetrics holds the request pipeline instruments. A nil
// *TenancyMetrics records nothing.
type TenancyMetrics struct {
	resolutions     *Counter
	resolveDuration *Histogram
	verdicts        *Counter
	denials         *Counter
	cacheLookups    *Counter
}

// NewTenancyMetrics creates the pipeline instruments on meter.
func NewTenancyMetrics(meter metric.Meter) (*TenancyMetrics, error) {
	resolutions, err := NewCounter(meter, "tenancy_resolutions_total",
		"Tenant resolutions by outcome", "{request}")
	if err != nil {
		return nil, err
	}
	resolveDuration, err := NewHistogram(meter, HistogramOpts{
		Name:        "tenancy_resolve_duration_seconds",
		Description: "Time spent resolving and binding the tenant of a request",
		Unit:        "s",
		Boundaries:  SmallDurationBuckets,
	})
	if err != nil {
		return nil, err
	}
	verdicts, err := NewCounter(meter, "subscription_verdicts_total",
		"Subscription gate verdicts by state", "{request}")
	if err != nil {
		return nil, err
	}
	denials, err := NewCounter(meter, "isolation_denials_total",
		"Requests refused by the isolation guard by reason", "{request}")
	if err != nil {
		return nil, err
	}
	cacheLookups, err := NewCounter(meter, "tenancy_cache_lookups_total",
		"Directory cache lookups by result", "{lookup}")
	if err != nil {
		return nil, err
	}
	return &TenancyMetrics{
		resolutions:     resolutions,
		resolveDuration: resolveDuration,
		verdicts:        verdicts,
		denials:         denials,
		cacheLookups:    cacheLookups,
	}, nil
}

// RecordResolution counts one resolution and its latency.
func (m *TenancyMetrics) RecordResolution(ctx context.Context, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.resolutions.Inc(ctx, AttrOutcome.String(outcome))
	m.resolveDuration.RecordDuration(ctx, d, AttrOutcome.String(outcome))
}

// RecordVerdict counts one subscription verdict.
func (m *TenancyMetrics) RecordVerdict(ctx context.Context, state string) {
	if m == nil {
		return
	}
	m.verdicts.Inc(ctx, AttrSubscriptionState.String(state))
}

// RecordDenial counts one isolation refusal.
func (m *TenancyMetrics) RecordDenial(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.denials.Inc(ctx, AttrReason.String(reason))
}

// RecordCacheLookup counts a directory cache hit or miss.
func (m *TenancyMetrics) RecordCacheLookup(ctx context.Context, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.Inc(ctx, AttrCacheResult.String(result))
}
