package tenancy

import (
	"context"
	"fmt"
	"time"

	"github.com/faithflows/backend/internal/domain/shared"
	"github.com/faithflows/backend/internal/domain/subscription"
	"github.com/faithflows/backend/internal/domain/tenancy"
	"go.uber.org/zap"
)

// DefaultExpiryDedupeTTL is how long an expiry notice is remembered
const DefaultExpiryDedupeTTL = 30 * 24 * time.Hour

// ExpiryNotifier publishes TrialExpired and SubscriptionExpired events the
// first time a tenant is seen in each expiry state for a given end date.
// The gate and the periodic scanner share one notifier so a tenant is told
// once however it was noticed.
type ExpiryNotifier struct {
	store  shared.IdempotencyStore
	events shared.EventPublisher
	ttl    time.Duration
	logger *zap.Logger
}

// NewExpiryNotifier creates a notifier deduplicating through store
func NewExpiryNotifier(store shared.IdempotencyStore, events shared.EventPublisher, ttl time.Duration, logger *zap.Logger) *ExpiryNotifier {
	if ttl <= 0 {
		ttl = DefaultExpiryDedupeTTL
	}
	return &ExpiryNotifier{store: store, events: events, ttl: ttl, logger: logger}
}

// Observe publishes an expiry event for v unless one was already published.
// It reports whether an event went out.
func (n *ExpiryNotifier) Observe(ctx context.Context, t *tenancy.Tenant, v subscription.Verdict, now time.Time) bool {
	eventType, end, ok := expiryOf(t, v)
	if !ok {
		return false
	}
	key := fmt.Sprintf("expiry:%s:%s:%d", t.ID, v.State, end.Unix())

	fresh, err := n.store.MarkProcessed(ctx, key, n.ttl)
	if err != nil {
		n.logger.Warn("Expiry dedupe unavailable, skipping notice",
			zap.String("tenant_id", t.ID.String()), zap.Error(err))
		return false
	}
	if !fresh {
		return false
	}

	event := tenancy.NewExpiryEvent(eventType, t, end, !v.Allowed, now)
	if err := n.events.Publish(ctx, event); err != nil {
		n.logger.Error("Failed to publish expiry event",
			zap.String("tenant_id", t.ID.String()), zap.Error(err))
		_ = n.store.Forget(ctx, key)
		return false
	}
	n.logger.Info("Tenant expiry observed",
		zap.String("tenant_id", t.ID.String()),
		zap.String("state", string(v.State)),
		zap.Time("end_date", end))
	return true
}

func expiryOf(t *tenancy.Tenant, v subscription.Verdict) (string, time.Time, bool) {
	switch v.State {
	case subscription.StateTrialExpiring, subscription.StateTrialExpired:
		if t.TrialEndDate != nil {
			return tenancy.EventTypeTrialExpired, *t.TrialEndDate, true
		}
	case subscription.StateSubscriptionExpiring, subscription.StateSubscriptionExpired:
		if t.SubscriptionEndDate != nil {
			return tenancy.EventTypeSubscriptionExpired, *t.SubscriptionEndDate, true
		}
	}
	return "", time.Time{}, false
}

// ExpiryLister lists tenants whose trial or subscription ended before t
type ExpiryLister interface {
	ListEndingBefore(ctx context.Context, t time.Time) ([]*tenancy.Tenant, error)
}

// ExpiryScanner periodically notices expired tenants that send no requests
type ExpiryScanner struct {
	lister   ExpiryLister
	notifier *ExpiryNotifier
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

// NewExpiryScanner creates a scanner running every interval
func NewExpiryScanner(lister ExpiryLister, notifier *ExpiryNotifier, interval time.Duration, logger *zap.Logger) *ExpiryScanner {
	if interval <= 0 {
		interval = time.Hour
	}
	return &ExpiryScanner{
		lister:   lister,
		notifier: notifier,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
}

// ScanOnce evaluates every tenant past an end date and returns how many
// expiry events it published
func (s *ExpiryScanner) ScanOnce(ctx context.Context) (int, error) {
	now := s.now()
	tenants, err := s.lister.ListEndingBefore(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list expiring tenants: %w", err)
	}
	published := 0
	for _, t := range tenants {
		if ctx.Err() != nil {
			return published, ctx.Err()
		}
		if s.notifier.Observe(ctx, t, subscription.Evaluate(t, now), now) {
			published++
		}
	}
	return published, nil
}

// Run scans until ctx is cancelled
func (s *ExpiryScanner) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		n, err := s.ScanOnce(ctx)
		if err != nil && ctx.Err() == nil {
			s.logger.Error("Expiry scan failed", zap.Error(err))
		} else if n > 0 {
			s.logger.Info("Expiry scan published events", zap.Int("events", n))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
