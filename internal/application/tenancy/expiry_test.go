package tenancy

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/faithflows/backend/internal/domain/subscription"
	"github.com/faithflows/backend/internal/domain/tenancy"
	"github.com/faithflows/backend/internal/infrastructure/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testDay = 24 * time.Hour

type failingStore struct {
	*cache.InMemoryIdempotencyStore
	err error
}

func (s *failingStore) MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return false, s.err
}

type staticLister struct {
	tenants []*tenancy.Tenant
	err     error
	before  time.Time
}

func (l *staticLister) ListEndingBefore(ctx context.Context, t time.Time) ([]*tenancy.Tenant, error) {
	l.before = t
	return l.tenants, l.err
}

func expiredTrial(t *testing.T, id int64, subdomain string, ago time.Duration) *tenancy.Tenant {
	t.Helper()
	tn := resolverTenant(t, id, subdomain)
	end := testNow.Add(-ago)
	tn.TrialEndDate = &end
	tn.ClearDomainEvents()
	return tn
}

func newNotifier(t *testing.T, events *recordingPublisher) (*ExpiryNotifier, *cache.InMemoryIdempotencyStore) {
	t.Helper()
	store := cache.NewInMemoryIdempotencyStore()
	t.Cleanup(func() { store.Close() })
	return NewExpiryNotifier(store, events, 0, zap.NewNop()), store
}

func TestExpiryNotifier_Observe(t *testing.T) {
	ctx := context.Background()

	t.Run("publishes once per state and end date", func(t *testing.T) {
		events := &recordingPublisher{}
		n, _ := newNotifier(t, events)
		tn := expiredTrial(t, 201, "grace", 10*testDay)

		v := subscription.Evaluate(tn, testNow)
		require.Equal(t, subscription.StateTrialExpired, v.State)

		assert.True(t, n.Observe(ctx, tn, v, testNow))
		assert.False(t, n.Observe(ctx, tn, v, testNow.Add(time.Hour)))
		require.Equal(t, []string{tenancy.EventTypeTrialExpired}, events.types())

		e, ok := events.events[0].(*tenancy.ExpiryEvent)
		require.True(t, ok)
		assert.True(t, e.AccessBlocked)
		assert.Equal(t, *tn.TrialEndDate, e.EndDate)
	})

	t.Run("grace period notice is a separate state", func(t *testing.T) {
		events := &recordingPublisher{}
		n, _ := newNotifier(t, events)
		tn := expiredTrial(t, 202, "bethel", 2*testDay)

		expiring := subscription.Evaluate(tn, testNow)
		require.Equal(t, subscription.StateTrialExpiring, expiring.State)
		assert.True(t, n.Observe(ctx, tn, expiring, testNow))

		later := testNow.Add(10 * testDay)
		expired := subscription.Evaluate(tn, later)
		require.Equal(t, subscription.StateTrialExpired, expired.State)
		assert.True(t, n.Observe(ctx, tn, expired, later))

		require.Len(t, events.events, 2)
		assert.False(t, events.events[0].(*tenancy.ExpiryEvent).AccessBlocked)
		assert.True(t, events.events[1].(*tenancy.ExpiryEvent).AccessBlocked)
	})

	t.Run("renewal resets the notice", func(t *testing.T) {
		events := &recordingPublisher{}
		n, _ := newNotifier(t, events)
		tn := resolverTenant(t, 203, "zion")
		first := testNow.Add(-20 * testDay)
		tn.Plan = tenancy.PlanBasic
		tn.SubscriptionEndDate = &first

		assert.True(t, n.Observe(ctx, tn, subscription.Evaluate(tn, testNow), testNow))

		second := testNow.Add(10 * testDay)
		tn.SubscriptionEndDate = &second
		later := testNow.Add(30 * testDay)
		assert.True(t, n.Observe(ctx, tn, subscription.Evaluate(tn, later), later))
		assert.Equal(t, []string{tenancy.EventTypeSubscriptionExpired, tenancy.EventTypeSubscriptionExpired}, events.types())
	})

	t.Run("active verdict is ignored", func(t *testing.T) {
		events := &recordingPublisher{}
		n, _ := newNotifier(t, events)
		tn := resolverTenant(t, 204, "salem")
		assert.False(t, n.Observe(ctx, tn, subscription.Evaluate(tn, testNow), testNow))
		assert.Empty(t, events.types())
	})

	t.Run("failed publish is retried", func(t *testing.T) {
		events := &recordingPublisher{err: errors.New("bus stopped")}
		n, store := newNotifier(t, events)
		tn := expiredTrial(t, 205, "shiloh", 10*testDay)
		v := subscription.Evaluate(tn, testNow)

		assert.False(t, n.Observe(ctx, tn, v, testNow))
		processed, err := store.IsProcessed(ctx, "expiry:205:trial_expired:"+strconv.FormatInt(tn.TrialEndDate.Unix(), 10))
		require.NoError(t, err)
		assert.False(t, processed)

		events.err = nil
		assert.True(t, n.Observe(ctx, tn, v, testNow))
	})

	t.Run("store outage skips the notice", func(t *testing.T) {
		events := &recordingPublisher{}
		inner := cache.NewInMemoryIdempotencyStore()
		t.Cleanup(func() { inner.Close() })
		n := NewExpiryNotifier(&failingStore{InMemoryIdempotencyStore: inner, err: errors.New("redis down")}, events, time.Hour, zap.NewNop())
		tn := expiredTrial(t, 206, "hebron", 10*testDay)

		assert.False(t, n.Observe(ctx, tn, subscription.Evaluate(tn, testNow), testNow))
		assert.Empty(t, events.types())
	})
}

func TestExpiryScanner_ScanOnce(t *testing.T) {
	events := &recordingPublisher{}
	n, _ := newNotifier(t, events)
	lister := &staticLister{tenants: []*tenancy.Tenant{
		expiredTrial(t, 301, "grace", 10*testDay),
		expiredTrial(t, 302, "bethel", 2*testDay),
		resolverTenant(t, 303, "zion"),
	}}
	s := NewExpiryScanner(lister, n, time.Minute, zap.NewNop())
	s.now = func() time.Time { return testNow }

	published, err := s.ScanOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, published)
	assert.Equal(t, testNow, lister.before)

	published, err = s.ScanOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, published, "second scan finds nothing new")

	lister.err = errors.New("db down")
	_, err = s.ScanOnce(context.Background())
	assert.ErrorIs(t, err, lister.err)
}

func TestExpiryScanner_RunStopsOnCancel(t *testing.T) {
	events := &recordingPublisher{}
	n, _ := newNotifier(t, events)
	lister := &staticLister{tenants: []*tenancy.Tenant{expiredTrial(t, 401, "grace", 10*testDay)}}
	s := NewExpiryScanner(lister, n, 10*time.Millisecond, zap.NewNop())
	s.now = func() time.Time { return testNow }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return len(events.types()) == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scanner did not stop")
	}
	assert.Len(t, events.types(), 1)
}
