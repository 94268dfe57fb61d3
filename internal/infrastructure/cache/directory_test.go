package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/faithflows/backend/internal/domain/tenancy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// countingDirectory serves tenants from a map and counts source queries
type countingDirectory struct {
	mu      sync.Mutex
	byKey   map[string]*tenancy.Tenant
	calls   atomic.Int32
	delay   time.Duration
	failErr error
}

func newCountingDirectory(tenants ...*tenancy.Tenant) *countingDirectory {
	d := &countingDirectory{byKey: map[string]*tenancy.Tenant{}}
	for _, t := range tenants {
		d.byKey[t.Subdomain] = t
	}
	return d
}

func (d *countingDirectory) FindByKey(ctx context.Context, key string) (*tenancy.Tenant, error) {
	d.calls.Add(1)
	if d.delay > 0 {
		time.Sleep(d.delay)
	}
	if d.failErr != nil {
		return nil, d.failErr
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.byKey[key]
	if !ok {
		return nil, tenancy.ErrTenantNotFound
	}
	cp := *t
	return &cp, nil
}

func (d *countingDirectory) FindByID(ctx context.Context, id snowflake.ID) (*tenancy.Tenant, error) {
	d.calls.Add(1)
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, t := range d.byKey {
		if t.ID == id {
			cp := *t
			return &cp, nil
		}
	}
	return nil, tenancy.ErrTenantNotFound
}

func (d *countingDirectory) update(fn func(t *tenancy.Tenant), key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn(d.byKey[key])
}

func newTenant(t *testing.T, id int64, subdomain string) *tenancy.Tenant {
	t.Helper()
	tenant, err := tenancy.NewTenant(snowflake.ID(id), subdomain, "Church "+subdomain, "", testNow)
	require.NoError(t, err)
	tenant.ClearDomainEvents()
	return tenant
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestDirectoryCache_HitWithinTTL(t *testing.T) {
	source := newCountingDirectory(newTenant(t, 1, "grace"))
	clock := &fakeClock{now: testNow}
	dc := NewDirectoryCache(source, DirectoryConfig{TTL: 5 * time.Second}, WithClock(clock.Now))
	ctx := context.Background()

	first, err := dc.FindByKey(ctx, "Grace")
	require.NoError(t, err)
	second, err := dc.FindByKey(ctx, "grace ")
	require.NoError(t, err)

	assert.Equal(t, int32(1), source.calls.Load())
	assert.Equal(t, first.PartitionKey, second.PartitionKey)
	assert.NotSame(t, first, second)

	clock.Advance(6 * time.Second)
	_, err = dc.FindByKey(ctx, "grace")
	require.NoError(t, err)
	assert.Equal(t, int32(2), source.calls.Load())
}

func TestDirectoryCache_MissesAreNotCached(t *testing.T) {
	source := newCountingDirectory()
	dc := NewDirectoryCache(source, DirectoryConfig{TTL: time.Minute})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := dc.FindByKey(ctx, "ghost")
		assert.ErrorIs(t, err, tenancy.ErrTenantNotFound)
	}
	assert.Equal(t, int32(3), source.calls.Load())
	assert.Equal(t, 0, dc.Len())

	_, err := dc.FindByKey(ctx, "   ")
	assert.ErrorIs(t, err, tenancy.ErrTenantNotFound)
	assert.Equal(t, int32(3), source.calls.Load())
}

func TestDirectoryCache_ZeroTTLDisables(t *testing.T) {
	source := newCountingDirectory(newTenant(t, 1, "grace"))
	dc := NewDirectoryCache(source, DirectoryConfig{})

	for i := 0; i < 2; i++ {
		_, err := dc.FindByKey(context.Background(), "grace")
		require.NoError(t, err)
	}
	assert.Equal(t, int32(2), source.calls.Load())
}

func TestDirectoryCache_CoalescesConcurrentMisses(t *testing.T) {
	source := newCountingDirectory(newTenant(t, 1, "grace"))
	source.delay = 50 * time.Millisecond
	dc := NewDirectoryCache(source, DirectoryConfig{TTL: time.Minute})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tenant, err := dc.FindByKey(context.Background(), "grace")
			assert.NoError(t, err)
			assert.Equal(t, "tenant_1", tenant.PartitionKey)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), source.calls.Load())
}

func TestDirectoryCache_CallerCancellation(t *testing.T) {
	source := newCountingDirectory(newTenant(t, 1, "grace"))
	source.delay = 100 * time.Millisecond
	dc := NewDirectoryCache(source, DirectoryConfig{TTL: time.Minute})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := dc.FindByKey(ctx, "grace")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	tenant, err := dc.FindByKey(context.Background(), "grace")
	require.NoError(t, err)
	assert.Equal(t, "grace", tenant.Subdomain)
}

func TestDirectoryCache_SourceErrorPropagates(t *testing.T) {
	source := newCountingDirectory()
	source.failErr = errors.New("connection refused")
	dc := NewDirectoryCache(source, DirectoryConfig{TTL: time.Minute})

	_, err := dc.FindByKey(context.Background(), "grace")
	assert.EqualError(t, err, "connection refused")
}

func TestDirectoryCache_Invalidate(t *testing.T) {
	source := newCountingDirectory(newTenant(t, 1, "grace"))
	dc := NewDirectoryCache(source, DirectoryConfig{TTL: time.Minute})
	ctx := context.Background()

	_, err := dc.FindByKey(ctx, "grace")
	require.NoError(t, err)
	_, err = dc.FindByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, dc.Len())

	source.update(func(t *tenancy.Tenant) { t.SubscriptionStatus = tenancy.SubscriptionSuspended }, "grace")
	dc.Invalidate(ctx, 1)
	assert.Equal(t, 0, dc.Len())

	tenant, err := dc.FindByKey(ctx, "grace")
	require.NoError(t, err)
	assert.Equal(t, tenancy.SubscriptionSuspended, tenant.SubscriptionStatus)
}

func TestDirectoryCache_RedisTier(t *testing.T) {
	mr, client := newMiniredis(t)
	source := newCountingDirectory(newTenant(t, 7, "hope"))
	ctx := context.Background()

	writer := NewDirectoryCache(source, DirectoryConfig{TTL: 5 * time.Second}, WithRedis(client))
	_, err := writer.FindByKey(ctx, "hope")
	require.NoError(t, err)
	assert.True(t, mr.Exists(defaultDirectoryPrefix+"key:hope"))

	// a second instance reads the shared tier instead of the source
	reader := NewDirectoryCache(source, DirectoryConfig{TTL: 5 * time.Second}, WithRedis(client))
	tenant, err := reader.FindByKey(ctx, "hope")
	require.NoError(t, err)
	assert.Equal(t, int32(1), source.calls.Load())
	assert.Equal(t, "tenant_7", tenant.PartitionKey)
	assert.Equal(t, snowflake.ID(7), tenant.ID)

	writer.Invalidate(ctx, 7, "hope")
	assert.False(t, mr.Exists(defaultDirectoryPrefix+"key:hope"))

	mr.FastForward(10 * time.Second)
	assert.False(t, mr.Exists(defaultDirectoryPrefix+"id:7"))
}

func TestDirectoryCache_RedisDownFallsBackToSource(t *testing.T) {
	mr, client := newMiniredis(t)
	mr.Close()
	source := newCountingDirectory(newTenant(t, 7, "hope"))

	dc := NewDirectoryCache(source, DirectoryConfig{TTL: time.Minute}, WithRedis(client))
	tenant, err := dc.FindByKey(context.Background(), "hope")
	require.NoError(t, err)
	assert.Equal(t, "hope", tenant.Subdomain)
}

func TestDirectoryCache_RedisHitKeepsRemainingTTL(t *testing.T) {
	mr, client := newMiniredis(t)
	source := newCountingDirectory(newTenant(t, 7, "hope"))
	ctx := context.Background()

	writer := NewDirectoryCache(source, DirectoryConfig{TTL: 5 * time.Second}, WithRedis(client))
	_, err := writer.FindByKey(ctx, "hope")
	require.NoError(t, err)
	mr.SetTTL(defaultDirectoryPrefix+"key:hope", time.Second)

	clock := &fakeClock{now: testNow}
	reader := NewDirectoryCache(source, DirectoryConfig{TTL: 5 * time.Second}, WithRedis(client), WithClock(clock.Now))
	_, err = reader.FindByKey(ctx, "hope")
	require.NoError(t, err)
	assert.Equal(t, int32(1), source.calls.Load())

	clock.Advance(2 * time.Second)
	mr.FastForward(2 * time.Second)
	_, err = reader.FindByKey(ctx, "hope")
	require.NoError(t, err)
	assert.Equal(t, int32(2), source.calls.Load(), "the promoted copy expires with the shared entry")
}
