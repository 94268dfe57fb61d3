package partition

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
	"gorm.io/gorm"
)

// fakeStrategy records activations and runs fn against a nil DB
type fakeStrategy struct {
	activations atomic.Int32
	err         error
}

func (f *fakeStrategy) Name() string { return "fake" }

func (f *fakeStrategy) Activate(ctx context.Context, db *gorm.DB, key string) error {
	f.activations.Add(1)
	return f.err
}

func (f *fakeStrategy) Run(ctx context.Context, db *gorm.DB, scope *Scope, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

func (f *fakeStrategy) Transaction(ctx context.Context, db *gorm.DB, scope *Scope, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

func (f *fakeStrategy) Provision(tx *gorm.DB, t *tenancy.Tenant) error { return nil }
func (f *fakeStrategy) Drop(tx *gorm.DB, t *tenancy.Tenant) error      { return nil }

func testTenant(t *testing.T, id int64, sub string) *tenancy.Tenant {
	t.Helper()
	tn, err := tenancy.NewTenant(snowflake.ID(id), sub, sub, "", time.Now())
	require.NoError(t, err)
	return tn
}

func TestManager_BindAndRelease(t *testing.T) {
	fs := &fakeStrategy{}
	m := NewManager(nil, fs)
	tn := testTenant(t, 11, "alpha")
	ctx := WithRequest(context.Background())

	sc, err := m.Bind(ctx, tn)
	require.NoError(t, err)
	assert.Equal(t, "tenant_11", sc.Key())
	assert.Equal(t, tn.ID, sc.TenantID())
	assert.Equal(t, int64(1), m.Active())
	assert.Equal(t, "tenant_11", KeyFromContext(ctx))

	got, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Same(t, sc, got)

	sc.Release()
	sc.Release()

	assert.True(t, sc.Released())
	assert.Equal(t, int64(0), m.Active())
	_, ok = FromContext(ctx)
	assert.False(t, ok)
	assert.Equal(t, tenancy.PublicPartition, KeyFromContext(ctx))
	assert.ErrorIs(t, m.Run(ctx, func(*gorm.DB) error { return nil }), ErrNoScope)
}

func TestManager_BindIsReentrant(t *testing.T) {
	fs := &fakeStrategy{}
	m := NewManager(nil, fs)
	tn := testTenant(t, 12, "beta")
	ctx := WithRequest(context.Background())

	first, err := m.Bind(ctx, tn)
	require.NoError(t, err)
	second, err := m.Bind(ctx, tn)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int32(1), fs.activations.Load())
	assert.Equal(t, int64(1), m.Active())

	first.Release()
	assert.Equal(t, int64(0), m.Active())
}

func TestManager_BindDifferentPartitionFails(t *testing.T) {
	m := NewManager(nil, &fakeStrategy{})
	ctx := WithRequest(context.Background())

	sc, err := m.Bind(ctx, testTenant(t, 13, "gamma"))
	require.NoError(t, err)
	defer sc.Release()

	_, err = m.Bind(ctx, testTenant(t, 14, "delta"))
	assert.ErrorIs(t, err, ErrAlreadyBound)
	assert.Equal(t, int64(1), m.Active())
}

func TestManager_BindFailure(t *testing.T) {
	m := NewManager(nil, &fakeStrategy{err: errors.New("connection refused")})
	ctx := WithRequest(context.Background())

	sc, err := m.Bind(ctx, testTenant(t, 15, "epsilon"))

	assert.Nil(t, sc)
	assert.ErrorIs(t, err, ErrBindingFailed)
	assert.Equal(t, int64(0), m.Active())
	_, ok := FromContext(ctx)
	assert.False(t, ok)
}

func TestManager_BindRequiresPreparedContext(t *testing.T) {
	m := NewManager(nil, &fakeStrategy{})
	_, err := m.Bind(context.Background(), testTenant(t, 16, "zeta"))
	assert.ErrorIs(t, err, ErrNotPrepared)
}

func TestManager_RunWithoutScope(t *testing.T) {
	m := NewManager(nil, &fakeStrategy{})
	called := false
	err := m.Run(context.Background(), func(*gorm.DB) error { called = true; return nil })
	assert.ErrorIs(t, err, ErrNoScope)
	assert.False(t, called)

	err = m.Transaction(WithRequest(context.Background()), func(*gorm.DB) error { called = true; return nil })
	assert.ErrorIs(t, err, ErrNoScope)
	assert.False(t, called)
}

func TestManager_ConcurrentRequestsStayIsolated(t *testing.T) {
	m := NewManager(nil, &fakeStrategy{})
	tenants := []*tenancy.Tenant{testTenant(t, 21, "north"), testTenant(t, 22, "south")}

	var wg sync.WaitGroup
	var leaks atomic.Int32
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tn := tenants[i%2]
			ctx := WithRequest(context.Background())
			sc, err := m.Bind(ctx, tn)
			if err != nil {
				leaks.Add(1)
				return
			}
			defer sc.Release()
			time.Sleep(time.Duration(i%3) * time.Millisecond)
			if got, ok := FromContext(ctx); !ok || got.TenantID() != tn.ID {
				leaks.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Zero(t, leaks.Load())
	assert.Zero(t, m.Active())
}

func TestScope_NilRelease(t *testing.T) {
	var sc *Scope
	assert.NotPanics(t, sc.Release)
}
