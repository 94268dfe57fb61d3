package tenancy

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/faithflows/backend/internal/domain/tenancy"
	"github.com/faithflows/backend/internal/infrastructure/partition"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type mapDirectory struct {
	byKey map[string]*tenancy.Tenant
	err   error
	calls int
}

func (d *mapDirectory) FindByKey(ctx context.Context, key string) (*tenancy.Tenant, error) {
	d.calls++
	if d.err != nil {
		return nil, d.err
	}
	if t, ok := d.byKey[key]; ok {
		return t, nil
	}
	return nil, tenancy.ErrTenantNotFound
}

func (d *mapDirectory) FindByID(ctx context.Context, id snowflake.ID) (*tenancy.Tenant, error) {
	for _, t := range d.byKey {
		if t.ID == id {
			return t, nil
		}
	}
	return nil, tenancy.ErrTenantNotFound
}

func resolverTenant(t *testing.T, id int64, subdomain string) *tenancy.Tenant {
	t.Helper()
	tn, err := tenancy.NewTenant(snowflake.ID(id), subdomain, "Tenant "+subdomain, "", testNow)
	require.NoError(t, err)
	return tn
}

func setupResolver(t *testing.T, tenants ...*tenancy.Tenant) (*Resolver, *mapDirectory, *partition.Manager, *observer.ObservedLogs) {
	t.Helper()
	db := openDB(t)
	manager := partition.NewManager(db, partition.NewColumnStrategy(db, "tenant_id"))
	dir := &mapDirectory{byKey: map[string]*tenancy.Tenant{}}
	for _, tn := range tenants {
		dir.byKey[tn.Subdomain] = tn
	}
	core, logs := observer.New(zap.DebugLevel)
	return NewResolver(dir, manager, zap.New(core)), dir, manager, logs
}

func TestResolver_Resolve(t *testing.T) {
	grace := resolverTenant(t, 101, "grace")
	bethel := resolverTenant(t, 102, "bethel")
	require.NoError(t, bethel.Deactivate(testNow))
	r, dir, manager, logs := setupResolver(t, grace, bethel)

	t.Run("hit binds the partition", func(t *testing.T) {
		ctx := partition.WithRequest(context.Background())
		res, err := r.Resolve(ctx, "  GRACE ")
		require.NoError(t, err)
		assert.Equal(t, OutcomeResolved, res.Outcome)
		assert.Same(t, grace, res.Tenant)
		require.True(t, res.PartitionSet())
		assert.Equal(t, "tenant_101", res.Scope.Key())
		assert.Equal(t, "tenant_101", partition.KeyFromContext(ctx))
		assert.Equal(t, int64(1), manager.Active())

		res.Scope.Release()
		assert.Equal(t, int64(0), manager.Active())
		assert.Equal(t, tenancy.PublicPartition, partition.KeyFromContext(ctx))
	})

	t.Run("empty key is absent", func(t *testing.T) {
		before := dir.calls
		res, err := r.Resolve(partition.WithRequest(context.Background()), "   ")
		require.NoError(t, err)
		assert.Equal(t, OutcomeAbsent, res.Outcome)
		assert.False(t, res.PartitionSet())
		assert.Equal(t, before, dir.calls)
	})

	t.Run("malformed key never reaches the directory", func(t *testing.T) {
		before := dir.calls
		for _, key := range []string{"grace;drop table", strings.Repeat("a", 300), "../etc"} {
			res, err := r.Resolve(partition.WithRequest(context.Background()), key)
			require.NoError(t, err)
			assert.Equal(t, OutcomeUnknown, res.Outcome, key)
		}
		assert.Equal(t, before, dir.calls)
	})

	t.Run("unknown key", func(t *testing.T) {
		ctx := partition.WithRequest(context.Background())
		res, err := r.Resolve(ctx, "nowhere")
		require.NoError(t, err)
		assert.Equal(t, OutcomeUnknown, res.Outcome)
		assert.Nil(t, res.Tenant)
		assert.Equal(t, tenancy.PublicPartition, partition.KeyFromContext(ctx))
	})

	t.Run("inactive tenant looks unknown", func(t *testing.T) {
		ctx := partition.WithRequest(context.Background())
		res, err := r.Resolve(ctx, "bethel")
		require.NoError(t, err)
		assert.Equal(t, OutcomeUnknown, res.Outcome)
		assert.False(t, res.PartitionSet())
		assert.Equal(t, 1, logs.FilterMessage("Request for inactive tenant").Len())
	})
}

func TestResolver_DirectoryFailure(t *testing.T) {
	r, dir, manager, _ := setupResolver(t, resolverTenant(t, 101, "grace"))
	dir.err = errors.New("connection refused")

	ctx := partition.WithRequest(context.Background())
	res, err := r.Resolve(ctx, "grace")
	require.Error(t, err)
	assert.ErrorIs(t, err, partition.ErrBindingFailed)
	assert.ErrorIs(t, err, dir.err)
	assert.False(t, res.PartitionSet())
	assert.Equal(t, int64(0), manager.Active())
}

func TestResolver_CancelledContext(t *testing.T) {
	r, dir, _, _ := setupResolver(t, resolverTenant(t, 101, "grace"))
	dir.err = context.Canceled

	ctx, cancel := context.WithCancel(partition.WithRequest(context.Background()))
	cancel()
	_, err := r.Resolve(ctx, "grace")
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, partition.ErrBindingFailed)
}

func TestResolver_Rebinding(t *testing.T) {
	grace := resolverTenant(t, 101, "grace")
	bethel := resolverTenant(t, 102, "bethel")
	r, _, manager, _ := setupResolver(t, grace, bethel)
	ctx := partition.WithRequest(context.Background())

	first, err := r.Resolve(ctx, "grace")
	require.NoError(t, err)
	defer first.Scope.Release()

	again, err := r.Resolve(ctx, "grace")
	require.NoError(t, err)
	assert.Same(t, first.Scope, again.Scope)
	assert.Equal(t, int64(1), manager.Active())

	_, err = r.Resolve(ctx, "bethel")
	assert.ErrorIs(t, err, partition.ErrAlreadyBound)
	assert.Equal(t, "tenant_101", partition.KeyFromContext(ctx))
}

func TestResolver_UnpreparedContext(t *testing.T) {
	r, _, _, _ := setupResolver(t, resolverTenant(t, 101, "grace"))
	_, err := r.Resolve(context.Background(), "grace")
	assert.ErrorIs(t, err, partition.ErrNotPrepared)
}
