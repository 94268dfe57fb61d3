package auth

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	"github.com/faithflows/backend/internal/domain/tenancy"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func blacklists(t *testing.T) map[string]TokenBlacklist {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return map[string]TokenBlacklist{
		"memory": NewInMemoryTokenBlacklist(),
		"redis":  NewRedisTokenBlacklist(client),
	}
}

func TestTokenBlacklist_JTI(t *testing.T) {
	for name, bl := range blacklists(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, bl.AddToBlacklist(ctx, "jti-1", time.Hour))

			revoked, err := bl.IsBlacklisted(ctx, "jti-1")
			require.NoError(t, err)
			assert.True(t, revoked)

			revoked, err = bl.IsBlacklisted(ctx, "jti-2")
			require.NoError(t, err)
			assert.False(t, revoked)
		})
	}
}

func TestTokenBlacklist_Tenant(t *testing.T) {
	for name, bl := range blacklists(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			before := time.Now().Add(-time.Minute)
			require.NoError(t, bl.RevokeTenantTokens(ctx, 42, time.Hour))

			revoked, err := bl.IsTenantTokenRevoked(ctx, 42, before)
			require.NoError(t, err)
			assert.True(t, revoked)

			revoked, err = bl.IsTenantTokenRevoked(ctx, 42, time.Now().Add(time.Minute))
			require.NoError(t, err)
			assert.False(t, revoked)

			revoked, err = bl.IsTenantTokenRevoked(ctx, 43, before)
			require.NoError(t, err)
			assert.False(t, revoked)
		})
	}
}

func TestInMemoryTokenBlacklist_EntryExpiry(t *testing.T) {
	bl := NewInMemoryTokenBlacklist()
	now := time.Now()
	bl.now = func() time.Time { return now }
	require.NoError(t, bl.AddToBlacklist(context.Background(), "jti", time.Minute))

	bl.now = func() time.Time { return now.Add(2 * time.Minute) }
	revoked, err := bl.IsBlacklisted(context.Background(), "jti")
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestCheckRevoked(t *testing.T) {
	svc := newTestJWTService()
	token, _, err := svc.GenerateAccessToken(newPrincipal(t, tenancy.RoleAdmin, 42))
	require.NoError(t, err)
	claims, err := svc.ValidateAccessToken(token)
	require.NoError(t, err)

	ctx := context.Background()
	assert.NoError(t, CheckRevoked(ctx, nil, claims))

	bl := NewInMemoryTokenBlacklist()
	assert.NoError(t, CheckRevoked(ctx, bl, claims))

	require.NoError(t, bl.AddToBlacklist(ctx, claims.ID, time.Hour))
	assert.ErrorIs(t, CheckRevoked(ctx, bl, claims), ErrTokenRevoked)

	other := NewInMemoryTokenBlacklist()
	require.NoError(t, other.RevokeTenantTokens(ctx, snowflake.ID(42), time.Hour))
	assert.ErrorIs(t, CheckRevoked(ctx, other, claims), ErrTokenRevoked)
}
