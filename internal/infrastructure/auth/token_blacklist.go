package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/redis/go-redis/v9"
)

const defaultBlacklistPrefix = "tenantd:token:blacklist:"

// TokenBlacklist invalidates access tokens before they expire: single
// tokens by JTI, or every token of a tenant issued up to a point in time
// (used when a tenant is deactivated or deleted).
type TokenBlacklist interface {
	AddToBlacklist(ctx context.Context, jti string, ttl time.Duration) error
	IsBlacklisted(ctx context.Context, jti string) (bool, error)

	// RevokeTenantTokens rejects every token of tenantID issued up to now
	RevokeTenantTokens(ctx context.Context, tenantID snowflake.ID, ttl time.Duration) error
	IsTenantTokenRevoked(ctx context.Context, tenantID snowflake.ID, issuedAt time.Time) (bool, error)
}

// CheckRevoked returns ErrTokenRevoked when claims were revoked by JTI or
// by their home tenant
func CheckRevoked(ctx context.Context, bl TokenBlacklist, claims *Claims) error {
	if bl == nil {
		return nil
	}
	if claims.ID != "" {
		revoked, err := bl.IsBlacklisted(ctx, claims.ID)
		if err != nil {
			return err
		}
		if revoked {
			return ErrTokenRevoked
		}
	}
	if claims.TenantID != "" {
		id, err := snowflake.ParseString(claims.TenantID)
		if err != nil {
			return ErrInvalidClaims
		}
		revoked, err := bl.IsTenantTokenRevoked(ctx, id, claims.IssuedAtTime())
		if err != nil {
			return err
		}
		if revoked {
			return ErrTokenRevoked
		}
	}
	return nil
}

// RedisTokenBlacklist implements TokenBlacklist on Redis so revocations
// reach every instance
type RedisTokenBlacklist struct {
	client    *redis.Client
	keyPrefix string
	now       func() time.Time
}

// NewRedisTokenBlacklist creates a blacklist on an existing client
func NewRedisTokenBlacklist(client *redis.Client) *RedisTokenBlacklist {
	return &RedisTokenBlacklist{
		client:    client,
		keyPrefix: defaultBlacklistPrefix,
		now:       time.Now,
	}
}

func (b *RedisTokenBlacklist) jtiKey(jti string) string {
	return b.keyPrefix + "jti:" + jti
}

func (b *RedisTokenBlacklist) tenantKey(id snowflake.ID) string {
	return b.keyPrefix + "tenant:" + id.String()
}

// AddToBlacklist adds a token's JTI to the blacklist
func (b *RedisTokenBlacklist) AddToBlacklist(ctx context.Context, jti string, ttl time.Duration) error {
	if err := b.client.Set(ctx, b.jtiKey(jti), "1", ttl).Err(); err != nil {
		return fmt.Errorf("failed to add token to blacklist: %w", err)
	}
	return nil
}

// IsBlacklisted checks if a token's JTI is in the blacklist
func (b *RedisTokenBlacklist) IsBlacklisted(ctx context.Context, jti string) (bool, error) {
	exists, err := b.client.Exists(ctx, b.jtiKey(jti)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check token blacklist: %w", err)
	}
	return exists > 0, nil
}

// RevokeTenantTokens stores the revocation time for the tenant
func (b *RedisTokenBlacklist) RevokeTenantTokens(ctx context.Context, tenantID snowflake.ID, ttl time.Duration) error {
	if err := b.client.Set(ctx, b.tenantKey(tenantID), b.now().Unix(), ttl).Err(); err != nil {
		return fmt.Errorf("failed to revoke tenant tokens: %w", err)
	}
	return nil
}

// IsTenantTokenRevoked reports whether a token issued at issuedAt predates
// the tenant's revocation
func (b *RedisTokenBlacklist) IsTenantTokenRevoked(ctx context.Context, tenantID snowflake.ID, issuedAt time.Time) (bool, error) {
	raw, err := b.client.Get(ctx, b.tenantKey(tenantID)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check tenant token revocation: %w", err)
	}
	revokedAt, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return false, fmt.Errorf("failed to parse revocation timestamp: %w", err)
	}
	return issuedAt.Unix() <= revokedAt, nil
}

var _ TokenBlacklist = (*RedisTokenBlacklist)(nil)

// InMemoryTokenBlacklist is a single-instance TokenBlacklist
type InMemoryTokenBlacklist struct {
	mu      sync.Mutex
	jtis    map[string]time.Time // jti -> entry expiry
	tenants map[snowflake.ID]time.Time
	now     func() time.Time
}

// NewInMemoryTokenBlacklist creates a new in-memory token blacklist
func NewInMemoryTokenBlacklist() *InMemoryTokenBlacklist {
	return &InMemoryTokenBlacklist{
		jtis:    make(map[string]time.Time),
		tenants: make(map[snowflake.ID]time.Time),
		now:     time.Now,
	}
}

// AddToBlacklist adds a token's JTI to the in-memory blacklist
func (b *InMemoryTokenBlacklist) AddToBlacklist(_ context.Context, jti string, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.jtis[jti] = b.now().Add(ttl)
	return nil
}

// IsBlacklisted checks if a token's JTI is blacklisted and not expired
func (b *InMemoryTokenBlacklist) IsBlacklisted(_ context.Context, jti string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	expiry, ok := b.jtis[jti]
	if !ok {
		return false, nil
	}
	if b.now().After(expiry) {
		delete(b.jtis, jti)
		return false, nil
	}
	return true, nil
}

// RevokeTenantTokens records the revocation time for the tenant
func (b *InMemoryTokenBlacklist) RevokeTenantTokens(_ context.Context, tenantID snowflake.ID, _ time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tenants[tenantID] = b.now()
	return nil
}

// IsTenantTokenRevoked reports whether a token issued at issuedAt predates
// the tenant's revocation
func (b *InMemoryTokenBlacklist) IsTenantTokenRevoked(_ context.Context, tenantID snowflake.ID, issuedAt time.Time) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	revokedAt, ok := b.tenants[tenantID]
	if !ok {
		return false, nil
	}
	return issuedAt.Unix() <= revokedAt.Unix(), nil
}

var _ TokenBlacklist = (*InMemoryTokenBlacklist)(nil)
