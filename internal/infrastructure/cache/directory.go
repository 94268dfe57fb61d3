package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/faithflows/backend/internal/domain/tenancy"
	"github.com/faithflows/backend/internal/infrastructure/persistence/models"
	"github.com/faithflows/backend/internal/infrastructure/telemetry"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultDirectoryTTL bounds how long a lifecycle change can go unseen
	DefaultDirectoryTTL = 5 * time.Second

	defaultDirectoryPrefix = "tenantd:directory:"
)

// DirectoryConfig configures the directory cache
type DirectoryConfig struct {
	// TTL applies to both tiers. Zero disables caching entirely.
	TTL       time.Duration
	KeyPrefix string
}

// DirectoryCache is a read-through tenancy.Directory. Lookups hit a local
// TTL map first, then Redis when configured, then the source; concurrent
// misses for the same key share one source query. Only found tenants are
// cached.
type DirectoryCache struct {
	source  tenancy.Directory
	config  DirectoryConfig
	l2      *redis.Client
	logger  *zap.Logger
	metrics *telemetry.TenancyMetrics
	now     func() time.Time

	group singleflight.Group
	mu    sync.RWMutex
	l1    map[string]l1Entry
	gen   uint64 // bumped by every invalidation
}

type l1Entry struct {
	model     models.TenantModel
	expiresAt time.Time
}

// DirectoryOption configures a DirectoryCache
type DirectoryOption func(*DirectoryCache)

// WithRedis adds a shared second tier
func WithRedis(client *redis.Client) DirectoryOption {
	return func(c *DirectoryCache) {
		c.l2 = client
	}
}

// WithDirectoryLogger sets the logger
func WithDirectoryLogger(logger *zap.Logger) DirectoryOption {
	return func(c *DirectoryCache) {
		c.logger = logger
	}
}

// WithDirectoryMetrics records hits and misses
func WithDirectoryMetrics(m *telemetry.TenancyMetrics) DirectoryOption {
	return func(c *DirectoryCache) {
		c.metrics = m
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) DirectoryOption {
	return func(c *DirectoryCache) {
		c.now = now
	}
}

// NewDirectoryCache wraps source
func NewDirectoryCache(source tenancy.Directory, cfg DirectoryConfig, opts ...DirectoryOption) *DirectoryCache {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = defaultDirectoryPrefix
	}
	c := &DirectoryCache{
		source: source,
		config: cfg,
		logger: zap.NewNop(),
		now:    time.Now,
		l1:     make(map[string]l1Entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FindByKey implements tenancy.Directory
func (c *DirectoryCache) FindByKey(ctx context.Context, key string) (*tenancy.Tenant, error) {
	key = tenancy.NormalizeKey(key)
	if key == "" {
		return nil, tenancy.ErrTenantNotFound
	}
	return c.lookup(ctx, "key:"+key, func(ctx context.Context) (*tenancy.Tenant, error) {
		return c.source.FindByKey(ctx, key)
	})
}

// FindByID implements tenancy.Directory
func (c *DirectoryCache) FindByID(ctx context.Context, id snowflake.ID) (*tenancy.Tenant, error) {
	return c.lookup(ctx, idEntry(id), func(ctx context.Context) (*tenancy.Tenant, error) {
		return c.source.FindByID(ctx, id)
	})
}

func (c *DirectoryCache) lookup(ctx context.Context, entry string, load func(context.Context) (*tenancy.Tenant, error)) (*tenancy.Tenant, error) {
	if c.config.TTL <= 0 {
		return load(ctx)
	}
	if m, ok := c.getL1(entry); ok {
		c.metrics.RecordCacheLookup(ctx, true)
		return m.ToDomain(), nil
	}
	c.metrics.RecordCacheLookup(ctx, false)

	// The shared load outlives any one caller's cancellation.
	ch := c.group.DoChan(entry, func() (any, error) {
		loadCtx := context.WithoutCancel(ctx)
		gen := c.generation()
		if m, ttl, ok := c.getL2(loadCtx, entry); ok {
			c.putL1(entry, m, gen, ttl)
			return m, nil
		}
		t, err := load(loadCtx)
		if err != nil {
			return nil, err
		}
		m := models.TenantModelFromDomain(t)
		if c.putL1(entry, *m, gen, c.config.TTL) {
			c.putL2(loadCtx, entry, m)
		}
		return *m, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		m := res.Val.(models.TenantModel)
		return m.ToDomain(), nil
	}
}

// Invalidate drops the tenant's cached entries, by id and by each key, from
// both tiers
func (c *DirectoryCache) Invalidate(ctx context.Context, id snowflake.ID, keys ...string) {
	entries := c.dropLocal(id, keys...)
	if c.l2 == nil || len(entries) == 0 {
		return
	}
	redisKeys := make([]string, len(entries))
	for i, e := range entries {
		redisKeys[i] = c.config.KeyPrefix + e
	}
	if err := c.l2.Del(ctx, redisKeys...).Err(); err != nil {
		c.logger.Warn("Failed to invalidate shared directory cache",
			zap.Int64("tenant_id", int64(id)),
			zap.Error(err))
	}
}

// InvalidateLocal drops only this process's entries; used when another
// instance announced the change
func (c *DirectoryCache) InvalidateLocal(id snowflake.ID, keys ...string) {
	c.dropLocal(id, keys...)
}

// dropLocal removes matching L1 entries and returns every entry name that
// may exist in L2
func (c *DirectoryCache) dropLocal(id snowflake.ID, keys ...string) []string {
	entries := []string{idEntry(id)}
	for _, k := range keys {
		if k = tenancy.NormalizeKey(k); k != "" {
			entries = append(entries, "key:"+k)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	for name, e := range c.l1 {
		if e.model.ID == int64(id) {
			delete(c.l1, name)
			if name != entries[0] {
				entries = append(entries, name)
			}
		}
	}
	for _, name := range entries {
		delete(c.l1, name)
	}
	for _, name := range entries {
		c.group.Forget(name)
	}
	return entries
}

// Len returns the number of live local entries
func (c *DirectoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	now := c.now()
	n := 0
	for _, e := range c.l1 {
		if now.Before(e.expiresAt) {
			n++
		}
	}
	return n
}

func (c *DirectoryCache) getL1(entry string) (models.TenantModel, bool) {
	c.mu.RLock()
	e, ok := c.l1[entry]
	c.mu.RUnlock()
	if !ok || !c.now().Before(e.expiresAt) {
		return models.TenantModel{}, false
	}
	return e.model, true
}

func (c *DirectoryCache) generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gen
}

// putL1 stores m for ttl, never longer than the configured TTL, unless an
// invalidation happened since gen was read, in which case the loaded value
// may already be stale
func (c *DirectoryCache) putL1(entry string, m models.TenantModel, gen uint64, ttl time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return false
	}
	c.l1[entry] = l1Entry{model: m, expiresAt: c.now().Add(min(ttl, c.config.TTL))}
	return true
}

// getL2 returns the shared entry with the time it has left in Redis, so a
// copy promoted to L1 expires no later than its source
func (c *DirectoryCache) getL2(ctx context.Context, entry string) (models.TenantModel, time.Duration, bool) {
	var m models.TenantModel
	if c.l2 == nil {
		return m, 0, false
	}
	var get *redis.StringCmd
	var pttl *redis.DurationCmd
	_, err := c.l2.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		get = pipe.Get(ctx, c.config.KeyPrefix+entry)
		pttl = pipe.PTTL(ctx, c.config.KeyPrefix+entry)
		return nil
	})
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("Shared directory cache read failed", zap.String("entry", entry), zap.Error(err))
		}
		return m, 0, false
	}
	data, err := get.Bytes()
	if err != nil {
		return m, 0, false
	}
	ttl := pttl.Val()
	if ttl <= 0 {
		// no expiry set on the key
		ttl = c.config.TTL
	}
	if err := json.Unmarshal(data, &m); err != nil {
		c.logger.Warn("Discarding undecodable directory cache entry", zap.String("entry", entry), zap.Error(err))
		return m, 0, false
	}
	return m, ttl, true
}

func (c *DirectoryCache) putL2(ctx context.Context, entry string, m *models.TenantModel) {
	if c.l2 == nil {
		return
	}
	data, err := json.Marshal(m)
	if err != nil {
		return
	}
	if err := c.l2.Set(ctx, c.config.KeyPrefix+entry, data, c.config.TTL).Err(); err != nil {
		c.logger.Warn("Shared directory cache write failed", zap.String("entry", entry), zap.Error(err))
	}
}

func idEntry(id snowflake.ID) string {
	return "id:" + strconv.FormatInt(int64(id), 10)
}

var _ tenancy.Directory = (*DirectoryCache)(nil)
