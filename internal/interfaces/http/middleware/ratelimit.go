package middleware

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/faithflows/backend/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Limiter counts requests per key in fixed windows
type Limiter interface {
	// Allow records one request for key and reports whether it is within
	// the limit, plus the requests left in the current window
	Allow(ctx context.Context, key string) (bool, int, error)
	Limit() int
}

// RateLimiter is an in-process fixed window limiter
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*window
	limit   int
	window  time.Duration
	now     func() time.Time
}

type window struct {
	used  int
	start time.Time
}

// NewRateLimiter creates an in-process limiter. Expired windows are swept
// until ctx is done.
func NewRateLimiter(ctx context.Context, limit int, win time.Duration) *RateLimiter {
	rl := &RateLimiter{
		clients: make(map[string]*window),
		limit:   limit,
		window:  win,
		now:     time.Now,
	}
	go rl.sweep(ctx)
	return rl
}

func (rl *RateLimiter) sweep(ctx context.Context) {
	ticker := time.NewTicker(rl.window * 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.mu.Lock()
			now := rl.now()
			for key, w := range rl.clients {
				if now.Sub(w.start) > rl.window*2 {
					delete(rl.clients, key)
				}
			}
			rl.mu.Unlock()
		}
	}
}

// Allow implements Limiter
func (rl *RateLimiter) Allow(_ context.Context, key string) (bool, int, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	w, ok := rl.clients[key]
	if !ok || now.Sub(w.start) >= rl.window {
		w = &window{start: now}
		rl.clients[key] = w
	}
	if w.used >= rl.limit {
		return false, 0, nil
	}
	w.used++
	return true, rl.limit - w.used, nil
}

// Limit implements Limiter
func (rl *RateLimiter) Limit() int {
	return rl.limit
}

// RedisRateLimiter shares fixed windows across instances. The window
// starts with the first INCR of a key.
type RedisRateLimiter struct {
	client    *redis.Client
	limit     int
	window    time.Duration
	keyPrefix string
}

// NewRedisRateLimiter creates a limiter backed by Redis
func NewRedisRateLimiter(client *redis.Client, limit int, win time.Duration) *RedisRateLimiter {
	return &RedisRateLimiter{client: client, limit: limit, window: win, keyPrefix: "ratelimit:"}
}

// Allow implements Limiter
func (rl *RedisRateLimiter) Allow(ctx context.Context, key string) (bool, int, error) {
	k := rl.keyPrefix + key
	n, err := rl.client.Incr(ctx, k).Result()
	if err != nil {
		return true, rl.limit, err
	}
	if n == 1 {
		if err := rl.client.Expire(ctx, k, rl.window).Err(); err != nil {
			return true, rl.limit - 1, err
		}
	}
	used := int(n)
	if used > rl.limit {
		return false, 0, nil
	}
	return true, rl.limit - used, nil
}

// Limit implements Limiter
func (rl *RedisRateLimiter) Limit() int {
	return rl.limit
}

// RateLimit limits requests per client IP. A failing limiter store lets
// the request through.
func RateLimit(limiter Limiter, logger *zap.Logger) gin.HandlerFunc {
	return RateLimitByKey(limiter, logger, func(c *gin.Context) string {
		return c.ClientIP()
	})
}

// RateLimitByKey limits requests with a custom key
func RateLimitByKey(limiter Limiter, logger *zap.Logger, keyFunc func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, remaining, err := limiter.Allow(c.Request.Context(), keyFunc(c))
		if err != nil && logger != nil {
			logger.Warn("Rate limiter unavailable", zap.Error(err))
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(limiter.Limit()))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		if !ok {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, dto.NewErrorResponseWithRequestID(
				dto.ErrCodeRateLimited, "Too many requests. Please try again later.", c.GetString(RequestIDKey)))
			return
		}
		c.Next()
	}
}
