package shared

import (
	"context"
	"time"
)

// IdempotencyStore remembers keys that were already handled.
// Used to deliver each lifecycle notification and each payment activation once.
type IdempotencyStore interface {
	// MarkProcessed returns true if the key was newly marked, false if it was already present
	MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error)

	IsProcessed(ctx context.Context, key string) (bool, error)

	// Forget removes key so a failed attempt can be retried
	Forget(ctx context.Context, key string) error

	Close() error
}

// IdempotencyConfig holds configuration for idempotency handling
type IdempotencyConfig struct {
	// TTL is how long a key is remembered. Default: 24 hours
	TTL time.Duration

	Enabled bool
}

// DefaultIdempotencyConfig returns the default idempotency configuration
func DefaultIdempotencyConfig() IdempotencyConfig {
	return IdempotencyConfig{
		TTL:     24 * time.Hour,
		Enabled: true,
	}
}
