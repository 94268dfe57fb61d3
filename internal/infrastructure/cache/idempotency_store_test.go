package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/faithflows/backend/internal/domain/shared"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newMiniredis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestIdempotencyStores(t *testing.T) {
	_, client := newMiniredis(t)
	stores := map[string]shared.IdempotencyStore{
		"memory": NewInMemoryIdempotencyStore(),
		"redis":  NewRedisIdempotencyStore(client, "test:"),
	}

	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			defer store.Close()
			ctx := context.Background()
			key := "expiry:1001:expired"

			isNew, err := store.MarkProcessed(ctx, key, time.Hour)
			require.NoError(t, err)
			assert.True(t, isNew)

			isNew, err = store.MarkProcessed(ctx, key, time.Hour)
			require.NoError(t, err)
			assert.False(t, isNew)

			processed, err := store.IsProcessed(ctx, key)
			require.NoError(t, err)
			assert.True(t, processed)

			require.NoError(t, store.Forget(ctx, key))
			processed, err = store.IsProcessed(ctx, key)
			require.NoError(t, err)
			assert.False(t, processed)

			isNew, err = store.MarkProcessed(ctx, key, time.Hour)
			require.NoError(t, err)
			assert.True(t, isNew)
		})
	}
}

func TestIdempotencyStores_ConcurrentMarkOnce(t *testing.T) {
	_, client := newMiniredis(t)
	stores := map[string]shared.IdempotencyStore{
		"memory": NewInMemoryIdempotencyStore(),
		"redis":  NewRedisIdempotencyStore(client, ""),
	}

	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			defer store.Close()
			var winners atomic.Int32
			var wg sync.WaitGroup
			for i := 0; i < 50; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if ok, err := store.MarkProcessed(context.Background(), "payment:ref-1", time.Hour); err == nil && ok {
						winners.Add(1)
					}
				}()
			}
			wg.Wait()
			assert.Equal(t, int32(1), winners.Load())
		})
	}
}

func TestInMemoryIdempotencyStore_Expiry(t *testing.T) {
	store := NewInMemoryIdempotencyStore()
	defer store.Close()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := store.MarkProcessed(ctx, fmt.Sprintf("k-%d", i), 10*time.Millisecond)
		require.NoError(t, err)
	}
	time.Sleep(20 * time.Millisecond)

	processed, err := store.IsProcessed(ctx, "k-0")
	require.NoError(t, err)
	assert.False(t, processed)

	isNew, err := store.MarkProcessed(ctx, "k-0", time.Hour)
	require.NoError(t, err)
	assert.True(t, isNew)

	store.cleanup()
	assert.Equal(t, 1, store.Size())
	assert.NoError(t, store.Close())
}

func TestRedisIdempotencyStore_TTL(t *testing.T) {
	mr, client := newMiniredis(t)
	store := NewRedisIdempotencyStore(client, "")
	ctx := context.Background()

	_, err := store.MarkProcessed(ctx, "payment:ref-2", time.Minute)
	require.NoError(t, err)
	assert.True(t, mr.Exists(defaultIdempotencyPrefix+"payment:ref-2"))

	mr.FastForward(2 * time.Minute)
	processed, err := store.IsProcessed(ctx, "payment:ref-2")
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestRedisIdempotencyStore_ServerDown(t *testing.T) {
	mr, client := newMiniredis(t)
	store := NewRedisIdempotencyStore(client, "")
	mr.Close()

	_, err := store.MarkProcessed(context.Background(), "k", time.Minute)
	assert.Error(t, err)
}

func TestNewIdempotencyStore(t *testing.T) {
	_, client := newMiniredis(t)

	assert.IsType(t, &RedisIdempotencyStore{}, NewIdempotencyStore(client, zap.NewNop()))

	mem := NewIdempotencyStore(nil, zap.NewNop())
	defer mem.Close()
	assert.IsType(t, &InMemoryIdempotencyStore{}, mem)
}
