package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// DefaultInvalidationChannel carries directory invalidations between instances
	DefaultInvalidationChannel = "tenantd:directory:invalidate"

	defaultCloseTimeout = 5 * time.Second
)

// InvalidationMessage announces that a tenant's directory entries changed
type InvalidationMessage struct {
	TenantID  int64    `json:"tenant_id"`
	Keys      []string `json:"keys,omitempty"`
	Timestamp int64    `json:"timestamp"`
}

// RedisInvalidator fans directory invalidations out over Redis Pub/Sub.
// The client is owned by the caller.
type RedisInvalidator struct {
	client    *redis.Client
	channel   string
	logger    *zap.Logger
	cancelFn  context.CancelFunc
	doneCh    chan struct{}
	doneOnce  sync.Once
	mu        sync.Mutex
	isRunning bool
}

// InvalidatorOption configures a RedisInvalidator
type InvalidatorOption func(*RedisInvalidator)

// WithInvalidatorChannel sets the Pub/Sub channel name
func WithInvalidatorChannel(channel string) InvalidatorOption {
	return func(i *RedisInvalidator) {
		i.channel = channel
	}
}

// WithInvalidatorLogger sets the logger for the invalidator
func WithInvalidatorLogger(logger *zap.Logger) InvalidatorOption {
	return func(i *RedisInvalidator) {
		i.logger = logger
	}
}

// NewRedisInvalidator creates an invalidator on client
func NewRedisInvalidator(client *redis.Client, opts ...InvalidatorOption) *RedisInvalidator {
	i := &RedisInvalidator{
		client:  client,
		channel: DefaultInvalidationChannel,
		logger:  zap.NewNop(),
		doneCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Publish announces a change to every subscribed instance
func (i *RedisInvalidator) Publish(ctx context.Context, id snowflake.ID, keys ...string) error {
	data, err := json.Marshal(InvalidationMessage{
		TenantID:  int64(id),
		Keys:      keys,
		Timestamp: time.Now().UnixNano(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	if err := i.client.Publish(ctx, i.channel, data).Err(); err != nil {
		i.logger.Error("Failed to publish directory invalidation",
			zap.String("channel", i.channel),
			zap.Error(err))
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// Subscribe blocks delivering invalidations to callback until ctx is done
// or Close is called. Only one subscription may run at a time.
func (i *RedisInvalidator) Subscribe(ctx context.Context, callback func(InvalidationMessage)) error {
	i.mu.Lock()
	if i.isRunning {
		i.mu.Unlock()
		return fmt.Errorf("subscription already running")
	}
	i.isRunning = true
	subCtx, cancel := context.WithCancel(ctx)
	i.cancelFn = cancel
	i.mu.Unlock()

	defer func() {
		i.mu.Lock()
		i.isRunning = false
		i.mu.Unlock()
		i.markDone()
	}()

	pubsub := i.client.Subscribe(subCtx, i.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(subCtx); err != nil {
		return fmt.Errorf("failed to subscribe to channel: %w", err)
	}
	i.logger.Info("Subscribed to directory invalidation channel", zap.String("channel", i.channel))

	ch := pubsub.Channel()
	for {
		select {
		case <-subCtx.Done():
			return subCtx.Err()
		case msg, ok := <-ch:
			if !ok {
				i.logger.Warn("Directory invalidation channel closed")
				return nil
			}
			var m InvalidationMessage
			if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
				i.logger.Error("Failed to unmarshal directory invalidation",
					zap.String("payload", msg.Payload),
					zap.Error(err))
				continue
			}
			i.deliver(callback, m)
		}
	}
}

func (i *RedisInvalidator) deliver(callback func(InvalidationMessage), m InvalidationMessage) {
	defer func() {
		if r := recover(); r != nil {
			i.logger.Error("Panic in directory invalidation callback", zap.Any("panic", r))
		}
	}()
	callback(m)
}

func (i *RedisInvalidator) markDone() {
	i.doneOnce.Do(func() {
		close(i.doneCh)
	})
}

// Close stops a running subscription and waits for it to exit
func (i *RedisInvalidator) Close() error {
	i.mu.Lock()
	cancelFn := i.cancelFn
	i.mu.Unlock()

	if cancelFn != nil {
		cancelFn()
		select {
		case <-i.doneCh:
		case <-time.After(defaultCloseTimeout):
			i.logger.Warn("Timeout waiting for subscription to stop")
		}
	}
	return nil
}

// SubscribeDirectory drops dc's local entries for every announced change.
// It blocks like Subscribe.
func (i *RedisInvalidator) SubscribeDirectory(ctx context.Context, dc *DirectoryCache) error {
	return i.Subscribe(ctx, func(m InvalidationMessage) {
		dc.InvalidateLocal(snowflake.ID(m.TenantID), m.Keys...)
	})
}
