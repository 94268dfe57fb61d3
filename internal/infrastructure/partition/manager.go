package partition

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/faithflows/backend/internal/domain/tenancy"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Manager binds requests to partitions and hands out confined DB handles
type Manager struct {
	db       *gorm.DB
	strategy Strategy
	logger   *zap.Logger
	active   atomic.Int64

	activeGauge  metric.Int64UpDownCounter
	bindFailures metric.Int64Counter
}

// Option configures a Manager
type Option func(*Manager)

// WithLogger sets the manager's logger
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithMeter records active scopes and binding failures on meter
func WithMeter(meter metric.Meter) Option {
	return func(m *Manager) {
		if g, err := meter.Int64UpDownCounter("partition.scopes.active",
			metric.WithDescription("Partition scopes currently bound to in-flight requests")); err == nil {
			m.activeGauge = g
		}
		if c, err := meter.Int64Counter("partition.bind.failures",
			metric.WithDescription("Requests whose partition could not be activated")); err == nil {
			m.bindFailures = c
		}
	}
}

// NewManager creates a manager over db using strategy
func NewManager(db *gorm.DB, strategy Strategy, opts ...Option) *Manager {
	m := &Manager{
		db:       db,
		strategy: strategy,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Strategy returns the configured strategy
func (m *Manager) Strategy() Strategy {
	return m.strategy
}

// Active returns the number of scopes not yet released
func (m *Manager) Active() int64 {
	return m.active.Load()
}

// Bind activates t's partition for the request carried by ctx. Binding the
// same partition again returns the existing scope; binding a different one
// fails with ErrAlreadyBound. Any other failure wraps ErrBindingFailed.
func (m *Manager) Bind(ctx context.Context, t *tenancy.Tenant) (*Scope, error) {
	sl := slotFrom(ctx)
	if sl == nil {
		return nil, ErrNotPrepared
	}

	sl.mu.Lock()
	defer sl.mu.Unlock()

	if cur := sl.scope; cur != nil && !cur.Released() {
		if cur.key == t.PartitionKey && cur.tenantID == t.ID {
			return cur, nil
		}
		return nil, ErrAlreadyBound
	}

	if err := m.strategy.Activate(ctx, m.db, t.PartitionKey); err != nil {
		m.recordFailure(ctx)
		if errors.Is(err, ErrBindingFailed) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrBindingFailed, err)
	}

	sc := &Scope{key: t.PartitionKey, tenantID: t.ID}
	sc.onRelease = func() {
		sl.mu.Lock()
		if sl.scope == sc {
			sl.scope = nil
		}
		sl.mu.Unlock()
		m.active.Add(-1)
		if m.activeGauge != nil {
			m.activeGauge.Add(context.Background(), -1)
		}
	}
	sl.scope = sc
	m.active.Add(1)
	if m.activeGauge != nil {
		m.activeGauge.Add(ctx, 1)
	}
	return sc, nil
}

// Run executes fn confined to the request's partition
func (m *Manager) Run(ctx context.Context, fn func(tx *gorm.DB) error) error {
	sc, err := m.scope(ctx)
	if err != nil {
		return err
	}
	return m.strategy.Run(ctx, m.db, sc, fn)
}

// Transaction executes fn in a transaction confined to the request's partition
func (m *Manager) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	sc, err := m.scope(ctx)
	if err != nil {
		return err
	}
	return m.strategy.Transaction(ctx, m.db, sc, fn)
}

// Shared returns a handle on the shared, non-partitioned store
func (m *Manager) Shared(ctx context.Context) *gorm.DB {
	return m.db.WithContext(ctx)
}

func (m *Manager) scope(ctx context.Context) (*Scope, error) {
	sl := slotFrom(ctx)
	if sl == nil {
		return nil, ErrNoScope
	}
	sl.mu.Lock()
	sc := sl.scope
	sl.mu.Unlock()
	if sc == nil {
		return nil, ErrNoScope
	}
	if sc.Released() {
		return nil, ErrScopeReleased
	}
	return sc, nil
}

func (m *Manager) recordFailure(ctx context.Context) {
	if m.bindFailures != nil {
		m.bindFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("strategy", m.strategy.Name())))
	}
}
