// Package partition binds a request to exactly one tenant's data partition
// and routes data access through it.
//
// The binding travels in the request's context.Context; nothing here is a
// process-wide "current partition". A request is prepared with WithRequest,
// bound once by Manager.Bind and released by Scope.Release when the request
// finishes, whatever the outcome.
//
//	ctx = partition.WithRequest(ctx)
//	scope, err := mgr.Bind(ctx, tenant)
//	defer scope.Release()
//	err = mgr.Run(ctx, func(tx *gorm.DB) error { return tx.Find(&rows).Error })
package partition

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/bwmarrin/snowflake"
)

var (
	// ErrNoScope is returned when partitioned data is accessed without a bound tenant
	ErrNoScope = errors.New("partition: no partition bound to request")
	// ErrScopeReleased is returned when a released scope is used
	ErrScopeReleased = errors.New("partition: scope already released")
	// ErrAlreadyBound is returned when a request bound to one partition asks for another
	ErrAlreadyBound = errors.New("partition: request already bound to a different partition")
	// ErrInvalidKey is returned for partition keys that are not safe identifiers
	ErrInvalidKey = errors.New("partition: invalid partition key")
	// ErrBindingFailed wraps any failure to activate a tenant partition
	ErrBindingFailed = errors.New("partition: binding failed")
	// ErrUnconfined is returned for statements the column strategy cannot filter by tenant
	ErrUnconfined = errors.New("partition: statement cannot be confined to a tenant partition")
	// ErrNotPrepared is returned by Bind when the context did not pass through WithRequest
	ErrNotPrepared = errors.New("partition: context not prepared for binding")
)

// Scope is one request's hold on one partition
type Scope struct {
	key       string
	tenantID  snowflake.ID
	released  atomic.Bool
	once      sync.Once
	onRelease func()
}

// Key returns the partition key
func (s *Scope) Key() string {
	return s.key
}

// TenantID returns the tenant owning the partition
func (s *Scope) TenantID() snowflake.ID {
	return s.tenantID
}

// Released reports whether Release has run
func (s *Scope) Released() bool {
	return s.released.Load()
}

// Release ends the scope. Safe to call more than once and on a nil scope.
func (s *Scope) Release() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		s.released.Store(true)
		if s.onRelease != nil {
			s.onRelease()
		}
	})
}

// slot holds the scope bound to one request
type slot struct {
	mu    sync.Mutex
	scope *Scope
}

type slotKey struct{}

// WithRequest prepares ctx to carry one partition binding
func WithRequest(ctx context.Context) context.Context {
	return context.WithValue(ctx, slotKey{}, &slot{})
}

func slotFrom(ctx context.Context) *slot {
	s, _ := ctx.Value(slotKey{}).(*slot)
	return s
}

// FromContext returns the live scope bound to the request, if any
func FromContext(ctx context.Context) (*Scope, bool) {
	s := slotFrom(ctx)
	if s == nil {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scope == nil || s.scope.Released() {
		return nil, false
	}
	return s.scope, true
}

// KeyFromContext returns the bound partition key or the public partition
func KeyFromContext(ctx context.Context) string {
	if sc, ok := FromContext(ctx); ok {
		return sc.Key()
	}
	return publicKey
}
