package partition

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"

	"github.com/faithflows/backend/internal/domain/tenancy"
	"go.uber.org/multierr"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SchemaStrategy gives every tenant its own PostgreSQL schema. Each Run
// pins one pooled connection, points its search_path at the tenant schema
// and resets it before the connection goes back to the pool.
type SchemaStrategy struct{}

// NewSchemaStrategy creates a schema-per-tenant strategy
func NewSchemaStrategy() *SchemaStrategy {
	return &SchemaStrategy{}
}

// Name implements Strategy
func (s *SchemaStrategy) Name() string {
	return "schema"
}

// Activate implements Strategy
func (s *SchemaStrategy) Activate(ctx context.Context, db *gorm.DB, key string) error {
	if !tenancy.ValidPartitionKey(key) {
		return ErrInvalidKey
	}
	var n int64
	err := db.WithContext(ctx).
		Raw("SELECT count(*) FROM information_schema.schemata WHERE schema_name = ?", key).
		Scan(&n).Error
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBindingFailed, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: schema %s does not exist", ErrBindingFailed, key)
	}
	return nil
}

// Run implements Strategy
func (s *SchemaStrategy) Run(ctx context.Context, db *gorm.DB, scope *Scope, fn func(tx *gorm.DB) error) error {
	key := scope.Key()
	if !tenancy.ValidPartitionKey(key) {
		return ErrInvalidKey
	}
	return db.WithContext(ctx).Connection(func(conn *gorm.DB) (err error) {
		if err := conn.Exec("SET search_path TO ?, public", clause.Table{Name: key}).Error; err != nil {
			return fmt.Errorf("%w: %v", ErrBindingFailed, err)
		}
		defer func() {
			if rerr := conn.Exec("RESET search_path").Error; rerr != nil {
				discard(conn)
				err = multierr.Append(err, fmt.Errorf("reset search_path: %w", rerr))
			}
		}()
		return fn(conn)
	})
}

// Transaction implements Strategy. SET LOCAL ends with the transaction.
func (s *SchemaStrategy) Transaction(ctx context.Context, db *gorm.DB, scope *Scope, fn func(tx *gorm.DB) error) error {
	key := scope.Key()
	if !tenancy.ValidPartitionKey(key) {
		return ErrInvalidKey
	}
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("SET LOCAL search_path TO ?, public", clause.Table{Name: key}).Error; err != nil {
			return fmt.Errorf("%w: %v", ErrBindingFailed, err)
		}
		return fn(tx)
	})
}

// Provision implements Strategy
func (s *SchemaStrategy) Provision(tx *gorm.DB, t *tenancy.Tenant) error {
	if !tenancy.ValidPartitionKey(t.PartitionKey) || t.PartitionKey == publicKey {
		return ErrInvalidKey
	}
	return tx.Exec("CREATE SCHEMA IF NOT EXISTS ?", clause.Table{Name: t.PartitionKey}).Error
}

// Drop implements Strategy
func (s *SchemaStrategy) Drop(tx *gorm.DB, t *tenancy.Tenant) error {
	if !tenancy.ValidPartitionKey(t.PartitionKey) || t.PartitionKey == publicKey {
		return ErrInvalidKey
	}
	return tx.Exec("DROP SCHEMA IF EXISTS ? CASCADE", clause.Table{Name: t.PartitionKey}).Error
}

// discard makes database/sql close the pinned connection instead of
// returning it to the pool with a tenant search_path still set.
func discard(conn *gorm.DB) {
	if c, ok := conn.Statement.ConnPool.(*sql.Conn); ok {
		_ = c.Raw(func(any) error { return driver.ErrBadConn })
	}
}

var _ Strategy = (*SchemaStrategy)(nil)
