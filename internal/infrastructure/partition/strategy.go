package partition

import (
	"context"

	"github.com/faithflows/backend/internal/domain/tenancy"
	"gorm.io/gorm"
)

const publicKey = tenancy.PublicPartition

// Strategy is how a partition is physically realised
type Strategy interface {
	Name() string

	// Activate checks that the tenant's partition exists and can be bound
	Activate(ctx context.Context, db *gorm.DB, key string) error

	// Run executes fn with every statement confined to the scope's partition
	Run(ctx context.Context, db *gorm.DB, scope *Scope, fn func(tx *gorm.DB) error) error

	// Transaction is Run inside a database transaction
	Transaction(ctx context.Context, db *gorm.DB, scope *Scope, fn func(tx *gorm.DB) error) error

	// Provision creates the partition as part of the directory transaction tx
	Provision(tx *gorm.DB, t *tenancy.Tenant) error

	// Drop removes the partition as part of the directory transaction tx
	Drop(tx *gorm.DB, t *tenancy.Tenant) error
}

// Select returns the strategy named by name. Schema partitioning needs
// PostgreSQL; on any other driver Select falls back to a discriminator
// column and reports false.
func Select(name, driver, column string, db *gorm.DB) (Strategy, bool) {
	if name == "schema" {
		if driver == "postgres" {
			return NewSchemaStrategy(), true
		}
		return NewColumnStrategy(db, column), false
	}
	return NewColumnStrategy(db, column), true
}
