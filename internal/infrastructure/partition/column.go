package partition

import (
	"context"
	"reflect"

	"github.com/faithflows/backend/internal/domain/tenancy"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const scopeSettingKey = "partition:scope"

// ColumnStrategy keeps every tenant in shared tables distinguished by a
// tenant column. Statements issued through Run get the column filter added
// by GORM callbacks; statements issued elsewhere are left alone.
type ColumnStrategy struct {
	column string
	tables []string
}

// NewColumnStrategy registers the filtering callbacks on db. tables lists
// the partitioned tables cleared by Drop.
func NewColumnStrategy(db *gorm.DB, column string, tables ...string) *ColumnStrategy {
	if column == "" {
		column = "tenant_id"
	}
	s := &ColumnStrategy{column: column, tables: tables}
	s.register(db)
	return s
}

// Name implements Strategy
func (s *ColumnStrategy) Name() string {
	return "column"
}

// Activate implements Strategy. Shared tables always exist.
func (s *ColumnStrategy) Activate(ctx context.Context, db *gorm.DB, key string) error {
	if !tenancy.ValidPartitionKey(key) || key == publicKey {
		return ErrInvalidKey
	}
	return nil
}

// Run implements Strategy
func (s *ColumnStrategy) Run(ctx context.Context, db *gorm.DB, scope *Scope, fn func(tx *gorm.DB) error) error {
	return fn(s.session(ctx, db, scope))
}

// Transaction implements Strategy
func (s *ColumnStrategy) Transaction(ctx context.Context, db *gorm.DB, scope *Scope, fn func(tx *gorm.DB) error) error {
	return s.session(ctx, db, scope).Transaction(fn)
}

// session tags a statement chain with the scope. The trailing Session keeps
// the tag on every statement cloned from it.
func (s *ColumnStrategy) session(ctx context.Context, db *gorm.DB, scope *Scope) *gorm.DB {
	return db.WithContext(ctx).Set(scopeSettingKey, scope).Session(&gorm.Session{})
}

// Provision implements Strategy
func (s *ColumnStrategy) Provision(tx *gorm.DB, t *tenancy.Tenant) error {
	return nil
}

// Drop implements Strategy
func (s *ColumnStrategy) Drop(tx *gorm.DB, t *tenancy.Tenant) error {
	for _, table := range s.tables {
		err := tx.Exec("DELETE FROM ? WHERE ? = ?",
			clause.Table{Name: table}, clause.Column{Name: s.column}, int64(t.ID)).Error
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *ColumnStrategy) register(db *gorm.DB) {
	cb := db.Callback()
	_ = cb.Query().Before("gorm:query").Register("partition:query", s.filter)
	_ = cb.Row().Before("gorm:row").Register("partition:row", s.filter)
	_ = cb.Update().Before("gorm:update").Register("partition:update", s.filter)
	_ = cb.Delete().Before("gorm:delete").Register("partition:delete", s.filter)
	_ = cb.Create().Before("gorm:create").Register("partition:create", s.stamp)
	_ = cb.Raw().Before("gorm:raw").Register("partition:raw", s.reject)
}

// scopeOf returns the scope a statement was issued under; ok is false for
// statements that did not go through Run.
func (s *ColumnStrategy) scopeOf(db *gorm.DB) (*Scope, bool, error) {
	v, ok := db.Get(scopeSettingKey)
	if !ok {
		return nil, false, nil
	}
	scope, _ := v.(*Scope)
	if scope == nil {
		return nil, true, ErrNoScope
	}
	if scope.Released() {
		return nil, true, ErrScopeReleased
	}
	if db.Statement.SQL.Len() > 0 || db.Statement.Schema == nil || db.Statement.Schema.LookUpField(s.column) == nil {
		return nil, true, ErrUnconfined
	}
	return scope, true, nil
}

func (s *ColumnStrategy) filter(db *gorm.DB) {
	scope, scoped, err := s.scopeOf(db)
	if !scoped {
		return
	}
	if err != nil {
		_ = db.AddError(err)
		return
	}
	db.Statement.AddClause(clause.Where{Exprs: []clause.Expression{
		clause.Eq{
			Column: clause.Column{Table: clause.CurrentTable, Name: s.column},
			Value:  int64(scope.TenantID()),
		},
	}})
}

// reject fails raw statements, which cannot be confined to a tenant
func (s *ColumnStrategy) reject(db *gorm.DB) {
	if _, scoped := db.Get(scopeSettingKey); scoped {
		_ = db.AddError(ErrUnconfined)
	}
}

func (s *ColumnStrategy) stamp(db *gorm.DB) {
	scope, scoped, err := s.scopeOf(db)
	if !scoped {
		return
	}
	if err != nil {
		_ = db.AddError(err)
		return
	}
	field := db.Statement.Schema.LookUpField(s.column)
	ctx := db.Statement.Context
	id := int64(scope.TenantID())

	switch rv := db.Statement.ReflectValue; rv.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			if err := field.Set(ctx, reflect.Indirect(rv.Index(i)), id); err != nil {
				_ = db.AddError(err)
				return
			}
		}
	case reflect.Struct:
		if err := field.Set(ctx, rv, id); err != nil {
			_ = db.AddError(err)
		}
	}
}

var _ Strategy = (*ColumnStrategy)(nil)
