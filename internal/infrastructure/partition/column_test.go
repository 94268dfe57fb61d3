package partition

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type note struct {
	ID       uint   `gorm:"primaryKey"`
	TenantID int64  `gorm:"index;not null"`
	Body     string `gorm:"size:200"`
}

type setting struct {
	Key   string `gorm:"primaryKey"`
	Value string
}

func setupSQLite(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&note{}, &setting{}))
	return db
}

func TestColumnStrategy_ConfinesStatements(t *testing.T) {
	db := setupSQLite(t)
	strategy := NewColumnStrategy(db, "tenant_id", "notes")
	m := NewManager(db, strategy)

	alpha := testTenant(t, 101, "alpha")
	beta := testTenant(t, 102, "beta")

	write := func(ctx context.Context, body string) {
		err := m.Run(ctx, func(tx *gorm.DB) error {
			return tx.Create(&note{Body: body}).Error
		})
		require.NoError(t, err)
	}

	ctxA := WithRequest(context.Background())
	scA, err := m.Bind(ctxA, alpha)
	require.NoError(t, err)
	write(ctxA, "alpha-1")
	write(ctxA, "alpha-2")

	ctxB := WithRequest(context.Background())
	scB, err := m.Bind(ctxB, beta)
	require.NoError(t, err)
	write(ctxB, "beta-1")

	var got []note
	require.NoError(t, m.Run(ctxA, func(tx *gorm.DB) error { return tx.Order("id").Find(&got).Error }))
	require.Len(t, got, 2)
	for _, n := range got {
		assert.Equal(t, int64(alpha.ID), n.TenantID)
	}

	var count int64
	require.NoError(t, m.Run(ctxB, func(tx *gorm.DB) error { return tx.Model(&note{}).Count(&count).Error }))
	assert.Equal(t, int64(1), count)

	// beta cannot update or delete alpha's rows
	require.NoError(t, m.Run(ctxB, func(tx *gorm.DB) error {
		return tx.Model(&note{}).Where("body LIKE ?", "alpha%").Update("body", "hijacked").Error
	}))
	require.NoError(t, m.Run(ctxB, func(tx *gorm.DB) error {
		return tx.Where("body LIKE ?", "alpha%").Delete(&note{}).Error
	}))

	var all []note
	require.NoError(t, db.Order("id").Find(&all).Error)
	require.Len(t, all, 3)
	assert.Equal(t, "alpha-1", all[0].Body)
	assert.Equal(t, "alpha-2", all[1].Body)

	scA.Release()
	scB.Release()
	assert.Zero(t, m.Active())
}

func TestColumnStrategy_UnscopedStatementsUntouched(t *testing.T) {
	db := setupSQLite(t)
	NewColumnStrategy(db, "tenant_id")

	require.NoError(t, db.Create(&setting{Key: "k", Value: "v"}).Error)
	var s setting
	require.NoError(t, db.First(&s, "key = ?", "k").Error)
	assert.Equal(t, "v", s.Value)
}

func TestColumnStrategy_RejectsUnconfinedStatements(t *testing.T) {
	db := setupSQLite(t)
	m := NewManager(db, NewColumnStrategy(db, "tenant_id"))
	ctx := WithRequest(context.Background())
	sc, err := m.Bind(ctx, testTenant(t, 103, "gamma"))
	require.NoError(t, err)
	defer sc.Release()

	err = m.Run(ctx, func(tx *gorm.DB) error {
		var rows []setting
		return tx.Find(&rows).Error
	})
	assert.ErrorIs(t, err, ErrUnconfined)

	err = m.Run(ctx, func(tx *gorm.DB) error {
		return tx.Exec("DELETE FROM notes").Error
	})
	assert.ErrorIs(t, err, ErrUnconfined)

	err = m.Run(ctx, func(tx *gorm.DB) error {
		var n int
		return tx.Raw("SELECT count(*) FROM notes").Scan(&n).Error
	})
	assert.ErrorIs(t, err, ErrUnconfined)
}

func TestColumnStrategy_ReleasedScopeFails(t *testing.T) {
	db := setupSQLite(t)
	m := NewManager(db, NewColumnStrategy(db, "tenant_id"))
	ctx := WithRequest(context.Background())
	sc, err := m.Bind(ctx, testTenant(t, 104, "delta"))
	require.NoError(t, err)

	var leaked *gorm.DB
	require.NoError(t, m.Run(ctx, func(tx *gorm.DB) error { leaked = tx; return nil }))
	sc.Release()

	var rows []note
	assert.ErrorIs(t, leaked.Find(&rows).Error, ErrScopeReleased)
}

func TestColumnStrategy_TransactionAndDrop(t *testing.T) {
	db := setupSQLite(t)
	strategy := NewColumnStrategy(db, "tenant_id", "notes")
	m := NewManager(db, strategy)
	tn := testTenant(t, 105, "epsilon")
	ctx := WithRequest(context.Background())
	sc, err := m.Bind(ctx, tn)
	require.NoError(t, err)
	defer sc.Release()

	err = m.Transaction(ctx, func(tx *gorm.DB) error {
		return tx.Create([]*note{{Body: "a"}, {Body: "b"}}).Error
	})
	require.NoError(t, err)

	var n int64
	require.NoError(t, db.Model(&note{}).Where("tenant_id = ?", int64(tn.ID)).Count(&n).Error)
	assert.Equal(t, int64(2), n)

	require.NoError(t, strategy.Drop(db, tn))
	require.NoError(t, db.Model(&note{}).Where("tenant_id = ?", int64(tn.ID)).Count(&n).Error)
	assert.Zero(t, n)
}

func TestSelect(t *testing.T) {
	tests := []struct {
		name, strategy, driver string
		want                   string
		ok                     bool
	}{
		{"schema on postgres", "schema", "postgres", "schema", true},
		{"schema falls back", "schema", "sqlite", "column", false},
		{"column", "column", "postgres", "column", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, ok := Select(tt.strategy, tt.driver, "tenant_id", setupSQLite(t))
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, s.Name())
		})
	}
}
