package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/faithflows/backend/internal/domain/tenancy"
	"github.com/faithflows/backend/internal/infrastructure/partition"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type tracedNote struct {
	ID       uint `gorm:"primaryKey"`
	TenantID int64
	Body     string
}

func setupTracedDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&tracedNote{}))
	return db
}

func spanAttr(span sdktrace.ReadOnlySpan, key attribute.Key) (attribute.Value, bool) {
	for _, kv := range span.Attributes() {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestRegisterDBTracing_Disabled(t *testing.T) {
	recorder := useRecorder(t)
	db := setupTracedDB(t)

	require.NoError(t, RegisterDBTracing(db, DBTracingConfig{}, zap.NewNop()))
	require.NoError(t, db.Create(&tracedNote{Body: "x"}).Error)

	assert.Empty(t, recorder.Ended())
}

func TestRegisterDBTracing_AnnotatesPartition(t *testing.T) {
	recorder := useRecorder(t)
	db := setupTracedDB(t)
	require.NoError(t, RegisterDBTracing(db, DBTracingConfig{Enabled: true, DBSystem: "sqlite"}, zap.NewNop()))

	manager := partition.NewManager(db, partition.NewColumnStrategy(db, "tenant_id"))
	tenant, err := tenancy.NewTenant(42, "grace", "Grace Chapel", "office@grace.test", time.Now())
	require.NoError(t, err)

	ctx := partition.WithRequest(context.Background())
	scope, err := manager.Bind(ctx, tenant)
	require.NoError(t, err)
	defer scope.Release()

	require.NoError(t, manager.Run(ctx, func(tx *gorm.DB) error {
		var notes []tracedNote
		return tx.Find(&notes).Error
	}))
	require.NoError(t, db.WithContext(context.Background()).Find(&[]tracedNote{}).Error)

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	for _, span := range spans {
		assert.Equal(t, "gorm.Query", span.Name())
	}

	v, ok := spanAttr(spans[0], AttrPartition)
	require.True(t, ok)
	assert.Equal(t, tenant.PartitionKey, v.AsString())

	v, ok = spanAttr(spans[1], AttrPartition)
	require.True(t, ok)
	assert.Equal(t, "public", v.AsString())
}

func TestRegisterDBTracing_FlagsSlowQueries(t *testing.T) {
	recorder := useRecorder(t)
	db := setupTracedDB(t)
	require.NoError(t, RegisterDBTracing(db, DBTracingConfig{
		Enabled:         true,
		DBSystem:        "sqlite",
		SlowQueryThresh: time.Nanosecond,
	}, zap.NewNop()))

	require.NoError(t, db.Create(&tracedNote{Body: "slow"}).Error)

	spans := recorder.Ended()
	require.NotEmpty(t, spans)
	v, ok := spanAttr(spans[len(spans)-1], "db.slow_query")
	require.True(t, ok)
	assert.True(t, v.AsBool())
}
