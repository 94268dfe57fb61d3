package telemetry

import (
	"context"
	"errors"
	"time"

	"github.com/faithflows/backend/internal/infrastructure/partition"
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DBTracingConfig holds configuration for database tracing.
type DBTracingConfig struct {
	Enabled         bool
	LogFullSQL      bool          // include bound variables; development only
	SlowQueryThresh time.Duration // Default: 200ms
	DBSystem        string
}

type queryStartKey struct{}

// RegisterDBTracing installs otelgorm on db and annotates each statement's
// span with the partition it ran in and a slow-query flag. The annotations
// run before otelgorm ends the span.
func RegisterDBTracing(db *gorm.DB, cfg DBTracingConfig, logger *zap.Logger) error {
	if !cfg.Enabled {
		return nil
	}
	if cfg.SlowQueryThresh <= 0 {
		cfg.SlowQueryThresh = 200 * time.Millisecond
	}

	opts := []otelgorm.Option{otelgorm.WithDBName(cfg.DBSystem)}
	if !cfg.LogFullSQL {
		opts = append(opts, otelgorm.WithoutQueryVariables())
	}
	if err := db.Use(otelgorm.NewPlugin(opts...)); err != nil {
		return err
	}

	before := func(tx *gorm.DB) {
		if tx.Statement.Context != nil {
			tx.Statement.Context = context.WithValue(tx.Statement.Context, queryStartKey{}, time.Now())
		}
	}
	after := func(tx *gorm.DB) { annotateStatement(tx, cfg.SlowQueryThresh) }

	cb := db.Callback()
	hooks := []struct {
		callback interface {
			Register(string, func(*gorm.DB)) error
		}
		name string
		fn   func(*gorm.DB)
	}{
		{cb.Create().Before("gorm:create"), "before:create", before},
		{cb.Query().Before("gorm:query"), "before:query", before},
		{cb.Update().Before("gorm:update"), "before:update", before},
		{cb.Delete().Before("gorm:delete"), "before:delete", before},
		{cb.Row().Before("gorm:row"), "before:row", before},
		{cb.Raw().Before("gorm:raw"), "before:raw", before},
		{cb.Create().After("gorm:create").Before("otel:after:create"), "after:create", after},
		{cb.Query().After("gorm:query").Before("otel:after:select"), "after:query", after},
		{cb.Update().After("gorm:update").Before("otel:after:update"), "after:update", after},
		{cb.Delete().After("gorm:delete").Before("otel:after:delete"), "after:delete", after},
		{cb.Row().After("gorm:row").Before("otel:after:row"), "after:row", after},
		{cb.Raw().After("gorm:raw").Before("otel:after:raw"), "after:raw", after},
	}
	for _, h := range hooks {
		if err := h.callback.Register("tenantd:"+h.name, h.fn); err != nil {
			return err
		}
	}

	logger.Info("Database tracing enabled",
		zap.Bool("log_full_sql", cfg.LogFullSQL),
		zap.Duration("slow_query_threshold", cfg.SlowQueryThresh),
	)
	return nil
}

func annotateStatement(tx *gorm.DB, slow time.Duration) {
	ctx := tx.Statement.Context
	if ctx == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}

	span.SetAttributes(AttrPartition.String(partition.KeyFromContext(ctx)))
	if tx.Statement.Table != "" {
		span.SetAttributes(attribute.String("db.sql.table", tx.Statement.Table))
	}
	if tx.Error != nil && !errors.Is(tx.Error, gorm.ErrRecordNotFound) {
		RecordError(span, tx.Error)
	}
	if start, ok := ctx.Value(queryStartKey{}).(time.Time); ok {
		if elapsed := time.Since(start); elapsed > slow {
			span.SetAttributes(
				attribute.Bool("db.slow_query", true),
				attribute.Int64("db.query_duration_ms", elapsed.Milliseconds()),
			)
		}
	}
}
