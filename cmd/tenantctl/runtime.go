package main

import (
	"context"

	"github.com/bwmarrin/snowflake"
	tenancyapp "github.com/faithflows/backend/internal/application/tenancy"
	"github.com/faithflows/backend/internal/infrastructure/auth"
	"github.com/faithflows/backend/internal/infrastructure/cache"
	"github.com/faithflows/backend/internal/infrastructure/config"
	"github.com/faithflows/backend/internal/infrastructure/event"
	"github.com/faithflows/backend/internal/infrastructure/logger"
	"github.com/faithflows/backend/internal/infrastructure/partition"
	"github.com/faithflows/backend/internal/infrastructure/persistence"
	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// runtime holds what the commands operate on
type runtime struct {
	service *tenancyapp.Service
	tokens  *auth.JWTService
	close   func(ctx context.Context) error
}

// opener builds a runtime; tests replace it
type opener func(ctx context.Context, logLevel string) (*runtime, error)

// openRuntime connects to the directory database the server uses. With
// Redis configured, changes are announced to running servers so their
// directory caches drop stale entries at once.
func openRuntime(ctx context.Context, logLevel string) (rt *runtime, err error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log, err := logger.New(&logger.Config{
		Level:      logLevel,
		Format:     "console",
		Output:     "stderr",
		TimeFormat: "2006-01-02 15:04:05",
	})
	if err != nil {
		return nil, err
	}

	var closers []func(context.Context) error
	closeAll := func(ctx context.Context) error {
		var errs error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = multierr.Append(errs, closers[i](ctx))
		}
		_ = logger.Sync(log)
		return errs
	}
	defer func() {
		if err != nil {
			_ = closeAll(ctx)
		}
	}()

	db, err := persistence.NewDatabase(&cfg.Database, log)
	if err != nil {
		return nil, err
	}
	closers = append(closers, func(context.Context) error { return db.Close() })

	strategy, ok := partition.Select(cfg.Tenancy.Strategy, cfg.Database.Driver, cfg.Tenancy.Column, db.DB)
	if !ok {
		log.Warn("Schema partitioning needs PostgreSQL, using column partitioning",
			zap.String("driver", cfg.Database.Driver))
	}
	repo := persistence.NewGormTenantRepository(db.DB, strategy)

	ids, err := snowflake.NewNode(cfg.App.NodeID)
	if err != nil {
		return nil, err
	}

	// With the outbox on, events are committed with each change and the
	// servers relay them; the local bus only sees direct publishes.
	serializer := registeredSerializer()
	if !cfg.Event.DirectPublish {
		repo.SetOutboxEventSaver(event.NewOutboxPublisher(serializer))
	}
	bus := event.NewInMemoryEventBus(log, event.WithWorkers(1))
	bus.Subscribe(event.NewNotificationHandler(event.NewLogNotifier(log), serializer))
	if err := bus.Start(ctx); err != nil {
		return nil, err
	}
	closers = append(closers, bus.Stop)

	var opts []tenancyapp.ServiceOption
	if cfg.Redis.Enabled() {
		var client *redis.Client
		client, err = cache.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		closers = append(closers, func(context.Context) error { return client.Close() })
		opts = append(opts,
			tenancyapp.WithBroadcaster(cache.NewRedisInvalidator(client, cache.WithInvalidatorLogger(log))),
			tenancyapp.WithTokenRevoker(auth.NewRedisTokenBlacklist(client)),
		)
	}

	service := tenancyapp.NewService(repo, ids, bus, tenancyapp.ServiceConfig{
		TrialDays:       cfg.Subscription.TrialDays,
		GracePeriodDays: cfg.Subscription.GracePeriodDays,
		TokenTTL:        cfg.JWT.AccessTokenExpiration,
	}, log, opts...)

	return &runtime{
		service: service,
		tokens:  auth.NewJWTService(cfg.JWT),
		close:   closeAll,
	}, nil
}

func registeredSerializer() *event.EventSerializer {
	s := event.NewEventSerializer()
	event.RegisterLifecycleEvents(s)
	return s
}
