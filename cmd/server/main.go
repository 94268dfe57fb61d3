package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/bwmarrin/snowflake"
	billingapp "github.com/faithflows/backend/internal/application/billing"
	eventapp "github.com/faithflows/backend/internal/application/event"
	tenancyapp "github.com/faithflows/backend/internal/application/tenancy"
	"github.com/faithflows/backend/internal/domain/shared"
	"github.com/faithflows/backend/internal/infrastructure/auth"
	"github.com/faithflows/backend/internal/infrastructure/cache"
	"github.com/faithflows/backend/internal/infrastructure/config"
	"github.com/faithflows/backend/internal/infrastructure/event"
	"github.com/faithflows/backend/internal/infrastructure/logger"
	"github.com/faithflows/backend/internal/infrastructure/partition"
	"github.com/faithflows/backend/internal/infrastructure/persistence"
	"github.com/faithflows/backend/internal/infrastructure/persistence/models"
	"github.com/faithflows/backend/internal/infrastructure/telemetry"
	"github.com/faithflows/backend/internal/interfaces/http/handler"
	"github.com/faithflows/backend/internal/interfaces/http/middleware"
	"github.com/faithflows/backend/internal/interfaces/http/router"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	_ "github.com/faithflows/backend/docs"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

//	@title			FaithFlows Tenancy API
//	@version		1.0
//	@description	Multi-tenant request pipeline, tenant directory and subscription lifecycle

//	@host		localhost:8080
//	@BasePath	/api/v1

//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				Bearer token authentication. Format: "Bearer {token}"

const serviceName = "tenantd"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	logCfg := &logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	}
	log, err := logger.New(logCfg)
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logCfg, log); err != nil {
		log.Error("Server exited with error", zap.Error(err))
		_ = logger.Sync(log)
		os.Exit(1)
	}
	log.Info("Server exited gracefully")
	_ = logger.Sync(log)
}

// closer is run during shutdown; errors are collected, not fatal
type closer struct {
	name string
	fn   func(ctx context.Context) error
}

func run(ctx context.Context, cfg *config.Config, logCfg *logger.Config, log *zap.Logger) (err error) {
	var closers []closer
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		// reverse order of construction
		for i := len(closers) - 1; i >= 0; i-- {
			if cerr := closers[i].fn(shutdownCtx); cerr != nil {
				log.Error("Shutdown step failed", zap.String("component", closers[i].name), zap.Error(cerr))
				err = multierr.Append(err, cerr)
			}
		}
	}()
	onShutdown := func(name string, fn func(ctx context.Context) error) {
		closers = append(closers, closer{name: name, fn: fn})
	}

	// Telemetry: logs are teed to the collector once the exporter is up
	telemetryName := cfg.Telemetry.ServiceName
	if telemetryName == "" {
		telemetryName = serviceName
	}
	logProvider, err := telemetry.NewLoggerProvider(ctx, telemetry.LogsConfig{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ServiceName:       telemetryName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		return err
	}
	onShutdown("log exporter", logProvider.Shutdown)
	if logProvider.IsEnabled() {
		teed, lerr := logger.New(logCfg, logProvider.Core(zapcore.InfoLevel))
		if lerr != nil {
			return lerr
		}
		log = teed
	}

	log.Info("Starting tenancy server",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.String("partition_strategy", cfg.Tenancy.Strategy),
	)

	tracerProvider, err := telemetry.NewTracerProvider(ctx, telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       telemetryName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		return err
	}
	onShutdown("tracer", tracerProvider.Shutdown)

	meterProvider, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ExportInterval:    cfg.Telemetry.ExportInterval,
		ServiceName:       telemetryName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		return err
	}
	onShutdown("meter", meterProvider.Shutdown)
	meter := meterProvider.Meter(serviceName)

	profiler, err := telemetry.NewProfiler(telemetry.ProfilerConfig{
		Enabled:         cfg.Telemetry.ProfilerEnabled,
		ServerAddress:   cfg.Telemetry.ProfilerAddress,
		ApplicationName: telemetryName,
	}, log)
	if err != nil {
		return err
	}
	onShutdown("profiler", func(context.Context) error { return profiler.Stop() })
	if profiler.IsEnabled() {
		tracerProvider.EnableSpanProfiles()
	}

	// Database
	db, err := persistence.NewDatabase(&cfg.Database, log)
	if err != nil {
		return err
	}
	onShutdown("database", func(context.Context) error { return db.Close() })
	log.Info("Database connected successfully", zap.String("driver", cfg.Database.Driver))

	if err := telemetry.RegisterDBTracing(db.DB, telemetry.DBTracingConfig{
		Enabled:         cfg.Telemetry.Enabled && cfg.Telemetry.DBTraceEnabled,
		LogFullSQL:      !cfg.App.IsProduction(),
		SlowQueryThresh: cfg.Telemetry.DBSlowQueryThresh,
		DBSystem:        cfg.Database.Driver,
	}, log); err != nil {
		log.Warn("Database tracing disabled", zap.Error(err))
	}
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	if reg, err := telemetry.RegisterDBPoolMetrics(meter, sqlDB); err != nil {
		log.Warn("Database pool metrics disabled", zap.Error(err))
	} else {
		onShutdown("db pool metrics", func(context.Context) error { return reg.Unregister() })
	}

	if cfg.Database.AutoMigrate {
		if err := db.AutoMigrate(models.AllModels()...); err != nil {
			return err
		}
	}

	// Redis is optional; without it caches, limits and revocations stay in-process
	var redisClient *redis.Client
	if cfg.Redis.Enabled() {
		redisClient, err = cache.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		onShutdown("redis", func(context.Context) error { return redisClient.Close() })
	}

	ids, err := snowflake.NewNode(cfg.App.NodeID)
	if err != nil {
		return err
	}

	tenancyMetrics, err := telemetry.NewTenancyMetrics(meter)
	if err != nil {
		return err
	}

	// Partitioning
	strategy, ok := partition.Select(cfg.Tenancy.Strategy, cfg.Database.Driver, cfg.Tenancy.Column, db.DB)
	if !ok {
		log.Warn("Schema partitioning needs PostgreSQL, using column partitioning",
			zap.String("driver", cfg.Database.Driver))
	}
	partitions := partition.NewManager(db.DB, strategy,
		partition.WithLogger(log),
		partition.WithMeter(meter),
	)
	tenantRepo := persistence.NewGormTenantRepository(db.DB, strategy)

	directory := cache.NewDirectoryCache(tenantRepo, cache.DirectoryConfig{TTL: cfg.Tenancy.CacheTTL},
		cache.WithRedis(redisClient),
		cache.WithDirectoryLogger(log),
		cache.WithDirectoryMetrics(tenancyMetrics),
	)

	idempotency := cache.NewIdempotencyStore(redisClient, log)
	onShutdown("idempotency store", func(context.Context) error { return idempotency.Close() })

	// Events; the outbox may relay an event more than once, so handlers
	// are deduplicated by event id
	serializer := event.NewEventSerializer()
	event.RegisterLifecycleEvents(serializer)
	eventBus := event.NewInMemoryEventBus(log,
		event.WithWorkers(cfg.Event.Workers),
		event.WithBufferSize(cfg.Event.BufferSize),
	)
	eventBus.Subscribe(event.NewIdempotentHandler(
		event.NewNotificationHandler(event.NewLogNotifier(log), serializer),
		idempotency, log,
		event.WithIdempotencyConfig(shared.IdempotencyConfig{TTL: cfg.Event.IdempotencyTTL, Enabled: true}),
	))
	if err := eventBus.Start(ctx); err != nil {
		return err
	}
	onShutdown("event bus", eventBus.Stop)

	var publisher shared.EventPublisher = eventBus
	var outboxHandler *handler.OutboxHandler
	if !cfg.Event.DirectPublish {
		outboxPublisher := event.NewOutboxPublisher(serializer)
		tenantRepo.SetOutboxEventSaver(outboxPublisher)
		publisher = outboxPublisher.Bind(db.DB)

		outboxRepo := event.NewGormOutboxRepository(db.DB)
		processor := event.NewOutboxProcessor(outboxRepo, eventBus, serializer, event.OutboxProcessorConfig{
			BatchSize:        cfg.Event.OutboxBatchSize,
			PollInterval:     cfg.Event.OutboxPollInterval,
			CleanupEnabled:   true,
			CleanupRetention: cfg.Event.OutboxRetention,
		}, log, event.WithProcessorMeter(meter))
		if err := processor.Start(ctx); err != nil {
			return err
		}
		onShutdown("outbox processor", processor.Stop)
		outboxHandler = handler.NewOutboxHandler(eventapp.NewOutboxService(outboxRepo, log))
	}

	// Token revocation
	var blacklist interface {
		auth.TokenBlacklist
		tenancyapp.TokenRevoker
	}
	if redisClient != nil {
		blacklist = auth.NewRedisTokenBlacklist(redisClient)
	} else {
		blacklist = auth.NewInMemoryTokenBlacklist()
	}
	jwtService := auth.NewJWTService(cfg.JWT)

	serviceOpts := []tenancyapp.ServiceOption{
		tenancyapp.WithInvalidator(directory),
		tenancyapp.WithTokenRevoker(blacklist),
	}
	var invalidator *cache.RedisInvalidator
	if redisClient != nil {
		invalidator = cache.NewRedisInvalidator(redisClient, cache.WithInvalidatorLogger(log))
		serviceOpts = append(serviceOpts, tenancyapp.WithBroadcaster(invalidator))
		onShutdown("invalidator", func(context.Context) error { return invalidator.Close() })
	}
	tenantService := tenancyapp.NewService(tenantRepo, ids, publisher, tenancyapp.ServiceConfig{
		TrialDays:       cfg.Subscription.TrialDays,
		GracePeriodDays: cfg.Subscription.GracePeriodDays,
		TokenTTL:        cfg.JWT.AccessTokenExpiration,
	}, log, serviceOpts...)

	expiry := tenancyapp.NewExpiryNotifier(idempotency, publisher, cfg.Event.IdempotencyTTL, log)
	scanner := tenancyapp.NewExpiryScanner(tenantRepo, expiry, cfg.Subscription.ScanInterval, log)

	paymentService := billingapp.NewPaymentWebhookService(billingapp.PaymentWebhookServiceConfig{
		WebhookSecret: cfg.Billing.WebhookSecret,
		Upgrader:      tenantService,
		Store:         idempotency,
		Logger:        log,
	})
	if cfg.Billing.WebhookSecret == "" {
		log.Warn("Billing webhook secret not set; payment webhooks will be rejected")
	}

	// HTTP
	if cfg.App.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	middleware.SetupValidator()

	engine := gin.New()
	if len(cfg.HTTP.TrustedProxies) > 0 {
		if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
			log.Warn("Failed to set trusted proxies", zap.Error(err))
		}
	}

	public := middleware.NewPublicRoutes(cfg.Tenancy.PublicPaths)
	pipeline := middleware.NewPipeline(middleware.PipelineConfig{
		Resolver:  tenancyapp.NewResolver(directory, partitions, log),
		Extractor: middleware.NewKeyExtractor(cfg.Tenancy, cfg.App, log),
		Public:    public,
		Expiry:    expiry,
		Metrics:   tenancyMetrics,
		Logger:    log,
		Profiling: profiler.IsEnabled(),
	})

	// Apply middleware stack in order:
	// 1. Recovery - Catch panics, also those of the pipeline
	// 2. RequestID - Generate/propagate request ID
	// 3. Logger - Log requests
	// 4. Tracing and metrics
	// 5. Security headers, CORS, body limit
	// 6. RateLimit (if enabled)
	// 7. Authenticate - identify the caller
	// 8. Pipeline - resolve tenant, guard isolation, gate subscription
	engine.Use(logger.Recovery(log))
	engine.Use(middleware.RequestID())
	engine.Use(logger.GinMiddleware(log))
	engine.Use(middleware.TracingWithConfig(middleware.TracingConfig{
		ServiceName: telemetryName,
		Enabled:     tracerProvider.IsEnabled(),
	}))
	engine.Use(middleware.SpanErrorMarker())
	engine.Use(middleware.HTTPMetrics(middleware.HTTPMetricsConfig{
		MeterProvider: meterProvider,
		Enabled:       meterProvider.IsEnabled(),
		Logger:        log,
	}))
	engine.Use(middleware.SecureWithConfig(middleware.DefaultSecurityConfig()))
	engine.Use(middleware.CORSWithConfig(middleware.CORSConfigFrom(cfg.HTTP, cfg.Tenancy.Header)))
	engine.Use(middleware.BodyLimit(cfg.HTTP.MaxBodyBytes))

	if cfg.HTTP.RateLimit > 0 {
		var limiter middleware.Limiter
		if redisClient != nil {
			limiter = middleware.NewRedisRateLimiter(redisClient, cfg.HTTP.RateLimit, cfg.HTTP.RateLimitWindow)
		} else {
			limiter = middleware.NewRateLimiter(ctx, cfg.HTTP.RateLimit, cfg.HTTP.RateLimitWindow)
		}
		engine.Use(middleware.RateLimit(limiter, log))
		log.Info("Rate limiting enabled",
			zap.Int("requests", cfg.HTTP.RateLimit),
			zap.Duration("window", cfg.HTTP.RateLimitWindow),
		)
	}

	engine.Use(middleware.Authenticate(middleware.JWTMiddlewareConfig{
		JWTService:     jwtService,
		TokenBlacklist: blacklist,
		CookieName:     cfg.Cookie.Name,
		Public:         public,
		Logger:         log,
	}))
	engine.Use(pipeline.Handler())

	systemHandler := handler.NewSystemHandler(cfg.App.Name, sqlDB, partitions)
	engine.GET("/health", systemHandler.Health)
	engine.GET("/api/docs/*any",
		middleware.SwaggerProtection(cfg.Swagger),
		ginSwagger.WrapHandler(swaggerFiles.Handler),
	)

	router.NewRouter(engine, router.WithAPIVersion("v1")).
		Register(router.Groups(router.Handlers{
			Tenant:  handler.NewTenantHandler(tenantService),
			Payment: handler.NewPaymentWebhookHandler(paymentService),
			System:  systemHandler,
			Outbox:  outboxHandler,
		})...).
		Setup()

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		scanner.Run(gctx)
		return nil
	})
	if invalidator != nil {
		g.Go(func() error {
			if err := invalidator.SubscribeDirectory(gctx, directory); err != nil && gctx.Err() == nil {
				log.Error("Directory invalidation subscription ended", zap.Error(err))
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
