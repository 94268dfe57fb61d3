package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App          AppConfig
	Database     DatabaseConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Cookie       CookieConfig
	Log          LogConfig
	HTTP         HTTPConfig
	Tenancy      TenancyConfig
	Subscription SubscriptionConfig
	Event        EventConfig
	Billing      BillingConfig
	Swagger      SwaggerConfig
	Telemetry    TelemetryConfig
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
	// NodeID seeds the snowflake id generator; unique per running instance
	NodeID int64
}

// IsProduction reports whether the app runs with production safeguards
func (a AppConfig) IsProduction() bool {
	return a.Env == "production"
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Driver          string // postgres, sqlite
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	Path            string // sqlite file or DSN
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
	LogLevel        string
	AutoMigrate     bool
}

// RedisConfig holds Redis connection settings. An empty Host disables Redis.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// Addr returns host:port
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// Enabled reports whether a Redis server is configured
func (r RedisConfig) Enabled() bool {
	return r.Host != ""
}

// JWTConfig holds JWT settings
type JWTConfig struct {
	Secret                string
	AccessTokenExpiration time.Duration
	Issuer                string
}

// CookieConfig holds settings for the access token cookie
type CookieConfig struct {
	Name     string
	Domain   string
	Path     string
	Secure   bool
	SameSite string // strict, lax, none
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	IdleTimeout      time.Duration
	ShutdownTimeout  time.Duration
	MaxHeaderBytes   int
	CORSAllowOrigins []string
	CORSAllowMethods []string
	CORSAllowHeaders []string
	TrustedProxies   []string
	MaxBodyBytes     int64
	// RateLimit requests per RateLimitWindow per client; 0 disables
	RateLimit       int
	RateLimitWindow time.Duration
}

// TenancyConfig holds tenant resolution and partitioning settings
type TenancyConfig struct {
	Header string
	// BaseDomain enables hostname resolution of <sub>.<base-domain> when set
	BaseDomain   string
	HostFallback bool
	// QueryParam enables ?tenant= selection; development only
	QueryParam  bool
	Strategy    string // schema, column
	Column      string
	CacheTTL    time.Duration
	PublicPaths []string
}

// SubscriptionConfig holds lifecycle defaults
type SubscriptionConfig struct {
	GracePeriodDays int
	TrialDays       int
	ScanInterval    time.Duration
}

// EventConfig holds event bus configuration
type EventConfig struct {
	Workers        int
	BufferSize     int
	IdempotencyTTL time.Duration
	// DirectPublish skips the outbox and hands events straight to the bus
	DirectPublish bool
	// OutboxPollInterval is how often pending outbox entries are relayed
	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	// OutboxRetention is how long delivered entries are kept
	OutboxRetention time.Duration
}

// BillingConfig holds the payment webhook settings
type BillingConfig struct {
	WebhookSecret string
}

// SwaggerConfig holds Swagger documentation endpoint configuration
type SwaggerConfig struct {
	Enabled bool
	// AllowedIPs restricts the docs to these IPs or CIDRs; empty allows all
	AllowedIPs []string
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool
	CollectorEndpoint string
	ServiceName       string
	Insecure          bool
	ExportInterval    time.Duration
	SamplingRatio     float64
	DBTraceEnabled    bool
	DBSlowQueryThresh time.Duration
	ProfilerEnabled   bool
	ProfilerAddress   string
}

// DefaultPublicPaths are reachable without a resolved tenant. An entry
// matches its exact path; an entry ending in "/*" also matches everything
// below it.
var DefaultPublicPaths = []string{
	"/api/v1/auth/register",
	"/api/v1/auth/login",
	"/api/v1/auth/refresh",
	"/api/v1/auth/forgot-password",
	"/api/v1/auth/reset-password",
	"/api/v1/billing/subscription-payment/webhook",
	"/health",
	"/api/docs/*",
	"/api/schema/*",
}

// MaxCacheTTL bounds how stale a directory lookup may be
const MaxCacheTTL = 30 * time.Second

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with TENANTD_ prefix (e.g., TENANTD_DATABASE_PASSWORD)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/tenantd")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("TENANTD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		App: AppConfig{
			Name:   v.GetString("app.name"),
			Env:    v.GetString("app.env"),
			Port:   v.GetString("app.port"),
			NodeID: v.GetInt64("app.node_id"),
		},
		Database: DatabaseConfig{
			Driver:          v.GetString("database.driver"),
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			Path:            v.GetString("database.path"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
			LogLevel:        v.GetString("database.log_level"),
			AutoMigrate:     v.GetBool("database.auto_migrate"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret:                v.GetString("jwt.secret"),
			AccessTokenExpiration: v.GetDuration("jwt.access_token_expiration"),
			Issuer:                v.GetString("jwt.issuer"),
		},
		Cookie: CookieConfig{
			Name:     v.GetString("cookie.name"),
			Domain:   v.GetString("cookie.domain"),
			Path:     v.GetString("cookie.path"),
			Secure:   v.GetBool("cookie.secure"),
			SameSite: v.GetString("cookie.same_site"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:      v.GetDuration("http.read_timeout"),
			WriteTimeout:     v.GetDuration("http.write_timeout"),
			IdleTimeout:      v.GetDuration("http.idle_timeout"),
			ShutdownTimeout:  v.GetDuration("http.shutdown_timeout"),
			MaxHeaderBytes:   v.GetInt("http.max_header_bytes"),
			CORSAllowOrigins: v.GetStringSlice("http.cors_allow_origins"),
			CORSAllowMethods: v.GetStringSlice("http.cors_allow_methods"),
			CORSAllowHeaders: v.GetStringSlice("http.cors_allow_headers"),
			TrustedProxies:   v.GetStringSlice("http.trusted_proxies"),
			MaxBodyBytes:     v.GetInt64("http.max_body_bytes"),
			RateLimit:        v.GetInt("http.rate_limit"),
			RateLimitWindow:  v.GetDuration("http.rate_limit_window"),
		},
		Tenancy: TenancyConfig{
			Header:       v.GetString("tenancy.header"),
			BaseDomain:   v.GetString("tenancy.base_domain"),
			HostFallback: v.GetBool("tenancy.host_fallback"),
			QueryParam:   v.GetBool("tenancy.query_param"),
			Strategy:     v.GetString("tenancy.strategy"),
			Column:       v.GetString("tenancy.column"),
			CacheTTL:     v.GetDuration("tenancy.cache_ttl"),
			PublicPaths:  v.GetStringSlice("tenancy.public_paths"),
		},
		Subscription: SubscriptionConfig{
			GracePeriodDays: v.GetInt("subscription.grace_period_days"),
			TrialDays:       v.GetInt("subscription.trial_days"),
			ScanInterval:    v.GetDuration("subscription.scan_interval"),
		},
		Event: EventConfig{
			Workers:            v.GetInt("event.workers"),
			BufferSize:         v.GetInt("event.buffer_size"),
			IdempotencyTTL:     v.GetDuration("event.idempotency_ttl"),
			DirectPublish:      v.GetBool("event.direct_publish"),
			OutboxPollInterval: v.GetDuration("event.outbox_poll_interval"),
			OutboxBatchSize:    v.GetInt("event.outbox_batch_size"),
			OutboxRetention:    v.GetDuration("event.outbox_retention"),
		},
		Billing: BillingConfig{
			WebhookSecret: v.GetString("billing.webhook_secret"),
		},
		Swagger: SwaggerConfig{
			Enabled:    v.GetBool("swagger.enabled"),
			AllowedIPs: v.GetStringSlice("swagger.allowed_ips"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			ExportInterval:    v.GetDuration("telemetry.export_interval"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			DBTraceEnabled:    v.GetBool("telemetry.db_trace_enabled"),
			DBSlowQueryThresh: v.GetDuration("telemetry.db_slow_query_threshold"),
			ProfilerEnabled:   v.GetBool("telemetry.profiler_enabled"),
			ProfilerAddress:   v.GetString("telemetry.profiler_address"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "tenantd"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	if cfg.App.NodeID == 0 {
		cfg.App.NodeID = 1
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "tenantd"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "tenantd.db"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30
	}
	if cfg.Database.LogLevel == "" {
		cfg.Database.LogLevel = "warn"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.JWT.AccessTokenExpiration == 0 {
		cfg.JWT.AccessTokenExpiration = 15 * time.Minute
	}
	if cfg.JWT.Issuer == "" {
		cfg.JWT.Issuer = "tenantd"
	}
	if cfg.Cookie.Name == "" {
		cfg.Cookie.Name = "access_token"
	}
	if cfg.Cookie.Path == "" {
		cfg.Cookie.Path = "/"
	}
	if cfg.Cookie.SameSite == "" {
		cfg.Cookie.SameSite = "lax"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 15 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.ShutdownTimeout == 0 {
		cfg.HTTP.ShutdownTimeout = 10 * time.Second
	}
	if cfg.HTTP.MaxHeaderBytes == 0 {
		cfg.HTTP.MaxHeaderBytes = 1 << 20 // 1MB
	}
	if cfg.HTTP.MaxBodyBytes == 0 {
		cfg.HTTP.MaxBodyBytes = 1 << 20
	}
	if cfg.HTTP.RateLimitWindow == 0 {
		cfg.HTTP.RateLimitWindow = time.Minute
	}
	// No default origins: cross-origin requests stay disabled until configured.
	if len(cfg.HTTP.CORSAllowMethods) == 0 {
		cfg.HTTP.CORSAllowMethods = []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"}
	}
	if len(cfg.HTTP.CORSAllowHeaders) == 0 {
		cfg.HTTP.CORSAllowHeaders = []string{"Content-Type", "Authorization", "X-Request-ID", "X-Tenant-Subdomain"}
	}
	if cfg.Tenancy.Header == "" {
		cfg.Tenancy.Header = "X-Tenant-Subdomain"
	}
	if cfg.Tenancy.Strategy == "" {
		cfg.Tenancy.Strategy = "schema"
	}
	if cfg.Tenancy.Column == "" {
		cfg.Tenancy.Column = "tenant_id"
	}
	if cfg.Tenancy.CacheTTL == 0 {
		cfg.Tenancy.CacheTTL = 5 * time.Second
	}
	if len(cfg.Tenancy.PublicPaths) == 0 {
		cfg.Tenancy.PublicPaths = append([]string(nil), DefaultPublicPaths...)
	}
	if cfg.Subscription.GracePeriodDays == 0 {
		cfg.Subscription.GracePeriodDays = 7
	}
	if cfg.Subscription.TrialDays == 0 {
		cfg.Subscription.TrialDays = 30
	}
	if cfg.Subscription.ScanInterval == 0 {
		cfg.Subscription.ScanInterval = time.Hour
	}
	if cfg.Event.Workers == 0 {
		cfg.Event.Workers = 4
	}
	if cfg.Event.BufferSize == 0 {
		cfg.Event.BufferSize = 256
	}
	if cfg.Event.IdempotencyTTL == 0 {
		cfg.Event.IdempotencyTTL = 24 * time.Hour
	}
	if cfg.Event.OutboxPollInterval == 0 {
		cfg.Event.OutboxPollInterval = time.Second
	}
	if cfg.Event.OutboxBatchSize == 0 {
		cfg.Event.OutboxBatchSize = 100
	}
	if cfg.Event.OutboxRetention == 0 {
		cfg.Event.OutboxRetention = 7 * 24 * time.Hour
	}
	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "tenantd"
	}
	if cfg.Telemetry.ExportInterval == 0 {
		cfg.Telemetry.ExportInterval = 30 * time.Second
	}
	if cfg.Telemetry.SamplingRatio <= 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	if cfg.Telemetry.DBSlowQueryThresh == 0 {
		cfg.Telemetry.DBSlowQueryThresh = 200 * time.Millisecond
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("database.driver must be postgres or sqlite, got %q", c.Database.Driver)
	}
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}

	switch c.Tenancy.Strategy {
	case "schema":
		if c.Database.Driver != "postgres" {
			return fmt.Errorf("tenancy.strategy=schema requires database.driver=postgres")
		}
	case "column":
	default:
		return fmt.Errorf("tenancy.strategy must be schema or column, got %q", c.Tenancy.Strategy)
	}
	if c.Tenancy.CacheTTL < 0 || c.Tenancy.CacheTTL > MaxCacheTTL {
		return fmt.Errorf("tenancy.cache_ttl must be between 0 and %s", MaxCacheTTL)
	}
	if c.Telemetry.SamplingRatio > 1 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0 and 1")
	}
	if c.Telemetry.ProfilerEnabled && c.Telemetry.ProfilerAddress == "" {
		return fmt.Errorf("telemetry.profiler_address is required when the profiler is enabled")
	}
	if c.Tenancy.HostFallback && c.Tenancy.BaseDomain == "" {
		return fmt.Errorf("tenancy.host_fallback requires tenancy.base_domain")
	}
	if c.Subscription.GracePeriodDays < 0 || c.Subscription.GracePeriodDays > 90 {
		return fmt.Errorf("subscription.grace_period_days must be between 0 and 90")
	}
	if c.Subscription.TrialDays <= 0 {
		return fmt.Errorf("subscription.trial_days must be positive")
	}
	if c.Event.Workers <= 0 {
		return fmt.Errorf("event.workers must be positive")
	}
	if c.Event.OutboxPollInterval < 0 || c.Event.OutboxBatchSize < 0 {
		return fmt.Errorf("event.outbox_poll_interval and event.outbox_batch_size cannot be negative")
	}
	if c.App.NodeID < 0 || c.App.NodeID > 1023 {
		return fmt.Errorf("app.node_id must be between 0 and 1023")
	}

	if c.App.IsProduction() {
		if len(c.JWT.Secret) < 32 {
			return fmt.Errorf("jwt.secret must be at least 32 characters in production")
		}
		if c.Database.Driver == "postgres" && c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Database.Driver == "postgres" && c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
		if !c.Cookie.Secure {
			return fmt.Errorf("cookie.secure must be true in production (HTTPS required for secure cookies)")
		}
		if c.Tenancy.QueryParam {
			return fmt.Errorf("tenancy.query_param must be false in production")
		}
		if c.Billing.WebhookSecret == "" {
			return fmt.Errorf("billing.webhook_secret is required in production")
		}
		for _, origin := range c.HTTP.CORSAllowOrigins {
			if origin == "*" {
				return fmt.Errorf("cors_allow_origins cannot be '*' in production (use specific origins)")
			}
		}
	}

	if c.Cookie.SameSite == "none" && !c.Cookie.Secure {
		return fmt.Errorf("cookie.same_site=none requires cookie.secure=true")
	}

	return nil
}

// DSN returns the database connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	if d.Driver == "sqlite" {
		return d.Path
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}
