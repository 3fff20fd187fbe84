// Package config handles loading and validation of application configuration
// from environment variables, an optional .env file and an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/NomadCrew/nomad-realtime/logger"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Environment represents the application's running environment (development or production).
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvProduction  Environment = "production"

	minJWTLength = 32
)

// Store drivers.
const (
	StoreDriverPostgres = "postgres"
	StoreDriverMongo    = "mongo"
	StoreDriverMemory   = "memory"
)

// Cache backends.
const (
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
)

// Fallback poller modes.
const (
	PollModeSupplementary = "supplementary"
	PollModeWhenInactive  = "when-inactive"
)

// ServerConfig holds server-specific configuration.
type ServerConfig struct {
	Environment    Environment `mapstructure:"ENVIRONMENT" yaml:"environment"`
	Port           string      `mapstructure:"PORT" yaml:"port"`
	AllowedOrigins []string    `mapstructure:"ALLOWED_ORIGINS" yaml:"allowed_origins"`
	Version        string      `mapstructure:"VERSION" yaml:"version"`
	JwtSecretKey   string      `mapstructure:"JWT_SECRET_KEY" yaml:"jwt_secret_key"`
	// JWKSURL enables asymmetric token verification against a key set.
	JWKSURL string `mapstructure:"JWKS_URL" yaml:"jwks_url"`
	// InternalAPIToken guards the service-to-service create endpoint.
	// Empty disables the endpoint.
	InternalAPIToken string `mapstructure:"INTERNAL_API_TOKEN" yaml:"internal_api_token"`
}

// DatabaseConfig holds PostgreSQL database connection details.
type DatabaseConfig struct {
	Host           string `mapstructure:"HOST" yaml:"host"`
	Port           int    `mapstructure:"PORT" yaml:"port"`
	User           string `mapstructure:"USER" yaml:"user"`
	Password       string `mapstructure:"PASSWORD" yaml:"password"`
	Name           string `mapstructure:"NAME" yaml:"name"`
	MaxConnections int    `mapstructure:"MAX_CONNECTIONS" yaml:"max_connections"`
	SSLMode        string `mapstructure:"SSL_MODE" yaml:"ssl_mode"`
	// RunMigrations applies db/migrations at startup.
	RunMigrations bool `mapstructure:"RUN_MIGRATIONS" yaml:"run_migrations"`
}

// URL returns a postgres:// connection URL suitable for pgxpool and golang-migrate.
func (c *DatabaseConfig) URL() string {
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(c.User),
		url.QueryEscape(c.Password),
		c.Host,
		c.Port,
		c.Name,
		sslmode,
	)
}

// MongoConfig holds document store connection details.
type MongoConfig struct {
	URI        string `mapstructure:"URI" yaml:"uri"`
	Database   string `mapstructure:"DATABASE" yaml:"database"`
	Collection string `mapstructure:"COLLECTION" yaml:"collection"`
}

// StoreConfig selects the notification store implementation.
type StoreConfig struct {
	Driver string `mapstructure:"DRIVER" yaml:"driver"`
}

// RedisConfig holds Redis connection details.
type RedisConfig struct {
	Address      string `mapstructure:"ADDRESS" yaml:"address"`
	Password     string `mapstructure:"PASSWORD" yaml:"password"`
	DB           int    `mapstructure:"DB" yaml:"db"`
	UseTLS       bool   `mapstructure:"USE_TLS" yaml:"use_tls"`
	PoolSize     int    `mapstructure:"POOL_SIZE" yaml:"pool_size"`
	MinIdleConns int    `mapstructure:"MIN_IDLE_CONNS" yaml:"min_idle_conns"`
	// Enabled is false when no shared redis is deployed; the rate limiter and
	// redis cache backend are then unavailable.
	Enabled bool `mapstructure:"ENABLED" yaml:"enabled"`
}

// CacheConfig configures the notification list cache.
type CacheConfig struct {
	Backend   string        `mapstructure:"BACKEND" yaml:"backend"`
	TTL       time.Duration `mapstructure:"TTL" yaml:"ttl"`
	KeyPrefix string        `mapstructure:"KEY_PREFIX" yaml:"key_prefix"`
}

// RealtimeConfig configures the connection gateway.
type RealtimeConfig struct {
	// MaxConnections is the global live connection ceiling.
	MaxConnections int `mapstructure:"MAX_CONNECTIONS" yaml:"max_connections"`
	// IdleTimeout evicts connections without any inbound signal.
	IdleTimeout time.Duration `mapstructure:"IDLE_TIMEOUT" yaml:"idle_timeout"`
	// AuthGrace closes connections that never authenticate.
	AuthGrace time.Duration `mapstructure:"AUTH_GRACE" yaml:"auth_grace"`
	// SweepSchedule is a cron spec for the idle sweeper, e.g. "@every 30s".
	SweepSchedule string        `mapstructure:"SWEEP_SCHEDULE" yaml:"sweep_schedule"`
	PingInterval  time.Duration `mapstructure:"PING_INTERVAL" yaml:"ping_interval"`
	WriteTimeout  time.Duration `mapstructure:"WRITE_TIMEOUT" yaml:"write_timeout"`
	SendBuffer    int           `mapstructure:"SEND_BUFFER" yaml:"send_buffer"`
	LongPollWait  time.Duration `mapstructure:"LONG_POLL_WAIT" yaml:"long_poll_wait"`
	// TrustClientOwner accepts a raw ownerId without a verified token.
	// Development only.
	TrustClientOwner bool `mapstructure:"TRUST_CLIENT_OWNER" yaml:"trust_client_owner"`
}

// ClientConfig configures the Go realtime client (cmd/notify-client).
type ClientConfig struct {
	ServerURL          string        `mapstructure:"SERVER_URL" yaml:"server_url"`
	Token              string        `mapstructure:"TOKEN" yaml:"token"`
	OwnerID            string        `mapstructure:"OWNER_ID" yaml:"owner_id"`
	PollInterval       time.Duration `mapstructure:"POLL_INTERVAL" yaml:"poll_interval"`
	PollMode           string        `mapstructure:"POLL_MODE" yaml:"poll_mode"`
	MinFetchInterval   time.Duration `mapstructure:"MIN_FETCH_INTERVAL" yaml:"min_fetch_interval"`
	Debounce           time.Duration `mapstructure:"DEBOUNCE" yaml:"debounce"`
	FetchTimeout       time.Duration `mapstructure:"FETCH_TIMEOUT" yaml:"fetch_timeout"`
	BackoffBase        time.Duration `mapstructure:"BACKOFF_BASE" yaml:"backoff_base"`
	BackoffMax         time.Duration `mapstructure:"BACKOFF_MAX" yaml:"backoff_max"`
	BackoffMaxAttempts int           `mapstructure:"BACKOFF_MAX_ATTEMPTS" yaml:"backoff_max_attempts"`
	PageSize           int           `mapstructure:"PAGE_SIZE" yaml:"page_size"`
}

// WorkerPoolConfig holds configuration for the notification worker pool.
type WorkerPoolConfig struct {
	// MaxWorkers is the number of concurrent workers (default: 10)
	MaxWorkers int `mapstructure:"MAX_WORKERS" yaml:"max_workers"`
	// QueueSize is the maximum number of pending jobs (default: 1000)
	QueueSize int `mapstructure:"QUEUE_SIZE" yaml:"queue_size"`
	// ShutdownTimeoutSeconds is the max time to wait for workers during shutdown (default: 30)
	ShutdownTimeoutSeconds int `mapstructure:"SHUTDOWN_TIMEOUT_SECONDS" yaml:"shutdown_timeout_seconds"`
}

// RetentionConfig configures the read-notification purge job.
type RetentionConfig struct {
	Enabled    bool          `mapstructure:"ENABLED" yaml:"enabled"`
	Schedule   string        `mapstructure:"SCHEDULE" yaml:"schedule"`
	ReadMaxAge time.Duration `mapstructure:"READ_MAX_AGE" yaml:"read_max_age"`
}

// RateLimitConfig holds configuration for rate limiting.
type RateLimitConfig struct {
	// HandshakesPerMinute caps realtime handshakes per client IP.
	HandshakesPerMinute int `mapstructure:"HANDSHAKES_PER_MINUTE" yaml:"handshakes_per_minute"`
	WindowSeconds       int `mapstructure:"WINDOW_SECONDS" yaml:"window_seconds"`
}

// TracingConfig controls OpenTelemetry spans. Spans are written to stdout
// when enabled; otherwise the no-op provider is used.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"ENABLED" yaml:"enabled"`
	ServiceName string  `mapstructure:"SERVICE_NAME" yaml:"service_name"`
	SampleRatio float64 `mapstructure:"SAMPLE_RATIO" yaml:"sample_ratio"`
}

// Config aggregates all application configuration sections.
type Config struct {
	Server     ServerConfig     `mapstructure:"SERVER" yaml:"server"`
	Database   DatabaseConfig   `mapstructure:"DATABASE" yaml:"database"`
	Mongo      MongoConfig      `mapstructure:"MONGO" yaml:"mongo"`
	Store      StoreConfig      `mapstructure:"STORE" yaml:"store"`
	Redis      RedisConfig      `mapstructure:"REDIS" yaml:"redis"`
	Cache      CacheConfig      `mapstructure:"CACHE" yaml:"cache"`
	Realtime   RealtimeConfig   `mapstructure:"REALTIME" yaml:"realtime"`
	Client     ClientConfig     `mapstructure:"CLIENT" yaml:"client"`
	WorkerPool WorkerPoolConfig `mapstructure:"WORKER_POOL" yaml:"worker_pool"`
	Retention  RetentionConfig  `mapstructure:"RETENTION" yaml:"retention"`
	RateLimit  RateLimitConfig  `mapstructure:"RATE_LIMIT" yaml:"rate_limit"`
	Tracing    TracingConfig    `mapstructure:"TRACING" yaml:"tracing"`
}

// IsDevelopment returns true if the application is running in development environment.
func (c *Config) IsDevelopment() bool {
	return c.Server.Environment == EnvDevelopment
}

// IsProduction returns true if the application is running in production environment.
func (c *Config) IsProduction() bool {
	return c.Server.Environment == EnvProduction
}

// bindEnvVars binds multiple environment variables to config keys.
// Format: []{configKey, envVar}
func bindEnvVars(v *viper.Viper, bindings [][2]string) error {
	for _, b := range bindings {
		if err := v.BindEnv(b[0], b[1]); err != nil {
			return fmt.Errorf("failed to bind %s: %w", b[0], err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SERVER.ENVIRONMENT", EnvDevelopment)
	v.SetDefault("SERVER.PORT", "8080")
	v.SetDefault("SERVER.ALLOWED_ORIGINS", []string{"*"})
	v.SetDefault("SERVER.VERSION", "dev")
	v.SetDefault("SERVER.JWT_SECRET_KEY", "")
	v.SetDefault("SERVER.JWKS_URL", "")
	v.SetDefault("SERVER.INTERNAL_API_TOKEN", "")
	v.SetDefault("DATABASE.HOST", "localhost")
	v.SetDefault("DATABASE.PORT", 5432)
	v.SetDefault("DATABASE.USER", "postgres")
	v.SetDefault("DATABASE.PASSWORD", "")
	v.SetDefault("DATABASE.NAME", "nomad_realtime")
	v.SetDefault("DATABASE.SSL_MODE", "disable")
	v.SetDefault("DATABASE.MAX_CONNECTIONS", 20)
	v.SetDefault("DATABASE.RUN_MIGRATIONS", true)
	v.SetDefault("MONGO.URI", "mongodb://localhost:27017")
	v.SetDefault("MONGO.DATABASE", "nomad_realtime")
	v.SetDefault("MONGO.COLLECTION", "notifications")
	v.SetDefault("STORE.DRIVER", StoreDriverPostgres)
	v.SetDefault("REDIS.ENABLED", true)
	v.SetDefault("REDIS.ADDRESS", "localhost:6379")
	v.SetDefault("REDIS.PASSWORD", "")
	v.SetDefault("REDIS.DB", 0)
	v.SetDefault("REDIS.USE_TLS", false)
	v.SetDefault("REDIS.POOL_SIZE", 10)
	v.SetDefault("REDIS.MIN_IDLE_CONNS", 1)
	v.SetDefault("CACHE.BACKEND", CacheBackendMemory)
	v.SetDefault("CACHE.TTL", "5m")
	v.SetDefault("CACHE.KEY_PREFIX", "notif")
	v.SetDefault("REALTIME.MAX_CONNECTIONS", 1000)
	v.SetDefault("REALTIME.IDLE_TIMEOUT", "30m")
	v.SetDefault("REALTIME.AUTH_GRACE", "5s")
	v.SetDefault("REALTIME.SWEEP_SCHEDULE", "@every 30s")
	v.SetDefault("REALTIME.PING_INTERVAL", "25s")
	v.SetDefault("REALTIME.WRITE_TIMEOUT", "10s")
	v.SetDefault("REALTIME.SEND_BUFFER", 64)
	v.SetDefault("REALTIME.LONG_POLL_WAIT", "25s")
	v.SetDefault("REALTIME.TRUST_CLIENT_OWNER", false)
	v.SetDefault("CLIENT.SERVER_URL", "http://localhost:8080")
	v.SetDefault("CLIENT.TOKEN", "")
	v.SetDefault("CLIENT.OWNER_ID", "")
	v.SetDefault("CLIENT.POLL_INTERVAL", "5m")
	v.SetDefault("CLIENT.POLL_MODE", PollModeSupplementary)
	v.SetDefault("CLIENT.MIN_FETCH_INTERVAL", "3m")
	v.SetDefault("CLIENT.DEBOUNCE", "5s")
	v.SetDefault("CLIENT.FETCH_TIMEOUT", "15s")
	v.SetDefault("CLIENT.BACKOFF_BASE", "1s")
	v.SetDefault("CLIENT.BACKOFF_MAX", "30s")
	v.SetDefault("CLIENT.BACKOFF_MAX_ATTEMPTS", 5)
	v.SetDefault("CLIENT.PAGE_SIZE", 20)
	v.SetDefault("WORKER_POOL.MAX_WORKERS", 10)
	v.SetDefault("WORKER_POOL.QUEUE_SIZE", 1000)
	v.SetDefault("WORKER_POOL.SHUTDOWN_TIMEOUT_SECONDS", 30)
	v.SetDefault("RETENTION.ENABLED", true)
	v.SetDefault("RETENTION.SCHEDULE", "@daily")
	v.SetDefault("RETENTION.READ_MAX_AGE", "720h")
	v.SetDefault("RATE_LIMIT.HANDSHAKES_PER_MINUTE", 30)
	v.SetDefault("RATE_LIMIT.WINDOW_SECONDS", 60)
	v.SetDefault("TRACING.ENABLED", false)
	v.SetDefault("TRACING.SERVICE_NAME", "nomad-realtime")
	v.SetDefault("TRACING.SAMPLE_RATIO", 1.0)
}

var envBindings = [][2]string{
	// Server config
	{"SERVER.ENVIRONMENT", "SERVER_ENVIRONMENT"},
	{"SERVER.PORT", "PORT"},
	{"SERVER.ALLOWED_ORIGINS", "ALLOWED_ORIGINS"},
	{"SERVER.VERSION", "VERSION"},
	{"SERVER.JWT_SECRET_KEY", "JWT_SECRET_KEY"},
	{"SERVER.JWKS_URL", "JWKS_URL"},
	{"SERVER.INTERNAL_API_TOKEN", "INTERNAL_API_TOKEN"},
	// Database config
	{"DATABASE.HOST", "DB_HOST"},
	{"DATABASE.PORT", "DB_PORT"},
	{"DATABASE.USER", "DB_USER"},
	{"DATABASE.PASSWORD", "DB_PASSWORD"},
	{"DATABASE.NAME", "DB_NAME"},
	{"DATABASE.SSL_MODE", "DB_SSL_MODE"},
	{"DATABASE.RUN_MIGRATIONS", "DB_RUN_MIGRATIONS"},
	// Document store
	{"MONGO.URI", "MONGO_URI"},
	{"MONGO.DATABASE", "MONGO_DATABASE"},
	{"MONGO.COLLECTION", "MONGO_COLLECTION"},
	{"STORE.DRIVER", "STORE_DRIVER"},
	// Redis config
	{"REDIS.ENABLED", "REDIS_ENABLED"},
	{"REDIS.ADDRESS", "REDIS_ADDRESS"},
	{"REDIS.PASSWORD", "REDIS_PASSWORD"},
	{"REDIS.DB", "REDIS_DB"},
	{"REDIS.USE_TLS", "REDIS_USE_TLS"},
	// Cache
	{"CACHE.BACKEND", "CACHE_BACKEND"},
	{"CACHE.TTL", "CACHE_TTL"},
	// Realtime gateway
	{"REALTIME.MAX_CONNECTIONS", "REALTIME_MAX_CONNECTIONS"},
	{"REALTIME.IDLE_TIMEOUT", "REALTIME_IDLE_TIMEOUT"},
	{"REALTIME.AUTH_GRACE", "REALTIME_AUTH_GRACE"},
	{"REALTIME.SWEEP_SCHEDULE", "REALTIME_SWEEP_SCHEDULE"},
	{"REALTIME.PING_INTERVAL", "REALTIME_PING_INTERVAL"},
	{"REALTIME.WRITE_TIMEOUT", "REALTIME_WRITE_TIMEOUT"},
	{"REALTIME.SEND_BUFFER", "REALTIME_SEND_BUFFER"},
	{"REALTIME.LONG_POLL_WAIT", "REALTIME_LONG_POLL_WAIT"},
	{"REALTIME.TRUST_CLIENT_OWNER", "REALTIME_TRUST_CLIENT_OWNER"},
	// Client
	{"CLIENT.SERVER_URL", "CLIENT_SERVER_URL"},
	{"CLIENT.TOKEN", "CLIENT_TOKEN"},
	{"CLIENT.OWNER_ID", "CLIENT_OWNER_ID"},
	{"CLIENT.POLL_INTERVAL", "CLIENT_POLL_INTERVAL"},
	{"CLIENT.POLL_MODE", "CLIENT_POLL_MODE"},
	{"CLIENT.MIN_FETCH_INTERVAL", "CLIENT_MIN_FETCH_INTERVAL"},
	{"CLIENT.DEBOUNCE", "CLIENT_DEBOUNCE"},
	{"CLIENT.FETCH_TIMEOUT", "CLIENT_FETCH_TIMEOUT"},
	{"CLIENT.BACKOFF_BASE", "CLIENT_BACKOFF_BASE"},
	{"CLIENT.BACKOFF_MAX", "CLIENT_BACKOFF_MAX"},
	{"CLIENT.BACKOFF_MAX_ATTEMPTS", "CLIENT_BACKOFF_MAX_ATTEMPTS"},
	// WorkerPool config
	{"WORKER_POOL.MAX_WORKERS", "WORKER_POOL_MAX_WORKERS"},
	{"WORKER_POOL.QUEUE_SIZE", "WORKER_POOL_QUEUE_SIZE"},
	{"WORKER_POOL.SHUTDOWN_TIMEOUT_SECONDS", "WORKER_POOL_SHUTDOWN_TIMEOUT_SECONDS"},
	// Retention
	{"RETENTION.ENABLED", "RETENTION_ENABLED"},
	{"RETENTION.SCHEDULE", "RETENTION_SCHEDULE"},
	{"RETENTION.READ_MAX_AGE", "RETENTION_READ_MAX_AGE"},
	// Rate limit config
	{"RATE_LIMIT.HANDSHAKES_PER_MINUTE", "RATE_LIMIT_HANDSHAKES_PER_MINUTE"},
	{"RATE_LIMIT.WINDOW_SECONDS", "RATE_LIMIT_WINDOW_SECONDS"},
	// Tracing
	{"TRACING.ENABLED", "TRACING_ENABLED"},
	{"TRACING.SERVICE_NAME", "TRACING_SERVICE_NAME"},
	{"TRACING.SAMPLE_RATIO", "TRACING_SAMPLE_RATIO"},
}

// loadDotEnv reads a .env file into the process environment when present.
// Existing variables win.
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

func newViper() (*viper.Viper, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)

	path, err := configFilePath(os.Getenv("SERVER_ENVIRONMENT"))
	if err != nil {
		return nil, err
	}
	if path != "" {
		if err := mergeConfigFile(v, path); err != nil {
			return nil, err
		}
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	if err := bindEnvVars(v, envBindings); err != nil {
		return nil, err
	}
	return v, nil
}

// LoadConfig loads configuration from the environment, applies defaults,
// and validates the server sections.
func LoadConfig() (*Config, error) {
	log := logger.GetLogger()

	v, err := newViper()
	if err != nil {
		return nil, err
	}

	log.Infow("Configuration loaded",
		"environment", v.GetString("SERVER.ENVIRONMENT"),
		"server_port", v.GetString("SERVER.PORT"),
		"store_driver", v.GetString("STORE.DRIVER"),
		"cache_backend", v.GetString("CACHE.BACKEND"),
		"max_connections", v.GetInt("REALTIME.MAX_CONNECTIONS"),
		"idle_timeout", v.GetString("REALTIME.IDLE_TIMEOUT"),
		"auth_grace", v.GetString("REALTIME.AUTH_GRACE"),
	)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config unmarshal failed: %w", err)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	log.Info("Configuration validated successfully")
	return &cfg, nil
}

// LoadClientConfig loads only the CLIENT section. Used by cmd/notify-client.
func LoadClientConfig() (*ClientConfig, error) {
	v, err := newViper()
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config unmarshal failed: %w", err)
	}
	if err := validateClientConfig(&cfg.Client); err != nil {
		return nil, fmt.Errorf("client config validation failed: %w", err)
	}
	return &cfg.Client, nil
}

// validateConfig checks if the loaded configuration values are valid.
func validateConfig(cfg *Config) error {
	log := logger.GetLogger()

	if cfg.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if len(cfg.Server.JwtSecretKey) < minJWTLength && cfg.Server.JWKSURL == "" {
		if cfg.IsProduction() {
			return fmt.Errorf("JWT secret key must be at least %d characters long", minJWTLength)
		}
		log.Warn("JWT secret key is short or unset; token authentication will reject every token")
	}
	if !containsWildcard(cfg.Server.AllowedOrigins) {
		for _, origin := range cfg.Server.AllowedOrigins {
			if _, err := url.ParseRequestURI(origin); err != nil {
				return fmt.Errorf("invalid allowed origin '%s': %w", origin, err)
			}
		}
	}

	switch cfg.Store.Driver {
	case StoreDriverPostgres:
		if cfg.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if cfg.Database.User == "" {
			return fmt.Errorf("database user is required")
		}
		if cfg.Database.Name == "" {
			return fmt.Errorf("database name is required")
		}
		if cfg.Database.Password == "" {
			log.Warn("Database password is not set. Ensure this is intended (e.g., using trusted auth).")
		}
	case StoreDriverMongo:
		if cfg.Mongo.URI == "" || cfg.Mongo.Database == "" || cfg.Mongo.Collection == "" {
			return fmt.Errorf("mongo uri, database and collection are required")
		}
	case StoreDriverMemory:
		if cfg.IsProduction() {
			return fmt.Errorf("memory store is not allowed in production")
		}
	default:
		return fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}

	switch cfg.Cache.Backend {
	case CacheBackendMemory:
	case CacheBackendRedis:
		if !cfg.Redis.Enabled {
			return fmt.Errorf("redis cache backend requires REDIS_ENABLED")
		}
	default:
		return fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
	}
	if cfg.Cache.TTL <= 0 {
		return fmt.Errorf("cache ttl must be positive")
	}

	if cfg.Redis.Enabled && cfg.Redis.Address == "" {
		return fmt.Errorf("redis address is required")
	}

	if err := validateRealtimeConfig(&cfg.Realtime); err != nil {
		return err
	}
	if cfg.Realtime.TrustClientOwner && cfg.IsProduction() {
		return fmt.Errorf("trusting client-supplied owner ids is not allowed in production")
	}

	if cfg.WorkerPool.MaxWorkers <= 0 {
		return fmt.Errorf("worker pool max workers must be positive")
	}
	if cfg.WorkerPool.QueueSize <= 0 {
		return fmt.Errorf("worker pool queue size must be positive")
	}
	if cfg.WorkerPool.ShutdownTimeoutSeconds <= 0 {
		return fmt.Errorf("worker pool shutdown timeout must be positive")
	}

	if cfg.Retention.Enabled && cfg.Retention.ReadMaxAge <= 0 {
		return fmt.Errorf("retention read max age must be positive")
	}

	if cfg.RateLimit.HandshakesPerMinute <= 0 {
		return fmt.Errorf("rate limit handshakes per minute must be positive")
	}
	if cfg.RateLimit.WindowSeconds <= 0 {
		return fmt.Errorf("rate limit window seconds must be positive")
	}

	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing sample ratio must be between 0 and 1")
	}

	return nil
}

func validateRealtimeConfig(rc *RealtimeConfig) error {
	if rc.MaxConnections <= 0 {
		return fmt.Errorf("realtime max connections must be positive")
	}
	if rc.IdleTimeout <= 0 {
		return fmt.Errorf("realtime idle timeout must be positive")
	}
	if rc.AuthGrace <= 0 {
		return fmt.Errorf("realtime auth grace must be positive")
	}
	if rc.SweepSchedule == "" {
		return fmt.Errorf("realtime sweep schedule is required")
	}
	if rc.SendBuffer <= 0 {
		return fmt.Errorf("realtime send buffer must be positive")
	}
	if rc.LongPollWait <= 0 {
		return fmt.Errorf("realtime long poll wait must be positive")
	}
	return nil
}

func validateClientConfig(cc *ClientConfig) error {
	if _, err := url.ParseRequestURI(cc.ServerURL); err != nil {
		return fmt.Errorf("invalid server url '%s': %w", cc.ServerURL, err)
	}
	if cc.PollMode != PollModeSupplementary && cc.PollMode != PollModeWhenInactive {
		return fmt.Errorf("unknown poll mode %q", cc.PollMode)
	}
	if cc.BackoffBase <= 0 || cc.BackoffMax < cc.BackoffBase {
		return fmt.Errorf("backoff base must be positive and not exceed backoff max")
	}
	if cc.BackoffMaxAttempts <= 0 {
		return fmt.Errorf("backoff max attempts must be positive")
	}
	if cc.FetchTimeout <= 0 || cc.PollInterval <= 0 {
		return fmt.Errorf("fetch timeout and poll interval must be positive")
	}
	return nil
}

// containsWildcard checks if the list of allowed origins contains the wildcard "*".
func containsWildcard(origins []string) bool {
	for _, origin := range origins {
		if origin == "*" {
			return true
		}
	}
	return false
}
