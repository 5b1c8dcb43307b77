// Package config provides configuration management for the records service.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/helixir/records-service/internal/controlnumber"
	"github.com/helixir/records-service/internal/sequence"
)

// SSL mode constants for database connections.
const (
	// SSLModeDisable disables SSL (use only for local development).
	SSLModeDisable = "disable"
	// SSLModeRequire requires SSL but does not verify certificates.
	SSLModeRequire = "require"
	// SSLModeVerifyCA verifies the server certificate against a CA.
	SSLModeVerifyCA = "verify-ca"
	// SSLModeVerifyFull verifies the server certificate and hostname.
	SSLModeVerifyFull = "verify-full"
)

// Locking backends.
const (
	// LockingNone relies on the database bucket lock alone.
	LockingNone = "none"
	// LockingLocal adds an in-process keyed mutex.
	LockingLocal = "local"
	// LockingRedis adds a Redis lock shared by all replicas.
	LockingRedis = "redis"
)

// envPrefix is the prefix of every environment variable read by Load.
const envPrefix = "RECORDS"

// Config holds all configuration for the records service.
type Config struct {
	// Server contains HTTP server settings.
	Server ServerConfig `mapstructure:"server"`
	// Database contains PostgreSQL connection settings.
	Database DatabaseConfig `mapstructure:"database"`
	// Logging contains structured logging settings.
	Logging LoggingConfig `mapstructure:"logging"`
	// Metrics contains Prometheus metrics exposure settings.
	Metrics MetricsConfig `mapstructure:"metrics"`
	// Kafka contains Kafka publisher settings for the outbox relay.
	Kafka KafkaConfig `mapstructure:"kafka"`
	// Outbox contains outbox relay settings.
	Outbox OutboxConfig `mapstructure:"outbox"`
	// Receipts contains the recipient receipt listener settings.
	Receipts ReceiptsConfig `mapstructure:"receipts"`
	// Locking selects the process-external bucket lock.
	Locking LockingConfig `mapstructure:"locking"`
	// Redis contains Redis connection settings for the redis locking backend.
	Redis RedisConfig `mapstructure:"redis"`
	// RateLimit contains per-tenant API rate limits.
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	// Allocation contains the control-number schemes and allocation strategy.
	Allocation AllocationConfig `mapstructure:"allocation"`
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	// Host is the address to bind the server to (default: 0.0.0.0).
	Host string `mapstructure:"host"`
	// HTTPPort is the HTTP server port (default: 8080).
	HTTPPort int `mapstructure:"http_port"`
	// MetricsPort is the metrics server port (default: 9091).
	MetricsPort int `mapstructure:"metrics_port"`
	// ReadTimeout is the maximum duration for reading request body.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout is the maximum duration for writing response.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	// Host is the PostgreSQL server hostname.
	Host string `mapstructure:"host"`
	// Port is the PostgreSQL server port (default: 5432).
	Port int `mapstructure:"port"`
	// User is the database username.
	User string `mapstructure:"user"`
	// Password is the database password (loaded from RECORDS_DATABASE_PASSWORD only).
	Password string `mapstructure:"-"`
	// Name is the database name.
	Name string `mapstructure:"name"`
	// SSLMode controls SSL connection security (require, verify-ca, verify-full, disable).
	// Default is "require" for production security. Use "disable" only for local development.
	SSLMode string `mapstructure:"ssl_mode"`
	// MaxConns is the maximum number of connections in the pool (default: 50).
	MaxConns int32 `mapstructure:"max_conns"`
	// MinConns is the minimum number of connections to keep open (default: 10).
	MinConns int32 `mapstructure:"min_conns"`
	// MaxConnLifetime is the maximum lifetime of a connection before it's closed.
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	// MaxConnIdleTime is the maximum time a connection can be idle before it's closed.
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	// HealthCheckPeriod is the interval between health checks of idle connections.
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
	// ConnectTimeout is the maximum time to wait for a connection.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	// MigrationPath is a directory of migration files. When empty the
	// migrations embedded in the binary are used.
	MigrationPath string `mapstructure:"migration_path"`
	// MigrationAutoRun enables automatic migration on startup (default: false).
	MigrationAutoRun bool `mapstructure:"migration_auto_run"`
	// StatementCacheCapacity is the size of the prepared statement cache.
	StatementCacheCapacity int `mapstructure:"statement_cache_capacity"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level (trace, debug, info, warn, error, fatal, panic).
	Level string `mapstructure:"level"`
	// Format is the log format (json, console).
	Format string `mapstructure:"format"`
	// Output is the log output destination (stdout, stderr).
	Output string `mapstructure:"output"`
	// AddSource adds source file and line to log output.
	AddSource bool `mapstructure:"add_source"`
	// TimeFormat is the timestamp format.
	TimeFormat string `mapstructure:"time_format"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	// Enabled enables metrics collection and exposure.
	Enabled bool `mapstructure:"enabled"`
	// Path is the HTTP path for metrics endpoint.
	Path string `mapstructure:"path"`
	// Namespace prefixes every metric name.
	Namespace string `mapstructure:"namespace"`
}

// KafkaConfig holds Kafka connection settings shared by the relay and the receipt listener.
type KafkaConfig struct {
	// Enabled controls whether Kafka publishing is active.
	Enabled bool `mapstructure:"enabled"`
	// Brokers is the list of Kafka broker addresses.
	Brokers []string `mapstructure:"brokers"`
	// Topic is the Kafka topic outbox events are published to.
	Topic string `mapstructure:"topic"`
	// BatchSize is the maximum number of messages to batch before sending.
	BatchSize int `mapstructure:"batch_size"`
	// BatchTimeout is the maximum time to wait for a batch to fill before sending.
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

// OutboxConfig holds outbox relay settings.
type OutboxConfig struct {
	// PollInterval is how often the relay polls for pending events.
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// BatchSize is the number of events to claim per batch.
	BatchSize int `mapstructure:"batch_size"`
	// MaxAttempts is the number of delivery attempts before an event is parked.
	MaxAttempts int `mapstructure:"max_attempts"`
}

// ReceiptsConfig holds the receipt listener settings.
type ReceiptsConfig struct {
	// Enabled starts the listener in the server process.
	Enabled bool `mapstructure:"enabled"`
	// Topic carries recipient receipt and acknowledgement messages.
	Topic string `mapstructure:"topic"`
	// GroupID is the Kafka consumer group.
	GroupID string `mapstructure:"group_id"`
	// Actor is recorded as the updater of documents changed by receipts.
	Actor string `mapstructure:"actor"`
}

// LockingConfig selects the bucket lock used around classification.
type LockingConfig struct {
	// Backend is one of none, local, redis.
	Backend string `mapstructure:"backend"`
	// TTL bounds how long a redis lock is held if its owner dies.
	TTL time.Duration `mapstructure:"ttl"`
	// RetryInterval is the wait between redis lock attempts.
	RetryInterval time.Duration `mapstructure:"retry_interval"`
	// RetryCount is the number of redis lock retries before giving up.
	RetryCount int `mapstructure:"retry_count"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	// Addr is the host:port of the Redis server.
	Addr string `mapstructure:"addr"`
	// Password is loaded from RECORDS_REDIS_PASSWORD only.
	Password string `mapstructure:"-"`
	// DB is the Redis database number.
	DB int `mapstructure:"db"`
}

// RateLimitConfig holds per-tenant rate limits for mutating API calls.
type RateLimitConfig struct {
	// Enabled turns rate limiting on.
	Enabled bool `mapstructure:"enabled"`
	// RPS is the sustained requests per second per tenant.
	RPS float64 `mapstructure:"rps"`
	// Burst is the bucket size per tenant.
	Burst int `mapstructure:"burst"`
}

// AllocationConfig holds control-number allocation settings.
type AllocationConfig struct {
	// Strategy is counter (default) or history.
	Strategy string `mapstructure:"strategy"`
	// Scheme is the default scheme. When it has no segments the built-in
	// layout is used.
	Scheme controlnumber.Scheme `mapstructure:"scheme"`
	// Tenants lists per-tenant scheme overrides.
	Tenants []TenantScheme `mapstructure:"tenants"`
}

// TenantScheme is the scheme override of one tenant. Overrides are a list
// rather than a map so tenant IDs keep their case.
type TenantScheme struct {
	TenantID string               `mapstructure:"tenant_id"`
	Scheme   controlnumber.Scheme `mapstructure:"scheme"`
}

// DefaultScheme returns the configured default scheme or the built-in one.
func (c *AllocationConfig) DefaultScheme() controlnumber.Scheme {
	if len(c.Scheme.Segments) == 0 {
		return controlnumber.DefaultScheme()
	}
	return c.Scheme
}

// Registry builds the immutable scheme registry.
func (c *AllocationConfig) Registry() (*controlnumber.Registry, error) {
	tenants := make(map[string]controlnumber.Scheme, len(c.Tenants))
	for i, t := range c.Tenants {
		if t.TenantID == "" {
			return nil, fmt.Errorf("allocation tenant %d: tenant_id is required", i)
		}
		if _, dup := tenants[t.TenantID]; dup {
			return nil, fmt.Errorf("allocation tenant %q is configured twice", t.TenantID)
		}
		tenants[t.TenantID] = t.Scheme
	}
	return controlnumber.NewRegistry(c.DefaultScheme(), tenants)
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	params := url.Values{}
	params.Set("sslmode", c.SSLMode)
	if c.ConnectTimeout > 0 {
		params.Set("connect_timeout", fmt.Sprintf("%d", int(c.ConnectTimeout.Seconds())))
	}
	if c.StatementCacheCapacity > 0 {
		params.Set("statement_cache_capacity", fmt.Sprintf("%d", c.StatementCacheCapacity))
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?%s",
		url.QueryEscape(c.User),
		url.QueryEscape(c.Password),
		c.Host,
		c.Port,
		c.Name,
		params.Encode(),
	)
}

// HTTPAddress returns the HTTP server address.
func (c *ServerConfig) HTTPAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.HTTPPort)
}

// MetricsAddress returns the metrics server address.
func (c *ServerConfig) MetricsAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.MetricsPort)
}

// Load loads configuration from environment variables and config files.
// RECORDS_CONFIG_FILE names an explicit config file; otherwise config.yaml is
// looked up in the usual places and may be absent.
func Load() (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Read from environment variables
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := os.Getenv(envPrefix + "_CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/records-service")

		if err := v.ReadInConfig(); err != nil {
			var configNotFound viper.ConfigFileNotFoundError
			if !errors.As(err, &configNotFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			// Config file not found is OK, we'll use env vars and defaults
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Load secrets exclusively from environment variables.
	// These fields use mapstructure:"-" to prevent loading from config files.
	loadSecrets(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadSecrets populates secret fields exclusively from environment variables.
func loadSecrets(cfg *Config) {
	cfg.Database.Password = os.Getenv(envPrefix + "_DATABASE_PASSWORD")
	cfg.Redis.Password = os.Getenv(envPrefix + "_REDIS_PASSWORD")
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.metrics_port", 9091)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "records")
	v.SetDefault("database.name", "records_service")
	// Default to "require" for production security. Use RECORDS_DATABASE_SSL_MODE=disable for local development.
	v.SetDefault("database.ssl_mode", SSLModeRequire)
	v.SetDefault("database.max_conns", 50)
	v.SetDefault("database.min_conns", 10)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")
	v.SetDefault("database.health_check_period", "30s")
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.migration_path", "")
	v.SetDefault("database.migration_auto_run", false)
	v.SetDefault("database.statement_cache_capacity", 512)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.namespace", "records")

	// Kafka defaults
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "events.outbox.records_service")
	v.SetDefault("kafka.batch_size", 100)
	v.SetDefault("kafka.batch_timeout", "10ms")

	// Outbox relay defaults
	v.SetDefault("outbox.poll_interval", "1s")
	v.SetDefault("outbox.batch_size", 100)
	v.SetDefault("outbox.max_attempts", 10)

	// Receipt listener defaults
	v.SetDefault("receipts.enabled", false)
	v.SetDefault("receipts.topic", "events.recipients.receipts")
	v.SetDefault("receipts.group_id", "records-service-receipts")
	v.SetDefault("receipts.actor", "receipt-listener")

	// Locking defaults
	v.SetDefault("locking.backend", LockingNone)
	v.SetDefault("locking.ttl", "10s")
	v.SetDefault("locking.retry_interval", "50ms")
	v.SetDefault("locking.retry_count", 100)

	// Redis defaults
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	// Rate limit defaults
	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.rps", 50.0)
	v.SetDefault("rate_limit.burst", 100)

	// Allocation defaults
	v.SetDefault("allocation.strategy", sequence.StrategyCounter)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	// Validate server ports
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.Server.HTTPPort)
	}
	if c.Server.MetricsPort <= 0 || c.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", c.Server.MetricsPort)
	}

	// Validate database config
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		return fmt.Errorf("invalid database port: %d", c.Database.Port)
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database name is required")
	}
	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("max_conns (%d) must be >= min_conns (%d)", c.Database.MaxConns, c.Database.MinConns)
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	// Validate Kafka and the components that depend on it
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka brokers are required when kafka is enabled")
	}
	if c.Outbox.BatchSize <= 0 {
		return fmt.Errorf("outbox batch_size must be positive")
	}
	if c.Outbox.MaxAttempts <= 0 {
		return fmt.Errorf("outbox max_attempts must be positive")
	}
	if c.Outbox.PollInterval <= 0 {
		return fmt.Errorf("outbox poll_interval must be positive")
	}
	if c.Receipts.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka brokers are required when receipts are enabled")
		}
		if c.Receipts.Topic == "" || c.Receipts.GroupID == "" {
			return fmt.Errorf("receipts topic and group_id are required")
		}
	}

	// Validate locking
	switch c.Locking.Backend {
	case LockingNone, LockingLocal:
	case LockingRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis addr is required for the redis locking backend")
		}
		if c.Locking.TTL <= 0 {
			return fmt.Errorf("locking ttl must be positive")
		}
	default:
		return fmt.Errorf("invalid locking backend: %s", c.Locking.Backend)
	}

	// Validate rate limits
	if c.RateLimit.Enabled && (c.RateLimit.RPS <= 0 || c.RateLimit.Burst <= 0) {
		return fmt.Errorf("rate_limit rps and burst must be positive when enabled")
	}

	// Validate allocation
	switch c.Allocation.Strategy {
	case sequence.StrategyCounter, sequence.StrategyHistory:
	default:
		return fmt.Errorf("invalid allocation strategy: %s", c.Allocation.Strategy)
	}
	if _, err := c.Allocation.Registry(); err != nil {
		return fmt.Errorf("invalid allocation config: %w", err)
	}

	return nil
}
