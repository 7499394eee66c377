// Package config loads and validates the registry and exchange configuration using Viper.
//
// Configuration is layered: built-in defaults < YAML config file < environment
// variables. Environment variables use the CCT_ prefix (e.g., CCT_DATABASE_HOST
// overrides database.host in the YAML). The same binary runs with a config.yaml in
// local development and with pure environment variables in containers.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Overpayment policies accepted by exchange.overpayment_policy
const (
	OverpaymentRefund = "refund"
	OverpaymentRetain = "retain"
	OverpaymentReject = "reject"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Security  SecurityConfig  `mapstructure:"security"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Registry  RegistryConfig  `mapstructure:"registry"`
	Exchange  ExchangeConfig  `mapstructure:"exchange"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	Validator ValidatorConfig `mapstructure:"validator"`
	Events    EventsConfig    `mapstructure:"events"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	BaseURL      string        `mapstructure:"base_url"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	Name               string `mapstructure:"name"`
	User               string `mapstructure:"user"`
	Password           string `mapstructure:"password"`
	SSLMode            string `mapstructure:"ssl_mode"`
	MaxConnections     int    `mapstructure:"max_connections"`
	MinIdleConnections int    `mapstructure:"min_idle_connections"`
}

// RedisConfig holds the shared Redis connection used by the distributed rate
// limiter and the validator answer cache
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// StorageConfig holds storage backend configuration for sealed event archives
type StorageConfig struct {
	DefaultBackend string             `mapstructure:"default_backend"`
	Azure          AzureStorageConfig `mapstructure:"azure"`
	S3             S3StorageConfig    `mapstructure:"s3"`
	GCS            GCSStorageConfig   `mapstructure:"gcs"`
	Local          LocalStorageConfig `mapstructure:"local"`
}

// AzureStorageConfig holds Azure Blob Storage configuration
type AzureStorageConfig struct {
	AccountName   string `mapstructure:"account_name"`
	AccountKey    string `mapstructure:"account_key"`
	ContainerName string `mapstructure:"container_name"`
}

// S3StorageConfig holds S3-compatible storage configuration
type S3StorageConfig struct {
	// Endpoint is the S3-compatible endpoint URL (MinIO, Spaces, ...)
	Endpoint string `mapstructure:"endpoint"`
	Region   string `mapstructure:"region"`
	Bucket   string `mapstructure:"bucket"`

	// AuthMethod is "default" (AWS credential chain), "static" or "assume_role"
	AuthMethod      string `mapstructure:"auth_method"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	RoleARN         string `mapstructure:"role_arn"`
	RoleSessionName string `mapstructure:"role_session_name"`
	ExternalID      string `mapstructure:"external_id"`
}

// GCSStorageConfig holds Google Cloud Storage configuration
type GCSStorageConfig struct {
	Bucket string `mapstructure:"bucket"`

	// CredentialsFile is the path to a service account JSON key file. Empty
	// means Application Default Credentials.
	CredentialsFile string `mapstructure:"credentials_file"`

	// Endpoint is an optional custom endpoint (for GCS emulators)
	Endpoint string `mapstructure:"endpoint"`
}

// LocalStorageConfig holds local filesystem storage configuration
type LocalStorageConfig struct {
	BasePath string `mapstructure:"base_path"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTExpiry time.Duration `mapstructure:"jwt_expiry"`
	APIKeys   APIKeyConfig  `mapstructure:"api_keys"`
}

// APIKeyConfig holds API key authentication configuration
type APIKeyConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Prefix  string `mapstructure:"prefix"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	CORS         CORSConfig         `mapstructure:"cors"`
	RateLimiting RateLimitingConfig `mapstructure:"rate_limiting"`
}

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
}

// RateLimitingConfig holds rate limiting configuration
type RateLimitingConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	Burst             int  `mapstructure:"burst"`
	// Backend is "memory" (per-process token buckets) or "redis" (shared across replicas)
	Backend string `mapstructure:"backend"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TelemetryConfig holds observability configuration
type TelemetryConfig struct {
	ServiceName string        `mapstructure:"service_name"`
	Metrics     MetricsConfig `mapstructure:"metrics"`
}

// MetricsConfig holds Prometheus metrics configuration
type MetricsConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	PrometheusPort int  `mapstructure:"prometheus_port"`
}

// AuditConfig holds audit logging configuration
type AuditConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// LogReadOperations determines if GET requests should be logged
	LogReadOperations bool `mapstructure:"log_read_operations"`
	// LogFailedRequests determines if failed requests (4xx/5xx) should be logged
	LogFailedRequests bool `mapstructure:"log_failed_requests"`
}

// RegistryConfig holds the organization registry settings
type RegistryConfig struct {
	// AdminAccount is the only identity allowed to register organizations
	AdminAccount string `mapstructure:"admin_account"`
}

// ExchangeConfig holds the fixed-price exchange settings
type ExchangeConfig struct {
	// UnitPrice is the price of one CCT in native currency minor units
	UnitPrice uint64 `mapstructure:"unit_price"`
	// OverpaymentPolicy decides what happens to attached currency above the required amount
	OverpaymentPolicy string `mapstructure:"overpayment_policy"`
	// TreasuryAccount receives retained excess under the "retain" policy
	TreasuryAccount string `mapstructure:"treasury_account"`
}

// LedgerConfig selects the ledger backend and its opening balances
type LedgerConfig struct {
	// Backend is "postgres" or "memory"
	Backend string `mapstructure:"backend"`
	// GenesisBalances are applied once, to accounts that do not exist yet
	GenesisBalances map[string]int64 `mapstructure:"genesis_balances"`
}

// ValidatorConfig configures the eligibility gate consulted before a sale
type ValidatorConfig struct {
	// Mode is "allow", "static" or "http"
	Mode     string        `mapstructure:"mode"`
	URL      string        `mapstructure:"url"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Allow    []string      `mapstructure:"allow"`
	Deny     []string      `mapstructure:"deny"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// EventsConfig configures delivery of sale events to downstream consumers
type EventsConfig struct {
	RelayEnabled  bool              `mapstructure:"relay_enabled"`
	RelayInterval time.Duration     `mapstructure:"relay_interval"`
	BatchSize     int               `mapstructure:"batch_size"`
	Kafka         KafkaSinkConfig   `mapstructure:"kafka"`
	Webhook       WebhookSinkConfig `mapstructure:"webhook"`
	File          FileSinkConfig    `mapstructure:"file"`
}

// KafkaSinkConfig holds Kafka producer configuration
type KafkaSinkConfig struct {
	Brokers  []string `mapstructure:"brokers"`
	Topic    string   `mapstructure:"topic"`
	ClientID string   `mapstructure:"client_id"`
}

// WebhookSinkConfig holds webhook sink configuration
type WebhookSinkConfig struct {
	URL         string            `mapstructure:"url"`
	Headers     map[string]string `mapstructure:"headers"`
	TimeoutSecs int               `mapstructure:"timeout_secs"`
}

// FileSinkConfig holds NDJSON file sink configuration
type FileSinkConfig struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// ArchiveConfig controls sealing of published sale events into storage segments
type ArchiveConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Interval  time.Duration `mapstructure:"interval"`
	MinEvents int           `mapstructure:"min_events"`
	MaxEvents int           `mapstructure:"max_events"`
	Prefix    string        `mapstructure:"prefix"`
}

// bindEnvVars explicitly binds environment variables to config keys.
// AutomaticEnv() alone does not reach nested keys during Unmarshal.
func bindEnvVars(v *viper.Viper) error {
	keys := []string{
		// Database
		"database.host",
		"database.port",
		"database.name",
		"database.user",
		"database.password",
		"database.ssl_mode",
		"database.max_connections",
		"database.min_idle_connections",

		// Server
		"server.host",
		"server.port",
		"server.base_url",
		"server.read_timeout",
		"server.write_timeout",

		// Redis
		"redis.enabled",
		"redis.addr",
		"redis.password",
		"redis.db",

		// Storage
		"storage.default_backend",
		"storage.azure.account_name",
		"storage.azure.account_key",
		"storage.azure.container_name",
		"storage.s3.endpoint",
		"storage.s3.region",
		"storage.s3.bucket",
		"storage.s3.auth_method",
		"storage.s3.access_key_id",
		"storage.s3.secret_access_key",
		"storage.s3.role_arn",
		"storage.s3.role_session_name",
		"storage.s3.external_id",
		"storage.gcs.bucket",
		"storage.gcs.credentials_file",
		"storage.gcs.endpoint",
		"storage.local.base_path",

		// Auth
		"auth.jwt_expiry",
		"auth.api_keys.enabled",
		"auth.api_keys.prefix",

		// Security
		"security.cors.allowed_origins",
		"security.cors.allowed_methods",
		"security.rate_limiting.enabled",
		"security.rate_limiting.requests_per_minute",
		"security.rate_limiting.burst",
		"security.rate_limiting.backend",

		// Logging
		"logging.level",
		"logging.format",

		// Telemetry
		"telemetry.service_name",
		"telemetry.metrics.enabled",
		"telemetry.metrics.prometheus_port",

		// Audit
		"audit.enabled",
		"audit.log_read_operations",
		"audit.log_failed_requests",

		// Registry / exchange / ledger
		"registry.admin_account",
		"exchange.unit_price",
		"exchange.overpayment_policy",
		"exchange.treasury_account",
		"ledger.backend",

		// Validator
		"validator.mode",
		"validator.url",
		"validator.timeout",
		"validator.allow",
		"validator.deny",
		"validator.cache_ttl",

		// Events
		"events.relay_enabled",
		"events.relay_interval",
		"events.batch_size",
		"events.kafka.brokers",
		"events.kafka.topic",
		"events.kafka.client_id",
		"events.webhook.url",
		"events.webhook.timeout_secs",
		"events.file.path",
		"events.file.max_size_mb",
		"events.file.max_backups",

		// Archive
		"archive.enabled",
		"archive.interval",
		"archive.min_events",
		"archive.max_events",
		"archive.prefix",
	}
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("failed to bind env var %q: %w", key, err)
		}
	}
	return nil
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/cct-registry")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; use defaults and environment variables
	}

	v.SetEnvPrefix("CCT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := bindEnvVars(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Expand environment variables in sensitive fields
	cfg.Database.Password = expandEnv(cfg.Database.Password)
	cfg.Redis.Password = expandEnv(cfg.Redis.Password)
	cfg.Storage.Azure.AccountKey = expandEnv(cfg.Storage.Azure.AccountKey)
	cfg.Storage.S3.AccessKeyID = expandEnv(cfg.Storage.S3.AccessKeyID)
	cfg.Storage.S3.SecretAccessKey = expandEnv(cfg.Storage.S3.SecretAccessKey)
	for k, val := range cfg.Events.Webhook.Headers {
		cfg.Events.Webhook.Headers[k] = expandEnv(val)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "cct_registry")
	v.SetDefault("database.user", "registry")
	v.SetDefault("database.ssl_mode", "require")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_idle_connections", 5)

	// Redis defaults
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	// Storage defaults
	v.SetDefault("storage.default_backend", "local")
	v.SetDefault("storage.local.base_path", "./storage")
	v.SetDefault("storage.s3.auth_method", "default")

	// Auth defaults
	v.SetDefault("auth.jwt_expiry", "1h")
	v.SetDefault("auth.api_keys.enabled", true)
	v.SetDefault("auth.api_keys.prefix", "cct")

	// Security defaults
	v.SetDefault("security.cors.allowed_origins", []string{"*"})
	v.SetDefault("security.cors.allowed_methods", []string{"GET", "POST", "OPTIONS"})
	v.SetDefault("security.rate_limiting.enabled", true)
	v.SetDefault("security.rate_limiting.requests_per_minute", 60)
	v.SetDefault("security.rate_limiting.burst", 10)
	v.SetDefault("security.rate_limiting.backend", "memory")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Telemetry defaults
	v.SetDefault("telemetry.service_name", "cct-registry")
	v.SetDefault("telemetry.metrics.enabled", true)
	v.SetDefault("telemetry.metrics.prometheus_port", 9090)

	// Audit defaults
	v.SetDefault("audit.enabled", true)
	v.SetDefault("audit.log_read_operations", false)
	v.SetDefault("audit.log_failed_requests", true)

	// Registry / exchange / ledger defaults
	v.SetDefault("registry.admin_account", "")
	v.SetDefault("exchange.unit_price", 2)
	v.SetDefault("exchange.overpayment_policy", OverpaymentRefund)
	v.SetDefault("ledger.backend", "postgres")

	// Validator defaults
	v.SetDefault("validator.mode", "allow")
	v.SetDefault("validator.timeout", "5s")
	v.SetDefault("validator.cache_ttl", "1m")

	// Events defaults
	v.SetDefault("events.relay_enabled", true)
	v.SetDefault("events.relay_interval", "5s")
	v.SetDefault("events.batch_size", 100)
	v.SetDefault("events.kafka.topic", "cct.sale-events")
	v.SetDefault("events.kafka.client_id", "cct-registry")
	v.SetDefault("events.webhook.timeout_secs", 10)
	v.SetDefault("events.file.max_size_mb", 100)
	v.SetDefault("events.file.max_backups", 5)

	// Archive defaults
	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.interval", "1h")
	v.SetDefault("archive.min_events", 1)
	v.SetDefault("archive.max_events", 10000)
	v.SetDefault("archive.prefix", "sale-events")
}

// expandEnv expands environment variables in the format ${VAR_NAME}
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.BaseURL == "" {
		return fmt.Errorf("server.base_url is required")
	}

	// Validate ledger backend before database: the memory ledger needs no database
	switch c.Ledger.Backend {
	case "postgres":
		if c.Database.Host == "" {
			return fmt.Errorf("database.host is required")
		}
		if c.Database.Name == "" {
			return fmt.Errorf("database.name is required")
		}
		if c.Database.User == "" {
			return fmt.Errorf("database.user is required")
		}
	case "memory":
	default:
		return fmt.Errorf("invalid ledger backend: %s (must be postgres or memory)", c.Ledger.Backend)
	}
	for account, balance := range c.Ledger.GenesisBalances {
		if balance < 0 {
			return fmt.Errorf("ledger.genesis_balances[%s] must not be negative", account)
		}
	}

	if strings.TrimSpace(c.Registry.AdminAccount) == "" {
		return fmt.Errorf("registry.admin_account is required")
	}

	if c.Exchange.UnitPrice == 0 {
		return fmt.Errorf("exchange.unit_price must be greater than zero")
	}
	switch c.Exchange.OverpaymentPolicy {
	case OverpaymentRefund, OverpaymentReject:
	case OverpaymentRetain:
		if c.Exchange.TreasuryAccount == "" {
			return fmt.Errorf("exchange.treasury_account is required when overpayment_policy is retain")
		}
	default:
		return fmt.Errorf("invalid exchange.overpayment_policy: %s (must be refund, retain, or reject)", c.Exchange.OverpaymentPolicy)
	}

	switch c.Validator.Mode {
	case "allow", "static":
	case "http":
		if c.Validator.URL == "" {
			return fmt.Errorf("validator.url is required when validator mode is http")
		}
	default:
		return fmt.Errorf("invalid validator mode: %s (must be allow, static, or http)", c.Validator.Mode)
	}

	if c.Security.RateLimiting.Enabled {
		switch c.Security.RateLimiting.Backend {
		case "memory":
		case "redis":
			if !c.Redis.Enabled {
				return fmt.Errorf("redis.enabled is required when the rate limiting backend is redis")
			}
		default:
			return fmt.Errorf("invalid rate limiting backend: %s (must be memory or redis)", c.Security.RateLimiting.Backend)
		}
	}

	if c.Events.BatchSize < 1 {
		return fmt.Errorf("events.batch_size must be at least 1")
	}
	if len(c.Events.Kafka.Brokers) > 0 && c.Events.Kafka.Topic == "" {
		return fmt.Errorf("events.kafka.topic is required when kafka brokers are set")
	}

	if c.Archive.Enabled {
		if err := c.validateStorage(); err != nil {
			return err
		}
		if c.Archive.MaxEvents < c.Archive.MinEvents || c.Archive.MinEvents < 1 {
			return fmt.Errorf("archive.min_events must be at least 1 and not exceed archive.max_events")
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	return nil
}

func (c *Config) validateStorage() error {
	switch c.Storage.DefaultBackend {
	case "azure":
		if c.Storage.Azure.AccountName == "" {
			return fmt.Errorf("storage.azure.account_name is required when using Azure backend")
		}
		if c.Storage.Azure.AccountKey == "" {
			return fmt.Errorf("storage.azure.account_key is required when using Azure backend")
		}
		if c.Storage.Azure.ContainerName == "" {
			return fmt.Errorf("storage.azure.container_name is required when using Azure backend")
		}
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when using S3 backend")
		}
		if c.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when using S3 backend")
		}
	case "gcs":
		if c.Storage.GCS.Bucket == "" {
			return fmt.Errorf("storage.gcs.bucket is required when using GCS backend")
		}
	case "local":
		if c.Storage.Local.BasePath == "" {
			return fmt.Errorf("storage.local.base_path is required when using local backend")
		}
	default:
		return fmt.Errorf("invalid storage backend: %s (must be azure, s3, gcs, or local)", c.Storage.DefaultBackend)
	}
	return nil
}

// GetDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// GetAddress returns the server address in host:port format
func (c *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
