package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/robfig/cron/v3"
)

// Config holds all application configuration.
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	App           AppConfig
	Observability ObservabilityConfig
	Kafka         KafkaConfig
	Link          LinkConfig
	Cleanup       CleanupConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            string        `envconfig:"SERVER_PORT" required:"true"`
	Host            string        `envconfig:"SERVER_HOST" required:"true"`
	BaseURL         string        `envconfig:"SERVER_BASE_URL" required:"true"`
	ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" required:"true"`
	WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" required:"true"`
	IdleTimeout     time.Duration `envconfig:"SERVER_IDLE_TIMEOUT" required:"true"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" required:"true"`
}

// Validate validates the server configuration.
func (c *ServerConfig) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("port cannot be empty")
	}
	if c.Host == "" {
		return fmt.Errorf("host cannot be empty")
	}
	if c.BaseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}
	if u, err := url.Parse(c.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("base URL must be absolute, got %q", c.BaseURL)
	}
	if c.ReadTimeout <= 0 {
		return fmt.Errorf("read timeout must be positive")
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("write timeout must be positive")
	}
	if c.IdleTimeout <= 0 {
		return fmt.Errorf("idle timeout must be positive")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive")
	}
	return nil
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Host          string `envconfig:"DB_HOST" required:"true"`
	Port          string `envconfig:"DB_PORT" required:"true"`
	User          string `envconfig:"DB_USER" required:"true"`
	Password      string `envconfig:"DB_PASSWORD" required:"true"`
	Name          string `envconfig:"DB_NAME" required:"true"`
	SSLMode       string `envconfig:"DB_SSLMODE" required:"true"`
	MaxConns      int32  `envconfig:"DB_MAX_CONNS" required:"true"`
	MinConns      int32  `envconfig:"DB_MIN_CONNS" required:"true"`
	RunMigrations bool   `envconfig:"DB_RUN_MIGRATIONS" default:"true"`
}

// Validate validates the database configuration.
func (c *DatabaseConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host cannot be empty")
	}
	if c.Port == "" {
		return fmt.Errorf("port cannot be empty")
	}
	if c.User == "" {
		return fmt.Errorf("user cannot be empty")
	}
	if c.Password == "" {
		return fmt.Errorf("password cannot be empty")
	}
	if c.Name == "" {
		return fmt.Errorf("database name cannot be empty")
	}
	if c.MaxConns <= 0 {
		return fmt.Errorf("max connections must be positive")
	}
	if c.MinConns <= 0 {
		return fmt.Errorf("min connections must be positive")
	}
	if c.MinConns > c.MaxConns {
		return fmt.Errorf("min connections (%d) cannot be greater than max connections (%d)", c.MinConns, c.MaxConns)
	}

	validSSLModes := map[string]bool{
		"disable":     true,
		"require":     true,
		"verify-ca":   true,
		"verify-full": true,
	}
	if !validSSLModes[c.SSLMode] {
		return fmt.Errorf("invalid SSL mode: %s (must be one of: disable, require, verify-ca, verify-full)", c.SSLMode)
	}
	return nil
}

// ConnectionString returns the PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// MigrationURL returns the pgx5:// URL expected by the migration driver.
func (c *DatabaseConfig) MigrationURL() string {
	u := url.URL{
		Scheme:   "pgx5",
		User:     url.UserPassword(c.User, c.Password),
		Host:     c.Host + ":" + c.Port,
		Path:     "/" + c.Name,
		RawQuery: url.Values{"sslmode": []string{c.SSLMode}}.Encode(),
	}
	return u.String()
}

// AppConfig holds application-specific configuration.
type AppConfig struct {
	Environment string `envconfig:"APP_ENV" required:"true"`   // development, staging, production, test
	LogLevel    string `envconfig:"LOG_LEVEL" required:"true"` // debug, info, warn, error, critical
}

// Validate validates the app configuration.
func (c *AppConfig) Validate() error {
	validEnvs := map[string]bool{
		"development": true,
		"staging":     true,
		"production":  true,
		"test":        true,
	}
	if !validEnvs[c.Environment] {
		return fmt.Errorf("invalid environment: %s (must be one of: development, staging, production, test)", c.Environment)
	}

	validLogLevels := map[string]bool{
		"debug":    true,
		"info":     true,
		"warn":     true,
		"error":    true,
		"critical": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be one of: debug, info, warn, error, critical)", c.LogLevel)
	}
	return nil
}

// ObservabilityConfig holds service identity and metrics settings.
type ObservabilityConfig struct {
	ServiceName    string `envconfig:"SERVICE_NAME" default:"link-service"`
	ServiceVersion string `envconfig:"SERVICE_VERSION" default:"dev"`
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"`
}

// Validate validates the observability configuration.
func (c *ObservabilityConfig) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service name cannot be empty")
	}
	return nil
}

// KafkaConfig holds lifecycle event publishing configuration.
type KafkaConfig struct {
	Brokers      []string      `envconfig:"KAFKA_BROKERS" required:"true"`
	Topic        string        `envconfig:"KAFKA_LINK_LIFECYCLE_TOPIC" default:"link-lifecycle-events"`
	Source       string        `envconfig:"KAFKA_SOURCE" default:"link-service"`
	WriteTimeout time.Duration `envconfig:"KAFKA_WRITE_TIMEOUT" default:"5s"`
	BatchTimeout time.Duration `envconfig:"KAFKA_BATCH_TIMEOUT" default:"10ms"`
	BatchSize    int           `envconfig:"KAFKA_BATCH_SIZE" default:"100"`
}

// Validate validates the Kafka configuration.
func (c *KafkaConfig) Validate() error {
	if len(c.Brokers) == 0 {
		return fmt.Errorf("at least one broker is required")
	}
	for _, b := range c.Brokers {
		if strings.TrimSpace(b) == "" {
			return fmt.Errorf("broker address cannot be empty")
		}
	}
	if c.Topic == "" {
		return fmt.Errorf("topic cannot be empty")
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("write timeout must be positive")
	}
	if c.BatchTimeout <= 0 {
		return fmt.Errorf("batch timeout must be positive")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	return nil
}

// LinkConfig holds link creation policy.
type LinkConfig struct {
	CodeLength    int           `envconfig:"LINK_CODE_LENGTH" default:"7"`
	ReservedWords []string      `envconfig:"LINK_RESERVED_WORDS"`
	DefaultTTL    time.Duration `envconfig:"LINK_DEFAULT_TTL" default:"168h"`
	StoreTimeout  time.Duration `envconfig:"LINK_STORE_TIMEOUT" default:"5s"`
}

// Validate validates the link configuration.
func (c *LinkConfig) Validate() error {
	if c.CodeLength < 4 || c.CodeLength > 32 {
		return fmt.Errorf("code length must be between 4 and 32, got %d", c.CodeLength)
	}
	if c.DefaultTTL <= 0 {
		return fmt.Errorf("default TTL must be positive")
	}
	if c.StoreTimeout <= 0 {
		return fmt.Errorf("store timeout must be positive")
	}
	return nil
}

// CleanupConfig holds the deactivated custom link cleanup schedule.
type CleanupConfig struct {
	Enabled   bool          `envconfig:"CLEANUP_ENABLED" default:"true"`
	Schedule  string        `envconfig:"CLEANUP_SCHEDULE" default:"0 3 1 * *"`
	Retention time.Duration `envconfig:"CLEANUP_RETENTION" default:"720h"`
}

// Validate validates the cleanup configuration.
func (c *CleanupConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if _, err := cron.ParseStandard(c.Schedule); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", c.Schedule, err)
	}
	if c.Retention <= 0 {
		return fmt.Errorf("retention must be positive")
	}
	return nil
}

type section interface {
	Validate() error
}

// Load loads configuration from environment variables only.
// (Do .env loading in cmd/server/main.go for dev, not here.)
func Load() (*Config, error) {
	cfg := &Config{}

	sections := []struct {
		name string
		spec section
	}{
		{"Server", &cfg.Server},
		{"Database", &cfg.Database},
		{"App", &cfg.App},
		{"Observability", &cfg.Observability},
		{"Kafka", &cfg.Kafka},
		{"Link", &cfg.Link},
		{"Cleanup", &cfg.Cleanup},
	}

	for _, s := range sections {
		if err := envconfig.Process("", s.spec); err != nil {
			return nil, fmt.Errorf("failed to load %s config: %w", s.name, err)
		}
		if err := s.spec.Validate(); err != nil {
			return nil, fmt.Errorf("invalid %s config: %w", s.name, err)
		}
	}

	return cfg, nil
}
