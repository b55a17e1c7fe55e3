// Package config loads daybreak's single configuration struct from a YAML
// file or .env file (lowest priority) and environment variables (highest
// priority), via dual `env`+`yaml` struct tags.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v9"
	"github.com/daybreak-hq/daybreak/internal/backoff"
	"github.com/daybreak-hq/daybreak/internal/mqs"
	"github.com/daybreak-hq/daybreak/internal/redis"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// ServiceType selects which process role a binary runs as.
type ServiceType string

const (
	ServiceScheduler ServiceType = "scheduler"
	ServiceWorker    ServiceType = "worker"
	ServiceAll       ServiceType = "all"
)

func ServiceTypeFromString(s string) (ServiceType, error) {
	switch ServiceType(strings.ToLower(strings.TrimSpace(s))) {
	case "", ServiceAll:
		return ServiceAll, nil
	case ServiceScheduler:
		return ServiceScheduler, nil
	case ServiceWorker:
		return ServiceWorker, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidServiceType, s)
	}
}

func getConfigLocations() []string {
	return []string{
		".env",
		".daybreak.yaml",
		"config/daybreak.yaml",
		"config/daybreak/config.yaml",
		"config/daybreak/.env",
		"/config/daybreak.yaml",
		"/config/daybreak/config.yaml",
		"/config/daybreak/.env",
	}
}

// Config is daybreak's single configuration struct, covering every
// recognized key plus process/service selection.
type Config struct {
	validated  bool
	configPath string

	Service  string `yaml:"service" env:"SERVICE" desc:"Which process role to run: 'scheduler', 'worker', or empty/'all'." required:"N"`
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" desc:"Log verbosity: 'debug', 'info', 'warn', 'error'." required:"N"`
	AuditLog bool   `yaml:"audit_log" env:"AUDIT_LOG" desc:"Enables audit-level logging for operator-facing lifecycle events." required:"N"`

	DBURL     string `yaml:"db_url" env:"DB_URL" desc:"Postgres connection URL for the delivery log and user stores." required:"Y"`
	DBPoolMax int    `yaml:"db_pool_max" env:"DB_POOL_MAX" desc:"Max DB connections in this process's pool." required:"N"`

	BrokerURL string `yaml:"broker_url" env:"BROKER_URL" desc:"RabbitMQ connection URL." required:"Y"`
	Prefetch  int    `yaml:"prefetch" env:"PREFETCH" desc:"Broker consumer prefetch count per worker instance." required:"N"`

	Redis RedisConfig `yaml:"redis"`

	SendAPIURL    string `yaml:"send_api_url" env:"SEND_API_URL" desc:"HTTP endpoint of the external send API." required:"Y"`
	SendTimeoutMS int    `yaml:"send_timeout_ms" env:"SEND_TIMEOUT_MS" desc:"Per-attempt timeout for the external send API, in milliseconds." required:"N"`

	MaxRetries      int `yaml:"max_retries" env:"MAX_RETRIES" desc:"Per-message retry ceiling (DeliveryLog.retry_count)." required:"N"`
	EnqueueWindowMS int `yaml:"enqueue_window_ms" env:"ENQUEUE_WINDOW_MS" desc:"How far into the future the per-minute enqueue scheduler selects SCHEDULED rows." required:"N"`
	StuckTimeoutMS  int `yaml:"stuck_timeout_ms" env:"STUCK_TIMEOUT_MS" desc:"Recovery scheduler's grace period before an in-flight (QUEUED/SENDING/RETRYING) row is considered stuck." required:"N"`

	CircuitErrorThreshold float64 `yaml:"circuit_error_threshold" env:"CIRCUIT_ERROR_THRESHOLD" desc:"Fraction of errors in the rolling window that opens the send-client circuit breaker." required:"N"`
	CircuitResetMS        int     `yaml:"circuit_reset_ms" env:"CIRCUIT_RESET_MS" desc:"How long the breaker stays open before a half-open probe, in milliseconds." required:"N"`

	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT" desc:"Port for the Prometheus /metrics endpoint hook point." required:"N"`
}

var (
	ErrInvalidServiceType = errors.New("config: invalid service type")
	ErrMissingDBURL       = errors.New("config: db_url is required")
	ErrMissingBrokerURL   = errors.New("config: broker_url is required")
	ErrMissingSendAPIURL  = errors.New("config: send_api_url is required")
	ErrInvalidMaxRetries  = errors.New("config: max_retries must be >= 1")
)

func (c *Config) InitDefaults() {
	c.LogLevel = "info"
	c.AuditLog = true
	c.DBPoolMax = 10
	c.Prefetch = 5
	c.Redis = RedisConfig{Host: "127.0.0.1", Port: 6379}
	c.SendTimeoutMS = 10_000
	c.MaxRetries = 3
	c.EnqueueWindowMS = 3_600_000
	c.StuckTimeoutMS = 900_000
	c.CircuitErrorThreshold = 0.5
	c.CircuitResetMS = 30_000
	c.MetricsPort = 9090
}

// RedisConfig configures the single Redis instance backing the
// worker-side idempotence guard (internal/idempotence).
type RedisConfig struct {
	Host       string `yaml:"host" env:"REDIS_HOST" desc:"Redis host." required:"N"`
	Port       int    `yaml:"port" env:"REDIS_PORT" desc:"Redis port." required:"N"`
	Username   string `yaml:"username" env:"REDIS_USERNAME" desc:"Redis username, if required." required:"N"`
	Password   string `yaml:"password" env:"REDIS_PASSWORD" desc:"Redis password, if required." required:"N"`
	Database   int    `yaml:"database" env:"REDIS_DATABASE" desc:"Redis logical database number." required:"N"`
	TLSEnabled bool   `yaml:"tls_enabled" env:"REDIS_TLS_ENABLED" desc:"Enable TLS for the Redis connection." required:"N"`
}

// ToConfig adapts the parsed RedisConfig into internal/redis.Config.
func (r *RedisConfig) ToConfig() *redis.Config {
	return &redis.Config{
		Host:       r.Host,
		Port:       r.Port,
		Username:   r.Username,
		Password:   r.Password,
		Database:   r.Database,
		TLSEnabled: r.TLSEnabled,
	}
}

// QueueConfig builds the main delivery queue's RabbitMQ configuration:
// exchange "birthday.messages", queue "birthday.messages.queue", routing
// keys "birthday"/"anniversary".
func (c *Config) QueueConfig() mqs.QueueConfig {
	return mqs.QueueConfig{
		RabbitMQ: &mqs.RabbitMQConfig{
			ServerURL:   c.BrokerURL,
			Exchange:    mqs.DefaultExchange,
			Queue:       mqs.DefaultQueue,
			RoutingKeys: mqs.DefaultRoutingKeys(),
		},
	}
}

// DLQConfig builds the dead-letter queue's RabbitMQ configuration: the
// fanout DLX internal/mqinfra.DeclareRabbitMQ declares alongside the main
// exchange, bound to the one long-retention DLQ
// "birthday.messages.dlq".
func (c *Config) DLQConfig() mqs.QueueConfig {
	return mqs.QueueConfig{
		RabbitMQ: &mqs.RabbitMQConfig{
			ServerURL:   c.BrokerURL,
			Exchange:    mqs.DLXName(mqs.DefaultExchange),
			Queue:       mqs.DLQName(mqs.DefaultQueue),
			RoutingKeys: []string{""},
		},
	}
}

// QueuePolicy derives the broker-infrastructure policy (the DLQ-routing
// delivery limit) from MaxRetries.
func (c *Config) QueuePolicy() mqs.Policy {
	return mqs.Policy{RetryLimit: int32(c.MaxRetries)}
}

// ParseWithoutValidation loads defaults, then an optional config file, then
// environment variables (highest priority), without validating required
// fields, useful for tests that only care about parts of the config.
func ParseWithoutValidation(configPath string) (*Config, error) {
	var c Config
	c.InitDefaults()

	if err := c.parseConfigFile(configPath); err != nil {
		return nil, err
	}
	if err := env.Parse(&c); err != nil {
		return nil, fmt.Errorf("error parsing environment variables: %w", err)
	}
	return &c, nil
}

// Parse loads and validates the config, the entry point cmd/daybreak uses.
func Parse(configPath string) (*Config, error) {
	c, err := ParseWithoutValidation(configPath)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) parseConfigFile(flagPath string) error {
	configPath := flagPath
	if envPath := os.Getenv("CONFIG"); envPath != "" {
		configPath = envPath
	}
	if configPath == "" {
		for _, loc := range getConfigLocations() {
			if _, err := os.Stat(loc); err == nil {
				configPath = loc
				break
			}
		}
	}
	if configPath == "" {
		return nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}
	if len(data) == 0 {
		return nil
	}
	c.configPath = configPath

	if strings.HasSuffix(strings.ToLower(configPath), ".env") {
		envMap, err := godotenv.Read(configPath)
		if err != nil {
			return fmt.Errorf("error loading .env file: %w", err)
		}
		return env.ParseWithOptions(c, env.Options{Environment: envMap})
	}
	return yaml.Unmarshal(data, c)
}

// Validate enforces the required fields and sanity bounds on the
// tunables. No API-key, JWT, or portal concerns exist in this domain.
func (c *Config) Validate() error {
	if _, err := ServiceTypeFromString(c.Service); err != nil {
		return err
	}
	if c.DBURL == "" {
		return ErrMissingDBURL
	}
	if c.BrokerURL == "" {
		return ErrMissingBrokerURL
	}
	if c.SendAPIURL == "" {
		return ErrMissingSendAPIURL
	}
	if c.MaxRetries < 1 {
		return ErrInvalidMaxRetries
	}
	c.validated = true
	return nil
}

func (c *Config) GetService() (ServiceType, error) {
	return ServiceTypeFromString(c.Service)
}

func (c *Config) ConfigFilePath() string { return c.configPath }

func (c *Config) EnqueueWindow() time.Duration {
	return time.Duration(c.EnqueueWindowMS) * time.Millisecond
}

func (c *Config) StuckTimeout() time.Duration {
	return time.Duration(c.StuckTimeoutMS) * time.Millisecond
}

func (c *Config) SendTimeout() time.Duration {
	return time.Duration(c.SendTimeoutMS) * time.Millisecond
}

func (c *Config) CircuitReset() time.Duration {
	return time.Duration(c.CircuitResetMS) * time.Millisecond
}

// RetryBackoff is the scheduler-level backoff for the RETRYING -> QUEUED
// reschedule window, distinct from the send client's own in-client retry
// backoff (backoff.DefaultSendClientBackoff).
func (c *Config) RetryBackoff() backoff.Backoff {
	return &backoff.ExponentialBackoff{Interval: time.Second, Base: 2, Jitter: 0.2}
}

// LogConfigurationSummary returns a sanitized set of fields safe to log
// at startup (no secrets).
func (c *Config) LogConfigurationSummary() []zap.Field {
	return []zap.Field{
		zap.String("service", c.Service),
		zap.String("log_level", c.LogLevel),
		zap.Int("max_retries", c.MaxRetries),
		zap.Int("enqueue_window_ms", c.EnqueueWindowMS),
		zap.Int("stuck_timeout_ms", c.StuckTimeoutMS),
		zap.Int("prefetch", c.Prefetch),
	}
}
