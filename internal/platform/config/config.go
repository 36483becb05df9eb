package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the full process configuration, loaded from the environment.
type Config struct {
	Server   Server
	Change   Change
	Registry Registry
	Redis    RedisConfig `envPrefix:"REDIS_"`
	Postgres Postgres    `envPrefix:"POSTGRES_"`
	Kafka    Kafka       `envPrefix:"KAFKA_"`
	Remote   Remote      `envPrefix:"REMOTE_"`
	Tracing  Tracing     `envPrefix:"OTEL_"`
	LogLevel string      `env:"LOG_LEVEL" envDefault:"info"`
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string        `env:"CHANGEGATE_ADDR" envDefault:":8080"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// IdempotencyKeyStrategy decides who supplies the key reused across sync retries.
type IdempotencyKeyStrategy string

const (
	IdempotencyCallerSupplied IdempotencyKeyStrategy = "caller"
	IdempotencyGenerated      IdempotencyKeyStrategy = "generated"
)

// Change holds the confirm/commit protocol knobs.
type Change struct {
	ConfirmationTTL        time.Duration          `env:"CONFIRMATION_TTL" envDefault:"5m"`
	MaxSyncRetries         int                    `env:"MAX_SYNC_RETRIES" envDefault:"3"`
	RetryBackoffBase       time.Duration          `env:"RETRY_BACKOFF_BASE" envDefault:"200ms"`
	RetryBackoffMax        time.Duration          `env:"RETRY_BACKOFF_MAX" envDefault:"5s"`
	IdempotencyKeyStrategy IdempotencyKeyStrategy `env:"IDEMPOTENCY_KEY_STRATEGY" envDefault:"generated"`
	SweepInterval          time.Duration          `env:"SWEEP_INTERVAL" envDefault:"1m"`
	NotifyTimeout          time.Duration          `env:"NOTIFY_TIMEOUT" envDefault:"2s"`
	NotifyBuffer           int                    `env:"NOTIFY_BUFFER" envDefault:"1024"`
}

// Registry selects where pending confirmation tokens live.
type Registry struct {
	Backend string `env:"REGISTRY_BACKEND" envDefault:"memory"`
}

// RedisConfig configures the shared Redis client.
type RedisConfig struct {
	URL          string        `env:"URL"`
	PoolSize     int           `env:"POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"MIN_IDLE_CONNS" envDefault:"2"`
	DialTimeout  time.Duration `env:"DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT" envDefault:"3s"`
}

// Postgres configures the local state store and outbox database.
type Postgres struct {
	DSN          string `env:"DSN"`
	MaxOpenConns int    `env:"MAX_OPEN_CONNS" envDefault:"10"`
}

// Kafka configures outbox publishing.
type Kafka struct {
	Brokers           []string      `env:"BROKERS" envSeparator:","`
	Topic             string        `env:"TOPIC" envDefault:"changegate.notifications"`
	TopicPartitions   int32         `env:"TOPIC_PARTITIONS" envDefault:"3"`
	ReplicationFactor int16         `env:"REPLICATION_FACTOR" envDefault:"1"`
	PollInterval      time.Duration `env:"OUTBOX_POLL_INTERVAL" envDefault:"1s"`
	BatchSize         int           `env:"OUTBOX_BATCH_SIZE" envDefault:"100"`
}

// Remote configures the system-of-record HTTP gateway.
type Remote struct {
	BaseURL          string        `env:"BASE_URL"`
	AttemptTimeout   time.Duration `env:"ATTEMPT_TIMEOUT" envDefault:"2s"`
	BreakerThreshold int           `env:"BREAKER_THRESHOLD" envDefault:"5"`
	BreakerCooldown  time.Duration `env:"BREAKER_COOLDOWN" envDefault:"10s"`
}

// Tracing configures span export. An empty endpoint disables it.
type Tracing struct {
	Endpoint    string  `env:"ENDPOINT"`
	ServiceName string  `env:"SERVICE_NAME" envDefault:"changegate"`
	SampleRatio float64 `env:"SAMPLE_RATIO" envDefault:"1"`
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values the protocol cannot run with.
func (c Config) Validate() error {
	if c.Change.ConfirmationTTL <= 0 {
		return fmt.Errorf("CONFIRMATION_TTL must be positive, got %s", c.Change.ConfirmationTTL)
	}
	if c.Change.MaxSyncRetries < 1 {
		return fmt.Errorf("MAX_SYNC_RETRIES must be at least 1, got %d", c.Change.MaxSyncRetries)
	}
	if c.Change.RetryBackoffBase <= 0 {
		return fmt.Errorf("RETRY_BACKOFF_BASE must be positive, got %s", c.Change.RetryBackoffBase)
	}
	if c.Change.RetryBackoffMax < c.Change.RetryBackoffBase {
		return fmt.Errorf("RETRY_BACKOFF_MAX (%s) must not be below RETRY_BACKOFF_BASE (%s)",
			c.Change.RetryBackoffMax, c.Change.RetryBackoffBase)
	}
	switch c.Change.IdempotencyKeyStrategy {
	case IdempotencyCallerSupplied, IdempotencyGenerated:
	default:
		return fmt.Errorf("IDEMPOTENCY_KEY_STRATEGY must be %q or %q, got %q",
			IdempotencyCallerSupplied, IdempotencyGenerated, c.Change.IdempotencyKeyStrategy)
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("OTEL_SAMPLE_RATIO must be within [0, 1], got %g", c.Tracing.SampleRatio)
	}
	switch c.Registry.Backend {
	case "memory":
	case "redis":
		if c.Redis.URL == "" {
			return fmt.Errorf("REDIS_URL is required when REGISTRY_BACKEND=redis")
		}
	default:
		return fmt.Errorf("REGISTRY_BACKEND must be memory or redis, got %q", c.Registry.Backend)
	}
	return nil
}
