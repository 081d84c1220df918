// Package config defines the service configuration and its defaults.
//
// Conventions:
//   - Keys are flat snake_case so that MEDRANK_<KEY> env vars map onto them directly.
//   - New returns a Config populated with defaults; Load layers file and env on top.
//   - Errors returned by Load wrap ErrLoadConfig or ErrInvalidConfig.
package config

import (
	"fmt"
	"time"

	"github.com/okian/medrank/internal/validation"
)

// Backend and policy names accepted by the config.
const (
	BackendMemory   = "memory"
	BackendBolt     = "bolt"
	BackendPostgres = "postgres"
	BackendJSONL    = "jsonl"
	BackendLocal    = "local"
	BackendRedis    = "redis"

	PriorPolicyRecompute = "recompute"
	PriorPolicyReuse     = "reuse"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level" validate:"omitempty,oneof=debug info warn warning error"`
	// LogFormat selects text or json output.
	LogFormat string `koanf:"log_format" validate:"oneof=text json"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr" validate:"required"`

	// PriorStrength is m, the pseudo-count pulling small samples toward the global rate.
	PriorStrength float64 `koanf:"prior_strength" validate:"gt=0"`
	// PriorPolicy decides whether a refresh recomputes the global prior or reuses a fresh one.
	PriorPolicy string `koanf:"prior_policy" validate:"oneof=recompute reuse"`
	// PriorMaxAge bounds how old a reused prior may be.
	PriorMaxAge time.Duration `koanf:"prior_max_age" validate:"gte=0"`

	// Periods lists the windows a full refresh materializes.
	Periods []string `koanf:"periods" validate:"min=1,dive,oneof=last_30d last_90d all_time"`

	// DefaultRecommendLimit applies when a request omits limit.
	DefaultRecommendLimit int `koanf:"default_recommend_limit" validate:"gte=1"`
	// MaxRecommendLimit caps the limit a client may ask for.
	MaxRecommendLimit int `koanf:"max_recommend_limit" validate:"gtefield=DefaultRecommendLimit"`

	// QueueSize bounds pending asynchronous refresh requests.
	QueueSize int `koanf:"queue_size" validate:"gte=1"`
	// WorkerCount sets the number of refresh workers.
	WorkerCount int `koanf:"worker_count" validate:"gte=1"`

	// RefreshCron schedules the nightly full refresh; empty disables it.
	RefreshCron string `koanf:"refresh_cron"`
	// RefreshTimezone is the IANA zone RefreshCron is evaluated in.
	RefreshTimezone string `koanf:"refresh_timezone" validate:"timezone"`
	// RefreshOnStart enqueues a full refresh when the service boots.
	RefreshOnStart bool `koanf:"refresh_on_start"`
	// RefreshTimeout bounds a single refresh pass.
	RefreshTimeout time.Duration `koanf:"refresh_timeout" validate:"gt=0"`

	// EventSource selects where raw outcome events are read from.
	EventSource string `koanf:"event_source" validate:"oneof=jsonl postgres"`
	// EventsPath is the JSON-lines log for the jsonl source.
	EventsPath string `koanf:"events_path"`

	// StoreBackend selects the stats store.
	StoreBackend string `koanf:"store_backend" validate:"oneof=memory bolt postgres"`
	// BoltPath is the database file for the bolt store.
	BoltPath string `koanf:"bolt_path"`

	// PostgresDSN is shared by every postgres-backed component.
	PostgresDSN string `koanf:"postgres_dsn"`
	// PostgresMaxConns caps the pgx pool.
	PostgresMaxConns int32 `koanf:"postgres_max_conns" validate:"gte=1"`
	// MigrateOnStart applies embedded schema migrations before serving.
	MigrateOnStart bool `koanf:"migrate_on_start"`

	// BreakerMaxFailures trips the store read breaker after that many consecutive failures.
	BreakerMaxFailures uint32 `koanf:"breaker_max_failures" validate:"gte=1"`
	// BreakerTimeout is how long the breaker stays open.
	BreakerTimeout time.Duration `koanf:"breaker_timeout" validate:"gt=0"`

	// LockBackend selects how the one-refresh-per-period rule is enforced.
	LockBackend string `koanf:"lock_backend" validate:"oneof=local postgres redis"`
	// RedisAddr, RedisPassword and RedisDB configure the redis lock.
	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`
	RedisDB       int    `koanf:"redis_db" validate:"gte=0"`
	// LockTTL is the redis lease; it must exceed RefreshTimeout.
	LockTTL time.Duration `koanf:"lock_ttl" validate:"gtfield=RefreshTimeout"`

	// KafkaBrokers enables snapshot notifications when non-empty.
	KafkaBrokers []string `koanf:"kafka_brokers"`
	// KafkaTopic receives snapshot.refreshed events.
	KafkaTopic string `koanf:"kafka_topic"`
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:              "info",
		LogFormat:             "text",
		Addr:                  ":9080",
		PriorStrength:         10,
		PriorPolicy:           PriorPolicyRecompute,
		PriorMaxAge:           24 * time.Hour,
		Periods:               []string{"last_30d", "last_90d", "all_time"},
		DefaultRecommendLimit: 5,
		MaxRecommendLimit:     50,
		QueueSize:             16,
		WorkerCount:           1,
		RefreshCron:           "0 2 * * *",
		RefreshTimezone:       "UTC",
		RefreshOnStart:        false,
		RefreshTimeout:        10 * time.Minute,
		EventSource:           BackendJSONL,
		EventsPath:            "data/hospital_responses.jsonl",
		StoreBackend:          BackendMemory,
		BoltPath:              "data/medrank.db",
		PostgresMaxConns:      8,
		MigrateOnStart:        true,
		BreakerMaxFailures:    5,
		BreakerTimeout:        30 * time.Second,
		LockBackend:           BackendLocal,
		RedisAddr:             "localhost:6379",
		LockTTL:               15 * time.Minute,
		KafkaTopic:            "hospital-performance.snapshots",
	}
}

// Validate checks field constraints and the cross-field requirements of the
// selected backends.
func (c *Config) Validate() error {
	if err := validation.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	needsPG := c.StoreBackend == BackendPostgres || c.EventSource == BackendPostgres || c.LockBackend == BackendPostgres
	if needsPG && c.PostgresDSN == "" {
		return fmt.Errorf("%w: postgres_dsn is required by a postgres backend", ErrInvalidConfig)
	}
	if c.EventSource == BackendJSONL && c.EventsPath == "" {
		return fmt.Errorf("%w: events_path is required by the jsonl source", ErrInvalidConfig)
	}
	if c.StoreBackend == BackendBolt && c.BoltPath == "" {
		return fmt.Errorf("%w: bolt_path is required by the bolt store", ErrInvalidConfig)
	}
	if c.LockBackend == BackendRedis && c.RedisAddr == "" {
		return fmt.Errorf("%w: redis_addr is required by the redis lock", ErrInvalidConfig)
	}
	if len(c.KafkaBrokers) > 0 && c.KafkaTopic == "" {
		return fmt.Errorf("%w: kafka_topic is required when kafka_brokers is set", ErrInvalidConfig)
	}
	return nil
}
