package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/okian/medrank/internal/adapters/eventlog"
	"github.com/okian/medrank/internal/adapters/lock"
	"github.com/okian/medrank/internal/adapters/notify"
	"github.com/okian/medrank/internal/adapters/repository"
	service "github.com/okian/medrank/internal/app"
	"github.com/okian/medrank/internal/config"
	"github.com/okian/medrank/internal/domain/model"
	"github.com/okian/medrank/internal/domain/prior"
	"github.com/okian/medrank/pkg/logger"
)

// backends are the pluggable adapters selected by configuration.
type backends struct {
	events   eventlog.Source
	store    repository.Store
	locker   lock.Locker
	notifier notify.Notifier

	pool  *pgxpool.Pool
	redis *redis.Client
}

// close releases connections the service does not own. Safe to call twice.
func (b *backends) close() {
	if b.redis != nil {
		_ = b.redis.Close()
	}
	if b.pool != nil {
		b.pool.Close()
	}
}

func openBackends(ctx context.Context, cfg *config.Config, log logger.Logger) (*backends, error) {
	b := &backends{}
	ready := false
	defer func() {
		if ready {
			return
		}
		if b.store != nil {
			_ = b.store.Close()
		}
		b.close()
	}()

	if cfg.StoreBackend == config.BackendPostgres || cfg.EventSource == config.BackendPostgres || cfg.LockBackend == config.BackendPostgres {
		if cfg.MigrateOnStart && cfg.StoreBackend == config.BackendPostgres {
			if err := repository.Migrate(cfg.PostgresDSN); err != nil {
				return nil, fmt.Errorf("migrate: %w", err)
			}
			log.Info(ctx, "schema migrations applied")
		}
		pool, err := openPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		b.pool = pool
	}

	switch cfg.EventSource {
	case config.BackendPostgres:
		b.events = eventlog.NewPostgres(b.pool)
	default:
		b.events = eventlog.NewJSONL(cfg.EventsPath, eventlog.WithJSONLLogger(log.Named("eventlog")))
	}

	switch cfg.StoreBackend {
	case config.BackendBolt:
		store, err := repository.OpenBolt(cfg.BoltPath)
		if err != nil {
			return nil, fmt.Errorf("open bolt store: %w", err)
		}
		b.store = store
	case config.BackendPostgres:
		b.store = repository.NewPostgresStore(b.pool,
			repository.WithBreaker(cfg.BreakerMaxFailures, cfg.BreakerTimeout),
			repository.WithPostgresLogger(log.Named("store")))
	default:
		b.store = repository.NewMemoryStore()
	}

	switch cfg.LockBackend {
	case config.BackendPostgres:
		b.locker = lock.NewPostgres(b.pool)
	case config.BackendRedis:
		b.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if err := b.redis.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		b.locker = lock.NewRedis(b.redis, cfg.LockTTL)
	default:
		b.locker = lock.NewLocal()
	}

	if len(cfg.KafkaBrokers) > 0 {
		b.notifier = notify.NewKafka(cfg.KafkaBrokers, cfg.KafkaTopic)
	} else {
		b.notifier = notify.Nop{}
	}

	log.Info(ctx, "backends ready",
		logger.String("event_source", cfg.EventSource),
		logger.String("store", cfg.StoreBackend),
		logger.String("lock", cfg.LockBackend),
		logger.Bool("notifications", len(cfg.KafkaBrokers) > 0))
	ready = true
	return b, nil
}

func openPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pcfg.MaxConns = cfg.PostgresMaxConns
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// serviceOptions translates configuration into service options.
func serviceOptions(cfg *config.Config, b *backends, log logger.Logger) ([]service.Option, error) {
	periods, err := parsePeriods(cfg.Periods)
	if err != nil {
		return nil, err
	}
	return []service.Option{
		service.WithLogger(log),
		service.WithEventSource(b.events),
		service.WithStore(b.store),
		service.WithLocker(b.locker),
		service.WithSnapshotNotifier(b.notifier),
		service.WithPriorStrength(cfg.PriorStrength),
		service.WithPriorPolicy(prior.Policy(cfg.PriorPolicy), cfg.PriorMaxAge),
		service.WithPeriods(periods...),
		service.WithWorkerCount(cfg.WorkerCount),
		service.WithQueueSize(cfg.QueueSize),
		service.WithRecommendLimits(cfg.DefaultRecommendLimit, cfg.MaxRecommendLimit),
		service.WithRefreshTimeout(cfg.RefreshTimeout),
	}, nil
}

func parsePeriods(names []string) ([]model.Period, error) {
	out := make([]model.Period, 0, len(names))
	for _, n := range names {
		p, err := model.ParsePeriod(n)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
