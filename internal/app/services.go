package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bsm/redislock"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/bookkeeper/internal/inventory"
	jobmetrics "github.com/odyssey-erp/bookkeeper/internal/jobs"
	"github.com/odyssey-erp/bookkeeper/internal/journal"
	"github.com/odyssey-erp/bookkeeper/internal/ledger"
	"github.com/odyssey-erp/bookkeeper/internal/observability"
	"github.com/odyssey-erp/bookkeeper/internal/platform/cache"
	"github.com/odyssey-erp/bookkeeper/internal/platform/db"
	"github.com/odyssey-erp/bookkeeper/internal/posting"
	"github.com/odyssey-erp/bookkeeper/internal/sequence"
	"github.com/odyssey-erp/bookkeeper/internal/store/memory"
	"github.com/odyssey-erp/bookkeeper/internal/store/postgres"
	"github.com/odyssey-erp/bookkeeper/jobs"
)

// Backend is a store implementing the unit of work and every read port.
type Backend interface {
	posting.UnitOfWork
	jobs.Catalog
	Ledgers() ledger.RepositoryPort
	Journal() journal.RepositoryPort
	Stock() inventory.RepositoryPort
}

// Services is the wired object graph shared by the API and the worker.
type Services struct {
	Config      *Config
	Logger      *slog.Logger
	Pool        *pgxpool.Pool
	Redis       *redis.Client
	Backend     Backend
	Metrics     *observability.Metrics
	JobMetrics  *jobmetrics.Metrics
	Ledgers     *ledger.Service
	Statements  *journal.Service
	Stock       *inventory.Service
	Allocator   *sequence.Allocator
	Coordinator *posting.Coordinator
	Reconciler  *jobs.Reconciler
}

// Build connects the configured store and Redis and wires the services.
// Redis is optional: without it balances are not cached and reconciliation
// runs without the single-runner lock.
func Build(ctx context.Context, cfg *Config, logger *slog.Logger) (*Services, error) {
	s := &Services{Config: cfg, Logger: logger, Metrics: observability.NewMetrics()}
	s.JobMetrics = jobmetrics.NewMetrics(s.Metrics.Registerer())

	switch cfg.StoreDriver {
	case DriverMemory:
		s.Backend = memory.New()
		logger.Warn("using in-memory store, data is lost on exit")
	default:
		pool, err := db.New(ctx, cfg.Database())
		if err != nil {
			return nil, err
		}
		s.Pool = pool
		store := postgres.New(pool)
		if cfg.AutoMigrate {
			applied, err := store.Migrate(ctx)
			if err != nil {
				s.Close()
				return nil, fmt.Errorf("migrate: %w", err)
			}
			for _, name := range applied {
				logger.Info("migration applied", slog.String("name", name))
			}
		}
		s.Backend = store
	}

	var balanceCache ledger.BalanceCache
	var locker *redislock.Client
	if cfg.RedisAddr != "" {
		client, err := cache.New(ctx, cfg.Redis())
		if err != nil {
			logger.Warn("redis unavailable, balance cache and job lock disabled", slog.Any("error", err))
		} else {
			s.Redis = client
			balanceCache = ledger.NewRedisBalanceCache(client, cfg.BalanceCacheTTL)
			locker = redislock.New(client)
		}
	}

	s.Ledgers = ledger.NewService(s.Backend.Ledgers(), balanceCache, logger)
	s.Statements = journal.NewService(s.Backend.Journal())
	s.Stock = inventory.NewService(s.Backend.Stock())
	s.Allocator = sequence.NewAllocator(cfg.SequencePrefixes, cfg.RetryPolicy(), sequence.WithObserver(s.Metrics))
	s.Coordinator = posting.NewCoordinator(s.Backend, s.Allocator, cfg.Posting(), logger,
		posting.WithObserver(s.Metrics),
		posting.WithBalanceInvalidator(s.Ledgers),
	)
	s.Reconciler = jobs.NewReconciler(jobs.ReconcilerConfig{
		Catalog:    s.Backend,
		Statements: s.Statements,
		Stock:      s.Stock,
		Locker:     locker,
		Metrics:    s.JobMetrics,
		Logger:     logger,
		LockTTL:    cfg.ReconcileLockTTL,
	})
	return s, nil
}

// PostingHandler builds the API handler.
func (s *Services) PostingHandler() *posting.Handler {
	return posting.NewHandler(s.Logger, s.Coordinator, s.Ledgers, s.Statements, s.Stock)
}

// Close releases the pool and the Redis client.
func (s *Services) Close() {
	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			s.Logger.Warn("redis close", slog.Any("error", err))
		}
	}
	if s.Pool != nil {
		s.Pool.Close()
	}
}
