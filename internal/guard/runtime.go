package guard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/eventguard/eventguard/internal/app"
	"github.com/eventguard/eventguard/internal/assignments"
	"github.com/eventguard/eventguard/internal/catalog"
	"github.com/eventguard/eventguard/internal/events"
	"github.com/eventguard/eventguard/internal/permcache"
	"github.com/eventguard/eventguard/internal/platform/cache"
	"github.com/eventguard/eventguard/internal/platform/db"
	"github.com/eventguard/eventguard/internal/rbac"
)

// Runtime holds a wired Service and the connections backing it.
type Runtime struct {
	Service *Service
	Pool    *pgxpool.Pool
	Redis   *redis.Client
	Tables  db.Tables
	// Memory is set when permission sets are cached in process.
	Memory *permcache.Memory
	logger *slog.Logger
}

// Open wires a Service from configuration. With PG_DSN set, events and
// assignments live in Postgres and the catalog is synced there; otherwise
// every store is in memory. reg may be nil to skip metrics.
func Open(ctx context.Context, cfg *app.Config, logger *slog.Logger, reg prometheus.Registerer) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rt := &Runtime{Tables: cfg.DBTables(), logger: logger}

	store, err := loadCatalog(cfg)
	if err != nil {
		return nil, err
	}

	if cfg.RedisAddr != "" {
		client, err := cache.New(ctx, cfg.RedisAddr)
		if err != nil {
			if cfg.Cache.Store == permcache.StoreRedis {
				return nil, err
			}
			logger.Warn("redis unavailable, caching in memory", slog.Any("error", err))
		} else {
			rt.Redis = client
		}
	}

	var redisClient redis.UniversalClient
	if rt.Redis != nil {
		redisClient = rt.Redis
	}
	backend, err := permcache.NewStore(cfg.Cache.Store, redisClient, cfg.Cache.Key)
	if err != nil {
		rt.Close()
		return nil, err
	}
	if mem, ok := backend.(*permcache.Memory); ok {
		rt.Memory = mem
	}

	var metrics *permcache.Metrics
	if reg != nil {
		if metrics, err = permcache.NewMetrics(reg); err != nil {
			rt.Close()
			return nil, fmt.Errorf("guard: register metrics: %w", err)
		}
	}
	manager := permcache.NewManager(backend, permcache.Options{
		Namespace: cfg.Cache.Key,
		TTL:       cfg.Cache.ExpirationTime,
		Metrics:   metrics,
		Logger:    logger,
	})

	var (
		eventRepo      events.RepositoryPort
		assignmentRepo assignments.RepositoryPort
		syncer         CatalogSyncer
	)
	if cfg.UsesPostgres() {
		pool, err := db.New(ctx, cfg.PGDSN, db.Options{})
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.Pool = pool
		eventRepo = events.NewPostgresRepository(pool, rt.Tables)
		assignmentRepo = assignments.NewPostgresRepository(pool, rt.Tables)
		syncer = catalog.NewSyncer(pool, rt.Tables, logger)
	} else {
		eventRepo = events.NewMemoryRepository()
		assignmentRepo = assignments.NewMemoryRepository()
	}

	registry := events.NewRegistry(eventRepo, store, logger)
	table := assignments.NewTable(assignmentRepo, registry, store, manager, logger)
	registry.OnDeactivate(table)
	resolver := rbac.NewResolver(table, registry, store, manager, logger)

	rt.Service = NewService(Deps{
		Catalog:     store,
		Registry:    registry,
		Assignments: table,
		Resolver:    resolver,
		Cache:       manager,
		Syncer:      syncer,
		OwnerRole:   cfg.OwnerRole,
		Logger:      logger,
	})
	return rt, nil
}

// Migrate applies pending schema migrations.
func (rt *Runtime) Migrate(ctx context.Context) ([]int, error) {
	if rt.Pool == nil {
		return nil, errors.New("guard: migrate requires PG_DSN")
	}
	return db.Migrate(ctx, rt.Pool, rt.Tables, rt.logger)
}

// SyncCatalog mirrors the loaded catalog into Postgres.
func (rt *Runtime) SyncCatalog(ctx context.Context) (catalog.SyncResult, error) {
	if rt.Pool == nil {
		return catalog.SyncResult{}, errors.New("guard: sync-catalog requires PG_DSN")
	}
	return catalog.NewSyncer(rt.Pool, rt.Tables, rt.logger).Sync(ctx, rt.Service.Catalog())
}

// Close releases the connections.
func (rt *Runtime) Close() {
	if rt.Pool != nil {
		rt.Pool.Close()
	}
	if rt.Redis != nil {
		if err := rt.Redis.Close(); err != nil {
			rt.logger.Warn("redis close", slog.Any("error", err))
		}
	}
}

func loadCatalog(cfg *app.Config) (*catalog.Store, error) {
	cat := catalog.Defaults()
	if cfg.CatalogFile != "" {
		loaded, err := catalog.LoadFile(cfg.CatalogFile)
		if err != nil {
			return nil, err
		}
		cat = loaded
	}
	return catalog.New(cat)
}
