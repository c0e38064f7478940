package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/rollup/internal/hierarchy"
	jobmetrics "github.com/odyssey-erp/rollup/internal/jobs"
	"github.com/odyssey-erp/rollup/internal/ledger"
	"github.com/odyssey-erp/rollup/internal/memstore"
	"github.com/odyssey-erp/rollup/internal/orchestrator"
	"github.com/odyssey-erp/rollup/internal/platform/cache"
	"github.com/odyssey-erp/rollup/internal/platform/db"
	"github.com/odyssey-erp/rollup/internal/rollup"
	"github.com/odyssey-erp/rollup/internal/runlog"
	"github.com/odyssey-erp/rollup/internal/syncer"
)

// Backends are the storage dependencies of the roll-up services.
type Backends struct {
	Ledgers   ledger.Source
	Store     rollup.Store
	Scopes    rollup.Workspace
	Hierarchy hierarchy.Repository
	Redis     *redis.Client
}

// Services is the wired roll-up domain shared by the binaries.
type Services struct {
	Backends
	RunLog       *runlog.Log
	JobMetrics   *jobmetrics.Metrics
	Registry     *rollup.Registry
	Syncer       *syncer.Engine
	Orchestrator *orchestrator.Orchestrator
	Hierarchies  *hierarchy.Service
}

// NewServices wires the domain on top of b. A nil Redis client disables the run
// log and falls back to in-process locking. Computations added to Registry later
// take part in the following runs.
func NewServices(cfg *Config, b Backends, registerer prometheus.Registerer, logger *slog.Logger) *Services {
	if logger == nil {
		logger = slog.Default()
	}
	includeAccounting := true
	size := int64(runlog.MaxEntries)
	var lockTTL time.Duration
	if cfg != nil {
		includeAccounting = cfg.RollupIncludeAccounting
		size = cfg.RollupRunLogSize
		lockTTL = cfg.RollupLockTTL
	}

	s := &Services{Backends: b}
	s.JobMetrics = jobmetrics.NewMetrics(registerer)
	var locker orchestrator.Locker = orchestrator.NewLocalLocker()
	if b.Redis != nil {
		s.RunLog = runlog.New(b.Redis, size, logger)
		locker = orchestrator.NewRedisLocker(b.Redis)
	}
	s.Registry = rollup.NewRegistry(rollup.NewAggregator(b.Scopes, logger), includeAccounting)
	s.Syncer = syncer.NewEngine(b.Hierarchy, b.Store, s.RunLog, s.JobMetrics, logger)
	s.Orchestrator = orchestrator.New(orchestrator.Config{
		Registry: s.Registry,
		Scopes:   b.Scopes,
		Syncer:   s.Syncer,
		Locker:   locker,
		LockTTL:  lockTTL,
		RunLog:   s.RunLog,
		Metrics:  s.JobMetrics,
		Logger:   logger,
	})
	s.Hierarchies = hierarchy.NewService(b.Hierarchy, logger)
	return s
}

// ConnectBackends opens Postgres and Redis. The returned func closes both.
func ConnectBackends(ctx context.Context, cfg *Config) (Backends, func(), error) {
	pool, err := db.New(ctx, cfg.PGDSN, db.Options{})
	if err != nil {
		return Backends{}, nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := db.EnsureShared(ctx, pool); err != nil {
		pool.Close()
		return Backends{}, nil, fmt.Errorf("ensure shared schema: %w", err)
	}
	client, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		pool.Close()
		return Backends{}, nil, fmt.Errorf("connect redis: %w", err)
	}
	closeFn := func() {
		_ = client.Close()
		pool.Close()
	}
	return postgresBackends(pool, client), closeFn, nil
}

func postgresBackends(pool *pgxpool.Pool, client *redis.Client) Backends {
	facts := rollup.NewRepository(pool)
	return Backends{
		Ledgers:   ledger.NewRepository(pool),
		Store:     facts,
		Scopes:    facts,
		Hierarchy: hierarchy.NewPostgresRepository(pool),
		Redis:     client,
	}
}

// MemoryBackends returns in-memory stores for test mode and local demos.
func MemoryBackends(client *redis.Client, shopIDs ...int64) Backends {
	ledgers := memstore.NewLedgers()
	facts := memstore.NewRollups()
	return Backends{
		Ledgers:   ledgers,
		Store:     facts,
		Scopes:    memstore.NewWorkspace(ledgers, facts),
		Hierarchy: memstore.NewHierarchy(shopIDs...),
		Redis:     client,
	}
}
