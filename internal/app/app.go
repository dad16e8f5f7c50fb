// Package app wires the sync components from configuration. The worker and
// syncctl share it so both run the same pipeline.
package app

import (
	"context"
	"fmt"
	"time"

	"pickem/ingestion/internal/api"
	"pickem/ingestion/internal/cache"
	"pickem/ingestion/internal/client"
	"pickem/ingestion/internal/config"
	"pickem/ingestion/internal/reconcile"
	"pickem/ingestion/internal/repository"
	"pickem/ingestion/internal/repository/memstore"
	"pickem/ingestion/internal/season"
	"pickem/ingestion/internal/syncer"
	"pickem/ingestion/internal/window"

	"github.com/rs/zerolog/log"
)

// Options controls how the components are built
type Options struct {
	// DryRun reconciles into an in-memory store and never touches Postgres or Redis
	DryRun bool
	// SkipRedis uses process-local leases even when Redis is enabled
	SkipRedis bool
}

// App holds the wired components
type App struct {
	Config   *config.Config
	Client   *client.Client
	DB       *repository.Database // nil in dry-run mode
	Redis    *cache.RedisCache    // nil when Redis is disabled or unreachable
	Memory   *memstore.Store      // set in dry-run mode
	Resolver *season.Resolver
	Syncer   *syncer.Syncer

	closers []func()
}

// New connects the stores and builds the pipeline
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	a := &App{Config: cfg}

	a.Client = client.NewClient(client.Options{
		BaseURL:        cfg.ESPNBaseURL,
		Timeout:        cfg.ESPNTimeout,
		MaxAttempts:    cfg.ESPNMaxAttempts,
		RetryBaseDelay: cfg.ESPNRetryBaseDelay,
		RateLimit:      cfg.ESPNRateLimit,
		RateBurst:      cfg.ESPNRateBurst,
	})
	log.Info().Str("base_url", cfg.ESPNBaseURL).Msg("ESPN client initialized")

	var (
		txStore     reconcile.Store
		seasonStore season.Store
	)

	if opts.DryRun {
		a.Memory = memstore.New()
		txStore, seasonStore = a.Memory, a.Memory
		log.Warn().Msg("Dry run: changes are reconciled in memory only")
	} else {
		db, err := repository.NewDatabase(ctx, cfg.DatabaseDSN())
		if err != nil {
			return nil, err
		}
		a.DB = db
		a.closers = append(a.closers, db.Close)
		log.Info().Msg("Database connection established")

		if err := db.EnsureSchema(ctx); err != nil {
			a.Close()
			return nil, err
		}
		txStore, seasonStore = db, db.Seasons
	}

	var leases interface {
		syncer.Locker
		syncer.RunStore
	} = cache.NewLocal()

	if cfg.RedisEnabled && !opts.DryRun && !opts.SkipRedis {
		redisCache, err := cache.NewRedisCache(cache.Config{
			Addr:     cfg.RedisAddr(),
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to connect to Redis - continuing with process-local leases")
		} else {
			a.Redis = redisCache
			a.closers = append(a.closers, func() { _ = redisCache.Close() })
			leases = redisCache
			log.Info().Msg("Redis cache connected")
		}
	}

	policy := window.Policy{
		HorizonMonths:    cfg.HorizonMonths,
		SeasonStartMonth: time.Month(cfg.SeasonStartMonth),
		SeasonEndMonth:   time.Month(cfg.SeasonEndMonth),
	}

	override, _ := cfg.SeasonOverride()
	a.Resolver = season.NewResolver(seasonStore, a.Client, nil, season.Options{
		Sport:        cfg.Sport,
		Override:     override,
		CacheTTL:     cfg.SeasonCacheTTL,
		HeuristicTTL: cfg.SeasonHeuristicTTL,
		Policy:       policy,
	})

	a.Syncer = syncer.New(a.Client, a.Resolver, reconcile.NewEngine(txStore), leases, leases, syncer.Options{
		Sport:       cfg.Sport,
		DaysBack:    cfg.DaysBack,
		DaysForward: cfg.DaysForward,
		ResultLimit: cfg.ESPNResultLimit,
		LockTTL:     cfg.SyncLockTTL,
		Policy:      policy,
	})

	return a, nil
}

// HealthChecks returns the connected dependencies keyed by name
func (a *App) HealthChecks() map[string]api.HealthChecker {
	checks := make(map[string]api.HealthChecker)
	if a.DB != nil {
		checks["database"] = a.DB
	}
	if a.Redis != nil {
		checks["redis"] = a.Redis
	}
	return checks
}

// LiveEvents returns the store the scheduler asks for in-progress events
func (a *App) LiveEvents() interface {
	CountInProgress(ctx context.Context) (int, error)
} {
	if a.Memory != nil {
		return a.Memory
	}
	return a.DB.Events
}

// Summary describes the stored data, for reporting after a run
func (a *App) Summary(ctx context.Context, seasonYear int) (string, error) {
	if a.Memory != nil {
		return fmt.Sprintf("%d competitors, %d events in memory", len(a.Memory.Competitors()), a.Memory.EventCount()), nil
	}

	competitors, err := a.DB.Competitors.Count(ctx)
	if err != nil {
		return "", err
	}
	events, err := a.DB.Events.CountBySeason(ctx, seasonYear)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d competitors stored, %d events in season %d", competitors, events, seasonYear), nil
}

// Close releases connections in reverse order
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
