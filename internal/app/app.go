// Package app builds the studysync object graph from a Config.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/abhisek/studysync/internal/api"
	"github.com/abhisek/studysync/internal/config"
	"github.com/abhisek/studysync/internal/progress"
	"github.com/abhisek/studysync/internal/questions"
	"github.com/abhisek/studysync/internal/reconcile"
	"github.com/abhisek/studysync/internal/remote"
	"github.com/abhisek/studysync/internal/session"
	"github.com/abhisek/studysync/internal/store"
)

// Options overrides parts of the graph. Zero values are built from Config.
type Options struct {
	Logger zerolog.Logger

	// Remote replaces the configured remote store.
	Remote remote.Store

	// StatsCache replaces the Redis or in-process stats cache.
	StatsCache progress.Cache
}

// App holds every long-lived component.
type App struct {
	Config *config.Config
	Log    zerolog.Logger

	Store      *store.Store
	Remote     remote.Store
	Postgres   *remote.Postgres // nil unless the postgres driver is used
	Redis      *redis.Client    // nil unless redis.url is set
	Questions  questions.Source
	Stats      *progress.Aggregator
	Sessions   *session.Service
	Reconciler *reconcile.Reconciler
}

// New opens the local store and wires the services. The remote connection
// is lazy, so New succeeds on a device that starts offline.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	a := &App{Config: cfg, Log: opts.Logger}

	a.Store, err = store.Open(cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	a.Remote = opts.Remote
	if a.Remote == nil {
		if a.Remote, err = a.openRemote(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}

	cache := opts.StatsCache
	if cache == nil {
		cache = a.openCache(ctx)
	}

	pool := questions.NewPool(a.Remote, cfg.Questions.MaxPerSession)
	a.Questions = questions.NewCachedPool(pool, a.Store.QuestionCache(), cfg.Questions.CacheTTL, a.Log.With().Str("component", "questions").Logger())

	a.Stats = progress.New(progress.Options{
		Remote:           a.Remote,
		Buffer:           a.Store.AnswerBuffer(),
		Outbox:           a.Store.SessionOutbox(),
		Cache:            cache,
		CacheTTL:         cfg.Stats.CacheTTL,
		Location:         loc,
		AccuracyDecimals: cfg.Stats.AccuracyDecimals,
		StreakLookback:   cfg.Stats.StreakLookbackDays,
		Logger:           a.Log.With().Str("component", "progress").Logger(),
	})

	a.Sessions = session.NewService(session.Options{
		Remote:       a.Remote,
		Buffer:       a.Store.AnswerBuffer(),
		Outbox:       a.Store.SessionOutbox(),
		Questions:    a.Questions,
		Progress:     a.Stats,
		StrictRemote: !cfg.Remote.OfflineMode,
		Logger:       a.Log.With().Str("component", "session").Logger(),
	})

	a.Reconciler = reconcile.New(reconcile.Options{
		Remote:   a.Remote,
		Buffer:   a.Store.AnswerBuffer(),
		Outbox:   a.Store.SessionOutbox(),
		Runs:     a.Store.SyncRunRepo(),
		Progress: a.Stats,
		KeepRuns: cfg.Sync.KeepRuns,
		Logger:   a.Log.With().Str("component", "reconcile").Logger(),
	})

	return a, nil
}

func (a *App) openRemote(ctx context.Context) (remote.Store, error) {
	rc := a.Config.Remote
	retry := remote.RetryConfig{
		MaxAttempts: rc.Retry.MaxAttempts,
		InitialWait: rc.Retry.InitialWait,
		MaxWait:     rc.Retry.MaxWait,
		Multiplier:  rc.Retry.Multiplier,
	}

	switch rc.Driver {
	case "postgres":
		pc := remote.DefaultPoolConfig()
		if rc.MaxConns > 0 {
			pc.MaxConns = rc.MaxConns
		}
		pg, err := remote.Connect(ctx, rc.DSN, pc)
		if err != nil {
			return nil, fmt.Errorf("connect remote: %w", err)
		}
		a.Postgres = pg
		return remote.WithRetry(pg, retry), nil
	default:
		a.Log.Warn().Msg("using in-memory remote store; data is lost on exit")
		return remote.WithRetry(remote.NewMemory(), retry), nil
	}
}

// openCache connects to Redis when configured. A Redis that cannot be
// reached degrades to an in-process cache.
func (a *App) openCache(ctx context.Context) progress.Cache {
	if a.Config.Redis.URL == "" {
		return progress.NewMemoryCache()
	}
	client, err := progress.OpenRedis(ctx, a.Config.Redis.URL)
	if err != nil {
		a.Log.Warn().Err(err).Msg("redis unavailable, caching stats in memory")
		return progress.NewMemoryCache()
	}
	a.Redis = client
	return progress.NewRedisCache(client, "studysync:")
}

// API returns an HTTP server bound to the app's services.
func (a *App) API() *api.Server {
	return api.New(api.Options{
		Sessions:    a.Sessions,
		Reconciler:  a.Reconciler,
		Stats:       a.Stats,
		Logger:      a.Log.With().Str("component", "api").Logger(),
		IdleTimeout: a.Config.HTTP.IdleSession,
	})
}

// Check pings every backing service and returns one error per failure.
func (a *App) Check(ctx context.Context) map[string]error {
	res := map[string]error{}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	res["local"] = a.Store.DB().PingContext(ctx)
	res["remote"] = a.Remote.Ping(ctx)
	if a.Redis != nil {
		res["redis"] = a.Redis.Ping(ctx).Err()
	}
	return res
}

// Close releases the local store and any remote connections.
func (a *App) Close() error {
	var errs []error
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.Postgres != nil {
		a.Postgres.Close()
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	return errors.Join(errs...)
}
