// Package app assembles the presence core from configuration. The service
// binary and the admin CLI share it so both run against the same stores.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"presence-tracker/internal/common/config"
	"presence-tracker/internal/common/database"
	"presence-tracker/internal/common/logger"
	"presence-tracker/internal/common/observability"
	"presence-tracker/internal/models"
	"presence-tracker/internal/presence/archive"
	"presence-tracker/internal/presence/engine"
	"presence-tracker/internal/presence/query"
	"presence-tracker/internal/presence/sweeper"
	"presence-tracker/internal/repository/memory"
	pgrepo "presence-tracker/internal/repository/postgres"
	redisrepo "presence-tracker/internal/repository/redis"

	promclient "github.com/prometheus/client_golang/prometheus"
)

// App holds the wired presence core and the clients it owns.
type App struct {
	Config        *config.Config
	Presence      models.PresenceRepository
	Sessions      models.SessionRepository
	Locker        models.Locker
	Engine        *engine.Engine
	Sweeper       *sweeper.Sweeper
	Query         *query.Service
	Observability *observability.Observability
	// Readiness checks keyed by dependency name.
	Readiness map[string]func(ctx context.Context) error

	logger  logger.Logger
	closers []func() error
}

type Options struct {
	Logger logger.Logger
	// Registerer receives the otel exporter; nil means the default registerer.
	Registerer promclient.Registerer
	Now        func() time.Time
	// ConnectAttempts and ConnectDelay drive the startup retry of each client.
	ConnectAttempts int
	ConnectDelay    time.Duration
}

// New connects the configured backends and builds every presence component.
// On error, anything already opened is closed.
func New(ctx context.Context, cfg *config.Config, opts Options) (a *App, err error) {
	if opts.ConnectAttempts <= 0 {
		opts.ConnectAttempts = 10
	}
	if opts.ConnectDelay <= 0 {
		opts.ConnectDelay = 2 * time.Second
	}
	if opts.Registerer == nil {
		opts.Registerer = promclient.DefaultRegisterer
	}

	a = &App{
		Config:    cfg,
		Readiness: make(map[string]func(ctx context.Context) error),
		logger:    logger.ForComponent(opts.Logger, "bootstrap"),
	}
	defer func() {
		if err != nil {
			_ = a.Close()
			a = nil
		}
	}()

	a.Observability = observability.NewWithRegisterer(cfg.App.Name, opts.Registerer, opts.Logger)
	a.closers = append(a.closers, func() error { a.Observability.Shutdown(); return nil })

	var rc *database.RedisClient
	redisClient := func() (*database.RedisClient, error) {
		if rc != nil {
			return rc, nil
		}
		err := retryWithBackoff(ctx, func() error {
			var err error
			if rc, err = database.NewRedis(cfg.Database.Redis); err != nil {
				return err
			}
			if err := rc.Ping(ctx); err != nil {
				_ = rc.Close()
				rc = nil
				return err
			}
			return nil
		}, opts.ConnectAttempts, opts.ConnectDelay, a.logger, "Redis connection")
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, rc.Close)
		a.Readiness["redis"] = rc.Ping
		a.logger.Info("Redis connected successfully", nil)
		return rc, nil
	}

	switch cfg.Storage.Backend {
	case config.BackendMemory:
		a.Presence = memory.NewPresenceStore()
		a.Sessions = memory.NewSessionStore()

	case config.BackendPostgres:
		var pg *database.PostgresClient
		err = retryWithBackoff(ctx, func() error {
			var err error
			if pg, err = database.NewPostgres(cfg.Database.Postgres); err != nil {
				return err
			}
			if err := pg.Ping(ctx); err != nil {
				_ = pg.Close()
				return err
			}
			return nil
		}, opts.ConnectAttempts, opts.ConnectDelay, a.logger, "PostgreSQL connection")
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pg.Close)
		a.Readiness["postgres"] = pg.Ping
		a.logger.Info("PostgreSQL connected successfully", nil)

		if err = pgrepo.EnsureSchema(ctx, pg.GetDB()); err != nil {
			return nil, err
		}
		a.Presence = pgrepo.NewPresenceStore(pg.GetDB())
		a.Sessions = pgrepo.NewSessionStore(pg.GetDB())

	case config.BackendRedis:
		client, err := redisClient()
		if err != nil {
			return nil, err
		}
		a.Presence = redisrepo.NewPresenceStore(client).WithLogger(opts.Logger)
		a.Sessions = redisrepo.NewSessionStore(client).WithLogger(opts.Logger)

	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}

	switch cfg.Storage.Lock {
	case config.LockRedis:
		client, err := redisClient()
		if err != nil {
			return nil, err
		}
		a.Locker = redisrepo.NewLocker(client,
			config.GetDuration(cfg.Presence.LockTTLMs),
			config.GetDuration(cfg.Presence.LockRetryMs))
	default:
		a.Locker = memory.NewKeyedLocker()
	}

	var archiver engine.SessionArchiver
	if cfg.Archive.Enabled {
		if archiver, err = a.newArchiver(ctx, opts); err != nil {
			return nil, err
		}
	}

	a.Engine, err = engine.NewEngine(EngineConfig(cfg), engine.Deps{
		Presence:      a.Presence,
		Sessions:      a.Sessions,
		Locker:        a.Locker,
		Archiver:      archiver,
		Observability: a.Observability,
		Logger:        opts.Logger,
		Now:           opts.Now,
	})
	if err != nil {
		return nil, err
	}

	a.Sweeper, err = sweeper.NewSweeper(SweeperConfig(cfg), sweeper.Deps{
		Presence:      a.Presence,
		Locker:        a.Locker,
		Lifecycle:     a.Engine.Lifecycle(),
		Observability: a.Observability,
		Logger:        opts.Logger,
		Now:           opts.Now,
	})
	if err != nil {
		return nil, err
	}

	queryCfg, err := QueryConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.Query, err = query.NewService(queryCfg, query.Deps{
		Presence: a.Presence,
		Sessions: a.Sessions,
		Logger:   opts.Logger,
		Now:      opts.Now,
	})
	if err != nil {
		return nil, err
	}

	a.logger.Info("presence core ready", map[string]interface{}{
		"backend": cfg.Storage.Backend,
		"lock":    cfg.Storage.Lock,
		"archive": cfg.Archive.Enabled,
	})
	return a, nil
}

func (a *App) newArchiver(ctx context.Context, opts Options) (*archive.ElasticArchiver, error) {
	var es *database.ElasticsearchClient
	err := retryWithBackoff(ctx, func() error {
		var err error
		if es, err = database.NewElasticsearch(a.Config.Database.Elasticsearch); err != nil {
			return err
		}
		return es.Ping(ctx)
	}, opts.ConnectAttempts, opts.ConnectDelay, a.logger, "Elasticsearch connection")
	if err != nil {
		return nil, err
	}
	a.Readiness["elasticsearch"] = es.Ping
	a.logger.Info("Elasticsearch connected successfully", nil)

	return archive.NewElasticArchiver(es.Client, archive.Config{
		Index:   a.Config.Archive.Index,
		Timeout: config.GetDuration(a.Config.Archive.TimeoutMs),
	}, opts.Logger)
}

// Close releases every client in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func EngineConfig(cfg *config.Config) *engine.Config {
	return &engine.Config{
		Timeout:                   config.GetDuration(cfg.Presence.TimeoutMs),
		StaleDeltaGuardMultiplier: cfg.Presence.StaleDeltaGuardMultiplier,
		MaxClockSkew:              config.GetDuration(cfg.Presence.MaxClockSkewMs),
		MaxConflictRetries:        cfg.Presence.MaxConflictRetries,
	}
}

func SweeperConfig(cfg *config.Config) *sweeper.Config {
	return &sweeper.Config{
		Timeout:     config.GetDuration(cfg.Presence.TimeoutMs),
		Interval:    config.GetDuration(cfg.Presence.SweepIntervalMs),
		BatchSize:   cfg.Presence.SweepBatchSize,
		Concurrency: cfg.Presence.SweepConcurrency,
	}
}

func QueryConfig(cfg *config.Config) (*query.Config, error) {
	loc, err := time.LoadLocation(cfg.Presence.ReportTimezone)
	if err != nil {
		return nil, fmt.Errorf("report timezone: %w", err)
	}
	qc := query.LoadConfig()
	qc.Timeout = config.GetDuration(cfg.Presence.TimeoutMs)
	qc.Location = loc
	return qc, nil
}
