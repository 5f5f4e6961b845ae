package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"

	"github.com/custodia-labs/commerce-connect/internal/adapters/driven/auth"
	"github.com/custodia-labs/commerce-connect/internal/adapters/driven/metrics"
	mongoadapter "github.com/custodia-labs/commerce-connect/internal/adapters/driven/mongo"
	"github.com/custodia-labs/commerce-connect/internal/adapters/driven/postgres"
	"github.com/custodia-labs/commerce-connect/internal/adapters/driven/providers"
	"github.com/custodia-labs/commerce-connect/internal/adapters/driven/providers/google"
	"github.com/custodia-labs/commerce-connect/internal/adapters/driven/providers/meta"
	redisadapter "github.com/custodia-labs/commerce-connect/internal/adapters/driven/redis"
	"github.com/custodia-labs/commerce-connect/internal/config"
	"github.com/custodia-labs/commerce-connect/internal/core/ports/driven"
	"github.com/custodia-labs/commerce-connect/internal/core/ports/driving"
	"github.com/custodia-labs/commerce-connect/internal/core/services"
	"github.com/custodia-labs/commerce-connect/internal/worker"
)

// pingStore is an IntegrationStore that also reports health.
type pingStore interface {
	driven.IntegrationStore
	Ping(ctx context.Context) error
}

// app holds the wired components shared by every run mode.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	store        pingStore
	lock         driven.DistributedLock // nil when LOCK_BACKEND=none
	metrics      *metrics.Metrics
	tokens       *auth.Adapter
	integrations driving.IntegrationService
	sweeper      *services.RefreshSweeper
	scheduler    *services.Scheduler

	closers []func() error
}

func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if strings.EqualFold(cfg.Log.Format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// buildApp connects the backends and wires the services. Call Close when done.
func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (a *app, err error) {
	a = &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			err = multierr.Append(err, a.Close())
			a = nil
		}
	}()

	encryptor, err := postgres.NewSecretEncryptorFromSecret(cfg.EncryptionKey)
	if err != nil {
		return a, fmt.Errorf("token encryption: %w", err)
	}

	// ===== Integration store =====
	var pg *postgres.DB
	switch cfg.Store.Backend {
	case config.StorePostgres:
		logger.Info("connecting to postgres")
		pg, err = postgres.Connect(ctx, postgres.Config{
			URL:             cfg.Store.DatabaseURL,
			MaxOpenConns:    cfg.Store.MaxOpenConns,
			MaxIdleConns:    cfg.Store.MaxIdleConns,
			ConnMaxLifetime: cfg.Store.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.Store.ConnMaxIdleTime,
		})
		if err != nil {
			return a, err
		}
		a.closers = append(a.closers, pg.Close)
		if err := pg.InitSchema(ctx); err != nil {
			return a, err
		}
		a.store = postgres.NewIntegrationStore(pg.DB, encryptor)

	case config.StoreMongo:
		logger.Info("connecting to mongo", "database", cfg.Store.MongoDatabase)
		client, err := mongoadapter.Connect(ctx, cfg.Store.MongoURI)
		if err != nil {
			return a, err
		}
		a.closers = append(a.closers, func() error {
			return client.Disconnect(context.WithoutCancel(ctx))
		})
		store := mongoadapter.NewIntegrationStore(client.Database(cfg.Store.MongoDatabase), encryptor)
		if err := store.EnsureIndexes(ctx); err != nil {
			return a, err
		}
		a.store = store
	}

	// ===== Sweep lock =====
	switch cfg.Lock.Backend {
	case config.LockRedis:
		opts, err := redis.ParseURL(cfg.Lock.RedisURL)
		if err != nil {
			return a, fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(opts)
		a.closers = append(a.closers, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			return a, fmt.Errorf("connect to redis: %w", err)
		}
		a.lock = redisadapter.NewLock(client)
	case config.LockPostgres:
		a.lock = postgres.NewAdvisoryLock(pg.DB)
	case config.LockNone:
		logger.Warn("no sweep lock configured, run a single sweeping instance")
	}

	// ===== Platform adapters =====
	registry := providers.NewRegistry()
	if cfg.Google.IsConfigured() {
		registry.Register(google.New(google.Config{
			ClientID:     cfg.Google.ClientID,
			ClientSecret: cfg.Google.ClientSecret,
			RedirectURL:  cfg.Google.RedirectURL,
		}))
	}
	if cfg.Meta.IsConfigured() {
		registry.Register(meta.New(meta.Config{
			AppID:       cfg.Meta.AppID,
			AppSecret:   cfg.Meta.AppSecret,
			RedirectURL: cfg.Meta.RedirectURL,
		}))
	}
	logger.Info("platforms registered", "platforms", registry.Platforms())

	// ===== Services =====
	a.metrics = metrics.NewMetrics(cfg.MetricsNamespace)
	a.tokens = auth.NewAdapter(cfg.Auth.JWTSecret)

	a.integrations = services.NewIntegrationService(services.IntegrationServiceConfig{
		Store:       a.store,
		Providers:   registry,
		StateSigner: auth.NewStateSigner(cfg.Auth.StateSecret),
		Logger:      logger,
		StateTTL:    cfg.Auth.StateTTL,
	})
	a.sweeper = services.NewRefreshSweeper(services.RefreshSweeperConfig{
		Store:          a.store,
		Providers:      registry,
		Metrics:        a.metrics,
		Logger:         logger,
		Lookahead:      cfg.Refresh.Lookahead,
		RefreshTimeout: cfg.Refresh.RefreshTimeout,
		Concurrency:    cfg.Refresh.Concurrency,
	})
	a.scheduler = services.NewScheduler(services.SchedulerConfig{
		Sweeper:      a.sweeper,
		Lock:         a.lock,
		Logger:       logger,
		Interval:     cfg.Refresh.Interval,
		LockTTL:      cfg.Lock.TTL,
		LockRequired: cfg.Lock.Required,
		RunOnStart:   cfg.Refresh.RunOnStart,
	})

	return a, nil
}

// newWorker builds the sweep worker for the configured trigger.
func (a *app) newWorker() (*worker.Worker, error) {
	wcfg := worker.WorkerConfig{Scheduler: a.scheduler, Logger: a.logger}
	if a.cfg.Refresh.Trigger == config.TriggerAsynq {
		trigger, err := worker.NewAsynqTrigger(worker.AsynqConfig{
			RedisURL:    a.cfg.Lock.RedisURL,
			Interval:    a.cfg.Refresh.Interval,
			Concurrency: a.cfg.Refresh.AsynqConcurrency,
			Trigger:     a.scheduler,
			Logger:      a.logger,
		})
		if err != nil {
			return nil, err
		}
		wcfg.Asynq = trigger
	}
	return worker.NewWorker(wcfg), nil
}

// lockPinger returns the lock as a health check, if it supports one.
func (a *app) lockPinger() interface{ Ping(context.Context) error } {
	if p, ok := a.lock.(interface{ Ping(context.Context) error }); ok {
		return p
	}
	return nil
}

// Close releases every backend connection, in reverse order of opening.
func (a *app) Close() error {
	var err error
	for i := len(a.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, a.closers[i]())
	}
	a.closers = nil
	return err
}
