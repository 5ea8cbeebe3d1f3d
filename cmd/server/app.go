package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/roadside-dispatch/internal/config"
	"github.com/example/roadside-dispatch/internal/dispatch"
	"github.com/example/roadside-dispatch/internal/events"
	httpapi "github.com/example/roadside-dispatch/internal/http"
	"github.com/example/roadside-dispatch/internal/lifecycle"
	"github.com/example/roadside-dispatch/internal/push"
	"github.com/example/roadside-dispatch/internal/registry"
	"github.com/example/roadside-dispatch/internal/stats"
	"github.com/example/roadside-dispatch/internal/storage"
)

const (
	asyncQueueSize       = 1024
	asyncDeliveryTimeout = 5 * time.Second
	asyncDrainTimeout    = 5 * time.Second
)

// app owns every long-lived dependency of the process.
type app struct {
	logger *slog.Logger
	db     *sql.DB
	redis  *redis.Client
	kafka  *events.KafkaProducer
	ws     *dispatch.WSRegistry
	async  []*events.Async

	dispatch  *dispatch.Service
	lifecycle *lifecycle.Service
	stats     *stats.Aggregator
	ready     map[string]func(context.Context) error
}

func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (_ *app, err error) {
	a := &app{logger: logger, ready: map[string]func(context.Context) error{}}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	var store storage.RequestStore
	var garages registry.GarageRegistry
	if cfg.Postgres.DSN != "" {
		if a.db, err = storage.OpenPostgres(ctx, cfg.Postgres.DSN); err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		if cfg.Postgres.Migrate {
			applied, err := storage.Migrate(ctx, a.db)
			if err != nil {
				return nil, err
			}
			logger.Info("migrations applied", "files", applied)
		}
		pg := storage.NewPostgresStore(a.db)
		store = pg
		garages = registry.NewPostgres(a.db)
		a.ready["postgres"] = pg.Ping
	} else {
		logger.Warn("no postgres dsn configured, ledger is in memory")
		store = storage.NewMemoryStore()
		if cfg.Registry.SeedFile != "" {
			if garages, err = registry.LoadFile(cfg.Registry.SeedFile); err != nil {
				return nil, err
			}
		} else {
			garages = registry.NewMemory()
		}
	}

	if cfg.Redis.Addr != "" {
		a.redis = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		garages = registry.NewCached(garages, registry.NewRedisSnapshotCache(a.redis), cfg.Redis.SnapshotKey, cfg.Redis.SnapshotTTL, logger)
		a.ready["redis"] = func(ctx context.Context) error { return a.redis.Ping(ctx).Err() }
	}

	gateway := push.NewExpoGateway(cfg.Push.Endpoint, cfg.Push.AccessToken, cfg.Push.ChunkSize, cfg.Push.Timeout)

	a.ws = dispatch.NewWSRegistry(logger)
	replies := events.NewAsync("reply", &dispatch.ReplyNotifier{Store: store, Gateway: gateway}, asyncQueueSize, cfg.Push.Timeout, logger)
	a.async = append(a.async, replies)
	sinks := events.Fanout{a.ws, replies}
	if len(cfg.Kafka.Brokers) > 0 {
		a.kafka = events.NewKafkaProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		status := events.NewAsync("kafka", a.kafka, asyncQueueSize, asyncDeliveryTimeout, logger)
		a.async = append(a.async, status)
		sinks = append(sinks, status)
	}

	a.dispatch = &dispatch.Service{
		Registry:        garages,
		Store:           store,
		Gateway:         gateway,
		Events:          sinks,
		Logger:          logger.With("component", "dispatch"),
		DefaultRadiusKm: cfg.Matching.DefaultRadiusKm,
		DefaultLimit:    cfg.Matching.DefaultLimit,
		Concurrency:     cfg.Matching.Concurrency,
	}
	a.lifecycle = &lifecycle.Service{
		Store:         store,
		Events:        sinks,
		Logger:        logger.With("component", "lifecycle"),
		ExpireAfter:   cfg.Lifecycle.ExpireAfter,
		SweepInterval: cfg.Lifecycle.SweepInterval,
	}
	a.stats = &stats.Aggregator{Store: store, Registry: garages}
	return a, nil
}

func (a *app) handler() *httpapi.Server {
	return httpapi.NewServer(httpapi.Deps{
		Dispatch:  a.dispatch,
		Lifecycle: a.lifecycle,
		Stats:     a.stats,
		WSReg:     a.ws,
		Ready:     a.ready,
	}, a.logger)
}

func (a *app) Close() error {
	var errs []error
	ctx, cancel := context.WithTimeout(context.Background(), asyncDrainTimeout)
	defer cancel()
	for _, q := range a.async {
		errs = append(errs, q.Close(ctx))
	}
	if a.kafka != nil {
		errs = append(errs, a.kafka.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	return errors.Join(errs...)
}
