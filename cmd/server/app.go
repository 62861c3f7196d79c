package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"safemodel/internal/accountant"
	"safemodel/internal/platform/config"
	"safemodel/internal/platform/kafka"
	"safemodel/internal/platform/metrics"
	"safemodel/internal/platform/middleware"
	"safemodel/internal/platform/postgres"
	"safemodel/internal/platform/redis"
	"safemodel/internal/platform/sqlite"
	"safemodel/internal/policy"
	"safemodel/internal/release"
	releasehandler "safemodel/internal/release/handler"
	releasemetrics "safemodel/internal/release/metrics"
	"safemodel/internal/snapshot/store"
	"safemodel/internal/training"
	traininghandler "safemodel/internal/training/handler"
	audit "safemodel/pkg/platform/audit"
	"safemodel/pkg/platform/audit/outbox"
	"safemodel/pkg/platform/audit/publishers/compliance"
	"safemodel/pkg/platform/audit/publishers/ops"
	"safemodel/pkg/platform/audit/publishers/security"
	auditmemory "safemodel/pkg/platform/audit/store/memory"
	auditpostgres "safemodel/pkg/platform/audit/store/postgres"
)

// app holds the wired server and the resources that must be released on
// shutdown.
type app struct {
	router  http.Handler
	relay   *outbox.Relay
	metrics *metrics.Metrics
	health  map[string]func(context.Context) error
	closers []func() error
}

func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (_ *app, err error) {
	a := &app{
		metrics: metrics.New(),
		health:  map[string]func(context.Context) error{},
	}
	defer func() {
		if err != nil {
			_ = a.close()
		}
	}()

	pol, err := policy.Load(cfg.PolicyPath)
	if err != nil {
		return nil, err
	}

	db, err := postgres.Open(ctx, postgres.Config{
		URL:             cfg.Postgres.URL,
		MaxOpenConns:    cfg.Postgres.MaxOpenConns,
		MaxIdleConns:    cfg.Postgres.MaxIdleConns,
		ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
	})
	if err != nil {
		return nil, err
	}
	if db != nil {
		a.closers = append(a.closers, db.Close)
		a.health["postgres"] = db.PingContext
	}

	snapshots, err := a.snapshotStore(ctx, cfg, db)
	if err != nil {
		return nil, err
	}
	auditStore, err := a.auditStore(ctx, cfg, db, logger)
	if err != nil {
		return nil, err
	}

	tracker := ops.New(auditStore,
		ops.WithLogger(logger),
		ops.WithMetrics(ops.NewMetrics(a.metrics.Registry)),
	)
	a.closers = append(a.closers, tracker.Close)
	securityEvents := security.New(auditStore, security.WithLogger(logger))
	a.closers = append(a.closers, securityEvents.Close)
	compliancePublisher := compliance.New(auditStore,
		compliance.WithLogger(logger),
		compliance.WithMetrics(compliance.NewMetrics(a.metrics.Registry)),
	)

	checker, err := accountant.NewChecker(accountant.NewRDP(), accountant.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	registry := training.NewRegistry()
	a.metrics.TrackSessions(registry.Len)
	factory := training.NewFactory(pol, checker, snapshots, registry,
		training.WithLogger(logger),
		training.WithOpsTracker(tracker),
		training.WithCompliance(compliancePublisher),
	)

	engine, err := release.NewEngine(accountant.NewRDP())
	if err != nil {
		return nil, err
	}
	releaseService, err := release.NewService(engine, snapshots, compliancePublisher,
		release.WithLogger(logger),
		release.WithMetrics(releasemetrics.New(a.metrics.Registry)),
		release.WithCheckpointDir(cfg.CheckpointDir),
	)
	if err != nil {
		return nil, err
	}

	jwtService := middleware.NewJWTService(cfg.JWTSigningKey, cfg.JWTIssuer)
	a.router = newRouter(routerDeps{
		training: traininghandler.New(factory, registry, logger),
		release:  releasehandler.New(releaseService, registry, auditStore, logger),
		auth:     middleware.RequireReviewer(jwtService, securityEvents, logger),
		metrics:  a.metrics,
		health:   a.health,
		logger:   logger,
	})
	return a, nil
}

func (a *app) snapshotStore(ctx context.Context, cfg config.Config, db *sql.DB) (store.Store, error) {
	switch cfg.StoreBackend {
	case config.StoreSQLite:
		sdb, err := sqlite.Open(cfg.SQLitePath, sqlite.WithMkdirAll())
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, sdb.Close)
		a.health["sqlite"] = sdb.PingContext
		st := store.NewSQLite(sdb)
		if err := st.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate sqlite snapshot store: %w", err)
		}
		return st, nil
	case config.StorePostgres:
		st := store.NewPostgres(db)
		if err := st.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate postgres snapshot store: %w", err)
		}
		return st, nil
	case config.StoreRedis:
		client, err := redis.New(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, client.Close)
		a.health["redis"] = client.Health
		return store.NewRedis(client.Client, cfg.SnapshotTTL), nil
	default:
		return store.NewInMemory(), nil
	}
}

// auditStore keeps events in postgres when a database is configured, and
// relays them to kafka when brokers are configured too.
func (a *app) auditStore(ctx context.Context, cfg config.Config, db *sql.DB, logger *slog.Logger) (audit.Store, error) {
	if db == nil {
		return auditmemory.NewInMemoryStore(), nil
	}
	st := auditpostgres.New(db)
	if err := st.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate audit store: %w", err)
	}

	producer, err := kafka.NewProducer(ctx, kafka.Config{
		Brokers: cfg.Kafka.Brokers,
		Topic:   cfg.Kafka.Topic,
	})
	if err != nil {
		return nil, err
	}
	if producer == nil {
		return st, nil
	}
	a.closers = append(a.closers, func() error { producer.Close(); return nil })
	a.health["kafka"] = producer.Health
	if err := producer.EnsureTopic(ctx, cfg.Kafka.Partitions, cfg.Kafka.Replications); err != nil {
		return nil, err
	}
	a.relay, err = outbox.NewRelay(st, producer,
		outbox.WithLogger(logger),
		outbox.WithInterval(cfg.Kafka.RelayEvery),
		outbox.WithBatchSize(cfg.Kafka.RelayBatch),
	)
	if err != nil {
		return nil, err
	}
	return st, nil
}

// close releases resources in reverse order of acquisition.
func (a *app) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
