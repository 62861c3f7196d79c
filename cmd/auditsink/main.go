// Command auditsink consumes the audit topic and archives every event into
// a separate PostgreSQL database for long-term retention.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"safemodel/internal/platform/config"
	"safemodel/internal/platform/kafka"
	"safemodel/internal/platform/logger"
	"safemodel/internal/platform/postgres"
	"safemodel/pkg/platform/audit/consumer"
	auditpostgres "safemodel/pkg/platform/audit/store/postgres"
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat).With("component", "auditsink")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("audit sink stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	if cfg.ArchiveDatabaseURL == "" {
		return fmt.Errorf("ARCHIVE_DATABASE_URL is required")
	}
	db, err := postgres.Open(ctx, postgres.Config{
		URL:             cfg.ArchiveDatabaseURL,
		MaxOpenConns:    cfg.Postgres.MaxOpenConns,
		MaxIdleConns:    cfg.Postgres.MaxIdleConns,
		ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
	})
	if err != nil {
		return err
	}
	defer db.Close()

	archive := auditpostgres.NewArchive(db)
	if err := archive.Migrate(ctx); err != nil {
		return err
	}

	c, err := kafka.NewConsumer(ctx, kafka.ConsumerConfig{
		Brokers: cfg.Kafka.Brokers,
		Topics:  []string{cfg.Kafka.Topic},
		Group:   cfg.Kafka.ArchiveGroup,
	}, log)
	if err != nil {
		return err
	}
	defer c.Close()

	log.Info("archiving audit events", "topic", cfg.Kafka.Topic, "group", cfg.Kafka.ArchiveGroup)
	return c.Run(ctx, consumer.NewArchiveRouter(archive, log))
}
