package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/example/pos-billing/configs"
	"github.com/example/pos-billing/internal/infrastructure/kafka"
	"github.com/example/pos-billing/internal/infrastructure/store"
	"github.com/example/pos-billing/internal/logging"
	"github.com/example/pos-billing/internal/projection"
)

func main() {
	configDir := flag.String("config", "./configs", "directory holding base.yaml")
	flag.Parse()

	cfg, err := configs.Load(*configDir, os.Getenv("APP_ENV"))
	if err != nil {
		logging.Base().Error("load config", "err", err)
		os.Exit(1)
	}

	log := logging.Init("projector", cfg.App.LogFile, cfg.App.LogLevel)
	log.Info("starting order audit projector",
		"brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic, "group", cfg.Kafka.AuditGroupID)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.ConnectPostgres(cfg.Postgres.DSN, store.PoolConfig{
		MaxOpenConns:    cfg.Postgres.MaxOpenConns,
		MaxIdleConns:    cfg.Postgres.MaxIdleConns,
		ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
	})
	if err != nil {
		log.Error("connect postgres", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	projector := projection.NewProjector(store.NewPostgresAuditStore(db))

	consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.AuditGroupID)
	defer consumer.Close()

	if err := consumer.Consume(ctx, projector.HandleEvent); err != nil && ctx.Err() == nil {
		log.Error("consumer stopped", "err", err)
		os.Exit(1)
	}
	log.Info("shutting down")
}
