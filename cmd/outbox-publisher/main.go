package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/angelmondragon/unimart-backend/internal/relay"
	"github.com/angelmondragon/unimart-backend/pkg/config"
	"github.com/angelmondragon/unimart-backend/pkg/db"
	"github.com/angelmondragon/unimart-backend/pkg/logger"
	"github.com/angelmondragon/unimart-backend/pkg/metrics"
	"github.com/angelmondragon/unimart-backend/pkg/migrate"
	"github.com/angelmondragon/unimart-backend/pkg/outbox"
	"github.com/angelmondragon/unimart-backend/pkg/outbox/registry"
	"github.com/angelmondragon/unimart-backend/pkg/pubsub"
)

const serviceKind = "outbox-publisher"

func main() {
	logg := logger.New(logger.Options{ServiceName: serviceKind})
	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = serviceKind
	logg = logger.New(logger.Options{
		ServiceName: serviceKind,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": serviceKind,
		"instance":    cfg.Service.Instance(),
	})

	if err := run(ctx, cfg, logg); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "outbox publisher stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "outbox publisher shut down")
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger) error {
	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return err
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(ctx, "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return err
	}

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		return err
	}
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logg.Error(ctx, "error closing pubsub client", err)
		}
	}()

	eventRegistry, err := registry.NewEventRegistry(cfg.PubSub)
	if err != nil {
		return err
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector())
	go func() {
		if err := metrics.Serve(ctx, cfg.Service.MetricsAddr, promRegistry, logg); err != nil {
			logg.Error(ctx, "metrics listener stopped", err)
		}
	}()

	broker := relay.NewPubSubBroker(pubsubClient)
	defer broker.Stop()
	for _, topic := range eventRegistry.Topics() {
		if broker.Topic(topic) == nil {
			return fmt.Errorf("no publisher for topic %s", topic)
		}
	}

	r, err := relay.New(relay.Params{
		DB:       dbClient,
		Broker:   broker,
		Events:   outbox.NewRepository(dbClient.DB()),
		Registry: eventRegistry,
		Metrics:  metrics.NewRelayMetrics(promRegistry),
		Logger:   logg,
		Outbox:   cfg.Outbox,
	})
	if err != nil {
		return err
	}

	logg.Info(ctx, "starting outbox publisher")
	return r.Run(ctx)
}
