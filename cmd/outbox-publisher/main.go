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
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/solverpay-backend/internal/dispatch"
	"github.com/angelmondragon/solverpay-backend/pkg/bus"
	"github.com/angelmondragon/solverpay-backend/pkg/config"
	"github.com/angelmondragon/solverpay-backend/pkg/db"
	"github.com/angelmondragon/solverpay-backend/pkg/logger"
	"github.com/angelmondragon/solverpay-backend/pkg/metrics"
	"github.com/angelmondragon/solverpay-backend/pkg/migrate"
	"github.com/angelmondragon/solverpay-backend/pkg/outbox"
	"github.com/angelmondragon/solverpay-backend/pkg/outbox/registry"
	"github.com/angelmondragon/solverpay-backend/pkg/pubsub"
)

const serviceKind = "outbox-publisher"

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: serviceKind})

	if err := godotenv.Load(); err != nil {
		logg.Warn(ctx, ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)
	cfg.Service.Kind = serviceKind

	logg = logger.New(logger.Options{
		ServiceName: serviceKind,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(ctx, "error closing database", err)
		}
	}()
	requireResource(ctx, logg, "dev migrations", migrate.MaybeRunDev(ctx, cfg, logg, dbClient))

	pub, closeTransport, err := openTransport(ctx, cfg, logg)
	requireResource(ctx, logg, "dispatch transport", err)
	defer closeTransport()

	events, err := registry.NewEventRegistry(registry.TopicsFor(cfg))
	requireResource(ctx, logg, "event registry", err)

	service, err := NewService(ServiceParams{
		Config:        cfg,
		Logger:        logg,
		Metrics:       metrics.NewDispatchMetrics(prometheus.DefaultRegisterer),
		DB:            dbClient,
		Publisher:     pub,
		Repository:    outbox.NewRepository(dbClient.DB()),
		Registry:      events,
		DLQRepository: outbox.NewDLQRepository(dbClient.DB()),
	})
	requireResource(ctx, logg, "outbox relay", err)

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	runCtx = logg.WithFields(runCtx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": serviceKind,
		"transport":   cfg.Dispatch.Transport,
	})
	logg.Info(runCtx, "starting outbox publisher")

	group, groupCtx := errgroup.WithContext(runCtx)
	group.Go(func() error { return service.Run(groupCtx) })
	if cfg.Metrics.Enabled {
		group.Go(func() error { return metrics.Serve(groupCtx, cfg.Metrics.WorkerAddr, prometheus.DefaultGatherer) })
	}
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(runCtx, "outbox publisher stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(runCtx, "outbox publisher shutting down gracefully")
}

// openTransport connects the configured dispatch transport and returns its
// publisher with a matching close func.
func openTransport(ctx context.Context, cfg *config.Config, logg *logger.Logger) (publisher, func(), error) {
	if cfg.Dispatch.UsesNATS() {
		conn, err := bus.Connect(cfg.Dispatch.NATSURL, serviceKind)
		if err != nil {
			return nil, nil, fmt.Errorf("connect nats: %w", err)
		}
		pub, err := dispatch.NewNATSPublisher(conn)
		if err != nil {
			conn.Close()
			return nil, nil, err
		}
		return pub, conn.Close, nil
	}

	client, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		return nil, nil, fmt.Errorf("connect pubsub: %w", err)
	}
	pub, err := dispatch.NewPubSubPublisher(client)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return pub, func() {
		pub.Stop()
		if err := client.Close(); err != nil {
			logg.Error(ctx, "error closing pubsub client", err)
		}
	}, nil
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
