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
	"github.com/angelmondragon/solverpay-backend/internal/orchestrator"
	"github.com/angelmondragon/solverpay-backend/internal/ratelimit"
	"github.com/angelmondragon/solverpay-backend/pkg/bus"
	"github.com/angelmondragon/solverpay-backend/pkg/config"
	"github.com/angelmondragon/solverpay-backend/pkg/db"
	"github.com/angelmondragon/solverpay-backend/pkg/instance"
	"github.com/angelmondragon/solverpay-backend/pkg/logger"
	"github.com/angelmondragon/solverpay-backend/pkg/metrics"
	"github.com/angelmondragon/solverpay-backend/pkg/migrate"
	"github.com/angelmondragon/solverpay-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/solverpay-backend/pkg/outbox/registry"
	"github.com/angelmondragon/solverpay-backend/pkg/pubsub"
	"github.com/angelmondragon/solverpay-backend/pkg/redis"
)

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "worker"})

	_ = godotenv.Load()

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	cfg.Service.Kind = "worker"

	logg = logger.New(logger.Options{
		ServiceName: "worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(ctx, "failed to close database", err)
		}
	}()

	err = migrate.MaybeRunDev(ctx, cfg, logg, dbClient)
	requireResource(ctx, logg, "dev migrations", err)

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	requireResource(ctx, logg, "redis", err)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(ctx, "failed to close redis client", err)
		}
	}()

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	core, err := orchestrator.Bootstrap(orchestrator.BootstrapParams{
		Config:     cfg,
		DB:         dbClient,
		Gate:       ratelimit.FromConfig(runCtx, cfg.RateLimit, redisClient),
		Registerer: prometheus.DefaultRegisterer,
		Logger:     logg,
	})
	requireResource(ctx, logg, "orchestrator", err)

	manager, err := idempotency.NewManager(redisClient, cfg.Eventing.IdempotencyTTL)
	requireResource(ctx, logg, "idempotency manager", err)

	consumer, err := dispatch.NewOutcomeConsumer(core, registry.NewOutcomeDecoderRegistry(), manager, logg)
	requireResource(ctx, logg, "outcome consumer", err)

	readiness := map[string]pinger{
		"database": dbClient.Ping,
		"redis":    redisClient.Ping,
	}
	sources := map[string]source{}

	if cfg.Dispatch.UsesNATS() {
		natsClient, err := bus.Connect(cfg.Dispatch.NATSURL, "worker-"+instance.GetID())
		requireResource(ctx, logg, "nats", err)
		defer natsClient.Close()

		src, err := dispatch.NewNATSSource(natsClient, cfg.Dispatch.NATSOutcomesSubj, cfg.Dispatch.NATSQueueGroup, consumer, logg)
		requireResource(ctx, logg, "nats outcomes source", err)
		readiness["nats"] = natsClient.Ping
		sources["nats-outcomes"] = src
	} else {
		pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
		requireResource(ctx, logg, "pubsub", err)
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logg.Error(ctx, "failed to close pubsub client", err)
			}
		}()

		src, err := dispatch.NewPubSubSource(pubsubClient.OutcomesSubscription(), consumer)
		requireResource(ctx, logg, "outcomes subscription", err)
		readiness["pubsub"] = pubsubClient.Ping
		sources["pubsub-outcomes"] = src
	}

	service, err := NewService(ServiceParams{
		Logger:     logg,
		InstanceID: instance.GetID(),
		Readiness:  readiness,
		Sources:    sources,
	})
	requireResource(ctx, logg, "worker service", err)

	runCtx = logg.WithFields(runCtx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"transport":   cfg.Dispatch.Transport,
	})
	logg.Info(runCtx, "worker ready")

	group, groupCtx := errgroup.WithContext(runCtx)
	group.Go(func() error { return service.Run(groupCtx) })
	if cfg.Metrics.Enabled {
		group.Go(func() error { return metrics.Serve(groupCtx, cfg.Metrics.WorkerAddr, prometheus.DefaultGatherer) })
	}
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(runCtx, "worker failed", err)
		os.Exit(1)
	}
	logg.Info(runCtx, "worker shutting down gracefully")
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
