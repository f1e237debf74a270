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

	"github.com/angelmondragon/solverpay-backend/internal/cron"
	"github.com/angelmondragon/solverpay-backend/internal/jobs"
	"github.com/angelmondragon/solverpay-backend/internal/orchestrator"
	"github.com/angelmondragon/solverpay-backend/internal/ratelimit"
	"github.com/angelmondragon/solverpay-backend/pkg/config"
	"github.com/angelmondragon/solverpay-backend/pkg/db"
	"github.com/angelmondragon/solverpay-backend/pkg/logger"
	"github.com/angelmondragon/solverpay-backend/pkg/metrics"
	"github.com/angelmondragon/solverpay-backend/pkg/migrate"
	"github.com/angelmondragon/solverpay-backend/pkg/outbox"
	"github.com/angelmondragon/solverpay-backend/pkg/redis"
)

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(ctx, ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
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

	err = migrate.MaybeRunDev(ctx, cfg, logg, dbClient)
	requireResource(ctx, logg, "dev migrations", err)

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	requireResource(ctx, logg, "redis", err)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(ctx, "error closing redis", err)
		}
	}()

	// The watchdog never admits new jobs, so it does not share the API gate.
	core, err := orchestrator.Bootstrap(orchestrator.BootstrapParams{
		Config:     cfg,
		DB:         dbClient,
		Gate:       ratelimit.NewMemoryGate(),
		Registerer: prometheus.DefaultRegisterer,
		Logger:     logg,
	})
	requireResource(ctx, logg, "orchestrator", err)

	cronMetrics := metrics.NewCronMetrics(prometheus.DefaultRegisterer)

	watchdog, err := cron.NewJobWatchdogJob(cron.JobWatchdogJobParams{
		Logger:          logg,
		Jobs:            jobs.NewRepository(dbClient.DB()),
		Orchestrator:    core,
		Metrics:         cronMetrics,
		Timeout:         cfg.Jobs.Timeout,
		DispatchTimeout: cfg.Jobs.DispatchTimeout,
		MaxRetries:      cfg.Jobs.MaxRetries,
		BatchSize:       cfg.Jobs.SweepBatchSize,
	})
	requireResource(ctx, logg, "job watchdog", err)

	retention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:           logg,
		Outbox:           outbox.NewRepository(dbClient.DB()),
		DLQ:              outbox.NewDLQRepository(dbClient.DB()),
		RetentionDays:    cfg.Outbox.RetentionDays,
		DLQRetentionDays: cfg.Outbox.DLQRetentionDays,
		BatchSize:        cfg.Outbox.PruneBatchSize,
	})
	requireResource(ctx, logg, "outbox retention job", err)

	registry, err := cron.NewRegistry(watchdog, retention)
	requireResource(ctx, logg, "cron registry", err)

	lock, err := cron.NewRedisLease(redisClient, redisClient.LockKey(lockName(cfg.App.Env)), 2*cfg.Jobs.SweepInterval)
	requireResource(ctx, logg, "cron lock", err)

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  cronMetrics,
		Interval: cfg.Jobs.SweepInterval,
	})
	requireResource(ctx, logg, "cron service", err)

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	runCtx = logg.WithFields(runCtx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"interval":    cfg.Jobs.SweepInterval.String(),
	})
	logg.Info(runCtx, "starting cron worker")

	group, groupCtx := errgroup.WithContext(runCtx)
	group.Go(func() error { return service.Run(groupCtx) })
	if cfg.Metrics.Enabled {
		group.Go(func() error { return metrics.Serve(groupCtx, cfg.Metrics.WorkerAddr, prometheus.DefaultGatherer) })
	}
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(runCtx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(runCtx, "cron worker shutting down gracefully")
}

func lockName(env string) string {
	if env == "" {
		env = "local"
	}
	return "cron-worker:" + env
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
