package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/ispbox-backend/internal/app"
	"github.com/angelmondragon/ispbox-backend/internal/bootstrap"
	"github.com/angelmondragon/ispbox-backend/internal/cron"
	"github.com/angelmondragon/ispbox-backend/pkg/config"
	"github.com/angelmondragon/ispbox-backend/pkg/db"
	"github.com/angelmondragon/ispbox-backend/pkg/logger"
	"github.com/angelmondragon/ispbox-backend/pkg/metrics"
	"github.com/angelmondragon/ispbox-backend/pkg/outbox"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt := bootstrap.Start(ctx, "cron-worker", bootstrap.WithDevMigrations(), bootstrap.WithRedis())
	defer rt.Close()
	cfg, logg := rt.Config, rt.Logger

	svcs, err := app.Build(app.Params{
		Config:     cfg,
		Logger:     logg,
		DB:         rt.DB,
		Registerer: prometheus.DefaultRegisterer,
	})
	rt.Must(ctx, "failed to build services", err)

	registry, err := buildRegistry(cfg, logg, rt.DB, svcs)
	rt.Must(ctx, "failed to register cron jobs", err)

	locker, err := cron.NewRedisLocker(rt.Redis, cfg.Cron.LockTTL)
	rt.Must(ctx, "failed to create cron locker", err)

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Locker:   locker,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Tick:     cfg.Cron.Interval,
	})
	rt.Must(ctx, "failed to create cron service", err)

	runCtx := logg.WithField(ctx, "jobs", registry.Names())
	logg.Info(runCtx, "starting cron worker")
	if err := service.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		rt.Must(runCtx, "cron worker stopped unexpectedly", err)
	}

	// pushes queued by cycle resets finish before shutdown
	svcs.Enforcer.Wait()
	logg.Info(runCtx, "cron worker shutting down gracefully")
}

func buildRegistry(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, svcs *app.Services) (*cron.Registry, error) {
	sweep, err := cron.NewReservationSweepJob(logg, svcs.Pool, cfg.Pool.SweepBatchSize)
	if err != nil {
		return nil, err
	}
	cycles, err := cron.NewUsageCycleResetJob(logg, svcs.Usage, cfg.Cron.BatchSize)
	if err != nil {
		return nil, err
	}
	expiry, err := cron.NewVoucherExpiryJob(logg, svcs.Vouchers, cfg.Cron.BatchSize)
	if err != nil {
		return nil, err
	}
	retention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:           logg,
		DB:               dbClient,
		Repository:       outbox.NewRepository(dbClient.DB()),
		RetentionDays:    cfg.Cron.OutboxRetentionDays,
		TerminalAttempts: cfg.Outbox.MaxAttempts,
		BatchSize:        cfg.Cron.BatchSize,
	})
	if err != nil {
		return nil, err
	}

	registry := cron.NewRegistry()
	for _, s := range []cron.Schedule{
		{Job: sweep, Every: cfg.Cron.SweepEvery},
		{Job: cycles, Every: cfg.Cron.CycleResetEvery},
		{Job: expiry, Every: cfg.Cron.VoucherExpiryEvery},
		{Job: retention, Every: cfg.Cron.OutboxRetentionEvery},
	} {
		if err := registry.Register(s.Job, s.Every); err != nil {
			return nil, err
		}
	}
	return registry, nil
}
