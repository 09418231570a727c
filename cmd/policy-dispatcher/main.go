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
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt := bootstrap.Start(ctx, "policy-dispatcher")
	defer rt.Close()
	cfg, logg := rt.Config, rt.Logger

	svcs, err := app.Build(app.Params{
		Config:     cfg,
		Logger:     logg,
		DB:         rt.DB,
		Registerer: prometheus.DefaultRegisterer,
	})
	rt.Must(ctx, "failed to build services", err)

	dispatcher, err := NewDispatcher(DispatcherParams{
		Logger:       logg,
		Enforcer:     svcs.Enforcer,
		PollInterval: cfg.FUP.DispatchPollInterval,
		BatchSize:    cfg.FUP.DispatchBatchSize,
	})
	rt.Must(ctx, "failed to create policy dispatcher", err)

	runCtx := logg.WithField(ctx, "dry_run", cfg.FeatureFlags.RouterDryRun || cfg.Router.BaseURL == "")
	logg.Info(runCtx, "starting policy dispatcher")
	if err := dispatcher.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		rt.Must(runCtx, "policy dispatcher stopped unexpectedly", err)
	}
	// pushes started by the last drain finish before the database closes
	svcs.Enforcer.Wait()
	logg.Info(runCtx, "policy dispatcher shutting down gracefully")
}
