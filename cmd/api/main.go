package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/ispbox-backend/api/routes"
	"github.com/angelmondragon/ispbox-backend/internal/app"
	"github.com/angelmondragon/ispbox-backend/internal/bootstrap"
	"github.com/angelmondragon/ispbox-backend/pkg/metrics"
)

const (
	shutdownTimeout   = 15 * time.Second
	readHeaderTimeout = 10 * time.Second
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt := bootstrap.Start(ctx, "api", bootstrap.WithDevMigrations(), bootstrap.WithRedis())
	defer rt.Close()
	cfg, logg := rt.Config, rt.Logger

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	svcs, err := app.Build(app.Params{
		Config:     cfg,
		Logger:     logg,
		DB:         rt.DB,
		Registerer: registry,
	})
	rt.Must(ctx, "failed to build services", err)

	// PORT is set by the platform and wins over config
	port := cfg.App.Port
	if env := os.Getenv("PORT"); env != "" {
		port = env
	}

	server := &http.Server{
		Addr: ":" + port,
		Handler: routes.NewRouter(routes.Deps{
			Config:         cfg,
			Logger:         logg,
			DB:             rt.DB,
			Redis:          rt.Redis,
			MetricsHandler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),
			HTTPMetrics:    metrics.NewHTTP(registry),
			Ledger:         svcs.Ledger,
			Pool:           svcs.Pool,
			Vouchers:       svcs.Vouchers,
			Usage:          svcs.Usage,
			Enforcer:       svcs.Enforcer,
			Invoices:       svcs.Invoices,
			Reconciler:     svcs.Reconciler,
			DeadLetter:     svcs.DeadLetter,
		}),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	serveCtx := logg.WithField(ctx, "addr", server.Addr)
	logg.Info(serveCtx, "starting api server")

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			rt.Must(serveCtx, "api server stopped unexpectedly", err)
		}
	case <-ctx.Done():
	}

	logg.Info(serveCtx, "api server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logg.Error(serveCtx, "api server shutdown failed", err)
	}
	// in-flight policy pushes finish before the database closes
	svcs.Enforcer.Wait()
	logg.Info(serveCtx, "api server stopped")
}
