package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/angelmondragon/ispbox-backend/internal/bootstrap"
	"github.com/angelmondragon/ispbox-backend/pkg/outbox"
	"github.com/angelmondragon/ispbox-backend/pkg/outbox/registry"
	"github.com/angelmondragon/ispbox-backend/pkg/pubsub"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt := bootstrap.Start(ctx, "outbox-publisher", bootstrap.WithDevMigrations())
	defer rt.Close()
	cfg, logg := rt.Config, rt.Logger

	events, err := registry.NewEventRegistry(cfg.PubSub)
	rt.Must(ctx, "failed to build event registry", err)

	// topics are checked (and created when allowed) before the first poll
	client, err := pubsub.NewClient(ctx, pubsub.Params{
		GCP:    cfg.GCP,
		Config: cfg.PubSub,
		Topics: events.Topics(),
		Logger: logg,
	})
	rt.Must(ctx, "failed to bootstrap pubsub", err)
	rt.OnClose("pubsub", client.Close)

	relay, err := NewRelay(RelayParams{
		Config:        cfg,
		Logger:        logg,
		DB:            rt.DB,
		PubSub:        client,
		Repository:    outbox.NewRepository(rt.DB.DB()),
		Registry:      events,
		DLQRepository: outbox.NewDLQRepository(rt.DB.DB()),
	})
	rt.Must(ctx, "failed to create outbox relay", err)

	logg.Info(logg.WithField(ctx, "topics", events.Topics()), "starting outbox publisher")
	if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		rt.Must(ctx, "outbox publisher stopped unexpectedly", err)
	}
	logg.Info(ctx, "outbox publisher shutting down gracefully")
}
