// Package bootstrap holds the start-up sequence shared by every binary:
// environment, config, logger, database and optional Redis.
package bootstrap

import (
	"context"
	"errors"
	"os"
	"slices"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/ispbox-backend/pkg/config"
	"github.com/angelmondragon/ispbox-backend/pkg/db"
	"github.com/angelmondragon/ispbox-backend/pkg/instance"
	"github.com/angelmondragon/ispbox-backend/pkg/logger"
	"github.com/angelmondragon/ispbox-backend/pkg/migrate"
	"github.com/angelmondragon/ispbox-backend/pkg/redis"
)

type options struct {
	redis      bool
	migrations bool
}

type Option func(*options)

// WithRedis dials Redis after the database.
func WithRedis() Option {
	return func(o *options) { o.redis = true }
}

// WithDevMigrations applies pending migrations when the config allows it.
func WithDevMigrations() Option {
	return func(o *options) { o.migrations = true }
}

type closer struct {
	name string
	fn   func() error
}

// Runtime is what a binary gets back once its dependencies are up.
type Runtime struct {
	Config *config.Config
	Logger *logger.Logger
	DB     *db.Client
	Redis  *redis.Client

	closers []closer
}

// Start brings up the runtime for the named service or exits the process.
func Start(ctx context.Context, service string, opts ...Option) *Runtime {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	logg := logger.New(logger.Options{ServiceName: service})
	if err := godotenv.Load(); err != nil {
		logg.Warn(ctx, ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(ctx, "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = service

	rt := &Runtime{
		Config: cfg,
		Logger: NewLogger(service, cfg),
	}

	rt.DB, err = db.New(ctx, cfg.DB, rt.Logger)
	rt.Must(ctx, "failed to bootstrap database", err)
	rt.OnClose("database", rt.DB.Close)

	if o.migrations {
		rt.Must(ctx, "failed to run dev migrations", migrate.MaybeRunDev(ctx, cfg, rt.Logger, rt.DB))
	}

	if o.redis {
		rt.Redis, err = redis.New(ctx, cfg.Redis, rt.Logger)
		rt.Must(ctx, "failed to bootstrap redis", err)
		rt.OnClose("redis", rt.Redis.Close)
	}
	return rt
}

// NewLogger builds the configured service logger.
func NewLogger(service string, cfg *config.Config) *logger.Logger {
	return logger.New(logger.Options{
		ServiceName: service,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
		Static:      map[string]any{"env": cfg.App.Env, "instance": instance.ID()},
	})
}

// Must logs err and exits after releasing what was opened so far.
func (rt *Runtime) Must(ctx context.Context, msg string, err error) {
	if err == nil {
		return
	}
	rt.Logger.Error(ctx, msg, err)
	rt.Close()
	os.Exit(1)
}

// OnClose registers a resource to release on shutdown.
func (rt *Runtime) OnClose(name string, fn func() error) {
	rt.closers = append(rt.closers, closer{name: name, fn: fn})
}

// Close releases resources in reverse order of acquisition.
func (rt *Runtime) Close() {
	ctx := context.Background()
	for _, c := range slices.Backward(rt.closers) {
		if err := c.fn(); err != nil && !errors.Is(err, context.Canceled) {
			rt.Logger.Error(rt.Logger.WithField(ctx, "resource", c.name), "error closing resource", err)
		}
	}
	rt.closers = nil
}
