// Package app assembles the billing services shared by the api, cron-worker
// and policy-dispatcher binaries.
package app

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/ispbox-backend/internal/fup"
	"github.com/angelmondragon/ispbox-backend/internal/invoices"
	"github.com/angelmondragon/ispbox-backend/internal/ledger"
	"github.com/angelmondragon/ispbox-backend/internal/owners"
	"github.com/angelmondragon/ispbox-backend/internal/payments"
	"github.com/angelmondragon/ispbox-backend/internal/pool"
	"github.com/angelmondragon/ispbox-backend/internal/usage"
	"github.com/angelmondragon/ispbox-backend/internal/vouchers"
	"github.com/angelmondragon/ispbox-backend/pkg/config"
	"github.com/angelmondragon/ispbox-backend/pkg/db"
	"github.com/angelmondragon/ispbox-backend/pkg/logger"
	"github.com/angelmondragon/ispbox-backend/pkg/metrics"
	"github.com/angelmondragon/ispbox-backend/pkg/outbox"
	"github.com/angelmondragon/ispbox-backend/pkg/routerapi"
)

type Params struct {
	Config     *config.Config
	Logger     *logger.Logger
	DB         *db.Client
	Registerer prometheus.Registerer
	// Pusher overrides the router driver built from config.
	Pusher fup.PolicyPusher
}

type Services struct {
	Ledger     ledger.Service
	Pool       pool.Service
	Vouchers   vouchers.Service
	Usage      usage.Service
	Enforcer   fup.Enforcer
	Invoices   invoices.Service
	Reconciler payments.Reconciler
	Outbox     *outbox.Service
	DeadLetter *outbox.DLQService
}

// NewPolicyPusher returns the router API client, or a dry-run pusher when the
// dry-run flag is set or no router URL is configured.
func NewPolicyPusher(cfg *config.Config, logg *logger.Logger) (fup.PolicyPusher, error) {
	if cfg.FeatureFlags.RouterDryRun || cfg.Router.BaseURL == "" {
		return routerapi.NewDryRun(logg), nil
	}
	client, err := routerapi.NewClient(
		cfg.Router.BaseURL,
		routerapi.WithToken(cfg.Router.Token),
		routerapi.WithTimeout(cfg.Router.Timeout),
		routerapi.WithRateLimit(cfg.Router.RateLimit),
	)
	if err != nil {
		return nil, fmt.Errorf("router client: %w", err)
	}
	return client, nil
}

// Build wires repositories and services over a single database client. Each
// metrics collector is registered once on params.Registerer.
func Build(params Params) (*Services, error) {
	if params.Config == nil || params.Logger == nil || params.DB == nil {
		return nil, fmt.Errorf("config, logger and db are required")
	}
	cfg := params.Config
	logg := params.Logger
	reg := params.Registerer
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	conn := params.DB.DB()
	ownerRepo := owners.NewRepository(conn)
	tokenRepo := pool.NewRepository(conn)
	outboxRepo := outbox.NewRepository(conn)
	outboxSvc := outbox.NewService(outboxRepo, logg)
	fupMetrics := metrics.NewFUP(reg)
	billingMetrics := metrics.NewBilling(reg)

	ledgerSvc, err := ledger.NewService(ledger.ServiceParams{
		DB:                  params.DB,
		Repo:                ledger.NewRepository(conn),
		Owners:              ownerRepo,
		Outbox:              outboxSvc,
		Logger:              logg,
		Metrics:             metrics.NewLedger(reg),
		ForcePostCategories: cfg.Ledger.ForcePostCategories,
	})
	if err != nil {
		return nil, fmt.Errorf("ledger service: %w", err)
	}

	poolSvc, err := pool.NewService(pool.ServiceParams{
		DB:         params.DB,
		Repo:       tokenRepo,
		Outbox:     outboxSvc,
		Logger:     logg,
		Metrics:    metrics.NewPool(reg),
		DefaultTTL: cfg.Pool.DefaultReservationTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("pool service: %w", err)
	}

	voucherSvc, err := vouchers.NewService(vouchers.ServiceParams{
		DB:     params.DB,
		Repo:   vouchers.NewRepository(conn),
		Tokens: tokenRepo,
		Pool:   poolSvc,
		Ledger: ledgerSvc,
		Owners: ownerRepo,
		Outbox: outboxSvc,
		Logger: logg,
	})
	if err != nil {
		return nil, fmt.Errorf("voucher service: %w", err)
	}

	pusher := params.Pusher
	if pusher == nil {
		if pusher, err = NewPolicyPusher(cfg, logg); err != nil {
			return nil, err
		}
	}
	enforcer, err := fup.NewEnforcer(fup.EnforcerParams{
		DB:      params.DB,
		Repo:    fup.NewRepository(conn),
		Pusher:  pusher,
		Outbox:  outboxSvc,
		Logger:  logg,
		Metrics: fupMetrics,
		Config:  cfg.FUP,
	})
	if err != nil {
		return nil, fmt.Errorf("fup enforcer: %w", err)
	}

	usageSvc, err := usage.NewService(usage.ServiceParams{
		DB:      params.DB,
		Repo:    usage.NewRepository(conn),
		Pushes:  enforcer,
		Logger:  logg,
		Metrics: fupMetrics,
	})
	if err != nil {
		return nil, fmt.Errorf("usage service: %w", err)
	}

	invoiceSvc, err := invoices.NewService(invoices.ServiceParams{
		DB:      params.DB,
		Repo:    invoices.NewRepository(conn),
		Owners:  ownerRepo,
		Ledger:  ledgerSvc,
		Outbox:  outboxSvc,
		Logger:  logg,
		Metrics: billingMetrics,
		Config:  cfg.Billing,
	})
	if err != nil {
		return nil, fmt.Errorf("invoice service: %w", err)
	}

	reconciler, err := payments.NewService(payments.ServiceParams{
		DB:       params.DB,
		Repo:     payments.NewRepository(conn),
		Invoices: invoiceSvc,
		Outbox:   outboxSvc,
		Logger:   logg,
		Metrics:  billingMetrics,
	})
	if err != nil {
		return nil, fmt.Errorf("payment reconciler: %w", err)
	}

	return &Services{
		Ledger:     ledgerSvc,
		Pool:       poolSvc,
		Vouchers:   voucherSvc,
		Usage:      usageSvc,
		Enforcer:   enforcer,
		Invoices:   invoiceSvc,
		Reconciler: reconciler,
		Outbox:     outboxSvc,
		DeadLetter: outbox.NewDLQService(params.DB, outboxRepo, outbox.NewDLQRepository(conn), logg),
	}, nil
}
