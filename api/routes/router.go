package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/ispbox-backend/api/controllers"
	"github.com/angelmondragon/ispbox-backend/api/middleware"
	"github.com/angelmondragon/ispbox-backend/api/responses"
	"github.com/angelmondragon/ispbox-backend/internal/fup"
	"github.com/angelmondragon/ispbox-backend/internal/invoices"
	"github.com/angelmondragon/ispbox-backend/internal/ledger"
	"github.com/angelmondragon/ispbox-backend/internal/payments"
	"github.com/angelmondragon/ispbox-backend/internal/pool"
	"github.com/angelmondragon/ispbox-backend/internal/usage"
	"github.com/angelmondragon/ispbox-backend/internal/vouchers"
	"github.com/angelmondragon/ispbox-backend/pkg/config"
	"github.com/angelmondragon/ispbox-backend/pkg/db"
	pkgerrors "github.com/angelmondragon/ispbox-backend/pkg/errors"
	"github.com/angelmondragon/ispbox-backend/pkg/logger"
	"github.com/angelmondragon/ispbox-backend/pkg/metrics"
	"github.com/angelmondragon/ispbox-backend/pkg/redis"
)

// Deps are the collaborators the HTTP surface needs. Redis may be nil, in
// which case idempotent replay and webhook rate limiting are disabled.
type Deps struct {
	Config         *config.Config
	Logger         *logger.Logger
	DB             db.Pinger
	Redis          *redis.Client
	MetricsHandler http.Handler
	HTTPMetrics    *metrics.HTTP

	Ledger     ledger.Service
	Pool       pool.Service
	Vouchers   vouchers.Service
	Usage      usage.Service
	Enforcer   fup.Enforcer
	Invoices   invoices.Service
	Reconciler payments.Reconciler
	DeadLetter controllers.DeadLetterService
}

func NewRouter(d Deps) http.Handler {
	cfg, logg := d.Config, d.Logger
	dbP, redisClient, metricsHandler := d.DB, d.Redis, d.MetricsHandler
	ledgerService, poolService, voucherService := d.Ledger, d.Pool, d.Vouchers
	usageService, enforcer, invoiceService, reconciler := d.Usage, d.Enforcer, d.Invoices, d.Reconciler

	r := chi.NewRouter()
	r.Use(
		middleware.RequestID(logg),
		middleware.Logging(logg, d.HTTPMetrics),
		middleware.Recoverer(logg),
		middleware.CORS(cfg.App.CORSOrigins),
		middleware.Operator(logg),
	)
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		responses.WriteError(req.Context(), nil, w, pkgerrors.Newf(pkgerrors.CodeNotFound, "no route for %s %s", req.Method, req.URL.Path))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusMethodNotAllowed)
	})

	// a typed nil client must not reach the middleware as a non-nil interface
	var (
		idempotencyStore redis.IdempotencyStore
		ready            = map[string]controllers.Pinger{}
	)
	if dbP != nil {
		ready["database"] = dbP
	}
	if redisClient != nil {
		idempotencyStore = redisClient
		ready["redis"] = redisClient
	}
	idem := middleware.NewIdempotency(idempotencyStore, logg, middleware.WithCriticalTTL(cfg.Eventing.WebhookReplayTTL))
	idempotent, moneyMoving := idem.Standard(), idem.Critical()

	webhookPolicy := middleware.NewRateLimitPolicy(
		"payments_webhook",
		cfg.Eventing.WebhookRateWindow,
		cfg.Eventing.WebhookRateLimit,
		cfg.Eventing.WebhookRateLimit,
	)
	webhookLimiter := func(next http.Handler) http.Handler { return next }
	if redisClient != nil {
		webhookLimiter = middleware.RateLimit(webhookPolicy, redisClient, logg)
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, ready))
	})
	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/ledger", func(r chi.Router) {
			r.Post("/entries/{entryId}/reverse", controllers.LedgerReverse(ledgerService, logg))
			r.Route("/{ownerKind}/{ownerId}", func(r chi.Router) {
				r.With(idempotent).Post("/entries", controllers.LedgerPost(ledgerService, logg))
				r.Get("/entries", controllers.LedgerEntries(ledgerService, logg))
				r.Get("/balance", controllers.LedgerBalance(ledgerService, logg))
				r.Get("/verify", controllers.LedgerVerify(ledgerService, logg))
				r.Get("/invoices", controllers.InvoiceList(invoiceService, logg))
			})
		})

		r.Route("/pools", func(r chi.Router) {
			r.Post("/", controllers.PoolCreate(poolService, logg))
			r.Get("/{poolId}", controllers.PoolStats(poolService, logg))
			r.Get("/{poolId}/tokens", controllers.PoolTokenLookup(poolService, logg))
			r.Post("/{poolId}/ip-range", controllers.PoolAddIPRange(poolService, logg))
			r.With(idempotent).Post("/{poolId}/allocate", controllers.PoolAllocate(poolService, logg))
		})
		r.Route("/tokens/{tokenId}", func(r chi.Router) {
			r.Post("/confirm", controllers.TokenConfirm(poolService, logg))
			r.Post("/release", controllers.TokenRelease(poolService, logg))
			r.Post("/redeem", controllers.TokenRedeem(poolService, logg))
			r.Post("/disable", controllers.TokenDisable(poolService, logg))
			r.Post("/expire", controllers.TokenExpire(poolService, logg))
		})

		r.Route("/voucher-batches", func(r chi.Router) {
			r.Post("/", controllers.VoucherBatchCreate(voucherService, logg))
			r.Get("/{batchId}", controllers.VoucherBatchGet(voucherService, logg))
			r.With(idempotent).Post("/{batchId}/sell", controllers.VoucherBatchSell(voucherService, logg))
			r.Post("/{batchId}/cancel", controllers.VoucherBatchCancel(voucherService, logg))
		})
		r.Post("/vouchers/redeem", controllers.VoucherRedeem(voucherService, logg))

		r.Route("/usage/{customerId}", func(r chi.Router) {
			r.Get("/", controllers.UsageGet(usageService, logg))
			r.With(idempotent).Post("/accounting", controllers.UsageAccounting(usageService, logg))
			r.Post("/reset", controllers.UsageReset(usageService, logg))
			r.Get("/policy-pushes", controllers.UsagePolicyPushes(enforcer, logg))
		})

		r.Route("/invoices", func(r chi.Router) {
			r.With(idempotent).Post("/", controllers.InvoiceGenerate(invoiceService, logg))
			r.Get("/{invoiceId}", controllers.InvoiceGet(invoiceService, logg))
			r.Post("/{invoiceId}/cancel", controllers.InvoiceCancel(invoiceService, logg))
			r.Post("/{invoiceId}/charge", controllers.InvoiceCharge(invoiceService, logg))
			r.With(moneyMoving).Post("/{invoiceId}/pay-from-balance", controllers.InvoicePayFromBalance(invoiceService, logg))
		})

		r.Route("/webhooks", func(r chi.Router) {
			r.With(
				middleware.PaymentSource(cfg.Billing.PaymentSourceHeader, payments.DefaultSource, logg),
				webhookLimiter,
				moneyMoving,
			).Post("/payments", controllers.PaymentWebhook(reconciler, logg))
		})

		r.Route("/payments/unmatched", func(r chi.Router) {
			r.Get("/", controllers.PaymentsUnmatched(reconciler, logg))
			r.With(moneyMoving).Post("/{notificationId}/resolve", controllers.PaymentResolve(reconciler, logg))
		})

		r.Route("/outbox/dead-letters", func(r chi.Router) {
			r.Get("/", controllers.DeadLetterList(d.DeadLetter, logg))
			r.Post("/{eventId}/replay", controllers.DeadLetterReplay(d.DeadLetter, logg))
		})
	})

	return r
}
