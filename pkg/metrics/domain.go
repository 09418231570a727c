package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Ledger counts posted entries and rejected debits.
type Ledger struct {
	posts      *prometheus.CounterVec
	rejections *prometheus.CounterVec
	drift      prometheus.Counter
}

func NewLedger(reg prometheus.Registerer) *Ledger {
	if reg == nil {
		return &Ledger{}
	}
	posts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_posts_total",
		Help: "Ledger entries committed by type and category.",
	}, []string{"type", "category"})
	rejections := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_rejections_total",
		Help: "Ledger posts rejected before commit.",
	}, []string{"reason"})
	drift := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ledger_cached_balance_drift_total",
		Help: "Posts that found the cached owner balance out of sync with the journal.",
	})
	reg.MustRegister(posts, rejections, drift)
	return &Ledger{posts: posts, rejections: rejections, drift: drift}
}

func (l *Ledger) IncPost(entryType, category string) {
	if l == nil || l.posts == nil {
		return
	}
	l.posts.WithLabelValues(normalizeLabel(entryType), normalizeLabel(category)).Inc()
}

func (l *Ledger) IncRejection(reason string) {
	if l == nil || l.rejections == nil {
		return
	}
	l.rejections.WithLabelValues(normalizeLabel(reason)).Inc()
}

func (l *Ledger) IncDrift() {
	if l == nil || l.drift == nil {
		return
	}
	l.drift.Inc()
}

// Pool tracks allocator outcomes per pool kind.
type Pool struct {
	allocations *prometheus.CounterVec
	exhausted   *prometheus.CounterVec
	expired     *prometheus.CounterVec
}

func NewPool(reg prometheus.Registerer) *Pool {
	if reg == nil {
		return &Pool{}
	}
	allocations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pool_allocations_total",
		Help: "Tokens handed out by pool kind and resulting state.",
	}, []string{"kind", "state"})
	exhausted := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pool_exhausted_total",
		Help: "Allocation attempts that found no claimable token.",
	}, []string{"kind"})
	expired := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pool_reservations_expired_total",
		Help: "Reservations reclaimed after their TTL elapsed.",
	}, []string{"kind"})
	reg.MustRegister(allocations, exhausted, expired)
	return &Pool{allocations: allocations, exhausted: exhausted, expired: expired}
}

func (p *Pool) IncAllocation(kind, state string) {
	if p == nil || p.allocations == nil {
		return
	}
	p.allocations.WithLabelValues(normalizeLabel(kind), normalizeLabel(state)).Inc()
}

func (p *Pool) IncExhausted(kind string) {
	if p == nil || p.exhausted == nil {
		return
	}
	p.exhausted.WithLabelValues(normalizeLabel(kind)).Inc()
}

func (p *Pool) IncExpired(kind string) {
	if p == nil || p.expired == nil {
		return
	}
	p.expired.WithLabelValues(normalizeLabel(kind)).Inc()
}

// FUP tracks threshold crossings and router push outcomes.
type FUP struct {
	activations  prometheus.Counter
	resets       prometheus.Counter
	pushes       *prometheus.CounterVec
	pushFailures prometheus.Counter
}

func NewFUP(reg prometheus.Registerer) *FUP {
	if reg == nil {
		return &FUP{}
	}
	activations := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fup_activations_total",
		Help: "Quota threshold crossings that switched a customer to the FUP profile.",
	})
	resets := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fup_cycle_resets_total",
		Help: "Usage cycles reset.",
	})
	pushes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fup_policy_pushes_total",
		Help: "Policy push attempts by outcome.",
	}, []string{"outcome"})
	pushFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fup_policy_push_failures_total",
		Help: "Policy pushes that exhausted their retry budget.",
	})
	reg.MustRegister(activations, resets, pushes, pushFailures)
	return &FUP{activations: activations, resets: resets, pushes: pushes, pushFailures: pushFailures}
}

func (f *FUP) IncActivation() {
	if f == nil || f.activations == nil {
		return
	}
	f.activations.Inc()
}

func (f *FUP) IncReset() {
	if f == nil || f.resets == nil {
		return
	}
	f.resets.Inc()
}

func (f *FUP) IncPush(outcome string) {
	if f == nil || f.pushes == nil {
		return
	}
	f.pushes.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (f *FUP) IncPushFailure() {
	if f == nil || f.pushFailures == nil {
		return
	}
	f.pushFailures.Inc()
}

// Billing covers invoice generation and payment matching.
type Billing struct {
	invoices        prometheus.Counter
	couponsSkipped  *prometheus.CounterVec
	paymentsMatched *prometheus.CounterVec
}

func NewBilling(reg prometheus.Registerer) *Billing {
	if reg == nil {
		return &Billing{}
	}
	invoices := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "billing_invoices_generated_total",
		Help: "Invoices generated.",
	})
	couponsSkipped := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_coupons_skipped_total",
		Help: "Coupons ignored during generation by reason.",
	}, []string{"reason"})
	paymentsMatched := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_payment_notifications_total",
		Help: "Payment notifications by match status.",
	}, []string{"status"})
	reg.MustRegister(invoices, couponsSkipped, paymentsMatched)
	return &Billing{invoices: invoices, couponsSkipped: couponsSkipped, paymentsMatched: paymentsMatched}
}

func (b *Billing) IncInvoice() {
	if b == nil || b.invoices == nil {
		return
	}
	b.invoices.Inc()
}

func (b *Billing) IncCouponSkipped(reason string) {
	if b == nil || b.couponsSkipped == nil {
		return
	}
	b.couponsSkipped.WithLabelValues(normalizeLabel(reason)).Inc()
}

func (b *Billing) IncPayment(status string) {
	if b == nil || b.paymentsMatched == nil {
		return
	}
	b.paymentsMatched.WithLabelValues(normalizeLabel(status)).Inc()
}
