package invoices

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/ispbox-backend/internal/ledger"
	"github.com/angelmondragon/ispbox-backend/internal/owners"
	"github.com/angelmondragon/ispbox-backend/pkg/config"
	"github.com/angelmondragon/ispbox-backend/pkg/db"
	"github.com/angelmondragon/ispbox-backend/pkg/db/models"
	"github.com/angelmondragon/ispbox-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/ispbox-backend/pkg/errors"
	"github.com/angelmondragon/ispbox-backend/pkg/logger"
	"github.com/angelmondragon/ispbox-backend/pkg/metrics"
	"github.com/angelmondragon/ispbox-backend/pkg/outbox"
	"github.com/angelmondragon/ispbox-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/ispbox-backend/pkg/pagination"
)

var (
	ErrInvoiceNotFound  = errors.New("invoice not found")
	ErrInvoiceNotUnpaid = errors.New("invoice is not unpaid")
	ErrDuplicatePeriod  = errors.New("invoice already exists for period")
	ErrAlreadyCharged   = errors.New("invoice already charged")
	ErrCodesExhausted   = errors.New("no unique code available")
)

const (
	referenceKind = "invoice"
	// unique codes are stored as a three digit suffix
	maxUniqueCode = 999
)

// Service issues and settles invoices. Generation never touches the ledger;
// charging, paying and settling do, under the owner lock.
type Service interface {
	Generate(ctx context.Context, input GenerateInput) (*models.Invoice, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Invoice, error)
	ListByOwner(ctx context.Context, owner owners.Ref, params pagination.Params) (*InvoicePage, error)
	Cancel(ctx context.Context, id uuid.UUID, reason string) (*models.Invoice, error)
	PostCharge(ctx context.Context, id uuid.UUID) (*models.Invoice, error)
	PayFromBalance(ctx context.Context, id uuid.UUID) (*models.Invoice, error)
	// FindUnpaidByAmount lists up to limit unpaid invoices whose amount is
	// exactly amount.
	FindUnpaidByAmount(ctx context.Context, tx *gorm.DB, amount int64, limit int) ([]models.Invoice, error)
	// SettleTx marks an unpaid invoice paid and credits the owner inside tx.
	// The caller must hold the owner lock.
	SettleTx(ctx context.Context, tx *gorm.DB, input SettleInput) (*Settlement, error)
	LockOwner(owner owners.Ref) func()
}

type GenerateInput struct {
	CustomerID  uuid.UUID   `json:"customer_id" validate:"required"`
	PeriodStart time.Time   `json:"period_start" validate:"required"`
	PeriodEnd   time.Time   `json:"period_end" validate:"required,gtfield=PeriodStart"`
	CouponCode  string      `json:"coupon_code,omitempty"`
	ExtraItems  []ItemInput `json:"extra_items,omitempty" validate:"dive"`
}

type ItemInput struct {
	Name      string `json:"name" validate:"required"`
	UnitPrice int64  `json:"unit_price" validate:"gte=0"`
	Qty       int64  `json:"qty" validate:"gte=1"`
}

type SettleInput struct {
	InvoiceID      uuid.UUID
	Amount         int64
	NotificationID *uuid.UUID
	Actor          *outbox.ActorRef
}

type Settlement struct {
	Invoice *models.Invoice
	Entry   *models.LedgerEntry
}

type InvoicePage struct {
	Invoices   []models.Invoice `json:"invoices"`
	NextCursor string           `json:"next_cursor,omitempty"`
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type ServiceParams struct {
	DB      txRunner
	Repo    Repository
	Owners  owners.Repository
	Ledger  ledger.Service
	Outbox  outboxEmitter
	Logger  *logger.Logger
	Metrics *metrics.Billing
	Config  config.BillingConfig
	Now     func() time.Time
	// IntN returns a value in [0, n). Defaults to math/rand/v2.
	IntN func(n int) int
}

type service struct {
	db      txRunner
	repo    Repository
	owners  owners.Repository
	ledger  ledger.Service
	outbox  outboxEmitter
	logg    *logger.Logger
	metrics *metrics.Billing
	cfg     config.BillingConfig
	taxRate decimal.Decimal
	now     func() time.Time
	intN    func(n int) int
}

func NewService(params ServiceParams) (Service, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("invoice repository required")
	}
	if params.Owners == nil {
		return nil, fmt.Errorf("owners repository required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	cfg := params.Config
	rate, err := decimal.NewFromString(strings.TrimSpace(cfg.TaxRatePercent))
	if err != nil {
		return nil, fmt.Errorf("parse tax rate: %w", err)
	}
	if rate.IsNegative() {
		return nil, fmt.Errorf("tax rate must not be negative")
	}
	if cfg.UniqueCodeMax <= 0 {
		cfg.UniqueCodeMax = maxUniqueCode
	}
	if cfg.UniqueCodeMax > maxUniqueCode {
		return nil, fmt.Errorf("unique code max %d exceeds %d", cfg.UniqueCodeMax, maxUniqueCode)
	}
	if cfg.UniqueCodeAttempts <= 0 {
		cfg.UniqueCodeAttempts = 50
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	intN := params.IntN
	if intN == nil {
		intN = rand.IntN
	}
	return &service{
		db:      params.DB,
		repo:    params.Repo,
		owners:  params.Owners,
		ledger:  params.Ledger,
		outbox:  params.Outbox,
		logg:    params.Logger,
		metrics: params.Metrics,
		cfg:     cfg,
		taxRate: rate.Div(decimal.NewFromInt(100)),
		now:     now,
		intN:    intN,
	}, nil
}

func (s *service) LockOwner(owner owners.Ref) func() {
	return s.ledger.LockOwner(owner)
}

// Generate builds the invoice for one customer period. The unique code is
// picked under the owner lock so two unpaid invoices of the same owner never
// share it.
func (s *service) Generate(ctx context.Context, input GenerateInput) (*models.Invoice, error) {
	if input.CustomerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer id is required")
	}
	if input.PeriodStart.IsZero() || !input.PeriodEnd.After(input.PeriodStart) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "period end must be after period start")
	}
	for _, item := range input.ExtraItems {
		if strings.TrimSpace(item.Name) == "" || item.Qty <= 0 || item.UnitPrice < 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "extra items need a name, a positive qty and a non-negative price")
		}
	}
	owner := owners.Customer(input.CustomerID)
	periodStart := input.PeriodStart.UTC()
	ctx = s.logg.WithOwner(ctx, string(owner.Kind), owner.ID.String())

	unlock := s.ledger.LockOwner(owner)
	defer unlock()

	var invoice *models.Invoice
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		ownerRepo := s.owners.WithTx(tx)

		customer, err := ownerRepo.GetCustomer(ctx, input.CustomerID)
		if err != nil {
			return err
		}
		if customer.PlanID == nil {
			return pkgerrors.New(pkgerrors.CodeValidation, "customer has no plan")
		}
		plan, err := ownerRepo.GetPlan(ctx, *customer.PlanID)
		if err != nil {
			return err
		}

		exists, err := repo.ExistsForPeriod(ctx, owner, periodStart)
		if err != nil {
			return err
		}
		if exists {
			return pkgerrors.Wrap(pkgerrors.CodeStateConflict, ErrDuplicatePeriod, "invoice already exists for period").
				WithDetails(map[string]any{"period_start": periodStart})
		}

		inv := &models.Invoice{
			ID:          uuid.New(),
			OwnerKind:   owner.Kind,
			OwnerID:     owner.ID,
			PeriodStart: periodStart,
			PeriodEnd:   input.PeriodEnd.UTC(),
			DueDate:     periodStart.AddDate(0, 0, s.cfg.DueDays),
			Status:      enums.InvoiceUnpaid,
		}
		inv.Number = invoiceNumber(periodStart)
		inv.Items = append(inv.Items, line(inv.ID, plan.Name, plan.Price, 1))
		for _, item := range input.ExtraItems {
			inv.Items = append(inv.Items, line(inv.ID, strings.TrimSpace(item.Name), item.UnitPrice, item.Qty))
		}
		gross := sumLines(inv.Items)

		if code := strings.ToUpper(strings.TrimSpace(input.CouponCode)); code != "" {
			coupon, discount, err := s.applyCoupon(ctx, repo, code, owner, gross)
			if err != nil {
				return err
			}
			if coupon != nil && discount > 0 {
				inv.CouponID = &coupon.ID
				inv.Discount = discount
				inv.Items = append(inv.Items, line(inv.ID, "Discount "+coupon.Code, -discount, 1))
			}
		}

		inv.Subtotal = sumLines(inv.Items)
		if plan.IsTaxed {
			inv.Tax = s.tax(inv.Subtotal)
		}
		code, err := s.pickUniqueCode(ctx, repo, owner)
		if err != nil {
			return err
		}
		inv.UniqueCode = code
		inv.Amount = inv.Subtotal + inv.Tax + int64(code)

		if err := repo.Create(ctx, inv); err != nil {
			if db.IsUniqueViolation(err, "") {
				return pkgerrors.Wrap(pkgerrors.CodeStateConflict, ErrDuplicatePeriod, "invoice already exists for period")
			}
			return err
		}
		if inv.CouponID != nil {
			if err := repo.CreateCouponUsage(ctx, &models.CouponUsage{
				CouponID:  *inv.CouponID,
				OwnerKind: owner.Kind,
				OwnerID:   owner.ID,
				InvoiceID: inv.ID,
			}); err != nil {
				return err
			}
		}
		invoice = inv
		return s.emit(ctx, tx, enums.EventInvoiceGenerated, inv.ID, nil, payloads.InvoiceGeneratedEvent{
			InvoiceID:   inv.ID,
			Number:      inv.Number,
			OwnerKind:   inv.OwnerKind,
			OwnerID:     inv.OwnerID,
			Amount:      inv.Amount,
			UniqueCode:  inv.UniqueCode,
			DueDate:     inv.DueDate,
			PeriodStart: inv.PeriodStart,
		})
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncInvoice()
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"invoice_id":  invoice.ID.String(),
		"number":      invoice.Number,
		"amount":      invoice.Amount,
		"unique_code": invoice.UniqueCode,
	}), "invoice generated")
	return invoice, nil
}

func line(invoiceID uuid.UUID, name string, unitPrice, qty int64) models.InvoiceItem {
	return models.InvoiceItem{
		ID:        uuid.New(),
		InvoiceID: invoiceID,
		Name:      name,
		UnitPrice: unitPrice,
		Qty:       qty,
		LineTotal: unitPrice * qty,
	}
}

func sumLines(items []models.InvoiceItem) int64 {
	var total int64
	for _, item := range items {
		total += item.LineTotal
	}
	return total
}

func (s *service) tax(subtotal int64) int64 {
	return decimal.NewFromInt(subtotal).Mul(s.taxRate).Round(0).IntPart()
}

// invoiceNumber is k-sortable within a billing month.
func invoiceNumber(periodStart time.Time) string {
	return "INV-" + periodStart.Format("200601") + "-" + ulid.Make().String()
}

// applyCoupon returns a nil coupon when it does not apply. Ineligibility is
// logged and counted, never returned.
func (s *service) applyCoupon(ctx context.Context, repo Repository, code string, owner owners.Ref, gross int64) (*models.Coupon, int64, error) {
	coupon, err := repo.FindCouponByCode(ctx, code)
	if err != nil {
		return nil, 0, err
	}
	var used CouponCounts
	if coupon != nil {
		if used.Total, err = repo.CountCouponUsage(ctx, coupon.ID, nil); err != nil {
			return nil, 0, err
		}
		if used.ForOwner, err = repo.CountCouponUsage(ctx, coupon.ID, &owner); err != nil {
			return nil, 0, err
		}
	}
	discount, err := EvaluateCoupon(coupon, gross, s.now(), used)
	if err != nil {
		var rejection *CouponRejection
		if !errors.As(err, &rejection) {
			return nil, 0, err
		}
		s.metrics.IncCouponSkipped(rejection.Reason)
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
			"coupon": code,
			"reason": rejection.Reason,
		}), "coupon skipped")
		return nil, 0, nil
	}
	return coupon, discount, nil
}

func (s *service) pickUniqueCode(ctx context.Context, repo Repository, owner owners.Ref) (int, error) {
	codes, err := repo.UnpaidCodes(ctx, owner)
	if err != nil {
		return 0, err
	}
	taken := make(map[int]struct{}, len(codes))
	for _, c := range codes {
		taken[c] = struct{}{}
	}
	if len(taken) >= s.cfg.UniqueCodeMax {
		return 0, pkgerrors.Wrap(pkgerrors.CodeStateConflict, ErrCodesExhausted, "owner has too many unpaid invoices")
	}
	for i := 0; i < s.cfg.UniqueCodeAttempts; i++ {
		code := s.intN(s.cfg.UniqueCodeMax) + 1
		if _, used := taken[code]; !used {
			return code, nil
		}
	}
	for code := 1; code <= s.cfg.UniqueCodeMax; code++ {
		if _, used := taken[code]; !used {
			return code, nil
		}
	}
	return 0, pkgerrors.Wrap(pkgerrors.CodeStateConflict, ErrCodesExhausted, "owner has too many unpaid invoices")
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	invoice, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, notFound(id)
	}
	return invoice, nil
}

func notFound(id uuid.UUID) error {
	return pkgerrors.Wrap(pkgerrors.CodeNotFound, ErrInvoiceNotFound, "invoice not found").
		WithDetails(map[string]any{"invoice_id": id.String()})
}

func notUnpaid(inv *models.Invoice) error {
	return pkgerrors.Wrap(pkgerrors.CodeStateConflict, ErrInvoiceNotUnpaid, fmt.Sprintf("invoice is %s", inv.Status)).
		WithDetails(map[string]any{"invoice_id": inv.ID.String(), "status": inv.Status})
}

func (s *service) ListByOwner(ctx context.Context, owner owners.Ref, params pagination.Params) (*InvoicePage, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	limit := pagination.NormalizeLimit(params.Limit)
	invoices, err := s.repo.ListByOwner(ctx, owner, cursor, limit+1)
	if err != nil {
		return nil, err
	}
	page := &InvoicePage{Invoices: invoices}
	if len(invoices) > limit {
		page.Invoices = invoices[:limit]
		last := page.Invoices[limit-1]
		page.NextCursor = pagination.EncodeCursor(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	return page, nil
}

// withInvoice resolves the owner, takes the owner lock and runs fn on the
// row-locked invoice inside one transaction.
func (s *service) withInvoice(ctx context.Context, id uuid.UUID, fn func(tx *gorm.DB, inv *models.Invoice) error) error {
	if id == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "invoice id is required")
	}
	head, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if head == nil {
		return notFound(id)
	}
	unlock := s.ledger.LockOwner(owners.Ref{Kind: head.OwnerKind, ID: head.OwnerID})
	defer unlock()
	return s.db.WithTx(ctx, func(tx *gorm.DB) error {
		inv, err := s.repo.WithTx(tx).FindForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if inv == nil {
			return notFound(id)
		}
		return fn(tx, inv)
	})
}

// Cancel voids an unpaid invoice and frees its coupon redemption. A charged
// invoice gets a compensating credit.
func (s *service) Cancel(ctx context.Context, id uuid.UUID, reason string) (*models.Invoice, error) {
	reason = strings.TrimSpace(reason)
	err := s.withInvoice(ctx, id, func(tx *gorm.DB, inv *models.Invoice) error {
		if inv.Status != enums.InvoiceUnpaid {
			return notUnpaid(inv)
		}
		repo := s.repo.WithTx(tx)
		now := s.now()
		updates := map[string]any{"status": enums.InvoiceCancelled, "cancelled_at": now}
		if reason != "" {
			updates["cancel_reason"] = reason
		}
		ok, err := repo.Transition(ctx, inv.ID, enums.InvoiceUnpaid, updates)
		if err != nil {
			return err
		}
		if !ok {
			return notUnpaid(inv)
		}
		if err := repo.ReleaseCouponUsage(ctx, inv.ID, now); err != nil {
			return err
		}
		if inv.ChargedAt != nil {
			if _, err := s.ledger.PostTx(ctx, tx, ledger.PostInput{
				Owner:       owners.Ref{Kind: inv.OwnerKind, ID: inv.OwnerID},
				Type:        enums.LedgerEntryCredit,
				Amount:      inv.Amount,
				Category:    enums.LedgerCategoryAdjustment,
				Reference:   &ledger.Reference{Kind: referenceKind, ID: inv.ID},
				Description: "cancel " + inv.Number,
			}); err != nil {
				return err
			}
		}
		return s.emit(ctx, tx, enums.EventInvoiceCancelled, inv.ID, nil, payloads.InvoiceCancelledEvent{
			InvoiceID:   inv.ID,
			Reason:      reason,
			CancelledAt: now,
		})
	})
	if err != nil {
		return nil, err
	}
	s.logg.Info(s.logg.WithField(ctx, "invoice_id", id.String()), "invoice cancelled")
	return s.Get(ctx, id)
}

// PostCharge debits the invoice amount from the owner once.
func (s *service) PostCharge(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	err := s.withInvoice(ctx, id, func(tx *gorm.DB, inv *models.Invoice) error {
		if inv.Status != enums.InvoiceUnpaid {
			return notUnpaid(inv)
		}
		entry, err := s.chargeTx(ctx, tx, inv)
		if err != nil {
			return err
		}
		return s.emit(ctx, tx, enums.EventInvoiceCharged, inv.ID, nil, payloads.InvoiceChargedEvent{
			InvoiceID: inv.ID,
			EntryID:   entry.ID,
			Amount:    inv.Amount,
		})
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

func (s *service) chargeTx(ctx context.Context, tx *gorm.DB, inv *models.Invoice) (*models.LedgerEntry, error) {
	ok, err := s.repo.WithTx(tx).MarkCharged(ctx, inv.ID, s.now())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, pkgerrors.Wrap(pkgerrors.CodeStateConflict, ErrAlreadyCharged, "invoice already charged")
	}
	return s.ledger.PostTx(ctx, tx, ledger.PostInput{
		Owner:       owners.Ref{Kind: inv.OwnerKind, ID: inv.OwnerID},
		Type:        enums.LedgerEntryDebit,
		Amount:      inv.Amount,
		Category:    enums.LedgerCategoryInvoiceCharge,
		Reference:   &ledger.Reference{Kind: referenceKind, ID: inv.ID},
		Description: inv.Number,
	})
}

// PayFromBalance settles an uncharged invoice from the owner's balance in a
// single transaction.
func (s *service) PayFromBalance(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	err := s.withInvoice(ctx, id, func(tx *gorm.DB, inv *models.Invoice) error {
		if inv.Status != enums.InvoiceUnpaid {
			return notUnpaid(inv)
		}
		if inv.ChargedAt != nil {
			return pkgerrors.Wrap(pkgerrors.CodeStateConflict, ErrAlreadyCharged, "invoice already charged; settle it with a payment")
		}
		entry, err := s.chargeTx(ctx, tx, inv)
		if err != nil {
			return err
		}
		paidAt := s.now()
		ok, err := s.repo.WithTx(tx).Transition(ctx, inv.ID, enums.InvoiceUnpaid, map[string]any{
			"status":  enums.InvoicePaid,
			"paid_at": paidAt,
		})
		if err != nil {
			return err
		}
		if !ok {
			return notUnpaid(inv)
		}
		return s.emit(ctx, tx, enums.EventInvoicePaid, inv.ID, nil, payloads.InvoicePaidEvent{
			InvoiceID: inv.ID,
			OwnerKind: inv.OwnerKind,
			OwnerID:   inv.OwnerID,
			Amount:    inv.Amount,
			EntryID:   entry.ID,
			PaidAt:    paidAt,
		})
	})
	if err != nil {
		return nil, err
	}
	s.logg.Info(s.logg.WithField(ctx, "invoice_id", id.String()), "invoice paid from balance")
	return s.Get(ctx, id)
}

func (s *service) FindUnpaidByAmount(ctx context.Context, tx *gorm.DB, amount int64, limit int) ([]models.Invoice, error) {
	return s.repo.WithTx(tx).ListUnpaidByAmount(ctx, amount, limit)
}

func (s *service) SettleTx(ctx context.Context, tx *gorm.DB, input SettleInput) (*Settlement, error) {
	if input.Amount <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "settlement amount must be positive")
	}
	repo := s.repo.WithTx(tx)
	inv, err := repo.FindForUpdate(ctx, input.InvoiceID)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, notFound(input.InvoiceID)
	}
	if inv.Status != enums.InvoiceUnpaid {
		return nil, notUnpaid(inv)
	}
	paidAt := s.now()
	ok, err := repo.Transition(ctx, inv.ID, enums.InvoiceUnpaid, map[string]any{
		"status":  enums.InvoicePaid,
		"paid_at": paidAt,
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, notUnpaid(inv)
	}
	entry, err := s.ledger.PostTx(ctx, tx, ledger.PostInput{
		Owner:       owners.Ref{Kind: inv.OwnerKind, ID: inv.OwnerID},
		Type:        enums.LedgerEntryCredit,
		Amount:      input.Amount,
		Category:    enums.LedgerCategoryInvoicePayment,
		Reference:   &ledger.Reference{Kind: referenceKind, ID: inv.ID},
		Description: "payment " + inv.Number,
	})
	if err != nil {
		return nil, err
	}
	inv.Status = enums.InvoicePaid
	inv.PaidAt = &paidAt
	if err := s.emit(ctx, tx, enums.EventInvoicePaid, inv.ID, input.Actor, payloads.InvoicePaidEvent{
		InvoiceID:      inv.ID,
		OwnerKind:      inv.OwnerKind,
		OwnerID:        inv.OwnerID,
		Amount:         input.Amount,
		NotificationID: input.NotificationID,
		EntryID:        entry.ID,
		PaidAt:         paidAt,
	}); err != nil {
		return nil, err
	}
	return &Settlement{Invoice: inv, Entry: entry}, nil
}

func (s *service) emit(ctx context.Context, tx *gorm.DB, eventType enums.OutboxEventType, invoiceID uuid.UUID, actor *outbox.ActorRef, data any) error {
	if s.outbox == nil {
		return nil
	}
	if actor == nil {
		actor = &outbox.ActorRef{Component: "invoices"}
	}
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateInvoice,
		AggregateID:   invoiceID,
		Version:       1,
		Actor:         actor,
		Data:          data,
	})
}
