package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"gorm.io/gorm"

	"github.com/angelmondragon/ispbox-backend/internal/invoices"
	"github.com/angelmondragon/ispbox-backend/internal/owners"
	"github.com/angelmondragon/ispbox-backend/pkg/db"
	"github.com/angelmondragon/ispbox-backend/pkg/db/models"
	dbtypes "github.com/angelmondragon/ispbox-backend/pkg/db/types"
	"github.com/angelmondragon/ispbox-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/ispbox-backend/pkg/errors"
	"github.com/angelmondragon/ispbox-backend/pkg/logger"
	"github.com/angelmondragon/ispbox-backend/pkg/metrics"
	"github.com/angelmondragon/ispbox-backend/pkg/outbox"
	"github.com/angelmondragon/ispbox-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/ispbox-backend/pkg/pagination"
)

// MatchStatus is the outcome reported to the gateway.
type MatchStatus string

const (
	MatchStatusMatched MatchStatus = "matched"
	MatchStatusNoMatch MatchStatus = "no_match"
)

const DefaultSource = "bank_transfer"

// maxCandidates bounds how many same-amount invoices a parked notification
// remembers.
const maxCandidates = 5

var (
	ErrNotificationNotFound = errors.New("payment notification not found")
	ErrAlreadyResolved      = errors.New("payment notification already resolved")
)

// Reconciler matches inbound transfers to unpaid invoices by exact amount.
// Anything ambiguous is parked for an operator, never guessed.
type Reconciler interface {
	MatchPayment(ctx context.Context, input MatchInput) (*MatchResult, error)
	ListUnmatched(ctx context.Context, params pagination.Params) (*NotificationPage, error)
	Resolve(ctx context.Context, input ResolveInput) (*MatchResult, error)
}

type MatchInput struct {
	Source       string `json:"source"`
	Amount       int64  `json:"amount" validate:"gt=0"`
	RawReference string `json:"raw_reference" validate:"required"`
}

type ResolveInput struct {
	NotificationID uuid.UUID `json:"-"`
	InvoiceID      uuid.UUID `json:"invoice_id" validate:"required"`
	Operator       string    `json:"operator" validate:"required"`
}

type MatchResult struct {
	Status       MatchStatus                 `json:"status"`
	Invoice      *models.Invoice             `json:"invoice,omitempty"`
	Notification *models.PaymentNotification `json:"notification"`
	// Replayed is true when the notification was seen before.
	Replayed bool `json:"replayed"`
}

type NotificationPage struct {
	Notifications []models.PaymentNotification `json:"notifications"`
	NextCursor    string                       `json:"next_cursor,omitempty"`
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type ServiceParams struct {
	DB       txRunner
	Repo     Repository
	Invoices invoices.Service
	Outbox   outboxEmitter
	Logger   *logger.Logger
	Metrics  *metrics.Billing
	Now      func() time.Time
}

type service struct {
	db       txRunner
	repo     Repository
	invoices invoices.Service
	outbox   outboxEmitter
	logg     *logger.Logger
	metrics  *metrics.Billing
	now      func() time.Time
}

func NewService(params ServiceParams) (Reconciler, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("payment repository required")
	}
	if params.Invoices == nil {
		return nil, fmt.Errorf("invoice service required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &service{
		db:       params.DB,
		repo:     params.Repo,
		invoices: params.Invoices,
		outbox:   params.Outbox,
		logg:     params.Logger,
		metrics:  params.Metrics,
		now:      now,
	}, nil
}

// MatchPayment records the notification once per (source, raw reference).
// Exactly one unpaid invoice with an equal amount settles; zero or several
// candidates park the notification as no_match.
func (s *service) MatchPayment(ctx context.Context, input MatchInput) (*MatchResult, error) {
	input.Source = strings.TrimSpace(input.Source)
	if input.Source == "" {
		input.Source = DefaultSource
	}
	input.RawReference = strings.TrimSpace(input.RawReference)
	if input.RawReference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "raw reference is required")
	}
	if input.Amount <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"source":        input.Source,
		"raw_reference": input.RawReference,
		"amount":        input.Amount,
	})

	if replay, err := s.replay(ctx, input); err != nil || replay != nil {
		return replay, err
	}

	candidates, err := s.invoices.FindUnpaidByAmount(ctx, nil, input.Amount, maxCandidates)
	if err != nil {
		return nil, err
	}

	var result *MatchResult
	if len(candidates) == 1 {
		target := candidates[0]
		unlock := s.invoices.LockOwner(owners.Ref{Kind: target.OwnerKind, ID: target.OwnerID})
		err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
			current, err := s.invoices.FindUnpaidByAmount(ctx, tx, input.Amount, maxCandidates)
			if err != nil {
				return err
			}
			if len(current) != 1 || current[0].ID != target.ID {
				result, err = s.park(ctx, tx, input, current)
				return err
			}
			result, err = s.settle(ctx, tx, input, target.ID)
			return err
		})
		unlock()
	} else {
		err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
			var err error
			result, err = s.park(ctx, tx, input, candidates)
			return err
		})
	}
	if err != nil {
		if db.IsUniqueViolation(err, "") {
			if replay, rerr := s.replay(ctx, input); rerr == nil && replay != nil {
				return replay, nil
			}
		}
		return nil, err
	}

	s.metrics.IncPayment(string(result.Status))
	if result.Status == MatchStatusMatched {
		s.logg.Info(s.logg.WithField(ctx, "invoice_id", result.Invoice.ID.String()), "payment matched")
	} else {
		s.logg.Warn(ctx, "payment queued for manual review")
	}
	return result, nil
}

func (s *service) replay(ctx context.Context, input MatchInput) (*MatchResult, error) {
	existing, err := s.repo.FindByReference(ctx, input.Source, input.RawReference)
	if err != nil || existing == nil {
		return nil, err
	}
	if existing.Amount != input.Amount {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "reference already recorded with a different amount").
			WithDetails(map[string]any{"notification_id": existing.ID.String()})
	}
	result := &MatchResult{Status: MatchStatusNoMatch, Notification: existing, Replayed: true}
	if existing.InvoiceID != nil {
		inv, err := s.invoices.Get(ctx, *existing.InvoiceID)
		if err != nil {
			return nil, err
		}
		result.Invoice = inv
	}
	switch existing.Status {
	case enums.PaymentNotificationMatched, enums.PaymentNotificationResolved:
		result.Status = MatchStatusMatched
	}
	return result, nil
}

func (s *service) settle(ctx context.Context, tx *gorm.DB, input MatchInput, invoiceID uuid.UUID) (*MatchResult, error) {
	n := &models.PaymentNotification{
		ID:           uuid.New(),
		Source:       input.Source,
		RawReference: input.RawReference,
		Amount:       input.Amount,
		Status:       enums.PaymentNotificationMatched,
		InvoiceID:    &invoiceID,
		ReceivedAt:   s.now(),
	}
	if err := s.repo.WithTx(tx).Create(ctx, n); err != nil {
		return nil, err
	}
	settled, err := s.invoices.SettleTx(ctx, tx, invoices.SettleInput{
		InvoiceID:      invoiceID,
		Amount:         input.Amount,
		NotificationID: &n.ID,
		Actor:          &outbox.ActorRef{Component: "payments"},
	})
	if err != nil {
		return nil, err
	}
	return &MatchResult{Status: MatchStatusMatched, Invoice: settled.Invoice, Notification: n}, nil
}

func (s *service) park(ctx context.Context, tx *gorm.DB, input MatchInput, candidates []models.Invoice) (*MatchResult, error) {
	reason := "no unpaid invoice with this amount"
	if len(candidates) > 1 {
		reason = "several unpaid invoices with this amount"
	}
	candidateIDs := lo.Map(candidates, func(inv models.Invoice, _ int) uuid.UUID { return inv.ID })
	n := &models.PaymentNotification{
		ID:                  uuid.New(),
		Source:              input.Source,
		RawReference:        input.RawReference,
		Amount:              input.Amount,
		Status:              enums.PaymentNotificationNoMatch,
		Reason:              &reason,
		CandidateInvoiceIDs: dbtypes.UUIDArray(candidateIDs),
		ReceivedAt:          s.now(),
	}
	if err := s.repo.WithTx(tx).Create(ctx, n); err != nil {
		return nil, err
	}
	if s.outbox != nil {
		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentUnmatched,
			AggregateType: enums.AggregatePaymentNotification,
			AggregateID:   n.ID,
			Version:       1,
			Actor:         &outbox.ActorRef{Component: "payments"},
			Data: payloads.PaymentUnmatchedEvent{
				NotificationID: n.ID,
				Source:         n.Source,
				RawReference:   n.RawReference,
				Amount:         n.Amount,
				Candidates:     len(candidates),
				CandidateIDs:   candidateIDs,
			},
		}); err != nil {
			return nil, err
		}
	}
	return &MatchResult{Status: MatchStatusNoMatch, Notification: n}, nil
}

func (s *service) ListUnmatched(ctx context.Context, params pagination.Params) (*NotificationPage, error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	limit := pagination.NormalizeLimit(params.Limit)
	rows, err := s.repo.ListByStatus(ctx, enums.PaymentNotificationNoMatch, cursor, limit+1)
	if err != nil {
		return nil, err
	}
	page := &NotificationPage{Notifications: rows}
	if len(rows) > limit {
		page.Notifications = rows[:limit]
		last := page.Notifications[limit-1]
		page.NextCursor = pagination.EncodeCursor(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	return page, nil
}

// Resolve applies an operator's manual match through the same settlement
// path as an automatic one. The credited amount is what was received.
func (s *service) Resolve(ctx context.Context, input ResolveInput) (*MatchResult, error) {
	input.Operator = strings.TrimSpace(input.Operator)
	if input.NotificationID == uuid.Nil || input.InvoiceID == uuid.Nil || input.Operator == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "notification, invoice and operator are required")
	}
	n, err := s.repo.FindByID(ctx, input.NotificationID)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, ErrNotificationNotFound, "payment notification not found")
	}
	if n.Status != enums.PaymentNotificationNoMatch {
		return nil, pkgerrors.Wrap(pkgerrors.CodeStateConflict, ErrAlreadyResolved, fmt.Sprintf("notification is %s", n.Status))
	}
	inv, err := s.invoices.Get(ctx, input.InvoiceID)
	if err != nil {
		return nil, err
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"notification_id": n.ID.String(),
		"invoice_id":      inv.ID.String(),
		"operator":        input.Operator,
		"was_candidate":   n.CandidateInvoiceIDs.Contains(inv.ID),
	})
	if inv.Amount != n.Amount {
		s.logg.Warn(s.logg.WithField(ctx, "invoice_amount", inv.Amount), "manual match with differing amount")
	}

	unlock := s.invoices.LockOwner(owners.Ref{Kind: inv.OwnerKind, ID: inv.OwnerID})
	defer unlock()

	var result *MatchResult
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		now := s.now()
		ok, err := s.repo.WithTx(tx).Resolve(ctx, n.ID, map[string]any{
			"status":      enums.PaymentNotificationResolved,
			"invoice_id":  inv.ID,
			"resolved_at": now,
			"resolved_by": input.Operator,
		})
		if err != nil {
			return err
		}
		if !ok {
			return pkgerrors.Wrap(pkgerrors.CodeStateConflict, ErrAlreadyResolved, "notification already resolved")
		}
		settled, err := s.invoices.SettleTx(ctx, tx, invoices.SettleInput{
			InvoiceID:      inv.ID,
			Amount:         n.Amount,
			NotificationID: &n.ID,
			Actor:          &outbox.ActorRef{Operator: input.Operator, Component: "payments"},
		})
		if err != nil {
			return err
		}
		n.Status = enums.PaymentNotificationResolved
		n.InvoiceID = &inv.ID
		n.ResolvedAt = &now
		n.ResolvedBy = &input.Operator
		result = &MatchResult{Status: MatchStatusMatched, Invoice: settled.Invoice, Notification: n}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.IncPayment(string(enums.PaymentNotificationResolved))
	s.logg.Info(ctx, "payment resolved manually")
	return result, nil
}
