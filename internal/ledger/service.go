package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/ispbox-backend/internal/owners"
	"github.com/angelmondragon/ispbox-backend/pkg/db/models"
	"github.com/angelmondragon/ispbox-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/ispbox-backend/pkg/errors"
	"github.com/angelmondragon/ispbox-backend/pkg/keylock"
	"github.com/angelmondragon/ispbox-backend/pkg/logger"
	"github.com/angelmondragon/ispbox-backend/pkg/metrics"
	"github.com/angelmondragon/ispbox-backend/pkg/outbox"
	"github.com/angelmondragon/ispbox-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/ispbox-backend/pkg/pagination"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrEntryNotFound       = errors.New("ledger entry not found")
	ErrAlreadyReversed     = errors.New("ledger entry already reversed")
)

// Service is the only writer of ledger entries and cached owner balances.
type Service interface {
	// Post appends one entry under the owner's lock and returns after commit.
	Post(ctx context.Context, input PostInput) (*models.LedgerEntry, error)
	// PostTx appends inside a caller-owned transaction. The caller must hold
	// LockOwner for input.Owner and must have acquired it before opening tx.
	PostTx(ctx context.Context, tx *gorm.DB, input PostInput) (*models.LedgerEntry, error)
	LockOwner(owner owners.Ref) func()
	Balance(ctx context.Context, owner owners.Ref) (int64, error)
	ListEntries(ctx context.Context, owner owners.Ref, params pagination.Params) (*EntryPage, error)
	Reverse(ctx context.Context, entryID uuid.UUID, reason string) (*models.LedgerEntry, error)
	VerifyChain(ctx context.Context, owner owners.Ref) (*ChainReport, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// PostInput describes a single credit or debit. Amount is in minor units.
type PostInput struct {
	Owner       owners.Ref
	Type        enums.LedgerEntryType
	Amount      int64
	Category    enums.LedgerCategory
	Reference   *Reference
	Description string
	reverses    *uuid.UUID
}

// Reference links an entry to the document that caused it.
type Reference struct {
	Kind string    `json:"kind"`
	ID   uuid.UUID `json:"id"`
}

type EntryPage struct {
	Entries    []models.LedgerEntry `json:"entries"`
	NextCursor string               `json:"next_cursor,omitempty"`
}

// ChainBreak is a position where balance_before does not continue the chain.
type ChainBreak struct {
	Seq      int64 `json:"seq"`
	Expected int64 `json:"expected"`
	Actual   int64 `json:"actual"`
}

type ChainReport struct {
	Owner        owners.Ref   `json:"owner"`
	Entries      int          `json:"entries"`
	Balance      int64        `json:"balance"`
	SignedSum    int64        `json:"signed_sum"`
	CachedSaldo  int64        `json:"cached_saldo"`
	Breaks       []ChainBreak `json:"breaks,omitempty"`
	CacheInSync  bool         `json:"cache_in_sync"`
	ChainIntact  bool         `json:"chain_intact"`
	SequenceGaps []int64      `json:"sequence_gaps,omitempty"`
}

type ServiceParams struct {
	DB                  txRunner
	Repo                Repository
	Owners              owners.Repository
	Outbox              outboxEmitter
	Logger              *logger.Logger
	Metrics             *metrics.Ledger
	ForcePostCategories []string
}

type service struct {
	db        txRunner
	repo      Repository
	owners    owners.Repository
	outbox    outboxEmitter
	logg      *logger.Logger
	metrics   *metrics.Ledger
	locks     *keylock.Map
	forcePost map[enums.LedgerCategory]struct{}
}

// NewService wires the ledger. penalty and reversal are always allowed to
// push a balance past the credit limit.
func NewService(params ServiceParams) (Service, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if params.Owners == nil {
		return nil, fmt.Errorf("owners repository required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	forcePost := map[enums.LedgerCategory]struct{}{
		enums.LedgerCategoryPenalty:  {},
		enums.LedgerCategoryReversal: {},
	}
	for _, raw := range params.ForcePostCategories {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		category, err := enums.ParseLedgerCategory(raw)
		if err != nil {
			return nil, fmt.Errorf("force post categories: %w", err)
		}
		forcePost[category] = struct{}{}
	}
	return &service{
		db:        params.DB,
		repo:      params.Repo,
		owners:    params.Owners,
		outbox:    params.Outbox,
		logg:      params.Logger,
		metrics:   params.Metrics,
		locks:     keylock.New(),
		forcePost: forcePost,
	}, nil
}

func (s *service) LockOwner(owner owners.Ref) func() {
	return s.locks.Lock(owner.Key())
}

func (s *service) Post(ctx context.Context, input PostInput) (*models.LedgerEntry, error) {
	if err := validatePost(input); err != nil {
		s.metrics.IncRejection("validation")
		return nil, err
	}

	unlock := s.LockOwner(input.Owner)
	defer unlock()

	var entry *models.LedgerEntry
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		posted, err := s.PostTx(ctx, tx, input)
		if err != nil {
			return err
		}
		entry = posted
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *service) PostTx(ctx context.Context, tx *gorm.DB, input PostInput) (*models.LedgerEntry, error) {
	if tx == nil {
		return nil, fmt.Errorf("transaction required")
	}
	if err := validatePost(input); err != nil {
		s.metrics.IncRejection("validation")
		return nil, err
	}

	logCtx := s.logg.WithOwner(ctx, string(input.Owner.Kind), input.Owner.ID.String())

	account, err := s.owners.WithTx(tx).LockAccount(ctx, input.Owner)
	if err != nil {
		return nil, err
	}
	repo := s.repo.WithTx(tx)
	last, err := repo.Latest(ctx, input.Owner)
	if err != nil {
		return nil, fmt.Errorf("load latest entry: %w", err)
	}

	var before, seq int64 = 0, 1
	if last != nil {
		before = last.BalanceAfter
		seq = last.Seq + 1
	}
	if account.Saldo != before {
		s.metrics.IncDrift()
		s.logg.Warn(s.logg.WithFields(logCtx, map[string]any{
			"cached_saldo":   account.Saldo,
			"ledger_balance": before,
		}), "cached saldo drifted from ledger; ledger wins")
	}

	var after int64
	switch input.Type {
	case enums.LedgerEntryCredit:
		if before > math.MaxInt64-input.Amount {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "credit overflows balance")
		}
		after = before + input.Amount
	case enums.LedgerEntryDebit:
		if !s.isForcePost(input.Category) && before+account.CreditLimit < input.Amount {
			s.metrics.IncRejection("insufficient_balance")
			s.logg.Info(s.logg.WithFields(logCtx, map[string]any{
				"amount":       input.Amount,
				"balance":      before,
				"credit_limit": account.CreditLimit,
				"category":     input.Category,
			}), "ledger debit rejected")
			return nil, pkgerrors.Wrap(pkgerrors.CodeInsufficientBalance, ErrInsufficientBalance, "insufficient balance").
				WithDetails(map[string]any{
					"balance":      before,
					"credit_limit": account.CreditLimit,
					"amount":       input.Amount,
				})
		}
		if before < math.MinInt64+input.Amount {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "debit overflows balance")
		}
		after = before - input.Amount
	}

	entry := &models.LedgerEntry{
		OwnerKind:     input.Owner.Kind,
		OwnerID:       input.Owner.ID,
		Seq:           seq,
		Type:          input.Type,
		Amount:        input.Amount,
		BalanceBefore: before,
		BalanceAfter:  after,
		Category:      input.Category,
		Description:   input.Description,
		ReversesID:    input.reverses,
	}
	if input.Reference != nil {
		kind := input.Reference.Kind
		id := input.Reference.ID
		entry.ReferenceKind = &kind
		entry.ReferenceID = &id
	}
	if err := repo.Create(ctx, entry); err != nil {
		return nil, fmt.Errorf("insert ledger entry: %w", err)
	}
	if err := s.owners.WithTx(tx).StoreSaldo(ctx, input.Owner, after); err != nil {
		return nil, fmt.Errorf("store cached saldo: %w", err)
	}

	s.metrics.IncPost(string(input.Type), string(input.Category))
	s.logg.Info(s.logg.WithFields(logCtx, map[string]any{
		"entry_id":       entry.ID.String(),
		"seq":            entry.Seq,
		"type":           entry.Type,
		"category":       entry.Category,
		"amount":         entry.Amount,
		"balance_before": entry.BalanceBefore,
		"balance_after":  entry.BalanceAfter,
	}), "ledger entry posted")
	return entry, nil
}

func (s *service) isForcePost(category enums.LedgerCategory) bool {
	_, ok := s.forcePost[category]
	return ok
}

func validatePost(input PostInput) error {
	if err := input.Owner.Validate(); err != nil {
		return err
	}
	if !input.Type.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid entry type %q", input.Type))
	}
	if !input.Category.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid category %q", input.Category))
	}
	if input.Amount <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	return nil
}

func (s *service) Balance(ctx context.Context, owner owners.Ref) (int64, error) {
	if err := owner.Validate(); err != nil {
		return 0, err
	}
	last, err := s.repo.Latest(ctx, owner)
	if err != nil {
		return 0, err
	}
	if last == nil {
		return 0, nil
	}
	return last.BalanceAfter, nil
}

func (s *service) ListEntries(ctx context.Context, owner owners.Ref, params pagination.Params) (*EntryPage, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	beforeSeq, err := pagination.ParseSeqCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	limit := pagination.NormalizeLimit(params.Limit)
	entries, err := s.repo.ListByOwner(ctx, owner, beforeSeq, limit+1)
	if err != nil {
		return nil, err
	}
	page := &EntryPage{Entries: entries}
	if len(entries) > limit {
		page.Entries = entries[:limit]
		page.NextCursor = pagination.EncodeSeqCursor(page.Entries[limit-1].Seq)
	}
	return page, nil
}

// Reverse posts the compensating entry for entryID. The original row is
// never touched; a second reversal is rejected.
func (s *service) Reverse(ctx context.Context, entryID uuid.UUID, reason string) (*models.LedgerEntry, error) {
	if entryID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "entry id is required")
	}
	original, err := s.repo.FindByID(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if original == nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, ErrEntryNotFound, "ledger entry not found")
	}
	if original.ReversesID != nil {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "a reversal cannot be reversed")
	}

	owner := owners.Ref{Kind: original.OwnerKind, ID: original.OwnerID}
	unlock := s.LockOwner(owner)
	defer unlock()

	var reversal *models.LedgerEntry
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		existing, err := s.repo.WithTx(tx).FindReversal(ctx, original.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			return pkgerrors.Wrap(pkgerrors.CodeStateConflict, ErrAlreadyReversed, "ledger entry already reversed")
		}
		opposite := enums.LedgerEntryCredit
		if original.Type == enums.LedgerEntryCredit {
			opposite = enums.LedgerEntryDebit
		}
		description := fmt.Sprintf("reversal of %s", original.ID)
		if strings.TrimSpace(reason) != "" {
			description = fmt.Sprintf("%s: %s", description, strings.TrimSpace(reason))
		}
		reversesID := original.ID
		posted, err := s.PostTx(ctx, tx, PostInput{
			Owner:       owner,
			Type:        opposite,
			Amount:      original.Amount,
			Category:    enums.LedgerCategoryReversal,
			Reference:   &Reference{Kind: "ledger_entry", ID: original.ID},
			Description: description,
			reverses:    &reversesID,
		})
		if err != nil {
			return err
		}
		reversal = posted
		if s.outbox == nil {
			return nil
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventLedgerReversed,
			AggregateType: enums.AggregateLedgerEntry,
			AggregateID:   original.ID,
			Version:       1,
			Data: payloads.LedgerReversedEvent{
				EntryID:    original.ID,
				ReversalID: posted.ID,
				OwnerKind:  owner.Kind,
				OwnerID:    owner.ID,
				Amount:     original.Amount,
				Reason:     reason,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return reversal, nil
}

// VerifyChain walks the owner's journal and compares it to the cached saldo.
func (s *service) VerifyChain(ctx context.Context, owner owners.Ref) (*ChainReport, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	account, err := s.owners.GetAccount(ctx, owner)
	if err != nil {
		return nil, err
	}
	entries, err := s.repo.ListChain(ctx, owner)
	if err != nil {
		return nil, err
	}
	report := &ChainReport{
		Owner:       owner,
		Entries:     len(entries),
		CachedSaldo: account.Saldo,
	}
	var prevAfter, prevSeq int64
	for _, entry := range entries {
		if entry.BalanceBefore != prevAfter {
			report.Breaks = append(report.Breaks, ChainBreak{Seq: entry.Seq, Expected: prevAfter, Actual: entry.BalanceBefore})
		}
		if entry.Seq != prevSeq+1 {
			report.SequenceGaps = append(report.SequenceGaps, entry.Seq)
		}
		if entry.BalanceAfter-entry.BalanceBefore != entry.SignedAmount() {
			report.Breaks = append(report.Breaks, ChainBreak{Seq: entry.Seq, Expected: entry.BalanceBefore + entry.SignedAmount(), Actual: entry.BalanceAfter})
		}
		report.SignedSum += entry.SignedAmount()
		prevAfter = entry.BalanceAfter
		prevSeq = entry.Seq
	}
	report.Balance = prevAfter
	report.ChainIntact = len(report.Breaks) == 0 && len(report.SequenceGaps) == 0 && report.SignedSum == report.Balance
	report.CacheInSync = report.CachedSaldo == report.Balance
	return report, nil
}
