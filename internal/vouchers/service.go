package vouchers

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/ispbox-backend/internal/ledger"
	"github.com/angelmondragon/ispbox-backend/internal/owners"
	"github.com/angelmondragon/ispbox-backend/internal/pool"
	"github.com/angelmondragon/ispbox-backend/pkg/db/models"
	"github.com/angelmondragon/ispbox-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/ispbox-backend/pkg/errors"
	"github.com/angelmondragon/ispbox-backend/pkg/logger"
	"github.com/angelmondragon/ispbox-backend/pkg/outbox"
	"github.com/angelmondragon/ispbox-backend/pkg/outbox/payloads"
)

var (
	ErrBatchNotFound = errors.New("voucher batch not found")
	ErrBatchClosed   = errors.New("voucher batch is closed")
	ErrCodeNotFound  = errors.New("voucher code not found")
)

const (
	codeAlphabet      = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	defaultCodeLength = 8
	minCodeLength     = 6
	maxCodeLength     = 16
	maxBatchQuantity  = 10000
	defaultExpiryScan = 100
)

type Service interface {
	CreateBatch(ctx context.Context, input CreateBatchInput) (*models.VoucherBatch, error)
	GetBatch(ctx context.Context, id uuid.UUID) (*BatchView, error)
	Sell(ctx context.Context, input SellInput) (*Sale, error)
	Redeem(ctx context.Context, code, usedBy string) (*models.ResourceToken, error)
	CancelBatch(ctx context.Context, id uuid.UUID, reason string) (*models.VoucherBatch, error)
	ExpireBatches(ctx context.Context, limit int) (int, error)
}

type CreateBatchInput struct {
	PlanID uuid.UUID
	// Quantity vouchers are printed; UnitPrice zero falls back to the plan price.
	Quantity   int
	UnitPrice  int64
	ValidUntil *time.Time
	CodeLength int
}

type SellInput struct {
	BatchID uuid.UUID
	Buyer   owners.Ref
}

type Sale struct {
	Batch *models.VoucherBatch  `json:"batch"`
	Token *models.ResourceToken `json:"token"`
	Entry *models.LedgerEntry   `json:"entry"`
}

type BatchView struct {
	Batch  models.VoucherBatch      `json:"batch"`
	Status enums.VoucherBatchStatus `json:"derived_status"`
	Counts map[string]int64         `json:"counts"`
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type ServiceParams struct {
	DB     txRunner
	Repo   Repository
	Tokens pool.Repository
	Pool   pool.Service
	Ledger ledger.Service
	Owners owners.Repository
	Outbox outboxEmitter
	Logger *logger.Logger
	Now    func() time.Time
}

type service struct {
	db     txRunner
	repo   Repository
	tokens pool.Repository
	pool   pool.Service
	ledger ledger.Service
	owners owners.Repository
	outbox outboxEmitter
	logg   *logger.Logger
	now    func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	switch {
	case params.DB == nil:
		return nil, fmt.Errorf("transaction runner required")
	case params.Repo == nil:
		return nil, fmt.Errorf("voucher repository required")
	case params.Tokens == nil:
		return nil, fmt.Errorf("token repository required")
	case params.Pool == nil:
		return nil, fmt.Errorf("pool service required")
	case params.Ledger == nil:
		return nil, fmt.Errorf("ledger service required")
	case params.Owners == nil:
		return nil, fmt.Errorf("owners repository required")
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &service{
		db:     params.DB,
		repo:   params.Repo,
		tokens: params.Tokens,
		pool:   params.Pool,
		ledger: params.Ledger,
		owners: params.Owners,
		outbox: params.Outbox,
		logg:   params.Logger,
		now:    now,
	}, nil
}

// CreateBatch prints a batch into its own voucher pool.
func (s *service) CreateBatch(ctx context.Context, input CreateBatchInput) (*models.VoucherBatch, error) {
	if input.Quantity < 1 || input.Quantity > maxBatchQuantity {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("quantity must be within 1..%d", maxBatchQuantity))
	}
	if input.UnitPrice < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unit price must not be negative")
	}
	length := input.CodeLength
	if length == 0 {
		length = defaultCodeLength
	}
	if length < minCodeLength || length > maxCodeLength {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("code length must be within %d..%d", minCodeLength, maxCodeLength))
	}
	now := s.now()
	if input.ValidUntil != nil && !input.ValidUntil.After(now) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "valid_until must be in the future")
	}
	plan, err := s.owners.GetPlan(ctx, input.PlanID)
	if err != nil {
		return nil, err
	}
	unitPrice := input.UnitPrice
	if unitPrice == 0 {
		unitPrice = plan.Price
	}

	codes, err := generateCodes(input.Quantity, length)
	if err != nil {
		return nil, err
	}
	suffix, err := randomCode(5)
	if err != nil {
		return nil, err
	}
	batchCode := fmt.Sprintf("VB%s-%s", now.Format("060102"), suffix)

	var batch *models.VoucherBatch
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		p, err := s.pool.CreatePoolTx(ctx, tx, pool.CreatePoolInput{
			Name: "vouchers/" + batchCode,
			Kind: enums.PoolKindVoucher,
		})
		if err != nil {
			return err
		}
		batch = &models.VoucherBatch{
			BatchCode:  batchCode,
			PlanID:     plan.ID,
			PoolID:     p.ID,
			Quantity:   input.Quantity,
			UnitPrice:  unitPrice,
			TotalValue: unitPrice * int64(input.Quantity),
			Status:     enums.VoucherBatchActive,
			ValidUntil: input.ValidUntil,
		}
		if err := s.repo.WithTx(tx).Create(ctx, batch); err != nil {
			return fmt.Errorf("create voucher batch: %w", err)
		}
		inserted, err := s.pool.AddTokensTx(ctx, tx, pool.AddTokensInput{PoolID: p.ID, Values: codes, BatchID: &batch.ID})
		if err != nil {
			return err
		}
		if inserted != int64(input.Quantity) {
			return pkgerrors.New(pkgerrors.CodeConflict, "voucher code collision, retry the batch")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"batch_id":   batch.ID.String(),
		"batch_code": batch.BatchCode,
		"quantity":   batch.Quantity,
		"unit_price": batch.UnitPrice,
	}), "voucher batch created")
	return batch, nil
}

func generateCodes(n, length int) ([]string, error) {
	codes := make([]string, 0, n)
	seen := make(map[string]struct{}, n)
	for len(codes) < n {
		code, err := randomCode(length)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		codes = append(codes, code)
	}
	return codes, nil
}

func randomCode(length int) (string, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(buf), nil
}

func (s *service) GetBatch(ctx context.Context, id uuid.UUID) (*BatchView, error) {
	batch, err := s.loadBatch(ctx, s.repo, id)
	if err != nil {
		return nil, err
	}
	counts, err := s.tokens.CountBatchByState(ctx, id)
	if err != nil {
		return nil, err
	}
	return &BatchView{
		Batch:  *batch,
		Status: DeriveBatchStatus(*batch, counts, s.now()),
		Counts: lo.MapKeys(counts, func(_ int64, state enums.TokenState) string { return string(state) }),
	}, nil
}

func (s *service) loadBatch(ctx context.Context, repo Repository, id uuid.UUID) (*models.VoucherBatch, error) {
	batch, err := repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if batch == nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, ErrBatchNotFound, "voucher batch not found")
	}
	return batch, nil
}

// DeriveBatchStatus computes a batch's status from its token counts.
// Cancellation is terminal; an elapsed validity window wins over sold.
func DeriveBatchStatus(batch models.VoucherBatch, counts map[enums.TokenState]int64, now time.Time) enums.VoucherBatchStatus {
	if batch.Status == enums.VoucherBatchCancelled {
		return enums.VoucherBatchCancelled
	}
	if batch.ValidUntil != nil && !now.Before(*batch.ValidUntil) {
		return enums.VoucherBatchExpired
	}
	if counts[enums.TokenAvailable]+counts[enums.TokenReserved] == 0 {
		return enums.VoucherBatchSold
	}
	return enums.VoucherBatchActive
}

func (s *service) checkSellable(batch *models.VoucherBatch) error {
	if batch.Status != enums.VoucherBatchActive {
		return pkgerrors.Wrap(pkgerrors.CodeStateConflict, ErrBatchClosed, fmt.Sprintf("batch is %s", batch.Status))
	}
	if batch.ValidUntil != nil && !s.now().Before(*batch.ValidUntil) {
		return pkgerrors.Wrap(pkgerrors.CodeStateConflict, ErrBatchClosed, "batch validity has elapsed")
	}
	return nil
}

// Sell assigns the next voucher of the batch to the buyer and debits the
// buyer's balance in the same transaction.
func (s *service) Sell(ctx context.Context, input SellInput) (*Sale, error) {
	if err := input.Buyer.Validate(); err != nil {
		return nil, err
	}
	batch, err := s.loadBatch(ctx, s.repo, input.BatchID)
	if err != nil {
		return nil, err
	}
	if err := s.checkSellable(batch); err != nil {
		return nil, err
	}

	unlockPool := s.pool.LockPool(batch.PoolID)
	defer unlockPool()
	unlockOwner := s.ledger.LockOwner(input.Buyer)
	defer unlockOwner()

	sale := &Sale{}
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		current, err := s.loadBatch(ctx, s.repo.WithTx(tx), batch.ID)
		if err != nil {
			return err
		}
		if err := s.checkSellable(current); err != nil {
			return err
		}
		token, err := s.pool.AllocateTx(ctx, tx, pool.AllocateInput{PoolID: current.PoolID, Owner: input.Buyer})
		if err != nil {
			return err
		}
		entry, err := s.ledger.PostTx(ctx, tx, ledger.PostInput{
			Owner:       input.Buyer,
			Type:        enums.LedgerEntryDebit,
			Amount:      current.UnitPrice,
			Category:    enums.LedgerCategoryVoucherSale,
			Reference:   &ledger.Reference{Kind: "voucher", ID: token.ID},
			Description: fmt.Sprintf("voucher %s from batch %s", token.Value, current.BatchCode),
		})
		if err != nil {
			return err
		}
		if err := s.emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventVoucherSold,
			AggregateType: enums.AggregateVoucherBatch,
			AggregateID:   current.ID,
			Version:       1,
			Data: payloads.VoucherSoldEvent{
				BatchID:   current.ID,
				TokenID:   token.ID,
				Code:      token.Value,
				OwnerKind: input.Buyer.Kind,
				OwnerID:   input.Buyer.ID,
				Price:     current.UnitPrice,
				EntryID:   entry.ID,
			},
		}); err != nil {
			return err
		}

		counts, err := s.tokens.WithTx(tx).CountBatchByState(ctx, current.ID)
		if err != nil {
			return err
		}
		if DeriveBatchStatus(*current, counts, s.now()) == enums.VoucherBatchSold {
			if err := s.close(ctx, tx, current, []enums.VoucherBatchStatus{enums.VoucherBatchActive}, enums.VoucherBatchSold); err != nil {
				return err
			}
		}
		sale.Batch, sale.Token, sale.Entry = current, token, entry
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"batch_id": sale.Batch.ID.String(),
		"token_id": sale.Token.ID.String(),
		"entry_id": sale.Entry.ID.String(),
		"buyer":    input.Buyer.Key(),
	}), "voucher sold")
	return sale, nil
}

// close moves the batch to status and records the closing event. A batch
// already moved by someone else is left alone.
func (s *service) close(ctx context.Context, tx *gorm.DB, batch *models.VoucherBatch, from []enums.VoucherBatchStatus, to enums.VoucherBatchStatus) error {
	moved, err := s.repo.WithTx(tx).SetStatus(ctx, batch.ID, from, to)
	if err != nil {
		return err
	}
	if !moved {
		return nil
	}
	batch.Status = to
	return s.emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventVoucherBatchClosed,
		AggregateType: enums.AggregateVoucherBatch,
		AggregateID:   batch.ID,
		Version:       1,
		Data:          payloads.VoucherBatchClosedEvent{BatchID: batch.ID, Status: to},
	})
}

func (s *service) emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	if s.outbox == nil {
		return nil
	}
	return s.outbox.Emit(ctx, tx, event)
}

func (s *service) Redeem(ctx context.Context, code, usedBy string) (*models.ResourceToken, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "voucher code is required")
	}
	token, err := s.repo.FindTokenByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if token == nil || token.BatchID == nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, ErrCodeNotFound, "voucher code not found")
	}
	batch, err := s.loadBatch(ctx, s.repo, *token.BatchID)
	if err != nil {
		return nil, err
	}
	switch DeriveBatchStatus(*batch, nil, s.now()) {
	case enums.VoucherBatchExpired:
		return nil, pkgerrors.Wrap(pkgerrors.CodeStateConflict, ErrBatchClosed, "voucher is no longer valid")
	case enums.VoucherBatchCancelled:
		// vouchers sold before the cancel were paid for and stay redeemable
		if token.State != enums.TokenAssigned {
			return nil, pkgerrors.Wrap(pkgerrors.CodeStateConflict, ErrBatchClosed, "voucher is no longer valid")
		}
	}
	return s.pool.Redeem(ctx, token.ID, usedBy)
}

// CancelBatch stops sales and disables every unsold voucher. Sold vouchers
// keep their state and can still be redeemed.
func (s *service) CancelBatch(ctx context.Context, id uuid.UUID, reason string) (*models.VoucherBatch, error) {
	batch, err := s.loadBatch(ctx, s.repo, id)
	if err != nil {
		return nil, err
	}
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		moved, err := s.repo.WithTx(tx).SetStatus(ctx, id, []enums.VoucherBatchStatus{enums.VoucherBatchActive, enums.VoucherBatchSold}, enums.VoucherBatchCancelled)
		if err != nil {
			return err
		}
		if !moved {
			return pkgerrors.Wrap(pkgerrors.CodeStateConflict, ErrBatchClosed, fmt.Sprintf("batch is %s", batch.Status))
		}
		batch.Status = enums.VoucherBatchCancelled
		return s.emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventVoucherBatchClosed,
			AggregateType: enums.AggregateVoucherBatch,
			AggregateID:   id,
			Version:       1,
			Data:          payloads.VoucherBatchClosedEvent{BatchID: id, Status: enums.VoucherBatchCancelled},
		})
	})
	if err != nil {
		return nil, err
	}
	if err := s.disableUnsold(ctx, id); err != nil {
		return nil, err
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{"batch_id": id.String(), "reason": reason}), "voucher batch cancelled")
	return batch, nil
}

func (s *service) disableUnsold(ctx context.Context, batchID uuid.UUID) error {
	tokens, err := s.tokens.ListByBatch(ctx, batchID, enums.TokenAvailable)
	if err != nil {
		return err
	}
	var errs error
	for _, id := range lo.Map(tokens, func(t models.ResourceToken, _ int) uuid.UUID { return t.ID }) {
		if _, err := s.pool.Disable(ctx, id); err != nil && !errors.Is(err, pool.ErrInvalidState) {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// ExpireBatches closes batches whose validity elapsed, disables their unsold
// vouchers and expires redeemed ones.
func (s *service) ExpireBatches(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = defaultExpiryScan
	}
	batches, err := s.repo.ListExpirable(ctx, s.now(), limit)
	if err != nil {
		return 0, err
	}
	var (
		expired int
		errs    error
	)
	for i := range batches {
		batch := &batches[i]
		err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
			return s.close(ctx, tx, batch, []enums.VoucherBatchStatus{enums.VoucherBatchActive, enums.VoucherBatchSold}, enums.VoucherBatchExpired)
		})
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("batch %s: %w", batch.ID, err))
			continue
		}
		if err := s.disableUnsold(ctx, batch.ID); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("batch %s: %w", batch.ID, err))
		}
		used, err := s.tokens.ListByBatch(ctx, batch.ID, enums.TokenUsed)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		for _, token := range used {
			if _, err := s.pool.Expire(ctx, token.ID); err != nil && !errors.Is(err, pool.ErrInvalidState) {
				errs = multierr.Append(errs, err)
			}
		}
		expired++
	}
	return expired, errs
}
