package usage

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/ispbox-backend/pkg/db/models"
	"github.com/angelmondragon/ispbox-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/ispbox-backend/pkg/errors"
	"github.com/angelmondragon/ispbox-backend/pkg/keylock"
	"github.com/angelmondragon/ispbox-backend/pkg/logger"
	"github.com/angelmondragon/ispbox-backend/pkg/metrics"
)

var (
	ErrRecordNotFound = errors.New("usage record not found")
	ErrNoPlan         = errors.New("customer has no plan")
	ErrCycleNotDue    = errors.New("usage cycle not due")
)

// Service meters per-customer consumption and drives fair-usage transitions.
type Service interface {
	RecordUsage(ctx context.Context, customerID uuid.UUID, deltaBytes int64) (*UsageResult, error)
	ResetCycle(ctx context.Context, customerID uuid.UUID) (*ResetResult, error)
	ResetDue(ctx context.Context, limit int) (int, error)
	Get(ctx context.Context, customerID uuid.UUID) (*models.UsageRecord, error)
}

// PushQueue is the slice of the FUP enforcer the meter needs.
type PushQueue interface {
	EnqueueTx(ctx context.Context, tx *gorm.DB, customerID uuid.UUID, profile string, reason enums.PolicyPushReason) (*models.PolicyPush, error)
	Dispatch(ctx context.Context, pushID uuid.UUID)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type UsageResult struct {
	Record        models.UsageRecord `json:"record"`
	PreviousBytes int64              `json:"previous_bytes"`
	Activated     bool               `json:"fup_activated"`
	PushID        *uuid.UUID         `json:"push_id,omitempty"`
}

type ResetResult struct {
	Record   models.UsageRecord `json:"record"`
	Restored bool               `json:"fup_restored"`
	PushID   *uuid.UUID         `json:"push_id,omitempty"`
}

type ServiceParams struct {
	DB      txRunner
	Repo    Repository
	Pushes  PushQueue
	Logger  *logger.Logger
	Metrics *metrics.FUP
	Now     func() time.Time
}

type service struct {
	db      txRunner
	repo    Repository
	pushes  PushQueue
	logg    *logger.Logger
	metrics *metrics.FUP
	locks   *keylock.Map
	now     func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("usage repository required")
	}
	if params.Pushes == nil {
		return nil, fmt.Errorf("push queue required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &service{
		db:      params.DB,
		repo:    params.Repo,
		pushes:  params.Pushes,
		logg:    params.Logger,
		metrics: params.Metrics,
		locks:   keylock.New(),
		now:     now,
	}, nil
}

// RecordUsage adds deltaBytes to the current cycle. Crossing the quota
// switches the customer to the FUP profile exactly once per cycle.
func (s *service) RecordUsage(ctx context.Context, customerID uuid.UUID, deltaBytes int64) (*UsageResult, error) {
	if deltaBytes <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "delta bytes must be positive")
	}
	ctx = s.logg.WithOwner(ctx, string(enums.OwnerKindCustomer), customerID.String())

	unlock := s.locks.Lock(customerID.String())
	var result *UsageResult
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		rec, err := s.loadOrInit(ctx, repo, customerID)
		if err != nil {
			return err
		}
		pre := rec.CurrentUsageBytes
		if deltaBytes > math.MaxInt64-pre {
			return pkgerrors.New(pkgerrors.CodeValidation, "usage counter overflow")
		}
		post := pre + deltaBytes

		activate := rec.FUPEnabled && !rec.IsFUPActive && crosses(pre, post, rec.CycleQuotaBytes)
		updates := map[string]any{"current_usage_bytes": post}
		if activate {
			updates["is_fup_active"] = true
		}
		if err := repo.Update(ctx, customerID, updates); err != nil {
			return err
		}
		rec.CurrentUsageBytes = post
		result = &UsageResult{PreviousBytes: pre}

		if activate {
			rec.IsFUPActive = true
			push, err := s.pushes.EnqueueTx(ctx, tx, customerID, rec.FUPSpeed, enums.PolicyPushFUPActivate)
			if err != nil {
				return err
			}
			result.Activated = true
			result.PushID = &push.ID
		}
		result.Record = *rec
		return nil
	})
	unlock()
	if err != nil {
		return nil, err
	}

	if result.Activated {
		s.metrics.IncActivation()
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"usage_bytes": result.Record.CurrentUsageBytes,
			"quota_bytes": result.Record.CycleQuotaBytes,
			"profile":     result.Record.FUPSpeed,
		}), "fup activated")
		s.pushes.Dispatch(ctx, *result.PushID)
	}
	return result, nil
}

// crosses reports pre < quota <= post.
func crosses(pre, post, quota int64) bool {
	return quota > 0 && pre < quota && quota <= post
}

func (s *service) loadOrInit(ctx context.Context, repo Repository, customerID uuid.UUID) (*models.UsageRecord, error) {
	rec, err := repo.FindForUpdate(ctx, customerID)
	if err != nil || rec != nil {
		return rec, err
	}
	customer, plan, err := repo.FindCustomerPlan(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if customer == nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, ErrRecordNotFound, "customer not found")
	}
	if plan == nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, ErrNoPlan, "customer has no plan").
			WithDetails(map[string]any{"customer_id": customerID.String()})
	}
	now := s.now()
	if err := repo.CreateIfMissing(ctx, &models.UsageRecord{
		CustomerID:      customerID,
		CycleQuotaBytes: plan.QuotaBytes,
		FUPEnabled:      plan.FUPEnabled && plan.QuotaBytes > 0 && plan.FUPSpeedProfile != "",
		FUPSpeed:        plan.FUPSpeedProfile,
		NormalSpeed:     plan.SpeedProfile,
		LastResetAt:     now,
		NextResetAt:     now.AddDate(0, 1, 0),
	}); err != nil {
		return nil, err
	}
	return repo.FindForUpdate(ctx, customerID)
}

// ResetCycle closes a due cycle. The boundary is compared-and-set, so a cycle
// is reset at most once no matter how many callers race on it.
func (s *service) ResetCycle(ctx context.Context, customerID uuid.UUID) (*ResetResult, error) {
	ctx = s.logg.WithOwner(ctx, string(enums.OwnerKindCustomer), customerID.String())

	unlock := s.locks.Lock(customerID.String())
	var result *ResetResult
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		rec, err := repo.FindForUpdate(ctx, customerID)
		if err != nil {
			return err
		}
		if rec == nil {
			return pkgerrors.Wrap(pkgerrors.CodeNotFound, ErrRecordNotFound, "usage record not found")
		}
		now := s.now()
		if rec.NextResetAt.After(now) {
			return pkgerrors.Wrap(pkgerrors.CodeStateConflict, ErrCycleNotDue, "usage cycle not due").
				WithDetails(map[string]any{"next_reset_at": rec.NextResetAt})
		}

		boundary := rec.NextResetAt
		next := nextBoundary(boundary, now)
		wasActive := rec.IsFUPActive
		ok, err := repo.AdvanceCycle(ctx, customerID, boundary, map[string]any{
			"current_usage_bytes": int64(0),
			"is_fup_active":       false,
			"last_reset_at":       now,
			"next_reset_at":       next,
		})
		if err != nil {
			return err
		}
		if !ok {
			return pkgerrors.Wrap(pkgerrors.CodeStateConflict, ErrCycleNotDue, "usage cycle already reset")
		}
		rec.CurrentUsageBytes = 0
		rec.IsFUPActive = false
		rec.LastResetAt = now
		rec.NextResetAt = next
		result = &ResetResult{Record: *rec}

		if wasActive {
			push, err := s.pushes.EnqueueTx(ctx, tx, customerID, rec.NormalSpeed, enums.PolicyPushFUPRestore)
			if err != nil {
				return err
			}
			result.Restored = true
			result.PushID = &push.ID
		}
		return nil
	})
	unlock()
	if err != nil {
		return nil, err
	}

	s.metrics.IncReset()
	s.logg.Info(s.logg.WithField(ctx, "next_reset_at", result.Record.NextResetAt), "usage cycle reset")
	if result.Restored {
		s.pushes.Dispatch(ctx, *result.PushID)
	}
	return result, nil
}

// nextBoundary advances by whole months until the boundary is in the future.
func nextBoundary(boundary, now time.Time) time.Time {
	next := boundary.AddDate(0, 1, 0)
	for !next.After(now) {
		next = next.AddDate(0, 1, 0)
	}
	return next
}

// ResetDue resets every cycle whose boundary has passed and reports how many
// were reset by this call.
func (s *service) ResetDue(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 500
	}
	due, err := s.repo.ListDue(ctx, s.now(), limit)
	if err != nil {
		return 0, err
	}
	var (
		reset int
		errs  error
	)
	for _, customerID := range due {
		if _, err := s.ResetCycle(ctx, customerID); err != nil {
			if errors.Is(err, ErrCycleNotDue) {
				continue
			}
			errs = multierr.Append(errs, fmt.Errorf("reset %s: %w", customerID, err))
			continue
		}
		reset++
	}
	return reset, errs
}

func (s *service) Get(ctx context.Context, customerID uuid.UUID) (*models.UsageRecord, error) {
	rec, err := s.repo.Find(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, ErrRecordNotFound, "usage record not found")
	}
	return rec, nil
}
