package fup

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
	concpool "github.com/sourcegraph/conc/pool"
	"gorm.io/gorm"

	"github.com/angelmondragon/ispbox-backend/pkg/config"
	"github.com/angelmondragon/ispbox-backend/pkg/db/models"
	"github.com/angelmondragon/ispbox-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/ispbox-backend/pkg/errors"
	"github.com/angelmondragon/ispbox-backend/pkg/logger"
	"github.com/angelmondragon/ispbox-backend/pkg/metrics"
	"github.com/angelmondragon/ispbox-backend/pkg/outbox"
	"github.com/angelmondragon/ispbox-backend/pkg/outbox/payloads"
)

var (
	ErrPolicyPushFailed = errors.New("policy push failed")
	ErrPushNotFound     = errors.New("policy push not found")
)

// PolicyPusher applies a named speed profile to a customer's session on the
// network edge.
type PolicyPusher interface {
	ApplyProfile(ctx context.Context, customerID uuid.UUID, profile string) error
}

// Enforcer owns the policy push queue. Pushes are enqueued inside the
// caller's transaction and delivered after commit, never under a lock.
type Enforcer interface {
	EnqueueTx(ctx context.Context, tx *gorm.DB, customerID uuid.UUID, profile string, reason enums.PolicyPushReason) (*models.PolicyPush, error)
	// Dispatch delivers in the background. Wait drains outstanding dispatches.
	Dispatch(ctx context.Context, pushID uuid.UUID)
	Deliver(ctx context.Context, pushID uuid.UUID) error
	RedriveDue(ctx context.Context, limit int) (int, error)
	ListByCustomer(ctx context.Context, customerID uuid.UUID) ([]models.PolicyPush, error)
	Wait()
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type EnforcerParams struct {
	DB      txRunner
	Repo    Repository
	Pusher  PolicyPusher
	Outbox  outboxEmitter
	Logger  *logger.Logger
	Metrics *metrics.FUP
	Config  config.FUPConfig
	// Workers bounds concurrent deliveries during a redrive.
	Workers int
	Now     func() time.Time
}

type enforcer struct {
	db       txRunner
	repo     Repository
	pusher   PolicyPusher
	outbox   outboxEmitter
	logg     *logger.Logger
	metrics  *metrics.FUP
	cfg      config.FUPConfig
	workers  int
	now      func() time.Time
	inflight conc.WaitGroup
}

func NewEnforcer(params EnforcerParams) (Enforcer, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("policy push repository required")
	}
	if params.Pusher == nil {
		return nil, fmt.Errorf("policy pusher required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	cfg := params.Config
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 2 * time.Minute
	}
	workers := params.Workers
	if workers <= 0 {
		workers = 4
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &enforcer{
		db:      params.DB,
		repo:    params.Repo,
		pusher:  params.Pusher,
		outbox:  params.Outbox,
		logg:    params.Logger,
		metrics: params.Metrics,
		cfg:     cfg,
		workers: workers,
		now:     now,
	}, nil
}

// EnqueueTx records a push and supersedes the customer's older pending ones.
func (e *enforcer) EnqueueTx(ctx context.Context, tx *gorm.DB, customerID uuid.UUID, profile string, reason enums.PolicyPushReason) (*models.PolicyPush, error) {
	profile = strings.TrimSpace(profile)
	if profile == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "profile is required")
	}
	if !reason.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid push reason")
	}
	repo := e.repo.WithTx(tx)
	push := &models.PolicyPush{
		CustomerID: customerID,
		Profile:    profile,
		Reason:     reason,
		Status:     enums.PolicyPushPending,
		CreatedAt:  e.now(),
	}
	if err := repo.Create(ctx, push); err != nil {
		return nil, err
	}
	superseded, err := repo.SupersedePending(ctx, customerID, push.ID)
	if err != nil {
		return nil, err
	}
	if superseded > 0 {
		e.logg.Debug(e.logg.WithFields(ctx, map[string]any{
			"customer_id": customerID.String(),
			"superseded":  superseded,
		}), "older policy pushes superseded")
	}
	return push, nil
}

func (e *enforcer) Dispatch(ctx context.Context, pushID uuid.UUID) {
	ctx = context.WithoutCancel(ctx)
	e.inflight.Go(func() {
		if err := e.Deliver(ctx, pushID); err != nil && !errors.Is(err, ErrPolicyPushFailed) {
			e.logg.Error(e.logg.WithField(ctx, "push_id", pushID.String()), "policy push dispatch failed", err)
		}
	})
}

func (e *enforcer) Wait() {
	e.inflight.Wait()
}

// Deliver claims the push and applies it with bounded retries. A push that
// is superseded, already terminal, or blocked behind another live lease is
// skipped without error.
func (e *enforcer) Deliver(ctx context.Context, pushID uuid.UUID) error {
	push, claimed, err := e.claim(ctx, pushID)
	if err != nil || !claimed {
		return err
	}

	ctx = e.logg.WithFields(ctx, map[string]any{
		"push_id":     push.ID.String(),
		"customer_id": push.CustomerID.String(),
		"profile":     push.Profile,
		"reason":      string(push.Reason),
	})

	attempts, pushErr := e.apply(ctx, push)
	if pushErr == nil {
		appliedAt := e.now()
		if err := e.repo.Finish(ctx, push.ID, enums.PolicyPushApplied, attempts, nil, &appliedAt); err != nil {
			return err
		}
		e.metrics.IncPush("applied")
		e.logg.Info(ctx, "policy push applied")
		return nil
	}
	return e.fail(ctx, push, attempts, pushErr)
}

func (e *enforcer) claim(ctx context.Context, pushID uuid.UUID) (*models.PolicyPush, bool, error) {
	var (
		push    *models.PolicyPush
		claimed bool
	)
	err := e.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := e.repo.WithTx(tx)
		found, err := repo.FindByID(ctx, pushID)
		if err != nil {
			return err
		}
		if found == nil {
			return pkgerrors.Wrap(pkgerrors.CodeNotFound, ErrPushNotFound, "policy push not found")
		}
		push = found
		if err := repo.LockCustomer(ctx, found.CustomerID); err != nil {
			return err
		}
		switch found.Status {
		case enums.PolicyPushApplied, enums.PolicyPushFailed, enums.PolicyPushSuperseded:
			return nil
		}

		newer, err := repo.HasNewer(ctx, found)
		if err != nil {
			return err
		}
		if newer {
			e.metrics.IncPush("superseded")
			return repo.MarkSuperseded(ctx, found.ID)
		}

		now := e.now()
		busy, err := repo.HasLiveLease(ctx, found, now)
		if err != nil {
			return err
		}
		if busy {
			return nil
		}
		claimed, err = repo.Claim(ctx, found.ID, now, now.Add(e.cfg.LeaseTTL))
		return err
	})
	return push, claimed, err
}

func (e *enforcer) apply(ctx context.Context, push *models.PolicyPush) (int, error) {
	policy := backoff.NewExponentialBackOff()
	if e.cfg.InitialBackoff > 0 {
		policy.InitialInterval = e.cfg.InitialBackoff
	}
	if e.cfg.MaxBackoff > 0 {
		policy.MaxInterval = e.cfg.MaxBackoff
	}
	policy.MaxElapsedTime = 0

	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		err := e.pusher.ApplyProfile(ctx, push.CustomerID, push.Profile)
		if err != nil {
			e.metrics.IncPush("retry")
			e.logg.Warn(e.logg.WithFields(ctx, map[string]any{
				"attempt": attempts,
				"error":   err.Error(),
			}), "policy push attempt failed")
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(e.cfg.MaxAttempts-1)), ctx))
	return attempts, err
}

// fail marks the push failed and escalates. The customer's local FUP flag is
// left as recorded.
func (e *enforcer) fail(ctx context.Context, push *models.PolicyPush, attempts int, cause error) error {
	msg := cause.Error()
	if err := e.db.WithTx(ctx, func(tx *gorm.DB) error {
		if err := e.repo.WithTx(tx).Finish(ctx, push.ID, enums.PolicyPushFailed, attempts, &msg, nil); err != nil {
			return err
		}
		if e.outbox == nil {
			return nil
		}
		return e.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPolicyPushFailed,
			AggregateType: enums.AggregatePolicyPush,
			AggregateID:   push.ID,
			Version:       1,
			Actor:         &outbox.ActorRef{Component: "fup"},
			Data: payloads.PolicyPushFailedEvent{
				PushID:     push.ID,
				CustomerID: push.CustomerID,
				Profile:    push.Profile,
				Reason:     push.Reason,
				Attempts:   attempts,
				LastError:  msg,
			},
		})
	}); err != nil {
		return err
	}
	e.metrics.IncPush("failed")
	e.metrics.IncPushFailure()
	e.logg.Error(e.logg.WithField(ctx, "attempts", attempts), "policy push exhausted retries", cause)
	return pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("%w: %v", ErrPolicyPushFailed, cause), "router did not accept policy").
		WithDetails(map[string]any{"push_id": push.ID.String(), "attempts": attempts})
}

// RedriveDue delivers pending pushes and in-flight pushes whose lease elapsed,
// e.g. after a crash between commit and dispatch.
func (e *enforcer) RedriveDue(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = e.cfg.DispatchBatchSize
	}
	if limit <= 0 {
		limit = 50
	}
	due, err := e.repo.ListRedrivable(ctx, e.now(), limit)
	if err != nil {
		return 0, err
	}
	workers := concpool.New().WithErrors().WithMaxGoroutines(e.workers)
	for _, push := range due {
		id := push.ID
		workers.Go(func() error {
			err := e.Deliver(ctx, id)
			if errors.Is(err, ErrPolicyPushFailed) {
				return nil
			}
			return err
		})
	}
	return len(due), workers.Wait()
}

func (e *enforcer) ListByCustomer(ctx context.Context, customerID uuid.UUID) ([]models.PolicyPush, error) {
	return e.repo.ListByCustomer(ctx, customerID)
}
