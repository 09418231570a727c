package pool

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/ispbox-backend/internal/owners"
	"github.com/angelmondragon/ispbox-backend/pkg/db"
	"github.com/angelmondragon/ispbox-backend/pkg/db/models"
	"github.com/angelmondragon/ispbox-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/ispbox-backend/pkg/errors"
	"github.com/angelmondragon/ispbox-backend/pkg/keylock"
	"github.com/angelmondragon/ispbox-backend/pkg/logger"
	"github.com/angelmondragon/ispbox-backend/pkg/metrics"
	"github.com/angelmondragon/ispbox-backend/pkg/outbox"
	"github.com/angelmondragon/ispbox-backend/pkg/outbox/payloads"
)

var (
	ErrPoolExhausted       = errors.New("pool exhausted")
	ErrInvalidState        = errors.New("invalid token state")
	ErrDuplicateAllocation = errors.New("owner already holds a token in this pool")
	ErrPoolNotFound        = errors.New("pool not found")
	ErrTokenNotFound       = errors.New("token not found")
)

const (
	maxClaimAttempts = 8
	maxRangeHostBits = 16
	defaultSweepSize = 200
)

// Service allocates pool tokens. Every state change goes through transition.
type Service interface {
	CreatePool(ctx context.Context, input CreatePoolInput) (*models.ResourcePool, error)
	CreatePoolTx(ctx context.Context, tx *gorm.DB, input CreatePoolInput) (*models.ResourcePool, error)
	GetPool(ctx context.Context, id uuid.UUID) (*models.ResourcePool, error)
	AddTokens(ctx context.Context, input AddTokensInput) (int64, error)
	AddTokensTx(ctx context.Context, tx *gorm.DB, input AddTokensInput) (int64, error)
	ProvisionIPRange(ctx context.Context, poolID uuid.UUID, cidr string) (int64, error)
	PoolStats(ctx context.Context, poolID uuid.UUID) (*Stats, error)

	// LockPool serializes allocators of one pool inside this process. Composite
	// flows take it before any owner lock or transaction.
	LockPool(poolID uuid.UUID) func()
	Allocate(ctx context.Context, input AllocateInput) (*models.ResourceToken, error)
	AllocateTx(ctx context.Context, tx *gorm.DB, input AllocateInput) (*models.ResourceToken, error)

	GetToken(ctx context.Context, id uuid.UUID) (*models.ResourceToken, error)
	FindTokenByValue(ctx context.Context, poolID uuid.UUID, value string) (*models.ResourceToken, error)
	Confirm(ctx context.Context, tokenID uuid.UUID) (*models.ResourceToken, error)
	Release(ctx context.Context, tokenID uuid.UUID) (*models.ResourceToken, error)
	Redeem(ctx context.Context, tokenID uuid.UUID, usedBy string) (*models.ResourceToken, error)
	Disable(ctx context.Context, tokenID uuid.UUID) (*models.ResourceToken, error)
	Expire(ctx context.Context, tokenID uuid.UUID) (*models.ResourceToken, error)
	SweepExpired(ctx context.Context, limit int) (int, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type CreatePoolInput struct {
	Name           string
	Kind           enums.PoolKind
	Exclusive      bool
	ReservationTTL time.Duration
}

type AddTokensInput struct {
	PoolID  uuid.UUID
	Values  []string
	BatchID *uuid.UUID
}

// AllocateInput requests one token. A nil TTL assigns directly; a non-nil TTL
// reserves, with zero meaning the pool default.
type AllocateInput struct {
	PoolID uuid.UUID
	Owner  owners.Ref
	TTL    *time.Duration
}

type Stats struct {
	PoolID    uuid.UUID        `json:"pool_id"`
	Name      string           `json:"name"`
	Kind      enums.PoolKind   `json:"kind"`
	Exclusive bool             `json:"exclusive"`
	Total     int64            `json:"total"`
	Counts    map[string]int64 `json:"counts"`
}

type ServiceParams struct {
	DB         txRunner
	Repo       Repository
	Outbox     outboxEmitter
	Logger     *logger.Logger
	Metrics    *metrics.Pool
	DefaultTTL time.Duration
	Now        func() time.Time
}

type service struct {
	db         txRunner
	repo       Repository
	outbox     outboxEmitter
	logg       *logger.Logger
	metrics    *metrics.Pool
	locks      *keylock.Map
	defaultTTL time.Duration
	now        func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("pool repository required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	defaultTTL := params.DefaultTTL
	if defaultTTL <= 0 {
		defaultTTL = 15 * time.Minute
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &service{
		db:         params.DB,
		repo:       params.Repo,
		outbox:     params.Outbox,
		logg:       params.Logger,
		metrics:    params.Metrics,
		locks:      keylock.New(),
		defaultTTL: defaultTTL,
		now:        now,
	}, nil
}

func (s *service) LockPool(poolID uuid.UUID) func() {
	return s.locks.Lock(poolID.String())
}

func (s *service) CreatePool(ctx context.Context, input CreatePoolInput) (*models.ResourcePool, error) {
	return s.createPool(ctx, s.repo, input)
}

func (s *service) CreatePoolTx(ctx context.Context, tx *gorm.DB, input CreatePoolInput) (*models.ResourcePool, error) {
	if tx == nil {
		return nil, fmt.Errorf("transaction required")
	}
	return s.createPool(ctx, s.repo.WithTx(tx), input)
}

func (s *service) createPool(ctx context.Context, repo Repository, input CreatePoolInput) (*models.ResourcePool, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "pool name is required")
	}
	if !input.Kind.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid pool kind %q", input.Kind))
	}
	if input.ReservationTTL < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reservation ttl must not be negative")
	}
	p := &models.ResourcePool{
		Name:                  name,
		Kind:                  input.Kind,
		Exclusive:             input.Exclusive,
		ReservationTTLSeconds: int(input.ReservationTTL / time.Second),
	}
	if err := repo.CreatePool(ctx, p); err != nil {
		if db.IsUniqueViolation(err, "") {
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "pool name already exists")
		}
		return nil, fmt.Errorf("create pool: %w", err)
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"pool_id":   p.ID.String(),
		"kind":      p.Kind,
		"exclusive": p.Exclusive,
	}), "resource pool created")
	return p, nil
}

func (s *service) GetPool(ctx context.Context, id uuid.UUID) (*models.ResourcePool, error) {
	return s.loadPool(ctx, s.repo, id)
}

func (s *service) loadPool(ctx context.Context, repo Repository, id uuid.UUID) (*models.ResourcePool, error) {
	p, err := repo.FindPool(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, ErrPoolNotFound, "pool not found")
	}
	return p, nil
}

func (s *service) AddTokens(ctx context.Context, input AddTokensInput) (int64, error) {
	unlock := s.LockPool(input.PoolID)
	defer unlock()

	var inserted int64
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		n, err := s.AddTokensTx(ctx, tx, input)
		inserted = n
		return err
	})
	return inserted, err
}

// AddTokensTx appends values after the pool's highest position. Values
// already present are skipped.
func (s *service) AddTokensTx(ctx context.Context, tx *gorm.DB, input AddTokensInput) (int64, error) {
	repo := s.repo.WithTx(tx)
	p, err := s.loadPool(ctx, repo, input.PoolID)
	if err != nil {
		return 0, err
	}
	if input.BatchID != nil && p.Kind != enums.PoolKindVoucher {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "batches only apply to voucher pools")
	}
	position, err := repo.MaxPosition(ctx, p.ID)
	if err != nil {
		return 0, err
	}

	seen := make(map[string]struct{}, len(input.Values))
	tokens := make([]models.ResourceToken, 0, len(input.Values))
	for _, raw := range input.Values {
		value := strings.TrimSpace(raw)
		if value == "" {
			return 0, pkgerrors.New(pkgerrors.CodeValidation, "token value must not be empty")
		}
		if _, dup := seen[value]; dup {
			continue
		}
		seen[value] = struct{}{}
		position++
		tokens = append(tokens, models.ResourceToken{
			PoolID:   p.ID,
			Position: position,
			Value:    value,
			State:    enums.TokenAvailable,
			BatchID:  input.BatchID,
		})
	}
	if len(tokens) == 0 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "at least one token value is required")
	}
	inserted, err := repo.InsertTokens(ctx, tokens)
	if err != nil {
		return 0, fmt.Errorf("insert tokens: %w", err)
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"pool_id":   p.ID.String(),
		"requested": len(tokens),
		"inserted":  inserted,
	}), "pool tokens provisioned")
	return inserted, nil
}

// ProvisionIPRange adds every host address of cidr to an ip pool. IPv4
// network and broadcast addresses are skipped.
func (s *service) ProvisionIPRange(ctx context.Context, poolID uuid.UUID, cidr string) (int64, error) {
	p, err := s.GetPool(ctx, poolID)
	if err != nil {
		return 0, err
	}
	if p.Kind != enums.PoolKindIP {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "ip ranges only apply to ip pools")
	}
	values, err := hostAddresses(cidr)
	if err != nil {
		return 0, err
	}
	return s.AddTokens(ctx, AddTokensInput{PoolID: poolID, Values: values})
}

func hostAddresses(cidr string) ([]string, error) {
	prefix, err := netip.ParsePrefix(strings.TrimSpace(cidr))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cidr")
	}
	prefix = prefix.Masked()
	hostBits := prefix.Addr().BitLen() - prefix.Bits()
	if hostBits > maxRangeHostBits {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("range %s is larger than /%d", prefix, prefix.Addr().BitLen()-maxRangeHostBits))
	}

	values := make([]string, 0, 1<<hostBits)
	for addr := prefix.Addr(); addr.IsValid() && prefix.Contains(addr); addr = addr.Next() {
		values = append(values, addr.String())
	}
	if prefix.Addr().Is4() && hostBits >= 2 {
		values = values[1 : len(values)-1]
	}
	return values, nil
}

func (s *service) PoolStats(ctx context.Context, poolID uuid.UUID) (*Stats, error) {
	p, err := s.GetPool(ctx, poolID)
	if err != nil {
		return nil, err
	}
	counts, err := s.repo.CountByState(ctx, poolID)
	if err != nil {
		return nil, err
	}
	stats := &Stats{
		PoolID:    p.ID,
		Name:      p.Name,
		Kind:      p.Kind,
		Exclusive: p.Exclusive,
		Counts:    make(map[string]int64, len(counts)),
	}
	for state, n := range counts {
		stats.Counts[string(state)] = n
		stats.Total += n
	}
	return stats, nil
}

func (s *service) Allocate(ctx context.Context, input AllocateInput) (*models.ResourceToken, error) {
	if err := validateAllocate(input); err != nil {
		return nil, err
	}
	unlock := s.LockPool(input.PoolID)
	defer unlock()

	var token *models.ResourceToken
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		claimed, err := s.AllocateTx(ctx, tx, input)
		if err != nil {
			return err
		}
		token = claimed
		return nil
	})
	if err != nil {
		return nil, err
	}
	return token, nil
}

func validateAllocate(input AllocateInput) error {
	if input.PoolID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "pool id is required")
	}
	if err := input.Owner.Validate(); err != nil {
		return err
	}
	if input.TTL != nil && *input.TTL < 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "ttl must not be negative")
	}
	return nil
}

// AllocateTx claims the lowest-position claimable token inside tx. The caller
// must hold LockPool for input.PoolID.
func (s *service) AllocateTx(ctx context.Context, tx *gorm.DB, input AllocateInput) (*models.ResourceToken, error) {
	if tx == nil {
		return nil, fmt.Errorf("transaction required")
	}
	if err := validateAllocate(input); err != nil {
		return nil, err
	}
	repo := s.repo.WithTx(tx)
	p, err := s.loadPool(ctx, repo, input.PoolID)
	if err != nil {
		return nil, err
	}
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"pool_id":    p.ID.String(),
		"owner_kind": input.Owner.Kind,
		"owner_id":   input.Owner.ID.String(),
	})

	if p.Exclusive {
		held, err := repo.ActiveForOwner(ctx, p.ID, input.Owner)
		if err != nil {
			return nil, err
		}
		if held != nil && held.ReservationElapsed(s.now()) {
			if _, err := s.expireReservation(ctx, tx, p, held); err != nil {
				return nil, err
			}
			held = nil
		}
		if held != nil {
			return nil, duplicateAllocation(p, input.Owner, held)
		}
	}

	target := enums.TokenAssigned
	var reservedUntil *time.Time
	if input.TTL != nil {
		ttl := *input.TTL
		if ttl == 0 {
			ttl = p.ReservationTTL()
		}
		if ttl == 0 {
			ttl = s.defaultTTL
		}
		until := s.now().Add(ttl)
		reservedUntil = &until
		target = enums.TokenReserved
	}

	var lost []uuid.UUID
	for attempt := 0; attempt < maxClaimAttempts; attempt++ {
		now := s.now()
		candidate, err := repo.NextCandidate(ctx, p.ID, now, lost)
		if err != nil {
			return nil, fmt.Errorf("select candidate: %w", err)
		}
		if candidate == nil {
			break
		}
		if candidate.ReservationElapsed(now) {
			reclaimed, err := s.expireReservation(ctx, tx, p, candidate)
			if err != nil {
				return nil, err
			}
			if reclaimed == nil {
				lost = append(lost, candidate.ID)
				continue
			}
			candidate = reclaimed
		}

		claimed, err := s.transition(ctx, tx, p, candidate, target, change{owner: &input.Owner, reservedUntil: reservedUntil})
		if err != nil {
			if errors.Is(err, ErrInvalidState) {
				lost = append(lost, candidate.ID)
				continue
			}
			if p.Exclusive && db.IsUniqueViolation(err, "") {
				return nil, duplicateAllocation(p, input.Owner, nil)
			}
			return nil, err
		}
		s.metrics.IncAllocation(string(p.Kind), string(target))
		s.logg.Info(s.logg.WithFields(logCtx, map[string]any{
			"token_id": claimed.ID.String(),
			"value":    claimed.Value,
			"state":    claimed.State,
		}), "pool token allocated")
		return claimed, nil
	}

	s.metrics.IncExhausted(string(p.Kind))
	s.logg.Warn(logCtx, "pool exhausted")
	return nil, pkgerrors.Wrap(pkgerrors.CodePoolExhausted, ErrPoolExhausted, "no token available").
		WithDetails(map[string]any{"pool_id": p.ID.String(), "pool": p.Name})
}

func duplicateAllocation(p *models.ResourcePool, owner owners.Ref, held *models.ResourceToken) error {
	details := map[string]any{"pool_id": p.ID.String(), "owner": owner.Key()}
	if held != nil {
		details["token_id"] = held.ID.String()
	}
	return pkgerrors.Wrap(pkgerrors.CodeDuplicateAllocation, ErrDuplicateAllocation, "allocation rejected for exclusive pool").
		WithDetails(details)
}

// expireReservation moves an elapsed reservation back to available. It
// returns nil when another caller already reclaimed the token.
func (s *service) expireReservation(ctx context.Context, tx *gorm.DB, p *models.ResourcePool, token *models.ResourceToken) (*models.ResourceToken, error) {
	reclaimed, err := s.transition(ctx, tx, p, token, enums.TokenAvailable, change{})
	if errors.Is(err, ErrInvalidState) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.metrics.IncExpired(string(p.Kind))
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"pool_id":  p.ID.String(),
		"token_id": token.ID.String(),
	}), "reservation expired")
	if s.outbox != nil {
		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventReservationExpired,
			AggregateType: enums.AggregateResourceToken,
			AggregateID:   token.ID,
			Version:       1,
			Actor:         &outbox.ActorRef{Component: "pool"},
			Data: payloads.ReservationExpiredEvent{
				TokenID: token.ID,
				PoolID:  p.ID,
				Value:   token.Value,
			},
		}); err != nil {
			return nil, err
		}
	}
	return reclaimed, nil
}

func (s *service) GetToken(ctx context.Context, id uuid.UUID) (*models.ResourceToken, error) {
	token, err := s.repo.FindToken(ctx, id)
	if err != nil {
		return nil, err
	}
	if token == nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, ErrTokenNotFound, "token not found")
	}
	return token, nil
}

func (s *service) FindTokenByValue(ctx context.Context, poolID uuid.UUID, value string) (*models.ResourceToken, error) {
	token, err := s.repo.FindTokenByValue(ctx, poolID, strings.TrimSpace(value))
	if err != nil {
		return nil, err
	}
	if token == nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, ErrTokenNotFound, "token not found")
	}
	return token, nil
}

// Confirm turns a live reservation into an assignment. An elapsed
// reservation is reclaimed and reported as an invalid state.
func (s *service) Confirm(ctx context.Context, tokenID uuid.UUID) (*models.ResourceToken, error) {
	var elapsed bool
	token, err := s.mutate(ctx, tokenID, func(tx *gorm.DB, p *models.ResourcePool, token *models.ResourceToken) (*models.ResourceToken, error) {
		if token.ReservationElapsed(s.now()) {
			if _, err := s.expireReservation(ctx, tx, p, token); err != nil {
				return nil, err
			}
			elapsed = true
			return nil, nil
		}
		return s.transition(ctx, tx, p, token, enums.TokenAssigned, change{})
	})
	if err != nil {
		return nil, err
	}
	if elapsed {
		return nil, pkgerrors.Wrap(pkgerrors.CodeStateConflict, ErrInvalidState, "reservation has expired").
			WithDetails(map[string]any{"token_id": tokenID.String()})
	}
	return token, nil
}

func (s *service) Release(ctx context.Context, tokenID uuid.UUID) (*models.ResourceToken, error) {
	return s.mutate(ctx, tokenID, func(tx *gorm.DB, p *models.ResourcePool, token *models.ResourceToken) (*models.ResourceToken, error) {
		if token.State != enums.TokenReserved && token.State != enums.TokenAssigned {
			return nil, invalidTransition(token, enums.TokenAvailable)
		}
		return s.transition(ctx, tx, p, token, enums.TokenAvailable, change{})
	})
}

func (s *service) Redeem(ctx context.Context, tokenID uuid.UUID, usedBy string) (*models.ResourceToken, error) {
	usedBy = strings.TrimSpace(usedBy)
	if usedBy == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "used_by is required")
	}
	return s.mutate(ctx, tokenID, func(tx *gorm.DB, p *models.ResourcePool, token *models.ResourceToken) (*models.ResourceToken, error) {
		if p.Kind != enums.PoolKindVoucher {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "only voucher tokens can be redeemed")
		}
		return s.transition(ctx, tx, p, token, enums.TokenUsed, change{usedBy: usedBy})
	})
}

func (s *service) Disable(ctx context.Context, tokenID uuid.UUID) (*models.ResourceToken, error) {
	return s.mutate(ctx, tokenID, func(tx *gorm.DB, p *models.ResourcePool, token *models.ResourceToken) (*models.ResourceToken, error) {
		return s.transition(ctx, tx, p, token, enums.TokenDisabled, change{})
	})
}

func (s *service) Expire(ctx context.Context, tokenID uuid.UUID) (*models.ResourceToken, error) {
	return s.mutate(ctx, tokenID, func(tx *gorm.DB, p *models.ResourcePool, token *models.ResourceToken) (*models.ResourceToken, error) {
		return s.transition(ctx, tx, p, token, enums.TokenExpired, change{})
	})
}

type mutateFunc func(tx *gorm.DB, p *models.ResourcePool, token *models.ResourceToken) (*models.ResourceToken, error)

// mutate runs fn for a single token under its pool lock and a fresh read.
func (s *service) mutate(ctx context.Context, tokenID uuid.UUID, fn mutateFunc) (*models.ResourceToken, error) {
	if tokenID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "token id is required")
	}
	token, err := s.GetToken(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	unlock := s.LockPool(token.PoolID)
	defer unlock()

	var result *models.ResourceToken
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		current, err := repo.FindToken(ctx, tokenID)
		if err != nil {
			return err
		}
		if current == nil {
			return pkgerrors.Wrap(pkgerrors.CodeNotFound, ErrTokenNotFound, "token not found")
		}
		p, err := s.loadPool(ctx, repo, current.PoolID)
		if err != nil {
			return err
		}
		result, err = fn(tx, p, current)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// SweepExpired reclaims elapsed reservations. Tokens already reclaimed by a
// concurrent allocator are skipped, so each expiry is counted once.
func (s *service) SweepExpired(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = defaultSweepSize
	}
	candidates, err := s.repo.ListElapsed(ctx, s.now(), limit)
	if err != nil {
		return 0, fmt.Errorf("list elapsed reservations: %w", err)
	}
	var (
		reclaimed int
		errs      error
	)
	for i := range candidates {
		ok, err := s.sweepOne(ctx, candidates[i])
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("token %s: %w", candidates[i].ID, err))
			continue
		}
		if ok {
			reclaimed++
		}
	}
	return reclaimed, errs
}

func (s *service) sweepOne(ctx context.Context, candidate models.ResourceToken) (bool, error) {
	unlock := s.LockPool(candidate.PoolID)
	defer unlock()

	var ok bool
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		current, err := repo.FindToken(ctx, candidate.ID)
		if err != nil || current == nil {
			return err
		}
		if !current.ReservationElapsed(s.now()) {
			return nil
		}
		p, err := s.loadPool(ctx, repo, current.PoolID)
		if err != nil {
			return err
		}
		reclaimed, err := s.expireReservation(ctx, tx, p, current)
		ok = reclaimed != nil
		return err
	})
	return ok, err
}
