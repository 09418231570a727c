package pool

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/ispbox-backend/internal/owners"
	"github.com/angelmondragon/ispbox-backend/pkg/db/models"
	"github.com/angelmondragon/ispbox-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/ispbox-backend/pkg/errors"
)

var allowedTransitions = map[enums.TokenState][]enums.TokenState{
	enums.TokenAvailable: {enums.TokenReserved, enums.TokenAssigned, enums.TokenDisabled},
	enums.TokenReserved:  {enums.TokenAssigned, enums.TokenAvailable},
	enums.TokenAssigned:  {enums.TokenUsed, enums.TokenAvailable},
	enums.TokenUsed:      {enums.TokenExpired, enums.TokenDisabled},
}

// CanTransition reports whether the token state machine allows from -> to.
func CanTransition(from, to enums.TokenState) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type change struct {
	owner         *owners.Ref
	reservedUntil *time.Time
	usedBy        string
}

func invalidTransition(token *models.ResourceToken, to enums.TokenState) error {
	return pkgerrors.Wrap(pkgerrors.CodeStateConflict, ErrInvalidState,
		fmt.Sprintf("token cannot move from %s to %s", token.State, to)).
		WithDetails(map[string]any{
			"token_id": token.ID.String(),
			"from":     token.State,
			"to":       to,
		})
}

// transition is the only writer of token state. It compares on version, so
// a caller holding a stale row loses instead of double-applying.
func (s *service) transition(ctx context.Context, tx *gorm.DB, p *models.ResourcePool, token *models.ResourceToken, to enums.TokenState, c change) (*models.ResourceToken, error) {
	if !CanTransition(token.State, to) {
		return nil, invalidTransition(token, to)
	}
	now := s.now()
	updates := map[string]any{
		"state":      to,
		"version":    token.Version + 1,
		"updated_at": now,
	}

	switch to {
	case enums.TokenReserved:
		if c.owner == nil || c.reservedUntil == nil {
			return nil, fmt.Errorf("reservation requires owner and expiry")
		}
		setOwner(updates, p, *c.owner)
		updates["reserved_until"] = *c.reservedUntil
		updates["assigned_at"] = nil
	case enums.TokenAssigned:
		if c.owner != nil {
			setOwner(updates, p, *c.owner)
		} else if token.OwnerKind == nil || token.OwnerID == nil {
			return nil, invalidTransition(token, to)
		}
		updates["reserved_until"] = nil
		updates["assigned_at"] = now
	case enums.TokenAvailable:
		updates["owner_kind"] = nil
		updates["owner_id"] = nil
		updates["exclusive_key"] = nil
		updates["reserved_until"] = nil
		updates["assigned_at"] = nil
	case enums.TokenUsed:
		updates["used_at"] = now
		updates["used_by"] = c.usedBy
		updates["exclusive_key"] = nil
	case enums.TokenExpired, enums.TokenDisabled:
		updates["exclusive_key"] = nil
		updates["reserved_until"] = nil
	}

	repo := s.repo.WithTx(tx)
	swapped, err := repo.CompareAndSwap(ctx, token.ID, token.Version, updates)
	if err != nil {
		return nil, err
	}
	if !swapped {
		return nil, pkgerrors.Wrap(pkgerrors.CodeStateConflict, ErrInvalidState, "token changed concurrently").
			WithDetails(map[string]any{"token_id": token.ID.String()})
	}

	updated, err := repo.FindToken(ctx, token.ID)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, fmt.Errorf("token %s vanished after transition", token.ID)
	}
	s.logg.Debug(s.logg.WithFields(ctx, map[string]any{
		"token_id": token.ID.String(),
		"from":     token.State,
		"to":       to,
		"version":  updated.Version,
	}), "token transition")
	return updated, nil
}

func setOwner(updates map[string]any, p *models.ResourcePool, owner owners.Ref) {
	updates["owner_kind"] = owner.Kind
	updates["owner_id"] = owner.ID
	if p.Exclusive {
		updates["exclusive_key"] = owner.Key()
	}
}
