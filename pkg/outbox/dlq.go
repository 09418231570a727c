package outbox

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/ispbox-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/ispbox-backend/pkg/errors"
	"github.com/angelmondragon/ispbox-backend/pkg/logger"
	"github.com/angelmondragon/ispbox-backend/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type DLQPage struct {
	Entries    []models.OutboxDLQ `json:"entries"`
	NextCursor string             `json:"next_cursor,omitempty"`
}

// DLQService lets operators inspect dead-lettered events and send them back
// through the relay.
type DLQService struct {
	db     txRunner
	events *Repository
	dlq    *DLQRepository
	logg   *logger.Logger
}

func NewDLQService(db txRunner, events *Repository, dlq *DLQRepository, logg *logger.Logger) *DLQService {
	return &DLQService{db: db, events: events, dlq: dlq, logg: logg}
}

func (s *DLQService) List(ctx context.Context, params pagination.Params) (*DLQPage, error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	limit := pagination.NormalizeLimit(params.Limit)
	rows, err := s.dlq.List(ctx, cursor, limit+1)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list dead letters")
	}
	page := &DLQPage{Entries: rows}
	if len(rows) > limit {
		page.Entries = rows[:limit]
		last := page.Entries[limit-1]
		page.NextCursor = pagination.EncodeCursor(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	return page, nil
}

// Replay requeues the event with a fresh attempt budget and removes its
// dead-letter row in one transaction.
func (s *DLQService) Replay(ctx context.Context, eventID uuid.UUID, operator string) (*models.OutboxDLQ, error) {
	operator = strings.TrimSpace(operator)
	if eventID == uuid.Nil || operator == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "event id and operator are required")
	}

	var replayed *models.OutboxDLQ
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		entry, err := s.dlq.FindByEventIDTx(tx, eventID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load dead letter")
		}
		if entry == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "dead letter not found").WithDetails(map[string]any{"event_id": eventID})
		}
		if err := s.events.RequeueTx(tx, *entry); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "requeue outbox event")
		}
		if err := s.dlq.DeleteTx(tx, entry.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete dead letter")
		}
		replayed = entry
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.logg != nil {
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"event_id":     eventID.String(),
			"event_type":   replayed.EventType,
			"error_reason": replayed.ErrorReason,
			"operator":     operator,
		}), "dead-lettered outbox event requeued")
	}
	return replayed, nil
}
