package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/ispbox-backend/api/middleware"
	"github.com/angelmondragon/ispbox-backend/api/responses"
	"github.com/angelmondragon/ispbox-backend/api/validators"
	"github.com/angelmondragon/ispbox-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/ispbox-backend/pkg/errors"
	"github.com/angelmondragon/ispbox-backend/pkg/logger"
	"github.com/angelmondragon/ispbox-backend/pkg/outbox"
	"github.com/angelmondragon/ispbox-backend/pkg/pagination"
)

type DeadLetterService interface {
	List(ctx context.Context, params pagination.Params) (*outbox.DLQPage, error)
	Replay(ctx context.Context, eventID uuid.UUID, operator string) (*models.OutboxDLQ, error)
}

func DeadLetterList(svc DeadLetterService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "dead letter service unavailable"))
			return
		}
		params, err := pageParams(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		page, err := svc.List(r.Context(), params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}

// DeadLetterReplay requeues a dead-lettered event. The operator comes from
// the gateway header; replays without one are rejected.
func DeadLetterReplay(svc DeadLetterService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "dead letter service unavailable"))
			return
		}
		eventID, err := validators.ParseUUIDParam(r, "eventId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		entry, err := svc.Replay(r.Context(), eventID, middleware.OperatorFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusAccepted, entry)
	}
}
