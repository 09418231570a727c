package controllers

import (
	"net/http"

	"github.com/angelmondragon/ispbox-backend/api/middleware"
	"github.com/angelmondragon/ispbox-backend/api/responses"
	"github.com/angelmondragon/ispbox-backend/api/validators"
	"github.com/angelmondragon/ispbox-backend/internal/ledger"
	"github.com/angelmondragon/ispbox-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/ispbox-backend/pkg/errors"
	"github.com/angelmondragon/ispbox-backend/pkg/logger"
)

type ledgerPostRequest struct {
	Type        string            `json:"type" validate:"required,oneof=credit debit"`
	Amount      int64             `json:"amount" validate:"gt=0"`
	Category    string            `json:"category" validate:"required"`
	Reference   *ledger.Reference `json:"reference,omitempty"`
	Description string            `json:"description" validate:"max=255"`
}

type reverseRequest struct {
	Reason string `json:"reason" validate:"required,max=255"`
}

// LedgerPost appends a manual credit or debit (top-up, penalty, adjustment).
func LedgerPost(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "ledger service unavailable"))
			return
		}
		owner, err := ownerParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body ledgerPostRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		description := validators.SanitizeString(body.Description, 255)
		if operator := middleware.OperatorFromContext(r.Context()); operator != "" && description == "" {
			description = "manual entry by " + operator
		}

		entry, err := svc.Post(r.Context(), ledger.PostInput{
			Owner:       owner,
			Type:        enums.LedgerEntryType(body.Type),
			Amount:      body.Amount,
			Category:    enums.LedgerCategory(body.Category),
			Reference:   body.Reference,
			Description: description,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, entry)
	}
}

func LedgerEntries(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, err := ownerParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params, err := pageParams(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		page, err := svc.ListEntries(r.Context(), owner, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}

func LedgerBalance(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, err := ownerParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		balance, err := svc.Balance(r.Context(), owner)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{
			"owner":   owner,
			"balance": balance,
		})
	}
}

// LedgerVerify runs the chain audit for one owner.
func LedgerVerify(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, err := ownerParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		report, err := svc.VerifyChain(r.Context(), owner)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, report)
	}
}

func LedgerReverse(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entryID, err := validators.ParseUUIDParam(r, "entryId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body reverseRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		entry, err := svc.Reverse(r.Context(), entryID, validators.SanitizeString(body.Reason, 255))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, entry)
	}
}
