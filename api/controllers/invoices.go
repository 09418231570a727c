package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/ispbox-backend/api/responses"
	"github.com/angelmondragon/ispbox-backend/api/validators"
	"github.com/angelmondragon/ispbox-backend/internal/invoices"
	"github.com/angelmondragon/ispbox-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/ispbox-backend/pkg/errors"
	"github.com/angelmondragon/ispbox-backend/pkg/logger"
)

// InvoiceGenerate issues the invoice for one customer billing period.
func InvoiceGenerate(svc invoices.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "invoice service unavailable"))
			return
		}
		var body invoices.GenerateInput
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		body.CouponCode = validators.SanitizeString(body.CouponCode, 64)
		for i := range body.ExtraItems {
			body.ExtraItems[i].Name = validators.SanitizeString(body.ExtraItems[i].Name, 255)
		}
		invoice, err := svc.Generate(r.Context(), body)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, invoice)
	}
}

func InvoiceGet(svc invoices.Service, logg *logger.Logger) http.HandlerFunc {
	return invoiceHandler(logg, svc.Get)
}

func InvoiceCharge(svc invoices.Service, logg *logger.Logger) http.HandlerFunc {
	return invoiceHandler(logg, svc.PostCharge)
}

func InvoicePayFromBalance(svc invoices.Service, logg *logger.Logger) http.HandlerFunc {
	return invoiceHandler(logg, svc.PayFromBalance)
}

func InvoiceCancel(svc invoices.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := validators.ParseUUIDParam(r, "invoiceId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body reverseRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		invoice, err := svc.Cancel(r.Context(), id, validators.SanitizeString(body.Reason, 255))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, invoice)
	}
}

// InvoiceList pages an owner's invoices, newest first.
func InvoiceList(svc invoices.Service, logg *logger.Logger) http.HandlerFunc {
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
		page, err := svc.ListByOwner(r.Context(), owner, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}

func invoiceHandler(logg *logger.Logger, fn func(context.Context, uuid.UUID) (*models.Invoice, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := validators.ParseUUIDParam(r, "invoiceId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		invoice, err := fn(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, invoice)
	}
}
