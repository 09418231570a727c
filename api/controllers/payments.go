package controllers

import (
	"net/http"

	"github.com/angelmondragon/ispbox-backend/api/middleware"
	"github.com/angelmondragon/ispbox-backend/api/responses"
	"github.com/angelmondragon/ispbox-backend/api/validators"
	"github.com/angelmondragon/ispbox-backend/internal/payments"
	pkgerrors "github.com/angelmondragon/ispbox-backend/pkg/errors"
	"github.com/angelmondragon/ispbox-backend/pkg/logger"
)

// PaymentWebhook accepts a payment gateway notification. Unmatched payments
// are accepted with 202 so the gateway does not retry them.
func PaymentWebhook(svc payments.Reconciler, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment reconciler unavailable"))
			return
		}
		var body payments.MatchInput
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if source := middleware.PaymentSourceFromContext(r.Context()); source != "" {
			body.Source = source
		}
		body.RawReference = validators.SanitizeString(body.RawReference, 255)

		result, err := svc.MatchPayment(r.Context(), body)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		status := http.StatusOK
		if result.Status == payments.MatchStatusNoMatch {
			status = http.StatusAccepted
		}
		responses.WriteSuccessStatus(w, status, result)
	}
}

func PaymentsUnmatched(svc payments.Reconciler, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params, err := pageParams(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		page, err := svc.ListUnmatched(r.Context(), params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}

// PaymentResolve lets an operator attach a parked notification to an invoice.
func PaymentResolve(svc payments.Reconciler, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := validators.ParseUUIDParam(r, "notificationId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body payments.ResolveInput
		if operator := middleware.OperatorFromContext(r.Context()); operator != "" {
			body.Operator = operator
		}
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		body.NotificationID = id
		body.Operator = validators.SanitizeString(body.Operator, 128)

		result, err := svc.Resolve(r.Context(), body)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
