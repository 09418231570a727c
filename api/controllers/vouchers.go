package controllers

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/ispbox-backend/api/responses"
	"github.com/angelmondragon/ispbox-backend/api/validators"
	"github.com/angelmondragon/ispbox-backend/internal/owners"
	"github.com/angelmondragon/ispbox-backend/internal/vouchers"
	"github.com/angelmondragon/ispbox-backend/pkg/logger"
)

type createBatchRequest struct {
	PlanID     uuid.UUID  `json:"plan_id" validate:"required"`
	Quantity   int        `json:"quantity" validate:"gt=0,max=10000"`
	UnitPrice  int64      `json:"unit_price" validate:"gte=0"`
	ValidUntil *time.Time `json:"valid_until,omitempty"`
	CodeLength int        `json:"code_length" validate:"omitempty,min=6,max=16"`
}

type sellBatchRequest struct {
	BuyerKind string `json:"buyer_kind" validate:"required,oneof=customer partner"`
	BuyerID   string `json:"buyer_id" validate:"required,uuid"`
}

type redeemVoucherRequest struct {
	Code   string `json:"code" validate:"required,voucher_code"`
	UsedBy string `json:"used_by" validate:"required,max=128"`
}

func VoucherBatchCreate(svc vouchers.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body createBatchRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		batch, err := svc.CreateBatch(r.Context(), vouchers.CreateBatchInput{
			PlanID:     body.PlanID,
			Quantity:   body.Quantity,
			UnitPrice:  body.UnitPrice,
			ValidUntil: body.ValidUntil,
			CodeLength: body.CodeLength,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, batch)
	}
}

func VoucherBatchGet(svc vouchers.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		batchID, err := validators.ParseUUIDParam(r, "batchId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		view, err := svc.GetBatch(r.Context(), batchID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

// VoucherBatchSell allocates one voucher to the buyer and debits its price.
func VoucherBatchSell(svc vouchers.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		batchID, err := validators.ParseUUIDParam(r, "batchId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body sellBatchRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		buyer, err := owners.Parse(body.BuyerKind, body.BuyerID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		sale, err := svc.Sell(r.Context(), vouchers.SellInput{BatchID: batchID, Buyer: buyer})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, sale)
	}
}

func VoucherBatchCancel(svc vouchers.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		batchID, err := validators.ParseUUIDParam(r, "batchId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body reverseRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		batch, err := svc.CancelBatch(r.Context(), batchID, validators.SanitizeString(body.Reason, 255))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, batch)
	}
}

func VoucherRedeem(svc vouchers.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body redeemVoucherRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		token, err := svc.Redeem(r.Context(), validators.SanitizeString(body.Code, 32), validators.SanitizeString(body.UsedBy, 128))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, token)
	}
}
