package controllers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/ispbox-backend/api/responses"
	"github.com/angelmondragon/ispbox-backend/api/validators"
	"github.com/angelmondragon/ispbox-backend/internal/owners"
	"github.com/angelmondragon/ispbox-backend/internal/pool"
	"github.com/angelmondragon/ispbox-backend/pkg/db/models"
	"github.com/angelmondragon/ispbox-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/ispbox-backend/pkg/errors"
	"github.com/angelmondragon/ispbox-backend/pkg/logger"
)

type createPoolRequest struct {
	Name                  string `json:"name" validate:"required,max=64"`
	Kind                  string `json:"kind" validate:"required,oneof=ip voucher"`
	Exclusive             bool   `json:"exclusive"`
	ReservationTTLSeconds int    `json:"reservation_ttl_seconds" validate:"gte=0"`
}

type ipRangeRequest struct {
	CIDR string `json:"cidr" validate:"required,cidr"`
}

type allocateRequest struct {
	OwnerKind string `json:"owner_kind" validate:"required,oneof=customer partner"`
	OwnerID   string `json:"owner_id" validate:"required,uuid"`
	// TTLSeconds reserves instead of assigning; 0 uses the pool default.
	TTLSeconds *int `json:"ttl_seconds,omitempty" validate:"omitempty,gte=0"`
}

type redeemRequest struct {
	UsedBy string `json:"used_by" validate:"required,max=128"`
}

func PoolCreate(svc pool.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body createPoolRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		created, err := svc.CreatePool(r.Context(), pool.CreatePoolInput{
			Name:           validators.SanitizeString(body.Name, 64),
			Kind:           enums.PoolKind(body.Kind),
			Exclusive:      body.Exclusive,
			ReservationTTL: time.Duration(body.ReservationTTLSeconds) * time.Second,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, created)
	}
}

// PoolAddIPRange provisions every host address of a CIDR block.
func PoolAddIPRange(svc pool.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		poolID, err := validators.ParseUUIDParam(r, "poolId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body ipRangeRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		added, err := svc.ProvisionIPRange(r.Context(), poolID, body.CIDR)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, map[string]any{"pool_id": poolID, "added": added})
	}
}

func PoolStats(svc pool.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		poolID, err := validators.ParseUUIDParam(r, "poolId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		stats, err := svc.PoolStats(r.Context(), poolID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, stats)
	}
}

// PoolTokenLookup finds a token by its value, such as an IP address or a
// voucher code.
func PoolTokenLookup(svc pool.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		poolID, err := validators.ParseUUIDParam(r, "poolId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		value := strings.TrimSpace(r.URL.Query().Get("value"))
		if value == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "value query parameter is required"))
			return
		}
		token, err := svc.FindTokenByValue(r.Context(), poolID, value)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, token)
	}
}

func PoolAllocate(svc pool.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		poolID, err := validators.ParseUUIDParam(r, "poolId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body allocateRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		owner, err := owners.Parse(body.OwnerKind, body.OwnerID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		input := pool.AllocateInput{PoolID: poolID, Owner: owner}
		if body.TTLSeconds != nil {
			ttl := time.Duration(*body.TTLSeconds) * time.Second
			input.TTL = &ttl
		}
		token, err := svc.Allocate(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, token)
	}
}

type tokenAction func(ctx context.Context, tokenID uuid.UUID) (*models.ResourceToken, error)

func tokenHandler(action tokenAction, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tokenID, err := validators.ParseUUIDParam(r, "tokenId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		token, err := action(r.Context(), tokenID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, token)
	}
}

func TokenConfirm(svc pool.Service, logg *logger.Logger) http.HandlerFunc {
	return tokenHandler(svc.Confirm, logg)
}

func TokenRelease(svc pool.Service, logg *logger.Logger) http.HandlerFunc {
	return tokenHandler(svc.Release, logg)
}

func TokenDisable(svc pool.Service, logg *logger.Logger) http.HandlerFunc {
	return tokenHandler(svc.Disable, logg)
}

func TokenExpire(svc pool.Service, logg *logger.Logger) http.HandlerFunc {
	return tokenHandler(svc.Expire, logg)
}

func TokenRedeem(svc pool.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tokenID, err := validators.ParseUUIDParam(r, "tokenId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body redeemRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		token, err := svc.Redeem(r.Context(), tokenID, validators.SanitizeString(body.UsedBy, 128))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, token)
	}
}
