package controllers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/ispbox-backend/api/validators"
	"github.com/angelmondragon/ispbox-backend/internal/owners"
	"github.com/angelmondragon/ispbox-backend/pkg/pagination"
)

func pageParams(r *http.Request) (pagination.Params, error) {
	limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
	if err != nil {
		return pagination.Params{}, err
	}
	cursor, err := validators.ParseQueryCursor(r, "cursor")
	if err != nil {
		return pagination.Params{}, err
	}
	return pagination.Params{Limit: limit, Cursor: cursor}, nil
}

func ownerParam(r *http.Request) (owners.Ref, error) {
	return owners.Parse(chi.URLParam(r, "ownerKind"), chi.URLParam(r, "ownerId"))
}
