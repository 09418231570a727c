package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/ispbox-backend/api/middleware"
	"github.com/angelmondragon/ispbox-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/ispbox-backend/pkg/errors"
	"github.com/angelmondragon/ispbox-backend/pkg/outbox"
	"github.com/angelmondragon/ispbox-backend/pkg/pagination"
)

type testDeadLetters struct {
	params   pagination.Params
	replayed uuid.UUID
	operator string
	err      error
}

func (s *testDeadLetters) List(_ context.Context, params pagination.Params) (*outbox.DLQPage, error) {
	s.params = params
	return &outbox.DLQPage{Entries: []models.OutboxDLQ{{EventID: uuid.New()}}}, nil
}

func (s *testDeadLetters) Replay(_ context.Context, eventID uuid.UUID, operator string) (*models.OutboxDLQ, error) {
	s.replayed, s.operator = eventID, operator
	if s.err != nil {
		return nil, s.err
	}
	return &models.OutboxDLQ{EventID: eventID}, nil
}

func TestDeadLetterListPassesPagination(t *testing.T) {
	svc := &testDeadLetters{}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/outbox/dead-letters?limit=5", nil)
	resp := httptest.NewRecorder()
	DeadLetterList(svc, testLogger())(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, 5, svc.params.Limit)

	var body struct {
		Data outbox.DLQPage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	require.Len(t, body.Data.Entries, 1)
}

func TestDeadLetterReplayUsesOperatorHeader(t *testing.T) {
	svc := &testDeadLetters{}
	eventID := uuid.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/outbox/dead-letters/"+eventID.String()+"/replay", nil)
	req = req.WithContext(middleware.WithOperator(req.Context(), "noc@isp"))
	req = addRouteParam(req, "eventId", eventID.String())
	resp := httptest.NewRecorder()
	DeadLetterReplay(svc, testLogger())(resp, req)

	require.Equal(t, http.StatusAccepted, resp.Code)
	require.Equal(t, eventID, svc.replayed)
	require.Equal(t, "noc@isp", svc.operator)
}

func TestDeadLetterReplayMapsNotFound(t *testing.T) {
	svc := &testDeadLetters{err: pkgerrors.New(pkgerrors.CodeNotFound, "dead letter not found")}
	id := uuid.NewString()
	req := addRouteParam(httptest.NewRequest(http.MethodPost, "/", nil), "eventId", id)
	resp := httptest.NewRecorder()
	DeadLetterReplay(svc, testLogger())(resp, req)

	require.Equal(t, http.StatusNotFound, resp.Code)
}
