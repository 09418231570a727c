package responses

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/ispbox-backend/pkg/errors"
	"github.com/angelmondragon/ispbox-backend/pkg/types"
)

func decodeError(t *testing.T, w *httptest.ResponseRecorder) types.APIError {
	t.Helper()
	var body types.ErrorEnvelope
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return body.Error
}

func TestWriteSuccessEnvelope(t *testing.T) {
	w := httptest.NewRecorder()
	WriteSuccessStatus(w, http.StatusCreated, map[string]string{"invoice_number": "INV-202603-01"})

	require.Equal(t, http.StatusCreated, w.Code)
	var body types.SuccessEnvelope
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	require.Equal(t, "INV-202603-01", body.Data.(map[string]any)["invoice_number"])
}

func TestWriteErrorDomainCodes(t *testing.T) {
	cases := []struct {
		code   pkgerrors.Code
		status int
	}{
		{pkgerrors.CodeInsufficientBalance, http.StatusPaymentRequired},
		{pkgerrors.CodePoolExhausted, http.StatusConflict},
		{pkgerrors.CodeDuplicateAllocation, http.StatusConflict},
		{pkgerrors.CodeStateConflict, http.StatusUnprocessableEntity},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		WriteError(context.Background(), nil, w, pkgerrors.New(tc.code, "domain message").WithDetails(map[string]any{"pool_id": "p1"}))
		require.Equal(t, tc.status, w.Code, tc.code)
		apiErr := decodeError(t, w)
		require.Equal(t, string(tc.code), apiErr.Code)
		require.Equal(t, "domain message", apiErr.Message)
		require.False(t, apiErr.Retryable)
		require.NotNil(t, apiErr.Details)
	}
}

func TestWriteErrorHidesInternalText(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(context.Background(), nil, w, errors.New("pq: password authentication failed"))

	require.Equal(t, http.StatusInternalServerError, w.Code)
	apiErr := decodeError(t, w)
	require.Equal(t, string(pkgerrors.CodeInternal), apiErr.Code)
	require.Equal(t, "internal server error", apiErr.Message)
	require.True(t, apiErr.Retryable)
	require.Nil(t, apiErr.Details)
}

func TestWriteErrorRetryAfterAndRequestID(t *testing.T) {
	prev := RequestIDFunc
	RequestIDFunc = func(context.Context) string { return "01HZX" }
	t.Cleanup(func() { RequestIDFunc = prev })

	w := httptest.NewRecorder()
	WriteError(context.Background(), nil, w, pkgerrors.New(pkgerrors.CodeDependency, "redis timeout"))

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.Equal(t, "5", w.Header().Get("Retry-After"))
	apiErr := decodeError(t, w)
	require.Equal(t, "dependency unavailable", apiErr.Message)
	require.Equal(t, "01HZX", apiErr.RequestID)
}
