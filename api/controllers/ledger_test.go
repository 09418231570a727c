package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/ispbox-backend/api/middleware"
	"github.com/angelmondragon/ispbox-backend/internal/ledger"
	"github.com/angelmondragon/ispbox-backend/internal/owners"
	"github.com/angelmondragon/ispbox-backend/pkg/db/models"
	"github.com/angelmondragon/ispbox-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/ispbox-backend/pkg/errors"
	"github.com/angelmondragon/ispbox-backend/pkg/pagination"
)

type testLedgerService struct {
	postFn    func(ctx context.Context, input ledger.PostInput) (*models.LedgerEntry, error)
	balanceFn func(ctx context.Context, owner owners.Ref) (int64, error)
	reverseFn func(ctx context.Context, entryID uuid.UUID, reason string) (*models.LedgerEntry, error)
}

func (s *testLedgerService) Post(ctx context.Context, input ledger.PostInput) (*models.LedgerEntry, error) {
	if s.postFn != nil {
		return s.postFn(ctx, input)
	}
	return &models.LedgerEntry{}, nil
}

func (s *testLedgerService) PostTx(ctx context.Context, _ *gorm.DB, input ledger.PostInput) (*models.LedgerEntry, error) {
	return s.Post(ctx, input)
}

func (s *testLedgerService) LockOwner(owners.Ref) func() { return func() {} }

func (s *testLedgerService) Balance(ctx context.Context, owner owners.Ref) (int64, error) {
	if s.balanceFn != nil {
		return s.balanceFn(ctx, owner)
	}
	return 0, nil
}

func (s *testLedgerService) ListEntries(context.Context, owners.Ref, pagination.Params) (*ledger.EntryPage, error) {
	return &ledger.EntryPage{}, nil
}

func (s *testLedgerService) Reverse(ctx context.Context, entryID uuid.UUID, reason string) (*models.LedgerEntry, error) {
	if s.reverseFn != nil {
		return s.reverseFn(ctx, entryID, reason)
	}
	return &models.LedgerEntry{}, nil
}

func (s *testLedgerService) VerifyChain(_ context.Context, owner owners.Ref) (*ledger.ChainReport, error) {
	return &ledger.ChainReport{Owner: owner}, nil
}

func ownerRequest(method, target, body string, owner owners.Ref) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	req = addRouteParam(req, "ownerKind", string(owner.Kind))
	return addRouteParam(req, "ownerId", owner.ID.String())
}

func TestLedgerPostCredit(t *testing.T) {
	owner := owners.Customer(uuid.New())
	var got ledger.PostInput
	svc := &testLedgerService{
		postFn: func(ctx context.Context, input ledger.PostInput) (*models.LedgerEntry, error) {
			got = input
			return &models.LedgerEntry{ID: uuid.New(), Amount: input.Amount, BalanceAfter: input.Amount}, nil
		},
	}

	req := ownerRequest(http.MethodPost, "/api/v1/ledger/customer/x/entries", `{"type":"credit","amount":50000,"category":"topup"}`, owner)
	req = req.WithContext(middleware.WithOperator(req.Context(), "ops-budi"))
	resp := httptest.NewRecorder()
	LedgerPost(svc, testLogger())(resp, req)

	require.Equal(t, http.StatusCreated, resp.Code)
	require.Equal(t, owner, got.Owner)
	require.Equal(t, enums.LedgerEntryCredit, got.Type)
	require.Equal(t, int64(50000), got.Amount)
	require.Equal(t, enums.LedgerCategoryTopup, got.Category)
	require.Equal(t, "manual entry by ops-budi", got.Description)
}

func TestLedgerPostRejectsUnknownType(t *testing.T) {
	owner := owners.Partner(uuid.New())
	req := ownerRequest(http.MethodPost, "/api/v1/ledger/partner/x/entries", `{"type":"transfer","amount":1,"category":"topup"}`, owner)
	resp := httptest.NewRecorder()
	LedgerPost(&testLedgerService{}, testLogger())(resp, req)

	require.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestLedgerPostInsufficientBalance(t *testing.T) {
	owner := owners.Customer(uuid.New())
	svc := &testLedgerService{
		postFn: func(ctx context.Context, input ledger.PostInput) (*models.LedgerEntry, error) {
			return nil, pkgerrors.New(pkgerrors.CodeInsufficientBalance, "insufficient balance")
		},
	}
	req := ownerRequest(http.MethodPost, "/api/v1/ledger/customer/x/entries", `{"type":"debit","amount":900,"category":"penalty"}`, owner)
	resp := httptest.NewRecorder()
	LedgerPost(svc, testLogger())(resp, req)

	require.Equal(t, http.StatusPaymentRequired, resp.Code)
}

func TestLedgerBalanceRejectsUnknownOwnerKind(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/ledger/store/x/balance", nil)
	req = addRouteParam(req, "ownerKind", "store")
	req = addRouteParam(req, "ownerId", uuid.NewString())
	resp := httptest.NewRecorder()
	LedgerBalance(&testLedgerService{}, testLogger())(resp, req)

	require.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestLedgerBalanceReturnsAmount(t *testing.T) {
	owner := owners.Customer(uuid.New())
	svc := &testLedgerService{
		balanceFn: func(ctx context.Context, o owners.Ref) (int64, error) {
			require.Equal(t, owner, o)
			return 125000, nil
		},
	}
	req := ownerRequest(http.MethodGet, "/api/v1/ledger/customer/x/balance", "", owner)
	resp := httptest.NewRecorder()
	LedgerBalance(svc, testLogger())(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	var envelope struct {
		Data struct {
			Balance int64 `json:"balance"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &envelope))
	require.Equal(t, int64(125000), envelope.Data.Balance)
}

func TestLedgerReverseRequiresReason(t *testing.T) {
	entryID := uuid.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ledger/entries/"+entryID.String()+"/reverse", strings.NewReader(`{}`))
	req = addRouteParam(req, "entryId", entryID.String())
	resp := httptest.NewRecorder()
	LedgerReverse(&testLedgerService{}, testLogger())(resp, req)

	require.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestLedgerReverseAlreadyReversed(t *testing.T) {
	entryID := uuid.New()
	svc := &testLedgerService{
		reverseFn: func(ctx context.Context, id uuid.UUID, reason string) (*models.LedgerEntry, error) {
			require.Equal(t, "duplicate top-up", reason)
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "entry already reversed")
		},
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ledger/entries/"+entryID.String()+"/reverse", strings.NewReader(`{"reason":"duplicate top-up"}`))
	req = addRouteParam(req, "entryId", entryID.String())
	resp := httptest.NewRecorder()
	LedgerReverse(svc, testLogger())(resp, req)

	require.Equal(t, http.StatusConflict, resp.Code)
}
