package controllers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/ispbox-backend/internal/invoices"
	"github.com/angelmondragon/ispbox-backend/internal/owners"
	"github.com/angelmondragon/ispbox-backend/pkg/db/models"
	"github.com/angelmondragon/ispbox-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/ispbox-backend/pkg/errors"
	"github.com/angelmondragon/ispbox-backend/pkg/pagination"
)

type testInvoiceService struct {
	generateFn func(ctx context.Context, input invoices.GenerateInput) (*models.Invoice, error)
	getFn      func(ctx context.Context, id uuid.UUID) (*models.Invoice, error)
	cancelFn   func(ctx context.Context, id uuid.UUID, reason string) (*models.Invoice, error)
	payFn      func(ctx context.Context, id uuid.UUID) (*models.Invoice, error)
	listFn     func(ctx context.Context, owner owners.Ref, params pagination.Params) (*invoices.InvoicePage, error)
}

func (s *testInvoiceService) Generate(ctx context.Context, input invoices.GenerateInput) (*models.Invoice, error) {
	if s.generateFn != nil {
		return s.generateFn(ctx, input)
	}
	return &models.Invoice{}, nil
}

func (s *testInvoiceService) Get(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	if s.getFn != nil {
		return s.getFn(ctx, id)
	}
	return &models.Invoice{ID: id}, nil
}

func (s *testInvoiceService) ListByOwner(ctx context.Context, owner owners.Ref, params pagination.Params) (*invoices.InvoicePage, error) {
	if s.listFn != nil {
		return s.listFn(ctx, owner, params)
	}
	return &invoices.InvoicePage{}, nil
}

func (s *testInvoiceService) Cancel(ctx context.Context, id uuid.UUID, reason string) (*models.Invoice, error) {
	if s.cancelFn != nil {
		return s.cancelFn(ctx, id, reason)
	}
	return &models.Invoice{ID: id, Status: enums.InvoiceCancelled}, nil
}

func (s *testInvoiceService) PostCharge(_ context.Context, id uuid.UUID) (*models.Invoice, error) {
	return &models.Invoice{ID: id}, nil
}

func (s *testInvoiceService) PayFromBalance(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	if s.payFn != nil {
		return s.payFn(ctx, id)
	}
	return &models.Invoice{ID: id, Status: enums.InvoicePaid}, nil
}

func (s *testInvoiceService) FindUnpaidByAmount(context.Context, *gorm.DB, int64, int) ([]models.Invoice, error) {
	return nil, nil
}

func (s *testInvoiceService) SettleTx(context.Context, *gorm.DB, invoices.SettleInput) (*invoices.Settlement, error) {
	return nil, nil
}

func (s *testInvoiceService) LockOwner(owners.Ref) func() { return func() {} }

func TestInvoiceGenerateCreated(t *testing.T) {
	customerID := uuid.New()
	var got invoices.GenerateInput
	svc := &testInvoiceService{
		generateFn: func(ctx context.Context, input invoices.GenerateInput) (*models.Invoice, error) {
			got = input
			return &models.Invoice{ID: uuid.New(), Status: enums.InvoiceUnpaid, Amount: 150123}, nil
		},
	}
	body := `{"customer_id":"` + customerID.String() + `","period_start":"2026-09-01T00:00:00Z","period_end":"2026-10-01T00:00:00Z","coupon_code":"  HEMAT10 ","extra_items":[{"name":"Router rental","unit_price":25000,"qty":1}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/invoices", strings.NewReader(body))
	resp := httptest.NewRecorder()
	InvoiceGenerate(svc, testLogger())(resp, req)

	require.Equal(t, http.StatusCreated, resp.Code)
	require.Equal(t, customerID, got.CustomerID)
	require.Equal(t, "HEMAT10", got.CouponCode)
	require.Len(t, got.ExtraItems, 1)
	require.Equal(t, int64(25000), got.ExtraItems[0].UnitPrice)
}

func TestInvoiceGenerateRejectsInvertedPeriod(t *testing.T) {
	body := `{"customer_id":"` + uuid.NewString() + `","period_start":"2026-10-01T00:00:00Z","period_end":"2026-09-01T00:00:00Z"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/invoices", strings.NewReader(body))
	resp := httptest.NewRecorder()
	InvoiceGenerate(&testInvoiceService{}, testLogger())(resp, req)

	require.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestInvoiceGenerateDuplicatePeriodConflicts(t *testing.T) {
	svc := &testInvoiceService{
		generateFn: func(ctx context.Context, input invoices.GenerateInput) (*models.Invoice, error) {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "invoice already exists for period")
		},
	}
	body := `{"customer_id":"` + uuid.NewString() + `","period_start":"2026-09-01T00:00:00Z","period_end":"2026-10-01T00:00:00Z"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/invoices", strings.NewReader(body))
	resp := httptest.NewRecorder()
	InvoiceGenerate(svc, testLogger())(resp, req)

	require.Equal(t, http.StatusConflict, resp.Code)
}

func TestInvoiceGetNotFound(t *testing.T) {
	id := uuid.New()
	svc := &testInvoiceService{
		getFn: func(ctx context.Context, got uuid.UUID) (*models.Invoice, error) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "invoice not found")
		},
	}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/invoices/"+id.String(), nil)
	req = addRouteParam(req, "invoiceId", id.String())
	resp := httptest.NewRecorder()
	InvoiceGet(svc, testLogger())(resp, req)

	require.Equal(t, http.StatusNotFound, resp.Code)
}

func TestInvoiceGetInvalidID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/invoices/nope", nil)
	req = addRouteParam(req, "invoiceId", "nope")
	resp := httptest.NewRecorder()
	InvoiceGet(&testInvoiceService{}, testLogger())(resp, req)

	require.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestInvoicePayFromBalanceInsufficient(t *testing.T) {
	id := uuid.New()
	svc := &testInvoiceService{
		payFn: func(ctx context.Context, got uuid.UUID) (*models.Invoice, error) {
			require.Equal(t, id, got)
			return nil, pkgerrors.New(pkgerrors.CodeInsufficientBalance, "insufficient balance")
		},
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/invoices/"+id.String()+"/pay-from-balance", nil)
	req = addRouteParam(req, "invoiceId", id.String())
	resp := httptest.NewRecorder()
	InvoicePayFromBalance(svc, testLogger())(resp, req)

	require.Equal(t, http.StatusPaymentRequired, resp.Code)
}

func TestInvoiceCancelPassesReason(t *testing.T) {
	id := uuid.New()
	var reason string
	svc := &testInvoiceService{
		cancelFn: func(ctx context.Context, got uuid.UUID, r string) (*models.Invoice, error) {
			reason = r
			return &models.Invoice{ID: got, Status: enums.InvoiceCancelled}, nil
		},
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/invoices/"+id.String()+"/cancel", strings.NewReader(`{"reason":" customer churned "}`))
	req = addRouteParam(req, "invoiceId", id.String())
	resp := httptest.NewRecorder()
	InvoiceCancel(svc, testLogger())(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, "customer churned", reason)
}

func TestInvoiceListByOwner(t *testing.T) {
	owner := owners.Customer(uuid.New())
	var gotOwner owners.Ref
	svc := &testInvoiceService{
		listFn: func(ctx context.Context, o owners.Ref, params pagination.Params) (*invoices.InvoicePage, error) {
			gotOwner = o
			require.Equal(t, pagination.DefaultLimit, params.Limit)
			return &invoices.InvoicePage{}, nil
		},
	}
	req := ownerRequest(http.MethodGet, "/api/v1/ledger/customer/x/invoices", "", owner)
	resp := httptest.NewRecorder()
	InvoiceList(svc, testLogger())(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, owner, gotOwner)
}
