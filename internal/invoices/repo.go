package invoices

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/ispbox-backend/internal/owners"
	"github.com/angelmondragon/ispbox-backend/pkg/db"
	"github.com/angelmondragon/ispbox-backend/pkg/db/models"
	"github.com/angelmondragon/ispbox-backend/pkg/enums"
	"github.com/angelmondragon/ispbox-backend/pkg/pagination"
)

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, invoice *models.Invoice) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Invoice, error)
	FindForUpdate(ctx context.Context, id uuid.UUID) (*models.Invoice, error)
	ExistsForPeriod(ctx context.Context, owner owners.Ref, periodStart time.Time) (bool, error)
	UnpaidCodes(ctx context.Context, owner owners.Ref) ([]int, error)
	ListUnpaidByAmount(ctx context.Context, amount int64, limit int) ([]models.Invoice, error)
	ListByOwner(ctx context.Context, owner owners.Ref, cursor *pagination.Cursor, limit int) ([]models.Invoice, error)
	// Transition applies updates while the invoice still has status from.
	Transition(ctx context.Context, id uuid.UUID, from enums.InvoiceStatus, updates map[string]any) (bool, error)
	MarkCharged(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)

	FindCouponByCode(ctx context.Context, code string) (*models.Coupon, error)
	CountCouponUsage(ctx context.Context, couponID uuid.UUID, owner *owners.Ref) (int64, error)
	CreateCouponUsage(ctx context.Context, usage *models.CouponUsage) error
	ReleaseCouponUsage(ctx context.Context, invoiceID uuid.UUID, at time.Time) error
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// Create inserts the invoice together with its items.
func (r *repository) Create(ctx context.Context, invoice *models.Invoice) error {
	return r.db.WithContext(ctx).Create(invoice).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	return r.find(r.db.WithContext(ctx).Preload("Items", func(q *gorm.DB) *gorm.DB {
		return q.Order("created_at ASC, line_total DESC")
	}), id)
}

func (r *repository) FindForUpdate(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	q := r.db.WithContext(ctx)
	if db.IsPostgres(r.db) {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return r.find(q, id)
}

func (r *repository) find(q *gorm.DB, id uuid.UUID) (*models.Invoice, error) {
	var invoice models.Invoice
	err := q.Where("id = ?", id).Take(&invoice).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &invoice, nil
}

func (r *repository) ExistsForPeriod(ctx context.Context, owner owners.Ref, periodStart time.Time) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&models.Invoice{}).
		Where("owner_kind = ? AND owner_id = ? AND period_start = ? AND status <> ?",
			owner.Kind, owner.ID, periodStart, enums.InvoiceCancelled).
		Count(&n).Error
	return n > 0, err
}

func (r *repository) UnpaidCodes(ctx context.Context, owner owners.Ref) ([]int, error) {
	var codes []int
	err := r.db.WithContext(ctx).
		Model(&models.Invoice{}).
		Where("owner_kind = ? AND owner_id = ? AND status = ?", owner.Kind, owner.ID, enums.InvoiceUnpaid).
		Pluck("unique_code", &codes).Error
	return codes, err
}

func (r *repository) ListUnpaidByAmount(ctx context.Context, amount int64, limit int) ([]models.Invoice, error) {
	var invoices []models.Invoice
	if err := r.db.WithContext(ctx).
		Where("status = ? AND amount = ?", enums.InvoiceUnpaid, amount).
		Order("created_at ASC").
		Limit(limit).
		Find(&invoices).Error; err != nil {
		return nil, err
	}
	return invoices, nil
}

func (r *repository) ListByOwner(ctx context.Context, owner owners.Ref, cursor *pagination.Cursor, limit int) ([]models.Invoice, error) {
	q := r.db.WithContext(ctx).
		Where("owner_kind = ? AND owner_id = ?", owner.Kind, owner.ID)
	if cursor != nil {
		q = q.Where("(created_at < ?) OR (created_at = ? AND id < ?)", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}
	var invoices []models.Invoice
	if err := q.Order("created_at DESC, id DESC").Limit(limit).Find(&invoices).Error; err != nil {
		return nil, err
	}
	return invoices, nil
}

func (r *repository) Transition(ctx context.Context, id uuid.UUID, from enums.InvoiceStatus, updates map[string]any) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Invoice{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) MarkCharged(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Invoice{}).
		Where("id = ? AND status = ? AND charged_at IS NULL", id, enums.InvoiceUnpaid).
		Update("charged_at", at)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// FindCouponByCode row-locks the coupon on postgres so usage limits hold
// across owners.
func (r *repository) FindCouponByCode(ctx context.Context, code string) (*models.Coupon, error) {
	q := r.db.WithContext(ctx)
	if db.IsPostgres(r.db) {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var coupon models.Coupon
	err := q.Where("code = ?", code).Take(&coupon).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &coupon, nil
}

func (r *repository) CountCouponUsage(ctx context.Context, couponID uuid.UUID, owner *owners.Ref) (int64, error) {
	q := r.db.WithContext(ctx).
		Model(&models.CouponUsage{}).
		Where("coupon_id = ? AND released_at IS NULL", couponID)
	if owner != nil {
		q = q.Where("owner_kind = ? AND owner_id = ?", owner.Kind, owner.ID)
	}
	var n int64
	err := q.Count(&n).Error
	return n, err
}

func (r *repository) CreateCouponUsage(ctx context.Context, usage *models.CouponUsage) error {
	return r.db.WithContext(ctx).Create(usage).Error
}

func (r *repository) ReleaseCouponUsage(ctx context.Context, invoiceID uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.CouponUsage{}).
		Where("invoice_id = ? AND released_at IS NULL", invoiceID).
		Update("released_at", at).Error
}
