package fup

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/ispbox-backend/pkg/db"
	"github.com/angelmondragon/ispbox-backend/pkg/db/models"
	"github.com/angelmondragon/ispbox-backend/pkg/enums"
)

// Repository is the durable policy push queue.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, push *models.PolicyPush) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.PolicyPush, error)
	SupersedePending(ctx context.Context, customerID, keep uuid.UUID) (int64, error)
	LockCustomer(ctx context.Context, customerID uuid.UUID) error
	HasNewer(ctx context.Context, push *models.PolicyPush) (bool, error)
	HasLiveLease(ctx context.Context, push *models.PolicyPush, now time.Time) (bool, error)
	Claim(ctx context.Context, id uuid.UUID, now, leaseUntil time.Time) (bool, error)
	Finish(ctx context.Context, id uuid.UUID, status enums.PolicyPushStatus, attempts int, lastErr *string, appliedAt *time.Time) error
	MarkSuperseded(ctx context.Context, id uuid.UUID) error
	ListRedrivable(ctx context.Context, now time.Time, limit int) ([]models.PolicyPush, error)
	ListByCustomer(ctx context.Context, customerID uuid.UUID) ([]models.PolicyPush, error)
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

func (r *repository) Create(ctx context.Context, push *models.PolicyPush) error {
	return r.db.WithContext(ctx).Create(push).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.PolicyPush, error) {
	var push models.PolicyPush
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&push).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &push, nil
}

func (r *repository) SupersedePending(ctx context.Context, customerID, keep uuid.UUID) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.PolicyPush{}).
		Where("customer_id = ? AND id <> ? AND status = ?", customerID, keep, enums.PolicyPushPending).
		Update("status", enums.PolicyPushSuperseded)
	return res.RowsAffected, res.Error
}

// LockCustomer serializes claims for one customer across processes.
func (r *repository) LockCustomer(ctx context.Context, customerID uuid.UUID) error {
	if !db.IsPostgres(r.db) {
		return nil
	}
	var id uuid.UUID
	return r.db.WithContext(ctx).
		Table("customers").
		Select("id").
		Where("id = ?", customerID).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Row().
		Scan(&id)
}

func (r *repository) HasNewer(ctx context.Context, push *models.PolicyPush) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&models.PolicyPush{}).
		Where("customer_id = ? AND id <> ? AND created_at > ? AND status <> ?",
			push.CustomerID, push.ID, push.CreatedAt, enums.PolicyPushSuperseded).
		Count(&n).Error
	return n > 0, err
}

func (r *repository) HasLiveLease(ctx context.Context, push *models.PolicyPush, now time.Time) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&models.PolicyPush{}).
		Where("customer_id = ? AND id <> ? AND status = ? AND lease_until > ?",
			push.CustomerID, push.ID, enums.PolicyPushInFlight, now).
		Count(&n).Error
	return n > 0, err
}

// Claim moves a pending push, or an in-flight push whose lease elapsed, to
// in_flight with a fresh lease.
func (r *repository) Claim(ctx context.Context, id uuid.UUID, now, leaseUntil time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.PolicyPush{}).
		Where("id = ?", id).
		Where("(status = ? OR (status = ? AND lease_until <= ?))", enums.PolicyPushPending, enums.PolicyPushInFlight, now).
		Updates(map[string]any{
			"status":      enums.PolicyPushInFlight,
			"lease_until": leaseUntil,
			"updated_at":  now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) Finish(ctx context.Context, id uuid.UUID, status enums.PolicyPushStatus, attempts int, lastErr *string, appliedAt *time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.PolicyPush{}).
		Where("id = ? AND status = ?", id, enums.PolicyPushInFlight).
		Updates(map[string]any{
			"status":        status,
			"attempt_count": gorm.Expr("attempt_count + ?", attempts),
			"last_error":    lastErr,
			"applied_at":    appliedAt,
			"lease_until":   nil,
		}).Error
}

func (r *repository) MarkSuperseded(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.PolicyPush{}).
		Where("id = ? AND status IN ?", id, []enums.PolicyPushStatus{enums.PolicyPushPending, enums.PolicyPushInFlight}).
		Updates(map[string]any{"status": enums.PolicyPushSuperseded, "lease_until": nil}).Error
}

func (r *repository) ListRedrivable(ctx context.Context, now time.Time, limit int) ([]models.PolicyPush, error) {
	var pushes []models.PolicyPush
	if err := r.db.WithContext(ctx).
		Where("status = ? OR (status = ? AND lease_until <= ?)", enums.PolicyPushPending, enums.PolicyPushInFlight, now).
		Order("created_at ASC").
		Limit(limit).
		Find(&pushes).Error; err != nil {
		return nil, err
	}
	return pushes, nil
}

func (r *repository) ListByCustomer(ctx context.Context, customerID uuid.UUID) ([]models.PolicyPush, error) {
	var pushes []models.PolicyPush
	if err := r.db.WithContext(ctx).
		Where("customer_id = ?", customerID).
		Order("created_at ASC").
		Find(&pushes).Error; err != nil {
		return nil, err
	}
	return pushes, nil
}
