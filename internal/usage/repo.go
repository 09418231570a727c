package usage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/ispbox-backend/pkg/db"
	"github.com/angelmondragon/ispbox-backend/pkg/db/models"
)

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	// FindForUpdate row-locks the record on postgres.
	FindForUpdate(ctx context.Context, customerID uuid.UUID) (*models.UsageRecord, error)
	Find(ctx context.Context, customerID uuid.UUID) (*models.UsageRecord, error)
	CreateIfMissing(ctx context.Context, rec *models.UsageRecord) error
	Update(ctx context.Context, customerID uuid.UUID, updates map[string]any) error
	// AdvanceCycle applies updates only while next_reset_at still equals boundary.
	AdvanceCycle(ctx context.Context, customerID uuid.UUID, boundary time.Time, updates map[string]any) (bool, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
	FindCustomerPlan(ctx context.Context, customerID uuid.UUID) (*models.Customer, *models.Plan, error)
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

func (r *repository) FindForUpdate(ctx context.Context, customerID uuid.UUID) (*models.UsageRecord, error) {
	q := r.db.WithContext(ctx)
	if db.IsPostgres(r.db) {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return take(q.Where("customer_id = ?", customerID))
}

func (r *repository) Find(ctx context.Context, customerID uuid.UUID) (*models.UsageRecord, error) {
	return take(r.db.WithContext(ctx).Where("customer_id = ?", customerID))
}

func take(q *gorm.DB) (*models.UsageRecord, error) {
	var rec models.UsageRecord
	err := q.Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *repository) CreateIfMissing(ctx context.Context, rec *models.UsageRecord) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "customer_id"}}, DoNothing: true}).
		Create(rec).Error
}

func (r *repository) Update(ctx context.Context, customerID uuid.UUID, updates map[string]any) error {
	return r.db.WithContext(ctx).
		Model(&models.UsageRecord{}).
		Where("customer_id = ?", customerID).
		Updates(updates).Error
}

func (r *repository) AdvanceCycle(ctx context.Context, customerID uuid.UUID, boundary time.Time, updates map[string]any) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.UsageRecord{}).
		Where("customer_id = ? AND next_reset_at = ?", customerID, boundary).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) ListDue(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	if err := r.db.WithContext(ctx).
		Model(&models.UsageRecord{}).
		Where("next_reset_at <= ?", now).
		Order("next_reset_at ASC").
		Limit(limit).
		Pluck("customer_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *repository) FindCustomerPlan(ctx context.Context, customerID uuid.UUID) (*models.Customer, *models.Plan, error) {
	var customer models.Customer
	err := r.db.WithContext(ctx).Where("id = ?", customerID).Take(&customer).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	if customer.PlanID == nil {
		return &customer, nil, nil
	}
	var plan models.Plan
	err = r.db.WithContext(ctx).Where("id = ?", *customer.PlanID).Take(&plan).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &customer, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	return &customer, &plan, nil
}
