package payments

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/ispbox-backend/pkg/db/models"
	"github.com/angelmondragon/ispbox-backend/pkg/enums"
	"github.com/angelmondragon/ispbox-backend/pkg/pagination"
)

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, n *models.PaymentNotification) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.PaymentNotification, error)
	FindByReference(ctx context.Context, source, rawReference string) (*models.PaymentNotification, error)
	ListByStatus(ctx context.Context, status enums.PaymentNotificationStatus, cursor *pagination.Cursor, limit int) ([]models.PaymentNotification, error)
	Resolve(ctx context.Context, id uuid.UUID, updates map[string]any) (bool, error)
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

func (r *repository) Create(ctx context.Context, n *models.PaymentNotification) error {
	return r.db.WithContext(ctx).Create(n).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.PaymentNotification, error) {
	return r.take(r.db.WithContext(ctx).Where("id = ?", id))
}

func (r *repository) FindByReference(ctx context.Context, source, rawReference string) (*models.PaymentNotification, error) {
	return r.take(r.db.WithContext(ctx).Where("source = ? AND raw_reference = ?", source, rawReference))
}

func (r *repository) take(q *gorm.DB) (*models.PaymentNotification, error) {
	var n models.PaymentNotification
	err := q.Take(&n).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (r *repository) ListByStatus(ctx context.Context, status enums.PaymentNotificationStatus, cursor *pagination.Cursor, limit int) ([]models.PaymentNotification, error) {
	q := r.db.WithContext(ctx).Where("status = ?", status)
	if cursor != nil {
		q = q.Where("(created_at > ?) OR (created_at = ? AND id > ?)", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}
	var out []models.PaymentNotification
	if err := q.Order("created_at ASC, id ASC").Limit(limit).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Resolve moves a no_match notification to resolved.
func (r *repository) Resolve(ctx context.Context, id uuid.UUID, updates map[string]any) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.PaymentNotification{}).
		Where("id = ? AND status = ?", id, enums.PaymentNotificationNoMatch).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
