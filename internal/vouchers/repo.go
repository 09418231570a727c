package vouchers

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/ispbox-backend/pkg/db/models"
	"github.com/angelmondragon/ispbox-backend/pkg/enums"
)

// Repository manages voucher batch rows. Token state lives in the pool.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, batch *models.VoucherBatch) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.VoucherBatch, error)
	SetStatus(ctx context.Context, id uuid.UUID, from []enums.VoucherBatchStatus, to enums.VoucherBatchStatus) (bool, error)
	ListExpirable(ctx context.Context, now time.Time, limit int) ([]models.VoucherBatch, error)
	FindTokenByCode(ctx context.Context, code string) (*models.ResourceToken, error)
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

func (r *repository) Create(ctx context.Context, batch *models.VoucherBatch) error {
	return r.db.WithContext(ctx).Create(batch).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.VoucherBatch, error) {
	var batch models.VoucherBatch
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&batch).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &batch, nil
}

// SetStatus moves a batch to status only from one of the listed states.
func (r *repository) SetStatus(ctx context.Context, id uuid.UUID, from []enums.VoucherBatchStatus, to enums.VoucherBatchStatus) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.VoucherBatch{}).
		Where("id = ? AND status IN ?", id, from).
		Update("status", to)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) ListExpirable(ctx context.Context, now time.Time, limit int) ([]models.VoucherBatch, error) {
	var batches []models.VoucherBatch
	if err := r.db.WithContext(ctx).
		Where("status IN ? AND valid_until IS NOT NULL AND valid_until <= ?",
			[]enums.VoucherBatchStatus{enums.VoucherBatchActive, enums.VoucherBatchSold}, now).
		Order("valid_until ASC").
		Limit(limit).
		Find(&batches).Error; err != nil {
		return nil, err
	}
	return batches, nil
}

func (r *repository) FindTokenByCode(ctx context.Context, code string) (*models.ResourceToken, error) {
	var token models.ResourceToken
	err := r.db.WithContext(ctx).
		Where("value = ? AND batch_id IS NOT NULL", code).
		Take(&token).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &token, nil
}
