package pool

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/ispbox-backend/internal/owners"
	"github.com/angelmondragon/ispbox-backend/pkg/db"
	"github.com/angelmondragon/ispbox-backend/pkg/db/models"
	"github.com/angelmondragon/ispbox-backend/pkg/enums"
)

// Repository persists pools and tokens. Token state is only written through
// CompareAndSwap.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreatePool(ctx context.Context, p *models.ResourcePool) error
	FindPool(ctx context.Context, id uuid.UUID) (*models.ResourcePool, error)
	InsertTokens(ctx context.Context, tokens []models.ResourceToken) (int64, error)
	MaxPosition(ctx context.Context, poolID uuid.UUID) (int64, error)
	FindToken(ctx context.Context, id uuid.UUID) (*models.ResourceToken, error)
	FindTokenByValue(ctx context.Context, poolID uuid.UUID, value string) (*models.ResourceToken, error)
	NextCandidate(ctx context.Context, poolID uuid.UUID, now time.Time, skip []uuid.UUID) (*models.ResourceToken, error)
	ActiveForOwner(ctx context.Context, poolID uuid.UUID, owner owners.Ref) (*models.ResourceToken, error)
	CompareAndSwap(ctx context.Context, id uuid.UUID, version int64, updates map[string]any) (bool, error)
	ListElapsed(ctx context.Context, now time.Time, limit int) ([]models.ResourceToken, error)
	ListByBatch(ctx context.Context, batchID uuid.UUID, states ...enums.TokenState) ([]models.ResourceToken, error)
	CountByState(ctx context.Context, poolID uuid.UUID) (map[enums.TokenState]int64, error)
	CountBatchByState(ctx context.Context, batchID uuid.UUID) (map[enums.TokenState]int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a pool repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreatePool(ctx context.Context, p *models.ResourcePool) error {
	return r.db.WithContext(ctx).Create(p).Error
}

func (r *repository) FindPool(ctx context.Context, id uuid.UUID) (*models.ResourcePool, error) {
	var p models.ResourcePool
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// InsertTokens skips values already present in the pool and reports how many
// rows were written.
func (r *repository) InsertTokens(ctx context.Context, tokens []models.ResourceToken) (int64, error) {
	if len(tokens) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "pool_id"}, {Name: "value"}}, DoNothing: true}).
		CreateInBatches(tokens, 500)
	return res.RowsAffected, res.Error
}

func (r *repository) MaxPosition(ctx context.Context, poolID uuid.UUID) (int64, error) {
	var max sql.NullInt64
	if err := r.db.WithContext(ctx).
		Model(&models.ResourceToken{}).
		Where("pool_id = ?", poolID).
		Select("MAX(position)").
		Row().
		Scan(&max); err != nil {
		return 0, err
	}
	return max.Int64, nil
}

func (r *repository) FindToken(ctx context.Context, id uuid.UUID) (*models.ResourceToken, error) {
	var token models.ResourceToken
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&token).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &token, nil
}

func (r *repository) FindTokenByValue(ctx context.Context, poolID uuid.UUID, value string) (*models.ResourceToken, error) {
	var token models.ResourceToken
	err := r.db.WithContext(ctx).Where("pool_id = ? AND value = ?", poolID, value).Take(&token).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &token, nil
}

// NextCandidate returns the lowest-position token that is available or holds
// an elapsed reservation. On postgres the row is locked with SKIP LOCKED so
// concurrent allocators in other processes fan out over different rows.
func (r *repository) NextCandidate(ctx context.Context, poolID uuid.UUID, now time.Time, skip []uuid.UUID) (*models.ResourceToken, error) {
	q := r.db.WithContext(ctx).
		Where("pool_id = ?", poolID).
		Where("(state = ? OR (state = ? AND reserved_until <= ?))", enums.TokenAvailable, enums.TokenReserved, now)
	if len(skip) > 0 {
		q = q.Where("id NOT IN ?", skip)
	}
	if db.IsPostgres(r.db) {
		q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
	}
	var token models.ResourceToken
	err := q.Order("position ASC").Limit(1).Take(&token).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &token, nil
}

func (r *repository) ActiveForOwner(ctx context.Context, poolID uuid.UUID, owner owners.Ref) (*models.ResourceToken, error) {
	var token models.ResourceToken
	err := r.db.WithContext(ctx).
		Where("pool_id = ? AND owner_kind = ? AND owner_id = ?", poolID, owner.Kind, owner.ID).
		Where("state IN ?", []enums.TokenState{enums.TokenReserved, enums.TokenAssigned}).
		Take(&token).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &token, nil
}

// CompareAndSwap applies updates only when the row still carries version.
func (r *repository) CompareAndSwap(ctx context.Context, id uuid.UUID, version int64, updates map[string]any) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.ResourceToken{}).
		Where("id = ? AND version = ?", id, version).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) ListElapsed(ctx context.Context, now time.Time, limit int) ([]models.ResourceToken, error) {
	var tokens []models.ResourceToken
	if err := r.db.WithContext(ctx).
		Where("state = ? AND reserved_until <= ?", enums.TokenReserved, now).
		Order("reserved_until ASC").
		Limit(limit).
		Find(&tokens).Error; err != nil {
		return nil, err
	}
	return tokens, nil
}

func (r *repository) ListByBatch(ctx context.Context, batchID uuid.UUID, states ...enums.TokenState) ([]models.ResourceToken, error) {
	q := r.db.WithContext(ctx).Where("batch_id = ?", batchID)
	if len(states) > 0 {
		q = q.Where("state IN ?", states)
	}
	var tokens []models.ResourceToken
	if err := q.Order("position ASC").Find(&tokens).Error; err != nil {
		return nil, err
	}
	return tokens, nil
}

type stateCount struct {
	State enums.TokenState `gorm:"column:state"`
	Total int64            `gorm:"column:total"`
}

func (r *repository) CountByState(ctx context.Context, poolID uuid.UUID) (map[enums.TokenState]int64, error) {
	return r.countBy(ctx, "pool_id = ?", poolID)
}

func (r *repository) CountBatchByState(ctx context.Context, batchID uuid.UUID) (map[enums.TokenState]int64, error) {
	return r.countBy(ctx, "batch_id = ?", batchID)
}

func (r *repository) countBy(ctx context.Context, where string, arg any) (map[enums.TokenState]int64, error) {
	var rows []stateCount
	if err := r.db.WithContext(ctx).
		Model(&models.ResourceToken{}).
		Select("state, COUNT(*) AS total").
		Where(where, arg).
		Group("state").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	counts := make(map[enums.TokenState]int64, len(rows))
	for _, row := range rows {
		counts[row.State] = row.Total
	}
	return counts, nil
}
