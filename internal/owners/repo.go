package owners

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/ispbox-backend/pkg/db"
	"github.com/angelmondragon/ispbox-backend/pkg/db/models"
	"github.com/angelmondragon/ispbox-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/ispbox-backend/pkg/errors"
)

// Account is the balance-bearing view shared by customers and partners.
type Account struct {
	Ref         Ref
	Saldo       int64
	CreditLimit int64
}

// Repository resolves owner refs to their backing tables.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	LockAccount(ctx context.Context, ref Ref) (*Account, error)
	GetAccount(ctx context.Context, ref Ref) (*Account, error)
	StoreSaldo(ctx context.Context, ref Ref, saldo int64) error
	GetCustomer(ctx context.Context, id uuid.UUID) (*models.Customer, error)
	GetPlan(ctx context.Context, id uuid.UUID) (*models.Plan, error)
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

var ErrNotFound = errors.New("owner not found")

type accountRow struct {
	ID          uuid.UUID `gorm:"column:id"`
	Saldo       int64     `gorm:"column:saldo"`
	LimitHutang int64     `gorm:"column:limit_hutang"`
}

func tableFor(kind enums.OwnerKind) (string, error) {
	switch kind {
	case enums.OwnerKindCustomer:
		return "customers", nil
	case enums.OwnerKindPartner:
		return "partners", nil
	default:
		return "", fmt.Errorf("unsupported owner kind %q", kind)
	}
}

// LockAccount reads the owner row under SELECT ... FOR UPDATE. Must be called
// inside a transaction.
func (r *repository) LockAccount(ctx context.Context, ref Ref) (*Account, error) {
	return r.account(ctx, ref, true)
}

func (r *repository) GetAccount(ctx context.Context, ref Ref) (*Account, error) {
	return r.account(ctx, ref, false)
}

func (r *repository) account(ctx context.Context, ref Ref, lock bool) (*Account, error) {
	table, err := tableFor(ref.Kind)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid owner")
	}
	q := r.db.WithContext(ctx).Table(table).Select("id, saldo, limit_hutang").Where("id = ?", ref.ID)
	if lock && db.IsPostgres(r.db) {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var row accountRow
	if err := q.Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, ErrNotFound, fmt.Sprintf("%s not found", ref.Kind))
		}
		return nil, err
	}
	return &Account{Ref: ref, Saldo: row.Saldo, CreditLimit: row.LimitHutang}, nil
}

func (r *repository) StoreSaldo(ctx context.Context, ref Ref, saldo int64) error {
	table, err := tableFor(ref.Kind)
	if err != nil {
		return err
	}
	res := r.db.WithContext(ctx).Table(table).Where("id = ?", ref.ID).Update("saldo", saldo)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return pkgerrors.Wrap(pkgerrors.CodeNotFound, ErrNotFound, fmt.Sprintf("%s not found", ref.Kind))
	}
	return nil
}

func (r *repository) GetCustomer(ctx context.Context, id uuid.UUID) (*models.Customer, error) {
	var customer models.Customer
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&customer).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, ErrNotFound, "customer not found")
		}
		return nil, err
	}
	return &customer, nil
}

func (r *repository) GetPlan(ctx context.Context, id uuid.UUID) (*models.Plan, error) {
	var plan models.Plan
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&plan).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "plan not found")
		}
		return nil, err
	}
	return &plan, nil
}
