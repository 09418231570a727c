package cron

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/angelmondragon/ispbox-backend/pkg/logger"
)

const defaultBatchSize = 500

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// batchFunc processes up to limit due items and reports how many changed.
type batchFunc func(ctx context.Context, limit int) (int, error)

// batchJob drains one kind of due work in bounded batches per cycle.
type batchJob struct {
	name      string
	logg      *logger.Logger
	run       batchFunc
	limit     int
	maxLoops  int
	processed int
}

func newBatchJob(name string, logg *logger.Logger, run batchFunc, limit int) (*batchJob, error) {
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if run == nil {
		return nil, fmt.Errorf("%s: batch func required", name)
	}
	if limit <= 0 {
		limit = defaultBatchSize
	}
	return &batchJob{name: name, logg: logg, run: run, limit: limit, maxLoops: 20}, nil
}

func (j *batchJob) Name() string { return j.name }

// Processed reports the rows touched by the latest Run.
func (j *batchJob) Processed() int { return j.processed }

// Run keeps calling the batch until it comes back short, so a backlog clears
// within one cycle without an unbounded loop.
func (j *batchJob) Run(ctx context.Context) error {
	total := 0
	defer func() { j.processed = total }()
	for i := 0; i < j.maxLoops; i++ {
		n, err := j.run(ctx, j.limit)
		total += n
		if err != nil {
			return fmt.Errorf("%s: %w", j.name, err)
		}
		if n < j.limit {
			break
		}
	}
	j.logg.Info(j.logg.WithField(ctx, "processed", total), j.name+" complete")
	return nil
}

type reservationSweeper interface {
	SweepExpired(ctx context.Context, limit int) (int, error)
}

// NewReservationSweepJob returns reservations whose TTL elapsed to their pool.
func NewReservationSweepJob(logg *logger.Logger, pool reservationSweeper, limit int) (Job, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool service required")
	}
	return newBatchJob("reservation-sweep", logg, pool.SweepExpired, limit)
}

type cycleResetter interface {
	ResetDue(ctx context.Context, limit int) (int, error)
}

// NewUsageCycleResetJob closes usage cycles whose boundary passed.
func NewUsageCycleResetJob(logg *logger.Logger, usage cycleResetter, limit int) (Job, error) {
	if usage == nil {
		return nil, fmt.Errorf("usage service required")
	}
	return newBatchJob("usage-cycle-reset", logg, usage.ResetDue, limit)
}

type batchExpirer interface {
	ExpireBatches(ctx context.Context, limit int) (int, error)
}

// NewVoucherExpiryJob expires voucher batches past valid_until.
func NewVoucherExpiryJob(logg *logger.Logger, vouchers batchExpirer, limit int) (Job, error) {
	if vouchers == nil {
		return nil, fmt.Errorf("voucher service required")
	}
	return newBatchJob("voucher-expiry", logg, vouchers.ExpireBatches, limit)
}
