package cron

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/angelmondragon/ispbox-backend/pkg/logger"
)

type fakeBatch struct {
	results []int
	err     error
	calls   int
	limits  []int
}

func (f *fakeBatch) next(_ context.Context, limit int) (int, error) {
	f.calls++
	f.limits = append(f.limits, limit)
	if f.err != nil {
		return 0, f.err
	}
	if len(f.results) == 0 {
		return 0, nil
	}
	n := f.results[0]
	f.results = f.results[1:]
	return n, nil
}

func (f *fakeBatch) SweepExpired(ctx context.Context, limit int) (int, error) { return f.next(ctx, limit) }
func (f *fakeBatch) ResetDue(ctx context.Context, limit int) (int, error)     { return f.next(ctx, limit) }
func (f *fakeBatch) ExpireBatches(ctx context.Context, limit int) (int, error) {
	return f.next(ctx, limit)
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "cron-test", Output: io.Discard})
}

func TestBatchJobDrainsUntilShortBatch(t *testing.T) {
	fake := &fakeBatch{results: []int{10, 10, 3}}
	job, err := NewReservationSweepJob(testLogger(), fake, 10)
	if err != nil {
		t.Fatalf("new job: %v", err)
	}
	if job.Name() != "reservation-sweep" {
		t.Fatalf("unexpected name %q", job.Name())
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if fake.calls != 3 {
		t.Fatalf("expected 3 batches, got %d", fake.calls)
	}
	if got := job.(*batchJob).Processed(); got != 23 {
		t.Fatalf("expected 23 processed, got %d", got)
	}
	for _, limit := range fake.limits {
		if limit != 10 {
			t.Fatalf("unexpected limit %d", limit)
		}
	}
}

func TestBatchJobStopsAtLoopCap(t *testing.T) {
	results := make([]int, 50)
	for i := range results {
		results[i] = 5
	}
	fake := &fakeBatch{results: results}
	job, err := NewUsageCycleResetJob(testLogger(), fake, 5)
	if err != nil {
		t.Fatalf("new job: %v", err)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if fake.calls != 20 {
		t.Fatalf("expected loop cap of 20, got %d", fake.calls)
	}
}

func TestBatchJobPropagatesError(t *testing.T) {
	fake := &fakeBatch{err: errors.New("db down")}
	job, err := NewVoucherExpiryJob(testLogger(), fake, 0)
	if err != nil {
		t.Fatalf("new job: %v", err)
	}
	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if fake.limits[0] != defaultBatchSize {
		t.Fatalf("expected default batch size, got %d", fake.limits[0])
	}
}

func TestJobConstructorsRequireDependencies(t *testing.T) {
	if _, err := NewReservationSweepJob(testLogger(), nil, 1); err == nil {
		t.Fatal("expected error for missing pool")
	}
	if _, err := NewUsageCycleResetJob(nil, &fakeBatch{}, 1); err == nil {
		t.Fatal("expected error for missing logger")
	}
}
