package usage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/ispbox-backend/internal/fup"
	"github.com/angelmondragon/ispbox-backend/pkg/config"
	"github.com/angelmondragon/ispbox-backend/pkg/db"
	"github.com/angelmondragon/ispbox-backend/pkg/db/dbtest"
	"github.com/angelmondragon/ispbox-backend/pkg/db/models"
	"github.com/angelmondragon/ispbox-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/ispbox-backend/pkg/errors"
	"github.com/angelmondragon/ispbox-backend/pkg/logger"
	"github.com/angelmondragon/ispbox-backend/pkg/outbox"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingPusher struct {
	mu       sync.Mutex
	profiles []string
}

func (r *recordingPusher) ApplyProfile(_ context.Context, _ uuid.UUID, profile string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles = append(r.profiles, profile)
	return nil
}

type fixture struct {
	conn     *gorm.DB
	svc      Service
	enforcer fup.Enforcer
	pusher   *recordingPusher
	clock    *clock
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	conn := dbtest.Open(t)
	logg := logger.New(logger.Options{ServiceName: "usage-test"})
	client := db.FromGorm(conn)
	pusher := &recordingPusher{}
	enf, err := fup.NewEnforcer(fup.EnforcerParams{
		DB:     client,
		Repo:   fup.NewRepository(conn),
		Pusher: pusher,
		Outbox: outbox.NewService(outbox.NewRepository(conn), logg),
		Logger: logg,
		Config: config.FUPConfig{MaxAttempts: 1, LeaseTTL: time.Minute},
	})
	require.NoError(t, err)
	clk := &clock{now: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	svc, err := NewService(ServiceParams{
		DB:     client,
		Repo:   NewRepository(conn),
		Pushes: enf,
		Logger: logg,
		Now:    clk.Now,
	})
	require.NoError(t, err)
	return fixture{conn: conn, svc: svc, enforcer: enf, pusher: pusher, clock: clk}
}

func (f fixture) customer(t *testing.T, quota int64, fupEnabled bool) uuid.UUID {
	t.Helper()
	plan := models.Plan{
		Name:            "Home 20M",
		Price:           150000,
		QuotaBytes:      quota,
		FUPEnabled:      fupEnabled,
		SpeedProfile:    "NORMAL-20M",
		FUPSpeedProfile: "FUP-2M",
	}
	require.NoError(t, f.conn.Create(&plan).Error)
	c := models.Customer{Name: "subscriber", PlanID: &plan.ID, Status: enums.CustomerActive}
	require.NoError(t, f.conn.Create(&c).Error)
	return c.ID
}

func (f fixture) pushes(t *testing.T, customerID uuid.UUID) []models.PolicyPush {
	t.Helper()
	f.enforcer.Wait()
	pushes, err := f.enforcer.ListByCustomer(context.Background(), customerID)
	require.NoError(t, err)
	return pushes
}

func TestQuotaCrossingActivatesFUP(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.customer(t, 1_000_000, true)

	first, err := f.svc.RecordUsage(ctx, id, 999_000)
	require.NoError(t, err)
	require.False(t, first.Activated)
	require.Equal(t, int64(999_000), first.Record.CurrentUsageBytes)
	require.Equal(t, int64(1_000_000), first.Record.CycleQuotaBytes)

	second, err := f.svc.RecordUsage(ctx, id, 2_000)
	require.NoError(t, err)
	require.True(t, second.Activated)
	require.Equal(t, int64(999_000), second.PreviousBytes)
	require.Equal(t, int64(1_001_000), second.Record.CurrentUsageBytes)
	require.True(t, second.Record.IsFUPActive)
	require.NotNil(t, second.PushID)

	third, err := f.svc.RecordUsage(ctx, id, 50_000)
	require.NoError(t, err)
	require.False(t, third.Activated)

	pushes := f.pushes(t, id)
	require.Len(t, pushes, 1)
	require.Equal(t, enums.PolicyPushFUPActivate, pushes[0].Reason)
	require.Equal(t, enums.PolicyPushApplied, pushes[0].Status)
	require.Equal(t, []string{"FUP-2M"}, f.pusher.profiles)
}

func TestExactQuotaActivates(t *testing.T) {
	f := newFixture(t)
	id := f.customer(t, 1_000, true)

	res, err := f.svc.RecordUsage(context.Background(), id, 1_000)
	require.NoError(t, err)
	require.True(t, res.Activated)
}

func TestFUPDisabledPlanNeverActivates(t *testing.T) {
	f := newFixture(t)
	id := f.customer(t, 1_000, false)

	res, err := f.svc.RecordUsage(context.Background(), id, 5_000)
	require.NoError(t, err)
	require.False(t, res.Activated)
	require.False(t, res.Record.IsFUPActive)
	require.Empty(t, f.pushes(t, id))
}

func TestConcurrentIncrementsActivateOnce(t *testing.T) {
	f := newFixture(t)
	id := f.customer(t, 1_000_000, true)

	const workers = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		activated int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.svc.RecordUsage(context.Background(), id, 100_000)
			require.NoError(t, err)
			if res.Activated {
				mu.Lock()
				activated++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, activated)
	rec, err := f.svc.Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, int64(workers*100_000), rec.CurrentUsageBytes)
	require.True(t, rec.IsFUPActive)
	require.Len(t, f.pushes(t, id), 1)
}

func TestResetCycleRestoresSpeedOncePerCycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.customer(t, 1_000, true)

	_, err := f.svc.RecordUsage(ctx, id, 2_000)
	require.NoError(t, err)

	_, err = f.svc.ResetCycle(ctx, id)
	require.True(t, errors.Is(err, ErrCycleNotDue))
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeStateConflict))

	f.clock.Advance(31 * 24 * time.Hour)

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		resets int
	)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.svc.ResetCycle(context.Background(), id)
			if err != nil {
				require.True(t, errors.Is(err, ErrCycleNotDue))
				return
			}
			require.True(t, res.Restored)
			mu.Lock()
			resets++
			mu.Unlock()
		}()
	}
	wg.Wait()
	require.Equal(t, 1, resets)

	rec, err := f.svc.Get(ctx, id)
	require.NoError(t, err)
	require.Zero(t, rec.CurrentUsageBytes)
	require.False(t, rec.IsFUPActive)
	require.True(t, rec.NextResetAt.Equal(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)))

	pushes := f.pushes(t, id)
	require.Len(t, pushes, 2)
	require.Equal(t, enums.PolicyPushFUPRestore, pushes[1].Reason)
	require.Equal(t, "NORMAL-20M", pushes[1].Profile)

	// a new cycle can cross the quota again
	res, err := f.svc.RecordUsage(ctx, id, 1_500)
	require.NoError(t, err)
	require.True(t, res.Activated)
}

func TestResetWithoutFUPSkipsRestorePush(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.customer(t, 1_000_000, true)
	_, err := f.svc.RecordUsage(ctx, id, 10)
	require.NoError(t, err)
	f.clock.Advance(32 * 24 * time.Hour)

	res, err := f.svc.ResetCycle(ctx, id)
	require.NoError(t, err)
	require.False(t, res.Restored)
	require.Nil(t, res.PushID)
	require.Empty(t, f.pushes(t, id))
}

func TestResetDueOnlyTouchesElapsedCycles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	early := f.customer(t, 1_000, true)
	_, err := f.svc.RecordUsage(ctx, early, 10)
	require.NoError(t, err)

	f.clock.Advance(15 * 24 * time.Hour)
	late := f.customer(t, 1_000, true)
	_, err = f.svc.RecordUsage(ctx, late, 10)
	require.NoError(t, err)

	f.clock.Advance(20 * 24 * time.Hour)
	n, err := f.svc.ResetDue(ctx, 100)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	rec, err := f.svc.Get(ctx, early)
	require.NoError(t, err)
	require.Zero(t, rec.CurrentUsageBytes)
	rec, err = f.svc.Get(ctx, late)
	require.NoError(t, err)
	require.Equal(t, int64(10), rec.CurrentUsageBytes)

	n, err = f.svc.ResetDue(ctx, 100)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestRecordUsageRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.RecordUsage(ctx, uuid.New(), 0)
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))

	_, err = f.svc.RecordUsage(ctx, uuid.New(), 10)
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound))

	planless := models.Customer{Name: "walk-in", Status: enums.CustomerActive}
	require.NoError(t, f.conn.Create(&planless).Error)
	_, err = f.svc.RecordUsage(ctx, planless.ID, 10)
	require.True(t, errors.Is(err, ErrNoPlan))
}

func TestNextBoundarySkipsMissedMonths(t *testing.T) {
	boundary := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	require.Equal(t, time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC), nextBoundary(boundary, boundary))
	require.Equal(t, time.Date(2026, 5, 15, 0, 0, 0, 0, time.UTC),
		nextBoundary(boundary, time.Date(2026, 4, 20, 0, 0, 0, 0, time.UTC)))
}
