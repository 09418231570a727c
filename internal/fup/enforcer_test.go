package fup

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/ispbox-backend/pkg/config"
	"github.com/angelmondragon/ispbox-backend/pkg/db"
	"github.com/angelmondragon/ispbox-backend/pkg/db/dbtest"
	"github.com/angelmondragon/ispbox-backend/pkg/db/models"
	"github.com/angelmondragon/ispbox-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/ispbox-backend/pkg/errors"
	"github.com/angelmondragon/ispbox-backend/pkg/logger"
	"github.com/angelmondragon/ispbox-backend/pkg/outbox"
)

type stubPusher struct {
	mu       sync.Mutex
	failures int
	calls    []string
}

func (s *stubPusher) ApplyProfile(_ context.Context, _ uuid.UUID, profile string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, profile)
	if s.failures != 0 {
		s.failures--
		return errors.New("router unreachable")
	}
	return nil
}

func (s *stubPusher) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type fixture struct {
	conn     *gorm.DB
	client   *db.Client
	pusher   *stubPusher
	enforcer Enforcer
}

func newFixture(t *testing.T, failures int) fixture {
	t.Helper()
	conn := dbtest.Open(t)
	logg := logger.New(logger.Options{ServiceName: "fup-test"})
	pusher := &stubPusher{failures: failures}
	client := db.FromGorm(conn)
	enf, err := NewEnforcer(EnforcerParams{
		DB:     client,
		Repo:   NewRepository(conn),
		Pusher: pusher,
		Outbox: outbox.NewService(outbox.NewRepository(conn), logg),
		Logger: logg,
		Config: config.FUPConfig{
			MaxAttempts:    3,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     2 * time.Millisecond,
			LeaseTTL:       time.Minute,
		},
	})
	require.NoError(t, err)
	return fixture{conn: conn, client: client, pusher: pusher, enforcer: enf}
}

func (f fixture) enqueue(t *testing.T, customerID uuid.UUID, profile string, reason enums.PolicyPushReason) *models.PolicyPush {
	t.Helper()
	var push *models.PolicyPush
	require.NoError(t, f.client.WithTx(context.Background(), func(tx *gorm.DB) error {
		var err error
		push, err = f.enforcer.EnqueueTx(context.Background(), tx, customerID, profile, reason)
		return err
	}))
	return push
}

func (f fixture) reload(t *testing.T, id uuid.UUID) models.PolicyPush {
	t.Helper()
	var push models.PolicyPush
	require.NoError(t, f.conn.Where("id = ?", id).Take(&push).Error)
	return push
}

func (f fixture) failedEvents(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.conn.Model(&models.OutboxEvent{}).Where("event_type = ?", enums.EventPolicyPushFailed).Count(&n).Error)
	return n
}

func TestDeliverAppliesOnFirstAttempt(t *testing.T) {
	f := newFixture(t, 0)
	push := f.enqueue(t, uuid.New(), "FUP-2M", enums.PolicyPushFUPActivate)

	require.NoError(t, f.enforcer.Deliver(context.Background(), push.ID))

	got := f.reload(t, push.ID)
	require.Equal(t, enums.PolicyPushApplied, got.Status)
	require.Equal(t, 1, got.AttemptCount)
	require.NotNil(t, got.AppliedAt)
	require.Nil(t, got.LeaseUntil)
	require.Equal(t, []string{"FUP-2M"}, f.pusher.calls)
}

func TestDeliverRetriesTransientFailures(t *testing.T) {
	f := newFixture(t, 2)
	push := f.enqueue(t, uuid.New(), "FUP-2M", enums.PolicyPushFUPActivate)

	require.NoError(t, f.enforcer.Deliver(context.Background(), push.ID))

	got := f.reload(t, push.ID)
	require.Equal(t, enums.PolicyPushApplied, got.Status)
	require.Equal(t, 3, got.AttemptCount)
	require.Zero(t, f.failedEvents(t))
}

func TestDeliverExhaustionMarksFailedAndEscalates(t *testing.T) {
	f := newFixture(t, -1)
	push := f.enqueue(t, uuid.New(), "FUP-2M", enums.PolicyPushFUPActivate)

	err := f.enforcer.Deliver(context.Background(), push.ID)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrPolicyPushFailed))
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeDependency))

	got := f.reload(t, push.ID)
	require.Equal(t, enums.PolicyPushFailed, got.Status)
	require.Equal(t, 3, got.AttemptCount)
	require.NotNil(t, got.LastError)
	require.Contains(t, *got.LastError, "router unreachable")
	require.Equal(t, 3, f.pusher.callCount())
	require.Equal(t, int64(1), f.failedEvents(t))

	// terminal pushes are not retried
	require.NoError(t, f.enforcer.Deliver(context.Background(), push.ID))
	require.Equal(t, 3, f.pusher.callCount())
}

func TestEnqueueSupersedesOlderPending(t *testing.T) {
	f := newFixture(t, 0)
	customer := uuid.New()
	older := f.enqueue(t, customer, "FUP-2M", enums.PolicyPushFUPActivate)
	newer := f.enqueue(t, customer, "NORMAL-20M", enums.PolicyPushFUPRestore)
	other := f.enqueue(t, uuid.New(), "FUP-2M", enums.PolicyPushFUPActivate)

	require.Equal(t, enums.PolicyPushSuperseded, f.reload(t, older.ID).Status)
	require.Equal(t, enums.PolicyPushPending, f.reload(t, other.ID).Status)

	require.NoError(t, f.enforcer.Deliver(context.Background(), older.ID))
	require.NoError(t, f.enforcer.Deliver(context.Background(), newer.ID))
	require.Equal(t, []string{"NORMAL-20M"}, f.pusher.calls)
	require.Equal(t, enums.PolicyPushApplied, f.reload(t, newer.ID).Status)
}

func TestDeliverSkipsWhileAnotherLeaseIsLive(t *testing.T) {
	f := newFixture(t, 0)
	customer := uuid.New()
	first := f.enqueue(t, customer, "FUP-2M", enums.PolicyPushFUPActivate)
	lease := time.Now().UTC().Add(time.Hour)
	require.NoError(t, f.conn.Model(&models.PolicyPush{}).Where("id = ?", first.ID).
		Updates(map[string]any{"status": enums.PolicyPushInFlight, "lease_until": lease}).Error)

	second := f.enqueue(t, customer, "NORMAL-20M", enums.PolicyPushFUPRestore)
	require.NoError(t, f.enforcer.Deliver(context.Background(), second.ID))

	require.Empty(t, f.pusher.calls)
	require.Equal(t, enums.PolicyPushPending, f.reload(t, second.ID).Status)
}

func TestRedriveDueDeliversPendingAndExpiredLeases(t *testing.T) {
	f := newFixture(t, 0)
	a := f.enqueue(t, uuid.New(), "FUP-2M", enums.PolicyPushFUPActivate)
	b := f.enqueue(t, uuid.New(), "FUP-2M", enums.PolicyPushFUPActivate)
	stale := time.Now().UTC().Add(-time.Minute)
	require.NoError(t, f.conn.Model(&models.PolicyPush{}).Where("id = ?", b.ID).
		Updates(map[string]any{"status": enums.PolicyPushInFlight, "lease_until": stale}).Error)

	n, err := f.enforcer.RedriveDue(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, enums.PolicyPushApplied, f.reload(t, a.ID).Status)
	require.Equal(t, enums.PolicyPushApplied, f.reload(t, b.ID).Status)
}

func TestDispatchIsDrainedByWait(t *testing.T) {
	f := newFixture(t, 0)
	push := f.enqueue(t, uuid.New(), "FUP-2M", enums.PolicyPushFUPActivate)

	ctx, cancel := context.WithCancel(context.Background())
	f.enforcer.Dispatch(ctx, push.ID)
	cancel()
	f.enforcer.Wait()

	require.Equal(t, enums.PolicyPushApplied, f.reload(t, push.ID).Status)
}

func TestEnqueueValidatesInput(t *testing.T) {
	f := newFixture(t, 0)
	err := f.client.WithTx(context.Background(), func(tx *gorm.DB) error {
		_, err := f.enforcer.EnqueueTx(context.Background(), tx, uuid.New(), " ", enums.PolicyPushFUPActivate)
		return err
	})
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))

	err = f.client.WithTx(context.Background(), func(tx *gorm.DB) error {
		_, err := f.enforcer.EnqueueTx(context.Background(), tx, uuid.New(), "FUP-2M", enums.PolicyPushReason("bogus"))
		return err
	})
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))
}

func TestDeliverUnknownPush(t *testing.T) {
	f := newFixture(t, 0)
	err := f.enforcer.Deliver(context.Background(), uuid.New())
	require.True(t, errors.Is(err, ErrPushNotFound))
}
