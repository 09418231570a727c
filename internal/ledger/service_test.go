package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/ispbox-backend/internal/owners"
	"github.com/angelmondragon/ispbox-backend/pkg/db"
	"github.com/angelmondragon/ispbox-backend/pkg/db/dbtest"
	"github.com/angelmondragon/ispbox-backend/pkg/db/models"
	"github.com/angelmondragon/ispbox-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/ispbox-backend/pkg/errors"
	"github.com/angelmondragon/ispbox-backend/pkg/logger"
	"github.com/angelmondragon/ispbox-backend/pkg/outbox"
	"github.com/angelmondragon/ispbox-backend/pkg/pagination"
)

type fixture struct {
	conn *gorm.DB
	svc  Service
}

func newFixture(t *testing.T, forcePost ...string) fixture {
	t.Helper()
	conn := dbtest.Open(t)
	logg := logger.New(logger.Options{ServiceName: "ledger-test"})
	svc, err := NewService(ServiceParams{
		DB:                  db.FromGorm(conn),
		Repo:                NewRepository(conn),
		Owners:              owners.NewRepository(conn),
		Outbox:              outbox.NewService(outbox.NewRepository(conn), logg),
		Logger:              logg,
		ForcePostCategories: forcePost,
	})
	require.NoError(t, err)
	return fixture{conn: conn, svc: svc}
}

func (f fixture) customer(t *testing.T, creditLimit int64) owners.Ref {
	t.Helper()
	c := models.Customer{Name: "customer", Status: enums.CustomerActive, LimitHutang: creditLimit}
	require.NoError(t, f.conn.Create(&c).Error)
	return owners.Customer(c.ID)
}

func (f fixture) saldo(t *testing.T, ref owners.Ref) int64 {
	t.Helper()
	acct, err := owners.NewRepository(f.conn).GetAccount(context.Background(), ref)
	require.NoError(t, err)
	return acct.Saldo
}

func credit(owner owners.Ref, amount int64) PostInput {
	return PostInput{Owner: owner, Type: enums.LedgerEntryCredit, Amount: amount, Category: enums.LedgerCategoryTopup}
}

func debit(owner owners.Ref, amount int64, category enums.LedgerCategory) PostInput {
	return PostInput{Owner: owner, Type: enums.LedgerEntryDebit, Amount: amount, Category: category}
}

func TestPostChainsBalances(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.customer(t, 0)

	first, err := f.svc.Post(ctx, credit(owner, 100000))
	require.NoError(t, err)
	require.Equal(t, int64(0), first.BalanceBefore)
	require.Equal(t, int64(100000), first.BalanceAfter)
	require.Equal(t, int64(1), first.Seq)

	second, err := f.svc.Post(ctx, debit(owner, 30000, enums.LedgerCategoryVoucherSale))
	require.NoError(t, err)
	require.Equal(t, first.BalanceAfter, second.BalanceBefore)
	require.Equal(t, int64(70000), second.BalanceAfter)
	require.Equal(t, int64(2), second.Seq)

	balance, err := f.svc.Balance(ctx, owner)
	require.NoError(t, err)
	require.Equal(t, int64(70000), balance)
	require.Equal(t, int64(70000), f.saldo(t, owner))
}

func TestBalanceWithoutEntriesIsZero(t *testing.T) {
	f := newFixture(t)
	balance, err := f.svc.Balance(context.Background(), owners.Partner(uuid.New()))
	require.NoError(t, err)
	require.Zero(t, balance)
}

func TestDebitRespectsCreditLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.customer(t, 50000)

	_, err := f.svc.Post(ctx, credit(owner, 10000))
	require.NoError(t, err)

	entry, err := f.svc.Post(ctx, debit(owner, 60000, enums.LedgerCategoryInvoiceCharge))
	require.NoError(t, err)
	require.Equal(t, int64(-50000), entry.BalanceAfter)

	_, err = f.svc.Post(ctx, debit(owner, 1, enums.LedgerCategoryInvoiceCharge))
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrInsufficientBalance))
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeInsufficientBalance))

	balance, err := f.svc.Balance(ctx, owner)
	require.NoError(t, err)
	require.Equal(t, int64(-50000), balance)
	require.Equal(t, int64(-50000), f.saldo(t, owner))

	var count int64
	require.NoError(t, f.conn.Model(&models.LedgerEntry{}).Count(&count).Error)
	require.Equal(t, int64(2), count)
}

func TestForcePostCategoriesBypassLimit(t *testing.T) {
	f := newFixture(t, "adjustment")
	ctx := context.Background()
	owner := f.customer(t, 0)

	penalty, err := f.svc.Post(ctx, debit(owner, 2500, enums.LedgerCategoryPenalty))
	require.NoError(t, err)
	require.Equal(t, int64(-2500), penalty.BalanceAfter)

	adj, err := f.svc.Post(ctx, debit(owner, 500, enums.LedgerCategoryAdjustment))
	require.NoError(t, err)
	require.Equal(t, int64(-3000), adj.BalanceAfter)

	_, err = f.svc.Post(ctx, debit(owner, 500, enums.LedgerCategoryVoucherSale))
	require.True(t, errors.Is(err, ErrInsufficientBalance))
}

func TestPostRejectsInvalidInput(t *testing.T) {
	f := newFixture(t)
	owner := f.customer(t, 0)
	ctx := context.Background()

	cases := []PostInput{
		{Owner: owner, Type: enums.LedgerEntryCredit, Amount: 0, Category: enums.LedgerCategoryTopup},
		{Owner: owner, Type: enums.LedgerEntryCredit, Amount: -5, Category: enums.LedgerCategoryTopup},
		{Owner: owner, Type: "transfer", Amount: 5, Category: enums.LedgerCategoryTopup},
		{Owner: owner, Type: enums.LedgerEntryCredit, Amount: 5, Category: "gift"},
		{Owner: owners.Ref{Kind: enums.OwnerKindCustomer}, Type: enums.LedgerEntryCredit, Amount: 5, Category: enums.LedgerCategoryTopup},
	}
	for _, input := range cases {
		_, err := f.svc.Post(ctx, input)
		require.Error(t, err)
		require.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation), "input %+v: %v", input, err)
	}
}

func TestPostUnknownOwner(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Post(context.Background(), credit(owners.Customer(uuid.New()), 10))
	require.True(t, errors.Is(err, owners.ErrNotFound))
}

func TestConcurrentPostsKeepChainIntact(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.customer(t, 0)

	_, err := f.svc.Post(ctx, credit(owner, 1000))
	require.NoError(t, err)

	const workers = 40
	var wg sync.WaitGroup
	var mu sync.Mutex
	var rejected int
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var input PostInput
			if i%2 == 0 {
				input = credit(owner, 100)
			} else {
				input = debit(owner, 150, enums.LedgerCategoryVoucherSale)
			}
			if _, err := f.svc.Post(ctx, input); err != nil {
				if !errors.Is(err, ErrInsufficientBalance) {
					t.Errorf("unexpected error: %v", err)
				}
				mu.Lock()
				rejected++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	report, err := f.svc.VerifyChain(ctx, owner)
	require.NoError(t, err)
	require.True(t, report.ChainIntact, "breaks=%v gaps=%v", report.Breaks, report.SequenceGaps)
	require.True(t, report.CacheInSync)
	require.Equal(t, workers+1-rejected, report.Entries)
	require.Equal(t, report.SignedSum, report.Balance)
	require.GreaterOrEqual(t, report.Balance, int64(0))
}

func TestDriftedCacheIsRepairedFromLedger(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.customer(t, 0)

	_, err := f.svc.Post(ctx, credit(owner, 5000))
	require.NoError(t, err)
	require.NoError(t, f.conn.Model(&models.Customer{}).Where("id = ?", owner.ID).Update("saldo", 999999).Error)

	report, err := f.svc.VerifyChain(ctx, owner)
	require.NoError(t, err)
	require.False(t, report.CacheInSync)
	require.True(t, report.ChainIntact)

	entry, err := f.svc.Post(ctx, debit(owner, 1000, enums.LedgerCategoryVoucherSale))
	require.NoError(t, err)
	require.Equal(t, int64(5000), entry.BalanceBefore)
	require.Equal(t, int64(4000), f.saldo(t, owner))
}

func TestReverseCompensatesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.customer(t, 0)

	topup, err := f.svc.Post(ctx, credit(owner, 8000))
	require.NoError(t, err)
	_, err = f.svc.Post(ctx, debit(owner, 8000, enums.LedgerCategoryVoucherSale))
	require.NoError(t, err)

	reversal, err := f.svc.Reverse(ctx, topup.ID, "bank bounced")
	require.NoError(t, err)
	require.Equal(t, enums.LedgerEntryDebit, reversal.Type)
	require.Equal(t, enums.LedgerCategoryReversal, reversal.Category)
	require.Equal(t, int64(-8000), reversal.BalanceAfter)
	require.NotNil(t, reversal.ReversesID)
	require.Equal(t, topup.ID, *reversal.ReversesID)

	_, err = f.svc.Reverse(ctx, topup.ID, "again")
	require.True(t, errors.Is(err, ErrAlreadyReversed))

	_, err = f.svc.Reverse(ctx, reversal.ID, "")
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeStateConflict))

	_, err = f.svc.Reverse(ctx, uuid.New(), "")
	require.True(t, errors.Is(err, ErrEntryNotFound))

	var events int64
	require.NoError(t, f.conn.Model(&models.OutboxEvent{}).Where("event_type = ?", enums.EventLedgerReversed).Count(&events).Error)
	require.Equal(t, int64(1), events)

	var original models.LedgerEntry
	require.NoError(t, f.conn.Where("id = ?", topup.ID).Take(&original).Error)
	require.Equal(t, topup.BalanceAfter, original.BalanceAfter)
}

func TestListEntriesPagesNewestFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.customer(t, 0)
	for i := 0; i < 5; i++ {
		_, err := f.svc.Post(ctx, credit(owner, int64(100*(i+1))))
		require.NoError(t, err)
	}

	page, err := f.svc.ListEntries(ctx, owner, pagination.Params{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Entries, 2)
	require.Equal(t, int64(5), page.Entries[0].Seq)
	require.NotEmpty(t, page.NextCursor)

	page, err = f.svc.ListEntries(ctx, owner, pagination.Params{Limit: 2, Cursor: page.NextCursor})
	require.NoError(t, err)
	require.Equal(t, int64(3), page.Entries[0].Seq)

	page, err = f.svc.ListEntries(ctx, owner, pagination.Params{Limit: 2, Cursor: page.NextCursor})
	require.NoError(t, err)
	require.Len(t, page.Entries, 1)
	require.Empty(t, page.NextCursor)

	_, err = f.svc.ListEntries(ctx, owner, pagination.Params{Cursor: "%%%"})
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))
}

func TestPostTxSharesCallerTransaction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.customer(t, 0)

	unlock := f.svc.LockOwner(owner)
	err := db.FromGorm(f.conn).WithTx(ctx, func(tx *gorm.DB) error {
		if _, err := f.svc.PostTx(ctx, tx, credit(owner, 700)); err != nil {
			return err
		}
		return errors.New("abort")
	})
	unlock()
	require.Error(t, err)

	balance, err := f.svc.Balance(ctx, owner)
	require.NoError(t, err)
	require.Zero(t, balance)
	require.Zero(t, f.saldo(t, owner))
}

func TestNewServiceRejectsUnknownForcePostCategory(t *testing.T) {
	conn := dbtest.Open(t)
	_, err := NewService(ServiceParams{
		DB:                  db.FromGorm(conn),
		Repo:                NewRepository(conn),
		Owners:              owners.NewRepository(conn),
		Logger:              logger.New(logger.Options{ServiceName: "t"}),
		ForcePostCategories: []string{"bonus"},
	})
	require.Error(t, err)
}
