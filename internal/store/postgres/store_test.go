package postgres

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/bookkeeper/internal/inventory"
	"github.com/odyssey-erp/bookkeeper/internal/journal"
	"github.com/odyssey-erp/bookkeeper/internal/ledger"
	"github.com/odyssey-erp/bookkeeper/internal/posting"
	"github.com/odyssey-erp/bookkeeper/internal/sequence"
	"github.com/odyssey-erp/bookkeeper/internal/shared"
)

func TestMigrationsAreEmbedded(t *testing.T) {
	files, err := fs.ReadDir(migrations, "migrations")
	require.NoError(t, err)
	var up []string
	for _, f := range files {
		if strings.HasSuffix(f.Name(), ".up.sql") {
			up = append(up, f.Name())
		}
	}
	require.Equal(t, []string{"0001_bookkeeper.up.sql"}, up)
}

func TestIsUniqueViolation(t *testing.T) {
	err := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505", ConstraintName: idempotencyConstraint})
	require.True(t, isUniqueViolation(err))
	require.Equal(t, idempotencyConstraint, constraintOf(err))
	require.False(t, isUniqueViolation(&pgconn.PgError{Code: "23503"}))
	require.False(t, isUniqueViolation(io.EOF))
}

// ==========================================================================
// Integration: runs only when BOOKKEEPER_PG_DSN points at a live database.
// Each test works in a throwaway schema.
// ==========================================================================

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("BOOKKEEPER_PG_DSN")
	if dsn == "" {
		t.Skip("BOOKKEEPER_PG_DSN not set")
	}
	ctx := context.Background()
	schema := "bk_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]

	admin, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	_, err = admin.Exec(ctx, `CREATE SCHEMA `+schema)
	require.NoError(t, err)

	cfg, err := pgxpool.ParseConfig(dsn)
	require.NoError(t, err)
	cfg.ConnConfig.RuntimeParams["search_path"] = schema
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	require.NoError(t, err)

	t.Cleanup(func() {
		pool.Close()
		_, _ = admin.Exec(context.Background(), `DROP SCHEMA `+schema+` CASCADE`)
		admin.Close()
	})

	store := New(pool)
	applied, err := store.Migrate(ctx)
	require.NoError(t, err)
	require.Len(t, applied, 1)
	again, err := store.Migrate(ctx)
	require.NoError(t, err)
	require.Empty(t, again)
	return store
}

type seeded struct {
	ledgers map[string]int64
	item    int64
}

func seed(t *testing.T, store *Store, now time.Time) seeded {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.PutParty(ctx, posting.Party{ID: 1, Name: "Acme Retail", Kind: posting.PartyCustomer}))
	customer := int64(1)
	out := seeded{ledgers: map[string]int64{}}
	err := store.WithTx(ctx, func(ctx context.Context, tx posting.Tx) error {
		for _, in := range []ledger.NewLedger{
			{Name: "Sales", Type: ledger.TypeSales},
			{Name: "Purchase", Type: ledger.TypePurchase},
			{Name: "Sales Return", Type: ledger.TypeReturn},
			{Name: "Purchase Return", Type: ledger.TypeReturn, BalanceSide: ledger.SideCredit},
			{Name: "Cash", Type: ledger.TypeCash},
			{Name: "Acme Retail", Type: ledger.TypeCustomer, RefID: &customer},
		} {
			row, err := in.Build(now)
			if err != nil {
				return err
			}
			l, err := tx.Ledgers().CreateLedger(ctx, row)
			if err != nil {
				return err
			}
			out.ledgers[l.Name] = l.ID
		}
		item, err := inventory.CreateItem(ctx, tx.Stock(), "Item A", decimal.NewFromInt(10), now)
		out.item = item.ID
		return err
	})
	require.NoError(t, err)
	return out
}

func newCoordinator(store *Store, now time.Time) *posting.Coordinator {
	prefixes := map[string]string{"sale": "SAL", "sale_return": "SR"}
	alloc := sequence.NewAllocator(prefixes, sequence.RetryPolicy{MaxAttempts: 3}, sequence.WithNow(func() time.Time { return now }))
	return posting.NewCoordinator(store, alloc, posting.DefaultConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)),
		posting.WithClock(func() time.Time { return now }))
}

// race runs fn n times at once and returns the errors.
func race(n int, fn func() error) []error {
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = fn()
		}(i)
	}
	wg.Wait()
	return errs
}

func TestLedgerPortsOnPostgres(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	s := seed(t, store, now)

	err := store.WithTx(ctx, func(ctx context.Context, tx posting.Tx) error {
		row, err := ledger.NewLedger{Name: "  sales ", Type: ledger.TypeSales}.Build(now)
		require.NoError(t, err)
		_, err = tx.Ledgers().CreateLedger(ctx, row)
		require.ErrorIs(t, err, shared.ErrValidation)

		l, err := tx.Ledgers().FindByName(ctx, "CASH")
		require.NoError(t, err)
		require.Equal(t, s.ledgers["Cash"], l.ID)

		l, err = tx.Ledgers().FindByRef(ctx, ledger.TypeCustomer, 1)
		require.NoError(t, err)
		require.Equal(t, s.ledgers["Acme Retail"], l.ID)

		_, err = tx.Ledgers().LockLedgers(ctx, []int64{l.ID, 999999})
		require.ErrorIs(t, err, shared.ErrNotFound)

		bal, err := tx.Ledgers().AddToBalance(ctx, l.ID, decimal.NewFromInt(25))
		require.NoError(t, err)
		require.True(t, bal.Equal(decimal.NewFromInt(25)))
		return nil
	})
	require.NoError(t, err)
}

func TestSequenceReserveConflictKeepsTxUsable(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seq := 1
	err := store.WithTx(ctx, func(ctx context.Context, tx posting.Tx) error {
		r := sequence.Reservation{DocType: "sale", Period: "2501", Number: "SAL-2501-0001", Seq: &seq, ReservedAt: time.Now()}
		require.NoError(t, tx.Sequences().Reserve(ctx, r))
		require.ErrorIs(t, tx.Sequences().Reserve(ctx, r), sequence.ErrConflict)
		max, err := tx.Sequences().MaxSeq(ctx, "sale", "2501")
		require.NoError(t, err)
		require.Equal(t, 1, max)
		return nil
	})
	require.NoError(t, err)
}

func TestPostAndReverseOnPostgres(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	s := seed(t, store, now)

	coord := newCoordinator(store, now)

	party := int64(1)
	sale := func(key string) posting.Event {
		return posting.Event{
			Kind:           posting.KindSale,
			Date:           now,
			PartyID:        &party,
			PaymentMode:    posting.PaymentCredit,
			Lines:          []posting.Line{{ItemID: s.item, Qty: decimal.NewFromInt(1), Price: decimal.NewFromInt(10)}},
			IdempotencyKey: key,
		}
	}

	const workers = 8
	var wg sync.WaitGroup
	numbers := make([]string, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := coord.Post(ctx, sale(""))
			numbers[i], errs[i] = out.Number, err
		}(i)
	}
	wg.Wait()
	seen := map[string]bool{}
	for i := range numbers {
		require.NoError(t, errs[i])
		require.False(t, seen[numbers[i]], "duplicate %s", numbers[i])
		seen[numbers[i]] = true
	}

	first, err := coord.Post(ctx, sale("key-1"))
	require.NoError(t, err)
	replay, err := coord.Post(ctx, sale("key-1"))
	require.NoError(t, err)
	require.True(t, replay.Replayed)
	require.Equal(t, first.Number, replay.Number)

	require.NoError(t, coord.Delete(ctx, first.Event.ID))

	statements := journal.NewService(store.Journal())
	ids, err := store.LedgerIDs(ctx)
	require.NoError(t, err)
	for _, id := range ids {
		_, err := statements.Statement(ctx, id)
		require.NoError(t, err)
	}
	card, err := inventory.NewService(store.Stock()).Card(ctx, s.item)
	require.NoError(t, err)
	require.True(t, card.Item.StockQty.Equal(decimal.NewFromInt(10-workers)))

	sales, err := ledger.NewService(store.Ledgers(), nil, nil).Get(ctx, s.ledgers["Sales"])
	require.NoError(t, err)
	require.True(t, sales.CurrentBalance.Equal(decimal.NewFromInt(10*workers)))
}

func TestConcurrentReturnsAndCreditSalesOnPostgres(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	s := seed(t, store, now)
	require.NoError(t, store.PutParty(ctx, posting.Party{ID: 1, Name: "Acme Retail", Kind: posting.PartyCustomer, CreditLimit: decimal.NewFromInt(100)}))
	coord := newCoordinator(store, now)
	ledgers := ledger.NewService(store.Ledgers(), nil, nil)

	party := int64(1)
	event := func(kind posting.Kind, qty int64) posting.Event {
		return posting.Event{
			Kind:        kind,
			Date:        now,
			PartyID:     &party,
			PaymentMode: posting.PaymentCredit,
			Lines:       []posting.Line{{ItemID: s.item, Qty: decimal.NewFromInt(qty), Price: decimal.NewFromInt(10)}},
		}
	}

	sold, err := coord.Post(ctx, event(posting.KindSale, 2))
	require.NoError(t, err)

	// two returns of everything sold: only one fits
	errs := race(2, func() error {
		ret := event(posting.KindSaleReturn, 2)
		ret.LinkedID = &sold.Event.ID
		_, err := coord.Post(ctx, ret)
		return err
	})
	var ok int
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		require.ErrorIs(t, err, shared.ErrInsufficientStock)
	}
	require.Equal(t, 1, ok)
	customer, err := ledgers.Get(ctx, s.ledgers["Acme Retail"])
	require.NoError(t, err)
	require.True(t, customer.CurrentBalance.IsZero())

	// two credit sales of 60 against a limit of 100: only one fits
	errs = race(2, func() error {
		_, err := coord.Post(ctx, event(posting.KindSale, 6))
		return err
	})
	ok = 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		require.ErrorIs(t, err, shared.ErrCreditLimitExceeded)
	}
	require.Equal(t, 1, ok)
	customer, err = ledgers.Get(ctx, s.ledgers["Acme Retail"])
	require.NoError(t, err)
	require.True(t, customer.CurrentBalance.Equal(decimal.NewFromInt(60)))

	card, err := inventory.NewService(store.Stock()).Card(ctx, s.item)
	require.NoError(t, err)
	require.True(t, card.Item.StockQty.Equal(decimal.NewFromInt(4)))
}
