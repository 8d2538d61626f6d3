package posting_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/bookkeeper/internal/inventory"
	"github.com/odyssey-erp/bookkeeper/internal/journal"
	"github.com/odyssey-erp/bookkeeper/internal/ledger"
	"github.com/odyssey-erp/bookkeeper/internal/posting"
	"github.com/odyssey-erp/bookkeeper/internal/sequence"
	"github.com/odyssey-erp/bookkeeper/internal/store/memory"
)

const (
	customerID int64 = 1
	supplierID int64 = 2
)

var (
	day      = time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
	prefixes = map[string]string{
		"sale": "SAL", "purchase": "PUR", "sale_return": "SR", "purchase_return": "PR",
		"cash_receipt": "CR", "cash_payment": "CP", "bank_deposit": "BD", "bank_withdrawal": "BW", "bank_transfer": "BT",
	}
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type countingObserver struct {
	outcomes map[string]int
}

func (o *countingObserver) EventPosted(kind, outcome string) {
	o.outcomes[kind+"/"+outcome]++
}

type fixture struct {
	store    *memory.Store
	coord    *posting.Coordinator
	observer *countingObserver
	ledgers  map[string]int64
	itemA    int64
	itemB    int64
}

type fixtureOptions struct {
	skipSystemLedgers bool
	autoProvision     bool
	creditLimit       string
}

func newFixture(t *testing.T, opts fixtureOptions) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	limit := decimal.Zero
	if opts.creditLimit != "" {
		limit = dec(opts.creditLimit)
	}
	store.PutParty(posting.Party{ID: customerID, Name: "Acme Retail", Kind: posting.PartyCustomer, CreditLimit: limit})
	store.PutParty(posting.Party{ID: supplierID, Name: "Bolt Supplies", Kind: posting.PartySupplier})

	f := &fixture{store: store, ledgers: map[string]int64{}, observer: &countingObserver{outcomes: map[string]int{}}}
	customer, supplier := customerID, supplierID
	seed := []ledger.NewLedger{
		{Name: "Main Bank", Type: ledger.TypeBank},
		{Name: "Reserve Bank", Type: ledger.TypeBank},
		{Name: "Rent", Type: ledger.TypeExpense},
	}
	if !opts.skipSystemLedgers {
		seed = append(seed,
			ledger.NewLedger{Name: "Sales", Type: ledger.TypeSales},
			ledger.NewLedger{Name: "Purchase", Type: ledger.TypePurchase},
			ledger.NewLedger{Name: "Sales Return", Type: ledger.TypeReturn},
			ledger.NewLedger{Name: "Purchase Return", Type: ledger.TypeReturn, BalanceSide: ledger.SideCredit},
			ledger.NewLedger{Name: "Cash", Type: ledger.TypeCash},
			ledger.NewLedger{Name: "Acme Retail", Type: ledger.TypeCustomer, RefID: &customer},
			ledger.NewLedger{Name: "Bolt Supplies", Type: ledger.TypeSupplier, RefID: &supplier},
		)
	}
	err := store.WithTx(ctx, func(ctx context.Context, tx posting.Tx) error {
		for _, in := range seed {
			row, err := in.Build(day)
			if err != nil {
				return err
			}
			l, err := tx.Ledgers().CreateLedger(ctx, row)
			if err != nil {
				return err
			}
			f.ledgers[l.Name] = l.ID
		}
		a, err := inventory.CreateItem(ctx, tx.Stock(), "Item A", dec("10"), day)
		if err != nil {
			return err
		}
		b, err := inventory.CreateItem(ctx, tx.Stock(), "Item B", dec("4"), day)
		if err != nil {
			return err
		}
		f.itemA, f.itemB = a.ID, b.ID
		return nil
	})
	require.NoError(t, err)

	cfg := posting.DefaultConfig()
	cfg.AutoProvisionLedgers = opts.autoProvision
	alloc := sequence.NewAllocator(prefixes, sequence.RetryPolicy{MaxAttempts: 3}, sequence.WithNow(func() time.Time { return day }))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.coord = posting.NewCoordinator(store, alloc, cfg, logger,
		posting.WithObserver(f.observer),
		posting.WithClock(func() time.Time { return day }))
	return f
}

func (f *fixture) balance(t *testing.T, name string) decimal.Decimal {
	t.Helper()
	id, ok := f.ledgers[name]
	require.True(t, ok, "unknown ledger %s", name)
	l, err := ledger.NewService(f.store.Ledgers(), nil, nil).Get(context.Background(), id)
	require.NoError(t, err)
	return l.CurrentBalance
}

func (f *fixture) stock(t *testing.T, itemID int64) decimal.Decimal {
	t.Helper()
	card, err := inventory.NewService(f.store.Stock()).Card(context.Background(), itemID)
	require.NoError(t, err)
	return card.Item.StockQty
}

type snapshot struct {
	balances  map[int64]string
	stock     map[int64]string
	entries   int
	movements int
}

// snapshot captures every balance and stock level and checks that each
// ledger and item still reconciles with its rows.
func (f *fixture) snapshot(t *testing.T) snapshot {
	t.Helper()
	ctx := context.Background()
	s := snapshot{balances: map[int64]string{}, stock: map[int64]string{}}

	statements := journal.NewService(f.store.Journal())
	ledgerIDs, err := f.store.LedgerIDs(ctx)
	require.NoError(t, err)
	for _, id := range ledgerIDs {
		st, err := statements.Statement(ctx, id)
		require.NoError(t, err, "ledger %d", id)
		s.balances[id] = st.Ledger.CurrentBalance.String()
		s.entries += len(st.Lines)
	}

	cards := inventory.NewService(f.store.Stock())
	itemIDs, err := f.store.ItemIDs(ctx)
	require.NoError(t, err)
	for _, id := range itemIDs {
		card, err := cards.Card(ctx, id)
		require.NoError(t, err, "item %d", id)
		s.stock[id] = card.Item.StockQty.String()
		s.movements += len(card.Movements)
	}
	return s
}

func requireBalanced(t *testing.T, posted posting.Posted) {
	t.Helper()
	debit, credit := journal.Totals(posted.Entries)
	require.True(t, debit.Equal(credit), "debit %s != credit %s", debit, credit)
	require.True(t, debit.IsPositive())
}

func ptr[T any](v T) *T { return &v }

func purchase(item int64, qty, price string) posting.Event {
	return posting.Event{
		Kind:        posting.KindPurchase,
		Date:        day,
		PartyID:     ptr(supplierID),
		PaymentMode: posting.PaymentCredit,
		Lines:       []posting.Line{{ItemID: item, Qty: dec(qty), Price: dec(price)}},
	}
}

func sale(item int64, qty, price string, mode posting.PaymentMode) posting.Event {
	return posting.Event{
		Kind:        posting.KindSale,
		Date:        day,
		PartyID:     ptr(customerID),
		PaymentMode: mode,
		Lines:       []posting.Line{{ItemID: item, Qty: dec(qty), Price: dec(price)}},
	}
}

func saleReturn(linked *posting.Posted, item int64, qty, price string) posting.Event {
	e := posting.Event{
		Kind:        posting.KindSaleReturn,
		Date:        day,
		PartyID:     ptr(customerID),
		PaymentMode: posting.PaymentCredit,
		Lines:       []posting.Line{{ItemID: item, Qty: dec(qty), Price: dec(price)}},
	}
	if linked != nil {
		e.LinkedID = ptr(linked.Event.ID)
	}
	return e
}
