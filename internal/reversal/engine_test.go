package reversal_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/bookkeeper/internal/inventory"
	"github.com/odyssey-erp/bookkeeper/internal/journal"
	"github.com/odyssey-erp/bookkeeper/internal/ledger"
	"github.com/odyssey-erp/bookkeeper/internal/posting"
	"github.com/odyssey-erp/bookkeeper/internal/reversal"
	"github.com/odyssey-erp/bookkeeper/internal/shared"
	"github.com/odyssey-erp/bookkeeper/internal/store/memory"
)

var now = time.Date(2025, 1, 20, 8, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type seeded struct {
	store    *memory.Store
	stockID  int64
	sales    int64
	customer int64
	ref      journal.Ref
}

// seed books a sale of 3 units for 30 directly through the ports.
func seed(t *testing.T) seeded {
	t.Helper()
	ctx := context.Background()
	s := seeded{store: memory.New(), ref: journal.Ref{Type: journal.RefSale, ID: uuid.New()}}
	refID := int64(7)
	err := s.store.WithTx(ctx, func(ctx context.Context, tx posting.Tx) error {
		sales, err := ledger.NewLedger{Name: "Sales", Type: ledger.TypeSales}.Build(now)
		if err != nil {
			return err
		}
		customer, err := ledger.NewLedger{Name: "Walk-in", Type: ledger.TypeCustomer, RefID: &refID}.Build(now)
		if err != nil {
			return err
		}
		if sales, err = tx.Ledgers().CreateLedger(ctx, sales); err != nil {
			return err
		}
		if customer, err = tx.Ledgers().CreateLedger(ctx, customer); err != nil {
			return err
		}
		s.sales, s.customer = sales.ID, customer.ID

		item, err := inventory.CreateItem(ctx, tx.Stock(), "Widget", dec("10"), now)
		if err != nil {
			return err
		}
		s.stockID = item.ID
		if _, err := inventory.Move(ctx, tx.Stock(), inventory.MoveInput{ItemID: item.ID, Qty: dec("-3"), Ref: s.ref}, now); err != nil {
			return err
		}

		entries, err := journal.Build(s.ref, now, "tester", []journal.Line{
			{LedgerID: customer.ID, Debit: dec("30")},
			{LedgerID: sales.ID, Credit: dec("30")},
		}, now)
		if err != nil {
			return err
		}
		entries, err = tx.Journal().InsertEntries(ctx, entries)
		if err != nil {
			return err
		}
		_, err = ledger.ApplyEntries(ctx, tx.Ledgers(), journal.Postings(entries))
		return err
	})
	require.NoError(t, err)
	return s
}

func balance(t *testing.T, s seeded, id int64) decimal.Decimal {
	t.Helper()
	l, err := ledger.NewService(s.store.Ledgers(), nil, nil).Get(context.Background(), id)
	require.NoError(t, err)
	return l.CurrentBalance
}

func TestReverseRestoresStockAndBalances(t *testing.T) {
	ctx := context.Background()
	s := seed(t)
	require.True(t, balance(t, s, s.customer).Equal(dec("30")))

	var res reversal.Result
	err := s.store.WithTx(ctx, func(ctx context.Context, tx posting.Tx) error {
		var err error
		res, err = reversal.NewEngine(func() time.Time { return now }).Reverse(ctx, tx, s.ref)
		return err
	})
	require.NoError(t, err)
	require.Len(t, res.Entries, 2)
	require.Len(t, res.Movements, 1)
	require.True(t, res.Movements[0].Reversal)
	require.True(t, res.Movements[0].PreviousQty.Equal(dec("7")))
	require.True(t, res.Movements[0].NewQty.Equal(dec("10")))
	require.Equal(t, []int64{s.sales, s.customer}, res.LedgerIDs())

	require.True(t, balance(t, s, s.customer).IsZero())
	require.True(t, balance(t, s, s.sales).IsZero())

	card, err := inventory.NewService(s.store.Stock()).Card(ctx, s.stockID)
	require.NoError(t, err)
	require.True(t, card.Item.StockQty.Equal(dec("10")))
	require.Len(t, card.Movements, 3)
	require.True(t, card.Movements[1].Reversed)

	// a second reversal finds nothing left to undo
	err = s.store.WithTx(ctx, func(ctx context.Context, tx posting.Tx) error {
		res, err = reversal.NewEngine(nil).Reverse(ctx, tx, s.ref)
		return err
	})
	require.NoError(t, err)
	require.Empty(t, res.Entries)
	require.Empty(t, res.Movements)
	require.True(t, balance(t, s, s.customer).IsZero())
}

func TestReverseFailsWhenStockWasConsumed(t *testing.T) {
	ctx := context.Background()
	s := seed(t)
	purchaseRef := journal.Ref{Type: journal.RefPurchase, ID: uuid.New()}

	// receive 5, sell 12, then try to undo the receipt
	err := s.store.WithTx(ctx, func(ctx context.Context, tx posting.Tx) error {
		if _, err := inventory.Move(ctx, tx.Stock(), inventory.MoveInput{ItemID: s.stockID, Qty: dec("5"), Ref: purchaseRef}, now); err != nil {
			return err
		}
		_, err := inventory.Move(ctx, tx.Stock(), inventory.MoveInput{
			ItemID: s.stockID, Qty: dec("-12"), Ref: journal.Ref{Type: journal.RefSale, ID: uuid.New()},
		}, now)
		return err
	})
	require.NoError(t, err)

	err = s.store.WithTx(ctx, func(ctx context.Context, tx posting.Tx) error {
		_, err := reversal.NewEngine(nil).Reverse(ctx, tx, purchaseRef)
		return err
	})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)

	card, err := inventory.NewService(s.store.Stock()).Card(ctx, s.stockID)
	require.NoError(t, err)
	require.True(t, card.Item.StockQty.IsZero())
	require.True(t, balance(t, s, s.customer).Equal(dec("30")))
}

func TestReverseForReplaceHoldsDecreasesUntilReplacementIsWritten(t *testing.T) {
	ctx := context.Background()
	s := seed(t)
	purchaseRef := journal.Ref{Type: journal.RefPurchase, ID: uuid.New()}

	// receive 5, sell 12: stock is back at 0
	err := s.store.WithTx(ctx, func(ctx context.Context, tx posting.Tx) error {
		if _, err := inventory.Move(ctx, tx.Stock(), inventory.MoveInput{ItemID: s.stockID, Qty: dec("5"), Ref: purchaseRef}, now); err != nil {
			return err
		}
		_, err := inventory.Move(ctx, tx.Stock(), inventory.MoveInput{
			ItemID: s.stockID, Qty: dec("-12"), Ref: journal.Ref{Type: journal.RefSale, ID: uuid.New()},
		}, now)
		return err
	})
	require.NoError(t, err)

	engine := reversal.NewEngine(func() time.Time { return now })
	err = s.store.WithTx(ctx, func(ctx context.Context, tx posting.Tx) error {
		res, pending, err := engine.ReverseForReplace(ctx, tx, purchaseRef)
		require.NoError(t, err)
		require.Empty(t, res.Movements)

		if _, err := inventory.Move(ctx, tx.Stock(), inventory.MoveInput{ItemID: s.stockID, Qty: dec("5"), Ref: purchaseRef}, now); err != nil {
			return err
		}
		restored, err := pending.Apply(ctx, tx.Stock())
		require.NoError(t, err)
		require.Len(t, restored, 1)
		require.True(t, restored[0].Reversal)
		require.True(t, restored[0].PreviousQty.Equal(dec("5")))
		require.True(t, restored[0].NewQty.IsZero())
		return nil
	})
	require.NoError(t, err)

	card, err := inventory.NewService(s.store.Stock()).Card(ctx, s.stockID)
	require.NoError(t, err)
	require.True(t, card.Item.StockQty.IsZero())

	// a smaller replacement still cannot take stock below zero
	err = s.store.WithTx(ctx, func(ctx context.Context, tx posting.Tx) error {
		_, pending, err := engine.ReverseForReplace(ctx, tx, purchaseRef)
		if err != nil {
			return err
		}
		if _, err := inventory.Move(ctx, tx.Stock(), inventory.MoveInput{ItemID: s.stockID, Qty: dec("2"), Ref: purchaseRef}, now); err != nil {
			return err
		}
		_, err = pending.Apply(ctx, tx.Stock())
		return err
	})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	card, err = inventory.NewService(s.store.Stock()).Card(ctx, s.stockID)
	require.NoError(t, err)
	require.True(t, card.Item.StockQty.IsZero())
}

func TestNilPendingAppliesNothing(t *testing.T) {
	var pending *reversal.Pending
	moves, err := pending.Apply(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, moves)
}
