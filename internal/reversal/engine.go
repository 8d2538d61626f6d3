package reversal

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/bookkeeper/internal/inventory"
	"github.com/odyssey-erp/bookkeeper/internal/journal"
	"github.com/odyssey-erp/bookkeeper/internal/ledger"
)

// Stores exposes the transaction-scoped ports a reversal writes through.
type Stores interface {
	Ledgers() ledger.Store
	Journal() journal.Store
	Stock() inventory.Store
}

// Result lists what a reversal removed and wrote.
type Result struct {
	Entries   []journal.Entry
	Movements []inventory.Movement
	Balances  map[int64]decimal.Decimal
}

// LedgerIDs returns the ledgers whose balance the reversal touched.
func (r Result) LedgerIDs() []int64 {
	ids := make([]int64, 0, len(r.Balances))
	for id := range r.Balances {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Engine undoes the stock and balance effects of a posted event.
type Engine struct {
	now func() time.Time
}

// NewEngine builds an Engine. now may be nil.
func NewEngine(now func() time.Time) *Engine {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Engine{now: now}
}

// Reverse must run inside the caller's transaction. Stock is restored first,
// item by item in ascending id order, then the journal rows are deleted and
// exactly the deleted rows are unapplied from their ledgers.
func (e *Engine) Reverse(ctx context.Context, stores Stores, ref journal.Ref) (Result, error) {
	result, _, err := e.reverse(ctx, stores, ref, false)
	return result, err
}

// ReverseForReplace is Reverse for an event that is posted again in the same
// transaction. Restores that lower stock are held back in Pending so the
// replacement movements are written first; the stock check of each held
// restore then runs against the stock the edit ends with.
func (e *Engine) ReverseForReplace(ctx context.Context, stores Stores, ref journal.Ref) (Result, *Pending, error) {
	return e.reverse(ctx, stores, ref, true)
}

// Pending holds the stock decreases of a reversal that are not written yet.
type Pending struct {
	moves []inventory.MoveInput
	now   time.Time
}

// Apply writes the held decreases in ascending item order. A nil Pending
// writes nothing.
func (p *Pending) Apply(ctx context.Context, stock inventory.Store) ([]inventory.Movement, error) {
	if p == nil {
		return nil, nil
	}
	out := make([]inventory.Movement, 0, len(p.moves))
	for _, in := range p.moves {
		m, err := inventory.Move(ctx, stock, in, p.now)
		if err != nil {
			return nil, fmt.Errorf("reversal: restore item %d: %w", in.ItemID, err)
		}
		out = append(out, m)
	}
	return out, nil
}

func (e *Engine) reverse(ctx context.Context, stores Stores, ref journal.Ref, holdDecreases bool) (Result, *Pending, error) {
	now := e.now()
	stock := stores.Stock()

	active, err := stock.ListMovements(ctx, ref)
	if err != nil {
		return Result{}, nil, fmt.Errorf("reversal: list movements: %w", err)
	}
	net := make(map[int64]decimal.Decimal, len(active))
	ids := make([]int64, 0, len(active))
	itemIDs := make([]int64, 0, len(active))
	for _, m := range active {
		if _, ok := net[m.ItemID]; !ok {
			itemIDs = append(itemIDs, m.ItemID)
		}
		net[m.ItemID] = net[m.ItemID].Add(m.Qty)
		ids = append(ids, m.ID)
	}
	sort.Slice(itemIDs, func(i, j int) bool { return itemIDs[i] < itemIDs[j] })

	var result Result
	pending := &Pending{now: now}
	for _, itemID := range itemIDs {
		qty := net[itemID]
		if qty.IsZero() {
			continue
		}
		in := inventory.MoveInput{
			ItemID:   itemID,
			Qty:      qty.Neg(),
			Ref:      ref,
			Date:     now,
			Notes:    fmt.Sprintf("reversal of %s %s", ref.Type, ref.ID),
			Reversal: true,
		}
		if holdDecreases && in.Qty.IsNegative() {
			pending.moves = append(pending.moves, in)
			continue
		}
		m, err := inventory.Move(ctx, stock, in, now)
		if err != nil {
			return Result{}, nil, fmt.Errorf("reversal: restore item %d: %w", itemID, err)
		}
		result.Movements = append(result.Movements, m)
	}
	if len(ids) > 0 {
		if err := stock.MarkReversed(ctx, ids); err != nil {
			return Result{}, nil, fmt.Errorf("reversal: mark movements: %w", err)
		}
	}

	deleted, err := stores.Journal().DeleteEntries(ctx, ref)
	if err != nil {
		return Result{}, nil, fmt.Errorf("reversal: delete entries: %w", err)
	}
	balances, err := ledger.ApplyEntries(ctx, stores.Ledgers(), journal.Inverse(deleted))
	if err != nil {
		return Result{}, nil, fmt.Errorf("reversal: unapply entries: %w", err)
	}
	result.Entries = deleted
	result.Balances = balances
	return result, pending, nil
}
