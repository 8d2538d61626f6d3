package ledger

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/bookkeeper/internal/shared"
)

// Store is the transaction-scoped ledger persistence port.
type Store interface {
	GetLedger(ctx context.Context, id int64) (Ledger, error)
	// LockLedgers locks the rows in ascending id order and returns them keyed by id.
	LockLedgers(ctx context.Context, ids []int64) (map[int64]Ledger, error)
	FindByName(ctx context.Context, name string) (Ledger, error)
	FindByRef(ctx context.Context, typ Type, refID int64) (Ledger, error)
	CreateLedger(ctx context.Context, l Ledger) (Ledger, error)
	// AddToBalance increments current_balance atomically and returns the new value.
	AddToBalance(ctx context.Context, id int64, delta decimal.Decimal) (decimal.Decimal, error)
}

// Posting is the balance effect of one journal row.
type Posting struct {
	EntryID  int64
	LedgerID int64
	Debit    decimal.Decimal
	Credit   decimal.Decimal
}

// Inverse swaps debit and credit, undoing the posting when applied.
func (p Posting) Inverse() Posting {
	p.Debit, p.Credit = p.Credit, p.Debit
	return p
}

// ApplyPosting adds signedAmount to a single ledger balance under its row lock.
func ApplyPosting(ctx context.Context, store Store, ledgerID int64, signedAmount decimal.Decimal) (decimal.Decimal, error) {
	if _, err := store.LockLedgers(ctx, []int64{ledgerID}); err != nil {
		return decimal.Zero, err
	}
	return store.AddToBalance(ctx, ledgerID, signedAmount)
}

// ApplyEntries applies the balance effect of persisted journal rows. Each row
// must carry its id and may appear only once, so a row is applied exactly once
// per call. Ledgers are locked in ascending id order.
func ApplyEntries(ctx context.Context, store Store, postings []Posting) (map[int64]decimal.Decimal, error) {
	seen := make(map[int64]struct{}, len(postings))
	ids := make([]int64, 0, len(postings))
	for _, p := range postings {
		if p.EntryID == 0 {
			return nil, shared.Inconsistent("entry_applied_once", "ledger %d posting has no entry id", p.LedgerID)
		}
		if _, dup := seen[p.EntryID]; dup {
			return nil, shared.Inconsistent("entry_applied_once", "entry %d applied twice", p.EntryID)
		}
		seen[p.EntryID] = struct{}{}
		ids = append(ids, p.LedgerID)
	}
	ids = uniqueSorted(ids)
	if len(ids) == 0 {
		return map[int64]decimal.Decimal{}, nil
	}

	ledgers, err := store.LockLedgers(ctx, ids)
	if err != nil {
		return nil, err
	}
	deltas := make(map[int64]decimal.Decimal, len(ids))
	for _, p := range postings {
		l, ok := ledgers[p.LedgerID]
		if !ok {
			return nil, shared.NotFound("ledger", p.LedgerID)
		}
		deltas[p.LedgerID] = deltas[p.LedgerID].Add(l.Signed(p.Debit, p.Credit))
	}

	balances := make(map[int64]decimal.Decimal, len(ids))
	for _, id := range ids {
		delta := deltas[id]
		if delta.IsZero() {
			balances[id] = ledgers[id].CurrentBalance
			continue
		}
		bal, err := store.AddToBalance(ctx, id, delta)
		if err != nil {
			return nil, fmt.Errorf("ledger: apply %d: %w", id, err)
		}
		balances[id] = bal
	}
	return balances, nil
}

func uniqueSorted(ids []int64) []int64 {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := ids[:0]
	for i, id := range ids {
		if i > 0 && id == ids[i-1] {
			continue
		}
		out = append(out, id)
	}
	return out
}
