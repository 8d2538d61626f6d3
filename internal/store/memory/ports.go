package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/bookkeeper/internal/inventory"
	"github.com/odyssey-erp/bookkeeper/internal/journal"
	"github.com/odyssey-erp/bookkeeper/internal/ledger"
	"github.com/odyssey-erp/bookkeeper/internal/posting"
	"github.com/odyssey-erp/bookkeeper/internal/sequence"
	"github.com/odyssey-erp/bookkeeper/internal/shared"
)

// ledgers

func (t *tx) GetLedger(ctx context.Context, id int64) (ledger.Ledger, error) {
	l, ok := t.st.ledgers[id]
	if !ok {
		return ledger.Ledger{}, shared.NotFound("ledger", id)
	}
	return l, nil
}

func (t *tx) LockLedgers(ctx context.Context, ids []int64) (map[int64]ledger.Ledger, error) {
	out := make(map[int64]ledger.Ledger, len(ids))
	for _, id := range ids {
		l, err := t.GetLedger(ctx, id)
		if err != nil {
			return nil, err
		}
		out[id] = l
	}
	return out, nil
}

func (t *tx) FindByName(ctx context.Context, name string) (ledger.Ledger, error) {
	id, ok := t.st.ledgerNames[ledger.NameKey(name)]
	if !ok {
		return ledger.Ledger{}, shared.NotFound("ledger", name)
	}
	return t.st.ledgers[id], nil
}

func (t *tx) FindByRef(ctx context.Context, typ ledger.Type, refID int64) (ledger.Ledger, error) {
	for _, id := range sortedKeys(t.st.ledgers) {
		l := t.st.ledgers[id]
		if l.Type == typ && l.RefID != nil && *l.RefID == refID {
			return l, nil
		}
	}
	return ledger.Ledger{}, shared.NotFound("ledger", fmt.Sprintf("%s:%d", typ, refID))
}

func (t *tx) CreateLedger(ctx context.Context, l ledger.Ledger) (ledger.Ledger, error) {
	key := ledger.NameKey(l.Name)
	if _, taken := t.st.ledgerNames[key]; taken {
		return ledger.Ledger{}, ledger.ErrDuplicateName
	}
	t.st.nextLedger++
	l.ID = t.st.nextLedger
	t.st.ledgers[l.ID] = l
	t.st.ledgerNames[key] = l.ID
	return l, nil
}

func (t *tx) AddToBalance(ctx context.Context, id int64, delta decimal.Decimal) (decimal.Decimal, error) {
	l, ok := t.st.ledgers[id]
	if !ok {
		return decimal.Zero, shared.NotFound("ledger", id)
	}
	l.CurrentBalance = l.CurrentBalance.Add(delta)
	t.st.ledgers[id] = l
	return l.CurrentBalance, nil
}

// journal

func (t *tx) InsertEntries(ctx context.Context, entries []journal.Entry) ([]journal.Entry, error) {
	out := make([]journal.Entry, 0, len(entries))
	for _, e := range entries {
		if _, ok := t.st.ledgers[e.LedgerID]; !ok {
			return nil, shared.NotFound("ledger", e.LedgerID)
		}
		t.st.nextEntry++
		e.ID = t.st.nextEntry
		t.st.entries = append(t.st.entries, e)
		out = append(out, e)
	}
	return out, nil
}

func (t *tx) ListEntries(ctx context.Context, ref journal.Ref) ([]journal.Entry, error) {
	var out []journal.Entry
	for _, e := range t.st.entries {
		if e.Ref() == ref {
			out = append(out, e)
		}
	}
	return out, nil
}

func (t *tx) DeleteEntries(ctx context.Context, ref journal.Ref) ([]journal.Entry, error) {
	var removed []journal.Entry
	kept := t.st.entries[:0:0]
	for _, e := range t.st.entries {
		if e.Ref() == ref {
			removed = append(removed, e)
			continue
		}
		kept = append(kept, e)
	}
	t.st.entries = kept
	return removed, nil
}

func (t *tx) ListLedgerEntries(ctx context.Context, ledgerID int64) ([]journal.Entry, error) {
	var out []journal.Entry
	for _, e := range t.st.entries {
		if e.LedgerID == ledgerID {
			out = append(out, e)
		}
	}
	return out, nil
}

// stock

func (t *tx) GetItem(ctx context.Context, id int64) (inventory.Item, error) {
	item, ok := t.st.items[id]
	if !ok {
		return inventory.Item{}, shared.NotFound("item", id)
	}
	return item, nil
}

func (t *tx) CreateItem(ctx context.Context, item inventory.Item) (inventory.Item, error) {
	t.st.nextItem++
	item.ID = t.st.nextItem
	t.st.items[item.ID] = item
	return item, nil
}

func (t *tx) LockItems(ctx context.Context, ids []int64) (map[int64]inventory.Item, error) {
	out := make(map[int64]inventory.Item, len(ids))
	for _, id := range ids {
		item, err := t.GetItem(ctx, id)
		if err != nil {
			return nil, err
		}
		out[id] = item
	}
	return out, nil
}

func (t *tx) SetStock(ctx context.Context, id int64, qty decimal.Decimal) error {
	item, ok := t.st.items[id]
	if !ok {
		return shared.NotFound("item", id)
	}
	item.StockQty = qty
	t.st.items[id] = item
	return nil
}

func (t *tx) InsertMovement(ctx context.Context, m inventory.Movement) (inventory.Movement, error) {
	t.st.nextMovement++
	m.ID = t.st.nextMovement
	t.st.movements = append(t.st.movements, m)
	return m, nil
}

func (t *tx) ListMovements(ctx context.Context, ref journal.Ref) ([]inventory.Movement, error) {
	var out []inventory.Movement
	for _, m := range t.st.movements {
		if m.RefType == ref.Type && m.RefID == ref.ID && !m.Reversal && !m.Reversed {
			out = append(out, m)
		}
	}
	return out, nil
}

func (t *tx) MarkReversed(ctx context.Context, ids []int64) error {
	want := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	for i := range t.st.movements {
		if _, ok := want[t.st.movements[i].ID]; ok {
			t.st.movements[i].Reversed = true
		}
	}
	return nil
}

func (t *tx) ListItemMovements(ctx context.Context, itemID int64) ([]inventory.Movement, error) {
	var out []inventory.Movement
	for _, m := range t.st.movements {
		if m.ItemID == itemID {
			out = append(out, m)
		}
	}
	return out, nil
}

// sequences

func (t *tx) MaxSeq(ctx context.Context, docType, period string) (int, error) {
	max := 0
	for _, r := range t.st.reservations {
		if r.DocType == docType && r.Period == period && r.Seq != nil && *r.Seq > max {
			max = *r.Seq
		}
	}
	return max, nil
}

func (t *tx) Reserve(ctx context.Context, r sequence.Reservation) error {
	key := r.DocType + "|" + r.Number
	if _, taken := t.st.reservations[key]; taken {
		return sequence.ErrConflict
	}
	t.st.reservations[key] = r
	return nil
}

// events

func (t *tx) InsertEvent(ctx context.Context, e posting.Event) error {
	if _, exists := t.st.events[e.ID]; exists {
		return shared.Invalid("id", "event %s already exists", e.ID)
	}
	if e.IdempotencyKey != "" {
		if _, used := t.st.idempotency[e.IdempotencyKey]; used {
			return posting.ErrDuplicateIdempotencyKey
		}
		t.st.idempotency[e.IdempotencyKey] = e.ID
	}
	t.st.events[e.ID] = cloneEvent(e)
	return nil
}

func (t *tx) UpdateEvent(ctx context.Context, e posting.Event) error {
	if _, ok := t.st.events[e.ID]; !ok {
		return shared.NotFound("event", e.ID)
	}
	t.st.events[e.ID] = cloneEvent(e)
	return nil
}

func (t *tx) GetEvent(ctx context.Context, id uuid.UUID) (posting.Event, error) {
	e, ok := t.st.events[id]
	if !ok {
		return posting.Event{}, shared.NotFound("event", id)
	}
	return cloneEvent(e), nil
}

func (t *tx) LockEvent(ctx context.Context, id uuid.UUID) (posting.Event, error) {
	return t.GetEvent(ctx, id)
}

func (t *tx) DeleteEvent(ctx context.Context, id uuid.UUID) error {
	e, ok := t.st.events[id]
	if !ok {
		return shared.NotFound("event", id)
	}
	delete(t.st.events, id)
	if e.IdempotencyKey != "" {
		delete(t.st.idempotency, e.IdempotencyKey)
	}
	return nil
}

func (t *tx) FindByIdempotencyKey(ctx context.Context, key string) (posting.Event, bool, error) {
	id, ok := t.st.idempotency[key]
	if !ok {
		return posting.Event{}, false, nil
	}
	return cloneEvent(t.st.events[id]), true, nil
}

func (t *tx) ListLinked(ctx context.Context, id uuid.UUID) ([]posting.Event, error) {
	var out []posting.Event
	for _, e := range t.st.events {
		if e.LinkedID != nil && *e.LinkedID == id {
			out = append(out, cloneEvent(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// parties

func (t *tx) GetParty(ctx context.Context, id int64) (posting.Party, error) {
	p, ok := t.st.parties[id]
	if !ok {
		return posting.Party{}, shared.NotFound("party", id)
	}
	return p, nil
}

// cloneEvent detaches the line slice so callers cannot mutate stored events.
func cloneEvent(e posting.Event) posting.Event {
	e.Lines = append([]posting.Line(nil), e.Lines...)
	return e
}
