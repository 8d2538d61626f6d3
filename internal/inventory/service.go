package inventory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/bookkeeper/internal/journal"
	"github.com/odyssey-erp/bookkeeper/internal/shared"
)

// Store is the transaction-scoped stock persistence port.
type Store interface {
	GetItem(ctx context.Context, id int64) (Item, error)
	CreateItem(ctx context.Context, item Item) (Item, error)
	// LockItems locks the rows in ascending id order and returns them keyed by id.
	LockItems(ctx context.Context, ids []int64) (map[int64]Item, error)
	SetStock(ctx context.Context, id int64, qty decimal.Decimal) error
	InsertMovement(ctx context.Context, m Movement) (Movement, error)
	// ListMovements returns the active movements of ref: neither reversal rows
	// nor rows already reversed.
	ListMovements(ctx context.Context, ref journal.Ref) ([]Movement, error)
	MarkReversed(ctx context.Context, ids []int64) error
	ListItemMovements(ctx context.Context, itemID int64) ([]Movement, error)
}

// Move applies a signed quantity change to an item under its row lock and
// appends the audit row carrying the previous and new quantities.
func Move(ctx context.Context, store Store, in MoveInput, now time.Time) (Movement, error) {
	if in.Qty.IsZero() {
		return Movement{}, ErrInvalidQuantity
	}
	items, err := store.LockItems(ctx, []int64{in.ItemID})
	if err != nil {
		return Movement{}, err
	}
	item, ok := items[in.ItemID]
	if !ok {
		return Movement{}, shared.NotFound("item", in.ItemID)
	}
	newQty := item.StockQty.Add(in.Qty)
	if newQty.IsNegative() {
		return Movement{}, &shared.InsufficientStockError{ItemID: in.ItemID, Available: item.StockQty, Requested: in.Qty.Neg()}
	}
	if err := store.SetStock(ctx, in.ItemID, newQty); err != nil {
		return Movement{}, err
	}
	typ := MovementIn
	if in.Qty.IsNegative() {
		typ = MovementOut
	}
	date := in.Date
	if date.IsZero() {
		date = now
	}
	return store.InsertMovement(ctx, Movement{
		ItemID:      in.ItemID,
		Date:        date,
		Qty:         in.Qty,
		Type:        typ,
		RefType:     in.Ref.Type,
		RefID:       in.Ref.ID,
		PreviousQty: item.StockQty,
		NewQty:      newQty,
		Reversal:    in.Reversal,
		Notes:       in.Notes,
		CreatedAt:   now,
	})
}

// CreateItem registers an item with zero stock and books any opening
// quantity as an adjustment movement, so stock always equals the sum of its
// movements.
func CreateItem(ctx context.Context, store Store, name string, opening decimal.Decimal, now time.Time) (Item, error) {
	if name == "" {
		return Item{}, shared.Invalid("name", "required")
	}
	if opening.IsNegative() {
		return Item{}, shared.Invalid("opening_qty", "must not be negative")
	}
	item, err := store.CreateItem(ctx, Item{Name: name, StockQty: decimal.Zero})
	if err != nil {
		return Item{}, err
	}
	if opening.IsZero() {
		return item, nil
	}
	m, err := Move(ctx, store, MoveInput{
		ItemID: item.ID,
		Qty:    opening,
		Ref:    journal.Ref{Type: journal.RefAdjustment, ID: uuid.New()},
		Notes:  "opening stock",
	}, now)
	if err != nil {
		return Item{}, err
	}
	item.StockQty = m.NewQty
	return item, nil
}

// CheckAvailable verifies, without locking, that every item can cover the
// requested outgoing quantity. It lets callers fail before any mutation;
// Move repeats the check under the row lock.
func CheckAvailable(ctx context.Context, store Store, demand map[int64]decimal.Decimal) error {
	ids := make([]int64, 0, len(demand))
	for id := range demand {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		qty := demand[id]
		if !qty.IsPositive() {
			continue
		}
		item, err := store.GetItem(ctx, id)
		if err != nil {
			return err
		}
		if item.StockQty.LessThan(qty) {
			return &shared.InsufficientStockError{ItemID: id, Available: item.StockQty, Requested: qty}
		}
	}
	return nil
}

// CardReader is what a stock card needs from a transaction.
type CardReader interface {
	GetItem(ctx context.Context, id int64) (Item, error)
	ListItemMovements(ctx context.Context, itemID int64) ([]Movement, error)
}

// RepositoryPort opens read transactions for stock cards.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, CardReader) error) error
}

// Service serves stock read models.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// Card returns the item with its movements and verifies that the movements
// add up to the item's stock.
func (s *Service) Card(ctx context.Context, itemID int64) (Card, error) {
	var card Card
	err := s.repo.WithTx(ctx, func(ctx context.Context, r CardReader) error {
		item, err := r.GetItem(ctx, itemID)
		if err != nil {
			return err
		}
		movements, err := r.ListItemMovements(ctx, itemID)
		if err != nil {
			return err
		}
		card = Card{Item: item, Movements: movements}
		return nil
	})
	if err != nil {
		return Card{}, err
	}
	if err := VerifyCard(card); err != nil {
		return card, err
	}
	return card, nil
}

// VerifyCard checks that the movement chain is continuous and ends at the
// item's stock.
func VerifyCard(card Card) error {
	var sum decimal.Decimal
	for i, m := range card.Movements {
		if !m.PreviousQty.Add(m.Qty).Equal(m.NewQty) {
			return shared.Inconsistent("movement_delta", "movement %d: %s + %s != %s", m.ID, m.PreviousQty, m.Qty, m.NewQty)
		}
		if i > 0 && !card.Movements[i-1].NewQty.Equal(m.PreviousQty) {
			return shared.Inconsistent("movement_chain", "movement %d starts at %s, previous ended at %s", m.ID, m.PreviousQty, card.Movements[i-1].NewQty)
		}
		sum = sum.Add(m.Qty)
	}
	if !sum.Equal(card.Item.StockQty) {
		return shared.Inconsistent("stock_sum", "item %d stock %s, movements sum %s", card.Item.ID, card.Item.StockQty, sum)
	}
	return nil
}
