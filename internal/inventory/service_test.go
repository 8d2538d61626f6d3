package inventory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/bookkeeper/internal/journal"
	"github.com/odyssey-erp/bookkeeper/internal/shared"
)

type memoryRepo struct {
	items     map[int64]Item
	movements []Movement
	nextID    int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{items: make(map[int64]Item)}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, CardReader) error) error {
	return fn(ctx, r)
}

func (r *memoryRepo) GetItem(ctx context.Context, id int64) (Item, error) {
	item, ok := r.items[id]
	if !ok {
		return Item{}, shared.NotFound("item", id)
	}
	return item, nil
}

func (r *memoryRepo) CreateItem(ctx context.Context, item Item) (Item, error) {
	r.nextID++
	item.ID = r.nextID
	r.items[item.ID] = item
	return item, nil
}

func (r *memoryRepo) LockItems(ctx context.Context, ids []int64) (map[int64]Item, error) {
	out := make(map[int64]Item, len(ids))
	for _, id := range ids {
		item, err := r.GetItem(ctx, id)
		if err != nil {
			return nil, err
		}
		out[id] = item
	}
	return out, nil
}

func (r *memoryRepo) SetStock(ctx context.Context, id int64, qty decimal.Decimal) error {
	item := r.items[id]
	item.StockQty = qty
	r.items[id] = item
	return nil
}

func (r *memoryRepo) InsertMovement(ctx context.Context, m Movement) (Movement, error) {
	r.nextID++
	m.ID = r.nextID
	r.movements = append(r.movements, m)
	return m, nil
}

func (r *memoryRepo) ListMovements(ctx context.Context, ref journal.Ref) ([]Movement, error) {
	var out []Movement
	for _, m := range r.movements {
		if m.RefType == ref.Type && m.RefID == ref.ID && !m.Reversal && !m.Reversed {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *memoryRepo) MarkReversed(ctx context.Context, ids []int64) error {
	for _, id := range ids {
		for i := range r.movements {
			if r.movements[i].ID == id {
				r.movements[i].Reversed = true
			}
		}
	}
	return nil
}

func (r *memoryRepo) ListItemMovements(ctx context.Context, itemID int64) ([]Movement, error) {
	var out []Movement
	for _, m := range r.movements {
		if m.ItemID == itemID {
			out = append(out, m)
		}
	}
	return out, nil
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestMoveRecordsPreviousAndNewQuantity(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	now := time.Date(2025, 1, 5, 9, 0, 0, 0, time.UTC)

	item, err := CreateItem(ctx, repo, "Item A", dec("10"), now)
	require.NoError(t, err)
	require.True(t, item.StockQty.Equal(dec("10")))

	ref := journal.Ref{Type: journal.RefPurchase, ID: uuid.New()}
	m, err := Move(ctx, repo, MoveInput{ItemID: item.ID, Qty: dec("3"), Ref: ref}, now)
	require.NoError(t, err)
	require.Equal(t, MovementIn, m.Type)
	require.True(t, m.PreviousQty.Equal(dec("10")))
	require.True(t, m.NewQty.Equal(dec("13")))
	require.Equal(t, now, m.Date)

	m, err = Move(ctx, repo, MoveInput{ItemID: item.ID, Qty: dec("-13"), Ref: ref}, now)
	require.NoError(t, err)
	require.Equal(t, MovementOut, m.Type)
	require.True(t, m.NewQty.IsZero())

	card, err := NewService(repo).Card(ctx, item.ID)
	require.NoError(t, err)
	require.Len(t, card.Movements, 3)
}

func TestMoveRejectsNegativeStock(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	item, err := CreateItem(ctx, repo, "Item B", dec("2"), time.Now())
	require.NoError(t, err)

	_, err = Move(ctx, repo, MoveInput{ItemID: item.ID, Qty: dec("-5")}, time.Now())
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	var stockErr *shared.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	require.True(t, stockErr.Available.Equal(dec("2")))
	require.True(t, stockErr.Requested.Equal(dec("5")))
	require.True(t, repo.items[item.ID].StockQty.Equal(dec("2")))
	require.Len(t, repo.movements, 1)

	_, err = Move(ctx, repo, MoveInput{ItemID: item.ID, Qty: decimal.Zero}, time.Now())
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = Move(ctx, repo, MoveInput{ItemID: 404, Qty: dec("1")}, time.Now())
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestCheckAvailable(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	a, _ := CreateItem(ctx, repo, "A", dec("4"), time.Now())
	b, _ := CreateItem(ctx, repo, "B", dec("1"), time.Now())

	require.NoError(t, CheckAvailable(ctx, repo, map[int64]decimal.Decimal{a.ID: dec("4"), b.ID: dec("1")}))
	err := CheckAvailable(ctx, repo, map[int64]decimal.Decimal{a.ID: dec("1"), b.ID: dec("2")})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
}

func TestVerifyCardDetectsDrift(t *testing.T) {
	card := Card{
		Item: Item{ID: 1, StockQty: dec("5")},
		Movements: []Movement{
			{ID: 1, Qty: dec("3"), PreviousQty: dec("0"), NewQty: dec("3")},
			{ID: 2, Qty: dec("1"), PreviousQty: dec("3"), NewQty: dec("4")},
		},
	}
	require.ErrorIs(t, VerifyCard(card), shared.ErrConsistency)

	card.Item.StockQty = dec("4")
	require.NoError(t, VerifyCard(card))

	card.Movements[1].PreviousQty = dec("2")
	card.Movements[1].NewQty = dec("3")
	card.Item.StockQty = dec("4")
	require.ErrorIs(t, VerifyCard(card), shared.ErrConsistency)
}
