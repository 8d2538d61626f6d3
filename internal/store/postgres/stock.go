package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/bookkeeper/internal/inventory"
	"github.com/odyssey-erp/bookkeeper/internal/journal"
	"github.com/odyssey-erp/bookkeeper/internal/shared"
)

const movementColumns = `id, item_id, moved_at, qty, type, ref_type, ref_id, previous_qty, new_qty, reversal, reversed, notes, created_at`

func scanMovements(rows pgx.Rows) ([]inventory.Movement, error) {
	defer rows.Close()
	var out []inventory.Movement
	for rows.Next() {
		var m inventory.Movement
		if err := rows.Scan(&m.ID, &m.ItemID, &m.Date, &m.Qty, &m.Type, &m.RefType, &m.RefID,
			&m.PreviousQty, &m.NewQty, &m.Reversal, &m.Reversed, &m.Notes, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (t *tx) GetItem(ctx context.Context, id int64) (inventory.Item, error) {
	var item inventory.Item
	err := t.q.QueryRow(ctx, `SELECT id, name, stock_qty FROM items WHERE id = $1`, id).
		Scan(&item.ID, &item.Name, &item.StockQty)
	if errors.Is(err, pgx.ErrNoRows) {
		return inventory.Item{}, shared.NotFound("item", id)
	}
	return item, err
}

func (t *tx) CreateItem(ctx context.Context, item inventory.Item) (inventory.Item, error) {
	err := t.q.QueryRow(ctx, `INSERT INTO items (name, stock_qty) VALUES ($1, $2) RETURNING id`,
		item.Name, item.StockQty).Scan(&item.ID)
	if err != nil {
		return inventory.Item{}, fmt.Errorf("insert item: %w", err)
	}
	return item, nil
}

func (t *tx) LockItems(ctx context.Context, ids []int64) (map[int64]inventory.Item, error) {
	sorted := append([]int64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	rows, err := t.q.Query(ctx, `SELECT id, name, stock_qty FROM items WHERE id = ANY($1) ORDER BY id FOR UPDATE`, sorted)
	if err != nil {
		return nil, fmt.Errorf("lock items: %w", err)
	}
	defer rows.Close()
	out := make(map[int64]inventory.Item, len(sorted))
	for rows.Next() {
		var item inventory.Item
		if err := rows.Scan(&item.ID, &item.Name, &item.StockQty); err != nil {
			return nil, err
		}
		out[item.ID] = item
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, id := range sorted {
		if _, ok := out[id]; !ok {
			return nil, shared.NotFound("item", id)
		}
	}
	return out, nil
}

func (t *tx) SetStock(ctx context.Context, id int64, qty decimal.Decimal) error {
	tag, err := t.q.Exec(ctx, `UPDATE items SET stock_qty = $2 WHERE id = $1`, id, qty)
	if err != nil {
		return fmt.Errorf("set stock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound("item", id)
	}
	return nil
}

func (t *tx) InsertMovement(ctx context.Context, m inventory.Movement) (inventory.Movement, error) {
	err := t.q.QueryRow(ctx, `INSERT INTO stock_movements
		(item_id, moved_at, qty, type, ref_type, ref_id, previous_qty, new_qty, reversal, reversed, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12) RETURNING id`,
		m.ItemID, m.Date, m.Qty, m.Type, m.RefType, m.RefID, m.PreviousQty, m.NewQty, m.Reversal, m.Reversed, m.Notes, m.CreatedAt,
	).Scan(&m.ID)
	if err != nil {
		return inventory.Movement{}, fmt.Errorf("insert movement: %w", err)
	}
	return m, nil
}

func (t *tx) ListMovements(ctx context.Context, ref journal.Ref) ([]inventory.Movement, error) {
	rows, err := t.q.Query(ctx, `SELECT `+movementColumns+` FROM stock_movements
		WHERE ref_type = $1 AND ref_id = $2 AND NOT reversal AND NOT reversed ORDER BY id`, ref.Type, ref.ID)
	if err != nil {
		return nil, err
	}
	return scanMovements(rows)
}

func (t *tx) MarkReversed(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := t.q.Exec(ctx, `UPDATE stock_movements SET reversed = TRUE WHERE id = ANY($1)`, ids)
	return err
}

func (t *tx) ListItemMovements(ctx context.Context, itemID int64) ([]inventory.Movement, error) {
	rows, err := t.q.Query(ctx, `SELECT `+movementColumns+` FROM stock_movements WHERE item_id = $1 ORDER BY id`, itemID)
	if err != nil {
		return nil, err
	}
	return scanMovements(rows)
}
