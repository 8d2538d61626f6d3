package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/bookkeeper/internal/ledger"
	"github.com/odyssey-erp/bookkeeper/internal/shared"
)

const ledgerColumns = `id, name, type, ref_id, opening_balance, balance_side, current_balance, created_at`

func scanLedger(row pgx.Row) (ledger.Ledger, error) {
	var l ledger.Ledger
	err := row.Scan(&l.ID, &l.Name, &l.Type, &l.RefID, &l.OpeningBalance, &l.BalanceSide, &l.CurrentBalance, &l.CreatedAt)
	return l, err
}

func (t *tx) GetLedger(ctx context.Context, id int64) (ledger.Ledger, error) {
	l, err := scanLedger(t.q.QueryRow(ctx, `SELECT `+ledgerColumns+` FROM ledgers WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Ledger{}, shared.NotFound("ledger", id)
	}
	return l, err
}

func (t *tx) LockLedgers(ctx context.Context, ids []int64) (map[int64]ledger.Ledger, error) {
	sorted := append([]int64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	rows, err := t.q.Query(ctx, `SELECT `+ledgerColumns+` FROM ledgers WHERE id = ANY($1) ORDER BY id FOR UPDATE`, sorted)
	if err != nil {
		return nil, fmt.Errorf("lock ledgers: %w", err)
	}
	defer rows.Close()
	out := make(map[int64]ledger.Ledger, len(sorted))
	for rows.Next() {
		l, err := scanLedger(rows)
		if err != nil {
			return nil, err
		}
		out[l.ID] = l
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, id := range sorted {
		if _, ok := out[id]; !ok {
			return nil, shared.NotFound("ledger", id)
		}
	}
	return out, nil
}

func (t *tx) FindByName(ctx context.Context, name string) (ledger.Ledger, error) {
	l, err := scanLedger(t.q.QueryRow(ctx, `SELECT `+ledgerColumns+` FROM ledgers WHERE name_key = $1`, ledger.NameKey(name)))
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Ledger{}, shared.NotFound("ledger", name)
	}
	return l, err
}

func (t *tx) FindByRef(ctx context.Context, typ ledger.Type, refID int64) (ledger.Ledger, error) {
	l, err := scanLedger(t.q.QueryRow(ctx,
		`SELECT `+ledgerColumns+` FROM ledgers WHERE type = $1 AND ref_id = $2 ORDER BY id LIMIT 1`, typ, refID))
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Ledger{}, shared.NotFound("ledger", fmt.Sprintf("%s:%d", typ, refID))
	}
	return l, err
}

func (t *tx) CreateLedger(ctx context.Context, l ledger.Ledger) (ledger.Ledger, error) {
	sp, err := t.q.Begin(ctx)
	if err != nil {
		return ledger.Ledger{}, err
	}
	defer func() { _ = sp.Rollback(ctx) }()
	err = sp.QueryRow(ctx, `INSERT INTO ledgers (name, name_key, type, ref_id, opening_balance, balance_side, current_balance, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		l.Name, ledger.NameKey(l.Name), l.Type, l.RefID, l.OpeningBalance, l.BalanceSide, l.CurrentBalance, l.CreatedAt,
	).Scan(&l.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return ledger.Ledger{}, ledger.ErrDuplicateName
		}
		return ledger.Ledger{}, fmt.Errorf("insert ledger: %w", err)
	}
	if err := sp.Commit(ctx); err != nil {
		return ledger.Ledger{}, err
	}
	return l, nil
}

func (t *tx) AddToBalance(ctx context.Context, id int64, delta decimal.Decimal) (decimal.Decimal, error) {
	var bal decimal.Decimal
	err := t.q.QueryRow(ctx,
		`UPDATE ledgers SET current_balance = current_balance + $2 WHERE id = $1 RETURNING current_balance`, id, delta,
	).Scan(&bal)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, shared.NotFound("ledger", id)
	}
	return bal, err
}
