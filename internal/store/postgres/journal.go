package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/bookkeeper/internal/journal"
)

const entryColumns = `id, ledger_id, entry_date, debit, credit, narration, ref_type, ref_id, created_by, created_at`

func scanEntries(rows pgx.Rows) ([]journal.Entry, error) {
	defer rows.Close()
	var out []journal.Entry
	for rows.Next() {
		var e journal.Entry
		if err := rows.Scan(&e.ID, &e.LedgerID, &e.Date, &e.Debit, &e.Credit, &e.Narration,
			&e.RefType, &e.RefID, &e.CreatedBy, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (t *tx) InsertEntries(ctx context.Context, entries []journal.Entry) ([]journal.Entry, error) {
	out := make([]journal.Entry, 0, len(entries))
	for _, e := range entries {
		err := t.q.QueryRow(ctx, `INSERT INTO ledger_entries
			(ledger_id, entry_date, debit, credit, narration, ref_type, ref_id, created_by, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
			e.LedgerID, e.Date, e.Debit, e.Credit, e.Narration, e.RefType, e.RefID, e.CreatedBy, e.CreatedAt,
		).Scan(&e.ID)
		if err != nil {
			return nil, fmt.Errorf("insert entry: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}

func (t *tx) ListEntries(ctx context.Context, ref journal.Ref) ([]journal.Entry, error) {
	rows, err := t.q.Query(ctx, `SELECT `+entryColumns+` FROM ledger_entries
		WHERE ref_type = $1 AND ref_id = $2 ORDER BY id`, ref.Type, ref.ID)
	if err != nil {
		return nil, err
	}
	return scanEntries(rows)
}

func (t *tx) DeleteEntries(ctx context.Context, ref journal.Ref) ([]journal.Entry, error) {
	rows, err := t.q.Query(ctx, `DELETE FROM ledger_entries WHERE ref_type = $1 AND ref_id = $2
		RETURNING `+entryColumns, ref.Type, ref.ID)
	if err != nil {
		return nil, fmt.Errorf("delete entries: %w", err)
	}
	return scanEntries(rows)
}

func (t *tx) ListLedgerEntries(ctx context.Context, ledgerID int64) ([]journal.Entry, error) {
	rows, err := t.q.Query(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE ledger_id = $1 ORDER BY id`, ledgerID)
	if err != nil {
		return nil, err
	}
	return scanEntries(rows)
}
