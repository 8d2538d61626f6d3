package postgres

import (
	"context"
	"fmt"

	"github.com/odyssey-erp/bookkeeper/internal/sequence"
)

func (t *tx) MaxSeq(ctx context.Context, docType, period string) (int, error) {
	var max int
	err := t.q.QueryRow(ctx, `SELECT COALESCE(MAX(seq), 0) FROM document_numbers WHERE doc_type = $1 AND period = $2`,
		docType, period).Scan(&max)
	return max, err
}

// Reserve inserts inside a savepoint so a unique violation leaves the outer
// transaction usable for the next attempt.
func (t *tx) Reserve(ctx context.Context, r sequence.Reservation) error {
	sp, err := t.q.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = sp.Rollback(ctx) }()
	_, err = sp.Exec(ctx, `INSERT INTO document_numbers (doc_type, number, period, seq, reserved_at) VALUES ($1, $2, $3, $4, $5)`,
		r.DocType, r.Number, r.Period, r.Seq, r.ReservedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return sequence.ErrConflict
		}
		return fmt.Errorf("reserve number: %w", err)
	}
	return sp.Commit(ctx)
}
