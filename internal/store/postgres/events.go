package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/bookkeeper/internal/posting"
	"github.com/odyssey-erp/bookkeeper/internal/shared"
)

const eventColumns = `id, kind, number, event_date, status, party_id, lines, charges, payment_mode, paid_amount,
	bank_ledger_id, counter_ledger_id, to_bank_ledger_id, amount, linked_id, narration, created_by,
	COALESCE(idempotency_key, ''), totals, created_at, updated_at`

const idempotencyConstraint = "business_events_idempotency_key_key"

func scanEvent(row pgx.Row) (posting.Event, error) {
	var e posting.Event
	err := row.Scan(&e.ID, &e.Kind, &e.Number, &e.Date, &e.Status, &e.PartyID, &e.Lines, &e.Charges,
		&e.PaymentMode, &e.PaidAmount, &e.BankLedgerID, &e.CounterLedgerID, &e.ToBankLedgerID, &e.Amount,
		&e.LinkedID, &e.Narration, &e.CreatedBy, &e.IdempotencyKey, &e.Totals, &e.CreatedAt, &e.UpdatedAt)
	return e, err
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func lines(e posting.Event) []posting.Line {
	if e.Lines == nil {
		return []posting.Line{}
	}
	return e.Lines
}

func (t *tx) InsertEvent(ctx context.Context, e posting.Event) error {
	_, err := t.q.Exec(ctx, `INSERT INTO business_events (id, kind, number, event_date, status, party_id, lines, charges,
		payment_mode, paid_amount, bank_ledger_id, counter_ledger_id, to_bank_ledger_id, amount, linked_id, narration,
		created_by, idempotency_key, totals, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`,
		e.ID, e.Kind, e.Number, e.Date, e.Status, e.PartyID, lines(e), e.Charges,
		e.PaymentMode, e.PaidAmount, e.BankLedgerID, e.CounterLedgerID, e.ToBankLedgerID, e.Amount, e.LinkedID, e.Narration,
		e.CreatedBy, nullable(e.IdempotencyKey), e.Totals, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			if constraintOf(err) == idempotencyConstraint {
				return posting.ErrDuplicateIdempotencyKey
			}
			return shared.Invalid("id", "event %s already exists", e.ID)
		}
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (t *tx) UpdateEvent(ctx context.Context, e posting.Event) error {
	tag, err := t.q.Exec(ctx, `UPDATE business_events SET kind = $2, number = $3, event_date = $4, status = $5,
		party_id = $6, lines = $7, charges = $8, payment_mode = $9, paid_amount = $10, bank_ledger_id = $11,
		counter_ledger_id = $12, to_bank_ledger_id = $13, amount = $14, linked_id = $15, narration = $16,
		totals = $17, updated_at = $18
		WHERE id = $1`,
		e.ID, e.Kind, e.Number, e.Date, e.Status, e.PartyID, lines(e), e.Charges, e.PaymentMode, e.PaidAmount,
		e.BankLedgerID, e.CounterLedgerID, e.ToBankLedgerID, e.Amount, e.LinkedID, e.Narration, e.Totals, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound("event", e.ID)
	}
	return nil
}

func (t *tx) GetEvent(ctx context.Context, id uuid.UUID) (posting.Event, error) {
	e, err := scanEvent(t.q.QueryRow(ctx, `SELECT `+eventColumns+` FROM business_events WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return posting.Event{}, shared.NotFound("event", id)
	}
	return e, err
}

func (t *tx) LockEvent(ctx context.Context, id uuid.UUID) (posting.Event, error) {
	e, err := scanEvent(t.q.QueryRow(ctx, `SELECT `+eventColumns+` FROM business_events WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return posting.Event{}, shared.NotFound("event", id)
	}
	return e, err
}

func (t *tx) DeleteEvent(ctx context.Context, id uuid.UUID) error {
	tag, err := t.q.Exec(ctx, `DELETE FROM business_events WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound("event", id)
	}
	return nil
}

func (t *tx) FindByIdempotencyKey(ctx context.Context, key string) (posting.Event, bool, error) {
	e, err := scanEvent(t.q.QueryRow(ctx, `SELECT `+eventColumns+` FROM business_events WHERE idempotency_key = $1`, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return posting.Event{}, false, nil
	}
	if err != nil {
		return posting.Event{}, false, err
	}
	return e, true, nil
}

func (t *tx) ListLinked(ctx context.Context, id uuid.UUID) ([]posting.Event, error) {
	rows, err := t.q.Query(ctx, `SELECT `+eventColumns+` FROM business_events WHERE linked_id = $1 ORDER BY created_at, id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []posting.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
