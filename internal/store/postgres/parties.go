package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/bookkeeper/internal/posting"
	"github.com/odyssey-erp/bookkeeper/internal/shared"
)

func (t *tx) GetParty(ctx context.Context, id int64) (posting.Party, error) {
	var p posting.Party
	err := t.q.QueryRow(ctx, `SELECT id, name, kind, credit_limit FROM parties WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &p.Kind, &p.CreditLimit)
	if errors.Is(err, pgx.ErrNoRows) {
		return posting.Party{}, shared.NotFound("party", id)
	}
	return p, err
}

// PutParty registers or replaces a party. Parties are owned elsewhere; this
// exists for seeding and tests.
func (s *Store) PutParty(ctx context.Context, p posting.Party) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO parties (id, name, kind, credit_limit) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, kind = EXCLUDED.kind, credit_limit = EXCLUDED.credit_limit`,
		p.ID, p.Name, p.Kind, p.CreditLimit)
	if err != nil {
		return fmt.Errorf("put party: %w", err)
	}
	return nil
}
