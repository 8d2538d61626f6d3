// Package postgres implements every store port on PostgreSQL. One posting
// runs on one pgx.Tx at READ COMMITTED; rows are locked explicitly with
// SELECT ... FOR UPDATE in ascending id order.
package postgres

import (
	"context"
	"embed"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/bookkeeper/internal/inventory"
	"github.com/odyssey-erp/bookkeeper/internal/journal"
	"github.com/odyssey-erp/bookkeeper/internal/ledger"
	"github.com/odyssey-erp/bookkeeper/internal/platform/db"
	"github.com/odyssey-erp/bookkeeper/internal/posting"
	"github.com/odyssey-erp/bookkeeper/internal/sequence"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store persists bookkeeping data in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New constructs Store.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Migrate applies the embedded schema migrations.
func (s *Store) Migrate(ctx context.Context) ([]string, error) {
	return db.Migrate(ctx, s.pool, migrations, "migrations")
}

// WithTx runs fn inside one transaction spanning every port.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, posting.Tx) error) error {
	return db.WithTx(ctx, s.pool, func(t pgx.Tx) error {
		return fn(ctx, &tx{q: t})
	})
}

func (s *Store) run(ctx context.Context, fn func(*tx) error) error {
	return db.WithTx(ctx, s.pool, func(t pgx.Tx) error {
		return fn(&tx{q: t})
	})
}

// LedgerIDs lists every ledger id in ascending order.
func (s *Store) LedgerIDs(ctx context.Context) ([]int64, error) {
	return collectIDs(ctx, s.pool, `SELECT id FROM ledgers ORDER BY id`)
}

// ItemIDs lists every item id in ascending order.
func (s *Store) ItemIDs(ctx context.Context) ([]int64, error) {
	return collectIDs(ctx, s.pool, `SELECT id FROM items ORDER BY id`)
}

func collectIDs(ctx context.Context, pool *pgxpool.Pool, sql string) ([]int64, error) {
	rows, err := pool.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

// Ledgers adapts the store to ledger.Service.
func (s *Store) Ledgers() ledger.RepositoryPort { return ledgerRepo{s} }

// Journal adapts the store to journal.Service.
func (s *Store) Journal() journal.RepositoryPort { return journalRepo{s} }

// Stock adapts the store to inventory.Service.
func (s *Store) Stock() inventory.RepositoryPort { return stockRepo{s} }

type ledgerRepo struct{ s *Store }

func (r ledgerRepo) WithTx(ctx context.Context, fn func(context.Context, ledger.Store) error) error {
	return r.s.run(ctx, func(t *tx) error { return fn(ctx, t) })
}

type journalRepo struct{ s *Store }

func (r journalRepo) WithTx(ctx context.Context, fn func(context.Context, journal.Reader) error) error {
	return r.s.run(ctx, func(t *tx) error { return fn(ctx, t) })
}

type stockRepo struct{ s *Store }

func (r stockRepo) WithTx(ctx context.Context, fn func(context.Context, inventory.CardReader) error) error {
	return r.s.run(ctx, func(t *tx) error { return fn(ctx, t) })
}

// tx implements every port on a single pgx transaction.
type tx struct {
	q pgx.Tx
}

func (t *tx) Ledgers() ledger.Store       { return t }
func (t *tx) Journal() journal.Store      { return t }
func (t *tx) Stock() inventory.Store      { return t }
func (t *tx) Sequences() sequence.Store   { return t }
func (t *tx) Events() posting.EventStore  { return t }
func (t *tx) Parties() posting.PartyStore { return t }

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func constraintOf(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.ConstraintName
	}
	return ""
}
