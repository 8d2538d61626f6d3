// Package memory is an in-process unit of work implementing every store
// port. Transactions are serialised and applied copy-on-commit, so a failed
// callback leaves no trace.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/odyssey-erp/bookkeeper/internal/inventory"
	"github.com/odyssey-erp/bookkeeper/internal/journal"
	"github.com/odyssey-erp/bookkeeper/internal/ledger"
	"github.com/odyssey-erp/bookkeeper/internal/posting"
	"github.com/odyssey-erp/bookkeeper/internal/sequence"
)

type state struct {
	ledgers      map[int64]ledger.Ledger
	ledgerNames  map[string]int64
	items        map[int64]inventory.Item
	movements    []inventory.Movement
	entries      []journal.Entry
	reservations map[string]sequence.Reservation
	events       map[uuid.UUID]posting.Event
	idempotency  map[string]uuid.UUID
	parties      map[int64]posting.Party

	nextLedger   int64
	nextItem     int64
	nextMovement int64
	nextEntry    int64
}

func newState() *state {
	return &state{
		ledgers:      make(map[int64]ledger.Ledger),
		ledgerNames:  make(map[string]int64),
		items:        make(map[int64]inventory.Item),
		reservations: make(map[string]sequence.Reservation),
		events:       make(map[uuid.UUID]posting.Event),
		idempotency:  make(map[string]uuid.UUID),
		parties:      make(map[int64]posting.Party),
	}
}

func (s *state) clone() *state {
	c := *s
	c.ledgers = cloneMap(s.ledgers)
	c.ledgerNames = cloneMap(s.ledgerNames)
	c.items = cloneMap(s.items)
	c.reservations = cloneMap(s.reservations)
	c.events = cloneMap(s.events)
	c.idempotency = cloneMap(s.idempotency)
	c.parties = cloneMap(s.parties)
	c.movements = append([]inventory.Movement(nil), s.movements...)
	c.entries = append([]journal.Entry(nil), s.entries...)
	return &c
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Store holds the committed state.
type Store struct {
	mu sync.Mutex
	st *state
}

// New returns an empty store.
func New() *Store {
	return &Store{st: newState()}
}

// WithTx runs fn against a private copy of the state and publishes the copy
// only when fn succeeds and ctx is still live.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, posting.Tx) error) error {
	return s.run(ctx, func(t *tx) error { return fn(ctx, t) })
}

func (s *Store) run(ctx context.Context, fn func(*tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	work := s.st.clone()
	if err := fn(&tx{st: work}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.st = work
	return nil
}

// PutParty registers or replaces a party.
func (s *Store) PutParty(p posting.Party) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.parties[p.ID] = p
}

// LedgerIDs lists every ledger id in ascending order.
func (s *Store) LedgerIDs(ctx context.Context) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedKeys(s.st.ledgers), nil
}

// ItemIDs lists every item id in ascending order.
func (s *Store) ItemIDs(ctx context.Context) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedKeys(s.st.items), nil
}

func sortedKeys[V any](m map[int64]V) []int64 {
	ids := make([]int64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
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

// tx implements every port against one working copy.
type tx struct {
	st *state
}

func (t *tx) Ledgers() ledger.Store       { return t }
func (t *tx) Journal() journal.Store      { return t }
func (t *tx) Stock() inventory.Store      { return t }
func (t *tx) Sequences() sequence.Store   { return t }
func (t *tx) Events() posting.EventStore  { return t }
func (t *tx) Parties() posting.PartyStore { return t }
