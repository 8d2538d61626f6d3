package posting

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/bookkeeper/internal/reversal"
	"github.com/odyssey-erp/bookkeeper/internal/sequence"
)

// PartyKind distinguishes customers from suppliers.
type PartyKind string

const (
	PartyCustomer PartyKind = "customer"
	PartySupplier PartyKind = "supplier"
)

// Party is the coordinator's view of a customer or supplier.
type Party struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Kind        PartyKind       `json:"kind"`
	CreditLimit decimal.Decimal `json:"credit_limit"`
}

// PartyStore resolves parties owned by another module.
type PartyStore interface {
	GetParty(ctx context.Context, id int64) (Party, error)
}

// EventStore persists business events.
type EventStore interface {
	InsertEvent(ctx context.Context, e Event) error
	UpdateEvent(ctx context.Context, e Event) error
	GetEvent(ctx context.Context, id uuid.UUID) (Event, error)
	// LockEvent reads the event under a row lock.
	LockEvent(ctx context.Context, id uuid.UUID) (Event, error)
	DeleteEvent(ctx context.Context, id uuid.UUID) error
	FindByIdempotencyKey(ctx context.Context, key string) (Event, bool, error)
	// ListLinked returns the posted events whose LinkedID is id.
	ListLinked(ctx context.Context, id uuid.UUID) ([]Event, error)
}

// Tx is one unit of work spanning every store the coordinator writes.
type Tx interface {
	reversal.Stores
	Sequences() sequence.Store
	Events() EventStore
	Parties() PartyStore
}

// UnitOfWork runs fn inside a single atomic transaction. An error from fn
// rolls every write back.
type UnitOfWork interface {
	WithTx(ctx context.Context, fn func(context.Context, Tx) error) error
}

// Observer receives posting outcomes.
type Observer interface {
	EventPosted(kind, outcome string)
}

// BalanceInvalidator drops cached balances after commit.
type BalanceInvalidator interface {
	Invalidate(ctx context.Context, ids ...int64)
}

type nopObserver struct{}

func (nopObserver) EventPosted(string, string) {}
