package posting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/odyssey-erp/bookkeeper/internal/inventory"
	"github.com/odyssey-erp/bookkeeper/internal/journal"
	"github.com/odyssey-erp/bookkeeper/internal/ledger"
	"github.com/odyssey-erp/bookkeeper/internal/reversal"
	"github.com/odyssey-erp/bookkeeper/internal/sequence"
	"github.com/odyssey-erp/bookkeeper/internal/shared"
)

// ErrDuplicateIdempotencyKey is returned by an EventStore when a concurrent
// transaction committed the same idempotency key first.
var ErrDuplicateIdempotencyKey = errors.New("posting: idempotency key already used")

// Coordinator posts, edits and deletes business events. Every operation is a
// single unit of work: references are resolved, checks run, the number is
// reserved, then stock, journal and balances are written in that order.
type Coordinator struct {
	uow      UnitOfWork
	alloc    *sequence.Allocator
	reversal *reversal.Engine
	cfg      Config
	balances BalanceInvalidator
	observer Observer
	logger   *slog.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

// Option customises a Coordinator.
type Option func(*Coordinator)

// WithBalanceInvalidator drops cached balances of touched ledgers after commit.
func WithBalanceInvalidator(b BalanceInvalidator) Option {
	return func(c *Coordinator) { c.balances = b }
}

// WithObserver records posting outcomes.
func WithObserver(o Observer) Option {
	return func(c *Coordinator) {
		if o != nil {
			c.observer = o
		}
	}
}

// WithClock overrides the clock used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCoordinator wires a Coordinator.
func NewCoordinator(uow UnitOfWork, alloc *sequence.Allocator, cfg Config, logger *slog.Logger, opts ...Option) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Coordinator{
		uow:      uow,
		alloc:    alloc,
		cfg:      cfg,
		observer: nopObserver{},
		logger:   logger,
		tracer:   otel.Tracer("github.com/odyssey-erp/bookkeeper/internal/posting"),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(c)
	}
	c.reversal = reversal.NewEngine(c.now)
	return c
}

// Post validates and posts a new event. A repeated idempotency key returns
// the stored posting without writing anything.
func (c *Coordinator) Post(ctx context.Context, e Event) (Posted, error) {
	ctx, span := c.tracer.Start(ctx, "posting.Post", trace.WithAttributes(attribute.String("event.kind", string(e.Kind))))
	defer span.End()

	if e.CreatedBy == "" {
		e.CreatedBy = shared.ActorFromContext(ctx)
	}
	if err := e.Validate(); err != nil {
		return Posted{}, c.fail(span, e.Kind, err)
	}

	out, touched, err := c.post(ctx, e)
	if errors.Is(err, ErrDuplicateIdempotencyKey) && e.IdempotencyKey != "" {
		out, touched, err = c.post(ctx, e)
	}
	if err != nil {
		return Posted{}, c.fail(span, e.Kind, err)
	}

	outcome := "posted"
	switch {
	case out.Replayed:
		outcome = "replayed"
	case out.Event.Status == StatusDraft:
		outcome = "draft"
	}
	c.committed(ctx, e.Kind, outcome, touched)
	span.SetAttributes(attribute.String("event.id", out.Event.ID.String()), attribute.String("event.number", out.Number))
	c.logger.Info("event "+outcome,
		slog.String("event_id", out.Event.ID.String()),
		slog.String("kind", string(out.Event.Kind)),
		slog.String("number", out.Number),
		slog.String("actor", out.Event.CreatedBy))
	return out, nil
}

func (c *Coordinator) post(ctx context.Context, e Event) (Posted, []int64, error) {
	var (
		out     Posted
		touched []int64
	)
	err := c.uow.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		if e.IdempotencyKey != "" {
			prior, ok, err := tx.Events().FindByIdempotencyKey(ctx, e.IdempotencyKey)
			if err != nil {
				return fmt.Errorf("posting: idempotency lookup: %w", err)
			}
			if ok {
				out, err = load(ctx, tx, prior)
				out.Replayed = true
				return err
			}
		}

		ev := e
		if ev.ID == uuid.Nil {
			ev.ID = uuid.New()
		}
		now := c.now()
		ev.CreatedAt, ev.UpdatedAt = now, now

		if ev.Status == StatusDraft {
			ev.Number = ""
			ev.Totals = ComputeTotals(ev)
			out = Posted{Event: ev}
			return tx.Events().InsertEvent(ctx, ev)
		}
		posted, ids, err := c.apply(ctx, tx, ev, "")
		if err != nil {
			return err
		}
		if err := tx.Events().InsertEvent(ctx, posted.Event); err != nil {
			return fmt.Errorf("posting: insert event: %w", err)
		}
		out, touched = posted, ids
		return nil
	})
	return out, touched, err
}

// Update replaces a posted event: the old effects are reversed and the new
// data is posted under the same id and number, all in one transaction.
// Stock the old version brought in is taken back only after the new
// movements are written, so the edit is checked against its final stock.
// Drafts are saved or posted in place.
func (c *Coordinator) Update(ctx context.Context, id uuid.UUID, e Event) (Posted, error) {
	ctx, span := c.tracer.Start(ctx, "posting.Update", trace.WithAttributes(
		attribute.String("event.id", id.String()), attribute.String("event.kind", string(e.Kind))))
	defer span.End()

	if e.CreatedBy == "" {
		e.CreatedBy = shared.ActorFromContext(ctx)
	}
	if err := e.Validate(); err != nil {
		return Posted{}, c.fail(span, e.Kind, err)
	}
	target := e.Status
	if target == "" {
		target = StatusPosted
	}

	var (
		out     Posted
		touched []int64
	)
	err := c.uow.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		cur, err := tx.Events().LockEvent(ctx, id)
		if err != nil {
			return err
		}
		if cur.Kind != e.Kind {
			return shared.Invalid("kind", "cannot change %s into %s", cur.Kind, e.Kind)
		}
		ev := e
		ev.ID = cur.ID
		ev.CreatedAt = cur.CreatedAt
		ev.UpdatedAt = c.now()
		ev.IdempotencyKey = cur.IdempotencyKey

		number := ""
		var held *reversal.Pending
		switch cur.Status {
		case StatusDraft:
			if err := ValidateTransition(StatusDraft, target); err != nil {
				return err
			}
			if target == StatusDraft {
				ev.Status, ev.Number = StatusDraft, ""
				ev.Totals = ComputeTotals(ev)
				out = Posted{Event: ev}
				return tx.Events().UpdateEvent(ctx, ev)
			}
		case StatusPosted:
			if err := ValidateTransition(StatusPosted, StatusReversed); err != nil {
				return err
			}
			if err := ValidateTransition(StatusReversed, target); err != nil {
				return err
			}
			if err := guardLinkedReturns(ctx, tx, cur); err != nil {
				return err
			}
			if err := lockEditedItems(ctx, tx.Stock(), cur, ev); err != nil {
				return err
			}
			rev, pending, err := c.reversal.ReverseForReplace(ctx, tx, cur.Ref())
			if err != nil {
				return err
			}
			touched = rev.LedgerIDs()
			number = cur.Number
			held = pending
		default:
			return shared.Invalid("status", "event %s is %s and cannot be edited", cur.ID, cur.Status)
		}

		posted, ids, err := c.apply(ctx, tx, ev, number)
		if err != nil {
			return err
		}
		if _, err := held.Apply(ctx, tx.Stock()); err != nil {
			return err
		}
		if err := tx.Events().UpdateEvent(ctx, posted.Event); err != nil {
			return fmt.Errorf("posting: update event: %w", err)
		}
		out = posted
		touched = append(touched, ids...)
		return nil
	})
	if err != nil {
		return Posted{}, c.fail(span, e.Kind, err)
	}
	c.committed(ctx, e.Kind, "updated", touched)
	c.logger.Info("event updated",
		slog.String("event_id", id.String()),
		slog.String("kind", string(e.Kind)),
		slog.String("number", out.Number),
		slog.String("actor", e.CreatedBy))
	return out, nil
}

// Delete reverses a posted event and removes it. Its document number stays
// reserved.
func (c *Coordinator) Delete(ctx context.Context, id uuid.UUID) error {
	ctx, span := c.tracer.Start(ctx, "posting.Delete", trace.WithAttributes(attribute.String("event.id", id.String())))
	defer span.End()

	var (
		kind    Kind
		touched []int64
	)
	err := c.uow.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		cur, err := tx.Events().LockEvent(ctx, id)
		if err != nil {
			return err
		}
		kind = cur.Kind
		if cur.Status == StatusPosted {
			if err := guardLinkedReturns(ctx, tx, cur); err != nil {
				return err
			}
			rev, err := c.reversal.Reverse(ctx, tx, cur.Ref())
			if err != nil {
				return err
			}
			touched = rev.LedgerIDs()
		}
		if err := tx.Events().DeleteEvent(ctx, id); err != nil {
			return fmt.Errorf("posting: delete event: %w", err)
		}
		return nil
	})
	if err != nil {
		return c.fail(span, kind, err)
	}
	c.committed(ctx, kind, "deleted", touched)
	c.logger.Info("event deleted",
		slog.String("event_id", id.String()),
		slog.String("kind", string(kind)),
		slog.String("actor", shared.ActorFromContext(ctx)))
	return nil
}

// Get returns the event with its active entries and movements.
func (c *Coordinator) Get(ctx context.Context, id uuid.UUID) (Posted, error) {
	var out Posted
	err := c.uow.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		ev, err := tx.Events().GetEvent(ctx, id)
		if err != nil {
			return err
		}
		out, err = load(ctx, tx, ev)
		return err
	})
	return out, err
}

// PreviewNumber returns the number the next event of kind would receive in
// period (YYMM, defaulting to the current month). Nothing is reserved.
func (c *Coordinator) PreviewNumber(ctx context.Context, kind Kind, period string) (string, error) {
	if !kind.Valid() {
		return "", shared.Invalid("doc_type", "unknown event kind %q", kind)
	}
	if period == "" {
		period = sequence.Period(c.now())
	}
	var number string
	err := c.uow.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		number, err = c.alloc.Peek(ctx, tx.Sequences(), kind.DocType(), period)
		return err
	})
	return number, err
}

// apply performs every write of a posting inside tx. number is empty for a
// first posting and carries the existing number on re-post.
func (c *Coordinator) apply(ctx context.Context, tx Tx, e Event, number string) (Posted, []int64, error) {
	now := c.now()
	t := ComputeTotals(e)

	refs, err := c.resolve(ctx, tx, e, t)
	if err != nil {
		return Posted{}, nil, err
	}
	if e.Kind == KindSaleReturn || e.Kind == KindPurchaseReturn {
		if err := checkReturnable(ctx, tx, e); err != nil {
			return Posted{}, nil, err
		}
	}
	if err := checkStock(ctx, tx, e); err != nil {
		return Posted{}, nil, err
	}
	if err := checkCreditLimit(e, t, refs); err != nil {
		return Posted{}, nil, err
	}

	if number == "" {
		number, err = c.alloc.Next(ctx, tx.Sequences(), e.Kind.DocType(), sequence.Period(e.Date))
		if err != nil {
			return Posted{}, nil, err
		}
	}
	narration := Narration(e, number)

	movements, err := moveStock(ctx, tx.Stock(), e, narration, now)
	if err != nil {
		return Posted{}, nil, err
	}

	entries, err := journal.Build(e.Ref(), e.Date, e.CreatedBy, Plan(e, t, refs.accounts, narration), now)
	if err != nil {
		return Posted{}, nil, err
	}
	if err := recheckCreditLimit(ctx, tx, e, t, refs, entries); err != nil {
		return Posted{}, nil, err
	}
	entries, err = tx.Journal().InsertEntries(ctx, entries)
	if err != nil {
		return Posted{}, nil, fmt.Errorf("posting: insert entries: %w", err)
	}
	balances, err := ledger.ApplyEntries(ctx, tx.Ledgers(), journal.Postings(entries))
	if err != nil {
		return Posted{}, nil, err
	}

	e.Number = number
	e.Status = StatusPosted
	e.Totals = t
	touched := make([]int64, 0, len(balances))
	for id := range balances {
		touched = append(touched, id)
	}
	return Posted{Event: e, Number: number, Entries: entries, Movements: movements}, touched, nil
}

func moveStock(ctx context.Context, stock inventory.Store, e Event, notes string, now time.Time) ([]inventory.Movement, error) {
	demand := e.StockDemand()
	ids := make([]int64, 0, len(demand))
	for id := range demand {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	movements := make([]inventory.Movement, 0, len(ids))
	for _, id := range ids {
		m, err := inventory.Move(ctx, stock, inventory.MoveInput{
			ItemID: id,
			Qty:    demand[id],
			Ref:    e.Ref(),
			Date:   e.Date,
			Notes:  notes,
		}, now)
		if err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	return movements, nil
}

// lockEditedItems locks every item the old and new versions of an event
// move, in ascending id order, so the edit never takes an item lock after a
// higher one.
func lockEditedItems(ctx context.Context, stock inventory.Store, old, next Event) error {
	seen := make(map[int64]struct{})
	var ids []int64
	for _, demand := range []map[int64]decimal.Decimal{old.StockDemand(), next.StockDemand()} {
		for id := range demand {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				ids = append(ids, id)
			}
		}
	}
	if len(ids) == 0 {
		return nil
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	_, err := stock.LockItems(ctx, ids)
	return err
}

func guardLinkedReturns(ctx context.Context, tx Tx, e Event) error {
	if e.Kind != KindSale && e.Kind != KindPurchase {
		return nil
	}
	linked, err := tx.Events().ListLinked(ctx, e.ID)
	if err != nil {
		return fmt.Errorf("posting: list returns: %w", err)
	}
	for _, l := range linked {
		if l.Status == StatusPosted {
			return shared.Invalid("id", "%s %s has posted returns (%s)", e.Kind, e.Number, l.Number)
		}
	}
	return nil
}

func load(ctx context.Context, tx Tx, e Event) (Posted, error) {
	entries, err := tx.Journal().ListEntries(ctx, e.Ref())
	if err != nil {
		return Posted{}, fmt.Errorf("posting: list entries: %w", err)
	}
	movements, err := tx.Stock().ListMovements(ctx, e.Ref())
	if err != nil {
		return Posted{}, fmt.Errorf("posting: list movements: %w", err)
	}
	return Posted{Event: e, Number: e.Number, Entries: entries, Movements: movements}, nil
}

func (c *Coordinator) committed(ctx context.Context, kind Kind, outcome string, ledgerIDs []int64) {
	if c.balances != nil && len(ledgerIDs) > 0 {
		c.balances.Invalidate(ctx, ledgerIDs...)
	}
	c.observer.EventPosted(string(kind), outcome)
}

func (c *Coordinator) fail(span trace.Span, kind Kind, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	label := string(kind)
	if !kind.Valid() {
		label = "unknown"
	}
	c.observer.EventPosted(label, "rejected")
	return err
}
