package posting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/bookkeeper/internal/inventory"
	"github.com/odyssey-erp/bookkeeper/internal/journal"
	"github.com/odyssey-erp/bookkeeper/internal/ledger"
	"github.com/odyssey-erp/bookkeeper/internal/shared"
)

// SystemLedgers names the ledgers trade events post against.
type SystemLedgers struct {
	Sales          string
	Purchase       string
	SalesReturn    string
	PurchaseReturn string
	Cash           string
}

// Config tunes reference resolution.
type Config struct {
	Ledgers SystemLedgers
	// AutoProvisionLedgers creates missing system and party ledgers inside
	// the posting transaction instead of failing with NotFound.
	AutoProvisionLedgers bool
}

// DefaultConfig returns the stock ledger names with provisioning off.
func DefaultConfig() Config {
	return Config{Ledgers: SystemLedgers{
		Sales:          "Sales",
		Purchase:       "Purchase",
		SalesReturn:    "Sales Return",
		PurchaseReturn: "Purchase Return",
		Cash:           "Cash",
	}}
}

type references struct {
	party       *Party
	partyLedger ledger.Ledger
	items       map[int64]inventory.Item
	accounts    Accounts
}

func (c *Coordinator) resolve(ctx context.Context, tx Tx, e Event, t Totals) (references, error) {
	var refs references
	ledgers := tx.Ledgers()

	if e.PartyID != nil {
		party, err := tx.Parties().GetParty(ctx, *e.PartyID)
		if err != nil {
			return refs, err
		}
		if want, ok := partyKindFor(e.Kind); ok && party.Kind != want {
			return refs, shared.Invalid("party_id", "party %d is a %s, %s needs a %s", party.ID, party.Kind, e.Kind, want)
		}
		pl, err := c.partyLedger(ctx, ledgers, party)
		if err != nil {
			return refs, err
		}
		refs.party = &party
		refs.partyLedger = pl
		refs.accounts.Party = pl.ID
	}

	if e.Kind.Trade() {
		ids := make([]int64, 0, len(e.Lines))
		for id := range e.Quantities() {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		refs.items = make(map[int64]inventory.Item, len(ids))
		for _, id := range ids {
			item, err := tx.Stock().GetItem(ctx, id)
			if err != nil {
				return refs, err
			}
			refs.items[id] = item
		}
	}

	var err error
	switch e.Kind {
	case KindSale:
		refs.accounts.Sales, err = c.systemLedger(ctx, ledgers, c.cfg.Ledgers.Sales, ledger.TypeSales, ledger.SideCredit)
	case KindPurchase:
		refs.accounts.Purchase, err = c.systemLedger(ctx, ledgers, c.cfg.Ledgers.Purchase, ledger.TypePurchase, ledger.SideDebit)
	case KindSaleReturn:
		refs.accounts.SalesReturn, err = c.systemLedger(ctx, ledgers, c.cfg.Ledgers.SalesReturn, ledger.TypeReturn, ledger.SideDebit)
	case KindPurchaseReturn:
		refs.accounts.PurchaseReturn, err = c.systemLedger(ctx, ledgers, c.cfg.Ledgers.PurchaseReturn, ledger.TypeReturn, ledger.SideCredit)
	case KindCashReceipt, KindCashPayment:
		refs.accounts.Cash, err = c.cashLedger(ctx, ledgers)
		if err == nil {
			refs.accounts.Counter, err = c.counterLedger(ctx, ledgers, e, refs.accounts.Party)
		}
	case KindBankDeposit, KindBankWithdrawal:
		refs.accounts.Bank, err = bankLedger(ctx, ledgers, *e.BankLedgerID, "bank_ledger_id")
		if err == nil {
			refs.accounts.Counter, err = c.counterLedger(ctx, ledgers, e, refs.accounts.Party)
		}
	case KindBankTransfer:
		refs.accounts.Bank, err = bankLedger(ctx, ledgers, *e.BankLedgerID, "bank_ledger_id")
		if err == nil {
			refs.accounts.ToBank, err = bankLedger(ctx, ledgers, *e.ToBankLedgerID, "to_bank_ledger_id")
		}
	}
	if err != nil {
		return refs, err
	}

	if e.Kind.Trade() && t.PaidAmount.IsPositive() {
		if e.BankLedgerID != nil {
			refs.accounts.Settlement, err = bankLedger(ctx, ledgers, *e.BankLedgerID, "bank_ledger_id")
		} else {
			refs.accounts.Settlement, err = c.cashLedger(ctx, ledgers)
		}
		if err != nil {
			return refs, err
		}
	}
	return refs, nil
}

func partyKindFor(k Kind) (PartyKind, bool) {
	switch k {
	case KindSale, KindSaleReturn:
		return PartyCustomer, true
	case KindPurchase, KindPurchaseReturn:
		return PartySupplier, true
	}
	return "", false
}

func ledgerTypeFor(k PartyKind) ledger.Type {
	if k == PartySupplier {
		return ledger.TypeSupplier
	}
	return ledger.TypeCustomer
}

func (c *Coordinator) partyLedger(ctx context.Context, store ledger.Store, party Party) (ledger.Ledger, error) {
	typ := ledgerTypeFor(party.Kind)
	l, err := store.FindByRef(ctx, typ, party.ID)
	if err == nil || !errors.Is(err, shared.ErrNotFound) || !c.cfg.AutoProvisionLedgers {
		return l, err
	}
	refID := party.ID
	return c.provision(ctx, store, ledger.NewLedger{
		Name:  fmt.Sprintf("%s (%s #%d)", party.Name, party.Kind, party.ID),
		Type:  typ,
		RefID: &refID,
	})
}

func (c *Coordinator) systemLedger(ctx context.Context, store ledger.Store, name string, typ ledger.Type, side ledger.BalanceSide) (int64, error) {
	l, err := store.FindByName(ctx, name)
	if err == nil {
		return l.ID, nil
	}
	if !errors.Is(err, shared.ErrNotFound) || !c.cfg.AutoProvisionLedgers {
		return 0, err
	}
	l, err = c.provision(ctx, store, ledger.NewLedger{Name: name, Type: typ, BalanceSide: side})
	return l.ID, err
}

func (c *Coordinator) cashLedger(ctx context.Context, store ledger.Store) (int64, error) {
	return c.systemLedger(ctx, store, c.cfg.Ledgers.Cash, ledger.TypeCash, ledger.SideDebit)
}

// counterLedger is the other side of a money event: the party ledger, an
// explicit ledger, or Cash for bank deposits and withdrawals.
func (c *Coordinator) counterLedger(ctx context.Context, store ledger.Store, e Event, partyLedger int64) (int64, error) {
	switch {
	case partyLedger != 0:
		return partyLedger, nil
	case e.CounterLedgerID != nil:
		l, err := store.GetLedger(ctx, *e.CounterLedgerID)
		if err != nil {
			return 0, err
		}
		if e.BankLedgerID != nil && l.ID == *e.BankLedgerID {
			return 0, shared.Invalid("counter_ledger_id", "must differ from bank_ledger_id")
		}
		return l.ID, nil
	default:
		return c.cashLedger(ctx, store)
	}
}

func bankLedger(ctx context.Context, store ledger.Store, id int64, field string) (int64, error) {
	l, err := store.GetLedger(ctx, id)
	if err != nil {
		return 0, err
	}
	if l.Type != ledger.TypeBank {
		return 0, shared.Invalid(field, "ledger %d is %s, not bank", id, l.Type)
	}
	return l.ID, nil
}

func (c *Coordinator) provision(ctx context.Context, store ledger.Store, in ledger.NewLedger) (ledger.Ledger, error) {
	row, err := in.Build(c.now())
	if err != nil {
		return ledger.Ledger{}, err
	}
	l, err := store.CreateLedger(ctx, row)
	if err != nil {
		return ledger.Ledger{}, fmt.Errorf("posting: provision ledger %q: %w", in.Name, err)
	}
	c.logger.Info("ledger provisioned",
		slog.Int64("ledger_id", l.ID), slog.String("name", l.Name), slog.String("type", string(l.Type)))
	return l, nil
}

// checkStock fails before any write when outgoing lines exceed stock on hand.
func checkStock(ctx context.Context, tx Tx, e Event) error {
	demand := e.StockDemand()
	outgoing := make(map[int64]decimal.Decimal, len(demand))
	for id, qty := range demand {
		if qty.IsNegative() {
			outgoing[id] = qty.Neg()
		}
	}
	if len(outgoing) == 0 {
		return nil
	}
	return inventory.CheckAvailable(ctx, tx.Stock(), outgoing)
}

// checkReturnable caps a linked return at what the original event moved
// minus what other posted returns already took back.
func checkReturnable(ctx context.Context, tx Tx, e Event) error {
	if e.LinkedID == nil {
		return nil
	}
	want := KindSale
	if e.Kind == KindPurchaseReturn {
		want = KindPurchase
	}
	// the lock serializes returns against one original and blocks its
	// deletion until this posting commits
	original, err := tx.Events().LockEvent(ctx, *e.LinkedID)
	if err != nil {
		return err
	}
	if original.Kind != want {
		return shared.Invalid("linked_id", "%s must link a %s, got %s", e.Kind, want, original.Kind)
	}
	if original.Status != StatusPosted {
		return shared.Invalid("linked_id", "linked %s is %s", original.Kind, original.Status)
	}
	if original.PartyID == nil || e.PartyID == nil || *original.PartyID != *e.PartyID {
		return shared.Invalid("party_id", "return party differs from the linked %s", original.Kind)
	}

	returnable := original.Quantities()
	siblings, err := tx.Events().ListLinked(ctx, original.ID)
	if err != nil {
		return fmt.Errorf("posting: list returns: %w", err)
	}
	for _, s := range siblings {
		if s.ID == e.ID || s.Kind != e.Kind || s.Status != StatusPosted {
			continue
		}
		for id, qty := range s.Quantities() {
			returnable[id] = returnable[id].Sub(qty)
		}
	}

	requested := e.Quantities()
	ids := make([]int64, 0, len(requested))
	for id := range requested {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		available := decimal.Max(returnable[id], decimal.Zero)
		if requested[id].GreaterThan(available) {
			return &shared.InsufficientStockError{ItemID: id, Available: available, Requested: requested[id]}
		}
	}
	return nil
}

func checkCreditLimit(e Event, t Totals, refs references) error {
	return creditLimit(e, t, refs, refs.partyLedger.CurrentBalance)
}

// recheckCreditLimit repeats the credit check under the row locks of every
// ledger the posting touches, taken in ascending id order before the
// balances are applied.
func recheckCreditLimit(ctx context.Context, tx Tx, e Event, t Totals, refs references, entries []journal.Entry) error {
	if !creditChecked(e, t, refs) {
		return nil
	}
	seen := make(map[int64]struct{}, len(entries))
	ids := make([]int64, 0, len(entries))
	for _, en := range entries {
		if _, ok := seen[en.LedgerID]; !ok {
			seen[en.LedgerID] = struct{}{}
			ids = append(ids, en.LedgerID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	locked, err := tx.Ledgers().LockLedgers(ctx, ids)
	if err != nil {
		return err
	}
	l, ok := locked[refs.partyLedger.ID]
	if !ok {
		return nil
	}
	return creditLimit(e, t, refs, l.CurrentBalance)
}

func creditChecked(e Event, t Totals, refs references) bool {
	return e.Kind == KindSale && refs.party != nil &&
		refs.party.CreditLimit.IsPositive() && t.BalanceAmount.IsPositive()
}

func creditLimit(e Event, t Totals, refs references, balance decimal.Decimal) error {
	if !creditChecked(e, t, refs) {
		return nil
	}
	limit := refs.party.CreditLimit
	exposure := balance.Add(t.BalanceAmount)
	if exposure.GreaterThan(limit) {
		return &shared.CreditLimitError{PartyID: refs.party.ID, Limit: limit, Exposure: exposure}
	}
	return nil
}
