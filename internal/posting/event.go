package posting

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/bookkeeper/internal/inventory"
	"github.com/odyssey-erp/bookkeeper/internal/journal"
	"github.com/odyssey-erp/bookkeeper/internal/shared"
)

// Kind enumerates the business events the coordinator can post.
type Kind string

const (
	KindSale           Kind = "sale"
	KindPurchase       Kind = "purchase"
	KindSaleReturn     Kind = "sale_return"
	KindPurchaseReturn Kind = "purchase_return"
	KindCashReceipt    Kind = "cash_receipt"
	KindCashPayment    Kind = "cash_payment"
	KindBankDeposit    Kind = "bank_deposit"
	KindBankWithdrawal Kind = "bank_withdrawal"
	KindBankTransfer   Kind = "bank_transfer"
)

// Kinds lists every postable kind.
var Kinds = []Kind{
	KindSale, KindPurchase, KindSaleReturn, KindPurchaseReturn,
	KindCashReceipt, KindCashPayment, KindBankDeposit, KindBankWithdrawal, KindBankTransfer,
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Trade reports whether the kind carries item lines.
func (k Kind) Trade() bool {
	switch k {
	case KindSale, KindPurchase, KindSaleReturn, KindPurchaseReturn:
		return true
	}
	return false
}

// RefType is the journal back-reference type of the kind.
func (k Kind) RefType() journal.RefType { return journal.RefType(k) }

// DocType is the sequence document type of the kind.
func (k Kind) DocType() string { return string(k) }

// StockSign is +1 for goods coming in, -1 for goods going out and 0 for
// money-only events.
func (k Kind) StockSign() int {
	switch k {
	case KindPurchase, KindSaleReturn:
		return 1
	case KindSale, KindPurchaseReturn:
		return -1
	}
	return 0
}

// Label is the human name used in narrations.
func (k Kind) Label() string {
	switch k {
	case KindSale:
		return "Sale"
	case KindPurchase:
		return "Purchase"
	case KindSaleReturn:
		return "Sales Return"
	case KindPurchaseReturn:
		return "Purchase Return"
	case KindCashReceipt:
		return "Cash Receipt"
	case KindCashPayment:
		return "Cash Payment"
	case KindBankDeposit:
		return "Bank Deposit"
	case KindBankWithdrawal:
		return "Bank Withdrawal"
	case KindBankTransfer:
		return "Bank Transfer"
	}
	return string(k)
}

// Status tracks the event lifecycle.
type Status string

const (
	StatusDraft    Status = "draft"
	StatusPosted   Status = "posted"
	StatusReversed Status = "reversed"
)

// ValidateTransition enforces draft -> posted -> reversed -> posted. Drafts
// may be saved again as drafts.
func ValidateTransition(from, to Status) error {
	switch {
	case from == StatusDraft && (to == StatusDraft || to == StatusPosted):
		return nil
	case from == StatusPosted && to == StatusReversed:
		return nil
	case from == StatusReversed && to == StatusPosted:
		return nil
	}
	return shared.Invalid("status", "cannot move event from %s to %s", from, to)
}

// PaymentMode tells how a trade event is settled.
type PaymentMode string

const (
	PaymentCash   PaymentMode = "cash"
	PaymentBank   PaymentMode = "bank"
	PaymentCredit PaymentMode = "credit"
)

// PaymentStatus summarises how much of a trade event is settled.
type PaymentStatus string

const (
	PaymentPaid    PaymentStatus = "paid"
	PaymentPartial PaymentStatus = "partial"
	PaymentUnpaid  PaymentStatus = "unpaid"
)

// Line is one item line of a trade event.
type Line struct {
	ItemID   int64           `json:"item_id" validate:"gt=0"`
	Qty      decimal.Decimal `json:"qty" validate:"gt=0"`
	Price    decimal.Decimal `json:"price" validate:"gte=0"`
	Discount decimal.Decimal `json:"discount" validate:"gte=0"`
	TaxRate  decimal.Decimal `json:"tax_rate" validate:"gte=0,lte=100"`
}

// Charges are header-level adjustments of a trade event.
type Charges struct {
	Discount decimal.Decimal `json:"discount" validate:"gte=0"`
	Shipping decimal.Decimal `json:"shipping" validate:"gte=0"`
	Other    decimal.Decimal `json:"other" validate:"gte=0"`
	RoundOff decimal.Decimal `json:"round_off"`
}

// Totals are derived from the lines, charges and payment.
type Totals struct {
	SubTotal      decimal.Decimal `json:"sub_total"`
	DiscountTotal decimal.Decimal `json:"discount_total"`
	TaxTotal      decimal.Decimal `json:"tax_total"`
	GrandTotal    decimal.Decimal `json:"grand_total"`
	PaidAmount    decimal.Decimal `json:"paid_amount"`
	BalanceAmount decimal.Decimal `json:"balance_amount"`
	PaymentStatus PaymentStatus   `json:"payment_status"`
}

// Event is a business event: a trade document or a money movement.
type Event struct {
	ID              uuid.UUID       `json:"id"`
	Kind            Kind            `json:"kind" validate:"required"`
	Number          string          `json:"number"`
	Date            time.Time       `json:"date" validate:"required"`
	Status          Status          `json:"status" validate:"omitempty,oneof=draft posted"`
	PartyID         *int64          `json:"party_id,omitempty" validate:"omitempty,gt=0"`
	Lines           []Line          `json:"lines,omitempty" validate:"dive"`
	Charges         Charges         `json:"charges"`
	PaymentMode     PaymentMode     `json:"payment_mode,omitempty" validate:"omitempty,oneof=cash bank credit"`
	PaidAmount      decimal.Decimal `json:"paid_amount" validate:"gte=0"`
	BankLedgerID    *int64          `json:"bank_ledger_id,omitempty" validate:"omitempty,gt=0"`
	CounterLedgerID *int64          `json:"counter_ledger_id,omitempty" validate:"omitempty,gt=0"`
	ToBankLedgerID  *int64          `json:"to_bank_ledger_id,omitempty" validate:"omitempty,gt=0"`
	Amount          decimal.Decimal `json:"amount" validate:"gte=0"`
	LinkedID        *uuid.UUID      `json:"linked_id,omitempty"`
	Narration       string          `json:"narration,omitempty" validate:"max=200"`
	CreatedBy       string          `json:"created_by"`
	IdempotencyKey  string          `json:"idempotency_key,omitempty" validate:"max=128"`
	Totals          Totals          `json:"totals"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Ref is the journal back-reference of the event.
func (e Event) Ref() journal.Ref { return journal.Ref{Type: e.Kind.RefType(), ID: e.ID} }

// Posted is an event together with the rows it wrote.
type Posted struct {
	Event     Event                `json:"event"`
	Number    string               `json:"number"`
	Entries   []journal.Entry      `json:"entries"`
	Movements []inventory.Movement `json:"movements"`
	// Replayed is set when an idempotency key matched an earlier posting.
	Replayed bool `json:"replayed,omitempty"`
}

var hundred = decimal.NewFromInt(100)

// ComputeTotals derives the document totals. Money amounts are rounded to
// two places per line. Cash and bank settled trade events are fully paid.
func ComputeTotals(e Event) Totals {
	if !e.Kind.Trade() {
		return Totals{
			SubTotal:      e.Amount,
			GrandTotal:    e.Amount,
			PaidAmount:    e.Amount,
			PaymentStatus: PaymentPaid,
		}
	}
	var t Totals
	for _, l := range e.Lines {
		gross := l.Qty.Mul(l.Price).Round(2)
		t.SubTotal = t.SubTotal.Add(gross)
		t.DiscountTotal = t.DiscountTotal.Add(l.Discount)
		t.TaxTotal = t.TaxTotal.Add(gross.Sub(l.Discount).Mul(l.TaxRate).Div(hundred).Round(2))
	}
	t.DiscountTotal = t.DiscountTotal.Add(e.Charges.Discount)
	t.GrandTotal = t.SubTotal.
		Sub(t.DiscountTotal).
		Add(t.TaxTotal).
		Add(e.Charges.Shipping).
		Add(e.Charges.Other).
		Add(e.Charges.RoundOff)

	switch e.PaymentMode {
	case PaymentCash, PaymentBank:
		t.PaidAmount = t.GrandTotal
	default:
		t.PaidAmount = e.PaidAmount
	}
	t.BalanceAmount = t.GrandTotal.Sub(t.PaidAmount)
	switch {
	case t.BalanceAmount.IsZero():
		t.PaymentStatus = PaymentPaid
	case t.PaidAmount.IsPositive():
		t.PaymentStatus = PaymentPartial
	default:
		t.PaymentStatus = PaymentUnpaid
	}
	return t
}

// Validate checks the event shape before any lookup.
func (e Event) Validate() error {
	if err := shared.ValidateStruct(e); err != nil {
		return err
	}
	if !e.Kind.Valid() {
		return shared.Invalid("kind", "unknown event kind %q", e.Kind)
	}
	if e.Kind.Trade() {
		return e.validateTrade()
	}
	return e.validateMoney()
}

func (e Event) validateTrade() error {
	if e.PartyID == nil {
		return shared.Invalid("party_id", "required for %s", e.Kind)
	}
	if len(e.Lines) == 0 {
		return shared.Invalid("lines", "at least one line is required")
	}
	if e.PaymentMode == "" {
		return shared.Invalid("payment_mode", "required for %s", e.Kind)
	}
	if e.PaymentMode == PaymentBank && e.BankLedgerID == nil {
		return shared.Invalid("bank_ledger_id", "required for bank payment")
	}
	if e.ToBankLedgerID != nil || e.CounterLedgerID != nil || e.Amount.IsPositive() {
		return shared.Invalid("kind", "%s takes item lines, not a money amount", e.Kind)
	}
	switch e.Kind {
	case KindSaleReturn, KindPurchaseReturn:
	default:
		if e.LinkedID != nil {
			return shared.Invalid("linked_id", "only returns can be linked")
		}
	}
	for idx, l := range e.Lines {
		if l.Discount.GreaterThan(l.Qty.Mul(l.Price).Round(2)) {
			return shared.Invalid("lines", "line %d discount exceeds line amount", idx)
		}
	}
	t := ComputeTotals(e)
	if !t.GrandTotal.IsPositive() {
		return shared.Invalid("grand_total", "must be positive, got %s", t.GrandTotal)
	}
	if t.PaidAmount.GreaterThan(t.GrandTotal) {
		return shared.Invalid("paid_amount", "exceeds grand total %s", t.GrandTotal)
	}
	return nil
}

func (e Event) validateMoney() error {
	if len(e.Lines) > 0 || e.LinkedID != nil {
		return shared.Invalid("lines", "%s takes an amount, not item lines", e.Kind)
	}
	if !e.Amount.IsPositive() {
		return shared.Invalid("amount", "must be positive")
	}
	switch e.Kind {
	case KindCashReceipt, KindCashPayment:
		if (e.PartyID == nil) == (e.CounterLedgerID == nil) {
			return shared.Invalid("counter_ledger_id", "exactly one of party_id or counter_ledger_id is required")
		}
	case KindBankDeposit, KindBankWithdrawal:
		if e.BankLedgerID == nil {
			return shared.Invalid("bank_ledger_id", "required for %s", e.Kind)
		}
		if e.PartyID != nil && e.CounterLedgerID != nil {
			return shared.Invalid("counter_ledger_id", "party_id and counter_ledger_id are exclusive")
		}
	case KindBankTransfer:
		if e.BankLedgerID == nil || e.ToBankLedgerID == nil {
			return shared.Invalid("to_bank_ledger_id", "transfer needs both bank ledgers")
		}
		if *e.BankLedgerID == *e.ToBankLedgerID {
			return shared.Invalid("to_bank_ledger_id", "must differ from bank_ledger_id")
		}
		if e.PartyID != nil || e.CounterLedgerID != nil {
			return shared.Invalid("party_id", "transfers have no counter party")
		}
	}
	return nil
}

// StockDemand aggregates the signed quantity change per item.
func (e Event) StockDemand() map[int64]decimal.Decimal {
	sign := e.Kind.StockSign()
	if sign == 0 {
		return nil
	}
	out := make(map[int64]decimal.Decimal, len(e.Lines))
	for _, l := range e.Lines {
		qty := l.Qty
		if sign < 0 {
			qty = qty.Neg()
		}
		out[l.ItemID] = out[l.ItemID].Add(qty)
	}
	return out
}

// Quantities sums the line quantities per item.
func (e Event) Quantities() map[int64]decimal.Decimal {
	out := make(map[int64]decimal.Decimal, len(e.Lines))
	for _, l := range e.Lines {
		out[l.ItemID] = out[l.ItemID].Add(l.Qty)
	}
	return out
}
