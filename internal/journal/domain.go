package journal

import (
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/bookkeeper/internal/ledger"
	"github.com/odyssey-erp/bookkeeper/internal/shared"
)

// RefType names the kind of business event an entry points back to.
type RefType string

const (
	RefSale           RefType = "sale"
	RefSaleReturn     RefType = "sale_return"
	RefPurchase       RefType = "purchase"
	RefPurchaseReturn RefType = "purchase_return"
	RefCashReceipt    RefType = "cash_receipt"
	RefCashPayment    RefType = "cash_payment"
	RefBankDeposit    RefType = "bank_deposit"
	RefBankWithdrawal RefType = "bank_withdrawal"
	RefBankTransfer   RefType = "bank_transfer"
	RefJournal        RefType = "journal"
	// RefAdjustment tags stock movements that do not stem from a business
	// event, such as opening stock.
	RefAdjustment RefType = "adjustment"
)

// MaxNarration bounds the stored narration length in characters.
const MaxNarration = 200

// Ref identifies the originating business event. It is a back-reference,
// never an ownership link.
type Ref struct {
	Type RefType
	ID   uuid.UUID
}

// Line is one side of a posting before it is persisted.
type Line struct {
	LedgerID  int64
	Debit     decimal.Decimal
	Credit    decimal.Decimal
	Narration string
}

// Entry is an immutable journal row.
type Entry struct {
	ID        int64           `json:"id"`
	LedgerID  int64           `json:"ledger_id"`
	Date      time.Time       `json:"date"`
	Debit     decimal.Decimal `json:"debit"`
	Credit    decimal.Decimal `json:"credit"`
	Narration string          `json:"narration"`
	RefType   RefType         `json:"ref_type"`
	RefID     uuid.UUID       `json:"ref_id"`
	CreatedBy string          `json:"created_by"`
	CreatedAt time.Time       `json:"created_at"`
}

// Ref returns the back-reference of the entry.
func (e Entry) Ref() Ref { return Ref{Type: e.RefType, ID: e.RefID} }

// Posting converts a persisted entry into its balance effect.
func (e Entry) Posting() ledger.Posting {
	return ledger.Posting{EntryID: e.ID, LedgerID: e.LedgerID, Debit: e.Debit, Credit: e.Credit}
}

// Postings converts persisted entries into balance effects.
func Postings(entries []Entry) []ledger.Posting {
	out := make([]ledger.Posting, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Posting())
	}
	return out
}

// Inverse returns the postings that undo the entries.
func Inverse(entries []Entry) []ledger.Posting {
	out := make([]ledger.Posting, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Posting().Inverse())
	}
	return out
}

// Totals sums the debit and credit columns.
func Totals(entries []Entry) (debit, credit decimal.Decimal) {
	for _, e := range entries {
		debit = debit.Add(e.Debit)
		credit = credit.Add(e.Credit)
	}
	return debit, credit
}

// Build turns lines into journal rows for one event. Zero lines are dropped;
// the remainder must be single-sided and balance exactly.
func Build(ref Ref, date time.Time, createdBy string, lines []Line, now time.Time) ([]Entry, error) {
	if ref.ID == uuid.Nil || ref.Type == "" {
		return nil, shared.Inconsistent("entry_ref", "entries need a source reference")
	}
	entries := make([]Entry, 0, len(lines))
	var debit, credit decimal.Decimal
	for idx, line := range lines {
		if line.Debit.IsZero() && line.Credit.IsZero() {
			continue
		}
		if line.LedgerID == 0 {
			return nil, shared.Inconsistent("entry_ledger", "line %d missing ledger", idx)
		}
		if line.Debit.IsNegative() || line.Credit.IsNegative() {
			return nil, shared.Inconsistent("entry_sign", "line %d negative amount", idx)
		}
		if line.Debit.IsPositive() && line.Credit.IsPositive() {
			return nil, shared.Inconsistent("entry_sign", "line %d cannot be both debit and credit", idx)
		}
		debit = debit.Add(line.Debit)
		credit = credit.Add(line.Credit)
		entries = append(entries, Entry{
			LedgerID:  line.LedgerID,
			Date:      date,
			Debit:     line.Debit,
			Credit:    line.Credit,
			Narration: truncate(line.Narration, MaxNarration),
			RefType:   ref.Type,
			RefID:     ref.ID,
			CreatedBy: createdBy,
			CreatedAt: now,
		})
	}
	if len(entries) < 2 {
		return nil, shared.Inconsistent("event_balanced", "event %s posts %d lines", ref.ID, len(entries))
	}
	if !debit.Equal(credit) {
		return nil, shared.Inconsistent("event_balanced", "event %s debit %s != credit %s", ref.ID, debit, credit)
	}
	return entries, nil
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}
