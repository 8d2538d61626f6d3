package posting

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/bookkeeper/internal/journal"
)

// Accounts are the resolved ledger ids an event posts to. Only the fields
// relevant to the event kind are set.
type Accounts struct {
	// Party is the customer or supplier ledger.
	Party int64
	// Settlement receives or pays the settled part of a trade event.
	Settlement int64

	Sales          int64
	Purchase       int64
	SalesReturn    int64
	PurchaseReturn int64
	Cash           int64

	Bank    int64
	ToBank  int64
	Counter int64
}

// Narration is the default entry narration of an event.
func Narration(e Event, number string) string {
	if e.Narration != "" {
		return e.Narration
	}
	if number == "" {
		return e.Kind.Label()
	}
	return fmt.Sprintf("%s #%s", e.Kind.Label(), number)
}

// Plan computes the journal lines of an event. It never touches storage and
// every plan balances: trade events split the grand total between the party
// (unpaid balance) and the settlement ledger (paid part).
func Plan(e Event, t Totals, acc Accounts, narration string) []journal.Line {
	var lines []journal.Line
	dr := func(ledgerID int64, v decimal.Decimal) {
		lines = append(lines, journal.Line{LedgerID: ledgerID, Debit: v, Narration: narration})
	}
	cr := func(ledgerID int64, v decimal.Decimal) {
		lines = append(lines, journal.Line{LedgerID: ledgerID, Credit: v, Narration: narration})
	}

	switch e.Kind {
	case KindPurchase:
		dr(acc.Purchase, t.GrandTotal)
		cr(acc.Party, t.BalanceAmount)
		cr(acc.Settlement, t.PaidAmount)
	case KindSale:
		dr(acc.Party, t.BalanceAmount)
		dr(acc.Settlement, t.PaidAmount)
		cr(acc.Sales, t.GrandTotal)
	case KindSaleReturn:
		dr(acc.SalesReturn, t.GrandTotal)
		cr(acc.Party, t.BalanceAmount)
		cr(acc.Settlement, t.PaidAmount)
	case KindPurchaseReturn:
		dr(acc.Party, t.BalanceAmount)
		dr(acc.Settlement, t.PaidAmount)
		cr(acc.PurchaseReturn, t.GrandTotal)
	case KindCashReceipt:
		dr(acc.Cash, t.GrandTotal)
		cr(acc.Counter, t.GrandTotal)
	case KindCashPayment:
		dr(acc.Counter, t.GrandTotal)
		cr(acc.Cash, t.GrandTotal)
	case KindBankDeposit:
		dr(acc.Bank, t.GrandTotal)
		cr(acc.Counter, t.GrandTotal)
	case KindBankWithdrawal:
		dr(acc.Counter, t.GrandTotal)
		cr(acc.Bank, t.GrandTotal)
	case KindBankTransfer:
		dr(acc.ToBank, t.GrandTotal)
		cr(acc.Bank, t.GrandTotal)
	}
	return lines
}
