package ledger

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"

	"github.com/odyssey-erp/bookkeeper/internal/shared"
)

// Type classifies a ledger in the chart of accounts.
type Type string

const (
	TypeCustomer Type = "customer"
	TypeSupplier Type = "supplier"
	TypeCash     Type = "cash"
	TypeBank     Type = "bank"
	TypeSales    Type = "sales"
	TypePurchase Type = "purchase"
	TypeReturn   Type = "return"
	TypeExpense  Type = "expense"
	TypeIncome   Type = "income"
)

// Valid reports whether t is a known ledger type.
func (t Type) Valid() bool {
	switch t {
	case TypeCustomer, TypeSupplier, TypeCash, TypeBank, TypeSales, TypePurchase, TypeReturn, TypeExpense, TypeIncome:
		return true
	}
	return false
}

// BalanceSide is the normal side of a ledger.
type BalanceSide string

const (
	SideDebit  BalanceSide = "debit"
	SideCredit BalanceSide = "credit"
)

// DefaultSide returns the conventional normal side for a ledger type.
// Return ledgers default to debit (sales returns); purchase-return ledgers
// are created credit-normal explicitly.
func DefaultSide(t Type) BalanceSide {
	switch t {
	case TypeSupplier, TypeSales, TypeIncome:
		return SideCredit
	default:
		return SideDebit
	}
}

// Ledger is an account holding a running balance.
type Ledger struct {
	ID             int64           `json:"id"`
	Name           string          `json:"name"`
	Type           Type            `json:"type"`
	RefID          *int64          `json:"ref_id,omitempty"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
	BalanceSide    BalanceSide     `json:"balance_side"`
	CurrentBalance decimal.Decimal `json:"current_balance"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Signed converts a debit/credit pair into the amount added to the balance.
func (l Ledger) Signed(debit, credit decimal.Decimal) decimal.Decimal {
	if l.BalanceSide == SideCredit {
		return credit.Sub(debit)
	}
	return debit.Sub(credit)
}

// NewLedger carries the fields needed to open a ledger.
type NewLedger struct {
	Name           string          `json:"name" validate:"required,max=120"`
	Type           Type            `json:"type" validate:"required,oneof=customer supplier cash bank sales purchase return expense income"`
	RefID          *int64          `json:"ref_id,omitempty" validate:"omitempty,gt=0"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
	BalanceSide    BalanceSide     `json:"balance_side,omitempty" validate:"omitempty,oneof=debit credit"`
}

// Build validates the input and returns the ledger row to persist.
func (in NewLedger) Build(now time.Time) (Ledger, error) {
	if err := shared.ValidateStruct(in); err != nil {
		return Ledger{}, err
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return Ledger{}, shared.Invalid("name", "must not be blank")
	}
	if (in.Type == TypeCustomer || in.Type == TypeSupplier) && in.RefID == nil {
		return Ledger{}, shared.Invalid("ref_id", "required for %s ledgers", in.Type)
	}
	side := in.BalanceSide
	if side == "" {
		side = DefaultSide(in.Type)
	}
	return Ledger{
		Name:           name,
		Type:           in.Type,
		RefID:          in.RefID,
		OpeningBalance: in.OpeningBalance,
		BalanceSide:    side,
		CurrentBalance: in.OpeningBalance,
		CreatedAt:      now,
	}, nil
}

// NameKey is the case-folded form used for name uniqueness.
func NameKey(name string) string {
	return cases.Fold().String(strings.TrimSpace(name))
}

// ErrDuplicateName is returned when another ledger already uses the name.
var ErrDuplicateName error = &shared.ValidationError{Field: "name", Reason: "ledger name already exists"}
