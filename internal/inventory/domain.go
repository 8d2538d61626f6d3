package inventory

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/bookkeeper/internal/journal"
	"github.com/odyssey-erp/bookkeeper/internal/shared"
)

// MovementType enumerates the direction of a stock movement.
type MovementType string

const (
	// MovementIn represents an inbound movement.
	MovementIn MovementType = "in"
	// MovementOut represents an outbound movement.
	MovementOut MovementType = "out"
)

// Item is the stock-bearing view of an item.
type Item struct {
	ID       int64           `json:"id"`
	Name     string          `json:"name"`
	StockQty decimal.Decimal `json:"stock_qty"`
}

// Movement is one audited change to an item's quantity on hand.
type Movement struct {
	ID          int64           `json:"id"`
	ItemID      int64           `json:"item_id"`
	Date        time.Time       `json:"date"`
	Qty         decimal.Decimal `json:"qty"`
	Type        MovementType    `json:"type"`
	RefType     journal.RefType `json:"ref_type"`
	RefID       uuid.UUID       `json:"ref_id"`
	PreviousQty decimal.Decimal `json:"previous_qty"`
	NewQty      decimal.Decimal `json:"new_qty"`
	// Reversal marks a compensating row written by a reversal.
	Reversal bool `json:"reversal"`
	// Reversed marks an original row whose effect has been undone.
	Reversed  bool      `json:"reversed"`
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// MoveInput describes a signed quantity change.
type MoveInput struct {
	ItemID   int64
	Qty      decimal.Decimal
	Ref      journal.Ref
	Date     time.Time
	Notes    string
	Reversal bool
}

// Card is the stock card of one item.
type Card struct {
	Item      Item       `json:"item"`
	Movements []Movement `json:"movements"`
}

// ErrInvalidQuantity indicates a zero quantity movement.
var ErrInvalidQuantity error = &shared.ValidationError{Field: "qty", Reason: "quantity must be non zero"}
