package shared

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrValidation indicates malformed input rejected before any lookup.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound indicates a referenced party, item, ledger or event is missing.
	ErrNotFound = errors.New("not found")
	// ErrInsufficientStock indicates a movement would drive stock negative.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrSequenceConflict indicates the allocator could not reserve any number.
	ErrSequenceConflict = errors.New("document sequence conflict")
	// ErrConsistency indicates a consistency check failed.
	ErrConsistency = errors.New("consistency violation")
	// ErrCreditLimitExceeded occurs when a sale would push a customer past the credit limit.
	ErrCreditLimitExceeded = errors.New("credit limit exceeded")
)

// ValidationError describes a rejected input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Invalid is shorthand for building a ValidationError.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// NotFoundError names the missing entity.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NotFound builds a NotFoundError for any printable id.
func NotFound(entity string, id any) error {
	return &NotFoundError{Entity: entity, ID: fmt.Sprint(id)}
}

// InsufficientStockError reports the quantity that was available for an item.
type InsufficientStockError struct {
	ItemID    int64
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for item %d: available %s, requested %s",
		e.ItemID, e.Available.String(), e.Requested.String())
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// SequenceConflictError is returned once retries and the fallback number are exhausted.
type SequenceConflictError struct {
	DocType  string
	Period   string
	Attempts int
}

func (e *SequenceConflictError) Error() string {
	return fmt.Sprintf("document sequence %s/%s: no number reserved after %d attempts", e.DocType, e.Period, e.Attempts)
}

func (e *SequenceConflictError) Unwrap() error { return ErrSequenceConflict }

// ConsistencyError carries the name of the failed check.
type ConsistencyError struct {
	Check  string
	Detail string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("consistency check %s failed: %s", e.Check, e.Detail)
}

func (e *ConsistencyError) Unwrap() error { return ErrConsistency }

// Inconsistent builds a ConsistencyError.
func Inconsistent(check, format string, args ...any) error {
	return &ConsistencyError{Check: check, Detail: fmt.Sprintf(format, args...)}
}

// CreditLimitError rejects a sale that would push a customer past the limit.
// It matches both ErrCreditLimitExceeded and ErrValidation.
type CreditLimitError struct {
	PartyID  int64
	Limit    decimal.Decimal
	Exposure decimal.Decimal
}

func (e *CreditLimitError) Error() string {
	return fmt.Sprintf("credit limit exceeded for party %d: exposure %s, limit %s",
		e.PartyID, e.Exposure.String(), e.Limit.String())
}

func (e *CreditLimitError) Unwrap() []error { return []error{ErrCreditLimitExceeded, ErrValidation} }
