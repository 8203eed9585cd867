package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrMissingField     = errors.New("missing required field")
	ErrInvalidField     = errors.New("invalid value")
	ErrInvalidQuantity  = errors.New("quantity must be a number greater than 0")
	ErrInvalidPrice     = errors.New("price must be a number greater than 0")
	ErrInvalidDate      = errors.New("date must be formatted as YYYY-MM-DD")
	ErrEmptyLineSet     = errors.New("at least one item is required")
	ErrMissingParty     = errors.New("no supplier or customer selected")
	ErrInvalidDirection = errors.New("adjustment type must be add or subtract")
	ErrInvalidPIN       = errors.New("pin must be at least 4 digits")
	ErrPINMismatch      = errors.New("pins do not match")

	ErrItemNotFound     = errors.New("item not found")
	ErrSupplierNotFound = errors.New("supplier not found")
	ErrCustomerNotFound = errors.New("customer not found")

	ErrInsufficientStock = errors.New("insufficient stock")
	ErrDuplicateRequest  = errors.New("duplicate request")

	ErrStoreReadFailed  = errors.New("store read failed")
	ErrStoreWriteFailed = errors.New("store write failed")
)

// ValidationError is raised before any write is attempted. Line is 1-based;
// zero means the error is not tied to a transaction line.
type ValidationError struct {
	Err     error
	Field   string
	Line    int
	Details string
}

func (e *ValidationError) Error() string {
	msg := e.Err.Error()
	if e.Line > 0 {
		msg = fmt.Sprintf("line %d: %s", e.Line, msg)
	}
	if e.Field != "" {
		msg = fmt.Sprintf("%s: %s", e.Field, msg)
	}
	if e.Details != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Details)
	}
	return msg
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func invalid(err error, field string) *ValidationError {
	return &ValidationError{Err: err, Field: field}
}

// ReferenceError reports an explicitly passed id that resolves to nothing.
type ReferenceError struct {
	Kind string
	ID   string
	Line int
	Err  error
}

func (e *ReferenceError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s %q: %s", e.Line, e.Kind, e.ID, e.Err.Error())
	}
	return fmt.Sprintf("%s %q: %s", e.Kind, e.ID, e.Err.Error())
}

func (e *ReferenceError) Unwrap() error {
	return e.Err
}

type InsufficientStockError struct {
	ItemID    string
	ItemName  string
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s. Available: %s", e.ItemName, e.Available.String())
}

func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}

// PersistenceError wraps a store failure. StockApplied is true when the
// items collection was already written and only the transaction append
// failed; Record then holds the unsaved Purchase or Sale.
type PersistenceError struct {
	Op           string
	Key          string
	StockApplied bool
	Record       any
	Err          error
}

func (e *PersistenceError) Error() string {
	msg := fmt.Sprintf("%s %s: %v", e.Op, e.Key, e.Err)
	if e.StockApplied {
		msg += " (stock already updated, transaction not recorded)"
	}
	return msg
}

func (e *PersistenceError) Unwrap() []error {
	if e.Op == "read" {
		return []error{ErrStoreReadFailed, e.Err}
	}
	return []error{ErrStoreWriteFailed, e.Err}
}
