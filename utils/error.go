package utils

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var ErrorRecordNotFound = errors.New("record not found")

// ErrStorageTimeout marks a unit of work aborted by a lock wait timeout, a deadlock or a context deadline.
// Nothing was committed; the caller may retry.
var ErrStorageTimeout = errors.New("storage timeout")

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func NewValidationError(field string, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

type NotFoundError struct {
	Resource string
	ID       any
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %v not found", e.Resource, e.ID)
}

// Is lets errors.Is(err, ErrorRecordNotFound) keep working for callers that only care about presence.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrorRecordNotFound
}

type InsufficientStockError struct {
	ProductId   int
	ProductName string
	Available   int
	Requested   int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s (id %d): available %d, requested %d",
		e.ProductName, e.ProductId, e.Available, e.Requested)
}

// ConsistencyError reports a cached aggregate that disagrees with the sum of its ledger.
type ConsistencyError struct {
	Entity string
	ID     int
	Cached decimal.Decimal
	Ledger decimal.Decimal
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("%s %d cached value %s does not match ledger sum %s",
		e.Entity, e.ID, e.Cached.String(), e.Ledger.String())
}

// ReversalError wraps any failure while undoing an invoice's ledger effects.
// The transaction was rolled back, so the reversal can be retried as a whole.
type ReversalError struct {
	InvoiceId int
	Err       error
}

func (e *ReversalError) Error() string {
	return fmt.Sprintf("reversal of invoice %d failed: %v", e.InvoiceId, e.Err)
}

func (e *ReversalError) Unwrap() error {
	return e.Err
}

func (e *ReversalError) Retryable() bool {
	return true
}

// ClassifyStorageError maps driver level lock waits, deadlocks and context deadlines to ErrStorageTimeout
// and gorm's not found to ErrorRecordNotFound; anything else is returned unchanged.
func ClassifyStorageError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrorRecordNotFound
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrStorageTimeout, err)
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case 1205, 1213: // lock wait timeout, deadlock
			return fmt.Errorf("%w: %v", ErrStorageTimeout, err)
		}
	}
	return err
}

// IsDomainError reports errors produced by the engine itself (as opposed to storage failures).
func IsDomainError(err error) bool {
	var (
		ve *ValidationError
		ne *NotFoundError
		se *InsufficientStockError
		ce *ConsistencyError
	)
	return errors.As(err, &ve) || errors.As(err, &ne) || errors.As(err, &se) || errors.As(err, &ce)
}
