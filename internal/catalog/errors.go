// internal/catalog/errors.go
package catalog

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a referenced product does not exist.
	ErrNotFound = errors.New("product not found")

	// ErrInsufficientStock matches every *InsufficientStockError.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrUnavailable marks storage failures, timeouts and cancellations. It is
	// the only class of error that callers may retry.
	ErrUnavailable = errors.New("stock store unavailable")

	// ErrDuplicateProduct is returned when a name/category pair is taken.
	ErrDuplicateProduct = errors.New("product with this name and category already exists")

	// ErrProductReferenced blocks deleting a product that has stock history.
	ErrProductReferenced = errors.New("product has stock history and cannot be deleted")

	// ErrOperationConflict is returned when an operation ID is reused for a
	// different set of adjustments.
	ErrOperationConflict = errors.New("operation id already used for different adjustments")

	// ErrInvalidProduct and ErrInvalidAdjustment wrap validation failures.
	ErrInvalidProduct    = errors.New("invalid product")
	ErrInvalidAdjustment = errors.New("invalid adjustment")
)

// InsufficientStockError reports the quantity that was actually available
// when the decrement was refused. Available is read inside the same atomic
// unit that rejected the change, never from an earlier read.
type InsufficientStockError struct {
	ProductID uuid.UUID
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, only %d units available",
		e.ProductID, e.Requested, e.Available)
}

// UserMessage is the text shown to a merchant at the till.
func (e *InsufficientStockError) UserMessage() string {
	return fmt.Sprintf("Only %d units available", e.Available)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}
