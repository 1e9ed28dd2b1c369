// internal/stock/domain.go
package stock

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"quickbill/internal/catalog"
)

// ErrInvalidQuantity is returned for sale or restock quantities below one and
// for zero corrections.
var ErrInvalidQuantity = fmt.Errorf("%w: quantity must be at least 1", catalog.ErrInvalidAdjustment)

// ErrQuantityTooLarge is returned for movements larger than catalog.MaxQuantity.
var ErrQuantityTooLarge = fmt.Errorf("%w: quantity cannot exceed %d", catalog.ErrInvalidAdjustment, catalog.MaxQuantity)

// Change is a tagged stock movement: a sale of n units, a restock of n units
// or a signed correction. Build one with Sale, Restock or Correction.
type Change struct {
	reason catalog.Reason
	amount int
}

func Sale(qty int) Change         { return Change{reason: catalog.ReasonSale, amount: qty} }
func Restock(qty int) Change      { return Change{reason: catalog.ReasonRestock, amount: qty} }
func Correction(delta int) Change { return Change{reason: catalog.ReasonCorrection, amount: delta} }

// Reason returns the ledger tag of the change.
func (c Change) Reason() catalog.Reason { return c.reason }

// Delta is the signed quantity change.
func (c Change) Delta() int {
	if c.reason == catalog.ReasonSale {
		return -c.amount
	}
	return c.amount
}

func (c Change) validate() error {
	if c.amount > catalog.MaxQuantity || c.amount < -catalog.MaxQuantity {
		return ErrQuantityTooLarge
	}
	switch c.reason {
	case catalog.ReasonSale, catalog.ReasonRestock:
		if c.amount < 1 {
			return ErrInvalidQuantity
		}
	case catalog.ReasonCorrection:
		if c.amount == 0 {
			return fmt.Errorf("%w: correction delta cannot be zero", catalog.ErrInvalidAdjustment)
		}
	default:
		return fmt.Errorf("%w: unknown change", catalog.ErrInvalidAdjustment)
	}
	return nil
}

// Line is one product of a multi-product sale.
type Line struct {
	ProductID uuid.UUID `json:"product_id"`
	Quantity  int       `json:"quantity"`
}

// Result reports a product's quantity after a recorded change. For a
// replayed operation NewQuantity is the current quantity.
type Result struct {
	ProductID   uuid.UUID `json:"product_id"`
	NewQuantity int       `json:"new_quantity"`
	Replayed    bool      `json:"replayed"`
}

// Outcome is the discriminated result of a stock call.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeNotFound
	OutcomeInsufficientStock
	OutcomeInvalid
	OutcomeTransient
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeInsufficientStock:
		return "insufficient_stock"
	case OutcomeInvalid:
		return "invalid"
	default:
		return "transient"
	}
}

// Final reports whether retrying cannot change the outcome.
func (o Outcome) Final() bool { return o != OutcomeTransient }

// Classify maps an error from any stock path onto an Outcome. Errors it does
// not recognise are treated as transient.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, catalog.ErrNotFound):
		return OutcomeNotFound
	case errors.Is(err, catalog.ErrInsufficientStock):
		return OutcomeInsufficientStock
	case errors.Is(err, catalog.ErrInvalidAdjustment),
		errors.Is(err, catalog.ErrInvalidProduct),
		errors.Is(err, catalog.ErrOperationConflict):
		return OutcomeInvalid
	default:
		return OutcomeTransient
	}
}

// mergeLines folds repeated products into one line, keeping first-seen order.
func mergeLines(lines []Line) ([]Line, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: at least one line is required", catalog.ErrInvalidAdjustment)
	}
	index := make(map[uuid.UUID]int, len(lines))
	merged := make([]Line, 0, len(lines))
	for _, l := range lines {
		if l.Quantity < 1 {
			return nil, ErrInvalidQuantity
		}
		if l.Quantity > catalog.MaxQuantity {
			return nil, ErrQuantityTooLarge
		}
		if i, ok := index[l.ProductID]; ok {
			merged[i].Quantity += l.Quantity
			continue
		}
		index[l.ProductID] = len(merged)
		merged = append(merged, l)
	}
	return merged, nil
}
