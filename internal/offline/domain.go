// internal/offline/domain.go
package offline

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"quickbill/internal/billing"
	"quickbill/internal/catalog"
	"quickbill/internal/stock"
)

var (
	ErrInvalidOperation = errors.New("invalid pending operation")
	ErrNotQueued        = errors.New("operation is not queued")
	errAlreadyQueued    = errors.New("operation already queued")
)

type Kind string

const (
	KindAdjustment Kind = "adjustment"
	KindBill       Kind = "bill"
)

// State is the persisted part of the replay state machine. Committed and
// rejected operations leave the journal, so only these two are stored.
type State string

const (
	StateQueued    State = "queued"
	StateReplaying State = "replaying"
)

// AdjustmentPayload is a single stock movement. Amount is the unit count for
// sales and restocks and the signed delta for corrections.
type AdjustmentPayload struct {
	ProductID uuid.UUID      `json:"product_id"`
	Reason    catalog.Reason `json:"reason"`
	Amount    int            `json:"amount"`
}

// Change rebuilds the stock movement.
func (a AdjustmentPayload) Change() stock.Change {
	switch a.Reason {
	case catalog.ReasonSale:
		return stock.Sale(a.Amount)
	case catalog.ReasonRestock:
		return stock.Restock(a.Amount)
	default:
		return stock.Correction(a.Amount)
	}
}

type BillPayload struct {
	CustomerName string                `json:"customer_name"`
	Lines        []billing.LineRequest `json:"lines"`
}

// PendingOperation is a sale, restock, correction or bill recorded while the
// terminal could not reach the stock service.
type PendingOperation struct {
	OperationID uuid.UUID          `json:"operation_id"`
	Kind        Kind               `json:"kind"`
	Adjustment  *AdjustmentPayload `json:"adjustment,omitempty"`
	Bill        *BillPayload       `json:"bill,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	Seq         uint64             `json:"seq"`
	State       State              `json:"state"`
	Attempts    int                `json:"attempts"`
	LastError   string             `json:"last_error,omitempty"`
}

// ProductIDs lists every product the operation touches.
func (op PendingOperation) ProductIDs() []uuid.UUID {
	switch {
	case op.Adjustment != nil:
		return []uuid.UUID{op.Adjustment.ProductID}
	case op.Bill != nil:
		ids := make([]uuid.UUID, len(op.Bill.Lines))
		for i, l := range op.Bill.Lines {
			ids[i] = l.ProductID
		}
		return ids
	}
	return nil
}

func (op PendingOperation) validate() error {
	switch op.Kind {
	case KindAdjustment:
		if op.Adjustment == nil || op.Adjustment.ProductID == uuid.Nil {
			return fmt.Errorf("%w: adjustment needs a product", ErrInvalidOperation)
		}
		if !op.Adjustment.Reason.Valid() {
			return fmt.Errorf("%w: unknown reason %q", ErrInvalidOperation, op.Adjustment.Reason)
		}
		if op.Adjustment.Change().Delta() == 0 {
			return fmt.Errorf("%w: zero adjustment", ErrInvalidOperation)
		}
		if op.Adjustment.Reason != catalog.ReasonCorrection && op.Adjustment.Amount < 1 {
			return fmt.Errorf("%w: quantity must be at least 1", ErrInvalidOperation)
		}
		if op.Adjustment.Amount > catalog.MaxQuantity || op.Adjustment.Amount < -catalog.MaxQuantity {
			return fmt.Errorf("%w: quantity cannot exceed %d", ErrInvalidOperation, catalog.MaxQuantity)
		}
	case KindBill:
		if op.Bill == nil || len(op.Bill.Lines) == 0 {
			return fmt.Errorf("%w: bill needs at least one line", ErrInvalidOperation)
		}
		for _, l := range op.Bill.Lines {
			if l.ProductID == uuid.Nil || l.Quantity < 1 || l.Quantity > catalog.MaxQuantity {
				return fmt.Errorf("%w: bill line needs a product and a quantity of at least 1", ErrInvalidOperation)
			}
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidOperation, op.Kind)
	}
	return nil
}

// Rejection is a queued operation the stock service refused. It must reach
// the merchant; it is never retried.
type Rejection struct {
	Operation PendingOperation `json:"operation"`
	Outcome   stock.Outcome    `json:"outcome"`
	Message   string           `json:"message"`
	Available *int             `json:"available,omitempty"`
}

// Report summarises one drain.
type Report struct {
	Committed []PendingOperation `json:"committed"`
	Rejected  []Rejection        `json:"rejected"`
	Deferred  []PendingOperation `json:"deferred"`
}

func classify(err error) stock.Outcome {
	if errors.Is(err, billing.ErrInvalidBill) || errors.Is(err, billing.ErrBillDeleted) || errors.Is(err, ErrInvalidOperation) {
		return stock.OutcomeInvalid
	}
	return stock.Classify(err)
}

func rejectionFor(op PendingOperation, err error) Rejection {
	rej := Rejection{Operation: op, Outcome: classify(err), Message: err.Error()}
	var insufficient *catalog.InsufficientStockError
	if errors.As(err, &insufficient) {
		available := insufficient.Available
		rej.Message = insufficient.UserMessage()
		rej.Available = &available
	}
	if errors.Is(err, catalog.ErrNotFound) {
		rej.Message = "product not found"
	}
	return rej
}
