// internal/offline/dispatcher.go
package offline

import (
	"context"
	"fmt"

	"quickbill/internal/billing"
	"quickbill/internal/catalog"
	"quickbill/internal/stock"
)

// BillCreator is satisfied by billing.Service and clients.BillingClient.
type BillCreator interface {
	CreateBill(ctx context.Context, req billing.CreateBillRequest) (*billing.Bill, bool, error)
}

// Dispatcher submits pending operations to a stock recorder and a bill
// creator, in process or over HTTP.
type Dispatcher struct {
	Stock stock.Recorder
	Bills BillCreator
}

func (d Dispatcher) Submit(ctx context.Context, op PendingOperation) error {
	switch op.Kind {
	case KindAdjustment:
		_, err := d.recordAdjustment(ctx, op)
		return err
	case KindBill:
		_, err := d.createBill(ctx, op)
		return err
	}
	return fmt.Errorf("%w: unknown kind %q", ErrInvalidOperation, op.Kind)
}

func (d Dispatcher) recordAdjustment(ctx context.Context, op PendingOperation) (*stock.Result, error) {
	if op.Adjustment == nil {
		return nil, fmt.Errorf("%w: missing adjustment", ErrInvalidOperation)
	}
	a := op.Adjustment
	switch a.Reason {
	case catalog.ReasonSale:
		return d.Stock.RecordSale(ctx, op.OperationID, a.ProductID, a.Amount)
	case catalog.ReasonRestock:
		return d.Stock.RecordRestock(ctx, op.OperationID, a.ProductID, a.Amount)
	case catalog.ReasonCorrection:
		return d.Stock.RecordDelta(ctx, op.OperationID, a.ProductID, a.Amount)
	}
	return nil, fmt.Errorf("%w: unknown reason %q", ErrInvalidOperation, a.Reason)
}

func (d Dispatcher) createBill(ctx context.Context, op PendingOperation) (*billing.Bill, error) {
	if op.Bill == nil {
		return nil, fmt.Errorf("%w: missing bill", ErrInvalidOperation)
	}
	if d.Bills == nil {
		return nil, fmt.Errorf("%w: no bill service configured", ErrInvalidOperation)
	}
	bill, _, err := d.Bills.CreateBill(ctx, billing.CreateBillRequest{
		OperationID:  op.OperationID,
		CustomerName: op.Bill.CustomerName,
		Lines:        op.Bill.Lines,
	})
	return bill, err
}
