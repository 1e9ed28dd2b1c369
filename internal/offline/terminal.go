// internal/offline/terminal.go
package offline

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"quickbill/internal/billing"
	"quickbill/internal/catalog"
	"quickbill/internal/stock"
)

type Status string

const (
	StatusCommitted Status = "committed"
	StatusQueued    Status = "queued"
)

// Receipt tells the till what happened to a submission. Result or Bill is
// set only when Status is committed.
type Receipt struct {
	OperationID uuid.UUID     `json:"operation_id"`
	Status      Status        `json:"status"`
	Result      *stock.Result `json:"result,omitempty"`
	Bill        *billing.Bill `json:"bill,omitempty"`
}

// Terminal is the client-side entry point. Online it submits directly;
// offline, on a transient failure, or while older operations on the same
// products are still queued, it journals the operation for a later drain.
// Business rejections are returned immediately.
type Terminal struct {
	dispatcher Dispatcher
	queue      *Queue
	runner     *Runner
	logger     zerolog.Logger
}

func NewTerminal(dispatcher Dispatcher, queue *Queue, runner *Runner, logger zerolog.Logger) *Terminal {
	return &Terminal{
		dispatcher: dispatcher,
		queue:      queue,
		runner:     runner,
		logger:     logger.With().Str("component", "terminal").Logger(),
	}
}

func (t *Terminal) RecordSale(ctx context.Context, productID uuid.UUID, qty int) (Receipt, error) {
	return t.adjust(ctx, AdjustmentPayload{ProductID: productID, Reason: catalog.ReasonSale, Amount: qty})
}

func (t *Terminal) RecordRestock(ctx context.Context, productID uuid.UUID, qty int) (Receipt, error) {
	return t.adjust(ctx, AdjustmentPayload{ProductID: productID, Reason: catalog.ReasonRestock, Amount: qty})
}

func (t *Terminal) RecordDelta(ctx context.Context, productID uuid.UUID, delta int) (Receipt, error) {
	return t.adjust(ctx, AdjustmentPayload{ProductID: productID, Reason: catalog.ReasonCorrection, Amount: delta})
}

func (t *Terminal) CreateBill(ctx context.Context, customer string, lines []billing.LineRequest) (Receipt, error) {
	op := PendingOperation{
		OperationID: uuid.New(),
		Kind:        KindBill,
		Bill:        &BillPayload{CustomerName: customer, Lines: lines},
	}
	if err := op.validate(); err != nil {
		return Receipt{}, err
	}

	direct, err := t.canSubmit(ctx, op)
	if err != nil {
		return Receipt{}, err
	}
	if direct {
		bill, err := t.dispatcher.createBill(ctx, op)
		if classify(err) != stock.OutcomeTransient {
			if err != nil {
				return Receipt{}, err
			}
			return Receipt{OperationID: op.OperationID, Status: StatusCommitted, Bill: bill}, nil
		}
		t.logger.Warn().Err(err).Msg("bill submission failed, queueing")
	}
	return t.enqueue(ctx, op)
}

func (t *Terminal) adjust(ctx context.Context, payload AdjustmentPayload) (Receipt, error) {
	op := PendingOperation{OperationID: uuid.New(), Kind: KindAdjustment, Adjustment: &payload}
	if err := op.validate(); err != nil {
		return Receipt{}, err
	}

	direct, err := t.canSubmit(ctx, op)
	if err != nil {
		return Receipt{}, err
	}
	if direct {
		res, err := t.dispatcher.recordAdjustment(ctx, op)
		if classify(err) != stock.OutcomeTransient {
			if err != nil {
				return Receipt{}, err
			}
			return Receipt{OperationID: op.OperationID, Status: StatusCommitted, Result: res}, nil
		}
		t.logger.Warn().Err(err).Msg("stock submission failed, queueing")
	}
	return t.enqueue(ctx, op)
}

func (t *Terminal) canSubmit(ctx context.Context, op PendingOperation) (bool, error) {
	if !t.runner.Online() {
		return false, nil
	}
	blocked, err := t.queue.Blocks(ctx, op.ProductIDs()...)
	if err != nil {
		return false, err
	}
	return !blocked, nil
}

func (t *Terminal) enqueue(ctx context.Context, op PendingOperation) (Receipt, error) {
	queued, err := t.queue.Enqueue(ctx, op)
	if err != nil {
		return Receipt{}, err
	}
	if t.runner.Online() {
		t.runner.Kick()
	}
	return Receipt{OperationID: queued.OperationID, Status: StatusQueued}, nil
}
