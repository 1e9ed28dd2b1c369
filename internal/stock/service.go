// internal/stock/service.go
package stock

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"quickbill/internal/catalog"
)

// Recorder is the stock surface used by handlers, billing and the offline
// queue. Engine implements it in process and clients.StockClient over HTTP.
type Recorder interface {
	RecordSale(ctx context.Context, opID, productID uuid.UUID, qty int) (*Result, error)
	RecordRestock(ctx context.Context, opID, productID uuid.UUID, qty int) (*Result, error)
	RecordDelta(ctx context.Context, opID, productID uuid.UUID, delta int) (*Result, error)
	RecordBatch(ctx context.Context, opID uuid.UUID, lines []Line) ([]Result, error)
}

// Engine turns business movements into catalog operations. It never reads
// and then writes a quantity itself; every change goes through Store.Apply.
type Engine struct {
	store       catalog.Store
	logger      zerolog.Logger
	tracer      trace.Tracer
	adjustments metric.Int64Counter
}

// NewEngine creates an engine over store.
func NewEngine(store catalog.Store, logger zerolog.Logger) *Engine {
	meter := otel.Meter("quickbill/stock")
	counter, err := meter.Int64Counter("stock.adjustments",
		metric.WithDescription("Stock adjustments by reason and outcome"),
		metric.WithUnit("{adjustment}"),
	)
	if err != nil {
		logger.Warn().Err(err).Msg("stock.adjustments counter unavailable")
	}
	return &Engine{
		store:       store,
		logger:      logger.With().Str("component", "stock_engine").Logger(),
		tracer:      otel.Tracer("quickbill/stock"),
		adjustments: counter,
	}
}

// Store exposes the catalog the engine writes to.
func (e *Engine) Store() catalog.Store { return e.store }

// RecordSale removes qty units. When stock is short the error is a
// *catalog.InsufficientStockError carrying the quantity seen by the failed
// atomic unit.
func (e *Engine) RecordSale(ctx context.Context, opID, productID uuid.UUID, qty int) (*Result, error) {
	return e.Record(ctx, opID, productID, Sale(qty))
}

// RecordRestock adds qty units.
func (e *Engine) RecordRestock(ctx context.Context, opID, productID uuid.UUID, qty int) (*Result, error) {
	return e.Record(ctx, opID, productID, Restock(qty))
}

// RecordDelta applies a signed correction.
func (e *Engine) RecordDelta(ctx context.Context, opID, productID uuid.UUID, delta int) (*Result, error) {
	return e.Record(ctx, opID, productID, Correction(delta))
}

// Record applies a single change. A nil opID makes the call non-idempotent.
func (e *Engine) Record(ctx context.Context, opID, productID uuid.UUID, change Change) (*Result, error) {
	ctx, span := e.tracer.Start(ctx, "stock.record_"+string(change.Reason()),
		trace.WithAttributes(
			attribute.String("operation.id", opID.String()),
			attribute.String("product.id", productID.String()),
			attribute.Int("delta", change.Delta()),
		),
	)
	defer span.End()

	if err := change.validate(); err != nil {
		e.finish(ctx, span, change.Reason(), nil, err)
		return nil, err
	}

	applied, err := e.store.Apply(ctx, catalog.Operation{
		ID:          opID,
		Adjustments: []catalog.Adjustment{{ProductID: productID, Delta: change.Delta(), Reason: change.Reason()}},
	})
	e.finish(ctx, span, change.Reason(), applied, err)
	if err != nil {
		return nil, err
	}

	results := toResults(applied)
	return &results[0], nil
}

// RecordBatch sells every line atomically under one operation ID. Lines for
// the same product are merged before the store sees them.
func (e *Engine) RecordBatch(ctx context.Context, opID uuid.UUID, lines []Line) ([]Result, error) {
	ctx, span := e.tracer.Start(ctx, "stock.record_batch",
		trace.WithAttributes(
			attribute.String("operation.id", opID.String()),
			attribute.Int("line.count", len(lines)),
		),
	)
	defer span.End()

	merged, err := mergeLines(lines)
	if err != nil {
		e.finish(ctx, span, catalog.ReasonSale, nil, err)
		return nil, err
	}

	op := catalog.Operation{ID: opID, Adjustments: make([]catalog.Adjustment, len(merged))}
	for i, l := range merged {
		op.Adjustments[i] = catalog.Adjustment{ProductID: l.ProductID, Delta: -l.Quantity, Reason: catalog.ReasonSale}
	}

	applied, err := e.store.Apply(ctx, op)
	e.finish(ctx, span, catalog.ReasonSale, applied, err)
	if err != nil {
		return nil, err
	}
	return toResults(applied), nil
}

func toResults(applied *catalog.Applied) []Result {
	results := make([]Result, len(applied.Products))
	for i, p := range applied.Products {
		if p == nil {
			continue
		}
		results[i] = Result{ProductID: p.ID, NewQuantity: p.QuantityAvailable, Replayed: applied.Replayed}
	}
	return results
}

func (e *Engine) finish(ctx context.Context, span trace.Span, reason catalog.Reason, applied *catalog.Applied, err error) {
	outcome := Classify(err)
	label := outcomeLabel(outcome, applied)
	span.SetAttributes(attribute.String("outcome", label))

	if e.adjustments != nil {
		e.adjustments.Add(ctx, 1, metric.WithAttributes(
			attribute.String("reason", string(reason)),
			attribute.String("outcome", label),
		))
	}

	switch outcome {
	case OutcomeSuccess:
		return
	case OutcomeTransient:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Error().Err(err).Str("reason", string(reason)).Msg("stock adjustment failed")
	default:
		event := e.logger.Warn().Err(err).Str("reason", string(reason)).Str("outcome", outcome.String())
		var insufficient *catalog.InsufficientStockError
		if errors.As(err, &insufficient) {
			event = event.Str("product_id", insufficient.ProductID.String()).
				Int("requested", insufficient.Requested).
				Int("available", insufficient.Available)
		}
		event.Msg("stock adjustment rejected")
	}
}

func outcomeLabel(o Outcome, applied *catalog.Applied) string {
	switch o {
	case OutcomeSuccess:
		if applied != nil && applied.Replayed {
			return "replayed"
		}
		return "committed"
	case OutcomeNotFound:
		return "rejected_not_found"
	case OutcomeInsufficientStock:
		return "rejected_insufficient"
	case OutcomeInvalid:
		return "rejected_invalid"
	default:
		return "failed_transient"
	}
}
