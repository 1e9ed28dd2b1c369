// internal/catalog/service.go
package catalog

import (
	"context"

	"github.com/google/uuid"
)

// Store is the authoritative catalog. Apply is the only path that writes
// QuantityAvailable.
type Store interface {
	Create(ctx context.Context, p *Product) error
	Get(ctx context.Context, id uuid.UUID) (*Product, error)
	GetByName(ctx context.Context, name, category string) (*Product, error)
	List(ctx context.Context) ([]*Product, error)
	UpdateDetails(ctx context.Context, id uuid.UUID, update DetailsUpdate) (*Product, error)
	Delete(ctx context.Context, id uuid.UUID) error

	// Apply atomically applies every adjustment of op or none of them. An
	// adjustment that would take a quantity below zero fails the whole
	// operation with *InsufficientStockError.
	Apply(ctx context.Context, op Operation) (*Applied, error)

	History(ctx context.Context, productID uuid.UUID, limit int) ([]LedgerEntry, error)
	Stream(ctx context.Context, afterSeq int64, batchSize int) ([]LedgerEntry, error)
}

// CompareAndApply applies a single non-idempotent delta and returns the
// updated product.
func CompareAndApply(ctx context.Context, s Store, id uuid.UUID, delta int) (*Product, error) {
	reason := ReasonCorrection
	switch {
	case delta < 0:
		reason = ReasonSale
	case delta > 0:
		reason = ReasonRestock
	}
	applied, err := s.Apply(ctx, Operation{Adjustments: []Adjustment{{ProductID: id, Delta: delta, Reason: reason}}})
	if err != nil {
		return nil, err
	}
	return applied.Products[0], nil
}
