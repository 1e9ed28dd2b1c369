// internal/catalog/domain.go
package catalog

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/blake2b"
)

// MaxQuantity bounds both a stock level and a single adjustment. It matches
// the INTEGER column the Postgres store keeps quantities in.
const MaxQuantity = math.MaxInt32

// Product is a catalog entry with its single stock counter.
type Product struct {
	ID                uuid.UUID       `json:"id" db:"id"`
	Name              string          `json:"name" db:"name"`
	Category          string          `json:"category" db:"category"`
	Price             decimal.Decimal `json:"price" db:"price"`
	QuantityAvailable int             `json:"quantity_available" db:"quantity_available"`
	TaxRate           decimal.Decimal `json:"tax_rate" db:"tax_rate"`
	Version           int             `json:"version" db:"version"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at" db:"updated_at"`
}

// Reason tags a stock movement.
type Reason string

const (
	ReasonSale       Reason = "sale"
	ReasonRestock    Reason = "restock"
	ReasonCorrection Reason = "correction"
)

// Valid reports whether r is one of the known reasons.
func (r Reason) Valid() bool {
	switch r {
	case ReasonSale, ReasonRestock, ReasonCorrection:
		return true
	}
	return false
}

// Adjustment is a signed change to one product's quantity.
type Adjustment struct {
	ProductID uuid.UUID `json:"product_id"`
	Delta     int       `json:"delta"`
	Reason    Reason    `json:"reason"`
}

// Operation groups adjustments that must be applied all together or not at
// all. A non-nil ID makes the operation idempotent: once committed, applying
// the same ID again is a no-op.
type Operation struct {
	ID          uuid.UUID
	Adjustments []Adjustment
}

// Applied is the outcome of a successful Apply. Products follow the order of
// Operation.Adjustments.
type Applied struct {
	Products []*Product
	Replayed bool
}

// LedgerEntry records one applied adjustment.
type LedgerEntry struct {
	Seq         int64     `json:"seq" db:"seq"`
	OperationID uuid.UUID `json:"operation_id,omitempty" db:"operation_id"`
	ProductID   uuid.UUID `json:"product_id" db:"product_id"`
	Reason      Reason    `json:"reason" db:"reason"`
	Delta       int       `json:"delta" db:"delta"`
	NewQuantity int       `json:"new_quantity" db:"new_quantity"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// DetailsUpdate changes descriptive fields. Quantity is deliberately absent:
// it only moves through Apply.
type DetailsUpdate struct {
	Name     *string          `json:"name,omitempty"`
	Category *string          `json:"category,omitempty"`
	Price    *decimal.Decimal `json:"price,omitempty"`
	TaxRate  *decimal.Decimal `json:"tax_rate,omitempty"`
}

// NormalizeKey folds case and whitespace so "Milk " and "milk" collide on the
// name/category index.
func NormalizeKey(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func (p *Product) validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidProduct)
	}
	if strings.TrimSpace(p.Category) == "" {
		return fmt.Errorf("%w: category is required", ErrInvalidProduct)
	}
	if p.Price.IsNegative() {
		return fmt.Errorf("%w: price cannot be negative", ErrInvalidProduct)
	}
	if p.TaxRate.IsNegative() {
		return fmt.Errorf("%w: tax rate cannot be negative", ErrInvalidProduct)
	}
	if p.QuantityAvailable < 0 {
		return fmt.Errorf("%w: quantity cannot be negative", ErrInvalidProduct)
	}
	if p.QuantityAvailable > MaxQuantity {
		return fmt.Errorf("%w: quantity cannot exceed %d", ErrInvalidProduct, MaxQuantity)
	}
	return nil
}

func (u DetailsUpdate) applyTo(p *Product) error {
	if u.Name != nil {
		p.Name = strings.TrimSpace(*u.Name)
	}
	if u.Category != nil {
		p.Category = strings.TrimSpace(*u.Category)
	}
	if u.Price != nil {
		p.Price = *u.Price
	}
	if u.TaxRate != nil {
		p.TaxRate = *u.TaxRate
	}
	return p.validate()
}

func (op Operation) validate() error {
	if len(op.Adjustments) == 0 {
		return fmt.Errorf("%w: operation has no adjustments", ErrInvalidAdjustment)
	}
	seen := make(map[uuid.UUID]struct{}, len(op.Adjustments))
	for _, adj := range op.Adjustments {
		if adj.ProductID == uuid.Nil {
			return fmt.Errorf("%w: product id is required", ErrInvalidAdjustment)
		}
		if adj.Delta == 0 {
			return fmt.Errorf("%w: delta cannot be zero", ErrInvalidAdjustment)
		}
		if adj.Delta > MaxQuantity || adj.Delta < -MaxQuantity {
			return fmt.Errorf("%w: delta cannot exceed %d units", ErrInvalidAdjustment, MaxQuantity)
		}
		if !adj.Reason.Valid() {
			return fmt.Errorf("%w: unknown reason %q", ErrInvalidAdjustment, adj.Reason)
		}
		if _, dup := seen[adj.ProductID]; dup {
			return fmt.Errorf("%w: product %s appears twice", ErrInvalidAdjustment, adj.ProductID)
		}
		seen[adj.ProductID] = struct{}{}
	}
	return nil
}

// Fingerprint identifies the content of an operation independent of the
// order of its adjustments.
func (op Operation) Fingerprint() [32]byte {
	lines := make([]string, len(op.Adjustments))
	for i, adj := range op.Adjustments {
		lines[i] = fmt.Sprintf("%s:%d:%s", adj.ProductID, adj.Delta, adj.Reason)
	}
	sort.Strings(lines)
	return blake2b.Sum256([]byte(strings.Join(lines, "\n")))
}

// applyOrder returns adjustment indexes sorted by product ID. Every store
// locks rows in this order so concurrent multi-product operations cannot
// deadlock.
func (op Operation) applyOrder() []int {
	idx := make([]int, len(op.Adjustments))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool {
		return op.Adjustments[idx[a]].ProductID.String() < op.Adjustments[idx[b]].ProductID.String()
	})
	return idx
}

func (op Operation) productIDs() []uuid.UUID {
	ids := make([]uuid.UUID, len(op.Adjustments))
	for i, adj := range op.Adjustments {
		ids[i] = adj.ProductID
	}
	return ids
}

func exceedsCapacity(quantity, delta int) error {
	if delta > 0 && quantity > MaxQuantity-delta {
		return fmt.Errorf("%w: stock cannot exceed %d units", ErrInvalidAdjustment, MaxQuantity)
	}
	return nil
}
