// internal/billing/domain.go
package billing

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"quickbill/internal/catalog"
)

var (
	ErrBillNotFound  = errors.New("bill not found")
	ErrDuplicateBill = errors.New("bill already recorded for this operation")
	ErrInvalidBill   = errors.New("invalid bill")
	// ErrBillDeleted is returned when an operation's bill was recorded and
	// later deleted. The operation stays used, so it cannot bill again.
	ErrBillDeleted = errors.New("bill for this operation was deleted")
)

var hundred = decimal.NewFromInt(100)

// LineItem snapshots the product at the time of sale. Prices include tax.
type LineItem struct {
	ProductID   uuid.UUID       `json:"product_id"`
	ProductName string          `json:"product_name"`
	Category    string          `json:"category"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	TaxRate     decimal.Decimal `json:"tax_rate"`
	TaxAmount   decimal.Decimal `json:"tax_amount"`
	Amount      decimal.Decimal `json:"amount"`
}

// LineItems is stored as a JSONB column.
type LineItems []LineItem

func (l LineItems) Value() (driver.Value, error) {
	return json.Marshal(l)
}

func (l *LineItems) Scan(src any) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	case nil:
		*l = nil
		return nil
	default:
		return fmt.Errorf("unsupported lines type %T", src)
	}
}

// Bill is an immutable record of one sale.
type Bill struct {
	ID           uuid.UUID       `json:"id" db:"id"`
	OperationID  uuid.UUID       `json:"operation_id" db:"operation_id"`
	CustomerName string          `json:"customer_name" db:"customer_name"`
	Lines        LineItems       `json:"lines" db:"lines"`
	Total        decimal.Decimal `json:"total" db:"total"`
	TaxTotal     decimal.Decimal `json:"tax_total" db:"tax_total"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

// LineRequest asks for qty units of one product.
type LineRequest struct {
	ProductID uuid.UUID `json:"product_id"`
	Quantity  int       `json:"quantity"`
}

// CreateBillRequest is replayable: the same OperationID always yields the
// same bill and moves stock at most once.
type CreateBillRequest struct {
	OperationID  uuid.UUID     `json:"operation_id"`
	CustomerName string        `json:"customer_name"`
	Lines        []LineRequest `json:"lines"`
}

func (r CreateBillRequest) mergedLines() ([]LineRequest, error) {
	if len(r.Lines) == 0 {
		return nil, fmt.Errorf("%w: at least one line is required", ErrInvalidBill)
	}
	index := make(map[uuid.UUID]int, len(r.Lines))
	merged := make([]LineRequest, 0, len(r.Lines))
	for _, l := range r.Lines {
		if l.ProductID == uuid.Nil {
			return nil, fmt.Errorf("%w: product_id is required", ErrInvalidBill)
		}
		if l.Quantity < 1 {
			return nil, fmt.Errorf("%w: quantity must be at least 1", ErrInvalidBill)
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

func newLineItem(p *catalog.Product, qty int) LineItem {
	amount := p.Price.Mul(decimal.NewFromInt(int64(qty)))
	return LineItem{
		ProductID:   p.ID,
		ProductName: p.Name,
		Category:    p.Category,
		Quantity:    qty,
		UnitPrice:   p.Price,
		TaxRate:     p.TaxRate,
		TaxAmount:   includedTax(amount, p.TaxRate),
		Amount:      amount,
	}
}

// includedTax extracts the tax share of a tax-inclusive amount.
func includedTax(amount, rate decimal.Decimal) decimal.Decimal {
	if rate.IsZero() {
		return decimal.Zero
	}
	return amount.Mul(rate).Div(hundred.Add(rate)).Round(2)
}

// Range selects the window of a sales report.
type Range string

const (
	RangeDaily   Range = "daily"
	RangeWeekly  Range = "weekly"
	RangeMonthly Range = "monthly"
)

// ParseRange defaults to daily.
func ParseRange(s string) (Range, error) {
	switch Range(s) {
	case "", RangeDaily:
		return RangeDaily, nil
	case RangeWeekly, RangeMonthly:
		return Range(s), nil
	}
	return "", fmt.Errorf("%w: unknown range %q", ErrInvalidBill, s)
}

// Since returns the start of the window ending at now.
func (r Range) Since(now time.Time) time.Time {
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	switch r {
	case RangeWeekly:
		return day.AddDate(0, 0, -6)
	case RangeMonthly:
		return day.AddDate(0, -1, 0)
	default:
		return day
	}
}

type ProductSales struct {
	ProductID        uuid.UUID       `json:"product_id"`
	ProductName      string          `json:"product_name"`
	Category         string          `json:"category"`
	TotalSold        int             `json:"total_sold"`
	TotalRevenue     decimal.Decimal `json:"total_revenue"`
	DemandPercentage decimal.Decimal `json:"demand_percentage"`
	AvailableStock   int             `json:"available_stock"`
}

type DaySales struct {
	Day  string `json:"day"`
	Sold int    `json:"sold"`
}

// Report aggregates bills inside a Range.
type Report struct {
	Range        Range           `json:"range"`
	Since        time.Time       `json:"since"`
	Products     []ProductSales  `json:"products"`
	TotalSold    int             `json:"total_sold"`
	TotalRevenue decimal.Decimal `json:"total_revenue"`
	Trend        []DaySales      `json:"trend"`
}
