// internal/billing/service.go
package billing

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"quickbill/internal/catalog"
	"quickbill/internal/stock"
)

// Store persists bills. Create fails with ErrDuplicateBill when a bill for
// the same OperationID exists.
type Store interface {
	Create(ctx context.Context, b *Bill) error
	Get(ctx context.Context, id uuid.UUID) (*Bill, error)
	GetByOperation(ctx context.Context, opID uuid.UUID) (*Bill, error)
	List(ctx context.Context, since time.Time) ([]*Bill, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// StockService is the part of the stock core billing depends on.
type StockService interface {
	GetProduct(ctx context.Context, id uuid.UUID) (*catalog.Product, error)
	RecordBatch(ctx context.Context, opID uuid.UUID, lines []stock.Line) ([]stock.Result, error)
}

// LocalStock serves StockService from an in-process engine.
type LocalStock struct {
	*stock.Engine
}

func (l LocalStock) GetProduct(ctx context.Context, id uuid.UUID) (*catalog.Product, error) {
	return l.Store().Get(ctx, id)
}

type Service struct {
	bills  Store
	stock  StockService
	logger zerolog.Logger
	now    func() time.Time
}

func NewService(bills Store, stock StockService, logger zerolog.Logger) *Service {
	return &Service{
		bills:  bills,
		stock:  stock,
		logger: logger.With().Str("component", "billing").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// CreateBill records a sale and its stock decrement as one logical
// operation. It reports created=false when the operation was already
// recorded, in which case the stored bill is returned unchanged.
func (s *Service) CreateBill(ctx context.Context, req CreateBillRequest) (bill *Bill, created bool, err error) {
	lines, err := req.mergedLines()
	if err != nil {
		return nil, false, err
	}
	if req.OperationID == uuid.Nil {
		req.OperationID = uuid.New()
	}
	customer := strings.TrimSpace(req.CustomerName)
	if customer == "" {
		customer = "Walk-in customer"
	}

	existing, err := s.bills.GetByOperation(ctx, req.OperationID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrBillNotFound) {
		// ErrBillDeleted lands here too: its stock already moved once.
		return nil, false, err
	}

	// Snapshots come from a plain read. Whether stock suffices is decided
	// only by RecordBatch, so a retry after the batch committed still
	// converges.
	items := make(LineItems, len(lines))
	batch := make([]stock.Line, len(lines))
	for i, l := range lines {
		p, err := s.stock.GetProduct(ctx, l.ProductID)
		if err != nil {
			return nil, false, err
		}
		items[i] = newLineItem(p, l.Quantity)
		batch[i] = stock.Line{ProductID: l.ProductID, Quantity: l.Quantity}
	}

	results, err := s.stock.RecordBatch(ctx, req.OperationID, batch)
	if err != nil {
		return nil, false, err
	}

	bill = &Bill{
		ID:           uuid.New(),
		OperationID:  req.OperationID,
		CustomerName: customer,
		Lines:        items,
		Total:        decimal.Zero,
		TaxTotal:     decimal.Zero,
		CreatedAt:    s.now(),
	}
	for _, item := range items {
		bill.Total = bill.Total.Add(item.Amount)
		bill.TaxTotal = bill.TaxTotal.Add(item.TaxAmount)
	}

	if err := s.bills.Create(ctx, bill); err != nil {
		if errors.Is(err, ErrDuplicateBill) {
			existing, getErr := s.bills.GetByOperation(ctx, req.OperationID)
			if getErr != nil {
				return nil, false, getErr
			}
			return existing, false, nil
		}
		s.logger.Error().Err(err).
			Str("operation_id", req.OperationID.String()).
			Msg("stock committed but bill not stored; retry with the same operation id")
		return nil, false, err
	}

	replayed := len(results) > 0 && results[0].Replayed
	s.logger.Info().
		Str("bill_id", bill.ID.String()).
		Str("operation_id", bill.OperationID.String()).
		Str("total", bill.Total.StringFixed(2)).
		Bool("stock_replayed", replayed).
		Msg("bill created")
	return bill, true, nil
}

func (s *Service) GetBill(ctx context.Context, id uuid.UUID) (*Bill, error) {
	return s.bills.Get(ctx, id)
}

// ListBills returns bills newest first.
func (s *Service) ListBills(ctx context.Context, since time.Time) ([]*Bill, error) {
	return s.bills.List(ctx, since)
}

// DeleteBill hides the bill. Stock is not restored, and the operation ID
// stays used so a replay fails with ErrBillDeleted.
func (s *Service) DeleteBill(ctx context.Context, id uuid.UUID) error {
	return s.bills.Delete(ctx, id)
}

// Report aggregates sales per product over r and attaches the current stock
// of each product.
func (s *Service) Report(ctx context.Context, r Range) (*Report, error) {
	now := s.now()
	since := r.Since(now)
	bills, err := s.bills.List(ctx, since)
	if err != nil {
		return nil, err
	}

	report := &Report{Range: r, Since: since, TotalRevenue: decimal.Zero, Products: []ProductSales{}}

	trend := make(map[string]int, 7)
	for i := 6; i >= 0; i-- {
		trend[now.AddDate(0, 0, -i).Format(time.DateOnly)] = 0
	}

	byProduct := make(map[uuid.UUID]*ProductSales)
	for _, b := range bills {
		day := b.CreatedAt.In(now.Location()).Format(time.DateOnly)
		for _, item := range b.Lines {
			ps, ok := byProduct[item.ProductID]
			if !ok {
				ps = &ProductSales{
					ProductID:    item.ProductID,
					ProductName:  item.ProductName,
					Category:     item.Category,
					TotalRevenue: decimal.Zero,
				}
				byProduct[item.ProductID] = ps
			}
			ps.TotalSold += item.Quantity
			ps.TotalRevenue = ps.TotalRevenue.Add(item.Amount)
			report.TotalSold += item.Quantity
			report.TotalRevenue = report.TotalRevenue.Add(item.Amount)
			if _, tracked := trend[day]; tracked {
				trend[day] += item.Quantity
			}
		}
	}

	for _, ps := range byProduct {
		if report.TotalSold > 0 {
			ps.DemandPercentage = decimal.NewFromInt(int64(ps.TotalSold)).
				Mul(hundred).
				Div(decimal.NewFromInt(int64(report.TotalSold))).
				Round(2)
		}
		p, err := s.stock.GetProduct(ctx, ps.ProductID)
		switch {
		case err == nil:
			ps.AvailableStock = p.QuantityAvailable
		case errors.Is(err, catalog.ErrNotFound):
		default:
			return nil, fmt.Errorf("read stock for %s: %w", ps.ProductID, err)
		}
		report.Products = append(report.Products, *ps)
	}
	sort.Slice(report.Products, func(i, j int) bool {
		a, b := report.Products[i], report.Products[j]
		if a.TotalSold != b.TotalSold {
			return a.TotalSold > b.TotalSold
		}
		return a.ProductName < b.ProductName
	})

	for i := 6; i >= 0; i-- {
		day := now.AddDate(0, 0, -i).Format(time.DateOnly)
		report.Trend = append(report.Trend, DaySales{Day: day, Sold: trend[day]})
	}
	return report, nil
}
