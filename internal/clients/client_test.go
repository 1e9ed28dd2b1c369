package clients

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quickbill/internal/billing"
	"quickbill/internal/catalog"
	"quickbill/internal/offline"
	"quickbill/internal/platform/httpx"
	"quickbill/internal/stock"
)

type services struct {
	store   *catalog.MemoryStore
	stock   *StockClient
	billing *BillingClient
}

func startServices(t *testing.T) *services {
	t.Helper()
	store := catalog.NewMemoryStore()
	engine := stock.NewEngine(store, zerolog.Nop())

	catalogRouter := chi.NewRouter()
	catalog.NewHandler(store, zerolog.Nop()).Mount(catalogRouter)
	stock.NewHandler(engine, zerolog.Nop()).Mount(catalogRouter)
	catalogSrv := httptest.NewServer(catalogRouter)
	t.Cleanup(catalogSrv.Close)

	stockClient := NewStockClient(catalogSrv.URL, Options{Timeout: time.Second})

	billingRouter := chi.NewRouter()
	svc := billing.NewService(billing.NewMemoryStore(), stockClient, zerolog.Nop())
	billing.NewHandler(svc, zerolog.Nop()).Mount(billingRouter)
	billingSrv := httptest.NewServer(billingRouter)
	t.Cleanup(billingSrv.Close)

	return &services{
		store:   store,
		stock:   stockClient,
		billing: NewBillingClient(billingSrv.URL, Options{Timeout: time.Second}),
	}
}

func (s *services) product(t *testing.T, name string, qty int) uuid.UUID {
	t.Helper()
	p := &catalog.Product{Name: name, Category: "Dairy", Price: decimal.NewFromInt(30), TaxRate: decimal.NewFromInt(5), QuantityAvailable: qty}
	require.NoError(t, s.store.Create(context.Background(), p))
	return p.ID
}

func TestStockClientRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := startServices(t)
	milk := s.product(t, "Milk", 10)

	p, err := s.stock.GetProduct(ctx, milk)
	require.NoError(t, err)
	assert.Equal(t, "Milk", p.Name)
	assert.True(t, p.Price.Equal(decimal.NewFromInt(30)))

	found, err := s.stock.LookupProduct(ctx, "milk", "DAIRY")
	require.NoError(t, err)
	assert.Equal(t, milk, found.ID)

	opID := uuid.New()
	res, err := s.stock.RecordSale(ctx, opID, milk, 4)
	require.NoError(t, err)
	assert.Equal(t, 6, res.NewQuantity)
	assert.False(t, res.Replayed)

	res, err = s.stock.RecordSale(ctx, opID, milk, 4)
	require.NoError(t, err)
	assert.Equal(t, 6, res.NewQuantity)
	assert.True(t, res.Replayed)

	res, err = s.stock.RecordRestock(ctx, uuid.New(), milk, 2)
	require.NoError(t, err)
	assert.Equal(t, 8, res.NewQuantity)

	res, err = s.stock.RecordDelta(ctx, uuid.New(), milk, -3)
	require.NoError(t, err)
	assert.Equal(t, 5, res.NewQuantity)

	products, err := s.stock.ListProducts(ctx)
	require.NoError(t, err)
	assert.Len(t, products, 1)
}

func TestStockClientMapsErrors(t *testing.T) {
	ctx := context.Background()
	s := startServices(t)
	milk := s.product(t, "Milk", 6)

	_, err := s.stock.RecordSale(ctx, uuid.New(), milk, 10)
	var insufficient *catalog.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, milk, insufficient.ProductID)
	assert.Equal(t, 10, insufficient.Requested)
	assert.Equal(t, 6, insufficient.Available)
	assert.Equal(t, stock.OutcomeInsufficientStock, stock.Classify(err))

	_, err = s.stock.GetProduct(ctx, uuid.New())
	assert.ErrorIs(t, err, catalog.ErrNotFound)

	_, err = s.stock.RecordSale(ctx, uuid.New(), uuid.New(), 1)
	assert.ErrorIs(t, err, catalog.ErrNotFound)

	_, err = s.stock.RecordSale(ctx, uuid.New(), milk, 0)
	assert.Equal(t, stock.OutcomeInvalid, stock.Classify(err))

	opID := uuid.New()
	_, err = s.stock.RecordSale(ctx, opID, milk, 1)
	require.NoError(t, err)
	_, err = s.stock.RecordSale(ctx, opID, milk, 2)
	assert.ErrorIs(t, err, catalog.ErrOperationConflict)
}

func TestStockClientBatch(t *testing.T) {
	ctx := context.Background()
	s := startServices(t)
	milk := s.product(t, "Milk", 5)
	curd := s.product(t, "Curd", 1)

	results, err := s.stock.RecordBatch(ctx, uuid.New(), []stock.Line{
		{ProductID: milk, Quantity: 2},
		{ProductID: curd, Quantity: 1},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, 3, results[0].NewQuantity)
	assert.Equal(t, 0, results[1].NewQuantity)

	_, err = s.stock.RecordBatch(ctx, uuid.New(), []stock.Line{
		{ProductID: milk, Quantity: 1},
		{ProductID: curd, Quantity: 1},
	})
	assert.ErrorIs(t, err, catalog.ErrInsufficientStock)

	p, err := s.stock.GetProduct(ctx, milk)
	require.NoError(t, err)
	assert.Equal(t, 3, p.QuantityAvailable)
}

func TestBillingClient(t *testing.T) {
	ctx := context.Background()
	s := startServices(t)
	milk := s.product(t, "Milk", 5)

	req := billing.CreateBillRequest{
		OperationID:  uuid.New(),
		CustomerName: "Asha",
		Lines:        []billing.LineRequest{{ProductID: milk, Quantity: 2}},
	}
	bill, created, err := s.billing.CreateBill(ctx, req)
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, bill.Total.Equal(decimal.NewFromInt(60)))

	again, created, err := s.billing.CreateBill(ctx, req)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, bill.ID, again.ID)

	got, err := s.billing.GetBill(ctx, bill.ID)
	require.NoError(t, err)
	assert.Equal(t, "Asha", got.CustomerName)

	_, err = s.billing.GetBill(ctx, uuid.New())
	assert.ErrorIs(t, err, billing.ErrBillNotFound)

	_, _, err = s.billing.CreateBill(ctx, billing.CreateBillRequest{
		Lines: []billing.LineRequest{{ProductID: milk, Quantity: 9}},
	})
	var insufficient *catalog.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, 3, insufficient.Available)

	report, err := s.billing.Report(ctx, billing.RangeDaily)
	require.NoError(t, err)
	assert.Equal(t, 2, report.TotalSold)
	require.Len(t, report.Products, 1)
	assert.Equal(t, 3, report.Products[0].AvailableStock)
}

func TestBillingClientDeletedBillStaysDeleted(t *testing.T) {
	ctx := context.Background()
	s := startServices(t)
	milk := s.product(t, "Milk", 10)

	req := billing.CreateBillRequest{
		OperationID: uuid.New(),
		Lines:       []billing.LineRequest{{ProductID: milk, Quantity: 3}},
	}
	bill, created, err := s.billing.CreateBill(ctx, req)
	require.NoError(t, err)
	require.True(t, created)
	require.NoError(t, s.billing.DeleteBill(ctx, bill.ID))

	_, created, err = s.billing.CreateBill(ctx, req)
	require.ErrorIs(t, err, billing.ErrBillDeleted)
	assert.NotErrorIs(t, err, catalog.ErrUnavailable)
	assert.False(t, created)

	p, err := s.stock.GetProduct(ctx, milk)
	require.NoError(t, err)
	assert.Equal(t, 7, p.QuantityAvailable)
}

func TestOfflineQueueOverHTTP(t *testing.T) {
	ctx := context.Background()
	s := startServices(t)
	milk := s.product(t, "Milk", 5)

	d := offline.Dispatcher{Stock: s.stock, Bills: s.billing}
	q, err := offline.NewQueue(ctx, offline.NewMemoryJournal(), d, zerolog.Nop())
	require.NoError(t, err)

	for _, qty := range []int{3, 3} {
		_, err := q.Enqueue(ctx, offline.PendingOperation{
			Kind:       offline.KindAdjustment,
			Adjustment: &offline.AdjustmentPayload{ProductID: milk, Reason: catalog.ReasonSale, Amount: qty},
		})
		require.NoError(t, err)
	}

	report, err := q.Drain(ctx)
	require.NoError(t, err)
	assert.Len(t, report.Committed, 1)
	require.Len(t, report.Rejected, 1)
	assert.Equal(t, "Only 2 units available", report.Rejected[0].Message)

	p, err := s.stock.GetProduct(ctx, milk)
	require.NoError(t, err)
	assert.Equal(t, 2, p.QuantityAvailable)
}

func TestBreakerOpensOnOutage(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		httpx.WriteError(w, httpx.NewAPIError(http.StatusServiceUnavailable, httpx.CodeUnavailable, "database down"))
	}))
	defer srv.Close()

	c := NewStockClient(srv.URL, Options{Timeout: time.Second, BreakerFailures: 2, OpenPeriod: time.Minute})
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := c.RecordSale(ctx, uuid.New(), uuid.New(), 1)
		require.ErrorIs(t, err, catalog.ErrUnavailable)
	}

	_, err := c.RecordSale(ctx, uuid.New(), uuid.New(), 1)
	require.ErrorIs(t, err, catalog.ErrUnavailable)
	assert.Equal(t, stock.OutcomeTransient, stock.Classify(err))
	assert.Equal(t, int32(2), hits.Load(), "open breaker must not reach the server")
}

func TestBreakerIgnoresRejections(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		httpx.WriteError(w, catalog.ErrorResponse(&catalog.InsufficientStockError{Requested: 2, Available: 1}))
	}))
	defer srv.Close()

	c := NewStockClient(srv.URL, Options{Timeout: time.Second, BreakerFailures: 1, OpenPeriod: time.Minute})
	for i := 0; i < 3; i++ {
		_, err := c.RecordSale(context.Background(), uuid.New(), uuid.New(), 2)
		require.ErrorIs(t, err, catalog.ErrInsufficientStock)
	}
	assert.Equal(t, int32(3), hits.Load())
}

func TestUnreachableServiceIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewStockClient(url, Options{Timeout: 200 * time.Millisecond})
	_, err := c.GetProduct(context.Background(), uuid.New())
	require.Error(t, err)
	assert.True(t, errors.Is(err, catalog.ErrUnavailable))
}
