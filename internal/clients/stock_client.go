// internal/clients/stock_client.go
package clients

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/google/uuid"

	"quickbill/internal/catalog"
	"quickbill/internal/stock"
)

// StockClient talks to the catalog service. It satisfies stock.Recorder and
// billing.StockService.
type StockClient struct {
	*client
}

func NewStockClient(baseURL string, opts Options) *StockClient {
	return &StockClient{client: newClient("catalog", baseURL, opts)}
}

func (c *StockClient) GetProduct(ctx context.Context, id uuid.UUID) (*catalog.Product, error) {
	var p catalog.Product
	if _, err := c.do(ctx, http.MethodGet, "/products/"+id.String(), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *StockClient) LookupProduct(ctx context.Context, name, category string) (*catalog.Product, error) {
	q := url.Values{"name": {name}, "category": {category}}
	var p catalog.Product
	if _, err := c.do(ctx, http.MethodGet, "/products/lookup?"+q.Encode(), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *StockClient) ListProducts(ctx context.Context) ([]*catalog.Product, error) {
	var products []*catalog.Product
	if _, err := c.do(ctx, http.MethodGet, "/products", nil, &products); err != nil {
		return nil, err
	}
	return products, nil
}

func (c *StockClient) RecordSale(ctx context.Context, opID, productID uuid.UUID, qty int) (*stock.Result, error) {
	return c.adjust(ctx, productID, "sales", stock.QuantityRequest{Quantity: qty, OperationID: opID})
}

func (c *StockClient) RecordRestock(ctx context.Context, opID, productID uuid.UUID, qty int) (*stock.Result, error) {
	return c.adjust(ctx, productID, "restocks", stock.QuantityRequest{Quantity: qty, OperationID: opID})
}

func (c *StockClient) RecordDelta(ctx context.Context, opID, productID uuid.UUID, delta int) (*stock.Result, error) {
	return c.adjust(ctx, productID, "adjustments", stock.DeltaRequest{Delta: delta, OperationID: opID})
}

func (c *StockClient) RecordBatch(ctx context.Context, opID uuid.UUID, lines []stock.Line) ([]stock.Result, error) {
	var resp stock.BatchResponse
	if _, err := c.do(ctx, http.MethodPost, "/operations", stock.BatchRequest{OperationID: opID, Lines: lines}, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

func (c *StockClient) adjust(ctx context.Context, productID uuid.UUID, kind string, body any) (*stock.Result, error) {
	var res stock.Result
	path := fmt.Sprintf("/products/%s/%s", productID, kind)
	if _, err := c.do(ctx, http.MethodPost, path, body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}
