// internal/clients/billing_client.go
package clients

import (
	"context"
	"net/http"
	"net/url"

	"github.com/google/uuid"

	"quickbill/internal/billing"
)

// BillingClient talks to the billing service. It satisfies
// offline.BillCreator.
type BillingClient struct {
	*client
}

func NewBillingClient(baseURL string, opts Options) *BillingClient {
	return &BillingClient{client: newClient("billing", baseURL, opts)}
}

// CreateBill reports created=false when the service already had a bill for
// req.OperationID.
func (c *BillingClient) CreateBill(ctx context.Context, req billing.CreateBillRequest) (*billing.Bill, bool, error) {
	var bill billing.Bill
	status, err := c.do(ctx, http.MethodPost, "/bills", req, &bill)
	if err != nil {
		return nil, false, err
	}
	return &bill, status == http.StatusCreated, nil
}

func (c *BillingClient) GetBill(ctx context.Context, id uuid.UUID) (*billing.Bill, error) {
	var bill billing.Bill
	if _, err := c.do(ctx, http.MethodGet, "/bills/"+id.String(), nil, &bill); err != nil {
		return nil, err
	}
	return &bill, nil
}

// DeleteBill hides a bill. Its operation ID cannot be billed again.
func (c *BillingClient) DeleteBill(ctx context.Context, id uuid.UUID) error {
	_, err := c.do(ctx, http.MethodDelete, "/bills/"+id.String(), nil, nil)
	return err
}

func (c *BillingClient) Report(ctx context.Context, r billing.Range) (*billing.Report, error) {
	var report billing.Report
	q := url.Values{"range": {string(r)}}
	if _, err := c.do(ctx, http.MethodGet, "/reports?"+q.Encode(), nil, &report); err != nil {
		return nil, err
	}
	return &report, nil
}
