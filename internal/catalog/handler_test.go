package catalog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quickbill/internal/platform/httpx"
)

func newTestServer(t *testing.T) (*httptest.Server, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	r := chi.NewRouter()
	NewHandler(store, zerolog.Nop()).Mount(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, store
}

func doJSON(t *testing.T, method, url, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var raw json.RawMessage
	if resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
	}
	return resp, raw
}

func TestHandlerProductLifecycle(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/products",
		`{"name":"Milk","category":"Dairy","price":"1.50","quantity_available":10,"tax_rate":"5"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created Product
	require.NoError(t, json.Unmarshal(body, &created))
	assert.Equal(t, 10, created.QuantityAvailable)

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/products",
		`{"name":"milk","category":"dairy","price":"1.00","quantity_available":1}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/products/lookup?name=Milk&category=Dairy", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var found Product
	require.NoError(t, json.Unmarshal(body, &found))
	assert.Equal(t, created.ID, found.ID)

	resp, body = doJSON(t, http.MethodPatch, srv.URL+"/products/"+created.ID.String(), `{"price":"1.75"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var updated Product
	require.NoError(t, json.Unmarshal(body, &updated))
	assert.True(t, updated.Price.Equal(decimal.RequireFromString("1.75")))
	assert.Equal(t, 10, updated.QuantityAvailable)

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/products", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []Product
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Len(t, list, 1)

	resp, _ = doJSON(t, http.MethodDelete, srv.URL+"/products/"+created.ID.String(), "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/products/"+created.ID.String(), "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	var env httpx.Envelope
	require.NoError(t, json.Unmarshal(body, &env))
	assert.Equal(t, httpx.CodeProductNotFound, env.Error.Code)
}

func TestHandlerRejectsQuantityPatch(t *testing.T) {
	srv, store := newTestServer(t)
	p := &Product{Name: "Bread", Category: "Bakery", Price: decimal.NewFromInt(2), QuantityAvailable: 4}
	require.NoError(t, store.Create(context.Background(), p))

	resp, _ := doJSON(t, http.MethodPatch, srv.URL+"/products/"+p.ID.String(), `{"quantity_available":99}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandlerLedger(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()
	p := &Product{Name: "Bread", Category: "Bakery", Price: decimal.NewFromInt(2), QuantityAvailable: 4}
	require.NoError(t, store.Create(ctx, p))
	_, err := CompareAndApply(ctx, store, p.ID, -1)
	require.NoError(t, err)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/products/"+p.ID.String()+"/ledger", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var entries []LedgerEntry
	require.NoError(t, json.Unmarshal(body, &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, 3, entries[0].NewQuantity)

	resp, _ = doJSON(t, http.MethodDelete, srv.URL+"/products/"+p.ID.String(), "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/ledger?after=0", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &entries))
	assert.Len(t, entries, 1)
}

func TestErrorResponse(t *testing.T) {
	apiErr := ErrorResponse(&InsufficientStockError{Requested: 3, Available: 2})
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Equal(t, httpx.CodeInsufficientStock, apiErr.Code)
	assert.Equal(t, "Only 2 units available", apiErr.Message)
	require.NotNil(t, apiErr.Available)
	assert.Equal(t, 2, *apiErr.Available)

	assert.Equal(t, http.StatusServiceUnavailable, ErrorResponse(unavailable(context.DeadlineExceeded)).StatusCode)
	assert.Equal(t, http.StatusUnprocessableEntity, ErrorResponse(ErrOperationConflict).StatusCode)
	assert.Equal(t, http.StatusBadRequest, ErrorResponse(ErrInvalidAdjustment).StatusCode)
}
