package billing

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quickbill/internal/platform/httpx"
)

func TestHandlerBills(t *testing.T) {
	f := newFixture(t)
	milk := f.product(t, "Milk", "56.00", 12, 5)

	r := chi.NewRouter()
	NewHandler(f.service, zerolog.Nop()).Mount(r)
	srv := httptest.NewServer(r)
	defer srv.Close()

	opID := uuid.NewString()
	body := `{"operation_id":"` + opID + `","customer_name":"Ravi","lines":[{"product_id":"` + milk.ID.String() + `","quantity":2}]}`

	resp, err := http.Post(srv.URL+"/bills", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	var bill Bill
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&bill))
	resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "Ravi", bill.CustomerName)

	resp, err = http.Post(srv.URL+"/bills", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	tooMany := `{"customer_name":"Ravi","lines":[{"product_id":"` + milk.ID.String() + `","quantity":9}]}`
	resp, err = http.Post(srv.URL+"/bills", "application/json", strings.NewReader(tooMany))
	require.NoError(t, err)
	var env httpx.Envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, httpx.CodeInsufficientStock, env.Error.Code)
	require.NotNil(t, env.Error.Available)
	assert.Equal(t, 3, *env.Error.Available)

	resp, err = http.Get(srv.URL + "/bills/" + bill.ID.String())
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/bills")
	require.NoError(t, err)
	var bills []Bill
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&bills))
	resp.Body.Close()
	assert.Len(t, bills, 1)

	resp, err = http.Get(srv.URL + "/reports?range=weekly")
	require.NoError(t, err)
	var report Report
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))
	resp.Body.Close()
	assert.Equal(t, RangeWeekly, report.Range)
	assert.Equal(t, 2, report.TotalSold)

	resp, err = http.Get(srv.URL + "/reports?range=yearly")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/bills/"+bill.ID.String(), nil)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/bills/" + bill.ID.String())
	require.NoError(t, err)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, httpx.CodeBillNotFound, env.Error.Code)

	resp, err = http.Post(srv.URL+"/bills", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	resp.Body.Close()
	assert.Equal(t, http.StatusGone, resp.StatusCode)
	assert.Equal(t, httpx.CodeBillDeleted, env.Error.Code)
	assert.Equal(t, 3, f.quantity(t, milk.ID))
}
