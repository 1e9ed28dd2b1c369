// internal/platform/httpx/httpx.go
package httpx

import (
	"encoding/json"
	"net/http"
)

// Error codes shared by every quickbill HTTP API. Clients map them back onto
// typed errors, so they are part of the wire contract.
const (
	CodeValidationFailed  = "validation_failed"
	CodeProductNotFound   = "product_not_found"
	CodeBillNotFound      = "bill_not_found"
	CodeBillDeleted       = "bill_deleted"
	CodeInsufficientStock = "insufficient_stock"
	CodeDuplicateProduct  = "duplicate_product"
	CodeProductReferenced = "product_referenced"
	CodeOperationConflict = "operation_conflict"
	CodeUnavailable       = "unavailable"
	CodeInternal          = "internal_error"
)

// APIError is the JSON error body.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	ProductID  string `json:"product_id,omitempty"`
	Requested  *int   `json:"requested,omitempty"`
	Available  *int   `json:"available,omitempty"`
	Details    string `json:"details,omitempty"`
}

func (e *APIError) Error() string { return e.Message }

// NewAPIError creates a new APIError instance.
func NewAPIError(statusCode int, code, message string) *APIError {
	return &APIError{StatusCode: statusCode, Code: code, Message: message}
}

// Envelope wraps error bodies on the wire.
type Envelope struct {
	Error *APIError `json:"error"`
}

// WriteJSON encodes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// WriteError sends a standardized JSON error response.
func WriteError(w http.ResponseWriter, apiErr *APIError) {
	WriteJSON(w, apiErr.StatusCode, Envelope{Error: apiErr})
}

// BadRequest is a shortcut for validation failures.
func BadRequest(w http.ResponseWriter, message string) {
	WriteError(w, NewAPIError(http.StatusBadRequest, CodeValidationFailed, message))
}

// DecodeJSON decodes the request body into v, rejecting unknown fields.
func DecodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
