// internal/stock/handler.go
package stock

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"quickbill/internal/catalog"
	"quickbill/internal/platform/httpx"
)

type Handler struct {
	recorder Recorder
	logger   zerolog.Logger
}

func NewHandler(recorder Recorder, logger zerolog.Logger) *Handler {
	return &Handler{recorder: recorder, logger: logger}
}

// Mount registers the adjustment routes on r.
func (h *Handler) Mount(r chi.Router) {
	r.Post("/products/{id}/sales", h.handleSale)
	r.Post("/products/{id}/restocks", h.handleRestock)
	r.Post("/products/{id}/adjustments", h.handleAdjustment)
	r.Post("/operations", h.handleBatch)
}

// QuantityRequest is the body of sale and restock calls.
type QuantityRequest struct {
	Quantity    int       `json:"quantity"`
	OperationID uuid.UUID `json:"operation_id"`
}

// DeltaRequest is the body of a correction.
type DeltaRequest struct {
	Delta       int       `json:"delta"`
	OperationID uuid.UUID `json:"operation_id"`
}

// BatchRequest sells several products under one operation.
type BatchRequest struct {
	OperationID uuid.UUID `json:"operation_id"`
	Lines       []Line    `json:"lines"`
}

// BatchResponse lists the quantity of every product touched by a batch.
type BatchResponse struct {
	Results []Result `json:"results"`
}

func (h *Handler) handleSale(w http.ResponseWriter, r *http.Request) {
	id, err := catalog.ProductID(r)
	if err != nil {
		httpx.BadRequest(w, "invalid product ID")
		return
	}
	var req QuantityRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.BadRequest(w, err.Error())
		return
	}
	res, err := h.recorder.RecordSale(r.Context(), req.OperationID, id, req.Quantity)
	h.respond(w, res, err)
}

func (h *Handler) handleRestock(w http.ResponseWriter, r *http.Request) {
	id, err := catalog.ProductID(r)
	if err != nil {
		httpx.BadRequest(w, "invalid product ID")
		return
	}
	var req QuantityRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.BadRequest(w, err.Error())
		return
	}
	res, err := h.recorder.RecordRestock(r.Context(), req.OperationID, id, req.Quantity)
	h.respond(w, res, err)
}

func (h *Handler) handleAdjustment(w http.ResponseWriter, r *http.Request) {
	id, err := catalog.ProductID(r)
	if err != nil {
		httpx.BadRequest(w, "invalid product ID")
		return
	}
	var req DeltaRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.BadRequest(w, err.Error())
		return
	}
	res, err := h.recorder.RecordDelta(r.Context(), req.OperationID, id, req.Delta)
	h.respond(w, res, err)
}

func (h *Handler) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.BadRequest(w, err.Error())
		return
	}
	if req.OperationID == uuid.Nil {
		httpx.BadRequest(w, "operation_id is required")
		return
	}
	results, err := h.recorder.RecordBatch(r.Context(), req.OperationID, req.Lines)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, BatchResponse{Results: results})
}

func (h *Handler) respond(w http.ResponseWriter, res *Result, err error) {
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	apiErr := catalog.ErrorResponse(err)
	if apiErr.StatusCode == http.StatusInternalServerError {
		h.logger.Error().Err(err).Msg("unexpected stock error")
	}
	httpx.WriteError(w, apiErr)
}
