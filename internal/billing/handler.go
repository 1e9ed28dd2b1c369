// internal/billing/handler.go
package billing

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"quickbill/internal/catalog"
	"quickbill/internal/platform/httpx"
)

type Handler struct {
	service *Service
	logger  zerolog.Logger
}

func NewHandler(service *Service, logger zerolog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) Mount(r chi.Router) {
	r.Post("/bills", h.handleCreate)
	r.Get("/bills", h.handleList)
	r.Get("/bills/{id}", h.handleGet)
	r.Delete("/bills/{id}", h.handleDelete)
	r.Get("/reports", h.handleReport)
}

func errorResponse(err error) *httpx.APIError {
	switch {
	case errors.Is(err, ErrBillDeleted):
		return httpx.NewAPIError(http.StatusGone, httpx.CodeBillDeleted, err.Error())
	case errors.Is(err, ErrBillNotFound):
		return httpx.NewAPIError(http.StatusNotFound, httpx.CodeBillNotFound, err.Error())
	case errors.Is(err, ErrInvalidBill):
		return httpx.NewAPIError(http.StatusBadRequest, httpx.CodeValidationFailed, err.Error())
	default:
		return catalog.ErrorResponse(err)
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := errorResponse(err)
	if apiErr.StatusCode >= http.StatusInternalServerError {
		h.logger.Error().Err(err).Str("path", r.URL.Path).Msg("billing request failed")
	}
	httpx.WriteError(w, apiErr)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateBillRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.BadRequest(w, err.Error())
		return
	}
	bill, created, err := h.service.CreateBill(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	httpx.WriteJSON(w, status, bill)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	var since time.Time
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			httpx.BadRequest(w, "since must be an RFC 3339 timestamp")
			return
		}
		since = t
	}
	bills, err := h.service.ListBills(r.Context(), since)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if bills == nil {
		bills = []*Bill{}
	}
	httpx.WriteJSON(w, http.StatusOK, bills)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.BadRequest(w, "invalid bill ID")
		return
	}
	bill, err := h.service.GetBill(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, bill)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.BadRequest(w, "invalid bill ID")
		return
	}
	if err := h.service.DeleteBill(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request) {
	rng, err := ParseRange(r.URL.Query().Get("range"))
	if err != nil {
		httpx.BadRequest(w, err.Error())
		return
	}
	report, err := h.service.Report(r.Context(), rng)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, report)
}
