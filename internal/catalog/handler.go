// internal/catalog/handler.go
package catalog

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"quickbill/internal/platform/httpx"
)

type Handler struct {
	store  Store
	logger zerolog.Logger
}

func NewHandler(store Store, logger zerolog.Logger) *Handler {
	return &Handler{store: store, logger: logger}
}

// Mount registers the catalog routes on r.
func (h *Handler) Mount(r chi.Router) {
	r.Get("/products", h.handleList)
	r.Post("/products", h.handleCreate)
	r.Get("/products/lookup", h.handleLookup)
	r.Get("/products/{id}", h.handleGet)
	r.Patch("/products/{id}", h.handleUpdate)
	r.Delete("/products/{id}", h.handleDelete)
	r.Get("/products/{id}/ledger", h.handleLedger)
	r.Get("/ledger", h.handleStream)
}

// ErrorResponse maps store errors onto the shared wire codes.
func ErrorResponse(err error) *httpx.APIError {
	var insufficient *InsufficientStockError
	switch {
	case errors.As(err, &insufficient):
		apiErr := httpx.NewAPIError(http.StatusConflict, httpx.CodeInsufficientStock, insufficient.UserMessage())
		requested, available := insufficient.Requested, insufficient.Available
		apiErr.ProductID = insufficient.ProductID.String()
		apiErr.Requested = &requested
		apiErr.Available = &available
		return apiErr
	case errors.Is(err, ErrNotFound):
		return httpx.NewAPIError(http.StatusNotFound, httpx.CodeProductNotFound, err.Error())
	case errors.Is(err, ErrDuplicateProduct):
		return httpx.NewAPIError(http.StatusConflict, httpx.CodeDuplicateProduct, err.Error())
	case errors.Is(err, ErrProductReferenced):
		return httpx.NewAPIError(http.StatusConflict, httpx.CodeProductReferenced, err.Error())
	case errors.Is(err, ErrOperationConflict):
		return httpx.NewAPIError(http.StatusUnprocessableEntity, httpx.CodeOperationConflict, err.Error())
	case errors.Is(err, ErrInvalidProduct), errors.Is(err, ErrInvalidAdjustment):
		return httpx.NewAPIError(http.StatusBadRequest, httpx.CodeValidationFailed, err.Error())
	case errors.Is(err, ErrUnavailable):
		return httpx.NewAPIError(http.StatusServiceUnavailable, httpx.CodeUnavailable, "stock store temporarily unavailable")
	default:
		return httpx.NewAPIError(http.StatusInternalServerError, httpx.CodeInternal, "internal error")
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := ErrorResponse(err)
	if apiErr.StatusCode >= http.StatusInternalServerError {
		h.logger.Error().Err(err).Str("path", r.URL.Path).Msg("catalog request failed")
	}
	httpx.WriteError(w, apiErr)
}

// ProductID parses the {id} URL parameter.
func ProductID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "id"))
}

type createProductRequest struct {
	Name              string          `json:"name"`
	Category          string          `json:"category"`
	Price             decimal.Decimal `json:"price"`
	QuantityAvailable int             `json:"quantity_available"`
	TaxRate           decimal.Decimal `json:"tax_rate"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createProductRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.BadRequest(w, err.Error())
		return
	}

	p := &Product{
		Name:              req.Name,
		Category:          req.Category,
		Price:             req.Price,
		QuantityAvailable: req.QuantityAvailable,
		TaxRate:           req.TaxRate,
	}
	if err := h.store.Create(r.Context(), p); err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, p)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	products, err := h.store.List(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, products)
}

func (h *Handler) handleLookup(w http.ResponseWriter, r *http.Request) {
	name, category := r.URL.Query().Get("name"), r.URL.Query().Get("category")
	if name == "" || category == "" {
		httpx.BadRequest(w, "name and category are required")
		return
	}
	p, err := h.store.GetByName(r.Context(), name, category)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, p)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := ProductID(r)
	if err != nil {
		httpx.BadRequest(w, "invalid product ID")
		return
	}
	p, err := h.store.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, p)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := ProductID(r)
	if err != nil {
		httpx.BadRequest(w, "invalid product ID")
		return
	}
	var update DetailsUpdate
	if err := httpx.DecodeJSON(r, &update); err != nil {
		httpx.BadRequest(w, err.Error())
		return
	}
	p, err := h.store.UpdateDetails(r.Context(), id, update)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, p)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := ProductID(r)
	if err != nil {
		httpx.BadRequest(w, "invalid product ID")
		return
	}
	if err := h.store.Delete(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleLedger(w http.ResponseWriter, r *http.Request) {
	id, err := ProductID(r)
	if err != nil {
		httpx.BadRequest(w, "invalid product ID")
		return
	}
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		httpx.BadRequest(w, "limit must be an integer")
		return
	}
	if _, err := h.store.Get(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	entries, err := h.store.History(r.Context(), id, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if entries == nil {
		entries = []LedgerEntry{}
	}
	httpx.WriteJSON(w, http.StatusOK, entries)
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	after, err := queryInt(r, "after", 0)
	if err != nil {
		httpx.BadRequest(w, "after must be an integer")
		return
	}
	limit, err := queryInt(r, "limit", 500)
	if err != nil {
		httpx.BadRequest(w, "limit must be an integer")
		return
	}
	entries, err := h.store.Stream(r.Context(), int64(after), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if entries == nil {
		entries = []LedgerEntry{}
	}
	httpx.WriteJSON(w, http.StatusOK, entries)
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}
