package http

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/utafrali/storefront/internal/cartstore"
	"github.com/utafrali/storefront/internal/domain"
	apperrors "github.com/utafrali/storefront/pkg/errors"
	"github.com/utafrali/storefront/pkg/httputil"
	"github.com/utafrali/storefront/pkg/validator"
)

// CartHandler serves the session's cart. Every route must run behind
// SessionScope.
type CartHandler struct {
	logger *slog.Logger
}

// NewCartHandler creates a new cart HTTP handler.
func NewCartHandler(logger *slog.Logger) *CartHandler {
	return &CartHandler{logger: logger}
}

// --- Request DTOs ---

// AddItemRequest is the JSON request body for adding an item to the cart.
// A missing price counts as zero.
type AddItemRequest struct {
	Name     string  `json:"name" validate:"notblank,max=200"`
	Price    float64 `json:"price"`
	ImageSrc string  `json:"imageSrc" validate:"max=2048"`
	AltText  string  `json:"altText" validate:"max=500"`
}

// --- Response DTOs ---

// CartResponse is the cart as rendered to the storefront.
type CartResponse struct {
	Items         domain.Cart `json:"items"`
	TotalPrice    float64     `json:"total_price"`
	TotalQuantity int         `json:"total_quantity"`
}

func cartResponse(s cartstore.Snapshot) CartResponse {
	return CartResponse{
		Items:         s.Items,
		TotalPrice:    s.TotalPrice,
		TotalQuantity: s.TotalQuantity,
	}
}

// --- Handlers ---

// GetCart handles GET /api/v1/cart
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	store := cartstore.MustFromContext(r.Context())
	httputil.WriteData(w, http.StatusOK, cartResponse(store.Snapshot()))
}

// AddItem handles POST /api/v1/cart/items
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	store := cartstore.MustFromContext(r.Context())

	var req AddItemRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, r, err)
		return
	}

	snap := store.AddItem(r.Context(), domain.CartLine{
		Name:     req.Name,
		Price:    req.Price,
		ImageSrc: req.ImageSrc,
		AltText:  req.AltText,
	})
	httputil.WriteData(w, http.StatusOK, cartResponse(snap))
}

// IncreaseQuantity handles POST /api/v1/cart/items/{name}/increase
func (h *CartHandler) IncreaseQuantity(w http.ResponseWriter, r *http.Request) {
	h.mutateLine(w, r, (*cartstore.Store).IncreaseQuantity)
}

// DecreaseQuantity handles POST /api/v1/cart/items/{name}/decrease
func (h *CartHandler) DecreaseQuantity(w http.ResponseWriter, r *http.Request) {
	h.mutateLine(w, r, (*cartstore.Store).DecreaseQuantity)
}

// RemoveItem handles DELETE /api/v1/cart/items/{name}
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	h.mutateLine(w, r, (*cartstore.Store).RemoveItem)
}

// ClearCart handles DELETE /api/v1/cart
func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	store := cartstore.MustFromContext(r.Context())
	httputil.WriteData(w, http.StatusOK, cartResponse(store.Clear(r.Context())))
}

type lineOp func(s *cartstore.Store, ctx context.Context, name string) cartstore.Snapshot

func (h *CartHandler) mutateLine(w http.ResponseWriter, r *http.Request, op lineOp) {
	store := cartstore.MustFromContext(r.Context())

	name, err := lineName(r)
	if err != nil || name == "" {
		httputil.WriteError(w, r, apperrors.InvalidInput("invalid item name"), h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, cartResponse(op(store, r.Context(), name)))
}

// lineName returns the decoded {name} segment. chi routes on RawPath when the
// request carried escapes such as %2F that Path cannot represent; only then
// is the captured segment still encoded.
func lineName(r *http.Request) (string, error) {
	name := chi.URLParam(r, "name")
	if r.URL.RawPath == "" {
		return name, nil
	}
	return url.PathUnescape(name)
}
