// Package api exposes the cart to the UI layer over HTTP and pushes cart
// snapshots to WebSocket clients.
//
// Handlers never hold a store of their own: they resolve it from the
// request context, which cart.Middleware populates.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"

	"github.com/gomarketplace/cart-engine/internal/cart"
	"github.com/gomarketplace/cart-engine/internal/model"
)

// Service handles cart requests.
type Service struct {
	logger *slog.Logger
}

// NewService creates a new cart HTTP service. A nil logger falls back to
// slog.Default().
func NewService(logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{logger: logger}
}

// --- Request/Response types ---

// AddItemRequest is the JSON body for POST /cart/items.
type AddItemRequest struct {
	ID       string          `json:"id"`
	Title    string          `json:"title"`
	ImageURL string          `json:"imageUrl"`
	Price    decimal.Decimal `json:"price"`
}

// ItemResponse is one line item as the UI sees it. Price is a bare JSON
// number, the same shape the persisted cart uses.
type ItemResponse struct {
	ID       string      `json:"id"`
	Title    string      `json:"title"`
	ImageURL string      `json:"imageUrl"`
	Price    json.Number `json:"price"`
	Quantity int         `json:"quantity"`
}

// CartResponse is the JSON body returned by every cart endpoint.
type CartResponse struct {
	Items []ItemResponse `json:"items"`
	Units int            `json:"units"`
}

func newCartResponse(c model.Cart) CartResponse {
	items := make([]ItemResponse, 0, len(c))
	for _, item := range c {
		items = append(items, ItemResponse{
			ID:       item.ID,
			Title:    item.Title,
			ImageURL: item.ImageURL,
			Price:    json.Number(item.Price.String()),
			Quantity: item.Quantity,
		})
	}
	return CartResponse{Items: items, Units: c.TotalUnits()}
}

// --- HTTP Handlers ---

// GetCart handles GET /api/v1/cart
func (s *Service) GetCart(w http.ResponseWriter, r *http.Request) {
	st := cart.FromContext(r.Context())
	writeJSON(w, http.StatusOK, newCartResponse(st.Products()))
}

// AddItem handles POST /api/v1/cart/items
func (s *Service) AddItem(w http.ResponseWriter, r *http.Request) {
	var req AddItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.ID == "" {
		writeError(w, "id is required", http.StatusBadRequest)
		return
	}

	st := cart.FromContext(r.Context())
	c := st.AddToCart(model.Product{
		ID:       req.ID,
		Title:    req.Title,
		ImageURL: req.ImageURL,
		Price:    req.Price,
	})

	s.logger.Info("cart item added",
		"id", req.ID,
		"items", len(c),
		"request_id", middleware.GetReqID(r.Context()),
	)
	writeJSON(w, http.StatusOK, newCartResponse(c))
}

// IncrementItem handles POST /api/v1/cart/items/{itemID}/increment
func (s *Service) IncrementItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "itemID")
	c := cart.FromContext(r.Context()).Increment(id)
	writeJSON(w, http.StatusOK, newCartResponse(c))
}

// DecrementItem handles POST /api/v1/cart/items/{itemID}/decrement
func (s *Service) DecrementItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "itemID")
	c := cart.FromContext(r.Context()).Decrement(id)
	writeJSON(w, http.StatusOK, newCartResponse(c))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
