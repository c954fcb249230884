package http

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/fjod/craft_market/internal/cart/store"
	"github.com/fjod/craft_market/internal/checkout"
	"github.com/fjod/craft_market/internal/pricing"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CartHandler serves the buyer's cart through the cart store held by the
// buyer's checkout session, so the cart screen and checkout see one view.
type CartHandler struct {
	sessions *checkout.Registry
	timeout  time.Duration
	log      *zap.Logger
}

func NewCartHandler(sessions *checkout.Registry, timeout time.Duration, log *zap.Logger) *CartHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &CartHandler{
		sessions: sessions,
		timeout:  timeout,
		log:      log.Named("cart_handler"),
	}
}

type AddItemRequestDTO struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type UpdateQuantityRequestDTO struct {
	Delta int `json:"delta"`
}

type CartLineDTO struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	SellerID  string          `json:"seller_id"`
	State     string          `json:"state"`
}

type CartResponseDTO struct {
	Items     []CartLineDTO     `json:"items"`
	Breakdown pricing.Breakdown `json:"breakdown"`
	PromoCode string            `json:"promo_code,omitempty"`
	Loading   bool              `json:"loading"`
}

// GET /api/v1/cart
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	customerID, ok := requireCustomer(w, r)
	if !ok {
		return
	}
	s, err := h.sessions.Get(ctx, customerID)
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	if err := s.Load(ctx); err != nil {
		handleError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, cartResponse(s.View()))
}

// POST /api/v1/cart/items
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	customerID, ok := requireCustomer(w, r)
	if !ok {
		return
	}
	var req AddItemRequestDTO
	if !decodeJSON(w, r, &req) {
		return
	}
	req.ProductID = strings.TrimSpace(req.ProductID)
	if req.ProductID == "" {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id is required")
		return
	}
	if req.Quantity > store.MaxQuantity {
		respondError(w, http.StatusBadRequest, "invalid_quantity", fmt.Sprintf("quantity must be at most %d", store.MaxQuantity))
		return
	}

	s, err := h.sessions.Get(ctx, customerID)
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	if err := s.Cart().AddItem(ctx, req.ProductID, req.Quantity); err != nil {
		handleError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusCreated, cartResponse(s.View()))
}

// PATCH /api/v1/cart/items/{product_id}
func (h *CartHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	customerID, ok := requireCustomer(w, r)
	if !ok {
		return
	}
	productID := chi.URLParam(r, "product_id")
	var req UpdateQuantityRequestDTO
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Delta == 0 {
		respondError(w, http.StatusBadRequest, "invalid_delta", "delta must not be zero")
		return
	}
	if req.Delta > store.MaxQuantity || req.Delta < -store.MaxQuantity {
		respondError(w, http.StatusBadRequest, "invalid_delta", fmt.Sprintf("delta must be between -%d and %d", store.MaxQuantity, store.MaxQuantity))
		return
	}

	s, err := h.sessions.Get(ctx, customerID)
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	if err := s.Cart().UpdateQuantity(ctx, productID, req.Delta); err != nil {
		// the store has already restored the line; the body shows the reverted state
		status, code := statusFor(err)
		h.log.Warn("cart update failed", zap.String("product_id", productID), zap.Error(err))
		respondJSON(w, status, struct {
			ErrorResponse
			Cart CartResponseDTO `json:"cart"`
		}{ErrorResponse{Error: err.Error(), Code: code}, cartResponse(s.View())})
		return
	}
	respondJSON(w, http.StatusOK, cartResponse(s.View()))
}

// DELETE /api/v1/cart/items/{product_id}
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	customerID, ok := requireCustomer(w, r)
	if !ok {
		return
	}
	productID := chi.URLParam(r, "product_id")

	s, err := h.sessions.Get(ctx, customerID)
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	if err := s.Cart().RemoveItem(ctx, productID); err != nil {
		handleError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, cartResponse(s.View()))
}

func cartResponse(v checkout.View) CartResponseDTO {
	items := make([]CartLineDTO, 0, len(v.Lines))
	for _, l := range v.Lines {
		items = append(items, CartLineDTO{
			ProductID: l.Item.ProductID,
			Quantity:  l.Item.Quantity,
			UnitPrice: l.Item.UnitPrice,
			SellerID:  l.Item.SellerID,
			State:     l.State.String(),
		})
	}
	return CartResponseDTO{
		Items:     items,
		Breakdown: v.Breakdown,
		PromoCode: v.PromoCode,
		Loading:   v.Busy,
	}
}
