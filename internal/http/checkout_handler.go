package http

import (
	"context"
	"net/http"
	"time"

	"github.com/fjod/craft_market/internal/checkout"
	"go.uber.org/zap"
)

type CheckoutHandler struct {
	sessions *checkout.Registry
	timeout  time.Duration
	log      *zap.Logger
}

func NewCheckoutHandler(sessions *checkout.Registry, timeout time.Duration, log *zap.Logger) *CheckoutHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &CheckoutHandler{
		sessions: sessions,
		timeout:  timeout,
		log:      log.Named("checkout_handler"),
	}
}

type PromoRequestDTO struct {
	Code string `json:"code"`
}

type CheckoutResponseDTO struct {
	checkout.View
	Items CartResponseDTO `json:"cart"`
}

func checkoutResponse(v checkout.View) CheckoutResponseDTO {
	return CheckoutResponseDTO{View: v, Items: cartResponse(v)}
}

// session resolves the caller's checkout session, writing the error response itself.
func (h *CheckoutHandler) session(ctx context.Context, w http.ResponseWriter, r *http.Request) (*checkout.Session, bool) {
	customerID, ok := requireCustomer(w, r)
	if !ok {
		return nil, false
	}
	s, err := h.sessions.Get(ctx, customerID)
	if err != nil {
		handleError(w, h.log, err)
		return nil, false
	}
	return s, true
}

// GET /api/v1/checkout
func (h *CheckoutHandler) GetCheckout(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	s, ok := h.session(ctx, w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, checkoutResponse(s.View()))
}

// POST /api/v1/checkout/next
func (h *CheckoutHandler) Next(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	s, ok := h.session(ctx, w, r)
	if !ok {
		return
	}
	if err := s.Next(ctx); err != nil {
		handleError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, checkoutResponse(s.View()))
}

// POST /api/v1/checkout/back
func (h *CheckoutHandler) Back(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	s, ok := h.session(ctx, w, r)
	if !ok {
		return
	}
	if err := s.Back(); err != nil {
		handleError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, checkoutResponse(s.View()))
}

// POST /api/v1/checkout/shipping
func (h *CheckoutHandler) SetShipping(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	s, ok := h.session(ctx, w, r)
	if !ok {
		return
	}
	var info checkout.ShippingInfo
	if !decodeJSON(w, r, &info) {
		return
	}
	if err := s.SetShipping(info); err != nil {
		handleError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, checkoutResponse(s.View()))
}

// POST /api/v1/checkout/promo
func (h *CheckoutHandler) ApplyPromo(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	s, ok := h.session(ctx, w, r)
	if !ok {
		return
	}
	var req PromoRequestDTO
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.ApplyPromo(ctx, req.Code); err != nil {
		handleError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, checkoutResponse(s.View()))
}

// POST /api/v1/checkout/pay
func (h *CheckoutHandler) Pay(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	s, ok := h.session(ctx, w, r)
	if !ok {
		return
	}
	order, err := s.Pay(ctx)
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusCreated, toOrderDTO(order))
}

// POST /api/v1/checkout/retry
func (h *CheckoutHandler) RetryPlacement(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	s, ok := h.session(ctx, w, r)
	if !ok {
		return
	}
	order, err := s.RetryPlacement(ctx)
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusCreated, toOrderDTO(order))
}
