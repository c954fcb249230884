package http

import (
	"context"
	"net/http"
	"time"

	"github.com/fjod/craft_market/internal/orders/domain"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// OrderQueries is satisfied by *service.OrderService.
type OrderQueries interface {
	GetOrder(ctx context.Context, customerID string, id uuid.UUID) (*domain.Order, error)
	GetOrderForArtisan(ctx context.Context, artisanID string, id uuid.UUID) (domain.ArtisanOrder, error)
	ListOrdersForCustomer(ctx context.Context, customerID string) ([]*domain.Order, error)
	ListOrdersForArtisan(ctx context.Context, artisanID string) ([]domain.ArtisanOrder, error)
	UpdateStatus(ctx context.Context, actor domain.Actor, id uuid.UUID, to domain.OrderStatus) (domain.ArtisanOrder, error)
}

type OrdersHandler struct {
	orders  OrderQueries
	timeout time.Duration
	log     *zap.Logger
}

func NewOrdersHandler(orders OrderQueries, timeout time.Duration, log *zap.Logger) *OrdersHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &OrdersHandler{
		orders:  orders,
		timeout: timeout,
		log:     log.Named("orders_handler"),
	}
}

type OrderItemDTO struct {
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	SellerID    string          `json:"seller_id"`
	Quantity    int             `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
}

type OrderResponseDTO struct {
	ID              string         `json:"id"`
	TotalAmount     string         `json:"total_amount"`
	Currency        string         `json:"currency"`
	Status          string         `json:"status"`
	PaymentStatus   string         `json:"payment_status"`
	PaymentRef      string         `json:"payment_ref"`
	ShippingAddress string         `json:"shipping_address"`
	Items           []OrderItemDTO `json:"items"`
	CreatedAt       string         `json:"created_at"`
}

type ArtisanOrderDTO struct {
	ID              string         `json:"id"`
	Subtotal        string         `json:"subtotal"`
	Status          string         `json:"status"`
	PaymentStatus   string         `json:"payment_status"`
	ShippingAddress string         `json:"shipping_address"`
	Items           []OrderItemDTO `json:"items"`
	AllowedNext     []string       `json:"allowed_next"`
	CreatedAt       string         `json:"created_at"`
	UpdatedAt       string         `json:"updated_at"`
}

type UpdateStatusRequestDTO struct {
	Status string `json:"status"`
}

// GET /api/v1/orders
func (h *OrdersHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	customerID, ok := requireCustomer(w, r)
	if !ok {
		return
	}
	orders, err := h.orders.ListOrdersForCustomer(ctx, customerID)
	if err != nil {
		handleError(w, h.log, err)
		return
	}

	dtos := make([]OrderResponseDTO, 0, len(orders))
	for _, o := range orders {
		dtos = append(dtos, toOrderDTO(o))
	}
	respondJSON(w, http.StatusOK, dtos)
}

// GET /api/v1/orders/{order_id}
func (h *OrdersHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	customerID, ok := requireCustomer(w, r)
	if !ok {
		return
	}
	id, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	o, err := h.orders.GetOrder(ctx, customerID, id)
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, toOrderDTO(o))
}

// GET /api/v1/seller/orders
func (h *OrdersHandler) ListSellerOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	artisanID, ok := requireArtisan(w, r)
	if !ok {
		return
	}
	views, err := h.orders.ListOrdersForArtisan(ctx, artisanID)
	if err != nil {
		handleError(w, h.log, err)
		return
	}

	dtos := make([]ArtisanOrderDTO, 0, len(views))
	for _, v := range views {
		dtos = append(dtos, toArtisanOrderDTO(v))
	}
	respondJSON(w, http.StatusOK, dtos)
}

// GET /api/v1/seller/orders/{order_id}
func (h *OrdersHandler) GetSellerOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	artisanID, ok := requireArtisan(w, r)
	if !ok {
		return
	}
	id, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	v, err := h.orders.GetOrderForArtisan(ctx, artisanID, id)
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, toArtisanOrderDTO(v))
}

// POST /api/v1/seller/orders/{order_id}/status
func (h *OrdersHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	// a buyer hitting the seller route is refused, not asked to authenticate
	ident := identityFromContext(r.Context())
	if ident.ArtisanID == "" && ident.CustomerID != "" {
		respondError(w, http.StatusForbidden, "forbidden", "only the selling artisan may change order status")
		return
	}
	artisanID, ok := requireArtisan(w, r)
	if !ok {
		return
	}
	id, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	var req UpdateStatusRequestDTO
	if !decodeJSON(w, r, &req) {
		return
	}
	to, err := domain.ParseStatus(req.Status)
	if err != nil {
		handleError(w, h.log, err)
		return
	}

	v, err := h.orders.UpdateStatus(ctx, domain.Seller(artisanID), id, to)
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, toArtisanOrderDTO(v))
}

func orderIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := chi.URLParam(r, "order_id")
	if raw == "" {
		respondError(w, http.StatusBadRequest, "missing_order_id", "order_id is required")
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_order_id", "order_id must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

func toItemDTOs(items []domain.OrderItem) []OrderItemDTO {
	dtos := make([]OrderItemDTO, 0, len(items))
	for _, it := range items {
		dtos = append(dtos, OrderItemDTO{
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			SellerID:    it.SellerID,
			Quantity:    it.Quantity,
			Price:       it.Price,
		})
	}
	return dtos
}

func toOrderDTO(o *domain.Order) OrderResponseDTO {
	return OrderResponseDTO{
		ID:              o.ID.String(),
		TotalAmount:     o.TotalAmount.StringFixed(2),
		Currency:        o.Currency,
		Status:          string(o.Status),
		PaymentStatus:   string(o.PaymentStatus),
		PaymentRef:      o.PaymentRef,
		ShippingAddress: o.ShippingAddress,
		Items:           toItemDTOs(o.Items),
		CreatedAt:       o.OrderDate.UTC().Format(time.RFC3339),
	}
}

func toArtisanOrderDTO(v domain.ArtisanOrder) ArtisanOrderDTO {
	next := domain.AllowedNext(v.Status)
	allowed := make([]string, 0, len(next))
	for _, s := range next {
		allowed = append(allowed, string(s))
	}
	return ArtisanOrderDTO{
		ID:              v.ID.String(),
		Subtotal:        v.Subtotal.StringFixed(2),
		Status:          string(v.Status),
		PaymentStatus:   string(v.PaymentStatus),
		ShippingAddress: v.ShippingAddress,
		Items:           toItemDTOs(v.Items),
		AllowedNext:     allowed,
		CreatedAt:       v.OrderDate.UTC().Format(time.RFC3339),
		UpdatedAt:       v.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
