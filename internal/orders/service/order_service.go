package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fjod/craft_market/internal/apperrors"
	"github.com/fjod/craft_market/internal/catalog"
	"github.com/fjod/craft_market/internal/orders/domain"
	"github.com/fjod/craft_market/internal/orders/repository"
	"github.com/fjod/craft_market/internal/pricing"
	"github.com/fjod/craft_market/pkg/metrics"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type LineRequest struct {
	ProductID string
	Quantity  int
}

type PlaceOrderRequest struct {
	CustomerID string
	Items      []LineRequest
	Total      decimal.Decimal
	Currency   string
	PromoCode  string
	Shipping   domain.ShippingAddress
	// PaymentRef identifies the captured payment. Placing twice with the same
	// reference returns the first order.
	PaymentRef string
}

type QuoteRequest struct {
	Items     []LineRequest
	PromoCode string
}

// Quote is what PlaceOrder would charge for the same lines right now.
type Quote struct {
	Items     []domain.OrderItem
	Breakdown pricing.Breakdown
	PromoCode string
}

type OrderService struct {
	repo    repository.OrderRepository
	catalog catalog.Lookup
	promos  pricing.PromoResolver
	log     *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewOrderService(repo repository.OrderRepository, products catalog.Lookup, promos pricing.PromoResolver, log *zap.Logger, m *metrics.Metrics) *OrderService {
	if log == nil {
		log = zap.NewNop()
	}
	return &OrderService{
		repo:    repo,
		catalog: products,
		promos:  promos,
		log:     log.Named("orders"),
		metrics: m,
		now:     time.Now,
	}
}

// PlaceOrder validates the request against the catalog, recomputes the total
// and persists a pending, paid order.
func (s *OrderService) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*domain.Order, error) {
	order, err := s.buildOrder(ctx, req)
	if err != nil {
		s.reject(req, err)
		return nil, err
	}

	errCreate := s.repo.CreateOrder(ctx, order)
	if errors.Is(errCreate, repository.ErrDuplicatePayment) {
		existing, errGet := s.repo.GetOrderByPaymentRef(ctx, req.PaymentRef)
		if errGet != nil {
			err = storeError("load order by payment", errGet)
			s.reject(req, err)
			return nil, err
		}
		if existing.CustomerID != req.CustomerID {
			err = fmt.Errorf("%w: payment %s belongs to another order", apperrors.ErrValidation, req.PaymentRef)
			s.reject(req, err)
			return nil, err
		}
		s.log.Info("order already placed for payment",
			zap.String("order_id", existing.ID.String()),
			zap.String("payment_ref", req.PaymentRef))
		return existing, nil
	}
	if errCreate != nil {
		err = storeError("create order", errCreate)
		s.reject(req, err)
		return nil, err
	}

	s.metrics.OrderPlaced()
	s.log.Info("order placed",
		zap.String("order_id", order.ID.String()),
		zap.String("customer_id", order.CustomerID),
		zap.String("total", order.TotalAmount.StringFixed(2)),
		zap.Int("items", len(order.Items)))
	return order, nil
}

// Quote prices lines against the current catalog and stock without placing
// anything. Checkout freezes its charge from it and checks it again before
// capturing.
func (s *OrderService) Quote(ctx context.Context, req QuoteRequest) (Quote, error) {
	if err := validateLines(req.Items); err != nil {
		return Quote{}, err
	}
	q, err := s.price(ctx, req.Items, req.PromoCode)
	if err != nil {
		s.log.Info("quote rejected", zap.Int("items", len(req.Items)), zap.Error(err))
		return Quote{}, err
	}
	return q, nil
}

func (s *OrderService) buildOrder(ctx context.Context, req PlaceOrderRequest) (*domain.Order, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	q, err := s.price(ctx, req.Items, req.PromoCode)
	if err != nil {
		return nil, err
	}
	if !pricing.Equal(q.Breakdown.Total, req.Total) {
		return nil, fmt.Errorf("%w: submitted %s, computed %s",
			apperrors.ErrPriceMismatch, req.Total.StringFixed(2), q.Breakdown.Total.StringFixed(2))
	}

	now := s.now().UTC().Truncate(time.Millisecond)
	return &domain.Order{
		ID:              uuid.New(),
		CustomerID:      req.CustomerID,
		Items:           q.Items,
		TotalAmount:     q.Breakdown.Total,
		Currency:        req.Currency,
		ShippingAddress: req.Shipping.Format(),
		Status:          domain.OrderStatusPending,
		PaymentStatus:   domain.PaymentStatusPaid,
		PaymentRef:      req.PaymentRef,
		PromoCode:       q.PromoCode,
		OrderDate:       now,
		UpdatedAt:       now,
	}, nil
}

func (s *OrderService) price(ctx context.Context, reqLines []LineRequest, promoCode string) (Quote, error) {
	items := make([]domain.OrderItem, 0, len(reqLines))
	lines := make([]pricing.Line, 0, len(reqLines))
	for _, l := range reqLines {
		p, err := s.catalog.GetProduct(ctx, l.ProductID)
		if errors.Is(err, apperrors.ErrNotFound) {
			return Quote{}, fmt.Errorf("%w: unknown product %s", apperrors.ErrValidation, l.ProductID)
		}
		if err != nil {
			return Quote{}, fmt.Errorf("%w: lookup product %s: %w", apperrors.ErrRemoteUnavailable, l.ProductID, err)
		}
		if !p.Price.IsPositive() {
			return Quote{}, fmt.Errorf("%w: product %s has no price", apperrors.ErrValidation, l.ProductID)
		}
		if p.AvailableStock < l.Quantity {
			return Quote{}, fmt.Errorf("%w: only %d of product %s in stock", apperrors.ErrValidation, p.AvailableStock, l.ProductID)
		}

		items = append(items, domain.OrderItem{
			ProductID:   p.ID,
			ProductName: p.Name,
			SellerID:    p.SellerID,
			Quantity:    l.Quantity,
			Price:       p.Price,
		})
		lines = append(lines, pricing.Line{UnitPrice: p.Price, Quantity: l.Quantity})
	}

	var promo pricing.Promotion
	if strings.TrimSpace(promoCode) != "" {
		var err error
		if promo, err = s.promos.Resolve(ctx, promoCode); err != nil {
			return Quote{}, err
		}
	}

	return Quote{
		Items:     items,
		Breakdown: pricing.Compute(lines, promo),
		PromoCode: promo.Code,
	}, nil
}

func validateRequest(req PlaceOrderRequest) error {
	var missing []string
	if strings.TrimSpace(req.CustomerID) == "" {
		missing = append(missing, "customer")
	}
	for _, f := range req.Shipping.Missing() {
		missing = append(missing, "shipping "+f)
	}
	if strings.TrimSpace(req.PaymentRef) == "" {
		missing = append(missing, "payment reference")
	}
	if strings.TrimSpace(req.Currency) == "" {
		missing = append(missing, "currency")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", apperrors.ErrValidation, strings.Join(missing, ", "))
	}
	return validateLines(req.Items)
}

func validateLines(lines []LineRequest) error {
	if len(lines) == 0 {
		return fmt.Errorf("%w: order has no items", apperrors.ErrValidation)
	}
	seen := make(map[string]struct{}, len(lines))
	for _, l := range lines {
		if l.Quantity < 1 {
			return fmt.Errorf("%w: quantity for %s must be at least 1", apperrors.ErrValidation, l.ProductID)
		}
		if _, dup := seen[l.ProductID]; dup {
			return fmt.Errorf("%w: product %s listed twice", apperrors.ErrValidation, l.ProductID)
		}
		seen[l.ProductID] = struct{}{}
	}
	return nil
}

func (s *OrderService) reject(req PlaceOrderRequest, err error) {
	reason := "store"
	switch {
	case errors.Is(err, apperrors.ErrPriceMismatch):
		reason = "price_mismatch"
	case errors.Is(err, apperrors.ErrValidation):
		reason = "validation"
	}
	s.metrics.OrderRejected(reason)
	s.log.Warn("order rejected",
		zap.String("customer_id", req.CustomerID),
		zap.String("payment_ref", req.PaymentRef),
		zap.String("reason", reason),
		zap.Error(err))
}

// GetOrder returns one of the customer's own orders.
func (s *OrderService) GetOrder(ctx context.Context, customerID string, id uuid.UUID) (*domain.Order, error) {
	o, err := s.repo.GetOrderByID(ctx, id)
	if err != nil {
		return nil, storeError("get order", err)
	}
	if err := domain.AuthorizeRead(domain.Customer(customerID), o); err != nil {
		return nil, err
	}
	return o, nil
}

// GetOrderForArtisan returns the artisan's slice of an order.
func (s *OrderService) GetOrderForArtisan(ctx context.Context, artisanID string, id uuid.UUID) (domain.ArtisanOrder, error) {
	o, err := s.repo.GetOrderByID(ctx, id)
	if err != nil {
		return domain.ArtisanOrder{}, storeError("get order", err)
	}
	view, ok := domain.ArtisanView(o, artisanID)
	if !ok {
		return domain.ArtisanOrder{}, fmt.Errorf("%w: order %s", apperrors.ErrNotFound, id)
	}
	return view, nil
}

func (s *OrderService) ListOrdersForCustomer(ctx context.Context, customerID string) ([]*domain.Order, error) {
	orders, err := s.repo.ListOrdersByCustomer(ctx, customerID)
	if err != nil {
		return nil, storeError("list customer orders", err)
	}
	return orders, nil
}

func (s *OrderService) ListOrdersForArtisan(ctx context.Context, artisanID string) ([]domain.ArtisanOrder, error) {
	orders, err := s.repo.ListOrdersBySeller(ctx, artisanID)
	if err != nil {
		return nil, storeError("list artisan orders", err)
	}
	views := make([]domain.ArtisanOrder, 0, len(orders))
	for _, o := range orders {
		if v, ok := domain.ArtisanView(o, artisanID); ok {
			views = append(views, v)
		}
	}
	return views, nil
}

// UpdateStatus applies a seller-initiated status change.
func (s *OrderService) UpdateStatus(ctx context.Context, actor domain.Actor, id uuid.UUID, to domain.OrderStatus) (domain.ArtisanOrder, error) {
	o, err := s.repo.GetOrderByID(ctx, id)
	if err != nil {
		return domain.ArtisanOrder{}, storeError("get order", err)
	}

	from := o.Status
	if err := domain.ChangeStatus(actor, o, to); err != nil {
		s.log.Warn("status change rejected",
			zap.String("order_id", id.String()),
			zap.String("actor", actor.ID),
			zap.String("from", string(from)),
			zap.String("to", string(to)),
			zap.Error(err))
		return domain.ArtisanOrder{}, err
	}

	updated, err := s.repo.UpdateStatus(ctx, id, from, to, actor.ID)
	if err != nil {
		return domain.ArtisanOrder{}, storeError("update status", err)
	}

	s.metrics.StatusTransition(string(from), string(to))
	s.log.Info("order status changed",
		zap.String("order_id", id.String()),
		zap.String("actor", actor.ID),
		zap.String("from", string(from)),
		zap.String("to", string(to)))

	view, _ := domain.ArtisanView(updated, actor.ID)
	return view, nil
}

// storeError passes through categorized errors and reports the rest as an unavailable store.
func storeError(op string, err error) error {
	switch {
	case errors.Is(err, apperrors.ErrNotFound),
		errors.Is(err, apperrors.ErrInvalidTransition),
		errors.Is(err, apperrors.ErrValidation):
		return err
	default:
		return fmt.Errorf("%w: %s: %w", apperrors.ErrRemoteUnavailable, op, err)
	}
}
