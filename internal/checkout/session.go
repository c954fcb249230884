// Package checkout drives a buyer from the cart through shipping to payment
// and hands the captured payment to order placement.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fjod/craft_market/internal/apperrors"
	"github.com/fjod/craft_market/internal/cart/domain"
	"github.com/fjod/craft_market/internal/cart/store"
	ordersdomain "github.com/fjod/craft_market/internal/orders/domain"
	"github.com/fjod/craft_market/internal/orders/service"
	"github.com/fjod/craft_market/internal/payment"
	"github.com/fjod/craft_market/internal/pricing"
	"github.com/fjod/craft_market/pkg/metrics"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Step string

const (
	StepCart     Step = "cart"
	StepShipping Step = "shipping"
	StepPayment  Step = "payment"
)

var (
	ErrEmptyCart          = fmt.Errorf("%w: cart is empty", apperrors.ErrValidation)
	ErrShippingIncomplete = fmt.Errorf("%w: shipping information incomplete", apperrors.ErrValidation)
	ErrWrongStep          = fmt.Errorf("%w: not allowed at this checkout step", apperrors.ErrValidation)
	ErrBusy               = fmt.Errorf("%w: checkout is busy, try again", apperrors.ErrValidation)
	ErrNothingToRetry     = fmt.Errorf("%w: no captured payment awaiting an order", apperrors.ErrValidation)
	ErrCancelled          = fmt.Errorf("%w: checkout changed while the payment was being prepared", apperrors.ErrValidation)
	ErrChargeOutdated     = fmt.Errorf("%w: prices changed, review the new total", apperrors.ErrPriceMismatch)
)

// PaymentGateway is satisfied by *payment.Adapter.
type PaymentGateway interface {
	Begin(ctx context.Context, amount decimal.Decimal) (*payment.Attempt, error)
	Capture(ctx context.Context, att *payment.Attempt, onApproved payment.OnApproved) (payment.Approval, error)
	Refund(ctx context.Context, att *payment.Attempt) error
}

// OrderPlacer is satisfied by *service.OrderService.
type OrderPlacer interface {
	Quote(ctx context.Context, req service.QuoteRequest) (service.Quote, error)
	PlaceOrder(ctx context.Context, req service.PlaceOrderRequest) (*ordersdomain.Order, error)
}

// ChargeSnapshot is frozen when the buyer enters the payment step. The
// amount charged and the order placed both come from it, whatever happens
// to the cart afterwards. Prices are the order service's quote, not the
// cart's add-time prices.
type ChargeSnapshot struct {
	Items     []domain.CartItem `json:"items"`
	Breakdown pricing.Breakdown `json:"breakdown"`
	PromoCode string            `json:"promo_code,omitempty"`
	Shipping  ShippingInfo      `json:"shipping"`
	FrozenAt  time.Time         `json:"frozen_at"`
}

type Deps struct {
	Payments PaymentGateway
	Orders   OrderPlacer
	Promos   pricing.PromoResolver
	Currency string
	Log      *zap.Logger
	Metrics  *metrics.Metrics
}

type Session struct {
	customerID string
	cart       *store.Store
	payments   PaymentGateway
	orders     OrderPlacer
	promos     pricing.PromoResolver
	currency   string
	log        *zap.Logger
	metrics    *metrics.Metrics
	now        func() time.Time

	mu       sync.Mutex
	step     Step
	shipping ShippingInfo
	promo    pricing.Promotion
	charge   *ChargeSnapshot
	attempt  *payment.Attempt
	order    *ordersdomain.Order
	// preparing covers quoting and provider order creation. Back cancels it.
	preparing bool
	// paying covers capture through placement or refund. Nothing cancels it.
	paying bool
	// refundDue holds the rejection of a captured payment not yet refunded.
	refundDue error
	// gen changes whenever Back or a reset invalidates work in flight.
	gen       uint64
	lastTouch time.Time
}

func NewSession(customerID string, cart *store.Store, deps Deps) *Session {
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Session{
		customerID: customerID,
		cart:       cart,
		payments:   deps.Payments,
		orders:     deps.Orders,
		promos:     deps.Promos,
		currency:   deps.Currency,
		log:        log.Named("checkout").With(zap.String("customer_id", customerID)),
		metrics:    deps.Metrics,
		now:        time.Now,
		step:       StepCart,
		lastTouch:  time.Now(),
	}
}

func (s *Session) CustomerID() string { return s.customerID }

func (s *Session) Cart() *store.Store { return s.cart }

// Load refreshes the cart from the persisted store.
func (s *Session) Load(ctx context.Context) error {
	s.touch()
	return s.cart.Load(ctx)
}

// Next advances one step if the current step's guard holds.
func (s *Session) Next(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastTouch = s.now()

	if s.paying || s.preparing {
		return ErrBusy
	}

	switch s.step {
	case StepCart:
		if s.cart.Loading() {
			return ErrBusy
		}
		if len(s.cart.Items()) == 0 {
			return ErrEmptyCart
		}
		s.moveTo(StepShipping)
		return nil

	case StepShipping:
		if missing := s.shipping.Missing(); len(missing) > 0 {
			return fmt.Errorf("%w: missing %s", ErrShippingIncomplete, strings.Join(missing, ", "))
		}
		if s.captureUnsettled() {
			// the captured amount stays; only the destination may change
			charge := *s.charge
			charge.Shipping = s.shipping
			s.charge = &charge
			s.moveTo(StepPayment)
			return nil
		}
		if s.cart.Loading() {
			return ErrBusy
		}
		return s.enterPayment(ctx)

	default:
		return fmt.Errorf("%w: use pay at the payment step", ErrWrongStep)
	}
}

// enterPayment freezes the charge and opens a provider order. Called with
// s.mu held; the lock is released while the order service and the provider
// are called, and Back in that window cancels the step change.
func (s *Session) enterPayment(ctx context.Context) error {
	items, _ := s.cart.Snapshot(s.promo)
	if len(items) == 0 {
		return ErrEmptyCart
	}
	promoCode, shipping, gen := s.promo.Code, s.shipping, s.gen
	s.preparing = true
	s.mu.Unlock()

	charge, att, err := s.freeze(ctx, items, promoCode, shipping)

	s.mu.Lock()
	s.preparing = false
	if err != nil {
		return err
	}
	if gen != s.gen {
		s.log.Info("payment step cancelled while the provider order was opened",
			zap.String("provider_order_id", att.ProviderOrderID))
		return ErrCancelled
	}
	s.charge, s.attempt = charge, att
	s.moveTo(StepPayment)
	return nil
}

func (s *Session) freeze(ctx context.Context, items []domain.CartItem, promoCode string, shipping ShippingInfo) (*ChargeSnapshot, *payment.Attempt, error) {
	q, err := s.orders.Quote(ctx, service.QuoteRequest{Items: lineRequests(items), PromoCode: promoCode})
	if err != nil {
		s.log.Info("charge rejected by order service", zap.Error(err))
		return nil, nil, fmt.Errorf("price order: %w", err)
	}

	att, err := s.payments.Begin(ctx, q.Breakdown.Total)
	if err != nil {
		s.log.Warn("begin payment failed", zap.String("amount", q.Breakdown.Total.StringFixed(2)), zap.Error(err))
		return nil, nil, fmt.Errorf("begin payment: %w", err)
	}

	return &ChargeSnapshot{
		Items:     s.repriced(items, q),
		Breakdown: q.Breakdown,
		PromoCode: q.PromoCode,
		Shipping:  shipping,
		FrozenAt:  s.now().UTC(),
	}, att, nil
}

// repriced copies items with the quoted unit prices.
func (s *Session) repriced(items []domain.CartItem, q service.Quote) []domain.CartItem {
	prices := make(map[string]decimal.Decimal, len(q.Items))
	for _, it := range q.Items {
		prices[it.ProductID] = it.Price
	}
	out := make([]domain.CartItem, len(items))
	for i, it := range items {
		out[i] = it
		if p, ok := prices[it.ProductID]; ok && !p.Equal(it.UnitPrice) {
			s.log.Info("cart price differs from catalog",
				zap.String("product_id", it.ProductID),
				zap.String("cart_price", it.UnitPrice.StringFixed(2)),
				zap.String("catalog_price", p.StringFixed(2)))
			out[i].UnitPrice = p
		}
	}
	return out
}

// Back moves one step towards the cart. Shipping input is kept. A captured
// payment awaiting its order keeps its frozen charge.
func (s *Session) Back() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastTouch = s.now()

	switch s.step {
	case StepPayment:
		if s.paying {
			return ErrBusy
		}
		if !s.captureUnsettled() {
			s.dropCharge()
		}
		s.gen++
		s.moveTo(StepShipping)
	case StepShipping:
		s.gen++
		s.moveTo(StepCart)
	}
	return nil
}

func (s *Session) SetShipping(info ShippingInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastTouch = s.now()

	if s.step == StepPayment {
		return fmt.Errorf("%w: go back to change shipping", ErrWrongStep)
	}
	if s.preparing {
		return ErrBusy
	}
	s.shipping = info.Trimmed()
	return nil
}

// ApplyPromo validates code and applies it to the live totals. An empty code removes the promo.
func (s *Session) ApplyPromo(ctx context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastTouch = s.now()

	if s.step == StepPayment {
		return fmt.Errorf("%w: go back to change the promo code", ErrWrongStep)
	}
	if s.preparing {
		return ErrBusy
	}
	if strings.TrimSpace(code) == "" {
		s.promo = pricing.Promotion{}
		return nil
	}

	promo, err := s.promos.Resolve(ctx, code)
	if err != nil {
		s.log.Info("promo rejected", zap.String("code", code))
		return err
	}
	s.promo = promo
	return nil
}

// Pay captures the frozen charge and places the order. On success the cart is
// cleared; a failed clear is logged and left to the order event consumer.
// A charge the order service would no longer accept is dropped before
// capture, and one it rejects after capture is refunded; either way the
// buyer is sent back to shipping to review a fresh charge.
func (s *Session) Pay(ctx context.Context) (*ordersdomain.Order, error) {
	s.mu.Lock()
	s.lastTouch = s.now()
	if s.step != StepPayment {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: pay is only available at the payment step", ErrWrongStep)
	}
	if s.order != nil {
		o := s.order
		s.mu.Unlock()
		return o, nil
	}
	if s.paying || s.preparing {
		s.mu.Unlock()
		return nil, ErrBusy
	}
	if s.captureUnsettled() {
		s.mu.Unlock()
		return s.RetryPlacement(ctx)
	}
	charge, att, gen := s.charge, s.attempt, s.gen
	s.preparing = true
	s.mu.Unlock()

	att, err := s.prepareCapture(ctx, charge, att)

	s.mu.Lock()
	s.preparing = false
	if gen != s.gen {
		s.mu.Unlock()
		return nil, ErrCancelled
	}
	if err != nil {
		if rejected(err) {
			s.log.Info("frozen charge no longer accepted", zap.Error(err))
			s.resetPayment()
		}
		s.mu.Unlock()
		return nil, err
	}
	s.attempt = att
	s.paying = true
	s.mu.Unlock()

	var placed *ordersdomain.Order
	_, err = s.payments.Capture(ctx, att, func(cctx context.Context, approval payment.Approval) error {
		o, errPlace := s.place(cctx, charge, approval)
		placed = o
		return errPlace
	})
	if err == nil {
		s.complete(ctx, placed)
		return placed, nil
	}
	if att.State() != payment.AttemptCaptured {
		s.settleFailed()
		return nil, err
	}

	s.log.Error("payment captured but order placement failed",
		zap.String("provider_order_id", att.ProviderOrderID),
		zap.Error(err))
	if rejected(err) {
		return nil, s.refund(ctx, att, err)
	}
	s.settleFailed()
	return nil, fmt.Errorf("place order: %w", err)
}

// prepareCapture checks the frozen charge against current prices and stock
// and opens a new provider order if the previous one failed.
func (s *Session) prepareCapture(ctx context.Context, charge *ChargeSnapshot, att *payment.Attempt) (*payment.Attempt, error) {
	q, err := s.orders.Quote(ctx, service.QuoteRequest{Items: lineRequests(charge.Items), PromoCode: charge.PromoCode})
	if err != nil {
		return nil, fmt.Errorf("price order: %w", err)
	}
	if !pricing.Equal(q.Breakdown.Total, charge.Breakdown.Total) {
		return nil, fmt.Errorf("%w: frozen %s, now %s",
			ErrChargeOutdated, charge.Breakdown.Total.StringFixed(2), q.Breakdown.Total.StringFixed(2))
	}

	if att != nil && att.State() != payment.AttemptFailed {
		return att, nil
	}
	fresh, err := s.payments.Begin(ctx, charge.Breakdown.Total)
	if err != nil {
		s.log.Warn("begin payment failed", zap.Error(err))
		return nil, fmt.Errorf("begin payment: %w", err)
	}
	return fresh, nil
}

// RetryPlacement re-submits the frozen charge for a payment that was captured
// but whose order could not be stored. If the order was rejected and the
// refund did not go through, it retries the refund instead.
func (s *Session) RetryPlacement(ctx context.Context) (*ordersdomain.Order, error) {
	s.mu.Lock()
	s.lastTouch = s.now()
	if s.order != nil {
		o := s.order
		s.mu.Unlock()
		return o, nil
	}
	if s.paying || s.preparing {
		s.mu.Unlock()
		return nil, ErrBusy
	}
	if !s.captureUnsettled() {
		s.mu.Unlock()
		return nil, ErrNothingToRetry
	}
	att, charge, cause := s.attempt, s.charge, s.refundDue
	s.paying = true
	s.mu.Unlock()

	if cause != nil {
		return nil, s.refund(ctx, att, cause)
	}

	approval, _ := att.Approval()
	placed, err := s.place(context.WithoutCancel(ctx), charge, approval)
	if err != nil {
		s.log.Error("order placement retry failed", zap.String("payment_ref", approval.CaptureID), zap.Error(err))
		if rejected(err) {
			return nil, s.refund(ctx, att, err)
		}
		s.settleFailed()
		return nil, fmt.Errorf("place order: %w", err)
	}

	s.complete(ctx, placed)
	return placed, nil
}

// refund returns a captured payment whose order was rejected. The caller
// holds s.paying; refund releases it.
func (s *Session) refund(ctx context.Context, att *payment.Attempt, cause error) error {
	errRefund := s.payments.Refund(ctx, att)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.paying = false
	if errRefund != nil {
		s.refundDue = cause
		s.log.Error("refund of rejected order failed",
			zap.String("provider_order_id", att.ProviderOrderID),
			zap.NamedError("cause", cause),
			zap.Error(errRefund))
		return fmt.Errorf("order rejected, refund pending: %w", errRefund)
	}

	s.log.Warn("order rejected after capture, payment refunded",
		zap.String("provider_order_id", att.ProviderOrderID),
		zap.Error(cause))
	s.resetPayment()
	return fmt.Errorf("payment refunded: %w", cause)
}

func (s *Session) place(ctx context.Context, charge *ChargeSnapshot, approval payment.Approval) (*ordersdomain.Order, error) {
	ref := approval.CaptureID
	if ref == "" {
		ref = approval.ProviderOrderID
	}

	return s.orders.PlaceOrder(ctx, service.PlaceOrderRequest{
		CustomerID: s.customerID,
		Items:      lineRequests(charge.Items),
		Total:      charge.Breakdown.Total,
		Currency:   s.currency,
		PromoCode:  charge.PromoCode,
		Shipping:   charge.Shipping,
		PaymentRef: ref,
	})
}

func (s *Session) complete(ctx context.Context, o *ordersdomain.Order) {
	s.mu.Lock()
	s.paying = false
	s.order = o
	s.mu.Unlock()

	if err := s.cart.Clear(context.WithoutCancel(ctx)); err != nil {
		s.log.Warn("cart clear after order failed; left to order event consumer",
			zap.String("order_id", o.ID.String()),
			zap.Error(err))
	}
}

func (s *Session) settleFailed() {
	s.mu.Lock()
	s.paying = false
	s.mu.Unlock()
}

// resetPayment drops the frozen charge and returns to shipping. Callers hold s.mu.
func (s *Session) resetPayment() {
	s.dropCharge()
	s.gen++
	if s.step == StepPayment {
		s.moveTo(StepShipping)
	}
}

// dropCharge forgets the frozen charge and its attempt. Callers hold s.mu.
func (s *Session) dropCharge() {
	s.charge = nil
	s.attempt = nil
	s.refundDue = nil
}

// captureUnsettled reports a captured payment with neither an order nor a
// refund. Callers hold s.mu.
func (s *Session) captureUnsettled() bool {
	return s.order == nil && s.attempt != nil && s.attempt.State() == payment.AttemptCaptured
}

// awaitingPlacement reports a captured payment whose order can still be
// placed. Callers hold s.mu.
func (s *Session) awaitingPlacement() bool {
	return s.captureUnsettled() && s.refundDue == nil
}

func (s *Session) moveTo(to Step) {
	s.metrics.CheckoutStep(string(s.step), string(to))
	s.log.Debug("checkout step", zap.String("from", string(s.step)), zap.String("to", string(to)))
	s.step = to
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastTouch = s.now()
	s.mu.Unlock()
}

// Completed reports whether an order has been placed from this session.
func (s *Session) Completed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order != nil
}

// idleSince returns the last activity time and whether the session may be
// evicted. A captured payment without an order or refund is unsettled: the
// session stays until a retry places or refunds it.
func (s *Session) idleSince() (last time.Time, evictable, unsettled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paying || s.preparing {
		return s.lastTouch, false, false
	}
	if s.captureUnsettled() {
		return s.lastTouch, false, true
	}
	return s.lastTouch, true, false
}

// rejected reports placement errors that retrying the same charge cannot fix.
func rejected(err error) bool {
	return errors.Is(err, apperrors.ErrPriceMismatch) || errors.Is(err, apperrors.ErrValidation)
}

func lineRequests(items []domain.CartItem) []service.LineRequest {
	lines := make([]service.LineRequest, len(items))
	for i, it := range items {
		lines[i] = service.LineRequest{ProductID: it.ProductID, Quantity: it.Quantity}
	}
	return lines
}
