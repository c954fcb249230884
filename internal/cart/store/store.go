// Package store keeps a buyer's in-memory view of the cart in step with the
// persisted cart. Quantity changes are applied locally first and undone if the
// remote rejects them; removals and additions wait for the remote.
package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/fjod/craft_market/internal/apperrors"
	"github.com/fjod/craft_market/internal/cart/domain"
	"github.com/fjod/craft_market/internal/pricing"
	"github.com/fjod/craft_market/pkg/metrics"
	"go.uber.org/zap"
)

// MaxQuantity is the most units of one product a cart line may hold.
const MaxQuantity = 99

var (
	ErrLineBusy      = fmt.Errorf("%w: line item has an update in flight", apperrors.ErrValidation)
	ErrItemNotFound  = fmt.Errorf("%w: item not in cart", apperrors.ErrNotFound)
	ErrQuantityLimit = fmt.Errorf("%w: a line holds at most %d units", apperrors.ErrValidation, MaxQuantity)
)

type LineState int

const (
	// LineStable matches what the remote last accepted.
	LineStable LineState = iota
	// LinePending shows a quantity the remote has not confirmed yet.
	LinePending
	// LineReverted was rolled back after the remote refused the last change.
	LineReverted
)

func (s LineState) String() string {
	switch s {
	case LinePending:
		return "pending"
	case LineReverted:
		return "reverted"
	default:
		return "stable"
	}
}

type Line struct {
	Item  domain.CartItem
	State LineState
}

type Store struct {
	customerID string
	remote     Remote
	log        *zap.Logger
	metrics    *metrics.Metrics

	mu      sync.Mutex
	cartID  string
	lines   []*Line
	adding  map[string]struct{}
	loading bool
}

func New(customerID string, remote Remote, log *zap.Logger, m *metrics.Metrics) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		customerID: customerID,
		remote:     remote,
		log:        log.Named("cart_store").With(zap.String("customer_id", customerID)),
		metrics:    m,
		adding:     make(map[string]struct{}),
	}
}

func (s *Store) CustomerID() string { return s.customerID }

// Load replaces local state with the persisted cart. Lines with an update in
// flight keep their local value.
func (s *Store) Load(ctx context.Context) error {
	s.mu.Lock()
	s.loading = true
	s.mu.Unlock()

	cart, err := s.remote.GetCart(ctx, s.customerID)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = false
	if err != nil {
		s.log.Warn("load cart failed", zap.Error(err))
		return fmt.Errorf("load cart: %w", err)
	}

	lines := make([]*Line, 0, len(cart.Items))
	for _, it := range cart.Items {
		if cur := s.find(it.ProductID); cur != nil && cur.State == LinePending {
			lines = append(lines, cur)
			continue
		}
		lines = append(lines, &Line{Item: it})
	}
	s.cartID = cart.ID
	s.lines = lines
	return nil
}

// Loading reports whether a Load is in flight.
func (s *Store) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// AddItem adds quantity units of productID. Quantities below 1 count as 1.
// The line may not grow past MaxQuantity.
func (s *Store) AddItem(ctx context.Context, productID string, quantity int) error {
	if quantity < 1 {
		quantity = 1
	}
	if quantity > MaxQuantity {
		return ErrQuantityLimit
	}

	s.mu.Lock()
	if _, busy := s.adding[productID]; busy {
		s.mu.Unlock()
		return ErrLineBusy
	}
	target := quantity
	if l := s.find(productID); l != nil {
		if l.State == LinePending {
			s.mu.Unlock()
			return ErrLineBusy
		}
		target += l.Item.Quantity
	}
	if target > MaxQuantity {
		s.mu.Unlock()
		return ErrQuantityLimit
	}
	s.adding[productID] = struct{}{}
	s.mu.Unlock()

	item, err := s.remote.AddItem(ctx, s.customerID, productID, target)

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.adding, productID)
	if err != nil {
		s.log.Warn("add item failed", zap.String("product_id", productID), zap.Error(err))
		return fmt.Errorf("add item %s: %w", productID, err)
	}

	if l := s.find(productID); l != nil {
		l.Item.Quantity = target
		l.State = LineStable
		return nil
	}
	s.lines = append(s.lines, &Line{Item: *item})
	return nil
}

// UpdateQuantity changes a line by delta, kept between 1 and MaxQuantity. The
// new quantity is visible immediately and restored to the prior value if the
// remote fails.
func (s *Store) UpdateQuantity(ctx context.Context, productID string, delta int) error {
	s.mu.Lock()
	l := s.find(productID)
	if l == nil {
		s.mu.Unlock()
		return ErrItemNotFound
	}
	if l.State == LinePending {
		s.mu.Unlock()
		return ErrLineBusy
	}
	prev := l.Item.Quantity
	delta = min(max(delta, -MaxQuantity), MaxQuantity)
	next := min(max(1, prev+delta), MaxQuantity)
	if next == prev {
		s.mu.Unlock()
		return nil
	}
	l.Item.Quantity = next
	l.State = LinePending
	s.mu.Unlock()

	err := s.remote.UpdateQuantity(ctx, s.customerID, productID, next)
	s.reconcile(productID, prev, err)
	if err != nil {
		return fmt.Errorf("update quantity %s: %w", productID, err)
	}
	return nil
}

func (s *Store) reconcile(productID string, prev int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l := s.find(productID)
	if l == nil {
		return
	}
	if err == nil {
		l.State = LineStable
		return
	}
	l.Item.Quantity = prev
	l.State = LineReverted
	s.metrics.CartRevert()
	s.log.Warn("quantity update reverted",
		zap.String("product_id", productID),
		zap.Int("restored_quantity", prev),
		zap.Error(err))
}

// RemoveItem deletes the line remotely and only then drops it locally.
func (s *Store) RemoveItem(ctx context.Context, productID string) error {
	s.mu.Lock()
	l := s.find(productID)
	var prevState LineState
	if l != nil {
		if l.State == LinePending {
			s.mu.Unlock()
			return ErrLineBusy
		}
		prevState = l.State
		l.State = LinePending
	}
	s.mu.Unlock()

	err := s.remote.RemoveItem(ctx, s.customerID, productID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		if l := s.find(productID); l != nil {
			l.State = prevState
		}
		s.log.Warn("remove item failed", zap.String("product_id", productID), zap.Error(err))
		return fmt.Errorf("remove item %s: %w", productID, err)
	}
	s.lines = removeLine(s.lines, productID)
	return nil
}

// Clear empties the cart remotely and locally. Clearing an empty cart succeeds.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.remote.ClearCart(ctx, s.customerID); err != nil {
		s.log.Warn("clear cart failed", zap.String("cart_id", s.CartID()), zap.Error(err))
		return fmt.Errorf("clear cart: %w", err)
	}
	s.mu.Lock()
	s.lines = nil
	s.mu.Unlock()
	return nil
}

func (s *Store) CartID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cartID
}

func (s *Store) Items() []domain.CartItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.items()
}

func (s *Store) Lines() []Line {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Line, len(s.lines))
	for i, l := range s.lines {
		out[i] = *l
	}
	return out
}

func (s *Store) Totals(promo pricing.Promotion) pricing.Breakdown {
	_, b := s.Snapshot(promo)
	return b
}

// Snapshot returns the items and their breakdown as of one instant.
func (s *Store) Snapshot(promo pricing.Promotion) ([]domain.CartItem, pricing.Breakdown) {
	s.mu.Lock()
	items := s.items()
	s.mu.Unlock()

	b := pricing.Compute(PricingLines(items), promo)
	for _, a := range b.Anomalies {
		s.log.Warn("pricing anomaly",
			zap.String("product_id", items[a.Index].ProductID),
			zap.String("reason", a.Reason))
	}
	return items, b
}

// PricingLines adapts cart items to pricing engine input.
func PricingLines(items []domain.CartItem) []pricing.Line {
	lines := make([]pricing.Line, len(items))
	for i, it := range items {
		lines[i] = pricing.Line{UnitPrice: it.UnitPrice, Quantity: it.Quantity}
	}
	return lines
}

func (s *Store) items() []domain.CartItem {
	out := make([]domain.CartItem, len(s.lines))
	for i, l := range s.lines {
		out[i] = l.Item
	}
	return out
}

func (s *Store) find(productID string) *Line {
	for _, l := range s.lines {
		if l.Item.ProductID == productID {
			return l
		}
	}
	return nil
}

func removeLine(lines []*Line, productID string) []*Line {
	out := lines[:0]
	for _, l := range lines {
		if l.Item.ProductID != productID {
			out = append(out, l)
		}
	}
	return out
}
