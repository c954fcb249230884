package service

import (
	"context"
	"sync"

	"github.com/fjod/craft_market/internal/catalog"
	"github.com/fjod/craft_market/internal/orders/domain"
	"github.com/fjod/craft_market/internal/orders/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type mockRepository struct {
	mu        sync.Mutex
	orders    map[uuid.UUID]*domain.Order
	createErr error
	getErr    error
	created   int
}

func newMockRepository() *mockRepository {
	return &mockRepository{orders: map[uuid.UUID]*domain.Order{}}
}

func clone(o *domain.Order) *domain.Order {
	c := *o
	c.Items = append([]domain.OrderItem(nil), o.Items...)
	return &c
}

func (m *mockRepository) CreateOrder(_ context.Context, order *domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	for _, o := range m.orders {
		if o.PaymentRef == order.PaymentRef {
			return repository.ErrDuplicatePayment
		}
	}
	m.orders[order.ID] = clone(order)
	m.created++
	return nil
}

func (m *mockRepository) GetOrderByID(_ context.Context, id uuid.UUID) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	o, ok := m.orders[id]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	return clone(o), nil
}

func (m *mockRepository) GetOrderByPaymentRef(_ context.Context, ref string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.PaymentRef == ref {
			return clone(o), nil
		}
	}
	return nil, repository.ErrOrderNotFound
}

func (m *mockRepository) ListOrdersByCustomer(_ context.Context, customerID string) ([]*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Order
	for _, o := range m.orders {
		if o.CustomerID == customerID {
			out = append(out, clone(o))
		}
	}
	return out, nil
}

func (m *mockRepository) ListOrdersBySeller(_ context.Context, sellerID string) ([]*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Order
	for _, o := range m.orders {
		if o.HasSeller(sellerID) {
			out = append(out, clone(o))
		}
	}
	return out, nil
}

func (m *mockRepository) UpdateStatus(_ context.Context, id uuid.UUID, from, to domain.OrderStatus, _ string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	if o.Status != from {
		return nil, repository.ErrStatusConflict
	}
	o.Status = to
	return clone(o), nil
}

type mockCatalog struct {
	products map[string]*catalog.Product
	err      error
}

func (m *mockCatalog) GetProduct(_ context.Context, id string) (*catalog.Product, error) {
	if m.err != nil {
		return nil, m.err
	}
	p, ok := m.products[id]
	if !ok {
		return nil, catalog.ErrProductNotFound
	}
	return p, nil
}

func newCatalog() *mockCatalog {
	return &mockCatalog{products: map[string]*catalog.Product{
		"prod-mug":   {ID: "prod-mug", Name: "Mug", Price: decimal.RequireFromString("30.00"), AvailableStock: 12, SellerID: "artisan-clay"},
		"prod-bowl":  {ID: "prod-bowl", Name: "Bowl", Price: decimal.RequireFromString("50.00"), AvailableStock: 5, SellerID: "artisan-clay"},
		"prod-scarf": {ID: "prod-scarf", Name: "Scarf", Price: decimal.RequireFromString("45.50"), AvailableStock: 8, SellerID: "artisan-loom"},
		"prod-free":  {ID: "prod-free", Name: "Sample", Price: decimal.Zero, AvailableStock: 8, SellerID: "artisan-loom"},
	}}
}
