package service

import (
	"context"
	"errors"
	"testing"

	"github.com/fjod/craft_market/internal/apperrors"
	"github.com/fjod/craft_market/internal/orders/domain"
	"github.com/fjod/craft_market/internal/pricing"
	"github.com/fjod/craft_market/pkg/metrics"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newSut(repo *mockRepository, cat *mockCatalog) (*OrderService, *metrics.Metrics) {
	m := metrics.New(prometheus.NewRegistry())
	return NewOrderService(repo, cat, pricing.NewStaticPromoResolver("CRAFT10"), zap.NewNop(), m), m
}

// two mugs and a scarf: 60 + 45.50 = 105.50, free shipping
func validRequest() PlaceOrderRequest {
	return PlaceOrderRequest{
		CustomerID: "buyer-1",
		Items: []LineRequest{
			{ProductID: "prod-mug", Quantity: 2},
			{ProductID: "prod-scarf", Quantity: 1},
		},
		Total:    decimal.RequireFromString("105.50"),
		Currency: "USD",
		Shipping: domain.ShippingAddress{
			FullName:   "Ada Lovelace",
			Address:    "1 Loom St",
			City:       "London",
			State:      "LDN",
			PostalCode: "N1 9GU",
			Country:    "UK",
		},
		PaymentRef: "CAP-1",
	}
}

func TestPlaceOrder_Success(t *testing.T) {
	repo := newMockRepository()
	sut, m := newSut(repo, newCatalog())

	order, err := sut.PlaceOrder(context.Background(), validRequest())
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, order.Status)
	assert.Equal(t, domain.PaymentStatusPaid, order.PaymentStatus)
	assert.Equal(t, "105.5", order.TotalAmount.String())
	require.Len(t, order.Items, 2)
	assert.Equal(t, "artisan-clay", order.Items[0].SellerID)
	assert.Equal(t, "Mug", order.Items[0].ProductName)
	assert.Equal(t, "Ada Lovelace, 1 Loom St, London, LDN N1 9GU, UK", order.ShippingAddress)
	assert.Equal(t, 1, repo.created)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.OrdersPlaced))
}

func TestPlaceOrder_WithPromo(t *testing.T) {
	sut, _ := newSut(newMockRepository(), newCatalog())
	req := validRequest()
	req.Items = []LineRequest{{ProductID: "prod-mug", Quantity: 1}}
	req.PromoCode = "craft10"
	req.Total = decimal.RequireFromString("37")

	order, err := sut.PlaceOrder(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "CRAFT10", order.PromoCode)
}

func TestPlaceOrder_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*PlaceOrderRequest)
		wantErr error
		reason  string
	}{
		{
			name:    "tampered total",
			mutate:  func(r *PlaceOrderRequest) { r.Total = decimal.RequireFromString("10.00") },
			wantErr: apperrors.ErrPriceMismatch,
			reason:  "price_mismatch",
		},
		{
			name:    "missing shipping",
			mutate:  func(r *PlaceOrderRequest) { r.Shipping = domain.ShippingAddress{} },
			wantErr: apperrors.ErrValidation,
			reason:  "validation",
		},
		{
			name:    "blank postal code",
			mutate:  func(r *PlaceOrderRequest) { r.Shipping.PostalCode = "  " },
			wantErr: apperrors.ErrValidation,
			reason:  "validation",
		},
		{
			name:    "no items",
			mutate:  func(r *PlaceOrderRequest) { r.Items = nil },
			wantErr: apperrors.ErrValidation,
			reason:  "validation",
		},
		{
			name:    "unknown product",
			mutate:  func(r *PlaceOrderRequest) { r.Items[0].ProductID = "prod-ghost" },
			wantErr: apperrors.ErrValidation,
			reason:  "validation",
		},
		{
			name:    "unpriced product",
			mutate:  func(r *PlaceOrderRequest) { r.Items[0].ProductID = "prod-free" },
			wantErr: apperrors.ErrValidation,
			reason:  "validation",
		},
		{
			name:    "over stock",
			mutate:  func(r *PlaceOrderRequest) { r.Items[0].Quantity = 13 },
			wantErr: apperrors.ErrValidation,
			reason:  "validation",
		},
		{
			name:    "zero quantity",
			mutate:  func(r *PlaceOrderRequest) { r.Items[0].Quantity = 0 },
			wantErr: apperrors.ErrValidation,
			reason:  "validation",
		},
		{
			name:    "bad promo",
			mutate:  func(r *PlaceOrderRequest) { r.PromoCode = "SAVE50" },
			wantErr: apperrors.ErrValidation,
			reason:  "validation",
		},
		{
			name: "duplicate line",
			mutate: func(r *PlaceOrderRequest) {
				r.Items = append(r.Items, LineRequest{ProductID: "prod-mug", Quantity: 1})
			},
			wantErr: apperrors.ErrValidation,
			reason:  "validation",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMockRepository()
			sut, m := newSut(repo, newCatalog())
			req := validRequest()
			tt.mutate(&req)

			order, err := sut.PlaceOrder(context.Background(), req)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, order)
			assert.Zero(t, repo.created, "nothing persisted")
			assert.Equal(t, float64(1), testutil.ToFloat64(m.OrdersRejected.WithLabelValues(tt.reason)))
		})
	}
}

func TestPlaceOrder_EveryShippingFieldRequired(t *testing.T) {
	repo := newMockRepository()
	sut, _ := newSut(repo, newCatalog())
	req := validRequest()
	req.Shipping = domain.ShippingAddress{FullName: " ", Address: ",", City: "London"}

	_, err := sut.PlaceOrder(context.Background(), req)
	require.ErrorIs(t, err, apperrors.ErrValidation)
	assert.ErrorContains(t, err, "shipping full_name")
	assert.ErrorContains(t, err, "shipping state")
	assert.ErrorContains(t, err, "shipping postal_code")
	assert.ErrorContains(t, err, "shipping country")
	assert.NotContains(t, err.Error(), "shipping city")
	assert.Zero(t, repo.created)
}

func TestQuote(t *testing.T) {
	cat := newCatalog()
	repo := newMockRepository()
	sut, _ := newSut(repo, cat)
	ctx := context.Background()

	q, err := sut.Quote(ctx, QuoteRequest{
		Items:     []LineRequest{{ProductID: "prod-mug", Quantity: 1}},
		PromoCode: " craft10",
	})
	require.NoError(t, err)
	assert.Equal(t, "37", q.Breakdown.Total.String())
	assert.Equal(t, "CRAFT10", q.PromoCode)
	require.Len(t, q.Items, 1)
	assert.Equal(t, "30", q.Items[0].Price.String())
	assert.Zero(t, repo.created, "quoting persists nothing")

	_, err = sut.Quote(ctx, QuoteRequest{Items: []LineRequest{{ProductID: "prod-mug", Quantity: 13}}})
	assert.ErrorIs(t, err, apperrors.ErrValidation, "stock is checked")

	_, err = sut.Quote(ctx, QuoteRequest{})
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	cat.err = errors.New("sqlite busy")
	_, err = sut.Quote(ctx, QuoteRequest{Items: []LineRequest{{ProductID: "prod-mug", Quantity: 1}}})
	assert.ErrorIs(t, err, apperrors.ErrRemoteUnavailable)
}

func TestPlaceOrder_StoreUnavailable(t *testing.T) {
	repo := newMockRepository()
	repo.createErr = errors.New("connection reset")
	sut, _ := newSut(repo, newCatalog())

	_, err := sut.PlaceOrder(context.Background(), validRequest())
	assert.ErrorIs(t, err, apperrors.ErrRemoteUnavailable)
	assert.True(t, apperrors.IsRecoverable(err))
}

func TestPlaceOrder_CatalogUnavailable(t *testing.T) {
	cat := newCatalog()
	cat.err = errors.New("sqlite busy")
	sut, _ := newSut(newMockRepository(), cat)

	_, err := sut.PlaceOrder(context.Background(), validRequest())
	assert.ErrorIs(t, err, apperrors.ErrRemoteUnavailable)
}

func TestPlaceOrder_IdempotentOnPaymentRef(t *testing.T) {
	repo := newMockRepository()
	sut, _ := newSut(repo, newCatalog())
	ctx := context.Background()

	first, err := sut.PlaceOrder(ctx, validRequest())
	require.NoError(t, err)
	second, err := sut.PlaceOrder(ctx, validRequest())
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, repo.created)

	other := validRequest()
	other.CustomerID = "buyer-2"
	_, err = sut.PlaceOrder(ctx, other)
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func placed(t *testing.T, sut *OrderService) *domain.Order {
	o, err := sut.PlaceOrder(context.Background(), validRequest())
	require.NoError(t, err)
	return o
}

func TestGetOrder_OwnOrdersOnly(t *testing.T) {
	sut, _ := newSut(newMockRepository(), newCatalog())
	o := placed(t, sut)
	ctx := context.Background()

	got, err := sut.GetOrder(ctx, "buyer-1", o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.ID, got.ID)

	_, err = sut.GetOrder(ctx, "buyer-2", o.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = sut.GetOrder(ctx, "buyer-1", uuid.New())
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestArtisanReads_AreFiltered(t *testing.T) {
	sut, _ := newSut(newMockRepository(), newCatalog())
	o := placed(t, sut)
	ctx := context.Background()

	view, err := sut.GetOrderForArtisan(ctx, "artisan-loom", o.ID)
	require.NoError(t, err)
	require.Len(t, view.Items, 1)
	assert.Equal(t, "prod-scarf", view.Items[0].ProductID)
	assert.Equal(t, "45.5", view.Subtotal.String())

	_, err = sut.GetOrderForArtisan(ctx, "artisan-wood", o.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	list, err := sut.ListOrdersForArtisan(ctx, "artisan-clay")
	require.NoError(t, err)
	require.Len(t, list, 1)
	for _, it := range list[0].Items {
		assert.Equal(t, "artisan-clay", it.SellerID)
	}

	mine, err := sut.ListOrdersForCustomer(ctx, "buyer-1")
	require.NoError(t, err)
	assert.Len(t, mine, 1)
}

func TestUpdateStatus(t *testing.T) {
	repo := newMockRepository()
	sut, m := newSut(repo, newCatalog())
	o := placed(t, sut)
	ctx := context.Background()

	view, err := sut.UpdateStatus(ctx, domain.Seller("artisan-clay"), o.ID, domain.OrderStatusShipped)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusShipped, view.Status)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.StatusTransitions.WithLabelValues("pending", "shipped")))

	_, err = sut.UpdateStatus(ctx, domain.Seller("artisan-clay"), o.ID, domain.OrderStatusPending)
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)

	_, err = sut.UpdateStatus(ctx, domain.Customer("buyer-1"), o.ID, domain.OrderStatusCancelled)
	assert.ErrorIs(t, err, apperrors.ErrForbidden)

	_, err = sut.UpdateStatus(ctx, domain.Seller("artisan-wood"), o.ID, domain.OrderStatusDelivered)
	assert.ErrorIs(t, err, apperrors.ErrForbidden)

	_, err = sut.UpdateStatus(ctx, domain.Seller("artisan-loom"), o.ID, domain.OrderStatusDelivered)
	require.NoError(t, err)

	stored, err := repo.GetOrderByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusDelivered, stored.Status)

	_, err = sut.UpdateStatus(ctx, domain.Seller("artisan-loom"), o.ID, domain.OrderStatusCancelled)
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition, "delivered is terminal")
}

func TestUpdateStatus_StoreDown(t *testing.T) {
	repo := newMockRepository()
	sut, _ := newSut(repo, newCatalog())
	o := placed(t, sut)
	repo.getErr = errors.New("connection refused")

	_, err := sut.UpdateStatus(context.Background(), domain.Seller("artisan-clay"), o.ID, domain.OrderStatusShipped)
	assert.ErrorIs(t, err, apperrors.ErrRemoteUnavailable)
}
