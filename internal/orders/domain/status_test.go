package domain

import (
	"fmt"
	"testing"

	"github.com/fjod/craft_market/internal/apperrors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusProcessing,
	OrderStatusShipped,
	OrderStatusDelivered,
	OrderStatusCancelled,
}

func TestTransition_ExactlyFourEdges(t *testing.T) {
	allowed := map[string]bool{
		"pending->shipped":   true,
		"pending->cancelled": true,
		"shipped->delivered": true,
		"shipped->cancelled": true,
	}

	for _, from := range allStatuses {
		for _, to := range allStatuses {
			name := fmt.Sprintf("%s->%s", from, to)
			t.Run(name, func(t *testing.T) {
				err := Transition(from, to)
				if allowed[name] {
					assert.NoError(t, err)
					return
				}
				assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)
			})
		}
	}
}

func TestTransition_TerminalStatesHaveNoExits(t *testing.T) {
	for _, s := range allStatuses {
		if s.IsTerminal() {
			assert.Empty(t, AllowedNext(s), s)
		}
	}
	assert.True(t, OrderStatusDelivered.IsTerminal())
	assert.True(t, OrderStatusCancelled.IsTerminal())
	assert.False(t, OrderStatusPending.IsTerminal())
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus("shipped")
	require.NoError(t, err)
	assert.Equal(t, OrderStatusShipped, s)

	_, err = ParseStatus("SHIPPED")
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func twoSellerOrder() *Order {
	return &Order{
		ID:         uuid.New(),
		CustomerID: "buyer-1",
		Status:     OrderStatusPending,
		Items: []OrderItem{
			{ProductID: "mug", SellerID: "artisan-clay", Quantity: 2, Price: decimal.RequireFromString("30.00")},
			{ProductID: "scarf", SellerID: "artisan-loom", Quantity: 1, Price: decimal.RequireFromString("45.50")},
			{ProductID: "bowl", SellerID: "artisan-clay", Quantity: 1, Price: decimal.RequireFromString("50.00")},
		},
		TotalAmount: decimal.RequireFromString("155.50"),
	}
}

func TestChangeStatus(t *testing.T) {
	tests := []struct {
		name    string
		actor   Actor
		to      OrderStatus
		wantErr error
	}{
		{name: "owning seller ships", actor: Seller("artisan-loom"), to: OrderStatusShipped},
		{name: "buyer cannot mutate", actor: Customer("buyer-1"), to: OrderStatusCancelled, wantErr: apperrors.ErrForbidden},
		{name: "unrelated seller", actor: Seller("artisan-wood"), to: OrderStatusShipped, wantErr: apperrors.ErrForbidden},
		{name: "skip to delivered", actor: Seller("artisan-clay"), to: OrderStatusDelivered, wantErr: apperrors.ErrInvalidTransition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := twoSellerOrder()
			err := ChangeStatus(tt.actor, o, tt.to)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, OrderStatusPending, o.Status, "status unchanged on rejection")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.to, o.Status)
		})
	}
}

func TestAuthorizeRead(t *testing.T) {
	o := twoSellerOrder()

	assert.NoError(t, AuthorizeRead(Customer("buyer-1"), o))
	assert.NoError(t, AuthorizeRead(Seller("artisan-clay"), o))
	assert.ErrorIs(t, AuthorizeRead(Customer("buyer-2"), o), apperrors.ErrNotFound)
	assert.ErrorIs(t, AuthorizeRead(Seller("artisan-wood"), o), apperrors.ErrNotFound)
}

func TestArtisanView_OnlyOwnLines(t *testing.T) {
	o := twoSellerOrder()

	view, ok := ArtisanView(o, "artisan-clay")
	require.True(t, ok)
	require.Len(t, view.Items, 2)
	for _, it := range view.Items {
		assert.Equal(t, "artisan-clay", it.SellerID)
	}
	assert.Equal(t, "110", view.Subtotal.String())

	loom, ok := ArtisanView(o, "artisan-loom")
	require.True(t, ok)
	require.Len(t, loom.Items, 1)
	assert.Equal(t, "45.5", loom.Subtotal.String())

	_, ok = ArtisanView(o, "artisan-wood")
	assert.False(t, ok)
}

func TestSellerIDs(t *testing.T) {
	assert.Equal(t, []string{"artisan-clay", "artisan-loom"}, twoSellerOrder().SellerIDs())
}

func TestNewOrderPlacedEvent(t *testing.T) {
	o := twoSellerOrder()
	o.PaymentRef = "CAP-1"

	evt := NewOrderPlacedEvent(o)
	assert.Equal(t, o.ID.String(), evt.OrderID)
	assert.Equal(t, "buyer-1", evt.CustomerID)
	assert.Equal(t, []string{"artisan-clay", "artisan-loom"}, evt.SellerIDs)
	assert.Equal(t, "CAP-1", evt.PaymentRef)
}
