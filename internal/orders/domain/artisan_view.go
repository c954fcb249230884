package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ArtisanOrder is what one seller sees of an order: their own lines and
// their subtotal. Other sellers' lines and the order total are left out.
type ArtisanOrder struct {
	ID              uuid.UUID       `json:"id"`
	Items           []OrderItem     `json:"items"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	ShippingAddress string          `json:"shipping_address"`
	Status          OrderStatus     `json:"status"`
	PaymentStatus   PaymentStatus   `json:"payment_status"`
	OrderDate       time.Time       `json:"order_date"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// ArtisanView filters o for artisanID; ok is false if the artisan has no lines on it.
func ArtisanView(o *Order, artisanID string) (view ArtisanOrder, ok bool) {
	subtotal := decimal.Zero
	var items []OrderItem
	for _, it := range o.Items {
		if it.SellerID != artisanID {
			continue
		}
		items = append(items, it)
		subtotal = subtotal.Add(it.LineTotal())
	}
	if len(items) == 0 {
		return ArtisanOrder{}, false
	}

	return ArtisanOrder{
		ID:              o.ID,
		Items:           items,
		Subtotal:        subtotal.Round(2),
		ShippingAddress: o.ShippingAddress,
		Status:          o.Status,
		PaymentStatus:   o.PaymentStatus,
		OrderDate:       o.OrderDate,
		UpdatedAt:       o.UpdatedAt,
	}, true
}
