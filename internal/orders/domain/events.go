package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventOrderPlaced        = "order.placed"
	EventOrderStatusChanged = "order.status_changed"
)

type OrderPlacedEvent struct {
	OrderID     string          `json:"order_id"`
	CustomerID  string          `json:"customer_id"`
	SellerIDs   []string        `json:"seller_ids"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Currency    string          `json:"currency"`
	PaymentRef  string          `json:"payment_ref"`
	PlacedAt    time.Time       `json:"placed_at"`
}

func NewOrderPlacedEvent(o *Order) OrderPlacedEvent {
	return OrderPlacedEvent{
		OrderID:     o.ID.String(),
		CustomerID:  o.CustomerID,
		SellerIDs:   o.SellerIDs(),
		TotalAmount: o.TotalAmount,
		Currency:    o.Currency,
		PaymentRef:  o.PaymentRef,
		PlacedAt:    o.OrderDate,
	}
}

type OrderStatusChangedEvent struct {
	OrderID    string      `json:"order_id"`
	CustomerID string      `json:"customer_id"`
	From       OrderStatus `json:"from"`
	To         OrderStatus `json:"to"`
	ChangedBy  string      `json:"changed_by"`
	ChangedAt  time.Time   `json:"changed_at"`
}
