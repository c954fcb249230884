package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Cart struct {
	ID        string     `bson:"_id,omitempty" json:"id"`
	UserID    string     `bson:"user_id" json:"user_id"`
	Items     []CartItem `bson:"items" json:"items"`
	CreatedAt time.Time  `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time  `bson:"updated_at" json:"updated_at"`
}

// CartItem keeps the unit price the product had when it was added.
type CartItem struct {
	ProductID string          `bson:"product_id" json:"product_id"`
	Quantity  int             `bson:"quantity" json:"quantity"`
	UnitPrice decimal.Decimal `bson:"unit_price" json:"unit_price"`
	SellerID  string          `bson:"seller_id" json:"seller_id"`
	AddedAt   time.Time       `bson:"added_at" json:"added_at"`
}

func (c *Cart) Item(productID string) (CartItem, bool) {
	for _, item := range c.Items {
		if item.ProductID == productID {
			return item, true
		}
	}
	return CartItem{}, false
}
