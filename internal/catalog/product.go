package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/fjod/craft_market/internal/apperrors"
	"github.com/shopspring/decimal"
)

var ErrProductNotFound = fmt.Errorf("%w: product not found", apperrors.ErrNotFound)

// Product is the catalog view the cart and order components need: what it
// costs, how many are left and which artisan sells it.
type Product struct {
	ID             string
	Name           string
	Price          decimal.Decimal
	AvailableStock int
	SellerID       string
	CreatedAt      time.Time
}

// Lookup is the read side consumed by the cart and order services.
type Lookup interface {
	GetProduct(ctx context.Context, id string) (*Product, error)
}
