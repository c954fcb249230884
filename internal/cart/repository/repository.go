package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/fjod/craft_market/internal/apperrors"
	"github.com/fjod/craft_market/internal/cart/domain"
)

var (
	ErrCartNotFound = fmt.Errorf("%w: cart not found", apperrors.ErrNotFound)
	ErrItemNotFound = fmt.Errorf("%w: item not found in cart", apperrors.ErrNotFound)
)

// CartRepository defines the interface for cart data operations
// Consumers define this interface, not the MongoDB implementation
type CartRepository interface {
	GetCart(ctx context.Context, userID string) (*domain.Cart, error)
	// UpsertItem sets the item's absolute quantity, creating the cart or the line as needed.
	UpsertItem(ctx context.Context, userID string, item domain.CartItem) error
	UpdateItemQuantity(ctx context.Context, userID string, productID string, quantity int) error
	RemoveItem(ctx context.Context, userID string, productID string) error
	DeleteCart(ctx context.Context, userID string) error
	// DeleteCartUpdatedBefore removes the user's carts last changed at or before
	// the given time. Carts changed later are kept.
	DeleteCartUpdatedBefore(ctx context.Context, userID string, before time.Time) error
}
