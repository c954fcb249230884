package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/fjod/craft_market/internal/apperrors"
	"github.com/fjod/craft_market/internal/cart/domain"
	"github.com/fjod/craft_market/pkg/circuitbreaker"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// Remote is the persisted side of the cart. *service.CartService satisfies it.
type Remote interface {
	GetCart(ctx context.Context, userID string) (*domain.Cart, error)
	AddItem(ctx context.Context, userID, productID string, quantity int) (*domain.CartItem, error)
	UpdateQuantity(ctx context.Context, userID, productID string, quantity int) error
	RemoveItem(ctx context.Context, userID, productID string) error
	ClearCart(ctx context.Context, userID string) error
}

// ServiceRemote guards a Remote with a circuit breaker and reports every
// failure that is not a business outcome as apperrors.ErrRemoteUnavailable.
type ServiceRemote struct {
	next Remote
	cb   *gobreaker.CircuitBreaker[any]
}

var _ Remote = (*ServiceRemote)(nil)

func NewServiceRemote(next Remote, log *zap.Logger) *ServiceRemote {
	settings := circuitbreaker.DefaultSettings("cart-store")
	settings.IsExpected = isBusinessError
	return &ServiceRemote{
		next: next,
		cb:   circuitbreaker.New[any](settings, log),
	}
}

func (r *ServiceRemote) GetCart(ctx context.Context, userID string) (*domain.Cart, error) {
	v, err := r.cb.Execute(func() (any, error) {
		return r.next.GetCart(ctx, userID)
	})
	if err != nil {
		return nil, mapRemoteError("get cart", err)
	}
	return v.(*domain.Cart), nil
}

func (r *ServiceRemote) AddItem(ctx context.Context, userID, productID string, quantity int) (*domain.CartItem, error) {
	v, err := r.cb.Execute(func() (any, error) {
		return r.next.AddItem(ctx, userID, productID, quantity)
	})
	if err != nil {
		return nil, mapRemoteError("add item", err)
	}
	return v.(*domain.CartItem), nil
}

func (r *ServiceRemote) UpdateQuantity(ctx context.Context, userID, productID string, quantity int) error {
	_, err := r.cb.Execute(func() (any, error) {
		return nil, r.next.UpdateQuantity(ctx, userID, productID, quantity)
	})
	return mapRemoteError("update quantity", err)
}

func (r *ServiceRemote) RemoveItem(ctx context.Context, userID, productID string) error {
	_, err := r.cb.Execute(func() (any, error) {
		return nil, r.next.RemoveItem(ctx, userID, productID)
	})
	return mapRemoteError("remove item", err)
}

func (r *ServiceRemote) ClearCart(ctx context.Context, userID string) error {
	_, err := r.cb.Execute(func() (any, error) {
		return nil, r.next.ClearCart(ctx, userID)
	})
	return mapRemoteError("clear cart", err)
}

func isBusinessError(err error) bool {
	return errors.Is(err, apperrors.ErrValidation) || errors.Is(err, apperrors.ErrNotFound)
}

func mapRemoteError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case circuitbreaker.IsOpen(err):
		return fmt.Errorf("%w: %s: cart store circuit open", apperrors.ErrRemoteUnavailable, op)
	case isBusinessError(err), errors.Is(err, apperrors.ErrRemoteUnavailable):
		return err
	default:
		return fmt.Errorf("%w: %s: %w", apperrors.ErrRemoteUnavailable, op, err)
	}
}
