package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/craft_market/internal/apperrors"
	"github.com/fjod/craft_market/internal/cart/cache"
	"github.com/fjod/craft_market/internal/cart/domain"
	"github.com/fjod/craft_market/internal/cart/repository"
	"github.com/fjod/craft_market/internal/catalog"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

type CartService struct {
	repo    repository.CartRepository
	cache   cache.CartCache
	catalog catalog.Lookup
	log     *zap.Logger
	sfg     singleflight.Group // Prevents cache stampede
}

func NewCartService(repo repository.CartRepository, cache cache.CartCache, products catalog.Lookup, log *zap.Logger) *CartService {
	if log == nil {
		log = zap.NewNop()
	}
	return &CartService{
		repo:    repo,
		cache:   cache,
		catalog: products,
		log:     log.Named("cart"),
	}
}

// GetCart returns the customer's cart, or an empty one if nothing is stored yet.
func (s *CartService) GetCart(ctx context.Context, userID string) (*domain.Cart, error) {
	v, err, _ := s.sfg.Do(userID, func() (interface{}, error) {
		cart, err := s.cache.Get(ctx, userID)
		if err == nil {
			return cart, nil
		}

		if !errors.Is(err, cache.ErrCacheMiss) {
			s.log.Warn("cache get failed", zap.String("user_id", userID), zap.Error(err))
		}

		cart, errGet := s.repo.GetCart(ctx, userID)
		if errors.Is(errGet, repository.ErrCartNotFound) {
			return &domain.Cart{
				UserID:    userID,
				Items:     nil,
				CreatedAt: time.Now(),
				UpdatedAt: time.Now(),
			}, nil
		}
		if errGet != nil {
			return nil, errGet
		}

		go func() {
			if errSet := s.cache.Set(context.Background(), userID, cart); errSet != nil {
				s.log.Warn("cache set failed", zap.String("user_id", userID), zap.Error(errSet))
			}
		}()

		return cart, nil
	})

	if err != nil {
		return nil, err
	}

	return v.(*domain.Cart), nil
}

// AddItem sets the line for productID to quantity, snapshotting the catalog
// price and seller the first time the product enters the cart.
func (s *CartService) AddItem(ctx context.Context, userID, productID string, quantity int) (*domain.CartItem, error) {
	if quantity < 1 {
		return nil, fmt.Errorf("%w: quantity must be at least 1", apperrors.ErrValidation)
	}

	product, err := s.catalog.GetProduct(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("lookup product %s: %w", productID, err)
	}

	item := domain.CartItem{
		ProductID: product.ID,
		Quantity:  quantity,
		UnitPrice: product.Price,
		SellerID:  product.SellerID,
		AddedAt:   time.Now(),
	}
	if errAdd := s.repo.UpsertItem(ctx, userID, item); errAdd != nil {
		s.log.Warn("repo upsert item failed", zap.String("user_id", userID), zap.String("product_id", productID), zap.Error(errAdd))
		return nil, errAdd
	}

	s.invalidateCache(userID)
	return &item, nil
}

func (s *CartService) UpdateQuantity(ctx context.Context, userID, productID string, quantity int) error {
	if quantity < 1 {
		return fmt.Errorf("%w: quantity must be at least 1", apperrors.ErrValidation)
	}

	if errUpdate := s.repo.UpdateItemQuantity(ctx, userID, productID, quantity); errUpdate != nil {
		s.log.Warn("repo update item quantity failed", zap.String("user_id", userID), zap.String("product_id", productID), zap.Error(errUpdate))
		return errUpdate
	}

	s.invalidateCache(userID)
	return nil
}

func (s *CartService) RemoveItem(ctx context.Context, userID, productID string) error {
	if errRemove := s.repo.RemoveItem(ctx, userID, productID); errRemove != nil {
		s.log.Warn("repo remove item failed", zap.String("user_id", userID), zap.String("product_id", productID), zap.Error(errRemove))
		return errRemove
	}

	s.invalidateCache(userID)
	return nil
}

// ClearCart deletes the customer's cart. A cart that is already gone counts as cleared.
func (s *CartService) ClearCart(ctx context.Context, userID string) error {
	errDelete := s.repo.DeleteCart(ctx, userID)
	if errDelete != nil && !errors.Is(errDelete, repository.ErrCartNotFound) {
		s.log.Warn("repo delete cart failed", zap.String("user_id", userID), zap.Error(errDelete))
		return errDelete
	}

	s.invalidateCache(userID)
	return nil
}

// ClearCartUpdatedBefore deletes the customer's cart only if it has not
// changed since before. A newer cart, or none at all, counts as cleared.
func (s *CartService) ClearCartUpdatedBefore(ctx context.Context, userID string, before time.Time) error {
	errDelete := s.repo.DeleteCartUpdatedBefore(ctx, userID, before)
	if errors.Is(errDelete, repository.ErrCartNotFound) {
		return nil
	}
	if errDelete != nil {
		s.log.Warn("repo delete cart failed", zap.String("user_id", userID), zap.Error(errDelete))
		return errDelete
	}

	s.invalidateCache(userID)
	return nil
}

func (s *CartService) invalidateCache(userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.cache.Delete(ctx, userID); err != nil {
		s.log.Warn("cache invalidate failed", zap.String("user_id", userID), zap.Error(err))
	}
}
