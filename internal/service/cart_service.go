package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"storefront/internal/models"
	"storefront/internal/redisclient"
	"storefront/internal/store"
	"storefront/internal/util"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// CartService handles cart business logic
type CartService struct {
	carts    CartRepository
	products ProductRepository
	cache    CartCache
	cacheTTL time.Duration
	loads    singleflight.Group
	logger   *zap.Logger
}

// NewCartService creates a new cart service
func NewCartService(carts CartRepository, products ProductRepository, cache CartCache, cacheTTL time.Duration) *CartService {
	return &CartService{
		carts:    carts,
		products: products,
		cache:    cache,
		cacheTTL: cacheTTL,
		logger:   util.GetLogger(),
	}
}

// AddItem adds one unit of the product to the user's cart and returns the
// resulting quantity.
func (s *CartService) AddItem(ctx context.Context, userID, productID int64) (int, error) {
	ctx, span := util.StartSpan(ctx, "CartService.AddItem")
	defer span.End()

	if _, err := s.products.GetProductByID(ctx, productID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, &ProductNotFoundError{ProductID: productID}
		}
		return 0, fmt.Errorf("failed to load product: %w", err)
	}

	quantity, err := s.carts.AddCartItem(ctx, userID, productID)
	if err != nil {
		return 0, fmt.Errorf("failed to add cart item: %w", err)
	}

	util.CartMutationsTotal.WithLabelValues("add").Inc()
	s.Invalidate(ctx, userID)
	return quantity, nil
}

// SetQuantity overwrites the quantity of a line already in the cart. Zero
// removes the line.
func (s *CartService) SetQuantity(ctx context.Context, userID, productID int64, quantity int) error {
	if quantity < 0 {
		return &InvalidQuantityError{Quantity: quantity}
	}
	if quantity == 0 {
		return s.RemoveItem(ctx, userID, productID)
	}

	ctx, span := util.StartSpan(ctx, "CartService.SetQuantity")
	defer span.End()

	found, err := s.carts.SetCartItemQuantity(ctx, userID, productID, quantity)
	if err != nil {
		return fmt.Errorf("failed to update cart item: %w", err)
	}
	if !found {
		return &NotInCartError{ProductID: productID}
	}

	util.CartMutationsTotal.WithLabelValues("set").Inc()
	s.Invalidate(ctx, userID)
	return nil
}

// RemoveItem deletes a line from the cart
func (s *CartService) RemoveItem(ctx context.Context, userID, productID int64) error {
	ctx, span := util.StartSpan(ctx, "CartService.RemoveItem")
	defer span.End()

	found, err := s.carts.RemoveCartItem(ctx, userID, productID)
	if err != nil {
		return fmt.Errorf("failed to remove cart item: %w", err)
	}
	if !found {
		return &NotInCartError{ProductID: productID}
	}

	util.CartMutationsTotal.WithLabelValues("remove").Inc()
	s.Invalidate(ctx, userID)
	return nil
}

// Clear empties the cart. Clearing an empty cart is not an error.
func (s *CartService) Clear(ctx context.Context, userID int64) error {
	ctx, span := util.StartSpan(ctx, "CartService.Clear")
	defer span.End()

	if err := s.carts.ClearCart(ctx, userID); err != nil {
		return fmt.Errorf("failed to clear cart: %w", err)
	}

	util.CartMutationsTotal.WithLabelValues("clear").Inc()
	s.Invalidate(ctx, userID)
	return nil
}

// List returns the cart lines whose product still exists. Listings are
// cached under the cart's current version, so a load that races a mutation
// can only fill a key that is no longer read.
func (s *CartService) List(ctx context.Context, userID int64) ([]models.CartLine, error) {
	ctx, span := util.StartSpan(ctx, "CartService.List")
	defer span.End()

	version, err := s.cache.CartVersion(ctx, userID)
	if err != nil {
		s.logger.Warn("Cart version read failed, bypassing cache", zap.Int64("user_id", userID), zap.Error(err))
		lines, err := s.carts.ListCartLines(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to list cart: %w", err)
		}
		return presentLines(lines), nil
	}
	key := redisclient.CartKey(userID, version)

	var cached []models.CartLine
	err = s.cache.GetJSON(ctx, key, &cached)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, redisclient.ErrCacheMiss) {
		s.logger.Warn("Cart cache read failed", zap.Int64("user_id", userID), zap.Error(err))
	}

	// Shared by every waiter, so it must not die with the first caller's request.
	loadCtx := context.WithoutCancel(ctx)
	v, err, _ := s.loads.Do(key, func() (interface{}, error) {
		lines, err := s.carts.ListCartLines(loadCtx, userID)
		if err != nil {
			return nil, err
		}
		lines = presentLines(lines)

		if err := s.cache.SetJSON(loadCtx, key, lines, s.cacheTTL); err != nil {
			s.logger.Warn("Cart cache write failed", zap.Int64("user_id", userID), zap.Error(err))
		}
		return lines, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list cart: %w", err)
	}
	return v.([]models.CartLine), nil
}

// Invalidate moves the user's cart to a new cache version and drops the
// listing cached under the previous one.
func (s *CartService) Invalidate(ctx context.Context, userID int64) {
	version, err := s.cache.BumpCartVersion(ctx, userID)
	if err != nil {
		s.logger.Warn("Cart cache invalidation failed", zap.Int64("user_id", userID), zap.Error(err))
		return
	}
	if err := s.cache.Delete(ctx, redisclient.CartKey(userID, version-1)); err != nil {
		s.logger.Debug("Stale cart listing not deleted", zap.Int64("user_id", userID), zap.Error(err))
	}
}

func presentLines(lines []models.CartLine) []models.CartLine {
	out := make([]models.CartLine, 0, len(lines))
	for _, line := range lines {
		if line.Product != nil {
			out = append(out, line)
		}
	}
	return out
}
