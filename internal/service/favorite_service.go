package service

import (
	"context"
	"errors"
	"fmt"

	"storefront/internal/models"
	"storefront/internal/store"
	"storefront/internal/util"
)

// FavoriteService handles liked products
type FavoriteService struct {
	favorites FavoriteRepository
	products  ProductRepository
}

// NewFavoriteService creates a new favorite service
func NewFavoriteService(favorites FavoriteRepository, products ProductRepository) *FavoriteService {
	return &FavoriteService{favorites: favorites, products: products}
}

// Toggle adds or removes the product from the user's favorites and reports
// whether it is a favorite afterwards
func (s *FavoriteService) Toggle(ctx context.Context, userID, productID int64) (bool, error) {
	ctx, span := util.StartSpan(ctx, "FavoriteService.Toggle")
	defer span.End()

	if _, err := s.products.GetProductByID(ctx, productID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, &ProductNotFoundError{ProductID: productID}
		}
		return false, fmt.Errorf("failed to load product: %w", err)
	}

	favorited, err := s.favorites.ToggleFavorite(ctx, userID, productID)
	if err != nil {
		return false, fmt.Errorf("failed to toggle favorite: %w", err)
	}
	return favorited, nil
}

// List returns the user's favorite products
func (s *FavoriteService) List(ctx context.Context, userID int64) ([]models.Product, error) {
	products, err := s.favorites.ListFavoriteProducts(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list favorites: %w", err)
	}
	for i := range products {
		products[i].IsFavorited = true
	}
	return products, nil
}

// MarkFavorites returns a copy of products with IsFavorited set for the
// user's favorites. Anonymous viewers (userID 0) get the products unchanged.
func (s *FavoriteService) MarkFavorites(ctx context.Context, userID int64, products []models.Product) ([]models.Product, error) {
	if userID == 0 || len(products) == 0 {
		return products, nil
	}
	ctx, span := util.StartSpan(ctx, "FavoriteService.MarkFavorites")
	defer span.End()

	ids, err := s.favorites.FavoriteProductIDs(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load favorites: %w", err)
	}
	favorited := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		favorited[id] = struct{}{}
	}

	out := make([]models.Product, len(products))
	for i, p := range products {
		_, p.IsFavorited = favorited[p.ID]
		out[i] = p
	}
	return out, nil
}
