package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"storefront/internal/models"
	"storefront/internal/redisclient"
	"storefront/internal/store"
	"storefront/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// recommendationCount is how many random products Recommended returns.
const recommendationCount = 4

// CatalogService handles product browsing and admin catalog changes
type CatalogService struct {
	products    ProductRepository
	cache       Cache
	featuredTTL time.Duration
	loads       singleflight.Group
	logger      *zap.Logger
}

// NewCatalogService creates a new catalog service
func NewCatalogService(products ProductRepository, cache Cache, featuredTTL time.Duration) *CatalogService {
	return &CatalogService{
		products:    products,
		cache:       cache,
		featuredTTL: featuredTTL,
		logger:      util.GetLogger(),
	}
}

// CreateProductRequest is the admin payload for a new product
type CreateProductRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Image       string          `json:"image"`
	Color       string          `json:"color"`
	Category    string          `json:"category"`
	Size        string          `json:"size"`
	Stock       int             `json:"stock"`
}

// List returns products matching search on name, category or color
func (s *CatalogService) List(ctx context.Context, search string) ([]models.Product, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.List")
	defer span.End()

	products, err := s.products.ListProducts(ctx, search)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	return products, nil
}

// Featured returns the featured products, served from cache when possible
func (s *CatalogService) Featured(ctx context.Context) ([]models.Product, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.Featured")
	defer span.End()

	var cached []models.Product
	err := s.cache.GetJSON(ctx, redisclient.FeaturedProductsKey, &cached)
	if err == nil && len(cached) > 0 {
		return cached, nil
	}
	if err != nil && !errors.Is(err, redisclient.ErrCacheMiss) {
		s.logger.Warn("Featured cache read failed", zap.Error(err))
	}

	v, err, _ := s.loads.Do(redisclient.FeaturedProductsKey, func() (interface{}, error) {
		return s.refreshFeatured(ctx)
	})
	if err != nil {
		return nil, err
	}

	products := v.([]models.Product)
	if len(products) == 0 {
		return nil, ErrNoFeaturedProducts
	}
	return products, nil
}

func (s *CatalogService) refreshFeatured(ctx context.Context) ([]models.Product, error) {
	products, err := s.products.ListFeaturedProducts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list featured products: %w", err)
	}
	if err := s.cache.SetJSON(ctx, redisclient.FeaturedProductsKey, products, s.featuredTTL); err != nil {
		s.logger.Warn("Featured cache write failed", zap.Error(err))
	}
	return products, nil
}

// ByCategory returns products in the category
func (s *CatalogService) ByCategory(ctx context.Context, category string) ([]models.Product, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.ByCategory")
	defer span.End()

	products, err := s.products.ListProductsByCategory(ctx, category)
	if err != nil {
		return nil, fmt.Errorf("failed to list category %q: %w", category, err)
	}
	return products, nil
}

// Recommended returns a few random products
func (s *CatalogService) Recommended(ctx context.Context) ([]models.Product, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.Recommended")
	defer span.End()

	products, err := s.products.RandomProducts(ctx, recommendationCount)
	if err != nil {
		return nil, fmt.Errorf("failed to load recommendations: %w", err)
	}
	return products, nil
}

// Create validates and stores a new product
func (s *CatalogService) Create(ctx context.Context, req CreateProductRequest) (*models.Product, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.Create")
	defer span.End()

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, invalid("product name is required")
	}
	if !req.Price.IsPositive() {
		return nil, invalid("product price must be greater than zero")
	}
	if req.Stock < 0 {
		return nil, invalid("product stock cannot be negative")
	}

	p := &models.Product{
		Name:        name,
		Description: strings.TrimSpace(req.Description),
		Price:       req.Price.Round(2),
		Image:       strings.TrimSpace(req.Image),
		Color:       strings.ToLower(strings.TrimSpace(req.Color)),
		Category:    strings.ToLower(strings.TrimSpace(req.Category)),
		Size:        strings.ToUpper(strings.TrimSpace(req.Size)),
		Stock:       req.Stock,
	}
	if err := s.products.CreateProduct(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to create product: %w", err)
	}

	s.logger.Info("Product created", zap.Int64("product_id", p.ID), zap.String("name", p.Name))
	return p, nil
}

// ToggleFeatured flips the featured flag and refreshes the featured cache
func (s *CatalogService) ToggleFeatured(ctx context.Context, id int64) (*models.Product, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.ToggleFeatured")
	defer span.End()

	p, err := s.products.ToggleFeatured(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, &ProductNotFoundError{ProductID: id}
		}
		return nil, fmt.Errorf("failed to toggle featured: %w", err)
	}

	if _, err := s.refreshFeatured(ctx); err != nil {
		s.logger.Warn("Featured cache refresh failed", zap.Error(err))
	}
	return p, nil
}

// Delete removes a product and refreshes the featured cache
func (s *CatalogService) Delete(ctx context.Context, id int64) error {
	ctx, span := util.StartSpan(ctx, "CatalogService.Delete")
	defer span.End()

	if err := s.products.DeleteProduct(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &ProductNotFoundError{ProductID: id}
		}
		return fmt.Errorf("failed to delete product: %w", err)
	}

	if _, err := s.refreshFeatured(ctx); err != nil {
		s.logger.Warn("Featured cache refresh failed", zap.Error(err))
	}
	return nil
}
