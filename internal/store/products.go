package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"storefront/internal/models"

	"github.com/jmoiron/sqlx"
)

const productColumns = `id, name, description, price, image, color, category, size, stock, is_featured, created_at, updated_at`

// GetProductByID retrieves a product by ID
func (s *Store) GetProductByID(ctx context.Context, id int64) (*models.Product, error) {
	var product models.Product
	err := s.db.GetContext(ctx, &product, "SELECT "+productColumns+" FROM products WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("product %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// GetProductsByIDs retrieves multiple products by IDs. Unknown IDs are omitted.
func (s *Store) GetProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error) {
	if len(ids) == 0 {
		return []models.Product{}, nil
	}

	query, args, err := sqlx.In("SELECT "+productColumns+" FROM products WHERE id IN (?)", ids)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var products []models.Product
	err = s.db.SelectContext(ctx, &products, query, args...)
	return products, err
}

// ListProducts returns products newest first, optionally filtered by a
// case-insensitive match on name, category or color.
func (s *Store) ListProducts(ctx context.Context, search string) ([]models.Product, error) {
	products := []models.Product{}
	search = strings.TrimSpace(search)
	if search == "" {
		err := s.db.SelectContext(ctx, &products,
			"SELECT "+productColumns+" FROM products ORDER BY created_at DESC")
		return products, err
	}

	pattern := "%" + escapeLike(search) + "%"
	err := s.db.SelectContext(ctx, &products,
		"SELECT "+productColumns+" FROM products WHERE name ILIKE $1 OR category ILIKE $1 OR color ILIKE $1 ORDER BY created_at DESC",
		pattern)
	return products, err
}

// ListFeaturedProducts returns products flagged as featured
func (s *Store) ListFeaturedProducts(ctx context.Context) ([]models.Product, error) {
	products := []models.Product{}
	err := s.db.SelectContext(ctx, &products,
		"SELECT "+productColumns+" FROM products WHERE is_featured ORDER BY created_at DESC")
	return products, err
}

// ListProductsByCategory returns products in a category
func (s *Store) ListProductsByCategory(ctx context.Context, category string) ([]models.Product, error) {
	products := []models.Product{}
	err := s.db.SelectContext(ctx, &products,
		"SELECT "+productColumns+" FROM products WHERE category = $1 ORDER BY created_at DESC",
		strings.ToLower(strings.TrimSpace(category)))
	return products, err
}

// RandomProducts returns up to n products in random order
func (s *Store) RandomProducts(ctx context.Context, n int) ([]models.Product, error) {
	products := []models.Product{}
	err := s.db.SelectContext(ctx, &products,
		"SELECT "+productColumns+" FROM products ORDER BY random() LIMIT $1", n)
	return products, err
}

// CreateProduct inserts a product
func (s *Store) CreateProduct(ctx context.Context, p *models.Product) error {
	query := `
		INSERT INTO products (name, description, price, image, color, category, size, stock, is_featured)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at`

	return s.db.QueryRowxContext(ctx, query,
		p.Name, p.Description, p.Price, p.Image, p.Color, p.Category, p.Size, p.Stock, p.IsFeatured,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
}

// ToggleFeatured flips the featured flag and returns the updated product
func (s *Store) ToggleFeatured(ctx context.Context, id int64) (*models.Product, error) {
	var product models.Product
	err := s.db.GetContext(ctx, &product,
		"UPDATE products SET is_featured = NOT is_featured, updated_at = NOW() WHERE id = $1 RETURNING "+productColumns, id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("product %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// DeleteProduct removes a product
func (s *Store) DeleteProduct(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM products WHERE id = $1", id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("product %d: %w", id, ErrNotFound)
	}
	return nil
}

func commitStock(ctx context.Context, ex sqlx.ExecerContext, productID int64, quantity int) error {
	_, err := ex.ExecContext(ctx,
		"UPDATE products SET stock = GREATEST(stock - $1, 0), updated_at = NOW() WHERE id = $2",
		quantity, productID)
	return err
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
