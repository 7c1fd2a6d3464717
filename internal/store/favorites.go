package store

import (
	"context"

	"storefront/internal/models"
)

// ToggleFavorite removes the favorite if present, otherwise adds it. Reports
// whether the product is a favorite afterwards.
func (s *Store) ToggleFavorite(ctx context.Context, userID, productID int64) (bool, error) {
	removed, err := s.execAffected(ctx,
		"DELETE FROM favorites WHERE user_id = $1 AND product_id = $2", userID, productID)
	if err != nil {
		return false, err
	}
	if removed {
		return false, nil
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO favorites (user_id, product_id) VALUES ($1, $2) ON CONFLICT DO NOTHING", userID, productID)
	if err != nil {
		return false, err
	}
	return true, nil
}

// ListFavoriteProducts returns the products a user has favorited
func (s *Store) ListFavoriteProducts(ctx context.Context, userID int64) ([]models.Product, error) {
	products := []models.Product{}
	err := s.db.SelectContext(ctx, &products, `
		SELECT p.id, p.name, p.description, p.price, p.image, p.color, p.category, p.size, p.stock,
			p.is_featured, p.created_at, p.updated_at
		FROM favorites f
		JOIN products p ON p.id = f.product_id
		WHERE f.user_id = $1
		ORDER BY f.created_at DESC`, userID)
	return products, err
}

// FavoriteProductIDs returns the ids of every product the user has favorited
func (s *Store) FavoriteProductIDs(ctx context.Context, userID int64) ([]int64, error) {
	ids := []int64{}
	err := s.db.SelectContext(ctx, &ids, "SELECT product_id FROM favorites WHERE user_id = $1", userID)
	return ids, err
}

func (s *Store) execAffected(ctx context.Context, query string, args ...interface{}) (bool, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
