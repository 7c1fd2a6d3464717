package store

import (
	"context"

	"storefront/internal/models"
)

// AddCartItem inserts the product with quantity 1 or increments the existing
// line, in one statement. Returns the resulting quantity.
func (s *Store) AddCartItem(ctx context.Context, userID, productID int64) (int, error) {
	query := `
		INSERT INTO cart_items (user_id, product_id, quantity)
		VALUES ($1, $2, 1)
		ON CONFLICT (user_id, product_id)
		DO UPDATE SET quantity = cart_items.quantity + 1, updated_at = NOW()
		RETURNING quantity`

	var quantity int
	err := s.db.GetContext(ctx, &quantity, query, userID, productID)
	return quantity, err
}

// SetCartItemQuantity overwrites the quantity of an existing line. Reports
// false when the product is not in the cart.
func (s *Store) SetCartItemQuantity(ctx context.Context, userID, productID int64, quantity int) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE cart_items SET quantity = $1, updated_at = NOW() WHERE user_id = $2 AND product_id = $3",
		quantity, userID, productID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// RemoveCartItem deletes a line. Reports false when it was not in the cart.
func (s *Store) RemoveCartItem(ctx context.Context, userID, productID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM cart_items WHERE user_id = $1 AND product_id = $2", userID, productID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ClearCart deletes every line for the user
func (s *Store) ClearCart(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM cart_items WHERE user_id = $1", userID)
	return err
}

// ListCartLines returns the user's cart joined with products. Lines whose
// product is gone come back with a nil Product.
func (s *Store) ListCartLines(ctx context.Context, userID int64) ([]models.CartLine, error) {
	var items []models.CartItem
	err := s.db.SelectContext(ctx, &items,
		"SELECT user_id, product_id, quantity, created_at, updated_at FROM cart_items WHERE user_id = $1 ORDER BY created_at, product_id",
		userID)
	if err != nil {
		return nil, err
	}

	ids := make([]int64, len(items))
	for i, item := range items {
		ids[i] = item.ProductID
	}

	products, err := s.GetProductsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	byID := make(map[int64]*models.Product, len(products))
	for i := range products {
		byID[products[i].ID] = &products[i]
	}

	lines := make([]models.CartLine, 0, len(items))
	for _, item := range items {
		lines = append(lines, models.CartLine{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Product:   byID[item.ProductID],
		})
	}
	return lines, nil
}
