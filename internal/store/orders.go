package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"storefront/internal/models"
)

const orderColumns = `id, user_id, subtotal, total_amount, currency, coupon_code, discount_percentage,
	payment_status, payment_ref, checkout_url, idempotency_key, created_at, updated_at`

// CreateOrderWithItems persists a pending order and its cart snapshot atomically
func (s *Store) CreateOrderWithItems(ctx context.Context, order *models.Order, items []models.OrderItem) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO orders (user_id, subtotal, total_amount, currency, coupon_code, discount_percentage,
			payment_status, payment_ref, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at`

	err = tx.QueryRowxContext(ctx, query,
		order.UserID, order.Subtotal, order.TotalAmount, order.Currency, order.CouponCode,
		order.DiscountPercentage, order.PaymentStatus, order.PaymentRef, order.IdempotencyKey,
	).Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("order %s: %w", order.PaymentRef, ErrConflict)
		}
		return fmt.Errorf("failed to insert order: %w", err)
	}

	for i := range items {
		items[i].OrderID = order.ID
		err := tx.QueryRowxContext(ctx,
			"INSERT INTO order_items (order_id, product_id, quantity, unit_price) VALUES ($1, $2, $3, $4) RETURNING id",
			items[i].OrderID, items[i].ProductID, items[i].Quantity, items[i].UnitPrice,
		).Scan(&items[i].ID)
		if err != nil {
			return fmt.Errorf("failed to insert order item: %w", err)
		}
	}

	return tx.Commit()
}

// SetCheckoutURL records the hosted checkout link returned by the gateway
func (s *Store) SetCheckoutURL(ctx context.Context, orderID int64, url string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE orders SET checkout_url = $1, updated_at = NOW() WHERE id = $2", url, orderID)
	return err
}

// GetOrderByPaymentRef retrieves an order by its transaction reference
func (s *Store) GetOrderByPaymentRef(ctx context.Context, ref string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT "+orderColumns+" FROM orders WHERE payment_ref = $1", ref)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("order %s: %w", ref, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderItems retrieves all items for an order
func (s *Store) GetOrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	items := []models.OrderItem{}
	err := s.db.SelectContext(ctx, &items,
		"SELECT id, order_id, product_id, quantity, unit_price FROM order_items WHERE order_id = $1 ORDER BY id", orderID)
	return items, err
}

// TransitionOrderStatus moves a pending order to status. Only one caller can
// win; it reports false if the order was no longer pending.
func (s *Store) TransitionOrderStatus(ctx context.Context, ref, status string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE orders SET payment_status = $1, updated_at = NOW() WHERE payment_ref = $2 AND payment_status = $3",
		status, ref, models.PaymentStatusPending)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ListOrdersByUser retrieves orders for a user, newest first
func (s *Store) ListOrdersByUser(ctx context.Context, userID int64) ([]models.Order, error) {
	orders := []models.Order{}
	err := s.db.SelectContext(ctx, &orders,
		"SELECT "+orderColumns+" FROM orders WHERE user_id = $1 ORDER BY created_at DESC", userID)
	return orders, err
}

// ListStalePendingOrders returns pending orders created before cutoff, oldest first
func (s *Store) ListStalePendingOrders(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error) {
	orders := []models.Order{}
	err := s.db.SelectContext(ctx, &orders,
		"SELECT "+orderColumns+" FROM orders WHERE payment_status = $1 AND created_at < $2 ORDER BY created_at LIMIT $3",
		models.PaymentStatusPending, cutoff, limit)
	return orders, err
}

// FulfillmentRequest describes the side effects of a paid order
type FulfillmentRequest struct {
	EventID    string
	EventType  string
	UserID     int64
	Items      []models.OrderItemData
	CouponCode string
	Reward     *models.Coupon
}

// ApplyFulfillment records the event and applies stock, coupon and reward
// changes in one transaction. Reports false if the event was already applied.
func (s *Store) ApplyFulfillment(ctx context.Context, req FulfillmentRequest) (bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		req.EventID, req.EventType)
	if err != nil {
		return false, fmt.Errorf("failed to mark event processed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}

	for _, item := range req.Items {
		if err := commitStock(ctx, tx, item.ProductID, item.Quantity); err != nil {
			return false, fmt.Errorf("failed to commit stock for product %d: %w", item.ProductID, err)
		}
	}

	if req.CouponCode != "" {
		if err := deactivateCoupon(ctx, tx, req.CouponCode, req.UserID); err != nil {
			return false, fmt.Errorf("failed to deactivate coupon: %w", err)
		}
	}

	if req.Reward != nil {
		if err := createCoupon(ctx, tx, req.Reward); err != nil {
			return false, fmt.Errorf("failed to issue reward coupon: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// IsEventProcessed checks if an event has been processed
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}
