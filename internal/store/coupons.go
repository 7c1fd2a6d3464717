package store

import (
	"context"
	"database/sql"
	"time"

	"storefront/internal/coupon"
	"storefront/internal/models"

	"github.com/jmoiron/sqlx"
)

const couponColumns = `id, code, discount_percentage, user_id, expires_at, is_active, created_at`

var _ coupon.Repository = (*Store)(nil)

// FindActiveCoupon looks up an active coupon by code for the owning user
func (s *Store) FindActiveCoupon(ctx context.Context, code string, userID int64) (*models.Coupon, error) {
	var c models.Coupon
	err := s.db.GetContext(ctx, &c,
		"SELECT "+couponColumns+" FROM coupons WHERE code = $1 AND user_id = $2 AND is_active",
		code, userID)
	if err == sql.ErrNoRows {
		return nil, coupon.ErrCouponNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// LatestActiveCoupon returns the newest active, unexpired coupon of the user
func (s *Store) LatestActiveCoupon(ctx context.Context, userID int64, now time.Time) (*models.Coupon, error) {
	var c models.Coupon
	err := s.db.GetContext(ctx, &c,
		"SELECT "+couponColumns+" FROM coupons WHERE user_id = $1 AND is_active AND expires_at > $2 ORDER BY created_at DESC LIMIT 1",
		userID, now)
	if err == sql.ErrNoRows {
		return nil, coupon.ErrCouponNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateCoupon inserts a coupon
func (s *Store) CreateCoupon(ctx context.Context, c *models.Coupon) error {
	return createCoupon(ctx, s.db, c)
}

func createCoupon(ctx context.Context, q sqlx.QueryerContext, c *models.Coupon) error {
	query := `
		INSERT INTO coupons (code, discount_percentage, user_id, expires_at, is_active)
		VALUES ($1, $2, $3, $4, TRUE)
		RETURNING id, is_active, created_at`

	return q.QueryRowxContext(ctx, query, c.Code, c.DiscountPercentage, c.UserID, c.ExpiresAt).
		Scan(&c.ID, &c.IsActive, &c.CreatedAt)
}

func deactivateCoupon(ctx context.Context, ex sqlx.ExecerContext, code string, userID int64) error {
	_, err := ex.ExecContext(ctx,
		"UPDATE coupons SET is_active = FALSE WHERE code = $1 AND user_id = $2", code, userID)
	return err
}
