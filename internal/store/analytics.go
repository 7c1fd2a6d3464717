package store

import (
	"context"
	"time"

	"storefront/internal/models"
)

// AnalyticsTotals counts users and products and sums paid orders
func (s *Store) AnalyticsTotals(ctx context.Context) (*models.AnalyticsData, error) {
	var data models.AnalyticsData
	err := s.db.GetContext(ctx, &data, `
		SELECT
			(SELECT COUNT(*) FROM users) AS users,
			(SELECT COUNT(*) FROM products) AS products,
			COUNT(o.id) AS total_sales,
			COALESCE(SUM(o.total_amount), 0) AS total_revenue
		FROM orders o
		WHERE o.payment_status = 'paid'`)
	if err != nil {
		return nil, err
	}
	return &data, nil
}

// DailySales groups paid orders created in [from, to) by UTC day. Days
// without sales are absent.
func (s *Store) DailySales(ctx context.Context, from, to time.Time) ([]models.DailySales, error) {
	days := []models.DailySales{}
	err := s.db.SelectContext(ctx, &days, `
		SELECT to_char(date_trunc('day', created_at AT TIME ZONE 'UTC'), 'YYYY-MM-DD') AS date,
			COUNT(*) AS sales,
			COALESCE(SUM(total_amount), 0) AS revenue
		FROM orders
		WHERE payment_status = 'paid' AND created_at >= $1 AND created_at < $2
		GROUP BY 1
		ORDER BY 1`, from, to)
	return days, err
}
