package store

import (
	"context"
	"regexp"
	"testing"
	"time"

	"storefront/internal/coupon"
	"storefront/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewStoreFromDB(sqlx.NewDb(db, "postgres")), mock
}

var productCols = []string{"id", "name", "description", "price", "image", "color", "category", "size", "stock", "is_featured", "created_at", "updated_at"}

func TestTransitionOrderStatus(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()
	q := regexp.QuoteMeta("UPDATE orders SET payment_status = $1, updated_at = NOW() WHERE payment_ref = $2 AND payment_status = $3")

	mock.ExpectExec(q).WithArgs("paid", "tx-1", "pending").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q).WithArgs("paid", "tx-1", "pending").WillReturnResult(sqlmock.NewResult(0, 0))

	won, err := s.TransitionOrderStatus(ctx, "tx-1", models.PaymentStatusPaid)
	require.NoError(t, err)
	assert.True(t, won)

	won, err = s.TransitionOrderStatus(ctx, "tx-1", models.PaymentStatusPaid)
	require.NoError(t, err)
	assert.False(t, won, "second transition must be a no-op")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAddCartItemUpsert(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("DO UPDATE SET quantity = cart_items.quantity + 1")).
		WithArgs(int64(1), int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"quantity"}).AddRow(3))

	qty, err := s.AddCartItem(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, qty)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRemoveAndSetCartItem(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM cart_items WHERE user_id = $1 AND product_id = $2")).
		WithArgs(int64(1), int64(9)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE cart_items SET quantity = $1")).
		WithArgs(4, int64(1), int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	found, err := s.RemoveCartItem(ctx, 1, 9)
	require.NoError(t, err)
	assert.False(t, found)

	found, err = s.SetCartItemQuantity(ctx, 1, 2, 4)
	require.NoError(t, err)
	assert.True(t, found)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListCartLinesKeepsMissingProducts(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("FROM cart_items WHERE user_id = $1")).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "product_id", "quantity", "created_at", "updated_at"}).
			AddRow(5, 10, 2, now, now).
			AddRow(5, 11, 1, now, now))
	mock.ExpectQuery(regexp.QuoteMeta("FROM products WHERE id IN ($1, $2)")).
		WithArgs(int64(10), int64(11)).
		WillReturnRows(sqlmock.NewRows(productCols).
			AddRow(10, "Mug", "", "10.00", "", "red", "kitchen", "M", 3, false, now, now))

	lines, err := s.ListCartLines(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, lines, 2)

	require.NotNil(t, lines[0].Product)
	assert.True(t, decimal.RequireFromString("10").Equal(lines[0].Product.Price))
	assert.Equal(t, 2, lines[0].Quantity)
	assert.Equal(t, int64(11), lines[1].ProductID)
	assert.Nil(t, lines[1].Product)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListProductsEscapesSearch(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE name ILIKE $1 OR category ILIKE $1 OR color ILIKE $1")).
		WithArgs(`%50\%\_off%`).
		WillReturnRows(sqlmock.NewRows(productCols))

	products, err := s.ListProducts(context.Background(), " 50%_off ")
	require.NoError(t, err)
	assert.Empty(t, products)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateOrderWithItems(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO orders")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(42, now, now))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO order_items")).
		WithArgs(int64(42), int64(10), 2, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))
	mock.ExpectCommit()

	order := &models.Order{
		UserID:        5,
		Subtotal:      decimal.RequireFromString("20"),
		TotalAmount:   decimal.RequireFromString("18"),
		Currency:      "ETB",
		PaymentStatus: models.PaymentStatusPending,
		PaymentRef:    "tx-abc",
	}
	items := []models.OrderItem{{ProductID: 10, Quantity: 2, UnitPrice: decimal.RequireFromString("10")}}

	require.NoError(t, s.CreateOrderWithItems(context.Background(), order, items))
	assert.Equal(t, int64(42), order.ID)
	assert.Equal(t, int64(42), items[0].OrderID)
	assert.Equal(t, int64(7), items[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateOrderDuplicateRef(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO orders")).WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	err := s.CreateOrderWithItems(context.Background(), &models.Order{PaymentRef: "tx-dup"}, nil)
	assert.ErrorIs(t, err, ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrderByPaymentRefNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM orders WHERE payment_ref = $1")).
		WithArgs("tx-missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := s.GetOrderByPaymentRef(context.Background(), "tx-missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyFulfillment(t *testing.T) {
	t.Run("first delivery applies side effects", func(t *testing.T) {
		s, mock := newMockStore(t)
		now := time.Now()

		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO processed_events")).
			WithArgs("evt-1", models.EventTypeOrderPaid).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(regexp.QuoteMeta("UPDATE products SET stock = GREATEST(stock - $1, 0)")).
			WithArgs(2, int64(10)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(regexp.QuoteMeta("UPDATE coupons SET is_active = FALSE")).
			WithArgs("SAVE10", int64(5)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO coupons")).
			WillReturnRows(sqlmock.NewRows([]string{"id", "is_active", "created_at"}).AddRow(3, true, now))
		mock.ExpectCommit()

		reward := &models.Coupon{Code: "GIFT-X", DiscountPercentage: 10, UserID: 5, ExpiresAt: now.Add(time.Hour)}
		applied, err := s.ApplyFulfillment(context.Background(), FulfillmentRequest{
			EventID:    "evt-1",
			EventType:  models.EventTypeOrderPaid,
			UserID:     5,
			Items:      []models.OrderItemData{{ProductID: 10, Quantity: 2}},
			CouponCode: "SAVE10",
			Reward:     reward,
		})
		require.NoError(t, err)
		assert.True(t, applied)
		assert.Equal(t, int64(3), reward.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("redelivery is skipped", func(t *testing.T) {
		s, mock := newMockStore(t)

		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO processed_events")).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		applied, err := s.ApplyFulfillment(context.Background(), FulfillmentRequest{EventID: "evt-1"})
		require.NoError(t, err)
		assert.False(t, applied)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestFindActiveCouponNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM coupons WHERE code = $1 AND user_id = $2 AND is_active")).
		WithArgs("NOPE", int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := s.FindActiveCoupon(context.Background(), "NOPE", 1)
	assert.ErrorIs(t, err, coupon.ErrCouponNotFound)
}

func TestToggleFavorite(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM favorites")).
		WithArgs(int64(1), int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO favorites")).
		WithArgs(int64(1), int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM favorites")).
		WithArgs(int64(1), int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	fav, err := s.ToggleFavorite(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.True(t, fav)

	fav, err = s.ToggleFavorite(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.False(t, fav)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO users")).WillReturnError(&pq.Error{Code: "23505"})

	err := s.CreateUser(context.Background(), &models.User{Email: "a@b.c", Role: models.RoleCustomer})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestDeleteUserNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM users WHERE id = $1")).
		WithArgs(int64(99)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.DeleteUser(context.Background(), 99)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFavoriteProductIDs(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT product_id FROM favorites WHERE user_id = $1")).
		WithArgs(int64(4)).
		WillReturnRows(sqlmock.NewRows([]string{"product_id"}).AddRow(2).AddRow(9))

	ids, err := s.FavoriteProductIDs(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 9}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAnalyticsTotals(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE o.payment_status = 'paid'")).
		WillReturnRows(sqlmock.NewRows([]string{"users", "products", "total_sales", "total_revenue"}).
			AddRow(12, 30, 5, "240.50"))

	data, err := s.AnalyticsTotals(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(12), data.Users)
	assert.Equal(t, int64(30), data.Products)
	assert.Equal(t, int64(5), data.TotalSales)
	assert.True(t, data.TotalRevenue.Equal(decimal.RequireFromString("240.50")))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDailySalesWindow(t *testing.T) {
	s, mock := newMockStore(t)
	from := time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 7)

	mock.ExpectQuery(regexp.QuoteMeta("created_at >= $1 AND created_at < $2")).
		WithArgs(from, to).
		WillReturnRows(sqlmock.NewRows([]string{"date", "sales", "revenue"}).
			AddRow("2026-03-04", 1, "25.00").
			AddRow("2026-03-10", 2, "100.00"))

	days, err := s.DailySales(context.Background(), from, to)
	require.NoError(t, err)
	require.Len(t, days, 2)
	assert.Equal(t, "2026-03-04", days[0].Date)
	assert.Equal(t, int64(2), days[1].Sales)
	assert.True(t, days[1].Revenue.Equal(decimal.NewFromInt(100)))
	assert.NoError(t, mock.ExpectationsWereMet())
}
