//go:build integration

package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"storefront/internal/coupon"
	"storefront/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupPostgres(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("storefront_test"),
		postgres.WithUsername("app"),
		postgres.WithPassword("secret"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(ctr) })

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	s, err := NewStore(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Migrate())
	require.NoError(t, s.Migrate(), "migrations must be re-runnable")
	return s
}

func seedUserAndProduct(t *testing.T, s *Store) (*models.User, *models.Product) {
	t.Helper()
	ctx := context.Background()

	user := &models.User{Name: "Buyer", Email: "buyer@example.com", PasswordHash: "x", Role: models.RoleCustomer}
	require.NoError(t, s.CreateUser(ctx, user))

	product := &models.Product{Name: "Mug", Price: decimal.RequireFromString("10.00"), Category: "kitchen", Stock: 5}
	require.NoError(t, s.CreateProduct(ctx, product))
	return user, product
}

func TestConcurrentAddCartItemNeverLosesIncrements(t *testing.T) {
	s := setupPostgres(t)
	user, product := seedUserAndProduct(t, s)
	ctx := context.Background()

	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.AddCartItem(ctx, user.ID, product.ID)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	lines, err := s.ListCartLines(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, workers, lines[0].Quantity)
}

func TestConcurrentTransitionHasSingleWinner(t *testing.T) {
	s := setupPostgres(t)
	user, product := seedUserAndProduct(t, s)
	ctx := context.Background()

	order := &models.Order{
		UserID:        user.ID,
		Subtotal:      decimal.RequireFromString("20"),
		TotalAmount:   decimal.RequireFromString("20"),
		Currency:      "ETB",
		PaymentStatus: models.PaymentStatusPending,
		PaymentRef:    "tx-race",
	}
	items := []models.OrderItem{{ProductID: product.ID, Quantity: 2, UnitPrice: product.Price}}
	require.NoError(t, s.CreateOrderWithItems(ctx, order, items))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			status := models.PaymentStatusPaid
			if i%2 == 1 {
				status = models.PaymentStatusFailed
			}
			won, err := s.TransitionOrderStatus(ctx, "tx-race", status)
			assert.NoError(t, err)
			if won {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	got, err := s.GetOrderByPaymentRef(ctx, "tx-race")
	require.NoError(t, err)
	assert.True(t, got.IsTerminal())
}

func TestFulfillmentIsAppliedOnce(t *testing.T) {
	s := setupPostgres(t)
	user, product := seedUserAndProduct(t, s)
	ctx := context.Background()

	used := &models.Coupon{Code: "SAVE10", DiscountPercentage: 10, UserID: user.ID, ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, s.CreateCoupon(ctx, used))

	req := FulfillmentRequest{
		EventID:    "evt-once",
		EventType:  models.EventTypeOrderPaid,
		UserID:     user.ID,
		Items:      []models.OrderItemData{{ProductID: product.ID, Quantity: 2}},
		CouponCode: "SAVE10",
	}

	processed, err := s.IsEventProcessed(ctx, req.EventID)
	require.NoError(t, err)
	assert.False(t, processed)

	applied, err := s.ApplyFulfillment(ctx, req)
	require.NoError(t, err)
	assert.True(t, applied)

	processed, err = s.IsEventProcessed(ctx, req.EventID)
	require.NoError(t, err)
	assert.True(t, processed)

	_, err = s.FindActiveCoupon(ctx, "SAVE10", user.ID)
	assert.ErrorIs(t, err, coupon.ErrCouponNotFound)

	applied, err = s.ApplyFulfillment(ctx, req)
	require.NoError(t, err)
	assert.False(t, applied)

	got, err := s.GetProductByID(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Stock)
}
