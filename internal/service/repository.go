package service

import (
	"context"
	"time"

	"storefront/internal/models"
	"storefront/internal/store"
)

// ProductRepository is the catalog persistence the services need.
type ProductRepository interface {
	GetProductByID(ctx context.Context, id int64) (*models.Product, error)
	ListProducts(ctx context.Context, search string) ([]models.Product, error)
	ListFeaturedProducts(ctx context.Context) ([]models.Product, error)
	ListProductsByCategory(ctx context.Context, category string) ([]models.Product, error)
	RandomProducts(ctx context.Context, n int) ([]models.Product, error)
	CreateProduct(ctx context.Context, p *models.Product) error
	ToggleFeatured(ctx context.Context, id int64) (*models.Product, error)
	DeleteProduct(ctx context.Context, id int64) error
}

// CartRepository stores cart lines. Every mutation is a single atomic statement.
type CartRepository interface {
	AddCartItem(ctx context.Context, userID, productID int64) (int, error)
	SetCartItemQuantity(ctx context.Context, userID, productID int64, quantity int) (bool, error)
	RemoveCartItem(ctx context.Context, userID, productID int64) (bool, error)
	ClearCart(ctx context.Context, userID int64) error
	ListCartLines(ctx context.Context, userID int64) ([]models.CartLine, error)
}

// OrderRepository persists orders and performs the pending-only status transition.
type OrderRepository interface {
	CreateOrderWithItems(ctx context.Context, order *models.Order, items []models.OrderItem) error
	SetCheckoutURL(ctx context.Context, orderID int64, url string) error
	GetOrderByPaymentRef(ctx context.Context, ref string) (*models.Order, error)
	GetOrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error)
	TransitionOrderStatus(ctx context.Context, ref, status string) (bool, error)
	ListOrdersByUser(ctx context.Context, userID int64) ([]models.Order, error)
	ListStalePendingOrders(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error)
}

// UserRepository stores accounts.
type UserRepository interface {
	CreateUser(ctx context.Context, u *models.User) error
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)
	DeleteUser(ctx context.Context, id int64) error
	UpdateUserRole(ctx context.Context, id int64, role string) error
	UpdateUserProfile(ctx context.Context, id int64, name, phone string) error
	UpdateUserPassword(ctx context.Context, id int64, hash string) error
}

// FavoriteRepository stores liked products.
type FavoriteRepository interface {
	ToggleFavorite(ctx context.Context, userID, productID int64) (bool, error)
	ListFavoriteProducts(ctx context.Context, userID int64) ([]models.Product, error)
	FavoriteProductIDs(ctx context.Context, userID int64) ([]int64, error)
}

// AnalyticsRepository aggregates users, products and paid orders.
type AnalyticsRepository interface {
	AnalyticsTotals(ctx context.Context) (*models.AnalyticsData, error)
	DailySales(ctx context.Context, from, to time.Time) ([]models.DailySales, error)
}

// FulfillmentRepository applies the side effects of a paid order exactly once.
type FulfillmentRepository interface {
	ApplyFulfillment(ctx context.Context, req store.FulfillmentRequest) (bool, error)
}

// Cache is a JSON key/value cache.
type Cache interface {
	GetJSON(ctx context.Context, key string, dst interface{}) error
	SetJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// CartCache is the JSON cache plus the per-user version that scopes cached
// cart listings.
type CartCache interface {
	Cache
	CartVersion(ctx context.Context, userID int64) (int64, error)
	BumpCartVersion(ctx context.Context, userID int64) (int64, error)
}

// IdempotencyCache remembers responses to retried requests. The lock claims
// a key while the first request for it is still running.
type IdempotencyCache interface {
	GetIdempotencyKey(ctx context.Context, key string, dst interface{}) error
	SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, lockKey string) error
}

// SessionStore holds refresh tokens, OTP state and short-lived locks.
type SessionStore interface {
	SetRefreshToken(ctx context.Context, userID int64, token string, ttl time.Duration) error
	GetRefreshToken(ctx context.Context, userID int64) (string, error)
	DeleteRefreshToken(ctx context.Context, userID int64) error
	StoreOTP(ctx context.Context, phone, code string, ttl time.Duration) error
	VerifyOTP(ctx context.Context, phone, code string) (bool, error)
	ConsumeOTPVerification(ctx context.Context, phone string) (bool, error)
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, lockKey string) error
}

// EventPublisher emits order lifecycle events.
type EventPublisher interface {
	PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error
	PublishOrderPaid(ctx context.Context, event *models.OrderPaidEvent) error
	PublishOrderFailed(ctx context.Context, event *models.OrderFailedEvent) error
}
