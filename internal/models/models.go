package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// User represents a registered customer or staff member
type User struct {
	ID           int64     `db:"id" json:"id"`
	Name         string    `db:"name" json:"name"`
	Email        string    `db:"email" json:"email"`
	Phone        string    `db:"phone" json:"phone"`
	PasswordHash string    `db:"password_hash" json:"-"`
	Role         string    `db:"role" json:"role"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// User roles
const (
	RoleCustomer = "customer"
	RoleManager  = "manager"
	RoleAdmin    = "admin"
)

// ValidRole reports whether role is one of the known roles.
func ValidRole(role string) bool {
	switch role {
	case RoleCustomer, RoleManager, RoleAdmin:
		return true
	}
	return false
}

// Product represents a product in the catalog
type Product struct {
	ID          int64           `db:"id" json:"id"`
	Name        string          `db:"name" json:"name"`
	Description string          `db:"description" json:"description"`
	Price       decimal.Decimal `db:"price" json:"price"`
	Image       string          `db:"image" json:"image"`
	Color       string          `db:"color" json:"color"`
	Category    string          `db:"category" json:"category"`
	Size        string          `db:"size" json:"size"`
	Stock       int             `db:"stock" json:"stock"`
	IsFeatured  bool            `db:"is_featured" json:"is_featured"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`
	// IsFavorited is set per viewer and never stored.
	IsFavorited bool            `db:"-" json:"isFavorited"`
}

// CartItem is a persisted cart row
type CartItem struct {
	UserID    int64     `db:"user_id" json:"user_id"`
	ProductID int64     `db:"product_id" json:"product_id"`
	Quantity  int       `db:"quantity" json:"quantity"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// CartLine is a cart row joined with its product. Product is nil when the
// referenced product no longer exists.
type CartLine struct {
	ProductID int64    `json:"product_id"`
	Quantity  int      `json:"quantity"`
	Product   *Product `json:"product,omitempty"`
}

// Coupon is a user-scoped percentage discount
type Coupon struct {
	ID                 int64     `db:"id" json:"id"`
	Code               string    `db:"code" json:"code"`
	DiscountPercentage int       `db:"discount_percentage" json:"discount_percentage"`
	UserID             int64     `db:"user_id" json:"user_id"`
	ExpiresAt          time.Time `db:"expires_at" json:"expires_at"`
	IsActive           bool      `db:"is_active" json:"is_active"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
}

// Order represents a checkout attempt and its payment outcome
type Order struct {
	ID                 int64           `db:"id" json:"id"`
	UserID             int64           `db:"user_id" json:"user_id"`
	Subtotal           decimal.Decimal `db:"subtotal" json:"subtotal"`
	TotalAmount        decimal.Decimal `db:"total_amount" json:"total_amount"`
	Currency           string          `db:"currency" json:"currency"`
	CouponCode         *string         `db:"coupon_code" json:"coupon_code,omitempty"`
	DiscountPercentage int             `db:"discount_percentage" json:"discount_percentage"`
	PaymentStatus      string          `db:"payment_status" json:"payment_status"`
	PaymentRef         string          `db:"payment_ref" json:"payment_ref"`
	CheckoutURL        string          `db:"checkout_url" json:"checkout_url,omitempty"`
	IdempotencyKey     *string         `db:"idempotency_key" json:"-"`
	CreatedAt          time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time       `db:"updated_at" json:"updated_at"`
}

// IsTerminal reports whether the order can no longer change status.
func (o *Order) IsTerminal() bool {
	return o.PaymentStatus == PaymentStatusPaid || o.PaymentStatus == PaymentStatusFailed
}

// OrderItem is the cart snapshot taken when an order is created
type OrderItem struct {
	ID        int64           `db:"id" json:"id"`
	OrderID   int64           `db:"order_id" json:"order_id"`
	ProductID int64           `db:"product_id" json:"product_id"`
	Quantity  int             `db:"quantity" json:"quantity"`
	UnitPrice decimal.Decimal `db:"unit_price" json:"unit_price"`
}

// Payment statuses
const (
	PaymentStatusPending = "pending"
	PaymentStatusPaid    = "paid"
	PaymentStatusFailed  = "failed"
)

// Favorite marks a product as liked by a user
type Favorite struct {
	UserID    int64     `db:"user_id" json:"user_id"`
	ProductID int64     `db:"product_id" json:"product_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// ProcessedEvent for idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}

// AnalyticsData holds the store-wide totals shown on the admin dashboard.
// Sales and revenue count paid orders only.
type AnalyticsData struct {
	Users        int64           `db:"users" json:"users"`
	Products     int64           `db:"products" json:"products"`
	TotalSales   int64           `db:"total_sales" json:"totalSales"`
	TotalRevenue decimal.Decimal `db:"total_revenue" json:"totalRevenue"`
}

// DailySales is one day of paid orders
type DailySales struct {
	Date    string          `db:"date" json:"date"`
	Sales   int64           `db:"sales" json:"sales"`
	Revenue decimal.Decimal `db:"revenue" json:"revenue"`
}
