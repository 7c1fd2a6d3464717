package models

import (
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeOrderCreated = "ORDER_CREATED"
	EventTypeOrderPaid    = "ORDER_PAID"
	EventTypeOrderFailed  = "ORDER_FAILED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// NewBaseEvent stamps a new event with a sortable id.
func NewBaseEvent(eventType string) BaseEvent {
	return BaseEvent{
		EventID:   ulid.Make().String(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
	}
}

// OrderCreatedEvent published when a pending order is handed to the gateway
type OrderCreatedEvent struct {
	BaseEvent
	OrderID     int64           `json:"order_id"`
	UserID      int64           `json:"user_id"`
	PaymentRef  string          `json:"payment_ref"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Items       []OrderItemData `json:"items"`
}

// OrderPaidEvent published once, by whichever path confirmed the payment
type OrderPaidEvent struct {
	BaseEvent
	OrderID     int64           `json:"order_id"`
	UserID      int64           `json:"user_id"`
	PaymentRef  string          `json:"payment_ref"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	CouponCode  string          `json:"coupon_code,omitempty"`
	Items       []OrderItemData `json:"items"`
}

// OrderFailedEvent published when the gateway reports a definitive failure
type OrderFailedEvent struct {
	BaseEvent
	OrderID    int64  `json:"order_id"`
	UserID     int64  `json:"user_id"`
	PaymentRef string `json:"payment_ref"`
	Reason     string `json:"reason"`
}

// OrderItemData represents item data in events
type OrderItemData struct {
	ProductID int64           `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// ItemsData converts persisted order items into event payload items.
func ItemsData(items []OrderItem) []OrderItemData {
	out := make([]OrderItemData, 0, len(items))
	for _, item := range items {
		out = append(out, OrderItemData{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}
	return out
}
