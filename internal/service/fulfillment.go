package service

import (
	"context"
	"fmt"
	"time"

	"storefront/internal/models"
	"storefront/internal/store"
	"storefront/internal/util"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// FulfillmentConfig controls the reward coupon issued for large orders
type FulfillmentConfig struct {
	RewardThreshold  decimal.Decimal
	RewardPercentage int
	RewardValidity   time.Duration
}

// FulfillmentService applies the side effects of a paid order: stock is
// committed, the used coupon is retired and a reward may be issued.
type FulfillmentService struct {
	repo   FulfillmentRepository
	orders OrderRepository
	cfg    FulfillmentConfig
	now    func() time.Time
	logger *zap.Logger
}

// NewFulfillmentService creates a new fulfillment service
func NewFulfillmentService(repo FulfillmentRepository, orders OrderRepository, cfg FulfillmentConfig) *FulfillmentService {
	if cfg.RewardPercentage == 0 {
		cfg.RewardPercentage = 10
	}
	if cfg.RewardValidity == 0 {
		cfg.RewardValidity = 30 * 24 * time.Hour
	}
	return &FulfillmentService{
		repo:   repo,
		orders: orders,
		cfg:    cfg,
		now:    time.Now,
		logger: util.GetLogger(),
	}
}

// HandleOrderPaid fulfills the order at most once per event id
func (f *FulfillmentService) HandleOrderPaid(ctx context.Context, event *models.OrderPaidEvent) (err error) {
	ctx, span := util.StartSpan(ctx, "FulfillmentService.HandleOrderPaid")
	defer func() { util.EndSpan(span, err) }()

	items := event.Items
	if len(items) == 0 {
		loaded, err := f.orders.GetOrderItems(ctx, event.OrderID)
		if err != nil {
			return fmt.Errorf("failed to load order items: %w", err)
		}
		items = models.ItemsData(loaded)
	}

	req := store.FulfillmentRequest{
		EventID:    event.EventID,
		EventType:  event.EventType,
		UserID:     event.UserID,
		Items:      items,
		CouponCode: event.CouponCode,
	}
	if f.cfg.RewardThreshold.IsPositive() && event.TotalAmount.GreaterThanOrEqual(f.cfg.RewardThreshold) {
		req.Reward = &models.Coupon{
			Code:               RewardCouponCode(),
			DiscountPercentage: f.cfg.RewardPercentage,
			UserID:             event.UserID,
			ExpiresAt:          f.now().Add(f.cfg.RewardValidity),
		}
	}

	applied, err := f.repo.ApplyFulfillment(ctx, req)
	if err != nil {
		util.FulfillmentsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to fulfill order %d: %w", event.OrderID, err)
	}
	if !applied {
		util.FulfillmentsTotal.WithLabelValues("duplicate").Inc()
		f.logger.Info("Event already processed", zap.String("event_id", event.EventID))
		return nil
	}

	util.FulfillmentsTotal.WithLabelValues("applied").Inc()
	fields := []zap.Field{
		zap.Int64("order_id", event.OrderID),
		zap.String("payment_ref", event.PaymentRef),
	}
	if req.Reward != nil {
		fields = append(fields, zap.String("reward_coupon", req.Reward.Code))
	}
	f.logger.Info("Order fulfilled", fields...)
	return nil
}

// RewardCouponCode returns a fresh gift coupon code
func RewardCouponCode() string {
	id := ulid.Make().String()
	return "GIFT-" + id[len(id)-8:]
}
