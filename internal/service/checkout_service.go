package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"storefront/internal/coupon"
	"storefront/internal/gateway"
	"storefront/internal/models"
	"storefront/internal/pricing"
	"storefront/internal/redisclient"
	"storefront/internal/store"
	"storefront/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Reconciliation sources, used for logs and metrics.
const (
	SourceCallback   = "callback"
	SourceRedirect   = "redirect"
	SourceReconciler = "reconciler"
)

const defaultGatewayTimeout = 15 * time.Second

// CheckoutConfig holds the URLs and limits the orchestrator works with
type CheckoutConfig struct {
	Currency string
	// CallbackURL receives the gateway's server-to-server notification.
	CallbackURL string
	// VerifyURL is the browser return endpoint; the payment ref is appended.
	VerifyURL      string
	SuccessURL     string
	CancelURL      string
	GatewayTimeout time.Duration
	IdempotencyTTL time.Duration
	// ReconcileConcurrency bounds parallel gateway verifications in ReconcileStale.
	ReconcileConcurrency int
}

// CartInvalidator drops cached cart state after an order settles.
type CartInvalidator interface {
	Invalidate(ctx context.Context, userID int64)
}

// CheckoutService creates pending orders, hands them to the payment gateway
// and settles them once the gateway confirms the outcome.
type CheckoutService struct {
	orders    OrderRepository
	carts     CartRepository
	users     UserRepository
	coupons   coupon.Validator
	gateway   gateway.Gateway
	events    EventPublisher
	cartCache CartInvalidator
	idem      IdempotencyCache
	cfg       CheckoutConfig
	newRef    func() string
	now       func() time.Time
	logger    *zap.Logger
}

// NewCheckoutService creates a new checkout service
func NewCheckoutService(
	orders OrderRepository,
	carts CartRepository,
	users UserRepository,
	coupons coupon.Validator,
	gw gateway.Gateway,
	events EventPublisher,
	cartCache CartInvalidator,
	idem IdempotencyCache,
	cfg CheckoutConfig,
) *CheckoutService {
	if cfg.ReconcileConcurrency <= 0 {
		cfg.ReconcileConcurrency = 4
	}
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = defaultGatewayTimeout
	}
	return &CheckoutService{
		orders:    orders,
		carts:     carts,
		users:     users,
		coupons:   coupons,
		gateway:   gw,
		events:    events,
		cartCache: cartCache,
		idem:      idem,
		cfg:       cfg,
		newRef:    NewPaymentRef,
		now:       time.Now,
		logger:    util.GetLogger(),
	}
}

// NewPaymentRef mints an unguessable transaction reference
func NewPaymentRef() string {
	return "tx-" + uuid.NewString()
}

// InitiateRequest is the checkout request. TotalAmount is the total the
// client displayed; it is compared against the server total and never charged.
type InitiateRequest struct {
	CouponCode     string           `json:"couponCode"`
	TotalAmount    *decimal.Decimal `json:"totalAmount,omitempty"`
	IdempotencyKey string           `json:"-"`
}

// InitiateResponse is returned once the gateway has issued a checkout URL
type InitiateResponse struct {
	OrderID     int64           `json:"orderId"`
	PaymentRef  string          `json:"paymentRef"`
	CheckoutURL string          `json:"checkoutUrl"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	Discount    decimal.Decimal `json:"discount"`
	Total       decimal.Decimal `json:"total"`
}

// Initiate prices the user's cart, persists a pending order and asks the
// gateway for a checkout URL. A gateway failure leaves the order pending and
// returns PaymentInitiationError; retrying creates a new order and reference.
func (s *CheckoutService) Initiate(ctx context.Context, userID int64, req InitiateRequest) (*InitiateResponse, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.Initiate")
	span.SetAttributes(attribute.Int64("user_id", userID))
	resp, err := s.initiate(ctx, userID, req)
	util.EndSpan(span, err)
	return resp, err
}

func (s *CheckoutService) initiate(ctx context.Context, userID int64, req InitiateRequest) (*InitiateResponse, error) {
	var idemKey string
	if req.IdempotencyKey != "" {
		idemKey = fmt.Sprintf("checkout:%d:%s", userID, req.IdempotencyKey)
		if prev, ok := s.cachedResponse(ctx, idemKey); ok {
			return prev, nil
		}

		claimed, err := s.idem.AcquireLock(ctx, idemKey, s.claimTTL())
		switch {
		case err != nil:
			// The unique (user_id, idempotency_key) index still rejects duplicates.
			s.logger.Warn("Idempotency claim failed", zap.Error(err))
		case !claimed:
			if prev, ok := s.cachedResponse(ctx, idemKey); ok {
				return prev, nil
			}
			util.CheckoutInitiationFailures.WithLabelValues("duplicate").Inc()
			return nil, ErrCheckoutInProgress
		default:
			defer func() {
				if err := s.idem.ReleaseLock(context.WithoutCancel(ctx), idemKey); err != nil {
					s.logger.Warn("Failed to release idempotency claim", zap.Error(err))
				}
			}()
			// The previous holder may have finished between the lookup and the claim.
			if prev, ok := s.cachedResponse(ctx, idemKey); ok {
				return prev, nil
			}
		}
	}

	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	lines, err := s.carts.ListCartLines(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}

	var applied *models.Coupon
	if code := strings.TrimSpace(req.CouponCode); code != "" {
		applied, err = s.coupons.Validate(ctx, code, userID)
		if err != nil {
			util.CheckoutInitiationFailures.WithLabelValues("coupon").Inc()
			return nil, err
		}
	}

	totals := pricing.ComputeTotals(lines, applied)
	if req.TotalAmount != nil && !req.TotalAmount.Equal(totals.Total) {
		s.logger.Warn("Client total differs from server total",
			zap.Int64("user_id", userID),
			zap.String("client_total", req.TotalAmount.String()),
			zap.String("server_total", totals.Total.StringFixed(2)))
	}
	if !totals.Total.IsPositive() {
		util.CheckoutInitiationFailures.WithLabelValues("invalid_amount").Inc()
		return nil, &InvalidAmountError{Amount: totals.Total}
	}

	order := &models.Order{
		UserID:        userID,
		Subtotal:      totals.Subtotal,
		TotalAmount:   totals.Total,
		Currency:      s.cfg.Currency,
		PaymentStatus: models.PaymentStatusPending,
		PaymentRef:    s.newRef(),
	}
	if applied != nil {
		code := applied.Code
		order.CouponCode = &code
		order.DiscountPercentage = applied.DiscountPercentage
	}
	if req.IdempotencyKey != "" {
		key := req.IdempotencyKey
		order.IdempotencyKey = &key
	}

	items := snapshotItems(lines)
	if err := s.orders.CreateOrderWithItems(ctx, order, items); err != nil {
		if idemKey != "" && errors.Is(err, store.ErrConflict) {
			util.CheckoutInitiationFailures.WithLabelValues("duplicate").Inc()
			return nil, ErrCheckoutInProgress
		}
		util.CheckoutInitiationFailures.WithLabelValues("db_error").Inc()
		return nil, fmt.Errorf("failed to create order: %w", err)
	}
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("payment_ref", order.PaymentRef))

	s.logger.Info("Pending order created",
		zap.Int64("order_id", order.ID),
		zap.String("payment_ref", order.PaymentRef),
		zap.String("total", order.TotalAmount.StringFixed(2)))

	checkoutURL, err := s.initiateWithGateway(ctx, user, order)
	if err != nil {
		reason := "gateway_error"
		if errors.Is(err, context.DeadlineExceeded) {
			reason = "timeout"
		}
		util.CheckoutInitiationFailures.WithLabelValues(reason).Inc()
		s.logger.Error("Payment initiation failed",
			zap.String("payment_ref", order.PaymentRef),
			zap.Error(err))
		return nil, &PaymentInitiationError{PaymentRef: order.PaymentRef, Err: err}
	}

	if err := s.orders.SetCheckoutURL(ctx, order.ID, checkoutURL); err != nil {
		s.logger.Warn("Failed to store checkout URL", zap.Int64("order_id", order.ID), zap.Error(err))
	}
	util.CheckoutInitiatedTotal.Inc()

	event := &models.OrderCreatedEvent{
		BaseEvent:   models.NewBaseEvent(models.EventTypeOrderCreated),
		OrderID:     order.ID,
		UserID:      order.UserID,
		PaymentRef:  order.PaymentRef,
		TotalAmount: order.TotalAmount,
		Items:       models.ItemsData(items),
	}
	if err := s.events.PublishOrderCreated(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderCreated event", zap.Error(err))
	}

	resp := &InitiateResponse{
		OrderID:     order.ID,
		PaymentRef:  order.PaymentRef,
		CheckoutURL: checkoutURL,
		Subtotal:    totals.Subtotal,
		Discount:    totals.Discount,
		Total:       totals.Total,
	}

	if idemKey != "" {
		if err := s.idem.SetIdempotencyKey(ctx, idemKey, resp, s.cfg.IdempotencyTTL); err != nil {
			s.logger.Warn("Failed to store idempotent response", zap.Error(err))
		}
	}
	return resp, nil
}

func (s *CheckoutService) cachedResponse(ctx context.Context, key string) (*InitiateResponse, bool) {
	var prev InitiateResponse
	err := s.idem.GetIdempotencyKey(ctx, key, &prev)
	if err == nil {
		s.logger.Info("Duplicate checkout request detected", zap.String("payment_ref", prev.PaymentRef))
		return &prev, true
	}
	if !errors.Is(err, redisclient.ErrCacheMiss) {
		s.logger.Warn("Idempotency lookup failed", zap.Error(err))
	}
	return nil, false
}

// claimTTL outlives one Initiate call so a crashed holder frees the key.
func (s *CheckoutService) claimTTL() time.Duration {
	return s.cfg.GatewayTimeout + 30*time.Second
}

func (s *CheckoutService) initiateWithGateway(ctx context.Context, user *models.User, order *models.Order) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	defer cancel()

	first, last := splitName(user.Name)
	start := time.Now()
	checkoutURL, err := s.gateway.Initiate(ctx, gateway.InitiateRequest{
		Amount:      order.TotalAmount.StringFixed(2),
		Currency:    order.Currency,
		Email:       user.Email,
		FirstName:   first,
		LastName:    last,
		PhoneNumber: user.Phone,
		TxRef:       order.PaymentRef,
		CallbackURL: s.cfg.CallbackURL,
		ReturnURL:   s.cfg.VerifyURL + url.PathEscape(order.PaymentRef),
	})
	util.GatewayLatency.WithLabelValues("initiate").Observe(time.Since(start).Seconds())
	return checkoutURL, err
}

// Reconcile asks the gateway for the true status of ref and settles the
// order accordingly. Terminal orders are returned unchanged without calling
// the gateway. Of concurrent callers, only the one whose status transition
// takes effect publishes events.
func (s *CheckoutService) Reconcile(ctx context.Context, ref, source string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.Reconcile")
	span.SetAttributes(attribute.String("payment_ref", ref), attribute.String("source", source))
	order, err := s.reconcile(ctx, ref, source)
	util.EndSpan(span, err)
	return order, err
}

func (s *CheckoutService) reconcile(ctx context.Context, ref, source string) (*models.Order, error) {
	order, err := s.loadOrder(ctx, ref)
	if err != nil {
		return nil, err
	}
	if order.IsTerminal() {
		util.ReconciliationsTotal.WithLabelValues(source, "already_settled").Inc()
		return order, nil
	}

	v, err := s.verifyWithGateway(ctx, ref)
	if err != nil {
		util.ReconciliationsTotal.WithLabelValues(source, "verify_error").Inc()
		s.logger.Warn("Payment verification failed",
			zap.String("payment_ref", ref),
			zap.String("source", source),
			zap.Error(err))
		return order, &VerificationError{PaymentRef: ref, Err: err}
	}

	switch v.Status {
	case gateway.StatusSuccess:
		if !verificationMatches(order, v) {
			util.ReconciliationsTotal.WithLabelValues(source, "mismatch").Inc()
			s.logger.Error("Verified transaction does not match order",
				zap.String("payment_ref", ref),
				zap.String("order_total", order.TotalAmount.StringFixed(2)),
				zap.String("verified_amount", v.Amount.String()),
				zap.String("verified_currency", v.Currency))
			return order, nil
		}
		return s.settle(ctx, order, models.PaymentStatusPaid, source)
	case gateway.StatusFailed:
		return s.settle(ctx, order, models.PaymentStatusFailed, source)
	default:
		util.ReconciliationsTotal.WithLabelValues(source, "pending").Inc()
		return order, nil
	}
}

func (s *CheckoutService) verifyWithGateway(ctx context.Context, ref string) (*gateway.Verification, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	defer cancel()

	start := time.Now()
	v, err := s.gateway.Verify(ctx, ref)
	util.GatewayLatency.WithLabelValues("verify").Observe(time.Since(start).Seconds())
	return v, err
}

func verificationMatches(order *models.Order, v *gateway.Verification) bool {
	if v.TxRef != "" && v.TxRef != order.PaymentRef {
		return false
	}
	if v.Currency != "" && !strings.EqualFold(v.Currency, order.Currency) {
		return false
	}
	return v.Amount.Equal(order.TotalAmount)
}

func (s *CheckoutService) settle(ctx context.Context, order *models.Order, status, source string) (*models.Order, error) {
	won, err := s.orders.TransitionOrderStatus(ctx, order.PaymentRef, status)
	if err != nil {
		return order, fmt.Errorf("failed to transition order %s: %w", order.PaymentRef, err)
	}
	if !won {
		util.ReconciliationsTotal.WithLabelValues(source, "already_settled").Inc()
		return s.loadOrder(ctx, order.PaymentRef)
	}

	order.PaymentStatus = status
	util.ReconciliationsTotal.WithLabelValues(source, status).Inc()
	s.logger.Info("Order settled",
		zap.Int64("order_id", order.ID),
		zap.String("payment_ref", order.PaymentRef),
		zap.String("status", status),
		zap.String("source", source))

	switch status {
	case models.PaymentStatusPaid:
		util.OrdersPaidTotal.Inc()
		s.publishPaid(ctx, order)
	case models.PaymentStatusFailed:
		util.OrdersFailedTotal.Inc()
		event := &models.OrderFailedEvent{
			BaseEvent:  models.NewBaseEvent(models.EventTypeOrderFailed),
			OrderID:    order.ID,
			UserID:     order.UserID,
			PaymentRef: order.PaymentRef,
			Reason:     "gateway reported failure",
		}
		if err := s.events.PublishOrderFailed(ctx, event); err != nil {
			s.logger.Error("Failed to publish OrderFailed event", zap.Error(err))
		}
	}

	s.cartCache.Invalidate(ctx, order.UserID)
	return order, nil
}

func (s *CheckoutService) publishPaid(ctx context.Context, order *models.Order) {
	event := &models.OrderPaidEvent{
		BaseEvent:   models.NewBaseEvent(models.EventTypeOrderPaid),
		OrderID:     order.ID,
		UserID:      order.UserID,
		PaymentRef:  order.PaymentRef,
		TotalAmount: order.TotalAmount,
	}
	if order.CouponCode != nil {
		event.CouponCode = *order.CouponCode
	}

	items, err := s.orders.GetOrderItems(ctx, order.ID)
	if err != nil {
		// the consumer reloads items when the event carries none
		s.logger.Warn("Failed to load order items for event", zap.Int64("order_id", order.ID), zap.Error(err))
	} else {
		event.Items = models.ItemsData(items)
	}

	if err := s.events.PublishOrderPaid(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderPaid event", zap.Error(err))
	}
}

// HandleCallback reconciles ref on behalf of the gateway's server-to-server
// notification. Whatever status the notification carried is ignored.
func (s *CheckoutService) HandleCallback(ctx context.Context, ref string) (*models.Order, error) {
	return s.Reconcile(ctx, ref, SourceCallback)
}

// HandleRedirect reconciles ref for a browser returning from the gateway and
// returns where to send it: the success page only for a paid order, the
// cancel page otherwise.
func (s *CheckoutService) HandleRedirect(ctx context.Context, ref string) string {
	order, err := s.Reconcile(ctx, ref, SourceRedirect)
	if err != nil {
		s.logger.Warn("Redirect reconciliation failed", zap.String("payment_ref", ref), zap.Error(err))
	}
	if err == nil && order.PaymentStatus == models.PaymentStatusPaid {
		return withTxRef(s.cfg.SuccessURL, ref)
	}
	return withTxRef(s.cfg.CancelURL, ref)
}

// GetOrder returns the order only if it belongs to the user
func (s *CheckoutService) GetOrder(ctx context.Context, userID int64, ref string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.GetOrder")
	defer span.End()

	order, err := s.loadOrder(ctx, ref)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, ErrOrderNotFound
	}
	return order, nil
}

// ListOrders returns the user's orders, newest first
func (s *CheckoutService) ListOrders(ctx context.Context, userID int64) ([]models.Order, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.ListOrders")
	defer span.End()

	orders, err := s.orders.ListOrdersByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return orders, nil
}

// ReconcileStale re-verifies up to limit orders that have been pending for
// longer than olderThan and returns how many of them settled. Verification
// failures are logged and skipped.
func (s *CheckoutService) ReconcileStale(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.ReconcileStale")
	defer span.End()

	orders, err := s.orders.ListStalePendingOrders(ctx, s.now().Add(-olderThan), limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale orders: %w", err)
	}

	var settled atomic.Int32
	var g errgroup.Group
	g.SetLimit(s.cfg.ReconcileConcurrency)

	for _, o := range orders {
		ref := o.PaymentRef
		g.Go(func() error {
			order, err := s.Reconcile(ctx, ref, SourceReconciler)
			if err != nil {
				var verr *VerificationError
				if errors.As(err, &verr) {
					return nil
				}
				return err
			}
			if order.IsTerminal() {
				settled.Add(1)
			}
			return nil
		})
	}

	err = g.Wait()
	return int(settled.Load()), err
}

func (s *CheckoutService) loadOrder(ctx context.Context, ref string) (*models.Order, error) {
	order, err := s.orders.GetOrderByPaymentRef(ctx, ref)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to load order: %w", err)
	}
	return order, nil
}

func snapshotItems(lines []models.CartLine) []models.OrderItem {
	items := make([]models.OrderItem, 0, len(lines))
	for _, line := range lines {
		if line.Product == nil || line.Quantity <= 0 {
			continue
		}
		items = append(items, models.OrderItem{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			UnitPrice: line.Product.Price,
		})
	}
	return items
}

func splitName(name string) (string, string) {
	fields := strings.Fields(name)
	switch len(fields) {
	case 0:
		return "", ""
	case 1:
		return fields[0], ""
	}
	return fields[0], strings.Join(fields[1:], " ")
}

func withTxRef(base, ref string) string {
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	q.Set("tx_ref", ref)
	u.RawQuery = q.Encode()
	return u.String()
}
