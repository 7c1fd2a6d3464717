package worker

import (
	"context"
	"time"

	"storefront/internal/broker"
	"storefront/internal/models"
	"storefront/internal/util"

	"go.uber.org/zap"
)

// Consumer is the message loop a worker drives.
type Consumer interface {
	StartConsuming(ctx context.Context, handler broker.MessageHandler) error
	Close() error
}

// OrderPaidHandler applies the side effects of a paid order.
type OrderPaidHandler interface {
	HandleOrderPaid(ctx context.Context, event *models.OrderPaidEvent) error
}

// FulfillmentWorker consumes ORDER_PAID events and fulfills the orders
type FulfillmentWorker struct {
	consumer     Consumer
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// NewFulfillmentWorker creates a new fulfillment worker
func NewFulfillmentWorker(consumer Consumer, fulfillment OrderPaidHandler) *FulfillmentWorker {
	eventHandler := broker.NewEventHandler()
	eventHandler.OnOrderPaid(fulfillment.HandleOrderPaid)

	return &FulfillmentWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
		logger:       util.GetLogger(),
	}
}

// Start blocks until ctx is cancelled
func (w *FulfillmentWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting fulfillment worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop closes the underlying consumer
func (w *FulfillmentWorker) Stop() error {
	w.logger.Info("Stopping fulfillment worker")
	return w.consumer.Close()
}

// StaleReconciler settles orders that have been pending for too long.
type StaleReconciler interface {
	ReconcileStale(ctx context.Context, olderThan time.Duration, limit int) (int, error)
}

// Reconciler periodically asks the gateway about abandoned pending orders,
// covering callbacks that never arrived.
type Reconciler struct {
	checkout  StaleReconciler
	interval  time.Duration
	olderThan time.Duration
	batch     int
	logger    *zap.Logger
}

const defaultReconcileBatch = 50

// NewReconciler creates a reconciler that runs every interval
func NewReconciler(checkout StaleReconciler, interval, olderThan time.Duration) *Reconciler {
	return &Reconciler{
		checkout:  checkout,
		interval:  interval,
		olderThan: olderThan,
		batch:     defaultReconcileBatch,
		logger:    util.GetLogger(),
	}
}

// Start runs a pass on every tick until ctx is cancelled
func (r *Reconciler) Start(ctx context.Context) error {
	r.logger.Info("Starting reconciler",
		zap.Duration("interval", r.interval),
		zap.Duration("older_than", r.olderThan),
	)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Stopping reconciler")
			return ctx.Err()
		case <-ticker.C:
			r.runOnce(ctx)
		}
	}
}

func (r *Reconciler) runOnce(ctx context.Context) {
	settled, err := r.checkout.ReconcileStale(ctx, r.olderThan, r.batch)
	if err != nil {
		if ctx.Err() == nil {
			r.logger.Error("Reconciliation pass failed", zap.Error(err))
		}
		return
	}
	if settled > 0 {
		r.logger.Info("Reconciliation pass settled orders", zap.Int("settled", settled))
	}
}
