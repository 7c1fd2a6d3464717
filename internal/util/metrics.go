package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CheckoutInitiatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkout_initiated_total",
		Help: "Total number of checkouts handed to the payment gateway",
	})

	CheckoutInitiationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_initiation_failures_total",
		Help: "Total number of checkouts that could not be initiated",
	}, []string{"reason"})

	OrdersPaidTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_paid_total",
		Help: "Total number of orders transitioned to paid",
	})

	OrdersFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_failed_total",
		Help: "Total number of orders transitioned to failed",
	})

	ReconciliationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_reconciliations_total",
		Help: "Total number of order reconciliations by source and outcome",
	}, []string{"source", "outcome"})

	GatewayLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_request_latency_seconds",
		Help:    "Latency of payment gateway calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	CartMutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cart_mutations_total",
		Help: "Total number of cart mutations",
	}, []string{"op"})

	CouponValidationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coupon_validations_total",
		Help: "Total number of coupon validations by result",
	}, []string{"result"})

	OTPSentTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "otp_sent_total",
		Help: "Total number of one-time codes issued",
	})

	FulfillmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fulfillments_total",
		Help: "Total number of paid-order fulfillments by result",
	}, []string{"result"})

	ConsumerRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kafka_consumer_retries_total",
		Help: "Total number of failed message handling attempts that were retried",
	}, []string{"topic"})

	ConsumerMessagesSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kafka_consumer_skipped_total",
		Help: "Total number of malformed messages committed without handling",
	}, []string{"topic"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
