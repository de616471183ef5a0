// Package metrics объявляет Prometheus-метрики сервиса.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RateLimitDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratelimit_decisions_total",
			Help: "Rate limiter decisions by endpoint and result",
		},
		[]string{"endpoint", "result"},
	)

	RateLimitRefunds = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratelimit_refunds_total",
			Help: "Rate limit charges refunded after server-side failures",
		},
		[]string{"endpoint"},
	)

	RateLimitStoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratelimit_store_errors_total",
			Help: "Store failures seen by the rate limiter, by applied policy",
		},
		[]string{"endpoint", "policy"},
	)

	EntitlementDowngrades = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "entitlement_downgrades_total",
			Help: "Expired premium subscriptions downgraded on access",
		},
	)

	QuotaDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quota_decisions_total",
			Help: "Quota decisions by grant and result",
		},
		[]string{"grant", "result"},
	)

	OrdersCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_orders_created_total",
			Help: "Payment orders created at the gateway",
		},
		[]string{"plan"},
	)

	Captures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_captures_total",
			Help: "Capture attempts by outcome",
		},
		[]string{"result"},
	)

	GatewayRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payment_gateway_request_duration_seconds",
			Help:    "Duration of payment gateway calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "status"},
	)

	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_sent_total",
			Help: "Notification emails by type and result",
		},
		[]string{"type", "result"},
	)
)
