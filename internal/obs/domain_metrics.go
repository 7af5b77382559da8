package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// PaymentOrderTotal counts provider order creation outcomes.
	PaymentOrderTotal *prometheus.CounterVec
	// PaymentOrderLatency records provider order creation latency in milliseconds.
	PaymentOrderLatency *prometheus.HistogramVec
	// PaymentWebhookTotal counts inbound payment webhook processing outcomes.
	PaymentWebhookTotal *prometheus.CounterVec
	// PaymentReconcileTotal counts reconciliation task outcomes per event type.
	PaymentReconcileTotal *prometheus.CounterVec
	// BookingIntentTotal counts booking intent submissions by outcome.
	BookingIntentTotal *prometheus.CounterVec
	// RateLimitedTotal counts requests rejected by the rate limiter per scope.
	RateLimitedTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		PaymentOrderTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_order_total",
			Help:      "Count of provider order creation outcomes.",
		}, []string{"provider", "result"})
		PaymentOrderLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "payment_order_duration_ms",
			Help:      "Latency of provider order creation in milliseconds.",
			Buckets:   []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000},
		}, []string{"provider"})
		PaymentWebhookTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_webhook_total",
			Help:      "Count of processed payment webhooks by outcome.",
		}, []string{"provider", "result"})
		PaymentReconcileTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_reconcile_total",
			Help:      "Count of payment reconciliation outcomes.",
		}, []string{"event_type", "result"})
		BookingIntentTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_intent_total",
			Help:      "Count of booking intent submissions by outcome.",
		}, []string{"result"})
		RateLimitedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter.",
		}, []string{"scope"})

		PaymentOrderTotal = mustRegister(reg, PaymentOrderTotal)
		PaymentOrderLatency = mustRegister(reg, PaymentOrderLatency)
		PaymentWebhookTotal = mustRegister(reg, PaymentWebhookTotal)
		PaymentReconcileTotal = mustRegister(reg, PaymentReconcileTotal)
		BookingIntentTotal = mustRegister(reg, BookingIntentTotal)
		RateLimitedTotal = mustRegister(reg, RateLimitedTotal)
	})
}

// CountOutcome increments vec when metrics are registered. Label values are passed through as-is.
func CountOutcome(vec *prometheus.CounterVec, labels ...string) {
	if vec == nil {
		return
	}
	vec.WithLabelValues(labels...).Inc()
}
