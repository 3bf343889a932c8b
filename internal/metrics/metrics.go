package metrics

import (
	"context"
	"time"

	"RampEngine/internal/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// OrderMetrics holds the engine's Prometheus collectors.
type OrderMetrics struct {
	OrdersCreatedTotal      *prometheus.CounterVec
	OrdersCreatedFiatTotal  *prometheus.CounterVec
	TransitionsTotal        *prometheus.CounterVec
	QuotesTotal             *prometheus.CounterVec
	WebhookDeliveriesTotal  *prometheus.CounterVec
	WebhookDeliveryDuration *prometheus.HistogramVec
	SweepOrdersTotal        *prometheus.CounterVec
	SweepErrorsTotal        *prometheus.CounterVec
	OrderCompletionSeconds  prometheus.Histogram
}

// New registers the collectors on reg. Pass prometheus.DefaultRegisterer in
// binaries and a fresh registry in tests.
func New(reg prometheus.Registerer) *OrderMetrics {
	f := promauto.With(reg)
	return &OrderMetrics{
		OrdersCreatedTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "offramp_orders_created_total",
				Help: "Orders persisted, by token and network",
			},
			[]string{"token", "network"},
		),
		OrdersCreatedFiatTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "offramp_orders_created_fiat_total",
				Help: "Net fiat amount of created orders",
			},
			[]string{"currency"},
		),
		TransitionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "offramp_order_transitions_total",
				Help: "Persisted lifecycle transitions",
			},
			[]string{"event", "from", "to"},
		),
		QuotesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "offramp_quotes_total",
				Help: "Quotes resolved, by fiat rate source",
			},
			[]string{"fiat_source", "discrepancy"},
		),
		WebhookDeliveriesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "offramp_webhook_deliveries_total",
				Help: "Outbound business webhook attempts",
			},
			[]string{"event", "result"},
		),
		WebhookDeliveryDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "offramp_webhook_delivery_seconds",
				Help:    "Outbound webhook round-trip time",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"result"},
		),
		SweepOrdersTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "offramp_reconciliation_orders_total",
				Help: "Orders changed by reconciliation sweeps",
			},
			[]string{"sweep"},
		),
		SweepErrorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "offramp_reconciliation_errors_total",
				Help: "Reconciliation sweep failures",
			},
			[]string{"sweep"},
		),
		OrderCompletionSeconds: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "offramp_order_completion_seconds",
				Help:    "Time from order creation to completion",
				Buckets: prometheus.ExponentialBuckets(60, 2, 10),
			},
		),
	}
}

func (m *OrderMetrics) OrderCreated(o *models.Order) {
	m.OrdersCreatedTotal.WithLabelValues(o.Token, string(o.Network)).Inc()
	m.OrdersCreatedFiatTotal.WithLabelValues(o.Pricing.FiatCurrency).Add(o.Pricing.NetFiatAmount.InexactFloat64())
}

func (m *OrderMetrics) QuoteResolved(fiatSource string, discrepancy bool) {
	d := "false"
	if discrepancy {
		d = "true"
	}
	m.QuotesTotal.WithLabelValues(fiatSource, d).Inc()
}

// OrderChanged counts lifecycle transitions.
func (m *OrderMetrics) OrderChanged(ctx context.Context, change models.Change) {
	m.TransitionsTotal.WithLabelValues(string(change.Event), string(change.From), string(change.Order.Status)).Inc()
	if change.Order.Status == models.OrderCompleted && !change.Order.CreatedAt.IsZero() {
		m.OrderCompletionSeconds.Observe(change.At.Sub(change.Order.CreatedAt).Seconds())
	}
}

func (m *OrderMetrics) WebhookDelivered(event string, delivered bool, took time.Duration) {
	result := "failed"
	if delivered {
		result = "delivered"
	}
	m.WebhookDeliveriesTotal.WithLabelValues(event, result).Inc()
	m.WebhookDeliveryDuration.WithLabelValues(result).Observe(took.Seconds())
}

func (m *OrderMetrics) SweepCompleted(sweep string, changed, failed int) {
	m.SweepOrdersTotal.WithLabelValues(sweep).Add(float64(changed))
	if failed > 0 {
		m.SweepErrorsTotal.WithLabelValues(sweep).Add(float64(failed))
	}
}
