package metrics

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type Config struct {
	ServiceName string
	Environment string
}

// Metrics captures order and payment pipeline health signals.
type Metrics struct {
	ordersCreated    *prometheus.CounterVec
	orderTransitions *prometheus.CounterVec
	webhookEvents    *prometheus.CounterVec
	gatewayCharges   *prometheus.CounterVec
	sweepExpired     prometheus.Counter
	sweepRuns        prometheus.Counter
	refunds          *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metrics     *Metrics
)

// Default returns the singleton metrics registry.
func Default() *Metrics {
	return WithConfig(Config{})
}

// WithConfig returns the singleton metrics registry using config labels.
func WithConfig(cfg Config) *Metrics {
	metricsOnce.Do(func() {
		metrics = newMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return metrics
}

// ResetForTest resets the metrics singleton for tests.
func ResetForTest() {
	metricsOnce = sync.Once{}
	metrics = nil
}

func newMetrics(registerer prometheus.Registerer, cfg Config) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "bookvault"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	ordersCreated := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "bookvault_orders_created_total",
		Help:        "Orders created by result (created or replayed).",
		ConstLabels: constLabels,
	}, []string{"result"})
	orderTransitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "bookvault_order_transitions_total",
		Help:        "Order status transitions to validate lifecycle integrity.",
		ConstLabels: constLabels,
	}, []string{"from", "to"})
	webhookEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "bookvault_webhook_events_total",
		Help:        "Gateway webhook deliveries by outcome.",
		ConstLabels: constLabels,
	}, []string{"event_type", "outcome"})
	gatewayCharges := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "bookvault_gateway_charges_total",
		Help:        "Charge calls to the payment gateway by result.",
		ConstLabels: constLabels,
	}, []string{"result"})
	sweepExpired := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "bookvault_sweep_expired_orders_total",
		Help:        "Pending orders moved to expired by the sweeper.",
		ConstLabels: constLabels,
	})
	sweepRuns := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "bookvault_sweep_runs_total",
		Help:        "Expiry sweep executions.",
		ConstLabels: constLabels,
	})
	refunds := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "bookvault_refunds_total",
		Help:        "Refund lifecycle events by status.",
		ConstLabels: constLabels,
	}, []string{"status"})

	registerer.MustRegister(
		ordersCreated,
		orderTransitions,
		webhookEvents,
		gatewayCharges,
		sweepExpired,
		sweepRuns,
		refunds,
	)

	return &Metrics{
		ordersCreated:    ordersCreated,
		orderTransitions: orderTransitions,
		webhookEvents:    webhookEvents,
		gatewayCharges:   gatewayCharges,
		sweepExpired:     sweepExpired,
		sweepRuns:        sweepRuns,
		refunds:          refunds,
	}
}

// IncOrderCreated increments the order creation counter.
func (m *Metrics) IncOrderCreated(replayed bool) {
	if m == nil || m.ordersCreated == nil {
		return
	}
	result := "created"
	if replayed {
		result = "replayed"
	}
	m.ordersCreated.WithLabelValues(result).Inc()
}

// IncOrderTransition increments the lifecycle transition counter.
func (m *Metrics) IncOrderTransition(from, to string) {
	if m == nil || m.orderTransitions == nil {
		return
	}
	m.orderTransitions.WithLabelValues(from, to).Inc()
}

// IncWebhookEvent increments the webhook delivery counter by outcome.
func (m *Metrics) IncWebhookEvent(eventType, outcome string) {
	if m == nil || m.webhookEvents == nil {
		return
	}
	m.webhookEvents.WithLabelValues(eventType, outcome).Inc()
}

// IncGatewayCharge increments the gateway charge counter by result.
func (m *Metrics) IncGatewayCharge(result string) {
	if m == nil || m.gatewayCharges == nil {
		return
	}
	m.gatewayCharges.WithLabelValues(result).Inc()
}

// AddSweepExpired adds to the expired-order counter and counts the run.
func (m *Metrics) AddSweepExpired(count int) {
	if m == nil {
		return
	}
	if m.sweepRuns != nil {
		m.sweepRuns.Inc()
	}
	if m.sweepExpired != nil && count > 0 {
		m.sweepExpired.Add(float64(count))
	}
}

// IncRefund increments the refund counter by status.
func (m *Metrics) IncRefund(status string) {
	if m == nil || m.refunds == nil {
		return
	}
	m.refunds.WithLabelValues(status).Inc()
}
