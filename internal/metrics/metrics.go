// Package metrics holds the Prometheus collectors for the settlement service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics methods are safe on a nil receiver, which records nothing.
type Metrics struct {
	transactionsTotal   *prometheus.CounterVec
	callbacksTotal      *prometheus.CounterVec
	railRequestsTotal   *prometheus.CounterVec
	railRequestDuration *prometheus.HistogramVec
	revenueCentsTotal   *prometheus.CounterVec
	idempotentReplays   prometheus.Counter
}

// NewMetrics registers the collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		transactionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "safaripay",
				Subsystem: "ledger",
				Name:      "transactions_total",
				Help:      "Transactions reaching a status, by kind and status.",
			},
			[]string{"kind", "status"},
		),
		callbacksTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "safaripay",
				Subsystem: "webhook",
				Name:      "callbacks_total",
				Help:      "Rail callbacks received, by rail and result.",
			},
			[]string{"rail", "result"},
		),
		railRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "safaripay",
				Subsystem: "rail",
				Name:      "requests_total",
				Help:      "Outbound rail requests, by rail and result (ok, rejected, timeout).",
			},
			[]string{"rail", "result"},
		),
		railRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "safaripay",
				Subsystem: "rail",
				Name:      "request_duration_seconds",
				Help:      "Latency of outbound rail requests.",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30},
			},
			[]string{"rail"},
		),
		revenueCentsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "safaripay",
				Subsystem: "revenue",
				Name:      "accrued_cents_total",
				Help:      "Platform revenue accrued in KES cents, by source.",
			},
			[]string{"source"},
		),
		idempotentReplays: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: "safaripay",
				Subsystem: "http",
				Name:      "idempotent_replays_total",
				Help:      "Responses served from the Idempotency-Key cache.",
			},
		),
	}
}

func (m *Metrics) ObserveTransaction(kind, status string) {
	if m == nil {
		return
	}
	m.transactionsTotal.WithLabelValues(kind, status).Inc()
}

func (m *Metrics) ObserveCallback(rail, result string) {
	if m == nil {
		return
	}
	m.callbacksTotal.WithLabelValues(rail, result).Inc()
}

func (m *Metrics) ObserveRailRequest(rail, result string, took time.Duration) {
	if m == nil {
		return
	}
	m.railRequestsTotal.WithLabelValues(rail, result).Inc()
	m.railRequestDuration.WithLabelValues(rail).Observe(took.Seconds())
}

func (m *Metrics) AddRevenue(source string, cents int64) {
	if m == nil || cents <= 0 {
		return
	}
	m.revenueCentsTotal.WithLabelValues(source).Add(float64(cents))
}

func (m *Metrics) ObserveIdempotentReplay() {
	if m == nil {
		return
	}
	m.idempotentReplays.Inc()
}
