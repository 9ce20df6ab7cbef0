// Package metrics provides Prometheus metrics for the dispensing services.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	SalesCompleted      prometheus.Counter
	FulfillmentRejected *prometheus.CounterVec
	FulfillmentDuration prometheus.Histogram
	StockDeducted       prometheus.Counter
	StockReceived       prometheus.Counter
	ReconcileRuns       prometheus.Counter
	ReconcileAdjusted   prometheus.Counter
	OutboxPending       prometheus.Gauge
}

// New creates and registers all metrics
func New() *Metrics {
	m := &Metrics{
		SalesCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sales_completed_total",
			Help: "Total prescriptions fulfilled into sales",
		}),
		FulfillmentRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fulfillment_rejected_total",
			Help: "Total fulfillment attempts rejected, by reason",
		}, []string{"reason"}),
		FulfillmentDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fulfillment_duration_seconds",
			Help:    "Fulfillment attempt duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		StockDeducted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stock_units_deducted_total",
			Help: "Total stock units deducted by fulfillment",
		}),
		StockReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stock_units_received_total",
			Help: "Total stock units received into lots",
		}),
		ReconcileRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reconcile_runs_total",
			Help: "Total inventory check reconciliations applied",
		}),
		ReconcileAdjusted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reconcile_adjustments_total",
			Help: "Total medication adjustments written by reconciliation",
		}),
		OutboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "outbox_pending_entries",
			Help: "Pending outbox entries",
		}),
	}

	prometheus.MustRegister(
		m.SalesCompleted,
		m.FulfillmentRejected,
		m.FulfillmentDuration,
		m.StockDeducted,
		m.StockReceived,
		m.ReconcileRuns,
		m.ReconcileAdjusted,
		m.OutboxPending,
	)

	return m
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
