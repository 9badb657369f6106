// Package metrics exposes prometheus instrumentation for the stock ledger.
// A nil *StockMetrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Workflow outcomes
const (
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

// StockMetrics holds the collectors for stock workflows and alert scans
type StockMetrics struct {
	operations       *prometheus.CounterVec
	operationLatency *prometheus.HistogramVec
	alertsRaised     *prometheus.CounterVec
	alertsResolved   *prometheus.CounterVec
	scanDuration     *prometheus.HistogramVec
	publishFailures  prometheus.Counter
	httpRequests     *prometheus.CounterVec
	httpLatency      *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *StockMetrics {
	m := &StockMetrics{
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stock_operations_total",
				Help: "Total number of stock workflow executions",
			},
			[]string{"operation", "outcome"},
		),
		operationLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stock_operation_duration_seconds",
				Help:    "Duration of stock workflow transactions in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		alertsRaised: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stock_alerts_raised_total",
				Help: "Total number of stock alerts created",
			},
			[]string{"alert_type"},
		),
		alertsResolved: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stock_alerts_resolved_total",
				Help: "Total number of stock alerts resolved",
			},
			[]string{"alert_type"},
		),
		scanDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stock_alert_scan_duration_seconds",
				Help:    "Duration of periodic alert scanners in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"scanner"},
		),
		publishFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "stock_event_publish_failures_total",
				Help: "Events that could not be published after commit",
			},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stock_service_requests_total",
				Help: "Total number of HTTP requests to the stock service",
			},
			[]string{"method", "route", "status"},
		),
		httpLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stock_service_request_duration_seconds",
				Help:    "Duration of stock service HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}

	reg.MustRegister(
		m.operations, m.operationLatency,
		m.alertsRaised, m.alertsResolved,
		m.scanDuration, m.publishFailures,
		m.httpRequests, m.httpLatency,
	)

	return m
}

// ObserveOperation records one workflow run.
func (m *StockMetrics) ObserveOperation(operation, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
	m.operationLatency.WithLabelValues(operation).Observe(took.Seconds())
}

func (m *StockMetrics) AlertRaised(alertType string) {
	if m == nil {
		return
	}
	m.alertsRaised.WithLabelValues(alertType).Inc()
}

func (m *StockMetrics) AlertResolved(alertType string) {
	if m == nil {
		return
	}
	m.alertsResolved.WithLabelValues(alertType).Inc()
}

func (m *StockMetrics) ObserveScan(scanner string, took time.Duration) {
	if m == nil {
		return
	}
	m.scanDuration.WithLabelValues(scanner).Observe(took.Seconds())
}

func (m *StockMetrics) PublishFailed() {
	if m == nil {
		return
	}
	m.publishFailures.Inc()
}

// ObserveRequest records one HTTP request against its chi route pattern.
func (m *StockMetrics) ObserveRequest(method, route, status string, took time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, status).Inc()
	m.httpLatency.WithLabelValues(method, route).Observe(took.Seconds())
}
