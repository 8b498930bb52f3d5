package service

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"revenue-analytics/internal/monitor"
)

// Metrics are the Prometheus instruments updated by the framework.
type Metrics struct {
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	alerts     *prometheus.CounterVec
	ticks      prometheus.Counter
}

// NewMetrics builds the instruments and registers them on reg when it is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "revenue_operations_total",
			Help: "Operations executed, by name and result status",
		}, []string{"operation", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "revenue_operation_duration_seconds",
			Help:    "Latency of operation execution",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "revenue_alerts_raised_total",
			Help: "Alerts raised by the performance monitor",
		}, []string{"type", "severity"}),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "revenue_monitoring_ticks_total",
			Help: "Scheduled monitoring cycles executed",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.operations, m.latency, m.alerts, m.ticks)
	}
	return m
}

func (m *Metrics) observeOperation(name, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(name, status).Inc()
	m.latency.WithLabelValues(name).Observe(elapsed.Seconds())
}

func (m *Metrics) countAlerts(alerts []monitor.Alert) {
	if m == nil {
		return
	}
	for _, a := range alerts {
		m.alerts.WithLabelValues(string(a.Type), string(a.Severity)).Inc()
	}
}

func (m *Metrics) tick() {
	if m == nil {
		return
	}
	m.ticks.Inc()
}
