// Package metrics provides Prometheus metrics for the edge cache.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records
// nothing, which keeps tests free of registry setup.
type Metrics struct {
	registry *prometheus.Registry

	// Request metrics
	Requests *prometheus.CounterVec

	// Cache metrics
	Lookups       *prometheus.CounterVec
	Puts          *prometheus.CounterVec
	Evictions     *prometheus.CounterVec
	Revalidations *prometheus.CounterVec

	// Deferred-write metrics
	Deliveries *prometheus.CounterVec
	Pending    *prometheus.GaugeVec

	// Push metrics
	Notifications *prometheus.CounterVec
}

// New creates a Metrics instance with its own registry under namespace.
func New(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Intercepted requests by class and outcome",
		}, []string{"class", "outcome"}),
		Lookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Cache lookups by partition kind and result",
		}, []string{"partition", "result"}),
		Puts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_puts_total",
			Help:      "Cache writes by partition kind and result",
		}, []string{"partition", "result"}),
		Evictions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_evictions_total",
			Help:      "Entries evicted by partition",
		}, []string{"partition"}),
		Revalidations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_revalidations_total",
			Help:      "Background revalidations by result",
		}, []string{"result"}),
		Deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replay_deliveries_total",
			Help:      "Deferred write deliveries by tag and result",
		}, []string{"tag", "result"}),
		Pending: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_records",
			Help:      "Deferred writes waiting for delivery",
		}, []string{"tag"}),
		Notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Push notifications by event",
		}, []string{"event"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Request(class, outcome string) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(class, outcome).Inc()
}

func (m *Metrics) Lookup(partition, result string) {
	if m == nil {
		return
	}
	m.Lookups.WithLabelValues(partition, result).Inc()
}

func (m *Metrics) Put(partition string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Puts.WithLabelValues(partition, result).Inc()
}

func (m *Metrics) Evicted(partition string, n int) {
	if m == nil {
		return
	}
	m.Evictions.WithLabelValues(partition).Add(float64(n))
}

func (m *Metrics) Revalidated(result string) {
	if m == nil {
		return
	}
	m.Revalidations.WithLabelValues(result).Inc()
}

func (m *Metrics) Delivered(tag, result string) {
	if m == nil {
		return
	}
	m.Deliveries.WithLabelValues(tag, result).Inc()
}

func (m *Metrics) SetPending(tag string, n int) {
	if m == nil {
		return
	}
	m.Pending.WithLabelValues(tag).Set(float64(n))
}

func (m *Metrics) Notified(event string) {
	if m == nil {
		return
	}
	m.Notifications.WithLabelValues(event).Inc()
}
