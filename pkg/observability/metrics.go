package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for one bridge process.
type Metrics struct {
	// Topic routing metrics
	MessagesRoutedTotal *prometheus.CounterVec
	PublishErrorsTotal  *prometheus.CounterVec

	// Service correlation metrics
	CallsTotal    *prometheus.CounterVec
	CallsInflight prometheus.Gauge

	// Spin loop metrics
	SpinDuration prometheus.Histogram
	AdaptersLive prometheus.Gauge
}

// NewMetrics creates and registers all bridge metrics on the given registry.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		MessagesRoutedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crossbus_messages_routed_total",
				Help: "Total number of topic messages routed between systems",
			},
			[]string{"topic", "from", "to"},
		),
		PublishErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crossbus_publish_errors_total",
				Help: "Total number of publish rejections, by reason",
			},
			[]string{"topic", "to", "reason"},
		),
		CallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crossbus_calls_total",
				Help: "Total number of service calls forwarded across the bridge",
			},
			[]string{"service", "from", "to"},
		),
		CallsInflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "crossbus_calls_inflight",
				Help: "Service calls forwarded but not yet resolved",
			},
		),
		SpinDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "crossbus_spin_duration_seconds",
				Help:    "Duration of one full pass over all live adapters",
				Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
			},
		),
		AdaptersLive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "crossbus_adapters_live",
				Help: "Number of adapters currently in the polling rotation",
			},
		),
	}

	if registry != nil {
		registry.MustRegister(
			m.MessagesRoutedTotal,
			m.PublishErrorsTotal,
			m.CallsTotal,
			m.CallsInflight,
			m.SpinDuration,
			m.AdaptersLive,
		)
	}

	return m
}

// NewNopMetrics creates metrics that are not registered anywhere. Useful for
// tests and for embedders that do not scrape.
func NewNopMetrics() *Metrics {
	return NewMetrics(nil)
}
