package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus instruments the engine exports. A nil
// *Metrics disables collection; every method is nil-safe so callers
// never need to guard.
type Metrics struct {
	registry *prometheus.Registry

	samplesTotal       *prometheus.CounterVec
	scanErrorsTotal    prometheus.Counter
	alertsTotal        *prometheus.CounterVec
	notificationsTotal *prometheus.CounterVec
	pointsActive       prometheus.Gauge
	subscribersActive  prometheus.Gauge
}

// New creates and registers the engine's instruments on a fresh
// registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		samplesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scada",
			Subsystem: "scan",
			Name:      "samples_total",
			Help:      "Samples recorded, labelled by quality",
		}, []string{"quality"}),

		scanErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scada",
			Subsystem: "scan",
			Name:      "errors_total",
			Help:      "Polls that failed after all retries",
		}),

		alertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scada",
			Subsystem: "alert",
			Name:      "generated_total",
			Help:      "Alerts generated, labelled by priority",
		}, []string{"priority"}),

		notificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scada",
			Subsystem: "notify",
			Name:      "deliveries_total",
			Help:      "Notification attempts, labelled by channel and outcome",
		}, []string{"channel", "status"}),

		pointsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "scada",
			Subsystem: "scan",
			Name:      "points_active",
			Help:      "Monitoring points currently scanned",
		}),

		subscribersActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "scada",
			Subsystem: "ws",
			Name:      "subscribers_active",
			Help:      "Connected realtime subscribers",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.samplesTotal,
		m.scanErrorsTotal,
		m.alertsTotal,
		m.notificationsTotal,
		m.pointsActive,
		m.subscribersActive,
	)

	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordSample counts one recorded sample by quality.
func (m *Metrics) RecordSample(quality string) {
	if m == nil {
		return
	}
	m.samplesTotal.WithLabelValues(quality).Inc()
}

// RecordScanError counts one failed poll.
func (m *Metrics) RecordScanError() {
	if m == nil {
		return
	}
	m.scanErrorsTotal.Inc()
}

// RecordAlert counts one generated alert by priority.
func (m *Metrics) RecordAlert(priority string) {
	if m == nil {
		return
	}
	m.alertsTotal.WithLabelValues(priority).Inc()
}

// RecordNotification counts one delivery attempt by channel and outcome.
func (m *Metrics) RecordNotification(channel, status string) {
	if m == nil {
		return
	}
	m.notificationsTotal.WithLabelValues(channel, status).Inc()
}

// SetActivePoints tracks how many points have running scan tasks.
func (m *Metrics) SetActivePoints(n int) {
	if m == nil {
		return
	}
	m.pointsActive.Set(float64(n))
}

// SetSubscribers tracks connected realtime subscribers.
func (m *Metrics) SetSubscribers(n int) {
	if m == nil {
		return
	}
	m.subscribersActive.Set(float64(n))
}
