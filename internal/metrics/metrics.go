package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the relay's collectors.
type Metrics struct {
	PushTotal     *prometheus.CounterVec
	NoticesTotal  *prometheus.CounterVec
	StreamClients prometheus.Gauge
	PushDuration  prometheus.Histogram

	gatherer prometheus.Gatherer
}

// New creates the collectors and registers them on reg. A nil reg gets a private registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		PushTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webpush_relay_push_total",
				Help: "Push deliveries by result",
			},
			[]string{"status"},
		),
		NoticesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webpush_relay_notices_total",
				Help: "Broadcast notices by severity",
			},
			[]string{"severity"},
		),
		StreamClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "webpush_relay_stream_clients",
			Help: "Connected websocket stream clients",
		}),
		PushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "webpush_relay_push_duration_seconds",
			Help:    "Histogram of push service response times",
			Buckets: prometheus.DefBuckets,
		}),
		gatherer: reg,
	}
	reg.MustRegister(m.PushTotal, m.NoticesTotal, m.StreamClients, m.PushDuration)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// ObservePush records one delivery attempt. Safe on a nil receiver.
func (m *Metrics) ObservePush(status string, took time.Duration) {
	if m == nil {
		return
	}
	m.PushTotal.WithLabelValues(status).Inc()
	m.PushDuration.Observe(took.Seconds())
}

// ObserveNotice counts one broadcast. Safe on a nil receiver.
func (m *Metrics) ObserveNotice(severity string) {
	if m == nil {
		return
	}
	m.NoticesTotal.WithLabelValues(severity).Inc()
}

// SetStreamClients updates the client gauge. Safe on a nil receiver.
func (m *Metrics) SetStreamClients(n int) {
	if m == nil {
		return
	}
	m.StreamClients.Set(float64(n))
}
