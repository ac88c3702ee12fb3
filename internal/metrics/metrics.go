// Package metrics provides Prometheus metrics for the chat backend
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the chat counters on a private registry. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	MessagesTotal  *prometheus.CounterVec
	DispatchTotal  *prometheus.CounterVec
	TopicHitsTotal *prometheus.CounterVec
	RejectedTotal  *prometheus.CounterVec
	SessionsActive prometheus.Gauge
}

// New creates and registers all metrics
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		MessagesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "abyss_messages_total",
				Help: "Chat messages appended to transcripts",
			},
			[]string{"role"},
		),
		DispatchTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "abyss_dispatch_total",
				Help: "Dispatched messages by the path that answered them",
			},
			[]string{"source"},
		),
		TopicHitsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "abyss_topic_hits_total",
				Help: "Local resolutions by matched topic",
			},
			[]string{"topic"},
		),
		RejectedTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "abyss_rejected_total",
				Help: "Submissions ignored by the session",
			},
			[]string{"reason"},
		),
		SessionsActive: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "abyss_sessions_active",
				Help: "Live chat sessions held in memory",
			},
		),
	}
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Message(role string) {
	if m != nil {
		m.MessagesTotal.WithLabelValues(role).Inc()
	}
}

func (m *Metrics) Dispatch(source string) {
	if m != nil {
		m.DispatchTotal.WithLabelValues(source).Inc()
	}
}

// Topic records a local resolution; an empty topic means the default pool.
func (m *Metrics) Topic(topic string) {
	if m == nil {
		return
	}
	if topic == "" {
		topic = "default"
	}
	m.TopicHitsTotal.WithLabelValues(topic).Inc()
}

func (m *Metrics) Rejected(reason string) {
	if m != nil {
		m.RejectedTotal.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) Sessions(n int) {
	if m != nil {
		m.SessionsActive.Set(float64(n))
	}
}
