package broker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are optional; a nil *Metrics records nothing.
type Metrics struct {
	sessions     prometheus.Gauge
	onlineUsers  prometheus.Gauge
	events       *prometheus.CounterVec
	sendFailures *prometheus.CounterVec
	delivered    prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		sessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "chat",
			Name:      "sessions",
			Help:      "Live transport sessions.",
		}),
		onlineUsers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "chat",
			Name:      "online_users",
			Help:      "Users with at least one live session.",
		}),
		events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chat",
			Name:      "events_total",
			Help:      "Client events handled, by event name.",
		}, []string{"event"}),
		sendFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chat",
			Name:      "send_failures_total",
			Help:      "Rejected or failed sends, by error kind.",
		}, []string{"kind"}),
		delivered: f.NewCounter(prometheus.CounterOpts{
			Namespace: "chat",
			Name:      "deliveries_total",
			Help:      "new-message frames handed to sessions.",
		}),
	}
}

func (m *Metrics) setSessions(n, online int) {
	if m == nil {
		return
	}
	m.sessions.Set(float64(n))
	m.onlineUsers.Set(float64(online))
}

func (m *Metrics) event(name string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(name).Inc()
}

func (m *Metrics) sendFailure(kind string) {
	if m == nil {
		return
	}
	m.sendFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) deliveries(n int) {
	if m == nil {
		return
	}
	m.delivered.Add(float64(n))
}
