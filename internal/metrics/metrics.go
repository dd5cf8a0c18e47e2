package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	Connections   prometheus.Gauge
	OnlineUsers   prometheus.Gauge
	Events        *prometheus.CounterVec
	EventErrors   *prometheus.CounterVec
	MessagesSent  prometheus.Counter
	AuthFailures  prometheus.Counter
	DroppedWrites prometheus.Counter
}

// New creates the realtime collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chat", Subsystem: "realtime", Name: "connections",
			Help: "Open realtime connections.",
		}),
		OnlineUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chat", Subsystem: "realtime", Name: "online_users",
			Help: "Users with at least one open connection.",
		}),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chat", Subsystem: "realtime", Name: "events_total",
			Help: "Client events received, by event name.",
		}, []string{"event"}),
		EventErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chat", Subsystem: "realtime", Name: "event_errors_total",
			Help: "Client events that failed, by event name and error code.",
		}, []string{"event", "code"}),
		MessagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chat", Subsystem: "realtime", Name: "messages_sent_total",
			Help: "Messages persisted and fanned out.",
		}),
		AuthFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chat", Subsystem: "realtime", Name: "auth_failures_total",
			Help: "Rejected realtime handshakes.",
		}),
		DroppedWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chat", Subsystem: "realtime", Name: "dropped_writes_total",
			Help: "Frames that could not be written to a connection.",
		}),
	}
	reg.MustRegister(m.Connections, m.OnlineUsers, m.Events, m.EventErrors, m.MessagesSent, m.AuthFailures, m.DroppedWrites)
	return m
}
