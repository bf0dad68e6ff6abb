package metrics

import "github.com/prometheus/client_golang/prometheus"

// Reasons a frame is dropped instead of routed.
const (
	DropMalformed   = "malformed"
	DropRateLimited = "rate_limited"
	DropUnroutable  = "unroutable"
)

// RelayMetrics holds the collectors of the broadcast hub.
type RelayMetrics struct {
	ActiveConnections  *prometheus.GaugeVec
	HandshakesRejected prometheus.Counter
	HandshakesLimited  *prometheus.CounterVec
	EventsRelayed      *prometheus.CounterVec
	FramesDropped      *prometheus.CounterVec
	SlowClientsEvicted prometheus.Counter
	AuditFailures      prometheus.Counter
	CommandQueueDepth  prometheus.Gauge
}

func NewRelayMetrics(reg prometheus.Registerer) *RelayMetrics {
	m := &RelayMetrics{
		ActiveConnections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "room_connections",
			Help:      "Number of local connections per room.",
		}, []string{"room"}),
		HandshakesRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "handshakes_rejected_total",
			Help:      "Socket handshakes rejected for a missing or invalid token.",
		}),
		HandshakesLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "handshakes_limited_total",
			Help:      "Socket handshakes refused by connection limits, by reason.",
		}, []string{"reason"}),
		EventsRelayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "events_relayed_total",
			Help:      "Events delivered to a room, by event name and room.",
		}, []string{"event", "room"}),
		FramesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "frames_dropped_total",
			Help:      "Inbound frames dropped without routing, by reason.",
		}, []string{"reason"}),
		SlowClientsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "slow_clients_evicted_total",
			Help:      "Connections closed because their send buffer was full.",
		}),
		AuditFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "audit_failures_total",
			Help:      "Activity log writes that failed.",
		}),
		CommandQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "command_queue_depth",
			Help:      "Pending commands in the hub actor queue.",
		}),
	}

	reg.MustRegister(
		m.ActiveConnections,
		m.HandshakesRejected,
		m.HandshakesLimited,
		m.EventsRelayed,
		m.FramesDropped,
		m.SlowClientsEvicted,
		m.AuditFailures,
		m.CommandQueueDepth,
	)
	return m
}

// BridgeMetrics tracks cross-instance fan-out over Redis.
type BridgeMetrics struct {
	Published     prometheus.Counter
	Received      prometheus.Counter
	PublishErrors prometheus.Counter
	BreakerState  prometheus.Gauge

	Commands        *prometheus.CounterVec
	CommandDuration *prometheus.HistogramVec
	DialErrors      prometheus.Counter
}

func NewBridgeMetrics(reg prometheus.Registerer) *BridgeMetrics {
	m := &BridgeMetrics{
		Published: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "published_total",
			Help:      "Deliveries forwarded to other instances.",
		}),
		Received: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "received_total",
			Help:      "Deliveries received from other instances.",
		}),
		PublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "publish_errors_total",
			Help:      "Deliveries that could not be forwarded.",
		}),
		BreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "circuit_breaker_state",
			Help:      "Redis circuit breaker state (0=closed, 1=half-open, 2=open).",
		}),
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "redis",
			Name:      "commands_total",
			Help:      "Redis commands by command name and status.",
		}, []string{"command", "status"}),
		CommandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "redis",
			Name:      "command_duration_seconds",
			Help:      "Redis command latency.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"command"}),
		DialErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "redis",
			Name:      "dial_errors_total",
			Help:      "Failed attempts to open a Redis connection.",
		}),
	}

	reg.MustRegister(
		m.Published,
		m.Received,
		m.PublishErrors,
		m.BreakerState,
		m.Commands,
		m.CommandDuration,
		m.DialErrors,
	)
	return m
}
