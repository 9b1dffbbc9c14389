package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "pingme"

// Metrics holds all Prometheus metrics for the watcher. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	EventsTotal         *prometheus.CounterVec
	DuplicatesTotal     prometheus.Counter
	CoarseTimestamps    prometheus.Counter
	EnrichmentFallbacks *prometheus.CounterVec
	NotificationsTotal  *prometheus.CounterVec
	SuppressedTotal     *prometheus.CounterVec
	ConnectionState     prometheus.Gauge
	ReconnectAttempts   prometheus.Counter
}

// New registers the metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		EventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "events_total",
			Help:      "Total number of contract logs ingested by status.",
		}, []string{"status"}), // status: decoded, decode_error, save_error
		DuplicatesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "duplicates_total",
			Help:      "Total number of logs skipped because the event was already stored.",
		}),
		CoarseTimestamps: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "coarse_timestamps_total",
			Help:      "Total number of events stamped with wall-clock time after a block lookup failed.",
		}),
		EnrichmentFallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "enrich",
			Name:      "fallbacks_total",
			Help:      "Total number of analyses replaced by the fallback by reason.",
		}, []string{"reason"}), // reason: disabled, timeout, rate_limited, error, no_json, bad_json, bad_urgency
		NotificationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "deliveries_total",
			Help:      "Total number of channel delivery attempts by channel and status.",
		}, []string{"channel", "status"}),
		SuppressedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "suppressed_total",
			Help:      "Total number of notifications not sent by reason.",
		}, []string{"reason"}), // reason: quiet_hours, below_threshold, rate_limited, not_interested
		ConnectionState: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "connection_state",
			Help:      "Current stream connection state (0 disconnected, 1 connecting, 2 connected, 3 reconnecting, 4 stopped, 5 failed).",
		}),
		ReconnectAttempts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "reconnect_attempts_total",
			Help:      "Total number of connection attempts made by the retry policy.",
		}),
	}
}

func (m *Metrics) Event(status string) {
	if m == nil {
		return
	}
	m.EventsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) Duplicate() {
	if m == nil {
		return
	}
	m.DuplicatesTotal.Inc()
}

func (m *Metrics) CoarseTimestamp() {
	if m == nil {
		return
	}
	m.CoarseTimestamps.Inc()
}

func (m *Metrics) Fallback(reason string) {
	if m == nil {
		return
	}
	m.EnrichmentFallbacks.WithLabelValues(reason).Inc()
}

func (m *Metrics) Delivery(channel string, delivered bool) {
	if m == nil {
		return
	}
	status := "failed"
	if delivered {
		status = "delivered"
	}
	m.NotificationsTotal.WithLabelValues(channel, status).Inc()
}

func (m *Metrics) Suppressed(reason string) {
	if m == nil {
		return
	}
	m.SuppressedTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) State(value int) {
	if m == nil {
		return
	}
	m.ConnectionState.Set(float64(value))
}

func (m *Metrics) ReconnectAttempt() {
	if m == nil {
		return
	}
	m.ReconnectAttempts.Inc()
}
