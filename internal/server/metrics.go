package server

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the gateway and simulator observability counters, exposed
// on the admin port.
type Metrics struct {
	Registry *prometheus.Registry

	SessionsActive   prometheus.Gauge
	HandshakesTotal  prometheus.Counter
	Reconnects       prometheus.Counter
	SessionTimeouts  prometheus.Counter
	InputsAccepted   prometheus.Counter
	InputsRejected   prometheus.Counter
	RateLimited      prometheus.Counter
	UnknownMessages  prometheus.Counter
	MalformedFrames  prometheus.Counter
	SnapshotsSent    prometheus.Counter
	SnapshotBytes    prometheus.Counter
	NumericAnomalies prometheus.Counter
	TickDuration     prometheus.Histogram
}

// NewMetrics registers all collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "topsail_sessions_active",
			Help: "Currently connected sessions.",
		}),
		HandshakesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "topsail_handshakes_total",
			Help: "Completed handshakes.",
		}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "topsail_reconnects_total",
			Help: "Handshakes that resumed a reserved player id.",
		}),
		SessionTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "topsail_session_timeouts_total",
			Help: "Sessions dropped for idling past the deadline.",
		}),
		InputsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "topsail_inputs_accepted_total",
			Help: "Validated input messages applied to the world.",
		}),
		InputsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "topsail_inputs_rejected_total",
			Help: "Input messages rejected by validation.",
		}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "topsail_inputs_rate_limited_total",
			Help: "Input messages discarded by the per-session rate limit.",
		}),
		UnknownMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "topsail_unknown_messages_total",
			Help: "Messages with an unrecognized type.",
		}),
		MalformedFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "topsail_malformed_frames_total",
			Help: "Frames that failed to parse.",
		}),
		SnapshotsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "topsail_snapshots_sent_total",
			Help: "Snapshot frames handed to session writers.",
		}),
		SnapshotBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "topsail_snapshot_bytes_total",
			Help: "Serialized snapshot bytes produced.",
		}),
		NumericAnomalies: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "topsail_numeric_anomalies_total",
			Help: "Entity resets after NaN or Inf detection.",
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "topsail_tick_duration_seconds",
			Help:    "Wall time spent in one simulation step.",
			Buckets: prometheus.ExponentialBuckets(1e-5, 2, 12),
		}),
	}
	reg.MustRegister(
		m.SessionsActive, m.HandshakesTotal, m.Reconnects, m.SessionTimeouts,
		m.InputsAccepted, m.InputsRejected, m.RateLimited, m.UnknownMessages,
		m.MalformedFrames, m.SnapshotsSent, m.SnapshotBytes,
		m.NumericAnomalies, m.TickDuration,
	)
	return m
}
