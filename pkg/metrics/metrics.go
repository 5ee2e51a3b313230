package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// ActiveSessions tracks open relay sessions by mode (stock/crypto) and source (synthetic/bridge)
var ActiveSessions = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "relay_active_sessions",
		Help: "Number of client streams currently being relayed",
	},
	[]string{"mode", "source"},
)

// FramesSent counts frames written to clients by kind (ping, trade, passthrough, error)
var FramesSent = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "relay_frames_sent_total",
		Help: "Total number of frames written to client streams",
	},
	[]string{"kind"},
)

// SessionsClosed counts finished sessions by terminal reason
var SessionsClosed = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "relay_sessions_closed_total",
		Help: "Total number of relay sessions closed, by terminal reason",
	},
	[]string{"reason"},
)

// SessionDuration records how long sessions stay open
var SessionDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "relay_session_duration_seconds",
		Help:    "Lifetime of relay sessions in seconds",
		Buckets: prometheus.ExponentialBuckets(1, 4, 8),
	},
)

// RegistryReplacements counts registrations that displaced a live session for the same symbol
var RegistryReplacements = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "relay_registry_replacements_total",
		Help: "Total number of registrations that replaced an active session",
	},
)

func init() {
	prometheus.MustRegister(ActiveSessions, FramesSent, SessionsClosed, SessionDuration, RegistryReplacements)
}
