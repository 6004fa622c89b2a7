package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains engine-level metrics shared by every session regardless of
// which rig components are wired in.
type Metrics struct {
	SessionState  *prometheus.GaugeVec
	LinesRead     prometheus.Counter
	LinesDecoded  *prometheus.CounterVec
	DecodeInert   prometheus.Counter
	CommandsSent  *prometheus.CounterVec
	LimitChecks   prometheus.Counter
	LimitTrips    *prometheus.CounterVec
	TeardownFault prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all engine metrics
func NewMetrics() *Metrics {
	return &Metrics{
		SessionState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "reacher",
				Subsystem: "session",
				Name:      "state",
				Help:      "Session state (0=idle, 1=running, 2=paused, 3=stopped)",
			},
			[]string{"box"},
		),

		LinesRead: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "reacher",
				Subsystem: "serial",
				Name:      "lines_read_total",
				Help:      "Total lines read off the serial link",
			},
		),

		LinesDecoded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "reacher",
				Subsystem: "wire",
				Name:      "lines_decoded_total",
				Help:      "Total lines decoded, by message kind",
			},
			[]string{"kind"},
		),

		DecodeInert: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "reacher",
				Subsystem: "wire",
				Name:      "inert_lines_total",
				Help:      "Lines that decoded to nothing actionable and were dropped",
			},
		),

		CommandsSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "reacher",
				Subsystem: "serial",
				Name:      "commands_sent_total",
				Help:      "Outbound commands written to the firmware, by framing",
			},
			[]string{"framing"},
		),

		LimitChecks: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "reacher",
				Subsystem: "monitor",
				Name:      "limit_checks_total",
				Help:      "Limit monitor ticks evaluated",
			},
		),

		LimitTrips: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "reacher",
				Subsystem: "monitor",
				Name:      "limit_trips_total",
				Help:      "Sessions stopped by the limit monitor, by condition",
			},
			[]string{"condition"},
		),

		TeardownFault: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "reacher",
				Subsystem: "session",
				Name:      "teardown_faults_total",
				Help:      "Errors swallowed during best-effort teardown",
			},
		),
	}
}
