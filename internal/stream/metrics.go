package stream

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"stemwatch/internal/progress"
)

// Metrics holds stream session metrics. A nil *Metrics records nothing.
type Metrics struct {
	FramesReceived   *prometheus.CounterVec
	FramesSuppressed prometheus.Counter
	DecodeErrors     prometheus.Counter
	KeepAlives       prometheus.Counter
	BytesReceived    prometheus.Counter
	Reconnects       prometheus.Counter
	StaleTimeouts    prometheus.Counter
	Exhausted        prometheus.Counter
	SessionsByState  *prometheus.GaugeVec
	TimeToTerminal   prometheus.Histogram
}

// NewMetrics creates stream metrics and registers them with reg.
// Passing nil creates unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FramesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "stemwatch",
				Subsystem: "stream",
				Name:      "frames_received_total",
				Help:      "Frames received, by classified kind",
			},
			[]string{"kind"},
		),
		FramesSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "stemwatch",
			Subsystem: "stream",
			Name:      "frames_suppressed_total",
			Help:      "End frames swallowed after a terminal outcome",
		}),
		DecodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "stemwatch",
			Subsystem: "stream",
			Name:      "decode_errors_total",
			Help:      "Frames that could not be decoded",
		}),
		KeepAlives: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "stemwatch",
			Subsystem: "stream",
			Name:      "keepalives_total",
			Help:      "Keep-alive comments and pings received",
		}),
		BytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "stemwatch",
			Subsystem: "stream",
			Name:      "bytes_received_total",
			Help:      "Frame payload bytes received",
		}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "stemwatch",
			Subsystem: "stream",
			Name:      "reconnects_total",
			Help:      "Reconnection attempts scheduled",
		}),
		StaleTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "stemwatch",
			Subsystem: "stream",
			Name:      "stale_timeouts_total",
			Help:      "Connections dropped by the liveness monitor",
		}),
		Exhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "stemwatch",
			Subsystem: "stream",
			Name:      "reconnects_exhausted_total",
			Help:      "Sessions closed after running out of reconnection attempts",
		}),
		SessionsByState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "stemwatch",
				Subsystem: "stream",
				Name:      "sessions",
				Help:      "Sessions currently in each state",
			},
			[]string{"state"},
		),
		TimeToTerminal: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "stemwatch",
			Subsystem: "stream",
			Name:      "time_to_terminal_seconds",
			Help:      "Time from first connect to the first completed or error frame",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.FramesReceived,
			m.FramesSuppressed,
			m.DecodeErrors,
			m.KeepAlives,
			m.BytesReceived,
			m.Reconnects,
			m.StaleTimeouts,
			m.Exhausted,
			m.SessionsByState,
			m.TimeToTerminal,
		)
	}
	return m
}

func (m *Metrics) frame(kind progress.Kind, size int) {
	if m == nil {
		return
	}
	m.FramesReceived.WithLabelValues(kind.String()).Inc()
	m.BytesReceived.Add(float64(size))
}

func (m *Metrics) decodeError(size int) {
	if m == nil {
		return
	}
	m.DecodeErrors.Inc()
	m.BytesReceived.Add(float64(size))
}

func (m *Metrics) suppressed() {
	if m == nil {
		return
	}
	m.FramesSuppressed.Inc()
}

func (m *Metrics) keepAlive() {
	if m == nil {
		return
	}
	m.KeepAlives.Inc()
}

func (m *Metrics) reconnect() {
	if m == nil {
		return
	}
	m.Reconnects.Inc()
}

func (m *Metrics) stale() {
	if m == nil {
		return
	}
	m.StaleTimeouts.Inc()
}

func (m *Metrics) exhausted() {
	if m == nil {
		return
	}
	m.Exhausted.Inc()
}

func (m *Metrics) transition(from, to State) {
	if m == nil || from == to {
		return
	}
	if from != StateIdle {
		m.SessionsByState.WithLabelValues(from.String()).Dec()
	}
	if to != StateClosed {
		m.SessionsByState.WithLabelValues(to.String()).Inc()
	}
}

func (m *Metrics) terminal(since time.Time) {
	if m == nil || since.IsZero() {
		return
	}
	m.TimeToTerminal.Observe(time.Since(since).Seconds())
}
