// ABOUTME: Prometheus metrics for the relay
// ABOUTME: Counters and gauges for streaming, discovery and session state
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Ring labels.
const (
	RingCapture  = "capture"
	RingPlayback = "playback"
)

// Metrics contains all Prometheus metrics for lanrelay. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	// Stream metrics
	SamplesSent     prometheus.Counter
	SamplesReceived prometheus.Counter
	Malformed       prometheus.Counter
	Overruns        *prometheus.CounterVec
	Underruns       *prometheus.CounterVec
	RingFill        *prometheus.GaugeVec

	// Discovery metrics
	DialAttempts  *prometheus.CounterVec
	InFlightDials prometheus.Gauge
	PeersFound    prometheus.Counter

	// Session metrics
	SessionState *prometheus.GaugeVec
	Connections  prometheus.Counter
}

// NewMetrics creates all metrics and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		SamplesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "lanrelay_samples_sent_total",
			Help: "Total number of samples written to the peer",
		}),
		SamplesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "lanrelay_samples_received_total",
			Help: "Total number of samples read from the peer",
		}),
		Malformed: factory.NewCounter(prometheus.CounterOpts{
			Name: "lanrelay_malformed_datagrams_total",
			Help: "Total number of datagrams dropped for not holding exactly one sample",
		}),
		Overruns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lanrelay_ring_overruns_total",
			Help: "Samples dropped because a ring was full",
		}, []string{"ring"}),
		Underruns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lanrelay_ring_underruns_total",
			Help: "Samples replaced with silence because a ring was empty",
		}, []string{"ring"}),
		RingFill: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lanrelay_ring_fill_samples",
			Help: "Samples currently buffered in a ring",
		}, []string{"ring"}),

		DialAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lanrelay_dial_attempts_total",
			Help: "Connection attempts made while scanning, by result",
		}, []string{"result"}),
		InFlightDials: factory.NewGauge(prometheus.GaugeOpts{
			Name: "lanrelay_dials_in_flight",
			Help: "Connection attempts currently in progress",
		}),
		PeersFound: factory.NewCounter(prometheus.CounterOpts{
			Name: "lanrelay_peers_found_total",
			Help: "Total number of peers that accepted a connection",
		}),

		SessionState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lanrelay_session_state",
			Help: "1 for the current session state, 0 otherwise",
		}, []string{"state"}),
		Connections: factory.NewCounter(prometheus.CounterOpts{
			Name: "lanrelay_connections_total",
			Help: "Total number of peer connections established",
		}),
	}
}

// RecordSent adds n samples to the sent counter
func (m *Metrics) RecordSent(n uint64) {
	if m == nil || n == 0 {
		return
	}
	m.SamplesSent.Add(float64(n))
}

// RecordReceived adds n samples to the received counter
func (m *Metrics) RecordReceived(n uint64) {
	if m == nil || n == 0 {
		return
	}
	m.SamplesReceived.Add(float64(n))
}

// RecordMalformed adds n dropped datagrams
func (m *Metrics) RecordMalformed(n uint64) {
	if m == nil || n == 0 {
		return
	}
	m.Malformed.Add(float64(n))
}

// RecordOverruns adds n dropped samples for a ring
func (m *Metrics) RecordOverruns(ring string, n uint64) {
	if m == nil || n == 0 {
		return
	}
	m.Overruns.WithLabelValues(ring).Add(float64(n))
}

// RecordUnderruns adds n silence substitutions for a ring
func (m *Metrics) RecordUnderruns(ring string, n uint64) {
	if m == nil || n == 0 {
		return
	}
	m.Underruns.WithLabelValues(ring).Add(float64(n))
}

// SetRingFill records the current fill of a ring
func (m *Metrics) SetRingFill(ring string, samples int) {
	if m == nil {
		return
	}
	m.RingFill.WithLabelValues(ring).Set(float64(samples))
}

// DialStarted marks a connection attempt in progress
func (m *Metrics) DialStarted() {
	if m == nil {
		return
	}
	m.InFlightDials.Inc()
}

// DialFinished records the outcome of a connection attempt
func (m *Metrics) DialFinished(connected bool) {
	if m == nil {
		return
	}
	m.InFlightDials.Dec()
	result := "failed"
	if connected {
		result = "connected"
		m.PeersFound.Inc()
	}
	m.DialAttempts.WithLabelValues(result).Inc()
}

// RecordConnection counts an established session connection
func (m *Metrics) RecordConnection() {
	if m == nil {
		return
	}
	m.Connections.Inc()
}

// SetState marks state as current among all states
func (m *Metrics) SetState(state string, all []string) {
	if m == nil {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		m.SessionState.WithLabelValues(s).Set(v)
	}
}
