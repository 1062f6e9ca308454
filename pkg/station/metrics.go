package station

import (
	"github.com/backkem/sae/pkg/sae"
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "sae"

// Frame type label values.
const (
	frameCommit  = "commit"
	frameConfirm = "confirm"
)

// metrics are the per-station handshake counters. Every series carries a
// "station" label with the local MAC address so several managers can share
// one registry.
type metrics struct {
	completed prometheus.Counter
	rejected  *prometheus.CounterVec
	sent      *prometheus.CounterVec
	received  *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer, local sae.MacAddr) *metrics {
	labels := prometheus.Labels{"station": local.String()}

	m := &metrics{
		completed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Name:        "handshakes_completed_total",
			Help:        "Number of SAE handshakes that derived a PMK.",
			ConstLabels: labels,
		}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Name:        "handshakes_rejected_total",
			Help:        "Number of SAE handshakes aborted, by reason.",
			ConstLabels: labels,
		}, []string{"reason"}),
		sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Name:        "frames_sent_total",
			Help:        "Number of SAE authentication frames sent, by type.",
			ConstLabels: labels,
		}, []string{"type"}),
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Name:        "frames_received_total",
			Help:        "Number of SAE authentication frames received, by type.",
			ConstLabels: labels,
		}, []string{"type"}),
	}

	if reg != nil {
		reg.MustRegister(m.completed, m.rejected, m.sent, m.received)
	}
	return m
}

func frameType(seq uint16) string {
	switch seq {
	case sae.SeqCommit:
		return frameCommit
	case sae.SeqConfirm:
		return frameConfirm
	default:
		return "unknown"
	}
}
