// Package metrics instruments the TCP core per the specification's
// PacketDropped error kind, which is "silent; not a user-visible error,
// observable only via counters (implementers are expected to add
// telemetry here)". It also counts resets and retransmits and tracks a
// gauge of slots in use, all via prometheus/client_golang, and logs
// notable transitions through logrus when a logger is supplied.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
)

// Metrics is the set of counters a running stack reports. The zero value
// is not usable; construct with New.
type Metrics struct {
	PacketsDropped prometheus.Counter
	Resets         prometheus.Counter
	Retransmits    prometheus.Counter
	SlotsInUse     prometheus.Gauge

	log *logrus.Entry
}

// New registers a fresh set of counters on reg (pass
// prometheus.NewRegistry() for an isolated registry in tests, or
// prometheus.DefaultRegisterer in production). log may be nil, in which
// case Metrics logs nothing.
func New(reg prometheus.Registerer, log *logrus.Entry) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		PacketsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "tcp_packets_dropped_total",
			Help: "Segments silently dropped by the TCP core.",
		}),
		Resets: factory.NewCounter(prometheus.CounterOpts{
			Name: "tcp_resets_total",
			Help: "Connections torn down by an RST, remote or self-initiated.",
		}),
		Retransmits: factory.NewCounter(prometheus.CounterOpts{
			Name: "tcp_retransmits_total",
			Help: "Segments retransmitted, by fast retransmit or RTO.",
		}),
		SlotsInUse: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tcp_slots_in_use",
			Help: "Connection slots currently allocated.",
		}),
		log: log,
	}
}

// Dropped records a silently dropped segment.
func (m *Metrics) Dropped(reason string) {
	m.PacketsDropped.Inc()
	if m.log != nil {
		m.log.WithField("reason", reason).Debug("dropped segment")
	}
}

// Reset records a connection teardown by RST.
func (m *Metrics) Reset(fourTuple string) {
	m.Resets.Inc()
	if m.log != nil {
		m.log.WithField("tuple", fourTuple).Warn("connection reset")
	}
}

// Retransmit records a retransmitted segment.
func (m *Metrics) Retransmit(kind string) {
	m.Retransmits.Inc()
	if m.log != nil {
		m.log.WithField("kind", kind).Debug("retransmit")
	}
}

// SlotOpened/SlotClosed track the in-use gauge as slots are allocated and
// reclaimed.
func (m *Metrics) SlotOpened() { m.SlotsInUse.Inc() }
func (m *Metrics) SlotClosed() { m.SlotsInUse.Dec() }
