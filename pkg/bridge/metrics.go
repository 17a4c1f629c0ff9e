package bridge

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Drop reasons.
const (
	dropNoLink      = "no_link"
	dropFingerprint = "fingerprint_mismatch"
	dropLinkGone    = "link_gone"
)

// Counters is a snapshot of bridge traffic.
type Counters struct {
	PacketsFromTUN uint64 `json:"packets_from_tun"`
	BytesFromTUN   uint64 `json:"bytes_from_tun"`
	PacketsToTUN   uint64 `json:"packets_to_tun"`
	BytesToTUN     uint64 `json:"bytes_to_tun"`
	Dropped        uint64 `json:"dropped"`
	LinksActivated uint64 `json:"links_activated"`
	LinksClosed    uint64 `json:"links_closed"`
}

// Metrics counts bridge traffic both as Prometheus series and as plain
// counters for the status report.
type Metrics struct {
	packetsFromTUN prometheus.Counter
	bytesFromTUN   prometheus.Counter
	packetsToTUN   prometheus.Counter
	bytesToTUN     prometheus.Counter
	dropped        *prometheus.CounterVec
	linkEvents     *prometheus.CounterVec

	counters struct {
		packetsFromTUN atomic.Uint64
		bytesFromTUN   atomic.Uint64
		packetsToTUN   atomic.Uint64
		bytesToTUN     atomic.Uint64
		dropped        atomic.Uint64
		linksActivated atomic.Uint64
		linksClosed    atomic.Uint64
	}
}

// NewMetrics creates the bridge metrics for role and registers them with
// reg. A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer, role string) *Metrics {
	labels := prometheus.Labels{"role": role}
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "meshtun",
			Subsystem:   "bridge",
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		})
	}

	m := &Metrics{
		packetsFromTUN: counter("tun_read_packets_total", "Packets read from the TUN device."),
		bytesFromTUN:   counter("tun_read_bytes_total", "Bytes read from the TUN device."),
		packetsToTUN:   counter("tun_write_packets_total", "Packets written to the TUN device."),
		bytesToTUN:     counter("tun_write_bytes_total", "Bytes written to the TUN device."),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "meshtun",
			Subsystem:   "bridge",
			Name:        "dropped_packets_total",
			Help:        "Packets dropped by forwarding policy.",
			ConstLabels: labels,
		}, []string{"reason"}),
		linkEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "meshtun",
			Subsystem:   "bridge",
			Name:        "link_events_total",
			Help:        "Link lifecycle events handled by the bridge.",
			ConstLabels: labels,
		}, []string{"kind"}),
	}

	if reg != nil {
		reg.MustRegister(m.packetsFromTUN, m.bytesFromTUN, m.packetsToTUN,
			m.bytesToTUN, m.dropped, m.linkEvents)
	}
	return m
}

func (m *Metrics) fromTUN(n int) {
	m.packetsFromTUN.Inc()
	m.bytesFromTUN.Add(float64(n))
	m.counters.packetsFromTUN.Add(1)
	m.counters.bytesFromTUN.Add(uint64(n))
}

func (m *Metrics) toTUN(n int) {
	m.packetsToTUN.Inc()
	m.bytesToTUN.Add(float64(n))
	m.counters.packetsToTUN.Add(1)
	m.counters.bytesToTUN.Add(uint64(n))
}

func (m *Metrics) drop(reason string) {
	m.dropped.WithLabelValues(reason).Inc()
	m.counters.dropped.Add(1)
}

func (m *Metrics) linkActivated() {
	m.linkEvents.WithLabelValues("activated").Inc()
	m.counters.linksActivated.Add(1)
}

func (m *Metrics) linkClosed() {
	m.linkEvents.WithLabelValues("closed").Inc()
	m.counters.linksClosed.Add(1)
}

// Snapshot returns the current counter values.
func (m *Metrics) Snapshot() Counters {
	return Counters{
		PacketsFromTUN: m.counters.packetsFromTUN.Load(),
		BytesFromTUN:   m.counters.bytesFromTUN.Load(),
		PacketsToTUN:   m.counters.packetsToTUN.Load(),
		BytesToTUN:     m.counters.bytesToTUN.Load(),
		Dropped:        m.counters.dropped.Load(),
		LinksActivated: m.counters.linksActivated.Load(),
		LinksClosed:    m.counters.linksClosed.Load(),
	}
}
