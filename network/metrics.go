package network

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/glittercutter/udp-network/wire"
)

// Metrics is the prometheus-backed reliable.Recorder. It implements the
// narrow interface reliable.Connection calls into, and nothing else, so a
// Connection never imports prometheus directly.
type Metrics struct {
	packetsSent          *prometheus.CounterVec
	packetsRetransmitted prometheus.Counter
	acksPiggybacked      prometheus.Counter
	roundTripMillis      prometheus.Histogram
}

// NewMetrics registers a Metrics on reg and returns it. Pass the result to
// WithMetrics; reg is typically prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		packetsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "udpnetwork",
			Name:      "packets_sent_total",
			Help:      "Packets handed to the socket, by wire kind and reliability.",
		}, []string{"kind", "reliable"}),
		packetsRetransmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "udpnetwork",
			Name:      "packets_retransmitted_total",
			Help:      "Reliable packets resent after their ping-based resend timeout elapsed.",
		}),
		acksPiggybacked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "udpnetwork",
			Name:      "acks_piggybacked_total",
			Help:      "Ack ids attached to outgoing datagrams, including ack-only datagrams sent when no other packet was queued.",
		}),
		roundTripMillis: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "udpnetwork",
			Name:      "round_trip_milliseconds",
			Help:      "Measured ping/pong round-trip time per connection.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
	}
	reg.MustRegister(m.packetsSent, m.packetsRetransmitted, m.acksPiggybacked, m.roundTripMillis)
	return m
}

func (m *Metrics) PacketSent(kind wire.Kind, reliable bool) {
	m.packetsSent.WithLabelValues(kind.String(), boolLabel(reliable)).Inc()
}

func (m *Metrics) PacketRetransmitted() { m.packetsRetransmitted.Inc() }

func (m *Metrics) AckPiggybacked(count int) { m.acksPiggybacked.Add(float64(count)) }

func (m *Metrics) RoundTrip(d int64) { m.roundTripMillis.Observe(float64(d)) }

func boolLabel(v bool) string {
	if v {
		return "true"
	}
	return "false"
}
