package reliable

import "github.com/glittercutter/udp-network/wire"

// Recorder receives reliability-layer events for instrumentation. A nil
// Recorder is valid everywhere; callers check for nil before invoking it so
// metrics stay entirely optional (network.Metrics is the concrete,
// prometheus-backed implementation; tests typically pass nil).
type Recorder interface {
	PacketSent(kind wire.Kind, reliable bool)
	PacketRetransmitted()
	AckPiggybacked(count int)
	RoundTrip(d int64)
}

func (c *Connection) record(fn func(Recorder)) {
	if c.metrics == nil {
		return
	}
	fn(c.metrics)
}
