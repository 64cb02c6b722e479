// Package reliable implements the per-connection reliability state machine:
// outgoing reliable/unreliable queues, the incoming reorder buffer, ack
// piggybacking, and retransmission. It is adapted from the teacher's
// ring-buffer-and-ack-bitset Conn (AhmadMuzakkir-reliable/conn.go),
// generalized to the explicit queue + reorder-map shape spec.md describes
// and cross-checked against original_source/src/udpnetwork_Connection.cpp.
package reliable

import (
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/glittercutter/udp-network/wire"
)

// State is a connection's position in the handshake lifecycle (spec §4.3).
type State uint8

const (
	StatePending State = iota
	StateEstablished
)

func (s State) String() string {
	if s == StateEstablished {
		return "ESTABLISHED"
	}
	return "PENDING"
}

// Host is the back-handle a Connection uses to reach its owning network,
// standing in for the raw Network* the original C++ kept (spec §9's
// "re-architecting cyclic pointer graph" note): a narrow interface instead
// of a pointer back into Network avoids a direct dependency cycle between
// the two packages.
type Host interface {
	AcquireBuffer() *wire.Buffer
	ReleaseBuffer(b *wire.Buffer)
}

type reliableEntry struct {
	id       wire.ID
	buf      *wire.Buffer
	sentOnce bool
	lastSent int64
}

// Connection tracks one peer's reliability state: queues, ids, reorder
// cache, acks, and liveness timestamps (spec §3 "Connection state").
type Connection struct {
	host     Host
	endpoint net.Addr
	id       uuid.UUID
	log      zerolog.Logger
	metrics  Recorder

	state State

	nextReliableID   wire.ID
	nextUnreliableID wire.ID
	lastDeliveredID  wire.ID

	outReliable   []*reliableEntry
	outUnreliable []*wire.Buffer

	reorder   map[wire.ID]*wire.Buffer
	delivered []*wire.Buffer

	pendingAcks []wire.ID

	ping          time.Duration
	lastSent      int64
	lastPingSent  int64
	lastHeartbeat int64

	userData any
}

// New creates a Connection in StatePending, with every liveness timestamp
// seeded to now the way udpnetwork_Connection.cpp's constructor does.
func New(host Host, endpoint net.Addr, now int64, log zerolog.Logger, metrics Recorder) *Connection {
	return &Connection{
		host:          host,
		endpoint:      endpoint,
		id:            uuid.New(),
		log:           log,
		metrics:       metrics,
		state:         StatePending,
		reorder:       make(map[wire.ID]*wire.Buffer),
		lastSent:      now,
		lastPingSent:  now,
		lastHeartbeat: now,
	}
}

func (c *Connection) ID() uuid.UUID           { return c.id }
func (c *Connection) Endpoint() net.Addr      { return c.endpoint }
func (c *Connection) State() State            { return c.state }
func (c *Connection) SetState(s State)        { c.state = s }
func (c *Connection) IsConnected() bool       { return c.state == StateEstablished }
func (c *Connection) Ping() time.Duration     { return c.ping }
func (c *Connection) SetPing(d time.Duration) { c.ping = d }

func (c *Connection) UserData() any     { return c.userData }
func (c *Connection) SetUserData(v any) { c.userData = v }

func (c *Connection) LastSent() int64      { return c.lastSent }
func (c *Connection) LastHeartbeat() int64 { return c.lastHeartbeat }
func (c *Connection) LastPingSent() int64  { return c.lastPingSent }
func (c *Connection) Touch(now int64)      { c.lastHeartbeat = now }
func (c *Connection) MarkPinged(now int64) { c.lastPingSent = now }

// OnPong updates liveness and records the round-trip time measured against
// the last ping this side sent: every inbound PONG is a reply to one of our
// PINGs (handlePing never originates one unprompted), so lastPingSent
// always marks the ping being answered.
func (c *Connection) OnPong(now int64) {
	c.Touch(now)
	rtt := now - c.lastPingSent
	c.ping = time.Duration(rtt) * time.Millisecond
	c.record(func(r Recorder) { r.RoundTrip(rtt) })
}

func (c *Connection) String() string {
	return c.endpoint.String() + " [" + c.state.String() + "]"
}

// Send returns a fresh, writable DATA buffer queued for the next Flush.
// Per spec §9's "duplicate send" redesign flag, this never coalesces with a
// prior unsent buffer: every call, reliable or not, appends a brand new
// queue entry and a brand new id. The caller writes its payload directly
// into the returned buffer.
func (c *Connection) Send(reliable bool) *wire.Buffer {
	buf := c.host.AcquireBuffer()
	buf.SetType(wire.KindData)
	buf.SetReliable(reliable)

	if reliable {
		c.nextReliableID++
		buf.SetID(c.nextReliableID)
		c.outReliable = append(c.outReliable, &reliableEntry{id: c.nextReliableID, buf: buf})
	} else {
		c.nextUnreliableID++
		buf.SetID(c.nextUnreliableID)
		c.outUnreliable = append(c.outUnreliable, buf)
	}
	return buf
}

// QueueAck records id for piggybacking on the next outbound datagram.
func (c *Connection) QueueAck(id wire.ID) {
	c.pendingAcks = append(c.pendingAcks, id)
}

// Ack removes the reliable queue entry matching id, if any, releasing its
// buffer back to the pool. O(n) scan: queue depth is bounded by RTT * rate
// (spec §4.2).
func (c *Connection) Ack(id wire.ID) {
	for i, e := range c.outReliable {
		if e.id == id {
			c.host.ReleaseBuffer(e.buf)
			c.outReliable = append(c.outReliable[:i], c.outReliable[i+1:]...)
			c.log.Debug().Stringer("peer", c.endpoint).Uint16("id", uint16(id)).Msg("reliable packet acked")
			return
		}
	}
}

// Receive applies the receive-path rules of spec §4.2 to one inbound DATA
// buffer, taking ownership of it. Unlike the original, which only acks a
// reliable packet when it becomes deliverable, every valid reliable arrival
// is acked immediately — including late duplicates (needed for S4: a lost
// ack must be repaired by the next duplicate arrival) and early,
// not-yet-deliverable ones (spec §9's reorder-ack redesign flag).
func (c *Connection) Receive(buf *wire.Buffer, now int64) {
	if !buf.Reliable() {
		c.delivered = append(c.delivered, buf)
		return
	}

	id := buf.ID()
	switch {
	case wire.AfterOrEqual(c.lastDeliveredID, id):
		// Late or duplicate: already delivered. Re-ack in case the
		// original ack was lost, then drop.
		c.log.Debug().Uint16("id", uint16(id)).Msg("duplicate reliable packet, re-acking")
		c.QueueAck(id)
		c.host.ReleaseBuffer(buf)
	case id == c.lastDeliveredID+1:
		c.QueueAck(id)
		c.lastDeliveredID = id
		c.delivered = append(c.delivered, buf)
		c.drainReorder()
	default:
		// Early: ack it now (redesign fix) but hold it until its
		// predecessors arrive.
		c.log.Debug().Uint16("id", uint16(id)).Uint16("expected", uint16(c.lastDeliveredID+1)).Msg("early reliable packet, buffering")
		c.QueueAck(id)
		c.reorder[id] = buf
	}
}

func (c *Connection) drainReorder() {
	for {
		next := c.lastDeliveredID + 1
		buf, ok := c.reorder[next]
		if !ok {
			return
		}
		delete(c.reorder, next)
		c.lastDeliveredID = next
		c.delivered = append(c.delivered, buf)
	}
}

// ReceivedBuffers returns the buffers delivered to the application since
// the last Flush. The slice and its contents remain valid until the next
// Flush call, which recycles them (spec §4.4's "must be read inside the
// tick" contract).
func (c *Connection) ReceivedBuffers() []*wire.Buffer { return c.delivered }

// Flush performs one tick's worth of outbound work for this connection:
// attach pending acks (spec §4.2 piggyback policy), send queued unreliable
// packets once, (re)send due reliable packets, then recycle the previous
// tick's delivered buffers and this tick's spent unreliable queue.
//
// Per-datagram failures — a finalize that overflows the ack trailer, a
// transient send error from the socket — are logged and absorbed here
// rather than returned: one bad packet must never stop the rest of this
// connection's queue, let alone abort a whole network tick (spec §7).
// Flush always returns nil; the error return is kept for a genuinely fatal
// fault a future Host implementation might surface.
func (c *Connection) Flush(now int64, xmit func(*wire.Buffer) error) error {
	c.piggybackAcks()

	if len(c.outReliable) > 0 || len(c.outUnreliable) > 0 {
		c.lastSent = now
	}

	for _, buf := range c.outUnreliable {
		if err := buf.Finalize(); err != nil {
			c.log.Warn().Err(err).Msg("dropping unreliable packet: ack trailer overflowed")
			continue
		}
		if err := xmit(buf); err != nil {
			c.log.Debug().Err(err).Msg("unreliable send failed, dropping")
			continue
		}
		c.record(func(r Recorder) { r.PacketSent(buf.Type(), false) })
	}

	for _, e := range c.outReliable {
		if !e.sentOnce || now-e.lastSent >= c.ping.Milliseconds() {
			if e.sentOnce {
				c.log.Debug().Uint16("id", uint16(e.id)).Msg("retransmitting reliable packet")
				c.record(func(r Recorder) { r.PacketRetransmitted() })
			}
			if err := e.buf.Finalize(); err != nil {
				c.log.Warn().Err(err).Uint16("id", uint16(e.id)).Msg("failed to finalize reliable packet, will retry next tick")
				continue
			}
			if err := xmit(e.buf); err != nil {
				// UDP gives no delivery guarantee anyway: treat this the
				// same as a silently dropped datagram and let the resend
				// timeout drive the next attempt.
				c.log.Debug().Err(err).Uint16("id", uint16(e.id)).Msg("reliable send failed, will retry via resend timeout")
			}
			c.record(func(r Recorder) { r.PacketSent(e.buf.Type(), true) })
			e.lastSent = now
			e.sentOnce = true
		}
	}

	c.recycle()
	return nil
}

func (c *Connection) piggybackAcks() {
	if len(c.pendingAcks) == 0 {
		return
	}
	c.record(func(r Recorder) { r.AckPiggybacked(len(c.pendingAcks)) })

	switch {
	case len(c.outUnreliable) > 0:
		tail := c.outUnreliable[len(c.outUnreliable)-1]
		for _, id := range c.pendingAcks {
			tail.AddAck(id)
		}
	case len(c.outReliable) > 0:
		tail := c.outReliable[len(c.outReliable)-1].buf
		for _, id := range c.pendingAcks {
			tail.AddAck(id)
		}
	default:
		buf := c.Send(false)
		for _, id := range c.pendingAcks {
			buf.AddAck(id)
		}
	}
	c.pendingAcks = c.pendingAcks[:0]
}

func (c *Connection) recycle() {
	for _, buf := range c.delivered {
		c.host.ReleaseBuffer(buf)
	}
	c.delivered = c.delivered[:0]

	for _, buf := range c.outUnreliable {
		c.host.ReleaseBuffer(buf)
	}
	c.outUnreliable = c.outUnreliable[:0]
}

// Close releases every buffer this connection still owns: queued reliable
// packets, anything delivered but unread, and anything awaiting reorder.
// Called once, when the network destroys the connection.
func (c *Connection) Close() {
	for _, e := range c.outReliable {
		c.host.ReleaseBuffer(e.buf)
	}
	c.outReliable = nil
	for _, buf := range c.delivered {
		c.host.ReleaseBuffer(buf)
	}
	c.delivered = nil
	for _, buf := range c.reorder {
		c.host.ReleaseBuffer(buf)
	}
	c.reorder = nil
}
