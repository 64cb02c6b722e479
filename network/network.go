// Package network owns the UDP socket, the connection table, and the
// handshake/liveness state machine sitting on top of package reliable. It is
// the Go counterpart of original_source/src/udpnetwork_Network.{h,cpp}: one
// socket, one cooperative Update tick, no goroutine per connection.
package network

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/glittercutter/udp-network/reliable"
	"github.com/glittercutter/udp-network/wire"
)

// ErrSocketError wraps a non-timeout error surfaced while draining the
// socket during Update.
var ErrSocketError = errors.New("network: socket error")

// ErrResolveFailure wraps a failure resolving a peer address in Connect.
var ErrResolveFailure = errors.New("network: resolve failure")

// ErrUnknownPacketType is logged, not returned, when a datagram's type byte
// doesn't match any wire.Kind; Update keeps draining the socket regardless.
var ErrUnknownPacketType = errors.New("network: unknown packet type")

// ConnectionRequestHandler decides whether to accept an inbound handshake
// request. Returning accept=false rejects the peer with refuseInfo attached
// to the CM_REFUSE packet.
type ConnectionRequestHandler func(c *Connection, info string) (accept bool, refuseInfo string)

// DisconnectionHandler is invoked once, synchronously, right before a
// connection's bookkeeping is torn down, regardless of whether the peer or
// this side initiated the disconnect.
type DisconnectionHandler func(c *Connection)

// Connection is package reliable's Connection, re-exported so callers never
// need to import package reliable directly.
type Connection = reliable.Connection

type addressedPacket struct {
	endpoint net.Addr
	buf      *wire.Buffer
}

// Network is a single UDP socket plus every connection handshaking or
// established over it. Not safe for concurrent use; Update and the public
// API are meant to be driven from one goroutine, matching the teacher's and
// the original's single-threaded cooperative model.
type Network struct {
	cfg  Config
	log  zerolog.Logger
	pool *bufferPool

	conn *net.UDPConn

	connections map[string]*Connection
	addressed   []addressedPacket

	onRequest    ConnectionRequestHandler
	onDisconnect DisconnectionHandler

	inUpdate bool
	deferred []func()

	now int64
}

// Listen opens a UDP socket on addr ("host:port", port 0 picks an ephemeral
// port) and returns a ready-to-use Network. now seeds every liveness
// timestamp, mirroring the original constructor's currentTime parameter.
func Listen(addr string, onRequest ConnectionRequestHandler, onDisconnect DisconnectionHandler, now time.Time, opts ...Option) (*Network, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResolveFailure, err)
	}

	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, err
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt.apply(&cfg)
	}

	if err := tuneSocketBuffers(conn, cfg.readSocketBufferSize, cfg.writeSocketBufferSize); err != nil {
		cfg.log.Warn().Err(err).Msg("failed to tune socket buffers, continuing with OS defaults")
	}

	n := &Network{
		cfg:          cfg,
		log:          cfg.log,
		pool:         &bufferPool{},
		conn:         conn,
		connections:  make(map[string]*Connection),
		onRequest:    onRequest,
		onDisconnect: onDisconnect,
		now:          now.UnixMilli(),
	}
	return n, nil
}

// Close releases the bound socket. Any connection still tracked is left as
// is; call Disconnect on each first if a clean teardown is wanted.
func (n *Network) Close() error {
	return n.conn.Close()
}

// LocalAddr returns the socket's bound local address.
func (n *Network) LocalAddr() net.Addr { return n.conn.LocalAddr() }

// Connect begins a handshake with a new peer at address ("host:port"),
// returning the pending Connection immediately; it transitions to
// StateEstablished once CM_ACCEPT arrives on a later Update.
func (n *Network) Connect(address string) (*Connection, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResolveFailure, err)
	}

	c := n.createConnection(udpAddr)
	n.requestConnection(c)
	return c, nil
}

// Disconnect tears a connection down, notifying onDisconnect and sending a
// best-effort CM_DISCONNECT to the peer. Safe to call from within an
// onRequest/onDisconnect callback invoked during Update: the actual teardown
// is deferred until the tick finishes, the way
// udpnetwork_Network.cpp::destroyConnection queues itself when
// bUpdateInProgress is set.
func (n *Network) Disconnect(c *Connection) {
	n.destroyConnection(c, "")
}

// GetConnection looks up the tracked connection for endpoint, if any.
func (n *Network) GetConnection(endpoint net.Addr) (*Connection, bool) {
	c, ok := n.connections[endpoint.String()]
	return c, ok
}

// Connections returns every connection currently tracked, established or
// still pending handshake.
func (n *Network) Connections() []*Connection {
	out := make([]*Connection, 0, len(n.connections))
	for _, c := range n.connections {
		out = append(out, c)
	}
	return out
}

// Update runs one tick: schedules and flushes every connection's outgoing
// traffic, flushes addressed (connectionless) packets, drains the socket
// and dispatches inbound datagrams, then runs any destruction deferred
// during this same tick. Phase order matches
// udpnetwork_Network.cpp::update exactly (spec §4.4).
//
// Per spec §7, per-packet failures (a single send or receive going wrong)
// are logged and absorbed here, never returned: one unreachable peer or one
// stray socket error must not stop every other connection's traffic for
// the tick. Update only returns an error for something that makes the
// whole socket unusable going forward.
func (n *Network) Update(now time.Time) error {
	n.inUpdate = true
	n.now = now.UnixMilli()

	for _, c := range n.connections {
		if n.scheduleConnection(c) {
			continue // destruction deferred to end of tick; nothing left to send
		}
		endpoint := c.Endpoint()
		if err := c.Flush(n.now, func(buf *wire.Buffer) error { return n.transmit(buf, endpoint) }); err != nil {
			n.log.Warn().Err(err).Stringer("peer", endpoint).Msg("flush failed for connection")
		}
	}

	for _, p := range n.addressed {
		if err := p.buf.Finalize(); err != nil {
			n.log.Warn().Err(err).Stringer("to", p.endpoint).Msg("dropping addressed packet: ack trailer overflowed")
			n.pool.ReleaseBuffer(p.buf)
			continue
		}
		if _, err := n.conn.WriteTo(p.buf.Bytes(), p.endpoint); err != nil {
			n.log.Debug().Err(err).Stringer("to", p.endpoint).Msg("addressed packet send failed, dropping")
		}
		n.pool.ReleaseBuffer(p.buf)
	}
	n.addressed = n.addressed[:0]

	if err := n.drainSocket(); err != nil {
		n.inUpdate = false
		return err
	}

	n.inUpdate = false
	n.runDeferred()
	return nil
}

// scheduleConnection applies the per-tick liveness rules: retry an
// unacknowledged handshake request, destroy a connection that's gone fully
// silent, or ping one that's merely quiet (spec §4.3). Reports whether c's
// destruction was (deferred-)scheduled, in which case its send phase this
// tick is skipped.
func (n *Network) scheduleConnection(c *Connection) bool {
	switch {
	case !c.IsConnected() && c.LastSent()+n.cfg.connectionRequestRetryDelay.Milliseconds() <= n.now:
		n.requestConnection(c)
	case c.LastHeartbeat()+n.cfg.connectionTimeout.Milliseconds() <= n.now:
		n.destroyConnection(c, "connection timeout")
		return true
	case c.LastHeartbeat()+n.cfg.responseTimeout.Milliseconds() <= n.now &&
		c.LastPingSent()+n.cfg.pingRetryDelay.Milliseconds() <= n.now:
		n.sendPing(c)
	}
	return false
}

func (n *Network) transmit(buf *wire.Buffer, endpoint net.Addr) error {
	_, err := n.conn.WriteTo(buf.Bytes(), endpoint)
	return err
}

// maxConsecutiveReadErrors bounds how many non-timeout read failures
// drainSocket absorbs in a row before giving up and surfacing a fatal
// error. A handful of these are routine — e.g. ECONNREFUSED surfacing from
// an earlier send to a peer whose socket is now closed, one per queued ICMP
// error — and must not abort the tick; a socket that never produces
// anything but errors is a different, genuinely fatal problem.
const maxConsecutiveReadErrors = 64

// drainReadWait is how far ahead of now each drain read's deadline is set. A
// deadline that has already passed fails the read before the socket is
// looked at, so every read gets this short window instead.
const drainReadWait = time.Millisecond

func (n *Network) drainSocket() error {
	consecutiveErrors := 0
	for {
		if err := n.conn.SetReadDeadline(time.Now().Add(drainReadWait)); err != nil {
			return fmt.Errorf("%w: %v", ErrSocketError, err)
		}
		buf := n.pool.AcquireBuffer()
		read, addr, err := n.conn.ReadFromUDP(buf.Raw())
		if err != nil {
			n.pool.ReleaseBuffer(buf)
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return nil
			}
			consecutiveErrors++
			if consecutiveErrors > maxConsecutiveReadErrors {
				return fmt.Errorf("%w: %v", ErrSocketError, err)
			}
			n.log.Debug().Err(err).Msg("dropping failed socket read")
			continue
		}
		consecutiveErrors = 0
		buf.SetSize(uint16(read))
		n.dispatch(buf, addr)
	}
}

func (n *Network) dispatch(buf *wire.Buffer, endpoint net.Addr) {
	c, known := n.GetConnection(endpoint)
	if known && buf.HasAck() {
		for i := uint8(0); i < buf.AckCount(); i++ {
			c.Ack(buf.Ack(i))
		}
	}

	switch buf.Type() {
	case wire.KindPing:
		// Unlike PONG and DATA, a PING does not itself refresh the
		// heartbeat (udpnetwork_Connection.cpp::handlePing leaves
		// mHeartbeat untouched; only the PONG reply does).
		if known {
			c.Send(false).SetType(wire.KindPong)
		}
		n.pool.ReleaseBuffer(buf)
	case wire.KindPong:
		if known {
			c.OnPong(n.now)
		}
		n.pool.ReleaseBuffer(buf)
	case wire.KindConnection:
		n.handleConnection(buf, endpoint)
	case wire.KindData:
		if known {
			c.Touch(n.now)
			c.Receive(buf, n.now)
		} else {
			n.pool.ReleaseBuffer(buf)
		}
	default:
		n.log.Debug().Err(ErrUnknownPacketType).Stringer("from", endpoint).Msg("dropping datagram of unknown kind")
		n.pool.ReleaseBuffer(buf)
	}
}

// handleConnection dispatches one CONNECTION-kind datagram by its sub-code
// (spec §4.3), mirroring udpnetwork_Network.cpp::handleConnection.
func (n *Network) handleConnection(buf *wire.Buffer, endpoint net.Addr) {
	sub, err := buf.ReadU8()
	defer n.pool.ReleaseBuffer(buf)
	if err != nil {
		n.log.Debug().Err(err).Msg("malformed connection packet")
		return
	}

	switch wire.SubCode(sub) {
	case wire.SubCodeRequest:
		// The request carries no payload (requestConnection writes only the
		// sub-code byte); info is always empty, same as
		// udpnetwork_Network.cpp's unused-looking local.
		c := n.createConnection(endpoint)
		accept, refuseInfo := true, ""
		if n.onRequest != nil {
			accept, refuseInfo = n.onRequest(c, "")
		}
		if !accept {
			n.destroyConnection(c, refuseInfo)
			n.refuseConnection(endpoint, refuseInfo)
		} else {
			n.acceptConnection(c)
		}

	case wire.SubCodeAccept:
		if c, ok := n.GetConnection(endpoint); ok {
			c.SetState(reliable.StateEstablished)
		}

	case wire.SubCodeRefuse, wire.SubCodeDisconnect:
		info, _ := buf.ReadString()
		if c, ok := n.GetConnection(endpoint); ok {
			n.log.Debug().Stringer("peer", endpoint).Str("info", info).Msg("peer closed connection")
			n.destroyConnection(c, "")
		}
	}
}

func (n *Network) createConnection(endpoint net.Addr) *Connection {
	if c, ok := n.GetConnection(endpoint); ok {
		return c
	}
	c := reliable.New(n.pool, endpoint, n.now, n.log, n.cfg.metrics)
	n.connections[endpoint.String()] = c
	return c
}

// destroyConnection tears c down immediately, or queues itself for after
// the current tick if called mid-Update, matching
// udpnetwork_Network.cpp's bUpdateInProgress-gated queued job.
func (n *Network) destroyConnection(c *Connection, info string) {
	if n.inUpdate {
		n.deferred = append(n.deferred, func() { n.destroyConnection(c, info) })
		return
	}

	if n.onDisconnect != nil {
		n.onDisconnect(c)
	}

	buf := n.send(c.Endpoint())
	buf.SetType(wire.KindConnection)
	buf.WriteU8(byte(wire.SubCodeDisconnect))
	buf.WriteString(info)

	delete(n.connections, c.Endpoint().String())
	c.Close()
}

func (n *Network) acceptConnection(c *Connection) {
	buf := c.Send(false)
	buf.SetType(wire.KindConnection)
	buf.WriteU8(byte(wire.SubCodeAccept))
	c.SetState(reliable.StateEstablished)
}

func (n *Network) refuseConnection(endpoint net.Addr, info string) {
	buf := n.send(endpoint)
	buf.SetType(wire.KindConnection)
	buf.WriteU8(byte(wire.SubCodeRefuse))
	buf.WriteString(info)
}

func (n *Network) requestConnection(c *Connection) {
	buf := c.Send(false)
	buf.SetType(wire.KindConnection)
	buf.WriteU8(byte(wire.SubCodeRequest))
}

func (n *Network) sendPing(c *Connection) {
	c.MarkPinged(n.now)
	c.Send(false).SetType(wire.KindPing)
}

// send queues a connectionless datagram to endpoint, flushed during the
// next addressed-packet phase of Update. Used for handshake replies sent
// before a Connection exists (CM_REFUSE) or after one's been torn down
// (CM_DISCONNECT).
func (n *Network) send(endpoint net.Addr) *wire.Buffer {
	buf := n.pool.AcquireBuffer()
	n.addressed = append(n.addressed, addressedPacket{endpoint: endpoint, buf: buf})
	return buf
}

func (n *Network) runDeferred() {
	jobs := n.deferred
	n.deferred = nil
	for _, job := range jobs {
		job()
	}
}
