// Command udpnetdemo is the worked example the library is built around:
// recovered from original_source/src/test/Basic.cpp's scripted exchange —
// a handful of primitive messages followed by a replicated-variable batch,
// then a clean disconnect.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/glittercutter/udp-network/network"
	"github.com/glittercutter/udp-network/replicate"
	"github.com/glittercutter/udp-network/wire"
)

const loopRate = 250 * time.Millisecond

// messageHeader tags the body of a DATA packet in this demo's own
// application-level framing; the library itself is agnostic to payload
// shape.
type messageHeader byte

const (
	headerPrimitive messageHeader = iota
	headerReplicated
)

type replicatedData struct {
	vars *replicate.Container
	a, b replicate.Var[uint32]
}

func newReplicatedData() *replicatedData {
	c := replicate.NewContainer()
	return &replicatedData{
		vars: c,
		a:    replicate.AddUint32(c, 20),
		b:    replicate.AddUint32(c, 24098),
	}
}

func main() {
	var (
		server bool
		port   int
		host   string
	)
	pflag.BoolVar(&server, "server", false, "run as server")
	pflag.IntVar(&port, "port", 0, "UDP port (server: bind port; client: server port, appended to --host when non-zero)")
	pflag.StringVar(&host, "host", "", "server address to connect to (client mode)")
	pflag.Parse()

	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	if !server && host == "" {
		fmt.Fprintln(os.Stderr, "--host is required in client mode")
		pflag.Usage()
		os.Exit(2)
	}

	bindAddr := fmt.Sprintf("0.0.0.0:%d", port)
	if !server {
		bindAddr = "0.0.0.0:0"
	}

	data := newReplicatedData()

	var active *network.Connection

	onRequest := func(c *network.Connection, info string) (bool, string) {
		log.Info().Stringer("peer", c.Endpoint()).Msg("accepting connection request")
		active = c
		return true, ""
	}
	onDisconnect := func(c *network.Connection) {
		log.Info().Stringer("peer", c.Endpoint()).Msg("disconnected")
		if active == c {
			active = nil
		}
	}

	n, err := network.Listen(bindAddr, onRequest, onDisconnect, time.Now(), network.WithLogger(log.Logger))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open socket")
	}
	defer n.Close()

	log.Info().Str("status", n.Status()).Msg("socket ready")

	if server {
		log.Info().Msg("running as server")
	} else {
		log.Info().Msg("running as client")
		addr := host
		if port != 0 {
			addr = fmt.Sprintf("%s:%d", host, port)
		}
		conn, err := n.Connect(addr)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to start connecting")
		}
		active = conn
	}

	connected := false
	sequence := 0

	ticker := time.NewTicker(loopRate)
	defer ticker.Stop()

	for range ticker.C {
		if err := n.Update(time.Now()); err != nil {
			log.Error().Err(err).Msg("update failed")
			continue
		}

		if server {
			receiveMessages(n, data)
			continue
		}

		if active == nil {
			continue
		}

		if !connected {
			if !active.IsConnected() {
				log.Info().Msg("connection status: not connected")
				continue
			}
			connected = true
			log.Info().Msg("connection status: connected")
		}

		if sendScriptedMessage(n, active, data, &sequence) {
			// Disconnect only queues CM_DISCONNECT; one more tick sends it.
			if err := n.Update(time.Now()); err != nil {
				log.Error().Err(err).Msg("update failed")
			}
			return
		}
	}
}

// sendScriptedMessage reproduces Basic.cpp's sendMessage: five primitive
// messages, then ten replicated-delta emissions (including the redundant
// same-value set at reliable_count-3), then a disconnect. Returns true once
// the disconnect has been issued.
func sendScriptedMessage(n *network.Network, c *network.Connection, data *replicatedData, sequence *int) bool {
	const primitiveCount = 5
	const reliableCount = 15

	switch {
	case *sequence < primitiveCount:
		buf := c.Send(true)
		buf.SetType(wire.KindData)
		_ = buf.WriteU8(byte(headerPrimitive))
		_ = buf.WriteBool(true)
		_ = buf.WriteBool(false)
		_ = buf.WriteString("testing, testing")
		_ = buf.WriteU32(2457544)
		_ = buf.WriteF32(2334.53344)

	case *sequence < reliableCount:
		switch *sequence {
		case reliableCount - 4:
			data.a.Set(10)
		case reliableCount - 3:
			data.a.Set(10) // same value: no-op, per spec §4.5 / S6
		case reliableCount - 2:
			data.a.Set(11)
		}

		buf := c.Send(true)
		buf.SetType(wire.KindData)
		_ = buf.WriteU8(byte(headerReplicated))
		if err := data.vars.Send(buf); err != nil {
			log.Error().Err(err).Msg("failed to encode replicated batch")
		}

	default:
		n.Disconnect(c)
		return true
	}

	*sequence++
	return false
}

func receiveMessages(n *network.Network, data *replicatedData) {
	for _, c := range n.Connections() {
		for _, buf := range c.ReceivedBuffers() {
			header, err := buf.ReadU8()
			if err != nil {
				log.Warn().Err(err).Msg("malformed message")
				continue
			}

			switch messageHeader(header) {
			case headerPrimitive:
				b1, _ := buf.ReadBool()
				b2, _ := buf.ReadBool()
				s, _ := buf.ReadString()
				i, _ := buf.ReadU32()
				f, _ := buf.ReadF32()
				log.Info().Bool("bool1", b1).Bool("bool2", b2).Str("string1", s).
					Uint32("int1", i).Float32("float1", f).Msg("received primitive message")

			case headerReplicated:
				if err := data.vars.Receive(buf); err != nil {
					log.Warn().Err(err).Msg("failed to decode replicated batch")
					continue
				}
				log.Info().Uint32("a", data.a.Get()).Uint32("b", data.b.Get()).Msg("received replicated batch")
			}
		}
	}
}
