package network_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/glittercutter/udp-network/network"
)

func acceptAll(c *network.Connection, info string) (bool, string) { return true, "" }

func tick(t *testing.T, n *network.Network, now time.Time) {
	t.Helper()
	require.NoError(t, n.Update(now))
}

func TestHandshakeEstablishesOverLoopback(t *testing.T) {
	now := time.Unix(0, 0)

	var serverSawConnect bool
	server, err := network.Listen("127.0.0.1:0", func(c *network.Connection, info string) (bool, string) {
		serverSawConnect = true
		return true, ""
	}, nil, now)
	require.NoError(t, err)
	defer server.Close()

	client, err := network.Listen("127.0.0.1:0", acceptAll, nil, now)
	require.NoError(t, err)
	defer client.Close()

	conn, err := client.Connect(server.LocalAddr().String())
	require.NoError(t, err)
	require.False(t, conn.IsConnected())

	// Drive both sides' ticks until the handshake completes, or time out.
	for i := 0; i < 20 && !conn.IsConnected(); i++ {
		now = now.Add(10 * time.Millisecond)
		tick(t, client, now)
		tick(t, server, now)
	}

	require.True(t, conn.IsConnected())
	require.True(t, serverSawConnect)

	// The server's view of this peer is keyed by the endpoint it actually
	// observed packets arrive from: the client's own bound address.
	serverConn, ok := server.GetConnection(client.LocalAddr())
	require.True(t, ok)
	require.True(t, serverConn.IsConnected())
}

func TestReliableDataDeliveredAcrossLoopback(t *testing.T) {
	now := time.Unix(0, 0)

	server, err := network.Listen("127.0.0.1:0", acceptAll, nil, now)
	require.NoError(t, err)
	defer server.Close()

	client, err := network.Listen("127.0.0.1:0", acceptAll, nil, now)
	require.NoError(t, err)
	defer client.Close()

	conn, err := client.Connect(server.LocalAddr().String())
	require.NoError(t, err)

	for i := 0; i < 20 && !conn.IsConnected(); i++ {
		now = now.Add(10 * time.Millisecond)
		tick(t, client, now)
		tick(t, server, now)
	}
	require.True(t, conn.IsConnected())

	buf := conn.Send(true)
	require.NoError(t, buf.WriteString("hello"))

	var received string
	for i := 0; i < 20 && received == ""; i++ {
		now = now.Add(10 * time.Millisecond)
		tick(t, client, now)
		tick(t, server, now)

		for _, sc := range server.Connections() {
			for _, b := range sc.ReceivedBuffers() {
				s, err := b.ReadString()
				require.NoError(t, err)
				received = s
			}
		}
	}

	require.Equal(t, "hello", received)
}

func TestStatusAndIsUp(t *testing.T) {
	now := time.Unix(0, 0)
	n, err := network.Listen("127.0.0.1:0", acceptAll, nil, now)
	require.NoError(t, err)
	defer n.Close()

	require.True(t, n.IsUp())
	require.Contains(t, n.Status(), "socket opened on address")
}
