package wire_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/glittercutter/udp-network/wire"
)

func TestIDOrderingWraparound(t *testing.T) {
	require.True(t, wire.After(5, 3))
	require.False(t, wire.After(3, 5))
	require.True(t, wire.AfterOrEqual(5, 5))

	// Wraparound: 2 is "after" 65534 in sequence-number space.
	require.True(t, wire.After(2, 65534))
	require.False(t, wire.After(65534, 2))
}

func TestKindAndSubCodeStrings(t *testing.T) {
	require.Equal(t, "DATA", wire.KindData.String())
	require.Equal(t, "REQUEST", wire.SubCodeRequest.String())
}
