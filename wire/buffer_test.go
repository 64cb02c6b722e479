package wire_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/glittercutter/udp-network/wire"
)

func TestBufferRoundTripPrimitives(t *testing.T) {
	w := wire.NewBuffer()
	w.SetType(wire.KindData)
	w.SetReliable(true)
	w.SetID(42)

	require.NoError(t, w.WriteBool(true))
	require.NoError(t, w.WriteBool(false))
	require.NoError(t, w.WriteU8(0xAB))
	require.NoError(t, w.WriteU16(0xBEEF))
	require.NoError(t, w.WriteU32(0xDEADBEEF))
	require.NoError(t, w.WriteF32(3.5))
	require.NoError(t, w.WriteString("testing, testing"))
	require.NoError(t, w.WriteBool(true))
	require.NoError(t, w.Finalize())

	r := wire.NewBuffer()
	r.SetSize(w.Size())
	copy(r.Raw(), w.Bytes())

	require.Equal(t, wire.KindData, r.Type())
	require.True(t, r.Reliable())
	require.Equal(t, wire.ID(42), r.ID())

	b1, err := r.ReadBool()
	require.NoError(t, err)
	require.True(t, b1)

	b2, err := r.ReadBool()
	require.NoError(t, err)
	require.False(t, b2)

	u8, err := r.ReadU8()
	require.NoError(t, err)
	require.EqualValues(t, 0xAB, u8)

	u16, err := r.ReadU16()
	require.NoError(t, err)
	require.EqualValues(t, 0xBEEF, u16)

	u32, err := r.ReadU32()
	require.NoError(t, err)
	require.EqualValues(t, 0xDEADBEEF, u32)

	f32, err := r.ReadF32()
	require.NoError(t, err)
	require.InDelta(t, 3.5, f32, 0.0001)

	s, err := r.ReadString()
	require.NoError(t, err)
	require.Equal(t, "testing, testing", s)

	b3, err := r.ReadBool()
	require.NoError(t, err)
	require.True(t, b3)
}

func TestBufferBoolPackingSpansMultipleBytes(t *testing.T) {
	w := wire.NewBuffer()
	bits := []bool{true, false, true, true, false, false, true, false, true, true}
	for _, b := range bits {
		require.NoError(t, w.WriteBool(b))
	}

	r := wire.NewBuffer()
	r.SetSize(w.Size())
	copy(r.Raw(), w.Bytes())

	for i, want := range bits {
		got, err := r.ReadBool()
		require.NoError(t, err)
		require.Equalf(t, want, got, "bit %d", i)
	}
}

func TestBufferAckTrailerAndPerIndexRead(t *testing.T) {
	w := wire.NewBuffer()
	require.NoError(t, w.WriteU8(1))
	require.NoError(t, w.AddAck(7))
	require.NoError(t, w.AddAck(9))
	require.NoError(t, w.AddAck(12))
	require.NoError(t, w.Finalize())

	require.True(t, w.HasAck())
	require.EqualValues(t, 3, w.AckCount())
	require.Equal(t, wire.ID(7), w.Ack(0))
	require.Equal(t, wire.ID(9), w.Ack(1))
	require.Equal(t, wire.ID(12), w.Ack(2))
}

func TestBufferFinalizeNoAcksLeavesFlagClear(t *testing.T) {
	w := wire.NewBuffer()
	require.NoError(t, w.WriteU8(1))
	require.NoError(t, w.Finalize())
	require.False(t, w.HasAck())
	require.EqualValues(t, 0, w.AckCount())
}

func TestBufferOverflow(t *testing.T) {
	w := wire.NewBuffer()
	var err error
	for i := 0; i < wire.Capacity; i++ {
		if err = w.WriteU8(byte(i)); err != nil {
			break
		}
	}
	require.ErrorIs(t, err, wire.ErrBufferOverflow)
}

func TestBufferUnderrun(t *testing.T) {
	w := wire.NewBuffer()
	require.NoError(t, w.WriteU8(1))

	r := wire.NewBuffer()
	r.SetSize(w.Size())
	copy(r.Raw(), w.Bytes())

	_, err := r.ReadU8()
	require.NoError(t, err)
	_, err = r.ReadU8()
	require.ErrorIs(t, err, wire.ErrBufferUnderrun)
}

func TestBufferFinalizeIsIdempotent(t *testing.T) {
	w := wire.NewBuffer()
	require.NoError(t, w.WriteU8(1))
	require.NoError(t, w.AddAck(7))
	require.NoError(t, w.Finalize())
	sizeAfterFirst := w.Size()

	// Re-finalizing the same buffer, as happens on a reliable retransmit,
	// must not append a second trailer on top of the first.
	require.NoError(t, w.Finalize())
	require.Equal(t, sizeAfterFirst, w.Size())
	require.EqualValues(t, 1, w.AckCount())
	require.Equal(t, wire.ID(7), w.Ack(0))

	// A newly piggybacked ack arriving before the next retransmit rebuilds
	// the trailer from scratch rather than appending after the old one.
	require.NoError(t, w.AddAck(9))
	require.NoError(t, w.Finalize())
	require.EqualValues(t, 2, w.AckCount())
	require.Equal(t, wire.ID(7), w.Ack(0))
	require.Equal(t, wire.ID(9), w.Ack(1))
}

func TestBufferClearResetsState(t *testing.T) {
	w := wire.NewBuffer()
	require.NoError(t, w.WriteU32(123))
	require.NoError(t, w.AddAck(5))
	require.NoError(t, w.Finalize())

	w.Clear()
	require.EqualValues(t, wire.HeaderSize, w.Size())
	require.False(t, w.HasAck())
}
