package replicate_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/glittercutter/udp-network/replicate"
	"github.com/glittercutter/udp-network/wire"
)

func roundTrip(t *testing.T, w *wire.Buffer) *wire.Buffer {
	t.Helper()
	require.NoError(t, w.Finalize())
	r := wire.NewBuffer()
	r.SetSize(w.Size())
	copy(r.Raw(), w.Bytes())
	return r
}

func TestReplicatedDeltaFirstEmissionSendsEverythingS6(t *testing.T) {
	sender := replicate.NewContainer()
	a := replicate.AddUint32(sender, 10)
	b := replicate.AddUint32(sender, 20)

	w := wire.NewBuffer()
	require.NoError(t, sender.Send(w))
	r := roundTrip(t, w)

	receiver := replicate.NewContainer()
	ra := replicate.AddUint32(receiver, 0)
	rb := replicate.AddUint32(receiver, 0)
	require.NoError(t, receiver.Receive(r))

	require.EqualValues(t, 10, ra.Get())
	require.EqualValues(t, 20, rb.Get())
	require.EqualValues(t, 10, a.Get())
	require.EqualValues(t, 20, b.Get())
}

func TestReplicatedDeltaSameValueSetIsNoOpS6(t *testing.T) {
	sender := replicate.NewContainer()
	a := replicate.AddUint32(sender, 10)
	_ = replicate.AddUint32(sender, 20)

	w := wire.NewBuffer()
	require.NoError(t, sender.Send(w)) // first emission: clears dirty flags

	a.Set(10) // same value: must not raise dirty

	w2 := wire.NewBuffer()
	require.NoError(t, sender.Send(w2))
	r := roundTrip(t, w2)

	bit0, err := r.ReadBool()
	require.NoError(t, err)
	bit1, err := r.ReadBool()
	require.NoError(t, err)
	require.False(t, bit0)
	require.False(t, bit1)
}

func TestReplicatedDeltaChangedValueMarksDirtyAndSendsOnceS6(t *testing.T) {
	sender := replicate.NewContainer()
	a := replicate.AddUint32(sender, 10)
	b := replicate.AddUint32(sender, 20)

	w := wire.NewBuffer()
	require.NoError(t, sender.Send(w)) // first emission: clears dirty flags

	a.Set(11)

	w2 := wire.NewBuffer()
	require.NoError(t, sender.Send(w2))
	r := roundTrip(t, w2)

	dirtyA, err := r.ReadBool()
	require.NoError(t, err)
	dirtyB, err := r.ReadBool()
	require.NoError(t, err)
	require.True(t, dirtyA)
	require.False(t, dirtyB)

	v, err := r.ReadU32()
	require.NoError(t, err)
	require.EqualValues(t, 11, v)

	_, err = r.ReadU32() // nothing more: B was clean, no value emitted
	require.ErrorIs(t, err, wire.ErrBufferUnderrun)

	require.EqualValues(t, 20, b.Get()) // unaffected
}

func TestReplicatedForceResendsCleanCells(t *testing.T) {
	sender := replicate.NewContainer()
	a := replicate.AddUint8(sender, 5)

	w := wire.NewBuffer()
	require.NoError(t, sender.Send(w))

	sender.Force()
	w2 := wire.NewBuffer()
	require.NoError(t, sender.Send(w2))
	r := roundTrip(t, w2)

	dirty, err := r.ReadBool()
	require.NoError(t, err)
	require.True(t, dirty)

	v, err := r.ReadU8()
	require.NoError(t, err)
	require.EqualValues(t, 5, v)

	_ = a
}

func TestReplicatedStringAndFloatCells(t *testing.T) {
	sender := replicate.NewContainer()
	name := replicate.AddString(sender, "alice")
	score := replicate.AddFloat32(sender, 1.5)

	w := wire.NewBuffer()
	require.NoError(t, sender.Send(w))
	r := roundTrip(t, w)

	receiver := replicate.NewContainer()
	rname := replicate.AddString(receiver, "")
	rscore := replicate.AddFloat32(receiver, 0)
	require.NoError(t, receiver.Receive(r))

	require.Equal(t, "alice", rname.Get())
	require.InDelta(t, 1.5, rscore.Get(), 0.0001)
	require.Equal(t, "alice", name.Get())
	require.InDelta(t, 1.5, score.Get(), 0.0001)
}
