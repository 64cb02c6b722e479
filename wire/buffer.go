package wire

import (
	"encoding/binary"
	"errors"
	"math"

	"github.com/valyala/bytebufferpool"
)

// Capacity is the fixed maximum size of a single datagram, header included.
const Capacity = 1024

// HeaderSize is the number of leading bytes reserved for type|flags and the
// packet id: 1 byte of type/flags plus a little-endian uint16 id.
const HeaderSize = 1 + 2

const invalidBoolIndex uint16 = math.MaxUint16

// ErrBufferOverflow is returned when a write would exceed Capacity.
var ErrBufferOverflow = errors.New("wire: buffer overflow")

// ErrBufferUnderrun is returned when a read would run past the buffer's
// populated size.
var ErrBufferUnderrun = errors.New("wire: buffer underrun")

// Buffer is a fixed-capacity datagram container with a single read/write
// cursor and a separate bool-packing cursor, mirroring
// original_source/src/udpnetwork_Packet.{h,cpp}: the same type serves both
// the sender, writing primitives up to finalize(), and the receiver, reading
// them back in the exact same order after size() is set to the bytes read
// off the socket.
type Buffer struct {
	raw *bytebufferpool.ByteBuffer

	size     uint16
	cursor   uint16
	boolByte uint16
	boolBit  uint8

	ackIDs    []ID
	ackAnchor uint16
}

// NewBuffer allocates a Buffer backed by a freshly acquired pooled slice.
// Prefer acquiring through a network's buffer pool in steady state; this is
// for tests and one-off use.
func NewBuffer() *Buffer {
	return Wrap(&bytebufferpool.ByteBuffer{})
}

// Wrap adopts a pooled byte slice as a Buffer's backing store, growing it to
// Capacity if needed, and clears it to a fresh header-only state.
func Wrap(bb *bytebufferpool.ByteBuffer) *Buffer {
	if cap(bb.B) < Capacity {
		bb.B = append(bb.B[:cap(bb.B)], make([]byte, Capacity-cap(bb.B))...)
	}
	bb.B = bb.B[:Capacity]
	b := &Buffer{raw: bb}
	b.Clear()
	return b
}

// Detach releases the backing pooled slice for return to a pool, leaving the
// Buffer unusable. Ownership of the returned value transfers to the caller.
func (b *Buffer) Detach() *bytebufferpool.ByteBuffer {
	raw := b.raw
	b.raw = nil
	return raw
}

// Clear resets both cursors, the logical size to the header size, and the
// pending ack count, ready for a new send cycle.
func (b *Buffer) Clear() {
	b.raw.B[0] = 0
	b.size = HeaderSize
	b.cursor = HeaderSize
	b.boolByte = invalidBoolIndex
	b.boolBit = 0
	b.ackIDs = b.ackIDs[:0]
	b.ackAnchor = 0
}

// Size returns the number of meaningful bytes, header included.
func (b *Buffer) Size() uint16 { return b.size }

// SetSize sets the logical size after a socket read; read calls are bounded
// against this, not against Capacity.
func (b *Buffer) SetSize(n uint16) {
	b.size = n
	b.cursor = HeaderSize
	b.boolByte = invalidBoolIndex
	b.boolBit = 0
}

// Bytes returns the slice of populated bytes ready to hand to a socket send.
func (b *Buffer) Bytes() []byte { return b.raw.B[:b.size] }

// Raw exposes the full Capacity-sized backing array for a socket receive
// into; pair with SetSize once the byte count read is known.
func (b *Buffer) Raw() []byte { return b.raw.B[:Capacity] }

// --- header accessors ---

// Type returns the packet kind stored in the lower 3 bits of byte 0.
func (b *Buffer) Type() Kind { return Kind(b.raw.B[0] & kindMask) }

// SetType overwrites the kind, preserving flags.
func (b *Buffer) SetType(k Kind) {
	b.raw.B[0] = (b.raw.B[0] & flagsMask) | (byte(k) & kindMask)
}

// Reliable reports whether FlagReliable is set.
func (b *Buffer) Reliable() bool { return b.raw.B[0]&byte(FlagReliable) != 0 }

// SetReliable sets or clears FlagReliable.
func (b *Buffer) SetReliable(v bool) {
	if v {
		b.raw.B[0] |= byte(FlagReliable)
	} else {
		b.raw.B[0] &^= byte(FlagReliable)
	}
}

// HasAck reports whether FlagHasAck is set; only meaningful after Finalize
// on the sender, or after a socket read on the receiver.
func (b *Buffer) HasAck() bool { return b.raw.B[0]&byte(FlagHasAck) != 0 }

// ID returns the header's packet id.
func (b *Buffer) ID() ID { return ID(binary.LittleEndian.Uint16(b.raw.B[1:3])) }

// SetID overwrites the header's packet id.
func (b *Buffer) SetID(id ID) { binary.LittleEndian.PutUint16(b.raw.B[1:3], uint16(id)) }

// --- primitive writes ---

func (b *Buffer) checkOverflow(n uint16) error {
	// A write must end before Capacity-1, so the last two bytes of the
	// buffer are never used. The ack trailer, count byte included, is
	// written through the same check.
	if b.cursor+n >= Capacity-1 {
		return ErrBufferOverflow
	}
	return nil
}

// WriteBool packs v into the current bool-pack byte, allocating a fresh byte
// from the write cursor the first time it's called, or once the current one
// has all 8 bits used.
func (b *Buffer) WriteBool(v bool) error {
	if err := b.beginBoolWrite(); err != nil {
		return err
	}
	if v {
		b.raw.B[b.boolByte] |= 1 << b.boolBit
	}
	b.boolBit++
	return nil
}

func (b *Buffer) beginBoolWrite() error {
	if b.boolByte == invalidBoolIndex || b.boolBit >= 8 {
		if err := b.checkOverflow(1); err != nil {
			return err
		}
		b.boolBit = 0
		b.boolByte = b.cursor
		b.raw.B[b.boolByte] = 0
		b.cursor++
		b.size = b.cursor
	}
	return nil
}

// WriteU8 appends a single byte.
func (b *Buffer) WriteU8(v uint8) error {
	if err := b.checkOverflow(1); err != nil {
		return err
	}
	b.raw.B[b.cursor] = v
	b.cursor++
	b.size = b.cursor
	return nil
}

// WriteU16 appends a little-endian uint16.
func (b *Buffer) WriteU16(v uint16) error {
	if err := b.checkOverflow(2); err != nil {
		return err
	}
	binary.LittleEndian.PutUint16(b.raw.B[b.cursor:], v)
	b.cursor += 2
	b.size = b.cursor
	return nil
}

// WriteU32 appends a little-endian uint32.
func (b *Buffer) WriteU32(v uint32) error {
	if err := b.checkOverflow(4); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(b.raw.B[b.cursor:], v)
	b.cursor += 4
	b.size = b.cursor
	return nil
}

// WriteF32 appends a little-endian IEEE-754 float32.
func (b *Buffer) WriteF32(v float32) error {
	return b.WriteU32(math.Float32bits(v))
}

// WriteString appends the bytes of s followed by a NUL terminator.
func (b *Buffer) WriteString(s string) error {
	if err := b.checkOverflow(uint16(len(s)) + 1); err != nil {
		return err
	}
	copy(b.raw.B[b.cursor:], s)
	b.cursor += uint16(len(s))
	b.raw.B[b.cursor] = 0
	b.cursor++
	b.size = b.cursor
	return nil
}

// AddAck records id as a pending ack to attach to this buffer. The id list
// is only materialized into the wire trailer by Finalize, so AddAck may be
// called again on a buffer that was already finalized on a prior
// (re)transmit, e.g. a piggyback policy that keeps attaching newly queued
// acks to the tail of an outgoing reliable entry across retransmits.
func (b *Buffer) AddAck(id ID) error {
	if len(b.ackIDs) == 0 {
		b.ackAnchor = b.cursor
	}
	b.ackIDs = append(b.ackIDs, id)
	return nil
}

// PendingAckCount returns the number of acks queued via AddAck since Clear,
// regardless of whether Finalize has run yet.
func (b *Buffer) PendingAckCount() uint8 { return uint8(len(b.ackIDs)) }

// Finalize (re)writes the ack trailer — the id list followed by a count
// byte — and sets FlagHasAck if any acks are pending. It is idempotent and
// safe to call more than once on the same buffer: each call first rewinds
// the cursor to the position captured by the first AddAck since Clear, so a
// retransmitted entry that picked up more piggybacked acks between sends
// gets a freshly rebuilt trailer rather than a second one appended after a
// stale copy of the first.
func (b *Buffer) Finalize() error {
	if len(b.ackIDs) == 0 {
		return nil
	}

	b.cursor = b.ackAnchor
	b.size = b.cursor

	for _, id := range b.ackIDs {
		if err := b.WriteU16(uint16(id)); err != nil {
			return err
		}
	}
	b.raw.B[0] |= byte(FlagHasAck)
	return b.WriteU8(uint8(len(b.ackIDs)))
}

// --- primitive reads ---

func (b *Buffer) checkUnderrun(n uint16) error {
	if b.cursor+n > b.size {
		return ErrBufferUnderrun
	}
	return nil
}

// ReadBool mirrors WriteBool; callers must issue reads in the same sequence
// the writer issued writes, including relative to other primitive reads.
func (b *Buffer) ReadBool() (bool, error) {
	if err := b.beginBoolRead(); err != nil {
		return false, err
	}
	v := (b.raw.B[b.boolByte]>>b.boolBit)&1 != 0
	b.boolBit++
	return v, nil
}

func (b *Buffer) beginBoolRead() error {
	if b.boolByte == invalidBoolIndex || b.boolBit >= 8 {
		if err := b.checkUnderrun(1); err != nil {
			return err
		}
		b.boolBit = 0
		b.boolByte = b.cursor
		b.cursor++
	}
	return nil
}

// ReadU8 reads a single byte.
func (b *Buffer) ReadU8() (uint8, error) {
	if err := b.checkUnderrun(1); err != nil {
		return 0, err
	}
	v := b.raw.B[b.cursor]
	b.cursor++
	return v, nil
}

// ReadU16 reads a little-endian uint16.
func (b *Buffer) ReadU16() (uint16, error) {
	if err := b.checkUnderrun(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(b.raw.B[b.cursor:])
	b.cursor += 2
	return v, nil
}

// ReadU32 reads a little-endian uint32.
func (b *Buffer) ReadU32() (uint32, error) {
	if err := b.checkUnderrun(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(b.raw.B[b.cursor:])
	b.cursor += 4
	return v, nil
}

// ReadF32 reads a little-endian IEEE-754 float32.
func (b *Buffer) ReadF32() (float32, error) {
	v, err := b.ReadU32()
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(v), nil
}

// ReadString reads bytes up to and including a NUL terminator, returning the
// string without it.
func (b *Buffer) ReadString() (string, error) {
	start := b.cursor
	for {
		if err := b.checkUnderrun(1); err != nil {
			return "", err
		}
		if b.raw.B[b.cursor] == 0 {
			break
		}
		b.cursor++
	}
	s := string(b.raw.B[start:b.cursor])
	b.cursor++ // consume the NUL
	return s, nil
}

// --- ack trailer ---

// AckCount returns the number of acks carried, valid only once HasAck is
// true (set either by Finalize on the sender or by a socket read on the
// receiver).
func (b *Buffer) AckCount() uint8 {
	if !b.HasAck() {
		return 0
	}
	return b.raw.B[b.size-1]
}

// Ack returns the i'th ack id (0-indexed), most recent last. Spec §9 fixes
// the original's indexing bug: ack i lives at
// size - 1 - (count - i) * sizeof(PacketId).
func (b *Buffer) Ack(i uint8) ID {
	count := b.AckCount()
	offset := int(b.size) - 1 - int(count-i)*2
	return ID(binary.LittleEndian.Uint16(b.raw.B[offset:]))
}
