// Package replicate implements the replicated-variable delta container: an
// ordered, fixed-shape registry of typed cells that emits a dirty-bit vector
// followed by only the values that changed. It generalizes
// original_source/src/utils/ReplicatedVariable.h's ReplicatedVariable
// template hierarchy into the tagged-cell shape spec §9 calls for in place
// of virtual dispatch: each cell closes over its own wire.Buffer
// encode/decode pair instead of overriding a send/receive virtual method.
package replicate

import "github.com/glittercutter/udp-network/wire"

// cellHandle is the container's view of one registered cell: just enough to
// drive the dirty-bit emission and value round-trip without knowing T.
type cellHandle interface {
	dirty(force bool) bool
	send(buf *wire.Buffer) error
	receive(buf *wire.Buffer) error
}

type cell[T comparable] struct {
	value   T
	isDirty bool
	encode  func(*wire.Buffer, T) error
	decode  func(*wire.Buffer) (T, error)
}

func (c *cell[T]) dirty(force bool) bool { return c.isDirty || force }

func (c *cell[T]) send(buf *wire.Buffer) error {
	if err := c.encode(buf, c.value); err != nil {
		return err
	}
	c.isDirty = false
	return nil
}

func (c *cell[T]) receive(buf *wire.Buffer) error {
	v, err := c.decode(buf)
	if err != nil {
		return err
	}
	c.value = v
	return nil
}

// Var is the handle an application holds to one registered cell, returned
// by Add. Get/Set are the only operations it exposes, matching
// ReplicatedVariable<T>'s public surface.
type Var[T comparable] struct {
	cell *cell[T]
}

// Get returns the cell's current value.
func (v Var[T]) Get() T { return v.cell.value }

// Set updates the cell's value. Setting the same value is a no-op: the
// dirty flag is only raised on an actual change (spec §4.5, scenario S6).
func (v Var[T]) Set(value T) {
	if value == v.cell.value {
		return
	}
	v.cell.value = value
	v.cell.isDirty = true
}

// Add registers a new cell with an explicit encode/decode pair, dirty on
// creation so the first emission always sends it. Prefer the typed
// AddUint8/AddUint16/AddUint32/AddFloat32/AddString helpers below; this is
// exported for callers adding a cell type the helpers don't cover.
func Add[T comparable](c *Container, initial T, encode func(*wire.Buffer, T) error, decode func(*wire.Buffer) (T, error)) Var[T] {
	cl := &cell[T]{value: initial, isDirty: true, encode: encode, decode: decode}
	c.cells = append(c.cells, cl)
	return Var[T]{cell: cl}
}

// AddUint8 registers a byte-valued cell.
func AddUint8(c *Container, initial uint8) Var[uint8] {
	return Add(c, initial,
		func(b *wire.Buffer, v uint8) error { return b.WriteU8(v) },
		func(b *wire.Buffer) (uint8, error) { return b.ReadU8() })
}

// AddUint16 registers a 16-bit-valued cell.
func AddUint16(c *Container, initial uint16) Var[uint16] {
	return Add(c, initial,
		func(b *wire.Buffer, v uint16) error { return b.WriteU16(v) },
		func(b *wire.Buffer) (uint16, error) { return b.ReadU16() })
}

// AddUint32 registers a 32-bit-valued cell.
func AddUint32(c *Container, initial uint32) Var[uint32] {
	return Add(c, initial,
		func(b *wire.Buffer, v uint32) error { return b.WriteU32(v) },
		func(b *wire.Buffer) (uint32, error) { return b.ReadU32() })
}

// AddFloat32 registers a float32-valued cell.
func AddFloat32(c *Container, initial float32) Var[float32] {
	return Add(c, initial,
		func(b *wire.Buffer, v float32) error { return b.WriteF32(v) },
		func(b *wire.Buffer) (float32, error) { return b.ReadF32() })
}

// AddString registers a NUL-terminated string cell.
func AddString(c *Container, initial string) Var[string] {
	return Add(c, initial,
		func(b *wire.Buffer, v string) error { return b.WriteString(v) },
		func(b *wire.Buffer) (string, error) { return b.ReadString() })
}
