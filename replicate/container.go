package replicate

import "github.com/glittercutter/udp-network/wire"

// Container is an ordered, fixed-shape registry of cells shared by two
// peers: Send and Receive must be called against cells registered in the
// same order with the same types on both ends (spec §4.5's invariant), the
// same way ReplicatedVariableContainer assumes its caller registers
// identically on both sides.
type Container struct {
	cells []cellHandle
	force bool
}

// NewContainer returns an empty container. Register every cell with Add (or
// the AddUint*/AddFloat32/AddString helpers) before the first Send/Receive.
func NewContainer() *Container {
	return &Container{}
}

// Force marks every cell dirty for exactly the next Send, regardless of
// whether its value actually changed.
func (c *Container) Force() { c.force = true }

// Send writes the dirty-bit vector followed by each dirty cell's value, in
// registration order, then clears every cell's dirty flag and the
// container's force flag. Idempotent for clean cells: calling Send twice in
// a row with no Set calls between emits an all-zero bit vector the second
// time (spec §4.5, scenario S6).
func (c *Container) Send(buf *wire.Buffer) error {
	for _, cl := range c.cells {
		if err := buf.WriteBool(cl.dirty(c.force)); err != nil {
			return err
		}
	}
	for _, cl := range c.cells {
		if cl.dirty(c.force) {
			if err := cl.send(buf); err != nil {
				return err
			}
		}
	}
	c.force = false
	return nil
}

// Receive reads the dirty-bit vector followed by the values it marks dirty,
// replacing each corresponding cell's local value.
func (c *Container) Receive(buf *wire.Buffer) error {
	received := make([]bool, len(c.cells))
	for i := range c.cells {
		b, err := buf.ReadBool()
		if err != nil {
			return err
		}
		received[i] = b
	}
	for i, cl := range c.cells {
		if received[i] {
			if err := cl.receive(buf); err != nil {
				return err
			}
		}
	}
	return nil
}
