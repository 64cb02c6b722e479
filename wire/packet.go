// Package wire implements the datagram framing used by the reliability
// layer: packet kinds, header flags, and the little-endian buffer codec
// packets are written to and parsed from.
package wire

import "github.com/lithdew/seq"

// Kind is the packet's wire type, stored in the lower 3 bits of byte 0.
type Kind byte

const (
	KindPing Kind = iota
	KindPong
	KindConnection
	KindData
)

func (k Kind) String() string {
	switch k {
	case KindPing:
		return "PING"
	case KindPong:
		return "PONG"
	case KindConnection:
		return "CONNECTION"
	case KindData:
		return "DATA"
	default:
		return "UNKNOWN"
	}
}

// Flag bits occupy the upper bits of byte 0, alongside Kind in the lower 3.
type Flag byte

const (
	FlagReliable Flag = 1 << 3
	FlagHasAck   Flag = 1 << 4

	kindMask  byte = 0x07
	flagsMask byte = ^kindMask
)

// SubCode is the first payload byte of a CONNECTION packet.
type SubCode byte

const (
	SubCodeRequest SubCode = iota
	SubCodeAccept
	SubCodeRefuse
	SubCodeDisconnect
)

func (c SubCode) String() string {
	switch c {
	case SubCodeRequest:
		return "REQUEST"
	case SubCodeAccept:
		return "ACCEPT"
	case SubCodeRefuse:
		return "REFUSE"
	case SubCodeDisconnect:
		return "DISCONNECT"
	default:
		return "UNKNOWN"
	}
}

// ID is a 16-bit monotonic packet identifier, one counter per direction per
// reliability class per connection. Comparisons go through the functions
// below rather than plain operators so that wraparound at 65535 is handled
// the RFC 1982 way instead of breaking a naive "<=" check (spec §9).
type ID uint16

// After compares a and b the way a reorder buffer needs to: true if a is
// strictly newer than b in sequence-number space.
func After(a, b ID) bool { return seq.GT(uint16(a), uint16(b)) }

// AfterOrEqual is After with equality allowed.
func AfterOrEqual(a, b ID) bool { return a == b || After(a, b) }

// Before is the inverse of After.
func Before(a, b ID) bool { return After(b, a) }
