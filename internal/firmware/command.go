// Package firmware encodes and decodes the fixed-layout SMBIOS calling buffer
// used to drive the case light.
//
// Layout is protocol-locked: 128 bytes, little-endian, no IO.
package firmware

import (
	"encoding/binary"
	"fmt"
)

// CommandSize is the size of a request or reply buffer on the wire.
const CommandSize = 128

// Offsets within the 128-byte buffer.
const (
	offClass    = 0
	offSelector = 2
	offArgs     = 4
	offRes      = 20
	offPadding  = 36
)

// Class and selector of the "set light" operation.
const (
	ClassLight    uint16 = 4
	SelectorLight uint16 = 6
)

// Command is one request or reply buffer.
// Args are arg1..arg4, Res are reserved1..reserved4. The reply carries its
// status code in Res[0]. The 92 trailing padding bytes are not modelled: they
// are always written as zero and ignored on read.
type Command struct {
	Class    uint16
	Selector uint16
	Args     [4]uint32
	Res      [4]uint32
}

// Status returns the firmware status code of a reply (reserved1).
func (c Command) Status() uint32 {
	return c.Res[0]
}

// MarshalBinary packs the command into a zero-filled 128-byte buffer.
func (c Command) MarshalBinary() ([]byte, error) {
	buf := make([]byte, CommandSize)
	binary.LittleEndian.PutUint16(buf[offClass:], c.Class)
	binary.LittleEndian.PutUint16(buf[offSelector:], c.Selector)
	for i, v := range c.Args {
		binary.LittleEndian.PutUint32(buf[offArgs+4*i:], v)
	}
	for i, v := range c.Res {
		binary.LittleEndian.PutUint32(buf[offRes+4*i:], v)
	}
	return buf, nil
}

// UnmarshalBinary unpacks a 128-byte buffer. Padding is ignored.
func (c *Command) UnmarshalBinary(data []byte) error {
	if len(data) != CommandSize {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrReplySize, len(data), CommandSize)
	}
	c.Class = binary.LittleEndian.Uint16(data[offClass:])
	c.Selector = binary.LittleEndian.Uint16(data[offSelector:])
	for i := range c.Args {
		c.Args[i] = binary.LittleEndian.Uint32(data[offArgs+4*i:])
	}
	for i := range c.Res {
		c.Res[i] = binary.LittleEndian.Uint32(data[offRes+4*i:])
	}
	return nil
}

// String renders the meaningful words for logging.
func (c Command) String() string {
	return fmt.Sprintf("class=%d select=%d args=[%#08x %#08x %#08x %#08x] res=[%d %d %d %d]",
		c.Class, c.Selector,
		c.Args[0], c.Args[1], c.Args[2], c.Args[3],
		c.Res[0], c.Res[1], c.Res[2], c.Res[3])
}
