package protocol

import (
	"encoding/hex"
	"strings"
)

// ManufacturerID is the Bluetooth SIG company identifier the peripherals advertise with.
const ManufacturerID uint16 = 0x0584

var frameSuffix = [2]byte{0x10, 0x01}

// Frame is an immutable command frame.
type Frame struct {
	b []byte
}

func newFrame(prefix [4]byte, property byte, value ...byte) Frame {
	b := make([]byte, 0, len(prefix)+1+len(frameSuffix)+len(value))
	b = append(b, prefix[:]...)
	b = append(b, property)
	b = append(b, frameSuffix[:]...)
	b = append(b, value...)
	return Frame{b: b}
}

// Bytes returns a copy of the frame bytes.
func (f Frame) Bytes() []byte {
	out := make([]byte, len(f.b))
	copy(out, f.b)
	return out
}

// Len returns the frame length: 7 plus the value width.
func (f Frame) Len() int {
	return len(f.b)
}

// IsZero reports whether f was never built.
func (f Frame) IsZero() bool {
	return len(f.b) == 0
}

// PropertyID returns the property selector byte.
func (f Frame) PropertyID() byte {
	if len(f.b) < 5 {
		return 0
	}
	return f.b[4]
}

// Value returns a copy of the trailing value bytes.
func (f Frame) Value() []byte {
	if len(f.b) <= 7 {
		return nil
	}
	out := make([]byte, len(f.b)-7)
	copy(out, f.b[7:])
	return out
}

// String renders the frame as space separated upper-case hex, e.g. "F6 03 20 01 FC 10 01 32".
func (f Frame) String() string {
	parts := make([]string, len(f.b))
	for i, c := range f.b {
		parts[i] = strings.ToUpper(hex.EncodeToString([]byte{c}))
	}
	return strings.Join(parts, " ")
}
