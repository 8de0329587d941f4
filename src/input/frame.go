package input

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// FrameSize is the size in bytes of an encoded Frame.
const FrameSize = 4

// NullFrame denotes the absence of a frame number.
const NullFrame = -1

// Frame is one player's input for one simulation tick.
type Frame uint32

// Directional bits. The remaining bits are free for the host application.
const (
	Up Frame = 1 << iota
	Down
	Left
	Right
)

// Neutral is the empty input.
const Neutral Frame = 0

var frameNames = []struct {
	bit  Frame
	name string
}{
	{Up, "UP"},
	{Down, "DOWN"},
	{Left, "LEFT"},
	{Right, "RIGHT"},
}

// Contains reports whether every bit of o is set in f.
func (f Frame) Contains(o Frame) bool {
	return f&o == o
}

// With returns f with the bits of o set.
func (f Frame) With(o Frame) Frame {
	return f | o
}

// Without returns f with the bits of o cleared.
func (f Frame) Without(o Frame) Frame {
	return f &^ o
}

// String returns a readable form such as "UP|LEFT".
func (f Frame) String() string {
	if f == Neutral {
		return "NEUTRAL"
	}
	parts := []string{}
	rest := f
	for _, n := range frameNames {
		if f.Contains(n.bit) {
			parts = append(parts, n.name)
			rest = rest.Without(n.bit)
		}
	}
	if rest != 0 {
		parts = append(parts, fmt.Sprintf("0x%x", uint32(rest)))
	}
	return strings.Join(parts, "|")
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (f Frame) MarshalBinary() ([]byte, error) {
	data := make([]byte, FrameSize)
	binary.LittleEndian.PutUint32(data, uint32(f))
	return data, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (f *Frame) UnmarshalBinary(data []byte) error {
	if len(data) != FrameSize {
		return fmt.Errorf("input frame: expected %d bytes, got %d", FrameSize, len(data))
	}
	*f = Frame(binary.LittleEndian.Uint32(data))
	return nil
}
