package app

import "github.com/mosaicnetworks/rewind/src/input"

// State is an opaque simulation state. Only the Simulation that produced it
// knows its concrete type.
type State interface{}

// Simulation encapsulates the callbacks the session uses to run the
// application. This is the true contact surface between the rollback core and
// the application.
type Simulation interface {
	// Initial returns the state at frame 0.
	Initial() State

	// Advance applies one frame of inputs, indexed by player handle, to state
	// and returns the resulting state. It must not modify state in place if
	// state is still referenced elsewhere, and it must be deterministic.
	Advance(state State, inputs []input.Frame) (State, error)

	// Serialize encodes a state for the snapshot store.
	Serialize(state State) ([]byte, error)

	// Deserialize decodes a state produced by Serialize.
	Deserialize(data []byte) (State, error)
}

// InputSampler reads the current input of a local player.
type InputSampler interface {
	Sample(handle uint32) input.Frame
}

// SamplerFunc adapts a function to the InputSampler interface.
type SamplerFunc func(handle uint32) input.Frame

// Sample implements the InputSampler interface.
func (f SamplerFunc) Sample(handle uint32) input.Frame {
	return f(handle)
}
