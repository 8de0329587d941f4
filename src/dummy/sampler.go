package dummy

import (
	"math/rand"
	"sync"

	"github.com/mosaicnetworks/rewind/src/input"
)

// ScriptSampler implements the app.InputSampler interface by replaying a
// fixed sequence of inputs per player, looping at the end. Players without a
// script are Neutral.
type ScriptSampler struct {
	sync.Mutex
	scripts map[uint32][]input.Frame
	cursors map[uint32]int
}

// NewScriptSampler creates a ScriptSampler.
func NewScriptSampler(scripts map[uint32][]input.Frame) *ScriptSampler {
	return &ScriptSampler{
		scripts: scripts,
		cursors: make(map[uint32]int),
	}
}

// Sample implements the app.InputSampler interface.
func (s *ScriptSampler) Sample(handle uint32) input.Frame {
	s.Lock()
	defer s.Unlock()

	script := s.scripts[handle]
	if len(script) == 0 {
		return input.Neutral
	}

	n := s.cursors[handle]
	s.cursors[handle] = n + 1

	return script[n%len(script)]
}

var directions = []input.Frame{
	input.Neutral,
	input.Up,
	input.Down,
	input.Left,
	input.Right,
	input.Up.With(input.Left),
	input.Down.With(input.Right),
}

// RandomSampler implements the app.InputSampler interface with a random walk:
// each player holds a direction for a random number of frames, like a person
// pressing keys.
type RandomSampler struct {
	sync.Mutex
	rng     *rand.Rand
	maxHold int
	current map[uint32]input.Frame
	hold    map[uint32]int
}

// NewRandomSampler creates a RandomSampler. Directions are held for 1 to
// maxHold frames.
func NewRandomSampler(seed int64, maxHold int) *RandomSampler {
	if maxHold < 1 {
		maxHold = 1
	}
	return &RandomSampler{
		rng:     rand.New(rand.NewSource(seed)),
		maxHold: maxHold,
		current: make(map[uint32]input.Frame),
		hold:    make(map[uint32]int),
	}
}

// Sample implements the app.InputSampler interface.
func (s *RandomSampler) Sample(handle uint32) input.Frame {
	s.Lock()
	defer s.Unlock()

	if s.hold[handle] <= 0 {
		s.current[handle] = directions[s.rng.Intn(len(directions))]
		s.hold[handle] = 1 + s.rng.Intn(s.maxHold)
	}
	s.hold[handle]--

	return s.current[handle]
}
