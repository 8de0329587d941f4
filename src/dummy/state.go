package dummy

import (
	"fmt"

	"github.com/mosaicnetworks/rewind/src/app"
	"github.com/mosaicnetworks/rewind/src/input"
	"github.com/sirupsen/logrus"
	"github.com/ugorji/go/codec"
)

// Speed is the number of units a box moves per frame in each held direction.
const Speed = 2

// Spacing is the horizontal distance between boxes at frame 0.
const Spacing = 10

// Box is the position of one player's box.
type Box struct {
	X int32
	Y int32
}

// World is the state of the dummy game.
type World struct {
	Frame int
	Boxes []Box
}

// Clone returns a deep copy of the world.
func (w *World) Clone() *World {
	return &World{
		Frame: w.Frame,
		Boxes: append([]Box(nil), w.Boxes...),
	}
}

// Game implements the app.Simulation interface. It doesn't really do anything
// useful but move boxes, which is enough to tell two diverging machines apart.
type Game struct {
	players int
	handle  *codec.MsgpackHandle
	logger  *logrus.Entry
}

// NewGame creates a Game for the given number of players.
func NewGame(players int, logger *logrus.Entry) *Game {
	logger.WithField("players", players).Info("Init Dummy Game")

	return &Game{
		players: players,
		handle:  new(codec.MsgpackHandle),
		logger:  logger,
	}
}

// Initial implements the app.Simulation interface. Boxes start on a row, one
// Spacing apart.
func (g *Game) Initial() app.State {
	w := &World{
		Boxes: make([]Box, g.players),
	}
	for i := range w.Boxes {
		w.Boxes[i].X = int32(i * Spacing)
	}
	return w
}

// Advance implements the app.Simulation interface.
func (g *Game) Advance(state app.State, inputs []input.Frame) (app.State, error) {
	w, ok := state.(*World)
	if !ok {
		return nil, fmt.Errorf("dummy: unexpected state %T", state)
	}
	if len(inputs) != len(w.Boxes) {
		return nil, fmt.Errorf("dummy: %d inputs for %d boxes", len(inputs), len(w.Boxes))
	}

	next := w.Clone()
	for i, in := range inputs {
		b := &next.Boxes[i]
		if in.Contains(input.Up) {
			b.Y -= Speed
		}
		if in.Contains(input.Down) {
			b.Y += Speed
		}
		if in.Contains(input.Left) {
			b.X -= Speed
		}
		if in.Contains(input.Right) {
			b.X += Speed
		}
	}
	next.Frame++

	return next, nil
}

// Serialize implements the app.Simulation interface.
func (g *Game) Serialize(state app.State) ([]byte, error) {
	w, ok := state.(*World)
	if !ok {
		return nil, fmt.Errorf("dummy: unexpected state %T", state)
	}

	var b []byte
	if err := codec.NewEncoderBytes(&b, g.handle).Encode(w); err != nil {
		return nil, err
	}
	return b, nil
}

// Deserialize implements the app.Simulation interface.
func (g *Game) Deserialize(data []byte) (app.State, error) {
	w := new(World)
	if err := codec.NewDecoderBytes(data, g.handle).Decode(w); err != nil {
		return nil, err
	}
	return w, nil
}
