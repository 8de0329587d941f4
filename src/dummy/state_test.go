package dummy

import (
	"bytes"
	"reflect"
	"testing"

	"github.com/mosaicnetworks/rewind/src/app"
	"github.com/mosaicnetworks/rewind/src/common"
	"github.com/mosaicnetworks/rewind/src/input"
)

func run(g *Game, frames [][]input.Frame, t *testing.T) app.State {
	st := g.Initial()
	for _, in := range frames {
		var err error
		st, err = g.Advance(st, in)
		if err != nil {
			t.Fatal(err)
		}
	}
	return st
}

func TestGameAdvance(t *testing.T) {
	g := NewGame(2, common.NewTestEntry(t, common.TestLogLevel))

	st := run(g, [][]input.Frame{
		{input.Right, input.Up},
		{input.Right.With(input.Down), input.Neutral},
		{input.Left.With(input.Right), input.Up},
	}, t)

	w := st.(*World)
	expected := &World{
		Frame: 3,
		Boxes: []Box{
			{X: 4, Y: 2},
			{X: Spacing, Y: -4},
		},
	}
	if !reflect.DeepEqual(w, expected) {
		t.Fatalf("world should be %#v, not %#v", expected, w)
	}
}

func TestGameAdvanceDoesNotMutate(t *testing.T) {
	g := NewGame(1, common.NewTestEntry(t, common.TestLogLevel))

	initial := g.Initial()
	if _, err := g.Advance(initial, []input.Frame{input.Down}); err != nil {
		t.Fatal(err)
	}

	if w := initial.(*World); w.Boxes[0].Y != 0 || w.Frame != 0 {
		t.Fatalf("Advance should not modify its input state: %#v", w)
	}

	if _, err := g.Advance(initial, []input.Frame{input.Down, input.Up}); err == nil {
		t.Fatal("Advance should reject a wrong number of inputs")
	}
}

func TestGameDeterminism(t *testing.T) {
	logger := common.NewTestEntry(t, common.TestLogLevel)
	g1 := NewGame(3, logger)
	g2 := NewGame(3, logger)

	sampler := NewRandomSampler(42, 5)
	frames := make([][]input.Frame, 200)
	for i := range frames {
		frames[i] = []input.Frame{sampler.Sample(0), sampler.Sample(1), sampler.Sample(2)}
	}

	b1, err := g1.Serialize(run(g1, frames, t))
	if err != nil {
		t.Fatal(err)
	}
	b2, err := g2.Serialize(run(g2, frames, t))
	if err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(b1, b2) {
		t.Fatal("the same inputs should produce byte-identical states")
	}
	if common.Checksum(b1) != common.Checksum(b2) {
		t.Fatal("the same inputs should produce identical checksums")
	}
}

func TestGameSerialize(t *testing.T) {
	g := NewGame(2, common.NewTestEntry(t, common.TestLogLevel))

	st := run(g, [][]input.Frame{{input.Up, input.Left}}, t)

	data, err := g.Serialize(st)
	if err != nil {
		t.Fatal(err)
	}

	back, err := g.Deserialize(data)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(st, back) {
		t.Fatalf("deserialized state mismatch: %#v, %#v", st, back)
	}
}

func TestScriptSampler(t *testing.T) {
	s := NewScriptSampler(map[uint32][]input.Frame{
		0: {input.Up, input.Down},
	})

	expected := []input.Frame{input.Up, input.Down, input.Up}
	for i, e := range expected {
		if v := s.Sample(0); v != e {
			t.Fatalf("sample %d should be %s, not %s", i, e, v)
		}
	}

	if v := s.Sample(1); v != input.Neutral {
		t.Fatalf("a player without script should be NEUTRAL, not %s", v)
	}
}
