package rollback

import (
	"bytes"
	"testing"

	"github.com/mosaicnetworks/rewind/src/common"
	"github.com/mosaicnetworks/rewind/src/dummy"
	"github.com/mosaicnetworks/rewind/src/input"
	"github.com/mosaicnetworks/rewind/src/snapshot"
)

var testConf = Config{
	MaxPredictionWindow: 8,
	InputDelay:          0,
	DesyncTolerance:     2,
	ChecksumInterval:    0,
}

type testScheduler struct {
	*Scheduler
	game   *dummy.Game
	queues []*input.Queue
}

// newTestScheduler creates a two player scheduler where handle 0 is local and
// handle 1 is remote.
func newTestScheduler(conf Config, store snapshot.Store, t *testing.T) *testScheduler {
	logger := common.NewTestEntry(t, common.TestLogLevel)
	game := dummy.NewGame(2, logger)
	queues := []*input.Queue{
		input.NewQueue("q0", 128),
		input.NewQueue("q1", 128),
	}

	s, err := NewScheduler(conf, game, store, queues, []bool{true, false}, logger)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}

	return &testScheduler{s, game, queues}
}

func (ts *testScheduler) tick(v input.Frame, t *testing.T) Result {
	res, err := ts.Tick(map[uint32]input.Frame{0: v})
	if err != nil {
		t.Fatal(err)
	}
	return res
}

func (ts *testScheduler) serializedState(t *testing.T) []byte {
	data, err := ts.game.Serialize(ts.State())
	if err != nil {
		t.Fatal(err)
	}
	return data
}

// referenceState simulates frames with every input known in advance.
func referenceState(game *dummy.Game, local, remote []input.Frame, t *testing.T) []byte {
	st := game.Initial()
	for f := range local {
		var err error
		st, err = game.Advance(st, []input.Frame{local[f], remote[f]})
		if err != nil {
			t.Fatal(err)
		}
	}
	data, err := game.Serialize(st)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestSchedulerConfiguration(t *testing.T) {
	logger := common.NewTestEntry(t, common.TestLogLevel)
	game := dummy.NewGame(2, logger)
	queues := []*input.Queue{input.NewQueue("q0", 16), input.NewQueue("q1", 16)}

	conf := testConf
	conf.MaxPredictionWindow = 8

	_, err := NewScheduler(conf, game, snapshot.NewInmemStore(9), queues, []bool{true, false}, logger)
	if !common.Is(err, common.Configuration) {
		t.Fatalf("a ring smaller than the window + 2 should be rejected, got %v", err)
	}

	if _, err := NewScheduler(conf, game, snapshot.NewInmemStore(10), queues, []bool{true, false}, logger); err != nil {
		t.Fatalf("a ring of window + 2 should be accepted: %v", err)
	}

	conf.InputDelay = -1
	_, err = NewScheduler(conf, game, snapshot.NewInmemStore(10), queues, []bool{true, false}, logger)
	if !common.Is(err, common.Configuration) {
		t.Fatalf("a negative input delay should be rejected, got %v", err)
	}
}

func TestSchedulerStall(t *testing.T) {
	conf := testConf
	conf.MaxPredictionWindow = 3
	ts := newTestScheduler(conf, snapshot.NewInmemStore(5), t)

	for f := 0; f < 3; f++ {
		if res := ts.tick(input.Up, t); !res.Advanced {
			t.Fatalf("frame %d should advance on predictions", f)
		}
	}

	res := ts.tick(input.Up, t)
	if !res.Stalled || res.Advanced {
		t.Fatalf("frame 3 should stall without remote inputs: %+v", res)
	}
	if res.Horizon != input.NullFrame {
		t.Fatalf("the horizon should be NullFrame, not %d", res.Horizon)
	}
	if ts.GetState() != Stalled {
		t.Fatalf("state should be Stalled, not %s", ts.GetState())
	}
	if ts.CurrentFrame() != 3 {
		t.Fatalf("current frame should still be 3, not %d", ts.CurrentFrame())
	}

	ts.queues[1].PushConfirmed(0, input.Neutral)

	if res := ts.tick(input.Up, t); !res.Advanced || res.Frame != 4 {
		t.Fatalf("one confirmed remote frame should release one frame: %+v", res)
	}
	if ts.GetState() != Running {
		t.Fatalf("state should be Running, not %s", ts.GetState())
	}
	if res := ts.tick(input.Up, t); !res.Stalled {
		t.Fatalf("frame 4 should stall again: %+v", res)
	}
}

func TestSchedulerCorrectPredictionsDoNotRollBack(t *testing.T) {
	ts := newTestScheduler(testConf, snapshot.NewInmemStore(16), t)

	for f := 0; f < 5; f++ {
		ts.tick(input.Right, t)
	}

	// the remote player did nothing, as predicted
	for f := 0; f < 5; f++ {
		ts.queues[1].PushConfirmed(f, input.Neutral)
	}

	if res := ts.tick(input.Right, t); res.Rollback != nil {
		t.Fatalf("correct predictions should not roll back: %+v", res.Rollback)
	}
}

func TestSchedulerRollback(t *testing.T) {
	ts := newTestScheduler(testConf, snapshot.NewInmemStore(16), t)

	local := []input.Frame{}
	remote := []input.Frame{}

	// the remote player's inputs arrive 3 frames late
	const latency = 3
	script := []input.Frame{
		input.Up, input.Up, input.Left, input.Left, input.Neutral,
		input.Down, input.Down.With(input.Right), input.Right, input.Right, input.Up,
		input.Neutral, input.Neutral, input.Left, input.Up, input.Up,
	}

	rollbacks := 0
	for f := 0; f < len(script)+latency; f++ {
		if r := f - latency; r >= 0 {
			if err := ts.queues[1].PushConfirmed(r, script[r]); err != nil {
				t.Fatal(err)
			}
			remote = append(remote, script[r])
		}

		lv := input.Frame(f % 3)
		res := ts.tick(lv, t)
		if !res.Advanced {
			t.Fatalf("frame %d should advance", f)
		}
		local = append(local, lv)

		if res.Rollback != nil {
			rollbacks++
			if res.Rollback.From != f {
				t.Fatalf("rollback should start from frame %d, not %d", f, res.Rollback.From)
			}
			if res.Rollback.To != f-latency {
				t.Fatalf("rollback should go back to frame %d, not %d", f-latency, res.Rollback.To)
			}
		}
	}

	if rollbacks == 0 {
		t.Fatal("late inputs that differ from predictions should cause rollbacks")
	}

	// confirm the rest and let the scheduler catch up
	for r := len(script); r < len(script)+latency; r++ {
		ts.queues[1].PushConfirmed(r, input.Neutral)
		remote = append(remote, input.Neutral)
	}
	ts.tick(input.Neutral, t)
	local = append(local, input.Neutral)
	remote = append(remote, input.Neutral)
	ts.queues[1].PushConfirmed(len(remote)-1, input.Neutral)
	ts.tick(input.Neutral, t)
	local = append(local, input.Neutral)

	expected := referenceState(ts.game, local[:len(remote)], remote, t)

	snap, err := ts.store.Load(len(remote))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(snap.State, expected) {
		t.Fatal("the corrected state should equal a run where every input was known")
	}
}

func TestSchedulerInputDelay(t *testing.T) {
	conf := testConf
	conf.InputDelay = 2
	ts := newTestScheduler(conf, snapshot.NewInmemStore(16), t)

	for f := 0; f < 3; f++ {
		ts.tick(input.Right, t)
		v, err := ts.CurrentInputs(0)
		if err != nil {
			t.Fatal(err)
		}
		expected := input.Right
		if f < conf.InputDelay {
			expected = input.Neutral
		}
		if v != expected {
			t.Fatalf("local input of frame %d should be %s, not %s", f, expected, v)
		}
	}

	if lc := ts.queues[0].LastConfirmed(); lc != 4 {
		t.Fatalf("local inputs should be confirmed up to frame 4, not %d", lc)
	}

	if _, err := ts.CurrentInputs(7); !common.Is(err, common.UnknownPlayer) {
		t.Fatalf("CurrentInputs of an unknown player should fail, got %v", err)
	}
}

func TestSchedulerChecksums(t *testing.T) {
	conf := testConf
	conf.ChecksumInterval = 2
	ts := newTestScheduler(conf, snapshot.NewInmemStore(16), t)

	for f := 0; f < 4; f++ {
		if res := ts.tick(input.Up, t); len(res.Checksums) != 0 {
			t.Fatalf("no frame is final without remote inputs: %+v", res.Checksums)
		}
	}

	for f := 0; f < 4; f++ {
		ts.queues[1].PushConfirmed(f, input.Down)
	}

	res := ts.tick(input.Up, t)
	if res.Rollback == nil {
		t.Fatal("DOWN was predicted as NEUTRAL")
	}
	if len(res.Checksums) != 2 || res.Checksums[0].Frame != 2 || res.Checksums[1].Frame != 4 {
		t.Fatalf("frames 2 and 4 should be final: %+v", res.Checksums)
	}

	snap, err := ts.store.Load(4)
	if err != nil {
		t.Fatal(err)
	}
	if res.Checksums[1].Checksum != snap.Checksum {
		t.Fatal("the checksum should be the one of the corrected snapshot")
	}
}

func TestSchedulerDesyncTolerance(t *testing.T) {
	ts := newTestScheduler(testConf, snapshot.NewInmemStore(16), t)

	if ok, err := ts.RecordChecksum(30, 1, 1); !ok || err != nil {
		t.Fatalf("equal checksums should match: %v %v", ok, err)
	}

	for i := 0; i < testConf.DesyncTolerance; i++ {
		if ok, err := ts.RecordChecksum(60, 1, 2); ok || err != nil {
			t.Fatalf("mismatch %d should be tolerated: %v %v", i, ok, err)
		}
	}

	if _, err := ts.RecordChecksum(90, 1, 2); !common.Is(err, common.Faulted) {
		t.Fatalf("one mismatch too many should fault, got %v", err)
	}
	if ts.GetState() != Faulted || ts.Reason() != DesyncTolerance {
		t.Fatalf("scheduler should be Faulted by DesyncTolerance, not %s %s", ts.GetState(), ts.Reason())
	}

	if _, err := ts.Tick(nil); !common.Is(err, common.Faulted) {
		t.Fatalf("a faulted scheduler should refuse to tick, got %v", err)
	}
}

// forgetfulStore loses every snapshot before frame 2.
type forgetfulStore struct {
	*snapshot.InmemStore
}

func (s forgetfulStore) Load(frame int) (*snapshot.Snapshot, error) {
	if frame < 2 {
		return nil, common.NewErr("forgetfulStore", common.SnapshotNotFound, "")
	}
	return s.InmemStore.Load(frame)
}

func TestSchedulerSnapshotMissing(t *testing.T) {
	ts := newTestScheduler(testConf, forgetfulStore{snapshot.NewInmemStore(16)}, t)

	for f := 0; f < 4; f++ {
		ts.tick(input.Neutral, t)
	}

	ts.queues[1].PushConfirmed(0, input.Left)

	_, err := ts.Tick(nil)
	if !common.Is(err, common.Faulted) {
		t.Fatalf("a missing rollback target should fault, got %v", err)
	}
	if ts.Reason() != SnapshotMissing {
		t.Fatalf("reason should be SnapshotMissing, not %s", ts.Reason())
	}
}
