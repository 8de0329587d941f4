package protocol

import (
	"reflect"
	"testing"
	"time"

	"github.com/mosaicnetworks/rewind/src/common"
	"github.com/mosaicnetworks/rewind/src/input"
	"github.com/mosaicnetworks/rewind/src/net"
)

var testConf = Config{
	InputRedundancy:       16,
	DisconnectTimeout:     5 * time.Second,
	KeepAliveInterval:     200 * time.Millisecond,
	QualityReportInterval: time.Second,
}

type testPeer struct {
	trans  *net.InmemTransport
	queues []*input.Queue
	proto  *Protocol
}

// newTestPair creates two peers: handle 0 is local to a and handle 1 is local
// to b.
func newTestPair(conf Config, t *testing.T) (*testPeer, *testPeer) {
	_, ta := net.NewInmemTransport("a")
	_, tb := net.NewInmemTransport("b")
	net.LinkInmemTransports(ta, tb)

	newPeer := func(trans *net.InmemTransport, local uint32, remote string) *testPeer {
		queues := []*input.Queue{
			input.NewQueue("q0", 64),
			input.NewQueue("q1", 64),
		}
		proto := NewProtocol(conf, trans, queues, common.NewTestEntry(t, common.TestLogLevel))
		proto.AddRemote(remote, 1-local, []uint32{local})
		return &testPeer{trans, queues, proto}
	}

	return newPeer(ta, 0, "b"), newPeer(tb, 1, "a")
}

func pushLocal(q *input.Queue, from, to int, v input.Frame, t *testing.T) {
	for f := from; f <= to; f++ {
		if err := q.PushConfirmed(f, v); err != nil {
			t.Fatal(err)
		}
	}
}

func TestCodec(t *testing.T) {
	msg := &InputMessage{
		Inputs: []PlayerInputs{
			{Handle: 1, StartFrame: 7, Frames: []uint32{1, 2, 3}},
		},
		Acks:  []Ack{{Handle: 0, Frame: 5}},
		Frame: 9,
	}

	data, err := Encode(msg)
	if err != nil {
		t.Fatal(err)
	}
	if MessageType(data[0]) != InputMsg {
		t.Fatalf("first byte should be InputMsg, not %d", data[0])
	}

	mt, out, err := Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	if mt != InputMsg {
		t.Fatalf("type should be Input, not %s", mt)
	}
	if !reflect.DeepEqual(msg, out) {
		t.Fatalf("decoded message mismatch: %#v, %#v", msg, out)
	}

	if _, _, err := Decode([]byte{0xFF}); err == nil {
		t.Fatal("decoding an unknown type should fail")
	}
	if _, _, err := Decode(nil); err == nil {
		t.Fatal("decoding an empty packet should fail")
	}
}

func TestInputExchange(t *testing.T) {
	a, b := newTestPair(testConf, t)
	now := time.Now()
	a.proto.Start(now)
	b.proto.Start(now)

	pushLocal(a.queues[0], 0, 2, input.Up, t)

	a.proto.Poll(3, now)
	b.proto.Drain(now)

	if lc := b.queues[0].LastConfirmed(); lc != 2 {
		t.Fatalf("b should have confirmed frame 2 of player 0, not %d", lc)
	}
	if v, _ := b.queues[0].Confirmed(1); v != input.Up {
		t.Fatalf("frame 1 of player 0 should be UP, not %s", v)
	}

	stats, err := a.proto.Stats("b")
	if err != nil {
		t.Fatal(err)
	}
	if stats.PendingInputs != 3 {
		t.Fatalf("a should have 3 unacknowledged inputs, not %d", stats.PendingInputs)
	}

	// b has no inputs of its own but owes an acknowledgement
	b.proto.Poll(0, now)
	a.proto.Drain(now)

	stats, _ = a.proto.Stats("b")
	if stats.PendingInputs != 0 {
		t.Fatalf("a should have no unacknowledged inputs, not %d", stats.PendingInputs)
	}
	if stats.RemoteFrame != 0 {
		t.Fatalf("a should know b is at frame 0, not %d", stats.RemoteFrame)
	}
}

func TestInputRedundancy(t *testing.T) {
	conf := testConf
	conf.InputRedundancy = 4
	a, b := newTestPair(conf, t)
	now := time.Now()
	a.proto.Start(now)
	b.proto.Start(now)

	pushLocal(a.queues[0], 0, 9, input.Left, t)

	// the first packet is lost
	a.proto.Poll(10, now)
	<-b.trans.Consumer()

	// the next one repeats the oldest unacknowledged frames
	a.proto.Poll(10, now)
	b.proto.Drain(now)
	if lc := b.queues[0].LastConfirmed(); lc != 3 {
		t.Fatalf("b should have confirmed frame 3, not %d", lc)
	}

	b.proto.Poll(0, now)
	a.proto.Drain(now)

	for i := 0; i < 2; i++ {
		a.proto.Poll(10, now)
		b.proto.Drain(now)
		b.proto.Poll(0, now)
		a.proto.Drain(now)
	}

	if lc := b.queues[0].LastConfirmed(); lc != 9 {
		t.Fatalf("b should have confirmed frame 9, not %d", lc)
	}
}

func TestKeepAliveAndTimeout(t *testing.T) {
	a, b := newTestPair(testConf, t)
	now := time.Now()
	a.proto.Start(now)
	b.proto.Start(now)

	// nothing to say, and not idle long enough for a keep-alive
	a.proto.Poll(0, now.Add(100*time.Millisecond))
	if n := b.proto.Drain(now); n != 1 {
		// the first Poll also sends a quality report
		t.Fatalf("b should have received only the quality report, got %d packets", n)
	}

	a.proto.Poll(0, now.Add(400*time.Millisecond))
	if n := b.proto.Drain(now.Add(400 * time.Millisecond)); n != 1 {
		t.Fatalf("b should have received a keep-alive, got %d packets", n)
	}

	b.proto.Poll(0, now.Add(400*time.Millisecond+testConf.DisconnectTimeout))
	if notes := b.proto.TakeNotifications(); len(notes) != 0 {
		t.Fatalf("a spoke recently, got %v", notes)
	}

	b.proto.Poll(0, now.Add(time.Second+testConf.DisconnectTimeout))
	notes := b.proto.TakeNotifications()
	if len(notes) != 1 || notes[0].Kind != PeerDisconnected || notes[0].Addr != "a" {
		t.Fatalf("b should have declared a disconnected, got %v", notes)
	}

	// packets from a disconnected peer are ignored
	pushLocal(a.queues[0], 0, 0, input.Up, t)
	a.proto.Poll(1, now.Add(2*time.Second))
	b.proto.Drain(now.Add(2 * time.Second))
	if lc := b.queues[0].LastConfirmed(); lc != input.NullFrame {
		t.Fatalf("b should ignore a after the disconnection, got frame %d", lc)
	}
}

func TestDisconnectNotice(t *testing.T) {
	a, b := newTestPair(testConf, t)
	now := time.Now()

	if err := a.proto.Disconnect("b", now); err != nil {
		t.Fatal(err)
	}
	if notes := a.proto.TakeNotifications(); len(notes) != 0 {
		t.Fatalf("a local disconnection raises no notification, got %v", notes)
	}

	b.proto.Drain(now)
	notes := b.proto.TakeNotifications()
	if len(notes) != 1 || notes[0].Kind != PeerDisconnected {
		t.Fatalf("b should have been told a left, got %v", notes)
	}

	if err := a.proto.Disconnect("nobody", now); !common.Is(err, common.NotConnected) {
		t.Fatalf("disconnecting an unknown peer should fail with NotConnected, got %v", err)
	}
}

func TestChecksumComparison(t *testing.T) {
	a, b := newTestPair(testConf, t)
	now := time.Now()

	// a is ahead: its checksum waits at b until b computes its own
	a.proto.SendChecksum(30, 0xAAAA, now)
	b.proto.Drain(now)
	if notes := b.proto.TakeNotifications(); len(notes) != 0 {
		t.Fatalf("b has no checksum of frame 30 yet, got %v", notes)
	}

	b.proto.SendChecksum(30, 0xBBBB, now)
	notes := b.proto.TakeNotifications()
	if len(notes) != 1 {
		t.Fatalf("b should have compared frame 30, got %v", notes)
	}
	expected := Notification{Kind: ChecksumCompared, Addr: "a", Frame: 30, Local: 0xBBBB, Remote: 0xAAAA}
	if notes[0] != expected {
		t.Fatalf("comparison should be %v, not %v", expected, notes[0])
	}

	// a compares on receipt
	a.proto.Drain(now)
	notes = a.proto.TakeNotifications()
	if len(notes) != 1 || notes[0].Local != 0xAAAA || notes[0].Remote != 0xBBBB {
		t.Fatalf("a should have compared frame 30, got %v", notes)
	}
}

func TestQualityReport(t *testing.T) {
	a, b := newTestPair(testConf, t)
	now := time.Now()
	a.proto.Start(now)
	b.proto.Start(now)

	a.proto.Poll(12, now)
	b.proto.Drain(now.Add(20 * time.Millisecond))
	a.proto.Drain(now.Add(40 * time.Millisecond))

	stats, err := a.proto.Stats("b")
	if err != nil {
		t.Fatal(err)
	}
	if stats.Ping != 40*time.Millisecond {
		t.Fatalf("ping should be 40ms, not %v", stats.Ping)
	}

	stats, _ = b.proto.Stats("a")
	if stats.RemoteFrame != 12 {
		t.Fatalf("b should know a is at frame 12, not %d", stats.RemoteFrame)
	}
}

func TestInputLost(t *testing.T) {
	_, ta := net.NewInmemTransport("a")
	_, tb := net.NewInmemTransport("b")
	net.LinkInmemTransports(ta, tb)

	queues := []*input.Queue{
		input.NewQueue("q0", 4),
		input.NewQueue("q1", 4),
	}
	proto := NewProtocol(testConf, ta, queues, common.NewTestEntry(t, common.TestLogLevel))
	proto.AddRemote("b", 1, []uint32{0})

	now := time.Now()
	proto.Start(now)

	// b never acknowledges, and frames 4 and 5 overwrite frames 0 and 1
	pushLocal(queues[0], 0, 5, input.Up, t)

	proto.Poll(6, now)
	notes := proto.TakeNotifications()
	expected := Notification{Kind: InputLost, Addr: "b", Handle: 0, Frame: 0}
	if len(notes) != 1 || notes[0] != expected {
		t.Fatalf("expected %v, got %v", expected, notes)
	}

	proto.Poll(6, now.Add(time.Millisecond))
	if notes := proto.TakeNotifications(); len(notes) != 0 {
		t.Fatalf("a lost input should be reported once, got %v", notes)
	}
}
