package input

import (
	"testing"

	"github.com/mosaicnetworks/rewind/src/common"
)

func TestQueuePredictNeutral(t *testing.T) {
	q := NewQueue("test", 16)

	for f := 0; f < 5; f++ {
		v, predicted, err := q.Get(f)
		if err != nil {
			t.Fatal(err)
		}
		if !predicted {
			t.Fatalf("frame %d should be a prediction", f)
		}
		if v != Neutral {
			t.Fatalf("prediction without history should be NEUTRAL, not %s", v)
		}
	}

	if lr := q.LastRequested(); lr != 4 {
		t.Fatalf("LastRequested should be 4, not %d", lr)
	}
}

func TestQueuePredictRepeatsLastConfirmed(t *testing.T) {
	q := NewQueue("test", 16)

	for f := 0; f <= 3; f++ {
		if err := q.PushConfirmed(f, Up); err != nil {
			t.Fatal(err)
		}
	}

	for _, f := range []int{4, 7, 20} {
		if p := q.Predict(f); p != Up {
			t.Fatalf("prediction for frame %d should be UP, not %s", f, p)
		}
	}

	v, predicted, err := q.Get(2)
	if err != nil {
		t.Fatal(err)
	}
	if predicted || v != Up {
		t.Fatalf("frame 2 should be confirmed UP, got %s predicted=%v", v, predicted)
	}
}

func TestQueuePushOrdering(t *testing.T) {
	q := NewQueue("test", 16)

	if err := q.PushConfirmed(1, Up); !common.Is(err, common.SkippedFrame) {
		t.Fatalf("pushing frame 1 on an empty queue should fail with SkippedFrame, got %v", err)
	}

	if err := q.PushConfirmed(0, Up); err != nil {
		t.Fatal(err)
	}

	if err := q.PushConfirmed(0, Down); !common.Is(err, common.OutOfOrderInput) {
		t.Fatalf("pushing frame 0 twice should fail with OutOfOrderInput, got %v", err)
	}

	if err := q.PushConfirmed(3, Down); !common.Is(err, common.SkippedFrame) {
		t.Fatalf("pushing frame 3 after 0 should fail with SkippedFrame, got %v", err)
	}

	if lc := q.LastConfirmed(); lc != 0 {
		t.Fatalf("LastConfirmed should still be 0, not %d", lc)
	}

	v, _, _ := q.Get(0)
	if v != Up {
		t.Fatalf("rejected pushes should not alter frame 0, got %s", v)
	}
}

func TestQueueFirstIncorrectFrame(t *testing.T) {
	q := NewQueue("test", 16)

	for f := 0; f <= 5; f++ {
		if _, _, err := q.Get(f); err != nil {
			t.Fatal(err)
		}
	}

	// Correct predictions leave no mark.
	for f := 0; f <= 2; f++ {
		if err := q.PushConfirmed(f, Neutral); err != nil {
			t.Fatal(err)
		}
	}
	if fi := q.FirstIncorrectFrame(); fi != NullFrame {
		t.Fatalf("FirstIncorrectFrame should be NullFrame, not %d", fi)
	}

	if err := q.PushConfirmed(3, Left); err != nil {
		t.Fatal(err)
	}
	if err := q.PushConfirmed(4, Right); err != nil {
		t.Fatal(err)
	}

	if fi := q.FirstIncorrectFrame(); fi != 3 {
		t.Fatalf("FirstIncorrectFrame should be 3, not %d", fi)
	}

	if fi := q.TakeFirstIncorrectFrame(); fi != 3 {
		t.Fatalf("TakeFirstIncorrectFrame should return 3, not %d", fi)
	}
	if fi := q.FirstIncorrectFrame(); fi != NullFrame {
		t.Fatalf("FirstIncorrectFrame should be cleared, not %d", fi)
	}

	// Frame 5 was predicted NEUTRAL before frames 3 and 4 arrived.
	if err := q.PushConfirmed(5, Right); err != nil {
		t.Fatal(err)
	}
	if fi := q.FirstIncorrectFrame(); fi != 5 {
		t.Fatalf("FirstIncorrectFrame should be 5, not %d", fi)
	}
}

func TestQueueConfirmedWithoutPrediction(t *testing.T) {
	q := NewQueue("test", 16)

	if err := q.PushConfirmed(0, Down); err != nil {
		t.Fatal(err)
	}
	if fi := q.FirstIncorrectFrame(); fi != NullFrame {
		t.Fatalf("a confirmation that was never predicted should not be marked, got %d", fi)
	}
}

func TestQueueTooLate(t *testing.T) {
	q := NewQueue("test", 4)

	for f := 0; f < 10; f++ {
		if err := q.PushConfirmed(f, Up); err != nil {
			t.Fatal(err)
		}
	}

	if _, _, err := q.Get(2); !common.Is(err, common.TooLate) {
		t.Fatalf("frame 2 should have left the ring, got %v", err)
	}
	if _, _, err := q.Get(-3); !common.Is(err, common.TooLate) {
		t.Fatalf("negative frames should fail with TooLate, got %v", err)
	}
	if _, _, err := q.Get(8); err != nil {
		t.Fatal(err)
	}
}

func TestQueueDisconnect(t *testing.T) {
	q := NewQueue("test", 16)

	if err := q.PushConfirmed(0, Up); err != nil {
		t.Fatal(err)
	}
	for f := 0; f <= 3; f++ {
		if _, _, err := q.Get(f); err != nil {
			t.Fatal(err)
		}
	}

	if from := q.Disconnect(); from != 1 {
		t.Fatalf("Disconnect should freeze from frame 1, not %d", from)
	}
	if !q.Disconnected() {
		t.Fatal("queue should report disconnected")
	}

	// Frames 1-3 were served UP and are now NEUTRAL.
	if fi := q.FirstIncorrectFrame(); fi != 1 {
		t.Fatalf("FirstIncorrectFrame should be 1, not %d", fi)
	}

	v, predicted, err := q.Get(2)
	if err != nil {
		t.Fatal(err)
	}
	if predicted || v != Neutral {
		t.Fatalf("frozen frames should be confirmed NEUTRAL, got %s predicted=%v", v, predicted)
	}

	if err := q.PushConfirmed(1, Up); !common.Is(err, common.OutOfOrderInput) {
		t.Fatalf("pushes after Disconnect should be dropped, got %v", err)
	}

	if from := q.Disconnect(); from != 1 {
		t.Fatalf("a second Disconnect should be a no-op, got %d", from)
	}
}

func TestQueueConfirmed(t *testing.T) {
	q := NewQueue("test", 16)

	if _, ok := q.Confirmed(0); ok {
		t.Fatal("frame 0 should not be confirmed yet")
	}

	q.PushConfirmed(0, Left)
	q.Get(1)

	if v, ok := q.Confirmed(0); !ok || v != Left {
		t.Fatalf("frame 0 should be confirmed LEFT, got %s %v", v, ok)
	}
	if _, ok := q.Confirmed(1); ok {
		t.Fatal("a served prediction is not a confirmation")
	}

	q.Disconnect()
	if v, ok := q.Confirmed(5); !ok || v != Neutral {
		t.Fatalf("frozen frames should be confirmed NEUTRAL, got %s %v", v, ok)
	}
}
