package input

import (
	"strconv"
	"sync"

	"github.com/mosaicnetworks/rewind/src/common"
)

// DefaultQueueLength is the number of frames a Queue retains.
const DefaultQueueLength = 128

type slot struct {
	frame     int
	value     Frame
	confirmed bool

	// served is set when a prediction for this frame was handed out, and
	// predicted holds the value that was handed out.
	served    bool
	predicted Frame
}

// Queue is the ordered buffer of one player's inputs. The network path pushes
// confirmations while the tick path reads, so every method takes the lock.
type Queue struct {
	sync.Mutex

	name  string
	slots []slot

	lastConfirmed int
	lastRequested int
	lastInput     Frame
	hasInput      bool

	firstIncorrect int

	disconnected bool
	frozenFrom   int
}

// NewQueue creates a Queue retaining length frames.
func NewQueue(name string, length int) *Queue {
	if length <= 0 {
		length = DefaultQueueLength
	}
	q := &Queue{
		name:           name,
		slots:          make([]slot, length),
		lastConfirmed:  NullFrame,
		lastRequested:  NullFrame,
		firstIncorrect: NullFrame,
		frozenFrom:     NullFrame,
	}
	for i := range q.slots {
		q.slots[i].frame = NullFrame
	}
	return q
}

func (q *Queue) slot(frame int) *slot {
	return &q.slots[frame%len(q.slots)]
}

// PushConfirmed records the definitive input of frame. Inputs must arrive in
// frame order without gaps: a frame at or before the last confirmed one fails
// with OutOfOrderInput and a frame past LastConfirmed()+1 fails with
// SkippedFrame. Both are recoverable and leave the queue unchanged.
func (q *Queue) PushConfirmed(frame int, value Frame) error {
	q.Lock()
	defer q.Unlock()

	if q.disconnected || frame <= q.lastConfirmed {
		return common.NewErr(q.name, common.OutOfOrderInput, strconv.Itoa(frame))
	}
	if frame != q.lastConfirmed+1 {
		return common.NewErr(q.name, common.SkippedFrame, strconv.Itoa(frame))
	}

	s := q.slot(frame)
	if s.frame == frame && s.served && s.predicted != value {
		if q.firstIncorrect == NullFrame || frame < q.firstIncorrect {
			q.firstIncorrect = frame
		}
	}

	*s = slot{
		frame:     frame,
		value:     value,
		confirmed: true,
	}

	q.lastConfirmed = frame
	q.lastInput = value
	q.hasInput = true

	return nil
}

// Predict returns the input assumed for an unconfirmed frame: the most
// recently confirmed input, or Neutral if nothing was ever confirmed.
func (q *Queue) Predict(frame int) Frame {
	q.Lock()
	defer q.Unlock()
	return q.predict(frame)
}

func (q *Queue) predict(frame int) Frame {
	if q.disconnected && frame >= q.frozenFrom {
		return Neutral
	}
	if q.hasInput {
		return q.lastInput
	}
	return Neutral
}

// Get returns the input to simulate frame with, and whether it is a
// prediction that may later be corrected.
func (q *Queue) Get(frame int) (Frame, bool, error) {
	q.Lock()
	defer q.Unlock()

	if frame < 0 {
		return Neutral, false, common.NewErr(q.name, common.TooLate, strconv.Itoa(frame))
	}

	if frame > q.lastRequested {
		q.lastRequested = frame
	}

	if q.disconnected && frame >= q.frozenFrom {
		return Neutral, false, nil
	}

	s := q.slot(frame)

	if frame <= q.lastConfirmed {
		if s.frame != frame || !s.confirmed {
			return Neutral, false, common.NewErr(q.name, common.TooLate, strconv.Itoa(frame))
		}
		return s.value, false, nil
	}

	prediction := q.predict(frame)
	if s.frame != frame {
		*s = slot{frame: frame}
	}
	s.served = true
	s.predicted = prediction

	return prediction, true, nil
}

// Confirmed returns the confirmed input of frame without recording a
// request. It reports false if frame is not confirmed or has left the ring.
func (q *Queue) Confirmed(frame int) (Frame, bool) {
	q.Lock()
	defer q.Unlock()

	if frame < 0 {
		return Neutral, false
	}
	if q.disconnected && frame >= q.frozenFrom {
		return Neutral, true
	}
	if frame > q.lastConfirmed {
		return Neutral, false
	}

	s := q.slot(frame)
	if s.frame != frame || !s.confirmed {
		return Neutral, false
	}
	return s.value, true
}

// Disconnect freezes the queue. Every frame after the last confirmed one is
// from now on a confirmed Neutral input, and predictions already handed out
// for those frames are checked against it. It returns the first frozen frame.
func (q *Queue) Disconnect() int {
	q.Lock()
	defer q.Unlock()

	if q.disconnected {
		return q.frozenFrom
	}

	q.disconnected = true
	q.frozenFrom = q.lastConfirmed + 1

	for f := q.frozenFrom; f <= q.lastRequested; f++ {
		s := q.slot(f)
		if s.frame == f && s.served && s.predicted != Neutral {
			if q.firstIncorrect == NullFrame || f < q.firstIncorrect {
				q.firstIncorrect = f
			}
			break
		}
	}

	return q.frozenFrom
}

// Disconnected reports whether Disconnect was called.
func (q *Queue) Disconnected() bool {
	q.Lock()
	defer q.Unlock()
	return q.disconnected
}

// LastConfirmed returns the highest confirmed frame, or NullFrame.
func (q *Queue) LastConfirmed() int {
	q.Lock()
	defer q.Unlock()
	return q.lastConfirmed
}

// LastRequested returns the highest frame handed out by Get, or NullFrame.
func (q *Queue) LastRequested() int {
	q.Lock()
	defer q.Unlock()
	return q.lastRequested
}

// FirstIncorrectFrame returns the earliest frame whose served prediction was
// contradicted by a confirmation, or NullFrame.
func (q *Queue) FirstIncorrectFrame() int {
	q.Lock()
	defer q.Unlock()
	return q.firstIncorrect
}

// TakeFirstIncorrectFrame returns FirstIncorrectFrame and clears it in the
// same critical section, so a correction that races with a rollback is never
// lost.
func (q *Queue) TakeFirstIncorrectFrame() int {
	q.Lock()
	defer q.Unlock()
	f := q.firstIncorrect
	q.firstIncorrect = NullFrame
	return f
}
