package rollback

import (
	"sync"
	"sync/atomic"
)

// State captures the state of a Scheduler: Running, Stalled, RollingBack or
// Faulted.
type State uint32

const (
	// Running is the state in which the scheduler advances one frame per
	// tick, predicting the inputs it has not received yet.
	Running State = iota

	// Stalled is the state in which the scheduler refuses to advance because
	// it is too far ahead of the slowest remote player.
	Stalled

	// RollingBack is the state in which the scheduler restores an older
	// snapshot and resimulates up to the current frame with corrected inputs.
	RollingBack

	// Faulted is the terminal state entered on an unrecoverable error.
	Faulted
)

// String returns the string representation of a State
func (s State) String() string {
	switch s {
	case Running:
		return "Running"
	case Stalled:
		return "Stalled"
	case RollingBack:
		return "RollingBack"
	case Faulted:
		return "Faulted"
	default:
		return "Unknown"
	}
}

// Manager wraps a State with get and set methods, so that it can be read from
// other goroutines. It also keeps track of the goroutines launched on behalf
// of a session, to wait for all of them to complete.
type Manager struct {
	state State
	wg    sync.WaitGroup
}

// GetState returns the current state.
func (m *Manager) GetState() State {
	stateAddr := (*uint32)(&m.state)
	return State(atomic.LoadUint32(stateAddr))
}

// SetState sets the state.
func (m *Manager) SetState(s State) {
	stateAddr := (*uint32)(&m.state)
	atomic.StoreUint32(stateAddr, uint32(s))
}

// GoFunc launches a goroutine for a given function and increments the
// waitgroup.
func (m *Manager) GoFunc(f func()) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		f()
	}()
}

// WaitRoutines waits for all the goroutines in the waitgroup.
func (m *Manager) WaitRoutines() {
	m.wg.Wait()
}
