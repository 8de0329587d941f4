package rollback

import (
	"fmt"
	"strconv"

	"github.com/mosaicnetworks/rewind/src/app"
	"github.com/mosaicnetworks/rewind/src/common"
	"github.com/mosaicnetworks/rewind/src/input"
	"github.com/mosaicnetworks/rewind/src/snapshot"
	"github.com/sirupsen/logrus"
)

// Reason explains why a Scheduler faulted.
type Reason int

const (
	// NoFault is the reason of a scheduler that has not faulted.
	NoFault Reason = iota
	// SnapshotMissing means a rollback target has left the snapshot ring.
	SnapshotMissing
	// DesyncTolerance means too many consecutive checksums disagreed.
	DesyncTolerance
	// PlayerDisconnected means a player left a session that requires all
	// players.
	PlayerDisconnected
	// InputUnavailable means an input needed for a frame has left its queue.
	InputUnavailable
)

// String returns the string representation of a Reason
func (r Reason) String() string {
	switch r {
	case NoFault:
		return "NoFault"
	case SnapshotMissing:
		return "SnapshotMissing"
	case DesyncTolerance:
		return "DesyncTolerance"
	case PlayerDisconnected:
		return "PlayerDisconnected"
	case InputUnavailable:
		return "InputUnavailable"
	default:
		return "Unknown"
	}
}

// MarshalText encodes a Reason as its name.
func (r Reason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// Config holds the tunables of a Scheduler.
type Config struct {
	// MaxPredictionWindow is how many frames we may run ahead of the last
	// input confirmed by the slowest remote player.
	MaxPredictionWindow int
	// InputDelay is the number of frames between sampling a local input and
	// simulating it.
	InputDelay int
	// DesyncTolerance is the number of consecutive checksum mismatches that
	// are tolerated before faulting.
	DesyncTolerance int
	// ChecksumInterval is the period, in frames, of checksum exchanges. 0
	// disables them.
	ChecksumInterval int
}

// Rollback describes a rollback: the simulation was at frame From and
// resimulated from frame To.
type Rollback struct {
	From int
	To   int
}

// Checksum is the checksum of a final snapshot, ready to be compared with the
// peers.
type Checksum struct {
	Frame    int
	Checksum uint64
}

// Result reports what a Tick did.
type Result struct {
	// Frame is the current frame after the tick.
	Frame int
	// Advanced is true if a new frame was simulated.
	Advanced bool
	// Rollback is set if predictions were corrected.
	Rollback *Rollback
	// Stalled is true if the tick did not advance because of the prediction
	// window, and Horizon is then the slowest remote player's last
	// confirmed frame.
	Stalled bool
	Horizon int
	// Checksums are the snapshots that became final for every player.
	Checksums []Checksum
}

// Scheduler is the rollback state machine. It advances the simulation on
// confirmed or predicted inputs, rolls back and resimulates when predictions
// turn out wrong, and stalls when it gets too far ahead of remote players.
//
// Tick must be called from a single goroutine. The input queues may be fed
// concurrently.
type Scheduler struct {
	Manager

	conf   Config
	sim    app.Simulation
	store  snapshot.Store
	queues []*input.Queue
	local  []bool

	current      int
	state        app.State
	lastInputs   []input.Frame
	nextChecksum int

	desyncs  int
	reason   Reason
	faultErr error

	logger *logrus.Entry
}

// NewScheduler creates a Scheduler. queues and local are indexed by player
// handle; local marks the players whose inputs are sampled on this machine.
func NewScheduler(
	conf Config,
	sim app.Simulation,
	store snapshot.Store,
	queues []*input.Queue,
	local []bool,
	logger *logrus.Entry,
) (*Scheduler, error) {
	if conf.MaxPredictionWindow < 0 {
		return nil, common.NewErr("Scheduler", common.Configuration,
			fmt.Sprintf("MaxPredictionWindow=%d", conf.MaxPredictionWindow))
	}
	if conf.InputDelay < 0 {
		return nil, common.NewErr("Scheduler", common.Configuration,
			fmt.Sprintf("InputDelay=%d", conf.InputDelay))
	}
	if store.Capacity() < conf.MaxPredictionWindow+2 {
		return nil, common.NewErr("Scheduler", common.Configuration,
			fmt.Sprintf("SnapshotCapacity=%d < MaxPredictionWindow+2=%d", store.Capacity(), conf.MaxPredictionWindow+2))
	}
	if len(queues) != len(local) {
		return nil, common.NewErr("Scheduler", common.Configuration, "queues")
	}

	return &Scheduler{
		conf:       conf,
		sim:        sim,
		store:      store,
		queues:     queues,
		local:      local,
		lastInputs: make([]input.Frame, len(queues)),
		logger:     logger,
	}, nil
}

// Start saves the snapshot of frame 0 and fills the input delay of local
// players with neutral inputs.
func (s *Scheduler) Start() error {
	s.state = s.sim.Initial()

	if _, err := s.save(0, s.state); err != nil {
		return err
	}

	for h, q := range s.queues {
		if !s.local[h] {
			continue
		}
		for f := 0; f < s.conf.InputDelay; f++ {
			if err := q.PushConfirmed(f, input.Neutral); err != nil {
				return err
			}
		}
	}

	s.current = 0
	s.nextChecksum = s.conf.ChecksumInterval
	s.SetState(Running)

	return nil
}

// Tick runs one step of the state machine. local holds the inputs sampled
// this tick for the local players; missing players are Neutral.
func (s *Scheduler) Tick(local map[uint32]input.Frame) (Result, error) {
	if s.GetState() == Faulted {
		return Result{Frame: s.current}, s.faultError()
	}

	// Snapshots up to the confirmed frame are final once the rollback
	// below has run.
	confirmed := s.ConfirmedFrame()

	res := Result{}

	if k := s.firstIncorrectFrame(); k != input.NullFrame && k < s.current {
		res.Rollback = &Rollback{From: s.current, To: k}
		if err := s.rollback(k); err != nil {
			res.Frame = s.current
			return res, err
		}
	}

	if horizon, ok := s.remoteHorizon(); ok && s.current-horizon > s.conf.MaxPredictionWindow {
		s.SetState(Stalled)
		s.logger.WithFields(logrus.Fields{
			"frame":   s.current,
			"horizon": horizon,
		}).Debug("Stalled")

		res.Frame = s.current
		res.Stalled = true
		res.Horizon = horizon
		res.Checksums = s.checksums(confirmed)
		return res, nil
	}

	s.SetState(Running)

	if err := s.pushLocal(local); err != nil {
		res.Frame = s.current
		return res, err
	}

	if err := s.advance(); err != nil {
		res.Frame = s.current
		return res, err
	}

	res.Frame = s.current
	res.Advanced = true
	res.Checksums = s.checksums(confirmed)

	return res, nil
}

func (s *Scheduler) firstIncorrectFrame() int {
	first := input.NullFrame
	for _, q := range s.queues {
		if f := q.TakeFirstIncorrectFrame(); f != input.NullFrame && (first == input.NullFrame || f < first) {
			first = f
		}
	}
	return first
}

// rollback restores the snapshot at the start of frame k and resimulates
// every frame up to the current one.
func (s *Scheduler) rollback(k int) error {
	s.SetState(RollingBack)

	s.logger.WithFields(logrus.Fields{
		"from": s.current,
		"to":   k,
	}).Debug("Rolling back")

	snap, err := s.store.Load(k)
	if err != nil {
		return s.fault(SnapshotMissing, err)
	}

	state, err := s.sim.Deserialize(snap.State)
	if err != nil {
		return fmt.Errorf("restoring frame %d: %w", k, err)
	}

	for f := k; f < s.current; f++ {
		inputs, err := s.gather(f)
		if err != nil {
			return s.fault(InputUnavailable, err)
		}

		state, err = s.sim.Advance(state, inputs)
		if err != nil {
			return fmt.Errorf("resimulating frame %d: %w", f, err)
		}

		if _, err := s.save(f+1, state); err != nil {
			return err
		}

		s.lastInputs = inputs
	}

	s.state = state
	s.SetState(Running)

	return nil
}

func (s *Scheduler) pushLocal(local map[uint32]input.Frame) error {
	frame := s.current + s.conf.InputDelay

	for h, q := range s.queues {
		if !s.local[h] || q.LastConfirmed() >= frame {
			continue
		}
		if err := q.PushConfirmed(frame, local[uint32(h)]); err != nil {
			return err
		}
	}

	return nil
}

// advance simulates the current frame and saves the resulting state as the
// snapshot of the next one.
func (s *Scheduler) advance() error {
	inputs, err := s.gather(s.current)
	if err != nil {
		return s.fault(InputUnavailable, err)
	}

	state, err := s.sim.Advance(s.state, inputs)
	if err != nil {
		return fmt.Errorf("simulating frame %d: %w", s.current, err)
	}

	if _, err := s.save(s.current+1, state); err != nil {
		return err
	}

	s.state = state
	s.lastInputs = inputs
	s.current++

	return nil
}

func (s *Scheduler) gather(frame int) ([]input.Frame, error) {
	inputs := make([]input.Frame, len(s.queues))
	for h, q := range s.queues {
		v, _, err := q.Get(frame)
		if err != nil {
			return nil, err
		}
		inputs[h] = v
	}
	return inputs, nil
}

func (s *Scheduler) save(frame int, state app.State) (*snapshot.Snapshot, error) {
	data, err := s.sim.Serialize(state)
	if err != nil {
		return nil, fmt.Errorf("serializing frame %d: %w", frame, err)
	}
	return s.store.Save(frame, data)
}

// checksums returns the checksum snapshots that are final given that every
// input up to confirmed is known.
func (s *Scheduler) checksums(confirmed int) []Checksum {
	if s.conf.ChecksumInterval <= 0 {
		return nil
	}

	var res []Checksum
	for s.nextChecksum <= s.current && s.nextChecksum-1 <= confirmed {
		snap, err := s.store.Load(s.nextChecksum)
		if err != nil {
			s.logger.WithField("frame", s.nextChecksum).WithError(err).Warn("Skipping checksum")
		} else {
			res = append(res, Checksum{Frame: snap.Frame, Checksum: snap.Checksum})
		}
		s.nextChecksum += s.conf.ChecksumInterval
	}
	return res
}

// RecordChecksum compares our checksum of a frame with a peer's. Consecutive
// mismatches beyond DesyncTolerance fault the scheduler. It reports whether
// the checksums matched.
func (s *Scheduler) RecordChecksum(frame int, local, remote uint64) (bool, error) {
	if local == remote {
		s.desyncs = 0
		return true, nil
	}

	s.desyncs++

	s.logger.WithFields(logrus.Fields{
		"frame":  frame,
		"local":  local,
		"remote": remote,
		"count":  s.desyncs,
	}).Warn("Desync")

	if s.desyncs > s.conf.DesyncTolerance {
		return false, s.fault(DesyncTolerance, nil)
	}

	return false, nil
}

// Fault puts the scheduler in the terminal Faulted state. Only the first
// reason is kept.
func (s *Scheduler) Fault(reason Reason, err error) error {
	return s.fault(reason, err)
}

func (s *Scheduler) fault(reason Reason, err error) error {
	if s.GetState() != Faulted {
		s.reason = reason
		s.faultErr = err
		s.SetState(Faulted)

		entry := s.logger.WithFields(logrus.Fields{
			"frame":  s.current,
			"reason": reason,
		})
		if err != nil {
			entry = entry.WithError(err)
		}
		entry.Error("Scheduler faulted")
	}
	return s.faultError()
}

func (s *Scheduler) faultError() error {
	e := common.NewErr("Scheduler", common.Faulted, s.reason.String())
	if s.faultErr != nil {
		return fmt.Errorf("%w: %v", e, s.faultErr)
	}
	return e
}

// Reason returns why the scheduler faulted, or NoFault.
func (s *Scheduler) Reason() Reason {
	return s.reason
}

// remoteHorizon is the lowest last confirmed frame of the remote players that
// are still connected. It reports false if there are none.
func (s *Scheduler) remoteHorizon() (int, bool) {
	horizon, ok := 0, false
	for h, q := range s.queues {
		if s.local[h] || q.Disconnected() {
			continue
		}
		if lc := q.LastConfirmed(); !ok || lc < horizon {
			horizon, ok = lc, true
		}
	}
	return horizon, ok
}

// ConfirmedFrame is the last frame for which the inputs of every connected
// player are known.
func (s *Scheduler) ConfirmedFrame() int {
	confirmed, ok := 0, false
	for _, q := range s.queues {
		if q.Disconnected() {
			continue
		}
		if lc := q.LastConfirmed(); !ok || lc < confirmed {
			confirmed, ok = lc, true
		}
	}
	if !ok || confirmed > s.current-1 {
		return s.current - 1
	}
	return confirmed
}

// CurrentFrame is the next frame to simulate.
func (s *Scheduler) CurrentFrame() int {
	return s.current
}

// State returns the simulation state at the start of the current frame.
func (s *Scheduler) State() app.State {
	return s.state
}

// CurrentInputs returns the input of a player used for the last simulated
// frame.
func (s *Scheduler) CurrentInputs(handle uint32) (input.Frame, error) {
	if int(handle) >= len(s.lastInputs) {
		return input.Neutral, common.NewErr("Scheduler", common.UnknownPlayer, strconv.Itoa(int(handle)))
	}
	return s.lastInputs[handle], nil
}
