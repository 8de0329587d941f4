package session

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/mosaicnetworks/rewind/src/app"
	"github.com/mosaicnetworks/rewind/src/common"
	"github.com/mosaicnetworks/rewind/src/config"
	"github.com/mosaicnetworks/rewind/src/input"
	"github.com/mosaicnetworks/rewind/src/net"
	"github.com/mosaicnetworks/rewind/src/protocol"
	"github.com/mosaicnetworks/rewind/src/rollback"
	"github.com/mosaicnetworks/rewind/src/snapshot"
	"github.com/sirupsen/logrus"
)

// Session is the object a host application drives. Players are added before
// Start; afterwards every call to AdvanceFrame or Tick runs one step of the
// rollback scheduler and reports what happened as a list of Events.
//
// The session owns its input queues and its snapshot store. The transport
// belongs to the caller, who must connect it to every remote address before
// Start.
type Session struct {
	mu sync.Mutex

	conf    *config.Config
	sim     app.Simulation
	sampler app.InputSampler
	trans   net.Transport
	store   snapshot.Store

	players      []Player
	addrHandles  map[string][]PlayerHandle
	disconnected map[PlayerHandle]bool
	started      bool
	closed       bool

	queues []*input.Queue
	proto  *protocol.Protocol
	sched  *rollback.Scheduler

	pending       []Event
	faultReported bool
	lastTimeSync  time.Time

	metrics *Metrics
	logger  *logrus.Entry
}

// NewSession creates a session. sampler may be nil if the host only uses
// AdvanceFrame.
func NewSession(
	conf *config.Config,
	sim app.Simulation,
	sampler app.InputSampler,
	trans net.Transport,
	store snapshot.Store,
) *Session {
	return &Session{
		conf:         conf,
		sim:          sim,
		sampler:      sampler,
		trans:        trans,
		store:        store,
		addrHandles:  make(map[string][]PlayerHandle),
		disconnected: make(map[PlayerHandle]bool),
		metrics:      newMetrics(),
		logger:       conf.Logger().WithField("this_addr", trans.AdvertiseAddr()),
	}
}

// AddPlayer registers a player and returns its handle. Spectators must be
// added after every other player.
func (s *Session) AddPlayer(p Player) (PlayerHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return 0, common.NewErr("Session", common.SessionAlreadyStarted, "AddPlayer")
	}

	switch p.Kind {
	case Local:
		p.Addr = ""
	case Remote, Spectator:
		if p.Addr == "" {
			return 0, common.NewErr("Session", common.Configuration, p.Kind.String()+" player without address")
		}
	default:
		return 0, common.NewErr("Session", common.Configuration, "player kind "+strconv.Itoa(int(p.Kind)))
	}

	if p.Kind != Spectator && len(s.players) > 0 && s.players[len(s.players)-1].Kind == Spectator {
		return 0, common.NewErr("Session", common.Configuration, "player added after a spectator")
	}

	handle := PlayerHandle(len(s.players))
	s.players = append(s.players, p)

	s.logger.WithFields(logrus.Fields{
		"handle": handle,
		"kind":   p.Kind,
		"addr":   p.Addr,
	}).Debug("Player added")

	return handle, nil
}

// Start validates the players and the configuration, saves the snapshot of
// frame 0, and starts exchanging packets with the peers.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return common.NewErr("Session", common.SessionAlreadyStarted, "Start")
	}

	var localHandles, playerHandles []uint32
	for h, p := range s.players {
		switch p.Kind {
		case Local:
			localHandles = append(localHandles, uint32(h))
			playerHandles = append(playerHandles, uint32(h))
		case Remote:
			playerHandles = append(playerHandles, uint32(h))
		}
		if p.Kind != Local && !s.trans.Connected(p.Addr) {
			return common.NewErr("Session", common.Configuration, "not connected to "+p.Addr)
		}
	}

	if len(playerHandles) < 2 {
		return common.NewErr("Session", common.Configuration,
			fmt.Sprintf("%d players, need at least 2", len(playerHandles)))
	}

	// a queue must hold every input a peer may not have acknowledged yet:
	// both sides can each run MaxPredictionWindow+InputDelay frames past the
	// other's last acknowledgement
	minQueue := 2*(s.conf.MaxPredictionWindow+s.conf.InputDelay) + 2
	if s.conf.InputQueueLength < minQueue {
		return common.NewErr("Session", common.Configuration,
			fmt.Sprintf("InputQueueLength=%d < %d", s.conf.InputQueueLength, minQueue))
	}

	queues := make([]*input.Queue, len(playerHandles))
	local := make([]bool, len(playerHandles))
	for _, h := range playerHandles {
		queues[h] = input.NewQueue(fmt.Sprintf("InputQueue[%d]", h), s.conf.InputQueueLength)
		local[h] = s.players[h].Kind == Local
	}

	sched, err := rollback.NewScheduler(
		rollback.Config{
			MaxPredictionWindow: s.conf.MaxPredictionWindow,
			InputDelay:          s.conf.InputDelay,
			DesyncTolerance:     s.conf.DesyncTolerance,
			ChecksumInterval:    s.conf.ChecksumInterval,
		},
		s.sim,
		s.store,
		queues,
		local,
		s.logger.WithField("component", "scheduler"),
	)
	if err != nil {
		return err
	}

	proto := protocol.NewProtocol(
		protocol.Config{
			InputRedundancy:       s.conf.InputRedundancy,
			DisconnectTimeout:     s.conf.DisconnectTimeout,
			KeepAliveInterval:     s.conf.KeepAliveInterval,
			QualityReportInterval: s.conf.QualityReportInterval,
		},
		s.trans,
		queues,
		s.logger.WithField("component", "protocol"),
	)

	for h, p := range s.players {
		switch p.Kind {
		case Remote:
			proto.AddRemote(p.Addr, uint32(h), localHandles)
		case Spectator:
			proto.AddSpectator(p.Addr, playerHandles)
		default:
			continue
		}
		s.addrHandles[p.Addr] = append(s.addrHandles[p.Addr], PlayerHandle(h))
	}

	if err := sched.Start(); err != nil {
		return err
	}

	now := time.Now()
	proto.Start(now)

	s.queues = queues
	s.sched = sched
	s.proto = proto
	s.lastTimeSync = now
	s.started = true

	if s.conf.AsyncReceive {
		sched.GoFunc(proto.Receive)
	}

	s.logger.WithFields(logrus.Fields{
		"players":    len(playerHandles),
		"spectators": len(s.players) - len(playerHandles),
		"window":     s.conf.MaxPredictionWindow,
		"delay":      s.conf.InputDelay,
	}).Info("Session started")

	return nil
}

// AdvanceFrame runs one step of the session with the inputs sampled for the
// local players. Local players missing from local get a neutral input.
//
// Once the session has faulted, AdvanceFrame reports SessionFaulted once and
// then keeps returning a Faulted error.
func (s *Session) AdvanceFrame(local map[PlayerHandle]input.Frame) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.advanceFrame(local)
}

// Tick samples every local player through the session's InputSampler and
// advances the session by one step.
func (s *Session) Tick() ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sampler == nil {
		return nil, common.NewErr("Session", common.Configuration, "no input sampler")
	}

	local := make(map[PlayerHandle]input.Frame)
	for h, p := range s.players {
		if p.Kind == Local {
			local[PlayerHandle(h)] = s.sampler.Sample(uint32(h))
		}
	}

	return s.advanceFrame(local)
}

func (s *Session) advanceFrame(local map[PlayerHandle]input.Frame) ([]Event, error) {
	if err := s.checkRunning(); err != nil {
		return nil, err
	}

	inputs := make(map[uint32]input.Frame, len(local))
	for h, v := range local {
		if int(h) >= len(s.players) || s.players[h].Kind != Local {
			return nil, common.NewErr("Session", common.UnknownPlayer, fmt.Sprintf("local player %d", h))
		}
		inputs[uint32(h)] = v
	}

	now := time.Now()

	events := s.pending
	s.pending = nil

	if !s.conf.AsyncReceive {
		s.proto.Drain(now)
	}

	events, err := s.handleNotifications(events)
	if err != nil {
		return s.faulted(events, err)
	}

	res, err := s.sched.Tick(inputs)

	if res.Rollback != nil {
		events = append(events, RollbackOccurred{
			FromFrame: res.Rollback.From,
			ToFrame:   res.Rollback.To,
		})
		s.metrics.rollbacks.Inc()
		s.metrics.rollbackDepth.Observe(float64(res.Rollback.From - res.Rollback.To))
	}

	if err != nil {
		return s.faulted(events, err)
	}

	if res.Stalled {
		events = append(events, Stalled{Frame: res.Frame, Horizon: res.Horizon})
		s.metrics.stalls.Inc()
	}

	if res.Advanced {
		events = append(events, FrameAdvanced{Frame: res.Frame - 1})
		s.metrics.framesAdvanced.Inc()
	}

	for _, c := range res.Checksums {
		s.proto.SendChecksum(c.Frame, c.Checksum, now)
	}

	s.proto.Poll(s.sched.CurrentFrame(), now)

	if ts, ok := s.timeSync(now); ok {
		events = append(events, ts)
	}

	s.metrics.currentFrame.Set(float64(s.sched.CurrentFrame()))
	s.metrics.confirmedFrame.Set(float64(s.sched.ConfirmedFrame()))

	return events, nil
}

// faulted appends SessionFaulted the first time the scheduler is seen in its
// terminal state.
func (s *Session) faulted(events []Event, err error) ([]Event, error) {
	if s.sched.GetState() == rollback.Faulted && !s.faultReported {
		s.faultReported = true
		events = append(events, SessionFaulted{Reason: s.sched.Reason()})
	}
	return events, err
}

func (s *Session) handleNotifications(events []Event) ([]Event, error) {
	for _, n := range s.proto.TakeNotifications() {
		switch n.Kind {
		case protocol.PeerDisconnected:
			var err error
			events, err = s.disconnectAddr(n.Addr, events)
			if err != nil {
				return events, err
			}
		case protocol.ChecksumCompared:
			match, err := s.sched.RecordChecksum(n.Frame, n.Local, n.Remote)
			if !match {
				events = append(events, Desync{
					Frame:  n.Frame,
					Local:  n.Local,
					Remote: n.Remote,
				})
				s.metrics.desyncs.Inc()
			}
			if err != nil {
				return events, err
			}
		case protocol.InputLost:
			return events, s.sched.Fault(rollback.InputUnavailable,
				fmt.Errorf("input %d of player %d for %s left its queue", n.Frame, n.Handle, n.Addr))
		}
	}
	return events, nil
}

// disconnectAddr freezes the inputs of every player at addr to neutral.
func (s *Session) disconnectAddr(addr string, events []Event) ([]Event, error) {
	lostPlayer := false

	for _, h := range s.addrHandles[addr] {
		if s.disconnected[h] {
			continue
		}
		s.disconnected[h] = true

		if s.players[h].Kind == Remote {
			from := s.queues[h].Disconnect()
			lostPlayer = true

			s.logger.WithFields(logrus.Fields{
				"handle": h,
				"addr":   addr,
				"frozen": from,
			}).Warn("Player disconnected")
		}

		events = append(events, PlayerDisconnected{Handle: h})
		s.metrics.disconnects.Inc()
	}

	if lostPlayer && s.conf.AllPlayersRequired {
		return events, s.sched.Fault(rollback.PlayerDisconnected, nil)
	}

	return events, nil
}

// timeSync estimates how many frames we run ahead of the slowest peer, once
// every QualityReportInterval.
func (s *Session) timeSync(now time.Time) (TimeSync, bool) {
	if s.conf.QualityReportInterval <= 0 || now.Sub(s.lastTimeSync) < s.conf.QualityReportInterval {
		return TimeSync{}, false
	}
	s.lastTimeSync = now

	frame := s.conf.FrameDuration()
	current := s.sched.CurrentFrame()
	ahead := 0

	for _, ep := range s.proto.Endpoints() {
		if ep.Spectator() {
			continue
		}
		stats, err := s.proto.Stats(ep.Addr())
		if err != nil || stats.Disconnected || stats.RemoteFrame == input.NullFrame {
			continue
		}
		// the peer has moved on by half a round trip since it told us its
		// frame
		remote := stats.RemoteFrame + int(stats.Ping/(2*frame))
		if d := current - remote; d > ahead {
			ahead = d
		}
	}

	s.metrics.framesAhead.Set(float64(ahead))

	if ahead == 0 {
		return TimeSync{}, false
	}
	return TimeSync{FramesAhead: ahead}, true
}

func (s *Session) checkRunning() error {
	if !s.started || s.closed {
		return common.NewErr("Session", common.NotStarted, "")
	}
	return nil
}

func (s *Session) player(handle PlayerHandle) (Player, error) {
	if int(handle) >= len(s.players) {
		return Player{}, common.NewErr("Session", common.UnknownPlayer, strconv.Itoa(int(handle)))
	}
	return s.players[handle], nil
}

// CurrentInputs returns the input of a player used to simulate the last
// advanced frame, confirmed or predicted.
func (s *Session) CurrentInputs(handle PlayerHandle) (input.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkRunning(); err != nil {
		return input.Neutral, err
	}

	p, err := s.player(handle)
	if err != nil {
		return input.Neutral, err
	}
	if p.Kind == Spectator {
		return input.Neutral, common.NewErr("Session", common.UnknownPlayer, fmt.Sprintf("spectator %d", handle))
	}

	return s.sched.CurrentInputs(uint32(handle))
}

// DisconnectPlayer disconnects the machine of a remote player or spectator.
// Every player on that machine gets neutral inputs from then on, and is
// reported by the next call to AdvanceFrame.
func (s *Session) DisconnectPlayer(handle PlayerHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkRunning(); err != nil {
		return err
	}

	p, err := s.player(handle)
	if err != nil {
		return err
	}
	if p.Kind == Local {
		return common.NewErr("Session", common.Configuration, fmt.Sprintf("cannot disconnect local player %d", handle))
	}

	if err := s.proto.Disconnect(p.Addr, time.Now()); err != nil {
		return err
	}

	s.pending, err = s.disconnectAddr(p.Addr, s.pending)

	return err
}

// NetworkStats returns the statistics of the connection to a remote player
// or spectator.
func (s *Session) NetworkStats(handle PlayerHandle) (protocol.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkRunning(); err != nil {
		return protocol.Stats{}, err
	}

	p, err := s.player(handle)
	if err != nil {
		return protocol.Stats{}, err
	}
	if p.Kind == Local {
		return protocol.Stats{}, common.NewErr("Session", common.NotConnected, fmt.Sprintf("local player %d", handle))
	}

	return s.proto.Stats(p.Addr)
}

// Players returns the registered players, indexed by handle.
func (s *Session) Players() []Player {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := make([]Player, len(s.players))
	copy(res, s.players)
	return res
}

// CurrentFrame returns the next frame to simulate.
func (s *Session) CurrentFrame() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sched == nil {
		return 0
	}
	return s.sched.CurrentFrame()
}

// ConfirmedFrame returns the last frame for which every input is known.
func (s *Session) ConfirmedFrame() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sched == nil {
		return input.NullFrame
	}
	return s.sched.ConfirmedFrame()
}

// SchedulerState returns the state of the rollback scheduler.
func (s *Session) SchedulerState() rollback.State {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sched == nil {
		return rollback.Running
	}
	return s.sched.GetState()
}

// State returns the simulation state at the start of the current frame.
func (s *Session) State() app.State {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sched == nil {
		return nil
	}
	return s.sched.State()
}

// Metrics returns the Prometheus collectors of the session.
func (s *Session) Metrics() *Metrics {
	return s.metrics
}

// Close says goodbye to the peers, stops the receive path and closes the
// snapshot store. The transport is left open.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.started {
		s.proto.Close()
		s.sched.WaitRoutines()
	}

	return s.store.Close()
}
