package protocol

import (
	"sort"
	"sync"
	"time"

	"github.com/mosaicnetworks/rewind/src/common"
	"github.com/mosaicnetworks/rewind/src/input"
	"github.com/mosaicnetworks/rewind/src/net"
	"github.com/sirupsen/logrus"
)

// checksumHistory bounds the number of unmatched checksums kept per side.
const checksumHistory = 32

// Config holds the tunables of the protocol.
type Config struct {
	// InputRedundancy caps the number of inputs per player in one packet.
	InputRedundancy int
	// DisconnectTimeout is how long a peer may stay silent. 0 disables it.
	DisconnectTimeout time.Duration
	// KeepAliveInterval is the longest we stay silent towards a peer.
	KeepAliveInterval time.Duration
	// QualityReportInterval is the period of ping measurements.
	QualityReportInterval time.Duration
}

// NotificationKind identifies a Notification.
type NotificationKind int

const (
	// PeerDisconnected is raised when a peer times out or says goodbye.
	PeerDisconnected NotificationKind = iota
	// ChecksumCompared is raised when both sides' checksums of a frame are
	// known.
	ChecksumCompared
	// InputLost is raised when an input the peer has not acknowledged has
	// already left its queue, so it can never be sent again.
	InputLost
)

// Notification is something the receive path observed that the tick path
// must act upon.
type Notification struct {
	Kind   NotificationKind
	Addr   string
	Handle uint32
	Frame  int
	Local  uint64
	Remote uint64
}

// Protocol exchanges inputs, acknowledgements and checksums with every remote
// peer of a session. Incoming inputs are pushed straight into the input
// queues; everything else that needs a decision is queued as a Notification.
type Protocol struct {
	conf   Config
	trans  net.Transport
	queues []*input.Queue

	endpoints map[string]*Endpoint
	order     []*Endpoint

	mu             sync.Mutex
	notifications  []Notification
	localChecksums map[int]uint64

	shutdownCh chan struct{}
	closeOnce  sync.Once

	logger *logrus.Entry
}

// NewProtocol creates a Protocol. queues is indexed by player handle.
func NewProtocol(conf Config, trans net.Transport, queues []*input.Queue, logger *logrus.Entry) *Protocol {
	return &Protocol{
		conf:           conf,
		trans:          trans,
		queues:         queues,
		endpoints:      make(map[string]*Endpoint),
		localChecksums: make(map[int]uint64),
		shutdownCh:     make(chan struct{}),
		logger:         logger,
	}
}

func (p *Protocol) endpoint(addr string, spectator bool) *Endpoint {
	ep, ok := p.endpoints[addr]
	if !ok {
		ep = newEndpoint(addr, spectator)
		p.endpoints[addr] = ep
		p.order = append(p.order, ep)
	}
	return ep
}

// AddRemote registers a player whose inputs come from addr, and makes addr a
// recipient of the inputs of every handle in send.
func (p *Protocol) AddRemote(addr string, handle uint32, send []uint32) *Endpoint {
	ep := p.endpoint(addr, false)
	ep.addRecvHandle(handle)
	for _, h := range send {
		ep.addSendHandle(h)
	}
	return ep
}

// AddSpectator registers a peer that only receives the inputs of send.
func (p *Protocol) AddSpectator(addr string, send []uint32) *Endpoint {
	ep := p.endpoint(addr, true)
	for _, h := range send {
		ep.addSendHandle(h)
	}
	return ep
}

// Endpoint returns the Endpoint of addr.
func (p *Protocol) Endpoint(addr string) (*Endpoint, bool) {
	ep, ok := p.endpoints[addr]
	return ep, ok
}

// Endpoints returns every endpoint in registration order.
func (p *Protocol) Endpoints() []*Endpoint {
	return p.order
}

// Start resets the silence timers of all endpoints to now.
func (p *Protocol) Start(now time.Time) {
	for _, ep := range p.order {
		ep.Lock()
		ep.lastRecv = now
		ep.lastSend = now
		ep.Unlock()
	}
}

// Receive handles incoming packets until Close is called.
func (p *Protocol) Receive() {
	consumer := p.trans.Consumer()
	for {
		select {
		case pkt := <-consumer:
			p.HandlePacket(pkt, time.Now())
		case <-p.shutdownCh:
			return
		}
	}
}

// Drain handles every packet already waiting on the transport and returns.
func (p *Protocol) Drain(now time.Time) int {
	consumer := p.trans.Consumer()
	n := 0
	for {
		select {
		case pkt := <-consumer:
			p.HandlePacket(pkt, now)
			n++
		default:
			return n
		}
	}
}

// HandlePacket processes one incoming packet.
func (p *Protocol) HandlePacket(pkt net.Packet, now time.Time) {
	ep, ok := p.endpoints[pkt.From]
	if !ok {
		p.logger.WithField("from", pkt.From).Debug("Packet from unknown peer")
		return
	}

	t, msg, err := Decode(pkt.Data)
	if err != nil {
		p.logger.WithField("from", pkt.From).WithError(err).Warn("Dropping malformed packet")
		return
	}

	ep.Lock()
	if ep.disconnected {
		ep.Unlock()
		return
	}
	ep.lastRecv = now
	ep.bytesRecv += uint64(len(pkt.Data))
	ep.packetsRecv++
	ep.Unlock()

	switch m := msg.(type) {
	case *InputMessage:
		p.onInput(ep, m)
	case *ChecksumMessage:
		p.onChecksum(ep, m)
	case *QualityReport:
		ep.setRemoteFrame(m.Frame)
		p.send(ep, &QualityReply{Pong: m.Ping}, now)
	case *QualityReply:
		ep.addRTT(now.Sub(time.Unix(0, m.Pong)))
	case *KeepAlive:
	case *DisconnectNotice:
		p.disconnectEndpoint(ep, "notice")
	default:
		p.logger.WithField("type", t).Debug("Unhandled message")
	}
}

func (p *Protocol) onInput(ep *Endpoint, m *InputMessage) {
	for _, pi := range m.Inputs {
		if !ep.receives(pi.Handle) {
			p.logger.WithFields(logrus.Fields{
				"from":   ep.addr,
				"handle": pi.Handle,
			}).Debug("Inputs for a player the peer does not own")
			continue
		}

		q := p.queues[pi.Handle]
		last := q.LastConfirmed()

		for i, v := range pi.Frames {
			frame := pi.StartFrame + i
			if frame <= last {
				continue
			}

			if err := q.PushConfirmed(frame, input.Frame(v)); err != nil {
				// a gap cannot be filled by the rest of this run
				p.logger.WithFields(logrus.Fields{
					"from":  ep.addr,
					"frame": frame,
				}).WithError(err).Debug("Dropping inputs")
				break
			}
			last = frame
		}
	}

	ep.Lock()
	defer ep.Unlock()

	for _, a := range m.Acks {
		if cur, ok := ep.acked[a.Handle]; ok && a.Frame > cur {
			ep.acked[a.Handle] = a.Frame
		}
	}
	if len(m.Inputs) > 0 {
		ep.ackDirty = true
	}
	if m.Frame > ep.remoteFrame {
		ep.remoteFrame = m.Frame
	}
}

func (p *Protocol) onChecksum(ep *Endpoint, m *ChecksumMessage) {
	// spectators are told our checksums, but do not get a say
	if ep.spectator {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if local, ok := p.localChecksums[m.Frame]; ok {
		p.notifications = append(p.notifications, Notification{
			Kind:   ChecksumCompared,
			Addr:   ep.addr,
			Frame:  m.Frame,
			Local:  local,
			Remote: m.Checksum,
		})
		return
	}

	ep.remoteChecksums[m.Frame] = m.Checksum
	pruneChecksums(ep.remoteChecksums)
}

func pruneChecksums(m map[int]uint64) {
	if len(m) <= checksumHistory {
		return
	}
	frames := make([]int, 0, len(m))
	for f := range m {
		frames = append(frames, f)
	}
	sort.Ints(frames)
	for _, f := range frames[:len(frames)-checksumHistory] {
		delete(m, f)
	}
}

// SendChecksum records our checksum of frame, sends it to every peer and
// compares it with any checksum a peer already sent for the same frame.
func (p *Protocol) SendChecksum(frame int, checksum uint64, now time.Time) {
	p.mu.Lock()
	p.localChecksums[frame] = checksum
	pruneChecksums(p.localChecksums)
	for _, ep := range p.order {
		if remote, ok := ep.remoteChecksums[frame]; ok {
			p.notifications = append(p.notifications, Notification{
				Kind:   ChecksumCompared,
				Addr:   ep.addr,
				Frame:  frame,
				Local:  checksum,
				Remote: remote,
			})
			delete(ep.remoteChecksums, frame)
		}
	}
	p.mu.Unlock()

	for _, ep := range p.order {
		if ep.isDisconnected() {
			continue
		}
		p.send(ep, &ChecksumMessage{Frame: frame, Checksum: checksum}, now)
	}
}

// Poll runs the periodic duties of every endpoint: disconnect detection,
// input transmission, keep-alives and quality reports. current is our current
// frame.
func (p *Protocol) Poll(current int, now time.Time) {
	for _, ep := range p.order {
		if ep.isDisconnected() {
			continue
		}

		ep.Lock()
		silence := now.Sub(ep.lastRecv)
		idle := now.Sub(ep.lastSend)
		reportDue := p.conf.QualityReportInterval > 0 &&
			now.Sub(ep.lastQuality) >= p.conf.QualityReportInterval
		ep.Unlock()

		if p.conf.DisconnectTimeout > 0 && silence > p.conf.DisconnectTimeout {
			p.disconnectEndpoint(ep, "timeout")
			continue
		}

		msg, lost := p.inputMessage(ep, current)
		if len(lost) > 0 {
			p.inputLost(lost)
		}

		if msg != nil {
			p.send(ep, msg, now)
		} else if idle >= p.conf.KeepAliveInterval {
			p.send(ep, &KeepAlive{}, now)
		}

		if reportDue {
			ep.Lock()
			ep.lastQuality = now
			ep.Unlock()
			p.send(ep, &QualityReport{Frame: current, Ping: now.UnixNano()}, now)
		}
	}
}

// inputMessage builds the next InputMessage for ep, or returns nil if there is
// neither an input nor an acknowledgement to send. It also returns an InputLost
// notification for every player whose oldest unacknowledged input has been
// overwritten in its queue.
func (p *Protocol) inputMessage(ep *Endpoint, current int) (*InputMessage, []Notification) {
	ep.Lock()
	defer ep.Unlock()

	msg := &InputMessage{Frame: current}
	var lost []Notification

	for _, h := range ep.sendHandles {
		q := p.queues[h]

		start := ep.acked[h] + 1
		last := q.LastConfirmed()
		if q.Disconnected() && current-1 > last {
			last = current - 1
		}
		if last < start {
			continue
		}
		if p.conf.InputRedundancy > 0 && last-start+1 > p.conf.InputRedundancy {
			last = start + p.conf.InputRedundancy - 1
		}

		frames := make([]uint32, 0, last-start+1)
		for f := start; f <= last; f++ {
			v, ok := q.Confirmed(f)
			if !ok {
				break
			}
			frames = append(frames, uint32(v))
		}

		// every frame up to last is confirmed, so a miss means the ring
		// wrapped over it
		if len(frames) == 0 && !ep.lost[h] {
			ep.lost[h] = true
			lost = append(lost, Notification{
				Kind:   InputLost,
				Addr:   ep.addr,
				Handle: h,
				Frame:  start,
			})
		}

		if len(frames) > 0 {
			msg.Inputs = append(msg.Inputs, PlayerInputs{
				Handle:     h,
				StartFrame: start,
				Frames:     frames,
			})
		}
	}

	for _, h := range ep.recvHandles {
		msg.Acks = append(msg.Acks, Ack{
			Handle: h,
			Frame:  p.queues[h].LastConfirmed(),
		})
	}

	if len(msg.Inputs) == 0 && !ep.ackDirty {
		return nil, lost
	}
	ep.ackDirty = false

	return msg, lost
}

func (p *Protocol) inputLost(lost []Notification) {
	for _, n := range lost {
		p.logger.WithFields(logrus.Fields{
			"peer":   n.Addr,
			"handle": n.Handle,
			"frame":  n.Frame,
		}).Error("Unacknowledged input left the queue")
	}

	p.mu.Lock()
	p.notifications = append(p.notifications, lost...)
	p.mu.Unlock()
}

func (p *Protocol) send(ep *Endpoint, msg interface{}, now time.Time) {
	data, err := Encode(msg)
	if err != nil {
		p.logger.WithError(err).Error("Encoding message")
		return
	}

	if err := p.trans.Send(ep.addr, data); err != nil {
		p.logger.WithField("to", ep.addr).WithError(err).Debug("Send failed")
		return
	}

	ep.Lock()
	ep.lastSend = now
	ep.bytesSent += uint64(len(data))
	ep.packetsSent++
	ep.Unlock()
}

func (p *Protocol) disconnectEndpoint(ep *Endpoint, reason string) {
	if !ep.markDisconnected() {
		return
	}

	p.logger.WithFields(logrus.Fields{
		"peer":   ep.addr,
		"reason": reason,
	}).Warn("Peer disconnected")

	p.mu.Lock()
	p.notifications = append(p.notifications, Notification{
		Kind: PeerDisconnected,
		Addr: ep.addr,
	})
	p.mu.Unlock()
}

// Disconnect says goodbye to addr and stops exchanging packets with it. No
// notification is raised.
func (p *Protocol) Disconnect(addr string, now time.Time) error {
	ep, ok := p.endpoints[addr]
	if !ok {
		return common.NewErr("Protocol", common.NotConnected, addr)
	}
	if ep.isDisconnected() {
		return nil
	}
	p.send(ep, &DisconnectNotice{}, now)
	ep.markDisconnected()
	return nil
}

// TakeNotifications returns and clears the pending notifications.
func (p *Protocol) TakeNotifications() []Notification {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := p.notifications
	p.notifications = nil
	return n
}

// Stats returns the network statistics of addr.
func (p *Protocol) Stats(addr string) (Stats, error) {
	ep, ok := p.endpoints[addr]
	if !ok {
		return Stats{}, common.NewErr("Protocol", common.NotConnected, addr)
	}
	return ep.stats(p.queues), nil
}

// Close says goodbye to every peer and stops the receive loop.
func (p *Protocol) Close() {
	p.closeOnce.Do(func() {
		now := time.Now()
		for _, ep := range p.order {
			if !ep.isDisconnected() {
				p.send(ep, &DisconnectNotice{}, now)
			}
		}
		close(p.shutdownCh)
	})
}
