package protocol

import (
	"sync"
	"time"

	"github.com/mosaicnetworks/rewind/src/common"
	"github.com/mosaicnetworks/rewind/src/input"
)

// rttSamples is the number of round-trip samples the ping is the median of.
const rttSamples = 16

// Endpoint is the protocol state kept for one remote address.
type Endpoint struct {
	sync.Mutex

	addr      string
	spectator bool

	// recvHandles are the players whose inputs the peer sends us, and
	// sendHandles the players whose inputs we send to the peer.
	recvHandles []uint32
	sendHandles []uint32

	// acked is the highest frame of each send handle the peer acknowledged.
	acked    map[uint32]int
	ackDirty bool

	// lost marks the send handles already reported as InputLost.
	lost map[uint32]bool

	// remoteChecksums is guarded by the Protocol checksum lock, not by the
	// Endpoint mutex.
	remoteChecksums map[int]uint64

	lastRecv    time.Time
	lastSend    time.Time
	lastQuality time.Time

	rtts        []time.Duration
	rtt         time.Duration
	remoteFrame int

	bytesSent    uint64
	bytesRecv    uint64
	packetsSent  uint64
	packetsRecv  uint64
	disconnected bool
}

func newEndpoint(addr string, spectator bool) *Endpoint {
	return &Endpoint{
		addr:            addr,
		spectator:       spectator,
		acked:           make(map[uint32]int),
		lost:            make(map[uint32]bool),
		remoteChecksums: make(map[int]uint64),
		remoteFrame:     input.NullFrame,
	}
}

// Addr returns the remote address.
func (e *Endpoint) Addr() string {
	return e.addr
}

// Spectator reports whether the peer only watches the session.
func (e *Endpoint) Spectator() bool {
	return e.spectator
}

func (e *Endpoint) receives(handle uint32) bool {
	for _, h := range e.recvHandles {
		if h == handle {
			return true
		}
	}
	return false
}

func (e *Endpoint) addRecvHandle(handle uint32) {
	e.Lock()
	defer e.Unlock()
	e.recvHandles = append(e.recvHandles, handle)
}

func (e *Endpoint) addSendHandle(handle uint32) {
	e.Lock()
	defer e.Unlock()
	if _, ok := e.acked[handle]; ok {
		return
	}
	e.sendHandles = append(e.sendHandles, handle)
	e.acked[handle] = input.NullFrame
}

func (e *Endpoint) isDisconnected() bool {
	e.Lock()
	defer e.Unlock()
	return e.disconnected
}

// markDisconnected returns false if the endpoint was already disconnected.
func (e *Endpoint) markDisconnected() bool {
	e.Lock()
	defer e.Unlock()
	if e.disconnected {
		return false
	}
	e.disconnected = true
	return true
}

func (e *Endpoint) addRTT(d time.Duration) {
	if d < 0 {
		return
	}

	e.Lock()
	defer e.Unlock()

	e.rtts = append(e.rtts, d)
	if len(e.rtts) > rttSamples {
		e.rtts = e.rtts[len(e.rtts)-rttSamples:]
	}
	e.rtt = common.Median(e.rtts)
}

func (e *Endpoint) setRemoteFrame(frame int) {
	e.Lock()
	defer e.Unlock()
	if frame > e.remoteFrame {
		e.remoteFrame = frame
	}
}

// Stats is a snapshot of the network statistics of an Endpoint.
type Stats struct {
	Addr            string
	Ping            time.Duration
	RemoteFrame     int
	PendingInputs   int
	BytesSent       uint64
	BytesReceived   uint64
	PacketsSent     uint64
	PacketsReceived uint64
	LastReceived    time.Time
	Disconnected    bool
}

func (e *Endpoint) stats(queues []*input.Queue) Stats {
	e.Lock()
	defer e.Unlock()

	pending := 0
	for _, h := range e.sendHandles {
		if n := queues[h].LastConfirmed() - e.acked[h]; n > pending {
			pending = n
		}
	}

	return Stats{
		Addr:            e.addr,
		Ping:            e.rtt,
		RemoteFrame:     e.remoteFrame,
		PendingInputs:   pending,
		BytesSent:       e.bytesSent,
		BytesReceived:   e.bytesRecv,
		PacketsSent:     e.packetsSent,
		PacketsReceived: e.packetsRecv,
		LastReceived:    e.lastRecv,
		Disconnected:    e.disconnected,
	}
}
