package net

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mosaicnetworks/rewind/src/common"
)

// NewInmemAddr returns a new in-memory addr with
// a randomly generate UUID as the ID.
func NewInmemAddr() string {
	return uuid.New().String()
}

// InmemTransport Implements the Transport interface, to allow sessions to be
// tested in-memory without going over a network.
type InmemTransport struct {
	sync.RWMutex
	consumerCh chan Packet
	localAddr  string
	peers      map[string]*InmemTransport
	closed     bool
}

// NewInmemTransport is used to initialize a new transport
// and generates a random local address if none is specified
func NewInmemTransport(addr string) (string, *InmemTransport) {
	if addr == "" {
		addr = NewInmemAddr()
	}
	trans := &InmemTransport{
		consumerCh: make(chan Packet, DefaultConsumerBuffer),
		localAddr:  addr,
		peers:      make(map[string]*InmemTransport),
	}
	return addr, trans
}

// Consumer implements the Transport interface.
func (i *InmemTransport) Consumer() <-chan Packet {
	return i.consumerCh
}

// LocalAddr implements the Transport interface.
func (i *InmemTransport) LocalAddr() string {
	return i.localAddr
}

// AdvertiseAddr implements the Transport interface.
func (i *InmemTransport) AdvertiseAddr() string {
	return i.localAddr
}

// Send implements the Transport interface. The packet is copied so the caller
// may reuse its buffer.
func (i *InmemTransport) Send(target string, data []byte) error {
	i.RLock()
	peer, ok := i.peers[target]
	i.RUnlock()

	if !ok {
		return common.NewErr("InmemTransport", common.NotConnected, target)
	}

	peer.deliver(Packet{
		From: i.localAddr,
		Data: append([]byte(nil), data...),
	})

	return nil
}

func (i *InmemTransport) deliver(p Packet) {
	i.RLock()
	defer i.RUnlock()

	if i.closed {
		return
	}

	select {
	case i.consumerCh <- p:
	default:
	}
}

// Connect implements the Transport interface. In-memory links are created
// with Link, so Connect only checks that one exists.
func (i *InmemTransport) Connect(target string, timeout time.Duration) error {
	if !i.Connected(target) {
		return common.NewErr("InmemTransport", common.NotConnected, target)
	}
	return nil
}

// Connected implements the Transport interface.
func (i *InmemTransport) Connected(target string) bool {
	i.RLock()
	defer i.RUnlock()
	_, ok := i.peers[target]
	return ok
}

// Link is used to connect this transport to another transport for
// a given peer name. This allows for local routing.
func (i *InmemTransport) Link(peer string, t *InmemTransport) {
	i.Lock()
	defer i.Unlock()
	i.peers[peer] = t
}

// Disconnect is used to remove the ability to route to a given peer.
func (i *InmemTransport) Disconnect(peer string) {
	i.Lock()
	defer i.Unlock()
	delete(i.peers, peer)
}

// Close is used to permanently disable the transport
func (i *InmemTransport) Close() error {
	i.Lock()
	defer i.Unlock()
	i.peers = make(map[string]*InmemTransport)
	i.closed = true
	return nil
}

// Listen is an empty function as there is no need to defer
// initialisation of the InMem service
func (i *InmemTransport) Listen() {
}

// LinkInmemTransports connects every transport to every other one.
func LinkInmemTransports(transports ...*InmemTransport) {
	for _, a := range transports {
		for _, b := range transports {
			if a != b {
				a.Link(b.LocalAddr(), b)
			}
		}
	}
}
