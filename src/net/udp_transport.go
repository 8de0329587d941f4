package net

import (
	"net"
	"sync"
	"time"

	"github.com/mosaicnetworks/rewind/src/common"
	"github.com/sirupsen/logrus"
)

// maxDatagramSize bounds the packets read from the socket.
const maxDatagramSize = 64 * 1024

// UDPTransport implements the Transport interface over a single UDP socket.
// Datagrams map one to one onto packets, so loss, duplication and reordering
// are passed through to the protocol.
type UDPTransport struct {
	sync.RWMutex

	conn          *net.UDPConn
	advertiseAddr string
	consumerCh    chan Packet

	// peers maps a configured address to its resolved form, and names maps
	// the resolved form back so incoming packets carry the configured name.
	peers map[string]*net.UDPAddr
	names map[string]string

	shutdown   bool
	shutdownCh chan struct{}

	logger *logrus.Entry
}

// NewUDPTransport binds a UDP socket to bindAddr. advertiseAddr, if not empty,
// is the address other peers use to reach us.
func NewUDPTransport(bindAddr string, advertiseAddr string, logger *logrus.Entry) (*UDPTransport, error) {
	laddr, err := net.ResolveUDPAddr("udp", bindAddr)
	if err != nil {
		return nil, err
	}

	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, err
	}

	if advertiseAddr == "" {
		advertiseAddr = conn.LocalAddr().String()
	}

	return &UDPTransport{
		conn:          conn,
		advertiseAddr: advertiseAddr,
		consumerCh:    make(chan Packet, DefaultConsumerBuffer),
		peers:         make(map[string]*net.UDPAddr),
		names:         make(map[string]string),
		shutdownCh:    make(chan struct{}),
		logger:        logger,
	}, nil
}

// Listen implements the Transport interface. It reads datagrams until the
// transport is closed.
func (u *UDPTransport) Listen() {
	buf := make([]byte, maxDatagramSize)
	for {
		n, from, err := u.conn.ReadFromUDP(buf)
		if err != nil {
			if u.IsShutdown() {
				return
			}
			u.logger.WithError(err).Warn("Failed to read datagram")
			continue
		}

		u.RLock()
		name, ok := u.names[from.String()]
		u.RUnlock()
		if !ok {
			name = from.String()
		}

		select {
		case u.consumerCh <- Packet{From: name, Data: append([]byte(nil), buf[:n]...)}:
		default:
			u.logger.WithField("from", name).Debug("Consumer full, dropping datagram")
		}
	}
}

// Consumer implements the Transport interface.
func (u *UDPTransport) Consumer() <-chan Packet {
	return u.consumerCh
}

// Send implements the Transport interface.
func (u *UDPTransport) Send(target string, data []byte) error {
	u.RLock()
	addr, ok := u.peers[target]
	u.RUnlock()

	if !ok {
		return common.NewErr("UDPTransport", common.NotConnected, target)
	}

	_, err := u.conn.WriteToUDP(data, addr)
	return err
}

// Connect implements the Transport interface. UDP has no handshake, so
// connecting only resolves the address.
func (u *UDPTransport) Connect(target string, timeout time.Duration) error {
	addr, err := net.ResolveUDPAddr("udp", target)
	if err != nil {
		return err
	}

	u.Lock()
	defer u.Unlock()
	u.peers[target] = addr
	u.names[addr.String()] = target

	return nil
}

// Connected implements the Transport interface.
func (u *UDPTransport) Connected(target string) bool {
	u.RLock()
	defer u.RUnlock()
	_, ok := u.peers[target]
	return ok
}

// LocalAddr implements the Transport interface.
func (u *UDPTransport) LocalAddr() string {
	return u.conn.LocalAddr().String()
}

// AdvertiseAddr implements the Transport interface.
func (u *UDPTransport) AdvertiseAddr() string {
	return u.advertiseAddr
}

// IsShutdown is used to check if the transport is shutdown.
func (u *UDPTransport) IsShutdown() bool {
	select {
	case <-u.shutdownCh:
		return true
	default:
		return false
	}
}

// Close implements the Transport interface.
func (u *UDPTransport) Close() error {
	u.Lock()
	defer u.Unlock()

	if !u.shutdown {
		close(u.shutdownCh)
		u.shutdown = true
		return u.conn.Close()
	}
	return nil
}
