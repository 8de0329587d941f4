package net

import (
	"encoding/binary"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/mosaicnetworks/rewind/src/common"
	"github.com/sirupsen/logrus"
	kcp "github.com/xtaci/kcp-go/v5"
)

const (
	kcpDataShards   = 10
	kcpParityShards = 3
	kcpMaxFrame     = 0xFFFF
)

// KCPTransport implements the Transport interface over KCP sessions. KCP adds
// retransmission and forward error correction on top of UDP, trading a little
// bandwidth for fewer rollbacks on lossy links. Packets are length-prefixed on
// the session stream, and the first packet on every session carries the
// advertise address of the dialer so both ends agree on peer names.
type KCPTransport struct {
	sync.RWMutex

	listener      *kcp.Listener
	advertiseAddr string
	consumerCh    chan Packet
	sessions      map[string]*kcp.UDPSession

	shutdown   bool
	shutdownCh chan struct{}

	logger *logrus.Entry
}

// NewKCPTransport starts a KCP listener on bindAddr.
func NewKCPTransport(bindAddr string, advertiseAddr string, logger *logrus.Entry) (*KCPTransport, error) {
	listener, err := kcp.ListenWithOptions(bindAddr, nil, kcpDataShards, kcpParityShards)
	if err != nil {
		return nil, err
	}

	if advertiseAddr == "" {
		advertiseAddr = listener.Addr().String()
	}

	return &KCPTransport{
		listener:      listener,
		advertiseAddr: advertiseAddr,
		consumerCh:    make(chan Packet, DefaultConsumerBuffer),
		sessions:      make(map[string]*kcp.UDPSession),
		shutdownCh:    make(chan struct{}),
		logger:        logger,
	}, nil
}

func configureSession(sess *kcp.UDPSession) {
	sess.SetStreamMode(true)
	sess.SetWriteDelay(false)
	sess.SetNoDelay(1, 20, 2, 1)
	sess.SetWindowSize(512, 512)
	sess.SetMtu(1400)
}

func writeFrame(w io.Writer, data []byte) error {
	if len(data) > kcpMaxFrame {
		return errors.New("kcp: packet too large")
	}
	buf := make([]byte, 2+len(data))
	binary.BigEndian.PutUint16(buf, uint16(len(data)))
	copy(buf[2:], data)
	_, err := w.Write(buf)
	return err
}

func readFrame(r io.Reader) ([]byte, error) {
	var size [2]byte
	if _, err := io.ReadFull(r, size[:]); err != nil {
		return nil, err
	}
	data := make([]byte, binary.BigEndian.Uint16(size[:]))
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return data, nil
}

// Listen implements the Transport interface. It accepts sessions until the
// transport is closed.
func (k *KCPTransport) Listen() {
	for {
		sess, err := k.listener.AcceptKCP()
		if err != nil {
			if k.IsShutdown() {
				return
			}
			k.logger.WithError(err).Error("Failed to accept session")
			continue
		}

		configureSession(sess)

		go k.handleSession(sess)
	}
}

func (k *KCPTransport) handleSession(sess *kcp.UDPSession) {
	sess.SetReadDeadline(time.Now().Add(5 * time.Second))
	hello, err := readFrame(sess)
	if err != nil {
		k.logger.WithError(err).Warn("Failed to read session hello")
		sess.Close()
		return
	}
	sess.SetReadDeadline(time.Time{})

	from := string(hello)

	k.Lock()
	k.sessions[from] = sess
	k.Unlock()

	k.logger.WithField("peer", from).Debug("Accepted session")

	k.readLoop(from, sess)
}

func (k *KCPTransport) readLoop(from string, sess *kcp.UDPSession) {
	defer func() {
		k.Lock()
		if k.sessions[from] == sess {
			delete(k.sessions, from)
		}
		k.Unlock()
		sess.Close()
	}()

	for {
		data, err := readFrame(sess)
		if err != nil {
			if !k.IsShutdown() {
				k.logger.WithField("peer", from).WithError(err).Debug("Session closed")
			}
			return
		}

		select {
		case k.consumerCh <- Packet{From: from, Data: data}:
		default:
			k.logger.WithField("from", from).Debug("Consumer full, dropping packet")
		}
	}
}

// Consumer implements the Transport interface.
func (k *KCPTransport) Consumer() <-chan Packet {
	return k.consumerCh
}

// Send implements the Transport interface.
func (k *KCPTransport) Send(target string, data []byte) error {
	k.RLock()
	sess, ok := k.sessions[target]
	k.RUnlock()

	if !ok {
		return common.NewErr("KCPTransport", common.NotConnected, target)
	}

	return writeFrame(sess, data)
}

// Connect implements the Transport interface. It dials target and introduces
// us with our advertise address.
func (k *KCPTransport) Connect(target string, timeout time.Duration) error {
	if k.Connected(target) {
		return nil
	}

	sess, err := kcp.DialWithOptions(target, nil, kcpDataShards, kcpParityShards)
	if err != nil {
		return err
	}

	configureSession(sess)

	sess.SetWriteDeadline(time.Now().Add(timeout))
	if err := writeFrame(sess, []byte(k.advertiseAddr)); err != nil {
		sess.Close()
		return err
	}
	sess.SetWriteDeadline(time.Time{})

	k.Lock()
	k.sessions[target] = sess
	k.Unlock()

	go k.readLoop(target, sess)

	return nil
}

// Connected implements the Transport interface.
func (k *KCPTransport) Connected(target string) bool {
	k.RLock()
	defer k.RUnlock()
	_, ok := k.sessions[target]
	return ok
}

// LocalAddr implements the Transport interface.
func (k *KCPTransport) LocalAddr() string {
	return k.listener.Addr().String()
}

// AdvertiseAddr implements the Transport interface.
func (k *KCPTransport) AdvertiseAddr() string {
	return k.advertiseAddr
}

// IsShutdown is used to check if the transport is shutdown.
func (k *KCPTransport) IsShutdown() bool {
	select {
	case <-k.shutdownCh:
		return true
	default:
		return false
	}
}

// Close implements the Transport interface.
func (k *KCPTransport) Close() error {
	k.Lock()
	defer k.Unlock()

	if k.shutdown {
		return nil
	}

	close(k.shutdownCh)
	k.shutdown = true

	for _, sess := range k.sessions {
		sess.Close()
	}

	return k.listener.Close()
}
