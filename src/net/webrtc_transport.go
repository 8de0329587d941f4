package net

import (
	"fmt"
	"sync"
	"time"

	"github.com/mosaicnetworks/rewind/src/common"
	"github.com/mosaicnetworks/rewind/src/net/signal"
	"github.com/pion/datachannel"
	webrtc "github.com/pion/webrtc/v2"
	"github.com/sirupsen/logrus"
)

// WebRTCTransport implements the Transport interface with WebRTC data
// channels. Channels are unordered and never retransmit, which gives the
// protocol the same datagram semantics as UDP while traversing NATs. The
// signal is a mechanism for peers to exchange connection information prior to
// establishing a direct p2p link; peers are addressed by signal ID.
type WebRTCTransport struct {
	sync.RWMutex

	signal          signal.Signal
	iceServers      []webrtc.ICEServer
	peerConnections map[string]*webrtc.PeerConnection
	dataChannels    map[string]datachannel.ReadWriteCloser
	consumerCh      chan Packet

	shutdown   bool
	shutdownCh chan struct{}

	logger *logrus.Entry
}

// NewWebRTCTransport instantiates a WebRTCTransport. Listen must be called to
// answer incoming offers.
func NewWebRTCTransport(
	signal signal.Signal,
	iceServers []webrtc.ICEServer,
	logger *logrus.Entry,
) *WebRTCTransport {
	return &WebRTCTransport{
		signal:          signal,
		iceServers:      iceServers,
		peerConnections: make(map[string]*webrtc.PeerConnection),
		dataChannels:    make(map[string]datachannel.ReadWriteCloser),
		consumerCh:      make(chan Packet, DefaultConsumerBuffer),
		shutdownCh:      make(chan struct{}),
		logger:          logger,
	}
}

// Listen implements the Transport interface. It receives SDP offers from the
// Signal, creates the corresponding PeerConnections and responds.
func (w *WebRTCTransport) Listen() {
	go func() {
		if err := w.signal.Listen(); err != nil {
			w.logger.WithError(err).Error("Signal Listen")
		}
	}()

	consumer := w.signal.Consumer()

	for {
		select {
		case <-w.shutdownCh:
			return
		case offerPromise := <-consumer:
			w.logger.WithField("from", offerPromise.From).Debug("Processing offer")

			answer, err := w.answer(offerPromise.From, offerPromise.Offer)
			if err != nil {
				w.logger.WithError(err).Error("Failed to answer offer")
			}

			offerPromise.Respond(answer, err)
		}
	}
}

func (w *WebRTCTransport) answer(from string, offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	peerConnection, err := w.newPeerConnection(from, nil)
	if err != nil {
		return nil, err
	}

	// Set the remote SessionDescription
	if err := peerConnection.SetRemoteDescription(offer); err != nil {
		return nil, err
	}

	// Create answer
	answer, err := peerConnection.CreateAnswer(nil)
	if err != nil {
		return nil, err
	}

	// Sets the LocalDescription, and starts our UDP listeners
	if err := peerConnection.SetLocalDescription(answer); err != nil {
		return nil, err
	}

	w.Lock()
	w.peerConnections[from] = peerConnection
	w.Unlock()

	return &answer, nil
}

// newPeerConnection creates a PeerConnection to peer. When openCh is not nil
// we are the offering side: a DataChannel is created and openCh is closed once
// it is open. Otherwise we bind to the OnDataChannel handler.
func (w *WebRTCTransport) newPeerConnection(peer string, openCh chan struct{}) (*webrtc.PeerConnection, error) {
	// Create a SettingEngine and enable Detach
	s := webrtc.SettingEngine{}
	s.DetachDataChannels()

	// Create an API object with the engine
	api := webrtc.NewAPI(webrtc.WithSettingEngine(s))

	// Create a new RTCPeerConnection using the API object
	peerConnection, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers: w.iceServers,
	})
	if err != nil {
		return nil, err
	}

	// Set the handler for ICE connection state
	// This will notify you when the peer has connected/disconnected
	peerConnection.OnICEConnectionStateChange(func(connectionState webrtc.ICEConnectionState) {
		w.logger.WithFields(logrus.Fields{
			"peer":  peer,
			"state": connectionState.String(),
		}).Debug("ICE Connection State has changed")
	})

	if openCh != nil {
		ordered := false
		maxRetransmits := uint16(0)

		dataChannel, err := peerConnection.CreateDataChannel("inputs", &webrtc.DataChannelInit{
			Ordered:        &ordered,
			MaxRetransmits: &maxRetransmits,
		})
		if err != nil {
			return nil, err
		}

		w.pipeDataChannel(peer, dataChannel, openCh)
	} else {
		// Register data channel creation handling
		peerConnection.OnDataChannel(func(d *webrtc.DataChannel) {
			w.pipeDataChannel(peer, d, nil)
		})
	}

	return peerConnection, nil
}

func (w *WebRTCTransport) pipeDataChannel(peer string, dataChannel *webrtc.DataChannel, openCh chan struct{}) {
	dataChannel.OnOpen(func() {
		// Detach the data channel
		raw, err := dataChannel.Detach()
		if err != nil {
			w.logger.WithError(err).Error("Error detaching DataChannel")
			return
		}

		w.Lock()
		w.dataChannels[peer] = raw
		w.Unlock()

		if openCh != nil {
			close(openCh)
		}

		go w.readLoop(peer, raw)
	})
}

func (w *WebRTCTransport) readLoop(peer string, raw datachannel.ReadWriteCloser) {
	buf := make([]byte, maxDatagramSize)
	for {
		n, err := raw.Read(buf)
		if err != nil {
			if !w.IsShutdown() {
				w.logger.WithField("peer", peer).WithError(err).Debug("DataChannel closed")
			}
			w.Lock()
			if w.dataChannels[peer] == raw {
				delete(w.dataChannels, peer)
			}
			w.Unlock()
			return
		}

		select {
		case w.consumerCh <- Packet{From: peer, Data: append([]byte(nil), buf[:n]...)}:
		default:
			w.logger.WithField("from", peer).Debug("Consumer full, dropping packet")
		}
	}
}

// Connect implements the Transport interface.
// - Create a PeerConnection and a DataChannel
// - Exchange SDP through the signal
// - Wait for the DataChannel to open
func (w *WebRTCTransport) Connect(target string, timeout time.Duration) error {
	if w.Connected(target) {
		return nil
	}

	openCh := make(chan struct{})

	pc, err := w.newPeerConnection(target, openCh)
	if err != nil {
		return err
	}

	// Create an offer to send to the signaling system
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return err
	}

	// Sets the LocalDescription, and starts our UDP listeners
	if err := pc.SetLocalDescription(offer); err != nil {
		return err
	}

	// synchronous offer/answer RPC request through signal to exchange SDP
	// information.
	answer, err := w.signal.Offer(target, offer)
	if err != nil {
		return err
	}

	if answer == nil {
		return fmt.Errorf("No answer")
	}

	// Apply the answer as the remote description
	if err := pc.SetRemoteDescription(*answer); err != nil {
		return err
	}

	w.Lock()
	w.peerConnections[target] = pc
	w.Unlock()

	// Wait for DataChannel opening
	select {
	case <-time.After(timeout):
		return fmt.Errorf("Connect timeout")
	case <-openCh:
		return nil
	}
}

// Connected implements the Transport interface.
func (w *WebRTCTransport) Connected(target string) bool {
	w.RLock()
	defer w.RUnlock()
	_, ok := w.dataChannels[target]
	return ok
}

// Send implements the Transport interface.
func (w *WebRTCTransport) Send(target string, data []byte) error {
	w.RLock()
	dc, ok := w.dataChannels[target]
	w.RUnlock()

	if !ok {
		return common.NewErr("WebRTCTransport", common.NotConnected, target)
	}

	_, err := dc.Write(data)
	return err
}

// Consumer implements the Transport interface.
func (w *WebRTCTransport) Consumer() <-chan Packet {
	return w.consumerCh
}

// LocalAddr implements the Transport interface. It is the signal ID.
func (w *WebRTCTransport) LocalAddr() string {
	return w.signal.ID()
}

// AdvertiseAddr implements the Transport interface.
func (w *WebRTCTransport) AdvertiseAddr() string {
	return w.signal.ID()
}

// IsShutdown is used to check if the transport is shutdown.
func (w *WebRTCTransport) IsShutdown() bool {
	select {
	case <-w.shutdownCh:
		return true
	default:
		return false
	}
}

// Close implements the Transport interface. It closes the Signal and all the
// PeerConnections.
func (w *WebRTCTransport) Close() error {
	w.Lock()
	defer w.Unlock()

	if w.shutdown {
		return nil
	}

	close(w.shutdownCh)
	w.shutdown = true

	// Close the connection to the signal server
	w.signal.Close()

	// Close all data channels
	for _, dc := range w.dataChannels {
		dc.Close()
	}

	// Close all peer connections
	for _, pc := range w.peerConnections {
		pc.Close()
	}

	return nil
}
