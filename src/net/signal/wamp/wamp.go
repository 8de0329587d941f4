// Package wamp implements a WebRTC signaling system using RPC over WebSockets.
//
// This package contains a WAMP server that relays RPC requests between
// connected clients, and a client which implements the Signal interface, and
// which is used by the WebRTCTransport to exchange SDP offers and answers.
//
// Clients register a procedure named after their public key. Dialing a peer is
// a call to that procedure with our own key and the SDP offer as arguments;
// the result is the SDP answer.
//
// If a cert.pem file is found in the data directory, it is passed to the
// signal client. Otherwise the platform trusted certificates are used. There is
// also an option to skip certificate verification, but this should only be
// used for testing.
package wamp

const (
	// ErrProcessingOffer indicates that the client who received the offer ran
	// into an error while processing it.
	ErrProcessingOffer = "io.rewind.processing_offer"
)
