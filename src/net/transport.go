package net

import "time"

// DefaultConsumerBuffer is the capacity of a transport's Consumer channel.
// Packets arriving while the channel is full are dropped, as they would be by a
// saturated socket.
const DefaultConsumerBuffer = 1024

// Packet is a datagram received from a peer.
type Packet struct {
	From string
	Data []byte
}

// Transport provides an unreliable datagram service between peers. Packets
// may be lost, duplicated or reordered; the synchronization protocol copes
// with all three.
type Transport interface {

	// Starts the transport listening
	Listen()

	// Consumer returns a channel that delivers incoming packets.
	Consumer() <-chan Packet

	// Send delivers data to target without waiting for the peer. It fails if
	// no link to the target exists.
	Send(target string, data []byte) error

	// Connect establishes a link to target, waiting at most timeout.
	Connect(target string, timeout time.Duration) error

	// Connected reports whether a link to target is established.
	Connected(target string) bool

	// LocalAddr is used to return our local address
	LocalAddr() string

	// AdvertiseAddr is used to return our advertise address where other peers
	// can reach us
	AdvertiseAddr() string

	// Close permanently closes a transport, stopping
	// any associated goroutines and freeing other resources.
	Close() error
}
