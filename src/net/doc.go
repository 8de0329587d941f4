// Package net implements the transports that carry synchronization packets
// between peers.
//
// A Transport is an unreliable datagram service: packets may be lost,
// duplicated or reordered, and the protocol layered on top tolerates all
// three. Send never waits on the remote peer, so the tick path cannot block on
// the network. Incoming packets are delivered on the Consumer channel tagged
// with the address of the sender. There are four implementations:
//
// - Inmem: in-memory transport used for testing
//
// - UDP: plain datagrams, one packet per datagram
//
// - KCP: UDP with retransmission and forward error correction
//
// - WebRTC: unordered, unreliable data channels
//
// UDP and KCP
//
// These transports are suitable when peers can reach each other directly. Set
// BindAddr to the IP:PORT to bind to and, if it is not reachable by other
// peers, AdvertiseAddr to the reachable public address. Peers are named by
// the address they advertise, so the addresses in the players file must match.
//
// WebRTC
//
// The WebRTC transport addresses the NAT traversal issue, but it requires a
// signaling server for peers to exchange connection information, and
// STUN/TURN services. Peers are named by their public key, which is also
// their identity on the signaling server (cf. signal/wamp). The data channels
// are created unordered with no retransmission, so the protocol sees the same
// datagram semantics as with UDP.
package net
