// Package keys manages the identity key of a rewind peer.
//
// Every peer owns a secp256k1 key-pair, stored as a raw hex dump in the
// priv_key file of its data directory (cf. rewind keygen). The hex of the public
// key names the peer in the players file and, with the WebRTC transport, on the
// signaling server.
package keys
