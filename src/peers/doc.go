// Package peers defines the machines taking part in a rewind session.
//
// Before a session starts, every machine reads the same players.json file from
// its data directory. The file lists the peers in handle order: players first,
// then spectators. A machine finds itself in the list by the public key of its
// priv_key file; its own entry becomes the local player, the other players
// become remote players, and spectators are fed by the first player of the
// list, the host.
//
//  [
//      {"NetAddr": "10.0.0.1:1337", "PubKeyHex": "0X04...", "Moniker": "alice"},
//      {"NetAddr": "10.0.0.2:1337", "PubKeyHex": "0X04...", "Moniker": "bob"},
//      {"NetAddr": "10.0.0.3:1337", "PubKeyHex": "0X04...", "Spectator": true}
//  ]
//
// With the WebRTC transport, NetAddr is ignored and peers are addressed by
// public key on the signaling server.
package peers
