// Package rewind implements the engine that runs a rollback session as a
// standalone process.
//
// The engine reads its private key and the list of players (players.json) from
// the data directory, connects to the other peers over the selected transport
// (UDP, KCP or WebRTC), and advances the session at a fixed frame rate with a
// demo simulation and an input sampler. Events are logged and published on the
// optional HTTP service.
//
// The order of the peers in players.json defines the player handles, and must
// be the same on every machine. Spectators are listed after the players and
// only connect to the first player, the host, which forwards them every input.
package rewind
