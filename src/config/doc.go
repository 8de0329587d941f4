// Package config defines the configuration of a rewind session.
//
// Regardless of how rewind is started, directly from Go code or as a standalone
// process from the command line, it uses the Config object defined in this
// package to store and forward configuration options. On top of these
// configuration options, rewind relies on a data directory, defined by
// Config.DataDir, where it expects to find a few additional files:
//
//  priv_key // a plain text file containing the raw private key (cf. rewind keygen).
//  players.json // a JSON file listing the players of the session.
//  cert.pem // (optional) an x509 certificate for the WebRTC signaling server.
package config
