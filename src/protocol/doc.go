// Package protocol implements the synchronization protocol spoken between the
// peers of a rollback session.
//
// Every packet is a type byte followed by a msgpack body. Peers continuously
// send each other the inputs the other side has not acknowledged yet, oldest
// first and capped at InputRedundancy frames per player, together with
// acknowledgements of what they received. Because every packet repeats all
// unacknowledged inputs, any packet that gets through fills the gaps left by
// lost ones, and duplicates are simply ignored.
//
// Periodically peers also exchange the checksum of a snapshot every player
// has confirmed, which detects desynchronization, and quality reports which
// measure the round-trip time and how far ahead of its peers a machine runs.
// A peer that stays silent for longer than DisconnectTimeout is declared
// disconnected.
package protocol
