// Package input defines the per-frame input of a player and the queue that
// holds a player's confirmed and predicted inputs.
//
// Frame
//
// A Frame is a fixed-width bit set. Equality is bitwise, and the binary
// encoding is always 4 little-endian bytes so that two machines hash and
// compare inputs identically.
//
// Queue
//
// Each player owns a Queue. Local inputs are confirmed as soon as they are
// sampled, remote inputs when they arrive from the network. When the
// scheduler asks for a frame that is not confirmed yet, the queue predicts it
// by repeating the last confirmed input and remembers what it handed out. If
// the confirmed value later turns out to differ, the queue records the first
// incorrect frame, which is where the scheduler must roll back to.
package input
