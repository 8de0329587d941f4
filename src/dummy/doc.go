// Package dummy implements a minimal deterministic game used to exercise the
// rollback session: every player moves a box around a plane with the four
// directional input bits.
package dummy
