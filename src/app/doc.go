// Package app defines the contract between the rollback session and the host
// application.
//
// The session never looks inside the simulation state. It drives the
// application through a Simulation, which must be deterministic: given the
// same state and the same inputs, Advance must return the same result on
// every machine, and Serialize must produce the same bytes for equal states.
// Snapshot checksums are computed over those bytes, so any hidden
// nondeterminism (map iteration order, wall-clock time, floating-point
// differences between platforms) shows up as a desync.
//
// Local inputs are read through an InputSampler once per tick.
package app
