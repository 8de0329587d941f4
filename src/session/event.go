package session

import (
	"github.com/mosaicnetworks/rewind/src/rollback"
)

// EventKind names an Event.
type EventKind string

// Event kinds.
const (
	FrameAdvancedEvent      EventKind = "FrameAdvanced"
	RollbackOccurredEvent   EventKind = "RollbackOccurred"
	PlayerDisconnectedEvent EventKind = "PlayerDisconnected"
	DesyncEvent             EventKind = "Desync"
	SessionFaultedEvent     EventKind = "SessionFaulted"
	StalledEvent            EventKind = "Stalled"
	TimeSyncEvent           EventKind = "TimeSync"
)

// Event is something a call to AdvanceFrame reports to the host.
type Event interface {
	Kind() EventKind
}

// FrameAdvanced is emitted when Frame was simulated for the first time. The
// state returned by Session.State is the state at the end of Frame.
type FrameAdvanced struct {
	Frame int
}

// RollbackOccurred is emitted when the simulation was restored to the start
// of ToFrame and resimulated up to FromFrame with corrected inputs.
type RollbackOccurred struct {
	FromFrame int
	ToFrame   int
}

// PlayerDisconnected is emitted once per player that left. Its inputs are
// neutral from then on.
type PlayerDisconnected struct {
	Handle PlayerHandle
}

// Desync is emitted when a peer's checksum of Frame differs from ours.
type Desync struct {
	Frame  int
	Local  uint64
	Remote uint64
}

// SessionFaulted is emitted once, when the session enters its terminal state.
type SessionFaulted struct {
	Reason rollback.Reason
}

// Stalled is emitted for every call to AdvanceFrame that did not advance
// because Frame is too far ahead of Horizon, the last frame confirmed by the
// slowest remote player.
type Stalled struct {
	Frame   int
	Horizon int
}

// TimeSync is emitted periodically while this machine runs ahead of its
// peers. Hosts should slow down by about half of FramesAhead frames.
type TimeSync struct {
	FramesAhead int
}

// Kind implements the Event interface.
func (FrameAdvanced) Kind() EventKind { return FrameAdvancedEvent }

// Kind implements the Event interface.
func (RollbackOccurred) Kind() EventKind { return RollbackOccurredEvent }

// Kind implements the Event interface.
func (PlayerDisconnected) Kind() EventKind { return PlayerDisconnectedEvent }

// Kind implements the Event interface.
func (Desync) Kind() EventKind { return DesyncEvent }

// Kind implements the Event interface.
func (SessionFaulted) Kind() EventKind { return SessionFaultedEvent }

// Kind implements the Event interface.
func (Stalled) Kind() EventKind { return StalledEvent }

// Kind implements the Event interface.
func (TimeSync) Kind() EventKind { return TimeSyncEvent }
