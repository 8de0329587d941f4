package common

import "fmt"

// ErrType identifies the category of an Err.
type ErrType uint32

const (
	// Configuration is returned when a session cannot be created from the
	// given players and parameters.
	Configuration ErrType = iota
	// SessionAlreadyStarted is returned when players are added after Start.
	SessionAlreadyStarted
	// NotStarted is returned when a running session is required.
	NotStarted
	// OutOfOrderInput is returned for an input at or before the last
	// confirmed frame. It is a late duplicate and is safe to drop.
	OutOfOrderInput
	// SkippedFrame is returned for an input that would leave a gap after the
	// last confirmed frame.
	SkippedFrame
	// TooLate is returned when a frame has already left a ring buffer.
	TooLate
	// SnapshotNotFound is returned when no snapshot is retained for a frame.
	SnapshotNotFound
	// UnknownPlayer is returned for a handle that was never assigned.
	UnknownPlayer
	// NotConnected is returned when a peer address has no transport link.
	NotConnected
	// Faulted is returned by every operation once a session is terminal.
	Faulted
)

var errTypeNames = map[ErrType]string{
	Configuration:         "Configuration Error",
	SessionAlreadyStarted: "Session Already Started",
	NotStarted:            "Not Started",
	OutOfOrderInput:       "Out Of Order Input",
	SkippedFrame:          "Skipped Frame",
	TooLate:               "Too Late",
	SnapshotNotFound:      "Snapshot Not Found",
	UnknownPlayer:         "Unknown Player",
	NotConnected:          "Not Connected",
	Faulted:               "Faulted",
}

// String returns the human-readable name of the error type.
func (t ErrType) String() string {
	if s, ok := errTypeNames[t]; ok {
		return s
	}
	return "Unknown"
}

// Err is the error type returned by the rollback core. It carries the
// component that raised it, its category and the key (frame, handle, address)
// it relates to.
type Err struct {
	component string
	errType   ErrType
	key       string
}

// NewErr creates an Err.
func NewErr(component string, errType ErrType, key string) Err {
	return Err{
		component: component,
		errType:   errType,
		key:       key,
	}
}

// Error implements the error interface.
func (e Err) Error() string {
	return fmt.Sprintf("%s, %s, %s", e.component, e.key, e.errType)
}

// Type returns the category of the error.
func (e Err) Type() ErrType {
	return e.errType
}

// Is checks that an error is of type Err and that its code matches the
// provided ErrType. Wrapped errors are unwrapped.
func Is(err error, t ErrType) bool {
	for err != nil {
		if e, ok := err.(Err); ok {
			return e.errType == t
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
