// Package snapshot implements the bounded ring of serialized simulation
// states that rollback restores from.
package snapshot

// Snapshot is the serialized simulation state at the start of a frame.
type Snapshot struct {
	Frame    int
	State    []byte
	Checksum uint64
}

// Store is a bounded ring of snapshots. Only the most recent Capacity() frames
// are retained; older ones are overwritten as new frames are saved.
type Store interface {
	// Save records the state at the start of frame, replacing whatever
	// snapshot occupied the same slot.
	Save(frame int, state []byte) (*Snapshot, error)
	// Load returns the snapshot of frame. It fails with SnapshotNotFound
	// when the frame was never saved or has left the ring.
	Load(frame int) (*Snapshot, error)
	// LatestFrame returns the last saved frame, or -1.
	LatestFrame() int
	// Capacity returns the number of slots in the ring.
	Capacity() int
	// Close releases any resources held by the store.
	Close() error
}
