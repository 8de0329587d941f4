package snapshot

import (
	"strconv"
	"sync"

	"github.com/mosaicnetworks/rewind/src/common"
)

// InmemStore is a Store held entirely in memory.
type InmemStore struct {
	sync.RWMutex

	slots  []*Snapshot
	latest int
}

// NewInmemStore creates an InmemStore with the given number of slots.
func NewInmemStore(capacity int) *InmemStore {
	return &InmemStore{
		slots:  make([]*Snapshot, capacity),
		latest: -1,
	}
}

// Save implements the Store interface.
func (s *InmemStore) Save(frame int, state []byte) (*Snapshot, error) {
	if frame < 0 {
		return nil, common.NewErr("InmemStore", common.TooLate, strconv.Itoa(frame))
	}

	snap := &Snapshot{
		Frame:    frame,
		State:    append([]byte(nil), state...),
		Checksum: common.Checksum(state),
	}

	s.Lock()
	defer s.Unlock()

	s.slots[frame%len(s.slots)] = snap
	s.latest = frame

	return snap, nil
}

// Load implements the Store interface.
func (s *InmemStore) Load(frame int) (*Snapshot, error) {
	s.RLock()
	defer s.RUnlock()

	if frame < 0 {
		return nil, common.NewErr("InmemStore", common.SnapshotNotFound, strconv.Itoa(frame))
	}

	snap := s.slots[frame%len(s.slots)]
	if snap == nil || snap.Frame != frame {
		return nil, common.NewErr("InmemStore", common.SnapshotNotFound, strconv.Itoa(frame))
	}

	return snap, nil
}

// LatestFrame implements the Store interface.
func (s *InmemStore) LatestFrame() int {
	s.RLock()
	defer s.RUnlock()
	return s.latest
}

// Capacity implements the Store interface.
func (s *InmemStore) Capacity() int {
	return len(s.slots)
}

// Close implements the Store interface.
func (s *InmemStore) Close() error {
	return nil
}
