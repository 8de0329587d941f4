package snapshot

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"sync"

	"github.com/dgraph-io/badger"
	"github.com/klauspost/compress/zstd"
	"github.com/mosaicnetworks/rewind/src/common"
)

const (
	slotPrefix = "slot"

	// frame and checksum precede the compressed state in every value
	headerSize = 16
)

// BadgerStore is a Store whose slots live in a badger database. States are
// compressed with zstd, which pays off when the simulation state is large.
// Only the frame number of every slot is kept in memory.
type BadgerStore struct {
	sync.RWMutex

	db     *badger.DB
	path   string
	frames []int
	latest int

	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewBadgerStore opens, or creates, the database at path and clears any slots
// left over from a previous session.
func NewBadgerStore(capacity int, path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	opts.SyncWrites = false

	handle, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	if err := handle.DropAll(); err != nil {
		handle.Close()
		return nil, err
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		handle.Close()
		return nil, err
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		handle.Close()
		return nil, err
	}

	frames := make([]int, capacity)
	for i := range frames {
		frames[i] = -1
	}

	return &BadgerStore{
		db:      handle,
		path:    path,
		frames:  frames,
		latest:  -1,
		encoder: encoder,
		decoder: decoder,
	}, nil
}

func slotKey(index int) []byte {
	return []byte(fmt.Sprintf("%s_%04d", slotPrefix, index))
}

// Save implements the Store interface.
func (s *BadgerStore) Save(frame int, state []byte) (*Snapshot, error) {
	if frame < 0 {
		return nil, common.NewErr("BadgerStore", common.TooLate, strconv.Itoa(frame))
	}

	snap := &Snapshot{
		Frame:    frame,
		State:    append([]byte(nil), state...),
		Checksum: common.Checksum(state),
	}

	val := make([]byte, headerSize, headerSize+len(state)/2)
	binary.LittleEndian.PutUint64(val[0:8], uint64(frame))
	binary.LittleEndian.PutUint64(val[8:16], snap.Checksum)
	val = s.encoder.EncodeAll(state, val)

	s.Lock()
	defer s.Unlock()

	index := frame % len(s.frames)

	//insert [slot_index] => [frame | checksum | zstd(state)]
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(slotKey(index), val)
	})
	if err != nil {
		return nil, err
	}

	s.frames[index] = frame
	s.latest = frame

	return snap, nil
}

// Load implements the Store interface.
func (s *BadgerStore) Load(frame int) (*Snapshot, error) {
	s.RLock()
	defer s.RUnlock()

	if frame < 0 || s.frames[frame%len(s.frames)] != frame {
		return nil, common.NewErr("BadgerStore", common.SnapshotNotFound, strconv.Itoa(frame))
	}

	var val []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(slotKey(frame % len(s.frames)))
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, mapError(err, frame)
	}

	if len(val) < headerSize {
		return nil, fmt.Errorf("snapshot %d: truncated value", frame)
	}

	if f := int(binary.LittleEndian.Uint64(val[0:8])); f != frame {
		return nil, common.NewErr("BadgerStore", common.SnapshotNotFound, strconv.Itoa(frame))
	}

	state, err := s.decoder.DecodeAll(val[headerSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("snapshot %d: %w", frame, err)
	}

	return &Snapshot{
		Frame:    frame,
		State:    state,
		Checksum: binary.LittleEndian.Uint64(val[8:16]),
	}, nil
}

// LatestFrame implements the Store interface.
func (s *BadgerStore) LatestFrame() int {
	s.RLock()
	defer s.RUnlock()
	return s.latest
}

// Capacity implements the Store interface.
func (s *BadgerStore) Capacity() int {
	return len(s.frames)
}

// StorePath returns the directory of the database.
func (s *BadgerStore) StorePath() string {
	return s.path
}

// Close implements the Store interface.
func (s *BadgerStore) Close() error {
	s.encoder.Close()
	s.decoder.Close()
	return s.db.Close()
}

func mapError(err error, frame int) error {
	if err == badger.ErrKeyNotFound {
		return common.NewErr("BadgerStore", common.SnapshotNotFound, strconv.Itoa(frame))
	}
	return err
}
