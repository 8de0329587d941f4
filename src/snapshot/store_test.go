package snapshot

import (
	"bytes"
	"fmt"
	"io/ioutil"
	"os"
	"testing"

	"github.com/mosaicnetworks/rewind/src/common"
)

func testState(frame int) []byte {
	return bytes.Repeat([]byte(fmt.Sprintf("frame-%d;", frame)), 64)
}

// checkHorizon saves frames 0..last and verifies that exactly the most recent
// capacity frames can be loaded.
func checkHorizon(t *testing.T, store Store, last int) {
	capacity := store.Capacity()

	for f := 0; f <= last; f++ {
		snap, err := store.Save(f, testState(f))
		if err != nil {
			t.Fatal(err)
		}
		if snap.Checksum != common.Checksum(testState(f)) {
			t.Fatalf("Save(%d) returned a wrong checksum", f)
		}
	}

	if l := store.LatestFrame(); l != last {
		t.Fatalf("LatestFrame should be %d, not %d", last, l)
	}

	for f := 0; f <= last; f++ {
		snap, err := store.Load(f)

		if f <= last-capacity {
			if !common.Is(err, common.SnapshotNotFound) {
				t.Fatalf("frame %d should have left the ring, got %v", f, err)
			}
			continue
		}

		if err != nil {
			t.Fatalf("frame %d should be retained: %v", f, err)
		}
		if snap.Frame != f {
			t.Fatalf("Load(%d) returned frame %d", f, snap.Frame)
		}
		if !bytes.Equal(snap.State, testState(f)) {
			t.Fatalf("Load(%d) returned a different state", f)
		}
		if snap.Checksum != common.Checksum(testState(f)) {
			t.Fatalf("Load(%d) returned a wrong checksum", f)
		}
	}

	if _, err := store.Load(last + 1); !common.Is(err, common.SnapshotNotFound) {
		t.Fatalf("unsaved frame should not be found, got %v", err)
	}
	if _, err := store.Load(-1); !common.Is(err, common.SnapshotNotFound) {
		t.Fatalf("negative frame should not be found, got %v", err)
	}
}

func TestInmemStoreHorizon(t *testing.T) {
	store := NewInmemStore(10)
	checkHorizon(t, store, 35)
}

func TestInmemStoreCopiesState(t *testing.T) {
	store := NewInmemStore(4)

	state := []byte{1, 2, 3}
	if _, err := store.Save(0, state); err != nil {
		t.Fatal(err)
	}
	state[0] = 9

	snap, err := store.Load(0)
	if err != nil {
		t.Fatal(err)
	}
	if snap.State[0] != 1 {
		t.Fatal("the store should keep its own copy of the state")
	}
}

func TestInmemStoreResave(t *testing.T) {
	store := NewInmemStore(4)

	for f := 0; f < 6; f++ {
		if _, err := store.Save(f, testState(f)); err != nil {
			t.Fatal(err)
		}
	}

	// a rollback to 3 re-saves 4 and 5 with corrected states
	if _, err := store.Save(4, []byte("corrected")); err != nil {
		t.Fatal(err)
	}
	if l := store.LatestFrame(); l != 4 {
		t.Fatalf("LatestFrame should be 4 after re-saving, not %d", l)
	}

	snap, err := store.Load(4)
	if err != nil {
		t.Fatal(err)
	}
	if string(snap.State) != "corrected" {
		t.Fatalf("Load(4) should return the corrected state, not %q", snap.State)
	}
}

func initBadgerStore(capacity int, t *testing.T) *BadgerStore {
	os.RemoveAll("test_data")
	os.Mkdir("test_data", os.ModeDir|0777)
	dir, err := ioutil.TempDir("test_data", "badger")
	if err != nil {
		t.Fatal(err)
	}

	store, err := NewBadgerStore(capacity, dir)
	if err != nil {
		t.Fatal(err)
	}

	return store
}

func removeBadgerStore(store *BadgerStore, t *testing.T) {
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}
	if err := os.RemoveAll("test_data"); err != nil {
		t.Fatal(err)
	}
}

func TestBadgerStoreHorizon(t *testing.T) {
	store := initBadgerStore(10, t)
	defer removeBadgerStore(store, t)

	checkHorizon(t, store, 35)
}

func TestBadgerStoreReopen(t *testing.T) {
	store := initBadgerStore(4, t)

	if _, err := store.Save(0, testState(0)); err != nil {
		t.Fatal(err)
	}
	path := store.StorePath()
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	store, err := NewBadgerStore(4, path)
	if err != nil {
		t.Fatal(err)
	}
	defer removeBadgerStore(store, t)

	if _, err := store.Load(0); !common.Is(err, common.SnapshotNotFound) {
		t.Fatalf("a new store should not expose slots of a previous session, got %v", err)
	}
}
