package peers

import (
	"io/ioutil"
	"os"
	"sync"

	"github.com/mosaicnetworks/rewind/src/crypto/keys"
)

// JSONPeerSet reads and writes the players file.
type JSONPeerSet struct {
	l    sync.Mutex
	path string
}

// NewJSONPeerSet creates a JSONPeerSet backed by the file at path.
func NewJSONPeerSet(path string) *JSONPeerSet {
	return &JSONPeerSet{
		path: path,
	}
}

// PeerSet parses the underlying JSON file and returns the corresponding
// PeerSet.
func (j *JSONPeerSet) PeerSet() (*PeerSet, error) {
	j.l.Lock()
	defer j.l.Unlock()

	buf, err := ioutil.ReadFile(j.path)
	if err != nil {
		return nil, err
	}

	// Check for no peers
	if len(buf) == 0 {
		return nil, nil
	}

	return NewPeerSetFromPeerSliceBytes(buf)
}

// cleansePeerSet standardises the public key strings to match the format
// derived from a private key.
func cleansePeerSet(peers []*Peer) {
	for _, peer := range peers {
		peer.PubKeyHex = keys.NormalizePublicKeyHex(peer.PubKeyHex)
	}
}

// Write persists a list of peers to the JSON file.
func (j *JSONPeerSet) Write(peers []*Peer) error {
	j.l.Lock()
	defer j.l.Unlock()

	data, err := NewPeerSet(peers).Marshal()
	if err != nil {
		return err
	}

	return ioutil.WriteFile(j.path, data, os.FileMode(0644))
}
