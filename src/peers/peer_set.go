package peers

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// PeerSet is the ordered list of peers of a session. The order of the players
// is the order of their handles, and is the same on every machine.
type PeerSet struct {
	Peers    []*Peer          `json:"peers"`
	ByPubKey map[string]*Peer `json:"-"`
}

// NewPeerSet creates a new PeerSet from a list of Peers
func NewPeerSet(peers []*Peer) *PeerSet {
	peerSet := &PeerSet{
		ByPubKey: make(map[string]*Peer),
	}

	for _, peer := range peers {
		peerSet.ByPubKey[peer.PubKeyHex] = peer
	}

	peerSet.Peers = peers

	return peerSet
}

// NewPeerSetFromPeerSliceBytes creates a new PeerSet from a JSON list of peers
func NewPeerSetFromPeerSliceBytes(peerSliceBytes []byte) (*PeerSet, error) {
	peers := []*Peer{}

	dec := json.NewDecoder(bytes.NewBuffer(peerSliceBytes))
	if err := dec.Decode(&peers); err != nil {
		return nil, err
	}

	cleansePeerSet(peers)

	return NewPeerSet(peers), nil
}

// Validate checks that the set can make a session: at least two players,
// spectators listed after every player, and no duplicate public key.
func (peerSet *PeerSet) Validate() error {
	if len(peerSet.ByPubKey) != len(peerSet.Peers) {
		return fmt.Errorf("duplicate public key in peer set")
	}

	players := 0
	for i, p := range peerSet.Peers {
		if p.Spectator {
			continue
		}
		if i > 0 && peerSet.Peers[i-1].Spectator {
			return fmt.Errorf("player %s listed after a spectator", p)
		}
		players++
	}
	if players < 2 {
		return fmt.Errorf("%d players, need at least 2", players)
	}

	return nil
}

// Players returns the peers that are not spectators.
func (peerSet *PeerSet) Players() []*Peer {
	res := []*Peer{}
	for _, p := range peerSet.Peers {
		if !p.Spectator {
			res = append(res, p)
		}
	}
	return res
}

// Host returns the first player. Spectators receive every input through it.
func (peerSet *PeerSet) Host() *Peer {
	for _, p := range peerSet.Peers {
		if !p.Spectator {
			return p
		}
	}
	return nil
}

// PubKeys returns the PeerSet's slice of public keys
func (peerSet *PeerSet) PubKeys() []string {
	res := []string{}
	for _, peer := range peerSet.Peers {
		res = append(res, peer.PubKeyHex)
	}
	return res
}

// Len returns the number of Peers in the PeerSet
func (peerSet *PeerSet) Len() int {
	return len(peerSet.Peers)
}

// Marshal marshals the peerset
func (peerSet *PeerSet) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	if err := enc.Encode(peerSet.Peers); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
