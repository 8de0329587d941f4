package peers

import (
	"fmt"

	"github.com/mosaicnetworks/rewind/src/crypto/keys"
)

// Peer is an entry of the players file: a machine that takes part in the
// session, either as a player or as a spectator.
type Peer struct {
	NetAddr   string
	PubKeyHex string
	Moniker   string
	Spectator bool `json:",omitempty"`
}

// NewPeer creates a player Peer.
func NewPeer(pubKeyHex, netAddr, moniker string) *Peer {
	return &Peer{
		NetAddr:   netAddr,
		PubKeyHex: keys.NormalizePublicKeyHex(pubKeyHex),
		Moniker:   moniker,
	}
}

// NewSpectator creates a spectator Peer.
func NewSpectator(pubKeyHex, netAddr, moniker string) *Peer {
	p := NewPeer(pubKeyHex, netAddr, moniker)
	p.Spectator = true
	return p
}

// Address returns the transport address of the peer. With the WebRTC
// transport peers are addressed by public key.
func (p *Peer) Address(byPubKey bool) string {
	if byPubKey {
		return p.PubKeyHex
	}
	return p.NetAddr
}

// String returns the moniker and address of the peer
func (p *Peer) String() string {
	if p.Moniker != "" {
		return fmt.Sprintf("%s(%s)", p.Moniker, p.NetAddr)
	}
	return p.NetAddr
}
