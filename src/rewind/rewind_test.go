package rewind

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mosaicnetworks/rewind/src/common"
	"github.com/mosaicnetworks/rewind/src/config"
	"github.com/mosaicnetworks/rewind/src/crypto/keys"
	"github.com/mosaicnetworks/rewind/src/net"
	"github.com/mosaicnetworks/rewind/src/peers"
	"github.com/mosaicnetworks/rewind/src/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRewind(t *testing.T, peerSet *peers.PeerSet, trans net.Transport) *Rewind {
	key, err := keys.GenerateECDSAKey()
	require.NoError(t, err)

	conf := config.NewTestConfig(t, common.TestLogLevel)
	conf.Transport = config.InmemTransport
	conf.NoService = true
	conf.FrameRate = 100
	conf.ConnectTimeout = time.Second
	conf.Key = key

	r := NewRewind(conf)
	r.Peers = peerSet
	r.Transport = trans

	return r
}

func TestRun(t *testing.T) {
	addrA, transA := net.NewInmemTransport("")
	addrB, transB := net.NewInmemTransport("")
	net.LinkInmemTransports(transA, transB)

	a := newTestRewind(t, nil, transA)
	b := newTestRewind(t, nil, transB)

	peerSet := peers.NewPeerSet([]*peers.Peer{
		peers.NewPeer(keys.PublicKeyHex(&a.Config.Key.PublicKey), addrA, "alice"),
		peers.NewPeer(keys.PublicKeyHex(&b.Config.Key.PublicKey), addrB, "bob"),
	})
	a.Peers = peerSet
	b.Peers = peerSet

	require.NoError(t, a.Init())
	require.NoError(t, b.Init())
	defer a.Shutdown()
	defer b.Shutdown()

	assert.Equal(t, "alice", a.Config.Moniker)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	errCh := make(chan error, 2)
	go func() { errCh <- a.Run(ctx) }()
	go func() { errCh <- b.Run(ctx) }()

	for i := 0; i < 2; i++ {
		if err := <-errCh; err != nil {
			t.Fatal(err)
		}
	}

	for _, r := range []*Rewind{a, b} {
		if f := r.Session.CurrentFrame(); f < 10 {
			t.Fatalf("%s only reached frame %d", r.Config.Moniker, f)
		}
		if f := r.Session.ConfirmedFrame(); f < 0 {
			t.Fatalf("%s confirmed no frame", r.Config.Moniker)
		}
	}
}

func TestSessionPlayers(t *testing.T) {
	host := peers.NewPeer("0XAA", "host:1", "host")
	guest := peers.NewPeer("0XBB", "guest:1", "guest")
	watcher := peers.NewSpectator("0XCC", "watcher:1", "watcher")
	peerSet := peers.NewPeerSet([]*peers.Peer{host, guest, watcher})

	layout := func(self int) []session.Player {
		r := newTestRewind(t, peerSet, nil)
		r.Self = peerSet.Peers[self]
		r.selfIndex = self
		return r.sessionPlayers()
	}

	assert.Equal(t, []session.Player{
		session.LocalPlayer(),
		session.RemotePlayer("guest:1"),
		session.SpectatorPlayer("watcher:1"),
	}, layout(0))

	assert.Equal(t, []session.Player{
		session.RemotePlayer("host:1"),
		session.LocalPlayer(),
	}, layout(1))

	assert.Equal(t, []session.Player{
		session.RemotePlayer("host:1"),
		session.RemotePlayer("host:1"),
	}, layout(2))
}

func TestInitKey(t *testing.T) {
	dir, err := ioutil.TempDir("", "rewind_key")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	conf := config.NewTestConfig(t, common.TestLogLevel)
	conf.SetDataDir(dir)

	r := NewRewind(conf)
	require.NoError(t, r.initKey())
	require.NotNil(t, conf.Key)

	// the generated key is persisted
	key, err := keys.NewSimpleKeyfile(filepath.Join(dir, config.DefaultKeyfile)).ReadKey()
	require.NoError(t, err)
	assert.Equal(t, keys.DumpPrivateKey(conf.Key), keys.DumpPrivateKey(key))

	_, err = Keygen(conf.Keyfile())
	assert.Error(t, err)
}

func TestInitPeersSelfMissing(t *testing.T) {
	peerSet := peers.NewPeerSet([]*peers.Peer{
		peers.NewPeer("0XAA", "a:1", "a"),
		peers.NewPeer("0XBB", "b:1", "b"),
	})

	r := newTestRewind(t, peerSet, nil)

	err := r.initPeers()
	if !common.Is(err, common.Configuration) {
		t.Fatalf("initPeers should fail with Configuration, got %v", err)
	}
}
