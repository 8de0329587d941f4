package rewind

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"os"
	"time"

	"github.com/mosaicnetworks/rewind/src/common"
	"github.com/mosaicnetworks/rewind/src/config"
	"github.com/mosaicnetworks/rewind/src/crypto/keys"
	"github.com/mosaicnetworks/rewind/src/dummy"
	"github.com/mosaicnetworks/rewind/src/net"
	"github.com/mosaicnetworks/rewind/src/net/signal/wamp"
	"github.com/mosaicnetworks/rewind/src/peers"
	"github.com/mosaicnetworks/rewind/src/service"
	"github.com/mosaicnetworks/rewind/src/session"
	"github.com/mosaicnetworks/rewind/src/snapshot"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// maxHold is the longest a direction is held by the demo sampler.
const maxHold = 20

// Rewind is the engine that ties a session to its transport, its snapshot
// store, the peers of players.json and the HTTP service, and drives it at a
// fixed frame rate.
type Rewind struct {
	// Config is the configuration of the engine.
	Config *config.Config

	// Peers is the list of players and spectators. If nil, it is loaded from
	// the players file of the data directory.
	Peers *peers.PeerSet

	// Transport carries the packets of the session. If nil, it is created
	// according to Config.Transport.
	Transport net.Transport

	// Store holds the snapshots of the session.
	Store snapshot.Store

	// Session is the rollback session.
	Session *session.Session

	// Service is the HTTP API, nil if disabled.
	Service *service.Service

	// Self is the entry of this machine in Peers.
	Self *peers.Peer

	selfIndex int
	logger    *logrus.Entry
}

// NewRewind is a factory method to produce a Rewind instance.
func NewRewind(c *config.Config) *Rewind {
	engine := &Rewind{
		Config: c,
		logger: c.Logger(),
	}

	return engine
}

// Init initialises the engine based on its configuration. It loads the key
// and the peers, connects to every remote peer and prepares the session.
func (r *Rewind) Init() error {
	r.logger.Debug("validateConfig")
	if err := r.validateConfig(); err != nil {
		r.logger.WithError(err).Error("rewind.go:Init() validateConfig")
		return err
	}

	r.logger.Debug("initKey")
	if err := r.initKey(); err != nil {
		r.logger.WithError(err).Error("rewind.go:Init() initKey")
		return err
	}

	r.logger.Debug("initPeers")
	if err := r.initPeers(); err != nil {
		r.logger.WithError(err).Error("rewind.go:Init() initPeers")
		return err
	}

	r.logger.Debug("initTransport")
	if err := r.initTransport(); err != nil {
		r.logger.WithError(err).Error("rewind.go:Init() initTransport")
		return err
	}

	r.logger.Debug("connectPeers")
	if err := r.connectPeers(); err != nil {
		r.logger.WithError(err).Error("rewind.go:Init() connectPeers")
		return err
	}

	r.logger.Debug("initStore")
	if err := r.initStore(); err != nil {
		r.logger.WithError(err).Error("rewind.go:Init() initStore")
		return err
	}

	r.logger.Debug("initSession")
	if err := r.initSession(); err != nil {
		r.logger.WithError(err).Error("rewind.go:Init() initSession")
		return err
	}

	r.logger.Debug("initService")
	r.initService()

	return nil
}

func (r *Rewind) validateConfig() error {
	switch r.Config.Transport {
	case config.InmemTransport, config.UDPTransport, config.KCPTransport, config.WebRTCTransport:
	default:
		return common.NewErr("Rewind", common.Configuration,
			fmt.Sprintf("unknown transport %q", r.Config.Transport))
	}

	if r.Config.FrameRate <= 0 {
		r.logger.WithField("frame_rate", r.Config.FrameRate).Warn("Invalid frame rate, using default")
		r.Config.FrameRate = config.DefaultFrameRate
	}

	return nil
}

func (r *Rewind) initKey() error {
	if r.Config.Key != nil {
		return nil
	}

	simpleKeyfile := keys.NewSimpleKeyfile(r.Config.Keyfile())

	privKey, err := simpleKeyfile.ReadKey()
	if err != nil {
		r.logger.WithError(err).Warn("Cannot read private key from file")

		privKey, err = Keygen(r.Config.Keyfile())
		if err != nil {
			r.logger.WithError(err).Error("Cannot generate a new private key")
			return err
		}

		r.logger.WithField("pub_key", keys.PublicKeyHex(&privKey.PublicKey)).Info("Created a new key")
	}

	r.Config.Key = privKey

	return nil
}

func (r *Rewind) initPeers() error {
	if r.Peers == nil {
		peerSet, err := peers.NewJSONPeerSet(r.Config.PlayersFile()).PeerSet()
		if err != nil {
			return err
		}
		r.Peers = peerSet
	}

	if err := r.Peers.Validate(); err != nil {
		return common.NewErr("Rewind", common.Configuration, err.Error())
	}

	pubKey := keys.PublicKeyHex(&r.Config.Key.PublicKey)

	self, ok := r.Peers.ByPubKey[pubKey]
	if !ok {
		return common.NewErr("Rewind", common.Configuration,
			fmt.Sprintf("%s not found in %s", pubKey, config.DefaultPlayersFile))
	}

	for i, p := range r.Peers.Peers {
		if p == self {
			r.selfIndex = i
		}
	}
	r.Self = self

	if r.Config.Moniker == "" {
		r.Config.Moniker = self.Moniker
	}

	r.logger.WithFields(logrus.Fields{
		"peers":     r.Peers.Len(),
		"self":      self,
		"spectator": self.Spectator,
	}).Debug("Peers")

	return nil
}

func (r *Rewind) byPubKey() bool {
	return r.Config.Transport == config.WebRTCTransport
}

func (r *Rewind) initTransport() error {
	if r.Transport != nil {
		return nil
	}

	var trans net.Transport

	switch r.Config.Transport {
	case config.InmemTransport:
		return common.NewErr("Rewind", common.Configuration,
			"the inmem transport must be created by the caller")
	case config.UDPTransport:
		t, err := net.NewUDPTransport(r.Config.BindAddr, r.Config.AdvertiseAddr, r.logger)
		if err != nil {
			return err
		}
		trans = t
	case config.KCPTransport:
		t, err := net.NewKCPTransport(r.Config.BindAddr, r.Config.AdvertiseAddr, r.logger)
		if err != nil {
			return err
		}
		trans = t
	case config.WebRTCTransport:
		signal, err := wamp.NewClient(
			wamp.ClientConfig{
				Server:     r.Config.SignalAddr,
				Realm:      r.Config.SignalRealm,
				ID:         r.Self.PubKeyHex,
				CAFile:     r.Config.CertFile(),
				SkipVerify: r.Config.SignalSkipVerify,
				Timeout:    r.Config.ConnectTimeout,
			},
			r.logger.WithField("component", "signal-client"),
		)
		if err != nil {
			return err
		}
		trans = net.NewWebRTCTransport(signal, r.Config.ICEServers(), r.logger)
	}

	go trans.Listen()

	r.Transport = trans

	return nil
}

// remotes returns the peers this machine exchanges packets with. Players talk
// to everyone else, spectators only to the host.
func (r *Rewind) remotes() []int {
	res := []int{}

	if r.Self.Spectator {
		host := r.Peers.Host()
		for i, p := range r.Peers.Peers {
			if p == host {
				res = append(res, i)
			}
		}
		return res
	}

	for i, p := range r.Peers.Peers {
		if i == r.selfIndex {
			continue
		}
		if p.Spectator && r.Peers.Host() != r.Self {
			continue
		}
		res = append(res, i)
	}

	return res
}

// connectPeers connects to every remote peer in parallel. With WebRTC, the
// peer listed first makes the offer and the other one waits for it.
func (r *Rewind) connectPeers() error {
	var g errgroup.Group

	for _, i := range r.remotes() {
		p := r.Peers.Peers[i]
		addr := p.Address(r.byPubKey())
		offer := !r.byPubKey() || r.selfIndex < i

		g.Go(func() error {
			if offer {
				if err := r.Transport.Connect(addr, r.Config.ConnectTimeout); err != nil {
					return fmt.Errorf("connecting to %s: %v", p, err)
				}
			} else if err := r.waitConnected(addr); err != nil {
				return fmt.Errorf("waiting for %s: %v", p, err)
			}
			r.logger.WithField("peer", p).Debug("Connected")
			return nil
		})
	}

	return g.Wait()
}

func (r *Rewind) waitConnected(addr string) error {
	deadline := time.Now().Add(r.Config.ConnectTimeout)
	for !r.Transport.Connected(addr) {
		if time.Now().After(deadline) {
			return common.NewErr("Rewind", common.NotConnected, addr)
		}
		time.Sleep(50 * time.Millisecond)
	}
	return nil
}

func (r *Rewind) initStore() error {
	if !r.Config.Store {
		r.Store = snapshot.NewInmemStore(r.Config.SnapshotCapacity)
		r.logger.Debug("created new in-mem store")
		return nil
	}

	dbPath := r.Config.DatabaseDir
	r.logger.WithField("path", dbPath).Debug("Creating Badger store")

	// snapshots are only useful for the lifetime of a session
	if _, err := os.Stat(dbPath); err == nil {
		r.logger.WithField("path", dbPath).Debug("Removing existing database")
		if err := os.RemoveAll(dbPath); err != nil {
			return err
		}
	}

	store, err := snapshot.NewBadgerStore(r.Config.SnapshotCapacity, dbPath)
	if err != nil {
		return err
	}
	r.Store = store

	return nil
}

// sessionPlayers maps the peer set to the players of this machine.
func (r *Rewind) sessionPlayers() []session.Player {
	res := []session.Player{}

	if r.Self.Spectator {
		host := r.Peers.Host().Address(r.byPubKey())
		for range r.Peers.Players() {
			res = append(res, session.RemotePlayer(host))
		}
		return res
	}

	for i, p := range r.Peers.Peers {
		switch {
		case i == r.selfIndex:
			res = append(res, session.LocalPlayer())
		case p.Spectator:
			if r.Peers.Host() == r.Self {
				res = append(res, session.SpectatorPlayer(p.Address(r.byPubKey())))
			}
		default:
			res = append(res, session.RemotePlayer(p.Address(r.byPubKey())))
		}
	}

	return res
}

func (r *Rewind) initSession() error {
	game := dummy.NewGame(len(r.Peers.Players()), r.logger.WithField("component", "game"))
	sampler := dummy.NewRandomSampler(time.Now().UnixNano(), maxHold)

	r.Session = session.NewSession(r.Config, game, sampler, r.Transport, r.Store)

	for _, p := range r.sessionPlayers() {
		if _, err := r.Session.AddPlayer(p); err != nil {
			return err
		}
	}

	return r.Session.Start()
}

func (r *Rewind) initService() {
	if !r.Config.NoService {
		r.Service = service.NewService(r.Config.ServiceAddr, r.Session, r.logger.WithField("component", "service"))
	}
}

// Run advances the session at the configured frame rate until ctx is
// cancelled or the session faults.
func (r *Rewind) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if r.Service != nil {
		g.Go(func() error {
			return r.Service.Serve(gctx)
		})
	}

	g.Go(func() error {
		return r.loop(gctx)
	})

	return g.Wait()
}

func (r *Rewind) loop(ctx context.Context) error {
	ticker := time.NewTicker(r.Config.FrameDuration())
	defer ticker.Stop()

	skip := 0

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		if skip > 0 {
			skip--
			continue
		}

		events, err := r.Session.Tick()

		for _, e := range events {
			r.logEvent(e)
			if ts, ok := e.(session.TimeSync); ok {
				skip = ts.FramesAhead
			}
		}

		if r.Service != nil {
			r.Service.Publish(events)
		}

		if err != nil {
			return err
		}
	}
}

func (r *Rewind) logEvent(e session.Event) {
	switch ev := e.(type) {
	case session.FrameAdvanced:
		if r.Config.FrameRate > 0 && ev.Frame%r.Config.FrameRate == 0 {
			r.logger.WithFields(logrus.Fields{
				"frame":     ev.Frame,
				"confirmed": r.Session.ConfirmedFrame(),
			}).Debug("Frame")
		}
	case session.RollbackOccurred:
		r.logger.WithFields(logrus.Fields{
			"from": ev.FromFrame,
			"to":   ev.ToFrame,
		}).Debug("Rollback")
	case session.Stalled:
		r.logger.WithFields(logrus.Fields{
			"frame":   ev.Frame,
			"horizon": ev.Horizon,
		}).Debug("Stalled")
	case session.TimeSync:
		r.logger.WithField("frames_ahead", ev.FramesAhead).Debug("Time sync")
	case session.PlayerDisconnected:
		r.logger.WithField("handle", ev.Handle).Warn("Player disconnected")
	case session.Desync:
		r.logger.WithFields(logrus.Fields{
			"frame":  ev.Frame,
			"local":  ev.Local,
			"remote": ev.Remote,
		}).Warn("Desync")
	case session.SessionFaulted:
		r.logger.WithField("reason", ev.Reason).Error("Session faulted")
	}
}

// Shutdown closes the session and the transport.
func (r *Rewind) Shutdown() {
	r.logger.Debug("Shutdown")
	if r.Session != nil {
		if err := r.Session.Close(); err != nil {
			r.logger.WithError(err).Error("Closing session")
		}
	}
	if r.Transport != nil {
		if err := r.Transport.Close(); err != nil {
			r.logger.WithError(err).Error("Closing transport")
		}
	}
}

// Keygen generates a new key and writes it to keyfile. It refuses to
// overwrite an existing key.
func Keygen(keyfile string) (*ecdsa.PrivateKey, error) {
	if _, err := os.Stat(keyfile); err == nil {
		return nil, fmt.Errorf("A key already lives at %s", keyfile)
	}

	privKey, err := keys.GenerateECDSAKey()
	if err != nil {
		return nil, err
	}

	if err := keys.NewSimpleKeyfile(keyfile).WriteKey(privKey); err != nil {
		return nil, err
	}

	return privKey, nil
}
