package wamp

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gammazero/nexus/v3/client"
	"github.com/gammazero/nexus/v3/wamp"
	"github.com/mosaicnetworks/rewind/src/net/signal"
	"github.com/pion/webrtc/v2"
	"github.com/sirupsen/logrus"
)

// ClientConfig holds the settings of a signal Client.
type ClientConfig struct {
	// Server is the host:port of the router. It is reached over wss unless it
	// carries an explicit ws:// or wss:// scheme.
	Server string
	// Realm is the router realm shared by every peer of a session.
	Realm string
	// ID names the procedure other peers call to reach us. Transports use it
	// as their address.
	ID string
	// CAFile is a PEM certificate to trust on top of the platform ones. It
	// is ignored when the file does not exist.
	CAFile string
	// SkipVerify accepts any server certificate.
	SkipVerify bool
	// Timeout bounds a whole offer/answer exchange.
	Timeout time.Duration
}

// Client implements the Signal interface for the WebRTC transport. Each peer
// registers a procedure named after its ID; an offer is a call to the remote
// peer's procedure and the answer is the call's result.
type Client struct {
	conf     ClientConfig
	url      string
	wampConf client.Config
	offers   chan signal.OfferPromise
	logger   *logrus.Entry

	mu        sync.Mutex
	peer      *client.Client
	listening bool
}

// NewClient creates a Client and joins the router, so that a bad address or
// certificate fails at startup rather than on the first Connect.
func NewClient(conf ClientConfig, logger *logrus.Entry) (*Client, error) {
	tlsConf, err := clientTLS(conf.CAFile, conf.SkipVerify, logger)
	if err != nil {
		return nil, err
	}

	url := conf.Server
	if !strings.HasPrefix(url, "ws://") && !strings.HasPrefix(url, "wss://") {
		url = "wss://" + url
	}

	c := &Client{
		conf: conf,
		url:  url,
		wampConf: client.Config{
			Realm:           conf.Realm,
			ResponseTimeout: conf.Timeout,
			TlsCfg:          tlsConf,
			Logger:          logger,
		},
		offers: make(chan signal.OfferPromise),
		logger: logger,
	}

	if _, err := c.session(); err != nil {
		return nil, err
	}

	return c, nil
}

// clientTLS builds the TLS settings of the websocket connection. A nil config
// means the platform trusted certificates.
func clientTLS(caFile string, skipVerify bool, logger *logrus.Entry) (*tls.Config, error) {
	if skipVerify {
		logger.Debug("Accepting any signal server certificate")
		return &tls.Config{InsecureSkipVerify: true}, nil
	}

	if caFile == "" {
		return nil, nil
	}
	if _, err := os.Stat(caFile); os.IsNotExist(err) {
		logger.WithField("file", caFile).Debug("No signal certificate, using platform roots")
		return nil, nil
	}

	certPEM, err := ioutil.ReadFile(caFile)
	if err != nil {
		return nil, err
	}

	roots := x509.NewCertPool()
	if !roots.AppendCertsFromPEM(certPEM) {
		return nil, fmt.Errorf("no certificate found in %s", caFile)
	}

	block, _ := pem.Decode(certPEM)
	if block == nil {
		return nil, fmt.Errorf("decoding %s", caFile)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"file": caFile,
		"cn":   cert.Subject.CommonName,
	}).Debug("Trusting signal certificate")

	// the certificate validates against its CN even when the server is
	// dialed by IP
	return &tls.Config{
		RootCAs:    roots,
		ServerName: cert.Subject.CommonName,
	}, nil
}

// session returns the router connection, dialing again if it was lost. A new
// connection registers our procedure again when Listen was called before.
func (c *Client) session() (*client.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.peer != nil && c.peer.Connected() {
		return c.peer, nil
	}

	peer, err := client.ConnectNet(context.Background(), c.url, c.wampConf)
	if err != nil {
		return nil, fmt.Errorf("joining signal router %s: %w", c.url, err)
	}

	if c.listening {
		if err := peer.Register(c.conf.ID, c.handleOffer, nil); err != nil {
			peer.Close()
			return nil, err
		}
	}

	c.peer = peer

	return peer, nil
}

// ID implements the Signal interface.
func (c *Client) ID() string {
	return c.conf.ID
}

// Listen implements the Signal interface. It registers the procedure through
// which other peers deliver their offers.
func (c *Client) Listen() error {
	peer, err := c.session()
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.listening {
		return nil
	}
	if err := peer.Register(c.conf.ID, c.handleOffer, nil); err != nil {
		c.logger.WithError(err).Error("Registering offer procedure")
		return err
	}
	c.listening = true

	c.logger.WithField("id", c.conf.ID).Debug("Listening for offers")

	return nil
}

// Offer implements the Signal interface. It calls target's procedure with our
// ID and the offer, and waits at most Timeout for the answer.
func (c *Client) Offer(target string, offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	peer, err := c.session()
	if err != nil {
		return nil, err
	}

	sdp, err := json.Marshal(offer)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.conf.Timeout)
	defer cancel()

	result, err := peer.Call(ctx, target, nil, wamp.List{c.conf.ID, string(sdp)}, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("offer to %s: %w", target, err)
	}

	if len(result.Arguments) != 1 {
		return nil, fmt.Errorf("answer from %s has %d arguments", target, len(result.Arguments))
	}

	answer, err := decodeSDP(result.Arguments[0])
	if err != nil {
		return nil, fmt.Errorf("answer from %s: %w", target, err)
	}

	return &answer, nil
}

// Consumer implements the Signal interface. Offers are wrapped in promises
// whose answer is returned to the caller.
func (c *Client) Consumer() <-chan signal.OfferPromise {
	return c.offers
}

// Close implements the Signal interface.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.peer == nil {
		return nil
	}

	if c.listening && c.peer.Connected() {
		if err := c.peer.Unregister(c.conf.ID); err != nil {
			c.logger.WithError(err).Debug("Unregistering offer procedure")
		}
	}
	c.listening = false

	err := c.peer.Close()
	c.peer = nil

	return err
}

// handleOffer relays an invocation of our procedure to the consumer and
// returns the transport's answer.
func (c *Client) handleOffer(ctx context.Context, inv *wamp.Invocation) client.InvokeResult {
	if len(inv.Arguments) != 2 {
		return errResult(fmt.Sprintf("offer has %d arguments, expected 2", len(inv.Arguments)))
	}

	from, ok := wamp.AsString(inv.Arguments[0])
	if !ok {
		return errResult("offer sender is not a string")
	}

	offer, err := decodeSDP(inv.Arguments[1])
	if err != nil {
		return errResult(err.Error())
	}

	respCh := make(chan signal.OfferPromiseResponse, 1)

	timer := time.NewTimer(c.conf.Timeout)
	defer timer.Stop()

	select {
	case c.offers <- signal.OfferPromise{From: from, Offer: offer, RespChan: respCh}:
	case <-timer.C:
		return errResult("offer not consumed")
	case <-ctx.Done():
		return errResult("offer cancelled")
	}

	select {
	case resp := <-respCh:
		if resp.Error != nil {
			return errResult(resp.Error.Error())
		}

		sdp, err := json.Marshal(resp.Answer)
		if err != nil {
			return errResult(err.Error())
		}

		return client.InvokeResult{Args: wamp.List{string(sdp)}}
	case <-timer.C:
		return errResult("offer not answered")
	case <-ctx.Done():
		return errResult("offer cancelled")
	}
}

func decodeSDP(arg interface{}) (webrtc.SessionDescription, error) {
	desc := webrtc.SessionDescription{}

	raw, ok := wamp.AsString(arg)
	if !ok {
		return desc, errors.New("SDP is not a string")
	}
	if err := json.Unmarshal([]byte(raw), &desc); err != nil {
		return desc, fmt.Errorf("parsing SDP: %w", err)
	}

	return desc, nil
}

func errResult(msg string) client.InvokeResult {
	return client.InvokeResult{
		Err:  ErrProcessingOffer,
		Args: wamp.List{msg},
	}
}
