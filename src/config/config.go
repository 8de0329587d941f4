package config

import (
	"crypto/ecdsa"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/mosaicnetworks/rewind/src/common"
	webrtc "github.com/pion/webrtc/v2"
	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Default filenames.
const (
	// DefaultKeyfile is the default name of the file containing the player's
	// private key
	DefaultKeyfile = "priv_key"

	// DefaultPlayersFile is the default name of the file listing the players
	// of the session.
	DefaultPlayersFile = "players.json"

	// DefaultBadgerFile is the default name of the folder containing the Badger
	// snapshot database
	DefaultBadgerFile = "badger_db"

	// DefaultCertFile is the default name of the file containing the TLS
	// certificate for connecting to the signaling server.
	DefaultCertFile = "cert.pem"
)

// Transport names.
const (
	InmemTransport  = "inmem"
	UDPTransport    = "udp"
	KCPTransport    = "kcp"
	WebRTCTransport = "webrtc"
)

// Default configuration values.
const (
	DefaultLogLevel              = "debug"
	DefaultBindAddr              = "127.0.0.1:1337"
	DefaultServiceAddr           = "127.0.0.1:8000"
	DefaultTransport             = UDPTransport
	DefaultConnectTimeout        = 10000 * time.Millisecond
	DefaultMaxPredictionWindow   = 8
	DefaultSnapshotCapacity      = 16
	DefaultInputQueueLength      = 128
	DefaultInputDelay            = 0
	DefaultInputRedundancy       = 16
	DefaultChecksumInterval      = 30
	DefaultDesyncTolerance       = 2
	DefaultDisconnectTimeout     = 5000 * time.Millisecond
	DefaultKeepAliveInterval     = 200 * time.Millisecond
	DefaultQualityReportInterval = 1000 * time.Millisecond
	DefaultAllPlayersRequired    = false
	DefaultAsyncReceive          = true
	DefaultFrameRate             = 60
	DefaultStore                 = false
	DefaultSignalAddr            = "127.0.0.1:2443"
	DefaultSignalRealm           = "main"
	DefaultSignalSkipVerify      = false
	DefaultICEAddress            = "stun:stun.l.google.com:19302"
	DefaultICEUsername           = ""
	DefaultICEPassword           = ""
	DefaultLogMaxSize            = 10
	DefaultLogMaxBackups         = 3
)

// Config contains all the configuration properties of a rewind session.
type Config struct {
	// DataDir is the top-level directory containing rewind configuration and
	// data
	DataDir string `mapstructure:"datadir"`

	// LogLevel determines the chattiness of the log output.
	LogLevel string `mapstructure:"log"`

	// LogFile, if set, receives a copy of the log output. The file is rotated
	// once it grows past LogMaxSize megabytes, and LogMaxBackups old files are
	// kept.
	LogFile       string `mapstructure:"log-file"`
	LogMaxSize    int    `mapstructure:"log-max-size"`
	LogMaxBackups int    `mapstructure:"log-max-backups"`

	// BindAddr is the local address:port where this peer exchanges inputs
	// with the other peers.
	BindAddr string `mapstructure:"listen"`

	// AdvertiseAddr is used to change the address that we advertise to other
	// peers.
	AdvertiseAddr string `mapstructure:"advertise"`

	// Transport selects the packet transport: inmem, udp, kcp or webrtc.
	// With webrtc, BindAddr and AdvertiseAddr are ignored and peers are
	// identified by the hex of their public key.
	Transport string `mapstructure:"transport"`

	// ConnectTimeout bounds the time spent connecting to every remote peer
	// before the session starts.
	ConnectTimeout time.Duration `mapstructure:"connect-timeout"`

	// NoService disables the HTTP API service.
	NoService bool `mapstructure:"no-service"`

	// ServiceAddr is the address:port of the optional HTTP service.
	ServiceAddr string `mapstructure:"service-listen"`

	// MaxPredictionWindow is how many frames the session may simulate past
	// the last input confirmed by the slowest remote player.
	MaxPredictionWindow int `mapstructure:"max-prediction"`

	// SnapshotCapacity is the number of snapshots retained. It must be at
	// least MaxPredictionWindow+2.
	SnapshotCapacity int `mapstructure:"snapshots"`

	// InputQueueLength is the number of frames retained by every input queue.
	// It must be at least 2*(MaxPredictionWindow+InputDelay)+2.
	InputQueueLength int `mapstructure:"input-queue"`

	// InputDelay is the number of frames between sampling a local input and
	// simulating it.
	InputDelay int `mapstructure:"input-delay"`

	// InputRedundancy caps the number of unacknowledged inputs per player
	// repeated in every packet.
	InputRedundancy int `mapstructure:"input-redundancy"`

	// ChecksumInterval is the period, in frames, of checksum exchanges. 0
	// disables desync detection.
	ChecksumInterval int `mapstructure:"checksum-interval"`

	// DesyncTolerance is the number of consecutive checksum mismatches
	// tolerated before the session faults.
	DesyncTolerance int `mapstructure:"desync-tolerance"`

	// DisconnectTimeout is how long a peer may stay silent before it is
	// considered disconnected.
	DisconnectTimeout time.Duration `mapstructure:"disconnect-timeout"`

	// KeepAliveInterval is the longest we stay silent towards a peer.
	KeepAliveInterval time.Duration `mapstructure:"keep-alive"`

	// QualityReportInterval is the period of ping measurements and time-sync
	// events.
	QualityReportInterval time.Duration `mapstructure:"quality-report"`

	// AllPlayersRequired makes the session fault when a player disconnects,
	// instead of continuing with neutral inputs for that player.
	AllPlayersRequired bool `mapstructure:"all-players-required"`

	// AsyncReceive runs the receive path in its own goroutine. When false,
	// packets are drained at the start of every frame.
	AsyncReceive bool `mapstructure:"async-receive"`

	// FrameRate is the number of frames per second.
	FrameRate int `mapstructure:"frame-rate"`

	// Store keeps snapshots in a Badger database under DatabaseDir instead
	// of in memory.
	Store bool `mapstructure:"store"`

	// DatabaseDir is the directory containing database files.
	DatabaseDir string `mapstructure:"db"`

	// Moniker defines the friendly name of this peer
	Moniker string `mapstructure:"moniker"`

	// SignalAddr is the IP:PORT of the WebRTC signaling server. It is ignored
	// when the webrtc transport is not selected. The connection is over
	// secured web-sockets, wss, and it possible to include a self-signed
	// certificated in a file called cert.pem in the datadir.
	SignalAddr string `mapstructure:"signal-addr"`

	// SignalRealm is an administrative domain within the WebRTC signaling
	// server. WebRTC signaling messages are only routed within a Realm.
	SignalRealm string `mapstructure:"signal-realm"`

	// SignalSkipVerify controls whether the signal client verifies the server's
	// certificate chain and host name. This should be used only for testing.
	SignalSkipVerify bool `mapstructure:"signal-skip-verify"`

	// ICEAddress is the URI of a server providing services for ICE, such as
	// STUN and TURN.
	ICEAddress string `mapstructure:"ice-addr"`

	// ICEUsername is the username that will be used to authenticate with the
	// ICE server defined in ICEAddress.
	ICEUsername string `mapstructure:"ice-username"`

	// ICEPassword is the password that will be used to authenticate with the
	// ICE server defined in ICEAddress.
	ICEPassword string `mapstructure:"ice-password"`

	// Key is the private key of this peer. Its public key is the peer's
	// identity on the signaling server.
	Key *ecdsa.PrivateKey

	logger *logrus.Logger
}

// NewDefaultConfig returns a config object with default values.
func NewDefaultConfig() *Config {
	config := &Config{
		DataDir:               DefaultDataDir(),
		LogLevel:              DefaultLogLevel,
		LogMaxSize:            DefaultLogMaxSize,
		LogMaxBackups:         DefaultLogMaxBackups,
		BindAddr:              DefaultBindAddr,
		ServiceAddr:           DefaultServiceAddr,
		Transport:             DefaultTransport,
		ConnectTimeout:        DefaultConnectTimeout,
		MaxPredictionWindow:   DefaultMaxPredictionWindow,
		SnapshotCapacity:      DefaultSnapshotCapacity,
		InputQueueLength:      DefaultInputQueueLength,
		InputDelay:            DefaultInputDelay,
		InputRedundancy:       DefaultInputRedundancy,
		ChecksumInterval:      DefaultChecksumInterval,
		DesyncTolerance:       DefaultDesyncTolerance,
		DisconnectTimeout:     DefaultDisconnectTimeout,
		KeepAliveInterval:     DefaultKeepAliveInterval,
		QualityReportInterval: DefaultQualityReportInterval,
		AllPlayersRequired:    DefaultAllPlayersRequired,
		AsyncReceive:          DefaultAsyncReceive,
		FrameRate:             DefaultFrameRate,
		Store:                 DefaultStore,
		DatabaseDir:           DefaultDatabaseDir(),
		SignalAddr:            DefaultSignalAddr,
		SignalRealm:           DefaultSignalRealm,
		SignalSkipVerify:      DefaultSignalSkipVerify,
		ICEAddress:            DefaultICEAddress,
		ICEUsername:           DefaultICEUsername,
		ICEPassword:           DefaultICEPassword,
	}

	return config
}

// NewTestConfig returns a config object with default values and a special
// logger for debugging tests.
func NewTestConfig(t testing.TB, level logrus.Level) *Config {
	config := NewDefaultConfig()
	config.logger = common.NewTestLogger(t, level)
	return config
}

// SetDataDir sets the top-level rewind directory, and updates the database
// directory if it is currently set to the default value. If the database
// directory is not currently the default, it means the user has explicitely set
// it to something else, so avoid changing it again here.
func (c *Config) SetDataDir(dataDir string) {
	c.DataDir = dataDir
	if c.DatabaseDir == DefaultDatabaseDir() {
		c.DatabaseDir = filepath.Join(dataDir, DefaultBadgerFile)
	}
}

// Keyfile returns the full path of the file containing the private key.
func (c *Config) Keyfile() string {
	return filepath.Join(c.DataDir, DefaultKeyfile)
}

// PlayersFile returns the full path of the file listing the players.
func (c *Config) PlayersFile() string {
	return filepath.Join(c.DataDir, DefaultPlayersFile)
}

// CertFile returns the full path of the file containing the signal-server TLS
// certificate.
func (c *Config) CertFile() string {
	return filepath.Join(c.DataDir, DefaultCertFile)
}

// FrameDuration returns the duration of one frame at FrameRate.
func (c *Config) FrameDuration() time.Duration {
	if c.FrameRate <= 0 {
		return time.Second / DefaultFrameRate
	}
	return time.Second / time.Duration(c.FrameRate)
}

// ICEServers returns a list of ICE servers used by the WebRTC transport to
// connect to peers. The list contains a single item which is based on the
// configuration passed through the config object. This configuration is limited
// to a single server, with password-based authentication. Without a username
// the server is used as plain STUN.
func (c *Config) ICEServers() []webrtc.ICEServer {
	if c.ICEUsername == "" {
		if c.ICEAddress == "" || c.ICEAddress == DefaultICEAddress {
			return DefaultICEServers()
		}
		return []webrtc.ICEServer{{URLs: []string{c.ICEAddress}}}
	}
	return []webrtc.ICEServer{
		{
			URLs:           []string{c.ICEAddress},
			Username:       c.ICEUsername,
			Credential:     c.ICEPassword,
			CredentialType: webrtc.ICECredentialTypePassword,
		},
	}
}

// Logger returns a formatted logrus Entry, with prefix set to "rewind". If
// LogFile is set, every entry is also written to a rotated log file.
func (c *Config) Logger() *logrus.Entry {
	if c.logger == nil {
		c.logger = logrus.New()
		c.logger.Level = LogLevel(c.LogLevel)
		c.logger.Formatter = new(prefixed.TextFormatter)

		if c.LogFile != "" {
			c.logger.Hooks.Add(lfshook.NewHook(
				&lumberjack.Logger{
					Filename:   c.LogFile,
					MaxSize:    c.LogMaxSize,
					MaxBackups: c.LogMaxBackups,
				},
				&logrus.JSONFormatter{},
			))
		}
	}
	return c.logger.WithField("prefix", "rewind")
}

// DefaultDatabaseDir returns the default path for the badger database files.
func DefaultDatabaseDir() string {
	return filepath.Join(DefaultDataDir(), DefaultBadgerFile)
}

// DefaultDataDir return the default directory name for top-level rewind config
// based on the underlying OS, attempting to respect conventions.
func DefaultDataDir() string {
	// Try to place the data folder in the user's home dir
	home := HomeDir()
	if home != "" {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, ".Rewind")
		} else if runtime.GOOS == "windows" {
			return filepath.Join(home, "AppData", "Roaming", "Rewind")
		} else {
			return filepath.Join(home, ".rewind")
		}
	}
	// As we cannot guess a stable location, return empty and handle later
	return ""
}

// HomeDir returns the user's home directory.
func HomeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if usr, err := user.Current(); err == nil {
		return usr.HomeDir
	}
	return ""
}

// LogLevel parses a string into a Logrus log level.
func LogLevel(l string) logrus.Level {
	switch l {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.DebugLevel
	}
}

// DefaultICEServers returns the default ICE configuration with one URL pointing
// to a public Google STUN server.
func DefaultICEServers() []webrtc.ICEServer {
	return []webrtc.ICEServer{
		{
			URLs: []string{DefaultICEAddress},
		},
	}
}
