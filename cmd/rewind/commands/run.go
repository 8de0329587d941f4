package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/mosaicnetworks/rewind/src/config"
	"github.com/mosaicnetworks/rewind/src/rewind"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

//NewRunCmd returns the command that starts a rewind session
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Run session",
		PreRunE: loadConfig,
		RunE:    runRewind,
	}
	AddRunFlags(cmd)
	return cmd
}

/*******************************************************************************
* RUN
*******************************************************************************/

func runRewind(cmd *cobra.Command, args []string) error {
	engine := rewind.NewRewind(_config)

	if err := engine.Init(); err != nil {
		_config.Logger().WithError(err).Error("Cannot initialize engine")
		return err
	}
	defer engine.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	//Prepare sigCh to relay SIGINT and SIGTERM system calls
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			_config.Logger().Debug("Received signal, stopping")
			cancel()
		case <-ctx.Done():
		}
	}()

	return engine.Run(ctx)
}

/*******************************************************************************
* CONFIG
*******************************************************************************/

//AddRunFlags adds flags to the Run command
func AddRunFlags(cmd *cobra.Command) {

	cmd.Flags().String("datadir", _config.DataDir, "Top-level directory for configuration and data")
	cmd.Flags().String("log", _config.LogLevel, "debug, info, warn, error, fatal, panic")
	cmd.Flags().String("log-file", _config.LogFile, "Optional file receiving a JSON copy of the logs")
	cmd.Flags().Int("log-max-size", _config.LogMaxSize, "Size in megabytes of the log file before it is rotated")
	cmd.Flags().Int("log-max-backups", _config.LogMaxBackups, "Number of rotated log files to keep")
	cmd.Flags().String("moniker", _config.Moniker, "Optional name")

	// Network
	cmd.Flags().StringP("listen", "l", _config.BindAddr, "Listen IP:Port for rewind session")
	cmd.Flags().StringP("advertise", "a", _config.AdvertiseAddr, "Advertise IP:Port for rewind session")
	cmd.Flags().String("transport", _config.Transport, "udp, kcp or webrtc")
	cmd.Flags().DurationP("connect-timeout", "t", _config.ConnectTimeout, "Time allowed to connect to every peer")

	// Service
	cmd.Flags().Bool("no-service", _config.NoService, "Disable HTTP service")
	cmd.Flags().StringP("service-listen", "s", _config.ServiceAddr, "Listen IP:Port for HTTP service")

	// Store
	cmd.Flags().Bool("store", _config.Store, "Use badgerDB instead of in-mem DB")
	cmd.Flags().String("db", _config.DatabaseDir, "Dabatabase directory")

	// Session configuration
	cmd.Flags().Int("max-prediction", _config.MaxPredictionWindow, "Max number of frames simulated past the confirmed frame")
	cmd.Flags().Int("snapshots", _config.SnapshotCapacity, "Number of snapshots retained")
	cmd.Flags().Int("input-queue", _config.InputQueueLength, "Number of frames retained by input queues")
	cmd.Flags().Int("input-delay", _config.InputDelay, "Frames between sampling and simulating a local input")
	cmd.Flags().Int("input-redundancy", _config.InputRedundancy, "Max unacknowledged inputs repeated in every packet")
	cmd.Flags().Int("checksum-interval", _config.ChecksumInterval, "Frames between checksum exchanges (0 disables)")
	cmd.Flags().Int("desync-tolerance", _config.DesyncTolerance, "Consecutive checksum mismatches before faulting")
	cmd.Flags().Duration("disconnect-timeout", _config.DisconnectTimeout, "Silence before a peer is disconnected")
	cmd.Flags().Duration("keep-alive", _config.KeepAliveInterval, "Max silence towards a peer")
	cmd.Flags().Duration("quality-report", _config.QualityReportInterval, "Time between ping measurements")
	cmd.Flags().Bool("all-players-required", _config.AllPlayersRequired, "Fault when a player disconnects")
	cmd.Flags().Bool("async-receive", _config.AsyncReceive, "Receive packets in a separate goroutine")
	cmd.Flags().Int("frame-rate", _config.FrameRate, "Frames per second")

	// WebRTC
	cmd.Flags().String("signal-addr", _config.SignalAddr, "IP:Port of WebRTC signaling server")
	cmd.Flags().String("signal-realm", _config.SignalRealm, "Administrative routing domain within the signaling server")
	cmd.Flags().Bool("signal-skip-verify", _config.SignalSkipVerify, "(Insecure) Accept any certificate presented by the signal server")
	cmd.Flags().String("ice-addr", _config.ICEAddress, "URL of a WebRTC ICE server")
	cmd.Flags().String("ice-username", _config.ICEUsername, "Username to authenticate to the ICE server")
	cmd.Flags().String("ice-password", _config.ICEPassword, "Password to authenticate to the ICE server")
}

func loadConfig(cmd *cobra.Command, args []string) error {

	configFile, err := bindFlagsLoadViper(cmd)
	if err != nil {
		return err
	}

	// If --datadir was explicitely set, but not --db, this will update the
	// default database dir to be inside the new datadir
	_config.SetDataDir(_config.DataDir)

	if configFile != "" {
		_config.Logger().Debugf("Using config file: %s", configFile)
	} else {
		_config.Logger().Debugf("No config file found in: %s", _config.DataDir)
	}

	logFields := logrus.Fields{
		"rewind.DataDir":             _config.DataDir,
		"rewind.BindAddr":            _config.BindAddr,
		"rewind.AdvertiseAddr":       _config.AdvertiseAddr,
		"rewind.Transport":           _config.Transport,
		"rewind.ServiceAddr":         _config.ServiceAddr,
		"rewind.NoService":           _config.NoService,
		"rewind.Store":               _config.Store,
		"rewind.LogLevel":            _config.LogLevel,
		"rewind.Moniker":             _config.Moniker,
		"rewind.MaxPredictionWindow": _config.MaxPredictionWindow,
		"rewind.SnapshotCapacity":    _config.SnapshotCapacity,
		"rewind.InputQueueLength":    _config.InputQueueLength,
		"rewind.InputDelay":          _config.InputDelay,
		"rewind.InputRedundancy":     _config.InputRedundancy,
		"rewind.ChecksumInterval":    _config.ChecksumInterval,
		"rewind.DesyncTolerance":     _config.DesyncTolerance,
		"rewind.DisconnectTimeout":   _config.DisconnectTimeout,
		"rewind.AllPlayersRequired":  _config.AllPlayersRequired,
		"rewind.AsyncReceive":        _config.AsyncReceive,
		"rewind.FrameRate":           _config.FrameRate,
	}

	if _config.Store {
		logFields["rewind.DatabaseDir"] = _config.DatabaseDir
	}

	if _config.Transport == config.WebRTCTransport {
		logFields["rewind.SignalAddr"] = _config.SignalAddr
		logFields["rewind.SignalRealm"] = _config.SignalRealm
		logFields["rewind.ICEAddress"] = _config.ICEAddress
	}

	_config.Logger().WithFields(logFields).Debug("RUN")

	return nil
}

// Bind all flags and read the config into viper. The logger is only created
// once the configuration is final, so nothing is logged here.
func bindFlagsLoadViper(cmd *cobra.Command) (string, error) {
	// Register flags with viper. Include flags from this command and all other
	// persistent flags from the parent
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return "", err
	}

	// first unmarshal to read from CLI flags
	if err := viper.Unmarshal(_config); err != nil {
		return "", err
	}

	// look for config file in [datadir]/rewind.toml (.json, .yaml also work)
	viper.SetConfigName("rewind")        // name of config file (without extension)
	viper.AddConfigPath(_config.DataDir) // search root directory

	// If a config file is found, read it in.
	configFile := ""
	if err := viper.ReadInConfig(); err == nil {
		configFile = viper.ConfigFileUsed()
	} else if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
		return "", err
	}

	// second unmarshal to read from config file
	return configFile, viper.Unmarshal(_config)
}
