package commands

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/mosaicnetworks/rewind/src/net/signal/wamp"
	"github.com/spf13/cobra"
)

var (
	signalAddr     = "0.0.0.0:2443"
	signalRealm    = "main"
	signalCertFile string
	signalKeyFile  string
)

// NewSignalCmd returns the command that runs a WebRTC signaling server
func NewSignalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "signal",
		Short: "WebRTC signaling server using WebSockets",
		RunE:  runSignal,
	}

	cmd.Flags().StringVar(&signalAddr, "address", signalAddr, "Listen IP:Port for the signaling server")
	cmd.Flags().StringVar(&signalRealm, "realm", signalRealm, "Administrative routing domain")
	cmd.Flags().StringVar(&signalCertFile, "cert-file", signalCertFile, "File containing TLS certificate (plain ws if empty)")
	cmd.Flags().StringVar(&signalKeyFile, "key-file", signalKeyFile, "File containing certificate key")

	return cmd
}

// runSignal starts the WAMP server and waits for a SIGINT or SIGTERM
func runSignal(cmd *cobra.Command, args []string) error {
	logger := _config.Logger().WithField("component", "signal-server")

	server, err := wamp.NewServer(signalAddr, signalRealm, signalCertFile, signalKeyFile, logger)
	if err != nil {
		return err
	}

	go server.Run()

	logger.WithField("address", server.Addr()).Info("Signaling server running")

	//Prepare sigCh to relay SIGINT and SIGTERM system calls
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	<-sigCh

	server.Shutdown()

	return nil
}
