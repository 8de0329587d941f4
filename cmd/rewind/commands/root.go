package commands

import (
	"github.com/mosaicnetworks/rewind/src/config"
	"github.com/spf13/cobra"
)

var (
	_config = config.NewDefaultConfig()
)

//RootCmd is the root command for Rewind
var RootCmd = &cobra.Command{
	Use:              "rewind",
	Short:            "rollback netcode session",
	TraverseChildren: true,
}
