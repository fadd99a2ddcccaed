package commands

import (
	"github.com/spf13/cobra"
)

var (
	_config = NewDefaultCLIConfig()
)

//RootCmd is the root command for indypool
var RootCmd = &cobra.Command{
	Use:              "indypool",
	Short:            "Indy node pool client",
	TraverseChildren: true,
}
