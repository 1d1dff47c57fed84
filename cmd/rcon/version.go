package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/energizer-project/rcon/internal/protocol"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s (protocol v%d, %s/%s, %s)\n",
			AppName, AppVersion, protocol.Version, runtime.GOOS, runtime.GOARCH, runtime.Version())
	},
}
