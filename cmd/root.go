package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ansvik/stash/cmd/kv"
	"github.com/ansvik/stash/cmd/serve"
	"github.com/ansvik/stash/cmd/util"
	"github.com/ansvik/stash/lib/logging"
)

const (
	Version = "1.2.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "stash",
		Short: "mount-multiplexed key-value storage",
		Long: fmt.Sprintf(`stash (v%s)

A key-value storage server multiplexing one namespace across pluggable
backends via mount points, exposed over a plain HTTP protocol.`, Version),
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			level, _ := cmd.Flags().GetString("log-level")
			return logging.SetLevel(level)
		},
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of stash",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("stash v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(kv.KeyValueCommands)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	RootCmd.PersistentFlags().String("log-level", "info", util.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
