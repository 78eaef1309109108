package kv

import (
	"github.com/spf13/cobra"

	"github.com/ansvik/stash/cmd/util"
	"github.com/ansvik/stash/lib/storage"
	"github.com/ansvik/stash/rpc/client"
)

var (
	remote storage.Storage

	// KeyValueCommands represents the KV command group
	KeyValueCommands = &cobra.Command{
		Use:               "kv",
		Short:             "Perform key-value operations against a stash server",
		PersistentPreRunE: setupKVClient,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitClientConfig)

	// Add common connection flags to the KV command
	util.SetupClientFlags(KeyValueCommands)

	// Add subcommands
	KeyValueCommands.AddCommand(setCmd)
	KeyValueCommands.AddCommand(getCmd)
	KeyValueCommands.AddCommand(delCmd)
	KeyValueCommands.AddCommand(hasCmd)
	KeyValueCommands.AddCommand(listCmd)
	KeyValueCommands.AddCommand(metaCmd)
}

// setupKVClient connects the remote engine used by every subcommand
func setupKVClient(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}
	drv, err := client.NewHTTPDriver(util.GetClientConfig())
	if err != nil {
		return err
	}
	remote = storage.New(drv)
	return nil
}
