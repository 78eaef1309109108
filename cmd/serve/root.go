package serve

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	cmdUtil "github.com/ansvik/stash/cmd/util"
	"github.com/ansvik/stash/lib/driver"
	"github.com/ansvik/stash/lib/driver/bolt"
	"github.com/ansvik/stash/lib/driver/fs"
	"github.com/ansvik/stash/lib/driver/memory"
	"github.com/ansvik/stash/lib/storage"
	"github.com/ansvik/stash/rpc/client"
	"github.com/ansvik/stash/rpc/common"
	"github.com/ansvik/stash/rpc/server"
)

var (
	serveCmdConfig = &common.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:     "serve [dir]",
		Short:   "Start the stash storage server",
		Long:    `Start the storage server over a directory. The configuration can be set via command line flags or environment variables. The format of the environment variables is STASH_<flag> (e.g. STASH_ENDPOINT=0.0.0.0:9000)`,
		Args:    cobra.MaximumNArgs(1),
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(initConfig)

	// add flags
	key := "dir"
	ServeCmd.PersistentFlags().String(key, ".", cmdUtil.WrapString("Base directory served by the root filesystem driver"))

	key = "endpoint"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("The address on which the API will listen (e.g. 0.0.0.0:8080). Overrides --port"))

	key = "port"
	ServeCmd.PersistentFlags().Int(key, 8080, cmdUtil.WrapString("Shorthand for --endpoint 0.0.0.0:<port>"))

	key = "read-only"
	ServeCmd.PersistentFlags().Bool(key, false, cmdUtil.WrapString("Serve the directory without accepting writes"))

	key = "mount"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Comma-separated list of extra mounts. Format: BASE=KIND or BASE=KIND(ARG) where KIND is one of: memory, fs, bolt, http"))

	key = "no-metrics"
	ServeCmd.PersistentFlags().Bool(key, false, cmdUtil.WrapString("Disable the /metrics endpoint and request counters"))
}

// processConfig reads the configuration from the command line flags and
// environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, args []string) error {
	// bind the flags to viper
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	serveCmdConfig.Dir = viper.GetString("dir")
	if len(args) == 1 {
		// a positional directory wins over --dir
		serveCmdConfig.Dir = args[0]
	}
	serveCmdConfig.ReadOnly = viper.GetBool("read-only")
	serveCmdConfig.NoMetrics = viper.GetBool("no-metrics")
	serveCmdConfig.LogLevel, _ = cmd.Root().PersistentFlags().GetString("log-level")

	serveCmdConfig.Endpoint = viper.GetString("endpoint")
	if serveCmdConfig.Endpoint == "" {
		serveCmdConfig.Endpoint = fmt.Sprintf("0.0.0.0:%d", viper.GetInt("port"))
	}

	mounts, err := common.ParseMountSpecs(viper.GetString("mount"))
	if err != nil {
		return err
	}
	serveCmdConfig.Mounts = mounts

	return nil
}

// run builds the storage engine from the configuration and serves it
func run(_ *cobra.Command, _ []string) error {
	root, err := fs.New(fs.Config{
		Dir:      serveCmdConfig.Dir,
		ReadOnly: serveCmdConfig.ReadOnly,
	})
	if err != nil {
		return err
	}

	store := storage.New(root)
	defer func() {
		if err := store.Dispose(); err != nil {
			fmt.Fprintf(os.Stderr, "dispose: %v\n", err)
		}
	}()

	for _, spec := range serveCmdConfig.Mounts {
		drv, err := buildDriver(spec)
		if err != nil {
			return err
		}
		if err := store.Mount(spec.Base, drv); err != nil {
			return err
		}
	}

	serv := server.NewStorageServer(*serveCmdConfig, store)

	// serve until interrupted
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serv.Serve(ctx)
}

// buildDriver constructs the driver a mount specification selects
func buildDriver(spec common.MountSpec) (driver.Driver, error) {
	switch spec.Kind {
	case common.MountKindMemory:
		return memory.New(), nil
	case common.MountKindFS:
		return fs.New(fs.Config{Dir: spec.Arg})
	case common.MountKindBolt:
		return bolt.New(bolt.Config{Path: spec.Arg})
	case common.MountKindHTTP:
		return client.NewHTTPDriver(common.ClientConfig{BaseURL: spec.Arg})
	default:
		return nil, fmt.Errorf("invalid mount kind %q", spec.Kind)
	}
}

// initConfig reads in serveCmdConfig file and ENV variables if set.
func initConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("stash")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}
