package cmd

import (
	"context"
	"path/filepath"

	"github.com/illarion/passync/internal/config"
	logger "github.com/illarion/passync/internal/logging"

	"github.com/spf13/cobra"
)

var (
	verbose    bool
	debug      bool
	configPath string
	dataDir    string
	userName   string
	Logger     logger.Logger

	rootCmd = &cobra.Command{
		Use:   "passync",
		Short: "passync - encrypted password vault with device sync",
		Long: `passync keeps an encrypted password vault on this device and syncs it
with a passync server or another device.

Every password is sealed under its own key, which is wrapped under the
device master key. Nothing leaves the device unencrypted.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			Logger = logger.Logger{
				Verbose: verbose,
				Debug:   debug,
				Err:     stderr,
			}
			Logger.Debugf("running %s with config %s", cmd.CommandPath(), configPath)
		},
	}
)

func init() {
	defaultConfig := filepath.Join(config.Default().Client.DataDir, "config.toml")

	flags := rootCmd.PersistentFlags()
	flags.BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	flags.BoolVarP(&debug, "debug", "d", false, "enable debug output")
	flags.StringVar(&configPath, "config", defaultConfig, "path to the configuration file")
	flags.StringVar(&dataDir, "data-dir", "", "override the data directory")
	flags.StringVarP(&userName, "user", "u", "", "account to use (default: the only account on this device)")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(unregisterCmd)
	rootCmd.AddCommand(usersCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(editCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(lsCmd)
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(downloadCmd)
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(recoverCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(receiveCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(rotateCmd)
	rootCmd.AddCommand(keyringCmd)
	rootCmd.AddCommand(compactCmd)
}

// Execute runs the command line under ctx.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}
