package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/illarion/passync/internal/config"
	"github.com/illarion/passync/internal/core"
	"github.com/illarion/passync/internal/keystore"
	"github.com/illarion/passync/internal/ui"

	"github.com/spf13/cobra"
)

var initWriteConfig bool

func init() {
	initCmd.Flags().BoolVar(&initWriteConfig, "write-config", false, "also write the effective configuration to --config")
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the vault database and master key of this device",
	Long: `Creates the passync database in the data directory and generates the
device master key. The key is kept in the data directory's .env file
(MAIN_KEY) or in the OS keyring, depending on client.master_key_source.

An existing master key is reused.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		if err := core.Init(deviceOptions(cfg)); err != nil {
			HandleError(err)
		}
		if initWriteConfig {
			if err := config.Save(configPath, cfg); err != nil {
				HandleError(err)
			}
			fmt.Printf("Wrote %s\n", ui.Path.Sprint(configPath))
		}
		fmt.Printf("%s Initialized passync in %s\n", ui.Success.Sprint("✓"), ui.Path.Sprint(cfg.Client.DataDir))
		if cfg.Client.MasterKeySource == config.SourceEnvFile {
			warnExposure(filepath.Join(cfg.Client.DataDir, keystore.EnvFileName))
		}
		fmt.Printf("Next: %s\n", ui.Code.Sprint("passync register <user>"))
	},
}
