package cmd

import (
	"fmt"
	"time"

	"github.com/illarion/passync/internal/ui"
	"github.com/illarion/passync/internal/vault"

	"github.com/spf13/cobra"
)

var importMode string

func init() {
	importCmd.Flags().StringVarP(&importMode, "mode", "m", vault.TokenRecursive, "RECURSIVE keeps passwords missing from the file, REPLACE drops them")
}

var exportCmd = &cobra.Command{
	Use:   "export [file]",
	Short: "Write the account's encrypted vault to a file",
	Long: `Writes the account's vault document to a file inside the current
directory. Passwords stay encrypted and can only be read again on this
device. The default name includes today's date: passync-YYYY-MM-DD.json`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		path := fmt.Sprintf("passync-%s.json", time.Now().Format("2006-01-02"))
		if len(args) == 1 {
			path = args[0]
		}

		device, session := login(cmd.Context())
		defer device.Close()

		n, err := device.Export(cmd.Context(), session, path)
		if err != nil {
			HandleError(err)
		}
		fmt.Printf("%s Exported %d password(s) to %s\n", ui.Success.Sprint("✓"), n, ui.Path.Sprint(path))
		warnExposure(path)
	},
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Merge a file written by export into the account",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		mode, err := vault.ParseMergeMode(importMode)
		if err != nil {
			HandleError(fmt.Errorf("invalid --mode %q: use REPLACE or RECURSIVE", importMode))
		}

		device, session := login(cmd.Context())
		defer device.Close()

		n, err := device.Import(cmd.Context(), session, args[0], mode)
		if err != nil {
			HandleError(err)
		}
		fmt.Printf("%s Imported %d password(s) from %s (%s)\n", ui.Success.Sprint("✓"), n, ui.Path.Sprint(args[0]), mode)
	},
}
