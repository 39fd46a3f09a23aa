package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/illarion/passync/internal/core"
	"github.com/illarion/passync/internal/ui"

	"github.com/spf13/cobra"
)

var (
	addGenerate  bool
	editGenerate bool
)

func init() {
	addCmd.Flags().BoolVarP(&addGenerate, "generate", "g", false, "generate a random password")
	editCmd.Flags().BoolVarP(&editGenerate, "generate", "g", false, "generate a random password")
}

var addCmd = &cobra.Command{
	Use:   "add <service> <username>",
	Short: "Save a new password",
	Long: `Saves a password for a service login. The password is prompted for,
read from stdin when it is not a terminal, or generated with --generate.`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		device, session := login(cmd.Context())
		defer device.Close()

		password, generated := readSecret(addGenerate)
		if err := device.AddEntry(cmd.Context(), session, args[0], args[1], password); err != nil {
			HandleError(err)
		}
		fmt.Printf("%s Saved %s/%s\n", ui.Success.Sprint("✓"), args[0], args[1])
		if generated {
			fmt.Println(password)
		}
	},
}

var editCmd = &cobra.Command{
	Use:   "edit <service> <username>",
	Short: "Change a saved password",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		device, session := login(cmd.Context())
		defer device.Close()

		password, generated := readSecret(editGenerate)
		if err := device.EditEntry(cmd.Context(), session, args[0], args[1], password); err != nil {
			HandleError(err)
		}
		fmt.Printf("%s Updated %s/%s\n", ui.Success.Sprint("✓"), args[0], args[1])
		if generated {
			fmt.Println(password)
		}
	},
}

var getCmd = &cobra.Command{
	Use:   "get <service> <username>",
	Short: "Print a saved password",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		device, session := login(cmd.Context())
		defer device.Close()

		password, err := device.GetPassword(cmd.Context(), session, args[0], args[1])
		if err != nil {
			HandleError(err)
		}
		fmt.Println(password)
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm <service> <username>",
	Short: "Delete a saved password",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		device, session := login(cmd.Context())
		defer device.Close()

		if err := device.DeleteEntry(cmd.Context(), session, args[0], args[1]); err != nil {
			HandleError(err)
		}
		fmt.Printf("%s Deleted %s/%s\n", ui.Success.Sprint("✓"), args[0], args[1])
	},
}

var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List saved passwords without revealing them",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		device, session := login(cmd.Context())
		defer device.Close()

		entries, err := device.ListEntries(cmd.Context(), session)
		if err != nil {
			HandleError(err)
		}
		if len(entries) == 0 {
			fmt.Println("No passwords saved")
			return
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SERVICE\tUSERNAME\tREFRESHED")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%s\t%s\n", e.Service, e.Username, ui.Muted.Sprint(e.LastRefresh))
		}
		w.Flush()
		fmt.Printf("\n%d password(s) for %s\n", len(entries), ui.Highlight.Sprint(session.User))
	},
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Print a random password",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		password, err := core.GeneratePassword()
		if err != nil {
			HandleError(err)
		}
		fmt.Println(password)
	},
}
