package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/illarion/passync/internal/config"
	"github.com/illarion/passync/internal/ui"

	"github.com/spf13/cobra"
)

var serverPort int

func init() {
	for _, c := range []*cobra.Command{serverAddCmd, serverEditCmd} {
		c.Flags().IntVarP(&serverPort, "port", "p", config.DefaultServerPort, "server port")
	}
	serverCmd.AddCommand(serverAddCmd)
	serverCmd.AddCommand(serverEditCmd)
	serverCmd.AddCommand(serverRmCmd)
	serverCmd.AddCommand(serverLsCmd)
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Manage saved sync servers",
}

var serverAddCmd = &cobra.Command{
	Use:   "add <title> <address>",
	Short: "Save a sync server under a title",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		device, session := login(cmd.Context())
		defer device.Close()

		if err := device.AddServer(cmd.Context(), session, args[0], args[1], serverPort); err != nil {
			HandleError(err)
		}
		fmt.Printf("%s Saved %s (%s:%d)\n", ui.Success.Sprint("✓"), ui.Highlight.Sprint(args[0]), args[1], serverPort)
	},
}

var serverEditCmd = &cobra.Command{
	Use:   "edit <title> <address>",
	Short: "Change the address of a saved server",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		device, session := login(cmd.Context())
		defer device.Close()

		if err := device.EditServer(cmd.Context(), session, args[0], args[1], serverPort); err != nil {
			HandleError(err)
		}
		fmt.Printf("%s Updated %s\n", ui.Success.Sprint("✓"), ui.Highlight.Sprint(args[0]))
	},
}

var serverRmCmd = &cobra.Command{
	Use:   "rm <title>",
	Short: "Forget a saved server",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		device, session := login(cmd.Context())
		defer device.Close()

		if err := device.DeleteServer(cmd.Context(), session, args[0]); err != nil {
			HandleError(err)
		}
		fmt.Printf("%s Deleted %s\n", ui.Success.Sprint("✓"), ui.Highlight.Sprint(args[0]))
	},
}

var serverLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List saved servers",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		device, session := login(cmd.Context())
		defer device.Close()

		servers, err := device.ListServers(cmd.Context(), session)
		if err != nil {
			HandleError(err)
		}
		if len(servers) == 0 {
			fmt.Println("No servers saved")
			return
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TITLE\tADDRESS")
		for _, s := range servers {
			fmt.Fprintf(w, "%s\t%s\n", s.Title, s.HostPort())
		}
		w.Flush()
	},
}
