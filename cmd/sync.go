package cmd

import (
	"fmt"
	"net"
	"strconv"

	"github.com/illarion/passync/internal/core"
	"github.com/illarion/passync/internal/crypto"
	psync "github.com/illarion/passync/internal/sync"
	"github.com/illarion/passync/internal/ui"
	"github.com/illarion/passync/internal/vault"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"
)

var (
	syncEnroll  bool
	syncYes     bool
	uploadMode  string
	sendMode    string
	receivePort int
)

func init() {
	for _, c := range []*cobra.Command{downloadCmd, uploadCmd, recoverCmd} {
		c.Flags().BoolVar(&syncEnroll, "enroll", false, "present this device's key so the server can enroll it")
		c.Flags().BoolVarP(&syncYes, "yes", "y", false, "do not ask before passwords are removed")
	}
	uploadCmd.Flags().StringVarP(&uploadMode, "mode", "m", vault.TokenRecursive, "merge on the server: RECURSIVE keeps its other passwords, REPLACE drops them")
	sendCmd.Flags().StringVarP(&sendMode, "mode", "m", vault.TokenReplace, "merge on the receiving device: REPLACE or RECURSIVE")
	receiveCmd.Flags().IntVarP(&receivePort, "port", "p", 0, "port to listen on (default: client.migration_port)")
}

// syncProgress returns options that report state changes on the spinner.
func syncProgress(s *spinner.Spinner) core.SyncOptions {
	return core.SyncOptions{
		Enroll: syncEnroll,
		OnState: func(st psync.State) {
			s.Suffix = " " + st.String()
			Logger.Debugf("state %s", st)
		},
	}
}

// confirmRemoval asks before entries are dropped, unless --yes was given.
func confirmRemoval(p vault.Preview, s *spinner.Spinner) bool {
	if syncYes {
		return true
	}
	if s.Active() {
		s.Stop()
		defer s.Start()
	}
	fmt.Print(ui.RenderPreview(p))
	return confirm(fmt.Sprintf("%d password(s) will be removed. Continue?", len(p.Removed)))
}

func reportSync(s *spinner.Spinner, res *psync.Result, target string) {
	switch res.Kind {
	case psync.KindDownload:
		s.FinalMSG = fmt.Sprintf("%s Downloaded %d password(s) from %s\n", ui.Success.Sprint("✓"), res.Entries, ui.Highlight.Sprint(target))
	default:
		s.FinalMSG = fmt.Sprintf("%s Uploaded %d password(s) to %s: %s\n", ui.Success.Sprint("✓"), res.Entries, ui.Highlight.Sprint(target), res.Status)
	}
}

var downloadCmd = &cobra.Command{
	Use:   "download <server>",
	Short: "Replace local passwords with the server's copy",
	Long: `Downloads the account's vault from a saved server title or host:port
and replaces the local passwords with it. Saved servers and the login are
kept. When local passwords would be removed you are asked first.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		device, session := login(cmd.Context())
		defer device.Close()

		s, cleanup := startSpinner("Downloading...")
		opts := syncProgress(s)
		opts.Confirm = func(p vault.Preview) bool { return confirmRemoval(p, s) }

		res, err := device.BeginSync(cmd.Context(), session, psync.KindDownload, args[0], opts)
		if err != nil {
			cleanup()
			HandleError(err)
		}
		reportSync(s, res, args[0])
		cleanup()
	},
}

var uploadCmd = &cobra.Command{
	Use:   "upload <server>",
	Short: "Send local passwords to a server",
	Long: `Uploads the account's vault to a saved server title or host:port.

RECURSIVE (default) adds and updates passwords on the server and keeps the
ones only it has. REPLACE makes the server's copy identical to this one;
you are shown what the server would lose and asked first.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		mode, err := vault.ParseMergeMode(uploadMode)
		if err != nil {
			HandleError(fmt.Errorf("invalid --mode %q: use REPLACE or RECURSIVE", uploadMode))
		}

		device, session := login(cmd.Context())
		defer device.Close()

		s, cleanup := startSpinner("Uploading...")
		opts := syncProgress(s)

		if mode.Destructive() && !syncYes {
			p, err := device.PreviewUpload(cmd.Context(), session, args[0], opts)
			if err != nil {
				cleanup()
				HandleError(err)
			}
			if len(p.Removed) > 0 && !confirmRemoval(p, s) {
				s.FinalMSG = "Cancelled\n"
				cleanup()
				return
			}
		}

		res, err := device.BeginSync(cmd.Context(), session, psync.KindForMode(mode), args[0], opts)
		if err != nil {
			cleanup()
			HandleError(err)
		}
		reportSync(s, res, args[0])
		cleanup()
	},
}

var recoverCmd = &cobra.Command{
	Use:   "recover <user> <server>",
	Short: "Restore an account from a server",
	Long: `Downloads the vault of <user> from a server. When the account is missing
or its local data cannot be read, it is created again with the password you
enter. The server must already know this device.`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		device := openDevice()
		defer device.Close()

		user := args[0]
		password, err := GetPassword(device.ID(), user, fmt.Sprintf("Password for %s: ", user))
		if err != nil {
			HandleError(err)
		}
		defer crypto.ClearBytes(password)

		s, cleanup := startSpinner("Recovering...")
		opts := syncProgress(s)
		opts.Confirm = func(p vault.Preview) bool { return confirmRemoval(p, s) }

		_, res, err := device.Recover(cmd.Context(), user, password, args[1], opts)
		if err != nil {
			cleanup()
			HandleError(err)
		}
		reportSync(s, res, args[1])
		cleanup()
	},
}

var sendCmd = &cobra.Command{
	Use:   "send <address>",
	Short: "Move this account's passwords to another device",
	Long: `Sends the account's vault to a device running ` + "`passync receive`" + `.
The address defaults to the migration port (9001). The receiving device
re-encrypts every password under its own master key.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		mode, err := vault.ParseMergeMode(sendMode)
		if err != nil {
			HandleError(fmt.Errorf("invalid --mode %q: use REPLACE or RECURSIVE", sendMode))
		}

		device, session := login(cmd.Context())
		defer device.Close()

		s, cleanup := startSpinner("Sending...")
		res, err := device.Send(cmd.Context(), session, args[0], mode, syncProgress(s))
		if err != nil {
			cleanup()
			HandleError(err)
		}
		reportSync(s, res, args[0])
		cleanup()
	},
}

var receiveCmd = &cobra.Command{
	Use:   "receive",
	Short: "Accept passwords sent from another device",
	Long: `Listens for one ` + "`passync send`" + ` from another device and merges what it
sends into the logged-in account. Only that account is accepted, and
nothing can be downloaded from this device while it waits.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		device, session := login(cmd.Context())
		defer device.Close()

		port := receivePort
		if port == 0 {
			port = cfg.Client.MigrationPort
		}
		ln, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(port)))
		if err != nil {
			HandleError(err)
		}

		fmt.Printf("Waiting on port %d. On the other device run:\n  %s\n",
			port, ui.Code.Sprintf("passync send <this-host>:%d", port))
		if err := device.Receive(cmd.Context(), session, ln); err != nil {
			HandleError(err)
		}

		entries, err := device.ListEntries(cmd.Context(), session)
		if err != nil {
			HandleError(err)
		}
		fmt.Printf("%s %s now has %d password(s)\n", ui.Success.Sprint("✓"), ui.Highlight.Sprint(session.User), len(entries))
	},
}
