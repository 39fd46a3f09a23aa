package cmd

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"github.com/illarion/passync/internal/audit"
	"github.com/illarion/passync/internal/config"
	"github.com/illarion/passync/internal/keystore"
	"github.com/illarion/passync/internal/storage"
	psync "github.com/illarion/passync/internal/sync"

	"github.com/spf13/cobra"
)

// ServerDBFile is the database of the always-on server.
const ServerDBFile = "server.db"

var (
	serveAddress string
	servePort    int
	serveEnroll  string
)

func init() {
	serveCmd.Flags().StringVar(&serveAddress, "address", "", "address to listen on (default: server.address)")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "port to listen on (default: server.port)")
	serveCmd.Flags().StringVar(&serveEnroll, "enroll", "", "enrollment policy: never, first-use or always (default: server.enroll)")
	_ = serveCmd.RegisterFlagCompletionFunc("enroll", cobra.FixedCompletions(
		[]string{config.EnrollNever, config.EnrollFirstUse, config.EnrollAlways}, cobra.ShellCompDirectiveNoFileComp))
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sync server",
	Long: `Stores vaults for any number of users and serves uploads and downloads
until interrupted. Entries older than server.rotation_max_age get fresh
keys every server.rotation_interval.

Devices are recognized by the key they enrolled with. With the first-use
policy a user's first device enrolls itself; never refuses unknown
devices; always accepts any device, replacing the previous one.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		sc := cfg.Server
		if serveAddress != "" {
			sc.Address = serveAddress
		}
		if servePort != 0 {
			sc.Port = servePort
		}
		if serveEnroll != "" {
			sc.Enroll = serveEnroll
		}
		cfg.Server = sc
		if err := cfg.Validate(); err != nil {
			HandleError(err)
		}

		if err := os.MkdirAll(sc.DataDir, 0700); err != nil {
			HandleError(err)
		}
		store, err := storage.Open(filepath.Join(sc.DataDir, ServerDBFile))
		if err != nil {
			HandleError(err)
		}
		defer store.Close()
		if err := store.Initialize(); err != nil {
			HandleError(err)
		}
		deviceID, err := store.DeviceID()
		if err != nil {
			HandleError(err)
		}

		keys, err := keystore.New(sc.MasterKeySource, sc.DataDir, deviceID)
		if err != nil {
			HandleError(err)
		}
		master, created, err := keys.LoadOrCreate()
		if err != nil {
			HandleError(err)
		}
		defer master.Destroy()
		if created {
			Logger.Warnf("generated a new server master key %s; back it up", master)
		}

		srv := psync.NewServer(store, master, psync.ServerOptions{
			Enroll:     sc.Enroll,
			Timeout:    sc.IOTimeout.Duration,
			MaxMessage: sc.MaxMessageBytes,
			Audit:      audit.New(sc.AuditLog),
			Log:        Logger,
		})

		ln, err := net.Listen("tcp", net.JoinHostPort(sc.Address, strconv.Itoa(sc.Port)))
		if err != nil {
			HandleError(err)
		}
		fmt.Printf("passync server listening on %s (enroll: %s)\n", ln.Addr(), sc.Enroll)

		ctx := cmd.Context()
		if interval := sc.RotationInterval.Duration; interval > 0 {
			go srv.RunRotation(ctx, interval, sc.RotationMaxAge.Duration)
		}
		if err := srv.Serve(ctx, ln); err != nil {
			HandleError(err)
		}
		fmt.Println("Server stopped")
	},
}
