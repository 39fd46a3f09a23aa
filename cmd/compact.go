package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/illarion/passync/internal/config"
	"github.com/illarion/passync/internal/ui"

	"github.com/spf13/cobra"
)

var rotateMaxAge time.Duration

func init() {
	rotateCmd.Flags().DurationVar(&rotateMaxAge, "max-age", config.DefaultRotation, "rotate entries last refreshed at least this long ago")
}

var rotateCmd = &cobra.Command{
	Use:   "rotate",
	Short: "Re-encrypt old passwords under fresh keys",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		device, session := login(cmd.Context())
		defer device.Close()

		n, err := device.Rotate(cmd.Context(), session, rotateMaxAge)
		if err != nil {
			HandleError(err)
		}
		fmt.Printf("%s Rotated %d password(s)\n", ui.Success.Sprint("✓"), n)
	},
}

var compactCmd = &cobra.Command{
	Use:   "compact",
	Short: "Compact the database to reclaim disk space",
	Long: `Compacts the passync database to reclaim unused space, for example
after deleting an account. Does not require a password.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		device := openDevice()
		defer device.Close()

		path := device.Path()
		info, err := os.Stat(path)
		if err != nil {
			HandleError(err)
		}
		sizeBefore := info.Size()

		if err := device.Compact(); err != nil {
			HandleError(err)
		}

		info, err = os.Stat(path)
		if err != nil {
			HandleError(err)
		}
		fmt.Printf("Compacted: %s -> %s\n", formatSize(sizeBefore), formatSize(info.Size()))
	},
}

// formatSize formats bytes into a human-readable string
func formatSize(size int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case size >= GB:
		return fmt.Sprintf("%.1f GB", float64(size)/GB)
	case size >= MB:
		return fmt.Sprintf("%.1f MB", float64(size)/MB)
	case size >= KB:
		return fmt.Sprintf("%.1f KB", float64(size)/KB)
	default:
		return fmt.Sprintf("%d bytes", size)
	}
}
