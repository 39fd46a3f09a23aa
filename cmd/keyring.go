package cmd

import (
	"fmt"
	"os"

	"github.com/illarion/passync/internal/crypto"
	"github.com/illarion/passync/internal/keystore"

	"github.com/spf13/cobra"
)

func init() {
	keyringCmd.AddCommand(keyringSaveCmd)
	keyringCmd.AddCommand(keyringDeleteCmd)
	keyringCmd.AddCommand(keyringStatusCmd)
}

var keyringCmd = &cobra.Command{
	Use:   "keyring",
	Short: "Keep the account password in the OS keyring",
	Long: `Saves the account password in the OS keyring so commands stop asking
for it. The entry is bound to this device and account.`,
}

var keyringSaveCmd = &cobra.Command{
	Use:   "save",
	Short: "Save the account password to the OS keyring",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		device := openDevice()
		defer device.Close()
		user := resolveUser(device)

		// Always prompt so a stale keyring entry is not saved again
		password, err := readAccountPassword(user)
		if err != nil {
			HandleError(err)
		}
		defer crypto.ClearBytes(password)

		// Verify password is correct
		if _, err := device.Login(cmd.Context(), user, password); err != nil {
			HandleError(err)
		}

		if err := keystore.SavePassword(device.ID(), user, string(password)); err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to save to keyring: %s\n", err)
			os.Exit(1)
		}
		fmt.Println("Password saved to keyring")
	},
}

var keyringDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Remove the account password from the OS keyring",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		device := openDevice()
		defer device.Close()
		user := resolveUser(device)

		if err := keystore.DeletePassword(device.ID(), user); err != nil {
			fmt.Println("No password stored in keyring")
			return
		}
		fmt.Println("Password removed from keyring")
	},
}

var keyringStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the account password is in the OS keyring",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		device := openDevice()
		defer device.Close()
		user := resolveUser(device)

		if keystore.HasPassword(device.ID(), user) {
			fmt.Println("Password: stored in keyring")
		} else {
			fmt.Println("Password: not stored")
		}
	},
}
