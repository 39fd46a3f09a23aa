package cmd

import (
	"fmt"

	"github.com/illarion/passync/internal/crypto"
	"github.com/illarion/passync/internal/ui"

	"github.com/spf13/cobra"
)

var registerCmd = &cobra.Command{
	Use:   "register <user>",
	Short: "Create an account on this device",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		device := openDevice()
		defer device.Close()

		password, err := GetPasswordForRegister()
		if err != nil {
			HandleError(err)
		}
		defer crypto.ClearBytes(password)

		if err := device.Register(cmd.Context(), args[0], password); err != nil {
			HandleError(err)
		}
		fmt.Printf("%s Registered %s\n", ui.Success.Sprint("✓"), ui.Highlight.Sprint(args[0]))
	},
}

var unregisterCmd = &cobra.Command{
	Use:   "unregister <user>",
	Short: "Delete an account and all of its passwords from this device",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		device := openDevice()
		defer device.Close()

		user := args[0]
		password, err := GetPassword(device.ID(), user, fmt.Sprintf("Password for %s: ", user))
		if err != nil {
			HandleError(err)
		}
		defer crypto.ClearBytes(password)

		if !confirm(fmt.Sprintf("Delete %s and every saved password?", ui.Highlight.Sprint(user))) {
			fmt.Println("Cancelled")
			return
		}
		if err := device.DeleteUser(cmd.Context(), user, password); err != nil {
			HandleError(err)
		}
		fmt.Printf("%s Deleted %s\n", ui.Success.Sprint("✓"), ui.Highlight.Sprint(user))
	},
}

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "List the accounts on this device",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		device := openDevice()
		defer device.Close()

		users, err := device.Users()
		if err != nil {
			HandleError(err)
		}
		if len(users) == 0 {
			fmt.Println("No accounts")
			return
		}
		for _, u := range users {
			fmt.Println(u)
		}
		if modified, err := device.Modified(); err == nil {
			fmt.Println(ui.Muted.Sprintf("last change %s", modified.Local().Format("2006-01-02 15:04")))
		}
	},
}
