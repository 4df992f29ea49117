package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"mintwatch/internal/app"
)

var (
	userName      string
	userFirstName string
	userLastName  string
)

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manage broadcast recipients",
}

var usersAddCmd = &cobra.Command{
	Use:   "add USER_ID",
	Short: "Register a Telegram user for broadcasts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("user id must be a number: %w", err)
		}
		return getApp().AddUser(cmd.Context(), app.AddUserOptions{
			UserID:    id,
			Username:  userName,
			FirstName: userFirstName,
			LastName:  userLastName,
		})
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print registered users and active alerts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Stats(cmd.Context())
	},
}

func init() {
	usersAddCmd.Flags().StringVar(&userName, "username", "", "Telegram username")
	usersAddCmd.Flags().StringVar(&userFirstName, "first-name", "", "First name")
	usersAddCmd.Flags().StringVar(&userLastName, "last-name", "", "Last name")

	usersCmd.AddCommand(usersAddCmd)
}
