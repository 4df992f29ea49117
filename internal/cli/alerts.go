package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"mintwatch/internal/app"
)

var alertsUser int64

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Manage price alerts",
}

var alertsAddCmd = &cobra.Command{
	Use:   "add SYMBOL PRICE above|below",
	Short: "Create a price alert for a user",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		if alertsUser == 0 {
			return fmt.Errorf("--user is required")
		}
		_, err := getApp().AddAlert(cmd.Context(), app.AddAlertOptions{
			UserID:    alertsUser,
			Symbol:    args[0],
			Price:     args[1],
			Direction: args[2],
		})
		return err
	},
}

var alertsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored alerts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ListAlerts(cmd.Context(), alertsUser)
	},
}

var alertsRemoveCmd = &cobra.Command{
	Use:     "rm ID",
	Aliases: []string{"remove", "delete"},
	Short:   "Delete an alert",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("alert id must be a number: %w", err)
		}
		return getApp().RemoveAlert(cmd.Context(), id, alertsUser)
	},
}

func init() {
	alertsCmd.PersistentFlags().Int64Var(&alertsUser, "user", 0, "Telegram user id that owns the alert")

	alertsCmd.AddCommand(alertsAddCmd)
	alertsCmd.AddCommand(alertsListCmd)
	alertsCmd.AddCommand(alertsRemoveCmd)
}
