package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var celebrationCaption string

var celebrationsCmd = &cobra.Command{
	Use:   "celebrations",
	Short: "Manage celebration stickers and animations",
}

var celebrationsAddCmd = &cobra.Command{
	Use:   "add CATEGORY sticker|animation FILE_ID",
	Short: "Store a Telegram file id under a category (buy, price_up, ...)",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := getApp().AddCelebration(cmd.Context(), args[0], args[1], args[2], celebrationCaption)
		return err
	},
}

var celebrationsRemoveCmd = &cobra.Command{
	Use:     "rm ID",
	Aliases: []string{"remove", "delete"},
	Short:   "Delete a celebration item",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("celebration id must be a number: %w", err)
		}
		return getApp().RemoveCelebration(cmd.Context(), id)
	},
}

func init() {
	celebrationsAddCmd.Flags().StringVar(&celebrationCaption, "caption", "", "Caption sent with the media")

	celebrationsCmd.AddCommand(celebrationsAddCmd)
	celebrationsCmd.AddCommand(celebrationsRemoveCmd)
}
