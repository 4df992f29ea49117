package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"mintwatch/internal/app"
)

var broadcastMarkdown bool

var broadcastCmd = &cobra.Command{
	Use:   "broadcast MESSAGE...",
	Short: "Send a message to every registered user",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := getApp().Broadcast(cmd.Context(), app.BroadcastOptions{
			Text:     strings.Join(args, " "),
			Markdown: broadcastMarkdown,
		})
		return err
	},
}

func init() {
	broadcastCmd.Flags().BoolVar(&broadcastMarkdown, "markdown", false, "Send the message as MarkdownV2 without escaping")
}
