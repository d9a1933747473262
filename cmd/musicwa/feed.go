package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nekokan/musicwa/internal/client"
	"github.com/nekokan/musicwa/internal/document"
	"github.com/nekokan/musicwa/internal/ui"
)

var feedCmd = &cobra.Command{
	Use:     "feed",
	GroupID: "server",
	Short:   "Print document changes from a running server",
	Long: `Connect to the server's change feed and print one line per created,
updated or deleted document until interrupted.

Connect with any WebSocket client instead:
  ws://127.0.0.1:12989/ws`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := client.New(&client.Config{
			BaseURL: cfg.ServerURL,
			Timeout: cfg.Client.Timeout.Std(),
			Logger:  logger("client"),
		})
		if err != nil {
			return err
		}
		if err := c.Health(cmd.Context()); err != nil {
			return err
		}

		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		fmt.Printf("%s Listening on %s (Ctrl+C to stop)\n", ui.RenderAccent("▶"), cfg.ServerURL)
		return c.Subscribe(ctx, func(change document.Change) {
			marker := ui.RenderAccent("~")
			switch change.Op {
			case document.ChangeCreated:
				marker = ui.RenderPass("+")
			case document.ChangeDeleted:
				marker = ui.RenderFail("-")
			}
			fmt.Printf("%s %s %s %s\n", ui.RenderMuted(time.Now().Format("15:04:05")), marker, change.ID, ui.RenderMuted(string(change.Fingerprint)))
		})
	},
}

func init() {
	rootCmd.AddCommand(feedCmd)
}
