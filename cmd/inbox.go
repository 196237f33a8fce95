package cmd

import (
	"context"
	"fmt"

	"github.com/liftlog/liftsocial/internal/ui"
	"github.com/liftlog/liftsocial/internal/workflows"

	"github.com/spf13/cobra"
)

var inboxDeliverKeys bool

func init() {
	inboxSyncCmd.Flags().BoolVar(&inboxDeliverKeys, "deliver-keys", false, "also deliver club keys to members who joined public clubs you manage")

	InboxCmd.AddCommand(inboxSyncCmd)
}

func resetInboxCommandState() {
	inboxDeliverKeys = false
}

// InboxCmd groups the inbox commands.
var InboxCmd = &cobra.Command{
	Use:   "inbox",
	Short: "Receive follow requests, grants and club keys",
}

var inboxSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Drain your inbox and apply every message",
	Long: `Fetches and decrypts every message waiting in your inbox.

Follow requests are checked against your tokens and answered with your feed
key. Follow grants and club keys are added to your keyring. Club invites are
kept until you accept or decline them.

Examples:
  liftsocial inbox sync
  liftsocial inbox sync --deliver-keys`,
	Args: cobra.NoArgs,
	RunE: runInboxSync,
}

func runInboxSync(cmd *cobra.Command, args []string) error {
	Logger.Infof("Starting inbox sync command")
	return runWithSession(func(ctx context.Context, s *workflows.Session) error {
		spinner, cleanup := startSpinner("Syncing inbox...", verbose)
		defer cleanup()

		result, err := workflows.SyncInbox(ctx, s, workflows.SyncOptions{DeliverPendingKeys: inboxDeliverKeys})
		if err != nil {
			return fail(spinner, err)
		}
		Logger.Infof("Applied %d inbox messages, %d failures", result.Applied(), len(result.Failures))

		if result.Applied() == 0 && len(result.Failures) == 0 && result.KeysDelivered == 0 {
			spinner.FinalMSG = ui.Info.Sprint("ℹ") + " Inbox is empty"
			return nil
		}

		msg := ui.Success.Sprint("✓") + " Inbox synced"
		lines := []struct {
			n     int
			label string
		}{
			{result.FollowRequests, "follow requests answered"},
			{result.FollowGrants, "users now followed"},
			{result.KeyShares, "club keys received"},
			{result.Invites, "club invites received"},
			{result.KeysDelivered, "club keys delivered"},
		}
		for _, l := range lines {
			if l.n > 0 {
				msg += fmt.Sprintf("\n   %d %s", l.n, l.label)
			}
		}
		for _, f := range result.Failures {
			Logger.Warnf("Inbox message %s (%s) failed: %v", f.EnvelopeID, f.Kind, f.Err)
			msg += "\n" + ui.Warning.Sprint("⚠") + fmt.Sprintf(" %s message dropped: %v", f.Kind, f.Err)
		}
		if result.Invites > 0 {
			msg += "\n" + ui.Info.Sprint("→") + " Review invites with " + ui.Code.Sprint("liftsocial club invites")
		}
		spinner.FinalMSG = msg
		return nil
	})
}
