package cmd

import (
	"context"
	"fmt"

	"github.com/liftlog/liftsocial/internal/ui"
	"github.com/liftlog/liftsocial/internal/workflows"

	"github.com/spf13/cobra"
)

// PruneCmd removes expired records from storage. It needs no identity and
// is meant to run from cron against a shared backend.
var PruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove expired posts, shared items and inbox messages",
	Long: `Deletes feed posts, shared items and inbox messages whose lifetime has
passed.

Examples:
  liftsocial prune
  LIFTSOCIAL_STORAGE_ENGINE=postgres liftsocial prune`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting prune command")
		spinner, cleanup := startSpinner("Pruning expired records...", verbose)
		defer cleanup()

		res, err := workflows.Prune(context.Background(), appConfig)
		if err != nil {
			return fail(spinner, err)
		}
		Logger.Infof("Pruned %d events, %d shared items and %d envelopes", res.Events, res.SharedItems, res.Envelopes)

		if res.Total() == 0 {
			spinner.FinalMSG = ui.Info.Sprint("ℹ") + " Nothing to prune"
			return nil
		}
		spinner.FinalMSG = ui.Success.Sprint("✓") +
			fmt.Sprintf(" Removed %d expired posts, %d shared items and %d inbox messages", res.Events, res.SharedItems, res.Envelopes)
		return nil
	},
}
