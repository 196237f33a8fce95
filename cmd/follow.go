package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/liftlog/liftsocial/internal/store"
	"github.com/liftlog/liftsocial/internal/ui"
	"github.com/liftlog/liftsocial/internal/utils"
	"github.com/liftlog/liftsocial/internal/workflows"

	"github.com/spf13/cobra"
)

var (
	followSingle bool
	followMulti  bool
)

func init() {
	followIssueCmd.Flags().BoolVar(&followSingle, "single", false, "the token can be redeemed only once")
	followIssueCmd.Flags().BoolVar(&followMulti, "multi", false, "the token can be redeemed any number of times")
	followIssueCmd.MarkFlagsMutuallyExclusive("single", "multi")

	FollowCmd.AddCommand(followIssueCmd)
	FollowCmd.AddCommand(followRevokeCmd)
	FollowCmd.AddCommand(followListCmd)
	FollowCmd.AddCommand(followRequestCmd)
	FollowCmd.AddCommand(followUnfollowCmd)
}

func resetFollowCommandState() {
	followSingle = false
	followMulti = false
}

// FollowCmd groups the commands that share and redeem follow tokens.
var FollowCmd = &cobra.Command{
	Use:   "follow",
	Short: "Share your feed with followers",
	Long: `Issues and revokes follow tokens, and requests to follow other users.

A follower needs your user id and a token. Once you sync your inbox the
request is checked against the token and your feed key is sent back.`,
}

var followIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Issue a new follow token",
	Long: `Creates a follow token to share out of band.

Examples:
  liftsocial follow issue
  liftsocial follow issue --single   # token for exactly one follower`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting follow issue command")
		var policy store.RedeemPolicy
		switch {
		case followSingle:
			policy = store.RedeemSingle
		case followMulti:
			policy = store.RedeemMulti
		}

		return runWithSession(func(ctx context.Context, s *workflows.Session) error {
			secret, err := workflows.IssueFollowSecret(ctx, s, policy)
			if err != nil {
				return printError(err)
			}
			Logger.Infof("Issued %s follow token", secret.Policy)

			fmt.Println(ui.Success.Sprint("✓") + " Follow token issued (" + string(secret.Policy) + " use)")
			fmt.Println("   User ID: " + ui.Highlight.Sprint(s.UserID()))
			fmt.Println("   Token:   " + ui.Highlight.Sprint(secret.Token))
			fmt.Println(ui.Info.Sprint("→") + " Followers run " +
				ui.Code.Sprint("liftsocial follow request "+s.UserID()+" "+secret.Token))
			return nil
		})
	},
}

var followRevokeCmd = &cobra.Command{
	Use:   "revoke <token>",
	Short: "Revoke a follow token",
	Long: `Revokes a follow token. Everyone who followed you with it loses access
to your feed immediately.

Examples:
  liftsocial follow revoke 3f2a...`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting follow revoke command")
		return runWithSession(func(ctx context.Context, s *workflows.Session) error {
			if err := workflows.RevokeFollowSecret(ctx, s, args[0]); err != nil {
				return printError(err)
			}
			fmt.Println(ui.Success.Sprint("✓") + " Token " + ui.Highlight.Sprint(utils.ShortID(args[0])) + " revoked")
			return nil
		})
	},
}

var followListCmd = &cobra.Command{
	Use:   "list",
	Short: "List your follow tokens",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting follow list command")
		return runWithSession(func(ctx context.Context, s *workflows.Session) error {
			secrets, err := workflows.ListFollowSecrets(ctx, s)
			if err != nil {
				return printError(err)
			}
			if len(secrets) == 0 {
				fmt.Println("No follow tokens issued.")
				return nil
			}

			now := time.Now()
			for _, sec := range secrets {
				state := ui.Success.Sprint(string(sec.State))
				if !sec.Active() {
					state = ui.Error.Sprint(string(sec.State))
				}
				fmt.Printf("%s  %-6s  %-8s  %d followers  %s\n",
					sec.Token, sec.Policy, state, len(sec.Redeemers), ui.Muted.Sprint(utils.Ago(sec.CreatedAt, now)))
			}
			return nil
		})
	},
}

var followRequestCmd = &cobra.Command{
	Use:   "request <user-id> <token>",
	Short: "Ask to follow a user",
	Long: `Sends an encrypted follow request carrying the token the user shared
with you. Their feed key arrives on a later inbox sync.

Examples:
  liftsocial follow request 7c9e... 3f2a...`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting follow request command")
		return runWithSession(func(ctx context.Context, s *workflows.Session) error {
			if err := workflows.RequestFollow(ctx, s, args[0], args[1]); err != nil {
				return printError(err)
			}
			fmt.Println(ui.Success.Sprint("✓") + " Follow request sent to " + ui.Highlight.Sprint(args[0]))
			fmt.Println(ui.Info.Sprint("→") + " Run " + ui.Code.Sprint("liftsocial inbox sync") + " once they have synced theirs")
			return nil
		})
	},
}

var followUnfollowCmd = &cobra.Command{
	Use:   "unfollow <user-id>",
	Short: "Forget the key held for a followed user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting follow unfollow command")
		return runWithSession(func(ctx context.Context, s *workflows.Session) error {
			if !workflows.Unfollow(s, args[0]) {
				fmt.Println(ui.Info.Sprint("ℹ") + " You do not follow " + ui.Highlight.Sprint(args[0]))
				return nil
			}
			fmt.Println(ui.Success.Sprint("✓") + " Unfollowed " + ui.Highlight.Sprint(args[0]))
			return nil
		})
	},
}
