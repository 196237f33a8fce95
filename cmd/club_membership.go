package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/liftlog/liftsocial/internal/policy"
	"github.com/liftlog/liftsocial/internal/store"
	"github.com/liftlog/liftsocial/internal/ui"
	"github.com/liftlog/liftsocial/internal/utils"
	"github.com/liftlog/liftsocial/internal/workflows"

	"github.com/spf13/cobra"
)

var inviteRole string

func init() {
	clubInviteCmd.Flags().StringVar(&inviteRole, "role", "member", "role to offer (viewer, member or admin)")

	ClubCmd.AddCommand(clubInviteCmd)
	ClubCmd.AddCommand(clubInvitesCmd)
	ClubCmd.AddCommand(clubAcceptCmd)
	ClubCmd.AddCommand(clubDeclineCmd)
	ClubCmd.AddCommand(clubJoinCmd)
	ClubCmd.AddCommand(clubDeliverCmd)
	ClubCmd.AddCommand(clubLeaveCmd)
	ClubCmd.AddCommand(clubRemoveCmd)
	ClubCmd.AddCommand(clubRoleCmd)
	ClubCmd.AddCommand(clubRotateCmd)
}

func resetClubMembershipCommandState() {
	inviteRole = "member"
}

var clubInviteCmd = &cobra.Command{
	Use:   "invite <club-id> <user-id>",
	Short: "Invite a user into a club",
	Long: `Sends the club key to a user wrapped to their public key. They join by
running club accept after their next inbox sync.

Examples:
  liftsocial club invite 5d1e... 7c9e...
  liftsocial club invite 5d1e... 7c9e... --role admin`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting club invite command")
		role, err := policy.ParseRole(inviteRole)
		if err != nil {
			return printError(err)
		}
		return runWithSession(func(ctx context.Context, s *workflows.Session) error {
			spinner, cleanup := startSpinner("Sending invite...", verbose)
			defer cleanup()

			if err := workflows.InviteToClub(ctx, s, args[0], args[1], role); err != nil {
				return fail(spinner, err)
			}
			spinner.FinalMSG = ui.Success.Sprint("✓") + " Invited " + ui.Highlight.Sprint(args[1]) + " as " + role.String()
			return nil
		})
	},
}

var clubInvitesCmd = &cobra.Command{
	Use:   "invites",
	Short: "List the club invites you have received",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting club invites command")
		return runWithSession(func(ctx context.Context, s *workflows.Session) error {
			invites := workflows.PendingInvites(s)
			if len(invites) == 0 {
				fmt.Println("No pending invites. Run " + ui.Code.Sprint("liftsocial inbox sync") + " to check for new ones.")
				return nil
			}
			now := time.Now()
			for _, inv := range invites {
				fmt.Printf("%s  %s  as %s  from %s  %s\n",
					inv.ClubID, ui.Highlight.Sprint(inv.ClubName), inv.OfferedRole,
					utils.ShortID(inv.FromUserID), ui.Muted.Sprint(utils.Ago(inv.ReceivedAt, now)))
			}
			return nil
		})
	},
}

var clubAcceptCmd = &cobra.Command{
	Use:   "accept <club-id>",
	Short: "Accept a club invite",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting club accept command")
		return runWithSession(func(ctx context.Context, s *workflows.Session) error {
			m, err := workflows.AcceptClubInvite(ctx, s, args[0])
			if err != nil {
				return printError(err)
			}
			fmt.Println(ui.Success.Sprint("✓") + " Joined club " + utils.ShortID(m.ClubID) + " as " + m.Role.String())
			return nil
		})
	},
}

var clubDeclineCmd = &cobra.Command{
	Use:   "decline <club-id>",
	Short: "Decline a club invite",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting club decline command")
		return runWithSession(func(ctx context.Context, s *workflows.Session) error {
			if err := workflows.DeclineClubInvite(s, args[0]); err != nil {
				return printError(err)
			}
			fmt.Println(ui.Success.Sprint("✓") + " Invite to " + utils.ShortID(args[0]) + " declined")
			return nil
		})
	},
}

var clubJoinCmd = &cobra.Command{
	Use:   "join <club-id>",
	Short: "Join a public club",
	Long: `Joins a public club. You can read the club feed once an admin has
delivered the club key to you and you have synced your inbox.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting club join command")
		return runWithSession(func(ctx context.Context, s *workflows.Session) error {
			m, err := workflows.JoinClub(ctx, s, args[0])
			if err != nil {
				return printError(err)
			}
			fmt.Println(ui.Success.Sprint("✓") + " Joined club " + utils.ShortID(m.ClubID) + " as " + m.Role.String())
			if m.State == store.MemberPendingKey {
				fmt.Println(ui.Info.Sprint("→") + " The club key arrives once an admin delivers it. Then run " + ui.Code.Sprint("liftsocial inbox sync"))
			}
			return nil
		})
	},
}

var clubDeliverCmd = &cobra.Command{
	Use:   "deliver <club-id>",
	Short: "Send the club key to members waiting for it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting club deliver command")
		return runWithSession(func(ctx context.Context, s *workflows.Session) error {
			spinner, cleanup := startSpinner("Delivering club keys...", verbose)
			defer cleanup()

			n, err := workflows.DeliverClubKeys(ctx, s, args[0])
			if err != nil {
				return fail(spinner, err)
			}
			if n == 0 {
				spinner.FinalMSG = ui.Info.Sprint("ℹ") + " Nobody is waiting for the club key"
				return nil
			}
			spinner.FinalMSG = ui.Success.Sprint("✓") + fmt.Sprintf(" Delivered the club key to %d members", n)
			return nil
		})
	},
}

var clubLeaveCmd = &cobra.Command{
	Use:   "leave <club-id>",
	Short: "Leave a club",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting club leave command")
		return runWithSession(func(ctx context.Context, s *workflows.Session) error {
			if err := workflows.LeaveClub(ctx, s, args[0]); err != nil {
				return printError(err)
			}
			fmt.Println(ui.Success.Sprint("✓") + " Left club " + utils.ShortID(args[0]))
			return nil
		})
	},
}

var clubRemoveCmd = &cobra.Command{
	Use:   "remove <club-id> <user-id>",
	Short: "Remove a member from a club",
	Long: `Removes a member. Unless disabled in the config, the club key is rotated
so the removed member cannot read new posts.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting club remove command")
		return runWithSession(func(ctx context.Context, s *workflows.Session) error {
			spinner, cleanup := startSpinner("Removing member...", verbose)
			defer cleanup()

			if err := workflows.RemoveClubMember(ctx, s, args[0], args[1]); err != nil {
				return fail(spinner, err)
			}
			msg := ui.Success.Sprint("✓") + " Removed " + ui.Highlight.Sprint(args[1])
			if appConfig.Clubs.RotateOnRemoval {
				msg += "\n   Club key rotated"
			}
			spinner.FinalMSG = msg
			return nil
		})
	},
}

var clubRoleCmd = &cobra.Command{
	Use:   "role <club-id> <user-id> <role>",
	Short: "Change a member's role",
	Long: `Sets a member's role to viewer, member or admin.

Examples:
  liftsocial club role 5d1e... 7c9e... admin`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting club role command")
		role, err := policy.ParseRole(args[2])
		if err != nil {
			return printError(err)
		}
		return runWithSession(func(ctx context.Context, s *workflows.Session) error {
			if err := workflows.ChangeClubRole(ctx, s, args[0], args[1], role); err != nil {
				return printError(err)
			}
			fmt.Println(ui.Success.Sprint("✓") + " " + ui.Highlight.Sprint(args[1]) + " is now " + role.String())
			return nil
		})
	},
}

var clubRotateCmd = &cobra.Command{
	Use:   "rotate <club-id>",
	Short: "Issue a new club key to every member",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting club rotate command")
		return runWithSession(func(ctx context.Context, s *workflows.Session) error {
			spinner, cleanup := startSpinner("Rotating club key...", verbose)
			defer cleanup()

			version, err := workflows.RotateClubKey(ctx, s, args[0])
			if err != nil {
				return fail(spinner, err)
			}
			spinner.FinalMSG = ui.Success.Sprint("✓") + fmt.Sprintf(" Club key rotated to v%d", version)
			return nil
		})
	},
}
