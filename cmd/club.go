package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/liftlog/liftsocial/internal/club"
	"github.com/liftlog/liftsocial/internal/store"
	"github.com/liftlog/liftsocial/internal/ui"
	"github.com/liftlog/liftsocial/internal/utils"
	"github.com/liftlog/liftsocial/internal/workflows"

	"github.com/spf13/cobra"
)

var (
	clubDescription      string
	clubPublic           bool
	clubMembersCanPost   bool
	clubMembersCanInvite bool
	clubMaxMembers       int
	clubName             string
	clubForce            bool
	clubSearchLimit      int
	clubSearchOffset     int
)

func init() {
	clubCreateCmd.Flags().StringVar(&clubDescription, "description", "", "club description")
	clubCreateCmd.Flags().BoolVar(&clubPublic, "public", false, "list the club in search and let anyone join")
	clubCreateCmd.Flags().BoolVar(&clubMembersCanPost, "members-can-post", false, "let members post to the club feed")
	clubCreateCmd.Flags().BoolVar(&clubMembersCanInvite, "members-can-invite", false, "let members invite others")
	clubCreateCmd.Flags().IntVar(&clubMaxMembers, "max-members", 0, "member limit (0 means unlimited)")

	clubSettingsCmd.Flags().StringVar(&clubName, "name", "", "new club name")
	clubSettingsCmd.Flags().StringVar(&clubDescription, "description", "", "new club description")
	clubSettingsCmd.Flags().BoolVar(&clubMembersCanPost, "members-can-post", false, "let members post to the club feed")
	clubSettingsCmd.Flags().BoolVar(&clubMembersCanInvite, "members-can-invite", false, "let members invite others")
	clubSettingsCmd.Flags().IntVar(&clubMaxMembers, "max-members", 0, "member limit (0 means unlimited)")

	clubDeleteCmd.Flags().BoolVarP(&clubForce, "force", "f", false, "skip the confirmation prompt")

	clubSearchCmd.Flags().IntVar(&clubSearchLimit, "limit", 20, "number of clubs to show")
	clubSearchCmd.Flags().IntVar(&clubSearchOffset, "offset", 0, "number of clubs to skip")

	ClubCmd.AddCommand(clubCreateCmd)
	ClubCmd.AddCommand(clubSettingsCmd)
	ClubCmd.AddCommand(clubDeleteCmd)
	ClubCmd.AddCommand(clubListCmd)
	ClubCmd.AddCommand(clubSearchCmd)
	ClubCmd.AddCommand(clubMembersCmd)
}

func resetClubCommandState() {
	clubDescription = ""
	clubPublic = false
	clubMembersCanPost = false
	clubMembersCanInvite = false
	clubMaxMembers = 0
	clubName = ""
	clubForce = false
	clubSearchLimit = 20
	clubSearchOffset = 0
	resetClubMembershipCommandState()
}

// ClubCmd groups the club commands.
var ClubCmd = &cobra.Command{
	Use:   "club",
	Short: "Create and manage training clubs",
	Long: `Manages clubs: private groups that share one encrypted feed.

Every club has a key that only its members hold. The server stores the club
name and every post encrypted under that key.`,
}

var clubCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a club you own",
	Long: `Creates a club, generates its key and makes you the owner.

Examples:
  liftsocial club create "Morning Lifters"
  liftsocial club create "Open Gym" --public --members-can-post
  liftsocial club create "Powerlifting Team" --max-members 12`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting club create command")
		return runWithSession(func(ctx context.Context, s *workflows.Session) error {
			spinner, cleanup := startSpinner("Creating club...", verbose)
			defer cleanup()

			c, err := workflows.CreateClub(ctx, s, club.CreateOptions{
				Name:        args[0],
				Description: clubDescription,
				IsPublic:    clubPublic,
				Settings: store.ClubSettings{
					MembersCanPost:   clubMembersCanPost,
					MembersCanInvite: clubMembersCanInvite,
					MaxMembers:       clubMaxMembers,
				},
			})
			if err != nil {
				return fail(spinner, err)
			}
			Logger.Infof("Created club %s", c.ID)

			visibility := "private"
			if c.IsPublic {
				visibility = "public"
			}
			spinner.FinalMSG = ui.Success.Sprint("✓") + " Created " + visibility + " club " + ui.Highlight.Sprint(args[0]) + "\n" +
				"   Club ID: " + c.ID + "\n" +
				ui.Info.Sprint("→") + " Invite members with " + ui.Code.Sprint("liftsocial club invite "+c.ID+" <user-id>")
			return nil
		})
	},
}

var clubSettingsCmd = &cobra.Command{
	Use:     "settings <club-id>",
	Aliases: []string{"update"},
	Short:   "Change a club's name, description or settings",
	Long: `Updates the club. Only the flags you pass are changed. Owner only.

Examples:
  liftsocial club settings 5d1e... --name "Evening Lifters"
  liftsocial club settings 5d1e... --members-can-post=false --max-members 30`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting club settings command")
		flags := cmd.Flags()
		var u workflows.ClubUpdate
		if flags.Changed("name") {
			u.Name = &clubName
		}
		if flags.Changed("description") {
			u.Description = &clubDescription
		}
		if flags.Changed("members-can-post") {
			u.MembersCanPost = &clubMembersCanPost
		}
		if flags.Changed("members-can-invite") {
			u.MembersCanInvite = &clubMembersCanInvite
		}
		if flags.Changed("max-members") {
			u.MaxMembers = &clubMaxMembers
		}
		if u == (workflows.ClubUpdate{}) {
			fmt.Println(ui.Info.Sprint("ℹ") + " Nothing to change. Pass at least one flag, see " + ui.Code.Sprint("liftsocial club settings --help"))
			return nil
		}

		return runWithSession(func(ctx context.Context, s *workflows.Session) error {
			if err := workflows.UpdateClub(ctx, s, args[0], u); err != nil {
				return printError(err)
			}
			fmt.Println(ui.Success.Sprint("✓") + " Club " + utils.ShortID(args[0]) + " updated")
			return nil
		})
	},
}

var clubDeleteCmd = &cobra.Command{
	Use:   "delete <club-id>",
	Short: "Delete a club and its feed",
	Long: `Deletes the club, every membership and every post. Owner only.
This cannot be undone.

Examples:
  liftsocial club delete 5d1e...
  liftsocial club delete 5d1e... --force`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting club delete command")
		return runWithSession(func(ctx context.Context, s *workflows.Session) error {
			spinner, cleanup := startSpinner("Deleting club...", verbose)
			defer cleanup()

			if !clubForce && !confirm(spinner, "this deletes the club feed for every member.", "Delete club "+args[0]+"?") {
				spinner.FinalMSG = ui.Warning.Sprint("⚠") + " Aborted"
				return nil
			}
			if err := workflows.DeleteClub(ctx, s, args[0]); err != nil {
				return fail(spinner, err)
			}
			spinner.FinalMSG = ui.Success.Sprint("✓") + " Club " + utils.ShortID(args[0]) + " deleted"
			return nil
		})
	},
}

var clubListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the clubs you belong to",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting club list command")
		return runWithSession(func(ctx context.Context, s *workflows.Session) error {
			clubs, err := workflows.ListClubs(ctx, s)
			if err != nil {
				return printError(err)
			}
			if len(clubs) == 0 {
				fmt.Println("You are not in any club.")
				return nil
			}
			printClubs(clubs)
			return nil
		})
	},
}

var clubSearchCmd = &cobra.Command{
	Use:   "search",
	Short: "Browse public clubs",
	Long: `Lists public clubs. Names are encrypted, so clubs you are not a member
of show only their id and size.

Examples:
  liftsocial club search
  liftsocial club search --limit 50 --offset 50`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting club search command")
		return runWithSession(func(ctx context.Context, s *workflows.Session) error {
			clubs, err := workflows.SearchClubs(ctx, s, clubSearchLimit, clubSearchOffset)
			if err != nil {
				return printError(err)
			}
			if len(clubs) == 0 {
				fmt.Println("No public clubs found.")
				return nil
			}
			printClubs(clubs)
			fmt.Println(ui.Info.Sprint("→") + " Join one with " + ui.Code.Sprint("liftsocial club join <club-id>"))
			return nil
		})
	},
}

var clubMembersCmd = &cobra.Command{
	Use:   "members <club-id>",
	Short: "List the members of a club",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting club members command")
		return runWithSession(func(ctx context.Context, s *workflows.Session) error {
			members, err := workflows.ClubMembers(ctx, s, args[0])
			if err != nil {
				return printError(err)
			}
			now := time.Now()
			for _, m := range members {
				state := ""
				if m.State == store.MemberPendingKey {
					state = ui.Warning.Sprint("awaiting key")
				}
				you := ""
				if m.UserID == s.UserID() {
					you = ui.Muted.Sprint("you")
				}
				fmt.Printf("%s  %-6s  key v%d  joined %s  %s %s\n",
					m.UserID, m.Role, m.KeyVersion, utils.Ago(m.JoinedAt, now), state, you)
			}
			return nil
		})
	},
}

func printClubs(clubs []workflows.ClubSummary) {
	for _, c := range clubs {
		name := c.Name
		if name == "" {
			name = ui.Muted.Sprint("encrypted")
		}
		role := "-"
		if c.Role.Valid() {
			role = c.Role.String()
		}
		flags := ""
		if c.Club.IsPublic {
			flags += " public"
		}
		if c.State == store.MemberPendingKey {
			flags += " " + ui.Warning.Sprint("awaiting key")
		}
		if c.Club.RekeyNeeded {
			flags += " " + ui.Warning.Sprint("rotation due")
		}
		fmt.Printf("%s  %s  %-6s  %d members%s\n", c.Club.ID, name, role, c.Club.MemberCount, flags)
		if c.Description != "" {
			fmt.Println("    " + c.Description)
		}
	}
}
