package main

import (
	"fmt"
	"os"

	"github.com/liftlog/liftsocial/cmd"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "liftsocial",
	Short: "liftsocial - private training feeds, follows and clubs.",
	Long: `liftsocial shares your workouts with the people you choose.

Every post is encrypted and signed on your device. Followers receive your
feed key through an encrypted inbox, and clubs share a key that only their
members hold. The server never sees a plaintext workout.

Usage:
  liftsocial <command> [flags]

Available Commands:
  identity   Create and inspect your identity
  follow     Share your feed and follow others
  inbox      Receive follow grants, club keys and invites
  club       Create and manage training clubs
  feed       Post and read workouts
  prune      Remove expired posts and inbox messages
  log        View the audit log

Run 'liftsocial help <command>' for more details on a specific command.
`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("Welcome to liftsocial! Run 'liftsocial --help' to see available commands.")
	},
}

func init() {
	rootCmd.AddCommand(cmd.Commands()...)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
