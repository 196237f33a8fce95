package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/liftlog/liftsocial/internal/feed"
	"github.com/liftlog/liftsocial/internal/store"
	"github.com/liftlog/liftsocial/internal/ui"
	"github.com/liftlog/liftsocial/internal/utils"
	"github.com/liftlog/liftsocial/internal/workflows"

	"github.com/spf13/cobra"
)

var (
	feedClub     string
	feedTitle    string
	feedDuration time.Duration
	feedNotes    string
	feedSets     []string
	feedTTL      time.Duration
	feedEventID  string
	feedUsers    []string
	feedSince    string
	feedLimit    int
	feedJSON     bool
)

func init() {
	feedPostCmd.Flags().StringVar(&feedClub, "club", "", "post to a club feed instead of your own")
	feedPostCmd.Flags().StringVar(&feedTitle, "title", "", "session title")
	feedPostCmd.Flags().DurationVar(&feedDuration, "duration", 0, "session length, e.g. 1h15m")
	feedPostCmd.Flags().StringVar(&feedNotes, "notes", "", "free-text notes")
	feedPostCmd.Flags().StringArrayVar(&feedSets, "set", nil, "exercise sets as Name:RepsxWeight[,RepsxWeight...] (repeatable)")
	feedPostCmd.Flags().DurationVar(&feedTTL, "ttl", 0, "delete the post after this long")
	feedPostCmd.Flags().StringVar(&feedEventID, "id", "", "replace the earlier post with this id")
	_ = feedPostCmd.MarkFlagRequired("title")

	feedAnnounceCmd.Flags().StringVar(&feedClub, "club", "", "post to a club feed instead of your own")
	feedAnnounceCmd.Flags().DurationVar(&feedTTL, "ttl", 0, "delete the post after this long")

	feedReadCmd.Flags().StringVar(&feedClub, "club", "", "read a club feed")
	feedReadCmd.Flags().StringArrayVar(&feedUsers, "user", nil, "read only this followed user (repeatable)")
	feedReadCmd.Flags().StringVar(&feedSince, "since", "", "only show posts newer than a duration (48h), date or RFC 3339 time")
	feedReadCmd.Flags().IntVarP(&feedLimit, "number", "n", 0, "maximum number of posts")
	feedReadCmd.Flags().BoolVar(&feedJSON, "json", false, "output as JSON array")
	feedReadCmd.MarkFlagsMutuallyExclusive("club", "user")

	feedShareCmd.Flags().StringVar(&feedTitle, "title", "", "session title")
	feedShareCmd.Flags().DurationVar(&feedDuration, "duration", 0, "session length, e.g. 1h15m")
	feedShareCmd.Flags().StringVar(&feedNotes, "notes", "", "free-text notes")
	feedShareCmd.Flags().StringArrayVar(&feedSets, "set", nil, "exercise sets as Name:RepsxWeight[,RepsxWeight...] (repeatable)")
	feedShareCmd.Flags().DurationVar(&feedTTL, "ttl", 0, "keep the link readable this long (default 7 days, at most 90)")
	_ = feedShareCmd.MarkFlagRequired("title")

	feedOpenCmd.Flags().BoolVar(&feedJSON, "json", false, "output as JSON")

	FeedCmd.AddCommand(feedPostCmd)
	FeedCmd.AddCommand(feedAnnounceCmd)
	FeedCmd.AddCommand(feedReadCmd)
	FeedCmd.AddCommand(feedShareCmd)
	FeedCmd.AddCommand(feedOpenCmd)
}

func resetFeedCommandState() {
	feedClub = ""
	feedTitle = ""
	feedDuration = 0
	feedNotes = ""
	feedSets = nil
	feedTTL = 0
	feedEventID = ""
	feedUsers = nil
	feedSince = ""
	feedLimit = 0
	feedJSON = false
}

// FeedCmd groups the feed commands.
var FeedCmd = &cobra.Command{
	Use:   "feed",
	Short: "Post and read encrypted training feeds",
	Long: `Posts workouts and announcements and reads the feeds of people you follow
and clubs you belong to. Every post is encrypted and signed on this device.`,
}

var feedPostCmd = &cobra.Command{
	Use:   "post",
	Short: "Post a completed workout",
	Long: `Posts a workout session to your feed, or to a club feed with --club.

Examples:
  liftsocial feed post --title "Leg day" --duration 1h10m \
      --set "Squat:5x100,5x100,5x105" --set "Leg press:12x180"
  liftsocial feed post --club 5d1e... --title "Team session" --set "Deadlift:3x160"
  liftsocial feed post --title "Pull-ups" --set "Pull-up:10,8,8" --ttl 168h`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting feed post command")
		session, err := sessionFromFlags()
		if err != nil {
			fmt.Println(ui.Error.Sprint("✗") + " " + err.Error())
			return nil
		}
		return publish(session, "Posted "+ui.Highlight.Sprint(feedTitle))
	},
}

func sessionFromFlags() (feed.Session, error) {
	exercises, err := parseSets(feedSets)
	if err != nil {
		return feed.Session{}, err
	}
	return feed.Session{
		Title:     feedTitle,
		StartedAt: time.Now().Add(-feedDuration),
		Duration:  feedDuration,
		Exercises: exercises,
		Notes:     feedNotes,
	}, nil
}

var feedAnnounceCmd = &cobra.Command{
	Use:   "announce <text>",
	Short: "Post an announcement",
	Long: `Posts a free-text announcement. Club announcements need the admin role.

Examples:
  liftsocial feed announce "Gym closed Monday" --club 5d1e...`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting feed announce command")
		return publish(feed.Announcement{Text: strings.Join(args, " ")}, "Announcement posted")
	},
}

func publish(ev feed.Event, done string) error {
	return runWithSession(func(ctx context.Context, s *workflows.Session) error {
		spinner, cleanup := startSpinner("Encrypting and posting...", verbose)
		defer cleanup()

		rec, err := workflows.Post(ctx, s, ev, workflows.PostOptions{ClubID: feedClub, EventID: feedEventID, TTL: feedTTL})
		if err != nil {
			return fail(spinner, err)
		}
		Logger.Infof("Posted %s event %s to feed %s", ev.Kind(), rec.EventID, rec.FeedID)

		msg := ui.Success.Sprint("✓") + " " + done + "\n   Event ID: " + rec.EventID
		if !rec.ExpiresAt.IsZero() {
			msg += "\n   Expires " + rec.ExpiresAt.Local().Format("2006-01-02 15:04")
		}
		spinner.FinalMSG = msg
		return nil
	})
}

var feedReadCmd = &cobra.Command{
	Use:   "read",
	Short: "Read followed users or a club feed",
	Long: `Decrypts and verifies feed posts, newest first. Without --club every user
you follow is read.

Examples:
  liftsocial feed read
  liftsocial feed read --user 7c9e... --since 48h
  liftsocial feed read --club 5d1e... -n 20
  liftsocial feed read --json`,
	Args: cobra.NoArgs,
	RunE: runFeedRead,
}

func runFeedRead(cmd *cobra.Command, args []string) error {
	Logger.Infof("Starting feed read command")
	since, err := parseSince(feedSince, time.Now())
	if err != nil {
		fmt.Println(ui.Error.Sprint("✗") + " " + err.Error())
		return nil
	}

	return runWithSession(func(ctx context.Context, s *workflows.Session) error {
		spinner, cleanup := startSpinner("Decrypting feed...", verbose)
		defer cleanup()

		result, err := workflows.Read(ctx, s, workflows.ReadOptions{ClubID: feedClub, Users: feedUsers, Since: since, Limit: feedLimit})
		if err != nil {
			return fail(spinner, err)
		}
		if err := result.Err(); err != nil {
			Logger.Warnf("Some posts could not be read: %v", err)
		}

		spinner.Stop()
		spinner.FinalMSG = ""
		if feedJSON {
			return outputFeedJSON(result)
		}
		outputFeed(result)
		return nil
	})
}

var feedShareCmd = &cobra.Command{
	Use:   "share",
	Short: "Share a workout with anyone who has the link",
	Long: `Encrypts a workout under a one-off key and prints a link. The key is part
of the link and is never stored, so only people you give the link to can
read the workout. Links stop working when they expire.

Examples:
  liftsocial feed share --title "First muscle-up" --set "Muscle-up:1"
  liftsocial feed share --title "Meet day" --set "Deadlift:1x220" --ttl 720h`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting feed share command")
		session, err := sessionFromFlags()
		if err != nil {
			fmt.Println(ui.Error.Sprint("✗") + " " + err.Error())
			return nil
		}

		return runWithSession(func(ctx context.Context, s *workflows.Session) error {
			spinner, cleanup := startSpinner("Encrypting and sharing...", verbose)
			defer cleanup()

			res, err := workflows.Share(ctx, s, session, feedTTL)
			if err != nil {
				return fail(spinner, err)
			}
			Logger.Infof("Shared item %s", res.Item.ID)

			spinner.FinalMSG = ui.Success.Sprint("✓") + " Shared " + ui.Highlight.Sprint(feedTitle) +
				"\n   Link:    " + res.Link.String() +
				"\n   Expires " + res.Item.ExpiresAt.Local().Format("2006-01-02 15:04") +
				"\n" + ui.Info.Sprint("→") + " Anyone with the link can read it with " + ui.Code.Sprint("liftsocial feed open <link>")
			return nil
		})
	},
}

var feedOpenCmd = &cobra.Command{
	Use:   "open <link>",
	Short: "Open a shared workout link",
	Long: `Decrypts and verifies a shared workout. No identity is needed.

Examples:
  liftsocial feed open '3f2a...#Zm9v...'`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting feed open command")
		spinner, cleanup := startSpinner("Opening shared item...", verbose)
		defer cleanup()

		shared, err := workflows.OpenShared(context.Background(), appConfig, args[0])
		if err != nil {
			return fail(spinner, err)
		}
		spinner.Stop()
		spinner.FinalMSG = ""

		result := feed.Result{Items: []feed.Item{{
			Record: store.FeedRecord{
				FeedID:    shared.Item.UserID,
				EventID:   shared.Item.ID,
				AuthorID:  shared.Item.UserID,
				Timestamp: shared.Item.Timestamp,
				ExpiresAt: shared.Item.ExpiresAt,
			},
			Event: shared.Event,
		}}}
		if feedJSON {
			return outputFeedJSON(result)
		}
		outputFeed(result)
		return nil
	},
}

type feedItemJSON struct {
	FeedID    string      `json:"feed_id"`
	EventID   string      `json:"event_id"`
	AuthorID  string      `json:"author_id"`
	Timestamp time.Time   `json:"timestamp"`
	Kind      feed.Kind   `json:"kind,omitempty"`
	Event     interface{} `json:"event,omitempty"`
	Error     string      `json:"error,omitempty"`
}

func outputFeedJSON(result feed.Result) error {
	items := make([]feedItemJSON, 0, len(result.Items))
	for _, it := range result.Items {
		j := feedItemJSON{
			FeedID:    it.Record.FeedID,
			EventID:   it.Record.EventID,
			AuthorID:  it.Record.AuthorID,
			Timestamp: it.Record.Timestamp,
		}
		if it.Err != nil {
			j.Error = it.Err.Error()
		} else {
			j.Kind = it.Event.Kind()
			j.Event = it.Event
		}
		items = append(items, j)
	}
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal feed to JSON: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func outputFeed(result feed.Result) {
	for _, inv := range result.InvalidFollows {
		fmt.Println(ui.Warning.Sprint("⚠") + " No access to " + ui.Highlight.Sprint(inv.UserID) + ": " + inv.Err.Error())
	}
	if len(result.Items) == 0 {
		fmt.Println("No posts found.")
		return
	}

	now := time.Now()
	for _, it := range result.Items {
		header := fmt.Sprintf("%s  %s", utils.ShortID(it.Record.AuthorID), ui.Muted.Sprint(utils.Ago(it.Record.Timestamp, now)))
		if it.Err != nil {
			fmt.Println(ui.Error.Sprint("✗") + " " + header + "  " + formatItemError(it.Err))
			continue
		}

		switch ev := it.Event.(type) {
		case feed.Session:
			line := ui.Heading.Sprint(ev.Title)
			if ev.Duration > 0 {
				line += "  " + utils.FormatDuration(ev.Duration)
			}
			if v := ev.Volume(); v > 0 {
				line += fmt.Sprintf("  %.0f kg", v)
			}
			fmt.Println(header + "  " + line)
			for _, ex := range ev.Exercises {
				fmt.Printf("    %s  %s\n", ex.Name, formatSets(ex.Sets))
			}
			if ev.Notes != "" {
				fmt.Println("    " + ui.Muted.Sprint(ev.Notes))
			}
		case feed.Announcement:
			fmt.Println(header + "  " + ui.Info.Sprint("»") + " " + ev.Text)
		}
	}
}

func formatSets(sets []feed.Set) string {
	parts := make([]string, 0, len(sets))
	for _, s := range sets {
		if s.WeightKg == 0 {
			parts = append(parts, fmt.Sprintf("%d", s.Reps))
			continue
		}
		parts = append(parts, fmt.Sprintf("%dx%g", s.Reps, s.WeightKg))
	}
	return strings.Join(parts, ", ")
}

func formatItemError(err error) string {
	msg := formatError(err)
	// Drop the leading mark; the caller prints its own.
	if i := strings.Index(msg, " "); i >= 0 {
		msg = msg[i+1:]
	}
	return strings.ReplaceAll(msg, "\n", "\n    ")
}
