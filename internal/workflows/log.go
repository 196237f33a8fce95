package workflows

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/liftlog/liftsocial/internal/audit"
	"github.com/liftlog/liftsocial/internal/configs"
	kerrors "github.com/liftlog/liftsocial/internal/errors"
	"github.com/liftlog/liftsocial/internal/utils"
)

const auditTimestampLayout = "2006-01-02T15:04:05.000000Z"

// LogOptions configures the log workflow.
type LogOptions struct {
	// Limit is the maximum number of entries to return. 0 means no limit.
	Limit int

	// Reverse orders entries from most recent to oldest when true.
	Reverse bool

	// User filters entries by acting user id.
	User string

	// Club filters entries by club id.
	Club string

	// Operations filters entries by operation types (comma-separated).
	Operations string

	// Since filters entries after this date (YYYY-MM-DD format).
	Since string

	// Until filters entries before this date (YYYY-MM-DD format).
	Until string
}

// LogResult contains the outcome of a log operation.
type LogResult struct {
	// Entries are the filtered audit log entries.
	Entries []audit.Entry

	// TotalEntriesBeforeFilter is the count of entries before filtering.
	TotalEntriesBeforeFilter int
}

// Log reads and filters the audit log. It needs no unlocked identity.
//
// Returns ErrAuditDisabled if no audit log path is configured.
// Returns ErrInvalidDateFormat if the date format is invalid.
func Log(ctx context.Context, cfg *configs.Config, opts LogOptions) (*LogResult, error) {
	if cfg.Audit.Path == "" {
		return nil, kerrors.ErrAuditDisabled
	}

	entries, err := audit.New(cfg.Audit.Path).ReadEntries()
	if err != nil {
		return nil, fmt.Errorf("reading audit log: %w", err)
	}

	result := &LogResult{
		TotalEntriesBeforeFilter: len(entries),
	}

	if len(entries) == 0 {
		result.Entries = entries
		return result, nil
	}

	filtered := entries

	if opts.User != "" {
		filtered = filterEntries(filtered, func(e audit.Entry) bool { return e.UserID == opts.User || e.TargetUser == opts.User })
	}

	if opts.Club != "" {
		filtered = filterEntries(filtered, func(e audit.Entry) bool { return e.ClubID == opts.Club })
	}

	if opts.Operations != "" {
		filtered = filterByOperations(filtered, strings.Split(opts.Operations, ","))
	}

	if opts.Since != "" {
		sinceTime, err := time.Parse("2006-01-02", opts.Since)
		if err != nil {
			return nil, fmt.Errorf("%w: --since date format invalid, use YYYY-MM-DD", kerrors.ErrInvalidDateFormat)
		}
		filtered = filterEntries(filtered, func(e audit.Entry) bool {
			t, ok := entryTime(e)
			return ok && !t.Before(sinceTime)
		})
	}

	if opts.Until != "" {
		untilTime, err := time.Parse("2006-01-02", opts.Until)
		if err != nil {
			return nil, fmt.Errorf("%w: --until date format invalid, use YYYY-MM-DD", kerrors.ErrInvalidDateFormat)
		}
		// Include the entire day.
		untilTime = untilTime.Add(24*time.Hour - time.Nanosecond)
		filtered = filterEntries(filtered, func(e audit.Entry) bool {
			t, ok := entryTime(e)
			return ok && !t.After(untilTime)
		})
	}

	if opts.Reverse {
		for i, j := 0, len(filtered)-1; i < j; i, j = i+1, j-1 {
			filtered[i], filtered[j] = filtered[j], filtered[i]
		}
	}

	if opts.Limit > 0 && len(filtered) > opts.Limit {
		if opts.Reverse {
			// When reversed, limit takes first N (most recent).
			filtered = filtered[:opts.Limit]
		} else {
			filtered = filtered[len(filtered)-opts.Limit:]
		}
	}

	result.Entries = filtered
	return result, nil
}

func filterEntries(entries []audit.Entry, keep func(audit.Entry) bool) []audit.Entry {
	var result []audit.Entry
	for _, e := range entries {
		if keep(e) {
			result = append(result, e)
		}
	}
	return result
}

// filterByOperations filters entries by operation types.
func filterByOperations(entries []audit.Entry, ops []string) []audit.Entry {
	opSet := make(map[string]bool)
	for _, op := range ops {
		opSet[strings.ToLower(strings.TrimSpace(op))] = true
	}
	return filterEntries(entries, func(e audit.Entry) bool { return opSet[strings.ToLower(e.Operation)] })
}

func entryTime(e audit.Entry) (time.Time, bool) {
	t, err := time.Parse(auditTimestampLayout, e.Timestamp)
	if err != nil {
		t, err = time.Parse(time.RFC3339, e.Timestamp)
	}
	return t, err == nil
}

// FormatDateTime formats a timestamp string to YYYY-MM-DD HH:MM:SS format.
func FormatDateTime(ts string) string {
	t, ok := entryTime(audit.Entry{Timestamp: ts})
	if !ok {
		if len(ts) >= 19 {
			return ts[:19]
		}
		return ts
	}
	return t.Format("2006-01-02 15:04:05")
}

// FormatDetails formats the details for a log entry.
func FormatDetails(e audit.Entry) string {
	switch e.Operation {
	case audit.OpIdentityCreate:
		return e.Reason
	case audit.OpFollowIssue:
		return e.Reason + " redeem"
	case audit.OpFollowRevoke:
		return fmt.Sprintf("%d followers", e.Count)
	case audit.OpFollowRedeem, audit.OpFollowAccept:
		return e.TargetUser
	case audit.OpClubCreate, audit.OpClubRotate:
		return fmt.Sprintf("club %s v%d", utils.ShortID(e.ClubID), e.KeyVersion)
	case audit.OpClubInvite, audit.OpClubRole:
		return fmt.Sprintf("club %s %s as %s", utils.ShortID(e.ClubID), e.TargetUser, e.Role)
	case audit.OpClubRemove:
		return fmt.Sprintf("club %s %s", utils.ShortID(e.ClubID), e.TargetUser)
	case audit.OpClubDeliver:
		return fmt.Sprintf("club %s %d keys v%d", utils.ShortID(e.ClubID), e.Count, e.KeyVersion)
	case audit.OpClubAccept, audit.OpClubJoin, audit.OpClubLeave, audit.OpClubSettings, audit.OpClubDelete:
		return "club " + utils.ShortID(e.ClubID)
	case audit.OpFeedShare:
		return fmt.Sprintf("shared %s until %s", utils.ShortID(e.EventID), e.Reason)
	case audit.OpSignatureInvalid:
		return fmt.Sprintf("feed %s event %s author %s", utils.ShortID(e.FeedID), utils.ShortID(e.EventID), utils.ShortID(e.AuthorID))
	case audit.OpPrune:
		return fmt.Sprintf("removed %d", e.Count)
	default:
		return e.Reason
	}
}
