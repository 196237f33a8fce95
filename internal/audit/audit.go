package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Operation names recorded in the audit log.
const (
	OpIdentityCreate   = "identity_create"
	OpFollowIssue      = "follow_issue"
	OpFollowRevoke     = "follow_revoke"
	OpFollowRedeem     = "follow_redeem"
	OpFollowAccept     = "follow_accept"
	OpClubCreate       = "club_create"
	OpClubInvite       = "club_invite"
	OpClubAccept       = "club_accept"
	OpClubJoin         = "club_join"
	OpClubDeliver      = "club_deliver_keys"
	OpClubLeave        = "club_leave"
	OpClubRemove       = "club_remove"
	OpClubRole         = "club_role"
	OpClubRotate       = "club_rotate"
	OpClubSettings     = "club_settings"
	OpClubDelete       = "club_delete"
	OpFeedShare        = "feed_share"
	OpSignatureInvalid = "signature_invalid"
	OpPrune            = "prune"
)

// Entry represents a single audit log entry.
type Entry struct {
	Timestamp string `json:"ts"`   // RFC3339 with microseconds.
	UserID    string `json:"user"` // Acting user.
	Operation string `json:"op"`   // Operation name.

	// Optional fields depending on operation.
	ClubID     string `json:"club,omitempty"`        // For club operations.
	TargetUser string `json:"target_user,omitempty"` // For invite/remove/role/redeem.
	Role       string `json:"role,omitempty"`        // For invite/role.
	KeyVersion int    `json:"key_version,omitempty"` // For create/rotate/deliver.
	Count      int    `json:"count,omitempty"`       // For deliver/prune.
	FeedID     string `json:"feed,omitempty"`        // For security events.
	EventID    string `json:"event,omitempty"`       // For security events.
	AuthorID   string `json:"author,omitempty"`      // For security events.
	Reason     string `json:"reason,omitempty"`      // Free-form detail.
}

// Logger appends entries to a JSON Lines file. A nil *Logger discards
// every entry.
type Logger struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// New returns a Logger writing to path. An empty path returns nil.
func New(path string) *Logger {
	if path == "" {
		return nil
	}
	return &Logger{path: path, now: time.Now}
}

// Path returns the log file path, or "" for a nil Logger.
func (l *Logger) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Log appends an entry to the audit log.
// If logging fails the entry is dropped; operations never fail because
// audit logging failed.
func (l *Logger) Log(entry Entry) {
	if l == nil {
		return
	}
	if entry.Timestamp == "" {
		entry.Timestamp = l.now().UTC().Format("2006-01-02T15:04:05.000000Z")
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0700); err != nil {
		return
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return
	}
	defer f.Close()

	_, _ = f.Write(append(data, '\n'))
}

// ReadEntries reads all entries from the audit log.
// Returns an empty slice if the log doesn't exist.
func (l *Logger) ReadEntries() ([]Entry, error) {
	if l == nil {
		return nil, nil
	}

	data, err := os.ReadFile(l.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return ParseEntries(data)
}

// ParseEntries parses JSON Lines data into audit entries.
// Malformed lines are silently skipped.
func ParseEntries(data []byte) ([]Entry, error) {
	if len(data) == 0 {
		return nil, nil
	}

	var entries []Entry
	start := 0

	for i := 0; i <= len(data); i++ {
		if i == len(data) || data[i] == '\n' {
			line := data[start:i]
			start = i + 1

			if len(line) == 0 {
				continue
			}

			var entry Entry
			if err := json.Unmarshal(line, &entry); err != nil {
				// Skip malformed entries.
				continue
			}
			entries = append(entries, entry)
		}
	}

	return entries, nil
}
