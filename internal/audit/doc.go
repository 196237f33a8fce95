// Package audit appends a JSON Lines record of who did what to the shared
// liftsocial state: identity creation, follow secret activity, club
// membership and key changes, pruning, and feed items that failed signature
// verification.
//
// Records carry ids, roles and key versions only. Key material and event
// content never reach the log.
//
//	auditLog := audit.New(path)
//	auditLog.Log(audit.Entry{UserID: id, Operation: audit.OpClubRotate, ClubID: clubID})
//
// Writes are best-effort and a nil *Logger discards entries. ReadEntries
// skips lines it cannot parse, which covers a write torn by a crash.
package audit
