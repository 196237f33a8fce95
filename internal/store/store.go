package store

import (
	"context"
	"time"
)

// Directory maps user ids to published RSA public keys (PKIX PEM).
type Directory interface {
	PutPublicKey(ctx context.Context, userID string, publicKeyPEM []byte) error
	// PublicKey returns ErrUserNotFound for unknown users.
	PublicKey(ctx context.Context, userID string) ([]byte, error)
}

// FollowStore persists follow secrets.
type FollowStore interface {
	CreateSecret(ctx context.Context, secret FollowSecret) error
	// Secret returns ErrFollowSecretNotFound for unknown tokens.
	Secret(ctx context.Context, token string) (FollowSecret, error)
	SecretsByOwner(ctx context.Context, ownerID string) ([]FollowSecret, error)
	// RevokeSecret moves a secret to Revoked. Revoking twice is a no-op.
	RevokeSecret(ctx context.Context, token string, at time.Time) error
	// ClaimRedemption atomically records a redemption. It fails with
	// ErrFollowSecretNotFound, ErrSecretRevoked, or ErrSecretExhausted when a
	// single-use secret was already redeemed.
	ClaimRedemption(ctx context.Context, token, redeemerID string) (FollowSecret, error)
}

// InboxStore is a per-recipient queue of envelopes.
type InboxStore interface {
	Append(ctx context.Context, env Envelope) error
	// Drain atomically returns and removes every envelope queued for the
	// recipient, oldest first. Expired envelopes are removed but not
	// returned. Concurrent drains never return the same envelope twice.
	Drain(ctx context.Context, recipientID string, now time.Time) ([]Envelope, error)
}

// ClubStore persists clubs and memberships.
type ClubStore interface {
	// CreateClub stores the club and its owner row together.
	CreateClub(ctx context.Context, club Club, owner Member) error
	// Club returns ErrClubNotFound for unknown clubs.
	Club(ctx context.Context, clubID string) (Club, error)
	UpdateClub(ctx context.Context, club Club) error
	DeleteClub(ctx context.Context, clubID string) error
	PublicClubs(ctx context.Context, limit, offset int) ([]Club, error)
	ClubsForUser(ctx context.Context, userID string) ([]Club, error)

	// AddMember inserts a member row. If the (club, user) row already
	// exists nothing changes and created is false.
	AddMember(ctx context.Context, member Member) (created bool, err error)
	// Member returns ErrMemberNotFound when no row exists.
	Member(ctx context.Context, clubID, userID string) (Member, error)
	// Members lists every row of a club, oldest first.
	Members(ctx context.Context, clubID string) ([]Member, error)
	PendingMembers(ctx context.Context, clubID string) ([]Member, error)
	UpdateMember(ctx context.Context, member Member) error
	RemoveMember(ctx context.Context, clubID, userID string) error
	// Rekey stores a new club key version together with each listed
	// member's wrapped key and key version. Other member fields are left
	// alone and rows that no longer exist are skipped.
	Rekey(ctx context.Context, club Club, members []Member) error
}

// FeedStore persists encrypted feed records.
type FeedStore interface {
	// PutEvent inserts or replaces the record with the same (feed, event)
	// id. Replacing another author's record fails with ErrUnauthorized.
	PutEvent(ctx context.Context, rec FeedRecord) error
	// ListEvents returns non-expired records newest first.
	ListEvents(ctx context.Context, feedID string, q FeedQuery) ([]FeedRecord, error)
	DeleteFeed(ctx context.Context, feedID string) error
}

// SharedStore persists publicly shared items.
type SharedStore interface {
	// PutSharedItem fails with ErrAlreadyExists when the id is taken.
	PutSharedItem(ctx context.Context, item SharedItem) error
	// SharedItem returns ErrSharedItemNotFound for unknown ids. Expired
	// items are returned as stored.
	SharedItem(ctx context.Context, id string) (SharedItem, error)
}

// Pruner removes expired data.
type Pruner interface {
	Prune(ctx context.Context, now time.Time) (PruneResult, error)
}

// Backend bundles every storage collaborator.
type Backend interface {
	Directory
	FollowStore
	InboxStore
	ClubStore
	FeedStore
	SharedStore
	Pruner
	Close() error
}
