package store

import (
	"time"

	"github.com/liftlog/liftsocial/internal/policy"
)

// SecretState is the lifecycle state of a follow secret. Revoked is terminal.
type SecretState string

const (
	SecretActive  SecretState = "active"
	SecretRevoked SecretState = "revoked"
)

// RedeemPolicy controls how many times a follow secret may be redeemed.
type RedeemPolicy string

const (
	// RedeemSingle allows exactly one successful redemption.
	RedeemSingle RedeemPolicy = "single"
	// RedeemMulti allows any number of redemptions while active.
	RedeemMulti RedeemPolicy = "multi"
)

// Valid reports whether p is a known policy.
func (p RedeemPolicy) Valid() bool {
	return p == RedeemSingle || p == RedeemMulti
}

// FollowSecret is the server-side record of a follow token.
type FollowSecret struct {
	Token     string       `msgpack:"token"`
	OwnerID   string       `msgpack:"owner_id"`
	State     SecretState  `msgpack:"state"`
	Policy    RedeemPolicy `msgpack:"policy"`
	Redeemers []string     `msgpack:"redeemers"`
	CreatedAt time.Time    `msgpack:"created_at"`
	RevokedAt time.Time    `msgpack:"revoked_at"`
}

// Active reports whether the secret can still authorise reads.
func (s FollowSecret) Active() bool {
	return s.State == SecretActive
}

// MessageKind tags an inbox envelope. The authoritative kind is inside the
// encrypted payload; this copy only lets recipients triage.
type MessageKind string

const (
	KindFollowRequest MessageKind = "follow_request"
	KindFollowGrant   MessageKind = "follow_grant"
	KindClubKeyShare  MessageKind = "club_key_share"
	KindClubInvite    MessageKind = "club_invite"
)

// Envelope is an encrypted inbox message. Blocks are independent RSA-OAEP
// ciphertexts addressed to the recipient.
type Envelope struct {
	ID          string      `msgpack:"id"`
	RecipientID string      `msgpack:"recipient_id"`
	Kind        MessageKind `msgpack:"kind"`
	Blocks      [][]byte    `msgpack:"blocks"`
	CreatedAt   time.Time   `msgpack:"created_at"`
	ExpiresAt   time.Time   `msgpack:"expires_at"`
}

// Size is the total ciphertext size of the envelope.
func (e Envelope) Size() int {
	n := 0
	for _, b := range e.Blocks {
		n += len(b)
	}
	return n
}

// Expired reports whether the envelope is past its expiry. A zero expiry
// never expires.
func (e Envelope) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// ClubSettings are owner-controlled club switches.
type ClubSettings struct {
	MembersCanPost   bool `msgpack:"members_can_post"`
	MembersCanInvite bool `msgpack:"members_can_invite"`
	// MaxMembers caps membership; 0 means unlimited.
	MaxMembers int `msgpack:"max_members"`
}

// Policy returns the settings relevant to access control.
func (s ClubSettings) Policy() policy.Settings {
	return policy.Settings{MembersCanPost: s.MembersCanPost, MembersCanInvite: s.MembersCanInvite}
}

// Club is the server-side club record. Name and description are encrypted
// under the club key; the key itself is never stored.
type Club struct {
	ID                   string       `msgpack:"id"`
	OwnerID              string       `msgpack:"owner_id"`
	EncryptedName        []byte       `msgpack:"encrypted_name"`
	NameIV               []byte       `msgpack:"name_iv"`
	EncryptedDescription []byte       `msgpack:"encrypted_description"`
	DescriptionIV        []byte       `msgpack:"description_iv"`
	IsPublic             bool         `msgpack:"is_public"`
	Settings             ClubSettings `msgpack:"settings"`
	KeyVersion           int          `msgpack:"key_version"`
	RekeyNeeded          bool         `msgpack:"rekey_needed"`
	CreatedAt            time.Time    `msgpack:"created_at"`

	// MemberCount is computed by the store on read.
	MemberCount int `msgpack:"-"`
}

// MemberState distinguishes members who hold the club key from public
// joiners still waiting for delivery.
type MemberState string

const (
	MemberPendingKey MemberState = "pending_key"
	MemberActive     MemberState = "active"
)

// Member is one row per (club, user).
type Member struct {
	ClubID     string      `msgpack:"club_id"`
	UserID     string      `msgpack:"user_id"`
	Role       policy.Role `msgpack:"role"`
	State      MemberState `msgpack:"state"`
	WrappedKey []byte      `msgpack:"wrapped_key"`
	KeyVersion int         `msgpack:"key_version"`
	JoinedAt   time.Time   `msgpack:"joined_at"`
}

// FeedScope says whose key encrypts a feed.
type FeedScope string

const (
	ScopeUser FeedScope = "user"
	ScopeClub FeedScope = "club"
)

// FeedRecord is the stored form of one encrypted feed event.
type FeedRecord struct {
	FeedID     string    `msgpack:"feed_id"`
	Scope      FeedScope `msgpack:"scope"`
	AuthorID   string    `msgpack:"author_id"`
	EventID    string    `msgpack:"event_id"`
	Ciphertext []byte    `msgpack:"ciphertext"`
	IV         []byte    `msgpack:"iv"`
	KeyVersion int       `msgpack:"key_version"`
	Timestamp  time.Time `msgpack:"timestamp"`
	ExpiresAt  time.Time `msgpack:"expires_at"`
}

// Expired reports whether the record is past its expiry. A zero expiry
// never expires.
func (r FeedRecord) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// FeedQuery selects records from one feed.
type FeedQuery struct {
	// Since excludes records at or before this instant when non-zero.
	Since time.Time
	// Limit caps the number of records; 0 means DefaultFeedLimit.
	Limit int
	// Now is the reference time for expiry.
	Now time.Time
}

const (
	DefaultFeedLimit = 50
	MaxFeedLimit     = 200
)

// EffectiveLimit clamps Limit into [1, MaxFeedLimit].
func (q FeedQuery) EffectiveLimit() int {
	switch {
	case q.Limit <= 0:
		return DefaultFeedLimit
	case q.Limit > MaxFeedLimit:
		return MaxFeedLimit
	default:
		return q.Limit
	}
}

// PruneResult counts records removed by Prune.
type PruneResult struct {
	Events      int
	Envelopes   int
	SharedItems int
}

// Total is the number of records removed.
func (r PruneResult) Total() int {
	return r.Events + r.Envelopes + r.SharedItems
}

// SharedItem is a signed event encrypted under a one-off key that is never
// stored; the key travels only in the share link.
type SharedItem struct {
	ID         string    `msgpack:"id"`
	UserID     string    `msgpack:"user_id"`
	Ciphertext []byte    `msgpack:"ciphertext"`
	IV         []byte    `msgpack:"iv"`
	Timestamp  time.Time `msgpack:"timestamp"`
	ExpiresAt  time.Time `msgpack:"expires_at"`
}

// Expired reports whether the item is past its expiry.
func (i SharedItem) Expired(now time.Time) bool {
	return !now.Before(i.ExpiresAt)
}
