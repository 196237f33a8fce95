package workflows

import (
	"context"
	"sort"

	"github.com/liftlog/liftsocial/internal/store"
)

// IssueFollowSecret creates a follow token for the session user. An empty
// policy uses the configured default.
func IssueFollowSecret(ctx context.Context, s *Session, policy store.RedeemPolicy) (store.FollowSecret, error) {
	if policy == "" {
		policy = store.RedeemPolicy(s.Config.Follow.DefaultPolicy)
	}
	return s.Follows.Issue(s.Context(ctx), s.Principal.Identity, policy)
}

// RevokeFollowSecret revokes a token issued by the session user. Followers
// who redeemed it keep the personal key they hold but can no longer fetch
// the feed.
//
// Returns ErrNotSecretOwner if the token belongs to someone else.
// Returns ErrFollowSecretNotFound if the token does not exist.
func RevokeFollowSecret(ctx context.Context, s *Session, token string) error {
	return s.Follows.Revoke(s.Context(ctx), s.Principal.Identity, token)
}

// ListFollowSecrets lists the session user's tokens, newest first.
func ListFollowSecrets(ctx context.Context, s *Session) ([]store.FollowSecret, error) {
	secrets, err := s.Follows.Secrets(s.Context(ctx), s.Principal.Identity)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(secrets, func(i, j int) bool { return secrets[i].CreatedAt.After(secrets[j].CreatedAt) })
	return secrets, nil
}

// RequestFollow sends a follow request carrying token to ownerID. The
// owner's personal key arrives as a grant on a later inbox sync.
func RequestFollow(ctx context.Context, s *Session, ownerID, token string) error {
	return s.Follows.RequestFollow(s.Context(ctx), s.Principal.Identity, ownerID, token)
}

// Unfollow drops the personal key and token held for userID. It reports
// whether anything was held.
func Unfollow(s *Session, userID string) bool {
	if _, ok := s.Principal.Keyring.FollowToken(userID); !ok {
		return false
	}
	s.Principal.Keyring.ForgetUser(userID)
	return true
}
