// Package follow manages follow secrets: revocable tokens that let a
// follower obtain the owner's personal key and read their feed.
//
// The owner issues a token and hands it over out of band. The follower
// sends a FollowRequest carrying the token; the owner's client redeems it,
// which records the redemption and answers with a FollowGrant holding the
// personal key wrapped to the follower. Revoking a token is terminal and
// stops the server from serving the owner's feed to anyone presenting it.
package follow

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/liftlog/liftsocial/internal/audit"
	kerrors "github.com/liftlog/liftsocial/internal/errors"
	"github.com/liftlog/liftsocial/internal/identity"
	"github.com/liftlog/liftsocial/internal/inbox"
	"github.com/liftlog/liftsocial/internal/metrics"
	"github.com/liftlog/liftsocial/internal/secrets"
	"github.com/liftlog/liftsocial/internal/store"

	log "github.com/sirupsen/logrus"
)

const tokenBytes = 32

// DefaultPolicy is used when Issue is given an empty policy.
const DefaultPolicy = store.RedeemMulti

// Manager runs follow secret flows for both owners and followers.
type Manager struct {
	secrets   store.FollowStore
	messenger *inbox.Messenger
	audit     *audit.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

// NewManager returns a Manager. auditLog and m may be nil.
func NewManager(followStore store.FollowStore, messenger *inbox.Messenger, auditLog *audit.Logger, m *metrics.Metrics) *Manager {
	return &Manager{
		secrets:   followStore,
		messenger: messenger,
		audit:     auditLog,
		metrics:   m,
		now:       time.Now,
	}
}

// NewToken returns 32 random bytes, base64url encoded without padding.
func NewToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate follow token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Issue creates an Active follow secret owned by owner.
func (m *Manager) Issue(ctx context.Context, owner *identity.Identity, policy store.RedeemPolicy) (store.FollowSecret, error) {
	if policy == "" {
		policy = DefaultPolicy
	}
	if !policy.Valid() {
		return store.FollowSecret{}, fmt.Errorf("unknown redeem policy %q", policy)
	}
	token, err := NewToken()
	if err != nil {
		return store.FollowSecret{}, err
	}

	secret := store.FollowSecret{
		Token:     token,
		OwnerID:   owner.ID(),
		State:     store.SecretActive,
		Policy:    policy,
		CreatedAt: m.now(),
	}
	if err := m.secrets.CreateSecret(ctx, secret); err != nil {
		return store.FollowSecret{}, fmt.Errorf("failed to store follow secret: %w", err)
	}

	m.audit.Log(audit.Entry{UserID: owner.ID(), Operation: audit.OpFollowIssue, Reason: string(policy)})
	return secret, nil
}

// Secrets lists every follow secret issued by owner.
func (m *Manager) Secrets(ctx context.Context, owner *identity.Identity) ([]store.FollowSecret, error) {
	return m.secrets.SecretsByOwner(ctx, owner.ID())
}

// Revoke moves the secret to Revoked. Only the owner may revoke; revoking
// twice is a no-op.
func (m *Manager) Revoke(ctx context.Context, owner *identity.Identity, token string) error {
	secret, err := m.ownedSecret(ctx, owner, token)
	if err != nil {
		return err
	}
	if !secret.Active() {
		return nil
	}
	if err := m.secrets.RevokeSecret(ctx, token, m.now()); err != nil {
		return fmt.Errorf("failed to revoke follow secret: %w", err)
	}

	m.audit.Log(audit.Entry{UserID: owner.ID(), Operation: audit.OpFollowRevoke, Count: len(secret.Redeemers)})
	return nil
}

// Redeem records a redemption of token by redeemerID and sends the
// redeemer a FollowGrant with owner's personal key wrapped to them.
// Multi-redeemer tokens succeed for every redemption while Active, so a
// repeat by the same redeemer re-delivers the grant.
func (m *Manager) Redeem(ctx context.Context, owner *identity.Identity, token, redeemerID string) error {
	secret, err := m.ownedSecret(ctx, owner, token)
	if err == nil && !secret.Active() {
		err = kerrors.ErrSecretRevoked
	}
	if err != nil {
		m.metrics.Redemption(redemptionResult(err))
		return err
	}

	recipient, err := m.messenger.RecipientKey(ctx, redeemerID)
	if err != nil {
		return err
	}
	wrapped, err := owner.WrapPersonalKey(recipient)
	if err != nil {
		return fmt.Errorf("failed to wrap personal key: %w", err)
	}

	if _, err := m.secrets.ClaimRedemption(ctx, token, redeemerID); err != nil {
		m.metrics.Redemption(redemptionResult(err))
		return err
	}
	m.metrics.Redemption("ok")

	grant := inbox.FollowGrant{OwnerID: owner.ID(), Token: token, WrappedKey: wrapped}
	if _, err := m.messenger.Deliver(ctx, redeemerID, grant); err != nil {
		return fmt.Errorf("failed to deliver follow grant: %w", err)
	}

	log.WithContext(ctx).WithField("follower", redeemerID).Info("follow secret redeemed")
	m.audit.Log(audit.Entry{UserID: owner.ID(), Operation: audit.OpFollowRedeem, TargetUser: redeemerID})
	return nil
}

// HandleRequest redeems the token carried by a FollowRequest received by
// owner.
func (m *Manager) HandleRequest(ctx context.Context, owner *identity.Identity, req inbox.FollowRequest) error {
	return m.Redeem(ctx, owner, req.Token, req.FromUserID)
}

// RequestFollow asks ownerID to grant their personal key in exchange for
// token.
func (m *Manager) RequestFollow(ctx context.Context, follower *identity.Identity, ownerID, token string) error {
	if ownerID == follower.ID() {
		return fmt.Errorf("cannot follow yourself")
	}
	req := inbox.FollowRequest{FromUserID: follower.ID(), Token: token}
	if _, err := m.messenger.Deliver(ctx, ownerID, req); err != nil {
		return fmt.Errorf("failed to send follow request: %w", err)
	}
	return nil
}

// AcceptGrant unwraps the personal key in grant and stores it with the
// follow token. Accepting the same grant again only refreshes the entry.
func (m *Manager) AcceptGrant(follower *identity.Identity, kr *identity.Keyring, grant inbox.FollowGrant) error {
	key, err := follower.UnwrapKey(grant.WrappedKey)
	if err != nil {
		return err
	}
	defer secrets.Zero(key)

	if err := kr.PutUserKey(grant.OwnerID, grant.Token, key); err != nil {
		return err
	}
	m.audit.Log(audit.Entry{UserID: follower.ID(), Operation: audit.OpFollowAccept, TargetUser: grant.OwnerID})
	return nil
}

// Authorize reports whether token is an Active secret issued by ownerID.
// It is the server-side gate in front of a followed user's feed.
func (m *Manager) Authorize(ctx context.Context, ownerID, token string) error {
	secret, err := m.secrets.Secret(ctx, token)
	if err != nil {
		return err
	}
	if secret.OwnerID != ownerID {
		return kerrors.ErrFollowSecretNotFound
	}
	if !secret.Active() {
		return kerrors.ErrSecretRevoked
	}
	return nil
}

func (m *Manager) ownedSecret(ctx context.Context, owner *identity.Identity, token string) (store.FollowSecret, error) {
	secret, err := m.secrets.Secret(ctx, token)
	if err != nil {
		return store.FollowSecret{}, err
	}
	if secret.OwnerID != owner.ID() {
		return store.FollowSecret{}, kerrors.ErrNotSecretOwner
	}
	return secret, nil
}

func redemptionResult(err error) string {
	switch {
	case errors.Is(err, kerrors.ErrSecretRevoked):
		return "revoked"
	case errors.Is(err, kerrors.ErrSecretExhausted):
		return "exhausted"
	case errors.Is(err, kerrors.ErrFollowSecretNotFound):
		return "not_found"
	default:
		return "error"
	}
}
