package club

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/liftlog/liftsocial/internal/audit"
	kerrors "github.com/liftlog/liftsocial/internal/errors"
	"github.com/liftlog/liftsocial/internal/identity"
	"github.com/liftlog/liftsocial/internal/inbox"
	"github.com/liftlog/liftsocial/internal/metrics"
	"github.com/liftlog/liftsocial/internal/policy"
	"github.com/liftlog/liftsocial/internal/secrets"
	"github.com/liftlog/liftsocial/internal/store"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultSearchLimit = 20
	MaxSearchLimit     = 100
)

// Options tune club key handling.
type Options struct {
	// RotateOnRemoval rotates the club key whenever an active member is
	// removed, so the removed member's cached key cannot read new events.
	RotateOnRemoval bool
}

// DefaultOptions enable rotation on removal.
var DefaultOptions = Options{RotateOnRemoval: true}

// Distributor runs club flows: key generation, per-member wrapping,
// membership changes and rotation. Every mutating call re-reads the
// actor's membership from the store before the access check.
type Distributor struct {
	clubs     store.ClubStore
	feeds     store.FeedStore
	messenger *inbox.Messenger
	opts      Options
	audit     *audit.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

// NewDistributor returns a Distributor. auditLog and m may be nil.
func NewDistributor(clubs store.ClubStore, feeds store.FeedStore, messenger *inbox.Messenger, opts Options, auditLog *audit.Logger, m *metrics.Metrics) *Distributor {
	return &Distributor{
		clubs:     clubs,
		feeds:     feeds,
		messenger: messenger,
		opts:      opts,
		audit:     auditLog,
		metrics:   m,
		now:       time.Now,
	}
}

// CreateOptions describe a new club.
type CreateOptions struct {
	Name        string
	Description string
	IsPublic    bool
	Settings    store.ClubSettings
}

// Metadata is the decrypted name and description of a club.
type Metadata struct {
	Name        string
	Description string
}

// CreateClub generates a club key, encrypts the metadata under it, wraps it
// to the owner and stores the club with its owner row at key version 1.
func (d *Distributor) CreateClub(ctx context.Context, owner identity.Principal, opts CreateOptions) (store.Club, error) {
	if strings.TrimSpace(opts.Name) == "" {
		return store.Club{}, fmt.Errorf("club name is required")
	}
	if opts.Settings.MaxMembers < 0 {
		return store.Club{}, fmt.Errorf("max members cannot be negative")
	}

	key, err := secrets.GenerateAESKey()
	if err != nil {
		return store.Club{}, err
	}
	defer secrets.Zero(key)

	now := d.now()
	club := store.Club{
		ID:         uuid.NewString(),
		OwnerID:    owner.ID(),
		IsPublic:   opts.IsPublic,
		Settings:   opts.Settings,
		KeyVersion: 1,
		CreatedAt:  now,
	}
	if err := sealMetadata(&club, Metadata{Name: opts.Name, Description: opts.Description}, key); err != nil {
		return store.Club{}, err
	}

	wrapped, err := identity.WrapKey(key, owner.PublicKey())
	if err != nil {
		return store.Club{}, fmt.Errorf("failed to wrap club key: %w", err)
	}
	ownerRow := store.Member{
		ClubID:     club.ID,
		UserID:     owner.ID(),
		Role:       policy.RoleOwner,
		State:      store.MemberActive,
		WrappedKey: wrapped,
		KeyVersion: club.KeyVersion,
		JoinedAt:   now,
	}
	if err := d.clubs.CreateClub(ctx, club, ownerRow); err != nil {
		return store.Club{}, fmt.Errorf("failed to store club: %w", err)
	}
	if err := owner.Keyring.PutClubKey(club.ID, club.KeyVersion, key); err != nil {
		return store.Club{}, err
	}

	club.MemberCount = 1
	log.WithContext(ctx).WithField("club", club.ID).Info("club created")
	d.audit.Log(audit.Entry{UserID: owner.ID(), Operation: audit.OpClubCreate, ClubID: club.ID, KeyVersion: club.KeyVersion})
	return club, nil
}

// Club returns the stored club record.
func (d *Distributor) Club(ctx context.Context, clubID string) (store.Club, error) {
	return d.clubs.Club(ctx, clubID)
}

// Members lists the rows of a club. Listing requires membership.
func (d *Distributor) Members(ctx context.Context, actor identity.Principal, clubID string) ([]store.Member, error) {
	if _, _, err := d.authorize(ctx, actor.ID(), clubID, policy.Request{Operation: policy.ListMembers}); err != nil {
		return nil, err
	}
	return d.clubs.Members(ctx, clubID)
}

// SearchPublic pages through public clubs, newest first.
func (d *Distributor) SearchPublic(ctx context.Context, limit, offset int) ([]store.Club, error) {
	switch {
	case limit <= 0:
		limit = DefaultSearchLimit
	case limit > MaxSearchLimit:
		limit = MaxSearchLimit
	}
	if offset < 0 {
		offset = 0
	}
	return d.clubs.PublicClubs(ctx, limit, offset)
}

// MyClubs lists every club userID has a row in, including pending joins.
func (d *Distributor) MyClubs(ctx context.Context, userID string) ([]store.Club, error) {
	return d.clubs.ClubsForUser(ctx, userID)
}

// DecryptMetadata opens the club name and description with the club key.
func (d *Distributor) DecryptMetadata(ctx context.Context, p identity.Principal, club store.Club) (Metadata, error) {
	var md Metadata
	err := d.WithClubKey(ctx, p, club.ID, club.KeyVersion, func(key []byte) error {
		var err error
		md, err = openMetadata(club, key)
		return err
	})
	return md, err
}

// UpdateSettings replaces the club switches. Owner only.
func (d *Distributor) UpdateSettings(ctx context.Context, actor identity.Principal, clubID string, settings store.ClubSettings) error {
	if settings.MaxMembers < 0 {
		return fmt.Errorf("max members cannot be negative")
	}
	club, _, err := d.authorize(ctx, actor.ID(), clubID, policy.Request{Operation: policy.UpdateSettings})
	if err != nil {
		return err
	}
	club.Settings = settings
	if err := d.clubs.UpdateClub(ctx, club); err != nil {
		return fmt.Errorf("failed to update club settings: %w", err)
	}
	d.audit.Log(audit.Entry{UserID: actor.ID(), Operation: audit.OpClubSettings, ClubID: clubID})
	return nil
}

// UpdateMetadata re-encrypts the club name and description under the
// current key. Owner only.
func (d *Distributor) UpdateMetadata(ctx context.Context, actor identity.Principal, clubID string, md Metadata) error {
	if strings.TrimSpace(md.Name) == "" {
		return fmt.Errorf("club name is required")
	}
	club, _, err := d.authorize(ctx, actor.ID(), clubID, policy.Request{Operation: policy.UpdateMetadata})
	if err != nil {
		return err
	}
	err = d.WithClubKey(ctx, actor, clubID, club.KeyVersion, func(key []byte) error {
		return sealMetadata(&club, md, key)
	})
	if err != nil {
		return err
	}
	if err := d.clubs.UpdateClub(ctx, club); err != nil {
		return fmt.Errorf("failed to update club metadata: %w", err)
	}
	d.audit.Log(audit.Entry{UserID: actor.ID(), Operation: audit.OpClubSettings, ClubID: clubID, Reason: "metadata"})
	return nil
}

// DeleteClub removes the club, its members and its feed. Owner only.
func (d *Distributor) DeleteClub(ctx context.Context, actor identity.Principal, clubID string) error {
	if _, _, err := d.authorize(ctx, actor.ID(), clubID, policy.Request{Operation: policy.DeleteClub}); err != nil {
		return err
	}
	if err := d.clubs.DeleteClub(ctx, clubID); err != nil {
		return fmt.Errorf("failed to delete club: %w", err)
	}
	if err := d.feeds.DeleteFeed(ctx, clubID); err != nil {
		log.WithContext(ctx).WithField("club", clubID).Warnf("failed to delete club feed: %v", err)
	}
	actor.Keyring.ForgetClub(clubID)
	d.audit.Log(audit.Entry{UserID: actor.ID(), Operation: audit.OpClubDelete, ClubID: clubID})
	return nil
}

// OpenClubKey unwraps the caller's own copy of the current club key and
// caches it. A member still waiting for delivery gets ErrKeyNotDelivered.
func (d *Distributor) OpenClubKey(ctx context.Context, member identity.Principal, clubID string) (int, error) {
	row, err := d.clubs.Member(ctx, clubID, member.ID())
	if err != nil {
		return 0, err
	}
	if row.State == store.MemberPendingKey || len(row.WrappedKey) == 0 {
		return 0, kerrors.ErrKeyNotDelivered
	}
	key, err := member.UnwrapKey(row.WrappedKey)
	if err != nil {
		return 0, err
	}
	defer secrets.Zero(key)

	if err := member.Keyring.PutClubKey(clubID, row.KeyVersion, key); err != nil {
		return 0, err
	}
	return row.KeyVersion, nil
}

// ApplyKeyShare caches a club key received through the inbox. Applying the
// same share twice is a no-op.
func (d *Distributor) ApplyKeyShare(ctx context.Context, member identity.Principal, share inbox.ClubKeyShare) error {
	if member.Keyring.HasClubKey(share.ClubID, share.KeyVersion) {
		return nil
	}
	key, err := member.UnwrapKey(share.WrappedKey)
	if err != nil {
		return err
	}
	defer secrets.Zero(key)

	log.WithContext(ctx).WithFields(log.Fields{"club": share.ClubID, "version": share.KeyVersion}).Debug("club key share applied")
	return member.Keyring.PutClubKey(share.ClubID, share.KeyVersion, key)
}

// WithClubKey opens one version of a club key for the duration of fn,
// unwrapping the caller's stored copy when the keyring does not hold it.
func (d *Distributor) WithClubKey(ctx context.Context, p identity.Principal, clubID string, version int, fn func(key []byte) error) error {
	if !p.Keyring.HasClubKey(clubID, version) {
		got, err := d.OpenClubKey(ctx, p, clubID)
		if err != nil {
			if errors.Is(err, kerrors.ErrMemberNotFound) {
				return fmt.Errorf("club %s: %w", clubID, kerrors.ErrKeyNotFound)
			}
			return err
		}
		if got != version {
			return fmt.Errorf("club %s key v%d: %w", clubID, version, kerrors.ErrKeyNotFound)
		}
	}
	return p.Keyring.ClubKey(clubID, version, fn)
}

// Authorize checks op for actorID against their current membership row and
// returns the club.
func (d *Distributor) Authorize(ctx context.Context, actorID, clubID string, op policy.Operation) (store.Club, error) {
	club, _, err := d.authorize(ctx, actorID, clubID, policy.Request{Operation: op})
	return club, err
}

// authorize loads the club and the actor's row and checks req. A missing
// row is treated as RoleNone.
func (d *Distributor) authorize(ctx context.Context, actorID, clubID string, req policy.Request) (store.Club, store.Member, error) {
	club, err := d.clubs.Club(ctx, clubID)
	if err != nil {
		return store.Club{}, store.Member{}, err
	}
	row, err := d.clubs.Member(ctx, clubID, actorID)
	switch {
	case errors.Is(err, kerrors.ErrMemberNotFound):
		row = store.Member{ClubID: clubID, UserID: actorID, Role: policy.RoleNone}
	case err != nil:
		return store.Club{}, store.Member{}, err
	}

	req.ActorRole = row.Role
	req.Settings = club.Settings.Policy()
	if err := policy.Check(req); err != nil {
		return store.Club{}, store.Member{}, err
	}
	return club, row, nil
}

func (d *Distributor) full(club store.Club) bool {
	return club.Settings.MaxMembers > 0 && club.MemberCount >= club.Settings.MaxMembers
}

func sealMetadata(club *store.Club, md Metadata, key []byte) error {
	name, nameIV, err := secrets.EncryptAESCBC([]byte(md.Name), key)
	if err != nil {
		return fmt.Errorf("failed to encrypt club name: %w", err)
	}
	club.EncryptedName, club.NameIV = name, nameIV

	club.EncryptedDescription, club.DescriptionIV = nil, nil
	if md.Description != "" {
		desc, descIV, err := secrets.EncryptAESCBC([]byte(md.Description), key)
		if err != nil {
			return fmt.Errorf("failed to encrypt club description: %w", err)
		}
		club.EncryptedDescription, club.DescriptionIV = desc, descIV
	}
	return nil
}

func openMetadata(club store.Club, key []byte) (Metadata, error) {
	name, err := secrets.DecryptAESCBC(club.EncryptedName, club.NameIV, key)
	if err != nil {
		return Metadata{}, err
	}
	md := Metadata{Name: string(name)}
	if len(club.EncryptedDescription) > 0 {
		desc, err := secrets.DecryptAESCBC(club.EncryptedDescription, club.DescriptionIV, key)
		if err != nil {
			return Metadata{}, err
		}
		md.Description = string(desc)
	}
	return md, nil
}
