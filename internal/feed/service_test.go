package feed

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/liftlog/liftsocial/internal/audit"
	"github.com/liftlog/liftsocial/internal/club"
	kerrors "github.com/liftlog/liftsocial/internal/errors"
	"github.com/liftlog/liftsocial/internal/follow"
	"github.com/liftlog/liftsocial/internal/identity"
	"github.com/liftlog/liftsocial/internal/inbox"
	"github.com/liftlog/liftsocial/internal/metrics"
	"github.com/liftlog/liftsocial/internal/policy"
	"github.com/liftlog/liftsocial/internal/store"
	"github.com/liftlog/liftsocial/internal/store/memory"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store     *memory.Store
	messenger *inbox.Messenger
	clubs     *club.Distributor
	follows   *follow.Manager
	feed      *Service
	audit     *audit.Logger
	registry  *prometheus.Registry

	owner, bob, carol, mallory identity.Principal
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	ids := testIdentities(t)
	s := memory.New()
	for _, id := range ids {
		pemData, err := id.PublicKeyPEM()
		require.NoError(t, err)
		require.NoError(t, s.PutPublicKey(ctx, id.ID(), pemData))
	}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	auditLog := audit.New(filepath.Join(t.TempDir(), "audit.jsonl"))
	messenger := inbox.New(s, s, inbox.Options{}, m)
	clubs := club.NewDistributor(s, s, messenger, club.DefaultOptions, auditLog, m)
	follows := follow.NewManager(s, messenger, auditLog, m)
	return &fixture{
		store:     s,
		messenger: messenger,
		clubs:     clubs,
		follows:   follows,
		feed:      NewService(s, clubs, follows, messenger, Options{Workers: 2}, auditLog, m),
		audit:     auditLog,
		registry:  reg,
		owner:     identity.NewPrincipal(ids[0], nil),
		bob:       identity.NewPrincipal(ids[1], nil),
		carol:     identity.NewPrincipal(ids[2], nil),
		mallory:   identity.NewPrincipal(ids[3], nil),
	}
}

func (f *fixture) newClub(t *testing.T, settings store.ClubSettings) store.Club {
	t.Helper()
	c, err := f.clubs.CreateClub(context.Background(), f.owner, club.CreateOptions{Name: "Iron Owls", IsPublic: true, Settings: settings})
	require.NoError(t, err)
	return c
}

func (f *fixture) addMember(t *testing.T, clubID string, p identity.Principal, role policy.Role) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.clubs.Invite(ctx, f.owner, clubID, p.ID(), "", role))
	received, err := f.messenger.Receive(ctx, p.ID(), p)
	require.NoError(t, err)
	require.Len(t, received, 1)
	_, err = f.clubs.AcceptInvite(ctx, p, club.PendingInviteFrom(received[0].Message.(inbox.ClubInvite)))
	require.NoError(t, err)
}

// follow makes follower follow the owner through the inbox flow.
func (f *fixture) follow(t *testing.T, follower identity.Principal) string {
	t.Helper()
	ctx := context.Background()
	secret, err := f.follows.Issue(ctx, f.owner.Identity, "")
	require.NoError(t, err)
	require.NoError(t, f.follows.Redeem(ctx, f.owner.Identity, secret.Token, follower.ID()))
	received, err := f.messenger.Receive(ctx, follower.ID(), follower)
	require.NoError(t, err)
	require.Len(t, received, 1)
	require.NoError(t, f.follows.AcceptGrant(follower.Identity, follower.Keyring, received[0].Message.(inbox.FollowGrant)))
	return secret.Token
}

func TestClubPostPermissions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := f.newClub(t, store.ClubSettings{MembersCanPost: false})
	f.addMember(t, c.ID, f.bob, policy.RoleMember)
	f.addMember(t, c.ID, f.carol, policy.RoleMember)

	ev := testSession()
	_, err := f.feed.PublishClubEvent(ctx, f.bob, c.ID, ev, PublishOptions{})
	assert.ErrorIs(t, err, kerrors.ErrUnauthorized)

	require.NoError(t, f.clubs.ChangeRole(ctx, f.owner, c.ID, f.bob.ID(), policy.RoleAdmin))
	rec, err := f.feed.PublishClubEvent(ctx, f.bob, c.ID, ev, PublishOptions{})
	require.NoError(t, err)
	assert.Equal(t, store.ScopeClub, rec.Scope)
	assert.Equal(t, 1, rec.KeyVersion)

	res, err := f.feed.ReadClubFeed(ctx, f.carol, c.ID, time.Time{}, 0)
	require.NoError(t, err)
	require.NoError(t, res.Err())
	require.Len(t, res.Items, 1)
	got := res.Items[0].Event.(Session)
	assert.Equal(t, ev.Title, got.Title)
	assert.Equal(t, f.bob.ID(), res.Items[0].Record.AuthorID)

	_, err = f.feed.ReadClubFeed(ctx, f.mallory, c.ID, time.Time{}, 0)
	assert.ErrorIs(t, err, kerrors.ErrUnauthorized)
}

func TestClubEventIDBelongsToItsAuthor(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := f.newClub(t, store.ClubSettings{MembersCanPost: true})
	f.addMember(t, c.ID, f.bob, policy.RoleMember)
	f.addMember(t, c.ID, f.carol, policy.RoleMember)

	orig, err := f.feed.PublishClubEvent(ctx, f.bob, c.ID, Announcement{Text: "bob's PR"}, PublishOptions{})
	require.NoError(t, err)

	_, err = f.feed.PublishClubEvent(ctx, f.carol, c.ID, Announcement{Text: "carol was here"}, PublishOptions{EventID: orig.EventID})
	assert.ErrorIs(t, err, kerrors.ErrUnauthorized)

	_, err = f.feed.PublishClubEvent(ctx, f.bob, c.ID, Announcement{Text: "bob's PR, edited"}, PublishOptions{EventID: orig.EventID})
	require.NoError(t, err)

	res, err := f.feed.ReadClubFeed(ctx, f.owner, c.ID, time.Time{}, 0)
	require.NoError(t, err)
	require.NoError(t, res.Err())
	require.Len(t, res.Items, 1)
	assert.Equal(t, f.bob.ID(), res.Items[0].Record.AuthorID)
	assert.Equal(t, Announcement{Text: "bob's PR, edited"}, res.Items[0].Event)
}

func TestPendingJoinerCannotReadUntilDelivery(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := f.newClub(t, store.ClubSettings{})
	_, err := f.feed.PublishClubEvent(ctx, f.owner, c.ID, Announcement{Text: "Welcome"}, PublishOptions{})
	require.NoError(t, err)

	_, err = f.clubs.JoinPublic(ctx, f.carol, c.ID)
	require.NoError(t, err)

	res, err := f.feed.ReadClubFeed(ctx, f.carol, c.ID, time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.ErrorIs(t, res.Items[0].Err, kerrors.ErrDecryptionFailure)
	assert.ErrorIs(t, res.Err(), kerrors.ErrKeyNotDelivered)

	_, err = f.clubs.DeliverPendingKeys(ctx, f.owner, c.ID)
	require.NoError(t, err)

	res, err = f.feed.ReadClubFeed(ctx, f.carol, c.ID, time.Time{}, 0)
	require.NoError(t, err)
	require.NoError(t, res.Err())
	assert.Equal(t, Announcement{Text: "Welcome"}, res.Items[0].Event)
}

func TestRemovedMemberCannotReadNewEvents(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := f.newClub(t, store.ClubSettings{})
	f.addMember(t, c.ID, f.bob, policy.RoleMember)

	_, err := f.feed.ReadClubFeed(ctx, f.bob, c.ID, time.Time{}, 0)
	require.NoError(t, err)
	var oldKey []byte
	require.NoError(t, f.bob.Keyring.ClubKey(c.ID, 1, func(key []byte) error {
		oldKey = append([]byte(nil), key...)
		return nil
	}))

	require.NoError(t, f.clubs.RemoveMember(ctx, f.owner, c.ID, f.bob.ID()))
	rec, err := f.feed.PublishClubEvent(ctx, f.owner, c.ID, Announcement{Text: "after removal"}, PublishOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, rec.KeyVersion)

	_, err = f.feed.codec.Decode(rec.Ciphertext, rec.IV, oldKey, f.owner.PublicKey(), rec.ExpiresAt, time.Now())
	assert.True(t, isAny(err, kerrors.ErrDecryptionFailure, kerrors.ErrSignatureInvalid), "unexpected error %v", err)

	_, err = f.feed.ReadClubFeed(ctx, f.bob, c.ID, time.Time{}, 0)
	assert.ErrorIs(t, err, kerrors.ErrUnauthorized)
}

func TestClubFeedPaging(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := f.newClub(t, store.ClubSettings{})

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		f.feed.now = func() time.Time { return at }
		_, err := f.feed.PublishClubEvent(ctx, f.owner, c.ID, Announcement{Text: at.Format(time.RFC3339)}, PublishOptions{})
		require.NoError(t, err)
	}
	f.feed.now = time.Now

	res, err := f.feed.ReadClubFeed(ctx, f.owner, c.ID, base.Add(2*time.Minute), 0)
	require.NoError(t, err)
	require.Len(t, res.Items, 2)
	assert.True(t, res.Items[0].Record.Timestamp.After(res.Items[1].Record.Timestamp))

	res, err = f.feed.ReadClubFeed(ctx, f.owner, c.ID, time.Time{}, 3)
	require.NoError(t, err)
	assert.Len(t, res.Items, 3)
}

func TestFollowedFeeds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	token := f.follow(t, f.bob)

	_, err := f.feed.PublishUserEvent(ctx, f.owner.Identity, testSession(), PublishOptions{EventID: "e1"})
	require.NoError(t, err)
	_, err = f.feed.PublishUserEvent(ctx, f.owner.Identity, Announcement{Text: "deload week"}, PublishOptions{EventID: "e2"})
	require.NoError(t, err)

	res, err := f.feed.ReadFollowedFeeds(ctx, f.bob, nil, 0)
	require.NoError(t, err)
	require.NoError(t, res.Err())
	require.Len(t, res.Events(), 2)
	assert.Empty(t, res.InvalidFollows)

	// Carol does not follow anyone and holds no key for the owner.
	res, err = f.feed.ReadFollowedFeeds(ctx, f.carol, []FollowedQuery{{UserID: f.owner.ID()}}, 0)
	require.NoError(t, err)
	require.Len(t, res.InvalidFollows, 1)
	assert.ErrorIs(t, res.InvalidFollows[0].Err, kerrors.ErrKeyNotFound)

	require.NoError(t, f.follows.Revoke(ctx, f.owner.Identity, token))
	res, err = f.feed.ReadFollowedFeeds(ctx, f.bob, nil, 0)
	require.NoError(t, err)
	assert.Empty(t, res.Items)
	require.Len(t, res.InvalidFollows, 1)
	assert.Equal(t, token, res.InvalidFollows[0].Token)
	assert.ErrorIs(t, res.InvalidFollows[0].Err, kerrors.ErrSecretRevoked)

	tooMany := make([]FollowedQuery, MaxFollowedFeeds+1)
	_, err = f.feed.ReadFollowedFeeds(ctx, f.bob, tooMany, 0)
	assert.ErrorIs(t, err, kerrors.ErrTooManyFeeds)
}

func TestForgedEventIsReported(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.follow(t, f.bob)
	f.follow(t, f.carol)

	_, err := f.feed.PublishUserEvent(ctx, f.owner.Identity, Announcement{Text: "real"}, PublishOptions{})
	require.NoError(t, err)

	// Bob holds the owner's personal key and plants an event in their feed
	// signed with his own key.
	forged := store.FeedRecord{
		FeedID:    f.owner.ID(),
		Scope:     store.ScopeUser,
		AuthorID:  f.owner.ID(),
		EventID:   "forged",
		Timestamp: time.Now(),
		ExpiresAt: time.Now().Add(time.Hour),
	}
	require.NoError(t, f.bob.Keyring.UserKey(f.owner.ID(), func(key []byte) error {
		forged.Ciphertext, forged.IV, err = f.feed.codec.Encode(Announcement{Text: "fake"}, f.bob, key)
		return err
	}))
	require.NoError(t, f.store.PutEvent(ctx, forged))

	res, err := f.feed.ReadFollowedFeeds(ctx, f.carol, nil, 0)
	require.NoError(t, err)
	require.Len(t, res.Items, 2)
	assert.Len(t, res.Events(), 1)
	assert.ErrorIs(t, res.Err(), kerrors.ErrSignatureInvalid)

	entries, err := f.audit.ReadEntries()
	require.NoError(t, err)
	var flagged []string
	for _, e := range entries {
		if e.Operation == audit.OpSignatureInvalid {
			flagged = append(flagged, e.EventID)
		}
	}
	assert.Equal(t, []string{"forged"}, flagged)

	count, err := testutil.GatherAndCount(f.registry, "liftsocial_feed_events_decoded_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestExpiredEventsAreDropped(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.follow(t, f.bob)

	_, err := f.feed.PublishUserEvent(ctx, f.owner.Identity, Announcement{Text: "soon gone"}, PublishOptions{ExpiresAt: time.Now().Add(time.Minute)})
	require.NoError(t, err)
	_, err = f.feed.PublishUserEvent(ctx, f.owner.Identity, Announcement{Text: "past"}, PublishOptions{ExpiresAt: time.Now().Add(-time.Minute)})
	assert.Error(t, err)

	f.feed.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	res, err := f.feed.ReadFollowedFeeds(ctx, f.bob, nil, 0)
	require.NoError(t, err)
	assert.Empty(t, res.Items)
}
