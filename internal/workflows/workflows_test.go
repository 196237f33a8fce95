package workflows

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/liftlog/liftsocial/internal/audit"
	"github.com/liftlog/liftsocial/internal/club"
	"github.com/liftlog/liftsocial/internal/configs"
	kerrors "github.com/liftlog/liftsocial/internal/errors"
	"github.com/liftlog/liftsocial/internal/feed"
	"github.com/liftlog/liftsocial/internal/policy"
	"github.com/liftlog/liftsocial/internal/secrets"
	"github.com/liftlog/liftsocial/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var passphrase = []byte("correct horse battery staple")

// testConfig returns a config for one user on a store shared through dir.
func testConfig(t *testing.T, dir, user string) *configs.Config {
	t.Helper()
	cfg := configs.Default()
	cfg.Identity.Path = filepath.Join(dir, user, "identity.sealed")
	cfg.Identity.KDF = configs.KDFConfig{Time: 1, MemoryKiB: 1024, Threads: 1}
	cfg.Storage.Engine = configs.EngineLocal
	cfg.Storage.LocalPath = filepath.Join(dir, "store.msgpack")
	cfg.Storage.RedisURL = ""
	cfg.Audit.Path = filepath.Join(dir, "audit.jsonl")
	cfg.Metrics.Textfile = ""
	require.NoError(t, cfg.Validate())
	return cfg
}

func createUser(t *testing.T, cfg *configs.Config) string {
	t.Helper()
	res, err := CreateIdentity(context.Background(), cfg, CreateIdentityOptions{Passphrase: passphrase})
	require.NoError(t, err)
	return res.UserID
}

// withSession opens a session for cfg, runs fn and closes it.
func withSession(t *testing.T, cfg *configs.Config, fn func(s *Session)) {
	t.Helper()
	s, err := Open(context.Background(), cfg, passphrase)
	require.NoError(t, err)
	fn(s)
	require.NoError(t, s.Close())
}

func TestCreateIdentity(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, t.TempDir(), "alice")

	_, err := CreateIdentity(ctx, cfg, CreateIdentityOptions{})
	assert.ErrorIs(t, err, kerrors.ErrEmptyPassphrase)

	res, err := CreateIdentity(ctx, cfg, CreateIdentityOptions{Passphrase: passphrase})
	require.NoError(t, err)
	assert.NotEmpty(t, res.UserID)
	assert.Contains(t, string(res.PublicKeyPEM), "PUBLIC KEY")
	assert.False(t, res.Replaced)

	_, err = CreateIdentity(ctx, cfg, CreateIdentityOptions{Passphrase: passphrase})
	assert.ErrorIs(t, err, kerrors.ErrIdentityExists)

	_, err = Open(ctx, cfg, []byte("wrong"))
	assert.ErrorIs(t, err, kerrors.ErrKeyDecryptFailed)

	withSession(t, cfg, func(s *Session) {
		assert.Equal(t, res.UserID, s.UserID())
		pem, err := ExportPublicKey(s)
		require.NoError(t, err)
		assert.Equal(t, res.PublicKeyPEM, pem)

		published, err := s.Backend.PublicKey(ctx, res.UserID)
		require.NoError(t, err)
		assert.Equal(t, res.PublicKeyPEM, published)

		exported := filepath.Join(t.TempDir(), "keys", "alice.pub")
		require.NoError(t, ExportPublicKeyFile(s, exported))
		loaded, err := secrets.LoadPublicKey(exported)
		require.NoError(t, err)
		assert.True(t, loaded.Equal(s.Principal.PublicKey()))
	})

	replaced, err := CreateIdentity(ctx, cfg, CreateIdentityOptions{Passphrase: passphrase, Force: true})
	require.NoError(t, err)
	assert.True(t, replaced.Replaced)
	assert.NotEqual(t, res.UserID, replaced.UserID)
}

func TestSessionKeepsItsOwnPassphrase(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, t.TempDir(), "alice")
	createUser(t, cfg)

	caller := append([]byte(nil), passphrase...)
	s, err := Open(ctx, cfg, caller)
	require.NoError(t, err)
	assert.Equal(t, passphrase, caller, "opening a session must not consume the caller's buffer")
	for i := range caller {
		caller[i] = 0
	}
	require.NoError(t, s.Save())
	require.NoError(t, s.Close())
	assert.Nil(t, s.passphrase)

	withSession(t, cfg, func(s *Session) {})
}

func TestOpenWithoutIdentity(t *testing.T) {
	cfg := testConfig(t, t.TempDir(), "nobody")
	_, err := Open(context.Background(), cfg, passphrase)
	assert.ErrorIs(t, err, kerrors.ErrIdentityNotFound)
}

func TestFollowAndClubFlow(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	aliceCfg := testConfig(t, dir, "alice")
	bobCfg := testConfig(t, dir, "bob")
	aliceCfg.Metrics.Textfile = filepath.Join(dir, "alice.prom")

	aliceID := createUser(t, aliceCfg)
	bobID := createUser(t, bobCfg)

	var token, clubID string
	withSession(t, aliceCfg, func(s *Session) {
		secret, err := IssueFollowSecret(ctx, s, "")
		require.NoError(t, err)
		assert.Equal(t, store.RedeemMulti, secret.Policy)
		token = secret.Token

		c, err := CreateClub(ctx, s, club.CreateOptions{Name: "Dawn Patrol", Description: "6am lifts"})
		require.NoError(t, err)
		clubID = c.ID

		_, err = Post(ctx, s, feed.Session{Title: "Squats", StartedAt: time.Now(), Duration: 45 * time.Minute}, PostOptions{})
		require.NoError(t, err)
		_, err = Post(ctx, s, feed.Announcement{Text: "welcome"}, PostOptions{ClubID: clubID})
		require.NoError(t, err)
	})

	withSession(t, bobCfg, func(s *Session) {
		require.NoError(t, RequestFollow(ctx, s, aliceID, token))
	})

	withSession(t, aliceCfg, func(s *Session) {
		res, err := SyncInbox(ctx, s, SyncOptions{})
		require.NoError(t, err)
		assert.Equal(t, 1, res.FollowRequests)
		assert.Empty(t, res.Failures)

		require.NoError(t, InviteToClub(ctx, s, clubID, bobID, policy.RoleMember))
	})

	withSession(t, bobCfg, func(s *Session) {
		res, err := SyncInbox(ctx, s, SyncOptions{})
		require.NoError(t, err)
		assert.Equal(t, 1, res.FollowGrants)
		assert.Equal(t, 1, res.Invites)
		require.Len(t, PendingInvites(s), 1)
		assert.Equal(t, "Dawn Patrol", PendingInvites(s)[0].ClubName)

		member, err := AcceptClubInvite(ctx, s, clubID)
		require.NoError(t, err)
		assert.Equal(t, store.MemberActive, member.State)
	})

	// Keys received by bob survive the session being closed and reopened.
	withSession(t, bobCfg, func(s *Session) {
		info, err := ShowIdentity(ctx, s)
		require.NoError(t, err)
		assert.Equal(t, []string{aliceID}, info.Following)
		require.Len(t, info.Clubs, 1)
		assert.Equal(t, "Dawn Patrol", info.Clubs[0].Name)
		assert.True(t, info.Clubs[0].HeldKey)
		assert.Empty(t, info.Invites)

		followed, err := Read(ctx, s, ReadOptions{})
		require.NoError(t, err)
		require.Len(t, followed.Events(), 1)
		assert.Equal(t, "Squats", followed.Events()[0].Event.(feed.Session).Title)

		clubFeed, err := Read(ctx, s, ReadOptions{ClubID: clubID})
		require.NoError(t, err)
		require.Len(t, clubFeed.Events(), 1)
		assert.Equal(t, feed.Announcement{Text: "welcome"}, clubFeed.Events()[0].Event)

		_, err = Post(ctx, s, feed.Announcement{Text: "hi"}, PostOptions{ClubID: clubID})
		assert.ErrorIs(t, err, kerrors.ErrUnauthorized)

		clubs, err := ListClubs(ctx, s)
		require.NoError(t, err)
		require.Len(t, clubs, 1)
		assert.Equal(t, policy.RoleMember, clubs[0].Role)
	})

	withSession(t, aliceCfg, func(s *Session) {
		require.NoError(t, RevokeFollowSecret(ctx, s, token))
		tokens, err := ListFollowSecrets(ctx, s)
		require.NoError(t, err)
		require.Len(t, tokens, 1)
		assert.Equal(t, store.SecretRevoked, tokens[0].State)
	})

	withSession(t, bobCfg, func(s *Session) {
		followed, err := Read(ctx, s, ReadOptions{})
		require.NoError(t, err)
		assert.Empty(t, followed.Items)
		require.Len(t, followed.InvalidFollows, 1)
		assert.ErrorIs(t, followed.InvalidFollows[0].Err, kerrors.ErrSecretRevoked)

		assert.True(t, Unfollow(s, aliceID))
		assert.False(t, Unfollow(s, aliceID))
	})

	_, err := os.Stat(aliceCfg.Metrics.Textfile)
	assert.NoError(t, err)

	logRes, err := Log(ctx, aliceCfg, LogOptions{Operations: "club_create,club_invite,club_accept"})
	require.NoError(t, err)
	var ops []string
	for _, e := range logRes.Entries {
		ops = append(ops, e.Operation)
	}
	assert.Equal(t, []string{audit.OpClubCreate, audit.OpClubInvite, audit.OpClubAccept}, ops)
}

func TestPublicJoinWithAutoDelivery(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	ownerCfg := testConfig(t, dir, "owner")
	joinerCfg := testConfig(t, dir, "joiner")
	createUser(t, ownerCfg)
	createUser(t, joinerCfg)

	var clubID string
	withSession(t, ownerCfg, func(s *Session) {
		c, err := CreateClub(ctx, s, club.CreateOptions{Name: "Open Gym", IsPublic: true})
		require.NoError(t, err)
		clubID = c.ID
		_, err = Post(ctx, s, feed.Announcement{Text: "doors open at 6"}, PostOptions{ClubID: clubID})
		require.NoError(t, err)
	})

	withSession(t, joinerCfg, func(s *Session) {
		found, err := SearchClubs(ctx, s, 10, 0)
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Empty(t, found[0].Name)

		member, err := JoinClub(ctx, s, clubID)
		require.NoError(t, err)
		assert.Equal(t, store.MemberPendingKey, member.State)

		pending, err := Read(ctx, s, ReadOptions{ClubID: clubID})
		require.NoError(t, err)
		require.Len(t, pending.Items, 1)
		assert.ErrorIs(t, pending.Items[0].Err, kerrors.ErrKeyNotDelivered)
		assert.ErrorIs(t, pending.Err(), kerrors.ErrDecryptionFailure)
	})

	withSession(t, ownerCfg, func(s *Session) {
		res, err := SyncInbox(ctx, s, SyncOptions{DeliverPendingKeys: true})
		require.NoError(t, err)
		assert.Equal(t, 1, res.KeysDelivered)
	})

	withSession(t, joinerCfg, func(s *Session) {
		res, err := SyncInbox(ctx, s, SyncOptions{DeliverPendingKeys: true})
		require.NoError(t, err)
		assert.Equal(t, 1, res.KeyShares)
		assert.Zero(t, res.KeysDelivered)

		clubs, err := ListClubs(ctx, s)
		require.NoError(t, err)
		require.Len(t, clubs, 1)
		assert.Equal(t, "Open Gym", clubs[0].Name)

		delivered, err := Read(ctx, s, ReadOptions{ClubID: clubID})
		require.NoError(t, err)
		require.Len(t, delivered.Events(), 1)
		assert.Equal(t, feed.Announcement{Text: "doors open at 6"}, delivered.Events()[0].Event)
	})
}

func TestUpdateClub(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, t.TempDir(), "owner")
	createUser(t, cfg)

	withSession(t, cfg, func(s *Session) {
		c, err := CreateClub(ctx, s, club.CreateOptions{Name: "Before"})
		require.NoError(t, err)

		name := "After"
		posting := true
		require.NoError(t, UpdateClub(ctx, s, c.ID, ClubUpdate{Name: &name, MembersCanPost: &posting}))

		clubs, err := ListClubs(ctx, s)
		require.NoError(t, err)
		require.Len(t, clubs, 1)
		assert.Equal(t, "After", clubs[0].Name)
		assert.True(t, clubs[0].Club.Settings.MembersCanPost)

		require.NoError(t, DeleteClub(ctx, s, c.ID))
		clubs, err = ListClubs(ctx, s)
		require.NoError(t, err)
		assert.Empty(t, clubs)
	})
}

func TestPrune(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, t.TempDir(), "owner")
	createUser(t, cfg)

	res, err := Prune(ctx, cfg)
	require.NoError(t, err)
	assert.Zero(t, res.Events)

	logRes, err := Log(ctx, cfg, LogOptions{Operations: audit.OpPrune})
	require.NoError(t, err)
	require.Len(t, logRes.Entries, 1)
	assert.Equal(t, PruneOperator, logRes.Entries[0].UserID)
}

func TestShareAndOpen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cfg := testConfig(t, dir, "owner")
	ownerID := createUser(t, cfg)

	var link string
	withSession(t, cfg, func(s *Session) {
		res, err := Share(ctx, s, feed.Announcement{Text: "new 1RM"}, time.Hour)
		require.NoError(t, err)
		assert.WithinDuration(t, time.Now().Add(time.Hour), res.Item.ExpiresAt, time.Minute)
		link = res.Link.String()
	})

	// A reader with no identity opens the link from the same store.
	reader := testConfig(t, dir, "reader")
	shared, err := OpenShared(ctx, reader, link)
	require.NoError(t, err)
	assert.Equal(t, ownerID, shared.Item.UserID)
	assert.Equal(t, feed.Announcement{Text: "new 1RM"}, shared.Event)

	_, err = OpenShared(ctx, reader, "garbage")
	assert.ErrorIs(t, err, kerrors.ErrInvalidShareLink)

	withSession(t, cfg, func(s *Session) {
		_, err := s.Backend.Prune(ctx, time.Now().Add(2*time.Hour))
		require.NoError(t, err)
	})
	_, err = OpenShared(ctx, reader, link)
	assert.ErrorIs(t, err, kerrors.ErrSharedItemNotFound)
}
