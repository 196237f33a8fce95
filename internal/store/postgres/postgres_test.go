package postgres

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	kerrors "github.com/liftlog/liftsocial/internal/errors"
	"github.com/liftlog/liftsocial/internal/policy"
	"github.com/liftlog/liftsocial/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}
	ctx := context.Background()

	container, err := tcpostgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:16-alpine"),
		tcpostgres.WithDatabase("liftsocial"),
		tcpostgres.WithUsername("liftsocial"),
		tcpostgres.WithPassword("liftsocial"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	t.Cleanup(func() {
		timeoutCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := container.Terminate(timeoutCtx); err != nil {
			t.Logf("failed to stop postgres container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	s, err := New(ctx, dsn, DefaultOptions)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPostgresStore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	t.Run("MigrateIsIdempotent", func(t *testing.T) {
		require.NoError(t, s.Migrate(ctx))
	})

	t.Run("Directory", func(t *testing.T) {
		require.NoError(t, s.PutPublicKey(ctx, "alice", []byte("PEM-1")))
		require.NoError(t, s.PutPublicKey(ctx, "alice", []byte("PEM-2")))
		key, err := s.PublicKey(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, []byte("PEM-2"), key)

		_, err = s.PublicKey(ctx, "ghost")
		assert.ErrorIs(t, err, kerrors.ErrUserNotFound)
	})

	t.Run("FollowSecrets", func(t *testing.T) {
		require.NoError(t, s.CreateSecret(ctx, store.FollowSecret{Token: "single", OwnerID: "alice", State: store.SecretActive, Policy: store.RedeemSingle, CreatedAt: now}))
		require.NoError(t, s.CreateSecret(ctx, store.FollowSecret{Token: "multi", OwnerID: "alice", State: store.SecretActive, Policy: store.RedeemMulti, CreatedAt: now.Add(time.Second)}))
		assert.ErrorIs(t, s.CreateSecret(ctx, store.FollowSecret{Token: "multi", OwnerID: "x", State: store.SecretActive, Policy: store.RedeemMulti, CreatedAt: now}), kerrors.ErrAlreadyExists)

		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			successes int
		)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				if _, err := s.ClaimRedemption(ctx, "single", fmt.Sprintf("u%d", i)); err == nil {
					mu.Lock()
					successes++
					mu.Unlock()
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(t, 1, successes)

		for _, who := range []string{"bob", "carol", "bob"} {
			_, err := s.ClaimRedemption(ctx, "multi", who)
			require.NoError(t, err)
		}
		secret, err := s.Secret(ctx, "multi")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"bob", "carol"}, secret.Redeemers)

		require.NoError(t, s.RevokeSecret(ctx, "multi", now))
		_, err = s.ClaimRedemption(ctx, "multi", "dave")
		assert.ErrorIs(t, err, kerrors.ErrSecretRevoked)

		_, err = s.ClaimRedemption(ctx, "nope", "dave")
		assert.ErrorIs(t, err, kerrors.ErrFollowSecretNotFound)

		owned, err := s.SecretsByOwner(ctx, "alice")
		require.NoError(t, err)
		require.Len(t, owned, 2)
		assert.Equal(t, "single", owned[0].Token)
	})

	t.Run("Inbox", func(t *testing.T) {
		for i := 0; i < 50; i++ {
			require.NoError(t, s.Append(ctx, store.Envelope{
				ID:          fmt.Sprintf("env-%02d", i),
				RecipientID: "bob",
				Kind:        store.KindClubKeyShare,
				Blocks:      [][]byte{[]byte("a"), []byte("b")},
				CreatedAt:   now.Add(time.Duration(i) * time.Millisecond),
				ExpiresAt:   now.Add(time.Hour),
			}))
		}
		require.NoError(t, s.Append(ctx, store.Envelope{ID: "expired", RecipientID: "bob", Kind: store.KindFollowGrant, Blocks: [][]byte{{1}}, CreatedAt: now, ExpiresAt: now.Add(-time.Second)}))

		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			seen = map[string]int{}
		)
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				envs, err := s.Drain(ctx, "bob", now)
				assert.NoError(t, err)
				mu.Lock()
				defer mu.Unlock()
				for _, env := range envs {
					seen[env.ID]++
					assert.Len(t, env.Blocks, 2)
				}
			}()
		}
		wg.Wait()
		assert.Len(t, seen, 50)
		assert.Zero(t, seen["expired"])
	})

	t.Run("Clubs", func(t *testing.T) {
		club := store.Club{ID: "c1", OwnerID: "alice", EncryptedName: []byte("n"), NameIV: []byte("iv"), IsPublic: true, KeyVersion: 1, CreatedAt: now,
			Settings: store.ClubSettings{MembersCanPost: true, MaxMembers: 10}}
		owner := store.Member{ClubID: "c1", UserID: "alice", Role: policy.RoleOwner, State: store.MemberActive, WrappedKey: []byte("wk"), KeyVersion: 1, JoinedAt: now}
		require.NoError(t, s.CreateClub(ctx, club, owner))

		created, err := s.AddMember(ctx, store.Member{ClubID: "c1", UserID: "bob", Role: policy.RoleMember, State: store.MemberPendingKey, JoinedAt: now.Add(time.Second)})
		require.NoError(t, err)
		assert.True(t, created)
		created, err = s.AddMember(ctx, store.Member{ClubID: "c1", UserID: "bob", Role: policy.RoleAdmin, State: store.MemberActive, JoinedAt: now})
		require.NoError(t, err)
		assert.False(t, created)

		got, err := s.Club(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, 2, got.MemberCount)
		assert.True(t, got.Settings.MembersCanPost)
		assert.Equal(t, 10, got.Settings.MaxMembers)

		pending, err := s.PendingMembers(ctx, "c1")
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Nil(t, pending[0].WrappedKey)

		bob := pending[0]
		bob.State = store.MemberActive
		bob.WrappedKey = []byte("wk-bob")
		bob.KeyVersion = 1
		require.NoError(t, s.UpdateMember(ctx, bob))

		club.KeyVersion = 2
		require.NoError(t, s.Rekey(ctx, club, []store.Member{
			{ClubID: "c1", UserID: "alice", Role: policy.RoleOwner, State: store.MemberActive, WrappedKey: []byte("wk2"), KeyVersion: 2},
			{ClubID: "c1", UserID: "ghost", Role: policy.RoleMember, State: store.MemberActive, WrappedKey: []byte("x"), KeyVersion: 2},
		}))
		alice, err := s.Member(ctx, "c1", "alice")
		require.NoError(t, err)
		assert.Equal(t, 2, alice.KeyVersion)
		assert.Equal(t, policy.RoleOwner, alice.Role)
		_, err = s.Member(ctx, "c1", "ghost")
		assert.ErrorIs(t, err, kerrors.ErrMemberNotFound)

		mine, err := s.ClubsForUser(ctx, "bob")
		require.NoError(t, err)
		assert.Len(t, mine, 1)
		public, err := s.PublicClubs(ctx, 10, 0)
		require.NoError(t, err)
		assert.Len(t, public, 1)

		require.NoError(t, s.RemoveMember(ctx, "c1", "bob"))
		assert.ErrorIs(t, s.RemoveMember(ctx, "c1", "bob"), kerrors.ErrMemberNotFound)

		require.NoError(t, s.DeleteClub(ctx, "c1"))
		_, err = s.Club(ctx, "c1")
		assert.ErrorIs(t, err, kerrors.ErrClubNotFound)
		members, err := s.Members(ctx, "c1")
		require.NoError(t, err)
		assert.Empty(t, members)
	})

	t.Run("Feed", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			require.NoError(t, s.PutEvent(ctx, store.FeedRecord{FeedID: "f", Scope: store.ScopeUser, AuthorID: "alice", EventID: fmt.Sprintf("e%d", i),
				Ciphertext: []byte("ct"), IV: []byte("iv"), Timestamp: now.Add(time.Duration(i) * time.Minute), ExpiresAt: now.Add(time.Hour)}))
		}
		require.NoError(t, s.PutEvent(ctx, store.FeedRecord{FeedID: "f", Scope: store.ScopeUser, AuthorID: "alice", EventID: "e0",
			Ciphertext: []byte("ct-2"), IV: []byte("iv"), Timestamp: now, ExpiresAt: now.Add(time.Hour)}))
		err := s.PutEvent(ctx, store.FeedRecord{FeedID: "f", Scope: store.ScopeUser, AuthorID: "mallory", EventID: "e0",
			Ciphertext: []byte("ct-3"), IV: []byte("iv"), Timestamp: now, ExpiresAt: now.Add(time.Hour)})
		assert.ErrorIs(t, err, kerrors.ErrUnauthorized)
		require.NoError(t, s.PutEvent(ctx, store.FeedRecord{FeedID: "f", Scope: store.ScopeUser, AuthorID: "alice", EventID: "gone",
			Ciphertext: []byte("ct"), IV: []byte("iv"), Timestamp: now, ExpiresAt: now.Add(-time.Minute)}))

		recs, err := s.ListEvents(ctx, "f", store.FeedQuery{Now: now})
		require.NoError(t, err)
		require.Len(t, recs, 3)
		assert.Equal(t, "e2", recs[0].EventID)
		assert.Equal(t, []byte("ct-2"), recs[2].Ciphertext)

		recs, err = s.ListEvents(ctx, "f", store.FeedQuery{Now: now, Since: now})
		require.NoError(t, err)
		assert.Len(t, recs, 2)

		res, err := s.Prune(ctx, now)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Events)

		require.NoError(t, s.DeleteFeed(ctx, "f"))
		recs, err = s.ListEvents(ctx, "f", store.FeedQuery{Now: now})
		require.NoError(t, err)
		assert.Empty(t, recs)
	})
}

func TestPostgresSharedItems(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	item := store.SharedItem{ID: "sh-1", UserID: "alice", Ciphertext: []byte("ct"), IV: []byte("iv"), Timestamp: now, ExpiresAt: now.Add(time.Hour)}
	require.NoError(t, s.PutSharedItem(ctx, item))
	assert.ErrorIs(t, s.PutSharedItem(ctx, item), kerrors.ErrAlreadyExists)

	got, err := s.SharedItem(ctx, "sh-1")
	require.NoError(t, err)
	assert.Equal(t, item.Ciphertext, got.Ciphertext)
	assert.True(t, item.ExpiresAt.Equal(got.ExpiresAt))

	_, err = s.SharedItem(ctx, "nope")
	assert.ErrorIs(t, err, kerrors.ErrSharedItemNotFound)

	res, err := s.Prune(ctx, now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, res.SharedItems)
	_, err = s.SharedItem(ctx, "sh-1")
	assert.ErrorIs(t, err, kerrors.ErrSharedItemNotFound)
}

func TestMigrationVersion(t *testing.T) {
	v, err := migrationVersion("migrations/0001_init.sql")
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	_, err = migrationVersion("migrations/init.sql")
	assert.Error(t, err)
}
