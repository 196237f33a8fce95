package inbox

import (
	"context"
	"sync"
	"testing"
	"time"

	kerrors "github.com/liftlog/liftsocial/internal/errors"
	"github.com/liftlog/liftsocial/internal/identity"
	"github.com/liftlog/liftsocial/internal/policy"
	"github.com/liftlog/liftsocial/internal/store"
	"github.com/liftlog/liftsocial/internal/store/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

var (
	identitiesOnce sync.Once
	alice, bob     *identity.Identity
	identitiesErr  error
)

func testIdentities(t *testing.T) (*identity.Identity, *identity.Identity) {
	t.Helper()
	identitiesOnce.Do(func() {
		alice, identitiesErr = identity.New(0)
		if identitiesErr != nil {
			return
		}
		bob, identitiesErr = identity.New(0)
	})
	require.NoError(t, identitiesErr)
	return alice, bob
}

func newTestMessenger(t *testing.T, opts Options) (*Messenger, *memory.Store) {
	t.Helper()
	a, b := testIdentities(t)
	s := memory.New()
	for _, id := range []*identity.Identity{a, b} {
		pemData, err := id.PublicKeyPEM()
		require.NoError(t, err)
		require.NoError(t, s.PutPublicKey(context.Background(), id.ID(), pemData))
	}
	return New(s, s, opts, nil), s
}

func TestDeliverAndReceiveEveryKind(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestMessenger(t, Options{})
	a, b := testIdentities(t)

	messages := []Message{
		FollowRequest{FromUserID: a.ID(), Token: "tok"},
		FollowGrant{OwnerID: a.ID(), Token: "tok", WrappedKey: make([]byte, 256)},
		ClubKeyShare{ClubID: "club-1", KeyVersion: 3, WrappedKey: []byte("wrapped"), FromUserID: a.ID()},
		ClubInvite{ClubID: "club-1", ClubName: "Morning Lifters", OfferedRole: policy.RoleAdmin, WrappedKey: make([]byte, 256), KeyVersion: 1, FromUserID: a.ID()},
	}
	base := time.Now()
	for i, msg := range messages {
		env, err := m.Seal(ctx, b.ID(), msg)
		require.NoError(t, err)
		env.CreatedAt = base.Add(time.Duration(i) * time.Millisecond)
		env, err = m.Send(ctx, env)
		require.NoError(t, err)
		assert.NotEmpty(t, env.ID)
		assert.Equal(t, msg.Kind(), env.Kind)
		assert.Equal(t, env.CreatedAt.Add(DefaultTTL), env.ExpiresAt)
	}

	received, err := m.Receive(ctx, b.ID(), b)
	require.NoError(t, err)
	require.Len(t, received, len(messages))
	for i, r := range received {
		require.NoError(t, r.Err)
		assert.Equal(t, messages[i], r.Message)
	}

	again, err := m.FetchAndClear(ctx, b.ID())
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestLargeMessageSpansBlocks(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestMessenger(t, Options{})
	_, b := testIdentities(t)

	invite := ClubInvite{ClubID: "club-1", ClubName: string(make([]byte, 700)), OfferedRole: policy.RoleMember, WrappedKey: make([]byte, 256), KeyVersion: 1}
	env, err := m.Seal(ctx, b.ID(), invite)
	require.NoError(t, err)
	assert.Greater(t, len(env.Blocks), 1)

	msg, err := Open(env, b)
	require.NoError(t, err)
	assert.Equal(t, invite, msg)
}

func TestSendRejectsOversizedEnvelope(t *testing.T) {
	ctx := context.Background()
	m, s := newTestMessenger(t, Options{MaxEnvelopeBytes: 512})
	_, b := testIdentities(t)

	_, err := m.Send(ctx, store.Envelope{RecipientID: b.ID(), Kind: store.KindClubInvite, Blocks: [][]byte{make([]byte, 256), make([]byte, 256), make([]byte, 1)}})
	assert.ErrorIs(t, err, kerrors.ErrEnvelopeTooLarge)

	_, err = m.Send(ctx, store.Envelope{RecipientID: b.ID(), Kind: store.KindClubInvite, Blocks: [][]byte{make([]byte, 256), make([]byte, 256)}})
	require.NoError(t, err)

	envs, err := s.Drain(ctx, b.ID(), time.Now())
	require.NoError(t, err)
	assert.Len(t, envs, 1)
}

func TestUnknownRecipient(t *testing.T) {
	m, _ := newTestMessenger(t, Options{})
	_, err := m.Deliver(context.Background(), "ghost", FollowRequest{FromUserID: "x", Token: "t"})
	assert.ErrorIs(t, err, kerrors.ErrUserNotFound)
}

func TestCorruptEnvelopeFailsOnlyItself(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestMessenger(t, Options{})
	a, b := testIdentities(t)

	good, err := m.Seal(ctx, b.ID(), FollowRequest{FromUserID: a.ID(), Token: "t1"})
	require.NoError(t, err)
	bad, err := m.Seal(ctx, b.ID(), FollowRequest{FromUserID: a.ID(), Token: "t2"})
	require.NoError(t, err)
	bad.Blocks[0][10] ^= 0xff
	// Sealed to alice, opened by bob.
	misaddressed, err := m.Seal(ctx, a.ID(), FollowRequest{FromUserID: a.ID(), Token: "t3"})
	require.NoError(t, err)
	misaddressed.RecipientID = b.ID()

	now := time.Now()
	for i, env := range []store.Envelope{good, bad, misaddressed} {
		env.CreatedAt = now.Add(time.Duration(i) * time.Second)
		_, err := m.Send(ctx, env)
		require.NoError(t, err)
	}

	received, err := m.Receive(ctx, b.ID(), b)
	require.NoError(t, err)
	require.Len(t, received, 3)
	require.NoError(t, received[0].Err)
	assert.Equal(t, "t1", received[0].Message.(FollowRequest).Token)
	assert.ErrorIs(t, received[1].Err, kerrors.ErrMalformedChunkStream)
	assert.ErrorIs(t, received[2].Err, kerrors.ErrMalformedChunkStream)
}

func TestOpenRejectsKindMismatch(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestMessenger(t, Options{})
	a, b := testIdentities(t)

	env, err := m.Seal(ctx, b.ID(), FollowRequest{FromUserID: a.ID(), Token: "t"})
	require.NoError(t, err)
	env.Kind = store.KindFollowGrant

	_, err = Open(env, b)
	assert.ErrorIs(t, err, kerrors.ErrMalformedMessage)
}

func TestExpiredEnvelopesAreDropped(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestMessenger(t, Options{TTL: time.Minute})
	a, b := testIdentities(t)

	past := time.Now().Add(-time.Hour)
	env, err := m.Seal(ctx, b.ID(), FollowRequest{FromUserID: a.ID(), Token: "t"})
	require.NoError(t, err)
	env.CreatedAt = past
	_, err = m.Send(ctx, env)
	require.NoError(t, err)

	envs, err := m.FetchAndClear(ctx, b.ID())
	require.NoError(t, err)
	assert.Empty(t, envs)
}

func TestDecodeMessage(t *testing.T) {
	_, err := DecodeMessage([]byte("junk"))
	assert.ErrorIs(t, err, kerrors.ErrMalformedMessage)

	unknown, err := msgpack.Marshal(wireMessage{Kind: "workout_invite", Body: msgpack.RawMessage{0x80}})
	require.NoError(t, err)
	_, err = DecodeMessage(unknown)
	assert.ErrorIs(t, err, kerrors.ErrMalformedMessage)

	_, err = EncodeMessage(nil)
	assert.ErrorIs(t, err, kerrors.ErrMalformedMessage)
}
