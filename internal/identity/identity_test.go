package identity

import (
	"bytes"
	"crypto/rsa"
	"encoding/pem"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	kerrors "github.com/liftlog/liftsocial/internal/errors"
	"github.com/liftlog/liftsocial/internal/policy"
	"github.com/liftlog/liftsocial/internal/secrets"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

// cheapKDF keeps sealing fast in tests.
var cheapKDF = KDFParams{Time: 1, Memory: 1024, Threads: 1}

var (
	sharedOnce sync.Once
	sharedKey  *rsa.PrivateKey
)

func newTestIdentity(t *testing.T) *Identity {
	t.Helper()
	sharedOnce.Do(func() {
		var err error
		sharedKey, err = secrets.GenerateRSAKey(2048)
		require.NoError(t, err)
	})
	id, err := FromPrivateKey(sharedKey)
	require.NoError(t, err)
	return id
}

func TestNewIdentity(t *testing.T) {
	id := newTestIdentity(t)

	assert.NotEmpty(t, id.ID())
	assert.NotEmpty(t, id.AuthSecret())
	assert.Equal(t, 2048, id.PublicKey().N.BitLen())

	pubPEM, err := id.PublicKeyPEM()
	require.NoError(t, err)
	pub, err := secrets.ParsePublicKey(pubPEM)
	require.NoError(t, err)
	assert.True(t, pub.Equal(id.PublicKey()))

	err = id.WithPersonalKey(func(key []byte) error {
		assert.Len(t, key, secrets.AESKeySize)
		return nil
	})
	require.NoError(t, err)
}

func TestIdentitiesAreDistinct(t *testing.T) {
	a := newTestIdentity(t)
	b := newTestIdentity(t)
	assert.NotEqual(t, a.ID(), b.ID())
	assert.NotEqual(t, a.AuthSecret(), b.AuthSecret())
}

func TestSignAndOpen(t *testing.T) {
	id := newTestIdentity(t)

	sig, err := id.Sign([]byte("payload"))
	require.NoError(t, err)
	assert.True(t, secrets.VerifyPSS([]byte("payload"), sig, id.PublicKey()))

	msg := bytes.Repeat([]byte("m"), 500)
	stream, err := secrets.EncodeChunks(msg, id.PublicKey())
	require.NoError(t, err)
	got, err := id.OpenChunks(stream)
	require.NoError(t, err)
	assert.Equal(t, msg, got)

	blocks, err := secrets.EncryptBlocks(msg, id.PublicKey())
	require.NoError(t, err)
	got, err = id.OpenBlocks(blocks)
	require.NoError(t, err)
	assert.Equal(t, msg, got)
}

func TestWrapPersonalKey(t *testing.T) {
	owner := newTestIdentity(t)
	follower, err := New(2048)
	require.NoError(t, err)

	wrapped, err := owner.WrapPersonalKey(follower.PublicKey())
	require.NoError(t, err)

	unwrapped, err := follower.UnwrapKey(wrapped)
	require.NoError(t, err)

	err = owner.WithPersonalKey(func(key []byte) error {
		assert.Equal(t, key, unwrapped)
		return nil
	})
	require.NoError(t, err)

	_, err = owner.UnwrapKey(wrapped)
	assert.ErrorIs(t, err, kerrors.ErrDecryptionFailure)
}

func TestDestroy(t *testing.T) {
	id := newTestIdentity(t)
	id.Destroy()

	err := id.WithPrivateKey(func(*rsa.PrivateKey) error { return nil })
	assert.ErrorIs(t, err, ErrDestroyed)
	_, err = id.Sign([]byte("x"))
	assert.ErrorIs(t, err, ErrDestroyed)
}

func TestImportOpenSSH(t *testing.T) {
	key, err := secrets.GenerateRSAKey(2048)
	require.NoError(t, err)

	block, err := ssh.MarshalPrivateKeyWithPassphrase(key, "", []byte("hunter2"))
	require.NoError(t, err)
	data := pem.EncodeToMemory(block)

	_, err = ImportOpenSSH(data, nil)
	assert.ErrorIs(t, err, secrets.ErrPassphraseRequired)

	id, err := ImportOpenSSH(data, []byte("hunter2"))
	require.NoError(t, err)
	assert.True(t, id.PublicKey().Equal(&key.PublicKey))
}

func TestSealRoundTrip(t *testing.T) {
	id := newTestIdentity(t)
	kr := NewKeyring()

	userKey, _ := secrets.GenerateAESKey()
	clubKey, _ := secrets.GenerateAESKey()
	require.NoError(t, kr.PutUserKey("bob", "tok-1", userKey))
	require.NoError(t, kr.PutClubKey("club-1", 2, clubKey))
	kr.AddInvite(PendingInvite{ClubID: "club-2", ClubName: "Run Club", OfferedRole: policy.RoleMember, WrappedKey: []byte{1, 2, 3}, KeyVersion: 1, FromUserID: "carol"})

	sealed, err := SealWithParams(id, kr, []byte("correct horse"), cheapKDF)
	require.NoError(t, err)

	opened, openedKR, err := Open(sealed, []byte("correct horse"))
	require.NoError(t, err)

	assert.Equal(t, id.ID(), opened.ID())
	assert.Equal(t, id.AuthSecret(), opened.AuthSecret())
	assert.True(t, opened.PublicKey().Equal(id.PublicKey()))

	var original, restored []byte
	require.NoError(t, id.WithPersonalKey(func(k []byte) error { original = bytes.Clone(k); return nil }))
	require.NoError(t, opened.WithPersonalKey(func(k []byte) error { restored = bytes.Clone(k); return nil }))
	assert.Equal(t, original, restored)

	token, ok := openedKR.FollowToken("bob")
	assert.True(t, ok)
	assert.Equal(t, "tok-1", token)
	require.NoError(t, openedKR.UserKey("bob", func(k []byte) error {
		assert.Equal(t, userKey, k)
		return nil
	}))
	require.NoError(t, openedKR.ClubKey("club-1", 2, func(k []byte) error {
		assert.Equal(t, clubKey, k)
		return nil
	}))

	invites := openedKR.Invites()
	require.Len(t, invites, 1)
	assert.Equal(t, "Run Club", invites[0].ClubName)
	assert.Equal(t, policy.RoleMember, invites[0].OfferedRole)
}

func TestOpenWrongPassphrase(t *testing.T) {
	id := newTestIdentity(t)
	sealed, err := SealWithParams(id, nil, []byte("right"), cheapKDF)
	require.NoError(t, err)

	_, _, err = Open(sealed, []byte("wrong"))
	assert.ErrorIs(t, err, kerrors.ErrKeyDecryptFailed)

	sealed[len(sealed)-1] ^= 0xff
	_, _, err = Open(sealed, []byte("right"))
	assert.ErrorIs(t, err, kerrors.ErrKeyDecryptFailed)

	_, _, err = Open([]byte("garbage"), []byte("right"))
	assert.ErrorIs(t, err, kerrors.ErrKeyDecryptFailed)
}

func TestSaveAndLoadFile(t *testing.T) {
	id := newTestIdentity(t)
	path := filepath.Join(t.TempDir(), "liftsocial", "identity.sealed")

	assert.False(t, Exists(path))
	_, _, err := LoadFile(path, []byte("pw"))
	assert.True(t, errors.Is(err, kerrors.ErrIdentityNotFound))

	require.NoError(t, SaveFile(path, id, NewKeyring(), []byte("pw")))
	assert.True(t, Exists(path))

	loaded, _, err := LoadFile(path, []byte("pw"))
	require.NoError(t, err)
	assert.Equal(t, id.ID(), loaded.ID())
}

func TestKeyringIdempotentPuts(t *testing.T) {
	kr := NewKeyring()
	key, _ := secrets.GenerateAESKey()
	other, _ := secrets.GenerateAESKey()

	require.NoError(t, kr.PutClubKey("c", 1, key))
	require.NoError(t, kr.PutClubKey("c", 1, other))
	require.NoError(t, kr.ClubKey("c", 1, func(k []byte) error {
		assert.Equal(t, key, k, "first stored version must win")
		return nil
	}))

	require.NoError(t, kr.PutClubKey("c", 3, other))
	latest, ok := kr.LatestClubVersion("c")
	assert.True(t, ok)
	assert.Equal(t, 3, latest)
	assert.True(t, kr.HasClubKey("c", 1))
	assert.False(t, kr.HasClubKey("c", 2))

	err := kr.ClubKey("c", 2, func([]byte) error { return nil })
	assert.ErrorIs(t, err, kerrors.ErrKeyNotFound)
	assert.ErrorIs(t, err, kerrors.ErrDecryptionFailure)

	require.NoError(t, kr.PutUserKey("bob", "t", key))
	require.NoError(t, kr.PutUserKey("bob", "t", key))
	require.NoError(t, kr.PutUserKey("alice", "t2", other))
	assert.Equal(t, []string{"alice", "bob"}, kr.Following())

	kr.ForgetUser("bob")
	assert.Equal(t, []string{"alice"}, kr.Following())

	kr.ForgetClub("c")
	_, ok = kr.LatestClubVersion("c")
	assert.False(t, ok)

	assert.Error(t, kr.PutUserKey("x", "t", []byte("short")))
}

func TestKeyringInvites(t *testing.T) {
	kr := NewKeyring()
	now := time.Now()
	kr.AddInvite(PendingInvite{ClubID: "b", ReceivedAt: now.Add(time.Minute)})
	kr.AddInvite(PendingInvite{ClubID: "a", ReceivedAt: now})

	invites := kr.Invites()
	require.Len(t, invites, 2)
	assert.Equal(t, "a", invites[0].ClubID)

	inv, ok := kr.TakeInvite("a")
	assert.True(t, ok)
	assert.Equal(t, "a", inv.ClubID)
	_, ok = kr.TakeInvite("a")
	assert.False(t, ok)
	assert.Len(t, kr.Invites(), 1)
}
