package identity

import (
	"bytes"
	"fmt"
	"sort"
	"sync"
	"time"

	kerrors "github.com/liftlog/liftsocial/internal/errors"
	"github.com/liftlog/liftsocial/internal/policy"
	"github.com/liftlog/liftsocial/internal/secrets"

	"github.com/awnumar/memguard"
)

// PendingInvite is a club invite received through the inbox and not yet
// accepted or declined. The club key stays wrapped until acceptance.
type PendingInvite struct {
	ClubID      string      `msgpack:"club_id"`
	ClubName    string      `msgpack:"club_name"`
	OfferedRole policy.Role `msgpack:"offered_role"`
	WrappedKey  []byte      `msgpack:"wrapped_key"`
	KeyVersion  int         `msgpack:"key_version"`
	FromUserID  string      `msgpack:"from_user_id"`
	ReceivedAt  time.Time   `msgpack:"received_at"`
}

type userKey struct {
	token string
	key   *memguard.Enclave
}

// Keyring holds keys received from other principals: personal keys of
// followed users, club keys per version and pending club invites. All puts
// are idempotent. It is safe for concurrent use.
type Keyring struct {
	mu      sync.RWMutex
	users   map[string]userKey
	clubs   map[string]map[int]*memguard.Enclave
	invites map[string]PendingInvite
}

// NewKeyring returns an empty keyring.
func NewKeyring() *Keyring {
	return &Keyring{
		users:   make(map[string]userKey),
		clubs:   make(map[string]map[int]*memguard.Enclave),
		invites: make(map[string]PendingInvite),
	}
}

// PutUserKey stores the personal key of a followed user together with the
// follow token that authorises reading their feed. The key slice is copied.
func (k *Keyring) PutUserKey(userID, token string, key []byte) error {
	if len(key) != secrets.AESKeySize {
		return fmt.Errorf("%w: expected %d bytes, got %d", kerrors.ErrInvalidKeyLength, secrets.AESKeySize, len(key))
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	k.users[userID] = userKey{token: token, key: memguard.NewEnclave(bytes.Clone(key))}
	return nil
}

// UserKey opens the personal key of a followed user for the duration of fn.
func (k *Keyring) UserKey(userID string, fn func(key []byte) error) error {
	k.mu.RLock()
	entry, ok := k.users[userID]
	k.mu.RUnlock()
	if !ok {
		return fmt.Errorf("personal key of %s: %w", userID, kerrors.ErrKeyNotFound)
	}
	return openEnclave(entry.key, fn)
}

// FollowToken returns the token used to follow userID.
func (k *Keyring) FollowToken(userID string) (string, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	entry, ok := k.users[userID]
	return entry.token, ok
}

// Following lists followed user ids in sorted order.
func (k *Keyring) Following() []string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	ids := make([]string, 0, len(k.users))
	for id := range k.users {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ForgetUser drops a followed user's key, typically after their follow
// token was reported revoked.
func (k *Keyring) ForgetUser(userID string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.users, userID)
}

// PutClubKey stores one version of a club key. The key slice is copied.
func (k *Keyring) PutClubKey(clubID string, version int, key []byte) error {
	if len(key) != secrets.AESKeySize {
		return fmt.Errorf("%w: expected %d bytes, got %d", kerrors.ErrInvalidKeyLength, secrets.AESKeySize, len(key))
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	versions, ok := k.clubs[clubID]
	if !ok {
		versions = make(map[int]*memguard.Enclave)
		k.clubs[clubID] = versions
	}
	if _, exists := versions[version]; exists {
		return nil
	}
	versions[version] = memguard.NewEnclave(bytes.Clone(key))
	return nil
}

// ClubKey opens a club key version for the duration of fn.
func (k *Keyring) ClubKey(clubID string, version int, fn func(key []byte) error) error {
	k.mu.RLock()
	enclave, ok := k.clubs[clubID][version]
	k.mu.RUnlock()
	if !ok {
		return fmt.Errorf("club %s key v%d: %w", clubID, version, kerrors.ErrKeyNotFound)
	}
	return openEnclave(enclave, fn)
}

// HasClubKey reports whether a club key version is held.
func (k *Keyring) HasClubKey(clubID string, version int) bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	_, ok := k.clubs[clubID][version]
	return ok
}

// LatestClubVersion returns the highest key version held for a club.
func (k *Keyring) LatestClubVersion(clubID string) (int, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	latest, found := 0, false
	for v := range k.clubs[clubID] {
		if !found || v > latest {
			latest, found = v, true
		}
	}
	return latest, found
}

// ForgetClub drops every key version held for a club.
func (k *Keyring) ForgetClub(clubID string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.clubs, clubID)
}

// AddInvite records a pending invite. A second invite for the same club
// replaces the first.
func (k *Keyring) AddInvite(inv PendingInvite) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if inv.ReceivedAt.IsZero() {
		inv.ReceivedAt = time.Now().UTC()
	}
	k.invites[inv.ClubID] = inv
}

// Invites lists pending invites, oldest first.
func (k *Keyring) Invites() []PendingInvite {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make([]PendingInvite, 0, len(k.invites))
	for _, inv := range k.invites {
		out = append(out, inv)
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].ReceivedAt.Equal(out[b].ReceivedAt) {
			return out[a].ClubID < out[b].ClubID
		}
		return out[a].ReceivedAt.Before(out[b].ReceivedAt)
	})
	return out
}

// TakeInvite removes and returns the pending invite for a club.
func (k *Keyring) TakeInvite(clubID string) (PendingInvite, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	inv, ok := k.invites[clubID]
	if ok {
		delete(k.invites, clubID)
	}
	return inv, ok
}

func openEnclave(enclave *memguard.Enclave, fn func(key []byte) error) error {
	buf, err := enclave.Open()
	if err != nil {
		return fmt.Errorf("failed to open key enclave: %w", err)
	}
	defer buf.Destroy()
	return fn(buf.Bytes())
}

type keyringRecord struct {
	Users   []userKeyRecord `msgpack:"users"`
	Clubs   []clubKeyRecord `msgpack:"clubs"`
	Invites []PendingInvite `msgpack:"invites"`
}

type userKeyRecord struct {
	UserID string `msgpack:"user_id"`
	Token  string `msgpack:"token"`
	Key    []byte `msgpack:"key"`
}

type clubKeyRecord struct {
	ClubID  string `msgpack:"club_id"`
	Version int    `msgpack:"version"`
	Key     []byte `msgpack:"key"`
}

// record copies every key out of its enclave. The caller must wipe the
// result with wipe.
func (k *Keyring) record() (keyringRecord, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	var rec keyringRecord
	for id, entry := range k.users {
		err := openEnclave(entry.key, func(key []byte) error {
			rec.Users = append(rec.Users, userKeyRecord{UserID: id, Token: entry.token, Key: bytes.Clone(key)})
			return nil
		})
		if err != nil {
			rec.wipe()
			return keyringRecord{}, err
		}
	}
	for clubID, versions := range k.clubs {
		for v, enclave := range versions {
			err := openEnclave(enclave, func(key []byte) error {
				rec.Clubs = append(rec.Clubs, clubKeyRecord{ClubID: clubID, Version: v, Key: bytes.Clone(key)})
				return nil
			})
			if err != nil {
				rec.wipe()
				return keyringRecord{}, err
			}
		}
	}
	for _, inv := range k.invites {
		rec.Invites = append(rec.Invites, inv)
	}
	return rec, nil
}

func (r keyringRecord) wipe() {
	for _, u := range r.Users {
		secrets.Zero(u.Key)
	}
	for _, c := range r.Clubs {
		secrets.Zero(c.Key)
	}
}

func keyringFromRecord(rec keyringRecord) (*Keyring, error) {
	kr := NewKeyring()
	for _, u := range rec.Users {
		if err := kr.PutUserKey(u.UserID, u.Token, u.Key); err != nil {
			return nil, err
		}
	}
	for _, c := range rec.Clubs {
		if err := kr.PutClubKey(c.ClubID, c.Version, c.Key); err != nil {
			return nil, err
		}
	}
	for _, inv := range rec.Invites {
		kr.AddInvite(inv)
	}
	return kr, nil
}
