package memory

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"sort"
	"time"

	kerrors "github.com/liftlog/liftsocial/internal/errors"
	"github.com/liftlog/liftsocial/internal/store"
)

// PutPublicKey publishes a user's public key.
func (s *Store) PutPublicKey(_ context.Context, userID string, publicKeyPEM []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.PublicKeys[userID] = bytes.Clone(publicKeyPEM)
	return s.persistLocked()
}

// PublicKey returns a user's public key.
func (s *Store) PublicKey(_ context.Context, userID string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.data.PublicKeys[userID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", userID, kerrors.ErrUserNotFound)
	}
	return bytes.Clone(key), nil
}

// CreateSecret stores a new follow secret.
func (s *Store) CreateSecret(_ context.Context, secret store.FollowSecret) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.data.Secrets[secret.Token]; exists {
		return kerrors.ErrAlreadyExists
	}
	s.data.Secrets[secret.Token] = copySecret(secret)
	return s.persistLocked()
}

// Secret returns a follow secret by token.
func (s *Store) Secret(_ context.Context, token string) (store.FollowSecret, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	secret, ok := s.data.Secrets[token]
	if !ok {
		return store.FollowSecret{}, kerrors.ErrFollowSecretNotFound
	}
	return *copySecret(*secret), nil
}

// SecretsByOwner lists an owner's secrets, oldest first.
func (s *Store) SecretsByOwner(_ context.Context, ownerID string) ([]store.FollowSecret, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.FollowSecret
	for _, secret := range s.data.Secrets {
		if secret.OwnerID == ownerID {
			out = append(out, *copySecret(*secret))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// RevokeSecret marks a secret revoked. Revoking twice keeps the first time.
func (s *Store) RevokeSecret(_ context.Context, token string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	secret, ok := s.data.Secrets[token]
	if !ok {
		return kerrors.ErrFollowSecretNotFound
	}
	if secret.State == store.SecretRevoked {
		return nil
	}
	secret.State = store.SecretRevoked
	secret.RevokedAt = at
	return s.persistLocked()
}

// ClaimRedemption records a redemption under the store lock.
func (s *Store) ClaimRedemption(_ context.Context, token, redeemerID string) (store.FollowSecret, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	secret, ok := s.data.Secrets[token]
	if !ok {
		return store.FollowSecret{}, kerrors.ErrFollowSecretNotFound
	}
	if err := claim(secret, redeemerID); err != nil {
		return store.FollowSecret{}, err
	}
	return *copySecret(*secret), s.persistLocked()
}

// claim applies the redemption rules to a secret in place.
func claim(secret *store.FollowSecret, redeemerID string) error {
	if secret.State == store.SecretRevoked {
		return kerrors.ErrSecretRevoked
	}
	if secret.Policy == store.RedeemSingle && len(secret.Redeemers) > 0 {
		return kerrors.ErrSecretExhausted
	}
	if !slices.Contains(secret.Redeemers, redeemerID) {
		secret.Redeemers = append(secret.Redeemers, redeemerID)
	}
	return nil
}

func copySecret(secret store.FollowSecret) *store.FollowSecret {
	secret.Redeemers = slices.Clone(secret.Redeemers)
	return &secret
}

// CreateClub stores a club and its owner row.
func (s *Store) CreateClub(_ context.Context, club store.Club, owner store.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.data.Clubs[club.ID]; exists {
		return kerrors.ErrAlreadyExists
	}
	club.MemberCount = 0
	s.data.Clubs[club.ID] = &club
	s.data.Members[club.ID] = map[string]*store.Member{owner.UserID: &owner}
	return s.persistLocked()
}

// Club returns a club with its member count.
func (s *Store) Club(_ context.Context, clubID string) (store.Club, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clubLocked(clubID)
}

func (s *Store) clubLocked(clubID string) (store.Club, error) {
	club, ok := s.data.Clubs[clubID]
	if !ok {
		return store.Club{}, kerrors.ErrClubNotFound
	}
	out := *club
	out.MemberCount = len(s.data.Members[clubID])
	return out, nil
}

// UpdateClub replaces a club's mutable fields.
func (s *Store) UpdateClub(_ context.Context, club store.Club) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data.Clubs[club.ID]; !ok {
		return kerrors.ErrClubNotFound
	}
	s.data.Clubs[club.ID] = &club
	return s.persistLocked()
}

// DeleteClub removes a club and every membership row.
func (s *Store) DeleteClub(_ context.Context, clubID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data.Clubs[clubID]; !ok {
		return kerrors.ErrClubNotFound
	}
	delete(s.data.Clubs, clubID)
	delete(s.data.Members, clubID)
	return s.persistLocked()
}

// PublicClubs pages through public clubs, newest first.
func (s *Store) PublicClubs(_ context.Context, limit, offset int) ([]store.Club, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var all []store.Club
	for id, club := range s.data.Clubs {
		if club.IsPublic {
			c, _ := s.clubLocked(id)
			all = append(all, c)
		}
	}
	sortClubs(all)
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

// ClubsForUser lists clubs with a row for userID, newest first.
func (s *Store) ClubsForUser(_ context.Context, userID string) ([]store.Club, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.Club
	for clubID, members := range s.data.Members {
		if _, ok := members[userID]; ok {
			c, err := s.clubLocked(clubID)
			if err != nil {
				continue
			}
			out = append(out, c)
		}
	}
	sortClubs(out)
	return out, nil
}

func sortClubs(clubs []store.Club) {
	sort.Slice(clubs, func(i, j int) bool {
		if clubs[i].CreatedAt.Equal(clubs[j].CreatedAt) {
			return clubs[i].ID < clubs[j].ID
		}
		return clubs[i].CreatedAt.After(clubs[j].CreatedAt)
	})
}

// AddMember inserts a row if none exists for (club, user).
func (s *Store) AddMember(_ context.Context, member store.Member) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data.Clubs[member.ClubID]; !ok {
		return false, kerrors.ErrClubNotFound
	}
	members := s.data.Members[member.ClubID]
	if members == nil {
		members = make(map[string]*store.Member)
		s.data.Members[member.ClubID] = members
	}
	if _, exists := members[member.UserID]; exists {
		return false, nil
	}
	member.WrappedKey = bytes.Clone(member.WrappedKey)
	members[member.UserID] = &member
	return true, s.persistLocked()
}

// Member returns one membership row.
func (s *Store) Member(_ context.Context, clubID, userID string) (store.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.data.Members[clubID][userID]
	if !ok {
		return store.Member{}, kerrors.ErrMemberNotFound
	}
	out := *m
	out.WrappedKey = bytes.Clone(m.WrappedKey)
	return out, nil
}

// Members lists a club's rows, oldest first.
func (s *Store) Members(_ context.Context, clubID string) ([]store.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.membersLocked(clubID, ""), nil
}

// PendingMembers lists rows still waiting for the club key.
func (s *Store) PendingMembers(_ context.Context, clubID string) ([]store.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.membersLocked(clubID, store.MemberPendingKey), nil
}

func (s *Store) membersLocked(clubID string, state store.MemberState) []store.Member {
	var out []store.Member
	for _, m := range s.data.Members[clubID] {
		if state != "" && m.State != state {
			continue
		}
		c := *m
		c.WrappedKey = bytes.Clone(m.WrappedKey)
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].UserID < out[j].UserID
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out
}

// UpdateMember replaces an existing row.
func (s *Store) UpdateMember(_ context.Context, member store.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data.Members[member.ClubID][member.UserID]; !ok {
		return kerrors.ErrMemberNotFound
	}
	member.WrappedKey = bytes.Clone(member.WrappedKey)
	s.data.Members[member.ClubID][member.UserID] = &member
	return s.persistLocked()
}

// RemoveMember deletes a row.
func (s *Store) RemoveMember(_ context.Context, clubID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data.Members[clubID][userID]; !ok {
		return kerrors.ErrMemberNotFound
	}
	delete(s.data.Members[clubID], userID)
	return s.persistLocked()
}

// Rekey stores the new club version and re-wrapped keys under one lock.
// Rows that were removed concurrently are skipped.
func (s *Store) Rekey(_ context.Context, club store.Club, members []store.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data.Clubs[club.ID]; !ok {
		return kerrors.ErrClubNotFound
	}
	s.data.Clubs[club.ID] = &club
	rows := s.data.Members[club.ID]
	for _, m := range members {
		row, ok := rows[m.UserID]
		if !ok {
			continue
		}
		row.WrappedKey = bytes.Clone(m.WrappedKey)
		row.KeyVersion = m.KeyVersion
	}
	return s.persistLocked()
}

// PutEvent inserts or replaces a feed record. Only the original author may
// replace a record.
func (s *Store) PutEvent(_ context.Context, rec store.FeedRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	events := s.data.Feeds[rec.FeedID]
	if events == nil {
		events = make(map[string]*store.FeedRecord)
		s.data.Feeds[rec.FeedID] = events
	}
	if prev, ok := events[rec.EventID]; ok && prev.AuthorID != rec.AuthorID {
		return fmt.Errorf("event %s belongs to another author: %w", rec.EventID, kerrors.ErrUnauthorized)
	}
	rec.Ciphertext = bytes.Clone(rec.Ciphertext)
	rec.IV = bytes.Clone(rec.IV)
	events[rec.EventID] = &rec
	return s.persistLocked()
}

// ListEvents returns non-expired records newest first.
func (s *Store) ListEvents(_ context.Context, feedID string, q store.FeedQuery) ([]store.FeedRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := q.Now
	if now.IsZero() {
		now = time.Now()
	}
	var out []store.FeedRecord
	for _, rec := range s.data.Feeds[feedID] {
		if rec.Expired(now) {
			continue
		}
		if !q.Since.IsZero() && !rec.Timestamp.After(q.Since) {
			continue
		}
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].EventID > out[j].EventID
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if limit := q.EffectiveLimit(); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DeleteFeed removes every record of a feed.
func (s *Store) DeleteFeed(_ context.Context, feedID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data.Feeds, feedID)
	return s.persistLocked()
}
