package feed

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/liftlog/liftsocial/internal/audit"
	kerrors "github.com/liftlog/liftsocial/internal/errors"
	"github.com/liftlog/liftsocial/internal/identity"
	"github.com/liftlog/liftsocial/internal/secrets"
	"github.com/liftlog/liftsocial/internal/store"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const (
	// MaxSharedBytes caps the stored ciphertext of one shared item.
	MaxSharedBytes = 20480
	// DefaultShareTTL applies when a share does not set an expiry.
	DefaultShareTTL = 7 * 24 * time.Hour
	// MaxShareTTL bounds how long a shared item stays readable.
	MaxShareTTL = 90 * 24 * time.Hour

	linkSeparator = "#"
)

// ShareLink names a shared item and carries the key that opens it. Only
// the ID is ever stored.
type ShareLink struct {
	ID  string
	Key []byte
}

// String renders the link as <id>#<base64url key>.
func (l ShareLink) String() string {
	return l.ID + linkSeparator + base64.RawURLEncoding.EncodeToString(l.Key)
}

// ParseShareLink reverses ShareLink.String. Anything before the last "/"
// is ignored so a full URL ending in the link also parses.
func ParseShareLink(s string) (ShareLink, error) {
	s = strings.TrimSpace(s)
	if i := strings.LastIndex(s, "/"); i >= 0 {
		s = s[i+1:]
	}
	id, encoded, ok := strings.Cut(s, linkSeparator)
	if !ok || id == "" {
		return ShareLink{}, fmt.Errorf("%w: expected <id>%s<key>", kerrors.ErrInvalidShareLink, linkSeparator)
	}
	key, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil || len(key) != secrets.AESKeySize {
		return ShareLink{}, fmt.Errorf("%w: bad key", kerrors.ErrInvalidShareLink)
	}
	return ShareLink{ID: id, Key: key}, nil
}

// Shared is an opened shared item.
type Shared struct {
	Item  store.SharedItem
	Event Event
}

// Share signs ev as author, encrypts it under a fresh key and stores it for
// anyone holding the returned link. A zero expiresAt means DefaultShareTTL.
func (s *Service) Share(ctx context.Context, author *identity.Identity, ev Event, expiresAt time.Time) (store.SharedItem, ShareLink, error) {
	now := s.now()
	if expiresAt.IsZero() {
		expiresAt = now.Add(DefaultShareTTL)
	}
	if !expiresAt.After(now) {
		return store.SharedItem{}, ShareLink{}, fmt.Errorf("share expiry %s is not in the future", expiresAt.Format(time.RFC3339))
	}
	if expiresAt.Sub(now) > MaxShareTTL {
		return store.SharedItem{}, ShareLink{}, fmt.Errorf("share expiry is more than %s away", MaxShareTTL)
	}

	key, err := secrets.GenerateAESKey()
	if err != nil {
		return store.SharedItem{}, ShareLink{}, err
	}
	item := store.SharedItem{
		ID:        uuid.NewString(),
		UserID:    author.ID(),
		Timestamp: now,
		ExpiresAt: expiresAt,
	}
	item.Ciphertext, item.IV, err = s.shares.Encode(ev, author, key)
	if err != nil {
		secrets.Zero(key)
		return store.SharedItem{}, ShareLink{}, err
	}
	if err := s.feeds.PutSharedItem(ctx, item); err != nil {
		secrets.Zero(key)
		return store.SharedItem{}, ShareLink{}, fmt.Errorf("failed to store shared item: %w", err)
	}

	s.metrics.EventPublished("shared")
	s.audit.Log(audit.Entry{UserID: author.ID(), Operation: audit.OpFeedShare, EventID: item.ID, Reason: expiresAt.UTC().Format(time.DateOnly)})
	log.WithContext(ctx).WithFields(log.Fields{"item": item.ID, "bytes": len(item.Ciphertext)}).Debug("item shared")
	return item, ShareLink{ID: item.ID, Key: key}, nil
}

// OpenShared fetches, decrypts and verifies the item named by link. No
// identity is needed. Expired items are reported as not found.
func (s *Service) OpenShared(ctx context.Context, link ShareLink) (Shared, error) {
	item, err := s.feeds.SharedItem(ctx, link.ID)
	if err != nil {
		return Shared{}, err
	}
	now := s.now()
	if item.Expired(now) {
		return Shared{}, fmt.Errorf("%w: expired %s", kerrors.ErrSharedItemNotFound, item.ExpiresAt.Format(time.RFC3339))
	}

	pub, err := s.authors.RecipientKey(ctx, item.UserID)
	if err != nil {
		return Shared{}, err
	}
	ev, err := s.shares.Decode(item.Ciphertext, item.IV, link.Key, pub, item.ExpiresAt, now)
	s.metrics.EventDecoded(decodeResult(err))
	if err != nil {
		if errors.Is(err, kerrors.ErrSignatureInvalid) {
			log.WithContext(ctx).WithFields(log.Fields{"item": item.ID, "author": item.UserID}).Warn("security: shared item failed signature verification")
			s.audit.Log(audit.Entry{Operation: audit.OpSignatureInvalid, EventID: item.ID, AuthorID: item.UserID, Reason: "shared"})
		}
		return Shared{}, err
	}
	return Shared{Item: item, Event: ev}, nil
}
