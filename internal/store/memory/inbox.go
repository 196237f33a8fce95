package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/liftlog/liftsocial/internal/store"

	gocache "github.com/patrickmn/go-cache"
)

func inboxKey(env store.Envelope) string {
	return env.RecipientID + "/" + env.ID
}

func ttl(env store.Envelope, now time.Time) time.Duration {
	if env.ExpiresAt.IsZero() {
		return gocache.NoExpiration
	}
	d := env.ExpiresAt.Sub(now)
	if d <= 0 {
		return time.Nanosecond
	}
	return d
}

// Append queues an envelope for its recipient.
func (s *Store) Append(_ context.Context, env store.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inbox.Set(inboxKey(env), env, ttl(env, time.Now()))
	return s.persistLocked()
}

// Drain removes and returns the recipient's envelopes under the store lock,
// so concurrent drains see disjoint sets.
func (s *Store) Drain(_ context.Context, recipientID string, now time.Time) ([]store.Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefix := recipientID + "/"
	var out []store.Envelope
	for key, item := range s.inbox.Items() {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		s.inbox.Delete(key)
		env := item.Object.(store.Envelope)
		if env.Expired(now) {
			continue
		}
		out = append(out, env)
	}
	if len(out) == 0 {
		return nil, s.persistLocked()
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, s.persistLocked()
}
