package memory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/liftlog/liftsocial/internal/store"

	gocache "github.com/patrickmn/go-cache"
	log "github.com/sirupsen/logrus"
	"github.com/vmihailenco/msgpack/v5"
)

const inboxCleanupInterval = 10 * time.Minute

// snapshot is the persisted form of the store.
type snapshot struct {
	PublicKeys map[string][]byte                       `msgpack:"public_keys"`
	Secrets    map[string]*store.FollowSecret          `msgpack:"secrets"`
	Clubs      map[string]*store.Club                  `msgpack:"clubs"`
	Members    map[string]map[string]*store.Member     `msgpack:"members"`
	Feeds      map[string]map[string]*store.FeedRecord `msgpack:"feeds"`
	Shared     map[string]*store.SharedItem            `msgpack:"shared"`
	Envelopes  []store.Envelope                        `msgpack:"envelopes"`
}

func newSnapshot() *snapshot {
	return &snapshot{
		PublicKeys: make(map[string][]byte),
		Secrets:    make(map[string]*store.FollowSecret),
		Clubs:      make(map[string]*store.Club),
		Members:    make(map[string]map[string]*store.Member),
		Feeds:      make(map[string]map[string]*store.FeedRecord),
		Shared:     make(map[string]*store.SharedItem),
	}
}

// Store is an in-process implementation of store.Backend. When opened with
// a path, every mutation is written through to a msgpack snapshot file so
// the local engine survives restarts.
type Store struct {
	mu    sync.RWMutex
	path  string
	data  *snapshot
	inbox *gocache.Cache
}

var _ store.Backend = (*Store)(nil)

// New returns an empty, non-persistent store.
func New() *Store {
	return &Store{
		data:  newSnapshot(),
		inbox: gocache.New(gocache.NoExpiration, inboxCleanupInterval),
	}
}

// Open returns a store backed by the snapshot file at path, loading it if
// it exists.
func Open(path string) (*Store, error) {
	s := New()
	s.path = path

	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to read store snapshot %s: %w", path, err)
	}

	data := newSnapshot()
	if err := msgpack.Unmarshal(raw, data); err != nil {
		return nil, fmt.Errorf("failed to decode store snapshot %s: %w", path, err)
	}
	data.fillMaps()

	now := time.Now()
	for _, env := range data.Envelopes {
		if env.Expired(now) {
			continue
		}
		s.inbox.Set(inboxKey(env), env, ttl(env, now))
	}
	data.Envelopes = nil
	s.data = data

	log.Debugf("loaded store snapshot from %s", path)
	return s, nil
}

func (d *snapshot) fillMaps() {
	if d.PublicKeys == nil {
		d.PublicKeys = make(map[string][]byte)
	}
	if d.Secrets == nil {
		d.Secrets = make(map[string]*store.FollowSecret)
	}
	if d.Clubs == nil {
		d.Clubs = make(map[string]*store.Club)
	}
	if d.Members == nil {
		d.Members = make(map[string]map[string]*store.Member)
	}
	if d.Feeds == nil {
		d.Feeds = make(map[string]map[string]*store.FeedRecord)
	}
	if d.Shared == nil {
		d.Shared = make(map[string]*store.SharedItem)
	}
}

// persistLocked writes the snapshot file. Callers must hold s.mu for writing.
func (s *Store) persistLocked() error {
	if s.path == "" {
		return nil
	}

	var envelopes []store.Envelope
	for _, item := range s.inbox.Items() {
		envelopes = append(envelopes, item.Object.(store.Envelope))
	}
	s.data.Envelopes = envelopes
	raw, err := msgpack.Marshal(s.data)
	s.data.Envelopes = nil
	if err != nil {
		return fmt.Errorf("failed to encode store snapshot: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create store directory %s: %w", dir, err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0600); err != nil {
		return fmt.Errorf("failed to write store snapshot: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace store snapshot: %w", err)
	}
	return nil
}

// Close flushes the snapshot.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistLocked()
}

// Prune removes expired feed records and envelopes.
func (s *Store) Prune(_ context.Context, now time.Time) (store.PruneResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res store.PruneResult
	for feedID, events := range s.data.Feeds {
		for eventID, rec := range events {
			if rec.Expired(now) {
				delete(events, eventID)
				res.Events++
			}
		}
		if len(events) == 0 {
			delete(s.data.Feeds, feedID)
		}
	}

	for id, item := range s.data.Shared {
		if item.Expired(now) {
			delete(s.data.Shared, id)
			res.SharedItems++
		}
	}

	for key, item := range s.inbox.Items() {
		if item.Object.(store.Envelope).Expired(now) {
			s.inbox.Delete(key)
			res.Envelopes++
		}
	}
	s.inbox.DeleteExpired()

	return res, s.persistLocked()
}
